package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func testConfig() *Config {
	return &Config{
		Enabled:                 true,
		WindowDuration:          time.Minute,
		DefaultRequests:         5,
		PublicRequests:          3,
		BookingRequests:         4,
		BookingCriticalRequests: 2,
		AdminRequests:           10,
		HealthRequests:          100,
		WhitelistedIPs:          []string{"10.0.0.9"},
	}
}

func TestMemoryLimiterSlidingWindow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewMemoryLimiter(testConfig())
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, _ := l.IsAllowed(ctx, "1.2.3.4", RateLimitTypeBookingCritical)
		if !res.Allowed || res.Remaining != 1-i {
			t.Fatalf("request %d = %+v", i, res)
		}
	}
	if res, _ := l.IsAllowed(ctx, "1.2.3.4", RateLimitTypeBookingCritical); res.Allowed {
		t.Fatal("third critical request allowed")
	}
	// budgets are per type and per client
	if res, _ := l.IsAllowed(ctx, "1.2.3.4", RateLimitTypePublic); !res.Allowed {
		t.Fatal("public budget consumed by booking requests")
	}
	if res, _ := l.IsAllowed(ctx, "5.6.7.8", RateLimitTypeBookingCritical); !res.Allowed {
		t.Fatal("other client limited")
	}

	now = now.Add(61 * time.Second)
	if res, _ := l.IsAllowed(ctx, "1.2.3.4", RateLimitTypeBookingCritical); !res.Allowed {
		t.Fatal("window did not slide")
	}
}

func TestMemoryLimiterBypass(t *testing.T) {
	cfg := testConfig()
	l := NewMemoryLimiter(cfg)
	for i := 0; i < 10; i++ {
		if res, _ := l.IsAllowed(context.Background(), "10.0.0.9", RateLimitTypeBookingCritical); !res.Allowed {
			t.Fatal("whitelisted client limited")
		}
	}
	cfg.Enabled = false
	for i := 0; i < 10; i++ {
		if res, _ := l.IsAllowed(context.Background(), "1.1.1.1", RateLimitTypeBookingCritical); !res.Allowed {
			t.Fatal("disabled limiter limited")
		}
	}
}

func TestGetRateLimitType(t *testing.T) {
	cases := map[string]RateLimitType{
		"/health":                               RateLimitTypeHealth,
		"/api/v1/admin/trips/:tripId/reconcile": RateLimitTypeAdmin,
		"/api/v1/bookings":                      RateLimitTypeBookingCritical,
		"/api/v1/bookings/:id/reschedule":       RateLimitTypeBookingCritical,
		"/api/v1/bookings/:id/cancel":           RateLimitTypeBookingCritical,
		"/api/v1/bookings/:id":                  RateLimitTypeBooking,
		"/api/v1/check-in":                      RateLimitTypeBooking,
		"/api/v1/trips/:tripId/manifest":        RateLimitTypeBooking,
		"/api/v1/trips/:tripId/seats":           RateLimitTypePublic,
		"/swagger/*any":                         RateLimitTypeDefault,
	}
	for path, want := range cases {
		if got := getRateLimitType(path); got != want {
			t.Errorf("getRateLimitType(%q) = %s, want %s", path, got, want)
		}
	}
}

func TestMiddlewareRejectsOverBudget(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware(NewMemoryLimiter(testConfig())))
	r.GET("/api/v1/trips/:tripId/seats", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/trips/T/seats", nil)
		req.Header.Set("X-Real-IP", "9.9.9.9")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
		if w.Header().Get("X-RateLimit-Limit") != "3" {
			t.Fatalf("limit header = %q", w.Header().Get("X-RateLimit-Limit"))
		}
	}
	if codes[2] != http.StatusOK || codes[3] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v", codes)
	}
}
