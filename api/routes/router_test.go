package routes

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tripseat/internal/shared/config"
	"tripseat/internal/shared/database"
	"tripseat/internal/shared/middleware"

	"github.com/gin-gonic/gin"
)

type envelope struct {
	StatusCode int             `json:"status_code"`
	Data       json.RawMessage `json:"data"`
	Errors     json.RawMessage `json:"errors"`
}

type testServer struct {
	t      *testing.T
	engine *gin.Engine
	tokens map[string]string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	t.Setenv("INVENTORY_BACKEND", config.BackendMemory)
	cfg := config.Load()

	r, err := NewRouter(cfg, &database.DB{}, Deps{})
	if err != nil {
		t.Fatal(err)
	}
	engine := gin.New()
	r.SetupRoutes(engine)

	tokens := make(map[string]string)
	for _, role := range []string{middleware.RoleAgent, middleware.RoleOperator, middleware.RoleAdmin} {
		token, err := middleware.IssueAccessToken(cfg.JWT.Secret, "test-"+role, role, time.Hour)
		if err != nil {
			t.Fatal(err)
		}
		tokens[role] = token
	}
	return &testServer{t: t, engine: engine, tokens: tokens}
}

func (s *testServer) do(method, path, role, body string, headers ...string) (int, envelope) {
	s.t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+s.tokens[role])
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	var env envelope
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	return w.Code, env
}

func TestHealthRoutes(t *testing.T) {
	s := newTestServer(t)
	for _, path := range []string{"/health", "/ping", "/status"} {
		if code, _ := s.do(http.MethodGet, path, "", ""); code != http.StatusOK {
			t.Errorf("GET %s = %d", path, code)
		}
	}
}

func TestBookingFlowOverHTTP(t *testing.T) {
	s := newTestServer(t)
	admin, agent, operator := middleware.RoleAdmin, middleware.RoleAgent, middleware.RoleOperator

	trip := `{"id":"T","route":"Harbour - Old Town","departure_at":"2026-11-02T08:30:00Z","capacity":4}`
	if code, _ := s.do(http.MethodPost, "/api/v1/trips", admin, trip); code != http.StatusCreated {
		t.Fatalf("provision = %d", code)
	}

	book := `{"trip_id":"T","seats":[2,3],"passenger":{"name":"Ada"}}`
	code, env := s.do(http.MethodPost, "/api/v1/bookings", agent, book, "Idempotency-Key", "k-1")
	if code != http.StatusCreated {
		t.Fatalf("create = %d %s", code, env.Errors)
	}
	var booking struct {
		ID        string `json:"id"`
		TicketRef string `json:"ticket_ref"`
		Status    string `json:"status"`
	}
	if err := json.Unmarshal(env.Data, &booking); err != nil {
		t.Fatal(err)
	}
	if booking.Status != "CONFIRMED" {
		t.Fatalf("desk booking status = %s", booking.Status)
	}

	// Same key replays, overlapping seats lose
	if code, _ := s.do(http.MethodPost, "/api/v1/bookings", agent, book, "Idempotency-Key", "k-1"); code != http.StatusOK {
		t.Fatalf("replay = %d", code)
	}
	overlap := `{"trip_id":"T","seats":[3,4],"passenger":{"name":"Grace"}}`
	code, env = s.do(http.MethodPost, "/api/v1/bookings", agent, overlap, "Idempotency-Key", "k-2")
	if code != http.StatusConflict || !strings.Contains(string(env.Errors), `"seats":[3]`) {
		t.Fatalf("overlap = %d %s", code, env.Errors)
	}

	code, env = s.do(http.MethodGet, "/api/v1/trips/T/seats", "", "")
	if code != http.StatusOK {
		t.Fatalf("seat map = %d", code)
	}
	var seatMap struct {
		Available int `json:"available"`
	}
	_ = json.Unmarshal(env.Data, &seatMap)
	if seatMap.Available != 2 {
		t.Fatalf("available = %d", seatMap.Available)
	}

	checkIn := `{"ticket_ref":"` + booking.TicketRef + `"}`
	if code, env := s.do(http.MethodPost, "/api/v1/check-in", operator, checkIn); code != http.StatusOK {
		t.Fatalf("check-in = %d %s", code, env.Errors)
	}
	if code, _ := s.do(http.MethodPost, "/api/v1/check-in", operator, checkIn); code != http.StatusConflict {
		t.Fatalf("second check-in = %d", code)
	}

	if code, _ := s.do(http.MethodGet, "/api/v1/trips/T/manifest", "", ""); code != http.StatusUnauthorized {
		t.Fatalf("anonymous manifest = %d", code)
	}
	if code, _ := s.do(http.MethodGet, "/api/v1/trips/T/manifest", operator, ""); code != http.StatusOK {
		t.Fatalf("manifest = %d", code)
	}
}
