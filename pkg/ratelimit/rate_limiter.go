package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"tripseat/internal/shared/constants"

	"github.com/redis/go-redis/v9"
)

type RateLimitType string

const (
	RateLimitTypeDefault         RateLimitType = "default"
	RateLimitTypePublic          RateLimitType = "public"
	RateLimitTypeBooking         RateLimitType = "booking"
	RateLimitTypeBookingCritical RateLimitType = "booking_critical"
	RateLimitTypeAdmin           RateLimitType = "admin"
	RateLimitTypeHealth          RateLimitType = "health"
)

type Config struct {
	Enabled                 bool          `json:"enabled"`
	WindowDuration          time.Duration `json:"window_duration"`
	DefaultRequests         int           `json:"default_requests"`
	PublicRequests          int           `json:"public_requests"`
	BookingRequests         int           `json:"booking_requests"`
	BookingCriticalRequests int           `json:"booking_critical_requests"`
	AdminRequests           int           `json:"admin_requests"`
	HealthRequests          int           `json:"health_requests"`
	WhitelistedIPs          []string      `json:"whitelisted_ips"`
}

// Result represents rate limit check result
type Result struct {
	Allowed   bool  `json:"allowed"`
	Limit     int   `json:"limit"`
	Remaining int   `json:"remaining"`
	ResetTime int64 `json:"reset_time"`
}

// Limiter decides whether a client may make another request
type Limiter interface {
	IsAllowed(ctx context.Context, clientIP string, limitType RateLimitType) (*Result, error)
}

// RateLimiter is a sliding-window limiter kept in Redis so every engine
// instance shares one budget per client
type RateLimiter struct {
	client *redis.Client
	config *Config
}

func NewRateLimiter(client *redis.Client, config *Config) *RateLimiter {
	return &RateLimiter{
		client: client,
		config: config,
	}
}

func (r *RateLimiter) IsAllowed(ctx context.Context, clientIP string, limitType RateLimitType) (*Result, error) {
	limit := r.config.limitFor(limitType)
	if result, bypass := r.config.bypass(clientIP, limit); bypass {
		return result, nil
	}
	key := constants.BuildRateLimitKey(clientIP, string(limitType))
	return r.checkLimit(ctx, key, limit)
}

// Lua script for atomic sliding window rate limiting
var luaSlidingWindow = redis.NewScript(`
local key = KEYS[1]
local window_start = tonumber(ARGV[1])
local now = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local window_ms = tonumber(ARGV[4])
local member = ARGV[5]

redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)

local current_count = redis.call('ZCARD', key)
if current_count >= limit then
    redis.call('PEXPIRE', key, window_ms)
    return {current_count + 1, 0}
end

redis.call('ZADD', key, now, member)
redis.call('PEXPIRE', key, window_ms)

return {current_count + 1, limit - current_count - 1}
`)

func (r *RateLimiter) checkLimit(ctx context.Context, key string, limit int) (*Result, error) {
	now := time.Now()
	windowStart := now.Add(-r.config.WindowDuration)
	// unique member so two requests in the same millisecond both count
	member := strconv.FormatInt(now.UnixNano(), 10)

	values, err := luaSlidingWindow.Run(ctx, r.client, []string{key},
		windowStart.UnixMilli(),
		now.UnixMilli(),
		limit,
		r.config.WindowDuration.Milliseconds(),
		member,
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("redis eval failed: %w", err)
	}
	if len(values) != 2 {
		return nil, fmt.Errorf("unexpected redis response")
	}

	return &Result{
		Allowed:   int(values[0]) <= limit,
		Limit:     limit,
		Remaining: int(values[1]),
		ResetTime: now.Add(r.config.WindowDuration).Unix(),
	}, nil
}

// MemoryLimiter is the single-instance limiter used when Redis is not
// configured
type MemoryLimiter struct {
	config *Config
	now    func() time.Time

	mu   sync.Mutex
	hits map[string][]time.Time
}

func NewMemoryLimiter(config *Config) *MemoryLimiter {
	return &MemoryLimiter{config: config, now: time.Now, hits: make(map[string][]time.Time)}
}

func (m *MemoryLimiter) IsAllowed(ctx context.Context, clientIP string, limitType RateLimitType) (*Result, error) {
	limit := m.config.limitFor(limitType)
	if result, bypass := m.config.bypass(clientIP, limit); bypass {
		return result, nil
	}

	now := m.now()
	windowStart := now.Add(-m.config.WindowDuration)
	key := constants.BuildRateLimitKey(clientIP, string(limitType))

	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.hits[key][:0]
	for _, t := range m.hits[key] {
		if t.After(windowStart) {
			kept = append(kept, t)
		}
	}
	result := &Result{Limit: limit, ResetTime: now.Add(m.config.WindowDuration).Unix()}
	if len(kept) < limit {
		kept = append(kept, now)
		result.Allowed = true
		result.Remaining = limit - len(kept)
	}
	m.hits[key] = kept
	return result, nil
}

func (c *Config) limitFor(limitType RateLimitType) int {
	switch limitType {
	case RateLimitTypePublic:
		return c.PublicRequests
	case RateLimitTypeBooking:
		return c.BookingRequests
	case RateLimitTypeBookingCritical:
		return c.BookingCriticalRequests
	case RateLimitTypeAdmin:
		return c.AdminRequests
	case RateLimitTypeHealth:
		return c.HealthRequests
	default:
		return c.DefaultRequests
	}
}

// bypass answers for disabled limiting and whitelisted clients
func (c *Config) bypass(clientIP string, limit int) (*Result, bool) {
	if c.Enabled && !c.isWhitelisted(clientIP) {
		return nil, false
	}
	return &Result{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit,
		ResetTime: time.Now().Add(c.WindowDuration).Unix(),
	}, true
}

func (c *Config) isWhitelisted(ip string) bool {
	for _, whitelistedIP := range c.WhitelistedIPs {
		if ip == whitelistedIP {
			return true
		}
	}
	return false
}
