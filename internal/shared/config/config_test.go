package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("INVENTORY_BACKEND", "")
	cfg := Load()

	if cfg.Inventory.Backend != BackendPostgres {
		t.Errorf("backend = %q", cfg.Inventory.Backend)
	}
	if cfg.Booking.NoShowReleaseGrace != 0 {
		t.Errorf("no-show grace = %v, want disabled", cfg.Booking.NoShowReleaseGrace)
	}
	if cfg.GetAPIBasePath() != "/api/v1" {
		t.Errorf("base path = %q", cfg.GetAPIBasePath())
	}
	if cfg.RabbitMQ.Queue != "booking.confirmed" {
		t.Errorf("ledger queue = %q", cfg.RabbitMQ.Queue)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults invalid: %v", err)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("INVENTORY_BACKEND", "redis")
	t.Setenv("BOOKING_HOLD_TTL", "90s")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("REDIS_HOST", "cache")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("QUEUE_MAX_BACKOFF", "not-a-duration")

	cfg := Load()
	if cfg.Inventory.Backend != BackendRedis || cfg.Booking.HoldTTL != 90*time.Second {
		t.Fatalf("backend=%q hold=%v", cfg.Inventory.Backend, cfg.Booking.HoldTTL)
	}
	if !cfg.Kafka.Enabled || len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Fatalf("kafka = %+v", cfg.Kafka)
	}
	if cfg.Redis.Addr != "cache:6380" {
		t.Fatalf("redis addr = %q", cfg.Redis.Addr)
	}
	if cfg.Queue.MaxBackoff != 5*time.Minute {
		t.Fatalf("bad duration should fall back, got %v", cfg.Queue.MaxBackoff)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"unknown backend":  func(c *Config) { c.Inventory.Backend = "mongo" },
		"zero hold ttl":    func(c *Config) { c.Booking.HoldTTL = 0 },
		"negative grace":   func(c *Config) { c.Booking.NoShowReleaseGrace = -time.Minute },
		"default secret":   func(c *Config) { c.GinMode = "release" },
		"kafka no brokers": func(c *Config) { c.Kafka.Enabled = true; c.Kafka.Brokers = nil },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("JWT_SECRET", "")
			cfg := Load()
			mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}
