package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_RequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := Load()
	if err == nil {
		t.Fatal("expected error when JWT_SECRET is missing")
	}
	if !strings.Contains(err.Error(), "JWT_SECRET is required") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Booking.Store != StorePostgres {
		t.Errorf("expected default store %q, got %q", StorePostgres, cfg.Booking.Store)
	}
	if cfg.Booking.LockTimeout != 5*time.Second {
		t.Errorf("expected default lock timeout 5s, got %s", cfg.Booking.LockTimeout)
	}
	if cfg.Booking.MaxRescheduleAttempts != 3 {
		t.Errorf("expected 3 reschedule attempts, got %d", cfg.Booking.MaxRescheduleAttempts)
	}
	if cfg.Server.Address() != "0.0.0.0:8000" {
		t.Errorf("unexpected address %s", cfg.Server.Address())
	}
}

func TestLoad_BookingOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("BOOKING_STORE", StoreMemory)
	t.Setenv("BOOKING_LOCK_TIMEOUT", "250ms")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Booking.Store != StoreMemory {
		t.Errorf("expected memory store, got %q", cfg.Booking.Store)
	}
	if cfg.Booking.LockTimeout != 250*time.Millisecond {
		t.Errorf("expected 250ms, got %s", cfg.Booking.LockTimeout)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			App:      AppConfig{Environment: "development"},
			JWT:      JWTConfig{Secret: "s"},
			Database: DatabaseConfig{SSLMode: "require"},
			Booking:  BookingConfig{Store: StorePostgres, LockTimeout: time.Second, MaxRescheduleAttempts: 1},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid development config", func(c *Config) {}, ""},
		{"short secret in production", func(c *Config) {
			c.App.Environment = "production"
			c.Database.Password = "pw"
		}, "at least 32 characters"},
		{"memory store in production", func(c *Config) {
			c.App.Environment = "production"
			c.JWT.Secret = strings.Repeat("x", 32)
			c.Booking.Store = StoreMemory
		}, "BOOKING_STORE=memory"},
		{"unknown store", func(c *Config) { c.Booking.Store = "mongo" }, "BOOKING_STORE must be"},
		{"zero lock timeout", func(c *Config) { c.Booking.LockTimeout = 0 }, "BOOKING_LOCK_TIMEOUT"},
		{"ssl disabled in production", func(c *Config) {
			c.App.Environment = "production"
			c.JWT.Secret = strings.Repeat("x", 32)
			c.Database.Password = "pw"
			c.Database.SSLMode = "disable"
		}, "DB_SSLMODE=disable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
