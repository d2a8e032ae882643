package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.ServerPort == "" {
		t.Fatalf("expected default server port")
	}
	if cfg.PostgresURL == "" {
		t.Fatalf("expected default postgres url")
	}
	if cfg.PollInterval != 10*time.Second {
		t.Fatalf("expected 10s poll interval, got %v", cfg.PollInterval)
	}
	if cfg.ReconnectInterval != 5*time.Second || cfg.SweepInterval != time.Minute {
		t.Fatalf("unexpected default intervals")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults to validate: %v", err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", ":9000")
	t.Setenv("POSTGRES_URL", "postgres://example")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("REDIS_PASSWORD", "hunter2")
	t.Setenv("MQTT_BROKER_URL", "tcp://broker:1883")
	t.Setenv("POLL_INTERVAL", "2s")
	t.Setenv("TRIP_CODE", "AB12CD")
	t.Setenv("MEMBER_ID", "user42")

	cfg := Load()
	if cfg.ServerPort != ":9000" {
		t.Fatalf("expected override port")
	}
	if cfg.PostgresURL != "postgres://example" {
		t.Fatalf("expected override postgres")
	}
	if cfg.RedisAddr != "redis:6379" || cfg.RedisPassword != "hunter2" {
		t.Fatalf("expected override redis")
	}
	if cfg.MQTTBrokerURL != "tcp://broker:1883" {
		t.Fatalf("expected override broker")
	}
	if cfg.PollInterval != 2*time.Second {
		t.Fatalf("expected override poll interval")
	}
	if err := cfg.ValidateSession(); err != nil {
		t.Fatalf("expected session config to validate: %v", err)
	}
}

func TestValidateSessionRequiresIdentity(t *testing.T) {
	cfg := Load()
	cfg.TripCode = ""
	if err := cfg.ValidateSession(); err == nil {
		t.Fatalf("expected missing trip code to fail")
	}
	cfg.TripCode = "AB12CD"
	cfg.MemberID = ""
	if err := cfg.ValidateSession(); err == nil {
		t.Fatalf("expected missing member id to fail")
	}
}

func TestValidateRejectsBadLevel(t *testing.T) {
	cfg := Load()
	cfg.LogLevel = "loud"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected bad log level to fail")
	}
}
