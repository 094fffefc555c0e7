package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DISPATCH_JWT_SECRET", "secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Errorf("addr = %q", cfg.HTTP.Addr)
	}
	if cfg.Dispatch.PendingTimeout != 0 {
		t.Errorf("pending timeout should default to disabled, got %v", cfg.Dispatch.PendingTimeout)
	}
	if cfg.Pricing.StudentDiscountPct != 30 || cfg.Pricing.SharedDiscountPct != 20 {
		t.Errorf("unexpected discounts: %+v", cfg.Pricing)
	}
	if len(cfg.Dispatch.BroadcastFilter) != 0 {
		t.Errorf("broadcast filter should be empty by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DISPATCH_JWT_SECRET", "secret")
	t.Setenv("DISPATCH_PENDING_TIMEOUT", "90s")
	t.Setenv("DISPATCH_KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("DISPATCH_BROADCAST_FILTER", "radius,women_only")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Dispatch.PendingTimeout != 90*time.Second {
		t.Errorf("pending timeout = %v", cfg.Dispatch.PendingTimeout)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("brokers = %v", cfg.Kafka.Brokers)
	}
	if len(cfg.Dispatch.BroadcastFilter) != 2 {
		t.Errorf("filters = %v", cfg.Dispatch.BroadcastFilter)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]map[string]string{
		"missing jwt secret": {"DISPATCH_AUTH_PROVIDER": "jwt"},
		"bad duration":       {"DISPATCH_JWT_SECRET": "s", "DISPATCH_PENDING_TIMEOUT": "soon"},
		"bad discount":       {"DISPATCH_JWT_SECRET": "s", "DISPATCH_STUDENT_DISCOUNT_PCT": "150"},
		"unknown filter":     {"DISPATCH_JWT_SECRET": "s", "DISPATCH_BROADCAST_FILTER": "rating"},
		"firebase no proj":   {"DISPATCH_AUTH_PROVIDER": "firebase"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
