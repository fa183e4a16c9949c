package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("default port = %d, want 8080", cfg.Port)
	}
	if cfg.StreamLifetime != 300*time.Second {
		t.Errorf("default stream lifetime = %v, want 5m", cfg.StreamLifetime)
	}
	if cfg.CheckInterval != 2*time.Second {
		t.Errorf("default check interval = %v, want 2s", cfg.CheckInterval)
	}
	if cfg.EnablePing {
		t.Error("steady pings must default to off")
	}
	if cfg.FallbackPing != 90*time.Second {
		t.Errorf("default fallback ping = %v, want 90s", cfg.FallbackPing)
	}
	if cfg.TestInterval != 45*time.Second {
		t.Errorf("default test interval = %v, want 45s", cfg.TestInterval)
	}
	if cfg.RetentionDays != 14 {
		t.Errorf("default retention = %d days, want 14", cfg.RetentionDays)
	}
	if cfg.PollBase != 30*time.Second || cfg.PollStep != 60*time.Second || cfg.PollAttempts != 5 {
		t.Errorf("unexpected poll defaults: %v/%v/%d", cfg.PollBase, cfg.PollStep, cfg.PollAttempts)
	}
	if cfg.PollCeiling != 10*time.Minute {
		t.Errorf("default poll ceiling = %v, want 10m", cfg.PollCeiling)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("STREAM_LIFETIME", "2m")
	t.Setenv("ENABLE_TEST_EVENTS", "true")
	t.Setenv("TRACKED_STATUSES", "processing, completed")
	t.Setenv("ALLOWED_ROLES", "administrator")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != 9000 {
		t.Errorf("port = %d, want 9000", cfg.Port)
	}
	if cfg.StreamLifetime != 2*time.Minute {
		t.Errorf("stream lifetime = %v, want 2m", cfg.StreamLifetime)
	}
	if !cfg.EnableTestEvents {
		t.Error("test events must be enabled")
	}
	if len(cfg.TrackedStatuses) != 2 || cfg.TrackedStatuses[1] != "completed" {
		t.Errorf("tracked statuses = %v", cfg.TrackedStatuses)
	}
	if len(cfg.AllowedRoles) != 1 {
		t.Errorf("allowed roles = %v", cfg.AllowedRoles)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	cases := map[string]string{
		"PORT":            "not-a-number",
		"STREAM_LIFETIME": "five minutes",
		"RETENTION_DAYS":  "0",
		"POLL_ATTEMPTS":   "-1",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%q", key, value)
			}
		})
	}
}

func TestRoleAllowed(t *testing.T) {
	cfg := &Config{AllowedRoles: []string{"administrator", "shop_manager"}}

	if !cfg.RoleAllowed("administrator") || !cfg.RoleAllowed("shop_manager") {
		t.Error("listed roles must be allowed")
	}
	if cfg.RoleAllowed("customer") || cfg.RoleAllowed("") {
		t.Error("unlisted roles must be denied")
	}
}
