package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ENV", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("FUZZY_MATCH_THRESHOLD", "")
	t.Setenv("MAX_CALL_ATTEMPTS", "")
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.FuzzyMatchThreshold != 0.85 {
		t.Fatalf("expected default fuzzy threshold, got %f", cfg.FuzzyMatchThreshold)
	}
	if cfg.MaxCallAttempts != 3 {
		t.Fatalf("expected default attempt cap, got %d", cfg.MaxCallAttempts)
	}
	if cfg.Attempt1Window != "10:00-12:00" {
		t.Fatalf("expected default attempt 1 window, got %s", cfg.Attempt1Window)
	}
	if cfg.DispatchJitterMax != 90*time.Second {
		t.Fatalf("expected default jitter bound, got %s", cfg.DispatchJitterMax)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("DATABASE_URL", "postgres://user@host/db")
	t.Setenv("FUZZY_MATCH_THRESHOLD", "0.9")
	t.Setenv("ATTEMPT2_WINDOW", "14:00-16:00")
	t.Setenv("REST_DAY", "Saturday")
	t.Setenv("ALERT_RETRY_BASE_DELAY", "1m")
	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected override port, got %s", cfg.Port)
	}
	if cfg.DatabaseURL != "postgres://user@host/db" {
		t.Fatalf("expected db override, got %s", cfg.DatabaseURL)
	}
	if cfg.FuzzyMatchThreshold != 0.9 {
		t.Fatalf("expected fuzzy threshold override, got %f", cfg.FuzzyMatchThreshold)
	}
	if cfg.Attempt2Window != "14:00-16:00" {
		t.Fatalf("expected attempt window override, got %s", cfg.Attempt2Window)
	}
	if cfg.AlertRetryBaseDelay != time.Minute {
		t.Fatalf("expected alert retry delay override, got %s", cfg.AlertRetryBaseDelay)
	}
	if cfg.RestDayWeekday() != time.Saturday {
		t.Fatalf("expected rest day Saturday, got %s", cfg.RestDayWeekday())
	}
}

func TestRestDayWeekdayFallback(t *testing.T) {
	t.Setenv("REST_DAY", "someday")
	cfg := Load()
	if cfg.RestDayWeekday() != time.Sunday {
		t.Fatalf("expected unknown rest day to fall back to Sunday, got %s", cfg.RestDayWeekday())
	}
}
