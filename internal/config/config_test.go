package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("TOKEN_SIGNING_SECRET", "secret")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when DATABASE_URL is unset")
	}
}

func TestLoad_RequiresTokenSigningSecret(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/telemetry")
	t.Setenv("TOKEN_SIGNING_SECRET", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when TOKEN_SIGNING_SECRET is unset")
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/telemetry")
	t.Setenv("TOKEN_SIGNING_SECRET", "secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.RateLimitLoginPerMinute != 5 {
		t.Errorf("expected default login rate limit 5, got %d", cfg.RateLimitLoginPerMinute)
	}
	if cfg.Evaluator.TempHigh != 45.0 {
		t.Errorf("expected default temp high 45.0, got %v", cfg.Evaluator.TempHigh)
	}
	if cfg.TelemetryRetentionDays != 730 {
		t.Errorf("expected default retention 730 days, got %d", cfg.TelemetryRetentionDays)
	}
}

func TestLoad_EvaluatorConfigFileOverridesOnlyListedFields(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/telemetry")
	t.Setenv("TOKEN_SIGNING_SECRET", "secret")

	path := filepath.Join(t.TempDir(), "thresholds.yaml")
	doc := "evaluator:\n  temp_high: 48.5\n  rul_warning_days: 200\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write override file: %v", err)
	}
	t.Setenv("EVALUATOR_CONFIG_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Evaluator.TempHigh != 48.5 {
		t.Errorf("expected overridden temp high 48.5, got %v", cfg.Evaluator.TempHigh)
	}
	if cfg.Evaluator.RULWarningDays != 200 {
		t.Errorf("expected overridden rul warning days 200, got %d", cfg.Evaluator.RULWarningDays)
	}
	if cfg.Evaluator.VoltageHigh != 14.7 {
		t.Errorf("expected untouched voltage high to keep its default 14.7, got %v", cfg.Evaluator.VoltageHigh)
	}
}
