// Package config loads the frozen process configuration from environment
// variables at startup. Nothing in the service mutates configuration after
// Load returns; every component receives the value it needs explicitly.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ampguard/telemetry-core/pkg/log"
	"gopkg.in/yaml.v3"
)

// Config is the complete, immutable runtime configuration.
type Config struct {
	HTTPAddr string
	LogLevel log.Level
	LogJSON  bool

	DatabaseURL    string
	StoreMaxConns  int

	TokenSigningSecret string
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration
	BcryptCost         int

	RateLimitSamplesPerMinute int
	RateLimitLoginPerMinute   int

	Evaluator EvaluatorConfig

	RULServiceURL          string
	RULBreakerMaxFailures  uint32
	RULBreakerCooldown     time.Duration

	TelemetryRetentionDays int
}

// EvaluatorConfig holds the alert-rule thresholds; defaults match the
// binding values in the battery monitoring specification. Every field may
// be overridden per-fleet by an EVALUATOR_CONFIG_FILE YAML document, since
// thresholds tend to be tuned by site engineers rather than redeployed.
type EvaluatorConfig struct {
	VoltageHigh       float64 `yaml:"voltage_high"`
	VoltageLow        float64 `yaml:"voltage_low"`
	VoltageHysteresis float64 `yaml:"voltage_hysteresis"`

	TempHigh      float64 `yaml:"temp_high"`
	TempHighClose float64 `yaml:"temp_high_close"`
	TempCritical  float64 `yaml:"temp_critical"`

	ResistanceFactorOpen  float64 `yaml:"resistance_factor_open"`
	ResistanceFactorClose float64 `yaml:"resistance_factor_close"`

	SoHWarn      float64 `yaml:"soh_warn"`
	SoHWarnClose float64 `yaml:"soh_warn_close"`
	SoHCritical  float64 `yaml:"soh_critical"`

	RULWarningDays  int `yaml:"rul_warning_days"`
	RULCriticalDays int `yaml:"rul_critical_days"`
}

// Load reads every configuration key from the environment, applying
// documented defaults where a key is absent.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPAddr:   envString("HTTP_ADDR", ":8080"),
		LogLevel:   log.Level(envString("LOG_LEVEL", string(log.InfoLevel))),
		LogJSON:    envBool("LOG_JSON", false),

		DatabaseURL:   os.Getenv("DATABASE_URL"),
		StoreMaxConns: envInt("STORE_MAX_CONNS", 20),

		TokenSigningSecret: os.Getenv("TOKEN_SIGNING_SECRET"),
		AccessTokenTTL:     envDuration("ACCESS_TOKEN_TTL", 30*time.Minute),
		RefreshTokenTTL:    envDuration("REFRESH_TOKEN_TTL", 168*time.Hour),
		BcryptCost:         envInt("IDENTITY_BCRYPT_COST", 12),

		RateLimitSamplesPerMinute: envInt("RATE_LIMIT_SAMPLES_PER_MIN", 1),
		RateLimitLoginPerMinute:   envInt("RATE_LIMIT_LOGIN_PER_MIN", 5),

		Evaluator: EvaluatorConfig{
			VoltageHigh:           envFloat("EVALUATOR_VOLTAGE_HIGH", 14.7),
			VoltageLow:            envFloat("EVALUATOR_VOLTAGE_LOW", 11.5),
			VoltageHysteresis:     envFloat("EVALUATOR_VOLTAGE_HYSTERESIS", 0.2),
			TempHigh:              envFloat("EVALUATOR_TEMP_HIGH", 45.0),
			TempHighClose:         envFloat("EVALUATOR_TEMP_HIGH_CLOSE", 43.0),
			TempCritical:          envFloat("EVALUATOR_TEMP_CRITICAL", 55.0),
			ResistanceFactorOpen:  envFloat("EVALUATOR_RESISTANCE_FACTOR_OPEN", 1.20),
			ResistanceFactorClose: envFloat("EVALUATOR_RESISTANCE_FACTOR_CLOSE", 1.10),
			SoHWarn:               envFloat("EVALUATOR_SOH_WARN", 80.0),
			SoHWarnClose:          envFloat("EVALUATOR_SOH_WARN_CLOSE", 82.0),
			SoHCritical:           envFloat("EVALUATOR_SOH_CRITICAL", 70.0),
			RULWarningDays:        envInt("EVALUATOR_RUL_WARNING_DAYS", 180),
			RULCriticalDays:       envInt("EVALUATOR_RUL_CRITICAL_DAYS", 90),
		},

		RULServiceURL:         os.Getenv("RUL_SERVICE_URL"),
		RULBreakerMaxFailures: uint32(envInt("RUL_BREAKER_MAX_FAILURES", 3)),
		RULBreakerCooldown:    envDuration("RUL_BREAKER_COOLDOWN", 30*time.Second),

		TelemetryRetentionDays: envInt("TELEMETRY_RETENTION_DAYS", 730),
	}

	if path := os.Getenv("EVALUATOR_CONFIG_FILE"); path != "" {
		if err := loadEvaluatorOverrides(path, &cfg.Evaluator); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadEvaluatorOverrides merges a YAML document's fields onto the env-derived
// defaults. Fields absent from the file keep their default value, since the
// file is meant to override a handful of thresholds, not restate all of them.
func loadEvaluatorOverrides(path string, cfg *EvaluatorConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read evaluator config file: %w", err)
	}

	var overrides struct {
		Evaluator EvaluatorConfig `yaml:"evaluator"`
	}
	overrides.Evaluator = *cfg
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return fmt.Errorf("config: parse evaluator config file: %w", err)
	}

	*cfg = overrides.Evaluator
	return nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("config: DATABASE_URL is required")
	}
	if c.TokenSigningSecret == "" {
		return fmt.Errorf("config: TOKEN_SIGNING_SECRET is required")
	}
	return nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
