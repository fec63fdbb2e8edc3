package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	DBAutoMigrate      bool
	CORSAllowedOrigins []string
	IdempotencyTTL     time.Duration
	BodyLimitBytes     int64
	SecurityHeaders    bool

	Auth      AuthConfig
	RateLimit RateLimitConfig
	Markup    MarkupConfig
	Audit     AuditConfig
	Events    EventsConfig
}

// AuthConfig describes how bearer tokens from the hosted auth provider are verified.
type AuthConfig struct {
	JWTSecret string
	Audience  string
	Issuer    string
	ClockSkew time.Duration
}

// RateLimitConfig configures the global and calculate-specific limiters.
type RateLimitConfig struct {
	// Global uses the ulule formatted rate, e.g. "300-M". Empty disables it.
	Global     string
	CalcMax    int
	CalcWindow time.Duration
}

type MarkupConfig struct {
	LockTTL time.Duration
}

type AuditConfig struct {
	Enabled      bool
	SamplingRate float64
}

// EventsConfig covers the in-process feed and the Kafka publisher used by the worker.
type EventsConfig struct {
	FeedSize           int
	KafkaBrokers       []string
	KafkaTopic         string
	WorkerConcurrency  int
	CircuitMinRequests int
	CircuitFailureRate float64
	CircuitOpenFor     time.Duration
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		DBAutoMigrate:      parseBool(k.String("DB_AUTO_MIGRATE")),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		IdempotencyTTL:     parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		BodyLimitBytes:     int64(parseInt(k.String("BODY_LIMIT_BYTES"), 1<<20)),
		SecurityHeaders:    parseBoolDefault(k.String("SECURITY_HEADERS_ENABLED"), true),
		Auth: AuthConfig{
			JWTSecret: k.String("SUPABASE_JWT_SECRET"),
			Audience:  valueOrDefault(k.String("SUPABASE_JWT_AUDIENCE"), "authenticated"),
			Issuer:    strings.TrimSpace(k.String("SUPABASE_JWT_ISSUER")),
			ClockSkew: parseDuration(k.String("SUPABASE_JWT_CLOCK_SKEW"), "30s"),
		},
		RateLimit: RateLimitConfig{
			Global:     strings.TrimSpace(k.String("GLOBAL_RATE_LIMIT")),
			CalcMax:    parseInt(k.String("CALC_RATE_LIMIT_MAX"), 60),
			CalcWindow: parseDuration(k.String("CALC_RATE_LIMIT_WINDOW"), "1m"),
		},
		Markup: MarkupConfig{
			LockTTL: parseDuration(k.String("MARKUP_LOCK_TTL"), "5s"),
		},
		Audit: AuditConfig{
			Enabled:      parseBoolDefault(k.String("AUDIT_ENABLED"), true),
			SamplingRate: parseFloat(k.String("AUDIT_SAMPLING_RATE"), 1),
		},
		Events: EventsConfig{
			FeedSize:           parseInt(k.String("EVENTS_FEED_SIZE"), 100),
			KafkaBrokers:       splitAndTrim(k.String("KAFKA_BROKERS")),
			KafkaTopic:         valueOrDefault(k.String("KAFKA_TOPIC"), "vertical-markup.events"),
			WorkerConcurrency:  parseInt(k.String("WORKER_CONCURRENCY"), 5),
			CircuitMinRequests: parseInt(k.String("CIRCUIT_KAFKA_MIN_REQ"), 10),
			CircuitFailureRate: parseFloat(k.String("CIRCUIT_KAFKA_FAILURE_RATE"), 0.5),
			CircuitOpenFor:     parseDuration(k.String("CIRCUIT_KAFKA_OPEN_FOR"), "30s"),
		},
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.Auth.JWTSecret == "" {
		return nil, errors.New("SUPABASE_JWT_SECRET is required")
	}
	if cfg.Audit.SamplingRate < 0 || cfg.Audit.SamplingRate > 1 {
		return nil, fmt.Errorf("AUDIT_SAMPLING_RATE must be within [0,1], got %v", cfg.Audit.SamplingRate)
	}
	if cfg.Events.FeedSize <= 0 {
		return nil, errors.New("EVENTS_FEED_SIZE must be positive")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// IsProduction reports whether the service runs with APP_ENV=production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.AppEnv), "production")
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func parseBool(value string) bool {
	return parseBoolDefault(value, false)
}

func parseBoolDefault(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
