package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"github.com/shopspring/decimal"
)

// DiscountConfig holds the discount ceiling policy. The base ceiling applies
// to every employee on top of their own principal ceiling; the extended
// ceiling unlocks when the customer's RFM segment is discount-eligible.
type DiscountConfig struct {
	BaseCeilingPercent     decimal.Decimal
	ExtendedCeilingPercent decimal.Decimal
	EligibleSegments       []string
}

// Eligible reports whether the segment unlocks the extended ceiling.
func (d DiscountConfig) Eligible(segment string) bool {
	for _, s := range d.EligibleSegments {
		if strings.EqualFold(s, segment) {
			return true
		}
	}
	return false
}

// PaymentConfig is the typed replacement for the loosely keyed payment
// method tables the storefront used to carry around.
type PaymentConfig struct {
	AcceptedMethods []string
	CashMethod      string
}

// Accepted reports whether the method can settle a sale.
func (p PaymentConfig) Accepted(method string) bool {
	for _, m := range p.AcceptedMethods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

// IsCash reports whether the method requires tendered-amount handling.
func (p PaymentConfig) IsCash(method string) bool {
	return strings.EqualFold(method, p.CashMethod)
}

// RFMConfig controls customer scoring.
type RFMConfig struct {
	WindowDays int
	SegmentTTL time.Duration
}

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	JWTSecret          string
	CORSAllowedOrigins []string

	Discount DiscountConfig
	Payment  PaymentConfig
	RFM      RFMConfig

	LockTimeout     time.Duration
	CatalogCacheTTL time.Duration
	IdempotencyTTL  time.Duration
	RateLimit       string
	MigrateOnStart  bool

	WorkerConcurrency int
	AlertEmailTo      string
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
		JWTSecret:          k.String("JWT_SECRET"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		Discount: DiscountConfig{
			BaseCeilingPercent:     parseDecimal(k.String("DISCOUNT_BASE_CEILING_PERCENT"), "10"),
			ExtendedCeilingPercent: parseDecimal(k.String("DISCOUNT_EXTENDED_CEILING_PERCENT"), "20"),
			EligibleSegments:       splitOrDefault(k.String("DISCOUNT_ELIGIBLE_SEGMENTS"), []string{"champion", "loyal"}),
		},
		Payment: PaymentConfig{
			AcceptedMethods: splitOrDefault(k.String("PAYMENT_METHODS"), []string{"cash", "debit", "credit", "pix"}),
			CashMethod:      valueOrDefault(k.String("PAYMENT_CASH_METHOD"), "cash"),
		},
		RFM: RFMConfig{
			WindowDays: intOrDefault(k.String("RFM_WINDOW_DAYS"), 365),
			SegmentTTL: parseDuration(k.String("RFM_SEGMENT_TTL"), "6h"),
		},
		LockTimeout:       parseDuration(k.String("CHECKOUT_LOCK_TIMEOUT"), "5s"),
		CatalogCacheTTL:   parseDuration(k.String("CATALOG_CACHE_TTL"), "5m"),
		IdempotencyTTL:    parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		RateLimit:         valueOrDefault(k.String("RATE_LIMIT"), "120-M"),
		MigrateOnStart:    boolOrDefault(k.String("MIGRATE_ON_START"), true),
		WorkerConcurrency: intOrDefault(k.String("WORKER_CONCURRENCY"), 4),
		AlertEmailTo:      strings.TrimSpace(k.String("ALERT_EMAIL_TO")),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	if cfg.Discount.ExtendedCeilingPercent.LessThan(cfg.Discount.BaseCeilingPercent) {
		return nil, errors.New("DISCOUNT_EXTENDED_CEILING_PERCENT must be >= DISCOUNT_BASE_CEILING_PERCENT")
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

func splitOrDefault(value string, fallback []string) []string {
	parts := splitAndTrim(value)
	if len(parts) == 0 {
		return fallback
	}
	return parts
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
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

func parseDecimal(value, fallback string) decimal.Decimal {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := decimal.NewFromString(base)
	if err != nil {
		d, _ = decimal.NewFromString(fallback)
	}
	return d
}

func intOrDefault(value string, fallback int) int {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	var parsed int
	if _, err := fmt.Sscanf(trimmed, "%d", &parsed); err != nil {
		return fallback
	}
	return parsed
}

func boolOrDefault(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// MustLoad behaves like Load but panics on error. Useful for command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without
// leaking changes into the real environment.
func LoadForTests(envs map[string]string) (*Config, error) {
	original := make(map[string]string, len(envs))
	for key := range envs {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, envs[key]); err != nil {
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
