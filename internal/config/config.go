package config

import (
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int
	LogLevel string

	// Aggregator
	AggregatorAPIURL string

	// HTTP client
	HTTPTimeout time.Duration

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrency int

	// Cache
	CacheTTL time.Duration

	// Observability
	OTLPEndpoint string

	// Auth: bearer tokens are only required when a secret is set
	JWTSecret string

	// Engine
	ForecastMonths         int
	LateFeeRate            decimal.Decimal
	MoraRate               decimal.Decimal
	RevolvingRate          decimal.Decimal
	HolidaysFile           string
	RulesFile              string
	ClosingDateToNextCycle bool
	CarryOverUnpaid        bool
	AuditCapacity          int
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		AggregatorAPIURL: getEnv("AGGREGATOR_API_URL", "http://localhost:8081"),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 10*time.Second),

		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 100*time.Millisecond),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 50),

		CacheTTL: getEnvDuration("CACHE_TTL", 5*time.Minute),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),

		JWTSecret: getEnv("JWT_SECRET", ""),

		ForecastMonths:         getEnvInt("FORECAST_MONTHS", 3),
		LateFeeRate:            getEnvDecimal("LATE_FEE_RATE", decimal.RequireFromString("0.02")),
		MoraRate:               getEnvDecimal("MORA_RATE", decimal.RequireFromString("0.01")),
		RevolvingRate:          getEnvDecimal("REVOLVING_RATE", decimal.RequireFromString("0.14")),
		HolidaysFile:           getEnv("HOLIDAYS_FILE", ""),
		RulesFile:              getEnv("RULES_FILE", ""),
		ClosingDateToNextCycle: getEnvBool("CLOSING_DATE_NEXT_CYCLE", false),
		CarryOverUnpaid:        getEnvBool("CARRY_OVER_UNPAID", false),
		AuditCapacity:          getEnvInt("AUDIT_CAPACITY", 10000),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// getEnvDecimal reads a rate; negative values are rejected.
func getEnvDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil && !d.IsNegative() {
			return d
		}
	}
	return fallback
}
