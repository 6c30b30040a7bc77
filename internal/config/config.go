package config

import (
	"os"
	"strconv"
)

// Config holds all configuration for the CarbonPit marketplace server.
type Config struct {
	Port      int
	Version   string
	BaseURL   string
	Database  DatabaseConfig
	Telemetry TelemetryConfig
	RateLimit RateLimitConfig
}

type DatabaseConfig struct {
	// Path to the SQLite database file. Empty selects the in-memory store,
	// which is the default for local development and demos.
	Path string
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

type RateLimitConfig struct {
	// Requests per second per client IP, with Burst extra headroom.
	RPS   float64
	Burst int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("CARBONPIT_PORT", 8080),
		Version: envStr("CARBONPIT_VERSION", "0.4.0"),
		BaseURL: envStr("CARBONPIT_BASE_URL", "http://localhost:8080"),
		Database: DatabaseConfig{
			Path: envStr("CARBONPIT_DB_PATH", ""),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "carbonpit"),
		},
		RateLimit: RateLimitConfig{
			RPS:   envFloat("CARBONPIT_RATE_RPS", 20),
			Burst: envInt("CARBONPIT_RATE_BURST", 40),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
