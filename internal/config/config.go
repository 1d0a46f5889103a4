// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Chain provider
	RPCURL        string // Alchemy-compatible JSON-RPC endpoint
	AlchemyAPIKey string // used to build RPCURL when RPC_URL is unset
	RPCRetries    int
	RedisURL      string // optional shared block-time cache

	// Scoring
	ScoringTimeout  time.Duration
	MaxTransfers    int
	StaleAfter      time.Duration
	RefreshInterval time.Duration
	RefreshBatch    int

	// HTTP surface
	RateLimitRPM     int
	CORSOrigins      []string
	MetadataImageURL string

	// Observability
	OTLPEndpoint string
}

const (
	DefaultPort             = "8080"
	DefaultEnv              = "development"
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
	DefaultRPCRetries       = 3
	DefaultScoringTimeout   = 25 * time.Second
	DefaultMaxTransfers     = 1000
	DefaultStaleAfter       = 6 * time.Hour
	DefaultRefreshInterval  = time.Hour
	DefaultRefreshBatch     = 100
	DefaultRateLimitRPM     = 120
	DefaultMetadataImageURL = "https://oro.xyz/badge.png"

	alchemyMainnetURL = "https://eth-mainnet.g.alchemy.com/v2/"
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", DefaultPort),
		Env:              getEnv("ENV", DefaultEnv),
		LogLevel:         getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:        getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RPCURL:           os.Getenv("RPC_URL"),
		AlchemyAPIKey:    os.Getenv("ALCHEMY_API_KEY"),
		RPCRetries:       int(getEnvInt64("RPC_RETRIES", DefaultRPCRetries)),
		RedisURL:         os.Getenv("REDIS_URL"),
		ScoringTimeout:   getEnvDuration("SCORING_TIMEOUT", DefaultScoringTimeout),
		MaxTransfers:     int(getEnvInt64("MAX_TRANSFERS", DefaultMaxTransfers)),
		StaleAfter:       getEnvDuration("STALE_AFTER", DefaultStaleAfter),
		RefreshInterval:  getEnvDuration("REFRESH_INTERVAL", DefaultRefreshInterval),
		RefreshBatch:     int(getEnvInt64("REFRESH_BATCH", DefaultRefreshBatch)),
		RateLimitRPM:     int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitRPM)),
		CORSOrigins:      getEnvList("CORS_ORIGINS"),
		MetadataImageURL: getEnv("METADATA_IMAGE_URL", DefaultMetadataImageURL),
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if cfg.RPCURL == "" && cfg.AlchemyAPIKey != "" {
		cfg.RPCURL = alchemyMainnetURL + cfg.AlchemyAPIKey
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("RPC_URL or ALCHEMY_API_KEY is required")
	}
	if !strings.HasPrefix(c.RPCURL, "http://") && !strings.HasPrefix(c.RPCURL, "https://") &&
		!strings.HasPrefix(c.RPCURL, "ws://") && !strings.HasPrefix(c.RPCURL, "wss://") {
		return fmt.Errorf("RPC_URL must be an http(s) or ws(s) URL")
	}
	if c.ScoringTimeout <= 0 {
		return fmt.Errorf("SCORING_TIMEOUT must be positive")
	}
	if c.MaxTransfers <= 0 {
		return fmt.Errorf("MAX_TRANSFERS must be positive")
	}
	if c.StaleAfter <= 0 {
		return fmt.Errorf("STALE_AFTER must be positive")
	}
	if c.RefreshInterval <= 0 {
		return fmt.Errorf("REFRESH_INTERVAL must be positive")
	}
	if c.RefreshBatch <= 0 {
		return fmt.Errorf("REFRESH_BATCH must be positive")
	}
	if c.RPCRetries < 0 {
		return fmt.Errorf("RPC_RETRIES must not be negative")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s", "6h") or bare seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
