// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all facilitator configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Chain settings
	ChainAPIURL   string // Base URL of the chain index REST API
	Network       string // Network identifier advertised in /supported
	PrivateKey    string // Hex-encoded payout signing key, no 0x prefix
	PayoutAddress string // Address the facilitator pays settlements from

	// Ledger policy
	RevalidateInterval time.Duration // Staleness window before a funding record is re-checked on-chain
	ReconcileInterval  time.Duration // Background reconcile loop period (0 disables)
	MinConfirmations   int64         // Default confirmation floor when requirements omit one

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint for traces (optional)
}

// Defaults
const (
	DefaultPort               = "8080"
	DefaultEnv                = "development"
	DefaultLogLevel           = "info"
	DefaultNetwork            = "utxo-testnet"
	DefaultRevalidateInterval = 5 * time.Minute
	DefaultReconcileInterval  = 10 * time.Minute
	DefaultMinConfirmations   = 1
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", DefaultPort),
		Env:                getEnv("ENV", DefaultEnv),
		LogLevel:           getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:        os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		ChainAPIURL:        os.Getenv("CHAIN_API_URL"),
		Network:            getEnv("NETWORK", DefaultNetwork),
		PrivateKey:         os.Getenv("PRIVATE_KEY"),
		PayoutAddress:      os.Getenv("PAYOUT_ADDRESS"),
		RevalidateInterval: getEnvDuration("UTXO_REVALIDATE_INTERVAL", DefaultRevalidateInterval),
		ReconcileInterval:  getEnvDuration("RECONCILE_INTERVAL", DefaultReconcileInterval),
		MinConfirmations:   getEnvInt64("MIN_CONFIRMATIONS", DefaultMinConfirmations),
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.ChainAPIURL == "" {
		return fmt.Errorf("CHAIN_API_URL is required")
	}

	if c.PrivateKey == "" {
		return fmt.Errorf("PRIVATE_KEY is required")
	}

	// Allow both with and without 0x prefix
	key := c.PrivateKey
	if len(key) == 66 && key[:2] == "0x" {
		key = key[2:]
	}
	if len(key) != 64 {
		return fmt.Errorf("PRIVATE_KEY must be 64 hex characters (with or without 0x prefix)")
	}

	if c.RevalidateInterval <= 0 {
		return fmt.Errorf("UTXO_REVALIDATE_INTERVAL must be positive")
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
