// Package config loads the Cartella daemon configuration from TOML.
// Every section has production defaults; a missing config file is not
// an error — the defaults apply.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the full daemon configuration.
type Config struct {
	API     APIConfig     `toml:"api"`
	Store   StoreConfig   `toml:"store"`
	Catalog CatalogConfig `toml:"catalog"`
	Gateway GatewayConfig `toml:"gateway"`
	Ledger  LedgerConfig  `toml:"ledger"`
	Poller  PollerConfig  `toml:"poller"`
}

// APIConfig configures the HTTP server.
type APIConfig struct {
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
	Metrics bool   `toml:"metrics"` // Expose /metrics
}

// StoreConfig configures the durable SQLite store.
type StoreConfig struct {
	Path string `toml:"path"`
}

// CatalogConfig locates the product catalog file synced to the
// assistant's knowledge base.
type CatalogConfig struct {
	Path string `toml:"path"`
}

// GatewayConfig configures the remote AI service client.
type GatewayConfig struct {
	BaseURL     string `toml:"base_url"`
	APIKeyEnv   string `toml:"api_key_env"` // Env var holding the bearer credential
	Timeout     string `toml:"timeout"`     // Per-call timeout, e.g. "30s"
	ReplicaName string `toml:"replica_name"`
}

// LedgerConfig configures account provisioning and per-operation costs.
type LedgerConfig struct {
	StandardBalance int64 `toml:"standard_balance"` // Initial credits, standard accounts
	ElevatedBalance int64 `toml:"elevated_balance"` // Initial credits, elevated accounts
	CostChat        int64 `toml:"cost_chat"`
	CostCreate      int64 `toml:"cost_create"` // Knowledge create
	CostUpdate      int64 `toml:"cost_update"` // Knowledge update
	CostDelete      int64 `toml:"cost_delete"` // Knowledge delete
	CostReplica     int64 `toml:"cost_replica"`
}

// PollerConfig configures the ingestion status poller.
type PollerConfig struct {
	InitialDelay    string  `toml:"initial_delay"`     // e.g. "5s"
	MaxDelay        string  `toml:"max_delay"`         // Backoff ceiling, e.g. "5m"
	BackoffFactor   float64 `toml:"backoff_factor"`    // Standard exponential factor
	RateLimitFactor float64 `toml:"ratelimit_factor"`  // Aggressive factor on 429
	MaxAttempts     int     `toml:"max_attempts"`      // Retry budget per entry
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		API: APIConfig{
			Host:    "127.0.0.1",
			Port:    8470,
			Metrics: true,
		},
		Store: StoreConfig{
			Path: "cartella.db",
		},
		Catalog: CatalogConfig{
			Path: "catalog.toml",
		},
		Gateway: GatewayConfig{
			BaseURL:     "https://api.sensay.io",
			APIKeyEnv:   "CARTELLA_GATEWAY_KEY",
			Timeout:     "30s",
			ReplicaName: "cartella-storefront",
		},
		Ledger: LedgerConfig{
			StandardBalance: 100,
			ElevatedBalance: 10000,
			CostChat:        15,
			CostCreate:      10,
			CostUpdate:      5,
			CostDelete:      1,
			CostReplica:     50,
		},
		Poller: PollerConfig{
			InitialDelay:    "5s",
			MaxDelay:        "5m",
			BackoffFactor:   2.0,
			RateLimitFactor: 3.0,
			MaxAttempts:     20,
		},
	}
}

// Load reads the config file at path, applying defaults for anything
// unset. A missing file returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints that TOML decoding can't.
func (c Config) Validate() error {
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port %d out of range", c.API.Port)
	}
	if c.Ledger.CostChat <= 0 || c.Ledger.CostCreate <= 0 || c.Ledger.CostUpdate <= 0 || c.Ledger.CostDelete <= 0 {
		return fmt.Errorf("ledger costs must be positive")
	}
	if c.Poller.BackoffFactor < 1 || c.Poller.RateLimitFactor < 1 {
		return fmt.Errorf("poller backoff factors must be >= 1")
	}
	if c.Poller.MaxAttempts <= 0 {
		return fmt.Errorf("poller.max_attempts must be positive")
	}
	if _, err := time.ParseDuration(c.Gateway.Timeout); err != nil {
		return fmt.Errorf("gateway.timeout: %w", err)
	}
	if _, err := time.ParseDuration(c.Poller.InitialDelay); err != nil {
		return fmt.Errorf("poller.initial_delay: %w", err)
	}
	if _, err := time.ParseDuration(c.Poller.MaxDelay); err != nil {
		return fmt.Errorf("poller.max_delay: %w", err)
	}
	return nil
}

// GatewayKey resolves the bearer credential from the configured env var.
func (c Config) GatewayKey() string {
	return os.Getenv(c.Gateway.APIKeyEnv)
}

// GatewayTimeout returns the parsed per-call timeout.
// Call Validate first; an unparseable value falls back to 30s.
func (c Config) GatewayTimeout() time.Duration {
	return parseDuration(c.Gateway.Timeout, 30*time.Second)
}

// PollerInitialDelay returns the parsed initial poll delay.
func (c Config) PollerInitialDelay() time.Duration {
	return parseDuration(c.Poller.InitialDelay, 5*time.Second)
}

// PollerMaxDelay returns the parsed backoff ceiling.
func (c Config) PollerMaxDelay() time.Duration {
	return parseDuration(c.Poller.MaxDelay, 5*time.Minute)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
