package config

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Config holds server configuration
type Config struct {
	// Server settings
	Port int
	Host string

	// Rule settings
	RulesPath      string
	ReloadInterval time.Duration // zero disables hot reload

	// Evaluation settings
	MatchTimeout      time.Duration // zero disables the per-rule budget
	MaxMatchesPerRule int           // zero means unlimited
	MaxDraftBytes     int64

	// Persistence
	DatabasePath string

	// Logging
	LogLevel  string
	LogFormat string // "json" or "console"

	// Operational settings
	GracefulShutdownTimeout time.Duration
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	if c.RulesPath == "" {
		return fmt.Errorf("rules path is required")
	}

	if c.DatabasePath == "" {
		return fmt.Errorf("database path is required")
	}

	if c.ReloadInterval < 0 {
		return fmt.Errorf("reload interval must not be negative")
	}

	if c.MatchTimeout < 0 {
		return fmt.Errorf("match timeout must not be negative")
	}

	if c.MaxMatchesPerRule < 0 {
		return fmt.Errorf("max matches per rule must not be negative")
	}

	if c.MaxDraftBytes <= 0 {
		return fmt.Errorf("max draft bytes must be positive")
	}

	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}

	if c.LogFormat != "json" && c.LogFormat != "console" {
		return fmt.Errorf("log format must be 'json' or 'console'")
	}

	if c.GracefulShutdownTimeout <= 0 {
		return fmt.Errorf("graceful shutdown timeout must be positive")
	}

	return nil
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Port:                    8080,
		Host:                    "0.0.0.0",
		RulesPath:               "config/policy_gate.yml",
		ReloadInterval:          30 * time.Second,
		MatchTimeout:            250 * time.Millisecond,
		MaxDraftBytes:           64 * 1024,
		DatabasePath:            "data/inquisitor.db",
		LogLevel:                "info",
		LogFormat:               "json",
		GracefulShutdownTimeout: 30 * time.Second,
	}
}
