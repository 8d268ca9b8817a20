package config

import (
	"strings"
	"testing"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected default config to be valid, got %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "port zero", mutate: func(c *Config) { c.Port = 0 }, wantErr: "invalid port"},
		{name: "port too large", mutate: func(c *Config) { c.Port = 70000 }, wantErr: "invalid port"},
		{name: "missing rules path", mutate: func(c *Config) { c.RulesPath = "" }, wantErr: "rules path"},
		{name: "missing database", mutate: func(c *Config) { c.DatabasePath = "" }, wantErr: "database path"},
		{name: "negative reload", mutate: func(c *Config) { c.ReloadInterval = -1 }, wantErr: "reload interval"},
		{name: "negative timeout", mutate: func(c *Config) { c.MatchTimeout = -1 }, wantErr: "match timeout"},
		{name: "negative max matches", mutate: func(c *Config) { c.MaxMatchesPerRule = -1 }, wantErr: "max matches"},
		{name: "zero draft bytes", mutate: func(c *Config) { c.MaxDraftBytes = 0 }, wantErr: "max draft bytes"},
		{name: "bad log level", mutate: func(c *Config) { c.LogLevel = "loud" }, wantErr: "log level"},
		{name: "bad log format", mutate: func(c *Config) { c.LogFormat = "xml" }, wantErr: "log format"},
		{name: "zero shutdown", mutate: func(c *Config) { c.GracefulShutdownTimeout = 0 }, wantErr: "shutdown"},
		{name: "reload disabled", mutate: func(c *Config) { c.ReloadInterval = 0 }},
		{name: "budget disabled", mutate: func(c *Config) { c.MatchTimeout = 0 }},
		{name: "console logs", mutate: func(c *Config) { c.LogFormat = "console"; c.LogLevel = "debug" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("expected valid config, got %v", err)
				}
				return
			}

			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
