package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		APIBaseURL:     "http://localhost:5001/api",
		HTTPTimeout:    10 * time.Second,
		SQLiteDBPath:   "./test.db",
		User:           "alice",
		MonthlyBudget:  1000,
		WatchMode:      WatchModePoll,
		ProbeInterval:  15 * time.Second,
		DevServerPort:  "5001",
		DevServerToken: "t",
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		wantErr     bool
		errorString string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:        "invalid base URL scheme",
			mutate:      func(c *Config) { c.APIBaseURL = "ftp://host/api" },
			wantErr:     true,
			errorString: "must be 'http' or 'https'",
		},
		{
			name:        "empty db path",
			mutate:      func(c *Config) { c.SQLiteDBPath = "" },
			wantErr:     true,
			errorString: "SQLite database path cannot be empty",
		},
		{
			name:        "empty user",
			mutate:      func(c *Config) { c.User = "  " },
			wantErr:     true,
			errorString: "user cannot be empty",
		},
		{
			name:        "negative budget",
			mutate:      func(c *Config) { c.MonthlyBudget = -5 },
			wantErr:     true,
			errorString: "cannot be negative",
		},
		{
			name:        "unknown watch mode",
			mutate:      func(c *Config) { c.WatchMode = "push" },
			wantErr:     true,
			errorString: "invalid watch mode 'push'",
		},
		{
			name:        "timeout too small",
			mutate:      func(c *Config) { c.HTTPTimeout = 100 * time.Millisecond },
			wantErr:     true,
			errorString: "must be at least 1 second",
		},
		{
			name:        "probe interval too large",
			mutate:      func(c *Config) { c.ProbeInterval = 2 * time.Hour },
			wantErr:     true,
			errorString: "must be at most 1 hour",
		},
		{
			name:        "dev server port non-numeric",
			mutate:      func(c *Config) { c.DevServerPort = "abc" },
			wantErr:     true,
			errorString: "invalid dev server port 'abc'",
		},
		{
			name:        "dev server port out of range",
			mutate:      func(c *Config) { c.DevServerPort = "70000" },
			wantErr:     true,
			errorString: "must be between 1 and 65535",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !strings.Contains(err.Error(), tt.errorString) {
					t.Fatalf("expected error containing %q, got %q", tt.errorString, err.Error())
				}
			} else if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"API_BASE_URL", "API_TOKEN", "HTTP_TIMEOUT", "SQLITE_DB_PATH",
		"SPENDLOG_USER", "MONTHLY_BUDGET", "WATCH_MODE", "PROBE_INTERVAL",
	} {
		os.Unsetenv(key)
	}

	cfg := Load()

	if cfg.APIBaseURL != "http://localhost:5001/api" {
		t.Errorf("unexpected default API base URL: %s", cfg.APIBaseURL)
	}
	if cfg.User != "default" {
		t.Errorf("unexpected default user: %s", cfg.User)
	}
	if cfg.WatchMode != WatchModePoll {
		t.Errorf("unexpected default watch mode: %s", cfg.WatchMode)
	}
	if cfg.MonthlyBudget != 0 {
		t.Errorf("unexpected default budget: %f", cfg.MonthlyBudget)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("API_BASE_URL", "https://api.example.com/api")
	t.Setenv("MONTHLY_BUDGET", "1500.50")
	t.Setenv("PROBE_INTERVAL", "30s")
	t.Setenv("WATCH_MODE", "signal")

	cfg := Load()

	if cfg.APIBaseURL != "https://api.example.com/api" {
		t.Errorf("env override ignored: %s", cfg.APIBaseURL)
	}
	if cfg.MonthlyBudget != 1500.50 {
		t.Errorf("budget override ignored: %f", cfg.MonthlyBudget)
	}
	if cfg.ProbeInterval != 30*time.Second {
		t.Errorf("probe interval override ignored: %v", cfg.ProbeInterval)
	}
	if cfg.WatchMode != WatchModeSignal {
		t.Errorf("watch mode override ignored: %s", cfg.WatchMode)
	}
}
