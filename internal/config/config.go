package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Backend API
	APIBaseURL  string
	APIToken    string
	HTTPTimeout time.Duration

	// Local persistence
	SQLiteDBPath string

	// Offline store scoping and budget profile
	User          string
	MonthlyBudget float64

	// Connectivity watcher
	WatchMode     string
	ProbeInterval time.Duration

	// Dev server
	DevServerPort  string
	DevServerToken string
}

const (
	WatchModePoll   = "poll"
	WatchModeSignal = "signal"
)

func Load() *Config {
	cfg := &Config{
		APIBaseURL:  getEnv("API_BASE_URL", "http://localhost:5001/api"),
		APIToken:    getEnv("API_TOKEN", ""),
		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 10*time.Second),

		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/spendlog.db"),

		User:          getEnv("SPENDLOG_USER", "default"),
		MonthlyBudget: getEnvFloat("MONTHLY_BUDGET", 0),

		WatchMode:     getEnv("WATCH_MODE", WatchModePoll),
		ProbeInterval: getEnvDuration("PROBE_INTERVAL", 15*time.Second),

		DevServerPort:  getEnv("DEVSERVER_PORT", "5001"),
		DevServerToken: getEnv("DEVSERVER_TOKEN", "dev-token"),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if parsed, err := url.Parse(c.APIBaseURL); err != nil {
		errors = append(errors, fmt.Sprintf("invalid API base URL '%s': %v", c.APIBaseURL, err))
	} else if parsed.Scheme != "http" && parsed.Scheme != "https" {
		errors = append(errors, fmt.Sprintf("invalid API base URL scheme '%s': must be 'http' or 'https'", parsed.Scheme))
	}

	if c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty")
	} else {
		dir := filepath.Dir(c.SQLiteDBPath)
		if dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	}

	if strings.TrimSpace(c.User) == "" {
		errors = append(errors, "user cannot be empty")
	}

	if c.MonthlyBudget < 0 {
		errors = append(errors, fmt.Sprintf("invalid monthly budget %.2f: cannot be negative", c.MonthlyBudget))
	}

	if c.WatchMode != WatchModePoll && c.WatchMode != WatchModeSignal {
		errors = append(errors, fmt.Sprintf("invalid watch mode '%s': must be '%s' or '%s'", c.WatchMode, WatchModePoll, WatchModeSignal))
	}

	if c.HTTPTimeout < time.Second {
		errors = append(errors, fmt.Sprintf("invalid HTTP timeout %v: must be at least 1 second", c.HTTPTimeout))
	} else if c.HTTPTimeout > time.Minute {
		errors = append(errors, fmt.Sprintf("invalid HTTP timeout %v: must be at most 1 minute", c.HTTPTimeout))
	}

	if c.ProbeInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid probe interval %v: must be at least 1 second", c.ProbeInterval))
	} else if c.ProbeInterval > time.Hour {
		errors = append(errors, fmt.Sprintf("invalid probe interval %v: must be at most 1 hour", c.ProbeInterval))
	}

	if port, err := strconv.Atoi(c.DevServerPort); err != nil {
		errors = append(errors, fmt.Sprintf("invalid dev server port '%s': must be a number", c.DevServerPort))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid dev server port %d: must be between 1 and 65535", port))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
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
