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
	RefreshPath string
	HTTPTimeout time.Duration

	// Credential slot
	CredentialBackend       string
	SQLiteDBPath            string
	CredentialWatchInterval time.Duration
	RedisURL                string
	RedisKey                string

	// AMQP logout broadcast (optional)
	AMQPURL      string
	AMQPExchange string

	// Exchange rates
	RatesBaseCurrency string
	RatesUpdateHour   int
	RatesCacheSize    int
	// Extra bases refreshed by the rates worker, comma separated in RATES_BASES.
	RatesExtraBases []string

	// Google Sheets export (optional)
	GoogleSpreadsheetID string
	GoogleSheetName     string

	// Logging
	LogLevel  string
	LogFormat string
}

func Load() *Config {
	cfg := &Config{
		APIBaseURL:  getEnv("FAMFIN_API_URL", "http://localhost:3000/api"),
		RefreshPath: getEnv("FAMFIN_REFRESH_PATH", "/auth/refresh"),
		HTTPTimeout: getEnvDuration("FAMFIN_HTTP_TIMEOUT", 0),

		CredentialBackend:       getEnv("CREDENTIAL_BACKEND", "sqlite"),
		SQLiteDBPath:            getEnv("SQLITE_DB_PATH", defaultDBPath()),
		CredentialWatchInterval: getEnvDuration("CREDENTIAL_WATCH_INTERVAL", 2*time.Second),
		RedisURL:                getEnv("REDIS_URL", ""),
		RedisKey:                getEnv("REDIS_KEY", "famfin:credential"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "famfin.session"),

		RatesBaseCurrency: strings.ToUpper(getEnv("RATES_BASE_CURRENCY", "EUR")),
		RatesUpdateHour:   getEnvInt("RATES_UPDATE_HOUR", 6),
		RatesCacheSize:    getEnvInt("RATES_CACHE_SIZE", 32),
		RatesExtraBases:   getEnvList("RATES_BASES"),

		GoogleSpreadsheetID: getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleSheetName:     getEnv("GOOGLE_SHEET_NAME", "Transactions"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate API base URL
	if c.APIBaseURL == "" {
		errors = append(errors, "API base URL cannot be empty")
	} else if parsedURL, err := url.Parse(c.APIBaseURL); err != nil {
		errors = append(errors, fmt.Sprintf("invalid API base URL '%s': %v", c.APIBaseURL, err))
	} else if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		errors = append(errors, fmt.Sprintf("invalid API base URL scheme '%s': must be 'http' or 'https'", parsedURL.Scheme))
	}

	if !strings.HasPrefix(c.RefreshPath, "/") {
		errors = append(errors, fmt.Sprintf("invalid refresh path '%s': must start with '/'", c.RefreshPath))
	}

	if c.HTTPTimeout < 0 {
		errors = append(errors, fmt.Sprintf("invalid HTTP timeout %v: must not be negative", c.HTTPTimeout))
	}

	// Validate credential backend
	validBackends := []string{"memory", "sqlite", "redis"}
	isValidBackend := false
	for _, backend := range validBackends {
		if c.CredentialBackend == backend {
			isValidBackend = true
			break
		}
	}
	if !isValidBackend {
		errors = append(errors, fmt.Sprintf("invalid credential backend '%s': must be one of %v", c.CredentialBackend, validBackends))
	}

	if c.CredentialBackend == "sqlite" {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else {
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0o700); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
		if c.CredentialWatchInterval < 100*time.Millisecond {
			errors = append(errors, fmt.Sprintf("invalid credential watch interval %v: must be at least 100ms", c.CredentialWatchInterval))
		}
	}

	if c.CredentialBackend == "redis" {
		if c.RedisURL == "" {
			errors = append(errors, "Redis URL cannot be empty when using redis backend")
		} else if parsedURL, err := url.Parse(c.RedisURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid Redis URL '%s': %v", c.RedisURL, err))
		} else if parsedURL.Scheme != "redis" && parsedURL.Scheme != "rediss" {
			errors = append(errors, fmt.Sprintf("invalid Redis URL scheme '%s': must be 'redis' or 'rediss'", parsedURL.Scheme))
		}
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
	}

	// Validate exchange rates
	if len(c.RatesBaseCurrency) != 3 {
		errors = append(errors, fmt.Sprintf("invalid base currency '%s': must be a 3-letter ISO code", c.RatesBaseCurrency))
	}
	if c.RatesUpdateHour < 0 || c.RatesUpdateHour > 23 {
		errors = append(errors, fmt.Sprintf("invalid rates update hour %d: must be between 0 and 23", c.RatesUpdateHour))
	}
	for _, b := range c.RatesExtraBases {
		if len(b) != 3 {
			errors = append(errors, fmt.Sprintf("invalid rates base '%s': must be a 3-letter ISO code", b))
		}
	}
	if c.RatesCacheSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid rates cache size %d: must be at least 1", c.RatesCacheSize))
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be 'text' or 'json'", c.LogFormat))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// SheetsEnabled reports whether spreadsheet export is configured.
func (c *Config) SheetsEnabled() bool {
	return c.GoogleSpreadsheetID != ""
}

// RateBases returns the base currency followed by the extra bases, without
// duplicates.
func (c *Config) RateBases() []string {
	seen := map[string]bool{}
	var out []string
	for _, b := range append([]string{c.RatesBaseCurrency}, c.RatesExtraBases...) {
		if b == "" || seen[b] {
			continue
		}
		seen[b] = true
		out = append(out, b)
	}
	return out
}

func defaultDBPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "./data/famfin.db"
	}
	return filepath.Join(dir, "famfin", "famfin.db")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
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

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.ToUpper(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}
