// Package config loads and validates client configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config holds all configuration values for the HaulSync client.
// Values are populated by Load from environment variables.
type Config struct {
	// APIBaseURL is the base URL of the remote trip API. Required.
	APIBaseURL string

	// DataDir is the directory holding the local SQLite database
	// (offline queue + credential store). Defaults to the user cache dir.
	DataDir string

	// LogLevel controls the minimum log level. Defaults to "info".
	// Valid values: debug, info, warn, error.
	LogLevel string

	// HTTPTimeout is the per-request timeout for every outbound call.
	// Defaults to 20s. On timeout the call counts as a transient failure.
	HTTPTimeout time.Duration

	// SiteTimezone is the IANA timezone used to compute the "today" window
	// for trip listings. The mine site runs on local wall-clock days, not
	// UTC. Defaults to Asia/Jakarta (WIB).
	SiteTimezone string

	// ProbeInterval is how often the connectivity watcher polls the API.
	// Defaults to 15s.
	ProbeInterval time.Duration
}

// Load reads configuration from environment variables and returns a Config.
// Returns an error listing any required variables that are not set.
func Load() (Config, error) {
	cfg := Config{
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		SiteTimezone: getEnv("SITE_TIMEZONE", "Asia/Jakarta"),
	}

	var missing []string

	cfg.APIBaseURL = strings.TrimRight(os.Getenv("API_BASE_URL"), "/")
	if cfg.APIBaseURL == "" {
		missing = append(missing, "API_BASE_URL")
	}

	cfg.DataDir = os.Getenv("DATA_DIR")
	if cfg.DataDir == "" {
		cacheDir, err := os.UserCacheDir()
		if err != nil {
			missing = append(missing, "DATA_DIR")
		} else {
			cfg.DataDir = cacheDir + "/haulsync"
		}
	}

	var err error
	cfg.HTTPTimeout, err = getDuration("HTTP_TIMEOUT", 20*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg.ProbeInterval, err = getDuration("PROBE_INTERVAL", 15*time.Second)
	if err != nil {
		return Config{}, err
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("required environment variables not set: %s", strings.Join(missing, ", "))
	}

	return cfg, nil
}

// SiteLocation resolves SiteTimezone to a *time.Location.
// Falls back to UTC when the timezone database does not know the name.
func (c Config) SiteLocation() *time.Location {
	loc, err := time.LoadLocation(c.SiteTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// getEnv returns the value of the environment variable named by key,
// or fallback if the variable is not set or is empty.
func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getDuration parses the environment variable named by key as a Go
// duration string (e.g. "20s"), or returns fallback when unset.
func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
