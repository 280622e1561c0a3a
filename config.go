// config.go
// ----------
// This file defines the Config structure consumed (read-only) by the SDK:
// backend location, credentials, offline cache settings and the retry
// tunables of the resilient client.
//
// Config can be built in code (DefaultConfig), or loaded from a YAML file with
// KOGASE_* environment overrides applied on top (LoadConfig).
package resilienttelemetry

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultBaseURL         = "http://localhost:8080"
	DefaultAPIVersion      = "v1"
	DefaultMaxCachedEvents = 50

	DefaultTotalTimeout         = 60 * time.Second
	DefaultInitialDelay         = 1 * time.Second
	DefaultMaxDelay             = 30 * time.Second
	DefaultMaxRetries           = 3
	DefaultBearerRefreshTimeout = 30 * time.Second
	DefaultFlushInterval        = 30 * time.Second
	DefaultTickInterval         = 25 * time.Millisecond
)

// Config holds every setting the SDK reads.
type Config struct {
	BaseURL    string `yaml:"base_url"`
	APIVersion string `yaml:"api_version"`
	APIKey     string `yaml:"api_key"`

	MaxCachedEvents    int    `yaml:"max_cached_events"`  // Pending events that trigger a persist
	EnableOfflineCache bool   `yaml:"enable_offline_cache"`
	StoragePath        string `yaml:"storage_path"` // Directory for the event cache; empty keeps it in memory

	TotalTimeout time.Duration `yaml:"total_timeout"` // Budget for a whole retry sequence
	InitialDelay time.Duration `yaml:"initial_delay"` // First backoff delay
	MaxDelay     time.Duration `yaml:"max_delay"`     // Backoff cap
	MaxRetries   int           `yaml:"max_retries"`

	BearerRefreshTimeout time.Duration `yaml:"bearer_refresh_timeout"`
	FlushInterval        time.Duration `yaml:"flush_interval"` // Periodic cached-event flush; 0 disables
	TickInterval         time.Duration `yaml:"tick_interval"`  // Used by SDK.Run only

	ClientCertPath     string `yaml:"client_cert_path"` // PKCS#12 bundle for mutual TLS
	ClientCertPassword string `yaml:"client_cert_password"`
	Compression        bool   `yaml:"compression"` // Accept br/gzip encoded responses

	Debug bool `yaml:"debug"`
}

// DefaultConfig returns a Config populated with the SDK defaults.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:              DefaultBaseURL,
		APIVersion:           DefaultAPIVersion,
		MaxCachedEvents:      DefaultMaxCachedEvents,
		EnableOfflineCache:   true,
		TotalTimeout:         DefaultTotalTimeout,
		InitialDelay:         DefaultInitialDelay,
		MaxDelay:             DefaultMaxDelay,
		MaxRetries:           DefaultMaxRetries,
		BearerRefreshTimeout: DefaultBearerRefreshTimeout,
		FlushInterval:        DefaultFlushInterval,
		TickInterval:         DefaultTickInterval,
	}
}

// LoadConfig reads a YAML file (optional, pass "" to skip) over the defaults
// and then applies environment overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.BaseURL = getEnvString("KOGASE_BASE_URL", c.BaseURL)
	c.APIVersion = getEnvString("KOGASE_API_VERSION", c.APIVersion)
	c.APIKey = getEnvString("KOGASE_API_KEY", c.APIKey)
	c.StoragePath = getEnvString("KOGASE_STORAGE_PATH", c.StoragePath)
	c.MaxCachedEvents = getEnvInt("KOGASE_MAX_CACHED_EVENTS", c.MaxCachedEvents)
	c.EnableOfflineCache = getEnvBool("KOGASE_OFFLINE_CACHE", c.EnableOfflineCache)
	c.MaxRetries = getEnvInt("KOGASE_MAX_RETRIES", c.MaxRetries)
	c.TotalTimeout = getEnvDuration("KOGASE_TOTAL_TIMEOUT", c.TotalTimeout)
	c.Debug = getEnvBool("KOGASE_DEBUG", c.Debug)
}

// Validate checks the settings the SDK cannot work without.
func (c *Config) Validate() error {
	var errs []error

	u, err := url.Parse(c.BaseURL)
	switch {
	case c.BaseURL == "":
		errs = append(errs, errors.New("base_url is required"))
	case err != nil:
		errs = append(errs, fmt.Errorf("base_url: %w", err))
	case u.Scheme != "http" && u.Scheme != "https":
		errs = append(errs, fmt.Errorf("base_url: unsupported scheme %q", u.Scheme))
	}

	if c.APIVersion == "" {
		errs = append(errs, errors.New("api_version is required"))
	}
	if c.MaxCachedEvents <= 0 {
		errs = append(errs, errors.New("max_cached_events must be positive"))
	}
	if c.TotalTimeout <= 0 {
		errs = append(errs, errors.New("total_timeout must be positive"))
	}
	if c.InitialDelay <= 0 || c.MaxDelay < c.InitialDelay {
		errs = append(errs, errors.New("initial_delay must be positive and not exceed max_delay"))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, errors.New("max_retries must not be negative"))
	}

	return errors.Join(errs...)
}

// BackendURL is the versioned API root, e.g. http://localhost:8080/api/v1.
func (c *Config) BackendURL() string {
	return strings.TrimRight(c.BaseURL, "/") + "/api/" + c.APIVersion
}

// RetryPolicy extracts the client retry tunables.
func (c *Config) RetryPolicy() RetryPolicy {
	return RetryPolicy{
		TotalTimeout:         c.TotalTimeout,
		InitialDelay:         c.InitialDelay,
		MaxDelay:             c.MaxDelay,
		MaxRetries:           c.MaxRetries,
		BearerRefreshTimeout: c.BearerRefreshTimeout,
	}
}

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
