package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the streetdex API configuration.
type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Provider   ProviderConfig   `yaml:"provider"`
	Cache      CacheConfig      `yaml:"cache"`
	Search     SearchConfig     `yaml:"search"`
	Pagination PaginationConfig `yaml:"pagination"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int    `yaml:"port"`
	BaseURL         string `yaml:"base_url"`
	ReadTimeoutSec  int    `yaml:"read_timeout_sec"`
	WriteTimeoutSec int    `yaml:"write_timeout_sec"`
	ShutdownSec     int    `yaml:"shutdown_timeout_sec"`
}

// ProviderConfig holds address provider settings.
type ProviderConfig struct {
	BaseURL    string  `yaml:"base_url"`
	TimeoutMs  int     `yaml:"timeout_ms"`
	RatePerSec float64 `yaml:"rate_per_sec"` // 0 = unlimited
	Burst      int     `yaml:"burst"`
}

// Timeout returns the per-request provider timeout.
func (p ProviderConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutMs) * time.Millisecond
}

// CacheConfig holds result cache settings.
type CacheConfig struct {
	TTLSec           int `yaml:"ttl_sec"`
	MaxEntries       int `yaml:"max_entries"` // 0 = unbounded
	SweepIntervalSec int `yaml:"sweep_interval_sec"`
}

// SearchConfig holds lookup and session settings.
type SearchConfig struct {
	DebounceMs            int `yaml:"debounce_ms"`
	MinChars              int `yaml:"min_chars"`
	DefaultMaxResults     int `yaml:"default_max_results"`
	MaxResults            int `yaml:"max_results"`
	CandidatePool         int `yaml:"candidate_pool"`
	SessionIdleTimeoutSec int `yaml:"session_idle_timeout_sec"`
	MaxWaitMs             int `yaml:"max_wait_ms"`
}

// PaginationConfig holds street listing view settings.
type PaginationConfig struct {
	DefaultPageSize    int `yaml:"default_page_size"`
	MaxPageSize        int `yaml:"max_page_size"`
	ViewIdleTimeoutSec int `yaml:"view_idle_timeout_sec"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	return Parse(data)
}

// Parse decodes YAML config data, expanding ${VAR} references, then applies defaults
// and validates the result.
func Parse(data []byte) (Config, error) {
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 15
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.HTTP.BaseURL == "" {
		c.HTTP.BaseURL = "/api/v1"
	}

	if c.Provider.TimeoutMs <= 0 {
		c.Provider.TimeoutMs = 5000
	}
	if c.Provider.RatePerSec > 0 && c.Provider.Burst <= 0 {
		c.Provider.Burst = 1
	}

	if c.Cache.TTLSec <= 0 {
		c.Cache.TTLSec = 600
	}
	if c.Cache.SweepIntervalSec <= 0 {
		c.Cache.SweepIntervalSec = 60
	}

	if c.Search.DebounceMs <= 0 {
		c.Search.DebounceMs = 300
	}
	if c.Search.MinChars <= 0 {
		c.Search.MinChars = 3
	}
	if c.Search.DefaultMaxResults <= 0 {
		c.Search.DefaultMaxResults = 10
	}
	if c.Search.MaxResults <= 0 {
		c.Search.MaxResults = 50
	}
	if c.Search.CandidatePool <= 0 {
		c.Search.CandidatePool = 100
	}
	if c.Search.SessionIdleTimeoutSec <= 0 {
		c.Search.SessionIdleTimeoutSec = 600
	}
	if c.Search.MaxWaitMs <= 0 {
		c.Search.MaxWaitMs = 10000
	}

	if c.Pagination.DefaultPageSize <= 0 {
		c.Pagination.DefaultPageSize = 50
	}
	if c.Pagination.MaxPageSize <= 0 {
		c.Pagination.MaxPageSize = 200
	}
	if c.Pagination.ViewIdleTimeoutSec <= 0 {
		c.Pagination.ViewIdleTimeoutSec = 1800
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if !strings.HasPrefix(c.HTTP.BaseURL, "/") {
		return fmt.Errorf("http.base_url must start with /, got %q", c.HTTP.BaseURL)
	}
	if c.Provider.BaseURL == "" {
		return fmt.Errorf("provider.base_url is required")
	}
	if u, err := url.Parse(c.Provider.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("provider.base_url must be an absolute URL, got %q", c.Provider.BaseURL)
	}
	if c.Provider.RatePerSec < 0 {
		return fmt.Errorf("provider.rate_per_sec must not be negative, got %v", c.Provider.RatePerSec)
	}
	if c.Cache.MaxEntries < 0 {
		return fmt.Errorf("cache.max_entries must not be negative, got %d", c.Cache.MaxEntries)
	}
	if c.Search.DefaultMaxResults > c.Search.MaxResults {
		return fmt.Errorf(
			"search.default_max_results (%d) must not exceed search.max_results (%d)",
			c.Search.DefaultMaxResults, c.Search.MaxResults,
		)
	}
	if c.Pagination.DefaultPageSize > c.Pagination.MaxPageSize {
		return fmt.Errorf(
			"pagination.default_page_size (%d) must not exceed pagination.max_page_size (%d)",
			c.Pagination.DefaultPageSize, c.Pagination.MaxPageSize,
		)
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
