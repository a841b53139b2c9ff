// Package config holds the database configuration, loaded from YAML with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete configuration of a database connection and the
// CLI around it
type Config struct {
	Storage    StorageConfig    `yaml:"storage"`
	Log        LogConfig        `yaml:"log"`
	Query      QueryConfig      `yaml:"query"`
	Transactor TransactorConfig `yaml:"transactor"`
}

// StorageConfig selects the fact log backend
type StorageConfig struct {
	Backend string `yaml:"backend"` // memory, badger, sqlite
	Path    string `yaml:"path"`
}

// LogConfig configures zap
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// QueryConfig configures the query engine
type QueryConfig struct {
	Timeout     time.Duration `yaml:"timeout"` // 0 means no timeout
	CacheSize   int           `yaml:"cache_size"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
	Parallel    bool          `yaml:"parallel"`
	Workers     int           `yaml:"workers"`
	MaxRuleIter int           `yaml:"max_rule_iterations"`
}

// TransactorConfig configures the writer
type TransactorConfig struct {
	QueueSize       int    `yaml:"queue_size"`       // pending transaction requests
	SubscriberQueue int    `yaml:"subscriber_queue"` // default report queue size
	Overflow        string `yaml:"overflow"`         // drop-oldest or block
	FnSecret        string `yaml:"fn_secret"`
	MaxFnDepth      int    `yaml:"max_fn_depth"`
}

// Overflow policies
const (
	OverflowDropOldest = "drop-oldest"
	OverflowBlock      = "block"
)

var validBackends = []string{"memory", "badger", "sqlite"}
var validLevels = []string{"debug", "info", "warn", "error"}

// DefaultConfig returns the configuration used when no file is given
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{Backend: "memory"},
		Log:     LogConfig{Level: "info", Format: "console"},
		Query: QueryConfig{
			Timeout:     30 * time.Second,
			CacheSize:   256,
			CacheTTL:    10 * time.Minute,
			Parallel:    true,
			Workers:     4,
			MaxRuleIter: 10000,
		},
		Transactor: TransactorConfig{
			QueueSize:       64,
			SubscriberQueue: 128,
			Overflow:        OverflowDropOldest,
			MaxFnDepth:      32,
		},
	}
}

// LoadConfig loads configuration from a YAML file. A missing file yields
// the defaults. Environment overrides are applied last.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("FACTDB_DB_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("FACTDB_BACKEND"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("FACTDB_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("FACTDB_QUERY_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid FACTDB_QUERY_TIMEOUT: %w", err)
		}
		c.Query.Timeout = d
	}
	if v := os.Getenv("FACTDB_FN_SECRET"); v != "" {
		c.Transactor.FnSecret = v
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if !contains(validBackends, c.Storage.Backend) {
		return fmt.Errorf("invalid storage backend: %s (valid: %v)", c.Storage.Backend, validBackends)
	}
	if c.Storage.Backend != "memory" && c.Storage.Path == "" {
		return fmt.Errorf("storage backend %s needs a path", c.Storage.Backend)
	}
	if !contains(validLevels, c.Log.Level) {
		return fmt.Errorf("invalid log level: %s (valid: %v)", c.Log.Level, validLevels)
	}
	if c.Query.Timeout < 0 {
		return fmt.Errorf("query timeout must not be negative")
	}
	if c.Query.Workers < 1 {
		return fmt.Errorf("query workers must be at least 1")
	}
	if c.Transactor.QueueSize < 1 || c.Transactor.SubscriberQueue < 1 {
		return fmt.Errorf("transactor queue sizes must be at least 1")
	}
	if c.Transactor.Overflow != OverflowDropOldest && c.Transactor.Overflow != OverflowBlock {
		return fmt.Errorf("invalid overflow policy: %s (valid: %s, %s)", c.Transactor.Overflow, OverflowDropOldest, OverflowBlock)
	}
	if c.Transactor.MaxFnDepth < 1 {
		return fmt.Errorf("max_fn_depth must be at least 1")
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
