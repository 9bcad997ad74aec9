package redis

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds Redis row cache configuration
type Config struct {
	Enabled      bool          `json:"enabled" yaml:"enabled"`
	KeyPrefix    string        `json:"key_prefix" yaml:"key_prefix"` // Default: arcore
	DefaultTTL   time.Duration `json:"default_ttl" yaml:"default_ttl"`
	NullCacheTTL time.Duration `json:"null_cache_ttl" yaml:"null_cache_ttl"` // Cache "not found" lookups; 0 disables

	// Redis Connection
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Password string `json:"password" yaml:"password"`
	Database int    `json:"database" yaml:"database"`

	// Connection Pool
	PoolSize     int           `json:"pool_size" yaml:"pool_size"`
	MinIdleConns int           `json:"min_idle_conns" yaml:"min_idle_conns"`
	MaxConnAge   time.Duration `json:"max_conn_age" yaml:"max_conn_age"`
	PoolTimeout  time.Duration `json:"pool_timeout" yaml:"pool_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout" yaml:"idle_timeout"`

	// Performance
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	DialTimeout  time.Duration `json:"dial_timeout" yaml:"dial_timeout"`

	// Clustering (for Redis Cluster)
	Cluster ClusterConfig `json:"cluster" yaml:"cluster"`

	// Cache Invalidation
	Invalidation InvalidationConfig `json:"invalidation" yaml:"invalidation"`

	// Cache Logging
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// ClusterConfig for Redis Cluster setup
type ClusterConfig struct {
	Enabled   bool     `json:"enabled" yaml:"enabled"`
	Addresses []string `json:"addresses" yaml:"addresses"`
	Username  string   `json:"username" yaml:"username"`
	Password  string   `json:"password" yaml:"password"`
}

// InvalidationConfig controls which keys a table write clears
type InvalidationConfig struct {
	// KeyPatterns lists extra patterns to clear when a table changes.
	// {prefix} and {table} are substituted.
	KeyPatterns map[string][]string `json:"key_patterns" yaml:"key_patterns"`

	// ScanBatchSize is the COUNT hint for SCAN during pattern invalidation
	ScanBatchSize int64 `json:"scan_batch_size" yaml:"scan_batch_size"`
}

// LoggingConfig controls Redis cache logging behavior
type LoggingConfig struct {
	LogCacheHits     bool `json:"log_cache_hits" yaml:"log_cache_hits"`
	LogCacheMisses   bool `json:"log_cache_misses" yaml:"log_cache_misses"`
	LogInvalidations bool `json:"log_invalidations" yaml:"log_invalidations"`
}

// DefaultConfig returns a Redis configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Enabled:      true,
		KeyPrefix:    defaultKeyPrefix,
		DefaultTTL:   time.Hour,
		NullCacheTTL: time.Minute,
		Host:         "localhost",
		Port:         6379,
		PoolSize:     10,
		MinIdleConns: 3,
		MaxConnAge:   time.Hour,
		PoolTimeout:  time.Second * 4,
		IdleTimeout:  time.Minute * 5,
		ReadTimeout:  time.Second * 3,
		WriteTimeout: time.Second * 3,
		DialTimeout:  time.Second * 5,
		Invalidation: InvalidationConfig{
			ScanBatchSize: 100,
		},
		Logging: LoggingConfig{
			LogCacheMisses:   true,
			LogInvalidations: true,
		},
	}
}

// LoadConfig reads a YAML file over DefaultConfig
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read redis config %s: %w", path, err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse redis config %s: %w", path, err)
	}
	return config, nil
}

// Validate checks if the Redis configuration is valid
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil // Skip validation if cache is disabled
	}

	if c.IsClusterMode() {
		if c.PoolSize < 1 {
			return fmt.Errorf("pool_size must be at least 1")
		}
	} else {
		if c.Host == "" {
			return fmt.Errorf("redis host is required when cache is enabled")
		}
		if c.Port <= 0 {
			return fmt.Errorf("redis port must be positive")
		}
	}
	if c.DefaultTTL <= 0 {
		return fmt.Errorf("default_ttl must be positive when cache is enabled")
	}
	if c.NullCacheTTL < 0 {
		return fmt.Errorf("null_cache_ttl cannot be negative")
	}
	if c.PoolSize < 1 {
		return fmt.Errorf("pool_size must be at least 1")
	}

	return nil
}

// GetAddr returns the Redis connection address
func (c *Config) GetAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsClusterMode returns true if Redis cluster is enabled
func (c *Config) IsClusterMode() bool {
	return c.Cluster.Enabled && len(c.Cluster.Addresses) > 0
}

func (c *Config) prefix() string {
	if c.KeyPrefix == "" {
		return defaultKeyPrefix
	}
	return c.KeyPrefix
}
