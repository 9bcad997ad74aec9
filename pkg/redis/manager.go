package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache key constants for consistent key generation
const (
	defaultKeyPrefix  = "arcore"
	cacheKeySeparator = ":"
	cacheFindSegment  = "find"
)

// Manager manages Redis connections and cache operations
type Manager struct {
	config  *Config
	client  redis.UniversalClient
	logger  *slog.Logger
	metrics *Metrics
}

// Option customizes a Manager
type Option func(*Manager)

// WithLogger sets the structured logger for cache events
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClient uses an existing client instead of dialing from the config
func WithClient(client redis.UniversalClient) Option {
	return func(m *Manager) {
		m.client = client
	}
}

// NewManager creates a new Redis cache manager
func NewManager(config *Config, opts ...Option) (*Manager, error) {
	if config == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid redis config: %w", err)
	}

	manager := &Manager{
		config:  config,
		logger:  slog.Default(),
		metrics: NewMetrics(),
	}
	for _, opt := range opts {
		opt(manager)
	}

	if manager.client == nil {
		manager.initializeClient()
	}
	return manager, nil
}

// initializeClient sets up the Redis client based on configuration
func (m *Manager) initializeClient() {
	if !m.config.Enabled {
		return
	}

	if m.config.IsClusterMode() {
		m.client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:           m.config.Cluster.Addresses,
			Username:        m.config.Cluster.Username,
			Password:        m.config.Cluster.Password,
			PoolSize:        m.config.PoolSize,
			MinIdleConns:    m.config.MinIdleConns,
			ConnMaxLifetime: m.config.MaxConnAge,
			PoolTimeout:     m.config.PoolTimeout,
			ConnMaxIdleTime: m.config.IdleTimeout,
			ReadTimeout:     m.config.ReadTimeout,
			WriteTimeout:    m.config.WriteTimeout,
			DialTimeout:     m.config.DialTimeout,
		})
		return
	}

	m.client = redis.NewClient(&redis.Options{
		Addr:            m.config.GetAddr(),
		Password:        m.config.Password,
		DB:              m.config.Database,
		PoolSize:        m.config.PoolSize,
		MinIdleConns:    m.config.MinIdleConns,
		ConnMaxLifetime: m.config.MaxConnAge,
		PoolTimeout:     m.config.PoolTimeout,
		ConnMaxIdleTime: m.config.IdleTimeout,
		ReadTimeout:     m.config.ReadTimeout,
		WriteTimeout:    m.config.WriteTimeout,
		DialTimeout:     m.config.DialTimeout,
	})
}

// Config returns the manager's configuration
func (m *Manager) Config() *Config {
	return m.config
}

// Close closes the Redis connection
func (m *Manager) Close() error {
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}

// Ping tests the Redis connection.
// A disabled cache is a valid state and pings successfully.
func (m *Manager) Ping(ctx context.Context) error {
	if !m.config.Enabled {
		return nil
	}
	if m.client == nil {
		return ErrClientNotInitialized
	}
	if err := m.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	return nil
}

// checkClient validates that cache is enabled and client is initialized
func (m *Manager) checkClient() error {
	if !m.config.Enabled {
		return ErrCacheDisabled
	}
	if m.client == nil {
		return ErrClientNotInitialized
	}
	return nil
}

// Get retrieves a value from cache
func (m *Manager) Get(ctx context.Context, key string) ([]byte, error) {
	if err := m.checkClient(); err != nil {
		return nil, err
	}

	start := time.Now()
	data, err := m.client.Get(ctx, key).Bytes()
	m.metrics.reads.observe(time.Since(start))

	if errors.Is(err, redis.Nil) {
		m.metrics.miss()
		return nil, ErrKeyNotFound
	}
	if err != nil {
		m.metrics.failure()
		return nil, &OpError{Op: "get", Key: key, Err: err}
	}
	return data, nil
}

// Set stores a value in cache with the default TTL
func (m *Manager) Set(ctx context.Context, key string, value []byte) error {
	return m.SetWithTTL(ctx, key, value, m.config.DefaultTTL)
}

// SetWithTTL stores a value in cache with custom TTL
func (m *Manager) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := m.checkClient(); err != nil {
		return err
	}

	start := time.Now()
	err := m.client.Set(ctx, key, value, ttl).Err()
	m.metrics.writes.observe(time.Since(start))
	if err != nil {
		m.metrics.failure()
		return &OpError{Op: "set", Key: key, Err: err}
	}
	return nil
}

// Delete removes keys from cache
func (m *Manager) Delete(ctx context.Context, keys ...string) error {
	if err := m.checkClient(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	start := time.Now()
	err := m.client.Del(ctx, keys...).Err()
	m.metrics.deletes.observe(time.Since(start))
	if err != nil {
		m.metrics.failure()
		return &OpError{Op: "del", Key: strings.Join(keys, " "), Err: err}
	}
	return nil
}

// Exists reports whether a key is present
func (m *Manager) Exists(ctx context.Context, key string) (bool, error) {
	if err := m.checkClient(); err != nil {
		return false, err
	}
	n, err := m.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// InvalidatePattern removes keys matching a pattern using SCAN instead of KEYS.
// SCAN does not block the server the way KEYS does.
func (m *Manager) InvalidatePattern(ctx context.Context, pattern string) (int, error) {
	if err := m.checkClient(); err != nil {
		return 0, err
	}

	batchSize := m.config.Invalidation.ScanBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	var cursor uint64
	removed := 0
	for {
		batch, next, err := m.client.Scan(ctx, cursor, pattern, batchSize).Result()
		if err != nil {
			return removed, &OpError{Op: "scan", Key: pattern, Err: err}
		}

		if len(batch) > 0 {
			start := time.Now()
			err := m.client.Del(ctx, batch...).Err()
			m.metrics.deletes.observe(time.Since(start))
			if err != nil {
				return removed, &OpError{Op: "del", Key: pattern, Err: err}
			}
			removed += len(batch)
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	m.metrics.invalidated(removed)
	return removed, nil
}

// tablePatterns returns every pattern cleared when a table changes
func (m *Manager) tablePatterns(table string) []string {
	prefix := m.config.prefix()
	patterns := []string{
		strings.Join([]string{prefix, table, "*"}, cacheKeySeparator),
	}

	for _, custom := range m.config.Invalidation.KeyPatterns[table] {
		pattern := strings.ReplaceAll(custom, "{prefix}", prefix)
		pattern = strings.ReplaceAll(pattern, "{table}", table)
		patterns = append(patterns, pattern)
	}
	return patterns
}

// Stats returns a snapshot of the row cache counters
func (m *Manager) Stats() Stats {
	return m.metrics.Snapshot()
}

// ResetStats zeroes the row cache counters
func (m *Manager) ResetStats() {
	m.metrics.Reset()
}
