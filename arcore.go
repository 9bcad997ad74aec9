// Package arcore provides an active-record entity layer over a GORM-managed
// connection pool, with batched relation loading and an optional Redis row cache.
package arcore

import (
	"context"

	"github.com/ammar0144/arcore/pkg/db"
	"github.com/ammar0144/arcore/pkg/redis"
	"github.com/ammar0144/arcore/pkg/repository"
)

// Config represents database configuration
type Config = db.Config

// RedisConfig represents Redis configuration
type RedisConfig = redis.Config

// Schema describes one entity type: table, keys, casts, scopes and relations
type Schema = repository.Schema

// Model is one row of a schema's table
type Model = repository.Model

// Collection holds models under stable integer keys
type Collection = repository.Collection

// Paginator is one page of query results
type Paginator = repository.Paginator

// Repository issues the statements of one schema
type Repository = repository.Repository

// NewManager creates a new database manager
func NewManager(config *Config) (*db.Manager, error) {
	return db.NewManager(config)
}

// NewSQLiteManager opens a sqlite database file
func NewSQLiteManager(path string) (*db.Manager, error) {
	return db.NewSQLiteManager(path)
}

// NewRedisManager creates a new Redis manager
func NewRedisManager(config *RedisConfig) (*redis.Manager, error) {
	return redis.NewManager(config)
}

// NewSchema declares an entity type backed by table
func NewSchema(table string, opts ...repository.SchemaOption) *Schema {
	return repository.NewSchema(table, opts...)
}

// NewRepository creates a repository for schema.
// If redisManager is nil or disabled, operates in database-only mode;
// otherwise Find reads through the Redis row cache.
func NewRepository(dbManager *db.Manager, schema *Schema, redisManager *redis.Manager, opts ...repository.Option) *Repository {
	if redisManager != nil && redisManager.Config().Enabled {
		opts = append([]repository.Option{repository.WithRowCache(redisManager)}, opts...)
	}
	return repository.NewRepository(dbManager, schema, opts...)
}

// WithTenant returns a context carrying the tenant id read by tenant scopes
func WithTenant(ctx context.Context, tenantID any) context.Context {
	return repository.WithTenant(ctx, tenantID)
}
