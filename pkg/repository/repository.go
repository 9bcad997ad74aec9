package repository

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/ammar0144/arcore/pkg/db"
)

// Repository issues the statements of one schema through a db.Connection,
// optionally fronted by a shared RowCache for primary key lookups
type Repository struct {
	conn   db.Connection
	schema *Schema
	cache  RowCache
	logger *slog.Logger
	clock  func() time.Time
}

// Option configures a Repository
type Option func(*Repository)

// WithRowCache fronts Find with a shared row cache
func WithRowCache(cache RowCache) Option {
	return func(r *Repository) {
		r.cache = cache
	}
}

// WithLogger sets the logger used for cache diagnostics
func WithLogger(logger *slog.Logger) Option {
	return func(r *Repository) {
		r.logger = logger
	}
}

// WithClock overrides the clock used for timestamps
func WithClock(clock func() time.Time) Option {
	return func(r *Repository) {
		r.clock = clock
	}
}

// NewRepository creates a repository for schema on conn
func NewRepository(conn db.Connection, schema *Schema, opts ...Option) *Repository {
	r := &Repository{conn: conn, schema: schema}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.clock == nil {
		r.clock = time.Now
	}
	return r
}

// For returns a repository for another schema sharing this one's connection,
// cache, logger and clock
func (r *Repository) For(schema *Schema) *Repository {
	if schema == r.schema {
		return r
	}
	out := *r
	out.schema = schema
	return &out
}

// Schema returns the repository's schema
func (r *Repository) Schema() *Schema {
	return r.schema
}

// Connection returns the underlying connection
func (r *Repository) Connection() db.Connection {
	return r.conn
}

// New returns an unsaved model filled with attrs
func (r *Repository) New(attrs map[string]any) (*Model, error) {
	m := newModel(r)
	if err := m.Fill(attrs); err != nil {
		return nil, err
	}
	return m, nil
}

// Create fills a new model and saves it
func (r *Repository) Create(ctx context.Context, attrs map[string]any) (*Model, error) {
	m, err := r.New(attrs)
	if err != nil {
		return nil, err
	}
	if err := m.Save(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// Insert writes raw rows directly, one statement per row. Hooks, scopes and
// timestamps are skipped.
func (r *Repository) Insert(ctx context.Context, rows ...map[string]any) (int64, error) {
	var total int64
	for _, row := range rows {
		cols := sortedKeys(row)
		query, _ := r.insertBuilder(r.schema.table).BuildInsert(cols)
		args := make([]any, len(cols))
		for i, c := range cols {
			args[i] = row[c]
		}
		res, err := r.conn.Exec(ctx, query, args...)
		if err != nil {
			return total, fmt.Errorf("insert into %s: %w", r.schema.table, err)
		}
		total += res.RowsAffected
	}
	if len(rows) > 0 {
		r.invalidate(ctx)
	}
	return total, nil
}

// Query starts a query with the schema's scopes applied for ctx
func (r *Repository) Query(ctx context.Context) *Query {
	return newQuery(r, r.scopedBuilder(ctx), ctx)
}

// QueryWithoutScopes starts a query that bypasses every scope
func (r *Repository) QueryWithoutScopes() *Query {
	return newQuery(r, nil, context.Background())
}

// Find returns the model with the given key or a *RecordNotFoundError
func (r *Repository) Find(ctx context.Context, id any) (*Model, error) {
	return r.Query(ctx).Find(ctx, id)
}

// FindMany returns the models with the given keys, in storage order
func (r *Repository) FindMany(ctx context.Context, ids ...any) (*Collection, error) {
	return r.Query(ctx).FindMany(ctx, ids...)
}

// All returns every visible row
func (r *Repository) All(ctx context.Context) (*Collection, error) {
	return r.Query(ctx).Get(ctx)
}

// ============================================================================
// INTERNALS
// ============================================================================

func (r *Repository) now() time.Time {
	return r.clock()
}

// insertBuilder targets table with the connection's driver when it reports one
func (r *Repository) insertBuilder(table string) *db.Builder {
	b := db.NewBuilder(table)
	if d, ok := r.conn.(interface{ Driver() string }); ok {
		b = b.ForDriver(d.Driver())
	}
	return b
}

func (r *Repository) scopedBuilder(ctx context.Context) *db.Builder {
	b := db.NewBuilder(r.schema.table)
	for _, s := range r.schema.scopes {
		b = s.Apply(ctx, b)
	}
	return b
}

// constrained applies constraints to a bare builder and ANDs the schema's
// scopes in front, so constraints using OrWhere cannot widen the scope
func (r *Repository) constrained(ctx context.Context, constraints []Constraint) *db.Builder {
	return applyConstraints(db.NewBuilder(r.schema.table), constraints).ScopedBy(r.scopedBuilder(ctx))
}

func (r *Repository) selectRows(ctx context.Context, b *db.Builder) ([]db.Row, error) {
	query, args := b.BuildSelect()
	return r.conn.Select(ctx, query, args...)
}

func (r *Repository) hydrate(row db.Row) *Model {
	m := newModel(r)
	m.attrs.hydrate(row)
	m.exists = true
	return m
}

func (r *Repository) hydrateAll(rows []db.Row) *Collection {
	c := NewCollection()
	for _, row := range rows {
		c.Push(r.hydrate(row))
	}
	return c
}

// invalidate drops cached rows of the table; cache failures are logged, never returned
func (r *Repository) invalidate(ctx context.Context) {
	if r.cache == nil {
		return
	}
	if err := r.cache.InvalidateTable(ctx, r.schema.table); err != nil {
		r.logger.Warn("row cache invalidation failed",
			"table", r.schema.table,
			"error", err,
		)
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
