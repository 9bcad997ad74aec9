package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

// NewDefaultManager creates a database manager with minimal configuration
func NewDefaultManager(host, database, username, password string) (*Manager, error) {
	config := &Config{
		Host:            host,
		Database:        database,
		Username:        username,
		Password:        password,
		Port:            3306,
		Charset:         "utf8mb4",
		Collation:       "utf8mb4_unicode_ci",
		TimeZone:        "UTC",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 30 * time.Minute,
		PrepareStmt:     true,
		QueryTimeout:    30 * time.Second,
	}

	return NewManager(config)
}

// ManagerOption customizes a Manager
type ManagerOption func(*Manager)

// WithLogger sets the structured logger used for query logging
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewSQLiteManager opens a sqlite database at path with sensible defaults
func NewSQLiteManager(path string, opts ...ManagerOption) (*Manager, error) {
	return NewManager(&Config{
		Driver:       DriverSQLite,
		Path:         path,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}, opts...)
}

// NewManager creates a new database manager instance with full configuration
func NewManager(config *Config, opts ...ManagerOption) (*Manager, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var dialector gorm.Dialector
	switch config.DriverName() {
	case DriverSQLite:
		dialector = sqlite.Dialector{DriverName: "sqlite", DSN: config.Path}
	default:
		dialector = mysql.Open(config.GetDSN())
	}

	return NewManagerWithDialector(config, dialector, opts...)
}

// NewManagerWithDialector creates a manager over an explicit GORM dialector.
// Useful for injecting an existing *sql.DB (for example a sqlmock pool).
func NewManagerWithDialector(config *Config, dialector gorm.Dialector, opts ...ManagerOption) (*Manager, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	logLevel := getLogLevel(config.Logging.Level)
	gormConfig := &gorm.Config{
		SkipDefaultTransaction:                   config.SkipDefaultTransaction,
		DisableForeignKeyConstraintWhenMigrating: config.DisableForeignKeyConstraintWhenMigrating,
		PrepareStmt:                              config.PrepareStmt,
		Logger:                                   logger.Default.LogMode(logLevel),
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if config.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	m := &Manager{
		config:  config,
		db:      db,
		logger:  slog.Default(),
		metrics: newQueryMetrics(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// DB returns the GORM database instance
func (m *Manager) DB() *gorm.DB {
	return m.db
}

// SqlDB returns the underlying sql.DB instance
func (m *Manager) SqlDB() (*sql.DB, error) {
	return m.db.DB()
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		sqlDB, err := m.db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

// Config returns the manager's configuration
func (m *Manager) Config() *Config {
	return m.config
}

// Driver returns the configured driver name
func (m *Manager) Driver() string {
	return m.config.DriverName()
}

// Ping tests the database connection
func (m *Manager) Ping(ctx context.Context) error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Stats returns database connection statistics
func (m *Manager) Stats() (sql.DBStats, error) {
	sqlDB, err := m.db.DB()
	if err != nil {
		return sql.DBStats{}, err
	}
	return sqlDB.Stats(), nil
}

func getLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "info":
		return logger.Info
	case "warn":
		return logger.Warn
	case "error":
		return logger.Error
	case "silent":
		return logger.Silent
	default:
		return logger.Error // Default to error
	}
}

// withQueryTimeout wraps a context with the configured query timeout
func (m *Manager) withQueryTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.config != nil && m.config.QueryTimeout > 0 {
		return context.WithTimeout(ctx, m.config.QueryTimeout)
	}
	return ctx, func() {}
}

// Select runs a read statement and returns every row as a column map
func (m *Manager) Select(ctx context.Context, query string, args ...any) ([]Row, error) {
	ctx, cancel := m.withQueryTimeout(ctx)
	defer cancel()

	start := time.Now()
	rows, err := m.db.Statement.ConnPool.QueryContext(ctx, query, args...)
	if err != nil {
		m.observe(ctx, "select", query, args, time.Since(start), err)
		return nil, fmt.Errorf("database error: %w", err)
	}
	defer rows.Close()

	result, err := scanRows(rows)
	m.observe(ctx, "select", query, args, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	return result, nil
}

// Exec runs a write statement
func (m *Manager) Exec(ctx context.Context, query string, args ...any) (Result, error) {
	ctx, cancel := m.withQueryTimeout(ctx)
	defer cancel()

	start := time.Now()
	res, err := m.db.Statement.ConnPool.ExecContext(ctx, query, args...)
	m.observe(ctx, "exec", query, args, time.Since(start), err)
	if err != nil {
		return Result{}, fmt.Errorf("database error: %w", err)
	}

	var out Result
	if n, err := res.RowsAffected(); err == nil {
		out.RowsAffected = n
	}
	if id, err := res.LastInsertId(); err == nil {
		out.LastInsertID = id
	}
	return out, nil
}

// scanRows reads every row into a map, normalizing []byte to string
func scanRows(rows *sql.Rows) ([]Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := make([]Row, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, err
		}

		row := make(Row, len(columns))
		for i, column := range columns {
			if b, ok := values[i].([]byte); ok {
				row[column] = string(b)
				continue
			}
			row[column] = values[i]
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// observe records a statement in the query log, metrics and structured log
func (m *Manager) observe(ctx context.Context, kind, query string, args []any, elapsed time.Duration, err error) {
	m.metrics.observe(kind, elapsed, err)

	m.logMu.Lock()
	if m.logEnabled {
		bindings := make([]any, len(args))
		copy(bindings, args)
		m.queryLog = append(m.queryLog, LoggedQuery{SQL: query, Bindings: bindings, Duration: elapsed})
	}
	m.logMu.Unlock()

	if m.config == nil {
		return
	}
	logging := m.config.Logging

	attrs := []any{slog.String("sql", query), slog.Duration("duration", elapsed)}
	if logging.LogQueryParameters {
		attrs = append(attrs, slog.Any("bindings", args))
	}

	switch {
	case err != nil:
		m.logger.ErrorContext(ctx, "query failed", append(attrs, slog.String("error", err.Error()))...)
	case logging.LogSlowQueries && logging.SlowQueryThreshold > 0 && elapsed >= logging.SlowQueryThreshold:
		m.logger.WarnContext(ctx, "slow query", attrs...)
	case logging.LogQueries:
		m.logger.DebugContext(ctx, "query", attrs...)
	}
}

// EnableQueryLog starts capturing every statement
func (m *Manager) EnableQueryLog() {
	m.logMu.Lock()
	defer m.logMu.Unlock()
	m.logEnabled = true
}

// DisableQueryLog stops capturing statements
func (m *Manager) DisableQueryLog() {
	m.logMu.Lock()
	defer m.logMu.Unlock()
	m.logEnabled = false
}

// QueryLog returns the captured statements
func (m *Manager) QueryLog() []LoggedQuery {
	m.logMu.Lock()
	defer m.logMu.Unlock()
	out := make([]LoggedQuery, len(m.queryLog))
	copy(out, m.queryLog)
	return out
}

// FlushQueryLog clears the captured statements
func (m *Manager) FlushQueryLog() {
	m.logMu.Lock()
	defer m.logMu.Unlock()
	m.queryLog = nil
}
