package repository

import (
	"context"
)

// RowCache is an optional shared cache for single-row lookups.
// Keys are derived from the scoped statement and its bindings, so rows cached
// for one tenant are never served to another.
type RowCache interface {
	// GetRow returns the cached row. found is true with a nil row when a
	// "not found" result was cached.
	GetRow(ctx context.Context, table, query string, args []any) (row map[string]any, found bool, err error)

	// SetRow caches a row; a nil row records a "not found" result
	SetRow(ctx context.Context, table, query string, args []any, row map[string]any) error

	// InvalidateTable drops every cached row for the table
	InvalidateTable(ctx context.Context, table string) error
}

// Hook runs at a point of a model's lifecycle. A non-nil error aborts the operation.
type Hook func(ctx context.Context, m *Model) error

// Hooks groups the lifecycle callbacks of a schema
type Hooks struct {
	BeforeSave   Hook
	AfterSave    Hook
	BeforeCreate Hook
	AfterCreate  Hook
	BeforeUpdate Hook
	AfterUpdate  Hook
	BeforeDelete Hook
	AfterDelete  Hook
}

// KeyGenerator produces primary keys for schemas that do not auto-increment
type KeyGenerator func(ctx context.Context) (any, error)

func runHook(ctx context.Context, hook Hook, m *Model) error {
	if hook == nil {
		return nil
	}
	return hook(ctx, m)
}
