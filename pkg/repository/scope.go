package repository

import (
	"context"

	"github.com/ammar0144/arcore/pkg/db"
)

// Scope constrains every query a schema issues.
// Scopes run in declaration order before any caller conditions.
type Scope interface {
	Apply(ctx context.Context, b *db.Builder) *db.Builder
}

// CreatingScope is a Scope that also prepares models before insert
type CreatingScope interface {
	Scope
	Creating(ctx context.Context, m *Model) error
}

// ScopeFunc adapts a function to the Scope interface
type ScopeFunc func(ctx context.Context, b *db.Builder) *db.Builder

// Apply implements Scope
func (f ScopeFunc) Apply(ctx context.Context, b *db.Builder) *db.Builder {
	return f(ctx, b)
}

type tenantKey struct{}

// WithTenant returns a context carrying the current tenant id
func WithTenant(ctx context.Context, tenantID any) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenantID)
}

// TenantFromContext returns the tenant id carried by ctx
func TenantFromContext(ctx context.Context) (any, bool) {
	id := ctx.Value(tenantKey{})
	return id, id != nil
}

// TenantScope filters reads by the tenant in the context and stamps it on
// inserts. Without a tenant in the context reads match nothing.
type TenantScope struct {
	Column string
}

// NewTenantScope scopes on column, tenant_id when empty
func NewTenantScope(column string) TenantScope {
	if column == "" {
		column = "tenant_id"
	}
	return TenantScope{Column: column}
}

// Apply implements Scope
func (s TenantScope) Apply(ctx context.Context, b *db.Builder) *db.Builder {
	id, ok := TenantFromContext(ctx)
	if !ok {
		return b.WhereRaw("1 = 0")
	}
	return b.Where(b.Table()+"."+s.Column, db.Equal, id)
}

// Creating implements CreatingScope; an explicitly set tenant is kept
func (s TenantScope) Creating(ctx context.Context, m *Model) error {
	if v, ok := m.attrs.Raw(s.Column); ok && v != nil {
		return nil
	}
	id, ok := TenantFromContext(ctx)
	if !ok {
		return nil
	}
	return m.Set(s.Column, id)
}
