package repository

import (
	"context"
	"maps"
	"sort"

	"github.com/ammar0144/arcore/pkg/cast"
	"github.com/google/uuid"
	"github.com/jinzhu/inflection"
)

// Default column names
const (
	DefaultPrimaryKey = "id"
	CreatedAtColumn   = "created_at"
	UpdatedAtColumn   = "updated_at"
)

// RelationFunc declares a relation for a model of the schema.
// It is called with the model the relation starts from.
type RelationFunc func(m *Model) *Relation

// Schema is the configuration of one entity type: its table, keys, casts,
// scopes, hooks and the relations it declares.
// Schemas are built once at startup and treated as read-only afterwards.
type Schema struct {
	table          string
	primaryKey     string
	autoIncrements bool
	timestamps     bool
	strict         bool
	allowedLazy    map[string]struct{}
	casts          map[string]string
	defaults       map[string]any
	scopes         []Scope
	hooks          Hooks
	keyGenerator   KeyGenerator
	morphName      string
	registry       *cast.Registry
	relations      map[string]RelationFunc
}

// SchemaOption configures a Schema
type SchemaOption func(*Schema)

// NewSchema creates the configuration for an entity stored in table
func NewSchema(table string, opts ...SchemaOption) *Schema {
	s := &Schema{
		table:          table,
		primaryKey:     DefaultPrimaryKey,
		autoIncrements: true,
		allowedLazy:    make(map[string]struct{}),
		casts:          make(map[string]string),
		defaults:       make(map[string]any),
		relations:      make(map[string]RelationFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithPrimaryKey sets the primary key column
func WithPrimaryKey(column string) SchemaOption {
	return func(s *Schema) {
		s.primaryKey = column
	}
}

// WithoutAutoIncrement requires keys to be assigned before insert
func WithoutAutoIncrement() SchemaOption {
	return func(s *Schema) {
		s.autoIncrements = false
	}
}

// WithTimestamps maintains created_at and updated_at on save
func WithTimestamps() SchemaOption {
	return func(s *Schema) {
		s.timestamps = true
	}
}

// WithStrictMode forbids lazy relation loading except for the listed relations
func WithStrictMode(allowed ...string) SchemaOption {
	return func(s *Schema) {
		s.strict = true
		for _, name := range allowed {
			s.allowedLazy[name] = struct{}{}
		}
	}
}

// WithCasts declares cast tokens per column
func WithCasts(casts map[string]string) SchemaOption {
	return func(s *Schema) {
		maps.Copy(s.casts, casts)
	}
}

// WithDefaults declares values returned for columns that were never set
func WithDefaults(defaults map[string]any) SchemaOption {
	return func(s *Schema) {
		maps.Copy(s.defaults, defaults)
	}
}

// WithScopes attaches scopes, applied in order to every query of the schema
func WithScopes(scopes ...Scope) SchemaOption {
	return func(s *Schema) {
		s.scopes = append(s.scopes, scopes...)
	}
}

// WithHooks sets the lifecycle callbacks
func WithHooks(hooks Hooks) SchemaOption {
	return func(s *Schema) {
		s.hooks = hooks
	}
}

// WithKeyGenerator generates keys for inserts that have none.
// Implies WithoutAutoIncrement.
func WithKeyGenerator(gen KeyGenerator) SchemaOption {
	return func(s *Schema) {
		s.autoIncrements = false
		s.keyGenerator = gen
	}
}

// UUIDKeys generates random UUID string keys
func UUIDKeys() SchemaOption {
	return WithKeyGenerator(func(context.Context) (any, error) {
		return uuid.NewString(), nil
	})
}

// WithMorphName sets the discriminator written for this type in polymorphic relations
func WithMorphName(name string) SchemaOption {
	return func(s *Schema) {
		s.morphName = name
	}
}

// WithCastRegistry uses a registry with custom transforms instead of cast.Default()
func WithCastRegistry(r *cast.Registry) SchemaOption {
	return func(s *Schema) {
		s.registry = r
	}
}

// Relate registers a relation under name
func (s *Schema) Relate(name string, fn RelationFunc) *Schema {
	s.relations[name] = fn
	return s
}

// Table returns the table name
func (s *Schema) Table() string { return s.table }

// PrimaryKey returns the primary key column
func (s *Schema) PrimaryKey() string { return s.primaryKey }

// AutoIncrements reports whether the database generates keys
func (s *Schema) AutoIncrements() bool { return s.autoIncrements }

// Timestamps reports whether created_at and updated_at are maintained
func (s *Schema) Timestamps() bool { return s.timestamps }

// Strict reports whether lazy relation loading is restricted
func (s *Schema) Strict() bool { return s.strict }

// MorphName returns the polymorphic discriminator, defaulting to the table name
func (s *Schema) MorphName() string {
	if s.morphName != "" {
		return s.morphName
	}
	return s.table
}

// CastFor returns the cast token declared for column
func (s *Schema) CastFor(column string) (string, bool) {
	token, ok := s.casts[column]
	return token, ok
}

// HasRelation reports whether name is a declared relation
func (s *Schema) HasRelation(name string) bool {
	_, ok := s.relations[name]
	return ok
}

// Relations returns the declared relation names, sorted
func (s *Schema) Relations() []string {
	names := make([]string, 0, len(s.relations))
	for name := range s.relations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Qualify prefixes column with the table name
func (s *Schema) Qualify(column string) string {
	return s.table + "." + column
}

func (s *Schema) castRegistry() *cast.Registry {
	if s.registry != nil {
		return s.registry
	}
	return cast.Default()
}

func (s *Schema) lazyAllowed(name string) bool {
	_, ok := s.allowedLazy[name]
	return ok
}

// foreignKey is the conventional key other tables use to point at this one: project_id for projects
func (s *Schema) foreignKey() string {
	return inflection.Singular(s.table) + "_" + s.primaryKey
}
