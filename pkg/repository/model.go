package repository

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"time"

	"github.com/ammar0144/arcore/pkg/cast"
	"github.com/ammar0144/arcore/pkg/db"
)

// ValueKind tags what Model.Get resolved a name to
type ValueKind int

const (
	KindMissing ValueKind = iota
	KindRaw
	KindCast
	KindOne
	KindMany
)

func (k ValueKind) String() string {
	switch k {
	case KindRaw:
		return "raw"
	case KindCast:
		return "cast"
	case KindOne:
		return "one"
	case KindMany:
		return "many"
	}
	return "missing"
}

// Value is the result of Model.Get: an attribute (raw or cast) or a resolved relation
type Value struct {
	Kind ValueKind
	Attr any
	One  *Model
	Many *Collection
}

// Any returns the payload whatever its kind
func (v Value) Any() any {
	switch v.Kind {
	case KindOne:
		return v.One
	case KindMany:
		return v.Many
	}
	return v.Attr
}

// Model is one row of a schema's table
type Model struct {
	repo      *Repository
	schema    *Schema
	attrs     *AttributeStore
	exists    bool
	relations map[string]any
	synthetic map[string]struct{}
}

func newModel(repo *Repository) *Model {
	s := repo.schema
	return &Model{
		repo:      repo,
		schema:    s,
		attrs:     NewAttributeStore(s.castRegistry(), s.casts, s.defaults),
		relations: make(map[string]any),
		synthetic: make(map[string]struct{}),
	}
}

// Schema returns the model's schema
func (m *Model) Schema() *Schema { return m.schema }

// Repository returns the repository the model was created by
func (m *Model) Repository() *Repository { return m.repo }

// Attributes exposes the attribute store
func (m *Model) Attributes() *AttributeStore { return m.attrs }

// Exists reports whether the model has been loaded from or written to storage
func (m *Model) Exists() bool { return m.exists }

// IsDirty reports whether any of cols (or any column) changed since the last sync
func (m *Model) IsDirty(cols ...string) bool {
	return len(m.dirty(cols...)) > 0
}

// Dirty returns changed columns and their raw values
func (m *Model) Dirty() map[string]any {
	return m.dirty()
}

func (m *Model) dirty(cols ...string) map[string]any {
	d := m.attrs.Dirty()
	for name := range m.synthetic {
		delete(d, name)
	}
	if len(cols) > 0 {
		for name := range d {
			if !slices.Contains(cols, name) {
				delete(d, name)
			}
		}
	}
	return d
}

// Key returns the raw primary key value, nil for new models without a key
func (m *Model) Key() any {
	v, _ := m.attrs.Raw(m.schema.primaryKey)
	return v
}

// Attr returns the typed value of an attribute, nil when unset. It is lossy:
// a value that fails its cast also reads as nil. Use AttrE or Get to see the
// cast error.
func (m *Model) Attr(name string) any {
	v, _ := m.AttrE(name)
	return v
}

// AttrE returns the typed value of an attribute or the cast error
func (m *Model) AttrE(name string) (any, error) {
	v, err := m.attrs.Get(name)
	if err != nil {
		return nil, fmt.Errorf("%s: attribute %s: %w", m, name, err)
	}
	return v, nil
}

// Set assigns an attribute, uncasting it when a cast is declared
func (m *Model) Set(name string, value any) error {
	return m.attrs.Set(name, value)
}

// Fill assigns several attributes
func (m *Model) Fill(values map[string]any) error {
	names := slices.Sorted(maps.Keys(values))
	for _, name := range names {
		if err := m.attrs.Set(name, values[name]); err != nil {
			return fmt.Errorf("attribute %s: %w", name, err)
		}
	}
	return nil
}

// Get resolves name against the attributes first and the declared relations
// second. Unloaded relations are resolved lazily, subject to strict mode.
func (m *Model) Get(ctx context.Context, name string) (Value, error) {
	if m.attrs.Has(name) {
		v, err := m.attrs.Get(name)
		if err != nil {
			return Value{}, err
		}
		if _, ok := m.schema.CastFor(name); ok {
			return Value{Kind: KindCast, Attr: v}, nil
		}
		return Value{Kind: KindRaw, Attr: v}, nil
	}

	if m.schema.HasRelation(name) {
		v, err := m.Related(ctx, name)
		if err != nil {
			return Value{}, err
		}
		return relationValue(v), nil
	}

	if v, ok := m.schema.defaults[name]; ok {
		return Value{Kind: KindRaw, Attr: v}, nil
	}
	return Value{Kind: KindMissing}, nil
}

func relationValue(v any) Value {
	switch r := v.(type) {
	case *Collection:
		return Value{Kind: KindMany, Many: r}
	case *Model:
		return Value{Kind: KindOne, One: r}
	}
	return Value{Kind: KindOne}
}

// ============================================================================
// RELATIONS
// ============================================================================

// Relation returns the declared relation bound to this model
func (m *Model) Relation(name string) (*Relation, error) {
	fn, ok := m.schema.relations[name]
	if !ok {
		return nil, &UnknownRelationError{Schema: m.schema.table, Relation: name, Path: name}
	}
	rel := fn(m)
	if rel == nil {
		return nil, fmt.Errorf("relation '%s' on '%s' returned nil", name, m.schema.table)
	}
	rel.def.Name = name
	rel.parent = m
	return rel, nil
}

// Related returns a relation result, resolving and caching it on first access.
// In strict mode only eager loaded or allowed relations may be resolved here.
func (m *Model) Related(ctx context.Context, name string) (any, error) {
	if v, ok := m.relations[name]; ok {
		return v, nil
	}
	if !m.schema.HasRelation(name) {
		return nil, &UnknownRelationError{Schema: m.schema.table, Relation: name, Path: name}
	}
	if m.schema.strict && !m.schema.lazyAllowed(name) {
		return nil, &StrictModeViolationError{Relation: name}
	}

	rel, err := m.Relation(name)
	if err != nil {
		return nil, err
	}
	v, err := rel.Get(ctx)
	if err != nil {
		return nil, err
	}
	m.relations[name] = v
	return v, nil
}

// One returns a single-model relation result (nil when there is none)
func (m *Model) One(ctx context.Context, name string) (*Model, error) {
	v, err := m.Related(ctx, name)
	if err != nil {
		return nil, err
	}
	one, ok := v.(*Model)
	if !ok {
		return nil, fmt.Errorf("relation '%s' on '%s' does not resolve to a single model", name, m.schema.table)
	}
	return one, nil
}

// Many returns a collection relation result
func (m *Model) Many(ctx context.Context, name string) (*Collection, error) {
	v, err := m.Related(ctx, name)
	if err != nil {
		return nil, err
	}
	many, ok := v.(*Collection)
	if !ok {
		return nil, fmt.Errorf("relation '%s' on '%s' does not resolve to a collection", name, m.schema.table)
	}
	return many, nil
}

// SetRelation caches a relation result on the model
func (m *Model) SetRelation(name string, value any) {
	m.relations[name] = value
}

// RelationLoaded reports whether a relation result is cached
func (m *Model) RelationLoaded(name string) bool {
	_, ok := m.relations[name]
	return ok
}

// LoadedRelations returns the names of cached relations, sorted
func (m *Model) LoadedRelations() []string {
	return slices.Sorted(maps.Keys(m.relations))
}

// Unload drops cached relation results; no names drops all
func (m *Model) Unload(names ...string) {
	if len(names) == 0 {
		clear(m.relations)
		return
	}
	for _, name := range names {
		delete(m.relations, name)
	}
}

// Load eager loads relation paths onto this model, replacing cached results
func (m *Model) Load(ctx context.Context, paths ...string) error {
	return m.LoadWith(ctx, nil, paths...)
}

// LoadWith eager loads paths with per-path constraints. Constrained paths
// are loaded even when not listed in paths.
func (m *Model) LoadWith(ctx context.Context, constraints map[string]Constraint, paths ...string) error {
	tree := newEagerTree(paths, constraints)
	m.Unload(tree.order...)
	return eagerLoad(ctx, []*Model{m}, tree)
}

// LoadCount sets <relation>_count attributes
func (m *Model) LoadCount(ctx context.Context, relations ...string) error {
	return loadCounts(ctx, []*Model{m}, countRequests(relations))
}

// ============================================================================
// LIFECYCLE
// ============================================================================

// Save inserts a new model or writes the dirty columns of an existing one
func (m *Model) Save(ctx context.Context) error {
	hooks := m.schema.hooks
	if err := runHook(ctx, hooks.BeforeSave, m); err != nil {
		return err
	}

	var err error
	if m.exists {
		err = m.performUpdate(ctx)
	} else {
		err = m.performInsert(ctx)
	}
	if err != nil {
		return err
	}

	return runHook(ctx, hooks.AfterSave, m)
}

// Insert saves a model that does not exist yet
func (m *Model) Insert(ctx context.Context) error {
	if m.exists {
		return fmt.Errorf("%s: record %v already exists", m.schema.table, m.Key())
	}
	return m.Save(ctx)
}

func (m *Model) performInsert(ctx context.Context) (err error) {
	// A failed insert leaves the attributes as they were before Save
	before := m.attrs.RawAll()
	defer func() {
		if err != nil && !m.exists {
			m.attrs.restore(before)
		}
	}()

	for _, scope := range m.schema.scopes {
		if cs, ok := scope.(CreatingScope); ok {
			if err := cs.Creating(ctx, m); err != nil {
				return err
			}
		}
	}
	if err := runHook(ctx, m.schema.hooks.BeforeCreate, m); err != nil {
		return err
	}

	if m.schema.timestamps {
		now := m.repo.now()
		if v, ok := m.attrs.Raw(CreatedAtColumn); !ok || v == nil {
			if err := m.setTimestamp(CreatedAtColumn, now); err != nil {
				return err
			}
		}
		if err := m.setTimestamp(UpdatedAtColumn, now); err != nil {
			return err
		}
	}

	pk := m.schema.primaryKey
	if m.Key() == nil {
		switch {
		case m.schema.autoIncrements:
			m.attrs.forget(pk)
		case m.schema.keyGenerator != nil:
			key, err := m.schema.keyGenerator(ctx)
			if err != nil {
				return fmt.Errorf("generate key for %s: %w", m.schema.table, err)
			}
			m.attrs.SetRaw(pk, key)
		default:
			return &ManualPrimaryKeyRequiredError{Table: m.schema.table, PrimaryKey: pk}
		}
	}

	columns := m.persistentColumns()
	args := make([]any, len(columns))
	for i, col := range columns {
		args[i], _ = m.attrs.Raw(col)
	}

	query, _ := m.repo.insertBuilder(m.schema.table).BuildInsert(columns)
	res, err := m.repo.conn.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if m.schema.autoIncrements && m.Key() == nil {
		m.attrs.SetRaw(pk, res.LastInsertID)
	}

	m.exists = true
	m.attrs.Sync()
	m.repo.invalidate(ctx)
	return runHook(ctx, m.schema.hooks.AfterCreate, m)
}

func (m *Model) performUpdate(ctx context.Context) error {
	if !m.IsDirty() {
		return nil
	}
	if err := runHook(ctx, m.schema.hooks.BeforeUpdate, m); err != nil {
		return err
	}
	if m.schema.timestamps && !m.IsDirty(UpdatedAtColumn) {
		if err := m.setTimestamp(UpdatedAtColumn, m.repo.now()); err != nil {
			return err
		}
	}

	dirty := m.dirty()
	if len(dirty) == 0 {
		return nil
	}
	columns := slices.Sorted(maps.Keys(dirty))
	args := make([]any, 0, len(columns)+1)
	for _, col := range columns {
		args = append(args, dirty[col])
	}
	key, ok := m.attrs.Original(m.schema.primaryKey)
	if !ok {
		key = m.Key()
	}
	args = append(args, key)

	query, _ := db.NewBuilder(m.schema.table).BuildUpdate(columns, m.schema.primaryKey)
	if _, err := m.repo.conn.Exec(ctx, query, args...); err != nil {
		return err
	}

	m.attrs.Sync()
	m.repo.invalidate(ctx)
	return runHook(ctx, m.schema.hooks.AfterUpdate, m)
}

// Delete removes the row. Models without identity are left alone and
// report false.
func (m *Model) Delete(ctx context.Context) (bool, error) {
	if !m.exists || m.Key() == nil {
		return false, nil
	}
	if err := runHook(ctx, m.schema.hooks.BeforeDelete, m); err != nil {
		return false, err
	}

	query := db.NewBuilder(m.schema.table).BuildDelete(m.schema.primaryKey)
	res, err := m.repo.conn.Exec(ctx, query, m.Key())
	if err != nil {
		return false, err
	}

	m.exists = false
	m.repo.invalidate(ctx)
	if err := runHook(ctx, m.schema.hooks.AfterDelete, m); err != nil {
		return false, err
	}
	return res.RowsAffected > 0, nil
}

// Refresh reloads the attributes from storage, bypassing scopes, and drops
// cached relations
func (m *Model) Refresh(ctx context.Context) error {
	if !m.exists || m.Key() == nil {
		return &RecordNotFoundError{Table: m.schema.table}
	}
	b := db.NewBuilder(m.schema.table).Where(m.schema.Qualify(m.schema.primaryKey), db.Equal, m.Key()).Limit(1)
	rows, err := m.repo.selectRows(ctx, b)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return &RecordNotFoundError{Table: m.schema.table, Key: m.Key()}
	}
	m.attrs.hydrate(rows[0])
	clear(m.synthetic)
	m.Unload()
	return nil
}

// Touch bumps updated_at and saves
func (m *Model) Touch(ctx context.Context) error {
	if !m.schema.timestamps {
		return nil
	}
	if err := m.setTimestamp(UpdatedAtColumn, m.repo.now()); err != nil {
		return err
	}
	return m.Save(ctx)
}

// Clone copies the attributes of a persisted model into a new one, without
// its key, timestamps or relation results
func (m *Model) Clone() (*Model, error) {
	if !m.exists {
		return nil, &CloneOfNonExistentEntityError{}
	}
	c := newModel(m.repo)
	for _, col := range m.persistentColumns() {
		if col == m.schema.primaryKey || col == CreatedAtColumn || col == UpdatedAtColumn {
			continue
		}
		v, _ := m.attrs.Raw(col)
		c.attrs.SetRaw(col, v)
	}
	return c, nil
}

// ToMap returns the typed attributes plus loaded relations, recursively
func (m *Model) ToMap() (map[string]any, error) {
	out, err := m.attrs.All()
	if err != nil {
		return nil, err
	}
	for name, v := range m.relations {
		switch r := v.(type) {
		case *Model:
			if r == nil {
				out[name] = nil
				continue
			}
			nested, err := r.ToMap()
			if err != nil {
				return nil, err
			}
			out[name] = nested
		case *Collection:
			nested, err := r.ToMaps()
			if err != nil {
				return nil, err
			}
			out[name] = nested
		default:
			out[name] = nil
		}
	}
	return out, nil
}

func (m *Model) String() string {
	return fmt.Sprintf("%s(%v)", m.schema.table, m.Key())
}

// persistentColumns lists the set columns that belong to the table, sorted
func (m *Model) persistentColumns() []string {
	cols := m.attrs.Keys()
	out := cols[:0]
	for _, c := range cols {
		if _, ok := m.synthetic[c]; ok {
			continue
		}
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// setSynthetic stores a computed attribute (counts, pivot keys) that is never written back
func (m *Model) setSynthetic(name string, value any) {
	m.attrs.setSynced(name, value)
	m.synthetic[name] = struct{}{}
}

// setTimestamp writes t honoring a declared cast, or as a UTC datetime string
func (m *Model) setTimestamp(column string, t time.Time) error {
	if _, ok := m.schema.CastFor(column); ok {
		return m.attrs.Set(column, t)
	}
	m.attrs.SetRaw(column, t.UTC().Format(cast.DateTimeLayout))
	return nil
}

func pivotAttribute(column string) string {
	return "pivot_" + column
}
