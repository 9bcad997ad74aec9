package repository

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"

	"github.com/ammar0144/arcore/pkg/db"
	"github.com/jinzhu/inflection"
)

// RelationKind identifies how a relation is resolved
type RelationKind int

const (
	HasOneKind RelationKind = iota + 1
	HasManyKind
	BelongsToKind
	HasManyThroughKind
	BelongsToManyKind
	MorphToKind
	MorphOneKind
	MorphManyKind
	MorphToManyKind
	MorphedByManyKind
)

var relationKindNames = map[RelationKind]string{
	HasOneKind:         "hasOne",
	HasManyKind:        "hasMany",
	BelongsToKind:      "belongsTo",
	HasManyThroughKind: "hasManyThrough",
	BelongsToManyKind:  "belongsToMany",
	MorphToKind:        "morphTo",
	MorphOneKind:       "morphOne",
	MorphManyKind:      "morphMany",
	MorphToManyKind:    "morphToMany",
	MorphedByManyKind:  "morphedByMany",
}

func (k RelationKind) String() string {
	if name, ok := relationKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("RelationKind(%d)", int(k))
}

// Single reports whether the relation resolves to at most one model
func (k RelationKind) Single() bool {
	switch k {
	case HasOneKind, BelongsToKind, MorphToKind, MorphOneKind:
		return true
	}
	return false
}

// UsesPivot reports whether the relation goes through a pivot table
func (k RelationKind) UsesPivot() bool {
	switch k {
	case BelongsToManyKind, MorphToManyKind, MorphedByManyKind:
		return true
	}
	return false
}

// Definition describes one relation. Which fields are used depends on Kind:
//
//	hasOne, hasMany        LocalKey (parent) = ForeignKey (related)
//	belongsTo              ForeignKey (parent) = OwnerKey (related)
//	hasManyThrough         LocalKey (parent) = FirstKey (through),
//	                       SecondLocalKey (through) = SecondKey (related)
//	pivot kinds            LocalKey (parent) = PivotForeignKey,
//	                       PivotRelatedKey = OwnerKey (related)
//	morphTo                ForeignKey + MorphType (parent) = key of MorphMap[type]
//	morphOne, morphMany    LocalKey (parent) = ForeignKey + MorphType (related)
//
// MorphClass is the discriminator value matched against MorphType.
type Definition struct {
	Kind    RelationKind
	Name    string
	Parent  *Schema
	Related *Schema

	LocalKey   string
	ForeignKey string
	OwnerKey   string

	Through        *Schema
	FirstKey       string
	SecondKey      string
	SecondLocalKey string

	PivotTable      string
	PivotForeignKey string
	PivotRelatedKey string

	MorphType  string
	MorphClass string
	MorphMap   map[string]*Schema
}

// Constraint narrows the query of a relation level
type Constraint func(b *db.Builder) *db.Builder

// Relation is a relation definition bound to the model it starts from, plus
// any constraints. Constraint methods return a new Relation.
type Relation struct {
	def         Definition
	parent      *Model
	constraints []Constraint
}

// Definition returns the relation metadata
func (r *Relation) Definition() Definition {
	return r.def
}

// Parent returns the model the relation starts from
func (r *Relation) Parent() *Model {
	return r.parent
}

func (r *Relation) with(c Constraint) *Relation {
	out := *r
	out.constraints = append(slices.Clone(r.constraints), c)
	return &out
}

// Constrain adds an arbitrary constraint
func (r *Relation) Constrain(c Constraint) *Relation {
	return r.with(c)
}

// Where adds a where clause on the related table
func (r *Relation) Where(field string, op db.Operator, value any) *Relation {
	return r.with(func(b *db.Builder) *db.Builder { return b.Where(field, op, value) })
}

// WhereIn adds a where-in clause on the related table
func (r *Relation) WhereIn(field string, values any) *Relation {
	return r.with(func(b *db.Builder) *db.Builder { return b.WhereIn(field, values) })
}

// OrderBy orders the related rows
func (r *Relation) OrderBy(field string, desc bool) *Relation {
	return r.with(func(b *db.Builder) *db.Builder { return b.OrderBy(field, desc) })
}

// Limit caps the number of related rows fetched in total (not per parent)
func (r *Relation) Limit(n int) *Relation {
	return r.with(func(b *db.Builder) *db.Builder { return b.Limit(n) })
}

// Get executes the relation for its parent without caching the result on
// the parent. It returns a *Model (possibly nil) for single kinds and a
// *Collection otherwise.
func (r *Relation) Get(ctx context.Context) (any, error) {
	res, err := resolve(ctx, r.def, r.constraints, []*Model{r.parent})
	if err != nil {
		return nil, err
	}
	return res.match(r.parent), nil
}

// One executes a single-result relation
func (r *Relation) One(ctx context.Context) (*Model, error) {
	v, err := r.Get(ctx)
	if err != nil {
		return nil, err
	}
	m, ok := v.(*Model)
	if !ok {
		return nil, fmt.Errorf("relation '%s' (%s) does not resolve to a single model", r.def.Name, r.def.Kind)
	}
	return m, nil
}

// Many executes a collection relation
func (r *Relation) Many(ctx context.Context) (*Collection, error) {
	v, err := r.Get(ctx)
	if err != nil {
		return nil, err
	}
	c, ok := v.(*Collection)
	if !ok {
		return nil, fmt.Errorf("relation '%s' (%s) does not resolve to a collection", r.def.Name, r.def.Kind)
	}
	return c, nil
}

// ============================================================================
// DECLARATION HELPERS - called from RelationFuncs
// ============================================================================

func (m *Model) relation(def Definition) *Relation {
	def.Parent = m.schema
	return &Relation{def: def, parent: m}
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// HasOne declares a one-to-one relation where related holds the foreign key.
// Empty keys default to <singular parent table>_id and the parent primary key.
func (m *Model) HasOne(related *Schema, foreignKey, localKey string) *Relation {
	return m.relation(Definition{
		Kind:       HasOneKind,
		Related:    related,
		ForeignKey: orDefault(foreignKey, m.schema.foreignKey()),
		LocalKey:   orDefault(localKey, m.schema.primaryKey),
	})
}

// HasMany declares a one-to-many relation where related holds the foreign key
func (m *Model) HasMany(related *Schema, foreignKey, localKey string) *Relation {
	return m.relation(Definition{
		Kind:       HasManyKind,
		Related:    related,
		ForeignKey: orDefault(foreignKey, m.schema.foreignKey()),
		LocalKey:   orDefault(localKey, m.schema.primaryKey),
	})
}

// BelongsTo declares the inverse of HasOne/HasMany: this table holds the foreign key.
// Empty keys default to <singular related table>_id and the related primary key.
func (m *Model) BelongsTo(related *Schema, foreignKey, ownerKey string) *Relation {
	return m.relation(Definition{
		Kind:       BelongsToKind,
		Related:    related,
		ForeignKey: orDefault(foreignKey, related.foreignKey()),
		OwnerKey:   orDefault(ownerKey, related.primaryKey),
	})
}

// HasManyThrough reaches related rows through an intermediate table.
// firstKey is the through table's key to the parent, secondKey the related
// table's key to the through table.
func (m *Model) HasManyThrough(related, through *Schema, firstKey, secondKey string) *Relation {
	return m.relation(Definition{
		Kind:           HasManyThroughKind,
		Related:        related,
		Through:        through,
		FirstKey:       orDefault(firstKey, m.schema.foreignKey()),
		SecondKey:      orDefault(secondKey, through.foreignKey()),
		LocalKey:       m.schema.primaryKey,
		SecondLocalKey: through.primaryKey,
	})
}

// BelongsToMany declares a many-to-many relation through a pivot table.
// The pivot table defaults to both singular table names joined in
// alphabetical order (project_user).
func (m *Model) BelongsToMany(related *Schema, pivotTable, foreignPivotKey, relatedPivotKey string) *Relation {
	if pivotTable == "" {
		names := []string{inflection.Singular(m.schema.table), inflection.Singular(related.table)}
		sort.Strings(names)
		pivotTable = names[0] + "_" + names[1]
	}
	return m.relation(Definition{
		Kind:            BelongsToManyKind,
		Related:         related,
		PivotTable:      pivotTable,
		PivotForeignKey: orDefault(foreignPivotKey, m.schema.foreignKey()),
		PivotRelatedKey: orDefault(relatedPivotKey, related.foreignKey()),
		LocalKey:        m.schema.primaryKey,
		OwnerKey:        related.primaryKey,
	})
}

// MorphTo declares the owning side of a polymorphic relation. The parent table
// holds <name>_type and <name>_id; targets are matched by their MorphName.
func (m *Model) MorphTo(name string, targets ...*Schema) *Relation {
	morphMap := make(map[string]*Schema, len(targets))
	for _, t := range targets {
		morphMap[t.MorphName()] = t
	}
	return m.relation(Definition{
		Kind:       MorphToKind,
		ForeignKey: name + "_id",
		MorphType:  name + "_type",
		MorphMap:   morphMap,
	})
}

// MorphOne declares a polymorphic one-to-one relation; related holds <name>_id and <name>_type
func (m *Model) MorphOne(related *Schema, name string) *Relation {
	return m.relation(Definition{
		Kind:       MorphOneKind,
		Related:    related,
		ForeignKey: name + "_id",
		MorphType:  name + "_type",
		MorphClass: m.schema.MorphName(),
		LocalKey:   m.schema.primaryKey,
	})
}

// MorphMany declares a polymorphic one-to-many relation
func (m *Model) MorphMany(related *Schema, name string) *Relation {
	return m.relation(Definition{
		Kind:       MorphManyKind,
		Related:    related,
		ForeignKey: name + "_id",
		MorphType:  name + "_type",
		MorphClass: m.schema.MorphName(),
		LocalKey:   m.schema.primaryKey,
	})
}

// MorphToMany declares a polymorphic many-to-many relation from the morphed
// side (posts -> tags through taggables). The pivot table defaults to the
// plural of name.
func (m *Model) MorphToMany(related *Schema, name, pivotTable string) *Relation {
	return m.relation(Definition{
		Kind:            MorphToManyKind,
		Related:         related,
		PivotTable:      orDefault(pivotTable, inflection.Plural(name)),
		PivotForeignKey: name + "_id",
		PivotRelatedKey: related.foreignKey(),
		MorphType:       name + "_type",
		MorphClass:      m.schema.MorphName(),
		LocalKey:        m.schema.primaryKey,
		OwnerKey:        related.primaryKey,
	})
}

// MorphedByMany declares the inverse of MorphToMany (tags -> posts through taggables)
func (m *Model) MorphedByMany(related *Schema, name, pivotTable string) *Relation {
	return m.relation(Definition{
		Kind:            MorphedByManyKind,
		Related:         related,
		PivotTable:      orDefault(pivotTable, inflection.Plural(name)),
		PivotForeignKey: m.schema.foreignKey(),
		PivotRelatedKey: name + "_id",
		MorphType:       name + "_type",
		MorphClass:      related.MorphName(),
		LocalKey:        m.schema.primaryKey,
		OwnerKey:        related.primaryKey,
	})
}

// morphTargets returns the morph map in discriminator order
func (d Definition) morphTargets() []string {
	return slices.Sorted(maps.Keys(d.MorphMap))
}
