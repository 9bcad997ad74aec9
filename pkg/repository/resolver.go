package repository

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"slices"
	"strconv"

	"github.com/ammar0144/arcore/pkg/db"
)

// Aliases used by the grouped count and through queries
const (
	aggregateColumn = "aggregate"
	groupKeyColumn  = "arcore_group_key"
	throughKey      = "arcore_through_key"
	throughParent   = "arcore_through_parent"
)

// resolution holds the related rows fetched for a batch of parents, grouped
// by the key each parent matches on
type resolution struct {
	def       Definition
	parentKey func(*Model) any
	groups    map[any][]*Model
	morph     map[string]map[any]*Model
	related   []*Model
}

// match returns the result for one parent: a *Model (possibly nil) for
// single kinds and a *Collection otherwise
func (r *resolution) match(parent *Model) any {
	if r.def.Kind == MorphToKind {
		var none *Model
		t, _ := parent.attrs.Raw(r.def.MorphType)
		id, _ := parent.attrs.Raw(r.def.ForeignKey)
		if t == nil || id == nil {
			return none
		}
		if m, ok := r.morph[morphTypeString(t)][normalizeKey(id)]; ok {
			return m
		}
		return none
	}

	var models []*Model
	if r.parentKey != nil {
		if k := r.parentKey(parent); k != nil {
			models = r.groups[k]
		}
	}
	if r.def.Kind.Single() {
		if len(models) > 0 {
			return models[0]
		}
		var none *Model
		return none
	}
	return NewCollection(models...)
}

// resolve fetches a relation for every parent with a fixed number of
// queries: one for direct kinds, two for through and pivot kinds and one per
// distinct type for morphTo. Parents without a usable key cost nothing.
func resolve(ctx context.Context, def Definition, constraints []Constraint, parents []*Model) (*resolution, error) {
	res := &resolution{
		def:    def,
		groups: make(map[any][]*Model),
		morph:  make(map[string]map[any]*Model),
	}
	if len(parents) == 0 {
		return res, nil
	}
	base := parents[0].repo

	var err error
	switch def.Kind {
	case HasOneKind, HasManyKind, MorphOneKind, MorphManyKind:
		err = res.resolveHasOneOrMany(ctx, base, constraints, parents)
	case BelongsToKind:
		err = res.resolveBelongsTo(ctx, base, constraints, parents)
	case HasManyThroughKind:
		err = res.resolveThrough(ctx, base, constraints, parents)
	case BelongsToManyKind, MorphToManyKind, MorphedByManyKind:
		err = res.resolvePivot(ctx, base, constraints, parents)
	case MorphToKind:
		err = res.resolveMorphTo(ctx, base, constraints, parents)
	default:
		err = fmt.Errorf("relation '%s' has unsupported kind %s", def.Name, def.Kind)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (r *resolution) resolveHasOneOrMany(ctx context.Context, base *Repository, constraints []Constraint, parents []*Model) error {
	def := r.def
	r.parentKey = attrKey(def.LocalKey)
	keys := parentKeys(parents, def.LocalKey)
	if len(keys) == 0 {
		return nil
	}

	repo := base.For(def.Related)
	b := repo.constrained(ctx, constraints).
		WhereIn(def.Related.Qualify(def.ForeignKey), keys)
	if def.MorphType != "" {
		b = b.Where(def.Related.Qualify(def.MorphType), db.Equal, def.MorphClass)
	}

	rows, err := repo.selectRows(ctx, b)
	if err != nil {
		return err
	}
	for _, row := range rows {
		m := repo.hydrate(row)
		k := normalizeKey(row[def.ForeignKey])
		r.groups[k] = append(r.groups[k], m)
		r.related = append(r.related, m)
	}
	return nil
}

func (r *resolution) resolveBelongsTo(ctx context.Context, base *Repository, constraints []Constraint, parents []*Model) error {
	def := r.def
	r.parentKey = attrKey(def.ForeignKey)
	keys := parentKeys(parents, def.ForeignKey)
	if len(keys) == 0 {
		return nil
	}

	repo := base.For(def.Related)
	b := repo.constrained(ctx, constraints).
		WhereIn(def.Related.Qualify(def.OwnerKey), keys)

	rows, err := repo.selectRows(ctx, b)
	if err != nil {
		return err
	}
	for _, row := range rows {
		m := repo.hydrate(row)
		k := normalizeKey(row[def.OwnerKey])
		r.groups[k] = append(r.groups[k], m)
		r.related = append(r.related, m)
	}
	return nil
}

func (r *resolution) resolveThrough(ctx context.Context, base *Repository, constraints []Constraint, parents []*Model) error {
	def := r.def
	r.parentKey = attrKey(def.LocalKey)
	keys := parentKeys(parents, def.LocalKey)
	if len(keys) == 0 {
		return nil
	}

	// First hop: intermediate rows pointing at the parents
	through := def.Through
	tb := db.NewBuilder(through.table).
		Select(
			through.Qualify(def.SecondLocalKey)+" AS "+throughKey,
			through.Qualify(def.FirstKey)+" AS "+throughParent,
		).
		WhereIn(through.Qualify(def.FirstKey), keys)
	throughRows, err := base.selectRows(ctx, tb)
	if err != nil {
		return err
	}

	owners := make(map[any][]any)
	var secondKeys []any
	for _, row := range throughRows {
		tk := normalizeKey(row[throughKey])
		if tk == nil {
			continue
		}
		if _, seen := owners[tk]; !seen {
			secondKeys = append(secondKeys, row[throughKey])
		}
		owners[tk] = append(owners[tk], normalizeKey(row[throughParent]))
	}
	if len(secondKeys) == 0 {
		return nil
	}

	// Second hop: related rows pointing at the intermediate rows
	repo := base.For(def.Related)
	b := repo.constrained(ctx, constraints).
		WhereIn(def.Related.Qualify(def.SecondKey), secondKeys)
	rows, err := repo.selectRows(ctx, b)
	if err != nil {
		return err
	}
	for _, row := range rows {
		m := repo.hydrate(row)
		for _, pk := range owners[normalizeKey(row[def.SecondKey])] {
			r.groups[pk] = append(r.groups[pk], m)
		}
		r.related = append(r.related, m)
	}
	return nil
}

func (r *resolution) resolvePivot(ctx context.Context, base *Repository, constraints []Constraint, parents []*Model) error {
	def := r.def
	r.parentKey = attrKey(def.LocalKey)
	keys := parentKeys(parents, def.LocalKey)
	if len(keys) == 0 {
		return nil
	}

	pb := pivotBuilder(def).WhereIn(def.PivotTable+"."+def.PivotForeignKey, keys)
	pivotRows, err := base.selectRows(ctx, pb)
	if err != nil {
		return err
	}

	links := make(map[any][]db.Row)
	var relatedKeys []any
	for _, row := range pivotRows {
		rk := normalizeKey(row[def.PivotRelatedKey])
		if rk == nil {
			continue
		}
		if _, seen := links[rk]; !seen {
			relatedKeys = append(relatedKeys, row[def.PivotRelatedKey])
		}
		links[rk] = append(links[rk], row)
	}
	if len(relatedKeys) == 0 {
		return nil
	}

	repo := base.For(def.Related)
	b := repo.constrained(ctx, constraints).
		WhereIn(def.Related.Qualify(def.OwnerKey), relatedKeys)
	rows, err := repo.selectRows(ctx, b)
	if err != nil {
		return err
	}

	// One model per pivot row: the same related row carries different pivot
	// attributes for each parent
	for _, row := range rows {
		for _, link := range links[normalizeKey(row[def.OwnerKey])] {
			m := repo.hydrate(row)
			for col, v := range link {
				m.setSynthetic(pivotAttribute(col), v)
			}
			pk := normalizeKey(link[def.PivotForeignKey])
			r.groups[pk] = append(r.groups[pk], m)
			r.related = append(r.related, m)
		}
	}
	return nil
}

func (r *resolution) resolveMorphTo(ctx context.Context, base *Repository, constraints []Constraint, parents []*Model) error {
	def := r.def

	idsByType := make(map[string][]any)
	seen := make(map[string]map[any]struct{})
	for _, p := range parents {
		t, _ := p.attrs.Raw(def.MorphType)
		id, _ := p.attrs.Raw(def.ForeignKey)
		if t == nil || id == nil {
			continue
		}
		ts, k := morphTypeString(t), normalizeKey(id)
		if seen[ts] == nil {
			seen[ts] = make(map[any]struct{})
		}
		if _, dup := seen[ts][k]; dup {
			continue
		}
		seen[ts][k] = struct{}{}
		idsByType[ts] = append(idsByType[ts], id)
	}

	types := make([]string, 0, len(idsByType))
	for t := range idsByType {
		types = append(types, t)
	}
	slices.Sort(types)

	for _, t := range types {
		target, ok := def.MorphMap[t]
		if !ok {
			return &UnknownMorphTypeError{Relation: def.Name, Type: t}
		}
		repo := base.For(target)
		b := repo.constrained(ctx, constraints).
			WhereIn(target.Qualify(target.primaryKey), idsByType[t])
		rows, err := repo.selectRows(ctx, b)
		if err != nil {
			return err
		}
		byKey := make(map[any]*Model, len(rows))
		for _, row := range rows {
			m := repo.hydrate(row)
			byKey[normalizeKey(row[target.primaryKey])] = m
			r.related = append(r.related, m)
		}
		r.morph[t] = byKey
	}
	return nil
}

// ============================================================================
// COUNTS
// ============================================================================

// countRelated returns the number of related rows per parent with a single
// grouped query (morphTo resolves and counts instead)
func countRelated(ctx context.Context, def Definition, constraints []Constraint, parents []*Model) (map[*Model]int64, error) {
	out := make(map[*Model]int64, len(parents))
	if len(parents) == 0 {
		return out, nil
	}

	if def.Kind == MorphToKind {
		res, err := resolve(ctx, def, constraints, parents)
		if err != nil {
			return nil, err
		}
		for _, p := range parents {
			if m, _ := res.match(p).(*Model); m != nil {
				out[p] = 1
			} else {
				out[p] = 0
			}
		}
		return out, nil
	}

	base := parents[0].repo
	localKey := def.LocalKey
	if def.Kind == BelongsToKind {
		localKey = def.ForeignKey
	}
	keys := parentKeys(parents, localKey)
	if len(keys) == 0 {
		for _, p := range parents {
			out[p] = 0
		}
		return out, nil
	}

	repo := base.For(def.Related)
	b := repo.constrained(ctx, constraints)

	var groupCol string
	switch def.Kind {
	case HasOneKind, HasManyKind, MorphOneKind, MorphManyKind:
		groupCol = def.Related.Qualify(def.ForeignKey)
		if def.MorphType != "" {
			b = b.Where(def.Related.Qualify(def.MorphType), db.Equal, def.MorphClass)
		}
	case BelongsToKind:
		groupCol = def.Related.Qualify(def.OwnerKey)
	case HasManyThroughKind:
		groupCol = def.Through.Qualify(def.FirstKey)
		b = b.InnerJoin(def.Through.table,
			def.Through.Qualify(def.SecondLocalKey)+" = "+def.Related.Qualify(def.SecondKey))
	case BelongsToManyKind, MorphToManyKind, MorphedByManyKind:
		groupCol = def.PivotTable + "." + def.PivotForeignKey
		b = b.InnerJoin(def.PivotTable,
			def.PivotTable+"."+def.PivotRelatedKey+" = "+def.Related.Qualify(def.OwnerKey))
		if def.MorphType != "" {
			b = b.Where(def.PivotTable+"."+def.MorphType, db.Equal, def.MorphClass)
		}
	default:
		return nil, fmt.Errorf("relation '%s' has unsupported kind %s", def.Name, def.Kind)
	}

	b = b.Select(groupCol+" AS "+groupKeyColumn, "COUNT(*) AS "+aggregateColumn).
		WhereIn(groupCol, keys).
		GroupBy(groupCol)

	rows, err := repo.selectRows(ctx, b)
	if err != nil {
		return nil, err
	}
	counts := make(map[any]int64, len(rows))
	for _, row := range rows {
		n, _ := asInt64(normalizeKey(row[aggregateColumn]))
		counts[normalizeKey(row[groupKeyColumn])] = n
	}

	key := attrKey(localKey)
	for _, p := range parents {
		out[p] = counts[key(p)]
	}
	return out, nil
}

// ============================================================================
// EXISTENCE SUBQUERIES
// ============================================================================

// existenceBuilder correlates b, a builder over the related table, with the
// parent table so it can be counted inside WHERE (SELECT COUNT(*) ...).
// morphTo is handled per target by the caller.
func existenceBuilder(def Definition, b *db.Builder) (*db.Builder, error) {
	parent := def.Parent

	switch def.Kind {
	case HasOneKind, HasManyKind, MorphOneKind, MorphManyKind:
		b = b.WhereColumn(def.Related.Qualify(def.ForeignKey), db.Equal, parent.Qualify(def.LocalKey))
		if def.MorphType != "" {
			b = b.Where(def.Related.Qualify(def.MorphType), db.Equal, def.MorphClass)
		}
	case BelongsToKind:
		b = b.WhereColumn(def.Related.Qualify(def.OwnerKey), db.Equal, parent.Qualify(def.ForeignKey))
	case HasManyThroughKind:
		b = b.InnerJoin(def.Through.table,
			def.Through.Qualify(def.SecondLocalKey)+" = "+def.Related.Qualify(def.SecondKey)).
			WhereColumn(def.Through.Qualify(def.FirstKey), db.Equal, parent.Qualify(def.LocalKey))
	case BelongsToManyKind, MorphToManyKind, MorphedByManyKind:
		b = b.InnerJoin(def.PivotTable,
			def.PivotTable+"."+def.PivotRelatedKey+" = "+def.Related.Qualify(def.OwnerKey)).
			WhereColumn(def.PivotTable+"."+def.PivotForeignKey, db.Equal, parent.Qualify(def.LocalKey))
		if def.MorphType != "" {
			b = b.Where(def.PivotTable+"."+def.MorphType, db.Equal, def.MorphClass)
		}
	default:
		return nil, fmt.Errorf("relation '%s' (%s) cannot be used in an existence query", def.Name, def.Kind)
	}
	return b, nil
}

// ============================================================================
// KEYS
// ============================================================================

func pivotBuilder(def Definition) *db.Builder {
	b := db.NewBuilder(def.PivotTable)
	if def.MorphType != "" {
		b = b.Where(def.PivotTable+"."+def.MorphType, db.Equal, def.MorphClass)
	}
	return b
}

func applyConstraints(b *db.Builder, constraints []Constraint) *db.Builder {
	for _, c := range constraints {
		if c != nil {
			b = c(b)
		}
	}
	return b
}

// attrKey returns a function reading the normalized value of column from a model
func attrKey(column string) func(*Model) any {
	return func(m *Model) any {
		v, _ := m.attrs.Raw(column)
		return normalizeKey(v)
	}
}

// parentKeys collects the raw values of column for binding, one per distinct
// normalized key, in encounter order
func parentKeys(parents []*Model, column string) []any {
	seen := make(map[any]struct{}, len(parents))
	keys := make([]any, 0, len(parents))
	for _, p := range parents {
		v, _ := p.attrs.Raw(column)
		k := normalizeKey(v)
		if k == nil {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, v)
	}
	return keys
}

// normalizeKey maps key values to a canonical comparable form: integers of
// every width and canonical decimal strings become int64, []byte becomes string.
// It is used for grouping only; statements bind the original values.
func normalizeKey(v any) any {
	if v == nil {
		return nil
	}
	if i, ok := asInt64(v); ok {
		return i
	}
	switch k := v.(type) {
	case []byte:
		return normalizeKey(string(k))
	case string:
		// only the canonical decimal form folds: "007" and "7" stay distinct
		if i, err := strconv.ParseInt(k, 10, 64); err == nil && strconv.FormatInt(i, 10) == k {
			return i
		}
		return k
	case float64:
		if k == math.Trunc(k) && math.Abs(k) < 1<<53 {
			return int64(k)
		}
		return k
	case float32:
		return normalizeKey(float64(k))
	}
	if !reflect.TypeOf(v).Comparable() {
		return fmt.Sprint(v)
	}
	return v
}

func morphTypeString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	}
	return fmt.Sprint(v)
}
