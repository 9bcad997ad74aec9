package repository

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/ammar0144/arcore/pkg/db"
)

const pluckColumn = "arcore_pluck"

// Query is an immutable query over one schema. Every method returns a new
// Query; execution methods take the context the statements run under.
type Query struct {
	repo    *Repository
	scope   *db.Builder
	builder *db.Builder

	// scopeCtx is the context the scopes were resolved with; related scopes
	// inside has() subqueries use it too
	scopeCtx context.Context

	eager       []string
	constraints map[string]Constraint
	counts      []countRequest
	ordered     bool
	err         error
}

func newQuery(repo *Repository, scope *db.Builder, scopeCtx context.Context) *Query {
	return &Query{
		repo:        repo,
		scope:       scope,
		builder:     db.NewBuilder(repo.schema.table),
		scopeCtx:    scopeCtx,
		constraints: make(map[string]Constraint),
	}
}

func (q *Query) clone() *Query {
	out := *q
	out.eager = slices.Clone(q.eager)
	out.constraints = maps.Clone(q.constraints)
	out.counts = slices.Clone(q.counts)
	return &out
}

func (q *Query) with(fn func(b *db.Builder) *db.Builder) *Query {
	out := q.clone()
	out.builder = fn(out.builder)
	return out
}

// final merges the scopes in front of the caller's conditions
func (q *Query) final() *db.Builder {
	return q.builder.ScopedBy(q.scope)
}

// ============================================================================
// CONDITIONS
// ============================================================================

// Where adds field op value
func (q *Query) Where(field string, op db.Operator, value any) *Query {
	return q.with(func(b *db.Builder) *db.Builder { return b.Where(field, op, value) })
}

// OrWhere ORs a condition with everything the caller added so far.
// Scopes stay ANDed in front.
func (q *Query) OrWhere(field string, op db.Operator, value any) *Query {
	return q.with(func(b *db.Builder) *db.Builder { return b.OrWhere(field, op, value) })
}

// WhereIn adds field IN (values); an empty list matches nothing
func (q *Query) WhereIn(field string, values any) *Query {
	return q.with(func(b *db.Builder) *db.Builder { return b.WhereIn(field, values) })
}

// WhereNotIn adds field NOT IN (values)
func (q *Query) WhereNotIn(field string, values any) *Query {
	return q.with(func(b *db.Builder) *db.Builder { return b.WhereNotIn(field, values) })
}

// WhereNull adds field IS NULL
func (q *Query) WhereNull(field string) *Query {
	return q.with(func(b *db.Builder) *db.Builder { return b.WhereNull(field) })
}

// WhereNotNull adds field IS NOT NULL
func (q *Query) WhereNotNull(field string) *Query {
	return q.with(func(b *db.Builder) *db.Builder { return b.WhereNotNull(field) })
}

// WhereRaw adds a SQL fragment with bindings
func (q *Query) WhereRaw(sql string, args ...any) *Query {
	return q.with(func(b *db.Builder) *db.Builder { return b.WhereRaw(sql, args...) })
}

// OrderBy orders the results
func (q *Query) OrderBy(field string, desc bool) *Query {
	out := q.with(func(b *db.Builder) *db.Builder { return b.OrderBy(field, desc) })
	out.ordered = true
	return out
}

// Latest orders by column descending, created_at when omitted
func (q *Query) Latest(column ...string) *Query {
	col := CreatedAtColumn
	if len(column) > 0 && column[0] != "" {
		col = column[0]
	}
	return q.OrderBy(col, true)
}

// Limit caps the number of rows
func (q *Query) Limit(n int) *Query {
	return q.with(func(b *db.Builder) *db.Builder { return b.Limit(n) })
}

// Offset skips rows
func (q *Query) Offset(n int) *Query {
	return q.with(func(b *db.Builder) *db.Builder { return b.Offset(n) })
}

// ============================================================================
// EAGER LOADING
// ============================================================================

// With eager loads dot separated relation paths
func (q *Query) With(paths ...string) *Query {
	out := q.clone()
	out.eager = append(out.eager, paths...)
	return out
}

// WithFunc eager loads path, narrowing its last level with constraint
func (q *Query) WithFunc(path string, constraint Constraint) *Query {
	out := q.clone()
	out.eager = append(out.eager, path)
	out.constraints[path] = constraint
	return out
}

// WithCount adds <relation>_count attributes to the results
func (q *Query) WithCount(relations ...string) *Query {
	out := q.clone()
	out.counts = append(out.counts, countRequests(relations)...)
	return out
}

// WithCountFunc adds a constrained <relation>_count attribute
func (q *Query) WithCountFunc(relation string, constraint Constraint) *Query {
	out := q.clone()
	out.counts = append(out.counts, countRequest{name: relation, constraint: constraint})
	return out
}

// ============================================================================
// RELATION EXISTENCE
// ============================================================================

// Has keeps rows whose relation count satisfies op count. Dot paths require
// at least one row at every intermediate level; constraints narrow the last.
func (q *Query) Has(relation string, op db.Operator, count int, constraints ...Constraint) *Query {
	out := q.clone()
	if out.err != nil {
		return out
	}
	if !validCountOperator(op) {
		out.err = fmt.Errorf("invalid relation count operator %q", op)
		return out
	}
	path := splitPath(relation)
	if len(path) == 0 {
		out.err = fmt.Errorf("empty relation path")
		return out
	}

	sql, args, err := q.hasClause(q.repo.schema, path, 0, op, count, constraints)
	if err != nil {
		out.err = err
		return out
	}
	out.builder = out.builder.WhereRaw(sql, args...)
	return out
}

// WhereHas keeps rows with at least one related row matching constraint
func (q *Query) WhereHas(relation string, constraint Constraint) *Query {
	return q.Has(relation, db.GreaterThanOrEqual, 1, constraint)
}

// DoesntHave keeps rows without related rows
func (q *Query) DoesntHave(relation string) *Query {
	return q.Has(relation, db.LessThan, 1)
}

// WhereDoesntHave keeps rows without related rows matching constraint
func (q *Query) WhereDoesntHave(relation string, constraint Constraint) *Query {
	return q.Has(relation, db.LessThan, 1, constraint)
}

func (q *Query) hasClause(parent *Schema, path []string, depth int, op db.Operator, count int, constraints []Constraint) (string, []any, error) {
	name := path[depth]
	rel, err := newModel(q.repo.For(parent)).Relation(name)
	if err != nil {
		var unknown *UnknownRelationError
		if errors.As(err, &unknown) {
			return "", nil, &UnknownRelationError{Schema: parent.table, Relation: name, Path: strings.Join(path[:depth+1], ".")}
		}
		return "", nil, err
	}
	def := rel.def

	levelOp, levelCount := op, count
	if depth < len(path)-1 {
		levelOp, levelCount = db.GreaterThanOrEqual, 1
	}

	if def.Kind == MorphToKind {
		var clauses []string
		var args []any
		for _, t := range def.morphTargets() {
			target := def.MorphMap[t]
			b, err := q.existenceLevel(target, rel.constraints, path, depth, op, count, constraints)
			if err != nil {
				return "", nil, err
			}
			b = b.WhereColumn(target.Qualify(target.primaryKey), db.Equal, parent.Qualify(def.ForeignKey))
			countSQL, countArgs := b.BuildCount()
			clauses = append(clauses, fmt.Sprintf("(%s = ? AND (%s) %s ?)", parent.Qualify(def.MorphType), countSQL, levelOp))
			args = append(args, t)
			args = append(args, countArgs...)
			args = append(args, levelCount)
		}
		if len(clauses) == 0 {
			return "1 = 0", nil, nil
		}
		return "(" + strings.Join(clauses, " OR ") + ")", args, nil
	}

	b, err := q.existenceLevel(def.Related, rel.constraints, path, depth, op, count, constraints)
	if err != nil {
		return "", nil, err
	}
	if b, err = existenceBuilder(def, b); err != nil {
		return "", nil, err
	}
	countSQL, countArgs := b.BuildCount()
	return fmt.Sprintf("(%s) %s ?", countSQL, levelOp), append(countArgs, levelCount), nil
}

// existenceLevel builds the related side of one has() level: declared
// relation constraints, then either the caller's constraints (last level) or
// the next level's clause, then the related schema's scopes
func (q *Query) existenceLevel(related *Schema, declared []Constraint, path []string, depth int, op db.Operator, count int, constraints []Constraint) (*db.Builder, error) {
	b := applyConstraints(db.NewBuilder(related.table), declared)
	if depth == len(path)-1 {
		b = applyConstraints(b, constraints)
	} else {
		inner, args, err := q.hasClause(related, path, depth+1, op, count, constraints)
		if err != nil {
			return nil, err
		}
		b = b.WhereRaw(inner, args...)
	}
	if q.scope != nil {
		b = b.ScopedBy(q.repo.For(related).scopedBuilder(q.scopeCtx))
	}
	return b, nil
}

func validCountOperator(op db.Operator) bool {
	switch op {
	case db.GreaterThanOrEqual, db.GreaterThan, db.Equal, db.LessThan, db.LessThanOrEqual, db.NotEqual:
		return true
	}
	return false
}

func splitPath(path string) []string {
	var out []string
	for _, seg := range strings.Split(path, ".") {
		if seg = strings.TrimSpace(seg); seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

// ============================================================================
// RETRIEVAL
// ============================================================================

// Get runs the query and returns the hydrated models with eager loads and counts
func (q *Query) Get(ctx context.Context) (*Collection, error) {
	if q.err != nil {
		return nil, q.err
	}
	return q.fetch(ctx, q.final())
}

// All is an alias of Get
func (q *Query) All(ctx context.Context) (*Collection, error) {
	return q.Get(ctx)
}

func (q *Query) fetch(ctx context.Context, b *db.Builder) (*Collection, error) {
	rows, err := q.repo.selectRows(ctx, b)
	if err != nil {
		return nil, err
	}
	c := q.repo.hydrateAll(rows)
	if err := q.afterFetch(ctx, c.Values()); err != nil {
		return nil, err
	}
	return c, nil
}

func (q *Query) afterFetch(ctx context.Context, models []*Model) error {
	if len(models) == 0 {
		return nil
	}
	if len(q.eager) > 0 || len(q.constraints) > 0 {
		if err := eagerLoad(ctx, models, newEagerTree(q.eager, q.constraints)); err != nil {
			return err
		}
	}
	if len(q.counts) > 0 {
		return loadCounts(ctx, models, q.counts)
	}
	return nil
}

// First returns the first row, or nil when there is none
func (q *Query) First(ctx context.Context) (*Model, error) {
	c, err := q.Limit(1).Get(ctx)
	if err != nil {
		return nil, err
	}
	if c.IsEmpty() {
		return nil, nil
	}
	return c.Values()[0], nil
}

// FirstOrFail is First returning a *RecordNotFoundError instead of nil
func (q *Query) FirstOrFail(ctx context.Context) (*Model, error) {
	m, err := q.First(ctx)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, &RecordNotFoundError{Table: q.repo.schema.table}
	}
	return m, nil
}

// Find returns the row with primary key id or a *RecordNotFoundError.
// With a row cache configured the scoped statement is looked up there first.
func (q *Query) Find(ctx context.Context, id any) (*Model, error) {
	if q.err != nil {
		return nil, q.err
	}
	s := q.repo.schema
	b := q.final().Where(s.Qualify(s.primaryKey), db.Equal, id).Limit(1)
	query, args := b.BuildSelect()

	var row db.Row
	cached := false
	if cache := q.repo.cache; cache != nil {
		r, found, err := cache.GetRow(ctx, s.table, query, args)
		switch {
		case err != nil:
			q.repo.logger.Warn("row cache read failed", "table", s.table, "error", err)
		case found:
			row, cached = r, true
		}
	}

	if !cached {
		rows, err := q.repo.conn.Select(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		if len(rows) > 0 {
			row = rows[0]
		}
		if cache := q.repo.cache; cache != nil {
			if err := cache.SetRow(ctx, s.table, query, args, row); err != nil {
				q.repo.logger.Warn("row cache write failed", "table", s.table, "error", err)
			}
		}
	}

	if row == nil {
		return nil, &RecordNotFoundError{Table: s.table, Key: id}
	}
	m := q.repo.hydrate(row)
	if err := q.afterFetch(ctx, []*Model{m}); err != nil {
		return nil, err
	}
	return m, nil
}

// FindMany returns the rows whose primary key is in ids
func (q *Query) FindMany(ctx context.Context, ids ...any) (*Collection, error) {
	s := q.repo.schema
	return q.WhereIn(s.Qualify(s.primaryKey), ids).Get(ctx)
}

// ============================================================================
// AGGREGATES
// ============================================================================

// Count returns the number of matching rows; limit and offset are ignored
func (q *Query) Count(ctx context.Context) (int64, error) {
	if q.err != nil {
		return 0, q.err
	}
	sql, args := q.final().BuildCount()
	v, err := q.aggregate(ctx, sql, args)
	if err != nil {
		return 0, err
	}
	n, _ := asInt64(normalizeKey(v))
	return n, nil
}

// Sum returns SUM(column), 0 when no rows match
func (q *Query) Sum(ctx context.Context, column string) (float64, error) {
	return q.floatAggregate(ctx, "SUM", column)
}

// Avg returns AVG(column), 0 when no rows match
func (q *Query) Avg(ctx context.Context, column string) (float64, error) {
	return q.floatAggregate(ctx, "AVG", column)
}

// Min returns MIN(column), nil when no rows match
func (q *Query) Min(ctx context.Context, column string) (any, error) {
	return q.rawAggregate(ctx, "MIN", column)
}

// Max returns MAX(column), nil when no rows match
func (q *Query) Max(ctx context.Context, column string) (any, error) {
	return q.rawAggregate(ctx, "MAX", column)
}

func (q *Query) rawAggregate(ctx context.Context, fn, column string) (any, error) {
	if q.err != nil {
		return nil, q.err
	}
	sql, args := q.final().BuildAggregate(fn, column)
	return q.aggregate(ctx, sql, args)
}

func (q *Query) floatAggregate(ctx context.Context, fn, column string) (float64, error) {
	v, err := q.rawAggregate(ctx, fn, column)
	if err != nil {
		return 0, err
	}
	return toFloat(v)
}

func (q *Query) aggregate(ctx context.Context, sql string, args []any) (any, error) {
	rows, err := q.repo.conn.Select(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0][aggregateColumn], nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case []byte:
		return toFloat(string(n))
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("aggregate value %q is not numeric: %w", n, err)
		}
		return f, nil
	}
	if i, ok := asInt64(v); ok {
		return float64(i), nil
	}
	return 0, fmt.Errorf("aggregate value of type %T is not numeric", v)
}

// Exists reports whether any row matches
func (q *Query) Exists(ctx context.Context) (bool, error) {
	if q.err != nil {
		return false, q.err
	}
	rows, err := q.repo.selectRows(ctx, q.final().Select("1").Limit(1))
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

// Pluck returns one column of every matching row
func (q *Query) Pluck(ctx context.Context, column string) ([]any, error) {
	if q.err != nil {
		return nil, q.err
	}
	rows, err := q.repo.selectRows(ctx, q.final().Select(column+" AS "+pluckColumn))
	if err != nil {
		return nil, err
	}
	out := make([]any, len(rows))
	for i, row := range rows {
		out[i] = row[pluckColumn]
	}
	return out, nil
}

// Chunk walks the results size rows at a time, ordered by primary key unless
// the query is ordered. fn returning false stops the walk.
func (q *Query) Chunk(ctx context.Context, size int, fn func(*Collection) (bool, error)) error {
	if q.err != nil {
		return q.err
	}
	if size < 1 {
		return fmt.Errorf("chunk size must be positive, got %d", size)
	}
	base := q
	if !q.ordered {
		s := q.repo.schema
		base = q.OrderBy(s.Qualify(s.primaryKey), false)
	}

	for page := 0; ; page++ {
		c, err := base.Offset(page * size).Limit(size).Get(ctx)
		if err != nil {
			return err
		}
		if c.IsEmpty() {
			return nil
		}
		more, err := fn(c)
		if err != nil {
			return err
		}
		if !more || c.Len() < size {
			return nil
		}
	}
}

// Paginate returns one page of results with the total row count
func (q *Query) Paginate(ctx context.Context, page, perPage int, baseURL string) (*Paginator, error) {
	page, perPage = normalizePage(page, perPage)
	total, err := q.Count(ctx)
	if err != nil {
		return nil, err
	}
	items, err := q.Offset((page - 1) * perPage).Limit(perPage).Get(ctx)
	if err != nil {
		return nil, err
	}
	return NewPaginator(items, total, page, perPage, baseURL), nil
}

// ============================================================================
// BULK WRITES - no hooks, no timestamps
// ============================================================================

// Update sets values on every matching row
func (q *Query) Update(ctx context.Context, values map[string]any) (int64, error) {
	if q.err != nil {
		return 0, q.err
	}
	if len(values) == 0 {
		return 0, nil
	}
	sql, args := q.final().BuildUpdateWhere(values)
	res, err := q.repo.conn.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	q.repo.invalidate(ctx)
	return res.RowsAffected, nil
}

// Delete removes every matching row
func (q *Query) Delete(ctx context.Context) (int64, error) {
	if q.err != nil {
		return 0, q.err
	}
	sql, args := q.final().BuildDeleteWhere()
	res, err := q.repo.conn.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	q.repo.invalidate(ctx)
	return res.RowsAffected, nil
}

// ============================================================================
// INSPECTION
// ============================================================================

// ToSQL renders the SELECT statement
func (q *Query) ToSQL() string {
	return q.final().ToSQL()
}

// Bindings returns the SELECT statement's bound values
func (q *Query) Bindings() []any {
	return q.final().Bindings()
}

// Builder returns the underlying builder with scopes applied
func (q *Query) Builder() *db.Builder {
	return q.final()
}

// Err returns the first error recorded while building the query
func (q *Query) Err() error {
	return q.err
}
