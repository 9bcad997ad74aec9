package db

import (
	"fmt"
	"math"
	"reflect"
	"slices"
	"sort"
	"strings"
)

// SQL query builder used by the entity layer.
//
// Builders are immutable: every method returns a new *Builder and leaves the
// receiver untouched, so a base query can be shared between callers and
// constraint closures without one leaking conditions into another.
//
// SECURITY WARNING:
// This builder does NOT escape or validate table names, column names, or other SQL identifiers.
// Identifiers MUST come from trusted sources (schema definitions, hardcoded names).
// User input should ONLY be passed as values, which are always parameterized.
//
// Example - SAFE:
//   db.NewBuilder("users").Select("id", "name").Where("email", db.Equal, userEmail)
//
// Example - UNSAFE (DO NOT DO THIS):
//   db.NewBuilder(userInput).Select(userProvidedColumn)  // SQL INJECTION RISK!

// Operator represents SQL comparison operators
type Operator string

const (
	Equal              Operator = "="
	NotEqual           Operator = "!="
	GreaterThan        Operator = ">"
	GreaterThanOrEqual Operator = ">="
	LessThan           Operator = "<"
	LessThanOrEqual    Operator = "<="
	Like               Operator = "LIKE"
	NotLike            Operator = "NOT LIKE"
	In                 Operator = "IN"
	NotIn              Operator = "NOT IN"
	IsNull             Operator = "IS NULL"
	IsNotNull          Operator = "IS NOT NULL"
	Between            Operator = "BETWEEN"
	NotBetween         Operator = "NOT BETWEEN"
)

// JoinType represents SQL JOIN types
type JoinType string

const (
	InnerJoin JoinType = "INNER JOIN"
	LeftJoin  JoinType = "LEFT JOIN"
	RightJoin JoinType = "RIGHT JOIN"
	CrossJoin JoinType = "CROSS JOIN"
)

// LogicalOperator for combining conditions
type LogicalOperator string

const (
	And LogicalOperator = "AND"
	Or  LogicalOperator = "OR"
)

// noLimit is rendered when an OFFSET is requested without a LIMIT
const noLimit = math.MaxInt64

// Condition represents a WHERE/HAVING clause condition
type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

// ColumnCondition compares two columns, e.g. tasks.project_id = projects.id
type ColumnCondition struct {
	First    string
	Operator Operator
	Second   string
}

// RawCondition is a SQL fragment with its own bindings
type RawCondition struct {
	SQL  string
	Args []any
}

// ConditionGroup represents grouped conditions with logical operators
type ConditionGroup struct {
	Conditions []any // Condition, ColumnCondition, RawCondition or *ConditionGroup
	Operator   LogicalOperator
}

// JoinClause represents a JOIN operation
type JoinClause struct {
	Type      JoinType
	Table     string
	Condition string
}

// Builder helps build complex SQL queries
type Builder struct {
	table      string
	selectCols []string
	distinct   bool
	joins      []JoinClause
	where      *ConditionGroup
	groupBy    []string
	having     *ConditionGroup
	orderBy    []string
	limit      int
	offset     int
	driver     string
}

// NewBuilder creates a new query builder
// SECURITY: The table parameter must be a validated, trusted identifier.
func NewBuilder(table string) *Builder {
	return &Builder{
		table:      table,
		selectCols: []string{"*"},
		where:      &ConditionGroup{Operator: And},
		having:     &ConditionGroup{Operator: And},
	}
}

// ForDriver returns a copy rendering driver-specific forms for name
// (DriverMySQL or DriverSQLite). Only an INSERT without columns differs.
func (b *Builder) ForDriver(name string) *Builder {
	c := b.clone()
	c.driver = name
	return c
}

func (b *Builder) clone() *Builder {
	c := *b
	c.selectCols = slices.Clone(b.selectCols)
	c.joins = slices.Clone(b.joins)
	c.where = b.where.clone()
	c.groupBy = slices.Clone(b.groupBy)
	c.having = b.having.clone()
	c.orderBy = slices.Clone(b.orderBy)
	return &c
}

func (g *ConditionGroup) clone() *ConditionGroup {
	if g == nil {
		return &ConditionGroup{Operator: And}
	}
	c := &ConditionGroup{Operator: g.Operator, Conditions: make([]any, len(g.Conditions))}
	for i, item := range g.Conditions {
		switch cond := item.(type) {
		case *ConditionGroup:
			c.Conditions[i] = cond.clone()
		case RawCondition:
			c.Conditions[i] = RawCondition{SQL: cond.SQL, Args: slices.Clone(cond.Args)}
		default:
			c.Conditions[i] = item
		}
	}
	return c
}

// Table returns the table the builder selects from
func (b *Builder) Table() string {
	return b.table
}

// Select sets the columns to select
// SECURITY: Column names are NOT escaped. Only pass validated, trusted identifiers.
func (b *Builder) Select(cols ...string) *Builder {
	c := b.clone()
	if len(cols) == 0 {
		cols = []string{"*"}
	}
	c.selectCols = slices.Clone(cols)
	return c
}

// Distinct enables DISTINCT selection
func (b *Builder) Distinct() *Builder {
	c := b.clone()
	c.distinct = true
	return c
}

// Where adds a WHERE condition
// SECURITY: Field name is NOT escaped - must be a validated identifier.
func (b *Builder) Where(field string, operator Operator, value any) *Builder {
	return b.addWhere(Condition{Field: field, Operator: operator, Value: value})
}

// WhereIn adds a field IN (...) condition; an empty list never matches
func (b *Builder) WhereIn(field string, values any) *Builder {
	return b.addWhere(Condition{Field: field, Operator: In, Value: values})
}

// WhereNotIn adds a field NOT IN (...) condition; an empty list always matches
func (b *Builder) WhereNotIn(field string, values any) *Builder {
	return b.addWhere(Condition{Field: field, Operator: NotIn, Value: values})
}

// WhereNull adds a field IS NULL condition
func (b *Builder) WhereNull(field string) *Builder {
	return b.addWhere(Condition{Field: field, Operator: IsNull})
}

// WhereNotNull adds a field IS NOT NULL condition
func (b *Builder) WhereNotNull(field string) *Builder {
	return b.addWhere(Condition{Field: field, Operator: IsNotNull})
}

// WhereColumn compares two columns
func (b *Builder) WhereColumn(first string, operator Operator, second string) *Builder {
	return b.addWhere(ColumnCondition{First: first, Operator: operator, Second: second})
}

// WhereRaw adds a raw SQL fragment with its bindings
func (b *Builder) WhereRaw(sql string, args ...any) *Builder {
	return b.addWhere(RawCondition{SQL: sql, Args: slices.Clone(args)})
}

// WhereGroup adds a grouped WHERE condition
func (b *Builder) WhereGroup(operator LogicalOperator, fn func(*ConditionGroup)) *Builder {
	group := &ConditionGroup{Operator: operator}
	fn(group)
	return b.addWhere(group)
}

// addWhere ANDs cond onto the clause; an OR root becomes the left operand
func (b *Builder) addWhere(cond any) *Builder {
	c := b.clone()
	if c.where.Operator == Or {
		c.where = &ConditionGroup{Conditions: []any{c.where, cond}, Operator: And}
		return c
	}
	c.where.Conditions = append(c.where.Conditions, cond)
	return c
}

// ScopedBy returns a copy whose WHERE clause is scope's WHERE clause ANDed in
// front of its own. scope's joins are prepended; everything else comes from b.
func (b *Builder) ScopedBy(scope *Builder) *Builder {
	c := b.clone()
	if scope == nil || (len(scope.where.Conditions) == 0 && len(scope.joins) == 0) {
		return c
	}
	root := &ConditionGroup{Operator: And}
	root.Conditions = append(root.Conditions, andOperands(scope.where.clone())...)
	root.Conditions = append(root.Conditions, andOperands(c.where)...)
	c.where = root
	c.joins = append(slices.Clone(scope.joins), c.joins...)
	return c
}

func andOperands(g *ConditionGroup) []any {
	if len(g.Conditions) == 0 {
		return nil
	}
	if g.Operator == And {
		return g.Conditions
	}
	return []any{g}
}

// OrWhere adds an OR WHERE condition.
// Existing AND conditions are wrapped in a group so their semantics survive.
func (b *Builder) OrWhere(field string, operator Operator, value any) *Builder {
	if len(b.where.Conditions) == 0 {
		return b.Where(field, operator, value)
	}

	c := b.clone()
	newCondition := Condition{Field: field, Operator: operator, Value: value}
	if c.where.Operator == Or {
		c.where.Conditions = append(c.where.Conditions, newCondition)
		return c
	}

	c.where = &ConditionGroup{
		Conditions: []any{c.where, newCondition},
		Operator:   Or,
	}
	return c
}

// Join adds a JOIN clause
func (b *Builder) Join(joinType JoinType, table, condition string) *Builder {
	c := b.clone()
	c.joins = append(c.joins, JoinClause{Type: joinType, Table: table, Condition: condition})
	return c
}

// InnerJoin adds an INNER JOIN
func (b *Builder) InnerJoin(table, condition string) *Builder {
	return b.Join(InnerJoin, table, condition)
}

// LeftJoin adds a LEFT JOIN
func (b *Builder) LeftJoin(table, condition string) *Builder {
	return b.Join(LeftJoin, table, condition)
}

// RightJoin adds a RIGHT JOIN
func (b *Builder) RightJoin(table, condition string) *Builder {
	return b.Join(RightJoin, table, condition)
}

// GroupBy adds GROUP BY columns
func (b *Builder) GroupBy(columns ...string) *Builder {
	c := b.clone()
	c.groupBy = append(c.groupBy, columns...)
	return c
}

// Having adds a HAVING condition
func (b *Builder) Having(field string, operator Operator, value any) *Builder {
	c := b.clone()
	c.having.Conditions = append(c.having.Conditions, Condition{Field: field, Operator: operator, Value: value})
	return c
}

// OrderBy adds an ORDER BY clause
func (b *Builder) OrderBy(field string, desc bool) *Builder {
	order := field
	if desc {
		order += " DESC"
	} else {
		order += " ASC"
	}
	c := b.clone()
	c.orderBy = append(c.orderBy, order)
	return c
}

// Limit sets the LIMIT clause
// Negative values are normalized to 0, which means no limit
func (b *Builder) Limit(limit int) *Builder {
	if limit < 0 {
		limit = 0
	}
	c := b.clone()
	c.limit = limit
	return c
}

// Offset sets the OFFSET clause
// Negative values are normalized to 0
func (b *Builder) Offset(offset int) *Builder {
	if offset < 0 {
		offset = 0
	}
	c := b.clone()
	c.offset = offset
	return c
}

// Where adds a condition to the group
func (g *ConditionGroup) Where(field string, operator Operator, value any) *ConditionGroup {
	g.Conditions = append(g.Conditions, Condition{Field: field, Operator: operator, Value: value})
	return g
}

// WhereRaw adds a raw fragment to the group
func (g *ConditionGroup) WhereRaw(sql string, args ...any) *ConditionGroup {
	g.Conditions = append(g.Conditions, RawCondition{SQL: sql, Args: args})
	return g
}

// Group adds a nested condition group
func (g *ConditionGroup) Group(operator LogicalOperator, fn func(*ConditionGroup)) *ConditionGroup {
	group := &ConditionGroup{Operator: operator}
	fn(group)
	g.Conditions = append(g.Conditions, group)
	return g
}

// ToSQL returns the SELECT statement without bindings
func (b *Builder) ToSQL() string {
	sql, _ := b.BuildSelect()
	return sql
}

// Bindings returns the values bound to the SELECT statement, in order
func (b *Builder) Bindings() []any {
	_, args := b.BuildSelect()
	return args
}

// BuildSelect builds a SELECT query
func (b *Builder) BuildSelect() (string, []any) {
	var query strings.Builder

	query.WriteString("SELECT ")
	if b.distinct {
		query.WriteString("DISTINCT ")
	}
	query.WriteString(strings.Join(b.selectCols, ", "))

	from, args := b.buildFrom()
	query.WriteString(from)

	if len(b.orderBy) > 0 {
		query.WriteString(" ORDER BY ")
		query.WriteString(strings.Join(b.orderBy, ", "))
	}

	switch {
	case b.limit > 0:
		query.WriteString(fmt.Sprintf(" LIMIT %d", b.limit))
	case b.offset > 0:
		query.WriteString(fmt.Sprintf(" LIMIT %d", noLimit))
	}

	if b.offset > 0 {
		query.WriteString(fmt.Sprintf(" OFFSET %d", b.offset))
	}

	return query.String(), args
}

// buildFrom renders FROM, JOIN, WHERE, GROUP BY and HAVING
func (b *Builder) buildFrom() (string, []any) {
	var query strings.Builder
	var args []any

	query.WriteString(" FROM ")
	query.WriteString(b.table)

	for _, join := range b.joins {
		query.WriteString(" ")
		query.WriteString(string(join.Type))
		query.WriteString(" ")
		query.WriteString(join.Table)
		if join.Type != CrossJoin {
			query.WriteString(" ON ")
			query.WriteString(join.Condition)
		}
	}

	if whereSQL, whereArgs := buildConditionGroup(b.where); whereSQL != "" {
		query.WriteString(" WHERE ")
		query.WriteString(whereSQL)
		args = append(args, whereArgs...)
	}

	if len(b.groupBy) > 0 {
		query.WriteString(" GROUP BY ")
		query.WriteString(strings.Join(b.groupBy, ", "))
	}

	if havingSQL, havingArgs := buildConditionGroup(b.having); havingSQL != "" {
		query.WriteString(" HAVING ")
		query.WriteString(havingSQL)
		args = append(args, havingArgs...)
	}

	return query.String(), args
}

// BuildCount builds a COUNT(*) query aliased as aggregate.
// ORDER BY, LIMIT and OFFSET are ignored; grouped or distinct queries are
// counted through a derived table.
func (b *Builder) BuildCount() (string, []any) {
	if len(b.groupBy) > 0 || b.distinct {
		inner := b.clone()
		inner.orderBy = nil
		inner.limit, inner.offset = 0, 0
		sql, args := inner.BuildSelect()
		return "SELECT COUNT(*) AS aggregate FROM (" + sql + ") AS counted", args
	}
	return b.BuildAggregate("COUNT", "*")
}

// BuildAggregate builds SELECT fn(column) AS aggregate over the current filters
func (b *Builder) BuildAggregate(fn, column string) (string, []any) {
	from, args := b.buildFrom()
	return fmt.Sprintf("SELECT %s(%s) AS aggregate%s", strings.ToUpper(fn), column, from), args
}

// buildConditionGroup builds SQL for a condition group with proper logical operators
func buildConditionGroup(group *ConditionGroup) (string, []any) {
	if group == nil || len(group.Conditions) == 0 {
		return "", nil
	}

	var conditions []string
	var args []any

	for _, item := range group.Conditions {
		switch cond := item.(type) {
		case Condition:
			condSQL, condArgs := buildCondition(cond)
			conditions = append(conditions, condSQL)
			args = append(args, condArgs...)
		case ColumnCondition:
			conditions = append(conditions, fmt.Sprintf("%s %s %s", cond.First, cond.Operator, cond.Second))
		case RawCondition:
			conditions = append(conditions, cond.SQL)
			args = append(args, cond.Args...)
		case *ConditionGroup:
			if groupSQL, groupArgs := buildConditionGroup(cond); groupSQL != "" {
				conditions = append(conditions, "("+groupSQL+")")
				args = append(args, groupArgs...)
			}
		}
	}

	if len(conditions) == 0 {
		return "", nil
	}

	operator := " " + string(group.Operator) + " "
	return strings.Join(conditions, operator), args
}

// buildCondition builds SQL for a single condition
func buildCondition(cond Condition) (string, []any) {
	switch cond.Operator {
	case IsNull, IsNotNull:
		return fmt.Sprintf("%s %s", cond.Field, cond.Operator), nil
	case In, NotIn:
		return buildInCondition(cond)
	case Between, NotBetween:
		return buildBetweenCondition(cond)
	default:
		return fmt.Sprintf("%s %s ?", cond.Field, cond.Operator), []any{cond.Value}
	}
}

// buildInCondition builds IN/NOT IN conditions with proper placeholder expansion
func buildInCondition(cond Condition) (string, []any) {
	if cond.Value == nil {
		if cond.Operator == In {
			return "1 = 0", nil
		}
		return "1 = 1", nil
	}

	v := reflect.ValueOf(cond.Value)
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		return fmt.Sprintf("%s %s (?)", cond.Field, cond.Operator), []any{cond.Value}
	}

	length := v.Len()
	if length == 0 {
		if cond.Operator == In {
			return "1 = 0", nil
		}
		return "1 = 1", nil
	}

	placeholders := make([]string, length)
	args := make([]any, length)
	for i := 0; i < length; i++ {
		placeholders[i] = "?"
		args[i] = v.Index(i).Interface()
	}

	return fmt.Sprintf("%s %s (%s)", cond.Field, cond.Operator, strings.Join(placeholders, ", ")), args
}

// buildBetweenCondition builds BETWEEN/NOT BETWEEN conditions.
// Anything but a two element slice renders a condition that never matches.
func buildBetweenCondition(cond Condition) (string, []any) {
	if cond.Value == nil {
		return "1 = 0", nil
	}

	v := reflect.ValueOf(cond.Value)
	if (v.Kind() != reflect.Slice && v.Kind() != reflect.Array) || v.Len() != 2 {
		return "1 = 0", nil
	}

	sql := fmt.Sprintf("%s %s ? AND ?", cond.Field, cond.Operator)
	return sql, []any{v.Index(0).Interface(), v.Index(1).Interface()}
}

// BuildInsert builds an INSERT query
func (b *Builder) BuildInsert(columns []string) (string, int) {
	var query strings.Builder
	query.WriteString("INSERT INTO ")
	query.WriteString(b.table)
	if len(columns) == 0 {
		// MySQL has no DEFAULT VALUES form
		if b.driver == DriverMySQL {
			query.WriteString(" () VALUES ()")
		} else {
			query.WriteString(" DEFAULT VALUES")
		}
		return query.String(), 0
	}
	query.WriteString(" (")
	query.WriteString(strings.Join(columns, ", "))
	query.WriteString(") VALUES (")

	placeholders := make([]string, len(columns))
	for i := range placeholders {
		placeholders[i] = "?"
	}
	query.WriteString(strings.Join(placeholders, ", "))
	query.WriteString(")")

	return query.String(), len(columns)
}

// BuildUpdate builds an UPDATE query keyed on a single column
func (b *Builder) BuildUpdate(columns []string, whereField string) (string, int) {
	var query strings.Builder
	query.WriteString("UPDATE ")
	query.WriteString(b.table)
	query.WriteString(" SET ")

	setClauses := make([]string, len(columns))
	for i, col := range columns {
		setClauses[i] = col + " = ?"
	}
	query.WriteString(strings.Join(setClauses, ", "))

	if whereField != "" {
		query.WriteString(" WHERE ")
		query.WriteString(whereField)
		query.WriteString(" = ?")
		return query.String(), len(columns) + 1
	}

	return query.String(), len(columns)
}

// BuildUpdateWhere builds an UPDATE over every row matching the builder's
// WHERE clause. Columns are written in sorted order.
func (b *Builder) BuildUpdateWhere(values map[string]any) (string, []any) {
	columns := make([]string, 0, len(values))
	for col := range values {
		columns = append(columns, col)
	}
	sort.Strings(columns)

	setClauses := make([]string, len(columns))
	args := make([]any, 0, len(columns))
	for i, col := range columns {
		setClauses[i] = col + " = ?"
		args = append(args, values[col])
	}

	query := fmt.Sprintf("UPDATE %s SET %s", b.table, strings.Join(setClauses, ", "))
	if whereSQL, whereArgs := buildConditionGroup(b.where); whereSQL != "" {
		query += " WHERE " + whereSQL
		args = append(args, whereArgs...)
	}
	return query, args
}

// BuildDelete builds a DELETE query keyed on a single column
func (b *Builder) BuildDelete(whereField string) string {
	query := fmt.Sprintf("DELETE FROM %s", b.table)
	if whereField != "" {
		query += fmt.Sprintf(" WHERE %s = ?", whereField)
	}
	return query
}

// BuildDeleteWhere builds a DELETE over every row matching the builder's WHERE clause
func (b *Builder) BuildDeleteWhere() (string, []any) {
	query := fmt.Sprintf("DELETE FROM %s", b.table)
	whereSQL, args := buildConditionGroup(b.where)
	if whereSQL != "" {
		query += " WHERE " + whereSQL
	}
	return query, args
}
