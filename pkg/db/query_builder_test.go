package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuilderImmutable(t *testing.T) {
	base := NewBuilder("tasks").Where("project_id", Equal, 1)
	open := base.Where("done", Equal, false)
	closed := base.Where("done", Equal, true).OrderBy("id", true)

	assert.Equal(t, "SELECT * FROM tasks WHERE project_id = ?", base.ToSQL())
	assert.Equal(t, []any{1}, base.Bindings())
	assert.Equal(t, "SELECT * FROM tasks WHERE project_id = ? AND done = ?", open.ToSQL())
	assert.Equal(t, []any{1, false}, open.Bindings())
	assert.Equal(t, "SELECT * FROM tasks WHERE project_id = ? AND done = ? ORDER BY id DESC", closed.ToSQL())
	assert.Equal(t, []any{1, true}, closed.Bindings())
}

func TestBuilderGroupsAreNotShared(t *testing.T) {
	base := NewBuilder("users").WhereGroup(Or, func(g *ConditionGroup) {
		g.Where("role", Equal, "admin").Where("role", Equal, "owner")
	})
	a := base.OrWhere("id", Equal, 1)
	b := base.Where("active", Equal, true)

	assert.Equal(t, "SELECT * FROM users WHERE (role = ? OR role = ?)", base.ToSQL())
	assert.Equal(t, "SELECT * FROM users WHERE ((role = ? OR role = ?)) OR id = ?", a.ToSQL())
	assert.Equal(t, "SELECT * FROM users WHERE (role = ? OR role = ?) AND active = ?", b.ToSQL())
}

func TestWhereAfterOrWhere(t *testing.T) {
	q := NewBuilder("users").Where("a", Equal, 1).OrWhere("b", Equal, 2).Where("c", Equal, 3)

	assert.Equal(t, "SELECT * FROM users WHERE ((a = ?) OR b = ?) AND c = ?", q.ToSQL())
	assert.Equal(t, []any{1, 2, 3}, q.Bindings())
}

func TestScopedBy(t *testing.T) {
	scope := NewBuilder("tasks").Where("tasks.tenant_id", Equal, 7)
	user := NewBuilder("tasks").
		Where("a", Equal, 1).
		OrWhere("b", Equal, 2).
		OrderBy("id", false).
		Limit(5)

	q := user.ScopedBy(scope)
	assert.Equal(t, "SELECT * FROM tasks WHERE tasks.tenant_id = ? AND ((a = ?) OR b = ?) ORDER BY id ASC LIMIT 5", q.ToSQL())
	assert.Equal(t, []any{7, 1, 2}, q.Bindings())

	plain := NewBuilder("tasks").Where("done", Equal, false).ScopedBy(scope)
	assert.Equal(t, "SELECT * FROM tasks WHERE tasks.tenant_id = ? AND done = ?", plain.ToSQL())

	assert.Equal(t, user.ToSQL(), user.ScopedBy(NewBuilder("tasks")).ToSQL())
	assert.Equal(t, "SELECT * FROM tasks WHERE tasks.tenant_id = ?", NewBuilder("tasks").ScopedBy(scope).ToSQL())
}

func TestWhereVariants(t *testing.T) {
	q := NewBuilder("comments").
		WhereIn("task_id", []int64{1, 2, 3}).
		WhereNotIn("author_id", []int{9}).
		WhereNull("deleted_at").
		WhereNotNull("body").
		WhereColumn("comments.task_id", Equal, "tasks.id").
		WhereRaw("(SELECT COUNT(*) FROM likes WHERE likes.comment_id = comments.id) >= ?", 2)

	sql, args := q.BuildSelect()
	assert.Equal(t, "SELECT * FROM comments WHERE task_id IN (?, ?, ?) AND author_id NOT IN (?)"+
		" AND deleted_at IS NULL AND body IS NOT NULL AND comments.task_id = tasks.id"+
		" AND (SELECT COUNT(*) FROM likes WHERE likes.comment_id = comments.id) >= ?", sql)
	assert.Equal(t, []any{int64(1), int64(2), int64(3), 9, 2}, args)
}

func TestEmptyIn(t *testing.T) {
	assert.Equal(t, "SELECT * FROM t WHERE 1 = 0", NewBuilder("t").WhereIn("id", []any{}).ToSQL())
	assert.Equal(t, "SELECT * FROM t WHERE 1 = 1", NewBuilder("t").WhereNotIn("id", nil).ToSQL())
}

func TestBetween(t *testing.T) {
	sql, args := NewBuilder("t").Where("n", Between, []int{1, 5}).BuildSelect()
	assert.Equal(t, "SELECT * FROM t WHERE n BETWEEN ? AND ?", sql)
	assert.Equal(t, []any{1, 5}, args)

	assert.Equal(t, "SELECT * FROM t WHERE 1 = 0", NewBuilder("t").Where("n", Between, 3).ToSQL())
}

func TestLimitOffset(t *testing.T) {
	assert.Equal(t, "SELECT id FROM t LIMIT 10 OFFSET 20", NewBuilder("t").Select("id").Limit(10).Offset(20).ToSQL())
	assert.Equal(t, "SELECT * FROM t LIMIT 9223372036854775807 OFFSET 5", NewBuilder("t").Offset(5).ToSQL())
	assert.Equal(t, "SELECT * FROM t", NewBuilder("t").Limit(-1).Offset(-3).ToSQL())
}

func TestJoinsAndGrouping(t *testing.T) {
	q := NewBuilder("users").
		Select("users.id", "COUNT(posts.id) AS n").
		LeftJoin("posts", "posts.user_id = users.id").
		GroupBy("users.id").
		Having("n", GreaterThan, 2)

	sql, args := q.BuildSelect()
	assert.Equal(t, "SELECT users.id, COUNT(posts.id) AS n FROM users LEFT JOIN posts ON posts.user_id = users.id GROUP BY users.id HAVING n > ?", sql)
	assert.Equal(t, []any{2}, args)
}

func TestBuildCount(t *testing.T) {
	q := NewBuilder("tasks").Where("done", Equal, true).OrderBy("id", false).Limit(5)
	sql, args := q.BuildCount()
	assert.Equal(t, "SELECT COUNT(*) AS aggregate FROM tasks WHERE done = ?", sql)
	assert.Equal(t, []any{true}, args)

	sql, _ = NewBuilder("tasks").Select("project_id").Distinct().BuildCount()
	assert.Equal(t, "SELECT COUNT(*) AS aggregate FROM (SELECT DISTINCT project_id FROM tasks) AS counted", sql)

	sql, _ = NewBuilder("tasks").BuildAggregate("sum", "points")
	assert.Equal(t, "SELECT SUM(points) AS aggregate FROM tasks", sql)
}

func TestWriteStatements(t *testing.T) {
	b := NewBuilder("users")

	sql, n := b.BuildInsert([]string{"name", "email"})
	assert.Equal(t, "INSERT INTO users (name, email) VALUES (?, ?)", sql)
	assert.Equal(t, 2, n)

	sql, n = b.BuildInsert(nil)
	assert.Equal(t, "INSERT INTO users DEFAULT VALUES", sql)
	assert.Equal(t, 0, n)

	sql, _ = b.ForDriver(DriverSQLite).BuildInsert(nil)
	assert.Equal(t, "INSERT INTO users DEFAULT VALUES", sql)

	mysql := b.ForDriver(DriverMySQL)
	sql, n = mysql.BuildInsert(nil)
	assert.Equal(t, "INSERT INTO users () VALUES ()", sql)
	assert.Equal(t, 0, n)
	sql, _ = mysql.BuildInsert([]string{"name"})
	assert.Equal(t, "INSERT INTO users (name) VALUES (?)", sql)

	sql, n = b.BuildUpdate([]string{"name"}, "id")
	assert.Equal(t, "UPDATE users SET name = ? WHERE id = ?", sql)
	assert.Equal(t, 2, n)

	assert.Equal(t, "DELETE FROM users WHERE id = ?", b.BuildDelete("id"))

	scoped := b.Where("tenant_id", Equal, 7)
	sql, args := scoped.BuildUpdateWhere(map[string]any{"status": "x", "active": false})
	assert.Equal(t, "UPDATE users SET active = ?, status = ? WHERE tenant_id = ?", sql)
	assert.Equal(t, []any{false, "x", 7}, args)

	sql, args = scoped.BuildDeleteWhere()
	assert.Equal(t, "DELETE FROM users WHERE tenant_id = ?", sql)
	assert.Equal(t, []any{7}, args)
}
