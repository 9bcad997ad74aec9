package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ammar0144/arcore/pkg/cast"
	"github.com/ammar0144/arcore/pkg/db"
)

var fixedNow = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func newTestDB(t *testing.T) *db.Manager {
	t.Helper()
	mgr, err := db.NewSQLiteManager(filepath.Join(t.TempDir(), "arcore.db"))
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })
	return mgr
}

func execAll(t *testing.T, mgr *db.Manager, statements ...string) {
	t.Helper()
	for _, stmt := range statements {
		_, err := mgr.Exec(context.Background(), stmt)
		require.NoError(t, err, stmt)
	}
}

// world is a small project tracker with every relation kind
type world struct {
	mgr *db.Manager
	now time.Time

	countries *Schema
	users     *Schema
	projects  *Schema
	tasks     *Schema
	comments  *Schema
	posts     *Schema
	videos    *Schema
	images    *Schema
	tags      *Schema
}

func newWorld(t *testing.T) *world {
	t.Helper()
	mgr := newTestDB(t)
	execAll(t, mgr,
		`CREATE TABLE countries (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT)`,
		`CREATE TABLE users (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT, country_id INTEGER)`,
		`CREATE TABLE projects (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT, owner_id INTEGER, created_at TEXT, updated_at TEXT)`,
		`CREATE TABLE tasks (id INTEGER PRIMARY KEY AUTOINCREMENT, project_id INTEGER, title TEXT, done INTEGER NOT NULL DEFAULT 0, meta TEXT)`,
		`CREATE TABLE comments (id INTEGER PRIMARY KEY AUTOINCREMENT, task_id INTEGER, body TEXT)`,
		`CREATE TABLE project_user (project_id INTEGER, user_id INTEGER, role TEXT)`,
		`CREATE TABLE posts (id INTEGER PRIMARY KEY AUTOINCREMENT, user_id INTEGER, title TEXT)`,
		`CREATE TABLE videos (id INTEGER PRIMARY KEY AUTOINCREMENT, title TEXT)`,
		`CREATE TABLE images (id INTEGER PRIMARY KEY AUTOINCREMENT, url TEXT, imageable_type TEXT, imageable_id INTEGER)`,
		`CREATE TABLE tags (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT)`,
		`CREATE TABLE taggables (tag_id INTEGER, taggable_id INTEGER, taggable_type TEXT)`,

		`INSERT INTO countries (id, name) VALUES (1, 'Lithuania'), (2, 'Latvia')`,
		`INSERT INTO users (id, name, country_id) VALUES (1, 'ana', 1), (2, 'ben', 1), (3, 'cat', 2)`,
		`INSERT INTO projects (id, name, owner_id) VALUES (1, 'alpha', 1), (2, 'beta', 1), (3, 'gamma', 2)`,
		`INSERT INTO tasks (id, project_id, title, done) VALUES (1, 1, 'design', 1), (2, 1, 'build', 0), (3, 2, 'ship', 0)`,
		`INSERT INTO comments (id, task_id, body) VALUES (1, 1, 'a'), (2, 1, 'b'), (3, 3, 'c')`,
		`INSERT INTO project_user (project_id, user_id, role) VALUES (1, 1, 'owner'), (1, 2, 'member'), (2, 2, 'member')`,
		`INSERT INTO posts (id, user_id, title) VALUES (1, 1, 'hello'), (2, 3, 'world')`,
		`INSERT INTO videos (id, title) VALUES (1, 'intro')`,
		`INSERT INTO images (id, url, imageable_type, imageable_id) VALUES (1, 'p1.png', 'posts', 1), (2, 'p1b.png', 'posts', 1), (3, 'v1.png', 'videos', 1)`,
		`INSERT INTO tags (id, name) VALUES (1, 'go'), (2, 'sql')`,
		`INSERT INTO taggables (tag_id, taggable_id, taggable_type) VALUES (1, 1, 'posts'), (2, 1, 'posts'), (1, 1, 'videos')`,
	)

	w := &world{mgr: mgr, now: fixedNow}
	w.countries = NewSchema("countries")
	w.users = NewSchema("users")
	w.projects = NewSchema("projects", WithTimestamps())
	w.tasks = NewSchema("tasks", WithCasts(map[string]string{"done": cast.Bool, "meta": cast.JSON}))
	w.comments = NewSchema("comments")
	w.posts = NewSchema("posts")
	w.videos = NewSchema("videos")
	w.images = NewSchema("images")
	w.tags = NewSchema("tags")

	w.countries.
		Relate("users", func(m *Model) *Relation { return m.HasMany(w.users, "", "") }).
		Relate("posts", func(m *Model) *Relation { return m.HasManyThrough(w.posts, w.users, "", "") })
	w.users.
		Relate("country", func(m *Model) *Relation { return m.BelongsTo(w.countries, "", "") }).
		Relate("projects", func(m *Model) *Relation { return m.HasMany(w.projects, "owner_id", "") }).
		Relate("memberships", func(m *Model) *Relation { return m.BelongsToMany(w.projects, "", "", "") }).
		Relate("posts", func(m *Model) *Relation { return m.HasMany(w.posts, "", "") })
	w.projects.
		Relate("owner", func(m *Model) *Relation { return m.BelongsTo(w.users, "owner_id", "") }).
		Relate("tasks", func(m *Model) *Relation { return m.HasMany(w.tasks, "", "") }).
		Relate("openTasks", func(m *Model) *Relation { return m.HasMany(w.tasks, "", "").Where("tasks.done", db.Equal, 0) }).
		Relate("members", func(m *Model) *Relation { return m.BelongsToMany(w.users, "", "", "") })
	w.tasks.
		Relate("project", func(m *Model) *Relation { return m.BelongsTo(w.projects, "", "") }).
		Relate("comments", func(m *Model) *Relation { return m.HasMany(w.comments, "", "") })
	w.comments.
		Relate("task", func(m *Model) *Relation { return m.BelongsTo(w.tasks, "", "") })
	w.posts.
		Relate("author", func(m *Model) *Relation { return m.BelongsTo(w.users, "user_id", "") }).
		Relate("images", func(m *Model) *Relation { return m.MorphMany(w.images, "imageable") }).
		Relate("cover", func(m *Model) *Relation { return m.MorphOne(w.images, "imageable") }).
		Relate("tags", func(m *Model) *Relation { return m.MorphToMany(w.tags, "taggable", "") })
	w.videos.
		Relate("images", func(m *Model) *Relation { return m.MorphMany(w.images, "imageable") }).
		Relate("tags", func(m *Model) *Relation { return m.MorphToMany(w.tags, "taggable", "") })
	w.images.
		Relate("imageable", func(m *Model) *Relation { return m.MorphTo("imageable", w.posts, w.videos) })
	w.tags.
		Relate("posts", func(m *Model) *Relation { return m.MorphedByMany(w.posts, "taggable", "") }).
		Relate("videos", func(m *Model) *Relation { return m.MorphedByMany(w.videos, "taggable", "") })

	return w
}

func (w *world) repo(s *Schema, opts ...Option) *Repository {
	opts = append([]Option{WithClock(func() time.Time { return w.now })}, opts...)
	return NewRepository(w.mgr, s, opts...)
}

// countQueries returns the number of statements fn issues
func (w *world) countQueries(t *testing.T, fn func()) int {
	t.Helper()
	w.mgr.FlushQueryLog()
	w.mgr.EnableQueryLog()
	defer w.mgr.DisableQueryLog()
	fn()
	return len(w.mgr.QueryLog())
}

func names(t *testing.T, c *Collection, column string) []any {
	t.Helper()
	if c == nil {
		return nil
	}
	values, err := c.Column(column)
	require.NoError(t, err)
	return values
}
