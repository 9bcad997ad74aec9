package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ammar0144/arcore/pkg/db"
)

func TestEagerLoadNestedPaths(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	var projects *Collection
	queries := w.countQueries(t, func() {
		var err error
		projects, err = w.repo(w.projects).Query(ctx).
			With("tasks.comments", "owner", "tasks").
			OrderBy("id", false).
			Get(ctx)
		require.NoError(t, err)
	})
	// projects, tasks, comments, owners
	assert.Equal(t, 4, queries)
	require.Equal(t, 3, projects.Len())

	alpha := projects.Find(1)
	require.NotNil(t, alpha)
	assert.True(t, alpha.RelationLoaded("tasks"))
	assert.True(t, alpha.RelationLoaded("owner"))

	queries = w.countQueries(t, func() {
		tasks, err := alpha.Many(ctx, "tasks")
		require.NoError(t, err)
		assert.Equal(t, []any{"design", "build"}, names(t, tasks, "title"))

		design := tasks.Find(1)
		require.NotNil(t, design)
		comments, err := design.Many(ctx, "comments")
		require.NoError(t, err)
		assert.Equal(t, []any{"a", "b"}, names(t, comments, "body"))

		owner, err := alpha.One(ctx, "owner")
		require.NoError(t, err)
		assert.Equal(t, "ana", owner.Attr("name"))
	})
	assert.Zero(t, queries, "eager loaded relations must not query again")

	gamma := projects.Find(3)
	tasks, err := gamma.Many(ctx, "tasks")
	require.NoError(t, err)
	assert.True(t, tasks.IsEmpty())
}

func TestEagerLoadZeroParentsIssuesNoQueries(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	queries := w.countQueries(t, func() {
		projects, err := w.repo(w.projects).Query(ctx).
			Where("id", db.Equal, 999).
			With("tasks.comments", "members").
			Get(ctx)
		require.NoError(t, err)
		assert.True(t, projects.IsEmpty())
	})
	assert.Equal(t, 1, queries)

	queries = w.countQueries(t, func() {
		require.NoError(t, NewCollection().Load(ctx, "tasks"))
	})
	assert.Zero(t, queries)
}

func TestEagerLoadBelongsToMissingOwner(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	execAll(t, w.mgr, `INSERT INTO projects (id, name, owner_id) VALUES (4, 'orphan', 99), (5, 'ownerless', NULL)`)

	projects, err := w.repo(w.projects).Query(ctx).WhereIn("id", []int{4, 5}).With("owner").Get(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, projects.Len())
	for _, p := range projects.Values() {
		assert.True(t, p.RelationLoaded("owner"))
		owner, err := p.One(ctx, "owner")
		require.NoError(t, err)
		assert.Nil(t, owner)
	}
}

func TestEagerLoadStringKeys(t *testing.T) {
	mgr := newTestDB(t)
	execAll(t, mgr,
		`CREATE TABLE offices (code TEXT PRIMARY KEY, city TEXT)`,
		`CREATE TABLE desks (id INTEGER PRIMARY KEY AUTOINCREMENT, office_code TEXT, label TEXT)`,
		`INSERT INTO offices (code, city) VALUES ('007', 'Vilnius'), ('7', 'Riga')`,
		`INSERT INTO desks (office_code, label) VALUES ('007', 'a'), ('007', 'b'), ('7', 'c')`,
	)
	ctx := context.Background()

	offices := NewSchema("offices", WithPrimaryKey("code"), WithoutAutoIncrement())
	desks := NewSchema("desks")
	offices.Relate("desks", func(m *Model) *Relation { return m.HasMany(desks, "office_code", "") })
	desks.Relate("office", func(m *Model) *Relation { return m.BelongsTo(offices, "office_code", "") })

	all, err := NewRepository(mgr, offices).Query(ctx).With("desks").OrderBy("code", false).Get(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, all.Len())

	padded := all.Find("007")
	require.NotNil(t, padded)
	paddedDesks, err := padded.Many(ctx, "desks")
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, names(t, paddedDesks, "label"))

	plain := all.Find("7")
	require.NotNil(t, plain)
	plainDesks, err := plain.Many(ctx, "desks")
	require.NoError(t, err)
	assert.Equal(t, []any{"c"}, names(t, plainDesks, "label"))

	assert.Equal(t, []any{"007"}, all.Exclude("7").IDs())

	allDesks, err := NewRepository(mgr, desks).Query(ctx).With("office").OrderBy("id", false).Get(ctx)
	require.NoError(t, err)
	for _, d := range allDesks.Values() {
		office, err := d.One(ctx, "office")
		require.NoError(t, err)
		require.NotNil(t, office)
		assert.Equal(t, d.Attr("office_code"), office.Key())
	}
}

func TestEagerLoadThrough(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	var countries *Collection
	queries := w.countQueries(t, func() {
		var err error
		countries, err = w.repo(w.countries).Query(ctx).With("posts").Get(ctx)
		require.NoError(t, err)
	})
	// countries, users, posts
	assert.Equal(t, 3, queries)

	lt, err := countries.Find(1).Many(ctx, "posts")
	require.NoError(t, err)
	assert.Equal(t, []any{"hello"}, names(t, lt, "title"))

	lv, err := countries.Find(2).Many(ctx, "posts")
	require.NoError(t, err)
	assert.Equal(t, []any{"world"}, names(t, lv, "title"))
}

func TestEagerLoadPivot(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	var projects *Collection
	queries := w.countQueries(t, func() {
		var err error
		projects, err = w.repo(w.projects).Query(ctx).With("members").Get(ctx)
		require.NoError(t, err)
	})
	// projects, pivot rows, users
	assert.Equal(t, 3, queries)

	members, err := projects.Find(1).Many(ctx, "members")
	require.NoError(t, err)
	assert.ElementsMatch(t, []any{"ana", "ben"}, names(t, members, "name"))

	ana := members.First(map[string]any{"name": "ana"})
	require.NotNil(t, ana)
	assert.Equal(t, "owner", ana.Attr("pivot_role"))
	assert.Equal(t, int64(1), ana.Attr("pivot_project_id"))
	assert.False(t, ana.IsDirty(), "pivot attributes are never dirty")

	// ben belongs to two projects and carries different pivot data in each
	benInBeta, err := projects.Find(2).Many(ctx, "members")
	require.NoError(t, err)
	require.Equal(t, 1, benInBeta.Len())
	assert.Equal(t, int64(2), benInBeta.Values()[0].Attr("pivot_project_id"))

	empty, err := projects.Find(3).Many(ctx, "members")
	require.NoError(t, err)
	assert.True(t, empty.IsEmpty())

	require.NoError(t, ana.Save(ctx), "saving a pivot-loaded model writes nothing")
}

func TestEagerLoadPolymorphic(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	t.Run("morph many and morph one", func(t *testing.T) {
		var posts *Collection
		queries := w.countQueries(t, func() {
			var err error
			posts, err = w.repo(w.posts).Query(ctx).With("images", "cover").OrderBy("id", false).Get(ctx)
			require.NoError(t, err)
		})
		assert.Equal(t, 3, queries)

		images, err := posts.Find(1).Many(ctx, "images")
		require.NoError(t, err)
		assert.ElementsMatch(t, []any{"p1.png", "p1b.png"}, names(t, images, "url"))

		cover, err := posts.Find(1).One(ctx, "cover")
		require.NoError(t, err)
		require.NotNil(t, cover)

		none, err := posts.Find(2).One(ctx, "cover")
		require.NoError(t, err)
		assert.Nil(t, none)
	})

	t.Run("morph to one query per type", func(t *testing.T) {
		var images *Collection
		queries := w.countQueries(t, func() {
			var err error
			images, err = w.repo(w.images).Query(ctx).With("imageable").Get(ctx)
			require.NoError(t, err)
		})
		// images, posts, videos
		assert.Equal(t, 3, queries)

		owner, err := images.Find(3).One(ctx, "imageable")
		require.NoError(t, err)
		require.NotNil(t, owner)
		assert.Equal(t, "videos", owner.Schema().Table())
		assert.Equal(t, "intro", owner.Attr("title"))

		owner, err = images.Find(1).One(ctx, "imageable")
		require.NoError(t, err)
		assert.Equal(t, "hello", owner.Attr("title"))
	})

	t.Run("morph to many and morphed by many", func(t *testing.T) {
		var tags *Collection
		queries := w.countQueries(t, func() {
			var err error
			tags, err = w.repo(w.tags).Query(ctx).With("posts", "videos").Get(ctx)
			require.NoError(t, err)
		})
		// tags + (pivot, related) for each relation
		assert.Equal(t, 5, queries)

		goPosts, err := tags.Find(1).Many(ctx, "posts")
		require.NoError(t, err)
		assert.Equal(t, []any{"hello"}, names(t, goPosts, "title"))
		goVideos, err := tags.Find(1).Many(ctx, "videos")
		require.NoError(t, err)
		assert.Equal(t, []any{"intro"}, names(t, goVideos, "title"))
		sqlVideos, err := tags.Find(2).Many(ctx, "videos")
		require.NoError(t, err)
		assert.True(t, sqlVideos.IsEmpty())

		post, err := w.repo(w.posts).Find(ctx, 1)
		require.NoError(t, err)
		postTags, err := post.Many(ctx, "tags")
		require.NoError(t, err)
		assert.ElementsMatch(t, []any{"go", "sql"}, names(t, postTags, "name"))
	})

	t.Run("unknown morph type", func(t *testing.T) {
		execAll(t, w.mgr, `INSERT INTO images (id, url, imageable_type, imageable_id) VALUES (9, 's.png', 'songs', 1)`)
		_, err := w.repo(w.images).Query(ctx).With("imageable").Get(ctx)
		var morphErr *UnknownMorphTypeError
		require.ErrorAs(t, err, &morphErr)
		assert.Equal(t, "songs", morphErr.Type)
		assert.True(t, IsUnknownRelation(err))
	})
}

func TestEagerLoadConstraints(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	projects, err := w.repo(w.projects).Query(ctx).
		WithFunc("tasks", func(b *db.Builder) *db.Builder { return b.Where("tasks.done", db.Equal, 1) }).
		With("openTasks").
		Get(ctx)
	require.NoError(t, err)

	alpha := projects.Find(1)
	done, err := alpha.Many(ctx, "tasks")
	require.NoError(t, err)
	assert.Equal(t, []any{"design"}, names(t, done, "title"))

	open, err := alpha.Many(ctx, "openTasks")
	require.NoError(t, err)
	assert.Equal(t, []any{"build"}, names(t, open, "title"))
}

func TestEagerLoadUnknownRelation(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	_, err := w.repo(w.projects).Query(ctx).With("tasks.nope").Get(ctx)
	var unknown *UnknownRelationError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "tasks", unknown.Schema)
	assert.Equal(t, "nope", unknown.Relation)
	assert.Equal(t, "tasks.nope", unknown.Path)
	assert.True(t, errors.Is(err, ErrUnknownRelation))
}

func TestLoadReplacesCachedRelation(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	project, err := w.repo(w.projects).Find(ctx, 1)
	require.NoError(t, err)

	queries := w.countQueries(t, func() {
		_, err := project.Many(ctx, "tasks")
		require.NoError(t, err)
		_, err = project.Many(ctx, "tasks")
		require.NoError(t, err)
	})
	assert.Equal(t, 1, queries, "lazy results are cached on the model")

	execAll(t, w.mgr, `INSERT INTO tasks (project_id, title) VALUES (1, 'test')`)
	require.NoError(t, project.Load(ctx, "tasks"))
	tasks, err := project.Many(ctx, "tasks")
	require.NoError(t, err)
	assert.Equal(t, 3, tasks.Len())
}

func TestStrictMode(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	strict := NewSchema("projects", WithStrictMode("owner")).
		Relate("tasks", func(m *Model) *Relation { return m.HasMany(w.tasks, "project_id", "") }).
		Relate("owner", func(m *Model) *Relation { return m.BelongsTo(w.users, "owner_id", "") })
	repo := w.repo(strict)

	project, err := repo.Find(ctx, 1)
	require.NoError(t, err)

	_, err = project.Many(ctx, "tasks")
	require.Error(t, err)
	assert.True(t, IsStrictModeViolation(err))
	assert.EqualError(t, err, "Strict Mode: Relation 'tasks' must be eager loaded")

	owner, err := project.One(ctx, "owner")
	require.NoError(t, err, "allowed relations may load lazily")
	assert.Equal(t, "ana", owner.Attr("name"))

	require.NoError(t, project.Load(ctx, "tasks"))
	tasks, err := project.Many(ctx, "tasks")
	require.NoError(t, err)
	assert.Equal(t, 2, tasks.Len())

	all, err := repo.All(ctx)
	require.NoError(t, err)
	require.NoError(t, all.Load(ctx, "tasks"))
	for _, p := range all.Values() {
		_, err := p.Many(ctx, "tasks")
		assert.NoError(t, err)
	}

	v, err := project.Get(ctx, "tasks")
	require.NoError(t, err)
	assert.Equal(t, KindMany, v.Kind)
}

func TestWithCount(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	var projects *Collection
	queries := w.countQueries(t, func() {
		var err error
		projects, err = w.repo(w.projects).Query(ctx).
			WithCount("tasks", "members").
			WithCountFunc("openTasks", nil).
			OrderBy("id", false).
			Get(ctx)
		require.NoError(t, err)
	})
	assert.Equal(t, 4, queries)

	alpha := projects.Find(1)
	assert.Equal(t, int64(2), alpha.Attr("tasks_count"))
	assert.Equal(t, int64(2), alpha.Attr("members_count"))
	assert.Equal(t, int64(1), alpha.Attr("openTasks_count"))
	assert.False(t, alpha.IsDirty())

	gamma := projects.Find(3)
	assert.Equal(t, int64(0), gamma.Attr("tasks_count"))
	assert.Equal(t, int64(0), gamma.Attr("members_count"))

	countries, err := w.repo(w.countries).Query(ctx).WithCount("posts", "users").Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), countries.Find(1).Attr("posts_count"))
	assert.Equal(t, int64(2), countries.Find(1).Attr("users_count"))

	images, err := w.repo(w.images).Query(ctx).WithCount("imageable").Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), images.Find(3).Attr("imageable_count"))

	project, err := w.repo(w.projects).Find(ctx, 2)
	require.NoError(t, err)
	require.NoError(t, project.LoadCount(ctx, "tasks"))
	assert.Equal(t, int64(1), project.Attr("tasks_count"))

	_, err = w.repo(w.projects).Query(ctx).WithCount("tasks.comments").Get(ctx)
	assert.True(t, IsUnknownRelation(err), "counts do not nest")
}
