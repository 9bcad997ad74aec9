package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPivotAttachDetach(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	gamma, err := w.repo(w.projects).Find(ctx, 3)
	require.NoError(t, err)
	members, err := gamma.Relation("members")
	require.NoError(t, err)

	require.NoError(t, members.Attach(ctx, 1, 3))
	users, err := gamma.Many(ctx, "members")
	require.NoError(t, err)
	assert.ElementsMatch(t, []any{"ana", "cat"}, names(t, users, "name"))

	detached, err := members.Detach(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(1), detached)
	assert.False(t, gamma.RelationLoaded("members"), "pivot writes drop the cached relation")

	users, err = gamma.Many(ctx, "members")
	require.NoError(t, err)
	assert.Equal(t, []any{"ana"}, names(t, users, "name"))

	detached, err = members.Detach(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), detached)

	alpha, err := w.repo(w.projects).Find(ctx, 1)
	require.NoError(t, err)
	users, err = alpha.Many(ctx, "members")
	require.NoError(t, err)
	assert.Equal(t, 2, users.Len(), "detaching all only touches the parent's rows")
}

func TestPivotSync(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	alpha, err := w.repo(w.projects).Find(ctx, 1)
	require.NoError(t, err)
	members, err := alpha.Relation("members")
	require.NoError(t, err)

	result, err := members.Sync(ctx, 2, 3, "3")
	require.NoError(t, err)
	assert.Equal(t, []any{3}, result.Attached)
	assert.Equal(t, []any{int64(1)}, result.Detached)

	users, err := alpha.Many(ctx, "members")
	require.NoError(t, err)
	assert.ElementsMatch(t, []any{"ben", "cat"}, names(t, users, "name"))

	result, err = members.Sync(ctx, 2, 3)
	require.NoError(t, err)
	assert.Empty(t, result.Attached)
	assert.Empty(t, result.Detached)
}

func TestPivotMorphToMany(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	second, err := w.repo(w.posts).Find(ctx, 2)
	require.NoError(t, err)
	tags, err := second.Relation("tags")
	require.NoError(t, err)
	require.NoError(t, tags.Attach(ctx, 2))

	attached, err := second.Many(ctx, "tags")
	require.NoError(t, err)
	assert.Equal(t, []any{"sql"}, names(t, attached, "name"))

	hello, err := w.repo(w.posts).Find(ctx, 1)
	require.NoError(t, err)
	helloTags, err := hello.Relation("tags")
	require.NoError(t, err)
	_, err = helloTags.Detach(ctx)
	require.NoError(t, err)

	intro, err := w.repo(w.videos).Find(ctx, 1)
	require.NoError(t, err)
	videoTags, err := intro.Many(ctx, "tags")
	require.NoError(t, err)
	assert.Equal(t, []any{"go"}, names(t, videoTags, "name"), "detach is limited to the parent's morph type")

	goTag, err := w.repo(w.tags).Find(ctx, 1)
	require.NoError(t, err)
	posts, err := goTag.Many(ctx, "posts")
	require.NoError(t, err)
	assert.True(t, posts.IsEmpty())
}

func TestPivotRequiresPivotRelation(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	alpha, err := w.repo(w.projects).Find(ctx, 1)
	require.NoError(t, err)
	tasks, err := alpha.Relation("tasks")
	require.NoError(t, err)

	assert.ErrorIs(t, tasks.Attach(ctx, 1), ErrNotPivotRelation)
	_, err = tasks.Detach(ctx)
	assert.ErrorIs(t, err, ErrNotPivotRelation)
	_, err = tasks.Sync(ctx, 1)
	assert.ErrorIs(t, err, ErrNotPivotRelation)

	unsaved, err := w.repo(w.projects).New(map[string]any{"name": "draft"})
	require.NoError(t, err)
	members, err := unsaved.Relation("members")
	require.NoError(t, err)
	assert.Error(t, members.Attach(ctx, 1))
}
