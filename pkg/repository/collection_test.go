package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTags(t *testing.T, names ...string) *Collection {
	t.Helper()
	repo := NewRepository(nil, NewSchema("tags"))
	c := NewCollection()
	for i, name := range names {
		m, err := repo.New(map[string]any{"id": int64(i + 1), "name": name})
		require.NoError(t, err)
		c.Push(m)
	}
	return c
}

func TestCollectionStableKeys(t *testing.T) {
	c := newTags(t, "go", "sql", "redis")
	assert.Equal(t, []int{0, 1, 2}, c.Keys())

	c.Forget(1)
	assert.Equal(t, []int{0, 2}, c.Keys())
	assert.False(t, c.Has(1))
	m, ok := c.Get(2)
	require.True(t, ok)
	assert.Equal(t, "redis", m.Attr("name"))

	extra := newTags(t, "yaml").Values()[0]
	assert.Equal(t, 3, c.Push(extra), "keys are never reused")

	c.Put(10, extra)
	assert.Equal(t, 11, c.Push(extra))
	c.Put(0, extra)
	assert.Equal(t, []int{0, 2, 3, 10, 11}, c.Keys(), "replacing a key keeps its position")
	assert.Equal(t, 5, c.Count())

	c.Forget(42)
	assert.Equal(t, 5, c.Len())
}

func TestCollectionFilterKeepsKeys(t *testing.T) {
	c := newTags(t, "go", "sql", "redis", "yaml")

	odd := c.Filter(func(key int, _ *Model) bool { return key%2 == 1 })
	assert.Equal(t, []int{1, 3}, odd.Keys())
	assert.Equal(t, []any{"sql", "yaml"}, names(t, odd, "name"))

	rest := c.Exclude(2, "3")
	assert.Equal(t, []int{0, 3}, rest.Keys())
	assert.Equal(t, []any{int64(1), int64(4)}, rest.IDs())

	assert.True(t, c.Filter(func(int, *Model) bool { return false }).IsEmpty())
	assert.Equal(t, 4, c.Len(), "filtering leaves the source alone")
}

func TestCollectionLookups(t *testing.T) {
	c := newTags(t, "go", "sql", "redis")

	var seen []int
	c.Each(func(key int, _ *Model) bool {
		seen = append(seen, key)
		return key < 1
	})
	assert.Equal(t, []int{0, 1}, seen)

	assert.Equal(t, "sql", c.First(map[string]any{"name": "sql"}).Attr("name"))
	assert.Equal(t, "redis", c.First(map[string]any{"id": 3}).Attr("name"), "int and int64 keys compare equal")
	assert.Equal(t, "go", c.First(nil).Attr("name"))
	assert.Nil(t, c.First(map[string]any{"name": "cobol"}))

	assert.Equal(t, "sql", c.Find("2").Attr("name"))
	assert.Nil(t, c.Find(9))

	rows, err := c.ToMaps()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": int64(1), "name": "go"}, rows[0])
}

func TestCollectionColumnSkipsNil(t *testing.T) {
	repo := NewRepository(nil, NewSchema("tags"))
	named, err := repo.New(map[string]any{"name": "go"})
	require.NoError(t, err)
	unnamed, err := repo.New(map[string]any{"name": nil})
	require.NoError(t, err)

	c := NewCollection(named, unnamed)
	assert.Equal(t, []any{"go"}, names(t, c, "name"))
	assert.Empty(t, c.IDs(), "unsaved models have no key")
}

func TestEmptyCollectionLoad(t *testing.T) {
	c := NewCollection()
	require.NoError(t, c.Load(context.Background(), "anything"))
	require.NoError(t, c.LoadCount(context.Background(), "anything"))
}
