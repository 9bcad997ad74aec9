package repository

import (
	"context"
	"fmt"
)

// Collection is an ordered set of models under stable integer keys.
// Keys survive removals: forgetting key 1 of [0 1 2] leaves keys 0 and 2,
// and the next Push uses key 3.
type Collection struct {
	keys  []int
	items map[int]*Model
	next  int
}

// NewCollection returns a collection holding models under keys 0..n-1
func NewCollection(models ...*Model) *Collection {
	c := &Collection{items: make(map[int]*Model, len(models))}
	for _, m := range models {
		c.Push(m)
	}
	return c
}

// Push appends m under the next free key and returns that key
func (c *Collection) Push(m *Model) int {
	key := c.next
	c.Put(key, m)
	return key
}

// Put stores m under key. An existing key keeps its position; a new key is
// appended and moves the next Push key past it.
func (c *Collection) Put(key int, m *Model) {
	if c.items == nil {
		c.items = make(map[int]*Model)
	}
	if _, ok := c.items[key]; !ok {
		c.keys = append(c.keys, key)
	}
	c.items[key] = m
	if key >= c.next {
		c.next = key + 1
	}
}

// Get returns the model stored under key
func (c *Collection) Get(key int) (*Model, bool) {
	m, ok := c.items[key]
	return m, ok
}

// Has reports whether key is present
func (c *Collection) Has(key int) bool {
	_, ok := c.items[key]
	return ok
}

// Forget removes key; the remaining keys are unchanged
func (c *Collection) Forget(key int) {
	if _, ok := c.items[key]; !ok {
		return
	}
	delete(c.items, key)
	for i, k := range c.keys {
		if k == key {
			c.keys = append(c.keys[:i], c.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in order
func (c *Collection) Keys() []int {
	out := make([]int, len(c.keys))
	copy(out, c.keys)
	return out
}

// Values returns the models in order
func (c *Collection) Values() []*Model {
	out := make([]*Model, 0, len(c.keys))
	for _, k := range c.keys {
		out = append(out, c.items[k])
	}
	return out
}

// Len returns the number of models
func (c *Collection) Len() int {
	return len(c.keys)
}

// Count is an alias of Len
func (c *Collection) Count() int {
	return c.Len()
}

// IsEmpty reports whether the collection holds no models
func (c *Collection) IsEmpty() bool {
	return len(c.keys) == 0
}

// Filter returns the models fn accepts, under their original keys
func (c *Collection) Filter(fn func(key int, m *Model) bool) *Collection {
	out := &Collection{items: make(map[int]*Model), next: c.next}
	for _, k := range c.keys {
		if m := c.items[k]; fn(k, m) {
			out.keys = append(out.keys, k)
			out.items[k] = m
		}
	}
	return out
}

// Exclude returns the models whose primary key is not in ids
func (c *Collection) Exclude(ids ...any) *Collection {
	skip := make(map[any]struct{}, len(ids))
	for _, id := range ids {
		skip[normalizeKey(id)] = struct{}{}
	}
	return c.Filter(func(_ int, m *Model) bool {
		_, excluded := skip[normalizeKey(m.Key())]
		return !excluded
	})
}

// Each calls fn in order until it returns false
func (c *Collection) Each(fn func(key int, m *Model) bool) {
	for _, k := range c.keys {
		if !fn(k, c.items[k]) {
			return
		}
	}
}

// Column returns the non-nil typed values of an attribute. A value that
// fails its cast stops the walk with the cast error.
func (c *Collection) Column(name string) ([]any, error) {
	var out []any
	for _, m := range c.Values() {
		v, err := m.attrs.Get(name)
		if err != nil {
			return nil, fmt.Errorf("%s: attribute %s: %w", m, name, err)
		}
		if v != nil {
			out = append(out, v)
		}
	}
	return out, nil
}

// IDs returns the primary keys of the models that have one
func (c *Collection) IDs() []any {
	var out []any
	for _, m := range c.Values() {
		if k := m.Key(); k != nil {
			out = append(out, k)
		}
	}
	return out
}

// First returns the first model whose raw attributes equal every condition,
// nil when none does. No conditions returns the first model.
func (c *Collection) First(conditions map[string]any) *Model {
	for _, m := range c.Values() {
		if matches(m, conditions) {
			return m
		}
	}
	return nil
}

func matches(m *Model, conditions map[string]any) bool {
	for col, want := range conditions {
		got, ok := m.attrs.Raw(col)
		if !ok || !rawEqual(got, want) {
			return false
		}
	}
	return true
}

// Find returns the model with primary key id
func (c *Collection) Find(id any) *Model {
	want := normalizeKey(id)
	for _, m := range c.Values() {
		if normalizeKey(m.Key()) == want {
			return m
		}
	}
	return nil
}

// Load eager loads relation paths onto every model with one batch per level
func (c *Collection) Load(ctx context.Context, paths ...string) error {
	return c.LoadWith(ctx, nil, paths...)
}

// LoadWith eager loads constrained paths onto every model
func (c *Collection) LoadWith(ctx context.Context, constraints map[string]Constraint, paths ...string) error {
	models := c.Values()
	if len(models) == 0 {
		return nil
	}
	tree := newEagerTree(paths, constraints)
	for _, m := range models {
		m.Unload(tree.order...)
	}
	return eagerLoad(ctx, models, tree)
}

// LoadCount sets <relation>_count on every model
func (c *Collection) LoadCount(ctx context.Context, relations ...string) error {
	return loadCounts(ctx, c.Values(), countRequests(relations))
}

// ToMaps converts every model with Model.ToMap
func (c *Collection) ToMaps() ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(c.keys))
	for _, m := range c.Values() {
		row, err := m.ToMap()
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}
