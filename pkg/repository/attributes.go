package repository

import (
	"bytes"
	"maps"
	"reflect"
	"sort"
	"time"

	"github.com/ammar0144/arcore/pkg/cast"
)

// AttributeStore holds the current and original column values of one entity.
// Values are stored in their raw storage form; declared casts are applied on
// read and reversed on write.
type AttributeStore struct {
	registry *cast.Registry
	casts    map[string]string
	defaults map[string]any
	current  map[string]any
	original map[string]any
}

// NewAttributeStore creates an empty store
func NewAttributeStore(registry *cast.Registry, casts map[string]string, defaults map[string]any) *AttributeStore {
	if registry == nil {
		registry = cast.Default()
	}
	return &AttributeStore{
		registry: registry,
		casts:    casts,
		defaults: defaults,
		current:  make(map[string]any),
		original: make(map[string]any),
	}
}

// Get returns the typed value of a column: the cast raw value when a cast is
// declared, the raw value otherwise, and the configured default for unset columns.
func (a *AttributeStore) Get(name string) (any, error) {
	raw, ok := a.current[name]
	if !ok {
		return a.defaults[name], nil
	}
	if token, ok := a.casts[name]; ok {
		return a.registry.Cast(raw, token)
	}
	return raw, nil
}

// Set stores value for a column, uncasting it first when a cast is declared
func (a *AttributeStore) Set(name string, value any) error {
	if token, ok := a.casts[name]; ok {
		raw, err := a.registry.Uncast(value, token)
		if err != nil {
			return err
		}
		a.current[name] = raw
		return nil
	}
	a.current[name] = value
	return nil
}

// SetRaw stores a storage-form value without casting
func (a *AttributeStore) SetRaw(name string, raw any) {
	a.current[name] = raw
}

// Has reports whether the column has a value (possibly nil)
func (a *AttributeStore) Has(name string) bool {
	_, ok := a.current[name]
	return ok
}

// Raw returns the storage-form value of a column
func (a *AttributeStore) Raw(name string) (any, bool) {
	v, ok := a.current[name]
	return v, ok
}

// Original returns the value captured at hydration or the last save
func (a *AttributeStore) Original(name string) (any, bool) {
	v, ok := a.original[name]
	return v, ok
}

// Keys returns the set columns, sorted
func (a *AttributeStore) Keys() []string {
	keys := make([]string, 0, len(a.current))
	for k := range a.current {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// All returns a typed copy of every attribute, defaults included
func (a *AttributeStore) All() (map[string]any, error) {
	out := make(map[string]any, len(a.current)+len(a.defaults))
	for k, v := range a.defaults {
		out[k] = v
	}
	for k := range a.current {
		v, err := a.Get(k)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

// RawAll returns a copy of the storage-form attributes
func (a *AttributeStore) RawAll() map[string]any {
	return maps.Clone(a.current)
}

// Dirty returns the raw values that differ from the original snapshot.
// Columns with a declared cast compare in their cast form, so a hydrated
// time.Time and the formatted string of the same instant are not a change.
func (a *AttributeStore) Dirty() map[string]any {
	dirty := make(map[string]any)
	for k, v := range a.current {
		orig, ok := a.original[k]
		if !ok || !a.sameValue(k, orig, v) {
			dirty[k] = v
		}
	}
	return dirty
}

func (a *AttributeStore) sameValue(name string, orig, cur any) bool {
	if rawEqual(orig, cur) {
		return true
	}
	token, ok := a.casts[name]
	if !ok || orig == nil || cur == nil {
		return false
	}
	oc, err := a.registry.Cast(orig, token)
	if err != nil {
		return false
	}
	cc, err := a.registry.Cast(cur, token)
	if err != nil {
		return false
	}
	return rawEqual(oc, cc)
}

// IsDirty reports whether any of cols (or any column when none given) changed
func (a *AttributeStore) IsDirty(cols ...string) bool {
	dirty := a.Dirty()
	if len(cols) == 0 {
		return len(dirty) > 0
	}
	for _, c := range cols {
		if _, ok := dirty[c]; ok {
			return true
		}
	}
	return false
}

// Sync makes the current values the new original snapshot
func (a *AttributeStore) Sync() {
	a.original = maps.Clone(a.current)
}

// hydrate replaces both current and original values with a storage row
func (a *AttributeStore) hydrate(row map[string]any) {
	a.current = maps.Clone(row)
	if a.current == nil {
		a.current = make(map[string]any)
	}
	a.original = maps.Clone(a.current)
}

// setSynced stores a value in both current and original so it never shows as dirty
func (a *AttributeStore) setSynced(name string, raw any) {
	a.current[name] = raw
	a.original[name] = raw
}

// restore replaces the current values with a snapshot taken by RawAll
func (a *AttributeStore) restore(snapshot map[string]any) {
	a.current = maps.Clone(snapshot)
	if a.current == nil {
		a.current = make(map[string]any)
	}
}

func (a *AttributeStore) forget(name string) {
	delete(a.current, name)
	delete(a.original, name)
}

// rawEqual compares storage values, treating integers of different Go types
// and []byte/string pairs as equal when they hold the same value.
func rawEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if ai, ok := asInt64(a); ok {
		bi, ok := asInt64(b)
		return ok && ai == bi
	}
	switch av := a.(type) {
	case []byte:
		return bytesOrString(b, av)
	case string:
		if bb, ok := b.([]byte); ok {
			return av == string(bb)
		}
	case time.Time:
		if bt, ok := b.(time.Time); ok {
			return av.Equal(bt)
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func bytesOrString(v any, b []byte) bool {
	switch t := v.(type) {
	case []byte:
		return bytes.Equal(t, b)
	case string:
		return t == string(b)
	}
	return false
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint:
		if uint64(n) <= 1<<63-1 {
			return int64(n), true
		}
	case uint64:
		if n <= 1<<63-1 {
			return int64(n), true
		}
	}
	return 0, false
}
