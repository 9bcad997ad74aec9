package redis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// nullMarker is stored for lookups that matched no row
var nullMarker = []byte{0xc0} // msgpack nil

// RowKey builds the cache key for a single-row lookup:
// <prefix>:<table>:find:<xxhash of statement and bindings>
func (m *Manager) RowKey(table, query string, args []any) (string, error) {
	digest := xxhash.New()
	_, _ = digest.WriteString(query)

	if len(args) > 0 {
		encoded, err := msgpack.Marshal(args)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrSerializationFailed, err)
		}
		_, _ = digest.Write([]byte{0})
		_, _ = digest.Write(encoded)
	}

	return strings.Join([]string{
		m.config.prefix(),
		table,
		cacheFindSegment,
		strconv.FormatUint(digest.Sum64(), 16),
	}, cacheKeySeparator), nil
}

// GetRow looks up a cached row. found is true for cached rows and for cached
// "not found" markers, in which case row is nil.
func (m *Manager) GetRow(ctx context.Context, table, query string, args []any) (row map[string]any, found bool, err error) {
	key, err := m.RowKey(table, query, args)
	if err != nil {
		return nil, false, err
	}

	data, err := m.Get(ctx, key)
	if errors.Is(err, ErrKeyNotFound) {
		if m.config.Logging.LogCacheMisses {
			m.logger.DebugContext(ctx, "row cache miss", "table", table, "key", key)
		}
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if bytes.Equal(data, nullMarker) {
		m.metrics.missingHit()
		return nil, true, nil
	}

	row, err = DecodeRow(data)
	if err != nil {
		m.metrics.failure()
		return nil, false, err
	}
	m.metrics.rowHit()
	if m.config.Logging.LogCacheHits {
		m.logger.DebugContext(ctx, "row cache hit", "table", table, "key", key)
	}
	return row, true, nil
}

// SetRow caches a row. A nil row is stored as a "not found" marker when
// NullCacheTTL is configured and skipped otherwise.
func (m *Manager) SetRow(ctx context.Context, table, query string, args []any, row map[string]any) error {
	key, err := m.RowKey(table, query, args)
	if err != nil {
		return err
	}

	if row == nil {
		if m.config.NullCacheTTL <= 0 {
			return nil
		}
		return m.SetWithTTL(ctx, key, nullMarker, m.config.NullCacheTTL)
	}

	data, err := EncodeRow(row)
	if err != nil {
		return err
	}
	return m.Set(ctx, key, data)
}

// InvalidateTable clears every cached lookup for a table
func (m *Manager) InvalidateTable(ctx context.Context, table string) error {
	total := 0
	for _, pattern := range m.tablePatterns(table) {
		n, err := m.InvalidatePattern(ctx, pattern)
		total += n
		if err != nil {
			return err
		}
	}

	if m.config.Logging.LogInvalidations {
		m.logger.InfoContext(ctx, "row cache invalidated", "table", table, "keys", total)
	}
	return nil
}

// EncodeRow serializes a row with msgpack
func EncodeRow(row map[string]any) ([]byte, error) {
	data, err := msgpack.Marshal(row)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerializationFailed, err)
	}
	return data, nil
}

// DecodeRow deserializes a msgpack row. Integers come back as int64 and
// floats as float64, matching what the database drivers return.
func DecodeRow(data []byte) (map[string]any, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)

	var row map[string]any
	if err := dec.Decode(&row); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerializationFailed, err)
	}
	for k, v := range row {
		row[k] = normalize(v)
	}
	return row, nil
}

func normalize(v any) any {
	switch n := v.(type) {
	case uint64:
		if n <= math.MaxInt64 {
			return int64(n)
		}
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case uint8:
		return int64(n)
	case uint16:
		return int64(n)
	case uint32:
		return int64(n)
	case float32:
		return float64(n)
	}
	return v
}
