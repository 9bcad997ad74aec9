// Package cast converts raw storage values to typed in-memory values and back.
//
// The built-in tokens are int, float, string, bool, array, json, date,
// datetime and timestamp. Matching is exact: common synonyms such as
// "integer" or "boolean" are rejected with an UnknownCastTypeError. Custom
// transforms can be registered under any other name.
package cast

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jinzhu/now"
)

// Built-in cast tokens
const (
	Int       = "int"
	Float     = "float"
	String    = "string"
	Bool      = "bool"
	Array     = "array"
	JSON      = "json"
	Date      = "date"
	DateTime  = "datetime"
	Timestamp = "timestamp"
)

// Storage layouts for date and datetime values
const (
	DateLayout     = "2006-01-02"
	DateTimeLayout = "2006-01-02 15:04:05"
)

var builtins = map[string]struct{}{
	Int: {}, Float: {}, String: {}, Bool: {}, Array: {}, JSON: {},
	Date: {}, DateTime: {}, Timestamp: {},
}

// parseLayouts are tried before falling back to the lenient parser
var parseLayouts = []string{
	DateTimeLayout,
	DateLayout,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
}

// Transform is a user supplied column transform with the same contract as
// the built-in casts: nil never reaches it.
type Transform interface {
	Cast(raw any) (any, error)
	Uncast(value any) (any, error)
}

// TransformFuncs adapts a pair of functions to the Transform interface
type TransformFuncs struct {
	CastFunc   func(raw any) (any, error)
	UncastFunc func(value any) (any, error)
}

// Cast implements Transform
func (t TransformFuncs) Cast(raw any) (any, error) {
	if t.CastFunc == nil {
		return raw, nil
	}
	return t.CastFunc(raw)
}

// Uncast implements Transform
func (t TransformFuncs) Uncast(value any) (any, error) {
	if t.UncastFunc == nil {
		return value, nil
	}
	return t.UncastFunc(value)
}

// Registry dispatches cast tokens to built-in conversions or named transforms
type Registry struct {
	mu     sync.RWMutex
	custom map[string]Transform
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// NewRegistry creates a registry that knows only the built-in tokens
func NewRegistry() *Registry {
	return &Registry{custom: make(map[string]Transform)}
}

// Default returns the process-wide registry
func Default() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// Register adds a named transform. Built-in tokens cannot be overridden.
func (r *Registry) Register(name string, t Transform) error {
	if name == "" {
		return fmt.Errorf("transform name cannot be empty")
	}
	if t == nil {
		return fmt.Errorf("transform %q cannot be nil", name)
	}
	if _, ok := builtins[name]; ok {
		return fmt.Errorf("cannot override built-in cast type %q", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.custom[name] = t
	return nil
}

// Has reports whether the token is built-in or registered
func (r *Registry) Has(token string) bool {
	if _, ok := builtins[token]; ok {
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.custom[token]
	return ok
}

// Tokens returns every known token, sorted
func (r *Registry) Tokens() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tokens := make([]string, 0, len(builtins)+len(r.custom))
	for t := range builtins {
		tokens = append(tokens, t)
	}
	for t := range r.custom {
		tokens = append(tokens, t)
	}
	sort.Strings(tokens)
	return tokens
}

func (r *Registry) transform(token string) (Transform, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.custom[token]
	return t, ok
}

// Cast converts a raw storage value into its typed form
func (r *Registry) Cast(raw any, token string) (any, error) {
	if !r.Has(token) {
		return nil, &UnknownCastTypeError{Token: token}
	}
	if raw == nil {
		return nil, nil
	}

	switch token {
	case Int:
		return toInt(token, raw)
	case Float:
		return toFloat(token, raw)
	case String:
		return toString(raw), nil
	case Bool:
		return toBool(token, raw)
	case Array, JSON:
		return decodeJSON(token, raw)
	case Date, DateTime:
		return toTime(token, raw)
	case Timestamp:
		return toTimestamp(token, raw)
	}

	if t, ok := r.transform(token); ok {
		return t.Cast(raw)
	}
	return nil, &UnknownCastTypeError{Token: token}
}

// Uncast converts a typed value back into its storage form
func (r *Registry) Uncast(value any, token string) (any, error) {
	if !r.Has(token) {
		return nil, &UnknownCastTypeError{Token: token}
	}
	if value == nil {
		return nil, nil
	}

	switch token {
	case Int:
		return toInt(token, value)
	case Float:
		return toFloat(token, value)
	case String:
		return toString(value), nil
	case Bool:
		b, err := toBool(token, value)
		if err != nil {
			return nil, err
		}
		if b.(bool) {
			return int64(1), nil
		}
		return int64(0), nil
	case Array, JSON:
		return encodeJSON(token, value)
	case Date, DateTime:
		t, err := toTime(token, value)
		if err != nil {
			return nil, err
		}
		if token == Date {
			return t.(time.Time).Format(DateLayout), nil
		}
		return t.(time.Time).Format(DateTimeLayout), nil
	case Timestamp:
		ts, err := toTimestamp(token, value)
		if err != nil {
			return nil, err
		}
		return strconv.FormatInt(ts.(int64), 10), nil
	}

	if t, ok := r.transform(token); ok {
		return t.Uncast(value)
	}
	return nil, &UnknownCastTypeError{Token: token}
}

func toInt(token string, v any) (any, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint:
		return int64(n), nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return nil, invalid(token, v, fmt.Errorf("overflows int64"))
		}
		return int64(n), nil
	case float32:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case bool:
		if n {
			return int64(1), nil
		}
		return int64(0), nil
	case []byte:
		return toInt(token, string(n))
	case string:
		s := strings.TrimSpace(n)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, invalid(token, v, err)
		}
		return int64(f), nil
	}
	return nil, invalid(token, v, nil)
}

func toFloat(token string, v any) (any, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case []byte:
		return toFloat(token, string(n))
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return nil, invalid(token, v, err)
		}
		return f, nil
	}
	i, err := toInt(token, v)
	if err != nil {
		return nil, invalid(token, v, nil)
	}
	return float64(i.(int64)), nil
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case bool:
		if s {
			return "1"
		}
		return ""
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(s), 'f', -1, 32)
	case time.Time:
		return s.Format(DateTimeLayout)
	case fmt.Stringer:
		return s.String()
	}
	return fmt.Sprint(v)
}

func toBool(token string, v any) (any, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case []byte:
		return toBool(token, string(b))
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "1", "true", "yes", "on":
			return true, nil
		case "0", "false", "no", "off", "":
			return false, nil
		}
		return nil, invalid(token, v, nil)
	}
	i, err := toInt(token, v)
	if err != nil {
		return nil, invalid(token, v, nil)
	}
	switch i.(int64) {
	case 1:
		return true, nil
	case 0:
		return false, nil
	}
	return nil, invalid(token, v, nil)
}

func decodeJSON(token string, v any) (any, error) {
	var data []byte
	switch s := v.(type) {
	case string:
		data = []byte(s)
	case []byte:
		data = s
	case map[string]any, []any:
		return v, nil
	default:
		// Other maps and slices are already structured; normalize them through JSON
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, invalid(token, v, err)
		}
		data = encoded
	}

	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, invalid(token, v, err)
	}
	return decoded, nil
}

func encodeJSON(token string, v any) (any, error) {
	switch s := v.(type) {
	case string:
		if !json.Valid([]byte(s)) {
			return nil, invalid(token, v, fmt.Errorf("not valid JSON"))
		}
		return s, nil
	case []byte:
		return encodeJSON(token, string(s))
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, invalid(token, v, err)
	}
	return string(data), nil
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range parseLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return now.ParseInLocation(time.UTC, s)
}

func toTime(token string, v any) (any, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case *time.Time:
		if t == nil {
			return nil, nil
		}
		return *t, nil
	case []byte:
		return toTime(token, string(t))
	case string:
		parsed, err := parseTime(t)
		if err != nil {
			return nil, invalid(token, v, err)
		}
		return parsed, nil
	}
	return nil, invalid(token, v, nil)
}

func toTimestamp(token string, v any) (any, error) {
	switch t := v.(type) {
	case time.Time:
		return t.Unix(), nil
	case *time.Time:
		if t == nil {
			return nil, invalid(token, v, nil)
		}
		return t.Unix(), nil
	case []byte:
		return toTimestamp(token, string(t))
	case string:
		s := strings.TrimSpace(t)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, nil
		}
		parsed, err := parseTime(s)
		if err != nil {
			return nil, invalid(token, v, err)
		}
		return parsed.Unix(), nil
	case float32, float64:
		i, err := toInt(token, v)
		if err != nil {
			return nil, err
		}
		return i, nil
	}
	i, err := toInt(token, v)
	if err != nil {
		return nil, invalid(token, v, nil)
	}
	return i, nil
}
