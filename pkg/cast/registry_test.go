package cast

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	cases := []struct {
		token string
		raw   any
	}{
		{Int, int64(42)},
		{Int, int64(-7)},
		{Float, 3.25},
		{String, "hello"},
		{Bool, int64(1)},
		{Bool, int64(0)},
		{Array, `{"a":1,"b":[true,null]}`},
		{JSON, `[1,2,3]`},
		{Date, "2024-02-29"},
		{DateTime, "2024-02-29 13:45:10"},
		{Timestamp, "1700000000"},
	}

	for _, tc := range cases {
		t.Run(tc.token, func(t *testing.T) {
			typed, err := r.Cast(tc.raw, tc.token)
			require.NoError(t, err)
			back, err := r.Uncast(typed, tc.token)
			require.NoError(t, err)
			assert.Equal(t, tc.raw, back)
		})
	}
}

func TestNilShortCircuits(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	for _, token := range r.Tokens() {
		v, err := r.Cast(nil, token)
		require.NoError(t, err, token)
		assert.Nil(t, v, token)

		v, err = r.Uncast(nil, token)
		require.NoError(t, err, token)
		assert.Nil(t, v, token)
	}
}

func TestUnknownCastType(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	_, err := r.Cast("anything", "unknown_type_token")
	require.Error(t, err)
	assert.True(t, IsUnknownCastType(err))
	assert.Contains(t, err.Error(), "'unknown_type_token'")

	for _, synonym := range []string{"integer", "boolean", "double"} {
		_, err := r.Cast("1", synonym)
		assert.True(t, IsUnknownCastType(err), synonym)

		_, err = r.Uncast(1, synonym)
		assert.True(t, IsUnknownCastType(err), synonym)
	}
}

func TestInvalidJSON(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	_, err := r.Cast("{invalid json}", Array)
	require.Error(t, err)
	assert.True(t, IsInvalidCastValue(err))

	v, err := r.Cast(map[string]any{"a": 1}, JSON)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1}, v)
}

func TestBool(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	for _, raw := range []any{1, "1", "true", "YES", "On", true, int64(1)} {
		v, err := r.Cast(raw, Bool)
		require.NoError(t, err)
		assert.Equal(t, true, v, "%v", raw)
	}
	for _, raw := range []any{0, "0", "false", "No", "OFF", "", false} {
		v, err := r.Cast(raw, Bool)
		require.NoError(t, err)
		assert.Equal(t, false, v, "%v", raw)
	}

	_, err := r.Cast("maybe", Bool)
	assert.True(t, IsInvalidCastValue(err))
	_, err = r.Cast(2, Bool)
	assert.True(t, IsInvalidCastValue(err))
}

func TestDates(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	existing := time.Date(2023, 5, 1, 8, 30, 0, 0, time.UTC)
	v, err := r.Cast(existing, DateTime)
	require.NoError(t, err)
	assert.Equal(t, existing, v)

	v, err = r.Cast("2023-05-01", Date)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC), v)

	_, err = r.Cast("not a date at all", DateTime)
	assert.True(t, IsInvalidCastValue(err))
}

func TestTimestamp(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	at := time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)

	for _, raw := range []any{int64(1700000000), 1700000000, "1700000000", at, "2023-11-14 22:13:20"} {
		v, err := r.Cast(raw, Timestamp)
		require.NoError(t, err)
		assert.Equal(t, int64(1700000000), v, "%v", raw)
	}

	s, err := r.Uncast(int64(1700000000), Timestamp)
	require.NoError(t, err)
	assert.Equal(t, "1700000000", s)
}

func TestScalars(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	v, err := r.Cast("12", Int)
	require.NoError(t, err)
	assert.Equal(t, int64(12), v)

	v, err = r.Cast([]byte("2.5"), Float)
	require.NoError(t, err)
	assert.Equal(t, 2.5, v)

	v, err = r.Cast(12, String)
	require.NoError(t, err)
	assert.Equal(t, "12", v)

	_, err = r.Cast("twelve", Int)
	assert.True(t, IsInvalidCastValue(err))
}

func TestCustomTransform(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	upper := TransformFuncs{
		CastFunc: func(raw any) (any, error) {
			return strings.ToUpper(raw.(string)), nil
		},
		UncastFunc: func(value any) (any, error) {
			return strings.ToLower(value.(string)), nil
		},
	}
	require.NoError(t, r.Register("upper", upper))
	assert.True(t, r.Has("upper"))

	v, err := r.Cast("acme", "upper")
	require.NoError(t, err)
	assert.Equal(t, "ACME", v)

	v, err = r.Uncast("ACME", "upper")
	require.NoError(t, err)
	assert.Equal(t, "acme", v)

	v, err = r.Cast(nil, "upper")
	require.NoError(t, err)
	assert.Nil(t, v)

	assert.Error(t, r.Register(Int, upper))
	assert.Error(t, r.Register("", upper))
}
