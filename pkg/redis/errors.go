package redis

import (
	"errors"
	"fmt"
)

// Sentinel errors for row cache operations
var (
	// ErrCacheDisabled is returned by commands issued on a disabled manager
	ErrCacheDisabled = errors.New("redis: row cache disabled")

	// ErrClientNotInitialized is returned when the manager has no client
	ErrClientNotInitialized = errors.New("redis: client not initialized")

	// ErrKeyNotFound is returned on a cache miss (not an error condition)
	ErrKeyNotFound = errors.New("redis: key not found")

	// ErrConnectionFailed wraps a failed ping
	ErrConnectionFailed = errors.New("redis: connection failed")

	// ErrSerializationFailed wraps msgpack encode and decode failures of cached rows
	ErrSerializationFailed = errors.New("redis: row encoding failed")
)

// OpError is a failed redis command together with the key or pattern it touched
type OpError struct {
	Op  string
	Key string
	Err error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("redis %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// IsCacheDisabled reports whether err comes from a disabled cache
func IsCacheDisabled(err error) bool {
	return errors.Is(err, ErrCacheDisabled)
}
