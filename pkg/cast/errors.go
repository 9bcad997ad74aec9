package cast

import (
	"errors"
	"fmt"
)

// Sentinel errors for cast operations
var (
	// ErrUnknownCastType is returned when a cast token is neither built-in nor registered
	ErrUnknownCastType = errors.New("unknown cast type")

	// ErrInvalidCastValue is returned when a raw value cannot be converted to the cast type
	ErrInvalidCastValue = errors.New("invalid cast value")
)

// UnknownCastTypeError names the offending cast token
type UnknownCastTypeError struct {
	Token string
}

func (e *UnknownCastTypeError) Error() string {
	return fmt.Sprintf("unknown cast type '%s'", e.Token)
}

func (e *UnknownCastTypeError) Is(target error) bool {
	return target == ErrUnknownCastType
}

// InvalidCastValueError describes a value that could not be converted
type InvalidCastValueError struct {
	Token string
	Value any
	Err   error
}

func (e *InvalidCastValueError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cannot cast %T(%v) to '%s': %v", e.Value, e.Value, e.Token, e.Err)
	}
	return fmt.Sprintf("cannot cast %T(%v) to '%s'", e.Value, e.Value, e.Token)
}

func (e *InvalidCastValueError) Is(target error) bool {
	return target == ErrInvalidCastValue
}

func (e *InvalidCastValueError) Unwrap() error {
	return e.Err
}

// IsUnknownCastType checks if an error is an unknown cast type error
func IsUnknownCastType(err error) bool {
	return errors.Is(err, ErrUnknownCastType)
}

// IsInvalidCastValue checks if an error is an invalid cast value error
func IsInvalidCastValue(err error) bool {
	return errors.Is(err, ErrInvalidCastValue)
}

func invalid(token string, value any, err error) error {
	return &InvalidCastValueError{Token: token, Value: value, Err: err}
}
