package repository

import (
	"errors"
	"fmt"
)

// Sentinel errors for entity operations
var (
	// ErrRecordNotFound is returned when a lookup matches no row (or the row is scoped out)
	ErrRecordNotFound = errors.New("record not found")

	// ErrUnknownRelation is returned when a relation name is not declared on the schema
	ErrUnknownRelation = errors.New("unknown relation")

	// ErrStrictModeViolation is returned on lazy access to a relation that must be eager loaded
	ErrStrictModeViolation = errors.New("strict mode violation")

	// ErrManualPrimaryKeyRequired is returned when inserting a non auto-increment entity without a key
	ErrManualPrimaryKeyRequired = errors.New("manual primary key required")

	// ErrCloneOfNonExistentEntity is returned when cloning an entity that was never persisted
	ErrCloneOfNonExistentEntity = errors.New("cannot clone non-existent entity")

	// ErrNotPivotRelation is returned by pivot maintenance on relations without a pivot table
	ErrNotPivotRelation = errors.New("relation has no pivot table")
)

// RecordNotFoundError names the table and key of a failed lookup
type RecordNotFoundError struct {
	Table string
	Key   any
}

func (e *RecordNotFoundError) Error() string {
	if e.Key == nil {
		return fmt.Sprintf("no record found in '%s'", e.Table)
	}
	return fmt.Sprintf("no record found in '%s' for key %v", e.Table, e.Key)
}

func (e *RecordNotFoundError) Is(target error) bool {
	return target == ErrRecordNotFound
}

// UnknownRelationError names the undeclared relation and the path it appeared in
type UnknownRelationError struct {
	Schema   string
	Relation string
	Path     string
}

func (e *UnknownRelationError) Error() string {
	if e.Path != "" && e.Path != e.Relation {
		return fmt.Sprintf("unknown relation '%s' on '%s' (in path '%s')", e.Relation, e.Schema, e.Path)
	}
	return fmt.Sprintf("unknown relation '%s' on '%s'", e.Relation, e.Schema)
}

func (e *UnknownRelationError) Is(target error) bool {
	return target == ErrUnknownRelation
}

// UnknownMorphTypeError is returned when a stored discriminator has no entry in the morph map
type UnknownMorphTypeError struct {
	Relation string
	Type     any
}

func (e *UnknownMorphTypeError) Error() string {
	return fmt.Sprintf("relation '%s' has no morph target for type '%v'", e.Relation, e.Type)
}

func (e *UnknownMorphTypeError) Is(target error) bool {
	return target == ErrUnknownRelation
}

// StrictModeViolationError names the relation that was accessed lazily
type StrictModeViolationError struct {
	Relation string
}

func (e *StrictModeViolationError) Error() string {
	return fmt.Sprintf("Strict Mode: Relation '%s' must be eager loaded", e.Relation)
}

func (e *StrictModeViolationError) Is(target error) bool {
	return target == ErrStrictModeViolation
}

// ManualPrimaryKeyRequiredError describes a missing key on a non auto-increment insert
type ManualPrimaryKeyRequiredError struct {
	Table      string
	PrimaryKey string
}

func (e *ManualPrimaryKeyRequiredError) Error() string {
	return fmt.Sprintf("this model does not use an auto-incrementing primary key (%s.%s); you must assign a primary key value before saving",
		e.Table, e.PrimaryKey)
}

func (e *ManualPrimaryKeyRequiredError) Is(target error) bool {
	return target == ErrManualPrimaryKeyRequired
}

// CloneOfNonExistentEntityError is returned by Model.Clone on a new model
type CloneOfNonExistentEntityError struct{}

func (e *CloneOfNonExistentEntityError) Error() string {
	return "cannot clone an entity that does not exist in storage"
}

func (e *CloneOfNonExistentEntityError) Is(target error) bool {
	return target == ErrCloneOfNonExistentEntity
}

// IsRecordNotFound checks if an error is a record not found error
func IsRecordNotFound(err error) bool {
	return errors.Is(err, ErrRecordNotFound)
}

// IsUnknownRelation checks if an error is an unknown relation error
func IsUnknownRelation(err error) bool {
	return errors.Is(err, ErrUnknownRelation)
}

// IsStrictModeViolation checks if an error is a strict mode violation
func IsStrictModeViolation(err error) bool {
	return errors.Is(err, ErrStrictModeViolation)
}

// IsManualPrimaryKeyRequired checks if an error is a missing manual primary key error
func IsManualPrimaryKeyRequired(err error) bool {
	return errors.Is(err, ErrManualPrimaryKeyRequired)
}

// IsCloneOfNonExistentEntity checks if an error is a clone of a non-existent entity
func IsCloneOfNonExistentEntity(err error) bool {
	return errors.Is(err, ErrCloneOfNonExistentEntity)
}
