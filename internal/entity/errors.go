package entity

import "errors"

// Domain-specific errors for entity operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrEntityNotFound is returned when an entity does not exist in the registry.
	ErrEntityNotFound = errors.New("entity: not found")

	// ErrInvalidEntity is returned when a record is missing required fields.
	ErrInvalidEntity = errors.New("entity: invalid entity")
)
