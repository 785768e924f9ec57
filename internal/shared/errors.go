package shared

import "errors"

// Error taxonomy shared by every document module. Callers match with errors.Is.
var (
	// ErrNotFound indicates the entity or its scope does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed or out-of-range input caught before persistence.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates a unique constraint violation, e.g. a duplicate document number.
	ErrConflict = errors.New("conflict")
	// ErrInternal indicates a store or transport failure.
	ErrInternal = errors.New("internal error")
)
