package store

import "errors"

// Sentinel errors returned by store operations. Callers match them
// with errors.Is; the wrapped message carries the detail.
var (
	// ErrValidation indicates the caller passed input that fails a
	// store's field or size constraints.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrCapacity indicates a hard cap that cannot be resolved by
	// eviction, such as the non-terminal task limit.
	ErrCapacity = errors.New("capacity exceeded")

	// ErrPersistence indicates the backing file could not be read,
	// parsed, or written.
	ErrPersistence = errors.New("persistence failure")
)

func isNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
