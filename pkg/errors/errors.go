package errors

import (
	"errors"
	"fmt"
)

// Standard errors
var (
	// ErrNotFound is returned when a requested record is not found
	ErrNotFound = errors.New("record not found")

	// ErrExternalCall is returned when an external embedding or chat
	// completion call fails; callers with a fallback path should recover
	// from this locally
	ErrExternalCall = errors.New("external capability call failed")

	// ErrSerialization is returned when cached or stored JSON cannot be
	// decoded; the offending entry is discarded and treated as absent
	ErrSerialization = errors.New("serialization failure")

	// ErrDimensionMismatch is returned when two vectors of unequal length
	// are compared; this indicates a data-integrity bug and is never
	// silently coerced
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrMigration is returned when a schema migration fails; the process
	// must not continue against a partially migrated schema
	ErrMigration = errors.New("schema migration failed")

	// ErrStorageIO is returned on a read/write error against the primary
	// store; cache tiers recover from storage errors locally, the primary
	// store propagates them
	ErrStorageIO = errors.New("storage I/O failure")
)

// Wrap wraps an error with additional context
func Wrap(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's tree matches target.
// This is a convenience function that wraps errors.Is
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target, and if so, sets
// target to that error value and returns true. Otherwise, it returns false.
// This is a convenience function that wraps errors.As
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
