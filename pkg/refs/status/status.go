// Package status declares the error taxonomy shared by ref stores,
// the migration engine and the verification engine.
//
// NOTE: such constants are located in a separate package to avoid
// creating undue cyclical dependencies between pkg/refs and its backends.
package status

import "github.com/oneconcern/refmon/pkg/errors"

var (
	// ErrInvalidArgument indicates a request that cannot be honoured as stated, e.g. migrating to the active format
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrLockBusy indicates that the store lock could not be acquired within the allowed wait
	ErrLockBusy = errors.New("lock busy")

	// ErrMalformed indicates a ref, a ref name or a stored record that cannot be parsed
	ErrMalformed = errors.New("malformed")

	// ErrNotFound indicates that the requested ref does not exist
	ErrNotFound = errors.New("not found")

	// ErrDepthExceeded indicates that a symbolic ref chain is longer than the allowed depth
	ErrDepthExceeded = errors.New("symbolic ref depth exceeded")

	// ErrCyclic indicates that a symbolic ref chain loops back onto itself
	ErrCyclic = errors.New("symbolic ref cycle")

	// ErrVerificationMismatch indicates that a migrated store does not reproduce its source
	ErrVerificationMismatch = errors.New("verification mismatch")

	// ErrIOFailure indicates a failure of the underlying file system
	ErrIOFailure = errors.New("i/o failure")

	// ErrStructuralCorruption indicates a damaged on-disk structure (checksum, index, ordering)
	ErrStructuralCorruption = errors.New("structural corruption")
)
