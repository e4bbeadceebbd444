// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested page or node does not exist.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict indicates optimistic concurrency kept losing the race
	// for the next version slot and the retry budget ran out.
	ErrVersionConflict = errors.New("version conflict")

	// ErrPermissionDenied indicates the caller lacks write (or view) capability on a node.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrImmutableNode indicates the node is a registration and cannot be modified.
	ErrImmutableNode = errors.New("node is a registration")

	// ErrConflict indicates the target key is already occupied by a different page.
	ErrConflict = errors.New("page name conflict")
)

// Page name validation sentinels.
var (
	// ErrEmptyName indicates a blank page name.
	ErrEmptyName = errors.New("page name cannot be empty")

	// ErrNameTooLong indicates a page name over MaxNameLength characters.
	ErrNameTooLong = errors.New("page name cannot be more than 100 characters")

	// ErrInvalidName indicates a page name with disallowed characters.
	// Concrete errors are *InvalidNameError.
	ErrInvalidName = errors.New("invalid page name")

	// ErrCannotRename indicates an attempt to rename the reserved home page.
	ErrCannotRename = errors.New("page cannot be renamed")
)

// MaxNameLength is the maximum page name length in characters.
const MaxNameLength = 100

// InvalidNameError carries a human-readable reason why a name was rejected.
type InvalidNameError struct {
	Reason string
}

func (e *InvalidNameError) Error() string {
	return ErrInvalidName.Error() + ": " + e.Reason
}

// Is makes errors.Is(err, ErrInvalidName) hold for any *InvalidNameError.
func (e *InvalidNameError) Is(target error) bool { return target == ErrInvalidName }
