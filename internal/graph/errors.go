package graph

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a node, field or supertag reference cannot be
// resolved. Callers match it with errors.Is.
var ErrNotFound = errors.New("not found")

// ErrNotInitialized is returned when a backend method is called before the
// backend has been opened.
var ErrNotInitialized = errors.New("backend not initialized")

// notFoundf wraps ErrNotFound with a description of the missing reference.
func notFoundf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
}
