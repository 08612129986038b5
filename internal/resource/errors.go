package resource

import "errors"

// Domain errors for the resource package.
var (
	// ErrNotFound is returned when a resource ID is not in the graph.
	ErrNotFound = errors.New("resource: not found")

	// ErrExists is returned when adding a resource whose ID is already present.
	ErrExists = errors.New("resource: already exists")

	// ErrInvalid is returned when a resource is missing required linkage.
	ErrInvalid = errors.New("resource: invalid")
)
