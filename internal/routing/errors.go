package routing

import "errors"

// Domain errors for the routing package.
var (
	// ErrNoControl is returned when a receiver's device advertises no
	// connection control. Resolution never guesses an endpoint.
	ErrNoControl = errors.New("routing: device has no connection control")

	// ErrRoutePending is returned when a route change for the same
	// receiver is already in flight.
	ErrRoutePending = errors.New("routing: route change already in progress for receiver")

	// ErrInvalidRoute is returned for malformed route requests.
	ErrInvalidRoute = errors.New("routing: invalid route")

	// ErrSnapshotNotFound is returned when a snapshot does not exist.
	ErrSnapshotNotFound = errors.New("routing: snapshot not found")

	// ErrSnapshotExists is returned when saving a snapshot under a taken name.
	ErrSnapshotExists = errors.New("routing: snapshot already exists")

	// ErrNoRepository is returned by snapshot persistence calls when no
	// repository is configured.
	ErrNoRepository = errors.New("routing: no snapshot repository configured")
)
