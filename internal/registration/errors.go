package registration

import "errors"

var (
	// ErrRegistrationFailed is returned when a registerAll batch aborts.
	// The wrapped error carries the registry failure kind.
	ErrRegistrationFailed = errors.New("registration: batch failed")

	// ErrStopped is returned by calls made after Stop.
	ErrStopped = errors.New("registration: stopped")
)
