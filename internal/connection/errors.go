package connection

import (
	"errors"
	"fmt"
)

// Domain errors for the connection package.
var (
	// ErrInvalidPatch is wrapped by every *PatchError.
	ErrInvalidPatch = errors.New("connection: invalid patch")

	// ErrConstraintViolation is wrapped by every *ConstraintError.
	ErrConstraintViolation = errors.New("connection: constraint violation")

	// ErrNotFound is returned for unknown endpoint IDs.
	ErrNotFound = errors.New("connection: endpoint not found")

	// ErrExists is returned when adding an endpoint twice.
	ErrExists = errors.New("connection: endpoint already exists")

	// ErrNoTransportFile is returned when an endpoint has no transport file.
	ErrNoTransportFile = errors.New("connection: no transport file")
)

// PatchError names the patch field that could not be accepted.
type PatchError struct {
	Field  string
	Reason string
}

func (e *PatchError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrInvalidPatch, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", ErrInvalidPatch, e.Field, e.Reason)
}

func (e *PatchError) Unwrap() error { return ErrInvalidPatch }

// ConstraintError reports a staged value outside its constraint.
type ConstraintError struct {
	Leg    int
	Param  string
	Value  any
	Reason string
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("%s: transport_params[%d].%s = %v: %s", ErrConstraintViolation, e.Leg, e.Param, e.Value, e.Reason)
}

func (e *ConstraintError) Unwrap() error { return ErrConstraintViolation }

// Field returns the JSON path of the offending parameter.
func (e *ConstraintError) Field() string {
	return fmt.Sprintf("transport_params[%d].%s", e.Leg, e.Param)
}
