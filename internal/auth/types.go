package auth

import (
	"errors"
	"regexp"
)

// subjectPattern is the accepted format for token subjects: alphanumeric,
// dots, hyphens and underscores, 1-64 characters.
var subjectPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,64}$`)

// IsValidSubject reports whether s can be used as a token subject.
func IsValidSubject(s string) bool {
	return subjectPattern.MatchString(s)
}

// Role is an authorisation tier of the admin API.
type Role string

const (
	// RoleViewer reads the matrix, snapshots, events and audit trail.
	RoleViewer Role = "viewer"

	// RoleOperator additionally executes routes, loads snapshots and
	// publishes events.
	RoleOperator Role = "operator"

	// RoleAdmin additionally saves and deletes snapshots and drives
	// registration.
	RoleAdmin Role = "admin"
)

// ValidRoles lists every role, least privileged first.
var ValidRoles = []Role{RoleViewer, RoleOperator, RoleAdmin}

// IsValidRole returns true if r is a known role.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// Principal is the authenticated caller of a request.
type Principal struct {
	Subject string `json:"subject"`
	Role    Role   `json:"role"`
}

// Sentinel errors.
var (
	ErrTokenInvalid = errors.New("auth: invalid token")
	ErrInvalidRole  = errors.New("auth: invalid role")
	ErrForbidden    = errors.New("auth: insufficient permissions")
)
