// Package registry is a client for the registration and query APIs of an
// NMOS registry.
//
// Every call runs under its own timeout: a short one for heartbeats and
// GETs, a longer one for registrations and deletions. Failures are
// converted at the call site into one of ErrTransient, ErrNotFound,
// ErrRejected or ErrConfig, so callers never handle raw transport errors.
package registry
