package registry

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds. Every failure returned by this package wraps exactly one of
// them; callers branch with errors.Is and never see raw transport errors.
var (
	// ErrTransient covers timeouts, refused connections, 5xx, 408 and 429.
	// Retry with backoff.
	ErrTransient = errors.New("registry: transient failure")

	// ErrNotFound is a 404. On heartbeat it means the registry has
	// forgotten the node.
	ErrNotFound = errors.New("registry: not found")

	// ErrRejected is any other non-2xx response.
	ErrRejected = errors.New("registry: request rejected")

	// ErrConfig means the client cannot be used as configured.
	ErrConfig = errors.New("registry: configuration error")
)

// Error describes a failed registry call.
type Error struct {
	// Op is a short description of the call, e.g. "POST resource".
	Op string

	// Status is the HTTP status, or 0 when no response was received.
	Status int

	// Kind is one of the ErrXxx kinds above.
	Kind error

	// Err is the underlying transport error, if any.
	Err error

	// Body is a truncated copy of the response body, if any.
	Body string
}

func (e *Error) Error() string {
	switch {
	case e.Status != 0 && e.Body != "":
		return fmt.Sprintf("%s: %s: status %d: %s", e.Kind, e.Op, e.Status, e.Body)
	case e.Status != 0:
		return fmt.Sprintf("%s: %s: status %d", e.Kind, e.Op, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// StatusError converts a non-2xx status into an *Error.
func StatusError(op string, status int, body string) error {
	var kind error
	switch {
	case status == http.StatusNotFound:
		kind = ErrNotFound
	case status >= http.StatusInternalServerError,
		status == http.StatusRequestTimeout,
		status == http.StatusTooManyRequests:
		kind = ErrTransient
	default:
		kind = ErrRejected
	}
	return &Error{Op: op, Status: status, Kind: kind, Body: body}
}

// TransportError converts a failure to get any response into an *Error.
// Timeouts are transient like any other network failure; cancellation by the
// caller stays visible through errors.Is(err, context.Canceled).
func TransportError(op string, err error) error {
	return &Error{Op: op, Kind: ErrTransient, Err: err}
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}
