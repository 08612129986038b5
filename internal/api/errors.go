package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dhpke/nmos-core/internal/connection"
	"github.com/dhpke/nmos-core/internal/grain"
	"github.com/dhpke/nmos-core/internal/registry"
	"github.com/dhpke/nmos-core/internal/resource"
	"github.com/dhpke/nmos-core/internal/routing"
)

// Error represents a structured error response.
type Error struct {
	Status  int      `json:"status"`
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Hints   []string `json:"hints,omitempty"`
}

// Common error codes.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeUnauthorized   = "unauthorised"
	ErrCodeForbidden      = "forbidden"
	ErrCodeConflict       = "conflict"
	ErrCodeInternal       = "internal_error"
	ErrCodeValidation     = "validation_error"
	ErrCodeUnavailable    = "service_unavailable"
	ErrCodeUpstream       = "upstream_error"
	ErrCodeUnprocessable  = "unprocessable"
	ErrCodeMethodNotAllow = "method_not_allowed"
	ErrCodeRateLimited    = "rate_limited"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string, hints ...string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
		Hints:   hints,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string, hints ...string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message, hints...)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeForbidden writes a 403 error response.
func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

// writeUnavailable writes a 503 error response.
func writeUnavailable(w http.ResponseWriter, message string, hints ...string) {
	writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, message, hints...)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDomainError maps a domain error onto a status, code and remediation
// hints. Unknown errors are logged by the caller and become 500s.
func writeDomainError(w http.ResponseWriter, err error) {
	var patchErr *connection.PatchError
	var constraintErr *connection.ConstraintError

	switch {
	case errors.As(err, &constraintErr):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error(),
			"check "+constraintErr.Field()+" against the endpoint's constraints")
	case errors.As(err, &patchErr):
		hints := []string{}
		if patchErr.Field != "" {
			hints = append(hints, "fix field "+patchErr.Field)
		}
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error(), hints...)
	case errors.Is(err, connection.ErrNotFound),
		errors.Is(err, connection.ErrNoTransportFile),
		errors.Is(err, resource.ErrNotFound):
		writeNotFound(w, err.Error())
	case errors.Is(err, grain.ErrInvalidGrain):
		writeBadRequest(w, err.Error(), "supply at least one entry with a path")

	case errors.Is(err, routing.ErrInvalidRoute):
		writeBadRequest(w, err.Error())
	case errors.Is(err, routing.ErrRoutePending):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error(),
			"wait for the in-flight change on this receiver to finish")
	case errors.Is(err, routing.ErrNoControl):
		writeError(w, http.StatusUnprocessableEntity, ErrCodeUnprocessable, err.Error(),
			"the receiver's device must advertise an IS-05 control in its controls list")
	case errors.Is(err, routing.ErrSnapshotNotFound):
		writeNotFound(w, err.Error())
	case errors.Is(err, routing.ErrSnapshotExists):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error(),
			"delete the existing snapshot or choose another name")
	case errors.Is(err, routing.ErrNoRepository):
		writeUnavailable(w, err.Error(), "configure database.path to enable snapshots")

	case errors.Is(err, registry.ErrNotFound):
		writeNotFound(w, err.Error())
	case errors.Is(err, registry.ErrTransient):
		writeError(w, http.StatusBadGateway, ErrCodeUpstream, err.Error(),
			"check that the registry is reachable", "retry the request")
	case errors.Is(err, registry.ErrRejected):
		writeError(w, http.StatusBadGateway, ErrCodeUpstream, err.Error(),
			"check registry credentials and the registry's logs")
	case errors.Is(err, registry.ErrConfig):
		writeUnavailable(w, err.Error(), "check registry.url in the node configuration")
	default:
		writeInternalError(w, "internal server error")
	}
}
