package api

import (
	"errors"
	"io"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"

	"github.com/dhpke/nmos-core/internal/connection"
)

// endpointFromRequest resolves {role} and {id}, writing a 404 on failure.
func (s *Server) endpointFromRequest(w http.ResponseWriter, r *http.Request) (*connection.Endpoint, bool) {
	role, ok := connection.ParseRole(chi.URLParam(r, "role"))
	if !ok {
		writeNotFound(w, "unknown endpoint collection "+chi.URLParam(r, "role"))
		return nil, false
	}
	e, err := s.node.Connections.Get(role, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return nil, false
	}
	return e, true
}

// handleListEndpoints lists the sender or receiver IDs, NMOS style.
func (s *Server) handleListEndpoints(w http.ResponseWriter, r *http.Request) {
	role, ok := connection.ParseRole(chi.URLParam(r, "role"))
	if !ok {
		writeNotFound(w, "unknown endpoint collection "+chi.URLParam(r, "role"))
		return
	}
	ids := s.node.Connections.IDs(role)
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id+"/")
	}
	writeJSON(w, http.StatusOK, out)
}

// handleEndpointIndex lists the sub-resources of one endpoint.
func (s *Server) handleEndpointIndex(w http.ResponseWriter, r *http.Request) {
	e, ok := s.endpointFromRequest(w, r)
	if !ok {
		return
	}
	entries := []string{"constraints/", "staged/", "active/", "transporttype/"}
	if e.Role() == connection.RoleSender {
		entries = append(entries, "transportfile/")
	}
	slices.Sort(entries)
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleConstraints(w http.ResponseWriter, r *http.Request) {
	e, ok := s.endpointFromRequest(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, e.Constraints())
}

func (s *Server) handleGetStaged(w http.ResponseWriter, r *http.Request) {
	e, ok := s.endpointFromRequest(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, e.Staged())
}

func (s *Server) handleGetActive(w http.ResponseWriter, r *http.Request) {
	e, ok := s.endpointFromRequest(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, e.Active())
}

func (s *Server) handleTransportType(w http.ResponseWriter, r *http.Request) {
	e, ok := s.endpointFromRequest(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, e.TransportType())
}

// handleTransportFile serves a sender's session description. Receivers
// have no transportfile resource.
func (s *Server) handleTransportFile(w http.ResponseWriter, r *http.Request) {
	e, ok := s.endpointFromRequest(w, r)
	if !ok {
		return
	}
	if e.Role() != connection.RoleSender {
		writeNotFound(w, "receivers have no transport file")
		return
	}
	data, contentType, err := e.TransportFile()
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // Best-effort write to response
	io.WriteString(w, data)
}

// handlePatchStaged merges a partial connection state into the staged
// parameters. Immediate activations complete before the response; scheduled
// ones are answered with 202.
func (s *Server) handlePatchStaged(w http.ResponseWriter, r *http.Request) {
	role, ok := connection.ParseRole(chi.URLParam(r, "role"))
	if !ok {
		writeNotFound(w, "unknown endpoint collection "+chi.URLParam(r, "role"))
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrCodeBadRequest, "request body too large")
			return
		}
		writeBadRequest(w, "reading request body: "+err.Error())
		return
	}

	state, err := s.node.Connections.Patch(role, chi.URLParam(r, "id"), body)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	status := http.StatusOK
	if state.Activation.Mode.Scheduled() {
		status = http.StatusAccepted
	}
	writeJSON(w, status, state)
}

// writeFailure writes the mapped domain error, logging anything that
// ends up as a 500.
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
	writeDomainError(sw, err)
	if sw.status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"path", r.URL.Path,
			"error", err,
			"request_id", requestID(r.Context()),
		)
	}
}
