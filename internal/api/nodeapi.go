package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dhpke/nmos-core/internal/resource"
)

// collections maps node API collection names to resource types.
var collections = map[string]resource.Type{
	"devices":   resource.TypeDevice,
	"sources":   resource.TypeSource,
	"flows":     resource.TypeFlow,
	"senders":   resource.TypeSender,
	"receivers": resource.TypeReceiver,
}

func (s *Server) handleNodeSelf(w http.ResponseWriter, _ *http.Request) {
	self, err := s.node.Graph.Get(s.node.NodeID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, self)
}

func (s *Server) handleListResources(w http.ResponseWriter, r *http.Request) {
	t, ok := collections[chi.URLParam(r, "collection")]
	if !ok {
		writeNotFound(w, "unknown collection "+chi.URLParam(r, "collection"))
		return
	}
	items := s.node.Graph.List(t)
	if items == nil {
		items = []resource.Resource{}
	}
	writeJSON(w, http.StatusOK, items)
}

// handleGetResource returns one resource. The ID must belong to the
// addressed collection.
func (s *Server) handleGetResource(w http.ResponseWriter, r *http.Request) {
	t, ok := collections[chi.URLParam(r, "collection")]
	if !ok {
		writeNotFound(w, "unknown collection "+chi.URLParam(r, "collection"))
		return
	}
	res, err := s.node.Graph.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if res.Kind() != t {
		writeNotFound(w, "no "+string(t)+" with id "+chi.URLParam(r, "id"))
		return
	}
	writeJSON(w, http.StatusOK, res)
}
