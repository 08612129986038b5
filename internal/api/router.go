package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dhpke/nmos-core/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Connection API, consumed by controllers on the media network.
	r.Route("/x-nmos/connection", func(r chi.Router) {
		r.Get("/", listing(s.node.Config.Node.ConnectionAPIVersion + "/"))
		r.Route("/{version}", func(r chi.Router) {
			r.Use(s.versionGuard(s.node.Config.Node.ConnectionAPIVersion))
			r.Get("/", listing("single/"))
			r.Route("/single", func(r chi.Router) {
				r.Get("/", listing("senders/", "receivers/"))
				r.Route("/{role}", func(r chi.Router) {
					r.Get("/", s.handleListEndpoints)
					r.Route("/{id}", func(r chi.Router) {
						r.Get("/", s.handleEndpointIndex)
						r.Get("/constraints", s.handleConstraints)
						r.Get("/staged", s.handleGetStaged)
						r.Patch("/staged", s.handlePatchStaged)
						r.Get("/active", s.handleGetActive)
						r.Get("/transporttype", s.handleTransportType)
						r.Get("/transportfile", s.handleTransportFile)
					})
				})
			})
		})
	})

	// Node API
	r.Route("/x-nmos/node", func(r chi.Router) {
		r.Get("/", listing(s.node.Config.Node.NodeAPIVersion + "/"))
		r.Route("/{version}", func(r chi.Router) {
			r.Use(s.versionGuard(s.node.Config.Node.NodeAPIVersion))
			r.Get("/", listing("self/", "devices/", "sources/", "flows/", "senders/", "receivers/"))
			r.Get("/self", s.handleNodeSelf)
			r.Get("/{collection}", s.handleListResources)
			r.Get("/{collection}/{id}", s.handleGetResource)
		})
	})

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// System metrics (no auth required for basic monitoring)
		r.Get("/metrics", s.handleMetrics)

		// WebSocket (auth via token query parameter, validated in handler)
		r.Get("/ws", s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Route("/registration", func(r chi.Router) {
				r.Get("/", s.handleRegistrationStatus)
				r.With(s.requirePermission(auth.PermRegistrationOps)).Post("/register", s.handleReregister)
			})

			r.Route("/routing", func(r chi.Router) {
				r.With(s.requirePermission(auth.PermRoutingRead)).Get("/matrix", s.handleMatrix)
				r.Group(func(r chi.Router) {
					r.Use(s.requirePermission(auth.PermRoutingOperate))
					r.Post("/refresh", s.handleRefresh)
					r.Post("/route", s.handleRoute)
					r.Post("/disconnect", s.handleDisconnect)
				})
			})

			r.Route("/snapshots", func(r chi.Router) {
				r.With(s.requirePermission(auth.PermRoutingRead)).Get("/", s.handleListSnapshots)
				r.Group(func(r chi.Router) {
					r.Use(s.requirePermission(auth.PermSnapshotManage))
					r.Post("/", s.handleSaveSnapshot)
					r.Delete("/{name}", s.handleDeleteSnapshot)
					r.Post("/{name}/load", s.handleLoadSnapshot)
				})
			})

			r.Route("/events", func(r chi.Router) {
				r.With(s.requirePermission(auth.PermEventsRead)).Get("/recent", s.handleRecentEvents)
				r.With(s.requirePermission(auth.PermEventsPublish)).Post("/publish", s.handlePublishEvent)
			})

			r.With(s.requirePermission(auth.PermAuditRead)).Get("/audit", s.handleListAudit)
		})
	})

	return r
}

// versionGuard returns 404 for API versions the node does not serve.
func (s *Server) versionGuard(version string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if chi.URLParam(r, "version") != version {
				writeNotFound(w, "unsupported API version "+chi.URLParam(r, "version"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// listing returns a handler that writes a fixed NMOS-style path listing.
func listing(entries ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, entries)
	}
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	if s.node.Registrar != nil && s.node.Registrar.Status().LastError != "" {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": s.version,
		"node_id": s.node.NodeID,
	})
}
