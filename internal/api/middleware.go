package api

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dhpke/nmos-core/internal/audit"
	"github.com/dhpke/nmos-core/internal/auth"
)

type contextKey string

const (
	ctxKeyRequestID contextKey = "request_id"
	ctxKeyPrincipal contextKey = "principal"
)

const (
	headerRequestID = "X-Request-ID"

	// maxRequestIDLen bounds a client-supplied request id before it reaches
	// the logs.
	maxRequestIDLen = 128

	// maxRequestBodySize caps PATCH staging bodies, bulk arrays and snapshot
	// payloads alike.
	maxRequestBodySize = 1 << 20

	nmosPathPrefix = "/x-nmos/"

	corsMethods = "GET, PUT, POST, PATCH, DELETE, OPTIONS"
	corsHeaders = "Authorization, Content-Type, X-Request-ID"
	corsMaxAge  = "86400"
)

// requestIDMiddleware tags the request with the caller's X-Request-ID, or a
// fresh UUID when none (or an oversized one) was sent, and echoes it back.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" || len(id) > maxRequestIDLen {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyRequestID, id)))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string) //nolint:errcheck // empty on miss
	return id
}

// loggingMiddleware writes one line per request. Controller reads of the
// x-nmos trees are polled constantly, so they log at debug; server errors
// log at warn.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		log := s.logger.Info
		switch {
		case sw.status >= http.StatusInternalServerError:
			log = s.logger.Warn
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, nmosPathPrefix):
			log = s.logger.Debug
		}
		log("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"bytes", sw.written,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", requestID(r.Context()),
		)
	})
}

// recoveryMiddleware turns a handler panic into a 500 with the standard
// error body.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			s.logger.Error("handler panic",
				"panic", rec,
				"method", r.Method,
				"path", r.URL.Path,
				"request_id", requestID(r.Context()),
			)
			writeInternalError(w, "internal server error")
		}()
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware answers cross-origin requests. The x-nmos trees are open to
// every origin so browser-based controllers can reach any node; the admin
// API honours api.cors.allowed_origins. OPTIONS is answered here and never
// reaches a handler.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			allow := ""
			switch {
			case strings.HasPrefix(r.URL.Path, nmosPathPrefix):
				allow = "*"
			case s.isAllowedOrigin(origin):
				allow = origin
				w.Header().Add("Vary", "Origin")
			}
			if allow != "" {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", allow)
				h.Set("Access-Control-Allow-Methods", corsMethods)
				h.Set("Access-Control-Allow-Headers", corsHeaders)
				h.Set("Access-Control-Expose-Headers", headerRequestID)
				h.Set("Access-Control-Max-Age", corsMaxAge)
			}
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// isAllowedOrigin reports whether the admin API accepts origin. No
// configured origins means any origin, as in a lab setup.
func (s *Server) isAllowedOrigin(origin string) bool {
	allowed := s.cfg.CORS.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	for _, o := range allowed {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

func (s *Server) bodySizeLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		}
		next.ServeHTTP(w, r)
	})
}

// authMiddleware resolves the bearer token to a principal and records it as
// the audit actor for everything downstream.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := s.authenticate(w, r, bearerToken(r))
		if !ok {
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyPrincipal, principal)
		ctx = audit.WithActor(ctx, principal.Subject, audit.SourceAPI)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authenticate validates token and writes a 401 when it fails. Without a
// configured JWT secret the admin API is open and every caller acts as an
// anonymous admin.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request, token string) (auth.Principal, bool) {
	jwtCfg := s.secCfg.JWT
	if jwtCfg.Secret == "" {
		return auth.Principal{Subject: "anonymous", Role: auth.RoleAdmin}, true
	}
	if token == "" {
		writeUnauthorized(w, "bearer token is required")
		return auth.Principal{}, false
	}

	claims, err := auth.ParseToken(token, jwtCfg.Secret, jwtCfg.Issuer)
	if err != nil {
		s.logger.Debug("token rejected", "error", err, "request_id", requestID(r.Context()))
		writeUnauthorized(w, "invalid or expired token")
		return auth.Principal{}, false
	}
	return claims.Principal(), true
}

// requirePermission answers 403 unless the caller's role grants perm.
func (s *Server) requirePermission(perm auth.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := principalFromContext(r.Context())
			if auth.HasPermission(p.Role, perm) {
				next.ServeHTTP(w, r)
				return
			}
			writeForbidden(w, "role "+string(p.Role)+" lacks permission "+string(perm))
		})
	}
}

// principalFromContext is zero outside authMiddleware.
func principalFromContext(ctx context.Context) auth.Principal {
	p, _ := ctx.Value(ctxKeyPrincipal).(auth.Principal) //nolint:errcheck // zero value on miss
	return p
}

// bearerToken returns the credential of an "Authorization: Bearer" header,
// matching the scheme case-insensitively.
func bearerToken(r *http.Request) string {
	scheme, cred, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(cred)
}

// statusWriter records the status code and body size for the request log.
type statusWriter struct {
	http.ResponseWriter
	status  int
	written int64
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.written += int64(n)
	return n, err
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Hijack hands the connection to the websocket upgrader, which asserts
// http.Hijacker on the writer it is given and does not follow Unwrap.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("hijack: %w", http.ErrNotSupported)
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
