package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dhpke/nmos-core/internal/auth"
	"github.com/dhpke/nmos-core/internal/routing"
)

const testSecret = "test-secret-that-is-at-least-32-characters"

// recorded is one request seen by the fake node.
type recorded struct {
	method string
	path   string
	auth   string
	body   map[string]string
}

// fakeNode serves canned /api/v1 responses and records what it receives.
type fakeNode struct {
	srv      *httptest.Server
	requests []recorded
}

func newFakeNode(t *testing.T) *fakeNode {
	t.Helper()
	f := &fakeNode{}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/routing/matrix", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		writeJSON(w, http.StatusOK, routing.Matrix{
			Senders:   []routing.Endpoint{{ID: "tx-1", Label: "Camera 1"}},
			Receivers: []routing.Endpoint{{ID: "rx-1", Label: "Monitor 1"}, {ID: "rx-2", Label: "Monitor 2"}},
			Routes:    []routing.Route{{ReceiverID: "rx-1", SenderID: "tx-1"}},
			Pending:   []string{"rx-2"},
			Status:    routing.RefreshStatus{State: routing.RefreshOK},
		})
	})
	mux.HandleFunc("POST /api/v1/routing/route", func(w http.ResponseWriter, r *http.Request) {
		req := f.record(r)
		writeJSON(w, http.StatusOK, routeResult{Op: routing.OpRoute, ReceiverID: req.body["receiver_id"], SenderID: req.body["sender_id"]})
	})
	mux.HandleFunc("POST /api/v1/routing/disconnect", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"status":  422,
			"code":    "unprocessable",
			"message": "receiver has no connection control",
			"hints":   []string{"the receiver's device advertises no connection API"},
		})
	})
	mux.HandleFunc("GET /api/v1/snapshots", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		writeJSON(w, http.StatusOK, snapshotList{
			Snapshots: []routing.Snapshot{{Name: "show", Routes: []routing.SnapshotRoute{{SenderID: "tx-1", ReceiverID: "rx-1"}}}},
			Count:     1,
		})
	})
	mux.HandleFunc("POST /api/v1/snapshots", func(w http.ResponseWriter, r *http.Request) {
		req := f.record(r)
		writeJSON(w, http.StatusCreated, routing.Snapshot{Name: req.body["name"], Description: req.body["description"]})
	})
	mux.HandleFunc("POST /api/v1/snapshots/{name}/load", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		writeJSON(w, http.StatusOK, routing.LoadResult{
			Snapshot:    r.PathValue("name"),
			ValidRoutes: 2,
			Applied:     1,
			Failed:      1,
			Entries: []routing.EntryResult{
				{SenderID: "tx-1", ReceiverID: "rx-1", Status: routing.EntryApplied},
				{SenderID: "tx-1", ReceiverID: "rx-2", Status: routing.EntryFailed, Error: "timeout"},
			},
		})
	})
	mux.HandleFunc("DELETE /api/v1/snapshots/{name}", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		w.WriteHeader(http.StatusNoContent)
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeNode) record(r *http.Request) recorded {
	rec := recorded{method: r.Method, path: r.URL.Path, auth: r.Header.Get("Authorization")}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&rec.body)
	}
	f.requests = append(f.requests, rec)
	return rec
}

func (f *fakeNode) last(t *testing.T) recorded {
	t.Helper()
	if len(f.requests) == 0 {
		t.Fatal("no request reached the node")
	}
	return f.requests[len(f.requests)-1]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// execute runs nmosctl with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

// ─── Routing ──────────────────────────────────────────────────────────

func TestMatrix(t *testing.T) {
	node := newFakeNode(t)

	out, err := execute(t, "matrix", "--server", node.srv.URL, "--token", "abc")
	if err != nil {
		t.Fatalf("matrix: %v", err)
	}
	if got := node.last(t).auth; got != "Bearer abc" {
		t.Errorf("Authorization = %q, want %q", got, "Bearer abc")
	}
	for _, want := range []string{"rx-1", "Camera 1", "pending", "1 senders, 2 receivers, 1 routes; refresh ok"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestMatrix_JSON(t *testing.T) {
	node := newFakeNode(t)

	out, err := execute(t, "matrix", "-s", node.srv.URL, "-o", "json")
	if err != nil {
		t.Fatalf("matrix: %v", err)
	}
	var m routing.Matrix
	if err := json.Unmarshal([]byte(out), &m); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if len(m.Routes) != 1 || m.Routes[0].SenderID != "tx-1" {
		t.Errorf("routes = %+v", m.Routes)
	}
}

func TestRoute(t *testing.T) {
	node := newFakeNode(t)

	out, err := execute(t, "route", "tx-1", "rx-2", "-s", node.srv.URL)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	req := node.last(t)
	if req.body["sender_id"] != "tx-1" || req.body["receiver_id"] != "rx-2" {
		t.Errorf("body = %v", req.body)
	}
	if req.auth != "" {
		t.Errorf("Authorization = %q, want none without a token", req.auth)
	}
	if strings.TrimSpace(out) != "rx-2 <- tx-1" {
		t.Errorf("output = %q", out)
	}
}

func TestDisconnect_ErrorWithHints(t *testing.T) {
	node := newFakeNode(t)

	_, err := execute(t, "disconnect", "rx-2", "-s", node.srv.URL)
	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *apiError", err)
	}
	if apiErr.Status != http.StatusUnprocessableEntity || apiErr.Code != "unprocessable" {
		t.Errorf("apiErr = %+v", apiErr)
	}
	if !strings.Contains(err.Error(), "hint: the receiver's device advertises no connection API") {
		t.Errorf("error text = %q", err.Error())
	}
	if _, ok := node.last(t).body["sender_id"]; ok {
		t.Error("disconnect should not send a sender_id")
	}
}

func TestClient_NonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream gone", http.StatusBadGateway)
	}))
	defer srv.Close()

	c, err := newClient(srv.URL, "", time.Second)
	if err != nil {
		t.Fatalf("newClient: %v", err)
	}
	err = c.do(context.Background(), http.MethodGet, "/health", nil, nil)
	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *apiError", err)
	}
	if apiErr.Code != "bad_gateway" || apiErr.Message != "upstream gone" {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

func TestNewClient_InvalidServer(t *testing.T) {
	for _, server := range []string{"", "localhost:8080", "://bad"} {
		if _, err := newClient(server, "", time.Second); err == nil {
			t.Errorf("newClient(%q) should fail", server)
		}
	}
}

// ─── Snapshots ────────────────────────────────────────────────────────

func TestSnapshot_Lifecycle(t *testing.T) {
	node := newFakeNode(t)

	out, err := execute(t, "snapshot", "save", "show", "-d", "evening", "-s", node.srv.URL)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if body := node.last(t).body; body["name"] != "show" || body["description"] != "evening" {
		t.Errorf("save body = %v", body)
	}
	if !strings.Contains(out, `saved "show"`) {
		t.Errorf("save output = %q", out)
	}

	out, err = execute(t, "snapshot", "list", "-s", node.srv.URL)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "show") || !strings.Contains(out, "ROUTES") {
		t.Errorf("list output = %q", out)
	}

	out, err = execute(t, "snapshot", "rm", "show", "-s", node.srv.URL)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if req := node.last(t); req.method != http.MethodDelete || req.path != "/api/v1/snapshots/show" {
		t.Errorf("delete request = %s %s", req.method, req.path)
	}
	if !strings.Contains(out, `deleted "show"`) {
		t.Errorf("delete output = %q", out)
	}
}

func TestSnapshot_LoadReportsFailures(t *testing.T) {
	node := newFakeNode(t)

	out, err := execute(t, "snapshot", "load", "show", "-s", node.srv.URL)
	if err == nil || !strings.Contains(err.Error(), "1 of 2 routes failed") {
		t.Fatalf("load error = %v, want partial failure", err)
	}
	if !strings.Contains(out, "timeout") || !strings.Contains(out, "show: 1 applied, 1 failed, 0 invalid") {
		t.Errorf("load output = %q", out)
	}
}

// ─── Token ────────────────────────────────────────────────────────────

func TestToken(t *testing.T) {
	out, err := execute(t, "token", "--secret", testSecret, "--subject", "desk-1", "--role", "admin", "--issuer", "nmos")
	if err != nil {
		t.Fatalf("token: %v", err)
	}

	claims, err := auth.ParseToken(strings.TrimSpace(out), testSecret, "nmos")
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if p := claims.Principal(); p.Subject != "desk-1" || p.Role != auth.RoleAdmin {
		t.Errorf("principal = %+v", p)
	}
}

func TestToken_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want error
	}{
		{"invalid role", []string{"--secret", testSecret, "--role", "root"}, auth.ErrInvalidRole},
		{"invalid subject", []string{"--secret", testSecret, "--subject", "has space"}, auth.ErrTokenInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, append([]string{"token"}, tt.args...)...)
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}

	t.Run("missing secret", func(t *testing.T) {
		t.Setenv("NMOS_JWT_SECRET", "")
		if _, err := execute(t, "token"); err == nil {
			t.Error("token without a secret should fail")
		}
	})
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "nmosctl "+version) {
		t.Errorf("output = %q", out)
	}
}
