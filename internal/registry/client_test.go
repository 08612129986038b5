package registry

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dhpke/nmos-core/internal/resource"
)

// fakeRegistry records requests and replies with canned statuses.
type fakeRegistry struct {
	mu       sync.Mutex
	requests []recorded
	status   map[string]int
	bodies   map[string]string
}

type recorded struct {
	Method string
	Path   string
	Query  string
	Auth   string
	Body   string
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{status: map[string]int{}, bodies: map[string]string{}}
}

func (f *fakeRegistry) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	f.requests = append(f.requests, recorded{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		Auth:   r.Header.Get("Authorization"),
		Body:   string(body),
	})
	key := r.Method + " " + r.URL.Path
	status, ok := f.status[key]
	respBody := f.bodies[key]
	f.mu.Unlock()

	if !ok {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = io.WriteString(w, respBody)
}

func (f *fakeRegistry) last() recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func newTestClient(t *testing.T, f *fakeRegistry, auth Authorizer) *Client {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	c, err := New(Config{BaseURL: srv.URL, Authorizer: auth, PageLimit: 50})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

// ============================================================================
// Construction
// ============================================================================

func TestNew_ConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"empty", Config{}},
		{"no scheme", Config{BaseURL: "registry:8010"}},
		{"bad scheme", Config{BaseURL: "ftp://registry"}},
		{"bad query", Config{BaseURL: "http://r", QueryURL: "::"}},
		{"bad version", Config{BaseURL: "http://r", APIVersion: "1.3"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); !errors.Is(err, ErrConfig) {
				t.Errorf("New() error = %v, want ErrConfig", err)
			}
		})
	}
}

func TestNew_ResolvesBases(t *testing.T) {
	c, err := New(Config{BaseURL: "http://registry:8010/", QueryURL: "https://query:443", APIVersion: "v1.2"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if c.RegistrationBase() != "http://registry:8010/x-nmos/registration/v1.2" {
		t.Errorf("RegistrationBase() = %q", c.RegistrationBase())
	}
	if c.QueryBase() != "https://query:443/x-nmos/query/v1.2" {
		t.Errorf("QueryBase() = %q", c.QueryBase())
	}
}

// ============================================================================
// Registration API
// ============================================================================

func TestRegister_PostsEnvelope(t *testing.T) {
	f := newFakeRegistry()
	c := newTestClient(t, f, BearerToken("secret"))

	node := resource.NewNode(resource.Identity{NodeID: "node-1", Label: "n"})
	if err := c.Register(context.Background(), resource.Wrap(node)); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	req := f.last()
	if req.Method != http.MethodPost || req.Path != "/x-nmos/registration/v1.3/resource" {
		t.Errorf("request = %s %s", req.Method, req.Path)
	}
	if req.Auth != "Bearer secret" {
		t.Errorf("Authorization = %q", req.Auth)
	}

	var env struct {
		Type string         `json:"type"`
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal([]byte(req.Body), &env); err != nil {
		t.Fatalf("body is not an envelope: %v", err)
	}
	if env.Type != "node" || env.Data["id"] != "node-1" {
		t.Errorf("envelope = %+v", env)
	}
}

func TestHeartbeatAndDelete_Paths(t *testing.T) {
	f := newFakeRegistry()
	c := newTestClient(t, f, BasicAuth{Username: "u", Password: "p"})

	if err := c.Heartbeat(context.Background(), "node-1"); err != nil {
		t.Fatalf("Heartbeat() error = %v", err)
	}
	if got := f.last(); got.Path != "/x-nmos/registration/v1.3/health/nodes/node-1" || got.Body != "" {
		t.Errorf("heartbeat request = %+v", got)
	}
	if !strings.HasPrefix(f.last().Auth, "Basic ") {
		t.Errorf("Authorization = %q", f.last().Auth)
	}

	if err := c.Delete(context.Background(), resource.TypeReceiver, "rcv-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if got := f.last(); got.Method != http.MethodDelete || got.Path != "/x-nmos/registration/v1.3/resource/receivers/rcv-1" {
		t.Errorf("delete request = %+v", got)
	}
}

func TestErrorTaxonomy(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusNotFound, ErrNotFound},
		{http.StatusBadRequest, ErrRejected},
		{http.StatusConflict, ErrRejected},
		{http.StatusInternalServerError, ErrTransient},
		{http.StatusServiceUnavailable, ErrTransient},
		{http.StatusTooManyRequests, ErrTransient},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			f := newFakeRegistry()
			f.status["POST /x-nmos/registration/v1.3/health/nodes/n"] = tt.status
			f.bodies["POST /x-nmos/registration/v1.3/health/nodes/n"] = `{"error":"x"}`
			c := newTestClient(t, f, nil)

			err := c.Heartbeat(context.Background(), "n")
			if !errors.Is(err, tt.want) {
				t.Fatalf("Heartbeat() error = %v, want %v", err, tt.want)
			}
			if StatusCode(err) != tt.status {
				t.Errorf("StatusCode() = %d, want %d", StatusCode(err), tt.status)
			}
		})
	}
}

func TestTransportFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	c, err := New(Config{BaseURL: base})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	err = c.Heartbeat(context.Background(), "n")
	if !errors.Is(err, ErrTransient) {
		t.Errorf("Heartbeat() error = %v, want ErrTransient", err)
	}
	if StatusCode(err) != 0 {
		t.Errorf("StatusCode() = %d, want 0", StatusCode(err))
	}
}

func TestReadTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c, err := New(Config{BaseURL: srv.URL, ReadTimeout: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	start := time.Now()
	err = c.Heartbeat(context.Background(), "n")
	if !errors.Is(err, ErrTransient) {
		t.Errorf("Heartbeat() error = %v, want ErrTransient", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("read timeout not applied")
	}
}

// ============================================================================
// Query API
// ============================================================================

func TestListReceivers_PagingAndDecode(t *testing.T) {
	f := newFakeRegistry()
	f.bodies["GET /x-nmos/query/v1.3/receivers"] = `[
		{"id":"r1","version":"1:000000000","label":"B","description":"","tags":{},"format":"urn:x-nmos:format:audio",
		 "caps":{},"transport":"urn:x-nmos:transport:rtp","device_id":"d1","interface_bindings":[],
		 "subscription":{"sender_id":"s1","active":true}}]`
	c := newTestClient(t, f, nil)

	receivers, err := c.ListReceivers(context.Background())
	if err != nil {
		t.Fatalf("ListReceivers() error = %v", err)
	}
	if len(receivers) != 1 || *receivers[0].Subscription.SenderID != "s1" {
		t.Errorf("receivers = %+v", receivers)
	}
	if f.last().Query != "paging.limit=50" {
		t.Errorf("query = %q", f.last().Query)
	}
}

func TestListSenders_Empty(t *testing.T) {
	f := newFakeRegistry()
	f.bodies["GET /x-nmos/query/v1.3/senders"] = `[]`
	c := newTestClient(t, f, nil)

	senders, err := c.ListSenders(context.Background())
	if err != nil {
		t.Fatalf("ListSenders() error = %v", err)
	}
	if len(senders) != 0 {
		t.Errorf("len = %d, want 0", len(senders))
	}
}

func TestGetDevice_NotFoundAndBadBody(t *testing.T) {
	f := newFakeRegistry()
	f.status["GET /x-nmos/query/v1.3/devices/missing"] = http.StatusNotFound
	f.bodies["GET /x-nmos/query/v1.3/devices/garbled"] = `{not json`
	c := newTestClient(t, f, nil)

	if _, err := c.GetDevice(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetDevice(missing) error = %v, want ErrNotFound", err)
	}
	if _, err := c.GetDevice(context.Background(), "garbled"); !errors.Is(err, ErrRejected) {
		t.Errorf("GetDevice(garbled) error = %v, want ErrRejected", err)
	}
}

// ============================================================================
// Authorizers
// ============================================================================

func TestJWTAuthorizer_MintsAndReuses(t *testing.T) {
	a := &JWTAuthorizer{Secret: "s3cret", Issuer: "nmos-node", Subject: "node-1", TTL: time.Minute}

	first, err := a.Token()
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	second, _ := a.Token()
	if first != second {
		t.Error("token not reused within TTL")
	}

	parsed, err := jwt.ParseWithClaims(first, &jwt.RegisteredClaims{}, func(*jwt.Token) (any, error) {
		return []byte("s3cret"), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		t.Fatalf("token does not verify: %v", err)
	}
	claims := parsed.Claims.(*jwt.RegisteredClaims)
	if claims.Subject != "node-1" || claims.Issuer != "nmos-node" {
		t.Errorf("claims = %+v", claims)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if err := a.Authorize(req); err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if req.Header.Get("Authorization") != "Bearer "+first {
		t.Errorf("Authorization = %q", req.Header.Get("Authorization"))
	}
}
