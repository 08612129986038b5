package routing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dhpke/nmos-core/internal/connection"
	"github.com/dhpke/nmos-core/internal/registry"
)

func fastConfig() Config {
	return Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

// ============================================================================
// Refresh
// ============================================================================

func TestRefresh_SortsAndDerivesRoutes(t *testing.T) {
	reg, conn := standardSetup()
	r := New(reg, conn, fastConfig())

	if got := r.Status().State; got != RefreshNever {
		t.Errorf("initial state = %q, want %q", got, RefreshNever)
	}
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	m := r.Matrix()
	if len(m.Senders) != 2 || m.Senders[0].Label != "Camera A" || m.Senders[1].Label != "Camera B" {
		t.Errorf("senders not sorted by label: %+v", m.Senders)
	}
	if len(m.Receivers) != 2 || m.Receivers[0].ID != "r1" {
		t.Errorf("receivers not sorted by label: %+v", m.Receivers)
	}
	if sid, ok := m.RouteOf("r1"); !ok || sid != "s1" {
		t.Errorf("RouteOf(r1) = %q, %v; want s1", sid, ok)
	}
	if _, ok := m.RouteOf("r2"); ok {
		t.Error("r2 has no active subscription and must not be routed")
	}
	if m.Status.State != RefreshOK {
		t.Errorf("status = %+v", m.Status)
	}
}

func TestRefresh_EmptyListsAreValid(t *testing.T) {
	r := New(newFakeRegistry(), &fakeConnector{}, fastConfig())
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	m := r.Matrix()
	if m.Senders == nil || m.Receivers == nil || m.Routes == nil {
		t.Errorf("empty view must use empty slices, got %+v", m)
	}
}

func TestRefresh_RetriesTransientErrors(t *testing.T) {
	reg, conn := standardSetup()
	transient := &registry.Error{Op: "list senders", Status: 503, Kind: registry.ErrTransient}
	reg.listErrs = []error{transient, transient}

	r := New(reg, conn, fastConfig())
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v, want success on third attempt", err)
	}
	if reg.listCalls != 3 {
		t.Errorf("ListSenders calls = %d, want 3", reg.listCalls)
	}
	if got := r.Status().Attempts; got != 3 {
		t.Errorf("Attempts = %d, want 3", got)
	}
}

func TestRefresh_FailureKeepsPreviousView(t *testing.T) {
	reg, conn := standardSetup()
	r := New(reg, conn, fastConfig())
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("first Refresh() error = %v", err)
	}

	transient := &registry.Error{Op: "list senders", Status: 503, Kind: registry.ErrTransient}
	reg.listErrs = []error{transient, transient, transient}
	if err := r.Refresh(context.Background()); !errors.Is(err, registry.ErrTransient) {
		t.Fatalf("Refresh() error = %v, want transient", err)
	}

	m := r.Matrix()
	if len(m.Senders) != 2 {
		t.Errorf("senders lost after failed refresh: %+v", m.Senders)
	}
	if m.Status.State != RefreshError || m.Status.Message == "" {
		t.Errorf("status = %+v, want error with message", m.Status)
	}
}

func TestRefresh_DoesNotRetryPermanentErrors(t *testing.T) {
	reg, conn := standardSetup()
	reg.listErrs = []error{&registry.Error{Op: "list senders", Status: 400, Kind: registry.ErrRejected}}

	r := New(reg, conn, fastConfig())
	if err := r.Refresh(context.Background()); !errors.Is(err, registry.ErrRejected) {
		t.Fatalf("Refresh() error = %v, want rejected", err)
	}
	if reg.listCalls != 1 {
		t.Errorf("ListSenders calls = %d, want 1", reg.listCalls)
	}
}

// ============================================================================
// ExecuteRoute
// ============================================================================

func TestExecuteRoute_Route(t *testing.T) {
	reg, conn := standardSetup()
	conn.manifest = "v=0\r\n"
	cfg := fastConfig()
	cfg.ForwardManifest = true
	r := New(reg, conn, cfg)
	rec := &recorder{}
	r.AddNotifier(rec)
	r.SetAuditor(rec)
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := r.ExecuteRoute(context.Background(), OpRoute, "s2", "r2"); err != nil {
		t.Fatalf("ExecuteRoute() error = %v", err)
	}

	calls := conn.patchCalls()
	if len(calls) != 1 {
		t.Fatalf("patch calls = %d, want 1", len(calls))
	}
	c := calls[0]
	if c.URL != "http://rx/x-nmos/connection/v1.1/single/receivers/r2" {
		t.Errorf("url = %q", c.URL)
	}
	if c.Req.SenderID == nil || *c.Req.SenderID != "s2" || !c.Req.MasterEnable || c.Req.Mode != connection.ModeImmediate {
		t.Errorf("request = %+v", c.Req)
	}
	if c.Req.TransportFile == nil || *c.Req.TransportFile.Data != "v=0\r\n" {
		t.Errorf("manifest not forwarded: %+v", c.Req.TransportFile)
	}

	if sid, _ := r.Matrix().RouteOf("r2"); sid != "s2" {
		t.Errorf("projection RouteOf(r2) = %q, want s2", sid)
	}
	if len(rec.changes) != 1 || rec.changes[0].Op != OpRoute {
		t.Errorf("changes = %+v", rec.changes)
	}
	if len(rec.audits) != 1 || rec.audits[0] != "route:r2" {
		t.Errorf("audits = %v", rec.audits)
	}
}

func TestExecuteRoute_Disconnect(t *testing.T) {
	reg, conn := standardSetup()
	r := New(reg, conn, fastConfig())
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := r.ExecuteRoute(context.Background(), OpDisconnect, "ignored", "r1"); err != nil {
		t.Fatalf("ExecuteRoute() error = %v", err)
	}
	c := conn.patchCalls()[0]
	if c.Req.SenderID != nil || c.Req.MasterEnable {
		t.Errorf("disconnect request = %+v, want null sender and master_enable false", c.Req)
	}
	if _, ok := r.Matrix().RouteOf("r1"); ok {
		t.Error("r1 still routed after disconnect")
	}
}

func TestExecuteRoute_FailureLeavesProjection(t *testing.T) {
	reg, conn := standardSetup()
	conn.failFor = map[string]error{
		"http://rx/x-nmos/connection/v1.1/single/receivers/r1": &registry.Error{Op: "patch", Status: 500, Kind: registry.ErrTransient},
	}
	r := New(reg, conn, fastConfig())
	rec := &recorder{}
	r.AddNotifier(rec)
	r.SetAuditor(rec)
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := r.ExecuteRoute(context.Background(), OpRoute, "s2", "r1"); err == nil {
		t.Fatal("expected error")
	}
	if len(rec.audits) != 1 || rec.audits[0] != "route:r1:failed" {
		t.Errorf("audits = %v", rec.audits)
	}
	if sid, _ := r.Matrix().RouteOf("r1"); sid != "s1" {
		t.Errorf("projection changed on failure: RouteOf(r1) = %q", sid)
	}
	if len(rec.failures) != 1 || len(rec.changes) != 0 {
		t.Errorf("failures = %+v, changes = %+v", rec.failures, rec.changes)
	}
}

func TestExecuteRoute_NoControl(t *testing.T) {
	reg, conn := standardSetup()
	reg.addDevice("bare")
	reg.addReceiver("r3", "Monitor 3", "bare", nil)
	r := New(reg, conn, fastConfig())

	if err := r.ExecuteRoute(context.Background(), OpRoute, "s1", "r3"); !errors.Is(err, ErrNoControl) {
		t.Errorf("error = %v, want ErrNoControl", err)
	}
	if len(conn.patchCalls()) != 0 {
		t.Error("no request may be sent without a resolved endpoint")
	}
}

func TestExecuteRoute_InvalidRequests(t *testing.T) {
	reg, conn := standardSetup()
	r := New(reg, conn, fastConfig())

	tests := []struct {
		name     string
		op       Op
		sender   string
		receiver string
	}{
		{"missing receiver", OpRoute, "s1", ""},
		{"route without sender", OpRoute, "", "r1"},
		{"unknown op", Op("swap"), "s1", "r1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := r.ExecuteRoute(context.Background(), tt.op, tt.sender, tt.receiver); !errors.Is(err, ErrInvalidRoute) {
				t.Errorf("error = %v, want ErrInvalidRoute", err)
			}
		})
	}
}

func TestExecuteRoute_SameReceiverIsGuarded(t *testing.T) {
	reg, conn := standardSetup()
	conn.gate = make(chan struct{})
	conn.entered = make(chan struct{}, 4)
	r := New(reg, conn, fastConfig())

	var wg sync.WaitGroup
	var firstErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		firstErr = r.ExecuteRoute(context.Background(), OpRoute, "s1", "r2")
	}()
	<-conn.entered

	if err := r.ExecuteRoute(context.Background(), OpRoute, "s2", "r2"); !errors.Is(err, ErrRoutePending) {
		t.Errorf("concurrent same-receiver error = %v, want ErrRoutePending", err)
	}
	if pending := r.Matrix().Pending; len(pending) != 1 || pending[0] != "r2" {
		t.Errorf("Pending = %v, want [r2]", pending)
	}

	// A different receiver is not blocked.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := r.ExecuteRoute(context.Background(), OpRoute, "s1", "r1"); err != nil {
			t.Errorf("other receiver error = %v", err)
		}
	}()
	<-conn.entered

	close(conn.gate)
	wg.Wait()
	if firstErr != nil {
		t.Errorf("first route error = %v", firstErr)
	}
	if len(r.Matrix().Pending) != 0 {
		t.Error("pending not cleared")
	}
}

// ============================================================================
// Lifecycle
// ============================================================================

func TestStartStop(t *testing.T) {
	reg, conn := standardSetup()
	cfg := fastConfig()
	cfg.RefreshInterval = 5 * time.Millisecond
	r := New(reg, conn, cfg)

	r.Start(context.Background())
	deadline := time.Now().Add(time.Second)
	for r.Status().State != RefreshOK && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	r.Stop()
	r.Stop()

	if r.Status().State != RefreshOK {
		t.Errorf("state = %q after Start", r.Status().State)
	}
}
