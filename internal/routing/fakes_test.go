package routing

import (
	"context"
	"fmt"
	"sync"

	"github.com/dhpke/nmos-core/internal/connection"
	"github.com/dhpke/nmos-core/internal/registry"
	"github.com/dhpke/nmos-core/internal/resource"
)

// ============================================================================
// Fake registry
// ============================================================================

type fakeRegistry struct {
	mu        sync.Mutex
	senders   []resource.Sender
	receivers []resource.Receiver
	devices   map[string]resource.Device

	// listErrs are returned by successive ListSenders calls before success.
	listErrs  []error
	listCalls int
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{devices: make(map[string]resource.Device)}
}

func (f *fakeRegistry) addDevice(id string, controls ...resource.Control) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := resource.Device{Core: resource.Core{ID: id, Label: id}, Controls: controls}
	f.devices[id] = d
}

func (f *fakeRegistry) addSender(id, label, deviceID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	href := "http://tx/" + id + "/transportfile"
	f.senders = append(f.senders, resource.Sender{
		Core:         resource.Core{ID: id, Label: label},
		DeviceID:     deviceID,
		ManifestHref: &href,
	})
}

func (f *fakeRegistry) addReceiver(id, label, deviceID string, senderID *string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rcv := resource.Receiver{Core: resource.Core{ID: id, Label: label}, DeviceID: deviceID}
	rcv.Subscription.SenderID = senderID
	rcv.Subscription.Active = senderID != nil
	f.receivers = append(f.receivers, rcv)
}

func (f *fakeRegistry) ListSenders(context.Context) ([]resource.Sender, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if len(f.listErrs) > 0 {
		err := f.listErrs[0]
		f.listErrs = f.listErrs[1:]
		return nil, err
	}
	return append([]resource.Sender(nil), f.senders...), nil
}

func (f *fakeRegistry) ListReceivers(context.Context) ([]resource.Receiver, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]resource.Receiver(nil), f.receivers...), nil
}

func (f *fakeRegistry) GetReceiver(_ context.Context, id string) (*resource.Receiver, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.receivers {
		if r.ID == id {
			return &r, nil
		}
	}
	return nil, &registry.Error{Op: "get receiver", Status: 404, Kind: registry.ErrNotFound}
}

func (f *fakeRegistry) GetSender(_ context.Context, id string) (*resource.Sender, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.senders {
		if s.ID == id {
			return &s, nil
		}
	}
	return nil, &registry.Error{Op: "get sender", Status: 404, Kind: registry.ErrNotFound}
}

func (f *fakeRegistry) GetDevice(_ context.Context, id string) (*resource.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.devices[id]
	if !ok {
		return nil, &registry.Error{Op: "get device", Status: 404, Kind: registry.ErrNotFound}
	}
	return &d, nil
}

// ============================================================================
// Fake connector
// ============================================================================

type patchCall struct {
	URL string
	Req connection.ReceiverRequest
}

type fakeConnector struct {
	mu       sync.Mutex
	calls    []patchCall
	failFor  map[string]error
	manifest string

	// gate, when set, blocks PatchReceiver until closed.
	gate    chan struct{}
	entered chan struct{}
}

func (f *fakeConnector) PatchReceiver(ctx context.Context, u string, req connection.ReceiverRequest) (*connection.State, error) {
	f.mu.Lock()
	f.calls = append(f.calls, patchCall{URL: u, Req: req})
	gate, entered := f.gate, f.entered
	err := f.failFor[u]
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &connection.State{Role: connection.RoleReceiver, PeerID: req.SenderID, MasterEnable: req.MasterEnable}, nil
}

func (f *fakeConnector) GetManifest(_ context.Context, href string) (string, string, error) {
	if f.manifest == "" {
		return "", "", fmt.Errorf("no manifest at %s", href)
	}
	return f.manifest, connection.SDPContentType, nil
}

func (f *fakeConnector) patchCalls() []patchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]patchCall(nil), f.calls...)
}

// ============================================================================
// Recording notifier and auditor
// ============================================================================

type recorder struct {
	mu       sync.Mutex
	changes  []Change
	failures []Failure
	audits   []string
}

func (r *recorder) RouteChanged(c Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func (r *recorder) RouteFailed(f Failure) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, f)
}

func (r *recorder) Record(_ context.Context, action, _, entityID string, _ map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audits = append(r.audits, action+":"+entityID)
}

func (r *recorder) RecordFailure(_ context.Context, action, _, entityID string, _ error, _ map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audits = append(r.audits, action+":"+entityID+":failed")
}

func strPtr(s string) *string { return &s }

// standardSetup registers two senders and two receivers on one device.
func standardSetup() (*fakeRegistry, *fakeConnector) {
	reg := newFakeRegistry()
	reg.addDevice("dev", resource.Control{Href: "http://rx/x-nmos/connection/v1.1/", Type: "urn:x-nmos:control:sr-ctrl/v1.1"})
	reg.addSender("s2", "Camera B", "dev")
	reg.addSender("s1", "Camera A", "dev")
	reg.addReceiver("r2", "Monitor 2", "dev", nil)
	reg.addReceiver("r1", "Monitor 1", "dev", strPtr("s1"))
	return reg, &fakeConnector{}
}
