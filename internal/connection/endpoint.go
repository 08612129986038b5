package connection

import (
	"fmt"
	"strings"
	"sync"

	"github.com/dhpke/nmos-core/internal/nmostime"
	"github.com/dhpke/nmos-core/internal/resource"
)

// Default "auto" port per transport.
const (
	DefaultRTPPort  = 5004
	DefaultMQTTPort = 1883
)

// Activated is emitted after every successful activation.
type Activated struct {
	EndpointID      string         `json:"endpoint_id"`
	Role            Role           `json:"role"`
	PeerID          *string        `json:"peer_id"`
	MasterEnable    bool           `json:"master_enable"`
	Mode            ActivationMode `json:"mode"`
	ActivationTime  string         `json:"activation_time"`
	TransportParams []Params       `json:"transport_params"`
}

// SubscriptionNotifier is told about every activation so the endpoint's
// resource can be re-registered with its new subscription.
type SubscriptionNotifier interface {
	SubscriptionChanged(role Role, id string, peerID *string, active bool)
}

// EndpointConfig describes one sender or receiver.
type EndpointConfig struct {
	ID        string
	Role      Role
	Transport string

	// Format is the resource format URN, used to template session
	// descriptions.
	Format string

	// Legs is the number of transport parameter legs. Default 1.
	Legs int

	// Constraints overrides DefaultConstraints for every leg.
	Constraints Constraints

	// InterfaceIP resolves "auto" addresses.
	InterfaceIP string

	// MulticastIP resolves a sender's "auto" destination_ip. Defaults to
	// InterfaceIP.
	MulticastIP string

	// AutoPort resolves "auto" ports. Defaults per transport.
	AutoPort int

	// BrokerHost resolves "auto" hosts on MQTT endpoints.
	BrokerHost string

	// Clock overrides nmostime.Now for tests.
	Clock func() nmostime.Timestamp
}

// Endpoint owns the staged and active connection state of one sender or
// receiver. Staged is changed only by ApplyStagedPatch; active only by
// ActivateIfDue, which copies staged.
//
// The endpoint never schedules its own wakeups: scheduled activations
// become due and are applied when a caller next invokes ActivateIfDue.
//
// Thread Safety: All methods are safe for concurrent use.
type Endpoint struct {
	id        string
	role      Role
	transport string
	format    string
	cfg       EndpointConfig
	clock     func() nmostime.Timestamp

	mu          sync.Mutex
	staged      State
	active      State
	constraints Constraints
	dueAt       nmostime.Timestamp

	listenerMu sync.RWMutex
	notifier   SubscriptionNotifier
	listeners  []func(Activated)
}

// NewEndpoint builds an endpoint with default transport parameters and an
// inactive state.
func NewEndpoint(cfg EndpointConfig) *Endpoint {
	if cfg.Legs <= 0 {
		cfg.Legs = 1
	}
	if cfg.AutoPort == 0 {
		cfg.AutoPort = DefaultRTPPort
		if cfg.Transport == resource.TransportMQTT {
			cfg.AutoPort = DefaultMQTTPort
		}
	}
	if cfg.MulticastIP == "" {
		cfg.MulticastIP = cfg.InterfaceIP
	}
	if cfg.Clock == nil {
		cfg.Clock = nmostime.Now
	}

	params := make([]Params, cfg.Legs)
	constraints := cfg.Constraints.clone()
	if constraints == nil {
		constraints = make(Constraints, cfg.Legs)
	}
	for i := range params {
		params[i] = DefaultParams(cfg.Role, cfg.Transport)
		if cfg.Constraints == nil {
			constraints[i] = DefaultConstraints(cfg.Role, cfg.Transport)
		}
	}

	staged := State{Role: cfg.Role, TransportParams: params}
	if cfg.Role == RoleReceiver {
		staged.TransportFile = &TransportFile{}
	}
	active := staged.Clone()

	return &Endpoint{
		id:          cfg.ID,
		role:        cfg.Role,
		transport:   cfg.Transport,
		format:      cfg.Format,
		cfg:         cfg,
		clock:       cfg.Clock,
		staged:      staged,
		active:      active,
		constraints: constraints,
	}
}

// ID returns the endpoint's resource ID.
func (e *Endpoint) ID() string { return e.id }

// Role returns sender or receiver.
func (e *Endpoint) Role() Role { return e.role }

// TransportType returns the transport URN.
func (e *Endpoint) TransportType() string { return e.transport }

// SetNotifier sets the subscription notifier.
func (e *Endpoint) SetNotifier(n SubscriptionNotifier) {
	e.listenerMu.Lock()
	e.notifier = n
	e.listenerMu.Unlock()
}

// OnActivated registers a callback run after each activation, outside the
// endpoint lock.
func (e *Endpoint) OnActivated(fn func(Activated)) {
	e.listenerMu.Lock()
	e.listeners = append(e.listeners, fn)
	e.listenerMu.Unlock()
}

// Staged returns a copy of the staged state.
func (e *Endpoint) Staged() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.staged.Clone()
}

// Active returns a copy of the active state.
func (e *Endpoint) Active() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active.Clone()
}

// Constraints returns a copy of the constraints.
func (e *Endpoint) Constraints() Constraints {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.constraints.clone()
}

// ApplyStagedPatch merges p into staged. Fields absent from p are left
// untouched; activation and each transport leg are merged key by key.
// The patch is validated on a copy, so on any error staged is unchanged.
func (e *Endpoint) ApplyStagedPatch(p *Patch) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.applyLocked(p)
}

// applyLocked is ApplyStagedPatch for callers holding e.mu.
func (e *Endpoint) applyLocked(p *Patch) error {
	if p == nil || p.Empty() {
		return nil
	}

	next := e.staged.Clone()

	if p.HasPeer {
		next.PeerID = cloneString(p.PeerID)
	}
	if p.HasMasterEnable {
		next.MasterEnable = p.MasterEnable
	}
	if a := p.Activation; a != nil {
		if a.HasMode {
			next.Activation.Mode = a.Mode
		}
		if a.HasRequestedTime {
			next.Activation.RequestedTime = cloneString(a.RequestedTime)
		}
		if a.HasActivationTime {
			next.Activation.ActivationTime = cloneString(a.ActivationTime)
		}
	}
	if p.TransportParams != nil {
		if len(p.TransportParams) > len(next.TransportParams) {
			return &PatchError{
				Field:  "transport_params",
				Reason: fmt.Sprintf("endpoint has %d leg(s), patch has %d", len(next.TransportParams), len(p.TransportParams)),
			}
		}
		for i, leg := range p.TransportParams {
			for k, v := range leg {
				if err := e.constraints.check(i, k, v); err != nil {
					return err
				}
				next.TransportParams[i][k] = v
			}
		}
	}
	if p.HasTransportFile && e.role == RoleReceiver {
		tf := TransportFile{Data: cloneString(p.TransportFile.Data), Type: cloneString(p.TransportFile.Type)}
		next.TransportFile = &tf
	}

	dueAt := e.dueAt
	if next.Activation.Mode.Scheduled() {
		if next.Activation.RequestedTime == nil {
			return &PatchError{Field: "activation.requested_time", Reason: "required for scheduled activation"}
		}
		requested, err := nmostime.Parse(*next.Activation.RequestedTime)
		if err != nil {
			return &PatchError{Field: "activation.requested_time", Reason: err.Error()}
		}
		switch {
		case next.Activation.Mode == ModeScheduledAbsolute:
			dueAt = requested
		case p.Activation != nil:
			// Relative offsets count from the moment of staging.
			dueAt = e.clock().Add(requested.Duration())
		}
	}

	e.staged = next
	e.dueAt = dueAt
	return nil
}

// ScheduledPending reports whether a scheduled activation is waiting.
func (e *Endpoint) ScheduledPending() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.staged.Activation.Mode.Scheduled()
}

// ActivateIfDue applies staged to active when an activation is due: always
// for immediate mode, and for scheduled modes once the requested time has
// passed. It reports whether an activation happened.
//
// Immediate activation leaves staged untouched, so calling it twice yields
// the same active state apart from activation_time. A scheduled activation
// clears the staged mode once applied so it fires only once.
func (e *Endpoint) ActivateIfDue() bool {
	e.mu.Lock()

	now := e.clock()
	mode := e.staged.Activation.Mode
	switch {
	case mode == ModeImmediate:
	case mode.Scheduled() && now.Compare(e.dueAt) >= 0:
	default:
		e.mu.Unlock()
		return false
	}

	ev := e.activateLocked(now)
	if mode.Scheduled() {
		e.staged.Activation = Activation{}
	}
	e.mu.Unlock()

	e.emit(ev)
	return true
}

// Stage applies a patch and, when the patch requests immediate activation,
// activates. It returns the staged state as it stood right after the patch,
// including the activation time of an immediate activation. Staged
// activation is then reset so a later unrelated patch does not re-activate.
//
// The merge and an immediate activation happen under one lock hold, so a
// concurrent patch cannot slip its changes into this activation.
func (e *Endpoint) Stage(p *Patch) (State, error) {
	e.mu.Lock()
	if err := e.applyLocked(p); err != nil {
		e.mu.Unlock()
		return State{}, err
	}
	if p == nil || !p.Activates() || p.Activation.Mode != ModeImmediate {
		resp := e.staged.Clone()
		e.mu.Unlock()
		return resp, nil
	}

	ev := e.activateLocked(e.clock())
	resp := e.staged.Clone()
	resp.Activation.ActivationTime = cloneString(e.active.Activation.ActivationTime)
	e.staged.Activation = Activation{}
	e.mu.Unlock()

	e.emit(ev)
	return resp, nil
}

// activateLocked copies staged into active. Callers hold e.mu.
func (e *Endpoint) activateLocked(now nmostime.Timestamp) Activated {
	active := e.staged.Clone()
	stamp := now.String()
	active.Activation.ActivationTime = &stamp
	e.resolveAuto(active.TransportParams)

	if e.role == RoleReceiver {
		if active.PeerID == nil {
			active.MasterEnable = false
		} else if active.TransportFile == nil || active.TransportFile.Data == nil {
			if sdp, err := e.receiverSDP(active); err == nil {
				active.TransportFile = &TransportFile{Data: &sdp, Type: stringPtr(SDPContentType)}
			}
		}
	}

	e.active = active
	return Activated{
		EndpointID:      e.id,
		Role:            e.role,
		PeerID:          cloneString(active.PeerID),
		MasterEnable:    active.MasterEnable,
		Mode:            active.Activation.Mode,
		ActivationTime:  stamp,
		TransportParams: active.Clone().TransportParams,
	}
}

// resolveAuto replaces "auto" values with concrete ones.
func (e *Endpoint) resolveAuto(legs []Params) {
	for _, leg := range legs {
		for k, v := range leg {
			if s, ok := v.(string); !ok || s != Auto {
				continue
			}
			switch {
			case strings.HasSuffix(k, "_port"):
				leg[k] = e.cfg.AutoPort
			case k == "rtp_enabled":
				leg[k] = true
			case k == "multicast_ip":
				leg[k] = nil
			case k == "destination_ip":
				leg[k] = e.cfg.MulticastIP
			case strings.HasSuffix(k, "_ip"):
				leg[k] = e.cfg.InterfaceIP
			case strings.HasSuffix(k, "_host"):
				if e.cfg.BrokerHost != "" {
					leg[k] = e.cfg.BrokerHost
				} else {
					leg[k] = e.cfg.InterfaceIP
				}
			}
		}
	}
}

func (e *Endpoint) emit(ev Activated) {
	e.listenerMu.RLock()
	notifier := e.notifier
	listeners := e.listeners
	e.listenerMu.RUnlock()

	if notifier != nil {
		notifier.SubscriptionChanged(e.role, e.id, ev.PeerID, ev.MasterEnable)
	}
	for _, fn := range listeners {
		fn(ev)
	}
}

// TransportFile returns the transport file of a sender, built from its
// active parameters, or the active transport file of a receiver.
func (e *Endpoint) TransportFile() (data, contentType string, err error) {
	e.mu.Lock()
	active := e.active.Clone()
	e.mu.Unlock()

	if e.role == RoleReceiver {
		if active.TransportFile == nil || active.TransportFile.Data == nil {
			return "", "", ErrNoTransportFile
		}
		ct := SDPContentType
		if active.TransportFile.Type != nil {
			ct = *active.TransportFile.Type
		}
		return *active.TransportFile.Data, ct, nil
	}

	e.resolveAuto(active.TransportParams)
	data, err = e.senderSDP(active)
	if err != nil {
		return "", "", err
	}
	return data, SDPContentType, nil
}

func stringPtr(s string) *string { return &s }
