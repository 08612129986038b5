package registration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dhpke/nmos-core/internal/registry"
	"github.com/dhpke/nmos-core/internal/resource"
)

// Defaults applied by New.
const (
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultPostDelay         = 50 * time.Millisecond
	DefaultRetryBackoff      = 10 * time.Second
	DefaultUnregisterTimeout = 3 * time.Second
)

// Logger defines the logging interface used by the Registrar.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry is the subset of the registration API the registrar uses.
// *registry.Client satisfies it.
type Registry interface {
	Register(ctx context.Context, env resource.Envelope) error
	Heartbeat(ctx context.Context, nodeID string) error
	Delete(ctx context.Context, t resource.Type, id string) error
}

// Resources supplies the resources to keep registered. *resource.Graph
// satisfies it.
type Resources interface {
	NodeID() string
	Ordered() []resource.Resource
	Reverse() []resource.Resource
}

// Config holds registrar timing.
type Config struct {
	// HeartbeatInterval is the period between heartbeats once registered.
	HeartbeatInterval time.Duration

	// PostDelay is the gap between a confirmed registration POST and the
	// next one.
	PostDelay time.Duration

	// RetryBackoff is the wait before retrying a failed registerAll. It is
	// independent of, and coarser than, the heartbeat interval.
	RetryBackoff time.Duration

	// UnregisterTimeout bounds the whole best-effort unregistration on Stop.
	UnregisterTimeout time.Duration
}

// Registrar keeps one node's resources registered with a registry.
//
// A single goroutine drives heartbeats, re-registration, retries and
// resource updates, so heartbeat and registerAll never overlap. A heartbeat
// that returns 404 re-registers inline before the next tick is scheduled.
//
// Thread Safety: All public methods are safe for concurrent use.
type Registrar struct {
	api       Registry
	resources Resources
	cfg       Config

	// opMu serialises registry operations between the loop and direct
	// RegisterAll/UnregisterAll callers.
	opMu sync.Mutex

	mu        sync.RWMutex
	status    Status
	attempted bool
	listeners []func(Status)

	// Pending resource updates, coalesced by ID.
	pendingMu sync.Mutex
	pending   map[string]resource.Resource
	wake      chan struct{}

	cancel   context.CancelFunc
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger Logger
}

// New creates a registrar. Call Start to begin registering.
func New(api Registry, resources Resources, cfg Config) *Registrar {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.PostDelay < 0 {
		cfg.PostDelay = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	if cfg.UnregisterTimeout <= 0 {
		cfg.UnregisterTimeout = DefaultUnregisterTimeout
	}

	return &Registrar{
		api:       api,
		resources: resources,
		cfg:       cfg,
		status:    Status{State: StateUnregistered, NodeID: resources.NodeID()},
		pending:   make(map[string]resource.Resource),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the registrar.
func (r *Registrar) SetLogger(logger Logger) {
	r.logger = logger
}

// OnStatusChange registers a callback invoked after every state change.
// Callbacks run on the registrar goroutine and must not block.
func (r *Registrar) OnStatusChange(fn func(Status)) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// Status returns the current registration status.
func (r *Registrar) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// Start begins registration and the heartbeat loop. The first registration
// attempt is made immediately.
func (r *Registrar) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go r.run(ctx)
}

// Stop halts the loop, cancelling any in-flight registry call, then makes
// one best-effort unregistration pass bounded by UnregisterTimeout. Stop
// always returns, whatever the registry does. Safe to call multiple times.
func (r *Registrar) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
		r.mu.RLock()
		cancel := r.cancel
		attempted := r.attempted
		r.mu.RUnlock()
		if cancel != nil {
			cancel()
		}
		r.wg.Wait()

		if !attempted {
			r.setState(StateUnregistered, nil)
			return
		}

		ctx, cancelUnreg := context.WithTimeout(context.Background(), r.cfg.UnregisterTimeout)
		defer cancelUnreg()
		r.UnregisterAll(ctx)
	})
}

// Update queues a changed resource for re-posting. Updates for the same ID
// are coalesced. Updates made while unregistered are dropped; the next
// registerAll posts the latest graph anyway.
func (r *Registrar) Update(res resource.Resource) {
	if res == nil {
		return
	}
	r.pendingMu.Lock()
	r.pending[res.Meta().ID] = res.Clone()
	r.pendingMu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// run is the single goroutine that owns the registration schedule.
func (r *Registrar) run(ctx context.Context) {
	defer r.wg.Done()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-timer.C:
			timer.Reset(r.step(ctx))
		case <-r.wake:
			r.flushUpdates(ctx)
		}
	}
}

// step performs one scheduled action and returns the delay until the next.
func (r *Registrar) step(ctx context.Context) time.Duration {
	switch r.Status().State {
	case StateRegistered:
		return r.heartbeat(ctx)
	default:
		if err := r.RegisterAll(ctx); err != nil {
			return r.cfg.RetryBackoff
		}
		return r.cfg.HeartbeatInterval
	}
}

// heartbeat sends one keep-alive. Only a 404 triggers re-registration; any
// other failure waits for the next tick.
func (r *Registrar) heartbeat(ctx context.Context) time.Duration {
	nodeID := r.resources.NodeID()

	r.opMu.Lock()
	err := r.api.Heartbeat(ctx, nodeID)
	r.opMu.Unlock()

	switch {
	case err == nil:
		r.mu.Lock()
		r.status.LastHeartbeat = time.Now()
		r.status.HeartbeatFailures = 0
		r.status.LastError = ""
		r.mu.Unlock()
		return r.cfg.HeartbeatInterval

	case errors.Is(err, registry.ErrNotFound):
		r.logger.Warn("registry lost node, re-registering", "node_id", nodeID)
		r.setState(StateHeartbeatFailed, err)
		if regErr := r.RegisterAll(ctx); regErr != nil {
			return r.cfg.RetryBackoff
		}
		return r.cfg.HeartbeatInterval

	default:
		if ctx.Err() != nil {
			return r.cfg.HeartbeatInterval
		}
		r.mu.Lock()
		r.status.HeartbeatFailures++
		r.status.LastError = err.Error()
		failures := r.status.HeartbeatFailures
		r.mu.Unlock()
		r.logger.Warn("heartbeat failed", "node_id", nodeID, "failures", failures, "error", err)
		return r.cfg.HeartbeatInterval
	}
}

// RegisterAll POSTs every resource in dependency order, waiting PostDelay
// after each confirmed POST before the next. The first failure aborts the batch and leaves the
// registrar Unregistered; there is no partial success.
func (r *Registrar) RegisterAll(ctx context.Context) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.mu.Lock()
	r.attempted = true
	r.mu.Unlock()
	r.setState(StateRegistering, nil)

	// Updates queued before this point are covered by the fresh snapshot.
	r.pendingMu.Lock()
	clear(r.pending)
	r.pendingMu.Unlock()

	resources := r.resources.Ordered()
	for i, res := range resources {
		if i > 0 {
			if err := pause(ctx, r.cfg.PostDelay); err != nil {
				r.setState(StateUnregistered, err)
				return fmt.Errorf("%w: %w", ErrRegistrationFailed, err)
			}
		}
		if err := r.api.Register(ctx, resource.Wrap(res)); err != nil {
			r.logger.Error("registration aborted",
				"type", res.Kind(),
				"id", res.Meta().ID,
				"status", registry.StatusCode(err),
				"error", err,
			)
			r.setState(StateUnregistered, err)
			return fmt.Errorf("%w: %s %s: %w", ErrRegistrationFailed, res.Kind(), res.Meta().ID, err)
		}
		r.logger.Debug("registered resource", "type", res.Kind(), "id", res.Meta().ID)
	}

	r.mu.Lock()
	r.status.Registrations++
	r.status.HeartbeatFailures = 0
	r.mu.Unlock()
	r.setState(StateRegistered, nil)
	r.logger.Info("node registered", "node_id", r.resources.NodeID(), "resources", len(resources))
	return nil
}

// pause waits d after a confirmed POST so the registry has settled the
// previous resource before the next one references it.
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// UnregisterAll DELETEs every resource in reverse dependency order. Failures
// are logged and skipped so shutdown always completes.
func (r *Registrar) UnregisterAll(ctx context.Context) {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.setState(StateUnregistering, nil)
	for _, res := range r.resources.Reverse() {
		if err := r.api.Delete(ctx, res.Kind(), res.Meta().ID); err != nil {
			r.logger.Debug("unregister failed", "type", res.Kind(), "id", res.Meta().ID, "error", err)
		}
	}
	r.setState(StateUnregistered, nil)
	r.logger.Info("node unregistered", "node_id", r.resources.NodeID())
}

// flushUpdates re-posts queued resources while registered.
func (r *Registrar) flushUpdates(ctx context.Context) {
	r.pendingMu.Lock()
	batch := r.pending
	r.pending = make(map[string]resource.Resource)
	r.pendingMu.Unlock()

	if len(batch) == 0 || r.Status().State != StateRegistered {
		return
	}

	ordered := make([]resource.Resource, 0, len(batch))
	for _, res := range batch {
		ordered = append(ordered, res)
	}
	sortByRank(ordered)

	r.opMu.Lock()
	defer r.opMu.Unlock()
	for _, res := range ordered {
		if err := r.api.Register(ctx, resource.Wrap(res)); err != nil {
			// The next heartbeat or registerAll will reconcile.
			r.logger.Warn("resource update failed", "type", res.Kind(), "id", res.Meta().ID, "error", err)
			continue
		}
		r.logger.Debug("resource updated", "type", res.Kind(), "id", res.Meta().ID, "version", res.Meta().Version)
	}
}

func (r *Registrar) setState(s State, err error) {
	r.mu.Lock()
	changed := r.status.State != s
	r.status.State = s
	if err != nil {
		r.status.LastError = err.Error()
	} else if s == StateRegistered {
		r.status.LastError = ""
	}
	status := r.status
	listeners := r.listeners
	r.mu.Unlock()

	if !changed {
		return
	}
	for _, fn := range listeners {
		fn(status)
	}
}
