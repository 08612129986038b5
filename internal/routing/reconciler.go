package routing

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"github.com/dhpke/nmos-core/internal/connection"
	"github.com/dhpke/nmos-core/internal/registry"
	"github.com/dhpke/nmos-core/internal/resource"
)

// Defaults applied by New.
const (
	DefaultRefreshInterval = 10 * time.Second
	DefaultMaxAttempts     = 3
	DefaultBaseDelay       = 500 * time.Millisecond
	DefaultMaxDelay        = 5 * time.Second
)

// Logger defines the logging interface used by the Reconciler.
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

// Registry is the query API subset the reconciler needs.
// *registry.Client satisfies it.
type Registry interface {
	ListSenders(ctx context.Context) ([]resource.Sender, error)
	ListReceivers(ctx context.Context) ([]resource.Receiver, error)
	GetReceiver(ctx context.Context, id string) (*resource.Receiver, error)
	GetSender(ctx context.Context, id string) (*resource.Sender, error)
	GetDevice(ctx context.Context, id string) (*resource.Device, error)
}

// Connector stages and activates remote receivers.
// *connection.Client satisfies it.
type Connector interface {
	PatchReceiver(ctx context.Context, endpointURL string, req connection.ReceiverRequest) (*connection.State, error)
	GetManifest(ctx context.Context, href string) (string, string, error)
}

// Auditor records route changes, confirmed or not. *audit.Recorder
// satisfies it.
type Auditor interface {
	Record(ctx context.Context, action, entityType, entityID string, details map[string]any)
	RecordFailure(ctx context.Context, action, entityType, entityID string, cause error, details map[string]any)
}

// Config configures a Reconciler.
type Config struct {
	// RefreshInterval is the period of the background refresh task.
	RefreshInterval time.Duration

	// MaxAttempts bounds each list fetch, including the first try.
	MaxAttempts int

	// BaseDelay is the first retry delay; it doubles per attempt.
	BaseDelay time.Duration

	// MaxDelay caps a single retry delay.
	MaxDelay time.Duration

	// ForwardManifest fetches a sender's manifest and sends it as the
	// receiver's transport_file when routing.
	ForwardManifest bool
}

// Reconciler polls a registry for senders and receivers, derives the route
// matrix from receiver subscriptions, and changes routes by driving the
// receivers' connection APIs.
//
// The route projection is owned by the Reconciler; callers get copies.
// Route changes for different receivers run concurrently, changes for the
// same receiver are rejected while one is in flight.
//
// Thread Safety: All public methods are safe for concurrent use.
type Reconciler struct {
	reg  Registry
	conn Connector
	cfg  Config

	mu        sync.RWMutex
	senders   []resource.Sender
	receivers []resource.Receiver
	routes    map[string]string
	status    RefreshStatus

	pendingMu sync.Mutex
	pending   map[string]struct{}

	notifiers []Notifier
	auditor   Auditor
	snapshots SnapshotRepository

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger Logger
}

// New creates a reconciler. Call Refresh or Start to populate it.
func New(reg Registry, conn Connector, cfg Config) *Reconciler {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	return &Reconciler{
		reg:     reg,
		conn:    conn,
		cfg:     cfg,
		routes:  make(map[string]string),
		status:  RefreshStatus{State: RefreshNever},
		pending: make(map[string]struct{}),
		done:    make(chan struct{}),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the reconciler.
func (r *Reconciler) SetLogger(logger Logger) {
	r.logger = logger
}

// AddNotifier registers a routing notification sink. Call before Start.
func (r *Reconciler) AddNotifier(n Notifier) {
	r.notifiers = append(r.notifiers, n)
}

// SetAuditor sets the audit sink. Call before Start.
func (r *Reconciler) SetAuditor(a Auditor) {
	r.auditor = a
}

// SetSnapshotRepository sets snapshot persistence. Call before Start.
func (r *Reconciler) SetSnapshotRepository(repo SnapshotRepository) {
	r.snapshots = repo
}

// Start runs Refresh immediately and then every RefreshInterval.
func (r *Reconciler) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.refreshLoop(ctx)
}

// Stop halts the refresh task. Safe to call multiple times.
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
	})
}

func (r *Reconciler) refreshLoop(ctx context.Context) {
	defer r.wg.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-r.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(r.cfg.RefreshInterval)
	defer ticker.Stop()

	if err := r.Refresh(ctx); err != nil && ctx.Err() == nil {
		r.logger.Warn("routing refresh failed", "error", err)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("routing refresh failed", "error", err)
			}
		}
	}
}

// Refresh fetches senders and receivers concurrently, each with bounded
// exponential backoff, sorts them by label and rebuilds the route matrix.
// On failure the previous lists are kept and the error is recorded in the
// refresh status. Empty lists are a valid result.
func (r *Reconciler) Refresh(ctx context.Context) error {
	var (
		senders             []resource.Sender
		receivers           []resource.Receiver
		sAttempts, rAttempts int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		senders, sAttempts, err = fetchWithRetry(gctx, r.cfg, r.reg.ListSenders)
		if err != nil {
			return fmt.Errorf("listing senders: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		receivers, rAttempts, err = fetchWithRetry(gctx, r.cfg, r.reg.ListReceivers)
		if err != nil {
			return fmt.Errorf("listing receivers: %w", err)
		}
		return nil
	})

	err := g.Wait()
	attempts := max(sAttempts, rAttempts)
	if err != nil {
		r.mu.Lock()
		r.status = RefreshStatus{State: RefreshError, Message: err.Error(), Attempts: attempts, UpdatedAt: time.Now()}
		r.mu.Unlock()
		return err
	}

	slices.SortStableFunc(senders, func(a, b resource.Sender) int {
		return cmp.Or(cmp.Compare(a.Label, b.Label), cmp.Compare(a.ID, b.ID))
	})
	slices.SortStableFunc(receivers, func(a, b resource.Receiver) int {
		return cmp.Or(cmp.Compare(a.Label, b.Label), cmp.Compare(a.ID, b.ID))
	})

	routes := make(map[string]string)
	for _, rcv := range receivers {
		if rcv.Subscription.Active && rcv.Subscription.SenderID != nil {
			routes[rcv.ID] = *rcv.Subscription.SenderID
		}
	}

	r.mu.Lock()
	r.senders = senders
	r.receivers = receivers
	r.routes = routes
	r.status = RefreshStatus{State: RefreshOK, Attempts: attempts, UpdatedAt: time.Now()}
	r.mu.Unlock()

	r.logger.Debug("routing refreshed", "senders", len(senders), "receivers", len(receivers), "routes", len(routes))
	return nil
}

// fetchWithRetry retries transient failures with doubling delays, up to
// cfg.MaxAttempts tries in total.
func fetchWithRetry[T any](ctx context.Context, cfg Config, fetch func(context.Context) ([]T, error)) ([]T, int, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.BaseDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = cfg.MaxDelay

	attempts := 0
	op := func() ([]T, error) {
		attempts++
		items, err := fetch(ctx)
		if err == nil {
			if items == nil {
				items = []T{}
			}
			return items, nil
		}
		if !errors.Is(err, registry.ErrTransient) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	items, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(cfg.MaxAttempts)),
	)
	return items, attempts, err
}

// Matrix returns a copy of the current view.
func (r *Reconciler) Matrix() Matrix {
	r.mu.RLock()
	m := Matrix{
		Senders:   make([]Endpoint, 0, len(r.senders)),
		Receivers: make([]Endpoint, 0, len(r.receivers)),
		Routes:    make([]Route, 0, len(r.routes)),
		Status:    r.status,
	}
	for _, s := range r.senders {
		m.Senders = append(m.Senders, senderView(s))
	}
	for _, rcv := range r.receivers {
		m.Receivers = append(m.Receivers, receiverView(rcv))
		if sid, ok := r.routes[rcv.ID]; ok {
			m.Routes = append(m.Routes, Route{ReceiverID: rcv.ID, SenderID: sid})
		}
	}
	r.mu.RUnlock()

	r.pendingMu.Lock()
	m.Pending = make([]string, 0, len(r.pending))
	for id := range r.pending {
		m.Pending = append(m.Pending, id)
	}
	r.pendingMu.Unlock()
	slices.Sort(m.Pending)
	return m
}

// Status returns the last refresh status.
func (r *Reconciler) Status() RefreshStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// ExecuteRoute connects senderID to receiverID (OpRoute) or disconnects the
// receiver (OpDisconnect, senderID ignored). It resolves the receiver's
// connection API, stages and immediately activates. The projection is only
// updated after the remote endpoint confirms.
func (r *Reconciler) ExecuteRoute(ctx context.Context, op Op, senderID, receiverID string) error {
	if receiverID == "" {
		return fmt.Errorf("%w: receiver id is required", ErrInvalidRoute)
	}
	switch op {
	case OpRoute:
		if senderID == "" {
			return fmt.Errorf("%w: sender id is required to route", ErrInvalidRoute)
		}
	case OpDisconnect:
		senderID = ""
	default:
		return fmt.Errorf("%w: unknown op %q", ErrInvalidRoute, op)
	}

	if !r.acquire(receiverID) {
		return fmt.Errorf("%w: %s", ErrRoutePending, receiverID)
	}
	defer r.release(receiverID)

	err := r.execute(ctx, op, senderID, receiverID)
	if err != nil {
		r.logger.Warn("route change failed", "op", op, "sender_id", senderID, "receiver_id", receiverID, "error", err)
		r.notifyFailed(Failure{Op: op, ReceiverID: receiverID, SenderID: senderID, Error: err.Error()})
		if r.auditor != nil {
			r.auditor.RecordFailure(ctx, string(op), "receiver", receiverID, err, map[string]any{"sender_id": senderID})
		}
		return err
	}

	r.mu.Lock()
	if op == OpDisconnect {
		delete(r.routes, receiverID)
	} else {
		r.routes[receiverID] = senderID
	}
	r.mu.Unlock()

	r.logger.Info("route changed", "op", op, "sender_id", senderID, "receiver_id", receiverID)
	r.notifyChanged(Change{Op: op, ReceiverID: receiverID, SenderID: senderID})
	if r.auditor != nil {
		r.auditor.Record(ctx, string(op), "receiver", receiverID, map[string]any{"sender_id": senderID})
	}
	return nil
}

func (r *Reconciler) execute(ctx context.Context, op Op, senderID, receiverID string) error {
	target, err := ResolveReceiverControl(ctx, r.reg, receiverID)
	if err != nil {
		return err
	}

	req := connection.ReceiverRequest{
		MasterEnable: op != OpDisconnect,
		Mode:         connection.ModeImmediate,
	}
	if op == OpRoute {
		req.SenderID = &senderID
		if r.cfg.ForwardManifest {
			req.TransportFile = r.manifest(ctx, senderID)
		}
	}

	if _, err := r.conn.PatchReceiver(ctx, target, req); err != nil {
		return fmt.Errorf("activating receiver %s: %w", receiverID, err)
	}
	return nil
}

// manifest fetches the sender's transport file. Best-effort: any failure
// leaves the receiver to synthesise its own.
func (r *Reconciler) manifest(ctx context.Context, senderID string) *connection.TransportFile {
	snd, err := r.reg.GetSender(ctx, senderID)
	if err != nil || snd.ManifestHref == nil || *snd.ManifestHref == "" {
		return nil
	}
	data, contentType, err := r.conn.GetManifest(ctx, *snd.ManifestHref)
	if err != nil {
		r.logger.Debug("manifest fetch failed", "sender_id", senderID, "error", err)
		return nil
	}
	return &connection.TransportFile{Data: &data, Type: &contentType}
}

func (r *Reconciler) acquire(receiverID string) bool {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	if _, busy := r.pending[receiverID]; busy {
		return false
	}
	r.pending[receiverID] = struct{}{}
	return true
}

func (r *Reconciler) release(receiverID string) {
	r.pendingMu.Lock()
	delete(r.pending, receiverID)
	r.pendingMu.Unlock()
}

func (r *Reconciler) notifyChanged(c Change) {
	for _, n := range r.notifiers {
		n.RouteChanged(c)
	}
}

func (r *Reconciler) notifyFailed(f Failure) {
	for _, n := range r.notifiers {
		n.RouteFailed(f)
	}
}
