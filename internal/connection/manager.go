package connection

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// DefaultSchedulerInterval is how often scheduled activations are polled.
const DefaultSchedulerInterval = 50 * time.Millisecond

// Logger defines the logging interface used by the Manager.
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

type endpointKey struct {
	role Role
	id   string
}

// Manager holds every endpoint of one node and drives their scheduled
// activations. It is the handle the connection API and the node runtime
// use to reach endpoints.
//
// Thread Safety: All public methods are safe for concurrent use.
type Manager struct {
	mu        sync.RWMutex
	endpoints map[endpointKey]*Endpoint

	notifier  SubscriptionNotifier
	listeners []func(Activated)

	interval time.Duration
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger Logger
}

// NewManager creates an empty manager. interval <= 0 uses
// DefaultSchedulerInterval.
func NewManager(interval time.Duration) *Manager {
	if interval <= 0 {
		interval = DefaultSchedulerInterval
	}
	return &Manager{
		endpoints: make(map[endpointKey]*Endpoint),
		interval:  interval,
		done:      make(chan struct{}),
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// SetNotifier sets the subscription notifier on every current and future
// endpoint.
func (m *Manager) SetNotifier(n SubscriptionNotifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifier = n
	for _, e := range m.endpoints {
		e.SetNotifier(n)
	}
}

// OnActivated registers a callback on every current and future endpoint.
func (m *Manager) OnActivated(fn func(Activated)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
	for _, e := range m.endpoints {
		e.OnActivated(fn)
	}
}

// Add registers an endpoint.
func (m *Manager) Add(e *Endpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := endpointKey{e.Role(), e.ID()}
	if _, ok := m.endpoints[key]; ok {
		return fmt.Errorf("%w: %s %s", ErrExists, e.Role(), e.ID())
	}
	if m.notifier != nil {
		e.SetNotifier(m.notifier)
	}
	for _, fn := range m.listeners {
		e.OnActivated(fn)
	}
	m.endpoints[key] = e
	return nil
}

// Get returns the endpoint with the given role and ID.
func (m *Manager) Get(role Role, id string) (*Endpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.endpoints[endpointKey{role, id}]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, role, id)
	}
	return e, nil
}

// IDs returns the sorted IDs of all endpoints with the given role.
func (m *Manager) IDs(role Role) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for k := range m.endpoints {
		if k.role == role {
			ids = append(ids, k.id)
		}
	}
	slices.Sort(ids)
	return ids
}

// Patch decodes body and stages it on the addressed endpoint. It returns
// the resulting staged state.
func (m *Manager) Patch(role Role, id string, body []byte) (State, error) {
	e, err := m.Get(role, id)
	if err != nil {
		return State{}, err
	}
	p, err := DecodePatch(role, body)
	if err != nil {
		return State{}, err
	}

	state, err := e.Stage(p)
	if err != nil {
		m.logger.Debug("patch rejected", "role", role, "id", id, "error", err)
		return State{}, err
	}
	return state, nil
}

// Start runs the activation scheduler until Stop or ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(1)
	go m.schedule(ctx)
}

// Stop halts the scheduler. Safe to call multiple times.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.done)
		m.wg.Wait()
	})
}

func (m *Manager) schedule(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case <-ticker.C:
			m.RunDue()
		}
	}
}

// RunDue activates every endpoint whose scheduled activation is due.
// It returns how many endpoints were activated.
func (m *Manager) RunDue() int {
	m.mu.RLock()
	endpoints := make([]*Endpoint, 0, len(m.endpoints))
	for _, e := range m.endpoints {
		endpoints = append(endpoints, e)
	}
	m.mu.RUnlock()

	n := 0
	for _, e := range endpoints {
		if !e.ScheduledPending() {
			continue
		}
		if e.ActivateIfDue() {
			n++
			m.logger.Info("scheduled activation applied", "role", e.Role(), "id", e.ID())
		}
	}
	return n
}
