package is07

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dhpke/nmos-core/internal/infrastructure/mqtt"
	"github.com/dhpke/nmos-core/internal/registration"
)

// NodeState is the overall state reported on the node status topic.
type NodeState string

const (
	NodeStarting NodeState = "starting"
	NodeHealthy  NodeState = "healthy"
	NodeDegraded NodeState = "degraded"
	NodeStopping NodeState = "stopping"
)

// DefaultStatusInterval is used when StatusConfig.Interval is zero.
const DefaultStatusInterval = 30 * time.Second

// StatusMessage is published retained on the node status topic.
type StatusMessage struct {
	NodeID        string    `json:"node_id"`
	Status        NodeState `json:"status"`
	Reason        string    `json:"reason,omitempty"`
	Version       string    `json:"version,omitempty"`
	Registration  string    `json:"registration,omitempty"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	Events        *Stats    `json:"events,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// StatusPublisher is the interface for publishing status messages.
type StatusPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// StatusConfig holds configuration for the status reporter.
type StatusConfig struct {
	NodeID    string
	Version   string
	Interval  time.Duration
	Publisher StatusPublisher

	// Registration reports the registrar state. Optional.
	Registration func() registration.Status

	// Bridge contributes event counters. Optional.
	Bridge *Bridge
}

// StatusReporter periodically publishes node status to MQTT.
type StatusReporter struct {
	nodeID       string
	version      string
	startTime    time.Time
	interval     time.Duration
	publisher    StatusPublisher
	registration func() registration.Status
	bridge       *Bridge

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// NewStatusReporter creates a reporter. Call Start to begin publishing.
func NewStatusReporter(cfg StatusConfig) *StatusReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultStatusInterval
	}
	return &StatusReporter{
		nodeID:       cfg.NodeID,
		version:      cfg.Version,
		startTime:    time.Now(),
		interval:     interval,
		publisher:    cfg.Publisher,
		registration: cfg.Registration,
		bridge:       cfg.Bridge,
		done:         make(chan struct{}),
		logger:       noopLogger{},
	}
}

// SetLogger sets the logger for this reporter.
func (s *StatusReporter) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

// Start begins periodic reporting.
func (s *StatusReporter) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.reportLoop(ctx)
}

// Stop ends reporting and publishes a final "stopping" status.
// Safe to call multiple times.
func (s *StatusReporter) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.wg.Wait()

		//nolint:errcheck // best effort during shutdown
		s.publish(NodeStopping, "")
	})
}

// PublishStarting publishes a "starting" status.
func (s *StatusReporter) PublishStarting() error {
	return s.publish(NodeStarting, "node starting")
}

// PublishNow publishes the current status immediately.
func (s *StatusReporter) PublishNow() error {
	state, reason := s.determine()
	return s.publish(state, reason)
}

// Topic returns the retained status topic.
func (s *StatusReporter) Topic() string {
	return mqtt.Topics{}.NodeStatus(s.nodeID)
}

func (s *StatusReporter) reportLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	if err := s.PublishNow(); err != nil {
		s.getLogger().Warn("failed to publish initial status", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.PublishNow(); err != nil {
				s.getLogger().Warn("failed to publish status", "error", err)
			}
		}
	}
}

// determine evaluates the node state. Registration trouble degrades the
// node; a node with registration disabled is healthy on its own.
func (s *StatusReporter) determine() (NodeState, string) {
	if s.publisher == nil || !s.publisher.IsConnected() {
		return NodeDegraded, "MQTT disconnected"
	}
	if s.registration != nil {
		st := s.registration()
		switch st.State {
		case registration.StateRegistered:
		case registration.StateHeartbeatFailed:
			return NodeDegraded, "registry heartbeat failing"
		default:
			return NodeDegraded, fmt.Sprintf("registration %s", st.State)
		}
	}
	return NodeHealthy, ""
}

func (s *StatusReporter) publish(state NodeState, reason string) error {
	if s.publisher == nil {
		return nil
	}

	msg := StatusMessage{
		NodeID:        s.nodeID,
		Status:        state,
		Reason:        reason,
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Timestamp:     time.Now().UTC(),
	}
	if s.registration != nil {
		msg.Registration = s.registration().State.String()
	}
	if s.bridge != nil {
		stats := s.bridge.Stats()
		msg.Events = &stats
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshalling status: %w", err)
	}
	return s.publisher.Publish(s.Topic(), payload, 1, true)
}

func (s *StatusReporter) getLogger() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}
