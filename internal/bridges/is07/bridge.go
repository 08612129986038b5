package is07

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dhpke/nmos-core/internal/connection"
	"github.com/dhpke/nmos-core/internal/grain"
	"github.com/dhpke/nmos-core/internal/infrastructure/mqtt"
)

// Defaults.
const (
	DefaultEventType = "boolean"
	defaultQoS       = 1
)

// MQTTClient is the broker subset the bridge needs. *mqtt.Client satisfies it.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
}

// Telemetry receives classified events. *influxdb.Client satisfies it.
type Telemetry interface {
	WriteCommandEvent(ev grain.CommandEvent)
}

// Broadcaster fans events out to UI clients. *api.Hub satisfies it.
type Broadcaster interface {
	Broadcast(eventType string, payload any)
}

// Logger defines the logging interface used by the bridge.
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

// BroadcastCommand is the hub event type for classified commands.
const BroadcastCommand = "event.command"

// Options configures a Bridge.
type Options struct {
	Client MQTTClient

	// SourceID and FlowID identify the node's own event source. Grains
	// carrying SourceID are treated as echoes and dropped.
	SourceID string
	FlowID   string

	// EventType is used in the publish topic. Defaults to "boolean".
	EventType string

	// Subscriptions are topic patterns subscribed on Start. Defaults to
	// every event topic.
	Subscriptions []string

	History     *grain.History
	Telemetry   Telemetry
	Broadcaster Broadcaster
	Logger      Logger
}

// Stats counts grains handled by the bridge.
type Stats struct {
	Received  uint64 `json:"received"`
	Invalid   uint64 `json:"invalid"`
	Echoes    uint64 `json:"echoes"`
	Commands  uint64 `json:"commands"`
	Published uint64 `json:"published"`
}

// Bridge moves event grains between the broker and the node: incoming
// grains are validated, echo-filtered, classified and fanned out;
// outgoing entries are wrapped in grains for the node's own source.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	client      MQTTClient
	sourceID    string
	flowID      string
	eventType   string
	patterns    []string
	history     *grain.History
	telemetry   Telemetry
	broadcaster Broadcaster
	logger      Logger

	// publishTopic overrides the default topic once a sender activation
	// names a broker_topic.
	publishTopic atomic.Pointer[string]

	// followed maps receiver IDs to the topic they were activated on.
	followed   map[string]string
	followedMu sync.Mutex

	listeners   []func(grain.CommandEvent)
	listenersMu sync.RWMutex

	received, invalid, echoes, commands, published atomic.Uint64
}

// New creates a bridge. Call Start to subscribe.
func New(opts Options) (*Bridge, error) {
	if opts.Client == nil {
		return nil, errors.New("is07: MQTT client is required")
	}
	if opts.SourceID == "" || opts.FlowID == "" {
		return nil, errors.New("is07: source and flow IDs are required")
	}
	if opts.EventType == "" {
		opts.EventType = DefaultEventType
	}
	if len(opts.Subscriptions) == 0 {
		opts.Subscriptions = []string{mqtt.Topics{}.AllEvents()}
	}
	if opts.History == nil {
		opts.History = grain.NewHistory(grain.DefaultHistorySize)
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	return &Bridge{
		client:      opts.Client,
		sourceID:    opts.SourceID,
		flowID:      opts.FlowID,
		eventType:   opts.EventType,
		patterns:    opts.Subscriptions,
		history:     opts.History,
		telemetry:   opts.Telemetry,
		broadcaster: opts.Broadcaster,
		logger:      opts.Logger,
		followed:    make(map[string]string),
	}, nil
}

// Start subscribes to the configured topic patterns.
func (b *Bridge) Start(_ context.Context) error {
	for _, pattern := range b.patterns {
		if err := b.client.Subscribe(pattern, defaultQoS, b.HandleMessage); err != nil {
			return fmt.Errorf("subscribe to %s: %w", pattern, err)
		}
		b.logger.Info("subscribed to events", "topic", pattern)
	}
	return nil
}

// Stop unsubscribes from every topic the bridge subscribed to.
func (b *Bridge) Stop() {
	if !b.client.IsConnected() {
		return
	}
	for _, pattern := range b.patterns {
		if err := b.client.Unsubscribe(pattern); err != nil {
			b.logger.Debug("unsubscribe failed", "topic", pattern, "error", err)
		}
	}
	b.followedMu.Lock()
	for id, topic := range b.followed {
		delete(b.followed, id)
		b.release(topic)
	}
	b.followedMu.Unlock()
}

// OnCommand registers a callback for every classified command event.
func (b *Bridge) OnCommand(fn func(grain.CommandEvent)) {
	b.listenersMu.Lock()
	b.listeners = append(b.listeners, fn)
	b.listenersMu.Unlock()
}

// SourceID returns the node's own event source ID.
func (b *Bridge) SourceID() string {
	return b.sourceID
}

// History returns the recent-events buffer.
func (b *Bridge) History() *grain.History {
	return b.history
}

// Stats returns a snapshot of the counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Received:  b.received.Load(),
		Invalid:   b.invalid.Load(),
		Echoes:    b.echoes.Load(),
		Commands:  b.commands.Load(),
		Published: b.published.Load(),
	}
}

// HandleMessage processes one MQTT message. It satisfies mqtt.MessageHandler.
// Malformed grains are rejected as a whole and produce no events; grains
// from the node's own source are dropped before classification.
func (b *Bridge) HandleMessage(topic string, payload []byte) error {
	b.received.Add(1)

	g, err := grain.Decode(payload)
	if err != nil {
		b.invalid.Add(1)
		return fmt.Errorf("topic %s: %w", topic, err)
	}
	if g.SourceID == b.sourceID {
		b.echoes.Add(1)
		return nil
	}

	events := grain.ClassifyGrain(g)
	if len(events) == 0 {
		return nil
	}
	b.commands.Add(uint64(len(events)))
	b.history.Add(events...)

	b.listenersMu.RLock()
	listeners := b.listeners
	b.listenersMu.RUnlock()

	for _, ev := range events {
		if b.telemetry != nil {
			b.telemetry.WriteCommandEvent(ev)
		}
		if b.broadcaster != nil {
			b.broadcaster.Broadcast(BroadcastCommand, ev)
		}
		for _, fn := range listeners {
			fn(ev)
		}
	}

	args := []any{"topic", topic, "source_id", g.SourceID, "events", len(events)}
	if src, eventType, ok := mqtt.ParseEventTopic(topic); ok {
		args = append(args, "event_type", eventType)
		if src != g.SourceID {
			args = append(args, "topic_source_id", src)
		}
	}
	b.logger.Debug("grain classified", args...)
	return nil
}

// Topic returns where Publish sends grains of eventType. An empty eventType
// means the bridge default.
func (b *Bridge) Topic(eventType string) string {
	if t := b.publishTopic.Load(); t != nil {
		return *t
	}
	if eventType == "" {
		eventType = b.eventType
	}
	return mqtt.Topics{}.Event(b.sourceID, eventType)
}

// Publish wraps entries in a grain from the node's own source and sends it.
// grainTopic is the grain's internal topic, "/" when empty.
func (b *Bridge) Publish(eventType, grainTopic string, entries []grain.Entry) (grain.Grain, error) {
	if len(entries) == 0 {
		return grain.Grain{}, fmt.Errorf("%w: no entries", grain.ErrInvalidGrain)
	}
	g := grain.Build(b.sourceID, b.flowID, grainTopic, entries)
	payload, err := grain.Encode(g)
	if err != nil {
		return grain.Grain{}, err
	}
	if err := b.client.Publish(b.Topic(eventType), payload, defaultQoS, false); err != nil {
		return grain.Grain{}, fmt.Errorf("publishing grain: %w", err)
	}
	b.published.Add(1)
	return g, nil
}

// HandleActivation follows connection activations of MQTT endpoints.
// A receiver activated with a broker_topic is subscribed to it, and
// unsubscribed when disabled. A topic already covered by a configured
// pattern gets no subscription of its own, so each grain is handled once;
// receivers following the same topic share one subscription. A sender
// activation moves the publish topic.
func (b *Bridge) HandleActivation(a connection.Activated) {
	topic := brokerTopic(a.TransportParams)

	switch a.Role {
	case connection.RoleSender:
		if a.MasterEnable && topic != "" {
			b.publishTopic.Store(&topic)
		} else {
			b.publishTopic.Store(nil)
		}
	case connection.RoleReceiver:
		b.followedMu.Lock()
		defer b.followedMu.Unlock()

		prev, had := b.followed[a.EndpointID]
		if had && (prev != topic || !a.MasterEnable) {
			delete(b.followed, a.EndpointID)
			b.release(prev)
		}
		if !a.MasterEnable || topic == "" || (had && prev == topic) {
			return
		}
		if !b.covered(topic) && !b.isFollowed(topic) {
			if err := b.client.Subscribe(topic, defaultQoS, b.HandleMessage); err != nil {
				b.logger.Warn("follow failed", "receiver_id", a.EndpointID, "topic", topic, "error", err)
				return
			}
		}
		b.followed[a.EndpointID] = topic
		b.logger.Info("receiver following topic", "receiver_id", a.EndpointID, "topic", topic)
	}
}

// covered reports whether a configured pattern already delivers topic.
func (b *Bridge) covered(topic string) bool {
	for _, p := range b.patterns {
		if mqtt.TopicMatches(p, topic) {
			return true
		}
	}
	return false
}

// isFollowed reports whether any receiver still follows topic. Callers hold
// followedMu.
func (b *Bridge) isFollowed(topic string) bool {
	for _, t := range b.followed {
		if t == topic {
			return true
		}
	}
	return false
}

// release drops the subscription for a topic no receiver follows any more,
// leaving configured patterns alone. Callers hold followedMu.
func (b *Bridge) release(topic string) {
	if b.covered(topic) || b.isFollowed(topic) {
		return
	}
	if err := b.client.Unsubscribe(topic); err != nil {
		b.logger.Warn("unsubscribe failed", "topic", topic, "error", err)
	}
}

// Followed returns receiver ID -> topic for active MQTT receivers.
func (b *Bridge) Followed() map[string]string {
	b.followedMu.Lock()
	defer b.followedMu.Unlock()
	out := make(map[string]string, len(b.followed))
	for k, v := range b.followed {
		out[k] = v
	}
	return out
}

func brokerTopic(legs []connection.Params) string {
	if len(legs) == 0 {
		return ""
	}
	if s, ok := legs[0]["broker_topic"].(string); ok {
		return s
	}
	return ""
}
