package is07

import (
	"sync"

	"github.com/dhpke/nmos-core/internal/grain"
	"github.com/dhpke/nmos-core/internal/infrastructure/mqtt"
)

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu           sync.Mutex
	published    []mockPublish
	handlers     map[string]mqtt.MessageHandler
	unsubscribed []string
	connected    bool
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]mqtt.MessageHandler),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, mockPublish{Topic: topic, Payload: payload, QoS: qos, Retained: retained})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) Unsubscribe(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, topic)
	m.unsubscribed = append(m.unsubscribed, topic)
	return nil
}

// Deliver hands a message to every handler whose filter matches topic, the
// way the broker client's router does, and returns how many ran.
func (m *MockMQTTClient) Deliver(topic string, payload []byte) int {
	m.mu.Lock()
	var matched []mqtt.MessageHandler
	for pattern, h := range m.handlers {
		if mqtt.TopicMatches(pattern, topic) {
			matched = append(matched, h)
		}
	}
	m.mu.Unlock()

	for _, h := range matched {
		_ = h(topic, payload) //nolint:errcheck // handler errors are asserted via bridge stats
	}
	return len(matched)
}

func (m *MockMQTTClient) Unsubscribed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.unsubscribed...)
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) SetConnected(v bool) {
	m.mu.Lock()
	m.connected = v
	m.mu.Unlock()
}

func (m *MockMQTTClient) Published() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]mockPublish, len(m.published))
	copy(out, m.published)
	return out
}

func (m *MockMQTTClient) Subscribed(topic string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.handlers[topic]
	return ok
}

// recordingTelemetry implements Telemetry.
type recordingTelemetry struct {
	mu     sync.Mutex
	events []grain.CommandEvent
}

func (r *recordingTelemetry) WriteCommandEvent(ev grain.CommandEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// recordingBroadcaster implements Broadcaster.
type recordingBroadcaster struct {
	mu    sync.Mutex
	types []string
}

func (r *recordingBroadcaster) Broadcast(eventType string, _ any) {
	r.mu.Lock()
	r.types = append(r.types, eventType)
	r.mu.Unlock()
}
