package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dhpke/nmos-core/internal/auth"
	"github.com/dhpke/nmos-core/internal/infrastructure/config"
	"github.com/dhpke/nmos-core/internal/infrastructure/logging"
)

// Frame types exchanged with websocket clients.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	wsSendBufferSize = 256

	// statusSuffix marks state channels. Their last payload is retained and
	// replayed to new subscribers.
	statusSuffix = ".status"
)

// WSMessage is one frame sent to or from a websocket client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload of subscribe and unsubscribe frames.
// A channel ending in ".*" matches every channel under that prefix and "*"
// matches everything.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// HubStats counts hub traffic since start.
type HubStats struct {
	Clients   int    `json:"connected_clients"`
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
	Retained  int    `json:"retained_channels"`
}

// Hub fans node events out to websocket clients. It satisfies
// is07.Broadcaster.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu       sync.RWMutex
	clients  map[*wsClient]struct{}
	retained map[string][]byte

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

type wsClient struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	principal auth.Principal

	mu       sync.RWMutex
	patterns map[string]struct{}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates a hub. Call Run to tie its lifetime to a context.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:      cfg,
		logger:   logger,
		clients:  make(map[*wsClient]struct{}),
		retained: make(map[string][]byte),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n, "subject", c.principal.Subject)
}

// unregister is safe to call more than once. Only the call that removes the
// client closes its send channel.
func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	_, existed := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if existed {
		close(c.send)
		h.logger.Debug("websocket client disconnected", "clients", n)
	}
}

// Broadcast sends payload to every client subscribed to channel. Payloads
// on status channels are also retained for later subscribers.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("failed to marshal broadcast", "channel", channel, "error", err)
		return
	}

	// Client locks are never taken while holding the hub lock.
	h.mu.Lock()
	if strings.HasSuffix(channel, statusSuffix) {
		h.retained[channel] = data
	}
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		if c.wants(channel) {
			h.deliver(c, data)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stats returns traffic counters.
func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return HubStats{
		Clients:   len(h.clients),
		Delivered: h.delivered.Load(),
		Dropped:   h.dropped.Load(),
		Retained:  len(h.retained),
	}
}

// retainedFor returns retained frames on channels matched by patterns,
// ordered by channel name.
func (h *Hub) retainedFor(patterns []string) [][]byte {
	h.mu.RLock()
	defer h.mu.RUnlock()

	channels := make([]string, 0, len(h.retained))
	for ch := range h.retained {
		for _, p := range patterns {
			if matchChannel(p, ch) {
				channels = append(channels, ch)
				break
			}
		}
	}
	sort.Strings(channels)

	out := make([][]byte, 0, len(channels))
	for _, ch := range channels {
		out = append(out, h.retained[ch])
	}
	return out
}

// deliver queues data for c. A slow client loses the frame rather than
// stalling the broadcaster.
func (h *Hub) deliver(c *wsClient, data []byte) {
	if c.trySend(data) {
		h.delivered.Add(1)
	} else {
		h.dropped.Add(1)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		close(c.send)
		if c.conn != nil {
			c.conn.Close()
		}
		delete(h.clients, c)
	}
}

// matchChannel reports whether pattern selects channel.
func matchChannel(pattern, channel string) bool {
	switch {
	case pattern == "*":
		return true
	case strings.HasSuffix(pattern, ".*"):
		return strings.HasPrefix(channel, strings.TrimSuffix(pattern, "*"))
	default:
		return pattern == channel
	}
}

// handleWebSocket upgrades the request. Browsers cannot set headers on the
// upgrade request, so the bearer token may also be passed as ?token=.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	principal, ok := s.authenticate(w, r, token)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &wsClient{
		hub:       s.hub,
		conn:      conn,
		send:      make(chan []byte, wsSendBufferSize),
		principal: principal,
		patterns:  make(map[string]struct{}),
	}
	s.hub.register(c)

	go c.writePump(s.wsCfg)
	go c.readPump(s.wsCfg)
}

func (c *wsClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	deadline := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(deadline))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		// Application frames count as liveness too.
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(deadline))
		c.handleFrame(data)
	}
}

func (c *wsClient) writePump(cfg config.WebSocketConfig) {
	ticker := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				//nolint:errcheck // Best-effort close frame
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) handleFrame(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.reply("", WSTypeError, errorPayload("invalid JSON message"))
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		channels, err := decodeChannels(msg.Payload)
		if err != nil {
			c.reply(msg.ID, WSTypeError, errorPayload(err.Error()))
			return
		}
		c.subscribe(channels)
		c.hub.logger.Info("websocket client subscribed", "channels", channels, "subject", c.principal.Subject)
		c.reply(msg.ID, WSTypeResponse, map[string]any{"subscribed": channels})
		for _, frame := range c.hub.retainedFor(channels) {
			c.hub.deliver(c, frame)
		}
	case WSTypeUnsubscribe:
		channels, err := decodeChannels(msg.Payload)
		if err != nil {
			c.reply(msg.ID, WSTypeError, errorPayload(err.Error()))
			return
		}
		c.unsubscribe(channels)
		c.reply(msg.ID, WSTypeResponse, map[string]any{"unsubscribed": channels})
	case WSTypePing:
		c.reply(msg.ID, WSTypePong, nil)
	default:
		c.reply(msg.ID, WSTypeError, errorPayload("unknown message type: "+msg.Type))
	}
}

// decodeChannels extracts a non-empty channel list from a frame payload.
func decodeChannels(payload any) ([]string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.New("invalid payload")
	}
	var sub WSSubscribePayload
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, errors.New("payload must be {\"channels\": [...]}")
	}
	channels := sub.Channels[:0]
	for _, ch := range sub.Channels {
		if ch = strings.TrimSpace(ch); ch != "" {
			channels = append(channels, ch)
		}
	}
	if len(channels) == 0 {
		return nil, errors.New("at least one channel is required")
	}
	return channels, nil
}

func (c *wsClient) subscribe(patterns []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range patterns {
		c.patterns[p] = struct{}{}
	}
}

func (c *wsClient) unsubscribe(patterns []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range patterns {
		delete(c.patterns, p)
	}
}

func (c *wsClient) wants(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for p := range c.patterns {
		if matchChannel(p, channel) {
			return true
		}
	}
	return false
}

// trySend reports whether data was queued. It absorbs the send on a closed
// channel that happens when a client disconnects mid-broadcast.
func (c *wsClient) trySend(data []byte) (sent bool) {
	defer func() {
		if recover() != nil {
			sent = false
		}
	}()

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *wsClient) reply(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.trySend(data)
}

func errorPayload(message string) map[string]string {
	return map[string]string{"message": message}
}
