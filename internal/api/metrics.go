package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/dhpke/nmos-core/internal/bridges/is07"
	"github.com/dhpke/nmos-core/internal/connection"
	"github.com/dhpke/nmos-core/internal/infrastructure/influxdb"
	"github.com/dhpke/nmos-core/internal/infrastructure/mqtt"
	"github.com/dhpke/nmos-core/internal/registration"
	"github.com/dhpke/nmos-core/internal/routing"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string               `json:"timestamp"`
	Version       string               `json:"version"`
	NodeID        string               `json:"node_id"`
	UptimeSeconds int64                `json:"uptime_seconds"`
	Runtime       RuntimeMetrics       `json:"runtime"`
	WebSocket     HubStats             `json:"websocket"`
	MQTT          *mqtt.Stats          `json:"mqtt,omitempty"`
	Endpoints     EndpointMetrics      `json:"endpoints"`
	Registration  *registration.Status `json:"registration,omitempty"`
	Routing       *RoutingMetrics      `json:"routing,omitempty"`
	Events        *is07.Stats          `json:"events,omitempty"`
	Telemetry     *influxdb.Stats      `json:"telemetry,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// EndpointMetrics counts the node's connection endpoints.
type EndpointMetrics struct {
	Senders   int `json:"senders"`
	Receivers int `json:"receivers"`
}

// RoutingMetrics summarises the controller view.
type RoutingMetrics struct {
	Senders   int                   `json:"senders"`
	Receivers int                   `json:"receivers"`
	Routes    int                   `json:"routes"`
	Pending   int                   `json:"pending"`
	Refresh   routing.RefreshStatus `json:"refresh"`
}

// handleMetrics returns comprehensive system metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	// Collect runtime stats
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		NodeID:        s.node.NodeID,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: s.hub.Stats(),
		Endpoints: EndpointMetrics{
			Senders:   len(s.node.Connections.IDs(connection.RoleSender)),
			Receivers: len(s.node.Connections.IDs(connection.RoleReceiver)),
		},
	}

	if s.mqtt != nil {
		st := s.mqtt.Stats()
		metrics.MQTT = &st
	}

	if s.node.Registrar != nil {
		st := s.node.Registrar.Status()
		metrics.Registration = &st
	}

	if s.node.Reconciler != nil {
		m := s.node.Reconciler.Matrix()
		metrics.Routing = &RoutingMetrics{
			Senders:   len(m.Senders),
			Receivers: len(m.Receivers),
			Routes:    len(m.Routes),
			Pending:   len(m.Pending),
			Refresh:   m.Status,
		}
	}

	if s.node.Bridge != nil {
		st := s.node.Bridge.Stats()
		metrics.Events = &st
	}

	if s.telemetry != nil {
		st := s.telemetry.Stats()
		metrics.Telemetry = &st
	}

	writeJSON(w, http.StatusOK, metrics)
}
