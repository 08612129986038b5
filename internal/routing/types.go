package routing

import (
	"time"

	"github.com/dhpke/nmos-core/internal/resource"
)

// Op is a route operation.
type Op string

// Route operations.
const (
	OpRoute      Op = "route"
	OpDisconnect Op = "disconnect"
)

// Endpoint is the display view of a sender or receiver.
type Endpoint struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	DeviceID string `json:"device_id"`
}

// Route is one active cross-point: receiver -> sender.
type Route struct {
	ReceiverID string `json:"receiver_id"`
	SenderID   string `json:"sender_id"`
}

// RefreshStatus describes the outcome of the last refresh.
type RefreshStatus struct {
	State     string    `json:"state"` // "ok", "error" or "never"
	Message   string    `json:"message,omitempty"`
	Attempts  int       `json:"attempts,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

// Refresh states.
const (
	RefreshNever = "never"
	RefreshOK    = "ok"
	RefreshError = "error"
)

// Matrix is a copy of the reconciler's view, safe to hand to callers.
type Matrix struct {
	Senders   []Endpoint    `json:"senders"`
	Receivers []Endpoint    `json:"receivers"`
	Routes    []Route       `json:"routes"`
	Pending   []string      `json:"pending"`
	Status    RefreshStatus `json:"status"`
}

// RouteOf returns the sender routed to receiverID, if any.
func (m Matrix) RouteOf(receiverID string) (string, bool) {
	for _, r := range m.Routes {
		if r.ReceiverID == receiverID {
			return r.SenderID, true
		}
	}
	return "", false
}

// Change is emitted after a confirmed route change.
type Change struct {
	Op         Op     `json:"op"`
	ReceiverID string `json:"receiver_id"`
	SenderID   string `json:"sender_id,omitempty"`
}

// Failure is emitted when a route change fails. The projection is left
// unchanged.
type Failure struct {
	Op         Op     `json:"op"`
	ReceiverID string `json:"receiver_id"`
	SenderID   string `json:"sender_id,omitempty"`
	Error      string `json:"error"`
}

// Notifier receives routing notifications.
type Notifier interface {
	RouteChanged(Change)
	RouteFailed(Failure)
}

func senderView(s resource.Sender) Endpoint {
	return Endpoint{ID: s.ID, Label: s.Label, DeviceID: s.DeviceID}
}

func receiverView(r resource.Receiver) Endpoint {
	return Endpoint{ID: r.ID, Label: r.Label, DeviceID: r.DeviceID}
}
