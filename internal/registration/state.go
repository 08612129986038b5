package registration

import "time"

// State is the registration state of a node.
type State int

// Registration states.
//
//	Unregistered -> Registering -> Registered
//	Registered -(404 heartbeat)-> HeartbeatFailed -> Registering
//	any -> Unregistering -> Unregistered
const (
	StateUnregistered State = iota
	StateRegistering
	StateRegistered
	StateHeartbeatFailed
	StateUnregistering
)

func (s State) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StateRegistering:
		return "registering"
	case StateRegistered:
		return "registered"
	case StateHeartbeatFailed:
		return "heartbeat_failed"
	case StateUnregistering:
		return "unregistering"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is a point-in-time view of a registrar.
type Status struct {
	State State `json:"state"`

	// NodeID is the node being kept registered.
	NodeID string `json:"node_id"`

	// Registrations counts completed registerAll batches.
	Registrations int `json:"registrations"`

	// LastHeartbeat is the time of the last successful heartbeat.
	LastHeartbeat time.Time `json:"last_heartbeat,omitzero"`

	// HeartbeatFailures counts consecutive failed heartbeats.
	HeartbeatFailures int `json:"heartbeat_failures"`

	// LastError is the most recent failure, cleared on success.
	LastError string `json:"last_error,omitempty"`
}
