package connection

import (
	"encoding/json"
	"maps"
)

// Role says whether an endpoint sends or receives.
type Role string

// Endpoint roles.
const (
	RoleSender   Role = "sender"
	RoleReceiver Role = "receiver"
)

// Plural returns the URL collection name.
func (r Role) Plural() string {
	return string(r) + "s"
}

// PeerKey is the JSON key naming the peer: a receiver names its sender and
// a sender names its receiver.
func (r Role) PeerKey() string {
	if r == RoleReceiver {
		return "sender_id"
	}
	return "receiver_id"
}

// ParseRole accepts "sender", "senders", "receiver" or "receivers".
func ParseRole(s string) (Role, bool) {
	switch s {
	case "sender", "senders":
		return RoleSender, true
	case "receiver", "receivers":
		return RoleReceiver, true
	default:
		return "", false
	}
}

// ActivationMode selects when staged parameters become active.
// The zero value means stage only; it is null on the wire.
type ActivationMode string

// Activation modes.
const (
	ModeNone              ActivationMode = ""
	ModeImmediate         ActivationMode = "activate_immediate"
	ModeScheduledAbsolute ActivationMode = "activate_scheduled_absolute"
	ModeScheduledRelative ActivationMode = "activate_scheduled_relative"
)

// Valid reports whether m is a known mode.
func (m ActivationMode) Valid() bool {
	switch m {
	case ModeNone, ModeImmediate, ModeScheduledAbsolute, ModeScheduledRelative:
		return true
	default:
		return false
	}
}

// Scheduled reports whether m waits for a requested time.
func (m ActivationMode) Scheduled() bool {
	return m == ModeScheduledAbsolute || m == ModeScheduledRelative
}

func (m ActivationMode) MarshalJSON() ([]byte, error) {
	if m == ModeNone {
		return []byte("null"), nil
	}
	return json.Marshal(string(m))
}

func (m *ActivationMode) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*m = ModeNone
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*m = ActivationMode(s)
	return nil
}

// Activation is the activation block of a connection state. Times are
// protocol timestamps ("seconds:nanoseconds"); for relative activations
// RequestedTime is an offset.
type Activation struct {
	Mode           ActivationMode `json:"mode"`
	RequestedTime  *string        `json:"requested_time"`
	ActivationTime *string        `json:"activation_time"`
}

func (a Activation) clone() Activation {
	return Activation{
		Mode:           a.Mode,
		RequestedTime:  cloneString(a.RequestedTime),
		ActivationTime: cloneString(a.ActivationTime),
	}
}

// Params is one leg of transport parameters. Values are JSON scalars.
type Params map[string]any

// TransportFile carries a session description or similar document.
type TransportFile struct {
	Data *string `json:"data"`
	Type *string `json:"type"`
}

func (f *TransportFile) clone() *TransportFile {
	if f == nil {
		return nil
	}
	return &TransportFile{Data: cloneString(f.Data), Type: cloneString(f.Type)}
}

// State is one side (staged or active) of an endpoint's connection state.
//
// PeerID is the sender for a receiver and the receiver for a sender; it is
// serialised under the role's PeerKey. Only receivers carry TransportFile.
type State struct {
	Role            Role
	PeerID          *string
	MasterEnable    bool
	Activation      Activation
	TransportParams []Params
	TransportFile   *TransportFile
}

// Clone returns a deep copy.
func (s State) Clone() State {
	cpy := s
	cpy.PeerID = cloneString(s.PeerID)
	cpy.Activation = s.Activation.clone()
	cpy.TransportFile = s.TransportFile.clone()
	if s.TransportParams != nil {
		cpy.TransportParams = make([]Params, len(s.TransportParams))
		for i, leg := range s.TransportParams {
			cpy.TransportParams[i] = maps.Clone(leg)
		}
	}
	return cpy
}

type receiverState struct {
	SenderID        *string       `json:"sender_id"`
	MasterEnable    bool          `json:"master_enable"`
	Activation      Activation    `json:"activation"`
	TransportFile   TransportFile `json:"transport_file"`
	TransportParams []Params      `json:"transport_params"`
}

type senderState struct {
	ReceiverID      *string    `json:"receiver_id"`
	MasterEnable    bool       `json:"master_enable"`
	Activation      Activation `json:"activation"`
	TransportParams []Params   `json:"transport_params"`
}

func (s State) MarshalJSON() ([]byte, error) {
	params := s.TransportParams
	if params == nil {
		params = []Params{}
	}
	if s.Role == RoleReceiver {
		out := receiverState{
			SenderID:        s.PeerID,
			MasterEnable:    s.MasterEnable,
			Activation:      s.Activation,
			TransportParams: params,
		}
		if s.TransportFile != nil {
			out.TransportFile = *s.TransportFile
		}
		return json.Marshal(out)
	}
	return json.Marshal(senderState{
		ReceiverID:      s.PeerID,
		MasterEnable:    s.MasterEnable,
		Activation:      s.Activation,
		TransportParams: params,
	})
}

// UnmarshalJSON infers the role from which peer key is present.
func (s *State) UnmarshalJSON(data []byte) error {
	var aux struct {
		SenderID        *string        `json:"sender_id"`
		ReceiverID      *string        `json:"receiver_id"`
		MasterEnable    bool           `json:"master_enable"`
		Activation      Activation     `json:"activation"`
		TransportFile   *TransportFile `json:"transport_file"`
		TransportParams []Params       `json:"transport_params"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}

	*s = State{
		MasterEnable:    aux.MasterEnable,
		Activation:      aux.Activation,
		TransportParams: aux.TransportParams,
	}
	if _, ok := keys["sender_id"]; ok {
		s.Role = RoleReceiver
		s.PeerID = aux.SenderID
		s.TransportFile = aux.TransportFile
	} else if _, ok := keys["receiver_id"]; ok {
		s.Role = RoleSender
		s.PeerID = aux.ReceiverID
	}
	return nil
}

// Constraint restricts the values one transport parameter may take.
// An empty Constraint allows anything.
type Constraint struct {
	Minimum     *float64 `json:"minimum,omitempty"`
	Maximum     *float64 `json:"maximum,omitempty"`
	Enum        []any    `json:"enum,omitempty"`
	Description string   `json:"description,omitempty"`
}

// Constraints holds one map per leg, keyed by parameter name.
type Constraints []map[string]Constraint

func (c Constraints) clone() Constraints {
	if c == nil {
		return nil
	}
	out := make(Constraints, len(c))
	for i, leg := range c {
		out[i] = maps.Clone(leg)
	}
	return out
}

// Range builds a numeric range constraint.
func Range(minimum, maximum float64) Constraint {
	return Constraint{Minimum: &minimum, Maximum: &maximum}
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
