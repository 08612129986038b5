package connection

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/dhpke/nmos-core/internal/nmostime"
)

// Patch is a decoded partial connection state. Only fields marked present
// are merged into staged.
type Patch struct {
	HasPeer bool
	PeerID  *string

	HasMasterEnable bool
	MasterEnable    bool

	// Activation is nil when the patch has no activation block.
	Activation *ActivationPatch

	// TransportParams is nil when absent. Each leg is itself partial.
	TransportParams []Params

	HasTransportFile bool
	TransportFile    TransportFile
}

// ActivationPatch is a partial activation block, merged key by key.
type ActivationPatch struct {
	HasMode bool
	Mode    ActivationMode

	HasRequestedTime bool
	RequestedTime    *string

	HasActivationTime bool
	ActivationTime    *string
}

// Empty reports whether the patch changes nothing.
func (p *Patch) Empty() bool {
	return !p.HasPeer && !p.HasMasterEnable && p.Activation == nil &&
		p.TransportParams == nil && !p.HasTransportFile
}

// Activates reports whether the patch sets an activation mode.
func (p *Patch) Activates() bool {
	return p.Activation != nil && p.Activation.HasMode && p.Activation.Mode != ModeNone
}

// DecodePatch parses a PATCH body for an endpoint of the given role. It
// rejects unknown fields and wrongly typed values with a *PatchError naming
// the field. Constraint checks happen when the patch is applied.
func DecodePatch(role Role, body []byte) (*Patch, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil || raw == nil {
		return nil, &PatchError{Reason: "body must be a JSON object"}
	}

	p := &Patch{}
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, key := range keys {
		val := raw[key]
		var err error
		switch {
		case key == role.PeerKey():
			p.HasPeer = true
			p.PeerID, err = nullableString(key, val)
		case key == "master_enable":
			p.HasMasterEnable = true
			if uerr := json.Unmarshal(val, &p.MasterEnable); uerr != nil || isNull(val) {
				err = &PatchError{Field: key, Reason: "must be a boolean"}
			}
		case key == "activation":
			p.Activation, err = decodeActivation(val)
		case key == "transport_params":
			p.TransportParams, err = decodeParams(val)
		case key == "transport_file" && role == RoleReceiver:
			p.HasTransportFile = true
			p.TransportFile, err = decodeTransportFile(val)
		default:
			err = &PatchError{Field: key, Reason: "unknown field"}
		}
		if err != nil {
			return nil, err
		}
	}
	return p, nil
}

func decodeActivation(val json.RawMessage) (*ActivationPatch, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(val, &raw); err != nil || raw == nil {
		return nil, &PatchError{Field: "activation", Reason: "must be an object"}
	}

	a := &ActivationPatch{}
	for key, v := range raw {
		field := "activation." + key
		switch key {
		case "mode":
			var mode ActivationMode
			if err := json.Unmarshal(v, &mode); err != nil || !mode.Valid() {
				return nil, &PatchError{Field: field, Reason: "unknown activation mode"}
			}
			a.HasMode, a.Mode = true, mode
		case "requested_time":
			t, err := timestampOrNull(field, v)
			if err != nil {
				return nil, err
			}
			a.HasRequestedTime, a.RequestedTime = true, t
		case "activation_time":
			t, err := timestampOrNull(field, v)
			if err != nil {
				return nil, err
			}
			a.HasActivationTime, a.ActivationTime = true, t
		default:
			return nil, &PatchError{Field: field, Reason: "unknown field"}
		}
	}
	return a, nil
}

func decodeParams(val json.RawMessage) ([]Params, error) {
	var legs []map[string]json.RawMessage
	if err := json.Unmarshal(val, &legs); err != nil || legs == nil {
		return nil, &PatchError{Field: "transport_params", Reason: "must be an array of objects"}
	}

	out := make([]Params, len(legs))
	for i, leg := range legs {
		if leg == nil {
			return nil, &PatchError{Field: fmt.Sprintf("transport_params[%d]", i), Reason: "must be an object"}
		}
		out[i] = make(Params, len(leg))
		for k, v := range leg {
			var scalar any
			if err := json.Unmarshal(v, &scalar); err != nil {
				return nil, &PatchError{Field: fmt.Sprintf("transport_params[%d].%s", i, k), Reason: "invalid value"}
			}
			switch scalar.(type) {
			case nil, string, float64, bool:
			default:
				return nil, &PatchError{Field: fmt.Sprintf("transport_params[%d].%s", i, k), Reason: "must be a string, number, boolean or null"}
			}
			out[i][k] = scalar
		}
	}
	return out, nil
}

func decodeTransportFile(val json.RawMessage) (TransportFile, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(val, &raw); err != nil || raw == nil {
		return TransportFile{}, &PatchError{Field: "transport_file", Reason: "must be an object"}
	}

	var tf TransportFile
	for key, v := range raw {
		field := "transport_file." + key
		s, err := nullableString(field, v)
		if err != nil {
			return TransportFile{}, err
		}
		switch key {
		case "data":
			tf.Data = s
		case "type":
			tf.Type = s
		default:
			return TransportFile{}, &PatchError{Field: field, Reason: "unknown field"}
		}
	}
	return tf, nil
}

func nullableString(field string, val json.RawMessage) (*string, error) {
	if isNull(val) {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(val, &s); err != nil {
		return nil, &PatchError{Field: field, Reason: "must be a string or null"}
	}
	return &s, nil
}

func timestampOrNull(field string, val json.RawMessage) (*string, error) {
	s, err := nullableString(field, val)
	if err != nil || s == nil {
		return s, err
	}
	if _, err := nmostime.Parse(*s); err != nil {
		return nil, &PatchError{Field: field, Reason: "must be a \"seconds:nanoseconds\" timestamp"}
	}
	return s, nil
}

func isNull(val json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(val), []byte("null"))
}
