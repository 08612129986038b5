package connection

import (
	"github.com/dhpke/nmos-core/internal/resource"
)

// Auto is the transport parameter value asking the endpoint to choose.
const Auto = "auto"

// check validates one staged value. Parameters without a constraint are
// accepted unconditionally, and "auto" is always accepted.
func (c Constraints) check(leg int, param string, value any) error {
	if leg >= len(c) {
		return nil
	}
	con, ok := c[leg][param]
	if !ok {
		return nil
	}
	if s, isString := value.(string); isString && s == Auto {
		return nil
	}

	if len(con.Enum) > 0 && !containsValue(con.Enum, value) {
		return &ConstraintError{Leg: leg, Param: param, Value: value, Reason: "not one of the allowed values"}
	}

	if con.Minimum == nil && con.Maximum == nil {
		return nil
	}
	n, isNumber := asNumber(value)
	if !isNumber {
		return &ConstraintError{Leg: leg, Param: param, Value: value, Reason: "must be a number"}
	}
	if con.Minimum != nil && n < *con.Minimum {
		return &ConstraintError{Leg: leg, Param: param, Value: value, Reason: "below minimum"}
	}
	if con.Maximum != nil && n > *con.Maximum {
		return &ConstraintError{Leg: leg, Param: param, Value: value, Reason: "above maximum"}
	}
	return nil
}

func containsValue(enum []any, value any) bool {
	vn, vIsNum := asNumber(value)
	for _, allowed := range enum {
		if an, ok := asNumber(allowed); ok && vIsNum {
			if an == vn {
				return true
			}
			continue
		}
		if allowed == value {
			return true
		}
	}
	return false
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// DefaultParams returns the initial transport parameters of one leg.
func DefaultParams(role Role, transport string) Params {
	if transport == resource.TransportMQTT {
		return Params{
			"source_host":                    Auto,
			"source_port":                    Auto,
			"broker_topic":                   nil,
			"connection_status_broker_topic": nil,
		}
	}
	if role == RoleSender {
		return Params{
			"source_ip":        Auto,
			"destination_ip":   Auto,
			"source_port":      Auto,
			"destination_port": Auto,
			"rtp_enabled":      true,
		}
	}
	return Params{
		"source_ip":        nil,
		"multicast_ip":     nil,
		"interface_ip":     Auto,
		"destination_port": Auto,
		"rtp_enabled":      true,
	}
}

// DefaultConstraints returns the constraints of one leg.
func DefaultConstraints(role Role, transport string) map[string]Constraint {
	if transport == resource.TransportMQTT {
		return map[string]Constraint{
			"source_port": Range(1, 65535),
		}
	}
	out := map[string]Constraint{
		"destination_port": Range(1, 65535),
		"rtp_enabled":      {Enum: []any{true, false}},
	}
	if role == RoleSender {
		out["source_port"] = Range(1, 65535)
	}
	return out
}
