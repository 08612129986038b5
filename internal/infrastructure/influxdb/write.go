package influxdb

import (
	"strconv"
	"time"

	"github.com/dhpke/nmos-core/internal/grain"
	"github.com/dhpke/nmos-core/internal/nmostime"
)

// Measurements written by the node.
const (
	MeasurementCommandEvent = "command_event"
	MeasurementRouteChange  = "route_change"
)

// WriteCommandEvent records one classified event.
//
// Tags: source_id, type, path, and index or color when the family carries
// one. Fields: value (numeric when it has one), normalized, delta.
// The point time is the grain's origin timestamp when it parses.
func (c *Client) WriteCommandEvent(ev grain.CommandEvent) {
	tags, fields, ts := commandEventPoint(ev, time.Now())
	c.write(MeasurementCommandEvent, tags, fields, ts)
}

// WriteRouteChange records a route operation and whether it succeeded.
func (c *Client) WriteRouteChange(op, senderID, receiverID string, ok bool) {
	tags := map[string]string{
		"op":          op,
		"receiver_id": receiverID,
	}
	if senderID != "" {
		tags["sender_id"] = senderID
	}
	c.write(MeasurementRouteChange, tags, map[string]any{"success": ok}, time.Now())
}

// WritePoint writes an arbitrary point stamped now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.write(measurement, tags, fields, time.Now())
}

// commandEventPoint returns the tags, fields and time of an event point.
func commandEventPoint(ev grain.CommandEvent, fallback time.Time) (map[string]string, map[string]any, time.Time) {
	tags := map[string]string{
		"type": string(ev.Type),
		"path": ev.Path,
	}
	if ev.SourceID != "" {
		tags["source_id"] = ev.SourceID
	}
	switch ev.Type {
	case grain.CommandTally:
		tags["color"] = ev.Color
	case grain.CommandProperty:
	default:
		tags["index"] = strconv.Itoa(ev.Index)
	}

	fields := map[string]any{}
	switch v := ev.Value.(type) {
	case float64:
		fields["value"] = v
	case bool:
		fields["value"] = v
	case string:
		fields["value_text"] = v
	case nil:
	default:
		fields["value_text"] = "complex"
	}
	if ev.Normalized != nil {
		fields["normalized"] = *ev.Normalized
	}
	if ev.Delta != nil {
		fields["delta"] = *ev.Delta
	}
	if len(fields) == 0 {
		fields["present"] = true
	}

	ts := fallback
	if parsed, err := nmostime.Parse(ev.Timestamp); err == nil {
		ts = parsed.Time()
	}
	return tags, fields, ts
}
