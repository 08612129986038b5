package grain

// Grain and payload constants.
const (
	// GrainTypeEvent is the grain_type carried by every event grain.
	GrainTypeEvent = "event"

	// PayloadTypeEvent is the grain.type of an event payload.
	PayloadTypeEvent = "urn:x-nmos:format:data.event"

	// DefaultTopic is used when Build is given an empty topic.
	DefaultTopic = "/"
)

// Grain is one timestamped, path-addressed event envelope.
// Topic on the wire: x-nmos/events/1.0/{source_id}/{event_type}
type Grain struct {
	// GrainType is always "event" for grains built here.
	GrainType string `json:"grain_type"`

	// SourceID identifies the emitting source; consumers compare it with
	// their own source to drop self-originated grains.
	SourceID string `json:"source_id"`

	// FlowID identifies the event flow of the source.
	FlowID string `json:"flow_id"`

	// Timestamps in "{seconds}:{nanoseconds}" protocol time.
	OriginTimestamp   string `json:"origin_timestamp"`
	SyncTimestamp     string `json:"sync_timestamp"`
	CreationTimestamp string `json:"creation_timestamp"`

	Rate     Rational `json:"rate"`
	Duration Rational `json:"duration"`

	Grain Payload `json:"grain"`
}

// Rational is a numerator/denominator pair. Event grains carry 0/1.
type Rational struct {
	Numerator   int64 `json:"numerator"`
	Denominator int64 `json:"denominator"`
}

// Payload is the body of a grain.
type Payload struct {
	Type  string  `json:"type"`
	Topic string  `json:"topic"`
	Data  []Entry `json:"data"`
}

// Entry is one path-addressed value change.
//
// Pre is nil when the emitter did not report a previous value.
type Entry struct {
	Path string `json:"path"`
	Pre  any    `json:"pre,omitempty"`
	Post any    `json:"post"`
}

// zeroRate is the fixed rate and duration of event grains.
var zeroRate = Rational{Numerator: 0, Denominator: 1}
