package grain

import (
	"encoding/json"
	"fmt"

	"github.com/dhpke/nmos-core/internal/nmostime"
)

// Build wraps entries in a new event grain stamped with the current protocol
// time. origin, sync and creation timestamps are identical.
func Build(sourceID, flowID, topic string, entries []Entry) Grain {
	now := nmostime.Now().String()
	if topic == "" {
		topic = DefaultTopic
	}

	data := make([]Entry, len(entries))
	copy(data, entries)

	return Grain{
		GrainType:         GrainTypeEvent,
		SourceID:          sourceID,
		FlowID:            flowID,
		OriginTimestamp:   now,
		SyncTimestamp:     now,
		CreationTimestamp: now,
		Rate:              zeroRate,
		Duration:          zeroRate,
		Grain: Payload{
			Type:  PayloadTypeEvent,
			Topic: topic,
			Data:  data,
		},
	}
}

// Validate reports why a grain is malformed, or nil if it is well-formed.
// A grain is well-formed when grain_type, source_id, flow_id and
// origin_timestamp are non-empty and data is a list.
func Validate(g *Grain) error {
	if g == nil {
		return fmt.Errorf("%w: nil grain", ErrInvalidGrain)
	}

	switch {
	case g.GrainType == "":
		return fmt.Errorf("%w: grain_type is required", ErrInvalidGrain)
	case g.SourceID == "":
		return fmt.Errorf("%w: source_id is required", ErrInvalidGrain)
	case g.FlowID == "":
		return fmt.Errorf("%w: flow_id is required", ErrInvalidGrain)
	case g.OriginTimestamp == "":
		return fmt.Errorf("%w: origin_timestamp is required", ErrInvalidGrain)
	case g.Grain.Data == nil:
		return fmt.Errorf("%w: grain.data must be a list", ErrInvalidGrain)
	}

	return nil
}

// Valid is Validate as a predicate.
func Valid(g *Grain) bool {
	return Validate(g) == nil
}

// Decode parses a UTF-8 JSON grain and validates it. Malformed input is
// rejected as a whole.
func Decode(payload []byte) (*Grain, error) {
	var g Grain
	if err := json.Unmarshal(payload, &g); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidGrain, err)
	}
	if err := Validate(&g); err != nil {
		return nil, err
	}
	return &g, nil
}

// Encode serialises a grain as JSON.
func Encode(g Grain) ([]byte, error) {
	data, err := json.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("encoding grain: %w", err)
	}
	return data, nil
}
