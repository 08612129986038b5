package grain

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// CommandType is the semantic family of a classified entry.
type CommandType string

// Command families, in match order.
const (
	CommandButton   CommandType = "button"
	CommandRotary   CommandType = "rotary"
	CommandGPIO     CommandType = "gpio"
	CommandTally    CommandType = "tally"
	CommandFader    CommandType = "fader"
	CommandProperty CommandType = "property"
)

// Rotary directions.
const (
	DirectionClockwise        = "clockwise"
	DirectionCounterClockwise = "counterclockwise"
	DirectionNone             = "none"
)

// CommandEvent is the decoded meaning of one grain entry.
//
// Index is set for button, rotary, gpio and fader; Color for tally.
// Delta and Direction are only set for rotary entries that carried a pre
// value. Normalized is only set for faders.
type CommandEvent struct {
	Type       CommandType
	Index      int
	Color      string
	Path       string
	Value      any
	PreValue   any
	Delta      *float64
	Direction  string
	Normalized *float64
	Timestamp  string
	SourceID   string
}

// MarshalJSON writes the index under a key named after the command type,
// e.g. {"type":"fader","fader":3,...}.
func (e CommandEvent) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"type":  e.Type,
		"path":  e.Path,
		"value": e.Value,
	}
	switch e.Type {
	case CommandButton, CommandRotary, CommandGPIO, CommandFader:
		out[string(e.Type)] = e.Index
	case CommandTally:
		out["color"] = e.Color
	}
	if e.PreValue != nil {
		out["pre_value"] = e.PreValue
	}
	if e.Delta != nil {
		out["delta"] = *e.Delta
		out["direction"] = e.Direction
	}
	if e.Normalized != nil {
		out["normalized"] = *e.Normalized
	}
	if e.Timestamp != "" {
		out["timestamp"] = e.Timestamp
	}
	if e.SourceID != "" {
		out["source_id"] = e.SourceID
	}
	return json.Marshal(out)
}

// matcher recognises one command family from an entry path.
type matcher struct {
	kind    CommandType
	pattern *regexp.Regexp
	fill    func(ev *CommandEvent, groups []string, e Entry)
}

// matchers is evaluated in order; the first match wins. Add new families here.
var matchers = []matcher{
	{
		kind:    CommandButton,
		pattern: regexp.MustCompile(`(?i)(?:^|/)(?:button|key|switch)/(\d+)(?:/|$)`),
		fill: func(ev *CommandEvent, g []string, e Entry) {
			ev.Index = atoi(g[1])
			ev.Value = e.Post
		},
	},
	{
		kind:    CommandRotary,
		pattern: regexp.MustCompile(`(?i)(?:^|/)(?:rotary|encoder|knob)/(\d+)(?:/|$)`),
		fill: func(ev *CommandEvent, g []string, e Entry) {
			ev.Index = atoi(g[1])
			post := toFloat(e.Post)
			ev.Value = post
			if e.Pre != nil {
				delta := post - toFloat(e.Pre)
				ev.Delta = &delta
				ev.Direction = directionOf(delta)
			}
		},
	},
	{
		kind:    CommandGPIO,
		pattern: regexp.MustCompile(`(?i)(?:^|/)gpio?/(?:input|in)/(\d+)(?:/|$)`),
		fill: func(ev *CommandEvent, g []string, e Entry) {
			ev.Index = atoi(g[1])
			ev.Value = e.Post
		},
	},
	{
		kind:    CommandTally,
		pattern: regexp.MustCompile(`(?i)(?:^|/)tally/(red|green|amber|yellow|program|preview|white)(?:/|$)`),
		fill: func(ev *CommandEvent, g []string, e Entry) {
			ev.Color = strings.ToLower(g[1])
			ev.Value = e.Post
		},
	},
	{
		kind:    CommandFader,
		pattern: regexp.MustCompile(`(?i)(?:^|/)(?:fader|level|gain)/(\d+)(?:/|$)`),
		fill: func(ev *CommandEvent, g []string, e Entry) {
			ev.Index = atoi(g[1])
			value := toFloat(e.Post)
			normalized := clamp01(value)
			ev.Value = value
			ev.Normalized = &normalized
		},
	},
}

// Classify maps an entry to a CommandEvent. It never fails: paths that match
// no family come back as CommandProperty carrying the raw path and value.
func Classify(e Entry, timestamp string) CommandEvent {
	ev := CommandEvent{
		Path:      e.Path,
		PreValue:  e.Pre,
		Timestamp: timestamp,
	}

	for _, m := range matchers {
		groups := m.pattern.FindStringSubmatch(e.Path)
		if groups == nil {
			continue
		}
		ev.Type = m.kind
		m.fill(&ev, groups, e)
		return ev
	}

	ev.Type = CommandProperty
	ev.Value = e.Post
	return ev
}

// ClassifyGrain classifies every entry of a grain, stamping each event with
// the grain's origin timestamp and source. Callers must Validate first and
// drop their own echoes before calling.
func ClassifyGrain(g *Grain) []CommandEvent {
	events := make([]CommandEvent, 0, len(g.Grain.Data))
	for _, e := range g.Grain.Data {
		ev := Classify(e, g.OriginTimestamp)
		ev.SourceID = g.SourceID
		events = append(events, ev)
	}
	return events
}

// toFloat coerces a JSON value to a number. Anything unparseable is 0.
func toFloat(v any) float64 {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0
		}
		f = parsed
	case bool:
		if n {
			f = 1
		}
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func directionOf(delta float64) string {
	switch {
	case delta > 0:
		return DirectionClockwise
	case delta < 0:
		return DirectionCounterClockwise
	default:
		return DirectionNone
	}
}

// atoi is only called on \d+ captures.
func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
