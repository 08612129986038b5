package grain

import (
	"encoding/json"
	"errors"
	"regexp"
	"testing"
)

var timestampPattern = regexp.MustCompile(`^\d+:\d{9}$`)

// ============================================================================
// Build
// ============================================================================

func TestBuild_StampsIdenticalTimestamps(t *testing.T) {
	g := Build("src-1", "flow-1", "", []Entry{{Path: "button/1", Post: true}})

	if g.GrainType != GrainTypeEvent {
		t.Errorf("GrainType = %q, want %q", g.GrainType, GrainTypeEvent)
	}
	if !timestampPattern.MatchString(g.OriginTimestamp) {
		t.Errorf("OriginTimestamp %q does not match %s", g.OriginTimestamp, timestampPattern)
	}
	if g.SyncTimestamp != g.OriginTimestamp || g.CreationTimestamp != g.OriginTimestamp {
		t.Errorf("timestamps differ: origin=%s sync=%s creation=%s",
			g.OriginTimestamp, g.SyncTimestamp, g.CreationTimestamp)
	}
	if g.Rate != (Rational{0, 1}) || g.Duration != (Rational{0, 1}) {
		t.Errorf("rate/duration = %v/%v, want 0/1", g.Rate, g.Duration)
	}
	if g.Grain.Topic != DefaultTopic {
		t.Errorf("Topic = %q, want %q", g.Grain.Topic, DefaultTopic)
	}
	if g.Grain.Type != PayloadTypeEvent {
		t.Errorf("payload type = %q", g.Grain.Type)
	}
}

func TestBuild_CopiesEntries(t *testing.T) {
	entries := []Entry{{Path: "fader/1", Post: 0.1}}
	g := Build("src", "flow", "/panel", entries)

	entries[0].Path = "mutated"
	if g.Grain.Data[0].Path != "fader/1" {
		t.Errorf("Build aliased caller slice: got path %q", g.Grain.Data[0].Path)
	}
}

func TestBuild_NilEntriesIsValid(t *testing.T) {
	g := Build("src", "flow", "/", nil)
	if err := Validate(&g); err != nil {
		t.Errorf("Validate() = %v, want nil for empty data list", err)
	}
}

// ============================================================================
// Validate / Decode
// ============================================================================

func TestValidate(t *testing.T) {
	base := func() Grain { return Build("src", "flow", "/", []Entry{}) }

	tests := []struct {
		name   string
		mutate func(g *Grain)
		valid  bool
	}{
		{"well formed", func(*Grain) {}, true},
		{"missing grain_type", func(g *Grain) { g.GrainType = "" }, false},
		{"missing source_id", func(g *Grain) { g.SourceID = "" }, false},
		{"missing flow_id", func(g *Grain) { g.FlowID = "" }, false},
		{"missing origin_timestamp", func(g *Grain) { g.OriginTimestamp = "" }, false},
		{"nil data", func(g *Grain) { g.Grain.Data = nil }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := base()
			tt.mutate(&g)
			err := Validate(&g)
			if tt.valid && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
			if !tt.valid && !errors.Is(err, ErrInvalidGrain) {
				t.Errorf("Validate() = %v, want ErrInvalidGrain", err)
			}
		})
	}

	if Valid(nil) {
		t.Error("Valid(nil) = true")
	}
}

func TestDecode_RejectsMalformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not json", `{{{`},
		{"data not a list", `{"grain_type":"event","source_id":"s","flow_id":"f","origin_timestamp":"1:000000000","grain":{"data":{"path":"x"}}}`},
		{"data null", `{"grain_type":"event","source_id":"s","flow_id":"f","origin_timestamp":"1:000000000","grain":{"data":null}}`},
		{"no grain", `{"grain_type":"event","source_id":"s","flow_id":"f","origin_timestamp":"1:000000000"}`},
		{"no source", `{"grain_type":"event","flow_id":"f","origin_timestamp":"1:000000000","grain":{"data":[]}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := Decode([]byte(tt.payload))
			if !errors.Is(err, ErrInvalidGrain) {
				t.Fatalf("Decode() error = %v, want ErrInvalidGrain", err)
			}
			if g != nil {
				t.Error("Decode() returned a grain for malformed input")
			}
		})
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	g := Build("src", "flow", "/panel", []Entry{{Path: "fader/3", Pre: 0.2, Post: 0.5}})

	data, err := Encode(g)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("encoded grain is not JSON: %v", err)
	}
	for _, key := range []string{"grain_type", "source_id", "flow_id", "origin_timestamp", "sync_timestamp", "creation_timestamp", "rate", "duration", "grain"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("encoded grain missing %q", key)
		}
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if decoded.SourceID != "src" || decoded.Grain.Topic != "/panel" || len(decoded.Grain.Data) != 1 {
		t.Errorf("decoded = %+v", decoded)
	}
}

// ============================================================================
// Build + Classify round trip
// ============================================================================

func TestBuildClassify_FaderRoundTrip(t *testing.T) {
	g := Build("src", "flow", "/", []Entry{{Path: "fader/3", Pre: 0.2, Post: 0.5}})

	data, err := Encode(g)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	events := ClassifyGrain(decoded)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}

	out, err := json.Marshal(events[0])
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if got["type"] != "fader" {
		t.Errorf("type = %v, want fader", got["type"])
	}
	if got["fader"] != float64(3) {
		t.Errorf("fader = %v, want 3", got["fader"])
	}
	if got["value"] != 0.5 {
		t.Errorf("value = %v, want 0.5", got["value"])
	}
	if got["normalized"] != 0.5 {
		t.Errorf("normalized = %v, want 0.5", got["normalized"])
	}
	if got["source_id"] != "src" {
		t.Errorf("source_id = %v, want src", got["source_id"])
	}
}
