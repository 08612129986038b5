package nmostime

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// DefaultLeapSeconds is the TAI-UTC offset in effect since 2017-01-01.
// Needs a manual bump whenever a new leap second is announced.
const DefaultLeapSeconds = 37

const (
	nanosPerSecond = 1_000_000_000
	nanoDigits     = 9
)

var leapSeconds atomic.Int64

func init() {
	leapSeconds.Store(DefaultLeapSeconds)
}

// SetLeapSeconds overrides the TAI-UTC offset used by Now.
func SetLeapSeconds(n int) {
	leapSeconds.Store(int64(n))
}

// LeapSeconds returns the TAI-UTC offset currently applied by Now.
func LeapSeconds() int {
	return int(leapSeconds.Load())
}

// Timestamp is a protocol time value (TAI seconds plus nanoseconds).
// The zero value is "0:000000000".
type Timestamp struct {
	Seconds int64
	Nanos   int64
}

// Now returns the current protocol time.
func Now() Timestamp {
	return FromTime(time.Now())
}

// FromTime converts a wall-clock time to protocol time by applying the
// configured leap-second offset.
func FromTime(t time.Time) Timestamp {
	return Timestamp{
		Seconds: t.Unix() + leapSeconds.Load(),
		Nanos:   int64(t.Nanosecond()),
	}
}

// Next returns Now, or prev plus one nanosecond when the clock has not moved
// past prev. Resource versions use it so they strictly increase.
func Next(prev Timestamp) Timestamp {
	now := Now()
	if now.Compare(prev) > 0 {
		return now
	}
	return prev.Add(time.Nanosecond)
}

// Parse reads a "{seconds}:{nanoseconds}" string.
func Parse(s string) (Timestamp, error) {
	secPart, nanoPart, ok := strings.Cut(s, ":")
	if !ok || secPart == "" || nanoPart == "" {
		return Timestamp{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
	}

	secs, err := strconv.ParseInt(secPart, 10, 64)
	if err != nil || secs < 0 {
		return Timestamp{}, fmt.Errorf("%w: seconds in %q", ErrInvalidTimestamp, s)
	}
	nanos, err := strconv.ParseInt(nanoPart, 10, 64)
	if err != nil || nanos < 0 || nanos >= nanosPerSecond {
		return Timestamp{}, fmt.Errorf("%w: nanoseconds in %q", ErrInvalidTimestamp, s)
	}

	return Timestamp{Seconds: secs, Nanos: nanos}, nil
}

// MustParse is Parse for literals in tests and defaults. It panics on error.
func MustParse(s string) Timestamp {
	ts, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return ts
}

// String formats the timestamp as "{seconds}:{nanoseconds:9 digits}".
func (t Timestamp) String() string {
	return strconv.FormatInt(t.Seconds, 10) + ":" + fmt.Sprintf("%0*d", nanoDigits, t.Nanos)
}

// IsZero reports whether t is the zero timestamp.
func (t Timestamp) IsZero() bool {
	return t.Seconds == 0 && t.Nanos == 0
}

// Compare returns -1, 0 or +1 depending on whether t is before, equal to, or
// after u.
func (t Timestamp) Compare(u Timestamp) int {
	switch {
	case t.Seconds < u.Seconds:
		return -1
	case t.Seconds > u.Seconds:
		return 1
	case t.Nanos < u.Nanos:
		return -1
	case t.Nanos > u.Nanos:
		return 1
	default:
		return 0
	}
}

// Add returns t shifted by d.
func (t Timestamp) Add(d time.Duration) Timestamp {
	total := t.Nanos + int64(d)
	secs := t.Seconds + total/nanosPerSecond
	nanos := total % nanosPerSecond
	if nanos < 0 {
		nanos += nanosPerSecond
		secs--
	}
	return Timestamp{Seconds: secs, Nanos: nanos}
}

// Duration interprets t as an offset (used by relative activations).
func (t Timestamp) Duration() time.Duration {
	return time.Duration(t.Seconds)*time.Second + time.Duration(t.Nanos)
}

// Time converts protocol time back to wall-clock time.
func (t Timestamp) Time() time.Time {
	return time.Unix(t.Seconds-leapSeconds.Load(), t.Nanos)
}

// MarshalJSON encodes the timestamp as its string form.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes a "{seconds}:{nanoseconds}" string.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTimestamp, err)
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
