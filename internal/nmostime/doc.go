// Package nmostime produces and parses the protocol timestamp format used for
// resource versions, grain timestamps and activation times.
//
// A timestamp is written as "{seconds}:{nanoseconds}" with the nanosecond part
// always zero-padded to nine digits, e.g. "1718000037:000000042".
//
// # Leap seconds
//
// Protocol time is TAI, which runs ahead of Unix (UTC) time by the number of
// leap seconds announced so far. The offset is the single named value
// DefaultLeapSeconds. It is NOT derived from any table at runtime: when the
// IERS announces a new leap second, update DefaultLeapSeconds (or set
// time.leap_seconds in config.yaml, which calls SetLeapSeconds at startup).
//
// # Usage
//
//	version := nmostime.Now().String()
//	next := nmostime.Next(prev) // strictly after prev
package nmostime
