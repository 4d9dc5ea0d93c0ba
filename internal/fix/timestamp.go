package fix

import (
	"fmt"
	"time"
)

// Precision selects the fractional-second digits of a UTCTimestamp.
type Precision string

const (
	PrecisionSeconds Precision = "seconds"
	PrecisionMillis  Precision = "millis"
	PrecisionMicros  Precision = "micros"
	PrecisionNanos   Precision = "nanos"
)

const utcLayout = "20060102-15:04:05"

// Layout returns the time layout for p. Unknown precisions fall back to millis.
func (p Precision) Layout() string {
	switch p {
	case PrecisionSeconds:
		return utcLayout
	case PrecisionMicros:
		return utcLayout + ".000000"
	case PrecisionNanos:
		return utcLayout + ".000000000"
	default:
		return utcLayout + ".000"
	}
}

// Len is the fixed formatted length for p.
func (p Precision) Len() int {
	return len(p.Layout())
}

// FormatUTC renders t as a FIX UTCTimestamp.
func FormatUTC(t time.Time, p Precision) string {
	return t.UTC().Format(p.Layout())
}

// ParseUTC parses any of the UTCTimestamp precisions.
func ParseUTC(s string) (time.Time, error) {
	for _, p := range []Precision{PrecisionSeconds, PrecisionMillis, PrecisionMicros, PrecisionNanos} {
		if len(s) == p.Len() {
			return time.Parse(p.Layout(), s)
		}
	}
	return time.Time{}, fmt.Errorf("invalid UTCTimestamp %q", s)
}
