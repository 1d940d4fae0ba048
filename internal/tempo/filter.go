package tempo

import (
	"math"
	"time"

	"k8s.io/utils/clock"
)

// ClockByte is the MIDI timing clock status byte.
const ClockByte = 0xF8

// IsClock reports whether a raw message is a timing clock pulse.
func IsClock(data []byte) bool {
	return len(data) > 0 && data[0] == ClockByte
}

// Filter returns the timestamp to feed the estimator for a clock pulse, and
// false for anything else. A missing or invalid timestamp is replaced with
// a reading from now.
func Filter(data []byte, timestamp float64, now func() float64) (float64, bool) {
	if !IsClock(data) {
		return 0, false
	}
	if !(timestamp > 0) || math.IsInf(timestamp, 0) {
		return now(), true
	}
	return timestamp, true
}

// Monotonic reads elapsed milliseconds since its creation. Readings from the
// same Monotonic are comparable; time.Time keeps the monotonic clock reading
// so wall clock changes do not affect them.
type Monotonic struct {
	clock  clock.PassiveClock
	origin time.Time
}

// NewMonotonic starts a millisecond source on the given clock.
func NewMonotonic(c clock.PassiveClock) *Monotonic {
	return &Monotonic{clock: c, origin: c.Now()}
}

// Millis returns the elapsed time in fractional milliseconds.
func (m *Monotonic) Millis() float64 {
	return float64(m.clock.Since(m.origin)) / float64(time.Millisecond)
}
