package tempo

import "math"

// PPQ is the MIDI clock resolution: pulses per quarter note.
const PPQ = 24

// Estimator turns clock pulse timestamps from one device into a BPM value.
// The zero value is ready to use.
type Estimator struct {
	window Window
	last   float64
	primed bool
	bpm    float64
	known  bool
}

// Update feeds one pulse timestamp in milliseconds. The first pulse only
// sets the baseline. Non-positive or non-finite deltas are dropped but still
// move the baseline forward.
func (e *Estimator) Update(timestamp float64) {
	if !e.primed {
		e.last = timestamp
		e.primed = true
		return
	}

	delta := timestamp - e.last
	e.last = timestamp
	if !(delta > 0) || math.IsInf(delta, 0) {
		return
	}

	e.window.Push(delta)
	if e.window.Len() >= 2 {
		e.bpm = 60000 / (e.window.Average() * PPQ)
		e.known = true
	}
}

// BPM returns the current tempo and whether enough intervals have been seen
// to determine it.
func (e *Estimator) BPM() (float64, bool) {
	return e.bpm, e.known
}

// LastTimestamp returns the most recent pulse timestamp and whether any
// pulse has been seen.
func (e *Estimator) LastTimestamp() (float64, bool) {
	return e.last, e.primed
}

// Window exposes the interval window for inspection.
func (e *Estimator) Window() *Window {
	return &e.window
}
