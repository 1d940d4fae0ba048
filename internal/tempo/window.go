package tempo

// WindowSize is the number of inter-pulse intervals averaged per device:
// two quarter notes at 24 PPQ.
const WindowSize = 48

// Window is a fixed-capacity ring of the most recent positive intervals in
// milliseconds. The running sum is updated incrementally so Push is O(1).
type Window struct {
	buf   [WindowSize]float64
	next  int
	count int
	sum   float64
}

// Push adds an interval, evicting the oldest one once the window is full.
func (w *Window) Push(ms float64) {
	if w.count < WindowSize {
		w.count++
	} else {
		w.sum -= w.buf[w.next]
	}
	w.buf[w.next] = ms
	w.sum += ms
	w.next = (w.next + 1) % WindowSize
}

// Len returns the number of intervals held.
func (w *Window) Len() int { return w.count }

// Sum returns the running sum of the held intervals.
func (w *Window) Sum() float64 { return w.sum }

// Average returns sum/count over the current contents, or 0 when empty.
func (w *Window) Average() float64 {
	if w.count == 0 {
		return 0
	}
	return w.sum / float64(w.count)
}

// Values returns the held intervals from oldest to newest.
func (w *Window) Values() []float64 {
	out := make([]float64, 0, w.count)
	start := w.next - w.count
	if start < 0 {
		start += WindowSize
	}
	for i := 0; i < w.count; i++ {
		out = append(out, w.buf[(start+i)%WindowSize])
	}
	return out
}
