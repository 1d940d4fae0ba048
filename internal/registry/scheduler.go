package registry

import (
	"time"

	"k8s.io/utils/clock"
)

// MinNotifyInterval is the shortest time between two throttled display
// refreshes.
const MinNotifyInterval = 150 * time.Millisecond

// scheduler holds the dirty set and the throttle bookkeeping.
type scheduler struct {
	clock    clock.PassiveClock
	dirty    map[string]struct{}
	pending  bool
	lastEmit time.Time
}

func newScheduler(c clock.PassiveClock) scheduler {
	return scheduler{clock: c, dirty: make(map[string]struct{})}
}

// markDirty records a change and asks for a check on the next tick.
func (s *scheduler) markDirty(id string) {
	s.dirty[id] = struct{}{}
	s.pending = true
}

func (s *scheduler) forget(id string) {
	delete(s.dirty, id)
}

// drain returns the dirty ids in order and empties the set.
func (s *scheduler) drain() []string {
	ids := sortedKeys(s.dirty)
	clear(s.dirty)
	return ids
}

// Notify pushes changes to the display. A forced notification refreshes
// every tracked device right away. Otherwise only dirty devices are sent,
// and only if MinNotifyInterval has passed since the last emission; if not,
// a single re-check is left pending for the next Tick.
func (r *Registry) Notify(force bool) {
	s := &r.sched
	if force {
		for _, id := range sortedKeys(r.devices) {
			r.display.DeviceUpsert(r.devices[id].reading(id))
		}
		clear(s.dirty)
		s.lastEmit = s.clock.Now()
		return
	}

	if len(s.dirty) == 0 {
		return
	}

	now := s.clock.Now()
	if !s.lastEmit.IsZero() && now.Sub(s.lastEmit) < MinNotifyInterval {
		s.pending = true
		return
	}
	s.lastEmit = now

	for _, id := range s.drain() {
		if st, ok := r.devices[id]; ok {
			r.display.DeviceUpsert(st.reading(id))
		}
	}
}

// Tick is the frame callback. It runs the pending re-check, if any.
func (r *Registry) Tick() {
	if !r.sched.pending {
		return
	}
	r.sched.pending = false
	r.Notify(false)
}

// Pending reports whether a re-check is waiting for the next Tick.
func (r *Registry) Pending() bool { return r.sched.pending }

// Dirty returns the ids waiting to be sent, in order.
func (r *Registry) Dirty() []string { return sortedKeys(r.sched.dirty) }
