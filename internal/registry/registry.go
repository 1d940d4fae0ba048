package registry

import (
	"log/slog"
	"slices"

	"github.com/chase3718/midiclock/internal/tempo"
	"k8s.io/utils/clock"
)

// deviceState is the per-device record. The estimator survives port
// replacement; the record is dropped when the device disconnects.
type deviceState struct {
	name string
	port Port
	stop func()
	est  tempo.Estimator
}

// Registry owns the estimator state of every connected device and decides
// when displays are told about it. It is not safe for concurrent use; drive
// it from one goroutine (see Loop).
type Registry struct {
	log     *slog.Logger
	clock   clock.PassiveClock
	mono    *tempo.Monotonic
	display Display

	// deliver is handed to port listeners. By default it calls
	// HandleMessage directly; Loop replaces it with a queue post.
	deliver func(id string, data []byte, timestamp float64)

	devices map[string]*deviceState
	sched   scheduler

	lastStatus    string
	lastStatusErr bool
	statusSet     bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.log = l }
}

// WithClock sets the clock used for throttling and timestamp fallback.
// Defaults to the real clock.
func WithClock(c clock.PassiveClock) Option {
	return func(r *Registry) { r.clock = c }
}

// WithMonotonic sets the source used to stamp pulses that arrive without a
// usable timestamp. Share it with the transport so both stamps count from
// the same origin. Defaults to a source on the registry's clock.
func WithMonotonic(m *tempo.Monotonic) Option {
	return func(r *Registry) { r.mono = m }
}

// New creates an empty registry reporting to display.
func New(display Display, opts ...Option) *Registry {
	r := &Registry{
		log:     slog.Default(),
		clock:   clock.RealClock{},
		display: display,
		devices: make(map[string]*deviceState),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.mono == nil {
		r.mono = tempo.NewMonotonic(r.clock)
	}
	r.sched = newScheduler(r.clock)
	r.deliver = r.HandleMessage
	return r
}

// Reconcile applies a device list from the transport. Devices that are not
// connected count as absent. New devices are bound, vanished ones are torn
// down and removed from displays immediately, and devices that reappear
// under a new port keep their tempo history. A full refresh and a status
// update always follow.
func (r *Registry) Reconcile(devices []Device) {
	current := make(map[string]Device, len(devices))
	for _, d := range devices {
		if d.State != Connected {
			continue
		}
		current[d.ID] = d
	}

	for id := range r.devices {
		if _, ok := current[id]; !ok {
			r.remove(id)
		}
	}

	for _, id := range sortedKeys(current) {
		r.attach(current[id])
	}

	r.Notify(true)
	r.SetStatus(StatusText(len(current)), false)
}

func (r *Registry) attach(d Device) {
	st, ok := r.devices[d.ID]
	if !ok {
		st = &deviceState{}
		r.devices[d.ID] = st
		r.log.Info("device connected", "id", d.ID, "name", d.DisplayName())
	}
	st.name = d.DisplayName()

	if st.stop != nil && st.port == d.Port {
		return
	}
	if st.stop != nil {
		r.log.Info("device rebound to new port", "id", d.ID)
		st.stop()
		st.stop = nil
	}
	st.port = d.Port
	if d.Port == nil {
		return
	}

	id := d.ID
	stop, err := d.Port.Listen(func(data []byte, timestamp float64) {
		r.deliver(id, data, timestamp)
	})
	if err != nil {
		// left unbound, retried on the next reconcile
		r.log.Error("device listen failed", "id", id, "err", err)
		return
	}
	st.stop = stop
}

func (r *Registry) remove(id string) {
	st := r.devices[id]
	if st.stop != nil {
		st.stop()
	}
	delete(r.devices, id)
	r.sched.forget(id)
	r.log.Info("device disconnected", "id", id, "name", st.name)
	r.display.DeviceRemove(id)
}

// HandleMessage processes one raw message from a device. Anything other
// than a clock pulse is ignored. State is only ever created by Reconcile, so
// a pulse for an id that is not tracked is dropped rather than starting a
// new estimator: it can only come from a listener that was just torn down.
func (r *Registry) HandleMessage(id string, data []byte, timestamp float64) {
	ts, ok := tempo.Filter(data, timestamp, r.mono.Millis)
	if !ok {
		return
	}
	st, ok := r.devices[id]
	if !ok {
		return
	}
	st.est.Update(ts)
	r.sched.markDirty(id)
}

// SetStatus forwards a status line to the display unless it repeats the
// previous one.
func (r *Registry) SetStatus(message string, isError bool) {
	if r.statusSet && message == r.lastStatus && isError == r.lastStatusErr {
		return
	}
	r.statusSet = true
	r.lastStatus = message
	r.lastStatusErr = isError
	if isError {
		r.log.Error("status", "message", message)
	} else {
		r.log.Debug("status", "message", message)
	}
	r.display.Status(message, isError)
}

// Reading returns the current reading for a tracked device.
func (r *Registry) Reading(id string) (Reading, bool) {
	st, ok := r.devices[id]
	if !ok {
		return Reading{}, false
	}
	return st.reading(id), true
}

// Len returns the number of tracked devices.
func (r *Registry) Len() int { return len(r.devices) }

// Close stops every port listener. The registry must not be used after.
func (r *Registry) Close() {
	for id, st := range r.devices {
		if st.stop != nil {
			st.stop()
			st.stop = nil
		}
		r.log.Debug("device listener stopped", "id", id)
	}
}

func (st *deviceState) reading(id string) Reading {
	bpm, known := st.est.BPM()
	return Reading{ID: id, Name: st.name, BPM: bpm, Known: known}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
