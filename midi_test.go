package main

import (
	"errors"
	"testing"
	"time"

	"github.com/chase3718/midiclock/internal/registry"
	"github.com/chase3718/midiclock/internal/tempo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/gomidi/midi/v2/drivers"
	testingclock "k8s.io/utils/clock/testing"
)

type fakeIn struct {
	name   string
	number int
	open   bool

	openErrs int // Open fails this many times
	opens    int
	listens  int
	stops    int
	recv     func(msg []byte, milliseconds int32)
	cfg      drivers.ListenConfig
}

func (p *fakeIn) Open() error {
	p.opens++
	if p.openErrs > 0 {
		p.openErrs--
		return errors.New("device busy")
	}
	p.open = true
	return nil
}

func (p *fakeIn) Close() error            { p.open = false; return nil }
func (p *fakeIn) IsOpen() bool            { return p.open }
func (p *fakeIn) Number() int             { return p.number }
func (p *fakeIn) String() string          { return p.name }
func (p *fakeIn) Underlying() interface{} { return nil }

func (p *fakeIn) Listen(onMsg func(msg []byte, milliseconds int32), cfg drivers.ListenConfig) (func(), error) {
	p.listens++
	p.recv = onMsg
	p.cfg = cfg
	return func() {
		p.stops++
		p.recv = nil
	}, nil
}

type fakeDriver struct {
	ins []drivers.In
	err error
}

func (d *fakeDriver) Ins() ([]drivers.In, error)   { return d.ins, d.err }
func (d *fakeDriver) Outs() ([]drivers.Out, error) { return nil, nil }
func (d *fakeDriver) String() string               { return "fake" }
func (d *fakeDriver) Close() error                 { return nil }

func newTestWatcher(drv drivers.Driver) (*MIDIWatcher, *[][]registry.Device) {
	var reports [][]registry.Device
	cfg := DefaultConfig()
	mono := tempo.NewMonotonic(testingclock.NewFakeClock(time.Now()))
	w := newWatcher(drv, cfg, mono, func(d []registry.Device) { reports = append(reports, d) })
	return w, &reports
}

func TestWatcherReportsChangesOnly(t *testing.T) {
	t.Parallel()

	drv := &fakeDriver{ins: []drivers.In{
		&fakeIn{name: "Midi Through Port-0", number: 0},
		&fakeIn{name: "Digitakt", number: 1},
	}}
	w, reports := newTestWatcher(drv)

	require.NoError(t, w.Scan())
	require.Len(t, *reports, 1)
	devices := (*reports)[0]
	require.Len(t, devices, 1, "through port excluded")
	assert.Equal(t, "Digitakt", devices[0].ID)
	assert.Equal(t, registry.Connected, devices[0].State)

	// unchanged list is not reported again
	require.NoError(t, w.Scan())
	assert.Len(t, *reports, 1)

	// unplugged
	drv.ins = nil
	require.NoError(t, w.Scan())
	require.Len(t, *reports, 2)
	assert.Empty(t, (*reports)[1])

	// an empty list stays quiet too
	require.NoError(t, w.Scan())
	assert.Len(t, *reports, 2)
}

func TestWatcherPortIdentity(t *testing.T) {
	t.Parallel()

	drv := &fakeDriver{ins: []drivers.In{&fakeIn{name: "Keystep", number: 1}}}
	w, reports := newTestWatcher(drv)
	require.NoError(t, w.Scan())
	first := (*reports)[0][0].Port

	// a fresh enumeration with the same port number keeps the port object
	drv.ins = []drivers.In{&fakeIn{name: "Keystep", number: 1}, &fakeIn{name: "Digitakt", number: 2}}
	require.NoError(t, w.Scan())
	require.Len(t, *reports, 2)
	assert.Same(t, first, (*reports)[1][0].Port)

	// re-enumerated under a new number: same id, new port
	drv.ins = []drivers.In{&fakeIn{name: "Keystep", number: 3}, &fakeIn{name: "Digitakt", number: 2}}
	require.NoError(t, w.Scan())
	require.Len(t, *reports, 3)
	assert.Equal(t, "Keystep", (*reports)[2][0].ID)
	assert.NotSame(t, first, (*reports)[2][0].Port)
}

func TestWatcherNumbersDuplicateNames(t *testing.T) {
	t.Parallel()

	drv := &fakeDriver{ins: []drivers.In{
		&fakeIn{name: "USB MIDI", number: 0},
		&fakeIn{name: "USB MIDI", number: 1},
	}}
	w, reports := newTestWatcher(drv)
	require.NoError(t, w.Scan())

	devices := (*reports)[0]
	require.Len(t, devices, 2)
	assert.Equal(t, "USB MIDI", devices[0].ID)
	assert.Equal(t, "USB MIDI #2", devices[1].ID)
	assert.Equal(t, "USB MIDI", devices[1].Name)
}

func TestWatcherScanError(t *testing.T) {
	t.Parallel()

	drv := &fakeDriver{err: assert.AnError}
	w, reports := newTestWatcher(drv)
	assert.ErrorIs(t, w.Scan(), assert.AnError)
	assert.Empty(t, *reports)
}

type nopDisplay struct{}

func (nopDisplay) DeviceUpsert(registry.Reading) {}
func (nopDisplay) DeviceRemove(string)           {}
func (nopDisplay) Status(string, bool)           {}

func newBoundWatcher(drv drivers.Driver) (*MIDIWatcher, *registry.Registry) {
	clk := testingclock.NewFakeClock(time.Now())
	reg := registry.New(nopDisplay{}, registry.WithLogger(logger), registry.WithClock(clk))
	w := newWatcher(drv, DefaultConfig(), tempo.NewMonotonic(clk), reg.Reconcile)
	return w, reg
}

func TestPortListenEnablesClockAndStamps(t *testing.T) {
	t.Parallel()

	clk := testingclock.NewFakeClock(time.Unix(1700000000, 0))
	in := &fakeIn{name: "Keystep", number: 1}
	var failures int
	p := &midiPort{
		in:     in,
		name:   "Keystep",
		number: 1,
		mono:   tempo.NewMonotonic(clk),
		failed: func(*midiPort, error, bool) { failures++ },
	}

	var data [][]byte
	var stamps []float64
	stop, err := p.Listen(func(d []byte, ts float64) {
		data = append(data, d)
		stamps = append(stamps, ts)
	})
	require.NoError(t, err)
	assert.True(t, in.IsOpen())
	assert.True(t, in.cfg.TimeCode, "clock messages must not be filtered")
	require.NotNil(t, in.cfg.OnErr)
	require.NotNil(t, in.recv)

	// the driver's own timestamp is ignored
	clk.Step(20 * time.Millisecond)
	in.recv([]byte{tempo.ClockByte}, 999)
	clk.Step(21 * time.Millisecond)
	in.recv([]byte{tempo.ClockByte}, 5)

	require.Len(t, data, 2)
	assert.Equal(t, []byte{tempo.ClockByte}, data[0])
	assert.InDeltaSlice(t, []float64{20, 41}, stamps, 1e-9)

	in.cfg.OnErr(errors.New("device gone"))
	assert.Equal(t, 1, failures)

	stop()
	assert.Equal(t, 1, in.stops)
	assert.False(t, in.IsOpen())
}

func TestWatcherRetriesFailedOpen(t *testing.T) {
	t.Parallel()

	in := &fakeIn{name: "Digitakt", number: 1, openErrs: 1}
	w, reg := newBoundWatcher(&fakeDriver{ins: []drivers.In{in}})

	require.NoError(t, w.Scan())
	assert.Equal(t, 1, in.opens)
	assert.Zero(t, in.listens)
	assert.Equal(t, 1, reg.Len(), "device stays tracked while unbound")

	// same input, same number: reported again because the open failed
	require.NoError(t, w.Scan())
	assert.Equal(t, 2, in.opens)
	assert.Equal(t, 1, in.listens)
	assert.True(t, in.IsOpen())

	// bound now, nothing more to report
	require.NoError(t, w.Scan())
	assert.Equal(t, 1, in.listens)
}

func TestWatcherRebindsAfterListenerError(t *testing.T) {
	t.Parallel()

	in := &fakeIn{name: "Digitakt", number: 1}
	w, _ := newBoundWatcher(&fakeDriver{ins: []drivers.In{in}})

	w.Tick()
	require.Equal(t, 1, in.listens)
	require.NotNil(t, in.cfg.OnErr)

	in.cfg.OnErr(errors.New("device gone"))

	// rescans right away instead of waiting for the interval
	w.Tick()
	assert.Equal(t, 1, in.stops, "old listener stopped")
	assert.Equal(t, 2, in.listens)
	assert.True(t, in.IsOpen())
}
