package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"
)

type syncPort struct {
	mu      sync.Mutex
	recv    func(data []byte, timestamp float64)
	stopped bool
}

func (p *syncPort) Listen(recv func(data []byte, timestamp float64)) (func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recv = recv
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.recv = nil
		p.stopped = true
	}, nil
}

func (p *syncPort) send(data []byte, timestamp float64) bool {
	p.mu.Lock()
	recv := p.recv
	p.mu.Unlock()
	if recv == nil {
		return false
	}
	recv(data, timestamp)
	return true
}

func (p *syncPort) isStopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

type syncDisplay struct {
	mu   sync.Mutex
	last map[string]Reading
	stat []string
}

func (d *syncDisplay) DeviceUpsert(r Reading) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.last[r.ID] = r
}

func (d *syncDisplay) DeviceRemove(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.last, id)
}

func (d *syncDisplay) Status(m string, _ bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stat = append(d.stat, m)
}

func (d *syncDisplay) reading(id string) (Reading, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.last[id]
	return r, ok
}

func (d *syncDisplay) lastStatus() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.stat) == 0 {
		return ""
	}
	return d.stat[len(d.stat)-1]
}

func TestLoopEndToEnd(t *testing.T) {
	t.Parallel()

	clk := testingclock.NewFakeClock(time.Unix(1700000000, 0))
	disp := &syncDisplay{last: map[string]Reading{}}
	reg := New(disp, WithClock(clk))
	loop := NewLoop(reg, clk)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	port := &syncPort{}
	loop.Devices(ctx, []Device{{ID: "A", Name: "Clock A", State: Connected, Port: port}})

	require.Eventually(t, func() bool {
		return disp.lastStatus() == "1 MIDI input connected. Send clock to see BPM."
	}, time.Second, time.Millisecond)

	for i := 0; i < 10; i++ {
		require.True(t, port.send(clockPulse, 100+float64(i)*20.833))
	}

	require.Eventually(t, func() bool {
		if clk.HasWaiters() {
			clk.Step(FrameInterval)
		}
		r, ok := disp.reading("A")
		return ok && r.Known
	}, time.Second, time.Millisecond)

	r, _ := disp.reading("A")
	assert.InDelta(t, 120.0, r.BPM, 0.5)
	assert.Equal(t, "Clock A", r.Name)

	loop.Status(ctx, "Could not access MIDI: gone", true)
	require.Eventually(t, func() bool {
		return disp.lastStatus() == "Could not access MIDI: gone"
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
	assert.True(t, port.isStopped())
	assert.Zero(t, loop.Dropped())
}

func TestLoopDropsWhenFull(t *testing.T) {
	t.Parallel()

	clk := testingclock.NewFakeClock(time.Now())
	reg := New(&syncDisplay{last: map[string]Reading{}}, WithClock(clk))
	loop := NewLoop(reg, clk, WithQueueSize(1))

	loop.postMessage("A", clockPulse, 1)
	loop.postMessage("A", clockPulse, 2)
	loop.postMessage("A", clockPulse, 3)

	assert.Equal(t, int64(2), loop.Dropped())
}
