package registry

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"
)

const (
	// FrameInterval is the refresh tick, roughly one display frame.
	FrameInterval = 16 * time.Millisecond

	defaultQueueSize = 4096
)

type messageEvent struct {
	id        string
	data      []byte
	timestamp float64
}

type devicesEvent struct {
	devices []Device
}

type statusEvent struct {
	message string
	isError bool
}

// Loop serializes everything that touches a Registry onto one goroutine:
// device lists, port messages, status reports and frame ticks.
type Loop struct {
	reg     *Registry
	clock   clock.WithTicker
	frame   time.Duration
	log     *slog.Logger
	events  chan any
	dropped atomic.Int64
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithQueueSize sets the event buffer size.
func WithQueueSize(n int) LoopOption {
	return func(l *Loop) { l.events = make(chan any, n) }
}

// WithFrameInterval overrides FrameInterval.
func WithFrameInterval(d time.Duration) LoopOption {
	return func(l *Loop) { l.frame = d }
}

// NewLoop wires reg's port listeners to a new loop. Run must be called for
// anything to happen.
func NewLoop(reg *Registry, c clock.WithTicker, opts ...LoopOption) *Loop {
	l := &Loop{
		reg:    reg,
		clock:  c,
		frame:  FrameInterval,
		log:    reg.log,
		events: make(chan any, defaultQueueSize),
	}
	for _, opt := range opts {
		opt(l)
	}
	reg.deliver = l.postMessage
	return l
}

// postMessage is called from port goroutines and never blocks. When the
// queue is full the message is dropped.
func (l *Loop) postMessage(id string, data []byte, timestamp float64) {
	select {
	case l.events <- messageEvent{id: id, data: data, timestamp: timestamp}:
	default:
		if l.dropped.Add(1) == 1 {
			l.log.Warn("event queue full, dropping messages", "id", id)
		}
	}
}

// Devices queues a device list for reconciliation.
func (l *Loop) Devices(ctx context.Context, devices []Device) {
	l.post(ctx, devicesEvent{devices: devices})
}

// Status queues a status line.
func (l *Loop) Status(ctx context.Context, message string, isError bool) {
	l.post(ctx, statusEvent{message: message, isError: isError})
}

func (l *Loop) post(ctx context.Context, ev any) {
	select {
	case l.events <- ev:
	case <-ctx.Done():
	}
}

// Dropped returns how many messages were lost to a full queue.
func (l *Loop) Dropped() int64 { return l.dropped.Load() }

// Run processes events until ctx is cancelled, then stops all listeners.
func (l *Loop) Run(ctx context.Context) error {
	ticker := l.clock.NewTicker(l.frame)
	defer ticker.Stop()
	defer l.reg.Close()

	l.log.Debug("event loop started", "frame", l.frame)
	for {
		select {
		case <-ctx.Done():
			l.log.Debug("event loop stopped", "dropped", l.Dropped())
			return ctx.Err()
		case ev := <-l.events:
			l.dispatch(ev)
		case <-ticker.C():
			l.reg.Tick()
		}
	}
}

func (l *Loop) dispatch(ev any) {
	switch ev := ev.(type) {
	case messageEvent:
		l.reg.HandleMessage(ev.id, ev.data, ev.timestamp)
	case devicesEvent:
		l.reg.Reconcile(ev.devices)
	case statusEvent:
		l.reg.SetStatus(ev.message, ev.isError)
	}
}
