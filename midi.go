package main

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chase3718/midiclock/internal/registry"
	"github.com/chase3718/midiclock/internal/tempo"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

// errTransportUnavailable is returned when the host has no usable MIDI
// backend at all.
var errTransportUnavailable = errors.New("midi: transport unavailable")

// -------------------- Port --------------------

// midiPort is one enumerated input. A new midiPort is created whenever the
// driver reports the same device under a different port number, or after
// the port failed.
type midiPort struct {
	in     drivers.In
	name   string
	number int
	mono   *tempo.Monotonic
	failed func(p *midiPort, err error, rescanNow bool)
}

// Listen opens the port and forwards every message, stamped on arrival.
// Timing messages are enabled explicitly: rtmidi filters 0xF8 otherwise.
func (p *midiPort) Listen(recv func(data []byte, timestamp float64)) (func(), error) {
	if !p.in.IsOpen() {
		if err := p.in.Open(); err != nil {
			err = fmt.Errorf("open %q: %w", p.name, err)
			p.failed(p, err, false)
			return nil, err
		}
	}
	stop, err := midi.ListenTo(p.in, func(msg midi.Message, _ int32) {
		recv(msg, p.mono.Millis())
	}, midi.UseTimeCode(), midi.HandleError(func(listenErr error) {
		p.failed(p, listenErr, true)
	}))
	if err != nil {
		_ = p.in.Close()
		err = fmt.Errorf("listen %q: %w", p.name, err)
		p.failed(p, err, false)
		return nil, err
	}
	logger.Info("midi: listening", "device", p.name, "port", p.number)
	return func() {
		stop()
		_ = p.in.Close()
		logger.Info("midi: stopped listening", "device", p.name, "port", p.number)
	}, nil
}

// -------------------- MIDIWatcher --------------------

// MIDIWatcher enumerates MIDI inputs and reports the connected set whenever
// it changes. It handles hot-plug (new device appears) and hot-unplug
// (device disappears); the registry does the binding.
type MIDIWatcher struct {
	mu           sync.Mutex
	drv          drivers.Driver
	exclude      []string
	rescan       time.Duration
	lastRescanAt time.Time
	mono         *tempo.Monotonic

	ports     map[string]*midiPort
	scanned   bool
	reported  string
	onDevices func([]registry.Device)
}

// NewMIDIWatcher opens the rtmidi driver. onDevices is called with the full
// device list after every change. Call Close() when done.
func NewMIDIWatcher(cfg Config, mono *tempo.Monotonic, onDevices func([]registry.Device)) (*MIDIWatcher, error) {
	drv, err := rtmididrv.New()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errTransportUnavailable, err)
	}
	return newWatcher(drv, cfg, mono, onDevices), nil
}

func newWatcher(drv drivers.Driver, cfg Config, mono *tempo.Monotonic, onDevices func([]registry.Device)) *MIDIWatcher {
	return &MIDIWatcher{
		drv:       drv,
		exclude:   cfg.Exclude,
		rescan:    cfg.RescanInterval,
		mono:      mono,
		ports:     make(map[string]*midiPort),
		onDevices: onDevices,
	}
}

// Close shuts down the rtmidi driver. Ports are closed by their listeners.
func (m *MIDIWatcher) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.drv.Close(); err != nil {
		logger.Warn("midi: driver close failed", "err", err)
	}
}

// Tick should be called on a regular interval from the main loop. It rescans
// once the rescan interval has passed, or right away after a listener error.
func (m *MIDIWatcher) Tick() {
	m.mu.Lock()
	now := time.Now()
	if !m.lastRescanAt.IsZero() && now.Sub(m.lastRescanAt) < m.rescan {
		m.mu.Unlock()
		return
	}
	m.lastRescanAt = now
	m.mu.Unlock()

	if err := m.Scan(); err != nil {
		// keep the previous device list
		logger.Error("midi: rescan failed", "err", err)
	}
}

// Scan enumerates inputs now and reports the device list if it changed.
func (m *MIDIWatcher) Scan() error {
	m.mu.Lock()
	devices, changed, err := m.scanLocked()
	m.mu.Unlock()
	if err != nil {
		return err
	}
	if changed {
		m.onDevices(devices)
	}
	return nil
}

func (m *MIDIWatcher) scanLocked() ([]registry.Device, bool, error) {
	ins, err := m.drv.Ins()
	if err != nil {
		return nil, false, err
	}

	seen := make(map[string]int)
	ports := make(map[string]*midiPort, len(ins))
	devices := make([]registry.Device, 0, len(ins))
	var sig strings.Builder

	for _, in := range ins {
		name := in.String()
		if m.excluded(name) {
			logger.Debug("midi: input excluded", "device", name)
			continue
		}

		// identical devices share a name; number the later ones
		id := name
		seen[name]++
		if n := seen[name]; n > 1 {
			id = fmt.Sprintf("%s #%d", name, n)
		}

		p, ok := m.ports[id]
		if !ok || p.number != in.Number() {
			p = &midiPort{in: in, name: name, number: in.Number(), mono: m.mono, failed: m.portFailed}
		}
		ports[id] = p
		devices = append(devices, registry.Device{ID: id, Name: name, State: registry.Connected, Port: p})
		fmt.Fprintf(&sig, "%s\x00%d\x00", id, p.number)
	}

	m.ports = ports
	changed := !m.scanned || sig.String() != m.reported
	m.scanned = true
	m.reported = sig.String()
	if changed {
		logger.Debug("midi: inputs changed", "count", len(devices))
	}
	return devices, changed, nil
}

func (m *MIDIWatcher) excluded(name string) bool {
	for _, pat := range m.exclude {
		if containsCI(name, pat) {
			return true
		}
	}
	return false
}

// portFailed forgets p and forces the next scan to report the device list,
// so the registry binds a fresh port for the same input. Open failures wait
// for the regular rescan; errors on a live listener rescan on the next Tick.
// It may run on the driver's goroutine.
func (m *MIDIWatcher) portFailed(p *midiPort, err error, rescanNow bool) {
	logger.Warn("midi: port failed, will rebind", "device", p.name, "port", p.number, "err", err)
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, q := range m.ports {
		if q == p {
			delete(m.ports, id)
		}
	}
	m.scanned = false
	if rescanNow {
		m.lastRescanAt = time.Time{}
	}
}
