package main

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/chase3718/midiclock/internal/registry"
	"go.bug.st/serial"
)

// SerialPort wraps a go.bug.st/serial port with a frame-send helper.
type SerialPort struct {
	port io.WriteCloser
}

// OpenSerial opens the named serial device at the given baud rate.
func OpenSerial(name string, baud int) (*SerialPort, error) {
	mode := &serial.Mode{BaudRate: baud}
	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", name, err)
	}
	logger.Info("serial: port opened", "device", name, "baud", baud)
	return &SerialPort{port: p}, nil
}

// SendFrame encodes and writes a frame to the serial port.
func (s *SerialPort) SendFrame(f TempoFrame) {
	data := f.Encode()
	n, err := s.port.Write(data)
	if err != nil {
		logger.Error("serial: write error", "err", err)
		return
	}
	logger.Debug("serial: frame sent", "bytes", n, "seq", f.Seq, "tempo_x10", f.TempoX10, "flags", f.Flags)
}

// Close closes the underlying serial port.
func (s *SerialPort) Close() {
	logger.Info("serial: closing port")
	_ = s.port.Close()
}

// SerialDisplay shows the tempo of one device on a serial display. The
// device is the first connected one matching a preferred pattern, or the
// only device when exactly one is connected.
type SerialDisplay struct {
	port      *SerialPort
	preferred []string

	names    map[string]string
	readings map[string]registry.Reading
	selected string
	seq      byte
}

func NewSerialDisplay(port *SerialPort, preferred []string) *SerialDisplay {
	return &SerialDisplay{
		port:      port,
		preferred: preferred,
		names:     make(map[string]string),
		readings:  make(map[string]registry.Reading),
	}
}

func (d *SerialDisplay) DeviceUpsert(r registry.Reading) {
	d.readings[r.ID] = r
	if d.names[r.ID] != r.Name {
		d.names[r.ID] = r.Name
		if d.reselect() {
			return
		}
	}
	if r.ID == d.selected {
		d.send(NewTempoFrame(r.BPM, r.Known, d.seq))
	}
}

func (d *SerialDisplay) DeviceRemove(id string) {
	delete(d.readings, id)
	delete(d.names, id)
	if id == d.selected {
		d.reselect()
	}
}

func (d *SerialDisplay) Status(string, bool) {}

// reselect picks the shown device again and reports whether it changed. A
// change is sent to the display right away.
func (d *SerialDisplay) reselect() bool {
	prev := d.selected
	d.selected = pickPreferred(d.names, d.preferred)
	if d.selected == prev {
		return false
	}
	logger.Info("serial: showing device", "id", d.selected)
	if r, ok := d.readings[d.selected]; ok {
		d.send(NewTempoFrame(r.BPM, r.Known, d.seq))
	} else {
		d.send(IdleFrame(d.seq))
	}
	return true
}

func (d *SerialDisplay) send(f TempoFrame) {
	d.port.SendFrame(f)
	d.seq++
}

// pickPreferred returns the id whose name matches the earliest pattern, or
// the only id when there is exactly one.
func pickPreferred(names map[string]string, patterns []string) string {
	for _, pat := range patterns {
		for _, id := range slices.Sorted(maps.Keys(names)) {
			if containsCI(names[id], pat) {
				return id
			}
		}
	}
	if len(names) == 1 {
		for id := range names {
			return id
		}
	}
	return ""
}

func containsCI(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
