package registry

import "fmt"

// ConnectionState mirrors the port state reported by the transport.
type ConnectionState string

const (
	Connected    ConnectionState = "connected"
	Disconnected ConnectionState = "disconnected"
)

const unnamedDevice = "Unnamed device"

// Port is a live input port. Listen starts delivering raw messages with
// their arrival timestamp in milliseconds and returns a function that stops
// delivery. recv may be called from any goroutine. Ports are compared by
// value to detect re-enumeration, so implementations should be pointers.
type Port interface {
	Listen(recv func(data []byte, timestamp float64)) (stop func(), err error)
}

// Device is one entry of a device list reported by the transport.
type Device struct {
	ID    string
	Name  string
	State ConnectionState
	Port  Port
}

// DisplayName returns Name, falling back to the id and then to a generic
// label.
func (d Device) DisplayName() string {
	switch {
	case d.Name != "":
		return d.Name
	case d.ID != "":
		return d.ID
	default:
		return unnamedDevice
	}
}

// Reading is the tempo of one device as shown to displays. BPM is only
// meaningful when Known is true.
type Reading struct {
	ID    string
	Name  string
	BPM   float64
	Known bool
}

// FormatBPM renders the tempo the way every display shows it.
func (r Reading) FormatBPM() string {
	if !r.Known {
		return "— BPM"
	}
	return fmt.Sprintf("%.1f BPM", r.BPM)
}

// Display receives tempo notifications. Calls are made from the single
// goroutine that drives the Registry.
type Display interface {
	DeviceUpsert(r Reading)
	DeviceRemove(id string)
	Status(message string, isError bool)
}

// StatusText returns the status line for the given number of connected
// inputs.
func StatusText(count int) string {
	switch count {
	case 0:
		return "No MIDI devices found. Connect a device and refresh."
	case 1:
		return "1 MIDI input connected. Send clock to see BPM."
	default:
		return fmt.Sprintf("%d MIDI inputs connected. Send clock to see BPM.", count)
	}
}
