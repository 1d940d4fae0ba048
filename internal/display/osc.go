package display

import (
	"log/slog"

	"github.com/chase3718/midiclock/internal/registry"
	"github.com/hypebeast/go-osc/osc"
)

// OSC addresses used by the OSC display.
const (
	OSCAddrBPM    = "/midiclock/bpm"
	OSCAddrRemove = "/midiclock/remove"
	OSCAddrStatus = "/midiclock/status"
)

// Sender is implemented by *osc.Client.
type Sender interface {
	Send(packet osc.Packet) error
}

// OSC sends notifications as OSC messages. A tempo message carries
// id, name, bpm (float32, 0 while unknown) and a known flag.
type OSC struct {
	log    *slog.Logger
	client Sender
}

// NewOSCClient returns a UDP OSC client for host:port.
func NewOSCClient(host string, port int) *osc.Client {
	return osc.NewClient(host, port)
}

func NewOSC(l *slog.Logger, client Sender) *OSC {
	return &OSC{log: l, client: client}
}

func (d *OSC) DeviceUpsert(r registry.Reading) {
	d.send(osc.NewMessage(OSCAddrBPM, r.ID, r.Name, float32(r.BPM), r.Known))
}

func (d *OSC) DeviceRemove(id string) {
	d.send(osc.NewMessage(OSCAddrRemove, id))
}

func (d *OSC) Status(message string, isError bool) {
	d.send(osc.NewMessage(OSCAddrStatus, message, isError))
}

func (d *OSC) send(msg *osc.Message) {
	if err := d.client.Send(msg); err != nil {
		d.log.Warn("osc: send failed", "address", msg.Address, "err", err)
	}
}
