package display

import (
	"log/slog"
	"time"

	"github.com/chase3718/midiclock/internal/registry"
	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is used when no NATS subject prefix is configured.
const DefaultSubjectPrefix = "midiclock"

// Publisher is the subset of *nats.Conn the NATS display needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATS publishes notifications as JSON on <prefix>.upsert, <prefix>.remove
// and <prefix>.status.
type NATS struct {
	log    *slog.Logger
	pub    Publisher
	prefix string
}

// ConnectNATS dials a NATS server with reconnects enabled for good.
func ConnectNATS(url string) (*nats.Conn, error) {
	return nats.Connect(
		url,
		nats.Name("midiclock"),
		nats.Timeout(3*time.Second),
		nats.ReconnectWait(500*time.Millisecond),
		nats.MaxReconnects(-1),
	)
}

func NewNATS(l *slog.Logger, pub Publisher, prefix string) *NATS {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATS{log: l, pub: pub, prefix: prefix}
}

func (d *NATS) DeviceUpsert(r registry.Reading) {
	d.publish(EventUpsert, upsertEvent(r))
}

func (d *NATS) DeviceRemove(id string) {
	d.publish(EventRemove, Event{Type: EventRemove, ID: id})
}

func (d *NATS) Status(message string, isError bool) {
	d.publish(EventStatus, Event{Type: EventStatus, Message: message, Error: isError})
}

func (d *NATS) publish(kind string, ev Event) {
	subject := d.prefix + "." + kind
	if err := d.pub.Publish(subject, mustJSON(ev)); err != nil {
		d.log.Warn("nats: publish failed", "subject", subject, "err", err)
	}
}
