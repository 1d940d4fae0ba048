package display

import (
	"log/slog"

	"github.com/chase3718/midiclock/internal/registry"
)

// Log writes every notification as a structured log line.
type Log struct {
	log *slog.Logger
}

func NewLog(l *slog.Logger) *Log {
	return &Log{log: l}
}

func (d *Log) DeviceUpsert(r registry.Reading) {
	if r.Known {
		d.log.Info("device tempo", "id", r.ID, "name", r.Name, "bpm", r.FormatBPM())
		return
	}
	d.log.Info("device tempo", "id", r.ID, "name", r.Name, "bpm", "unknown")
}

func (d *Log) DeviceRemove(id string) {
	d.log.Info("device removed", "id", id)
}

func (d *Log) Status(message string, isError bool) {
	if isError {
		d.log.Error("status", "message", message)
		return
	}
	d.log.Info("status", "message", message)
}
