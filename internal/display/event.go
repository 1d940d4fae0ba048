package display

import (
	"encoding/json"

	"github.com/chase3718/midiclock/internal/registry"
)

// Event types carried by the websocket and NATS feeds.
const (
	EventUpsert = "upsert"
	EventRemove = "remove"
	EventStatus = "status"

	// EventSnapshot replaces the client's whole state: every device plus
	// the current status line.
	EventSnapshot = "snapshot"
)

// Event is the JSON shape of one notification. BPM is null while unknown.
type Event struct {
	Type    string   `json:"type"`
	ID      string   `json:"id,omitempty"`
	Name    string   `json:"name,omitempty"`
	BPM     *float64 `json:"bpm,omitempty"`
	Message string   `json:"message,omitempty"`
	Error   bool     `json:"error,omitempty"`

	Devices []DeviceJSON `json:"devices,omitempty"`
}

// DeviceJSON is a device row in snapshots.
type DeviceJSON struct {
	ID   string   `json:"id"`
	Name string   `json:"name"`
	BPM  *float64 `json:"bpm"`
}

func upsertEvent(r registry.Reading) Event {
	return Event{Type: EventUpsert, ID: r.ID, Name: r.Name, BPM: bpmPtr(r)}
}

func bpmPtr(r registry.Reading) *float64 {
	if !r.Known {
		return nil
	}
	v := r.BPM
	return &v
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// only plain structs of strings, bools and floats are encoded here
		panic(err)
	}
	return b
}
