package display

import "github.com/chase3718/midiclock/internal/registry"

// Multi fans every notification out to each display in order.
type Multi []registry.Display

func (m Multi) DeviceUpsert(r registry.Reading) {
	for _, d := range m {
		d.DeviceUpsert(r)
	}
}

func (m Multi) DeviceRemove(id string) {
	for _, d := range m {
		d.DeviceRemove(id)
	}
}

func (m Multi) Status(message string, isError bool) {
	for _, d := range m {
		d.Status(message, isError)
	}
}
