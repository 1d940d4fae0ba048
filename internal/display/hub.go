package display

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chase3718/midiclock/internal/registry"
	"github.com/gorilla/websocket"
)

const (
	writeWait   = 200 * time.Millisecond
	hubQueueLen = 256
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub streams notifications to websocket clients. It keeps the latest state
// so a client that connects late starts from a full snapshot. Display calls
// only queue work; Run does the socket writes. Upserts are dropped when the
// queue is full; a lost remove or status makes Run resend the whole state
// instead.
type Hub struct {
	log *slog.Logger

	mu      sync.Mutex
	conns   map[*websocket.Conn]bool
	devices map[string]DeviceJSON
	status  *Event

	out     chan []byte
	resync  atomic.Bool
	sent    atomic.Int64
	dropped atomic.Int64
}

func NewHub(l *slog.Logger) *Hub {
	return &Hub{
		log:     l,
		conns:   make(map[*websocket.Conn]bool),
		devices: make(map[string]DeviceJSON),
		out:     make(chan []byte, hubQueueLen),
	}
}

func (h *Hub) DeviceUpsert(r registry.Reading) {
	h.mu.Lock()
	h.devices[r.ID] = DeviceJSON{ID: r.ID, Name: r.Name, BPM: bpmPtr(r)}
	h.mu.Unlock()
	h.enqueue(upsertEvent(r))
}

func (h *Hub) DeviceRemove(id string) {
	h.mu.Lock()
	delete(h.devices, id)
	h.mu.Unlock()
	h.enqueueLifecycle(Event{Type: EventRemove, ID: id})
}

func (h *Hub) Status(message string, isError bool) {
	ev := Event{Type: EventStatus, Message: message, Error: isError}
	h.mu.Lock()
	h.status = &ev
	h.mu.Unlock()
	h.enqueueLifecycle(ev)
}

func (h *Hub) enqueue(ev Event) {
	select {
	case h.out <- mustJSON(ev):
	default:
		h.dropped.Add(1)
	}
}

func (h *Hub) enqueueLifecycle(ev Event) {
	select {
	case h.out <- mustJSON(ev):
	default:
		h.dropped.Add(1)
		h.resync.Store(true)
	}
}

// Run broadcasts queued events until ctx is done, then closes all clients.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case b := <-h.out:
			if h.resync.Swap(false) {
				// queued events are older than the state itself
				h.discardQueued()
				h.broadcast(mustJSON(h.snapshotEvent()))
				continue
			}
			h.broadcast(b)
		}
	}
}

func (h *Hub) discardQueued() {
	for {
		select {
		case <-h.out:
		default:
			return
		}
	}
}

func (h *Hub) snapshotEvent() Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	ev := Event{Type: EventSnapshot, Devices: h.devicesLocked()}
	if h.status != nil {
		ev.Message = h.status.Message
		ev.Error = h.status.Error
	}
	return ev
}

func (h *Hub) snapshot() []*websocket.Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients := make([]*websocket.Conn, 0, len(h.conns))
	for c := range h.conns {
		clients = append(clients, c)
	}
	return clients
}

func (h *Hub) broadcast(b []byte) {
	for _, c := range h.snapshot() {
		_ = c.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.WriteMessage(websocket.TextMessage, b); err != nil {
			h.log.Debug("ws: dropping client", "remote", c.RemoteAddr().String(), "err", err)
			h.remove(c)
			_ = c.Close()
			continue
		}
		h.sent.Add(1)
	}
}

func (h *Hub) remove(c *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		_ = c.Close()
		delete(h.conns, c)
	}
}

// Devices returns the current device rows sorted by id.
func (h *Hub) Devices() []DeviceJSON {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.devicesLocked()
}

func (h *Hub) devicesLocked() []DeviceJSON {
	out := make([]DeviceJSON, 0, len(h.devices))
	for _, d := range h.devices {
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b DeviceJSON) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// Handler serves /ws, /devices and /metrics.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.serveWS)
	mux.HandleFunc("/devices", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(h.Devices())
	})
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		clients := len(h.conns)
		h.mu.Unlock()
		fmt.Fprintf(w, "clients %d\nmessages_sent %d\nmessages_dropped %d\n",
			clients, h.sent.Load(), h.dropped.Load())
	})
	return mux
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("ws: upgrade failed", "err", err)
		return
	}
	if err := h.join(conn); err != nil {
		h.log.Debug("ws: snapshot failed", "err", err)
		_ = conn.Close()
		return
	}
	h.log.Debug("ws: client connected", "remote", r.RemoteAddr)
	defer func() {
		h.remove(conn)
		_ = conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// join writes the current state to a new client and then registers it, so
// the broadcaster never writes to it concurrently with the snapshot.
func (h *Hub) join(conn *websocket.Conn) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if h.status != nil {
		if err := conn.WriteMessage(websocket.TextMessage, mustJSON(h.status)); err != nil {
			return err
		}
	}
	for _, d := range h.devicesLocked() {
		ev := Event{Type: EventUpsert, ID: d.ID, Name: d.Name, BPM: d.BPM}
		if err := conn.WriteMessage(websocket.TextMessage, mustJSON(ev)); err != nil {
			return err
		}
	}
	h.conns[conn] = true
	return nil
}
