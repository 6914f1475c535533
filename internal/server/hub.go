package server

import (
	"encoding/json"
	"sync"

	"lsfleet-agent/internal/model"
)

// feedMessage is one frame on the live fleet feed.
type feedMessage struct {
	CycleID string                      `json:"cycle_id"`
	Nodes   map[string]model.NodeResult `json:"nodes"`
}

// Hub fans fleet views out to live feed subscribers. A subscriber that falls
// behind misses frames rather than stalling the poll loop.
type Hub struct {
	mu     sync.Mutex
	subs   map[chan []byte]struct{}
	latest []byte
	buffer int
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 4
	}
	return &Hub{subs: make(map[chan []byte]struct{}), buffer: buffer}
}

func (h *Hub) Publish(v model.FleetView) {
	data, err := json.Marshal(feedMessage{CycleID: v.CycleID, Nodes: v.Nodes})
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.latest = data
	for ch := range h.subs {
		select {
		case ch <- data:
		default:
		}
	}
}

// Subscribe returns a frame channel primed with the latest view, if any.
func (h *Hub) Subscribe() chan []byte {
	ch := make(chan []byte, h.buffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.latest != nil {
		ch <- h.latest
	}
	h.subs[ch] = struct{}{}
	return ch
}

func (h *Hub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
