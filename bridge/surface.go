package bridge

import (
	"encoding/json"
	"sync"
)

// Kinds of messages delivered to a surface.
const (
	KindResponse       = "response"
	KindStreamEvent    = "stream_event"
	KindStreamComplete = "stream_complete"
	KindConnectionLost = "connection_lost"
)

// SurfaceMessage is one routed delivery to a UI surface.
type SurfaceMessage struct {
	Kind      string
	RequestID uint64
	Payload   json.RawMessage
}

// Surface is one registered UI destination (a popup, a sidebar).
// Deliveries arrive on a buffered channel; a surface that stops
// draining loses messages rather than blocking the router.
type Surface struct {
	id string
	ch chan SurfaceMessage
}

func (s *Surface) ID() string { return s.id }

// Ch returns the delivery channel. Closed on Unsubscribe.
func (s *Surface) Ch() <-chan SurfaceMessage { return s.ch }

// SurfaceHub tracks the UI surfaces reachable from one connection
// manager and fans deliveries out to them.
type SurfaceHub struct {
	mu       sync.RWMutex
	surfaces map[string]*Surface
}

func NewSurfaceHub() *SurfaceHub {
	return &SurfaceHub{
		surfaces: make(map[string]*Surface),
	}
}

// Subscribe registers a surface under id, replacing any previous
// registration with that id.
func (h *SurfaceHub) Subscribe(id string) *Surface {
	s := &Surface{
		id: id,
		ch: make(chan SurfaceMessage, 16),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.surfaces[id]; ok {
		close(old.ch)
	}
	h.surfaces[id] = s
	return s
}

// Unsubscribe removes a surface and closes its channel.
func (h *SurfaceHub) Unsubscribe(s *Surface) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.surfaces[s.id] == s {
		delete(h.surfaces, s.id)
		close(s.ch)
	}
}

// Deliver routes a message to one surface. Returns false when the
// surface is gone or its buffer is full; delivery is best-effort and
// the message is simply dropped.
func (h *SurfaceHub) Deliver(id string, msg SurfaceMessage) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s := h.surfaces[id]
	if s == nil {
		return false
	}
	// Send under the lock so Unsubscribe cannot close the channel
	// mid-delivery.
	select {
	case s.ch <- msg:
		return true
	default:
		// surface is slow / buffer full, drop message
		return false
	}
}

// Broadcast sends a message to every registered surface, dropping for
// any that cannot keep up.
func (h *SurfaceHub) Broadcast(msg SurfaceMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, s := range h.surfaces {
		select {
		case s.ch <- msg:
		default:
		}
	}
}
