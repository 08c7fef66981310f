package bridge

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// pendingRequest is the routing record for one in-flight request:
// just enough to deliver whatever comes back.
type pendingRequest struct {
	surfaceID string
}

// ConnManager owns the lifecycle of one native connection to the
// relay: connect, detect disconnect, bounded retry, request/response
// correlation, and routing of streamed events to the originating
// surface. One instance per UI context; no package-level state.
type ConnManager struct {
	settings *Settings
	dialer   Dialer
	hub      *SurfaceHub

	nextID atomic.Uint64

	// Entries expire after PendingTTL so a request abandoned by a
	// closed surface cannot pin its routing record forever. Expiry is
	// the same silent drop as an unroutable frame.
	pending *ttlcache.Cache[uint64, pendingRequest]

	mu           sync.Mutex
	tr           Transport
	reconnecting bool
	closed       bool
}

// NewConnManager wires a manager over dialer, delivering to hub.
func NewConnManager(settings *Settings, dialer Dialer, hub *SurfaceHub) *ConnManager {
	pending := ttlcache.New[uint64, pendingRequest](
		ttlcache.WithTTL[uint64, pendingRequest](settings.Current().PendingTTL()),
		ttlcache.WithDisableTouchOnHit[uint64, pendingRequest](),
	)
	go pending.Start()

	return &ConnManager{
		settings: settings,
		dialer:   dialer,
		hub:      hub,
		pending:  pending,
	}
}

// Connect establishes the native transport. On failure the manager
// just stays disconnected: no retry here, no surface notification.
// The next Send dials again.
func (m *ConnManager) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tr != nil || m.closed {
		return nil
	}
	return m.connectLocked()
}

func (m *ConnManager) connectLocked() error {
	tr, err := m.dialer()
	if err != nil {
		return err
	}
	m.tr = tr
	go m.readLoop(tr)
	return nil
}

// Send assigns a fresh request ID, records the routing entry, and
// forwards the request. With no active transport it connects first;
// if that fails it returns ErrSendFailed without allocating an ID.
// IDs are process-lifetime unique and strictly increasing.
func (m *ConnManager) Send(req Request, surfaceID string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrSendFailed
	}
	if m.tr == nil {
		if err := m.connectLocked(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrSendFailed, err)
		}
	}

	id := m.nextID.Add(1)
	req.RequestID = id
	m.pending.Set(id, pendingRequest{surfaceID: surfaceID}, ttlcache.DefaultTTL)

	if err := m.tr.Send(req); err != nil {
		m.pending.Delete(id)
		m.dropTransportLocked()
		return 0, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return id, nil
}

// Cancel removes the routing entry for id and notifies the relay with
// a cancel_request frame, best effort over the current transport. It
// does not abort the backing call; any response that still arrives is
// dropped.
func (m *ConnManager) Cancel(id uint64) {
	m.pending.Delete(id)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tr == nil || m.closed {
		return
	}
	if err := m.tr.Send(Request{Type: TypeCancelRequest, RequestID: id}); err != nil {
		log.Printf("[conn] cancel notification for request %d failed: %v", id, err)
	}
}

// Close tears the manager down. Surfaces receive no further messages.
func (m *ConnManager) Close() error {
	m.mu.Lock()
	m.closed = true
	tr := m.tr
	m.tr = nil
	m.mu.Unlock()

	m.pending.Stop()
	if tr != nil {
		return tr.Close()
	}
	return nil
}

func (m *ConnManager) dropTransportLocked() {
	if m.tr != nil {
		_ = m.tr.Close()
		m.tr = nil
	}
}

// readLoop receives frames until the transport fails, then hands off
// to the reconnect path.
func (m *ConnManager) readLoop(tr Transport) {
	for {
		raw, err := tr.Receive()
		if err != nil {
			m.handleDisconnect(tr, err)
			return
		}
		m.route(raw)
	}
}

// route delivers one inbound frame to its recorded surface. Frames
// with no matching pending entry are dropped without error: delivery
// is best-effort, and a stream event for a completed or cancelled
// request is simply stale.
func (m *ConnManager) route(raw json.RawMessage) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Printf("[conn] dropping unparseable frame: %v", err)
		return
	}

	item := m.pending.Get(env.RequestID)
	if item == nil {
		log.Printf("[conn] dropping frame for unknown request %d", env.RequestID)
		return
	}
	dest := item.Value().surfaceID

	switch env.Type {
	case TypeStreamEvent:
		m.hub.Deliver(dest, SurfaceMessage{
			Kind:      KindStreamEvent,
			RequestID: env.RequestID,
			Payload:   raw,
		})
	case TypeStreamComplete:
		m.pending.Delete(env.RequestID)
		m.hub.Deliver(dest, SurfaceMessage{
			Kind:      KindStreamComplete,
			RequestID: env.RequestID,
			Payload:   raw,
		})
	default:
		// Terminal response.
		m.pending.Delete(env.RequestID)
		m.hub.Deliver(dest, SurfaceMessage{
			Kind:      KindResponse,
			RequestID: env.RequestID,
			Payload:   raw,
		})
	}
}

// handleDisconnect retries the connection a bounded number of times
// with a fixed delay. After exhaustion every surface gets a terminal
// connection_lost notification and the manager stays disconnected
// until the next explicit Send.
func (m *ConnManager) handleDisconnect(tr Transport, cause error) {
	m.mu.Lock()
	if m.tr != tr || m.closed {
		// A newer transport already took over, or we are shutting down.
		m.mu.Unlock()
		return
	}
	m.tr = nil
	if m.reconnecting {
		m.mu.Unlock()
		return
	}
	m.reconnecting = true
	m.mu.Unlock()

	cfg := m.settings.Current()
	log.Printf("[conn] transport lost (%v), reconnecting up to %d times", cause, cfg.ReconnectAttempts)

	for attempt := 1; attempt <= cfg.ReconnectAttempts; attempt++ {
		time.Sleep(cfg.ReconnectDelay())

		m.mu.Lock()
		if m.closed || m.tr != nil {
			m.reconnecting = false
			m.mu.Unlock()
			return
		}
		err := m.connectLocked()
		if err == nil {
			m.reconnecting = false
			m.mu.Unlock()
			log.Printf("[conn] reconnected on attempt %d", attempt)
			return
		}
		m.mu.Unlock()
		log.Printf("[conn] reconnect attempt %d/%d failed: %v", attempt, cfg.ReconnectAttempts, err)
	}

	m.mu.Lock()
	m.reconnecting = false
	m.mu.Unlock()

	log.Printf("[conn] giving up until next send")
	m.hub.Broadcast(SurfaceMessage{Kind: KindConnectionLost})
}
