package bridge

import (
	"encoding/json"
	"io"
	"testing"
	"time"
)

// testConfig shrinks every retry bound and delay so failure paths run
// in milliseconds.
func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.RequestTimeoutMs = 2_000
	cfg.StartupTimeoutMs = 200
	cfg.MaxRetries = 2
	cfg.RetryDelayMs = 10
	cfg.ReconnectAttempts = 2
	cfg.ReconnectDelayMs = 10
	cfg.PendingTTLMs = 60_000
	return cfg
}

func testSettings() *Settings {
	return NewSettings(testConfig())
}

// relayPeer is the far end of an in-memory native transport: what the
// connection manager dials in tests. Frames from the manager are
// drained into recv continuously (the pipes are unbuffered, so a
// send would otherwise block its caller); frames passed to send go
// back to the manager.
type relayPeer struct {
	in     *io.PipeReader
	out    *io.PipeWriter
	framer *Framer
	recv   chan json.RawMessage
}

// newPipeTransport returns a connected (Transport, peer) pair.
func newPipeTransport(t *testing.T) (Transport, *relayPeer) {
	t.Helper()

	mgrR, peerW := io.Pipe()
	peerR, mgrW := io.Pipe()

	tr := NewStreamTransport(mgrR, mgrW, func() error {
		mgrW.Close()
		return mgrR.Close()
	}, 0)

	peer := &relayPeer{
		in:     peerR,
		out:    peerW,
		framer: NewFramer(peerR, peerW, 0),
		recv:   make(chan json.RawMessage, 64),
	}
	go func() {
		for {
			raw, err := peer.framer.Decode()
			if err != nil {
				close(peer.recv)
				return
			}
			peer.recv <- raw
		}
	}()

	t.Cleanup(func() {
		peerW.Close()
		peerR.Close()
	})
	return tr, peer
}

func (p *relayPeer) send(t *testing.T, doc any) {
	t.Helper()
	if err := p.framer.Encode(doc); err != nil {
		t.Fatalf("peer send: %v", err)
	}
}

func (p *relayPeer) receive(t *testing.T) json.RawMessage {
	t.Helper()
	select {
	case raw, ok := <-p.recv:
		if !ok {
			t.Fatal("peer receive: transport closed")
		}
		return raw
	case <-time.After(2 * time.Second):
		t.Fatal("peer receive: no frame from manager")
		return nil
	}
}

// close simulates the relay process dying: both pipe ends go away and
// the manager's next Receive fails.
func (p *relayPeer) close() {
	p.out.Close()
	p.in.Close()
}
