package bridge

import (
	"encoding/json"
	"io"
	"os/exec"
)

// Transport is the connection manager's view of the native channel to
// the relay process. Send and Receive exchange whole JSON documents;
// framing is an implementation detail of the transport.
type Transport interface {
	Send(doc any) error
	Receive() (json.RawMessage, error)
	Close() error
}

// Dialer establishes a fresh Transport. The production dialer locates
// and launches the relay executable; tests dial in-memory pipes.
type Dialer func() (Transport, error)

// streamTransport frames documents over a byte stream pair.
type streamTransport struct {
	framer *Framer
	close  func() error
}

// NewStreamTransport builds a Transport over arbitrary read/write
// ends. closeFn tears the underlying streams down; nil is allowed.
func NewStreamTransport(r io.Reader, w io.Writer, closeFn func() error, maxBytes uint32) Transport {
	return &streamTransport{
		framer: NewFramer(r, w, maxBytes),
		close:  closeFn,
	}
}

func (t *streamTransport) Send(doc any) error {
	return t.framer.Encode(doc)
}

func (t *streamTransport) Receive() (json.RawMessage, error) {
	return t.framer.Decode()
}

func (t *streamTransport) Close() error {
	if t.close == nil {
		return nil
	}
	return t.close()
}

// LaunchRelay starts the relay executable and speaks frames over its
// stdin/stdout, which is exactly what the browser runtime does when
// it opens a native messaging port.
func LaunchRelay(path string, maxBytes uint32) (Transport, error) {
	cmd := exec.Command(path)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		return nil, err
	}

	closeFn := func() error {
		// Closing stdin signals EndOfStream; the relay shuts itself
		// down and reaps its backing server.
		err := stdin.Close()
		_, _ = cmd.Process.Wait()
		return err
	}
	return NewStreamTransport(stdout, stdin, closeFn, maxBytes), nil
}
