package bridge

import (
	"errors"
	"fmt"
)

var (
	// ErrTruncatedFrame means the stream closed after a partial length
	// prefix or a partial body. The framing has no recovery marker, so
	// this is fatal for the stream.
	ErrTruncatedFrame = errors.New("bridge: truncated frame")

	// ErrBackingUnavailable means the backing server could not be
	// reached and could not be started within the readiness bounds.
	ErrBackingUnavailable = errors.New("bridge: backing server unavailable")

	// ErrNotInstalled means the backing server executable is not on PATH.
	ErrNotInstalled = errors.New("bridge: backing server executable not found")

	// ErrSendFailed means no transport to the relay could be
	// established for a send. No request ID was allocated.
	ErrSendFailed = errors.New("bridge: send failed, no transport")

	// ErrConnectionLost is broadcast to surfaces after reconnection
	// attempts are exhausted. The manager stops retrying until the
	// next explicit Send.
	ErrConnectionLost = errors.New("bridge: connection to relay lost")
)

// FrameTooLargeError reports a length prefix exceeding the configured
// maximum. It is raised before the body is read.
type FrameTooLargeError struct {
	Size uint64
	Max  uint32
}

func (e *FrameTooLargeError) Error() string {
	return fmt.Sprintf("bridge: frame of %d bytes exceeds maximum %d", e.Size, e.Max)
}

// EncodingError wraps a serialization failure during Encode. Nothing
// is written to the stream when it is returned.
type EncodingError struct {
	Err error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("bridge: encode frame: %v", e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }
