package bridge

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"sync"
)

// DefaultMaxFrameBytes caps the body length accepted or produced by a
// Framer. Guards against a corrupt length prefix allocating gigabytes.
const DefaultMaxFrameBytes = 10 * 1024 * 1024

// Framer reads and writes native messaging frames on a byte stream:
// a 4-byte unsigned little-endian length prefix followed by exactly
// that many bytes of UTF-8 JSON. No delimiter, no trailing newline.
// The same framing applies in both directions.
type Framer struct {
	r   io.Reader
	w   io.Writer
	wmu sync.Mutex
	max uint32
}

// NewFramer wraps r and w. maxBytes of 0 selects DefaultMaxFrameBytes.
func NewFramer(r io.Reader, w io.Writer, maxBytes uint32) *Framer {
	if maxBytes == 0 {
		maxBytes = DefaultMaxFrameBytes
	}
	return &Framer{r: r, w: w, max: maxBytes}
}

// SetMaxBytes adjusts the frame size cap. Takes effect on the next
// Encode/Decode call.
func (f *Framer) SetMaxBytes(maxBytes uint32) {
	f.wmu.Lock()
	defer f.wmu.Unlock()
	if maxBytes != 0 {
		f.max = maxBytes
	}
}

// exceedsFrameMax compares in 64 bits so a body past 4 GiB cannot
// wrap through the 32-bit header width and slip under the cap.
func exceedsFrameMax(n uint64, max uint32) bool {
	return n > uint64(max)
}

func (f *Framer) maxBytes() uint32 {
	f.wmu.Lock()
	defer f.wmu.Unlock()
	return f.max
}

// Encode serializes doc and writes it as one frame. On serialization
// failure nothing is written and an *EncodingError is returned.
// Safe for concurrent use.
func (f *Framer) Encode(doc any) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return &EncodingError{Err: err}
	}

	f.wmu.Lock()
	defer f.wmu.Unlock()

	if exceedsFrameMax(uint64(len(body)), f.max) {
		return &FrameTooLargeError{Size: uint64(len(body)), Max: f.max}
	}

	hdr := make([]byte, 4)
	binary.LittleEndian.PutUint32(hdr, uint32(len(body)))

	if _, err := f.w.Write(hdr); err != nil {
		return err
	}
	if _, err := f.w.Write(body); err != nil {
		return err
	}
	return nil
}

// Decode blocks until one full frame is available and returns its
// JSON body. A stream closed cleanly before any byte of the next
// frame returns io.EOF. A stream closed after a partial prefix or a
// partial body returns ErrTruncatedFrame; the framing has no recovery
// marker, so callers must tear the stream down. A length prefix above
// the configured maximum returns *FrameTooLargeError before the body
// is read.
func (f *Framer) Decode() (json.RawMessage, error) {
	hdr := make([]byte, 4)
	if _, err := io.ReadFull(f.r, hdr); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, ErrTruncatedFrame
	}

	length := binary.LittleEndian.Uint32(hdr)
	if length == 0 {
		// A zero-length body cannot carry a JSON document.
		return nil, ErrTruncatedFrame
	}
	if max := f.maxBytes(); length > max {
		return nil, &FrameTooLargeError{Size: uint64(length), Max: max}
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(f.r, body); err != nil {
		return nil, ErrTruncatedFrame
	}
	return body, nil
}
