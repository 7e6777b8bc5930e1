package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// DefaultMaxFrameBytes is the hard per-message cap enforced by
// ReadFrame when the caller does not impose a tighter one. It mirrors
// ProtocolBuffer's HARD_LIMIT: large enough for a Replicate/FindAll
// response carrying thousands of replica records, small enough to
// bound a single allocation from an untrusted length prefix.
const DefaultMaxFrameBytes = 64 * 1024 * 1024

// ErrFrameTooLarge is returned by ReadFrame when the advertised body
// length exceeds maxBytes. The frame is rejected before any body bytes
// are read, so the connection can be drained or closed without
// allocating the oversized buffer.
type ErrFrameTooLarge struct {
	Advertised uint32
	Max        uint32
}

func (e *ErrFrameTooLarge) Error() string {
	return fmt.Sprintf("protocol: frame of %d bytes exceeds the limit of %d bytes", e.Advertised, e.Max)
}

// WriteFrame writes body preceded by its 32-bit big-endian length.
func WriteFrame(w io.Writer, body []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("protocol: write frame length: %w", err)
	}
	if len(body) == 0 {
		return nil
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("protocol: write frame body: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame from r. A body longer
// than maxBytes (0 selects DefaultMaxFrameBytes) is rejected as
// ErrFrameTooLarge without being read into memory.
func ReadFrame(r io.Reader, maxBytes uint32) ([]byte, error) {
	if maxBytes == 0 {
		maxBytes = DefaultMaxFrameBytes
	}
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("protocol: read frame length: %w", err)
	}
	size := binary.BigEndian.Uint32(lenBuf[:])
	if size > maxBytes {
		return nil, &ErrFrameTooLarge{Advertised: size, Max: maxBytes}
	}
	if size == 0 {
		return nil, nil
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("protocol: read frame body: %w", err)
	}
	return body, nil
}
