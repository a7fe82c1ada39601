// Package wire implements the Manager's three external endpoints —
// uplink-tasks, uplink-results, and downlink-workers — over plain TCP.
// No complete repo in the retrieval pack vendors a ZeroMQ or NATS Go
// binding, so the DEALER/ROUTER semantics described by the wire
// protocol are reproduced directly on net.Conn: every message is one or
// more length-prefixed frames, and linger is zero everywhere — Close
// never blocks draining a send queue.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// maxFrameSize bounds a single frame to guard against a corrupt length
// prefix turning one bad frame into an unbounded allocation.
const maxFrameSize = 64 << 20

// writeFrame writes a single length-prefixed frame: a 4-byte
// little-endian length followed by the payload.
func writeFrame(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("wire: write frame length: %w", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("wire: write frame payload: %w", err)
	}
	return nil
}

// readFrame reads a single length-prefixed frame.
func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("wire: frame length %d exceeds max %d", n, maxFrameSize)
	}
	if n == 0 {
		return []byte{}, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("wire: read frame payload: %w", err)
	}
	return buf, nil
}
