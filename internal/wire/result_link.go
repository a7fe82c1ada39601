package wire

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog"
)

// ResultLink is the Manager's uplink-results endpoint: send-only,
// outbound batches of 1..K opaque result frames. Each batch is framed
// as a 4-byte little-endian frame count followed by that many
// length-prefixed frames, so the Interchange can read a whole batch
// without needing an explicit end marker.
type ResultLink struct {
	conn net.Conn
	log  zerolog.Logger

	writeMu sync.Mutex
	once    sync.Once
}

// DialResultLink connects to the Interchange's result URL.
func DialResultLink(addr string, logger zerolog.Logger) (*ResultLink, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &ResultLink{
		conn: conn,
		log:  logger.With().Str("wire_endpoint", "uplink-results").Logger(),
	}, nil
}

// SendBatch writes a batch of result frames atomically with respect to
// other SendBatch calls.
func (r *ResultLink) SendBatch(frames [][]byte) error {
	if len(frames) == 0 {
		return nil
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(frames)))
	if _, err := r.conn.Write(countBuf[:]); err != nil {
		return fmt.Errorf("wire: write result batch count: %w", err)
	}
	for _, f := range frames {
		if err := writeFrame(r.conn, f); err != nil {
			return err
		}
	}
	return nil
}

// Close tears down the connection immediately (zero linger).
func (r *ResultLink) Close() error {
	var err error
	r.once.Do(func() {
		err = r.conn.Close()
	})
	return err
}
