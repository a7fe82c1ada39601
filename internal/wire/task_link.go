package wire

import (
	"net"
	"sync"

	"github.com/rs/zerolog"
)

// TaskLink is the Manager's uplink-tasks endpoint: a single outbound
// connection to the Interchange carrying registration, heartbeats, and
// capacity requests out, and task batches/heartbeats/STOP in. It
// mirrors DEALER semantics (one logical identity, asynchronous
// send/receive) over one TCP connection rather than a real DEALER
// socket.
type TaskLink struct {
	conn net.Conn
	log  zerolog.Logger

	writeMu sync.Mutex

	frames chan []byte
	errs   chan error
	closed chan struct{}
	once   sync.Once
}

// DialTaskLink connects to the Interchange's task URL and starts the
// background frame reader.
func DialTaskLink(addr string, logger zerolog.Logger) (*TaskLink, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	t := &TaskLink{
		conn:   conn,
		log:    logger.With().Str("wire_endpoint", "uplink-tasks").Logger(),
		frames: make(chan []byte, 64),
		errs:   make(chan error, 4),
		closed: make(chan struct{}),
	}
	go t.readLoop()
	return t, nil
}

func (t *TaskLink) readLoop() {
	for {
		frame, err := readFrame(t.conn)
		if err != nil {
			select {
			case t.errs <- err:
			case <-t.closed:
			}
			return
		}
		select {
		case t.frames <- frame:
		case <-t.closed:
			return
		}
	}
}

// Frames yields decoded inbound frames as they arrive. The dispatch
// loop selects on this alongside WorkerLink.Messages and a poll timer.
func (t *TaskLink) Frames() <-chan []byte { return t.frames }

// Errors yields read errors; the dispatch loop logs and continues. The
// background reader stops after the first read error, so at most one
// error is delivered and no further frames arrive after it.
func (t *TaskLink) Errors() <-chan error { return t.errs }

// Send writes one outbound frame (registration, heartbeat, or capacity
// request).
func (t *TaskLink) Send(payload []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return writeFrame(t.conn, payload)
}

// Close tears down the connection immediately — zero linger, matching
// the source's LINGER=0 sockets: any frame queued for send is dropped.
func (t *TaskLink) Close() error {
	var err error
	t.once.Do(func() {
		close(t.closed)
		err = t.conn.Close()
	})
	return err
}
