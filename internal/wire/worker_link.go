package wire

import (
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog"
)

// WorkerMessage is one inbound frame-set from a worker: (worker_id,
// type, payload).
type WorkerMessage struct {
	WorkerID string
	Type     workerFrameType
	Payload  []byte
}

// WorkerLink is the Manager's downlink-workers endpoint: a TCP listener
// accepting one connection per worker, reproducing ROUTER semantics
// (many peers, each frame-set tagged with its originating worker's
// identity) without a real ROUTER socket — the identity here is simply
// which connection a frame arrived on, carried explicitly as the first
// frame of the three-frame worker protocol.
type WorkerLink struct {
	listener net.Listener
	log      zerolog.Logger

	mu    sync.Mutex
	conns map[string]net.Conn

	messages chan WorkerMessage
	closed   chan struct{}
	once     sync.Once
}

// ListenWorkerLink binds addr and starts accepting worker connections.
func ListenWorkerLink(addr string, logger zerolog.Logger) (*WorkerLink, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	w := &WorkerLink{
		listener: ln,
		log:      logger.With().Str("wire_endpoint", "downlink-workers").Logger(),
		conns:    make(map[string]net.Conn),
		messages: make(chan WorkerMessage, 256),
		closed:   make(chan struct{}),
	}
	go w.acceptLoop()
	return w, nil
}

// Addr returns the bound listen address, useful when addr:0 was
// requested and the OS picked an ephemeral port.
func (w *WorkerLink) Addr() string { return w.listener.Addr().String() }

func (w *WorkerLink) acceptLoop() {
	for {
		conn, err := w.listener.Accept()
		if err != nil {
			select {
			case <-w.closed:
				return
			default:
				w.log.Warn().Err(err).Msg("worker link accept failed")
				return
			}
		}
		go w.connLoop(conn)
	}
}

func (w *WorkerLink) connLoop(conn net.Conn) {
	var workerID string
	for {
		idFrame, err := readFrame(conn)
		if err != nil {
			w.forgetConn(workerID)
			return
		}
		typeFrame, err := readFrame(conn)
		if err != nil {
			w.forgetConn(workerID)
			return
		}
		payload, err := readFrame(conn)
		if err != nil {
			w.forgetConn(workerID)
			return
		}

		workerID = string(idFrame)
		w.mu.Lock()
		w.conns[workerID] = conn
		w.mu.Unlock()

		msg := WorkerMessage{WorkerID: workerID, Type: workerFrameType(typeFrame), Payload: payload}
		select {
		case w.messages <- msg:
		case <-w.closed:
			return
		}
	}
}

func (w *WorkerLink) forgetConn(workerID string) {
	if workerID == "" {
		return
	}
	w.mu.Lock()
	delete(w.conns, workerID)
	w.mu.Unlock()
}

// Messages yields inbound worker frame-sets.
func (w *WorkerLink) Messages() <-chan WorkerMessage { return w.messages }

// Send writes (worker_id, task_id, buffer) to the connection associated
// with workerID. Returns an error if the worker is unknown (already
// disconnected).
func (w *WorkerLink) Send(workerID, taskID string, buffer []byte) error {
	w.mu.Lock()
	conn, ok := w.conns[workerID]
	w.mu.Unlock()
	if !ok {
		return fmt.Errorf("wire: unknown worker %q", workerID)
	}

	if err := writeFrame(conn, []byte(workerID)); err != nil {
		return err
	}
	if err := writeFrame(conn, []byte(taskID)); err != nil {
		return err
	}
	return writeFrame(conn, buffer)
}

// Forget drops the tracked connection for a worker id without closing
// it, used when the dispatch loop removes a worker it believes is dead
// but whose socket close hasn't been observed yet.
func (w *WorkerLink) Forget(workerID string) {
	w.forgetConn(workerID)
}

// Close stops accepting new connections and closes all tracked ones.
func (w *WorkerLink) Close() error {
	var err error
	w.once.Do(func() {
		close(w.closed)
		err = w.listener.Close()
		w.mu.Lock()
		for _, c := range w.conns {
			_ = c.Close()
		}
		w.conns = make(map[string]net.Conn)
		w.mu.Unlock()
	})
	return err
}
