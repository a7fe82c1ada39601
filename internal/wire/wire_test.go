package wire

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger { return zerolog.Nop() }

func TestFrameRoundTrip(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		got, err := readFrame(server)
		require.NoError(t, err)
		assert.Equal(t, []byte("hello"), got)
	}()

	require.NoError(t, writeFrame(client, []byte("hello")))
	<-done
}

func TestEncodeDecodeHeartbeat(t *testing.T) {
	frame := EncodeHeartbeat()
	kind, tasks, err := DecodeUplinkFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, KindHeartbeat, kind)
	assert.Nil(t, tasks)
}

func TestEncodeDecodeStop(t *testing.T) {
	kind, _, err := DecodeUplinkFrame([]byte(stopLiteral))
	require.NoError(t, err)
	assert.Equal(t, KindStop, kind)
}

func TestEncodeDecodeTaskBatch(t *testing.T) {
	payload := []byte(`[{"task_id":"t1;RAW","buffer":"qg=="}]`)
	kind, tasks, err := DecodeUplinkFrame(payload)
	require.NoError(t, err)
	assert.Equal(t, KindTaskBatch, kind)
	require.Len(t, tasks, 1)
	assert.Equal(t, "t1;RAW", tasks[0].ID)
	assert.Equal(t, []byte{0xAA}, tasks[0].Buffer)
}

func TestWorkerRegistrationRoundTrip(t *testing.T) {
	payload := EncodeWorkerRegistration("fft")
	wt, err := DecodeWorkerRegistration(payload)
	require.NoError(t, err)
	assert.Equal(t, "fft", wt)
}

func TestTaskLinkSendRecv(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	serverConnCh := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		require.NoError(t, err)
		serverConnCh <- conn
	}()

	link, err := DialTaskLink(ln.Addr().String(), testLogger())
	require.NoError(t, err)
	defer link.Close()

	serverConn := <-serverConnCh
	defer serverConn.Close()

	require.NoError(t, writeFrame(serverConn, EncodeHeartbeat()))

	select {
	case frame := <-link.Frames():
		kind, _, err := DecodeUplinkFrame(frame)
		require.NoError(t, err)
		assert.Equal(t, KindHeartbeat, kind)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}

	require.NoError(t, link.Send(EncodeCapacityRequest(3)))
	got, err := readFrame(serverConn)
	require.NoError(t, err)
	assert.Len(t, got, 4)
}

func TestWorkerLinkRoundTrip(t *testing.T) {
	wl, err := ListenWorkerLink("127.0.0.1:0", testLogger())
	require.NoError(t, err)
	defer wl.Close()

	conn, err := net.Dial("tcp", wl.Addr())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, writeFrame(conn, []byte("w-0")))
	require.NoError(t, writeFrame(conn, []byte(FrameRegister)))
	require.NoError(t, writeFrame(conn, EncodeWorkerRegistration("fft")))

	select {
	case msg := <-wl.Messages():
		assert.Equal(t, "w-0", msg.WorkerID)
		assert.Equal(t, FrameRegister, msg.Type)
		wt, err := DecodeWorkerRegistration(msg.Payload)
		require.NoError(t, err)
		assert.Equal(t, "fft", wt)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for worker message")
	}

	require.NoError(t, wl.Send("w-0", "t1;fft", []byte{0xAA}))
	id, err := readFrame(conn)
	require.NoError(t, err)
	assert.Equal(t, "w-0", string(id))
	taskID, err := readFrame(conn)
	require.NoError(t, err)
	assert.Equal(t, "t1;fft", string(taskID))
	buf, err := readFrame(conn)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA}, buf)
}

func TestResultLinkSendBatch(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	serverConnCh := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		require.NoError(t, err)
		serverConnCh <- conn
	}()

	link, err := DialResultLink(ln.Addr().String(), testLogger())
	require.NoError(t, err)
	defer link.Close()

	serverConn := <-serverConnCh
	defer serverConn.Close()

	require.NoError(t, link.SendBatch([][]byte{{0xBB}, {0xCC}}))

	var countBuf [4]byte
	_, err = io.ReadFull(serverConn, countBuf[:])
	require.NoError(t, err)

	f1, err := readFrame(serverConn)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xBB}, f1)
	f2, err := readFrame(serverConn)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xCC}, f2)
}
