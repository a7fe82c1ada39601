package resultpusher

import (
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxgrid/tmgr/internal/metrics"
	"github.com/fluxgrid/tmgr/internal/wire"
)

func TestPushPollPeriodFloor(t *testing.T) {
	assert.Equal(t, minPushPollPeriod, PushPollPeriod(1*time.Millisecond))
	assert.Equal(t, 50*time.Millisecond, PushPollPeriod(50*time.Millisecond))
}

func dialResultLinkPair(t *testing.T) (*wire.ResultLink, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	serverCh := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		require.NoError(t, err)
		serverCh <- conn
	}()

	link, err := wire.DialResultLink(ln.Addr().String(), zerolog.Nop())
	require.NoError(t, err)
	return link, <-serverCh
}

func TestPusherFlushesOnTimer(t *testing.T) {
	link, server := dialResultLinkPair(t)
	defer link.Close()
	defer server.Close()

	p := New(link, 10*time.Millisecond, metrics.New(), zerolog.Nop())
	go p.Run()
	defer p.Stop()

	p.Push([]byte{0xBB})

	done := make(chan struct{})
	go func() {
		var countBuf [4]byte
		_, _ = server.Read(countBuf[:])
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("result batch never flushed")
	}
}

func TestPusherFlushesOnBatchSize(t *testing.T) {
	link, server := dialResultLinkPair(t)
	defer link.Close()
	defer server.Close()

	p := New(link, time.Hour, metrics.New(), zerolog.Nop()) // timer effectively disabled
	p.maxBatch = 2
	go p.Run()
	defer p.Stop()

	p.Push([]byte{0x01})
	p.Push([]byte{0x02})

	done := make(chan struct{})
	go func() {
		var countBuf [4]byte
		_, _ = server.Read(countBuf[:])
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("result batch never flushed on size threshold")
	}
}

func TestPusherStopFlushesPending(t *testing.T) {
	link, server := dialResultLinkPair(t)
	defer link.Close()
	defer server.Close()

	p := New(link, time.Hour, metrics.New(), zerolog.Nop())
	go p.Run()

	p.Push([]byte{0xAA})
	p.Stop()

	var countBuf [4]byte
	_ = server.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := server.Read(countBuf[:])
	require.NoError(t, err)
}
