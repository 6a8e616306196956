package peerwriter

import (
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/downpour-dl/downpour/internal/logger"
	"github.com/downpour-dl/downpour/internal/peerprotocol"
)

func newPair(t *testing.T, keepAlive time.Duration) (remote net.Conn, pw *PeerWriter) {
	c1, c2 := net.Pipe()
	t.Cleanup(func() {
		c1.Close()
		c2.Close()
	})
	pw = New(c2, logger.New("test writer"), keepAlive)
	return c1, pw
}

func readFrame(t *testing.T, conn net.Conn) (id byte, payload []byte) {
	var length uint32
	require.NoError(t, binary.Read(conn, binary.BigEndian, &length))
	if length == 0 {
		return 0, nil // keep-alive
	}
	buf := make([]byte, length)
	_, err := io.ReadFull(conn, buf)
	require.NoError(t, err)
	return buf[0], buf[1:]
}

func TestSendMessage(t *testing.T) {
	defer leaktest.Check(t)()
	remote, pw := newPair(t, time.Minute)
	go pw.Run()
	defer func() {
		pw.Stop()
		remote.Close() // unblock a write that is waiting for a reader
		<-pw.Done()
	}()

	pw.SendMessage(peerprotocol.RequestMessage{Index: 1, Begin: 2, Length: 3})

	id, payload := readFrame(t, remote)
	assert.Equal(t, byte(peerprotocol.Request), id)
	require.Len(t, payload, 12)
	assert.Equal(t, uint32(1), binary.BigEndian.Uint32(payload[0:4]))
	assert.Equal(t, uint32(2), binary.BigEndian.Uint32(payload[4:8]))
	assert.Equal(t, uint32(3), binary.BigEndian.Uint32(payload[8:12]))
}

func TestCancelQueuedRequest(t *testing.T) {
	defer leaktest.Check(t)()
	remote, pw := newPair(t, 200*time.Millisecond)
	go pw.Run()
	defer func() {
		pw.Stop()
		remote.Close() // unblock a write that is waiting for a reader
		<-pw.Done()
	}()

	// The first message blocks in the pipe until the remote side reads, so
	// the second one is still in the queue when the cancel arrives.
	first := peerprotocol.RequestMessage{Index: 1}
	second := peerprotocol.RequestMessage{Index: 2}
	pw.SendMessage(first)
	pw.SendMessage(second)
	pw.CancelRequest(second)
	time.Sleep(50 * time.Millisecond)

	id, payload := readFrame(t, remote)
	assert.Equal(t, byte(peerprotocol.Request), id)
	assert.Equal(t, uint32(1), binary.BigEndian.Uint32(payload[0:4]))

	// The canceled request never hits the wire; the next frame is the
	// keep-alive from the idle timer.
	id, payload = readFrame(t, remote)
	assert.Equal(t, byte(0), id)
	assert.Nil(t, payload)
}

func TestKeepAlive(t *testing.T) {
	defer leaktest.Check(t)()
	remote, pw := newPair(t, 50*time.Millisecond)
	go pw.Run()
	defer func() {
		pw.Stop()
		remote.Close() // unblock a write that is waiting for a reader
		<-pw.Done()
	}()

	var length uint32
	require.NoError(t, binary.Read(remote, binary.BigEndian, &length))
	assert.Equal(t, uint32(0), length)
}
