package btconn

import (
	"net"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	infoHash = [20]byte{1, 2, 3}
	ourID    = [20]byte{'o', 'u', 'r'}
	remoteID = [20]byte{'r', 'e', 'm'}
)

func listen(t *testing.T, handler func(net.Conn)) net.Addr {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		handler(conn)
	}()
	return l.Addr()
}

func TestDialHandshake(t *testing.T) {
	defer leaktest.Check(t)()

	addr := listen(t, func(conn net.Conn) {
		defer conn.Close()
		ih, err := readHandshake1(conn)
		if err != nil || ih != infoHash {
			return
		}
		if _, err = readHandshake2(conn); err != nil {
			return
		}
		_ = writeHandshake(conn, infoHash, remoteID)
		time.Sleep(100 * time.Millisecond)
	})

	stopC := make(chan struct{})
	conn, peerID, err := Dial(addr, time.Second, time.Second, infoHash, ourID, stopC)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, remoteID, peerID)
}

func TestDialWrongInfoHash(t *testing.T) {
	defer leaktest.Check(t)()

	addr := listen(t, func(conn net.Conn) {
		defer conn.Close()
		_, _ = readHandshake1(conn)
		_, _ = readHandshake2(conn)
		other := [20]byte{9, 9, 9}
		_ = writeHandshake(conn, other, remoteID)
		time.Sleep(100 * time.Millisecond)
	})

	stopC := make(chan struct{})
	_, _, err := Dial(addr, time.Second, time.Second, infoHash, ourID, stopC)
	assert.Equal(t, ErrInvalidInfoHash, err)
}

func TestDialOwnConnection(t *testing.T) {
	defer leaktest.Check(t)()

	addr := listen(t, func(conn net.Conn) {
		defer conn.Close()
		_, _ = readHandshake1(conn)
		_, _ = readHandshake2(conn)
		_ = writeHandshake(conn, infoHash, ourID)
		time.Sleep(100 * time.Millisecond)
	})

	stopC := make(chan struct{})
	_, _, err := Dial(addr, time.Second, time.Second, infoHash, ourID, stopC)
	assert.Equal(t, ErrOwnConnection, err)
}

func TestDialBadProtocolString(t *testing.T) {
	defer leaktest.Check(t)()

	addr := listen(t, func(conn net.Conn) {
		defer conn.Close()
		_, _ = conn.Write([]byte("not a bittorrent handshake, not at all, nope."))
		time.Sleep(100 * time.Millisecond)
	})

	stopC := make(chan struct{})
	_, _, err := Dial(addr, time.Second, time.Second, infoHash, ourID, stopC)
	assert.Equal(t, ErrInvalidProtocol, err)
}
