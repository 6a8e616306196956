package peerreader

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/downpour-dl/downpour/internal/logger"
	"github.com/downpour-dl/downpour/internal/peerprotocol"
)

func newPair(t *testing.T) (remote net.Conn, pr *PeerReader) {
	c1, c2 := net.Pipe()
	t.Cleanup(func() {
		c1.Close()
		c2.Close()
	})
	pr = New(c2, logger.New("test peer"), 5*time.Second, nil)
	return c1, pr
}

func frame(id peerprotocol.MessageID, payload []byte) []byte {
	buf := make([]byte, 4+1+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(1+len(payload)))
	buf[4] = byte(id)
	copy(buf[5:], payload)
	return buf
}

func TestKeepAliveAndUnknownSkipped(t *testing.T) {
	defer leaktest.Check(t)()
	remote, pr := newPair(t)
	go pr.Run()
	defer func() {
		pr.Stop()
		remote.Close() // unblock the read loop
		<-pr.Done()
	}()

	go func() {
		_, _ = remote.Write([]byte{0, 0, 0, 0}) // keep-alive
		// Unknown id, must be skipped using the length prefix.
		_, _ = remote.Write(frame(peerprotocol.MessageID(20), []byte{1, 2, 3}))
		_, _ = remote.Write(frame(peerprotocol.Unchoke, nil))
	}()

	select {
	case msg := <-pr.Messages():
		assert.IsType(t, peerprotocol.UnchokeMessage{}, msg)
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

func TestBitfieldFirstAllowed(t *testing.T) {
	defer leaktest.Check(t)()
	remote, pr := newPair(t)
	go pr.Run()
	defer func() {
		pr.Stop()
		remote.Close() // unblock the read loop
		<-pr.Done()
	}()

	go func() {
		_, _ = remote.Write(frame(peerprotocol.Bitfield, []byte{0xe0}))
	}()

	select {
	case msg := <-pr.Messages():
		bm, ok := msg.(peerprotocol.BitfieldMessage)
		require.True(t, ok)
		assert.Equal(t, []byte{0xe0}, bm.Data)
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

func TestLateBitfieldFatal(t *testing.T) {
	defer leaktest.Check(t)()
	remote, pr := newPair(t)
	go pr.Run()

	go func() {
		_, _ = remote.Write(frame(peerprotocol.Unchoke, nil))
		_, _ = remote.Write(frame(peerprotocol.Bitfield, []byte{0xe0}))
	}()

	<-pr.Messages() // unchoke
	select {
	case <-pr.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("reader did not terminate on late bitfield")
	}
}

func TestOversizeFrameFatal(t *testing.T) {
	defer leaktest.Check(t)()
	remote, pr := newPair(t)
	go pr.Run()

	go func() {
		var buf [4]byte
		binary.BigEndian.PutUint32(buf[:], MaxFrameLength+1)
		_, _ = remote.Write(buf[:])
	}()

	select {
	case <-pr.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("reader did not terminate on oversize frame")
	}
}

func TestPieceMessage(t *testing.T) {
	defer leaktest.Check(t)()
	remote, pr := newPair(t)
	go pr.Run()
	defer func() {
		pr.Stop()
		remote.Close() // unblock the read loop
		<-pr.Done()
	}()

	payload := make([]byte, 8+3)
	binary.BigEndian.PutUint32(payload[0:4], 1) // index
	binary.BigEndian.PutUint32(payload[4:8], 0) // begin
	copy(payload[8:], "abc")
	go func() {
		_, _ = remote.Write(frame(peerprotocol.Piece, payload))
	}()

	select {
	case msg := <-pr.Messages():
		pm, ok := msg.(Piece)
		require.True(t, ok)
		assert.Equal(t, uint32(1), pm.Index)
		assert.Equal(t, uint32(0), pm.Begin)
		assert.Equal(t, []byte("abc"), pm.Buffer.Data)
		pm.Buffer.Release()
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}
