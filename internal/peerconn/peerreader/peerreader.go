// Package peerreader reads and parses the framed messages of a peer connection.
package peerreader

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/juju/ratelimit"

	"github.com/downpour-dl/downpour/internal/bufferpool"
	"github.com/downpour-dl/downpour/internal/logger"
	"github.com/downpour-dl/downpour/internal/peerprotocol"
	"github.com/downpour-dl/downpour/internal/piece"
)

const (
	// MaxFrameLength is the hard ceiling on the length prefix of a frame.
	// The longest legal frame is a piece message carrying one block.
	MaxFrameLength = 1 << 17

	// Peer must send something (at least keep-alives) within this duration.
	readTimeout = 2 * time.Minute

	// length + msgid + piece header
	readBufferSize = 4 + 1 + 8
)

var blockPool = bufferpool.New(piece.BlockSize)

var errStopped = errors.New("peer reader stopped")

// PeerReader runs the receive loop of one peer connection.
type PeerReader struct {
	conn         net.Conn
	r            io.Reader
	log          logger.Logger
	pieceTimeout time.Duration
	bucket       *ratelimit.Bucket
	messages     chan interface{}
	stopC        chan struct{}
	doneC        chan struct{}
}

// New returns a PeerReader wrapping conn. b may be nil for unlimited download speed.
func New(conn net.Conn, l logger.Logger, pieceTimeout time.Duration, b *ratelimit.Bucket) *PeerReader {
	return &PeerReader{
		conn:         conn,
		r:            bufio.NewReaderSize(conn, readBufferSize),
		log:          l,
		pieceTimeout: pieceTimeout,
		bucket:       b,
		messages:     make(chan interface{}),
		stopC:        make(chan struct{}),
		doneC:        make(chan struct{}),
	}
}

// Messages received from the peer are sent to the returned channel.
func (p *PeerReader) Messages() <-chan interface{} {
	return p.messages
}

// Stop the read loop.
func (p *PeerReader) Stop() {
	close(p.stopC)
}

// Done is closed when the read loop exits.
func (p *PeerReader) Done() chan struct{} {
	return p.doneC
}

// Run reads messages in a loop until an error or Stop.
// Frames that violate the protocol close the connection.
func (p *PeerReader) Run() {
	defer close(p.doneC)

	var err error
	defer func() {
		if err == nil || err == io.EOF || err == io.ErrUnexpectedEOF || err == errStopped {
			return
		}
		if _, ok := err.(*net.OpError); ok {
			return
		}
		select {
		case <-p.stopC: // don't log error if reader is stopped
		default:
			p.log.Error(err)
		}
	}()

	first := true
	for {
		err = p.conn.SetReadDeadline(time.Now().Add(readTimeout))
		if err != nil {
			return
		}

		var length uint32
		err = binary.Read(p.r, binary.BigEndian, &length)
		if err != nil {
			return
		}
		if length > MaxFrameLength {
			err = fmt.Errorf("received oversize frame: %d bytes", length)
			return
		}
		if length == 0 { // keep-alive
			continue
		}

		var id peerprotocol.MessageID
		err = binary.Read(p.r, binary.BigEndian, &id)
		if err != nil {
			return
		}
		length--

		var msg interface{}

		switch id {
		case peerprotocol.Choke:
			msg = peerprotocol.ChokeMessage{}
		case peerprotocol.Unchoke:
			msg = peerprotocol.UnchokeMessage{}
		case peerprotocol.Interested:
			msg = peerprotocol.InterestedMessage{}
		case peerprotocol.NotInterested:
			msg = peerprotocol.NotInterestedMessage{}
		case peerprotocol.Have:
			var hm peerprotocol.HaveMessage
			err = binary.Read(p.r, binary.BigEndian, &hm)
			if err != nil {
				return
			}
			msg = hm
		case peerprotocol.Bitfield:
			if !first {
				err = errors.New("bitfield must be the first message after handshake")
				return
			}
			var bm peerprotocol.BitfieldMessage
			bm.Data = make([]byte, length)
			_, err = io.ReadFull(p.r, bm.Data)
			if err != nil {
				return
			}
			msg = bm
		case peerprotocol.Request:
			var rm peerprotocol.RequestMessage
			err = binary.Read(p.r, binary.BigEndian, &rm)
			if err != nil {
				return
			}
			if rm.Length > piece.BlockSize {
				err = fmt.Errorf("received request with block size larger than allowed (%d > %d)", rm.Length, piece.BlockSize)
				return
			}
			msg = rm
		case peerprotocol.Cancel:
			var cm peerprotocol.CancelMessage
			err = binary.Read(p.r, binary.BigEndian, &cm)
			if err != nil {
				return
			}
			msg = cm
		case peerprotocol.Piece:
			var pm peerprotocol.PieceMessage
			err = binary.Read(p.r, binary.BigEndian, &pm)
			if err != nil {
				return
			}
			length -= 8
			if length > piece.BlockSize {
				err = fmt.Errorf("received block larger than allowed (%d > %d)", length, piece.BlockSize)
				return
			}
			var buf bufferpool.Buffer
			buf, err = p.readBlock(length)
			if err != nil {
				return
			}
			msg = Piece{PieceMessage: pm, Buffer: buf}
		case peerprotocol.Port:
			// DHT is not supported, parse and drop.
			var pm peerprotocol.PortMessage
			err = binary.Read(p.r, binary.BigEndian, &pm)
			if err != nil {
				return
			}
			continue
		default:
			p.log.Debugf("skipping unknown message id %d of length %d", id, length)
			_, err = io.CopyN(io.Discard, p.r, int64(length))
			if err != nil {
				return
			}
			continue
		}
		first = false
		select {
		case p.messages <- msg:
		case <-p.stopC:
			return
		}
	}
}

// readBlock reads block data of a piece message into a pooled buffer.
func (p *PeerReader) readBlock(length uint32) (buf bufferpool.Buffer, err error) {
	buf = blockPool.Get(int(length))
	defer func() {
		if err != nil {
			buf.Release()
		}
	}()

	if p.bucket != nil {
		d := p.bucket.Take(int64(length))
		select {
		case <-time.After(d):
		case <-p.stopC:
			err = errStopped
			return
		}
	}

	var m int
	for {
		err = p.conn.SetReadDeadline(time.Now().Add(p.pieceTimeout))
		if err != nil {
			return
		}
		var n int
		n, err = io.ReadFull(p.r, buf.Data[m:])
		if err != nil {
			if nerr, ok := err.(net.Error); ok && nerr.Timeout() && n > 0 {
				// Peer is slow but not dead, keep receiving the rest.
				m += n
				continue
			}
			return
		}
		return
	}
}
