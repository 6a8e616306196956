// Package peer wraps a peer connection with the per-peer protocol state.
package peer

import (
	"time"

	"github.com/downpour-dl/downpour/internal/bitfield"
	"github.com/downpour-dl/downpour/internal/peerconn"
	"github.com/downpour-dl/downpour/internal/peerconn/peerreader"
	"github.com/downpour-dl/downpour/internal/peerprotocol"
)

// Peer is a connected peer of the torrent.
//
// The flag fields and Bitfield belong to the torrent event loop; only that
// goroutine reads or writes them.
type Peer struct {
	*peerconn.Conn

	// ID is the peer id received in the handshake.
	ID [20]byte

	// Pieces the remote side claims to have.
	Bitfield *bitfield.Bitfield

	// We are always choking the peer. The field exists to make the state
	// explicit; a download-only client never unchokes anyone.
	AmChoking bool

	AmInterested   bool
	PeerChoking    bool
	PeerInterested bool

	snubTimeout time.Duration
	snubTimer   *time.Timer

	stopC chan struct{}
	doneC chan struct{}
}

// Message is a protocol message received from a peer.
type Message struct {
	*Peer
	Message interface{}
}

// PieceMessage is a block of piece data received from a peer.
type PieceMessage struct {
	*Peer
	Piece peerreader.Piece
}

// New returns a new Peer around a completed connection.
func New(conn *peerconn.Conn, id [20]byte, numPieces uint32, snubTimeout time.Duration) *Peer {
	t := time.NewTimer(time.Hour)
	t.Stop()
	return &Peer{
		Conn:        conn,
		ID:          id,
		Bitfield:    bitfield.New(numPieces),
		AmChoking:   true,
		PeerChoking: true,
		snubTimeout: snubTimeout,
		snubTimer:   t,
		stopC:       make(chan struct{}),
		doneC:       make(chan struct{}),
	}
}

// Close stops the peer and closes the underlying connection.
func (p *Peer) Close() {
	close(p.stopC)
	p.Conn.Close()
	<-p.doneC
}

// Run reads messages from the connection and forwards them to the torrent
// event loop. When the connection dies the peer announces itself on
// disconnectedC; the event loop must keep draining that channel.
func (p *Peer) Run(messages chan Message, pieces chan PieceMessage, snubbedC chan *Peer, disconnectedC chan *Peer) {
	defer close(p.doneC)

	go p.Conn.Run()
	defer func() {
		p.snubTimer.Stop()
		select {
		case disconnectedC <- p:
		case <-p.stopC:
			// Close is waiting on doneC; the loop learns about the
			// disconnect from its own close bookkeeping.
			select {
			case disconnectedC <- p:
			default:
			}
		}
	}()

	for {
		select {
		case msg, ok := <-p.Conn.Messages():
			if !ok {
				return
			}
			if pm, isPiece := msg.(peerreader.Piece); isPiece {
				p.snubTimer.Reset(p.snubTimeout)
				select {
				case pieces <- PieceMessage{Peer: p, Piece: pm}:
				case <-p.stopC:
					pm.Buffer.Release()
					return
				}
			} else {
				select {
				case messages <- Message{Peer: p, Message: msg}:
				case <-p.stopC:
					return
				}
			}
		case <-p.snubTimer.C:
			select {
			case snubbedC <- p:
			case <-p.stopC:
				return
			}
		case <-p.stopC:
			return
		}
	}
}

// StartSnubTimer arms the block request deadline.
// If no block arrives before it fires, the peer is reported as snubbed.
func (p *Peer) StartSnubTimer() {
	p.snubTimer.Reset(p.snubTimeout)
}

// StopSnubTimer disarms the block request deadline.
func (p *Peer) StopSnubTimer() {
	p.snubTimer.Stop()
}

// RequestBlock sends a request message for one block.
func (p *Peer) RequestBlock(index, begin, length uint32) {
	p.SendMessage(peerprotocol.RequestMessage{Index: index, Begin: begin, Length: length})
}

// CancelBlock withdraws a request. An unsent request is dropped from the send
// queue, and a cancel message is sent in either case.
func (p *Peer) CancelBlock(index, begin, length uint32) {
	rm := peerprotocol.RequestMessage{Index: index, Begin: begin, Length: length}
	p.Conn.CancelRequest(rm)
	p.SendMessage(peerprotocol.CancelMessage{RequestMessage: rm})
}
