package peerprotocol

import (
	"encoding/binary"
	"io"
)

// Message is a peer message of the BitTorrent protocol.
// Read produces the payload bytes that follow the message id on the wire.
type Message interface {
	io.Reader
	ID() MessageID
}

// HaveMessage indicates a peer has the piece with index.
type HaveMessage struct {
	Index uint32
}

func (m HaveMessage) ID() MessageID { return Have }

func (m HaveMessage) Read(b []byte) (int, error) {
	binary.BigEndian.PutUint32(b[0:4], m.Index)
	return 4, io.EOF
}

// RequestMessage asks the peer for a block of a piece.
type RequestMessage struct {
	Index, Begin, Length uint32
}

func (m RequestMessage) ID() MessageID { return Request }

func (m RequestMessage) Read(b []byte) (int, error) {
	binary.BigEndian.PutUint32(b[0:4], m.Index)
	binary.BigEndian.PutUint32(b[4:8], m.Begin)
	binary.BigEndian.PutUint32(b[8:12], m.Length)
	return 12, io.EOF
}

// CancelMessage withdraws a previously sent request.
type CancelMessage struct{ RequestMessage }

func (m CancelMessage) ID() MessageID { return Cancel }

// PieceMessage is the header of a block of piece data sent by the peer.
type PieceMessage struct {
	Index, Begin uint32
}

func (m PieceMessage) ID() MessageID { return Piece }

func (m PieceMessage) Read(b []byte) (int, error) {
	binary.BigEndian.PutUint32(b[0:4], m.Index)
	binary.BigEndian.PutUint32(b[4:8], m.Begin)
	return 8, io.EOF
}

// BitfieldMessage carries the piece availability of a peer after the handshake.
type BitfieldMessage struct {
	Data []byte
	pos  int
}

func (m BitfieldMessage) ID() MessageID { return Bitfield }

func (m *BitfieldMessage) Read(b []byte) (n int, err error) {
	n = copy(b, m.Data[m.pos:])
	m.pos += n
	if m.pos == len(m.Data) {
		err = io.EOF
	}
	return
}

// PortMessage announces the UDP port of the DHT node run by the peer.
// It is parsed and ignored; this client runs no DHT node.
type PortMessage struct {
	Port uint16
}

func (m PortMessage) ID() MessageID { return Port }

func (m PortMessage) Read(b []byte) (int, error) {
	binary.BigEndian.PutUint16(b[0:2], m.Port)
	return 2, io.EOF
}

type emptyMessage struct{}

func (m emptyMessage) Read(b []byte) (int, error) {
	return 0, io.EOF
}

// ChokeMessage tells the peer to stop requesting pieces.
type ChokeMessage struct{ emptyMessage }

// UnchokeMessage tells the peer it may request pieces.
type UnchokeMessage struct{ emptyMessage }

// InterestedMessage tells the peer we want to request pieces when unchoked.
type InterestedMessage struct{ emptyMessage }

// NotInterestedMessage tells the peer we have nothing left to request from it.
type NotInterestedMessage struct{ emptyMessage }

func (m ChokeMessage) ID() MessageID         { return Choke }
func (m UnchokeMessage) ID() MessageID       { return Unchoke }
func (m InterestedMessage) ID() MessageID    { return Interested }
func (m NotInterestedMessage) ID() MessageID { return NotInterested }
