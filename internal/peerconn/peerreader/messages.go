package peerreader

import (
	"github.com/downpour-dl/downpour/internal/bufferpool"
	"github.com/downpour-dl/downpour/internal/peerprotocol"
)

// Piece message as read from a peer.
// Block data is held in a pooled buffer; the consumer must call Buffer.Release.
type Piece struct {
	peerprotocol.PieceMessage
	Buffer bufferpool.Buffer
}
