// Package piecedownloader tracks the blocks of one piece being fetched from one peer.
package piecedownloader

import (
	"errors"

	"github.com/downpour-dl/downpour/internal/bufferpool"
	"github.com/downpour-dl/downpour/internal/piece"
)

var (
	// ErrBlockDuplicate is returned from GotBlock when the block is already received.
	ErrBlockDuplicate = errors.New("received duplicate block")
	// ErrBlockNotRequested is returned from GotBlock when the block was never requested.
	ErrBlockNotRequested = errors.New("received block that is not requested")
	// ErrBlockInvalid is returned from GotBlock when the block does not exist in the piece.
	ErrBlockInvalid = errors.New("received invalid block")
)

// PieceDownloader downloads all blocks of a piece from a single peer.
// Requests are pipelined: up to the queue length given to RequestBlocks may be
// outstanding at once.
type PieceDownloader struct {
	Piece  *piece.Piece
	Peer   Peer
	Buffer bufferpool.Buffer

	blocks    map[uint32]uint32   // begin -> length
	remaining []uint32            // blocks to be requested, in offset order
	pending   map[uint32]struct{} // requested, not received
	done      map[uint32]struct{} // received
}

// Peer is the sending half of the peer this downloader requests from.
type Peer interface {
	RequestBlock(index, begin, length uint32)
	CancelBlock(index, begin, length uint32)
}

// New returns a new PieceDownloader. buf must be at least the piece length.
func New(pi *piece.Piece, pe Peer, buf bufferpool.Buffer) *PieceDownloader {
	blocks := pi.CalculateBlocks()
	bm := make(map[uint32]uint32, len(blocks))
	remaining := make([]uint32, len(blocks))
	for i, blk := range blocks {
		bm[blk.Begin] = blk.Length
		remaining[i] = blk.Begin
	}
	return &PieceDownloader{
		Piece:     pi,
		Peer:      pe,
		Buffer:    buf,
		blocks:    bm,
		remaining: remaining,
		pending:   make(map[uint32]struct{}, len(blocks)),
		done:      make(map[uint32]struct{}, len(blocks)),
	}
}

// Choked must be called when the peer chokes us.
// Pending requests will not be answered; put them back on the request list.
func (d *PieceDownloader) Choked() {
	for i := range d.pending {
		delete(d.pending, i)
		d.remaining = append(d.remaining, i)
	}
}

// GotBlock records a block received from the peer.
// The data is saved even for unrequested blocks; the error tells the caller
// about the anomaly.
func (d *PieceDownloader) GotBlock(begin uint32, data []byte) error {
	if length, ok := d.blocks[begin]; !ok || length != uint32(len(data)) {
		return ErrBlockInvalid
	}
	if _, ok := d.done[begin]; ok {
		return ErrBlockDuplicate
	}
	copy(d.Buffer.Data[begin:begin+uint32(len(data))], data)
	d.done[begin] = struct{}{}
	if _, ok := d.pending[begin]; !ok {
		return ErrBlockNotRequested
	}
	delete(d.pending, begin)
	return nil
}

// RequestBlocks requests remaining blocks until queueLength requests are in flight.
func (d *PieceDownloader) RequestBlocks(queueLength int) {
	for len(d.remaining) > 0 && len(d.pending) < queueLength {
		begin := d.remaining[0]
		d.remaining = d.remaining[1:]
		if _, ok := d.done[begin]; ok {
			continue
		}
		d.Peer.RequestBlock(d.Piece.Index, begin, d.blocks[begin])
		d.pending[begin] = struct{}{}
	}
}

// CancelPending sends cancel messages for all in-flight requests.
// Called when the remaining blocks have been downloaded from another peer.
func (d *PieceDownloader) CancelPending() {
	for begin := range d.pending {
		d.Peer.CancelBlock(d.Piece.Index, begin, d.blocks[begin])
	}
}

// Outstanding returns the number of in-flight requests.
func (d *PieceDownloader) Outstanding() int {
	return len(d.pending)
}

// Done returns true when every block of the piece has been received.
func (d *PieceDownloader) Done() bool {
	return len(d.done) == len(d.blocks)
}
