// Package piecewriter verifies downloaded pieces and writes them to disk.
package piecewriter

import (
	"github.com/rcrowley/go-metrics"

	"github.com/downpour-dl/downpour/internal/bufferpool"
	"github.com/downpour-dl/downpour/internal/peer"
	"github.com/downpour-dl/downpour/internal/piece"
	"github.com/downpour-dl/downpour/internal/semaphore"
)

// PieceWriter hash-checks the piece data in the buffer and writes it to disk.
// One PieceWriter runs per completed piece download.
type PieceWriter struct {
	Piece  *piece.Piece
	Source *peer.Peer
	Buffer bufferpool.Buffer

	HashOK bool
	Error  error
}

// New returns a PieceWriter for a downloaded piece.
func New(p *piece.Piece, source *peer.Peer, buf bufferpool.Buffer) *PieceWriter {
	return &PieceWriter{
		Piece:  p,
		Source: source,
		Buffer: buf,
	}
}

// Run verifies the hash, then writes the buffer to disk and reports itself on
// resultC. Writes are serialized with sem so two pieces never touch the same
// file concurrently. Corrupt pieces are reported without being written.
func (w *PieceWriter) Run(resultC chan *PieceWriter, closeC chan struct{}, writesPerSecond, writeBytesPerSecond metrics.Meter, sem *semaphore.Semaphore) {
	w.HashOK = w.Piece.VerifyHash(w.Buffer.Data, piece.NewHash())
	if w.HashOK {
		writesPerSecond.Mark(1)
		writeBytesPerSecond.Mark(int64(len(w.Buffer.Data)))
		sem.Wait()
		_, w.Error = w.Piece.Data.Write(w.Buffer.Data)
		sem.Signal()
	}
	select {
	case resultC <- w:
	case <-closeC:
		w.Buffer.Release()
	}
}
