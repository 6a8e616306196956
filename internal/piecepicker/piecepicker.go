// Package piecepicker selects the next piece to download from a peer.
package piecepicker

import (
	"github.com/downpour-dl/downpour/internal/peer"
	"github.com/downpour-dl/downpour/internal/peerset"
	"github.com/downpour-dl/downpour/internal/piece"
)

// PiecePicker decides which piece a peer should download next and tracks which
// peers have and are downloading each piece.
//
// Pieces are picked in index order. A piece being downloaded by one peer is
// handed to another only when none of the missing pieces that peer has is
// free; the picker then enters endgame mode and allows duplicate downloads,
// bounded by maxDuplicateDownloads per piece. Endgame mode is not left again.
//
// Swapping in another strategy (rarest first) only means changing the
// iteration order in PickFor; no caller observes the order.
type PiecePicker struct {
	pieces                []myPiece
	maxDuplicateDownloads int
	endgame               bool
}

type myPiece struct {
	*piece.Piece
	Having    peerset.PeerSet
	Requested peerset.PeerSet
}

// New returns a new PiecePicker for the pieces.
func New(pieces []piece.Piece, maxDuplicateDownloads int) *PiecePicker {
	ps := make([]myPiece, len(pieces))
	for i := range pieces {
		ps[i] = myPiece{Piece: &pieces[i]}
	}
	return &PiecePicker{
		pieces:                ps,
		maxDuplicateDownloads: maxDuplicateDownloads,
	}
}

// InEndgame returns true when duplicate downloads are allowed.
func (p *PiecePicker) InEndgame() bool {
	return p.endgame
}

// RequestedPeers returns the peers the piece is currently requested from.
func (p *PiecePicker) RequestedPeers(i uint32) []*peer.Peer {
	return p.pieces[i].Requested.Peers
}

// HandleHave records that the peer has the piece.
func (p *PiecePicker) HandleHave(pe *peer.Peer, i uint32) {
	pe.Bitfield.Set(i)
	p.pieces[i].Having.Add(pe)
}

// HandleCancelDownload records that the peer stopped downloading the piece.
func (p *PiecePicker) HandleCancelDownload(pe *peer.Peer, i uint32) {
	p.pieces[i].Requested.Remove(pe)
}

// HandleDisconnect removes the peer from all indexes.
func (p *PiecePicker) HandleDisconnect(pe *peer.Peer) {
	for i := range p.pieces {
		p.pieces[i].Having.Remove(pe)
		p.pieces[i].Requested.Remove(pe)
	}
}

// PickFor returns the next piece to download from the peer, marking it as
// requested by that peer. Returns nil when the peer has nothing useful.
func (p *PiecePicker) PickFor(pe *peer.Peer) *piece.Piece {
	pi := p.pickMissing(pe)
	if pi == nil {
		pi = p.pickEndgame(pe)
	}
	if pi == nil {
		return nil
	}
	p.pieces[pi.Index].Requested.Add(pe)
	return pi
}

// pickMissing returns the first piece the peer has that nobody is downloading.
func (p *PiecePicker) pickMissing(pe *peer.Peer) *piece.Piece {
	for i := range p.pieces {
		mp := &p.pieces[i]
		if mp.Done || mp.Writing {
			continue
		}
		if mp.Requested.Len() > 0 {
			continue
		}
		if !mp.Having.Has(pe) {
			continue
		}
		return mp.Piece
	}
	return nil
}

// pickEndgame hands out a piece that is already being downloaded by another
// peer. Entered only when the peer would otherwise sit idle while pieces are
// still missing; the first finished download wins and the rest are canceled.
func (p *PiecePicker) pickEndgame(pe *peer.Peer) *piece.Piece {
	for i := range p.pieces {
		mp := &p.pieces[i]
		if mp.Done || mp.Writing {
			continue
		}
		if mp.Requested.Has(pe) {
			continue
		}
		if mp.Requested.Len() >= p.maxDuplicateDownloads {
			continue
		}
		if !mp.Having.Has(pe) {
			continue
		}
		p.endgame = true
		return mp.Piece
	}
	return nil
}
