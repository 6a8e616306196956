package downpour

import (
	"github.com/downpour-dl/downpour/internal/bitfield"
	"github.com/downpour-dl/downpour/internal/peer"
	"github.com/downpour-dl/downpour/internal/peerprotocol"
	"github.com/downpour-dl/downpour/internal/piecedownloader"
	"github.com/downpour-dl/downpour/internal/piecewriter"
)

func (t *Torrent) handlePeerMessage(pm peer.Message) {
	pe := pm.Peer
	if _, ok := t.peers[pe]; !ok {
		return
	}
	switch msg := pm.Message.(type) {
	case peerprotocol.BitfieldMessage:
		bf, err := bitfield.NewBytes(msg.Data, t.info.NumPieces)
		if err != nil {
			pe.Logger().Errorf("%s [len(bitfield)=%d] [numPieces=%d]", err, len(msg.Data), t.info.NumPieces)
			t.closePeer(pe)
			break
		}
		pe.Logger().Debugln("received bitfield:", bf.Hex())
		for i := uint32(0); i < bf.Len(); i++ {
			if bf.Test(i) {
				t.picker.HandleHave(pe, i)
			}
		}
		t.updateInterestedState(pe)
		t.startPieceDownloaderFor(pe)
	case peerprotocol.HaveMessage:
		if msg.Index >= t.info.NumPieces {
			pe.Logger().Errorln("unexpected piece index:", msg.Index)
			t.closePeer(pe)
			break
		}
		t.picker.HandleHave(pe, msg.Index)
		t.updateInterestedState(pe)
		t.startPieceDownloaderFor(pe)
	case peerprotocol.ChokeMessage:
		pe.PeerChoking = true
		if pd, ok := t.pieceDownloaders[pe]; ok {
			// Outstanding requests will never be answered. The piece
			// goes back to the picker so any peer can claim it.
			pd.Choked()
			t.abortPieceDownloader(pe)
			t.startPieceDownloaders()
		}
	case peerprotocol.UnchokeMessage:
		pe.PeerChoking = false
		t.startPieceDownloaderFor(pe)
	case peerprotocol.InterestedMessage:
		pe.PeerInterested = true
		// Download-only client: the peer stays choked, nothing to do.
	case peerprotocol.NotInterestedMessage:
		pe.PeerInterested = false
	case peerprotocol.RequestMessage:
		// We never unchoke anyone, so a request is a protocol slip of the
		// peer. Drop it silently; it may be a race with our choke state.
		pe.Logger().Debugf("ignoring request for piece #%d while peer is choked", msg.Index)
	case peerprotocol.CancelMessage:
		// Nothing queued for upload, nothing to cancel.
	default:
		pe.Logger().Debugf("unhandled message type: %T", msg)
	}
}

func (t *Torrent) handlePieceMessage(pm peer.PieceMessage) {
	pe := pm.Peer
	msg := pm.Piece
	if _, ok := t.peers[pe]; !ok {
		msg.Buffer.Release()
		return
	}
	length := int64(len(msg.Buffer.Data))
	if msg.Index >= t.info.NumPieces {
		pe.Logger().Errorln("invalid piece index:", msg.Index)
		t.bytesWasted.Add(length)
		msg.Buffer.Release()
		t.closePeer(pe)
		return
	}
	t.downloadSpeed.Mark(length)
	t.bytesDownloaded.Add(length)

	pd, ok := t.pieceDownloaders[pe]
	if !ok || pd.Piece.Index != msg.Index {
		// A block we no longer expect, probably a response that was on the
		// wire when we canceled. Not an offense.
		t.bytesWasted.Add(length)
		msg.Buffer.Release()
		return
	}
	if err := pd.GotBlock(msg.Begin, msg.Buffer.Data); err != nil {
		switch err {
		case piecedownloader.ErrBlockInvalid:
			pe.Logger().Debugf("invalid block: piece=%d begin=%d length=%d", msg.Index, msg.Begin, length)
			t.bytesWasted.Add(length)
		case piecedownloader.ErrBlockDuplicate:
			t.bytesWasted.Add(length)
		case piecedownloader.ErrBlockNotRequested:
			// Data is usable, just unexpected. Keep going.
		}
		msg.Buffer.Release()
		if err != piecedownloader.ErrBlockNotRequested {
			return
		}
	} else {
		msg.Buffer.Release()
	}

	if !pd.Done() {
		pd.RequestBlocks(t.config.Download.RequestQueueLength)
		return
	}

	// All blocks of the piece are in the buffer.
	pi := pd.Piece
	pe.StopSnubTimer()
	delete(t.pieceDownloaders, pe)
	t.picker.HandleCancelDownload(pe, pi.Index)

	// In endgame other peers may be downloading the same piece; their
	// requests are withdrawn and their downloads closed.
	for _, other := range append([]*peer.Peer(nil), t.picker.RequestedPeers(pi.Index)...) {
		if opd, ok := t.pieceDownloaders[other]; ok && opd.Piece.Index == pi.Index {
			opd.CancelPending()
			t.abortPieceDownloader(other)
		}
	}

	if pi.Writing {
		panic("piece is already being written")
	}
	pi.Writing = true
	t.numWriters++
	pw := piecewriter.New(pi, pe, pd.Buffer)
	go pw.Run(t.pieceWriterResultC, t.doneC, t.writesPerSecond, t.writeBytesPerSecond, t.writeSem)

	// Keep the pipe full while the piece is hashed and written, being
	// optimistic about the outcome.
	t.startPieceDownloaders()
}

func (t *Torrent) handlePieceWriteDone(pw *piecewriter.PieceWriter) {
	pi := pw.Piece
	pi.Writing = false
	pw.Buffer.Release()

	if !pw.HashOK {
		// The piece was assembled from blocks that may have come from
		// multiple peers, so no single peer can be blamed. Reset and
		// re-request.
		t.log.Warningln("received corrupt piece:", pi.Index)
		t.bytesWasted.Add(int64(pi.Length))
		t.startPieceDownloaders()
		return
	}
	if pw.Error != nil {
		t.writeRetries[pi.Index]++
		if t.writeRetries[pi.Index] > t.config.Download.WriteRetries {
			t.log.Errorln("cannot write piece data:", pw.Error)
			t.stopWithError(pw.Error)
			return
		}
		t.log.Warningf("cannot write piece #%d, will retry: %s", pi.Index, pw.Error)
		t.startPieceDownloaders()
		return
	}

	pi.Done = true
	t.bitfield.Set(pi.Index)
	t.bytesComplete.Add(int64(pi.Length))

	for pe := range t.peers {
		t.updateInterestedState(pe)
	}

	if t.bitfield.All() {
		t.log.Info("all pieces are downloaded and verified")
		t.completed = true
		close(t.completeC)
		// Tell the announcer so the completed event goes out before the
		// stopped event of the shutdown that follows.
		close(t.announcerCompletedC)
		return
	}
	t.startPieceDownloaders()
}

// stopWithError aborts the torrent from inside an event handler.
func (t *Torrent) stopWithError(err error) {
	select {
	case t.fatalErrC <- err:
	default:
	}
}

// updateInterestedState keeps our interest flag in sync with what the peer can
// still give us, and tells the peer about changes.
func (t *Torrent) updateInterestedState(pe *peer.Peer) {
	interested := false
	for i := uint32(0); i < t.info.NumPieces; i++ {
		if !t.bitfield.Test(i) && pe.Bitfield.Test(i) {
			interested = true
			break
		}
	}
	if pe.AmInterested == interested {
		return
	}
	pe.AmInterested = interested
	if interested {
		pe.SendMessage(peerprotocol.InterestedMessage{})
	} else {
		pe.SendMessage(peerprotocol.NotInterestedMessage{})
	}
}

// startPieceDownloaderFor starts a new piece download on the peer when it is
// allowed and there is a piece to pick.
func (t *Torrent) startPieceDownloaderFor(pe *peer.Peer) {
	if t.completed {
		return
	}
	if !pe.AmInterested || pe.PeerChoking {
		return
	}
	if _, ok := t.pieceDownloaders[pe]; ok {
		return
	}
	pi := t.picker.PickFor(pe)
	if pi == nil {
		return
	}
	pd := piecedownloader.New(pi, pe, t.piecePool.Get(int(pi.Length)))
	t.pieceDownloaders[pe] = pd
	pd.RequestBlocks(t.config.Download.RequestQueueLength)
	pe.StartSnubTimer()
}
