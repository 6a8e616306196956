package downpour

import (
	"net"

	"github.com/downpour-dl/downpour/internal/allocator"
	"github.com/downpour-dl/downpour/internal/announcer"
	"github.com/downpour-dl/downpour/internal/btconn"
	"github.com/downpour-dl/downpour/internal/logger"
	"github.com/downpour-dl/downpour/internal/peer"
	"github.com/downpour-dl/downpour/internal/peerconn"
	"github.com/downpour-dl/downpour/internal/piece"
	"github.com/downpour-dl/downpour/internal/piecepicker"
)

// Torrent event loop. All mutable torrent state is owned by this goroutine;
// peers, dialers, the announcer and piece writers talk to it over channels.
func (t *Torrent) run() {
	defer close(t.doneC)

	select {
	case <-t.closeC:
		// Stopped before started; nothing was created yet.
		t.stopMeters()
		return
	default:
	}

	if err := t.initialize(); err != nil {
		t.log.Errorln("cannot initialize torrent:", err)
		t.sendError(err)
		t.stopMeters()
		return
	}

	ann := t.newAnnouncer()
	go func() {
		defer close(t.announcerDoneC)
		ann.Run(t.announcerStopC)
	}()

	var stopping bool
	var stopErr error
	stop := func(err error) {
		if !stopping {
			stopping = true
			stopErr = err
		}
	}

	for {
		select {
		case <-t.closeC:
			stop(nil)
		case addrs := <-t.newPeersC:
			t.log.Debugf("received %d peer addresses from tracker", len(addrs))
			t.addrList.Push(addrs, t.config.Port)
			t.dialAddresses()
		case err := <-t.fatalErrC:
			// Tracker rejection or a persistent disk failure.
			// Retrying cannot help; the torrent aborts.
			stop(err)
		case res := <-t.dialResultC:
			t.numDialing--
			t.handleDialResult(res)
		case pm := <-t.messages:
			t.handlePeerMessage(pm)
		case pm := <-t.pieceMessages:
			t.handlePieceMessage(pm)
		case pe := <-t.snubbedC:
			t.handleSnubbed(pe)
		case pe := <-t.disconnectedC:
			t.handleDisconnect(pe)
		case pw := <-t.pieceWriterResultC:
			t.numWriters--
			t.handlePieceWriteDone(pw)
		}
		if stopping || t.completed {
			t.shutdown(stopErr)
			return
		}
		t.updateProgress()
	}
}

// initialize allocates the files on disk and builds the piece table.
func (t *Torrent) initialize() error {
	alloc, err := allocator.Allocate(t.info, t.storage)
	if err != nil {
		return err
	}
	t.alloc = alloc
	if alloc.HasExisting {
		t.log.Notice("found existing working files, contents will be downloaded again")
	}
	t.pieces = piece.NewPieces(t.info, alloc.Sections())
	t.picker = piecepicker.New(t.pieces, t.config.Download.EndgameParallelDownloadsPerPiece)
	return nil
}

func (t *Torrent) newAnnouncer() *announcer.Announcer {
	cfg := announcer.Config{
		InfoHash:               t.info.Hash,
		PeerID:                 t.peerID,
		Port:                   t.config.Port,
		NumWant:                t.config.Tracker.NumWant,
		MinInterval:            t.config.Tracker.MinAnnounceInterval,
		MaxInterval:            t.config.Tracker.MaxAnnounceInterval,
		BackoffInitialInterval: t.config.Tracker.BackoffInitialInterval,
		StoppedEventTimeout:    t.config.Tracker.StoppedEventTimeout,
	}
	getStats := func() announcer.Stats {
		complete := t.bytesComplete.Load()
		return announcer.Stats{
			Downloaded: complete,
			Left:       t.info.TotalLength - complete,
		}
	}
	return announcer.New(t.trackers, cfg, getStats, t.newPeersC, t.fatalErrC, t.announcerCompletedC, t.log)
}

// dialAddresses fills free peer slots with new outgoing connections.
func (t *Torrent) dialAddresses() {
	for len(t.peers)+t.numDialing < t.config.Download.MaxPeerDial {
		addr := t.addrList.Pop()
		if addr == nil {
			break
		}
		// The tracker re-offers addresses we are already connected to.
		if _, ok := t.peerAddrs[addr.String()]; ok {
			continue
		}
		t.peerAddrs[addr.String()] = struct{}{}
		t.numDialing++
		go func(addr *net.TCPAddr) {
			conn, peerID, err := btconn.Dial(
				addr,
				t.config.Peer.ConnectTimeout, t.config.Peer.HandshakeTimeout,
				t.info.Hash, t.peerID,
				t.dialStopC)
			select {
			case t.dialResultC <- &dialResult{addr: addr, conn: conn, peerID: peerID, err: err}:
			case <-t.dialStopC:
				if conn != nil {
					conn.Close()
				}
			}
		}(addr)
	}
}

func (t *Torrent) handleDialResult(res *dialResult) {
	if res.err != nil {
		// Dial failures are routine; the address goes on cool-down.
		t.log.Debugf("cannot connect to %s: %s", res.addr.String(), res.err)
		delete(t.peerAddrs, res.addr.String())
		t.addrList.MarkFailed(res.addr)
		t.dialAddresses()
		return
	}
	if len(t.peers) >= t.config.Download.MaxPeerDial {
		delete(t.peerAddrs, res.addr.String())
		res.conn.Close()
		return
	}
	t.startPeer(res.conn, res.peerID)
}

func (t *Torrent) startPeer(conn net.Conn, peerID [20]byte) {
	c := peerconn.New(
		conn,
		logger.New("peer -> "+conn.RemoteAddr().String()),
		t.config.Peer.PieceReadTimeout, t.config.Peer.KeepAlivePeriod,
		t.downloadBucket)
	pe := peer.New(c, peerID, t.info.NumPieces, t.config.Download.RequestTimeout)
	t.peers[pe] = struct{}{}
	go pe.Run(t.messages, t.pieceMessages, t.snubbedC, t.disconnectedC)
}

// closePeer disconnects the peer and returns its piece to the picker.
func (t *Torrent) closePeer(pe *peer.Peer) {
	t.abortPieceDownloader(pe)
	t.picker.HandleDisconnect(pe)
	delete(t.peers, pe)
	delete(t.peerAddrs, pe.String())
	pe.Close()
	t.dialAddresses()
}

// abortPieceDownloader takes the peer's running piece download apart and
// makes the piece requestable again.
func (t *Torrent) abortPieceDownloader(pe *peer.Peer) {
	pd, ok := t.pieceDownloaders[pe]
	if !ok {
		return
	}
	delete(t.pieceDownloaders, pe)
	pe.StopSnubTimer()
	t.picker.HandleCancelDownload(pe, pd.Piece.Index)
	pd.Buffer.Release()
}

func (t *Torrent) handleDisconnect(pe *peer.Peer) {
	if _, ok := t.peers[pe]; !ok {
		return
	}
	reclaimed := t.pieceDownloaders[pe] != nil
	t.closePeer(pe)
	if reclaimed {
		// The piece the dead peer was downloading is free again.
		t.startPieceDownloaders()
	}
}

// handleSnubbed fires when a peer sat on our requests past the deadline.
// Its blocks go back to the picker so another peer can fetch them; the
// connection stays open.
func (t *Torrent) handleSnubbed(pe *peer.Peer) {
	if _, ok := t.peers[pe]; !ok {
		return
	}
	pd, ok := t.pieceDownloaders[pe]
	if !ok {
		return
	}
	t.log.Debugf("peer %s did not answer requests for piece #%d in time", pe.String(), pd.Piece.Index)
	t.abortPieceDownloader(pe)
	t.startPieceDownloaders()
}

// startPieceDownloaders gives every idle peer a piece to download.
func (t *Torrent) startPieceDownloaders() {
	for pe := range t.peers {
		t.startPieceDownloaderFor(pe)
	}
}

// shutdown tears down everything the loop owns.
// On a completed download the working files are committed to their final names.
func (t *Torrent) shutdown(err error) {
	// Dialers first so no new peer shows up while we close the rest.
	close(t.dialStopC)

	// The announcer sends the completed and stopped events on its way out.
	close(t.announcerStopC)
	for {
		select {
		case <-t.announcerDoneC:
		case <-t.newPeersC:
			continue
		case <-t.fatalErrC:
			continue
		}
		break
	}

	for pe := range t.peers {
		t.abortPieceDownloader(pe)
		delete(t.peers, pe)
		pe.Close()
	}

	for t.numDialing > 0 {
		res := <-t.dialResultC
		t.numDialing--
		if res.conn != nil {
			res.conn.Close()
		}
	}

	for t.numWriters > 0 {
		pw := <-t.pieceWriterResultC
		t.numWriters--
		pw.Buffer.Release()
	}

	if t.alloc != nil {
		t.alloc.Close()
	}
	if t.completed && err == nil {
		if ferr := t.storage.Finalize(); ferr != nil {
			err = ferr
			t.completed = false
		}
	}
	if err != nil {
		t.sendError(err)
	}
	t.stopMeters()
	t.updateProgress()
	if t.completed {
		t.log.Info("download completed")
	} else {
		t.log.Info("torrent has stopped")
	}
}

func (t *Torrent) sendError(err error) {
	select {
	case t.errC <- err:
	default:
	}
}

func (t *Torrent) stopMeters() {
	t.downloadSpeed.Stop()
	t.writesPerSecond.Stop()
	t.writeBytesPerSecond.Stop()
}
