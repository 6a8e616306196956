package downpour

import (
	"encoding/hex"
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"github.com/juju/ratelimit"
	"github.com/rcrowley/go-metrics"

	"github.com/downpour-dl/downpour/internal/addrlist"
	"github.com/downpour-dl/downpour/internal/allocator"
	"github.com/downpour-dl/downpour/internal/bitfield"
	"github.com/downpour-dl/downpour/internal/bufferpool"
	"github.com/downpour-dl/downpour/internal/logger"
	"github.com/downpour-dl/downpour/internal/metainfo"
	"github.com/downpour-dl/downpour/internal/peer"
	"github.com/downpour-dl/downpour/internal/piece"
	"github.com/downpour-dl/downpour/internal/piecedownloader"
	"github.com/downpour-dl/downpour/internal/piecepicker"
	"github.com/downpour-dl/downpour/internal/piecewriter"
	"github.com/downpour-dl/downpour/internal/semaphore"
	"github.com/downpour-dl/downpour/internal/storage"
	"github.com/downpour-dl/downpour/internal/tracker"
	"github.com/downpour-dl/downpour/internal/tracker/httptracker"
)

var errClientClosed = errors.New("client is closed")

// Torrent downloads the files of one metainfo into a storage.
type Torrent struct {
	config   Config
	peerID   [20]byte
	metainfo *metainfo.MetaInfo
	info     *metainfo.Info
	storage  storage.Storage
	trackers []tracker.Tracker
	log      logger.Logger

	// Event loop state. Owned by run; nothing else touches these.
	alloc            *allocator.Allocation
	pieces           []piece.Piece
	bitfield         *bitfield.Bitfield
	picker           *piecepicker.PiecePicker
	addrList         *addrlist.AddrList
	peers            map[*peer.Peer]struct{}
	peerAddrs        map[string]struct{} // addresses being dialed or connected
	pieceDownloaders map[*peer.Peer]*piecedownloader.PieceDownloader
	writeRetries     map[uint32]int
	numDialing       int
	numWriters       int
	completed        bool

	piecePool *bufferpool.Pool
	writeSem  *semaphore.Semaphore

	downloadBucket *ratelimit.Bucket

	// Channels into the event loop.
	messages           chan peer.Message
	pieceMessages      chan peer.PieceMessage
	snubbedC           chan *peer.Peer
	disconnectedC      chan *peer.Peer
	dialResultC        chan *dialResult
	newPeersC          chan []*net.TCPAddr
	fatalErrC          chan error
	pieceWriterResultC chan *piecewriter.PieceWriter

	// Closed to tell the announcer that the download finished.
	announcerCompletedC chan struct{}
	announcerStopC      chan struct{}
	announcerDoneC      chan struct{}

	// Closed when the dialers should abort.
	dialStopC chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
	closeC    chan struct{}
	doneC     chan struct{}

	// Closed when all pieces are downloaded and verified.
	completeC chan struct{}
	// Receives the fatal error when the torrent aborts.
	errC chan error

	// Read by the announcer goroutine.
	bytesDownloaded atomic.Int64
	bytesComplete   atomic.Int64
	bytesWasted     atomic.Int64

	downloadSpeed       metrics.Meter
	writesPerSecond     metrics.Meter
	writeBytesPerSecond metrics.Meter

	progressMu sync.RWMutex
	progress   Progress
}

type dialResult struct {
	addr   *net.TCPAddr
	conn   net.Conn
	peerID [20]byte
	err    error
}

func newTorrent(mi *metainfo.MetaInfo, sto storage.Storage, peerID [20]byte, cfg Config) *Torrent {
	info := &mi.Info
	t := &Torrent{
		config:   cfg,
		peerID:   peerID,
		metainfo: mi,
		info:     info,
		storage:  sto,
		log:      logger.New("torrent " + hex.EncodeToString(info.Hash[:8])),

		addrList:         addrlist.New(cfg.Download.MaxCandidateAddrs, cfg.Download.DialCooldown),
		peers:            make(map[*peer.Peer]struct{}),
		peerAddrs:        make(map[string]struct{}),
		pieceDownloaders: make(map[*peer.Peer]*piecedownloader.PieceDownloader),
		writeRetries:     make(map[uint32]int),
		bitfield:         bitfield.New(info.NumPieces),

		piecePool: bufferpool.New(int(info.PieceLength)),
		writeSem:  semaphore.New(cfg.Download.ParallelPieceWrites),

		messages:           make(chan peer.Message),
		pieceMessages:      make(chan peer.PieceMessage),
		snubbedC:           make(chan *peer.Peer),
		disconnectedC:      make(chan *peer.Peer),
		dialResultC:        make(chan *dialResult),
		newPeersC:          make(chan []*net.TCPAddr),
		fatalErrC:          make(chan error, 1),
		pieceWriterResultC: make(chan *piecewriter.PieceWriter),

		announcerCompletedC: make(chan struct{}),
		announcerStopC:      make(chan struct{}),
		announcerDoneC:      make(chan struct{}),
		dialStopC:           make(chan struct{}),

		closeC:    make(chan struct{}),
		doneC:     make(chan struct{}),
		completeC: make(chan struct{}),
		errC:      make(chan error, 1),

		downloadSpeed:       metrics.NewMeter(),
		writesPerSecond:     metrics.NewMeter(),
		writeBytesPerSecond: metrics.NewMeter(),
	}
	if cfg.SpeedLimitDownload > 0 {
		t.downloadBucket = ratelimit.NewBucketWithRate(float64(cfg.SpeedLimitDownload), cfg.SpeedLimitDownload)
	}
	for _, u := range mi.Trackers() {
		t.trackers = append(t.trackers, httptracker.New(u, cfg.Tracker.HTTPTimeout))
	}
	t.progress = Progress{
		TotalPieces: info.NumPieces,
		BytesTotal:  info.TotalLength,
	}
	return t
}

// InfoHash of the torrent.
func (t *Torrent) InfoHash() [20]byte {
	return t.info.Hash
}

// Name of the torrent as given in the metainfo.
func (t *Torrent) Name() string {
	return t.info.Name
}

// Start the download. Subsequent calls do nothing.
func (t *Torrent) Start() {
	t.startOnce.Do(func() {
		go t.run()
	})
}

// Stop the download and wait until everything is shut down.
// Working files are left on disk; no incomplete file is given its final name.
func (t *Torrent) Stop() {
	t.Start() // run must be live so the shutdown path executes
	t.stopOnce.Do(func() {
		close(t.closeC)
	})
	<-t.doneC
}

// NotifyComplete returns a channel that is closed when every piece is
// downloaded, verified and written.
func (t *Torrent) NotifyComplete() <-chan struct{} {
	return t.completeC
}

// NotifyError returns a channel that receives the fatal error if the torrent aborts.
func (t *Torrent) NotifyError() <-chan error {
	return t.errC
}

// Progress is a point-in-time snapshot of the download.
type Progress struct {
	CompletePieces  uint32
	TotalPieces     uint32
	BytesComplete   int64
	BytesTotal      int64
	BytesDownloaded int64 // includes wasted and unverified bytes
	Peers           int
	Endgame         bool
	Completed       bool

	// Exponentially decayed 1-minute download rate in bytes per second.
	DownloadRate float64
}

// Progress returns the current snapshot. Safe to call from any goroutine.
func (t *Torrent) Progress() Progress {
	t.progressMu.RLock()
	defer t.progressMu.RUnlock()
	return t.progress
}

func (t *Torrent) updateProgress() {
	p := Progress{
		CompletePieces:  t.bitfield.Count(),
		TotalPieces:     t.info.NumPieces,
		BytesComplete:   t.bytesComplete.Load(),
		BytesTotal:      t.info.TotalLength,
		BytesDownloaded: t.bytesDownloaded.Load(),
		Peers:           len(t.peers),
		Endgame:         t.picker != nil && t.picker.InEndgame(),
		Completed:       t.completed,
		DownloadRate:    t.downloadSpeed.Rate1(),
	}
	t.progressMu.Lock()
	t.progress = p
	t.progressMu.Unlock()
}
