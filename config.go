package downpour

import "time"

// Config holds every tunable of the client. Use DefaultConfig as a base.
type Config struct {
	// Port advertised to trackers. No listener is bound to it; incoming
	// connections are not accepted.
	Port int

	// Download speed limit in bytes per second. Zero means unlimited.
	SpeedLimitDownload int64

	Download struct {
		// Max number of blocks requested from a peer but not received yet.
		RequestQueueLength int
		// Time to wait for a requested block before the peer is counted
		// as snubbed and its piece is offered to other peers.
		RequestTimeout time.Duration
		// Max number of peers downloading the same piece in endgame mode.
		EndgameParallelDownloadsPerPiece int
		// Max number of outgoing connections per torrent.
		MaxPeerDial int
		// Max number of candidate peer addresses kept from announces.
		MaxCandidateAddrs int
		// Addresses that failed to connect are not redialed before this
		// duration passes.
		DialCooldown time.Duration
		// Max number of piece writes running at once. Writes to the same
		// file must not interleave, so this stays at 1 unless the storage
		// can serialize on its own.
		ParallelPieceWrites int
		// A piece that fails to write is retried this many times before
		// the torrent stops with an error.
		WriteRetries int
	}

	Peer struct {
		// Time to wait for a TCP connection to open.
		ConnectTimeout time.Duration
		// Time to wait for the handshake to complete.
		HandshakeTimeout time.Duration
		// When a peer has started to send a block, the connection is
		// closed if no bytes arrive for this long.
		PieceReadTimeout time.Duration
		// A keep-alive frame is sent when nothing was written for this long.
		KeepAlivePeriod time.Duration
	}

	Tracker struct {
		// Number of peer addresses to ask for in announce requests.
		NumWant int
		// Announce interval returned by the tracker is clamped to this range.
		MinAnnounceInterval time.Duration
		MaxAnnounceInterval time.Duration
		// First retry delay after a failed announce; doubles up to the
		// announce interval.
		BackoffInitialInterval time.Duration
		// Best-effort deadline for the stopped event announce on shutdown.
		StoppedEventTimeout time.Duration
		// Total time to wait for an HTTP announce response.
		HTTPTimeout time.Duration
	}
}

// DefaultConfig for a working client. Override fields before passing to New.
var DefaultConfig = initDefaultConfig()

func initDefaultConfig() Config {
	var c Config
	c.Port = 6881
	c.Download.RequestQueueLength = 5
	c.Download.RequestTimeout = 30 * time.Second
	c.Download.EndgameParallelDownloadsPerPiece = 2
	c.Download.MaxPeerDial = 30
	c.Download.MaxCandidateAddrs = 500
	c.Download.DialCooldown = 5 * time.Minute
	c.Download.ParallelPieceWrites = 1
	c.Download.WriteRetries = 2
	c.Peer.ConnectTimeout = 5 * time.Second
	c.Peer.HandshakeTimeout = 30 * time.Second
	c.Peer.PieceReadTimeout = 30 * time.Second
	c.Peer.KeepAlivePeriod = 90 * time.Second
	c.Tracker.NumWant = 50
	c.Tracker.MinAnnounceInterval = 30 * time.Second
	c.Tracker.MaxAnnounceInterval = time.Hour
	c.Tracker.BackoffInitialInterval = 30 * time.Second
	c.Tracker.StoppedEventTimeout = 5 * time.Second
	c.Tracker.HTTPTimeout = 30 * time.Second
	return c
}
