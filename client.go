// Package downpour is a download-only BitTorrent client.
//
// A Client owns the process-wide identity (peer id and advertised port) and
// runs one download engine per added torrent. The engine announces to the
// torrent's HTTP trackers, dials the returned peers, and downloads pieces over
// the peer wire protocol until every piece is verified and on disk.
package downpour

import (
	"crypto/rand"
	"os"
	"sync"

	"github.com/downpour-dl/downpour/internal/logger"
	"github.com/downpour-dl/downpour/internal/metainfo"
	"github.com/downpour-dl/downpour/internal/storage/filestorage"
)

// http://www.bittorrent.org/beps/bep_0020.html
var peerIDPrefix = []byte("-DP0001-")

// Client runs torrents. It is safe for concurrent use.
type Client struct {
	config Config

	// Generated once at client start, shared by all torrents of this run.
	peerID [20]byte

	log logger.Logger

	m        sync.Mutex
	torrents []*Torrent
	closed   bool
}

// New returns a started Client with the given configuration.
func New(cfg Config) (*Client, error) {
	c := &Client{
		config: cfg,
		log:    logger.New("client"),
	}
	copy(c.peerID[:], peerIDPrefix)
	if _, err := rand.Read(c.peerID[len(peerIDPrefix):]); err != nil {
		return nil, err
	}
	return c, nil
}

// PeerID returns the peer id sent to trackers and peers.
func (c *Client) PeerID() [20]byte {
	return c.peerID
}

// AddTorrent loads the metainfo at path and prepares a download into the dest
// directory. The returned Torrent must be started with Start.
func (c *Client) AddTorrent(path, dest string) (*Torrent, error) {
	f, err := os.Open(path) // nolint: gosec
	if err != nil {
		return nil, err
	}
	defer f.Close()
	mi, err := metainfo.New(f)
	if err != nil {
		return nil, err
	}
	sto, err := filestorage.New(dest)
	if err != nil {
		return nil, err
	}
	t := newTorrent(mi, sto, c.peerID, c.config)
	c.m.Lock()
	defer c.m.Unlock()
	if c.closed {
		return nil, errClientClosed
	}
	c.torrents = append(c.torrents, t)
	c.log.Infof("added torrent %q", t.Name())
	return t, nil
}

// Torrents returns the torrents added so far.
func (c *Client) Torrents() []*Torrent {
	c.m.Lock()
	defer c.m.Unlock()
	return append([]*Torrent(nil), c.torrents...)
}

// Close stops every torrent and waits for them to shut down.
func (c *Client) Close() {
	c.m.Lock()
	torrents := append([]*Torrent(nil), c.torrents...)
	c.closed = true
	c.m.Unlock()
	for _, t := range torrents {
		t.Stop()
	}
}
