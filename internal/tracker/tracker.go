// Package tracker provides support for announcing torrents to HTTP trackers.
package tracker

import (
	"context"
	"errors"
	"net"
	"time"
)

// ErrDecode is returned when a tracker response cannot be parsed.
var ErrDecode = errors.New("cannot decode response")

// Tracker is contacted periodically to report transfer state and receive peers.
type Tracker interface {
	// Announce the transfer to the tracker.
	// Announce is called periodically with the interval returned in the
	// previous response, and on the events defined in Event.
	Announce(ctx context.Context, req AnnounceRequest) (*AnnounceResponse, error)

	// URL of the tracker.
	URL() string
}

// AnnounceRequest is the transfer state reported on every announce.
type AnnounceRequest struct {
	InfoHash   [20]byte
	PeerID     [20]byte
	Port       int
	Uploaded   int64
	Downloaded int64
	Left       int64
	Event      Event
	NumWant    int
}

// AnnounceResponse is a successful response from the tracker.
type AnnounceResponse struct {
	Interval       time.Duration
	MinInterval    time.Duration
	Leechers       int32
	Seeders        int32
	WarningMessage string
	Peers          []*net.TCPAddr
}

// Error is a rejection sent by the tracker in an announce response.
// It means the request itself was understood and refused, so it is not
// retried like a transport failure.
type Error struct {
	FailureReason string
}

func (e *Error) Error() string { return e.FailureReason }
