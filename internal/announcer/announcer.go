// Package announcer keeps a torrent registered with its trackers.
package announcer

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/cenkalti/backoff/v3"

	"github.com/downpour-dl/downpour/internal/logger"
	"github.com/downpour-dl/downpour/internal/tracker"
)

// Stats is the transfer state reported to the tracker on every announce.
type Stats struct {
	Uploaded   int64
	Downloaded int64
	Left       int64
}

// Config bundles the announce parameters that do not change during a run.
type Config struct {
	InfoHash [20]byte
	PeerID   [20]byte
	Port     int
	NumWant  int

	// Announce interval returned by the tracker is clamped to this range.
	MinInterval time.Duration
	MaxInterval time.Duration

	// Backoff for transient announce failures starts at this interval and
	// doubles up to the last known announce interval.
	BackoffInitialInterval time.Duration

	// Best-effort deadline for the stopped event announce.
	StoppedEventTimeout time.Duration
}

// Announcer announces the torrent periodically and on state transitions.
// Trackers from the announce list are tried in order; the next one is used
// after a transient failure.
type Announcer struct {
	trackers   []tracker.Tracker
	cur        int
	config     Config
	getStats   func() Stats
	newPeersC  chan []*net.TCPAddr
	errC       chan error
	completedC chan struct{}
	log        logger.Logger

	completedSent bool
	startedSent   bool
}

// New returns a new Announcer. getStats is called right before each announce;
// it must be safe to call from the announcer goroutine. New peer lists are
// delivered on newPeersC. A tracker rejection is delivered on errC.
func New(
	trackers []tracker.Tracker,
	cfg Config,
	getStats func() Stats,
	newPeersC chan []*net.TCPAddr,
	errC chan error,
	completedC chan struct{},
	l logger.Logger,
) *Announcer {
	return &Announcer{
		trackers:   trackers,
		config:     cfg,
		getStats:   getStats,
		newPeersC:  newPeersC,
		errC:       errC,
		completedC: completedC,
		log:        l,
	}
}

// Run announces until stopC is closed. The started event is sent first, the
// stopped event is sent on the way out with a short deadline.
func (a *Announcer) Run(stopC chan struct{}) {
	retry := &backoff.ExponentialBackOff{
		InitialInterval:     a.config.BackoffInitialInterval,
		RandomizationFactor: 0.5,
		Multiplier:          2,
		MaxInterval:         a.config.MaxInterval,
		MaxElapsedTime:      0, // never stop
		Clock:               backoff.SystemClock,
	}
	retry.Reset()

	interval := a.announce(tracker.EventStarted, retry, stopC)
	var completed bool
	for {
		select {
		case <-time.After(interval):
			// The started event is mandatory; keep sending it until the
			// tracker has seen it once.
			e := tracker.EventNone
			if !a.startedSent {
				e = tracker.EventStarted
			}
			interval = a.announce(e, retry, stopC)
		case <-a.completedC:
			a.completedC = nil // completed is announced only once
			completed = true
			interval = a.announce(tracker.EventCompleted, retry, stopC)
		case <-stopC:
			// A completion signal that raced with the stop, or a completed
			// announce that did not get through, still gets its completed
			// event, before the stopped event.
			if a.completedC != nil {
				select {
				case <-a.completedC:
					a.completedC = nil
					completed = true
				default:
				}
			}
			if completed {
				a.announceCompleted()
			}
			a.announceStopped()
			return
		}
	}
}

// announce sends one announce with the event and returns the duration to wait
// before the next announce.
func (a *Announcer) announce(e tracker.Event, retry *backoff.ExponentialBackOff, stopC chan struct{}) time.Duration {
	trk := a.trackers[a.cur]

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stopC:
			cancel()
		case <-ctx.Done():
		}
	}()

	resp, err := trk.Announce(ctx, a.request(e))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return a.config.MaxInterval
		}
		var rejection *tracker.Error
		if errors.As(err, &rejection) {
			// The tracker understood the request and refused it.
			// There is no point retrying; the torrent must stop.
			a.log.Errorln("tracker rejected announce:", rejection.FailureReason)
			select {
			case a.errC <- rejection:
			case <-stopC:
			}
			return a.config.MaxInterval
		}
		a.log.Warningln("announce error:", err)
		a.cur = (a.cur + 1) % len(a.trackers)
		return retry.NextBackOff()
	}
	if e == tracker.EventStarted {
		a.startedSent = true
	}
	if e == tracker.EventCompleted {
		a.completedSent = true
	}
	retry.Reset()

	interval := a.clampInterval(resp)
	// Cap the failure backoff at the announce interval.
	retry.MaxInterval = interval

	select {
	case a.newPeersC <- resp.Peers:
	case <-stopC:
	}
	return interval
}

func (a *Announcer) clampInterval(resp *tracker.AnnounceResponse) time.Duration {
	interval := resp.Interval
	if resp.MinInterval > interval {
		interval = resp.MinInterval
	}
	if interval < a.config.MinInterval {
		interval = a.config.MinInterval
	}
	if interval > a.config.MaxInterval {
		interval = a.config.MaxInterval
	}
	return interval
}

// announceCompleted is the best-effort completed announce on the stop path.
func (a *Announcer) announceCompleted() {
	if a.completedSent || !a.startedSent {
		return
	}
	a.completedSent = true
	ctx, cancel := context.WithTimeout(context.Background(), a.config.StoppedEventTimeout)
	defer cancel()
	_, _ = a.trackers[a.cur].Announce(ctx, a.request(tracker.EventCompleted))
}

// announceStopped tells the tracker we are gone. Failures are ignored, the
// only cost of a lost stopped event is a stale peer entry on the tracker.
func (a *Announcer) announceStopped() {
	if !a.startedSent {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.config.StoppedEventTimeout)
	defer cancel()
	_, _ = a.trackers[a.cur].Announce(ctx, a.request(tracker.EventStopped))
}

func (a *Announcer) request(e tracker.Event) tracker.AnnounceRequest {
	stats := a.getStats()
	return tracker.AnnounceRequest{
		InfoHash:   a.config.InfoHash,
		PeerID:     a.config.PeerID,
		Port:       a.config.Port,
		Uploaded:   stats.Uploaded,
		Downloaded: stats.Downloaded,
		Left:       stats.Left,
		Event:      e,
		NumWant:    a.config.NumWant,
	}
}
