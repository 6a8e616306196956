// Package httptracker implements the HTTP announce protocol of BEP 3.
package httptracker

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/zeebo/bencode"

	"github.com/downpour-dl/downpour/internal/logger"
	"github.com/downpour-dl/downpour/internal/tracker"
)

// HTTPTracker announces to a tracker over HTTP GET requests.
type HTTPTracker struct {
	rawURL    string
	log       logger.Logger
	http      *http.Client
	trackerID string
}

// New returns an HTTPTracker for the given announce URL.
func New(rawURL string, timeout time.Duration) *HTTPTracker {
	return &HTTPTracker{
		rawURL: rawURL,
		log:    logger.New("tracker " + rawURL),
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DisableKeepAlives: true,
			},
		},
	}
}

var _ tracker.Tracker = (*HTTPTracker)(nil)

// URL returns the announce URL.
func (t *HTTPTracker) URL() string {
	return t.rawURL
}

// Announce sends an announce request and parses the bencoded response.
func (t *HTTPTracker) Announce(ctx context.Context, req tracker.AnnounceRequest) (*tracker.AnnounceResponse, error) {
	u, err := url.Parse(t.rawURL)
	if err != nil {
		return nil, err
	}

	q := u.Query()
	q.Set("info_hash", string(req.InfoHash[:]))
	q.Set("peer_id", string(req.PeerID[:]))
	q.Set("port", strconv.Itoa(req.Port))
	q.Set("uploaded", strconv.FormatInt(req.Uploaded, 10))
	q.Set("downloaded", strconv.FormatInt(req.Downloaded, 10))
	q.Set("left", strconv.FormatInt(req.Left, 10))
	q.Set("compact", "1")
	q.Set("no_peer_id", "1")
	q.Set("numwant", strconv.Itoa(req.NumWant))
	if req.Event != tracker.EventNone {
		q.Set("event", req.Event.String())
	}
	if t.trackerID != "" {
		q.Set("trackerid", t.trackerID)
	}
	u.RawQuery = q.Encode()
	t.log.Debugf("making request to: %q", u.String())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	var response announceResponse
	if err = bencode.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, tracker.ErrDecode
	}

	if response.FailureReason != "" {
		return nil, &tracker.Error{FailureReason: response.FailureReason}
	}
	if response.WarningMessage != "" {
		t.log.Warning(response.WarningMessage)
	}
	if response.TrackerID != "" {
		t.trackerID = response.TrackerID
	}

	// Peers come in compact or dictionary model.
	var peers []*net.TCPAddr
	if len(response.Peers) > 0 {
		if response.Peers[0] == 'l' {
			peers, err = parsePeersDictionary(response.Peers)
		} else {
			var b []byte
			err = bencode.DecodeBytes(response.Peers, &b)
			if err != nil {
				return nil, tracker.ErrDecode
			}
			peers, err = tracker.DecodePeersCompact(b)
		}
		if err != nil {
			return nil, tracker.ErrDecode
		}
	}

	return &tracker.AnnounceResponse{
		Interval:       time.Duration(response.Interval) * time.Second,
		MinInterval:    time.Duration(response.MinInterval) * time.Second,
		Leechers:       response.Incomplete,
		Seeders:        response.Complete,
		WarningMessage: response.WarningMessage,
		Peers:          peers,
	}, nil
}

func parsePeersDictionary(b bencode.RawMessage) ([]*net.TCPAddr, error) {
	var peers []struct {
		IP   string `bencode:"ip"`
		Port uint16 `bencode:"port"`
	}
	if err := bencode.DecodeBytes(b, &peers); err != nil {
		return nil, err
	}
	addrs := make([]*net.TCPAddr, 0, len(peers))
	for _, p := range peers {
		ip := net.ParseIP(p.IP)
		if ip == nil {
			continue
		}
		addrs = append(addrs, &net.TCPAddr{IP: ip, Port: int(p.Port)})
	}
	return addrs, nil
}
