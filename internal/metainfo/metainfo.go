// Package metainfo supports reading and writing torrent files.
package metainfo

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/zeebo/bencode"
)

var (
	errNoInfo    = errors.New("no info dict in torrent file")
	errNoTracker = errors.New("no usable tracker in torrent file")
)

// MetaInfo is a parsed torrent file. Immutable after New returns.
type MetaInfo struct {
	Info         Info
	AnnounceList [][]string
	CreationDate time.Time
	Comment      string
	CreatedBy    string
}

// New parses a torrent from a bencoded stream.
func New(r io.Reader) (*MetaInfo, error) {
	var t struct {
		Info         bencode.RawMessage `bencode:"info"`
		Announce     string             `bencode:"announce"`
		AnnounceList [][]string         `bencode:"announce-list"`
		CreationDate int64              `bencode:"creation date"`
		Comment      string             `bencode:"comment"`
		CreatedBy    string             `bencode:"created by"`
	}
	err := bencode.NewDecoder(r).Decode(&t)
	if err != nil {
		return nil, fmt.Errorf("malformed torrent file: %s", err)
	}
	if len(t.Info) == 0 {
		return nil, errNoInfo
	}
	info, err := NewInfo(t.Info)
	if err != nil {
		return nil, err
	}
	var ret MetaInfo
	ret.Info = *info
	ret.Comment = t.Comment
	ret.CreatedBy = t.CreatedBy
	if t.CreationDate != 0 {
		ret.CreationDate = time.Unix(t.CreationDate, 0).UTC()
	}
	if len(t.AnnounceList) > 0 {
		for _, tier := range t.AnnounceList {
			var ti []string
			for _, u := range tier {
				if isTrackerSupported(u) {
					ti = append(ti, u)
				}
			}
			if len(ti) > 0 {
				ret.AnnounceList = append(ret.AnnounceList, ti)
			}
		}
	} else if isTrackerSupported(t.Announce) {
		ret.AnnounceList = append(ret.AnnounceList, []string{t.Announce})
	}
	if len(ret.AnnounceList) == 0 {
		return nil, errNoTracker
	}
	return &ret, nil
}

// Trackers returns the announce URLs of all tiers flattened in order.
func (m *MetaInfo) Trackers() []string {
	var ret []string
	for _, tier := range m.AnnounceList {
		ret = append(ret, tier...)
	}
	return ret
}

// Only TCP trackers are dialed. UDP trackers are dropped at parse time.
func isTrackerSupported(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
