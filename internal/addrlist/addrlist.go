// Package addrlist keeps the candidate peer addresses received from trackers.
package addrlist

import (
	"net"
	"sort"
	"time"
)

// AddrList is a bounded list of candidate peer addresses.
//
// Addresses are deduplicated by "ip:port" and sorted oldest first; Pop returns
// the most recently advertised address. Addresses that failed recently are
// held back for a cool-down period so a dead peer is not redialed in a loop.
type AddrList struct {
	// Contains peers not connected yet, sorted by oldest first.
	peerAddrs []*peerAddr

	// Contains peers not connected yet, keyed by addr string.
	peerAddrsMap map[string]*peerAddr

	// Failed dial attempts, keyed by addr string, with the failure time.
	failed map[string]time.Time

	maxItems int
	cooldown time.Duration

	// Overridable in tests.
	now func() time.Time
}

type peerAddr struct {
	*net.TCPAddr
	timestamp time.Time
}

// New returns an AddrList holding at most maxItems candidates.
func New(maxItems int, cooldown time.Duration) *AddrList {
	return &AddrList{
		peerAddrsMap: make(map[string]*peerAddr),
		failed:       make(map[string]time.Time),
		maxItems:     maxItems,
		cooldown:     cooldown,
		now:          time.Now,
	}
}

// Len returns the number of candidates.
func (d *AddrList) Len() int {
	return len(d.peerAddrs)
}

// Pop returns the freshest candidate, or nil when the list is empty.
func (d *AddrList) Pop() *net.TCPAddr {
	if len(d.peerAddrs) == 0 {
		return nil
	}
	addr := d.peerAddrs[len(d.peerAddrs)-1].TCPAddr
	d.peerAddrs = d.peerAddrs[:len(d.peerAddrs)-1]
	delete(d.peerAddrsMap, addr.String())
	return addr
}

// Push adds tracker-returned addresses to the list. Invalid addresses, our own
// listen address, duplicates and cooling-down addresses are dropped. When the
// list overflows the oldest entries are discarded; the tracker re-offers
// addresses on the next announce anyway.
func (d *AddrList) Push(addrs []*net.TCPAddr, listenPort int) {
	now := d.now()
	for _, ad := range addrs {
		// 0 port is invalid
		if ad.Port == 0 {
			continue
		}
		// Discard own client
		if ad.IP.IsLoopback() && ad.Port == listenPort {
			continue
		}
		key := ad.String()
		if failedAt, ok := d.failed[key]; ok {
			if now.Sub(failedAt) < d.cooldown {
				continue
			}
			delete(d.failed, key)
		}
		if p, ok := d.peerAddrsMap[key]; ok {
			p.timestamp = now
		} else {
			p = &peerAddr{
				TCPAddr:   ad,
				timestamp: now,
			}
			d.peerAddrsMap[key] = p
			d.peerAddrs = append(d.peerAddrs, p)
		}
	}
	sort.Slice(d.peerAddrs, func(i, j int) bool { return d.peerAddrs[i].timestamp.Before(d.peerAddrs[j].timestamp) })
	if len(d.peerAddrs) > d.maxItems {
		delta := len(d.peerAddrs) - d.maxItems
		for i := 0; i < delta; i++ {
			delete(d.peerAddrsMap, d.peerAddrs[i].String())
		}
		copy(d.peerAddrs, d.peerAddrs[delta:])
		d.peerAddrs = d.peerAddrs[:len(d.peerAddrs)-delta]
	}
}

// MarkFailed records a dial or handshake failure so the address is not offered
// again before the cool-down expires.
func (d *AddrList) MarkFailed(addr *net.TCPAddr) {
	d.failed[addr.String()] = d.now()
}
