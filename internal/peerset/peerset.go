// Package peerset provides a small set of peers.
package peerset

import "github.com/downpour-dl/downpour/internal/peer"

// PeerSet is a slice of unique peers. Linear operations are fine at swarm sizes.
type PeerSet struct {
	Peers []*peer.Peer
}

// Add the peer to the set. Returns false if it was already there.
func (l *PeerSet) Add(pe *peer.Peer) bool {
	for _, p := range l.Peers {
		if p == pe {
			return false
		}
	}
	l.Peers = append(l.Peers, pe)
	return true
}

// Remove the peer from the set. Returns false if it was not there.
func (l *PeerSet) Remove(pe *peer.Peer) bool {
	for i, p := range l.Peers {
		if p == pe {
			l.Peers[i] = l.Peers[len(l.Peers)-1]
			l.Peers = l.Peers[:len(l.Peers)-1]
			return true
		}
	}
	return false
}

// Has returns true if the set contains the peer.
func (l *PeerSet) Has(pe *peer.Peer) bool {
	for _, p := range l.Peers {
		if p == pe {
			return true
		}
	}
	return false
}

// Len returns the number of peers in the set.
func (l *PeerSet) Len() int {
	return len(l.Peers)
}
