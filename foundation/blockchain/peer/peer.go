// Package peer maintains the set of peers this node has heard from on the
// gossip transport.
package peer

import (
	"slices"
	"sync"
)

// Peer represents another node in the network by its peer id.
type Peer struct {
	ID string `json:"id"`
}

// New contructs a new peer value.
func New(id string) Peer {
	return Peer{
		ID: id,
	}
}

// Match validates if the specified id matches this peer.
func (p Peer) Match(id string) bool {
	return p.ID == id
}

// =============================================================================

// PeerSet represents the data representation to maintain a set of known peers.
type PeerSet struct {
	mu  sync.RWMutex
	set map[Peer]struct{}
}

// NewPeerSet constructs a new set to manage node peer information.
func NewPeerSet() *PeerSet {
	return &PeerSet{
		set: make(map[Peer]struct{}),
	}
}

// Add adds a new peer to the set. It reports whether the peer is new.
func (ps *PeerSet) Add(peer Peer) bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	_, exists := ps.set[peer]
	if !exists {
		ps.set[peer] = struct{}{}
		return true
	}

	return false
}

// Remove removes a peer from the set.
func (ps *PeerSet) Remove(peer Peer) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	delete(ps.set, peer)
}

// Len returns the number of known peers.
func (ps *PeerSet) Len() int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	return len(ps.set)
}

// Copy returns the known peers other than the specified id, ordered by id.
func (ps *PeerSet) Copy(self string) []Peer {
	ps.mu.RLock()
	var peers []Peer
	for peer := range ps.set {
		if !peer.Match(self) {
			peers = append(peers, peer)
		}
	}
	ps.mu.RUnlock()

	slices.SortFunc(peers, func(a, b Peer) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})

	return peers
}
