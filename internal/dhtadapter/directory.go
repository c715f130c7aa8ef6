package dhtadapter

import (
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

// Directory is the adapter's own bookkeeping of peers it has learned
// addresses for via Identify, distinct from go-libp2p-kad-dht's internal
// routing table (reachable only through Adapter.Raw). It exists so the
// swarm loop's Identify hook has somewhere to register addresses without
// reaching into kad-dht internals, and so tests/debugging can inspect
// what the node currently believes about its neighbours.
type Directory struct {
	mu    sync.RWMutex
	peers map[peer.ID][]multiaddr.Multiaddr
}

func NewDirectory() *Directory {
	return &Directory{peers: make(map[peer.ID][]multiaddr.Multiaddr)}
}

// Record stores addr as known for p, deduplicating against what's already
// recorded.
func (d *Directory) Record(p peer.ID, addr multiaddr.Multiaddr) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, existing := range d.peers[p] {
		if existing.Equal(addr) {
			return
		}
	}
	d.peers[p] = append(d.peers[p], addr)
}

// Addresses returns the addresses currently recorded for p.
func (d *Directory) Addresses(p peer.ID) []multiaddr.Multiaddr {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]multiaddr.Multiaddr, len(d.peers[p]))
	copy(out, d.peers[p])
	return out
}

// Peers returns every peer the directory currently has an address for.
func (d *Directory) Peers() []peer.ID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]peer.ID, 0, len(d.peers))
	for p := range d.peers {
		out = append(out, p)
	}
	return out
}
