package dht

import (
	"sync"
	"time"

	"github.com/samber/lo"
)

// PeerTTL is how long an announced peer is remembered before it
// expires from the store.
const PeerTTL = 30 * time.Minute

// PeerInfo is a single announce_peer observation: the endpoint the
// announce arrived from, the announced port, whether implied_port was
// set, and when it was recorded.
type PeerInfo struct {
	FromAddr    Endpoint
	Port        int
	ImpliedPort bool
	Added       time.Time
}

// EffectivePort returns the port that should be advertised for this
// peer: the announce's source port when implied_port is set, else the
// explicitly announced port.
func (p PeerInfo) EffectivePort() int {
	if p.ImpliedPort {
		return p.FromAddr.Port
	}
	return p.Port
}

// Effective returns the endpoint peers should connect to: the sender's
// IP paired with EffectivePort.
func (p PeerInfo) Effective() Endpoint {
	return Endpoint{IP: p.FromAddr.IP, Port: p.EffectivePort()}
}

// PeerStore is a TTL-bound map from info-hash to the set of peers that
// have announced holding it.
type PeerStore struct {
	mu   sync.RWMutex
	data map[NodeID][]PeerInfo
}

func NewPeerStore() *PeerStore {
	return &PeerStore{data: make(map[NodeID][]PeerInfo)}
}

// RecordPeer inserts a peer announce for infoHash as of now.
func (s *PeerStore) RecordPeer(infoHash NodeID, fromAddr Endpoint, announcedPort int, impliedPort bool, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[infoHash] = append(s.data[infoHash], PeerInfo{
		FromAddr:    fromAddr,
		Port:        announcedPort,
		ImpliedPort: impliedPort,
		Added:       now,
	})
}

// GetPeers returns the effective endpoints currently held for infoHash,
// possibly empty.
func (s *PeerStore) GetPeers(infoHash NodeID) []Endpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return lo.Map(s.data[infoHash], func(p PeerInfo, _ int) Endpoint {
		return p.Effective()
	})
}

// HasPeers reports whether any peer is currently held for infoHash.
func (s *PeerStore) HasPeers(infoHash NodeID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data[infoHash]) > 0
}

// EvictExpired removes every PeerInfo whose age is at least PeerTTL as
// of now, dropping info-hash entries that become empty.
func (s *PeerStore) EvictExpired(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for infoHash, peers := range s.data {
		live := lo.Filter(peers, func(p PeerInfo, _ int) bool {
			return now.Sub(p.Added) < PeerTTL
		})

		if len(live) == 0 {
			delete(s.data, infoHash)
			continue
		}
		s.data[infoHash] = live
	}
}
