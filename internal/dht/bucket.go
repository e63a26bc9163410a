package dht

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/samber/lo"
)

// Capacity is the maximum number of live nodes a Bucket holds before it
// must be split or start evicting.
const Capacity = 8

type bucketEntry struct {
	record NodeRecord
	stat   *LivenessStat
}

// Bucket is a bounded set of NodeRecords over the ID half-open range
// [RangeMin, RangeMax), with eviction. Identity of a Bucket for hashing/
// set purposes is (RangeMin, RangeMax).
type Bucket struct {
	mu       sync.RWMutex
	rangeMin *big.Int
	rangeMax *big.Int

	// entries preserves insertion order, mirroring the source's use of an
	// ordered dict keyed by NodeRecord; order matters for refresh/eviction
	// iteration determinism.
	entries []*bucketEntry
	index   map[NodeID]int
}

func NewBucket(rangeMin, rangeMax *big.Int) *Bucket {
	return &Bucket{
		rangeMin: new(big.Int).Set(rangeMin),
		rangeMax: new(big.Int).Set(rangeMax),
		entries:  make([]*bucketEntry, 0, Capacity),
		index:    make(map[NodeID]int),
	}
}

func (b *Bucket) RangeMin() *big.Int { return new(big.Int).Set(b.rangeMin) }
func (b *Bucket) RangeMax() *big.Int { return new(big.Int).Set(b.rangeMax) }

// Width is RangeMax - RangeMin.
func (b *Bucket) Width() *big.Int {
	return new(big.Int).Sub(b.rangeMax, b.rangeMin)
}

// IDInRange reports whether RangeMin <= id < RangeMax.
func (b *Bucket) IDInRange(id NodeID) bool {
	v := id.Int()
	return v.Cmp(b.rangeMin) >= 0 && v.Cmp(b.rangeMax) < 0
}

func (b *Bucket) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// Add inserts node as of now. If node is already present, its liveness
// is renewed. If the bucket is full, every dead node is evicted and the
// insert is retried once; if the bucket is still full of live nodes,
// the insert is refused.
//
// Inserting a node whose ID falls outside the bucket's range is a
// programmer error.
func (b *Bucket) Add(node NodeRecord, now time.Time) bool {
	if !b.IDInRange(node.ID) {
		panic(fmt.Errorf("%w: node %s not in [%s, %s)", ErrOutOfRange, node.ID, b.rangeMin, b.rangeMax))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if i, ok := b.index[node.ID]; ok {
		b.entries[i].stat.Renew(now)
		return true
	}

	if len(b.entries) < Capacity {
		b.append(node, NewLivenessStat(now))
		return true
	}

	if b.evictDeadLocked(now) {
		b.append(node, NewLivenessStat(now))
		return true
	}

	return false
}

func (b *Bucket) append(node NodeRecord, stat *LivenessStat) {
	b.entries = append(b.entries, &bucketEntry{record: node, stat: stat})
	b.index[node.ID] = len(b.entries) - 1
}

// evictDeadLocked removes every dead entry and reports whether at least
// one was removed. Caller must hold b.mu.
func (b *Bucket) evictDeadLocked(now time.Time) bool {
	kept := b.entries[:0:0]
	evicted := false

	for _, e := range b.entries {
		if e.stat.IsDead(now) {
			delete(b.index, e.record.ID)
			evicted = true
			continue
		}
		kept = append(kept, e)
	}

	b.entries = kept
	for i, e := range b.entries {
		b.index[e.record.ID] = i
	}
	return evicted
}

// Remove deletes the given record if present, reporting whether it was
// found.
func (b *Bucket) Remove(node NodeRecord) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	i, ok := b.index[node.ID]
	if !ok {
		return false
	}

	b.entries = append(b.entries[:i], b.entries[i+1:]...)
	delete(b.index, node.ID)
	for j := i; j < len(b.entries); j++ {
		b.index[b.entries[j].record.ID] = j
	}
	return true
}

// All returns every known record in the bucket, live or not.
func (b *Bucket) All() []NodeRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return lo.Map(b.entries, func(e *bucketEntry, _ int) NodeRecord {
		return e.record
	})
}

// LiveNodes returns the records whose freshness rate is positive.
func (b *Bucket) LiveNodes(now time.Time) []NodeRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()

	live := lo.Filter(b.entries, func(e *bucketEntry, _ int) bool {
		return e.stat.IsFresh(now)
	})
	return lo.Map(live, func(e *bucketEntry, _ int) NodeRecord {
		return e.record
	})
}

// NodesForRefresh returns the endpoints of nodes that are stale or dead
// (non-positive freshness) -- the candidates a maintenance routine
// should ping.
func (b *Bucket) NodesForRefresh(now time.Time) []Endpoint {
	b.mu.RLock()
	defer b.mu.RUnlock()

	candidates := lo.Filter(b.entries, func(e *bucketEntry, _ int) bool {
		return !e.stat.IsFresh(now)
	})
	return lo.Map(candidates, func(e *bucketEntry, _ int) Endpoint {
		return e.record.Endpoint
	})
}

// Splittable reports whether this bucket's range is at least Capacity
// wide (its two halves may then each be narrower than Capacity), per
// spec.md's permissive splitting policy: any bucket
// whose range is at least Capacity wide may be split, not only the one
// containing the local ID.
func (b *Bucket) Splittable() bool {
	return b.Width().Cmp(big.NewInt(Capacity)) >= 0
}
