package dht

import (
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
)

// idSpaceBits is the width of the Kademlia ID space this table
// partitions: [0, 2^160).
const idSpaceBits = idSize * 8

var idSpaceMax = new(big.Int).Lsh(big.NewInt(1), idSpaceBits)

// DefaultK is the number of closest nodes a lookup or find_node/
// get_peers response carries.
const DefaultK = 8

// RoutingTable partitions the ID space into Buckets around a local ID,
// splitting buckets dynamically as they fill. The initial state is a
// single bucket spanning the whole space.
type RoutingTable struct {
	localID NodeID

	mu sync.RWMutex
	// buckets is kept sorted by RangeMin so that locating the bucket
	// covering an ID is a binary search, and so that the partition
	// invariant (ranges are contiguous and disjoint) is easy to check.
	buckets []*Bucket
}

func NewRoutingTable(localID NodeID) *RoutingTable {
	root := NewBucket(big.NewInt(0), idSpaceMax)
	return &RoutingTable{
		localID: localID,
		buckets: []*Bucket{root},
	}
}

func (rt *RoutingTable) LocalID() NodeID { return rt.localID }

// bucketForLocked returns the index of the unique bucket whose range
// contains id. Caller must hold rt.mu (read or write).
func (rt *RoutingTable) bucketForLocked(id NodeID) int {
	v := id.Int()
	i := sort.Search(len(rt.buckets), func(i int) bool {
		return rt.buckets[i].RangeMax().Cmp(v) > 0
	})
	if i >= len(rt.buckets) {
		i = len(rt.buckets) - 1
	}
	return i
}

// Add locates the bucket covering id and attempts to insert the node.
// If the bucket refuses the insert and is splittable, it is split and
// the insert is retried from the root.
func (rt *RoutingTable) Add(id NodeID, ep Endpoint) bool {
	return rt.addAt(NodeRecord{ID: id, Endpoint: ep}, time.Now())
}

func (rt *RoutingTable) addAt(node NodeRecord, now time.Time) bool {
	rt.mu.RLock()
	idx := rt.bucketForLocked(node.ID)
	bucket := rt.buckets[idx]
	rt.mu.RUnlock()

	if bucket.Add(node, now) {
		return true
	}

	if bucket.Splittable() {
		rt.split(bucket)
		return rt.addAt(node, now)
	}

	return false
}

// split removes bucket from the table, bisects its range at the median,
// and redistributes its nodes (preserving their LivenessStat) across
// the two halves.
func (rt *RoutingTable) split(bucket *Bucket) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	idx := -1
	for i, b := range rt.buckets {
		if b == bucket {
			idx = i
			break
		}
	}
	if idx < 0 {
		return // already split by a concurrent caller
	}

	median := new(big.Int).Add(bucket.RangeMin(), bucket.RangeMax())
	median.Rsh(median, 1)

	lower := NewBucket(bucket.RangeMin(), median)
	upper := NewBucket(median, bucket.RangeMax())

	bucket.mu.RLock()
	entries := make([]*bucketEntry, len(bucket.entries))
	copy(entries, bucket.entries)
	bucket.mu.RUnlock()

	for _, e := range entries {
		target := lower
		if !target.IDInRange(e.record.ID) {
			target = upper
		}
		target.mu.Lock()
		target.append(e.record, e.stat)
		target.mu.Unlock()
	}

	rt.buckets = append(rt.buckets[:idx], append([]*Bucket{lower, upper}, rt.buckets[idx+1:]...)...)
}

// Remove deletes id from its bucket, reporting whether it was present.
func (rt *RoutingTable) Remove(id NodeID, ep Endpoint) bool {
	rt.mu.RLock()
	idx := rt.bucketForLocked(id)
	bucket := rt.buckets[idx]
	rt.mu.RUnlock()

	return bucket.Remove(NodeRecord{ID: id, Endpoint: ep})
}

// Contains reports whether id is currently tracked by any bucket.
func (rt *RoutingTable) Contains(id NodeID) bool {
	rt.mu.RLock()
	idx := rt.bucketForLocked(id)
	bucket := rt.buckets[idx]
	rt.mu.RUnlock()

	for _, r := range bucket.All() {
		if r.ID == id {
			return true
		}
	}
	return false
}

// KClosest returns up to k NodeRecords across all buckets minimizing
// XOR distance to target, deterministically tie-broken.
func (rt *RoutingTable) KClosest(target NodeID, k int) []NodeRecord {
	rt.mu.RLock()
	buckets := make([]*Bucket, len(rt.buckets))
	copy(buckets, rt.buckets)
	rt.mu.RUnlock()

	var all []NodeRecord
	for _, b := range buckets {
		all = append(all, b.All()...)
	}

	return KClosestOf(target, all, func(n NodeRecord) NodeID { return n.ID }, func(n NodeRecord) NodeRecord { return n }, k)
}

// EnumRefreshEndpoints returns the union of every bucket's
// NodesForRefresh -- the endpoints the periodic scheduler should ping.
func (rt *RoutingTable) EnumRefreshEndpoints(now time.Time) []Endpoint {
	rt.mu.RLock()
	buckets := make([]*Bucket, len(rt.buckets))
	copy(buckets, rt.buckets)
	rt.mu.RUnlock()

	var out []Endpoint
	for _, b := range buckets {
		out = append(out, b.NodesForRefresh(now)...)
	}
	return out
}

// Size returns the total number of tracked records across all buckets.
func (rt *RoutingTable) Size() int {
	rt.mu.RLock()
	buckets := make([]*Bucket, len(rt.buckets))
	copy(buckets, rt.buckets)
	rt.mu.RUnlock()

	total := 0
	for _, b := range buckets {
		total += b.Len()
	}
	return total
}

// BucketRanges returns the (min, max) pair of every bucket, in sorted
// order; used by tests to assert the partition invariant.
func (rt *RoutingTable) BucketRanges() [][2]*big.Int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	return lo.Map(rt.buckets, func(b *Bucket, _ int) [2]*big.Int {
		return [2]*big.Int{b.RangeMin(), b.RangeMax()}
	})
}
