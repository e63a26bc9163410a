package dht

import (
	"bytes"
	"math/bits"
	"sort"
)

// Distance returns the bitwise XOR of two IDs, interpreted as an
// unsigned 160-bit integer. Smaller means closer.
func Distance(a, b NodeID) NodeID {
	var d NodeID

	for i := 0; i < idSize; i++ {
		d[i] = a[i] ^ b[i]
	}
	return d
}

// CompareDistance returns:
// -1 if a is closer to target than b
// 0 if a and b are equidistant to target
// 1 if b is closer to target than a
func CompareDistance(target, a, b NodeID) int {
	da := Distance(target, a)
	db := Distance(target, b)
	return bytes.Compare(da[:], db[:])
}

// PrefixLen returns the number of leading zero bits in the XOR distance
// between a and b, i.e. how many high-order bits they share.
func PrefixLen(a, b NodeID) int {
	d := Distance(a, b)

	for i := 0; i < idSize; i++ {
		if d[i] != 0 {
			return i*8 + bits.LeadingZeros8(d[i])
		}
	}

	return idSize * 8 // identical
}

// KClosestOf sorts iterable by key(item) XOR target ascending and
// returns the first k. Ties are broken deterministically by the full
// (id, endpoint) lexicographic order of the NodeRecord produced by
// toRecord, matching spec.md's tie-break rule.
func KClosestOf[T any](target NodeID, iterable []T, key func(T) NodeID, toRecord func(T) NodeRecord, k int) []T {
	out := make([]T, len(iterable))
	copy(out, iterable)

	sort.SliceStable(out, func(i, j int) bool {
		cmp := CompareDistance(target, key(out[i]), key(out[j]))
		if cmp != 0 {
			return cmp < 0
		}
		ri, rj := toRecord(out[i]), toRecord(out[j])
		if ri.ID != rj.ID {
			return bytes.Compare(ri.ID[:], rj.ID[:]) < 0
		}
		if c := bytes.Compare(ri.Endpoint.IP.To4(), rj.Endpoint.IP.To4()); c != 0 {
			return c < 0
		}
		return ri.Endpoint.Port < rj.Endpoint.Port
	})

	if k >= 0 && len(out) > k {
		out = out[:k]
	}
	return out
}
