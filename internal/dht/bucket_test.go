package dht

import (
	"math/big"
	"net"
	"testing"
	"time"
)

func recordWithID(b byte, port int) NodeRecord {
	return NodeRecord{ID: idOf(b), Endpoint: Endpoint{IP: net.IPv4(1, 1, 1, byte(port)), Port: port}}
}

func fullRangeBucket() *Bucket {
	return NewBucket(big.NewInt(0), idSpaceMax)
}

func TestBucket_Add_FillsToCapacity(t *testing.T) {
	b := fullRangeBucket()
	now := time.Now()

	for i := 0; i < Capacity; i++ {
		if !b.Add(recordWithID(byte(i+1), i+1), now) {
			t.Fatalf("add #%d refused unexpectedly", i)
		}
	}
	if b.Len() != Capacity {
		t.Fatalf("Len() = %d, want %d", b.Len(), Capacity)
	}

	if b.Add(recordWithID(200, 200), now) {
		t.Fatal("add into a full bucket of live nodes should be refused")
	}
}

func TestBucket_Add_RenewsExisting(t *testing.T) {
	b := fullRangeBucket()
	base := time.Now()
	node := recordWithID(1, 1)

	b.Add(node, base)
	b.Add(node, base.Add(time.Minute))

	if b.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 (re-adding should renew, not duplicate)", b.Len())
	}
}

func TestBucket_Add_EvictsDeadAndRetries(t *testing.T) {
	b := fullRangeBucket()
	base := time.Now()

	for i := 0; i < Capacity; i++ {
		b.Add(recordWithID(byte(i+1), i+1), base)
	}

	past := base.Add(31 * time.Minute) // every existing node is now dead
	if !b.Add(recordWithID(200, 200), past) {
		t.Fatal("add should succeed after evicting dead nodes")
	}
	if b.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 after eviction", b.Len())
	}
}

func TestBucket_Add_OutOfRangePanics(t *testing.T) {
	half := new(big.Int).Rsh(idSpaceMax, 1)
	b := NewBucket(big.NewInt(0), half)

	var outOfRange NodeID
	outOfRange[0] = 0xff // definitely beyond half

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for out-of-range insert")
		}
	}()
	b.Add(NodeRecord{ID: outOfRange, Endpoint: Endpoint{IP: net.IPv4(1, 1, 1, 1), Port: 1}}, time.Now())
}

func TestBucket_Remove(t *testing.T) {
	b := fullRangeBucket()
	node := recordWithID(1, 1)
	b.Add(node, time.Now())

	if !b.Remove(node) {
		t.Fatal("Remove should report true for a present node")
	}
	if b.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 after remove", b.Len())
	}
	if b.Remove(node) {
		t.Fatal("Remove should report false for an absent node")
	}
}

func TestBucket_LiveNodesAndNodesForRefresh(t *testing.T) {
	b := fullRangeBucket()
	base := time.Now()

	fresh := recordWithID(1, 1)
	stale := recordWithID(2, 2)

	b.Add(fresh, base)
	b.Add(stale, base)

	// both were added at base, so at +20m both are past the fresh
	// threshold and neither is dead yet
	atCheck := base.Add(20 * time.Minute)

	live := b.LiveNodes(atCheck)
	if len(live) != 0 {
		t.Fatalf("both nodes should be non-fresh at +20m, got %d live", len(live))
	}

	refresh := b.NodesForRefresh(atCheck)
	if len(refresh) != 2 {
		t.Fatalf("NodesForRefresh = %d, want 2", len(refresh))
	}
}

func TestBucket_Splittable(t *testing.T) {
	wide := NewBucket(big.NewInt(0), big.NewInt(Capacity))
	if !wide.Splittable() {
		t.Fatal("bucket of width == capacity should be splittable")
	}

	narrow := NewBucket(big.NewInt(0), big.NewInt(Capacity-1))
	if narrow.Splittable() {
		t.Fatal("bucket narrower than capacity should not be splittable")
	}
}
