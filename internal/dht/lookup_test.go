package dht

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/samber/lo"
)

// fakeTransport simulates a small network in memory: CallRemote answers as
// whichever world node owns the dialed endpoint, returning the k nodes (from
// the whole world) closest to the query target. This lets a find_node
// lookup converge exactly the way a real overlay would, without any wire
// code.
type fakeTransport struct {
	localID NodeID
	world   []NodeRecord
	calls   int
}

func (f *fakeTransport) LocalID() NodeID                                 { return f.localID }
func (f *fakeTransport) ConnectionMade(fn func())                        {}
func (f *fakeTransport) RegisterCallback(method QueryMethod, cb QueryCallback) {}
func (f *fakeTransport) RunFuture(ctx context.Context, task func(context.Context)) {}

func (f *fakeTransport) CallRemote(ctx context.Context, endpoint Endpoint, method QueryMethod, args map[string]any) (map[string]any, error) {
	f.calls++

	responder, ok := lo.Find(f.world, func(n NodeRecord) bool {
		return n.Endpoint.IP.Equal(endpoint.IP) && n.Endpoint.Port == endpoint.Port
	})
	if !ok {
		return nil, errors.New("unknown endpoint")
	}

	targetRaw, _ := args["target"].(string)
	target, err := DecodeID([]byte(targetRaw))
	if err != nil {
		return nil, err
	}

	closest := KClosestOf(target, f.world, func(n NodeRecord) NodeID { return n.ID }, func(n NodeRecord) NodeRecord { return n }, 2)
	closest = lo.Filter(closest, func(n NodeRecord, _ int) bool { return n.ID != responder.ID })

	nodes, err := EncodeNodeRecords(closest)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"id":    string(responder.ID.Bytes()),
		"nodes": string(nodes),
	}, nil
}

func worldEndpoint(b byte) Endpoint {
	return Endpoint{IP: net.IPv4(10, 10, 0, b), Port: 2000 + int(b)}
}

func TestLookupEngine_FindNodeConverges(t *testing.T) {
	world := make([]NodeRecord, 0, 16)
	for i := byte(1); i <= 16; i++ {
		world = append(world, NodeRecord{ID: idOf(i), Endpoint: worldEndpoint(i)})
	}

	transport := &fakeTransport{localID: idOf(255), world: world}
	table := NewRoutingTable(transport.localID)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	engine := NewLookupEngine(transport, table, 2, time.Second, logger)

	target := idOf(1)
	seeds := []Endpoint{worldEndpoint(16)} // start far from the target

	_, err := engine.Run(context.Background(), target, OpFindNode, nil, seeds)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !table.Contains(target) {
		t.Fatal("lookup should have discovered the target node and added it to the routing table")
	}

	// with k=2 and 16 world nodes, convergence should take a handful of
	// rounds, nowhere near maxRounds.
	if transport.calls > 10 {
		t.Fatalf("calls = %d, expected convergence well under maxRounds*frontier", transport.calls)
	}
}

func TestLookupEngine_SelfResponsesAreExcluded(t *testing.T) {
	selfID := idOf(1)
	world := []NodeRecord{
		{ID: selfID, Endpoint: worldEndpoint(1)},
		{ID: idOf(2), Endpoint: worldEndpoint(2)},
	}

	transport := &fakeTransport{localID: selfID, world: world}
	table := NewRoutingTable(selfID)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	engine := NewLookupEngine(transport, table, 2, time.Second, logger)

	_, err := engine.Run(context.Background(), idOf(2), OpFindNode, nil, []Endpoint{worldEndpoint(1)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if table.Contains(selfID) {
		t.Fatal("a response echoing our own id must never be credited to the routing table")
	}
}
