package dht

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/prxssh/maindht/pkg/utils/cast"
)

// Operation selects which of the three lookup flavors a LookupEngine run
// performs; all three share the same convergent round procedure.
type Operation int

const (
	OpFindNode Operation = iota
	OpGetPeers
	OpAnnounce
)

// maxRounds is a hard safety cap on lookup iterations. Convergence
// happens in practice well before this in a healthy overlay; it exists
// only to bound a pathological or adversarial response stream.
const maxRounds = 20

// LookupEngine runs the iterative convergent search shared by bootstrap,
// get_peers, and announce: each round dispatches O to the whole frontier
// concurrently, awaits every response, and narrows the frontier to the k
// closest newly-seen candidates until a round yields no candidate that
// is not already known (or maxRounds is reached).
type LookupEngine struct {
	transport Transport
	table     *RoutingTable
	logger    *slog.Logger
	k         int
	timeout   time.Duration
}

func NewLookupEngine(transport Transport, table *RoutingTable, k int, timeout time.Duration, logger *slog.Logger) *LookupEngine {
	return &LookupEngine{transport: transport, table: table, k: k, timeout: timeout, logger: logger}
}

// roundResult is what a single dispatched query yields once decoded.
type roundResult struct {
	responder NodeRecord
	nodes     []NodeRecord
	values    []Endpoint
	token     []byte
	hasToken  bool
}

// Run drives the engine for target under op. port is consulted only for
// OpAnnounce: nil means "announce via implied_port", matching spec's
// "port or 0, implied_port = 1 if port is None else 0".
//
// seedEndpoints, when non-empty, seeds the first round's frontier
// directly -- used by bootstrap, which has no routing-table entries to
// draw k_closest from yet. A nil/empty seed list falls back to the
// routing table's current k closest to target, the normal case for
// get_peers and announce.
//
// Returns the accumulated peer endpoints for OpGetPeers (ErrNoPeersFound
// if none were found); the other two operations return a nil slice.
func (e *LookupEngine) Run(ctx context.Context, target NodeID, op Operation, port *int, seedEndpoints []Endpoint) ([]Endpoint, error) {
	var frontier []NodeRecord
	if len(seedEndpoints) > 0 {
		frontier = make([]NodeRecord, len(seedEndpoints))
		for i, ep := range seedEndpoints {
			frontier[i] = NodeRecord{Endpoint: ep}
		}
	} else {
		frontier = e.table.KClosest(target, e.k)
	}

	known := make(map[NodeID]struct{}, e.k*maxRounds)
	var values []Endpoint
	tokens := make(map[string]announceTarget)

	for round := 0; round < maxRounds && len(frontier) > 0; round++ {
		results := e.dispatchRound(ctx, target, op, frontier)

		candidatePool := make([]NodeRecord, 0, len(results)*e.k)
		seen := make(map[NodeID]struct{})

		for _, rr := range results {
			for _, n := range rr.nodes {
				if _, ok := seen[n.ID]; ok {
					continue
				}
				seen[n.ID] = struct{}{}
				candidatePool = append(candidatePool, n)
			}

			values = append(values, rr.values...)
			if rr.hasToken {
				tokens[rr.responder.Endpoint.String()] = announceTarget{endpoint: rr.responder.Endpoint, token: rr.token}
			}
			if op == OpFindNode {
				e.table.Add(rr.responder.ID, rr.responder.Endpoint)
			}
		}

		unseen := lo.Filter(candidatePool, func(n NodeRecord, _ int) bool {
			_, ok := known[n.ID]
			return !ok
		})

		closest := KClosestOf(target, unseen, func(n NodeRecord) NodeID { return n.ID }, func(n NodeRecord) NodeRecord { return n }, e.k)

		if len(closest) == 0 {
			break
		}

		for _, n := range candidatePool {
			known[n.ID] = struct{}{}
		}
		frontier = closest
	}

	switch op {
	case OpGetPeers:
		values = lo.UniqBy(values, func(ep Endpoint) string { return ep.String() })
		if len(values) == 0 {
			return nil, ErrNoPeersFound
		}
		return values, nil

	case OpAnnounce:
		e.announceAll(ctx, target, port, tokens)
		return nil, nil

	default: // OpFindNode
		return nil, nil
	}
}

// dispatchRound issues O against every member of frontier concurrently
// and awaits all of them, dropping any that failed, timed out, or
// resolved to our own ID.
func (e *LookupEngine) dispatchRound(ctx context.Context, target NodeID, op Operation, frontier []NodeRecord) []*roundResult {
	results := make([]*roundResult, len(frontier))

	var g errgroup.Group
	for i, node := range frontier {
		i, node := i, node
		g.Go(func() error {
			if rr, ok := e.dispatch(ctx, target, op, node); ok {
				results[i] = rr
			}
			return nil
		})
	}
	g.Wait()

	return lo.Filter(results, func(rr *roundResult, _ int) bool { return rr != nil })
}

// dispatch is the remote call wrapper (spec §4.7): encode args for O,
// invoke the transport with a per-call timeout, decode the result.
// Any failure -- transport error, schema mismatch, timeout, or a
// responder echoing our own ID -- collapses to (nil, false).
func (e *LookupEngine) dispatch(ctx context.Context, target NodeID, op Operation, to NodeRecord) (*roundResult, bool) {
	method, args := e.buildQuery(target, op)

	cctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	result, err := e.transport.CallRemote(cctx, to.Endpoint, method, args)
	if err != nil || result == nil {
		return nil, false
	}

	idRaw, err := cast.ToBytes(result["id"])
	if err != nil {
		return nil, false
	}
	responderID, err := DecodeID(idRaw)
	if err != nil {
		return nil, false
	}
	if responderID == e.transport.LocalID() {
		return nil, false
	}

	rr := &roundResult{responder: NodeRecord{ID: responderID, Endpoint: to.Endpoint}}

	if nodesRaw, err := cast.ToBytes(result["nodes"]); err == nil {
		if nodes, err := DecodeNodeRecords(nodesRaw); err == nil {
			rr.nodes = nodes
		}
	}

	if list, ok := result["values"].([]any); ok {
		for _, v := range list {
			b, err := cast.ToBytes(v)
			if err != nil {
				continue
			}
			if ep, err := DecodeEndpoint(b); err == nil {
				rr.values = append(rr.values, ep)
			}
		}
	}

	if tokenRaw, err := cast.ToBytes(result["token"]); err == nil {
		rr.token = tokenRaw
		rr.hasToken = true
	}

	return rr, true
}

func (e *LookupEngine) buildQuery(target NodeID, op Operation) (QueryMethod, map[string]any) {
	args := map[string]any{"id": string(e.transport.LocalID().Bytes())}

	switch op {
	case OpFindNode:
		args["target"] = string(target.Bytes())
		return FindNodeMethod, args
	default: // OpGetPeers, OpAnnounce both probe with get_peers to harvest tokens
		args["info_hash"] = string(target.Bytes())
		return GetPeersMethod, args
	}
}

// announceTarget pairs an endpoint that handed back a get_peers token with
// that token, keyed externally by the endpoint's canonical string form
// since Endpoint itself (embedding net.IP, a slice) isn't a valid map key.
type announceTarget struct {
	endpoint Endpoint
	token    []byte
}

// announceAll issues announce_peer concurrently to every endpoint that
// handed back a token during the converged get_peers-style probe.
func (e *LookupEngine) announceAll(ctx context.Context, infoHash NodeID, port *int, tokens map[string]announceTarget) {
	var g errgroup.Group
	for _, at := range tokens {
		at := at
		g.Go(func() error {
			e.callAnnouncePeer(ctx, at.endpoint, infoHash, port, at.token)
			return nil
		})
	}
	g.Wait()
}

func (e *LookupEngine) callAnnouncePeer(ctx context.Context, to Endpoint, infoHash NodeID, port *int, token []byte) {
	args := map[string]any{
		"id":        string(e.transport.LocalID().Bytes()),
		"info_hash": string(infoHash.Bytes()),
		"token":     string(token),
	}
	if port == nil {
		args["port"] = 0
		args["implied_port"] = 1
	} else {
		args["port"] = *port
		args["implied_port"] = 0
	}

	cctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if _, err := e.transport.CallRemote(cctx, to, AnnouncePeerMethod, args); err != nil {
		e.logger.Debug("announce_peer failed", "to", to, "info_hash", infoHash, "error", err)
	}
}
