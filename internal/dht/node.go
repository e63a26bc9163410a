package dht

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Config carries every tunable the facade and its owned components need,
// defaulted to the wire constants spec.md pins.
type Config struct {
	LocalID NodeID
	Logger  *slog.Logger

	K              int           // k-closest width (bucket capacity is the Capacity constant)
	RPCTimeout     time.Duration // per-call_remote deadline
	SchedulerEvery time.Duration // refresh/rotate/evict cadence
}

func DefaultConfig(localID NodeID) *Config {
	return &Config{
		LocalID:        localID,
		Logger:         slog.Default(),
		K:              DefaultK,
		RPCTimeout:     3 * time.Second,
		SchedulerEvery: 60 * time.Second,
	}
}

// DhtNode binds the routing table, peer store, token minter, query
// handlers, lookup engine, and periodic scheduler into the single
// object an embedder talks to. It owns every piece of mutable state
// except the transport, which is supplied by the caller so that the
// core never imports the wire-level package.
type DhtNode struct {
	cfg       *Config
	transport Transport

	table    *RoutingTable
	peers    *PeerStore
	tokens   *TokenMinter
	handlers *QueryHandlers
	lookup   *LookupEngine
	sched    *Scheduler

	mu      sync.RWMutex
	started bool
	cancel  context.CancelFunc
}

// NewDhtNode wires every component and registers the four query
// handlers on transport. The node is inert until Start is called.
func NewDhtNode(cfg *Config, transport Transport) *DhtNode {
	table := NewRoutingTable(cfg.LocalID)
	peers := NewPeerStore()
	tokens := NewTokenMinter()
	handlers := NewQueryHandlers(table, peers, tokens, cfg.K, cfg.Logger)
	lookup := NewLookupEngine(transport, table, cfg.K, cfg.RPCTimeout, cfg.Logger)
	sched := NewScheduler(transport, table, tokens, peers, cfg.SchedulerEvery, cfg.RPCTimeout, cfg.Logger)

	handlers.Register(transport)

	return &DhtNode{
		cfg:       cfg,
		transport: transport,
		table:     table,
		peers:     peers,
		tokens:    tokens,
		handlers:  handlers,
		lookup:    lookup,
		sched:     sched,
	}
}

// Start arms the ConnectionMade hook and backgrounds the periodic
// scheduler. It returns immediately; shutdown is driven by Stop.
func (n *DhtNode) Start(ctx context.Context) {
	n.mu.Lock()
	if n.started {
		n.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	n.cancel = cancel
	n.started = true
	n.mu.Unlock()

	n.transport.ConnectionMade(func() {
		n.cfg.Logger.Info("dht: node ready", "local_id", n.cfg.LocalID.String())
	})
	n.transport.RunFuture(runCtx, n.sched.Run)
}

// Stop cancels the scheduler and marks the node not-started. Idempotent.
func (n *DhtNode) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.started {
		return
	}
	n.cancel()
	n.started = false
}

func (n *DhtNode) isStarted() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.started
}

// Bootstrap seeds the routing table from initialPeers via a FIND_NODE
// lookup for our own ID.
func (n *DhtNode) Bootstrap(ctx context.Context, initialPeers []Endpoint) error {
	if !n.isStarted() {
		return ErrNotStarted
	}

	n.cfg.Logger.Info("dht: bootstrap starting", "seeds", len(initialPeers))
	_, err := n.lookup.Run(ctx, n.cfg.LocalID, OpFindNode, nil, initialPeers)
	if err != nil {
		return err
	}

	n.cfg.Logger.Info("dht: bootstrap converged", "table_size", n.table.Size())
	return nil
}

// GetPeers runs a convergent GET_PEERS lookup for infoHash and returns
// the peers discovered, or ErrNoPeersFound if none were.
func (n *DhtNode) GetPeers(ctx context.Context, infoHash NodeID) ([]Endpoint, error) {
	if !n.isStarted() {
		return nil, ErrNotStarted
	}

	return n.lookup.Run(ctx, infoHash, OpGetPeers, nil, nil)
}

// Announce runs a convergent ANNOUNCE lookup for infoHash: it first
// converges like GetPeers to collect tokens from the closest nodes, then
// issues announce_peer to each of them concurrently. A nil port
// announces via implied_port.
func (n *DhtNode) Announce(ctx context.Context, infoHash NodeID, port *int) error {
	if !n.isStarted() {
		return ErrNotStarted
	}

	_, err := n.lookup.Run(ctx, infoHash, OpAnnounce, port, nil)
	return err
}

// LocalID returns the node's own 160-bit identity.
func (n *DhtNode) LocalID() NodeID { return n.cfg.LocalID }

// RoutingTableSize returns the number of nodes currently tracked, for
// diagnostics/metrics.
func (n *DhtNode) RoutingTableSize() int { return n.table.Size() }
