package dht

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/prxssh/maindht/pkg/retry"
	"github.com/prxssh/maindht/pkg/utils/cast"
)

// Scheduler runs the three periodic maintenance tasks at a fixed
// cadence: refreshing stale/dead routing-table entries, rotating the
// token salt ring, and evicting expired peer-store entries.
type Scheduler struct {
	transport Transport
	table     *RoutingTable
	tokens    *TokenMinter
	peers     *PeerStore
	interval  time.Duration
	timeout   time.Duration
	logger    *slog.Logger
}

func NewScheduler(transport Transport, table *RoutingTable, tokens *TokenMinter, peers *PeerStore, interval, timeout time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		transport: transport,
		table:     table,
		tokens:    tokens,
		peers:     peers,
		interval:  interval,
		timeout:   timeout,
		logger:    logger,
	}
}

// Run blocks, executing one maintenance pass every interval until ctx is
// canceled. Intended to be handed to Transport.RunFuture.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	s.refreshNodes(ctx)
	s.tokens.Rotate()
	s.peers.EvictExpired(time.Now())
	s.logger.Debug("scheduler tick complete", "table_size", s.table.Size())
}

// refreshNodes pings every stale/dead endpoint concurrently and
// refreshes the liveness of whichever ones answer.
func (s *Scheduler) refreshNodes(ctx context.Context) {
	endpoints := s.table.EnumRefreshEndpoints(time.Now())
	if len(endpoints) == 0 {
		return
	}

	var g errgroup.Group
	for _, ep := range endpoints {
		ep := ep
		g.Go(func() error {
			s.ping(ctx, ep)
			return nil
		})
	}
	g.Wait()
}

// ping tries a single ping up to two times, with a fixed 200ms pause
// between the attempts, before giving up -- a dropped UDP datagram shouldn't immediately cost a
// borderline-stale node its spot in the table.
func (s *Scheduler) ping(ctx context.Context, ep Endpoint) {
	args := map[string]any{"id": string(s.transport.LocalID().Bytes())}

	var result map[string]any
	err := retry.Do(ctx, func(cctx context.Context) error {
		callCtx, cancel := context.WithTimeout(cctx, s.timeout)
		defer cancel()

		r, err := s.transport.CallRemote(callCtx, ep, PingMethod, args)
		if err != nil {
			return err
		}
		result = r
		return nil
	}, 2, 200*time.Millisecond)

	if err != nil || result == nil {
		return
	}

	idRaw, err := cast.ToBytes(result["id"])
	if err != nil {
		return
	}
	id, err := DecodeID(idRaw)
	if err != nil {
		return
	}

	s.table.Add(id, ep)
}
