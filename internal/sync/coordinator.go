// Package sync drives the ingestion pipeline: the IDLE/HEAD/PLAN/FETCH/
// DECODE/WRITE state machine spec.md §4.4 describes, adaptive batch
// sizing with halving backoff, the five-way topic-group eth_getLogs
// fan-out, and the rolling throughput estimator the Query Server reports.
// Grounded on the teacher's internal/ingestion/service.go (the
// mutex-guarded status snapshot, the Run(ctx)-returns-error loop shape)
// and original_source/sync/sync_coordinator.hpp (the exact state machine
// and batch sizing rules).
package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog/log"

	"polyindex/internal/config"
	"polyindex/internal/decode"
	"polyindex/internal/fatal"
	"polyindex/internal/metrics"
	"polyindex/internal/rpcclient"
	"polyindex/internal/store"
)

// backoffDelay is the wait between a failed FETCH and the retry, per
// spec.md §4.4. Kept as a var (not const) so tests can shrink it.
var backoffDelay = 5 * time.Second

// Status is the point-in-time snapshot spec.md §4.4 calls SyncStatus:
// is_syncing, head_block, blocks_per_second, bytes_per_block. Polled by
// the Query Server, never streamed except over the supplemental
// /api/ws/sync-status push.
type Status struct {
	IsSyncing       bool    `json:"is_syncing"`
	HeadBlock       int64   `json:"head_block"`
	LastBlock       int64   `json:"last_block"`
	BlocksPerSecond float64 `json:"blocks_per_second"`
	BytesPerBlock   float64 `json:"bytes_per_block"`
}

// Coordinator owns the RPC client, the Store write path, and the
// in-progress FPMM pool discovery set for the lifetime of the process.
type Coordinator struct {
	client *rpcclient.Client
	store  *store.Store
	m      *metrics.Metrics

	targetBatch     int64
	intervalSeconds int
	initialBlock    int64

	mu        sync.RWMutex
	status    Status
	knownFPMM map[common.Address]struct{}
	tput      throughputEstimator
}

// New constructs a Coordinator. knownFPMM is seeded from previously
// discovered pools so a restart doesn't need to rediscover every pool
// from genesis (SPEC_FULL.md §4.4).
func New(cfg *config.Config, client *rpcclient.Client, st *store.Store, m *metrics.Metrics) (*Coordinator, error) {
	known, err := seedKnownFPMM(st)
	if err != nil {
		return nil, fmt.Errorf("seeding known FPMM pools: %w", err)
	}
	return &Coordinator{
		client:          client,
		store:           st,
		m:               m,
		targetBatch:     int64(cfg.SyncBatchSize),
		intervalSeconds: cfg.SyncIntervalSeconds,
		initialBlock:    cfg.InitialBlock,
		knownFPMM:       known,
	}, nil
}

func seedKnownFPMM(st *store.Store) (map[common.Address]struct{}, error) {
	rows, err := st.QueryRows(context.Background(), "SELECT fpmm_addr FROM fpmm")
	if err != nil {
		return nil, err
	}
	known := make(map[common.Address]struct{}, len(rows))
	for _, row := range rows {
		b, ok := row["fpmm_addr"].([]byte)
		if !ok {
			continue
		}
		known[common.BytesToAddress(b)] = struct{}{}
	}
	return known, nil
}

// Status returns the current point-in-time sync status.
func (c *Coordinator) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

func (c *Coordinator) setStatus(fn func(*Status)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.status)
}

// Run drives the IDLE/HEAD/PLAN/FETCH/DECODE/WRITE loop until ctx is
// canceled. It never returns a non-nil error for ordinary RPC hiccups
// (those backoff-and-retry); it only returns once ctx is done.
func (c *Coordinator) Run(ctx context.Context) error {
	batch := c.targetBatch
	interval := time.Duration(c.intervalSeconds) * time.Second

	for {
		if ctx.Err() != nil {
			return nil
		}

		head, err := c.headBlock(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("sync: head_block failed, idling")
			if !sleepCtx(ctx, interval) {
				return nil
			}
			continue
		}

		lastBlock, err := c.store.LastBlock(ctx)
		if err != nil {
			fatal.OnErr(err, "sync: reading last_block failed")
		}
		from := lastBlock + 1
		if lastBlock == -1 {
			from = c.initialBlock
		}

		if from > head {
			c.setStatus(func(s *Status) {
				s.IsSyncing = false
				s.HeadBlock = head
				s.LastBlock = lastBlock
			})
			if !sleepCtx(ctx, interval) {
				return nil
			}
			continue
		}

		c.setStatus(func(s *Status) { s.IsSyncing = true; s.HeadBlock = head })

		for from <= head {
			if ctx.Err() != nil {
				return nil
			}

			to := from + batch - 1
			if to > head {
				to = head
			}

			windowStart := time.Now()
			logs, bytesReceived, err := c.fetchWindow(ctx, from, to)
			if err != nil {
				c.m.RecordRPCError()
				batch = maxInt64(1, batch/2)
				log.Warn().Err(err).Int64("from", from).Int64("to", to).Int64("batch", batch).
					Msg("sync: fetch failed, halving batch and backing off")
				if !sleepCtx(ctx, backoffDelay) {
					return nil
				}
				continue
			}
			c.m.RecordFetchLatency(time.Since(windowStart))
			c.m.RecordRPCBytesReceived(bytesReceived)

			events, err := decode.Decode(logs, c.knownFPMM)
			fatal.OnErr(err, "sync: decode failed", "from", from, "to", to)

			writeStart := time.Now()
			err = c.store.AtomicMultiInsert(ctx, events, to)
			fatal.OnErr(err, "sync: store write failed", "from", from, "to", to)
			c.m.RecordWriteLatency(time.Since(writeStart))

			blocks := to - from + 1
			c.m.RecordBlocksSynced(uint64(blocks))
			c.m.SetSyncLag(uint64(head - to))
			c.recordRowCounts(events)

			c.mu.Lock()
			c.tput.record(blocks, bytesReceived, time.Now())
			bps, bpb := c.tput.estimate()
			c.status.LastBlock = to
			c.status.BlocksPerSecond = bps
			c.status.BytesPerBlock = bpb
			c.mu.Unlock()

			batch = c.targetBatch
			c.m.SetSyncBatchSize(int(batch))
			from = to + 1
		}

		c.setStatus(func(s *Status) { s.IsSyncing = false })
		if !sleepCtx(ctx, interval) {
			return nil
		}
	}
}

func (c *Coordinator) headBlock(ctx context.Context) (int64, error) {
	head, err := c.client.HeadBlock(ctx)
	if err != nil {
		c.m.RecordRPCError()
		return 0, err
	}
	return head, nil
}

// fetchWindow issues the five-way topic-group fan-out and concatenates
// results into one log list, per spec.md §4.4.
func (c *Coordinator) fetchWindow(ctx context.Context, from, to int64) ([]types.Log, int64, error) {
	groups := topicGroups()
	queries := make([]rpcclient.LogQuery, len(groups))
	for i, g := range groups {
		queries[i] = rpcclient.LogQuery{Address: g.address, FromBlock: from, ToBlock: to, Topic0: g.topics}
	}

	results, bytesReceived, err := c.client.GetLogsBatch(ctx, queries)
	if err != nil {
		return nil, 0, err
	}

	var all []types.Log
	for i, r := range results {
		c.m.RecordLogsFetched(groups[i].label, len(r.Logs))
		all = append(all, r.Logs...)
	}
	return all, bytesReceived, nil
}

func (c *Coordinator) recordRowCounts(events *decode.ParsedEvents) {
	c.m.RecordRowsWritten("transfer", len(events.Transfer))
	c.m.RecordRowsWritten("split", len(events.Split))
	c.m.RecordRowsWritten("merge", len(events.Merge))
	c.m.RecordRowsWritten("redemption", len(events.Redemption))
	c.m.RecordRowsWritten("condition_preparation", len(events.ConditionPreparation))
	c.m.RecordRowsWritten("condition_resolution", len(events.ConditionResolution))
	c.m.RecordRowsWritten("order_filled", len(events.OrderFilled))
	c.m.RecordRowsWritten("token_map", len(events.TokenMap))
	c.m.RecordRowsWritten("convert", len(events.Convert))
	c.m.RecordRowsWritten("neg_risk_market", len(events.NegRiskMarket))
	c.m.RecordRowsWritten("neg_risk_question", len(events.NegRiskQuestion))
	c.m.RecordRowsWritten("fpmm", len(events.FPMM))
	c.m.RecordRowsWritten("fpmm_trade", len(events.FPMMTrade))
	c.m.RecordRowsWritten("fpmm_funding", len(events.FPMMFunding))
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// sleepCtx sleeps for d or returns false early if ctx is canceled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
