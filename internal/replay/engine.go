package replay

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"polyindex/internal/metrics"
	"polyindex/internal/store"
)

// result is one completed rebuild's immutable output, swapped in atomically
// so read APIs never block behind an in-flight TriggerRebuild.
type result struct {
	meta   *metadata
	users  []UserState
	addrs  []string
	byAddr map[string]int
}

// Engine orchestrates the three replay phases and serves the read APIs
// spec.md §4.5 defines over the latest completed run. Grounded on the
// teacher's internal/ingestion/service.go single-flight run pattern,
// generalized from "one sync loop" to "one rebuild in flight at a time".
type Engine struct {
	store   *store.Store
	metrics *metrics.Metrics

	running  atomic.Bool
	progress progressCounters
	latest   atomic.Pointer[result]
}

// ErrRebuildInProgress is returned by TriggerRebuild when a run is already
// in flight; the query server maps this to HTTP 409.
var ErrRebuildInProgress = fmt.Errorf("replay rebuild already in progress")

// NewEngine constructs an Engine over the given store.
func NewEngine(s *store.Store, m *metrics.Metrics) *Engine {
	return &Engine{store: s, metrics: m}
}

// Progress returns a snapshot of the current or most recent rebuild's counters.
func (e *Engine) Progress() RebuildProgress {
	return e.progress.snapshot()
}

// TriggerRebuild starts a rebuild in a background goroutine if one isn't
// already running, per spec.md §5: "A second rebuild POST while one is
// running returns 409 and does not block."
func (e *Engine) TriggerRebuild(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrRebuildInProgress
	}
	go e.runRebuild(ctx)
	return nil
}

func (e *Engine) runRebuild(ctx context.Context) {
	defer e.running.Store(false)
	e.progress = progressCounters{}
	e.progress.running.Store(true)
	defer e.progress.running.Store(false)

	e.progress.phase.Store(1)
	t0 := time.Now()
	meta, err := loadMetadata(ctx, e.store)
	if err != nil {
		log.Error().Err(err).Msg("replay phase 1 failed")
		return
	}
	e.progress.phase1Micros.Store(time.Since(t0).Microseconds())
	e.progress.totalConditions.Store(int64(len(meta.conditions)))
	if e.metrics != nil {
		e.metrics.RecordReplayPhaseLatency("metadata", time.Since(t0))
	}

	e.progress.phase.Store(2)
	t1 := time.Now()
	c, err := collectEvents(ctx, e.store, meta, &e.progress)
	if err != nil {
		log.Error().Err(err).Msg("replay phase 2 failed")
		return
	}
	e.progress.phase2Micros.Store(time.Since(t1).Microseconds())
	e.progress.totalUsers.Store(int64(len(c.addrs)))
	var totalEvents int64
	for _, ev := range c.events {
		totalEvents += int64(len(ev))
	}
	e.progress.totalEvents.Store(totalEvents)
	if e.metrics != nil {
		e.metrics.RecordReplayPhaseLatency("collect", time.Since(t1))
	}

	e.progress.phase.Store(3)
	t2 := time.Now()
	users := runPhase3(c, meta, &e.progress)
	e.progress.phase3Micros.Store(time.Since(t2).Microseconds())
	if e.metrics != nil {
		e.metrics.RecordReplayPhaseLatency("accounting", time.Since(t2))
		e.metrics.SetReplayStats(len(c.addrs), int(totalEvents))
		e.metrics.RecordReplayRun()
	}

	byAddr := make(map[string]int, len(c.addrs))
	for i, addr := range c.addrs {
		byAddr[addr] = i
	}
	e.latest.Store(&result{meta: meta, users: users, addrs: c.addrs, byAddr: byAddr})
	e.progress.phase.Store(0)
}

func (e *Engine) lookup(addr string) (*result, int, bool) {
	r := e.latest.Load()
	if r == nil {
		return nil, 0, false
	}
	i, ok := r.byAddr[hexKey(addr)]
	if !ok {
		return r, 0, false
	}
	return r, i, true
}

// UserState returns the full replay result for one address.
func (e *Engine) UserState(addr string) (UserState, bool) {
	r, i, ok := e.lookup(addr)
	if !ok {
		return UserState{}, false
	}
	return r.users[i], true
}

// UserTimeline returns one address's events across all conditions, sorted
// by sort_key, each entry annotated with the running count of distinct
// tokens the user has ever held a nonzero position in.
func (e *Engine) UserTimeline(addr string) ([]TimelineEntry, bool) {
	r, i, ok := e.lookup(addr)
	if !ok {
		return nil, false
	}
	state := r.users[i]

	type flat struct {
		cond UserConditionHistory
		snap Snapshot
	}
	var flats []flat
	for _, cond := range state.Conditions {
		for _, s := range cond.Snapshots {
			flats = append(flats, flat{cond: cond, snap: s})
		}
	}
	sort.Slice(flats, func(i, j int) bool { return flats[i].snap.SortKey < flats[j].snap.SortKey })

	held := make(map[string]struct{})
	entries := make([]TimelineEntry, 0, len(flats))
	for _, f := range flats {
		if f.snap.TokenIdx != AllOutcomes {
			key := fmt.Sprintf("%d:%d", f.cond.CondIdx, f.snap.TokenIdx)
			if f.snap.Positions[minInt(int(f.snap.TokenIdx), MaxOutcomes-1)] != 0 {
				held[key] = struct{}{}
			}
		}
		entries = append(entries, TimelineEntry{
			SortKey:                  f.snap.SortKey,
			EventType:                f.snap.EventType,
			RealizedPnLAtEvent:       f.snap.RealizedPnL,
			Delta:                    f.snap.Delta,
			Price:                    f.snap.Price,
			CondIdx:                  f.cond.CondIdx,
			TokenIdx:                 f.snap.TokenIdx,
			CumulativeDistinctTokens: len(held),
		})
	}
	return entries, true
}

// PositionsAt returns, per condition, the snapshot with the largest
// sort_key not exceeding the query point — a binary search per condition
// per spec.md §4.5's positions_at definition. Conditions with a zero
// position and zero realized PnL at that point are omitted.
func (e *Engine) PositionsAt(addr string, sortKeyQuery int64) ([]ConditionPosition, bool) {
	r, i, ok := e.lookup(addr)
	if !ok {
		return nil, false
	}
	state := r.users[i]

	out := make([]ConditionPosition, 0, len(state.Conditions))
	for _, cond := range state.Conditions {
		snaps := cond.Snapshots
		idx := sort.Search(len(snaps), func(k int) bool { return snaps[k].SortKey > sortKeyQuery }) - 1
		if idx < 0 {
			continue
		}
		s := snaps[idx]
		zeroPositions := true
		for _, p := range s.Positions {
			if p != 0 {
				zeroPositions = false
				break
			}
		}
		if zeroPositions && s.RealizedPnL == 0 {
			continue
		}
		out = append(out, ConditionPosition{
			CondIdx:     cond.CondIdx,
			Positions:   s.Positions,
			CostBasis:   s.CostBasis,
			RealizedPnL: s.RealizedPnL,
			LastEvent:   s.EventType,
		})
	}
	return out, true
}

// ActivePositions returns a user's current (latest-snapshot) position per
// condition, applying the same zero-position/zero-PnL filter PositionsAt
// uses at a query point — here against the last snapshot of each
// condition's history rather than a sort_key cutoff.
func (e *Engine) ActivePositions(addr string) ([]ConditionPosition, bool) {
	r, i, ok := e.lookup(addr)
	if !ok {
		return nil, false
	}
	state := r.users[i]

	out := make([]ConditionPosition, 0, len(state.Conditions))
	for _, cond := range state.Conditions {
		if len(cond.Snapshots) == 0 {
			continue
		}
		s := cond.Snapshots[len(cond.Snapshots)-1]
		zeroPositions := true
		for _, p := range s.Positions {
			if p != 0 {
				zeroPositions = false
				break
			}
		}
		if zeroPositions && s.RealizedPnL == 0 {
			continue
		}
		out = append(out, ConditionPosition{
			CondIdx:     cond.CondIdx,
			Positions:   s.Positions,
			CostBasis:   s.CostBasis,
			RealizedPnL: s.RealizedPnL,
			LastEvent:   s.EventType,
		})
	}
	return out, true
}

// TradesNear returns every event within [center-radius, center+radius] of
// sort_key across all of a user's conditions, plus center_offset: the
// index within the returned (sort_key ascending) window of the first
// entry with sort_key >= center, per spec.md §4.5's trades_near definition.
func (e *Engine) TradesNear(addr string, center, radius int64) ([]TradeEntry, int, bool) {
	r, i, ok := e.lookup(addr)
	if !ok {
		return nil, 0, false
	}
	state := r.users[i]

	lo, hi := center-radius, center+radius
	var out []TradeEntry
	for _, cond := range state.Conditions {
		for _, s := range cond.Snapshots {
			if s.SortKey < lo || s.SortKey > hi {
				continue
			}
			out = append(out, TradeEntry{
				SortKey:   s.SortKey,
				CondIdx:   cond.CondIdx,
				EventType: s.EventType,
				TokenIdx:  s.TokenIdx,
				Delta:     s.Delta,
				Price:     s.Price,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SortKey < out[j].SortKey })

	centerOffset := sort.Search(len(out), func(k int) bool { return out[k].SortKey >= center })
	return out, centerOffset, true
}

// UsersSorted returns up to limit users, ranked by total event count
// descending, per spec.md §4.5's users_sorted definition.
func (e *Engine) UsersSorted(limit int) []UserSummary {
	r := e.latest.Load()
	if r == nil {
		return nil
	}
	summaries := make([]UserSummary, len(r.addrs))
	for i, addr := range r.addrs {
		count := 0
		for _, cond := range r.users[i].Conditions {
			count += len(cond.Snapshots)
		}
		summaries[i] = UserSummary{Address: addr, EventCount: count}
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].EventCount > summaries[j].EventCount })
	if limit > 0 && limit < len(summaries) {
		summaries = summaries[:limit]
	}
	return summaries
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
