package replay

import (
	"runtime"
	"sort"
	"sync/atomic"
)

const maxReplayWorkers = 16

// replayWorkerCount clamps the Phase 3 pool to both the spec's ceiling and
// the host's actual hardware concurrency, per spec.md §5.
func replayWorkerCount() int {
	n := runtime.GOMAXPROCS(0)
	if n > maxReplayWorkers {
		n = maxReplayWorkers
	}
	if n < 1 {
		n = 1
	}
	return n
}

// runPhase3 folds every user's raw event vector into a UserState, grounded
// on the teacher's internal/detector/detector.go worker-pool shape
// generalized from a channel of work items to a shared atomic counter, per
// spec.md §9: "do not spawn one task per user; a fixed pool of workers
// pulls the next unprocessed user index from a shared atomic counter."
func runPhase3(c *collector, m *metadata, p *progressCounters) []UserState {
	n := len(c.addrs)
	states := make([]UserState, n)

	var next atomic.Int64
	workers := replayWorkerCount()
	if workers > n {
		workers = n
	}

	done := make(chan struct{}, workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for {
				i := next.Add(1) - 1
				if i >= int64(n) {
					return
				}
				states[i] = replayUser(c.events[i], m)
				p.processedUsers.Add(1)
			}
		}()
	}
	for w := 0; w < workers; w++ {
		<-done
	}
	return states
}

// replayUser sorts one user's events by sort_key and folds them through
// the per-condition accounting rules in spec.md §4.5, emitting one
// Snapshot per applied event.
func replayUser(events []RawEvent, m *metadata) UserState {
	sorted := make([]RawEvent, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].SortKey < sorted[j].SortKey })

	states := make(map[uint32]*ReplayState)
	order := make([]uint32, 0)
	histories := make(map[uint32]*UserConditionHistory)

	for _, ev := range sorted {
		if int(ev.CondIdx) >= len(m.conditions) {
			continue
		}
		info := &m.conditions[ev.CondIdx]
		if info.outcomeCount > MaxOutcomes {
			continue
		}

		st, ok := states[ev.CondIdx]
		if !ok {
			st = &ReplayState{}
			states[ev.CondIdx] = st
			order = append(order, ev.CondIdx)
			histories[ev.CondIdx] = &UserConditionHistory{CondIdx: ev.CondIdx}
		}

		applyEvent(st, info, ev)

		histories[ev.CondIdx].Snapshots = append(histories[ev.CondIdx].Snapshots, Snapshot{
			SortKey:      ev.SortKey,
			Delta:        ev.Amount,
			Price:        ev.Price,
			Positions:    st.Positions,
			CostBasis:    sumCost(st),
			RealizedPnL:  st.RealizedPnL,
			EventType:    ev.Type,
			TokenIdx:     ev.TokenIdx,
			OutcomeCount: info.outcomeCount,
		})
	}

	conditions := make([]UserConditionHistory, 0, len(order))
	for _, idx := range order {
		conditions = append(conditions, *histories[idx])
	}
	return UserState{Conditions: conditions}
}

func sumCost(st *ReplayState) int64 {
	var total int64
	for _, c := range st.Cost {
		total += c
	}
	return total
}

// applyEvent dispatches one event onto a condition's running state per the
// ten accounting rules of spec.md §4.5.
func applyEvent(st *ReplayState, info *conditionInfo, ev RawEvent) {
	switch ev.Type {
	case EventBuy, EventFPMMBuy:
		applyBuy(st, ev.TokenIdx, ev.Amount, ev.Price)
	case EventSell, EventFPMMSell:
		applySell(st, ev.TokenIdx, ev.Amount, ev.Price)
	case EventSplit:
		applySplit(st, info, ev.Amount)
	case EventMerge:
		applyMerge(st, info, ev.Amount)
	case EventRedemption:
		applyRedemption(st, info, ev.TokenIdx, ev.Amount)
	case EventFPMMLPAdd:
		applyLPAdd(st, ev.Amount, ev.Price)
	case EventFPMMLPRemove:
		applyLPRemove(st, ev.Amount, ev.Price)
	case EventConvert:
		applyConvert(st, uint8(ev.Price), ev.Amount)
	case EventTransferIn:
		applyTransferIn(st, ev.TokenIdx, ev.Amount)
	case EventTransferOut:
		applyTransferOut(st, ev.TokenIdx, ev.Amount)
	}
}

func applyBuy(st *ReplayState, tokenIdx uint8, amount, price int64) {
	if tokenIdx >= MaxOutcomes {
		return
	}
	i := int(tokenIdx)
	st.Cost[i] += amount * price
	st.Positions[i] += amount
}

func applySell(st *ReplayState, tokenIdx uint8, amount, price int64) {
	if tokenIdx >= MaxOutcomes {
		return
	}
	i := int(tokenIdx)
	pos := st.Positions[i]
	if pos <= 0 {
		return
	}
	sold := amount
	if sold > pos {
		sold = pos
	}
	costRemoved := st.Cost[i] * sold / pos
	st.RealizedPnL += (sold*price - costRemoved) / 1_000_000
	st.Cost[i] -= costRemoved
	st.Positions[i] -= sold
}

func applySplit(st *ReplayState, info *conditionInfo, amount int64) {
	n := int(info.outcomeCount)
	if n == 0 {
		return
	}
	p := int64(1_000_000) / int64(n)
	for i := 0; i < n && i < MaxOutcomes; i++ {
		st.Cost[i] += amount * p
		st.Positions[i] += amount
	}
}

func applyMerge(st *ReplayState, info *conditionInfo, amount int64) {
	n := int(info.outcomeCount)
	if n == 0 {
		return
	}
	p := int64(1_000_000) / int64(n)
	for i := 0; i < n && i < MaxOutcomes; i++ {
		applySell(st, uint8(i), amount, p)
	}
}

// payout (the event's total collateral transferred) is informational only;
// the per-outcome numerators already on the condition drive accounting.
func applyRedemption(st *ReplayState, info *conditionInfo, indexSets uint8, _ int64) {
	if info.payoutNumerators == nil {
		return // unresolved condition: counted by the caller, not replayed
	}
	for i := 0; i < MaxOutcomes; i++ {
		if indexSets&(1<<uint(i)) == 0 {
			continue
		}
		if i >= len(info.payoutNumerators) {
			continue
		}
		st.RealizedPnL += st.Positions[i]*info.payoutNumerators[i] - st.Cost[i]
		st.Positions[i] = 0
		st.Cost[i] = 0
	}
}

func applyLPAdd(st *ReplayState, amount0, amount1 int64) {
	total := amount0 + amount1
	if total == 0 {
		return
	}
	amounts := [2]int64{amount0, amount1}
	for i := 0; i < 2; i++ {
		p := amounts[i] * 1_000_000 / total
		st.Cost[i] += amounts[i] * p
		st.Positions[i] += amounts[i]
	}
}

func applyLPRemove(st *ReplayState, amount0, amount1 int64) {
	total := amount0 + amount1
	if total == 0 {
		return
	}
	amounts := [2]int64{amount0, amount1}
	for i := 0; i < 2; i++ {
		p := amounts[i] * 1_000_000 / total
		applySell(st, uint8(i), amounts[i], p)
	}
}

func applyConvert(st *ReplayState, indexSet uint8, amount int64) {
	n := popcount(indexSet)
	if n > 1 {
		st.RealizedPnL += int64(n-1) * amount
	}
}

func popcount(b uint8) int {
	n := 0
	for b != 0 {
		n += int(b & 1)
		b >>= 1
	}
	return n
}

func applyTransferIn(st *ReplayState, tokenIdx uint8, amount int64) {
	if tokenIdx >= MaxOutcomes {
		return
	}
	st.Positions[tokenIdx] += amount
}

func applyTransferOut(st *ReplayState, tokenIdx uint8, amount int64) {
	if tokenIdx >= MaxOutcomes {
		return
	}
	i := int(tokenIdx)
	pos := st.Positions[i]
	if pos <= 0 {
		return
	}
	actual := amount
	if actual > pos {
		actual = pos
	}
	costRemoved := st.Cost[i] * actual / pos
	st.Cost[i] -= costRemoved
	st.Positions[i] -= actual
}
