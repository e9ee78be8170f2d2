package replay

import "sync/atomic"

// progressCounters backs RebuildProgress with plain atomics, per spec.md
// §5's "Replay progress counters: atomic integers" — no mutex needed since
// every field is independent and readers only ever want a snapshot, not a
// consistent multi-field view.
type progressCounters struct {
	phase           atomic.Int64
	totalConditions atomic.Int64
	totalTokens     atomic.Int64
	totalEvents     atomic.Int64
	totalUsers      atomic.Int64
	processedUsers  atomic.Int64
	running         atomic.Bool
	phase1Micros    atomic.Int64
	phase2Micros    atomic.Int64
	phase3Micros    atomic.Int64

	orderFilledRows   atomic.Int64
	orderFilledEvents atomic.Int64
	splitRows         atomic.Int64
	splitEvents       atomic.Int64
	mergeRows         atomic.Int64
	mergeEvents       atomic.Int64
	redemptionRows    atomic.Int64
	redemptionEvents  atomic.Int64
	fpmmTradeRows     atomic.Int64
	fpmmTradeEvents   atomic.Int64
	fpmmFundingRows   atomic.Int64
	fpmmFundingEvents atomic.Int64
	convertRows       atomic.Int64
	convertEvents     atomic.Int64
	transferRows      atomic.Int64
	transferEvents    atomic.Int64
}

func (p *progressCounters) snapshot() RebuildProgress {
	return RebuildProgress{
		Phase:             int(p.phase.Load()),
		TotalConditions:   p.totalConditions.Load(),
		TotalTokens:       p.totalTokens.Load(),
		TotalEvents:       p.totalEvents.Load(),
		TotalUsers:        p.totalUsers.Load(),
		ProcessedUsers:    p.processedUsers.Load(),
		Running:           p.running.Load(),
		Phase1Ms:          float64(p.phase1Micros.Load()) / 1000,
		Phase2Ms:          float64(p.phase2Micros.Load()) / 1000,
		Phase3Ms:          float64(p.phase3Micros.Load()) / 1000,
		OrderFilledRows:   p.orderFilledRows.Load(),
		OrderFilledEvents: p.orderFilledEvents.Load(),
		SplitRows:         p.splitRows.Load(),
		SplitEvents:       p.splitEvents.Load(),
		MergeRows:         p.mergeRows.Load(),
		MergeEvents:       p.mergeEvents.Load(),
		RedemptionRows:    p.redemptionRows.Load(),
		RedemptionEvents:  p.redemptionEvents.Load(),
		FPMMTradeRows:     p.fpmmTradeRows.Load(),
		FPMMTradeEvents:   p.fpmmTradeEvents.Load(),
		FPMMFundingRows:   p.fpmmFundingRows.Load(),
		FPMMFundingEvents: p.fpmmFundingEvents.Load(),
		ConvertRows:       p.convertRows.Load(),
		ConvertEvents:     p.convertEvents.Load(),
		TransferRows:      p.transferRows.Load(),
		TransferEvents:    p.transferEvents.Load(),
	}
}
