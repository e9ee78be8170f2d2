// Package replay implements the three-phase PnL replay engine: metadata
// load, parallel event collection per interned user, and a worker-pooled
// per-user accounting pass that produces snapshot chains. Field layouts
// are grounded on original_source/rebuild/rebuilder_types.hpp; the phase
// bodies (rebuilder.hpp survives in the pack only as an empty stub) are
// original to this repo, grounded instead on the teacher's
// internal/curator/bootstrap.go batch-fetch shape and
// internal/detector/detector.go's atomic work-stealing worker pool.
package replay

// MaxOutcomes bounds every per-condition positions/cost array. Conditions
// reporting more outcomes than this have their events skipped and counted
// (spec boundary behavior), never overflowed into a slice.
const MaxOutcomes = 8

// EventType is the closed set of accounting events Phase 3 dispatches on.
type EventType uint8

const (
	EventBuy EventType = iota
	EventSell
	EventSplit
	EventMerge
	EventRedemption
	EventFPMMBuy
	EventFPMMSell
	EventFPMMLPAdd
	EventFPMMLPRemove
	EventConvert
	EventTransferIn
	EventTransferOut
)

func (t EventType) String() string {
	switch t {
	case EventBuy:
		return "Buy"
	case EventSell:
		return "Sell"
	case EventSplit:
		return "Split"
	case EventMerge:
		return "Merge"
	case EventRedemption:
		return "Redemption"
	case EventFPMMBuy:
		return "FPMMBuy"
	case EventFPMMSell:
		return "FPMMSell"
	case EventFPMMLPAdd:
		return "FPMMLPAdd"
	case EventFPMMLPRemove:
		return "FPMMLPRemove"
	case EventConvert:
		return "Convert"
	case EventTransferIn:
		return "TransferIn"
	case EventTransferOut:
		return "TransferOut"
	default:
		return "Unknown"
	}
}

// AllOutcomes is the token_idx sentinel meaning "applies to every outcome
// of the condition" (split, merge, LP, convert). Redemption events carry
// their index_sets bitmask in token_idx instead.
const AllOutcomes = 0xFF

// conditionInfo is the Phase 1 in-memory projection of one condition row.
type conditionInfo struct {
	outcomeCount     uint8
	payoutNumerators []int64 // nil until resolved
}

// RawEvent is one decoded accounting event awaiting Phase 3 replay,
// carrying the 32-byte original_source layout's fields without the C
// struct's explicit padding (Go has no need to pack this in memory).
type RawEvent struct {
	SortKey  int64
	CondIdx  uint32
	Type     EventType
	TokenIdx uint8
	Amount   int64
	Price    int64 // overloaded as auxiliary data for non-trade events
}

// Snapshot is one point-in-time balance record appended after an event is
// applied, per spec.md §4.5 Phase 3 step 4.
type Snapshot struct {
	SortKey      int64
	Delta        int64
	Price        int64
	Positions    [MaxOutcomes]int64
	CostBasis    int64
	RealizedPnL  int64
	EventType    EventType
	TokenIdx     uint8
	OutcomeCount uint8
}

// UserConditionHistory is the snapshot chain for one (user, condition) pair.
type UserConditionHistory struct {
	CondIdx   uint32
	Snapshots []Snapshot
}

// UserState is the durable per-user replay result: the full set of
// conditions the user touched, each with its ordered snapshot chain.
type UserState struct {
	Conditions []UserConditionHistory
}

// ReplayState is a worker's scratch accumulator for one (user, condition)
// pair while folding its event vector; discarded once the Snapshot chain
// is appended.
type ReplayState struct {
	Positions   [MaxOutcomes]int64
	Cost        [MaxOutcomes]int64
	RealizedPnL int64
}

// RebuildProgress is the read model for /api/rebuild-status, field-for-field
// the counter set original_source/rebuild/rebuilder_types.hpp defines.
type RebuildProgress struct {
	Phase           int     `json:"phase"`
	TotalConditions int64   `json:"total_conditions"`
	TotalTokens     int64   `json:"total_tokens"`
	TotalEvents     int64   `json:"total_events"`
	TotalUsers      int64   `json:"total_users"`
	ProcessedUsers  int64   `json:"processed_users"`
	Running         bool    `json:"running"`
	Phase1Ms        float64 `json:"phase1_ms"`
	Phase2Ms        float64 `json:"phase2_ms"`
	Phase3Ms        float64 `json:"phase3_ms"`

	OrderFilledRows   int64 `json:"order_filled_rows"`
	OrderFilledEvents int64 `json:"order_filled_events"`
	SplitRows         int64 `json:"split_rows"`
	SplitEvents       int64 `json:"split_events"`
	MergeRows         int64 `json:"merge_rows"`
	MergeEvents       int64 `json:"merge_events"`
	RedemptionRows    int64 `json:"redemption_rows"`
	RedemptionEvents  int64 `json:"redemption_events"`
	FPMMTradeRows     int64 `json:"fpmm_trade_rows"`
	FPMMTradeEvents   int64 `json:"fpmm_trade_events"`
	FPMMFundingRows   int64 `json:"fpmm_funding_rows"`
	FPMMFundingEvents int64 `json:"fpmm_funding_events"`
	ConvertRows       int64 `json:"convert_rows"`
	ConvertEvents     int64 `json:"convert_events"`
	TransferRows      int64 `json:"transfer_rows"`
	TransferEvents    int64 `json:"transfer_events"`
}

// TimelineEntry is one row of user_timeline's output.
type TimelineEntry struct {
	SortKey                  int64     `json:"sort_key"`
	EventType                EventType `json:"event_type"`
	RealizedPnLAtEvent       int64     `json:"realized_pnl_at_event"`
	Delta                    int64     `json:"delta"`
	Price                    int64     `json:"price"`
	CondIdx                  uint32    `json:"cond_idx"`
	TokenIdx                 uint8     `json:"token_idx"`
	CumulativeDistinctTokens int       `json:"cumulative_distinct_tokens_held"`
}

// ConditionPosition is one row of positions_at's output.
type ConditionPosition struct {
	CondIdx     uint32             `json:"cond_idx"`
	Positions   [MaxOutcomes]int64 `json:"positions"`
	CostBasis   int64              `json:"cost_basis"`
	RealizedPnL int64              `json:"realized_pnl"`
	LastEvent   EventType          `json:"last_event"`
}

// TradeEntry is one row of trades_near's output window.
type TradeEntry struct {
	SortKey   int64     `json:"sort_key"`
	CondIdx   uint32    `json:"cond_idx"`
	EventType EventType `json:"event_type"`
	TokenIdx  uint8     `json:"token_idx"`
	Delta     int64     `json:"delta"`
	Price     int64     `json:"price"`
}

// UserSummary is one row of users_sorted's output.
type UserSummary struct {
	Address    string `json:"address"`
	EventCount int    `json:"event_count"`
}
