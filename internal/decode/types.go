package decode

import "github.com/ethereum/go-ethereum/common"

// TransferRow is one ERC-1155 token transfer, excluding mints/burns and
// internal exchange/adapter settlements.
type TransferRow struct {
	BlockNumber uint64
	LogIndex    int64
	From        common.Address
	To          common.Address
	TokenID     common.Hash
	Amount      int64
}

// SplitRow is a PositionSplit event: collateral locked into a full outcome
// set of tokens.
type SplitRow struct {
	BlockNumber uint64
	LogIndex    int64
	Stakeholder common.Address
	ConditionID common.Hash
	Amount      int64
}

// MergeRow is a PositionsMerge event, the inverse of SplitRow.
type MergeRow struct {
	BlockNumber uint64
	LogIndex    int64
	Stakeholder common.Address
	ConditionID common.Hash
	Amount      int64
}

// RedemptionRow is a PayoutRedemption event: a resolved condition's winning
// outcome tokens exchanged for collateral.
type RedemptionRow struct {
	BlockNumber uint64
	LogIndex    int64
	Redeemer    common.Address
	ConditionID common.Hash
	IndexSets   int64
	Payout      int64
}

// ConditionPreparationRow is a ConditionPreparation event. PayoutNumerators
// and ResolutionBlock are always nil at insert time; only a later
// ConditionResolution sets them, via the UPDATE ConditionResolutionRow
// produces.
type ConditionPreparationRow struct {
	BlockNumber  uint64
	LogIndex     int64
	ConditionID  common.Hash
	Oracle       common.Address
	QuestionID   common.Hash
	OutcomeCount int64
}

// ConditionResolutionRow is both an insert into condition_resolution and an
// UPDATE against the condition row with the same ConditionID.
type ConditionResolutionRow struct {
	LogIndex         int64
	ConditionID      common.Hash
	PayoutNumerators []int64
	ResolutionBlock  int64
}

// OrderFilledSide distinguishes which side of the trade the maker took.
type OrderFilledSide int

const (
	// SideBuy: maker_asset_id == 0, maker sold USDC and received tokens.
	SideBuy OrderFilledSide = 1
	// SideSell: maker sold tokens and received USDC.
	SideSell OrderFilledSide = 2
)

// OrderFilledRow is an OrderFilled event from either CTF exchange.
type OrderFilledRow struct {
	BlockNumber uint64
	LogIndex    int64
	Exchange    string // "CTF" or "NegRisk"
	Maker       common.Address
	Taker       common.Address
	TokenID     common.Hash
	Side        OrderFilledSide
	USDCAmount  int64
	TokenAmount int64
	Fee         int64
}

// TokenMapRow maps one outcome token id to its condition and canonical
// outcome index.
type TokenMapRow struct {
	TokenID     common.Hash
	ConditionID common.Hash
	Exchange    string
	IsYes       bool
}

// ConvertRow is a PositionsConverted event from the neg-risk adapter.
type ConvertRow struct {
	BlockNumber uint64
	LogIndex    int64
	Stakeholder common.Address
	MarketID    common.Hash
	IndexSet    int64
	Amount      int64
}

// NegRiskMarketRow is a MarketPrepared event.
type NegRiskMarketRow struct {
	MarketID common.Hash
	Oracle   common.Address
	FeeBips  int64
	Data     []byte // nullable
}

// NegRiskQuestionRow is a QuestionPrepared event.
type NegRiskQuestionRow struct {
	QuestionID    common.Hash
	MarketID      common.Hash
	QuestionIndex int64
	Data          []byte // nullable
}

// FPMMRow records a discovered FPMM pool instance, from the factory's
// creation event. ConditionIDs may list more than one condition for
// neg-risk pools; the replay engine's Phase 1 indexes the pool by its
// first condition id.
type FPMMRow struct {
	FPMMAddr        common.Address
	ConditionIDs    []common.Hash
	CollateralToken common.Address
	Fee             int64
	CreationBlock   uint64
}

// FPMMTradeSide distinguishes an FPMM buy from an FPMM sell.
type FPMMTradeSide string

const (
	FPMMBuy  FPMMTradeSide = "Buy"
	FPMMSell FPMMTradeSide = "Sell"
)

// FPMMTradeRow is an FPMMBuy or FPMMSell event against a pool.
type FPMMTradeRow struct {
	BlockNumber  uint64
	LogIndex     int64
	FPMMAddr     common.Address
	Trader       common.Address
	Side         FPMMTradeSide
	OutcomeIndex int64
	Amount       int64 // investmentAmount (Buy) or returnAmount (Sell)
	FeeAmount    int64
	TokenAmount  int64 // outcomeTokensBought/Sold
}

// FPMMFundingSide distinguishes liquidity addition from removal.
type FPMMFundingSide string

const (
	FundingAdd    FPMMFundingSide = "Add"
	FundingRemove FPMMFundingSide = "Remove"
)

// FPMMFundingRow is an FPMMFundingAdded or FPMMFundingRemoved event. The
// source contract emits a per-outcome amounts array; only the first two
// outcomes are kept (spec's two-outcome FPMMLPAdd/Remove accounting).
type FPMMFundingRow struct {
	BlockNumber uint64
	LogIndex    int64
	FPMMAddr    common.Address
	Funder      common.Address
	Side        FPMMFundingSide
	Amount0     int64
	Amount1     int64
}

// ParsedEvents is the output of Decode: one slice per event family, ready
// for Store's atomic multi-table insert. ConditionResolutions additionally
// drive an UPDATE against the condition table (see Store.AtomicMultiInsert).
type ParsedEvents struct {
	Transfer             []TransferRow
	Split                []SplitRow
	Merge                []MergeRow
	Redemption           []RedemptionRow
	ConditionPreparation []ConditionPreparationRow
	ConditionResolution  []ConditionResolutionRow
	OrderFilled          []OrderFilledRow
	TokenMap             []TokenMapRow
	Convert              []ConvertRow
	NegRiskMarket        []NegRiskMarketRow
	NegRiskQuestion      []NegRiskQuestionRow
	FPMM                 []FPMMRow
	FPMMTrade            []FPMMTradeRow
	FPMMFunding          []FPMMFundingRow
}
