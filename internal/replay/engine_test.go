package replay

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"polyindex/internal/decode"
	"polyindex/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "replay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedCondition(t *testing.T, s *store.Store, condID common.Hash, outcomeCount int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.AtomicMultiInsert(ctx, &decode.ParsedEvents{
		ConditionPreparation: []decode.ConditionPreparationRow{
			{BlockNumber: 1, LogIndex: 0, ConditionID: condID, Oracle: common.HexToAddress("0xaa"), QuestionID: common.HexToHash("0xbb"), OutcomeCount: outcomeCount},
		},
	}, 1))
}

func seedTokenMap(t *testing.T, s *store.Store, yesToken, noToken common.Hash, condID common.Hash) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.AtomicMultiInsert(ctx, &decode.ParsedEvents{
		TokenMap: []decode.TokenMapRow{
			{TokenID: yesToken, ConditionID: condID, Exchange: "CTF", IsYes: true},
			{TokenID: noToken, ConditionID: condID, Exchange: "CTF", IsYes: false},
		},
	}, 1))
}

func runFullReplay(t *testing.T, s *store.Store) *Engine {
	t.Helper()
	e := NewEngine(s, nil)
	meta, err := loadMetadata(context.Background(), s)
	require.NoError(t, err)
	c, err := collectEvents(context.Background(), s, meta, &e.progress)
	require.NoError(t, err)
	users := runPhase3(c, meta, &e.progress)
	byAddr := make(map[string]int, len(c.addrs))
	for i, addr := range c.addrs {
		byAddr[addr] = i
	}
	e.latest.Store(&result{meta: meta, users: users, addrs: c.addrs, byAddr: byAddr})
	return e
}

func TestReplay_BuyThenSellAtProfit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	condID := common.HexToHash("0xc1")
	yesToken := common.HexToHash("0xaaaa")
	noToken := common.HexToHash("0xbbbb")
	seedCondition(t, s, condID, 2)
	seedTokenMap(t, s, yesToken, noToken, condID)

	buyer := common.HexToAddress("0x1111111111111111111111111111111111111111")
	seller := common.HexToAddress("0x2222222222222222222222222222222222222222")

	require.NoError(t, s.AtomicMultiInsert(ctx, &decode.ParsedEvents{
		OrderFilled: []decode.OrderFilledRow{
			// buyer (maker) pays 5_000_000 raw USDC for 10 raw token units (SideBuy): price 5e11.
			{BlockNumber: 10, LogIndex: 0, Exchange: "CTF", Maker: buyer, Taker: seller, TokenID: yesToken,
				Side: decode.SideBuy, USDCAmount: 5_000_000, TokenAmount: 10},
		},
	}, 10))

	require.NoError(t, s.AtomicMultiInsert(ctx, &decode.ParsedEvents{
		OrderFilled: []decode.OrderFilledRow{
			// buyer now sells all 10 units for 7_000_000 raw USDC (as maker, SideSell): price 7e11.
			{BlockNumber: 20, LogIndex: 0, Exchange: "CTF", Maker: buyer, Taker: seller, TokenID: yesToken,
				Side: decode.SideSell, USDCAmount: 7_000_000, TokenAmount: 10},
		},
	}, 20))

	e := runFullReplay(t, s)
	state, ok := e.UserState(buyer.Hex())
	require.True(t, ok)
	require.Len(t, state.Conditions, 1)
	last := state.Conditions[0].Snapshots[len(state.Conditions[0].Snapshots)-1]
	require.EqualValues(t, 0, last.Positions[0])
	require.EqualValues(t, 0, last.CostBasis)
	require.EqualValues(t, 2_000_000, last.RealizedPnL) // (10*7e11 - 5e12)/1e6
}

func TestReplay_PartialSell(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	condID := common.HexToHash("0xc2")
	yesToken := common.HexToHash("0xcccc")
	noToken := common.HexToHash("0xdddd")
	seedCondition(t, s, condID, 2)
	seedTokenMap(t, s, yesToken, noToken, condID)

	trader := common.HexToAddress("0x3333333333333333333333333333333333333333")
	counterparty := common.HexToAddress("0x4444444444444444444444444444444444444444")

	require.NoError(t, s.AtomicMultiInsert(ctx, &decode.ParsedEvents{
		OrderFilled: []decode.OrderFilledRow{
			{BlockNumber: 10, LogIndex: 0, Exchange: "CTF", Maker: trader, Taker: counterparty, TokenID: yesToken,
				Side: decode.SideBuy, USDCAmount: 10_000_000, TokenAmount: 20},
		},
	}, 10))
	require.NoError(t, s.AtomicMultiInsert(ctx, &decode.ParsedEvents{
		OrderFilled: []decode.OrderFilledRow{
			{BlockNumber: 20, LogIndex: 0, Exchange: "CTF", Maker: trader, Taker: counterparty, TokenID: yesToken,
				Side: decode.SideSell, USDCAmount: 6_000_000, TokenAmount: 10},
		},
	}, 20))

	e := runFullReplay(t, s)
	state, ok := e.UserState(trader.Hex())
	require.True(t, ok)
	last := state.Conditions[0].Snapshots[len(state.Conditions[0].Snapshots)-1]
	require.EqualValues(t, 10, last.Positions[0])
	require.EqualValues(t, 5_000_000, last.CostBasis) // half the original cost remains
	require.EqualValues(t, 1, last.RealizedPnL)        // (10*600000 - 5000000)/1e6
}

func TestReplay_SplitMergeRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	condID := common.HexToHash("0xc3")
	seedCondition(t, s, condID, 2)

	user := common.HexToAddress("0x5555555555555555555555555555555555555555")
	require.NoError(t, s.AtomicMultiInsert(ctx, &decode.ParsedEvents{
		Split: []decode.SplitRow{{BlockNumber: 10, LogIndex: 0, Stakeholder: user, ConditionID: condID, Amount: 100}},
	}, 10))
	require.NoError(t, s.AtomicMultiInsert(ctx, &decode.ParsedEvents{
		Merge: []decode.MergeRow{{BlockNumber: 20, LogIndex: 0, Stakeholder: user, ConditionID: condID, Amount: 100}},
	}, 20))

	e := runFullReplay(t, s)
	state, ok := e.UserState(user.Hex())
	require.True(t, ok)
	last := state.Conditions[0].Snapshots[len(state.Conditions[0].Snapshots)-1]
	require.EqualValues(t, 0, last.Positions[0])
	require.EqualValues(t, 0, last.Positions[1])
	require.EqualValues(t, 0, last.CostBasis)
	require.EqualValues(t, 0, last.RealizedPnL)
}

func TestReplay_RedemptionOfWinningOutcome(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	condID := common.HexToHash("0xc4")
	yesToken := common.HexToHash("0xeeee")
	noToken := common.HexToHash("0xffff")
	seedCondition(t, s, condID, 2)
	seedTokenMap(t, s, yesToken, noToken, condID)

	user := common.HexToAddress("0x6666666666666666666666666666666666666666")
	counterparty := common.HexToAddress("0x7777777777777777777777777777777777777777")

	require.NoError(t, s.AtomicMultiInsert(ctx, &decode.ParsedEvents{
		OrderFilled: []decode.OrderFilledRow{
			{BlockNumber: 10, LogIndex: 0, Exchange: "CTF", Maker: user, Taker: counterparty, TokenID: yesToken,
				Side: decode.SideBuy, USDCAmount: 4_000_000, TokenAmount: 10},
		},
	}, 10))
	require.NoError(t, s.AtomicMultiInsert(ctx, &decode.ParsedEvents{
		ConditionResolution: []decode.ConditionResolutionRow{
			{LogIndex: 0, ConditionID: condID, PayoutNumerators: []int64{1_000_000, 0}, ResolutionBlock: 15},
		},
	}, 15))
	require.NoError(t, s.AtomicMultiInsert(ctx, &decode.ParsedEvents{
		Redemption: []decode.RedemptionRow{
			{BlockNumber: 20, LogIndex: 0, Redeemer: user, ConditionID: condID, IndexSets: 1, Payout: 10_000_000},
		},
	}, 20))

	e := runFullReplay(t, s)
	state, ok := e.UserState(user.Hex())
	require.True(t, ok)
	last := state.Conditions[0].Snapshots[len(state.Conditions[0].Snapshots)-1]
	require.EqualValues(t, 0, last.Positions[0])
	// realized_pnl += positions[0]*payout[0] - cost[0] = 10*1_000_000 - 4_000_000
	require.EqualValues(t, 6_000_000, last.RealizedPnL)
}

func TestReplay_IdempotentIngestionDoesNotDoubleCount(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	condID := common.HexToHash("0xc5")
	yesToken := common.HexToHash("0x1212")
	noToken := common.HexToHash("0x3434")
	seedCondition(t, s, condID, 2)
	seedTokenMap(t, s, yesToken, noToken, condID)

	buyer := common.HexToAddress("0x8888888888888888888888888888888888888888")
	seller := common.HexToAddress("0x9999999999999999999999999999999999999999")
	events := &decode.ParsedEvents{
		OrderFilled: []decode.OrderFilledRow{
			{BlockNumber: 10, LogIndex: 0, Exchange: "CTF", Maker: buyer, Taker: seller, TokenID: yesToken,
				Side: decode.SideBuy, USDCAmount: 5_000_000, TokenAmount: 10},
		},
	}
	require.NoError(t, s.AtomicMultiInsert(ctx, events, 10))
	require.NoError(t, s.AtomicMultiInsert(ctx, events, 10)) // retried window

	e := runFullReplay(t, s)
	state, ok := e.UserState(buyer.Hex())
	require.True(t, ok)
	last := state.Conditions[0].Snapshots[len(state.Conditions[0].Snapshots)-1]
	require.EqualValues(t, 10, last.Positions[0])
	require.EqualValues(t, 5_000_000, last.CostBasis)
}

func TestReplay_PositionsAtBinarySearchAndTradesNearWindow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	condID := common.HexToHash("0xc6")
	yesToken := common.HexToHash("0x1313")
	noToken := common.HexToHash("0x2424")
	seedCondition(t, s, condID, 2)
	seedTokenMap(t, s, yesToken, noToken, condID)

	user := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	counterparty := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")

	for _, block := range []int64{10, 15, 30} {
		require.NoError(t, s.AtomicMultiInsert(ctx, &decode.ParsedEvents{
			OrderFilled: []decode.OrderFilledRow{
				{BlockNumber: uint64(block), LogIndex: 0, Exchange: "CTF", Maker: user, Taker: counterparty, TokenID: yesToken,
					Side: decode.SideBuy, USDCAmount: 1_000_000, TokenAmount: 1},
			},
		}, block))
	}

	e := runFullReplay(t, s)

	query := sortKey(15, 0)
	positions, ok := e.PositionsAt(user.Hex(), query)
	require.True(t, ok)
	require.Len(t, positions, 1)
	require.EqualValues(t, 2, positions[0].Positions[0]) // block 10 and 15 buys applied, not block 30

	trades, centerOffset, ok := e.TradesNear(user.Hex(), query, sortKey(6, 0))
	require.True(t, ok)
	require.Len(t, trades, 2) // block 10 and 15 fall within the window, block 30 doesn't
	require.Equal(t, 1, centerOffset) // first trade at or after the query center is block 15, index 1
}

func TestReplay_MaxOutcomesGuardSkipsCondition(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	condID := common.HexToHash("0xc7")
	seedCondition(t, s, condID, 9) // exceeds MaxOutcomes

	user := common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc")
	require.NoError(t, s.AtomicMultiInsert(ctx, &decode.ParsedEvents{
		Split: []decode.SplitRow{{BlockNumber: 10, LogIndex: 0, Stakeholder: user, ConditionID: condID, Amount: 100}},
	}, 10))

	e := runFullReplay(t, s)
	state, ok := e.UserState(user.Hex())
	require.True(t, ok)
	require.Empty(t, state.Conditions) // event counted during collection but skipped during replay
}

func TestReplay_ConvertBumpsRealizedPnLWithoutTouchingPositions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	marketID := common.HexToHash("0xd1")
	require.NoError(t, s.AtomicMultiInsert(ctx, &decode.ParsedEvents{
		NegRiskMarket: []decode.NegRiskMarketRow{{MarketID: marketID, Oracle: common.HexToAddress("0xaa"), FeeBips: 0}},
	}, 1))

	user := common.HexToAddress("0xdddddddddddddddddddddddddddddddddddddddd")
	require.NoError(t, s.AtomicMultiInsert(ctx, &decode.ParsedEvents{
		Convert: []decode.ConvertRow{
			{BlockNumber: 10, LogIndex: 0, Stakeholder: user, MarketID: marketID, IndexSet: 0b111, Amount: 50},
		},
	}, 10))

	e := runFullReplay(t, s)
	state, ok := e.UserState(user.Hex())
	require.True(t, ok)
	last := state.Conditions[0].Snapshots[len(state.Conditions[0].Snapshots)-1]
	for _, p := range last.Positions {
		require.EqualValues(t, 0, p)
	}
	require.EqualValues(t, 100, last.RealizedPnL) // (popcount(0b111)-1)*50 = 2*50
}

func TestReplay_TriggerRebuildRejectsConcurrentRun(t *testing.T) {
	s := openTestStore(t)
	e := NewEngine(s, nil)
	e.running.Store(true)
	err := e.TriggerRebuild(context.Background())
	require.ErrorIs(t, err, ErrRebuildInProgress)
}

func TestReplay_UsersSortedRanksByEventCountDescending(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	condID := common.HexToHash("0xc8")
	seedCondition(t, s, condID, 2)

	busy := common.HexToAddress("0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee")
	quiet := common.HexToAddress("0xffffffffffffffffffffffffffffffffffffffff")

	require.NoError(t, s.AtomicMultiInsert(ctx, &decode.ParsedEvents{
		Split: []decode.SplitRow{
			{BlockNumber: 10, LogIndex: 0, Stakeholder: busy, ConditionID: condID, Amount: 10},
			{BlockNumber: 11, LogIndex: 0, Stakeholder: busy, ConditionID: condID, Amount: 10},
			{BlockNumber: 12, LogIndex: 0, Stakeholder: quiet, ConditionID: condID, Amount: 10},
		},
	}, 12))

	e := runFullReplay(t, s)
	summaries := e.UsersSorted(10)
	require.Len(t, summaries, 2)
	require.Equal(t, 2, summaries[0].EventCount)
	require.Equal(t, 1, summaries[1].EventCount)
}
