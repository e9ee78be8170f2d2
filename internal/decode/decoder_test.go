package decode

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

func addrTopic(a common.Address) common.Hash {
	return common.BytesToHash(a.Bytes())
}

func wordInt(n int64) []byte {
	return common.LeftPadBytes(big.NewInt(n).Bytes(), 32)
}

func wordHash(h common.Hash) []byte {
	return h.Bytes()
}

func concat(words ...[]byte) []byte {
	var out []byte
	for _, w := range words {
		out = append(out, w...)
	}
	return out
}

var (
	testOperator = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testFrom     = common.HexToAddress("0x2222222222222222222222222222222222222222")
	testTo       = common.HexToAddress("0x3333333333333333333333333333333333333333")
	testTokenID  = common.HexToHash("0xaaaa000000000000000000000000000000000000000000000000000000000a")
)

func TestDecode_TransferSingle(t *testing.T) {
	lg := types.Log{
		Address: ConditionalTokens,
		Topics:  []common.Hash{TopicTransferSingle, addrTopic(testOperator), addrTopic(testFrom), addrTopic(testTo)},
		Data:    concat(wordHash(testTokenID), wordInt(1_000_000)),
	}

	events, err := Decode([]types.Log{lg}, map[common.Address]struct{}{})
	require.NoError(t, err)
	require.Len(t, events.Transfer, 1)
	require.Equal(t, testFrom, events.Transfer[0].From)
	require.Equal(t, testTo, events.Transfer[0].To)
	require.Equal(t, testTokenID, events.Transfer[0].TokenID)
	require.Equal(t, int64(1_000_000), events.Transfer[0].Amount)
}

func TestDecode_TransferSingle_SkipsMintBurn(t *testing.T) {
	lg := types.Log{
		Address: ConditionalTokens,
		Topics:  []common.Hash{TopicTransferSingle, addrTopic(testOperator), addrTopic(ZeroAddress), addrTopic(testTo)},
		Data:    concat(wordHash(testTokenID), wordInt(1_000_000)),
	}
	events, err := Decode([]types.Log{lg}, map[common.Address]struct{}{})
	require.NoError(t, err)
	require.Empty(t, events.Transfer)
}

func TestDecode_TransferSingle_SkipsExchangeOperator(t *testing.T) {
	lg := types.Log{
		Address: ConditionalTokens,
		Topics:  []common.Hash{TopicTransferSingle, addrTopic(CTFExchange), addrTopic(testFrom), addrTopic(testTo)},
		Data:    concat(wordHash(testTokenID), wordInt(1_000_000)),
	}
	events, err := Decode([]types.Log{lg}, map[common.Address]struct{}{})
	require.NoError(t, err)
	require.Empty(t, events.Transfer)
}

func TestDecode_TransferBatch_Expansion(t *testing.T) {
	id0 := common.HexToHash("0x01")
	id1 := common.HexToHash("0x02")
	id2 := common.HexToHash("0x03")

	// ids at offset 0x40 (word 2), values at offset 0xc0 (word 6): two
	// dynamic arrays back to back, each length-prefixed.
	data := concat(
		wordInt(0x40),            // ids offset
		wordInt(0xc0),            // values offset
		wordInt(3),               // ids length
		wordHash(id0), wordHash(id1), wordHash(id2),
		wordInt(3),               // values length
		wordInt(10), wordInt(20), wordInt(30),
	)

	lg := types.Log{
		Address: ConditionalTokens,
		Topics:  []common.Hash{TopicTransferBatch, addrTopic(testOperator), addrTopic(testFrom), addrTopic(testTo)},
		Data:    data,
		Index:   5,
	}

	events, err := Decode([]types.Log{lg}, map[common.Address]struct{}{})
	require.NoError(t, err)
	require.Len(t, events.Transfer, 3)
	require.Equal(t, int64(5000), events.Transfer[0].LogIndex)
	require.Equal(t, int64(5001), events.Transfer[1].LogIndex)
	require.Equal(t, int64(5002), events.Transfer[2].LogIndex)
	require.Equal(t, id0, events.Transfer[0].TokenID)
	require.Equal(t, int64(30), events.Transfer[2].Amount)
}

func TestDecode_OrderFilled_Buy(t *testing.T) {
	maker := testFrom
	taker := testTo
	tokenID := testTokenID

	data := concat(
		wordInt(0),             // maker_asset_id == 0 -> BUY
		wordHash(tokenID),      // taker_asset_id (token id, word 1)
		wordInt(500_000),       // maker_amount (usdc)
		wordInt(1_000_000),     // taker_amount (tokens)
		wordInt(1_000),         // fee
	)
	lg := types.Log{
		Address: CTFExchange,
		Topics:  []common.Hash{TopicOrderFilled, common.Hash{}, addrTopic(maker), addrTopic(taker)},
		Data:    data,
	}

	events, err := Decode([]types.Log{lg}, map[common.Address]struct{}{})
	require.NoError(t, err)
	require.Len(t, events.OrderFilled, 1)
	row := events.OrderFilled[0]
	require.Equal(t, SideBuy, row.Side)
	require.Equal(t, tokenID, row.TokenID)
	require.Equal(t, int64(500_000), row.USDCAmount)
	require.Equal(t, int64(1_000_000), row.TokenAmount)
	require.Equal(t, "CTF", row.Exchange)
}

func TestDecode_OrderFilled_Sell(t *testing.T) {
	tokenID := testTokenID

	data := concat(
		wordHash(tokenID),  // maker_asset_id != 0 -> SELL, token id at word 0
		wordInt(0),         // taker_asset_id (usdc)
		wordInt(2_000_000), // maker_amount (tokens)
		wordInt(900_000),   // taker_amount (usdc)
		wordInt(500),       // fee
	)
	lg := types.Log{
		Address: NegRiskCTFExchange,
		Topics:  []common.Hash{TopicOrderFilled, common.Hash{}, addrTopic(testFrom), addrTopic(testTo)},
		Data:    data,
	}

	events, err := Decode([]types.Log{lg}, map[common.Address]struct{}{})
	require.NoError(t, err)
	require.Len(t, events.OrderFilled, 1)
	row := events.OrderFilled[0]
	require.Equal(t, SideSell, row.Side)
	require.Equal(t, int64(900_000), row.USDCAmount)
	require.Equal(t, int64(2_000_000), row.TokenAmount)
	require.Equal(t, "NegRisk", row.Exchange)
}

func TestDecode_TokenRegistered_CanonicalOrder(t *testing.T) {
	conditionID := common.HexToHash("0xcc")
	tokenA := common.HexToHash("0xffff000000000000000000000000000000000000000000000000000000ff")
	tokenB := common.HexToHash("0x0001000000000000000000000000000000000000000000000000000000ff")

	lg := types.Log{
		Address: CTFExchange,
		Topics:  []common.Hash{TopicTokenRegistered, tokenA, tokenB, conditionID},
	}

	events, err := Decode([]types.Log{lg}, map[common.Address]struct{}{})
	require.NoError(t, err)
	require.Len(t, events.TokenMap, 2)
	// The lower-valued id is always is_yes=1, regardless of topic order.
	require.True(t, events.TokenMap[0].IsYes)
	require.Equal(t, tokenB, events.TokenMap[0].TokenID)
	require.False(t, events.TokenMap[1].IsYes)
	require.Equal(t, tokenA, events.TokenMap[1].TokenID)
}

func TestDecode_ConditionPreparation_NilsPayout(t *testing.T) {
	lg := types.Log{
		Address: ConditionalTokens,
		Topics: []common.Hash{
			TopicConditionPreparation,
			common.HexToHash("0xc1"),
			addrTopic(testOperator),
			common.HexToHash("0xd1"),
		},
		Data: wordInt(2),
	}
	events, err := Decode([]types.Log{lg}, map[common.Address]struct{}{})
	require.NoError(t, err)
	require.Len(t, events.ConditionPreparation, 1)
	require.Equal(t, int64(2), events.ConditionPreparation[0].OutcomeCount)
	require.Empty(t, events.ConditionResolution)
}

func TestDecode_ConditionResolution(t *testing.T) {
	data := concat(
		wordInt(0),   // unused word
		wordInt(0x40), // payout offset
		wordInt(2),   // payout length
		wordInt(1_000_000),
		wordInt(0),
	)
	lg := types.Log{
		Address:     ConditionalTokens,
		Topics:      []common.Hash{TopicConditionResolution, common.HexToHash("0xc1")},
		Data:        data,
		BlockNumber: 555,
	}
	events, err := Decode([]types.Log{lg}, map[common.Address]struct{}{})
	require.NoError(t, err)
	require.Len(t, events.ConditionResolution, 1)
	require.Equal(t, []int64{1_000_000, 0}, events.ConditionResolution[0].PayoutNumerators)
	require.Equal(t, int64(555), events.ConditionResolution[0].ResolutionBlock)
}

func TestDecode_Redemption_IndexSetBitmask(t *testing.T) {
	conditionID := common.HexToHash("0xc1")
	data := concat(
		wordHash(conditionID),
		wordInt(0x60), // index sets offset
		wordInt(5_000_000), // payout
		wordInt(2),    // index sets length
		wordInt(1),    // bit 0
		wordInt(2),    // bit 1
	)
	lg := types.Log{
		Address: ConditionalTokens,
		Topics:  []common.Hash{TopicPayoutRedemption, addrTopic(testFrom)},
		Data:    data,
	}
	events, err := Decode([]types.Log{lg}, map[common.Address]struct{}{})
	require.NoError(t, err)
	require.Len(t, events.Redemption, 1)
	require.Equal(t, int64(3), events.Redemption[0].IndexSets) // 0b01 | 0b10
	require.Equal(t, int64(5_000_000), events.Redemption[0].Payout)
}

func TestDecode_FPMMPool_TwoPassDiscovery(t *testing.T) {
	fpmmAddr := common.HexToAddress("0x9999999999999999999999999999999999999999")
	collateral := common.HexToAddress("0x4444444444444444444444444444444444444444")
	conditionID := common.HexToHash("0xc1")

	creation := types.Log{
		Address: common.HexToAddress("0xfac70000000000000000000000000000000000"),
		Topics: []common.Hash{
			TopicFPMMCreation,
			addrTopic(testOperator),
			common.Hash{}, // conditionalTokens (indexed, unused here)
			addrTopic(collateral),
		},
		Data: concat(
			wordHash(addrTopic(fpmmAddr)), // fixedProductMarketMaker address
			wordInt(0x60),                 // conditionIds offset
			wordInt(20),                   // fee
			wordInt(1),                    // conditionIds length
			wordHash(conditionID),
		),
	}

	trade := types.Log{
		Address: fpmmAddr,
		Topics:  []common.Hash{TopicFPMMBuy, addrTopic(testFrom), wordHashTopic(0)},
		Data:    concat(wordInt(1_000_000), wordInt(10_000), wordInt(2_000_000)),
	}

	knownFPMM := map[common.Address]struct{}{}
	events, err := Decode([]types.Log{creation, trade}, knownFPMM)
	require.NoError(t, err)
	require.Len(t, events.FPMM, 1)
	require.Equal(t, fpmmAddr, events.FPMM[0].FPMMAddr)
	require.Contains(t, knownFPMM, fpmmAddr)
	require.Len(t, events.FPMMTrade, 1)
	require.Equal(t, FPMMBuy, events.FPMMTrade[0].Side)
	require.Equal(t, int64(2_000_000), events.FPMMTrade[0].TokenAmount)
}

func wordHashTopic(n int64) common.Hash {
	return common.BytesToHash(wordInt(n))
}
