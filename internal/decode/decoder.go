// Package decode implements the pure decode(logs) -> ParsedEvents function:
// address+topic0 dispatch, fixed-word and dynamic offset/length ABI
// decoding, and the event-family-specific rules fixed by the original
// event parser this package's dispatch tables are grounded on.
package decode

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ShapeError means a log's topic count or data length didn't match what
// its topic0 asserts — an unrecoverable programming error (a contract ABI
// change this decoder hasn't been updated for), never a transient failure.
type ShapeError struct{ Msg string }

func (e *ShapeError) Error() string { return "decode shape mismatch: " + e.Msg }

const wordSize = 32

// word returns the 32-byte word at index i of data, failing with ShapeError
// if data is too short.
func word(data []byte, i int) ([]byte, error) {
	start := i * wordSize
	end := start + wordSize
	if end > len(data) {
		return nil, &ShapeError{Msg: fmt.Sprintf("word %d out of range (data len %d)", i, len(data))}
	}
	return data[start:end], nil
}

// uint256At reads word i of data as a big-endian unsigned integer.
func uint256At(data []byte, i int) (*big.Int, error) {
	w, err := word(data, i)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(w), nil
}

// int64At reads word i of data as an integer, truncating modulo 2^63 per
// the numeric convention in the RPC client layer if the value doesn't fit
// in an int64 — amounts this large exceed any realistic collateral/token
// quantity and indicate an exotic or malicious token, not routine traffic.
func int64At(data []byte, i int) (int64, error) {
	bi, err := uint256At(data, i)
	if err != nil {
		return 0, err
	}
	if bi.IsInt64() {
		return bi.Int64(), nil
	}
	return int64(bi.Uint64() & 0x7fffffffffffffff), nil
}

// bytes32At reads word i of data as a 32-byte hash (used for dynamic
// bytes32 array elements, e.g. token ids inside a TransferBatch payload).
func bytes32At(data []byte, i int) (common.Hash, error) {
	w, err := word(data, i)
	if err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(w), nil
}

// addressFromTopic extracts the lower 20 bytes of an indexed address topic.
func addressFromTopic(topic common.Hash) common.Address {
	return common.BytesToAddress(topic.Bytes())
}

// Decode runs the two-pass dispatch over a raw log list: the first pass
// discovers FPMM pool instances from factory creation events, the second
// dispatches every log (fixed contracts plus any newly discovered FPMM
// pool) into typed rows. knownFPMM is both read and updated in place so
// callers can seed it from previously discovered pools and persist any
// pools discovered this round.
func Decode(logs []types.Log, knownFPMM map[common.Address]struct{}) (*ParsedEvents, error) {
	events := &ParsedEvents{}

	for _, lg := range logs {
		if len(lg.Topics) == 0 {
			continue
		}
		if lg.Topics[0] != TopicFPMMCreation {
			continue
		}
		row, addr, err := parseFPMMCreation(lg)
		if err != nil {
			return nil, err
		}
		events.FPMM = append(events.FPMM, row)
		knownFPMM[addr] = struct{}{}
	}

	for _, lg := range logs {
		if len(lg.Topics) == 0 {
			continue
		}
		topic0 := lg.Topics[0]
		addr := lg.Address

		switch addr {
		case ConditionalTokens:
			if err := dispatchConditionalTokens(lg, topic0, events); err != nil {
				return nil, err
			}
			continue
		case CTFExchange:
			if err := dispatchExchange(lg, topic0, "CTF", events); err != nil {
				return nil, err
			}
			continue
		case NegRiskCTFExchange:
			if err := dispatchExchange(lg, topic0, "NegRisk", events); err != nil {
				return nil, err
			}
			continue
		case NegRiskAdapter:
			if err := dispatchNegRiskAdapter(lg, topic0, events); err != nil {
				return nil, err
			}
			continue
		}

		if topic0 == TopicFPMMCreation {
			continue // already handled in the discovery pass
		}
		if _, ok := knownFPMM[addr]; ok {
			if err := dispatchFPMMPool(lg, topic0, events); err != nil {
				return nil, err
			}
		}
	}

	return events, nil
}

func dispatchConditionalTokens(lg types.Log, topic0 common.Hash, events *ParsedEvents) error {
	switch topic0 {
	case TopicTransferSingle:
		return parseTransferSingle(lg, events)
	case TopicTransferBatch:
		return parseTransferBatch(lg, events)
	case TopicPositionSplit:
		return parseSplit(lg, events)
	case TopicPositionsMerge:
		return parseMerge(lg, events)
	case TopicPayoutRedemption:
		return parseRedemption(lg, events)
	case TopicConditionPreparation:
		return parseConditionPreparation(lg, events)
	case TopicConditionResolution:
		return parseConditionResolution(lg, events)
	}
	return nil
}

func dispatchExchange(lg types.Log, topic0 common.Hash, exchange string, events *ParsedEvents) error {
	switch topic0 {
	case TopicOrderFilled:
		return parseOrderFilled(lg, exchange, events)
	case TopicTokenRegistered:
		return parseTokenRegistered(lg, exchange, events)
	}
	return nil
}

func dispatchNegRiskAdapter(lg types.Log, topic0 common.Hash, events *ParsedEvents) error {
	switch topic0 {
	case TopicPositionsConverted:
		return parseConvert(lg, events)
	case TopicMarketPrepared:
		return parseMarketPrepared(lg, events)
	case TopicQuestionPrepared:
		return parseQuestionPrepared(lg, events)
	}
	return nil
}

func dispatchFPMMPool(lg types.Log, topic0 common.Hash, events *ParsedEvents) error {
	switch topic0 {
	case TopicFPMMBuy:
		return parseFPMMTrade(lg, FPMMBuy, events)
	case TopicFPMMSell:
		return parseFPMMTrade(lg, FPMMSell, events)
	case TopicFPMMFundingAdded:
		return parseFPMMFunding(lg, FundingAdd, events)
	case TopicFPMMFundingRemoved:
		return parseFPMMFunding(lg, FundingRemove, events)
	}
	return nil
}

func parseTransferSingle(lg types.Log, events *ParsedEvents) error {
	if len(lg.Topics) < 4 {
		return &ShapeError{Msg: fmt.Sprintf("TransferSingle: expected 4 topics, got %d", len(lg.Topics))}
	}
	op := addressFromTopic(lg.Topics[1])
	from := addressFromTopic(lg.Topics[2])
	to := addressFromTopic(lg.Topics[3])

	tokenID, err := bytes32At(lg.Data, 0)
	if err != nil {
		return err
	}
	amount, err := int64At(lg.Data, 1)
	if err != nil {
		return err
	}

	if from == ZeroAddress || to == ZeroAddress {
		return nil
	}
	if op == CTFExchange || op == NegRiskCTFExchange || op == NegRiskAdapter {
		return nil
	}

	events.Transfer = append(events.Transfer, TransferRow{
		BlockNumber: lg.BlockNumber,
		LogIndex:    int64(lg.Index),
		From:        from,
		To:          to,
		TokenID:     tokenID,
		Amount:      amount,
	})
	return nil
}

func parseTransferBatch(lg types.Log, events *ParsedEvents) error {
	if len(lg.Topics) < 4 {
		return &ShapeError{Msg: fmt.Sprintf("TransferBatch: expected 4 topics, got %d", len(lg.Topics))}
	}
	op := addressFromTopic(lg.Topics[1])
	from := addressFromTopic(lg.Topics[2])
	to := addressFromTopic(lg.Topics[3])

	if from == ZeroAddress || to == ZeroAddress {
		return nil
	}
	if op == CTFExchange || op == NegRiskCTFExchange || op == NegRiskAdapter {
		return nil
	}

	idsOffset, err := int64At(lg.Data, 0)
	if err != nil {
		return err
	}
	valuesOffset, err := int64At(lg.Data, 1)
	if err != nil {
		return err
	}

	idsLen, err := int64At(lg.Data, int(idsOffset/wordSize))
	if err != nil {
		return err
	}
	valuesLen, err := int64At(lg.Data, int(valuesOffset/wordSize))
	if err != nil {
		return err
	}
	if idsLen != valuesLen {
		return &ShapeError{Msg: "TransferBatch: ids/values length mismatch"}
	}

	for i := int64(0); i < idsLen; i++ {
		tokenID, err := bytes32At(lg.Data, int(idsOffset/wordSize)+1+int(i))
		if err != nil {
			return err
		}
		amount, err := int64At(lg.Data, int(valuesOffset/wordSize)+1+int(i))
		if err != nil {
			return err
		}
		events.Transfer = append(events.Transfer, TransferRow{
			BlockNumber: lg.BlockNumber,
			LogIndex:    int64(lg.Index)*1000 + i,
			From:        from,
			To:          to,
			TokenID:     tokenID,
			Amount:      amount,
		})
	}
	return nil
}

func parseSplit(lg types.Log, events *ParsedEvents) error {
	if len(lg.Topics) < 4 {
		return &ShapeError{Msg: fmt.Sprintf("PositionSplit: expected 4 topics, got %d", len(lg.Topics))}
	}
	stakeholder := addressFromTopic(lg.Topics[1])
	conditionID := lg.Topics[3]

	amount, err := int64At(lg.Data, 2)
	if err != nil {
		return err
	}

	events.Split = append(events.Split, SplitRow{
		BlockNumber: lg.BlockNumber,
		LogIndex:    int64(lg.Index),
		Stakeholder: stakeholder,
		ConditionID: conditionID,
		Amount:      amount,
	})
	return nil
}

func parseMerge(lg types.Log, events *ParsedEvents) error {
	if len(lg.Topics) < 4 {
		return &ShapeError{Msg: fmt.Sprintf("PositionsMerge: expected 4 topics, got %d", len(lg.Topics))}
	}
	stakeholder := addressFromTopic(lg.Topics[1])
	conditionID := lg.Topics[3]

	amount, err := int64At(lg.Data, 2)
	if err != nil {
		return err
	}

	events.Merge = append(events.Merge, MergeRow{
		BlockNumber: lg.BlockNumber,
		LogIndex:    int64(lg.Index),
		Stakeholder: stakeholder,
		ConditionID: conditionID,
		Amount:      amount,
	})
	return nil
}

func parseRedemption(lg types.Log, events *ParsedEvents) error {
	if len(lg.Topics) < 2 {
		return &ShapeError{Msg: fmt.Sprintf("PayoutRedemption: expected 2 topics, got %d", len(lg.Topics))}
	}
	redeemer := addressFromTopic(lg.Topics[1])

	conditionID, err := bytes32At(lg.Data, 0)
	if err != nil {
		return err
	}
	indexSetsOffset, err := int64At(lg.Data, 1)
	if err != nil {
		return err
	}
	payout, err := int64At(lg.Data, 2)
	if err != nil {
		return err
	}

	indexSetsLen, err := int64At(lg.Data, int(indexSetsOffset/wordSize))
	if err != nil {
		return err
	}
	var indexSets int64
	for i := int64(0); i < indexSetsLen; i++ {
		v, err := int64At(lg.Data, int(indexSetsOffset/wordSize)+1+int(i))
		if err != nil {
			return err
		}
		indexSets |= v
	}

	events.Redemption = append(events.Redemption, RedemptionRow{
		BlockNumber: lg.BlockNumber,
		LogIndex:    int64(lg.Index),
		Redeemer:    redeemer,
		ConditionID: conditionID,
		IndexSets:   indexSets,
		Payout:      payout,
	})
	return nil
}

func parseConditionPreparation(lg types.Log, events *ParsedEvents) error {
	if len(lg.Topics) < 4 {
		return &ShapeError{Msg: fmt.Sprintf("ConditionPreparation: expected 4 topics, got %d", len(lg.Topics))}
	}
	outcomeCount, err := int64At(lg.Data, 0)
	if err != nil {
		return err
	}
	events.ConditionPreparation = append(events.ConditionPreparation, ConditionPreparationRow{
		BlockNumber:  lg.BlockNumber,
		LogIndex:     int64(lg.Index),
		ConditionID:  lg.Topics[1],
		Oracle:       addressFromTopic(lg.Topics[2]),
		QuestionID:   lg.Topics[3],
		OutcomeCount: outcomeCount,
	})
	return nil
}

func parseConditionResolution(lg types.Log, events *ParsedEvents) error {
	if len(lg.Topics) < 2 {
		return &ShapeError{Msg: fmt.Sprintf("ConditionResolution: expected 2 topics, got %d", len(lg.Topics))}
	}
	conditionID := lg.Topics[1]

	payoutOffset, err := int64At(lg.Data, 1)
	if err != nil {
		return err
	}
	payoutLen, err := int64At(lg.Data, int(payoutOffset/wordSize))
	if err != nil {
		return err
	}

	numerators := make([]int64, payoutLen)
	for i := int64(0); i < payoutLen; i++ {
		v, err := int64At(lg.Data, int(payoutOffset/wordSize)+1+int(i))
		if err != nil {
			return err
		}
		numerators[i] = v
	}

	events.ConditionResolution = append(events.ConditionResolution, ConditionResolutionRow{
		LogIndex:         int64(lg.Index),
		ConditionID:      conditionID,
		PayoutNumerators: numerators,
		ResolutionBlock:  int64(lg.BlockNumber),
	})
	return nil
}

func parseOrderFilled(lg types.Log, exchange string, events *ParsedEvents) error {
	if len(lg.Topics) < 4 {
		return &ShapeError{Msg: fmt.Sprintf("OrderFilled: expected 4 topics, got %d", len(lg.Topics))}
	}
	maker := addressFromTopic(lg.Topics[2])
	taker := addressFromTopic(lg.Topics[3])

	makerAssetID, err := int64At(lg.Data, 0)
	if err != nil {
		return err
	}
	makerAmount, err := int64At(lg.Data, 2)
	if err != nil {
		return err
	}
	takerAmount, err := int64At(lg.Data, 3)
	if err != nil {
		return err
	}
	fee, err := int64At(lg.Data, 4)
	if err != nil {
		return err
	}

	var tokenID common.Hash
	var side OrderFilledSide
	var usdcAmount, tokenAmount int64

	if makerAssetID == 0 {
		tokenID, err = bytes32At(lg.Data, 1)
		side = SideBuy
		usdcAmount = makerAmount
		tokenAmount = takerAmount
	} else {
		tokenID, err = bytes32At(lg.Data, 0)
		side = SideSell
		usdcAmount = takerAmount
		tokenAmount = makerAmount
	}
	if err != nil {
		return err
	}

	events.OrderFilled = append(events.OrderFilled, OrderFilledRow{
		BlockNumber: lg.BlockNumber,
		LogIndex:    int64(lg.Index),
		Exchange:    exchange,
		Maker:       maker,
		Taker:       taker,
		TokenID:     tokenID,
		Side:        side,
		USDCAmount:  usdcAmount,
		TokenAmount: tokenAmount,
		Fee:         fee,
	})
	return nil
}

func parseTokenRegistered(lg types.Log, exchange string, events *ParsedEvents) error {
	if len(lg.Topics) < 4 {
		return &ShapeError{Msg: fmt.Sprintf("TokenRegistered: expected 4 topics, got %d", len(lg.Topics))}
	}
	token0 := lg.Topics[1]
	token1 := lg.Topics[2]
	conditionID := lg.Topics[3]

	// Canonical order: the lower-valued 32-byte id is always is_yes=1.
	if greaterHash(token0, token1) {
		token0, token1 = token1, token0
	}

	events.TokenMap = append(events.TokenMap,
		TokenMapRow{TokenID: token0, ConditionID: conditionID, Exchange: exchange, IsYes: true},
		TokenMapRow{TokenID: token1, ConditionID: conditionID, Exchange: exchange, IsYes: false},
	)
	return nil
}

func greaterHash(a, b common.Hash) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] > b[i]
		}
	}
	return false
}

func parseConvert(lg types.Log, events *ParsedEvents) error {
	if len(lg.Topics) < 4 {
		return &ShapeError{Msg: fmt.Sprintf("PositionsConverted: expected 4 topics, got %d", len(lg.Topics))}
	}
	stakeholder := addressFromTopic(lg.Topics[1])
	marketID := lg.Topics[2]
	indexSetHash := lg.Topics[3]
	indexSet := new(big.Int).SetBytes(indexSetHash.Bytes())

	amount, err := int64At(lg.Data, 0)
	if err != nil {
		return err
	}

	events.Convert = append(events.Convert, ConvertRow{
		BlockNumber: lg.BlockNumber,
		LogIndex:    int64(lg.Index),
		Stakeholder: stakeholder,
		MarketID:    marketID,
		IndexSet:    indexSet.Int64(),
		Amount:      amount,
	})
	return nil
}

func parseMarketPrepared(lg types.Log, events *ParsedEvents) error {
	if len(lg.Topics) < 3 {
		return &ShapeError{Msg: fmt.Sprintf("MarketPrepared: expected 3 topics, got %d", len(lg.Topics))}
	}
	marketID := lg.Topics[1]
	oracle := addressFromTopic(lg.Topics[2])

	feeBips, err := int64At(lg.Data, 0)
	if err != nil {
		return err
	}
	data, err := dynamicBytesAt(lg.Data, 1)
	if err != nil {
		return err
	}

	events.NegRiskMarket = append(events.NegRiskMarket, NegRiskMarketRow{
		MarketID: marketID,
		Oracle:   oracle,
		FeeBips:  feeBips,
		Data:     data,
	})
	return nil
}

func parseQuestionPrepared(lg types.Log, events *ParsedEvents) error {
	if len(lg.Topics) < 3 {
		return &ShapeError{Msg: fmt.Sprintf("QuestionPrepared: expected 3 topics, got %d", len(lg.Topics))}
	}
	marketID := lg.Topics[1]
	questionID := lg.Topics[2]

	questionIndex, err := int64At(lg.Data, 0)
	if err != nil {
		return err
	}
	data, err := dynamicBytesAt(lg.Data, 1)
	if err != nil {
		return err
	}

	events.NegRiskQuestion = append(events.NegRiskQuestion, NegRiskQuestionRow{
		QuestionID:    questionID,
		MarketID:      marketID,
		QuestionIndex: questionIndex,
		Data:          data,
	})
	return nil
}

// dynamicBytesAt decodes a dynamic `bytes` field: word offsetWordIdx is a
// byte offset to a length-prefixed payload. A zero-length payload returns
// nil, which Store persists as a SQL NULL rather than an empty BLOB.
func dynamicBytesAt(data []byte, offsetWordIdx int) ([]byte, error) {
	offset, err := int64At(data, offsetWordIdx)
	if err != nil {
		return nil, err
	}
	lengthWordIdx := int(offset / wordSize)
	length, err := int64At(data, lengthWordIdx)
	if err != nil {
		return nil, err
	}
	if length == 0 {
		return nil, nil
	}
	start := (lengthWordIdx + 1) * wordSize
	end := start + int(length)
	if end > len(data) {
		return nil, &ShapeError{Msg: "dynamic bytes payload exceeds data length"}
	}
	return data[start:end], nil
}

func parseFPMMCreation(lg types.Log) (FPMMRow, common.Address, error) {
	if len(lg.Topics) < 4 {
		return FPMMRow{}, common.Address{}, &ShapeError{
			Msg: fmt.Sprintf("FixedProductMarketMakerCreation: expected 4 topics, got %d", len(lg.Topics)),
		}
	}
	fpmmAddr, err := addressAt(lg.Data, 0)
	if err != nil {
		return FPMMRow{}, common.Address{}, err
	}
	collateral := addressFromTopic(lg.Topics[3])

	conditionIDs, err := dynamicHashArrayAt(lg.Data, 1)
	if err != nil {
		return FPMMRow{}, common.Address{}, err
	}
	fee, err := int64At(lg.Data, 2)
	if err != nil {
		return FPMMRow{}, common.Address{}, err
	}

	return FPMMRow{
		FPMMAddr:        fpmmAddr,
		ConditionIDs:    conditionIDs,
		CollateralToken: collateral,
		Fee:             fee,
		CreationBlock:   lg.BlockNumber,
	}, fpmmAddr, nil
}

func addressAt(data []byte, i int) (common.Address, error) {
	w, err := word(data, i)
	if err != nil {
		return common.Address{}, err
	}
	return common.BytesToAddress(w), nil
}

func dynamicHashArrayAt(data []byte, offsetWordIdx int) ([]common.Hash, error) {
	offset, err := int64At(data, offsetWordIdx)
	if err != nil {
		return nil, err
	}
	lengthWordIdx := int(offset / wordSize)
	length, err := int64At(data, lengthWordIdx)
	if err != nil {
		return nil, err
	}
	out := make([]common.Hash, length)
	for i := int64(0); i < length; i++ {
		h, err := bytes32At(data, lengthWordIdx+1+int(i))
		if err != nil {
			return nil, err
		}
		out[i] = h
	}
	return out, nil
}

func parseFPMMTrade(lg types.Log, side FPMMTradeSide, events *ParsedEvents) error {
	if len(lg.Topics) < 3 {
		return &ShapeError{Msg: fmt.Sprintf("FPMM%s: expected 3 topics, got %d", side, len(lg.Topics))}
	}
	trader := addressFromTopic(lg.Topics[1])
	outcomeIndex, err := int64At(lg.Topics[2].Bytes(), 0)
	if err != nil {
		return err
	}

	amount, err := int64At(lg.Data, 0)
	if err != nil {
		return err
	}
	feeAmount, err := int64At(lg.Data, 1)
	if err != nil {
		return err
	}
	tokenAmount, err := int64At(lg.Data, 2)
	if err != nil {
		return err
	}

	events.FPMMTrade = append(events.FPMMTrade, FPMMTradeRow{
		BlockNumber:  lg.BlockNumber,
		LogIndex:     int64(lg.Index),
		FPMMAddr:     lg.Address,
		Trader:       trader,
		Side:         side,
		OutcomeIndex: outcomeIndex,
		Amount:       amount,
		FeeAmount:    feeAmount,
		TokenAmount:  tokenAmount,
	})
	return nil
}

func parseFPMMFunding(lg types.Log, side FPMMFundingSide, events *ParsedEvents) error {
	if len(lg.Topics) < 2 {
		return &ShapeError{Msg: fmt.Sprintf("FPMMFunding%s: expected 2 topics, got %d", side, len(lg.Topics))}
	}
	funder := addressFromTopic(lg.Topics[1])

	amountsOffset, err := int64At(lg.Data, 0)
	if err != nil {
		return err
	}
	lengthWordIdx := int(amountsOffset / wordSize)
	amountsLen, err := int64At(lg.Data, lengthWordIdx)
	if err != nil {
		return err
	}

	var amount0, amount1 int64
	if amountsLen > 0 {
		amount0, err = int64At(lg.Data, lengthWordIdx+1)
		if err != nil {
			return err
		}
	}
	if amountsLen > 1 {
		amount1, err = int64At(lg.Data, lengthWordIdx+2)
		if err != nil {
			return err
		}
	}

	events.FPMMFunding = append(events.FPMMFunding, FPMMFundingRow{
		BlockNumber: lg.BlockNumber,
		LogIndex:    int64(lg.Index),
		FPMMAddr:    lg.Address,
		Funder:      funder,
		Side:        side,
		Amount0:     amount0,
		Amount1:     amount1,
	})
	return nil
}
