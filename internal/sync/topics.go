package sync

import (
	"github.com/ethereum/go-ethereum/common"

	"polyindex/internal/decode"
)

// topicGroups is the five-way split spec.md §4.4 fans the per-window
// eth_getLogs call out into: one fixed-address query per fixed contract,
// plus one address=nil query for the FPMM pool topic set (which also
// picks up FixedProductMarketMakerCreation events regardless of which
// address emits them, giving the decoder's two-pass discovery its input
// without this coordinator needing to know a factory address).
type topicGroup struct {
	label   string
	address *common.Address
	topics  []common.Hash
}

func topicGroups() []topicGroup {
	conditionalTokens := decode.ConditionalTokens
	ctfExchange := decode.CTFExchange
	negRiskExchange := decode.NegRiskCTFExchange
	negRiskAdapter := decode.NegRiskAdapter

	return []topicGroup{
		{
			label:   "conditional_tokens",
			address: &conditionalTokens,
			topics: []common.Hash{
				decode.TopicConditionPreparation,
				decode.TopicConditionResolution,
				decode.TopicPositionSplit,
				decode.TopicPositionsMerge,
				decode.TopicTransferSingle,
				decode.TopicTransferBatch,
				decode.TopicPayoutRedemption,
			},
		},
		{
			label:   "ctf_exchange",
			address: &ctfExchange,
			topics:  []common.Hash{decode.TopicOrderFilled, decode.TopicTokenRegistered},
		},
		{
			label:   "negrisk_exchange",
			address: &negRiskExchange,
			topics:  []common.Hash{decode.TopicOrderFilled, decode.TopicTokenRegistered},
		},
		{
			label:   "negrisk_adapter",
			address: &negRiskAdapter,
			topics: []common.Hash{
				decode.TopicPositionsConverted,
				decode.TopicMarketPrepared,
				decode.TopicQuestionPrepared,
			},
		},
		{
			label:   "fpmm_pools",
			address: nil,
			topics: []common.Hash{
				decode.TopicFPMMCreation,
				decode.TopicFPMMBuy,
				decode.TopicFPMMSell,
				decode.TopicFPMMFundingAdded,
				decode.TopicFPMMFundingRemoved,
			},
		},
	}
}
