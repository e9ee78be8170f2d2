package decode

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Fixed contract addresses. These never change and are compared
// case-insensitively (go-ethereum's common.Address is already
// canonicalized to lowercase internally via common.HexToAddress).
var (
	ConditionalTokens  = common.HexToAddress("0x4d97dcd97ec945f40cf65f87097ace5ea0476045")
	CTFExchange        = common.HexToAddress("0x4bfb41d5b3570defd03c39a9a4d8de6bd8b8982e")
	NegRiskCTFExchange = common.HexToAddress("0xc5d563a36ae78145c45a50134d48a1215220f80a")
	NegRiskAdapter     = common.HexToAddress("0xd91e80cf2e7be2e162c6513ced06f1dd0da35296")
)

// Fixed-contract event topic0 values.
var (
	TopicConditionPreparation = common.HexToHash("0xab3760c3bd2bb38b5bcf54dc79802ed67338b4cf29f3054ded67ed24661e4177")
	TopicPositionSplit        = common.HexToHash("0x2e6bb91f8cbcda0c93623c54d0403a43514fabc40084ec96b6d5379a74786298")
	TopicPositionsMerge       = common.HexToHash("0x6f13ca62553fcc2bcd2372180a43949c1e4cebba603901ede2f4e14f36b282ca")
	TopicTransferSingle       = common.HexToHash("0xc3d58168c5ae7397731d063d5bbf3d657854427343f4c083240f7aacaa2d0f62")
	TopicTransferBatch        = common.HexToHash("0x4a39dc06d4c0dbc64b70af90fd698a233a518aa5d07e595d983b8c0526c8f7fb")
	TopicConditionResolution  = common.HexToHash("0xb44d84d3289691f71497564b85d4233648d9dbae8cbdbb4329f301c3a0185894")
	TopicPayoutRedemption     = common.HexToHash("0x2682012a4a4f1973119f1c9b90745d1bd91fa2bab387344f044cb3586864d18d")
	TopicTokenRegistered      = common.HexToHash("0xbc9a2432e8aeb48327246cddd6e872ef452812b4243c04e6bfb786a2cd8faf0d")
	TopicOrderFilled          = common.HexToHash("0xd0a08e8c493f9c94f29311604c9de1b4e8c8d4c06bd0c789af57f2d65bfec0f6")
	// TopicOrdersMatched is observed on the exchange contracts but never
	// decoded into a row: it duplicates information already captured
	// per-maker/taker by OrderFilled rows.
	TopicOrdersMatched      = common.HexToHash("0x63bf4d16b7fa898ef4c4b2b6d90fd201e9c56313b65638af6088d149d2ce956c")
	TopicMarketPrepared     = common.HexToHash("0xf059ab16d1ca60e123eab60e3c02b68faf060347c701a5d14885a8e1def7b3a8")
	TopicQuestionPrepared   = common.HexToHash("0xaac410f87d423a922a7b226ac68f0c2eaf5bf6d15e644ac0758c7f96e2c253f7")
	TopicPositionsConverted = common.HexToHash("0xb03d19dddbc72a87e735ff0ea3b57bef133ebe44e1894284916a84044deb367e")
)

// FPMM pool instances aren't known up front; their topics are computed the
// same way the teacher computes SyncEventTopic/PoolCreatedEventTopic in
// internal/ingestion/decoder.go, from the public FixedProductMarketMaker
// and factory ABI signatures — there is no fixed-address source to
// transcribe these from.
var (
	TopicFPMMCreation = crypto.Keccak256Hash([]byte(
		"FixedProductMarketMakerCreation(address,address,address,address,bytes32[],uint256)"))
	TopicFPMMFundingAdded   = crypto.Keccak256Hash([]byte("FPMMFundingAdded(address,uint256[],uint256)"))
	TopicFPMMFundingRemoved = crypto.Keccak256Hash([]byte("FPMMFundingRemoved(address,uint256[],uint256,uint256)"))
	TopicFPMMBuy            = crypto.Keccak256Hash([]byte("FPMMBuy(address,uint256,uint256,uint256,uint256)"))
	TopicFPMMSell           = crypto.Keccak256Hash([]byte("FPMMSell(address,uint256,uint256,uint256,uint256)"))
)

// ZeroAddress is the ERC-1155 mint/burn sentinel; transfers with this as
// either endpoint are skipped (mint/burn is covered by Split/Merge/Redeem).
var ZeroAddress common.Address
