package model

type Chain string

const (
	ChainEthereum Chain = "ethereum"
	ChainBSC      Chain = "bsc"
	ChainPolygon  Chain = "polygon"
	ChainBitcoin  Chain = "bitcoin"
	ChainSolana   Chain = "solana"
	ChainTron     Chain = "tron"
)

func (c Chain) String() string {
	return string(c)
}

// IsEVM reports whether the chain speaks Ethereum JSON-RPC and emits
// ERC-20 style event logs.
func (c Chain) IsEVM() bool {
	switch c {
	case ChainEthereum, ChainBSC, ChainPolygon:
		return true
	}
	return false
}

// NativeSymbol returns the chain's native currency symbol.
func (c Chain) NativeSymbol() string {
	switch c {
	case ChainEthereum:
		return "ETH"
	case ChainBSC:
		return "BNB"
	case ChainPolygon:
		return "MATIC"
	case ChainBitcoin:
		return "BTC"
	case ChainSolana:
		return "SOL"
	case ChainTron:
		return "TRX"
	default:
		return ""
	}
}

// ParseChain validates a user-supplied chain identifier.
func ParseChain(s string) (Chain, bool) {
	switch Chain(s) {
	case ChainEthereum, ChainBSC, ChainPolygon, ChainBitcoin, ChainSolana, ChainTron:
		return Chain(s), true
	}
	return "", false
}

type PledgeStatus string

const (
	PledgeStatusPending   PledgeStatus = "pending"
	PledgeStatusCompleted PledgeStatus = "completed"
	PledgeStatusFailed    PledgeStatus = "failed"
)

type FundraiserStatus string

const (
	FundraiserStatusPending  FundraiserStatus = "pending"
	FundraiserStatusApproved FundraiserStatus = "approved"
	FundraiserStatusRejected FundraiserStatus = "rejected"
)
