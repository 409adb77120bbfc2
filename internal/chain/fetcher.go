package chain

import (
	"context"
	"math/big"
	"time"

	"github.com/LegionofMany/411BlockPages-sub001/internal/domain/model"
)

// Transaction is the canonical record every fetcher normalizes into before
// detection runs. EVM fetchers populate ValueRaw and Logs from the tx and
// its receipt; explorer-backed chains typically fill only Hash and From.
type Transaction struct {
	Chain       model.Chain
	Hash        string
	From        string
	To          string
	ValueRaw    *big.Int
	Logs        []Log
	BlockNumber int64
	BlockTime   *time.Time
}

// Log is one receipt event log, kept in on-chain emission order.
type Log struct {
	Address string
	Topics  []string
	Data    string
}

// TxFetcher retrieves transactions for one chain.
//
// FetchTransaction returns (nil, nil) when the transaction does not exist;
// "not found" is a normal outcome, distinct from a fetch error.
// RecentTransactions returns a bounded candidate list for the sweep; explorer
// backends report upstream failures as an empty list, never an error.
type TxFetcher interface {
	Chain() model.Chain
	FetchTransaction(ctx context.Context, hash, address string) (*Transaction, error)
	RecentTransactions(ctx context.Context, address string) ([]Transaction, error)
}
