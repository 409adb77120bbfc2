package evm

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/LegionofMany/411BlockPages-sub001/internal/chain"
	"github.com/LegionofMany/411BlockPages-sub001/internal/chain/evm/rpc"
	"github.com/LegionofMany/411BlockPages-sub001/internal/domain/model"
	"github.com/LegionofMany/411BlockPages-sub001/internal/gateway"
)

const (
	defaultLookbackBlocks = 20
	defaultMaxCandidates  = 50
)

// Fetcher retrieves EVM transactions and receipts through the gateway and
// normalizes them into the canonical record.
type Fetcher struct {
	chain          model.Chain
	client         rpc.RPCClient
	gw             *gateway.Gateway
	endpoint       string
	lookbackBlocks int64
	maxCandidates  int
	logger         *slog.Logger
}

var _ chain.TxFetcher = (*Fetcher)(nil)

func NewFetcher(c model.Chain, client *rpc.Client, gw *gateway.Gateway, logger *slog.Logger) *Fetcher {
	return newFetcher(c, client, client.URL(), gw, logger)
}

func newFetcher(c model.Chain, client rpc.RPCClient, endpoint string, gw *gateway.Gateway, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		chain:          c,
		client:         client,
		gw:             gw,
		endpoint:       endpoint,
		lookbackBlocks: defaultLookbackBlocks,
		maxCandidates:  defaultMaxCandidates,
		logger:         logger.With("chain", c.String()),
	}
}

func (f *Fetcher) Chain() model.Chain {
	return f.chain
}

// FetchTransaction fetches the transaction and its receipt. If either is
// absent the transaction is reported as not found, not as an error.
func (f *Fetcher) FetchTransaction(ctx context.Context, hash, _ string) (*chain.Transaction, error) {
	tx, err := gateway.Execute(ctx, f.gw, f.endpoint, func(ctx context.Context) (*rpc.Transaction, error) {
		return f.client.GetTransactionByHash(ctx, hash)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch transaction %s: %w", hash, err)
	}
	if tx == nil {
		return nil, nil
	}

	receipt, err := gateway.Execute(ctx, f.gw, f.endpoint, func(ctx context.Context) (*rpc.TransactionReceipt, error) {
		return f.client.GetTransactionReceipt(ctx, hash)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch receipt %s: %w", hash, err)
	}
	if receipt == nil {
		return nil, nil
	}

	return f.normalize(tx, receipt), nil
}

// RecentTransactions scans a bounded window of recent blocks for
// transactions touching the address. Token transfers credited via event
// logs surface through manual verification instead; the scan only sees
// native to/from matches.
func (f *Fetcher) RecentTransactions(ctx context.Context, address string) ([]chain.Transaction, error) {
	head, err := gateway.Execute(ctx, f.gw, f.endpoint, func(ctx context.Context) (int64, error) {
		return f.client.GetBlockNumber(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("get head block: %w", err)
	}

	startBlock := head - (f.lookbackBlocks - 1)
	if startBlock < 0 {
		startBlock = 0
	}

	addr := strings.ToLower(strings.TrimSpace(address))
	candidates := make([]chain.Transaction, 0, f.maxCandidates)

	for blockNum := startBlock; blockNum <= head && len(candidates) < f.maxCandidates; blockNum++ {
		num := blockNum
		block, err := gateway.Execute(ctx, f.gw, f.endpoint, func(ctx context.Context) (*rpc.Block, error) {
			return f.client.GetBlockByNumber(ctx, num, true)
		})
		if err != nil {
			return nil, fmt.Errorf("get block %d: %w", num, err)
		}
		if block == nil {
			continue
		}

		var blockTime *time.Time
		if ts, err := rpc.ParseHexInt64(block.Timestamp); err == nil && ts > 0 {
			parsed := time.Unix(ts, 0)
			blockTime = &parsed
		}

		for _, tx := range block.Transactions {
			if tx == nil || strings.TrimSpace(tx.Hash) == "" {
				continue
			}
			from := strings.ToLower(strings.TrimSpace(tx.From))
			to := strings.ToLower(strings.TrimSpace(tx.To))
			if from != addr && to != addr {
				continue
			}

			candidates = append(candidates, chain.Transaction{
				Chain:       f.chain,
				Hash:        tx.Hash,
				From:        tx.From,
				To:          tx.To,
				ValueRaw:    parseHexBig(tx.Value),
				BlockNumber: num,
				BlockTime:   blockTime,
			})
			if len(candidates) >= f.maxCandidates {
				break
			}
		}
	}

	f.logger.Info("scanned recent blocks",
		"address", address,
		"candidates", len(candidates),
		"start_block", startBlock,
		"head_block", head,
	)

	return candidates, nil
}

func (f *Fetcher) normalize(tx *rpc.Transaction, receipt *rpc.TransactionReceipt) *chain.Transaction {
	logs := make([]chain.Log, 0, len(receipt.Logs))
	for _, l := range receipt.Logs {
		if l == nil || l.Removed {
			continue
		}
		logs = append(logs, chain.Log{
			Address: l.Address,
			Topics:  l.Topics,
			Data:    l.Data,
		})
	}

	blockNumber, _ := rpc.ParseHexInt64(tx.BlockNumber)

	return &chain.Transaction{
		Chain:       f.chain,
		Hash:        tx.Hash,
		From:        tx.From,
		To:          tx.To,
		ValueRaw:    parseHexBig(tx.Value),
		Logs:        logs,
		BlockNumber: blockNumber,
	}
}

func parseHexBig(value string) *big.Int {
	raw := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(value)), "0x")
	if raw == "" {
		return new(big.Int)
	}
	v, ok := new(big.Int).SetString(raw, 16)
	if !ok {
		return new(big.Int)
	}
	return v
}
