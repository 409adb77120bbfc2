package detect

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/LegionofMany/411BlockPages-sub001/internal/chain"
	"github.com/LegionofMany/411BlockPages-sub001/internal/chain/evm"
	"github.com/LegionofMany/411BlockPages-sub001/internal/domain/model"
	"github.com/shopspring/decimal"
)

// erc20TransferTopic is keccak256("Transfer(address,address,uint256)").
const erc20TransferTopic = "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"

const nativeDecimals = 18

// TokenMetadataResolver resolves an ERC-20 contract's symbol and decimals.
type TokenMetadataResolver interface {
	Resolve(ctx context.Context, contract string) (evm.TokenMetadata, error)
}

// Result is the outcome of donation detection. A non-qualifying transaction
// yields Found=false with no error; errors are reserved for upstream
// failures while resolving token metadata.
type Result struct {
	Found    bool
	Amount   decimal.Decimal
	Currency string
	Donor    string
}

// Detector decides whether a fetched transaction is a qualifying transfer
// to a target address and computes its decimal-adjusted amount.
type Detector struct {
	resolvers map[model.Chain]TokenMetadataResolver
	logger    *slog.Logger
}

func New(logger *slog.Logger) *Detector {
	return &Detector{
		resolvers: make(map[model.Chain]TokenMetadataResolver),
		logger:    logger.With("component", "detector"),
	}
}

// RegisterResolver installs the token metadata resolver for an EVM chain.
func (d *Detector) RegisterResolver(c model.Chain, r TokenMetadataResolver) {
	d.resolvers[c] = r
}

// Detect inspects tx for a transfer to targetAddress.
//
// EVM: a direct `to` match is a native-currency transfer; otherwise receipt
// logs are scanned in emission order and the first decodable ERC-20 Transfer
// to the target wins. Malformed logs are skipped. Non-EVM: presence of the
// transaction in the fetched list counts as found; amount stays zero and
// currency empty for the caller to resolve.
func (d *Detector) Detect(ctx context.Context, tx *chain.Transaction, targetAddress string) (Result, error) {
	if tx == nil {
		return Result{}, nil
	}

	if !tx.Chain.IsEVM() {
		// Currency is left empty so the recorder can fall back to the
		// fundraiser's own currency, which on these chains may be a
		// token rather than the native coin.
		return Result{
			Found:  true,
			Amount: decimal.Zero,
			Donor:  tx.From,
		}, nil
	}

	if strings.EqualFold(strings.TrimSpace(tx.To), strings.TrimSpace(targetAddress)) {
		value := tx.ValueRaw
		if value == nil {
			value = new(big.Int)
		}
		return Result{
			Found:    true,
			Amount:   decimal.NewFromBigInt(value, -nativeDecimals),
			Currency: tx.Chain.NativeSymbol(),
			Donor:    tx.From,
		}, nil
	}

	for i := range tx.Logs {
		res, ok, err := d.matchTransferLog(ctx, tx.Chain, &tx.Logs[i], targetAddress)
		if err != nil {
			return Result{}, err
		}
		if ok {
			return res, nil
		}
	}

	return Result{}, nil
}

// matchTransferLog decodes one receipt log as an ERC-20 Transfer and checks
// its recipient. Undecodable logs report (Result{}, false, nil).
func (d *Detector) matchTransferLog(ctx context.Context, c model.Chain, log *chain.Log, targetAddress string) (Result, bool, error) {
	if len(log.Topics) < 3 || !strings.EqualFold(log.Topics[0], erc20TransferTopic) {
		return Result{}, false, nil
	}

	to, ok := topicAddress(log.Topics[2])
	if !ok || !strings.EqualFold(to, strings.TrimSpace(targetAddress)) {
		return Result{}, false, nil
	}

	value, ok := parseHexValue(log.Data)
	if !ok {
		d.logger.Debug("skipping undecodable transfer log", "contract", log.Address)
		return Result{}, false, nil
	}

	resolver, haveResolver := d.resolvers[c]
	if !haveResolver {
		return Result{}, false, fmt.Errorf("no token metadata resolver for chain %s", c)
	}
	meta, err := resolver.Resolve(ctx, log.Address)
	if err != nil {
		return Result{}, false, fmt.Errorf("resolve token %s: %w", log.Address, err)
	}

	donor := ""
	if from, ok := topicAddress(log.Topics[1]); ok {
		donor = from
	}

	return Result{
		Found:    true,
		Amount:   decimal.NewFromBigInt(value, -int32(meta.Decimals)),
		Currency: meta.Symbol,
		Donor:    donor,
	}, true, nil
}

// topicAddress extracts the 20-byte address from a 32-byte indexed topic.
func topicAddress(topic string) (string, bool) {
	raw := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(topic)), "0x")
	if len(raw) != 64 {
		return "", false
	}
	if _, ok := new(big.Int).SetString(raw, 16); !ok {
		return "", false
	}
	return "0x" + raw[24:], true
}

func parseHexValue(data string) (*big.Int, bool) {
	raw := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(data)), "0x")
	if raw == "" {
		return nil, false
	}
	v, ok := new(big.Int).SetString(raw, 16)
	if !ok {
		return nil, false
	}
	return v, true
}
