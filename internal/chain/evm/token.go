package evm

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/LegionofMany/411BlockPages-sub001/internal/cache"
	"github.com/LegionofMany/411BlockPages-sub001/internal/chain/evm/rpc"
	"github.com/LegionofMany/411BlockPages-sub001/internal/domain/model"
	"github.com/LegionofMany/411BlockPages-sub001/internal/gateway"
	"github.com/LegionofMany/411BlockPages-sub001/internal/metrics"
)

// ERC-20 function selectors.
const (
	selectorSymbol   = "0x95d89b41"
	selectorDecimals = "0x313ce567"
)

const (
	tokenCacheCapacity = 1024
	tokenCacheTTL      = 24 * time.Hour
)

// TokenMetadata is a token contract's symbol and decimal precision.
type TokenMetadata struct {
	Symbol   string
	Decimals int
}

// TokenResolver resolves ERC-20 token metadata via eth_call, with a
// long-TTL read-through cache. Concurrent misses may fetch the same
// contract twice; the calls are pure reads so that is acceptable.
type TokenResolver struct {
	chain    model.Chain
	client   rpc.RPCClient
	gw       *gateway.Gateway
	endpoint string
	cache    *cache.LRU[string, TokenMetadata]
	logger   *slog.Logger
}

func NewTokenResolver(c model.Chain, client *rpc.Client, gw *gateway.Gateway, logger *slog.Logger) *TokenResolver {
	return newTokenResolver(c, client, client.URL(), gw, logger)
}

func newTokenResolver(c model.Chain, client rpc.RPCClient, endpoint string, gw *gateway.Gateway, logger *slog.Logger) *TokenResolver {
	return &TokenResolver{
		chain:    c,
		client:   client,
		gw:       gw,
		endpoint: endpoint,
		cache:    cache.NewLRU[string, TokenMetadata](tokenCacheCapacity, tokenCacheTTL),
		logger:   logger.With("chain", c.String(), "component", "token_resolver"),
	}
}

// Resolve returns the token's {symbol, decimals}, fetching and caching it
// on first sight of the contract.
func (r *TokenResolver) Resolve(ctx context.Context, contract string) (TokenMetadata, error) {
	key := strings.ToLower(strings.TrimSpace(contract))

	if meta, ok := r.cache.Get(key); ok {
		metrics.TokenMetadataLookups.WithLabelValues(r.chain.String(), "hit").Inc()
		return meta, nil
	}
	metrics.TokenMetadataLookups.WithLabelValues(r.chain.String(), "miss").Inc()

	symbolRaw, err := gateway.Execute(ctx, r.gw, r.endpoint, func(ctx context.Context) (string, error) {
		return r.client.Call(ctx, rpc.CallMsg{To: contract, Data: selectorSymbol})
	})
	if err != nil {
		return TokenMetadata{}, fmt.Errorf("symbol() %s: %w", contract, err)
	}

	decimalsRaw, err := gateway.Execute(ctx, r.gw, r.endpoint, func(ctx context.Context) (string, error) {
		return r.client.Call(ctx, rpc.CallMsg{To: contract, Data: selectorDecimals})
	})
	if err != nil {
		return TokenMetadata{}, fmt.Errorf("decimals() %s: %w", contract, err)
	}

	meta := TokenMetadata{
		Symbol:   decodeABIString(symbolRaw),
		Decimals: decodeABIUint8(decimalsRaw),
	}
	if meta.Symbol == "" {
		meta.Symbol = "UNKNOWN"
	}

	r.cache.Put(key, meta)
	r.logger.Debug("resolved token metadata",
		"contract", contract,
		"symbol", meta.Symbol,
		"decimals", meta.Decimals,
	)
	return meta, nil
}

// decodeABIString decodes the return data of a string-typed call. Standard
// tokens return an ABI-encoded dynamic string; a few old contracts return a
// bytes32, which is handled by trimming trailing zeros.
func decodeABIString(data string) string {
	raw := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(data)), "0x")
	if raw == "" {
		return ""
	}

	if len(raw) >= 128 {
		length, err := strconv.ParseUint(raw[64:128], 16, 32)
		if err == nil && 128+int(length)*2 <= len(raw) {
			if decoded, err := hexToASCII(raw[128 : 128+int(length)*2]); err == nil {
				return decoded
			}
		}
	}

	// bytes32 fallback
	if decoded, err := hexToASCII(strings.TrimRight(raw, "0")); err == nil {
		return decoded
	}
	return ""
}

func decodeABIUint8(data string) int {
	raw := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(data)), "0x")
	if raw == "" {
		return 0
	}
	if len(raw) > 64 {
		raw = raw[:64]
	}
	raw = strings.TrimLeft(raw, "0")
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseUint(raw, 16, 16)
	if err != nil {
		return 0
	}
	return int(v)
}

func hexToASCII(raw string) (string, error) {
	if len(raw)%2 != 0 {
		raw += "0"
	}
	out := make([]byte, 0, len(raw)/2)
	for i := 0; i+1 < len(raw); i += 2 {
		b, err := strconv.ParseUint(raw[i:i+2], 16, 8)
		if err != nil {
			return "", err
		}
		if b == 0 {
			continue
		}
		out = append(out, byte(b))
	}
	return string(out), nil
}
