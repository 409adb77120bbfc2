package explorer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/LegionofMany/411BlockPages-sub001/internal/chain"
	"github.com/LegionofMany/411BlockPages-sub001/internal/chain/ratelimit"
	"github.com/LegionofMany/411BlockPages-sub001/internal/domain/model"
	"github.com/LegionofMany/411BlockPages-sub001/internal/metrics"
)

const (
	defaultMaxResults = 25
	requestTimeout    = 15 * time.Second
	maxResponseBytes  = 4 << 20 // 4 MB
)

// Fetcher lists recent transactions for an address from public REST
// explorers. Backends are probed in order; every upstream failure is
// normalized to "nothing found this round" so a flaky explorer never
// breaks a sweep. Amount and currency are not parsed here: explorer
// payload shapes vary per chain and resolution is left to callers.
type Fetcher struct {
	chain      model.Chain
	backends   []string
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	maxResults int
	logger     *slog.Logger

	request func(ctx context.Context, base, address string, limit int) (*http.Request, error)
	parse   func(body []byte, limit int) ([]string, error)
}

var _ chain.TxFetcher = (*Fetcher)(nil)

// NewBitcoin probes blockstream/mempool style explorers:
// GET {base}/address/{addr}/txs returning [{"txid": ...}, ...].
func NewBitcoin(backends []string, logger *slog.Logger) *Fetcher {
	return newFetcher(model.ChainBitcoin, backends, logger, bitcoinRequest, bitcoinParse)
}

// NewSolana lists recent signatures via the public RPC's
// getSignaturesForAddress, probing endpoints in order.
func NewSolana(backends []string, logger *slog.Logger) *Fetcher {
	return newFetcher(model.ChainSolana, backends, logger, solanaRequest, solanaParse)
}

// NewTron probes trongrid style explorers:
// GET {base}/v1/accounts/{addr}/transactions returning {"data": [{"txID": ...}]}.
func NewTron(backends []string, logger *slog.Logger) *Fetcher {
	return newFetcher(model.ChainTron, backends, logger, tronRequest, tronParse)
}

func newFetcher(
	c model.Chain,
	backends []string,
	logger *slog.Logger,
	request func(ctx context.Context, base, address string, limit int) (*http.Request, error),
	parse func(body []byte, limit int) ([]string, error),
) *Fetcher {
	return &Fetcher{
		chain:      c,
		backends:   backends,
		httpClient: &http.Client{Timeout: requestTimeout},
		limiter:    ratelimit.NewLimiter(2, 4, c.String()),
		maxResults: defaultMaxResults,
		logger:     logger.With("chain", c.String(), "component", "explorer"),
		request:    request,
		parse:      parse,
	}
}

func (f *Fetcher) Chain() model.Chain {
	return f.chain
}

// RecentTransactions returns a bounded list of recent tx hashes for the
// address, normalized into canonical records with only the hash populated.
func (f *Fetcher) RecentTransactions(ctx context.Context, address string) ([]chain.Transaction, error) {
	for _, base := range f.backends {
		hashes, err := f.listFromBackend(ctx, base, address)
		if err != nil {
			metrics.ExplorerRequestsTotal.WithLabelValues(f.chain.String(), "error").Inc()
			f.logger.Warn("explorer backend failed",
				"backend", base,
				"address", address,
				"error", err,
			)
			continue
		}
		metrics.ExplorerRequestsTotal.WithLabelValues(f.chain.String(), "ok").Inc()

		txs := make([]chain.Transaction, 0, len(hashes))
		for _, h := range hashes {
			txs = append(txs, chain.Transaction{Chain: f.chain, Hash: h, To: address})
		}
		return txs, nil
	}
	// Every backend failed: treat as nothing found this round.
	return []chain.Transaction{}, nil
}

// FetchTransaction scans the recent-transaction list for a hash match.
func (f *Fetcher) FetchTransaction(ctx context.Context, hash, address string) (*chain.Transaction, error) {
	txs, err := f.RecentTransactions(ctx, address)
	if err != nil {
		return nil, err
	}
	for i := range txs {
		if strings.EqualFold(txs[i].Hash, hash) {
			return &txs[i], nil
		}
	}
	return nil, nil
}

func (f *Fetcher) listFromBackend(ctx context.Context, base, address string) ([]string, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := f.request(ctx, base, address, f.maxResults)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("explorer request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http status %d", resp.StatusCode)
	}

	hashes, err := f.parse(body, f.maxResults)
	if err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return hashes, nil
}

func bitcoinRequest(ctx context.Context, base, address string, _ int) (*http.Request, error) {
	url := fmt.Sprintf("%s/address/%s/txs", strings.TrimRight(base, "/"), address)
	return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
}

func bitcoinParse(body []byte, limit int) ([]string, error) {
	var txs []struct {
		Txid string `json:"txid"`
	}
	if err := json.Unmarshal(body, &txs); err != nil {
		return nil, err
	}
	hashes := make([]string, 0, len(txs))
	for _, t := range txs {
		if t.Txid == "" {
			continue
		}
		hashes = append(hashes, t.Txid)
		if len(hashes) >= limit {
			break
		}
	}
	return hashes, nil
}

func solanaRequest(ctx context.Context, base, address string, limit int) (*http.Request, error) {
	payload := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "getSignaturesForAddress",
		"params":  []interface{}{address, map[string]int{"limit": limit}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func solanaParse(body []byte, limit int) ([]string, error) {
	var resp struct {
		Result []struct {
			Signature string      `json:"signature"`
			Err       interface{} `json:"err"`
		} `json:"result"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("rpc error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	hashes := make([]string, 0, len(resp.Result))
	for _, s := range resp.Result {
		if s.Signature == "" || s.Err != nil {
			continue
		}
		hashes = append(hashes, s.Signature)
		if len(hashes) >= limit {
			break
		}
	}
	return hashes, nil
}

func tronRequest(ctx context.Context, base, address string, limit int) (*http.Request, error) {
	url := fmt.Sprintf("%s/v1/accounts/%s/transactions?limit=%d", strings.TrimRight(base, "/"), address, limit)
	return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
}

func tronParse(body []byte, limit int) ([]string, error) {
	var resp struct {
		Data []struct {
			TxID string `json:"txID"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	hashes := make([]string, 0, len(resp.Data))
	for _, t := range resp.Data {
		if t.TxID == "" {
			continue
		}
		hashes = append(hashes, t.TxID)
		if len(hashes) >= limit {
			break
		}
	}
	return hashes, nil
}
