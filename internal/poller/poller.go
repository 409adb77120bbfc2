// Package poller sweeps active fundraisers for on-chain donations. The
// sweep is stateless: every run re-reads fundraisers and candidate
// transactions, and relies on the ledger's idempotency for overlap safety.
package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/LegionofMany/411BlockPages-sub001/internal/alert"
	"github.com/LegionofMany/411BlockPages-sub001/internal/chain"
	"github.com/LegionofMany/411BlockPages-sub001/internal/detect"
	"github.com/LegionofMany/411BlockPages-sub001/internal/domain/model"
	"github.com/LegionofMany/411BlockPages-sub001/internal/ledger"
	"github.com/LegionofMany/411BlockPages-sub001/internal/metrics"
	"github.com/LegionofMany/411BlockPages-sub001/internal/store"
	"github.com/LegionofMany/411BlockPages-sub001/internal/tracing"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// Verification errors mapped to HTTP statuses by the API layer.
var (
	ErrUnknownFundraiser = fmt.Errorf("unknown fundraiser")
	ErrNotVerifiable     = fmt.Errorf("fundraiser is inactive or not approved")
	ErrChainMismatch     = fmt.Errorf("requested chain does not match fundraiser chain")
	ErrNoQualifyingTx    = fmt.Errorf("no qualifying transaction found")
)

// RunSummary reports what one sweep did.
type RunSummary struct {
	Fundraisers int           `json:"fundraisers"`
	Candidates  int           `json:"candidates"`
	Created     int           `json:"created"`
	Skipped     int           `json:"skipped"`
	Errors      int           `json:"errors"`
	Duration    time.Duration `json:"durationNs"`
}

// Orchestrator drives donation sweeps and manual verifications against the
// injected chain fetchers, detector, and ledger.
type Orchestrator struct {
	fundraisers store.FundraiserRepository
	fetchers    map[model.Chain]chain.TxFetcher
	detector    *detect.Detector
	ledger      *ledger.Service
	alerter     alert.Alerter
	concurrency int
	logger      *slog.Logger
}

func New(fundraisers store.FundraiserRepository, detector *detect.Detector, ledgerSvc *ledger.Service, alerter alert.Alerter, logger *slog.Logger, fetchers ...chain.TxFetcher) *Orchestrator {
	m := make(map[model.Chain]chain.TxFetcher, len(fetchers))
	for _, f := range fetchers {
		m[f.Chain()] = f
	}
	return &Orchestrator{
		fundraisers: fundraisers,
		fetchers:    m,
		detector:    detector,
		ledger:      ledgerSvc,
		alerter:     alerter,
		concurrency: 4,
		logger:      logger.With("component", "poller"),
	}
}

// SetConcurrency bounds how many fundraisers are swept in parallel.
func (o *Orchestrator) SetConcurrency(n int) {
	if n > 0 {
		o.concurrency = n
	}
}

// Sweep runs one full pass over all active fundraisers. Per-fundraiser and
// per-transaction failures are isolated into warning alerts; only a failure
// to list fundraisers, or a panic, fails the run. A failed run leaves no
// state behind and never poisons the next invocation.
func (o *Orchestrator) Sweep(ctx context.Context) (summary RunSummary, err error) {
	start := time.Now()
	ctx, span := tracing.Tracer("poller").Start(ctx, "poller.Sweep")
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sweep panicked: %v", r)
			metrics.SweepErrorsTotal.WithLabelValues("panic").Inc()
			o.emit(alert.Alert{
				Level:   alert.LevelFatal,
				Message: fmt.Sprintf("sweep panicked: %v", r),
			})
			o.logger.Error("sweep panicked", "panic", r)
		}
		summary.Duration = time.Since(start)
		metrics.SweepRunsTotal.Inc()
		metrics.SweepDuration.Observe(summary.Duration.Seconds())
	}()

	active, err := o.fundraisers.GetActive(ctx)
	if err != nil {
		metrics.SweepErrorsTotal.WithLabelValues("list_fundraisers").Inc()
		o.emit(alert.Alert{
			Level:   alert.LevelFatal,
			Message: fmt.Sprintf("sweep could not list fundraisers: %v", err),
		})
		return summary, fmt.Errorf("list active fundraisers: %w", err)
	}
	summary.Fundraisers = len(active)
	span.SetAttributes(attribute.Int("fundraisers", len(active)))

	results := make([]fundraiserResult, len(active))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for i := range active {
		g.Go(func() error {
			results[i] = o.sweepFundraiser(gctx, &active[i])
			return nil
		})
	}
	// Workers never return errors; failures are folded into results.
	_ = g.Wait()

	for _, r := range results {
		summary.Candidates += r.candidates
		summary.Created += r.created
		summary.Skipped += r.skipped
		summary.Errors += r.errors
	}

	o.logger.Info("sweep finished",
		"fundraisers", summary.Fundraisers,
		"candidates", summary.Candidates,
		"created", summary.Created,
		"skipped", summary.Skipped,
		"errors", summary.Errors,
		"duration", time.Since(start))
	return summary, nil
}

type fundraiserResult struct {
	candidates int
	created    int
	skipped    int
	errors     int
}

func (o *Orchestrator) sweepFundraiser(ctx context.Context, f *model.Fundraiser) (res fundraiserResult) {
	logger := o.logger.With("fundraiser_id", f.ID, "chain", f.Chain)

	defer func() {
		if r := recover(); r != nil {
			res.errors++
			metrics.SweepErrorsTotal.WithLabelValues("fundraiser_panic").Inc()
			o.emit(alert.Alert{
				Level:           alert.LevelWarning,
				FundraiserID:    f.ID,
				FundraiserTitle: f.Title,
				Chain:           string(f.Chain),
				Message:         fmt.Sprintf("fundraiser sweep panicked: %v", r),
			})
			logger.Error("fundraiser sweep panicked", "panic", r)
		}
	}()

	if strings.TrimSpace(f.WalletAddress) == "" {
		o.emit(alert.Alert{
			Level:           alert.LevelConfig,
			FundraiserID:    f.ID,
			FundraiserTitle: f.Title,
			Chain:           string(f.Chain),
			Message:         "fundraiser has no wallet address configured",
		})
		logger.Warn("skipping fundraiser without wallet address")
		return res
	}

	fetcher, ok := o.fetchers[f.Chain]
	if !ok {
		o.emit(alert.Alert{
			Level:           alert.LevelConfig,
			FundraiserID:    f.ID,
			FundraiserTitle: f.Title,
			Chain:           string(f.Chain),
			Message:         fmt.Sprintf("no transaction fetcher configured for chain %s", f.Chain),
		})
		logger.Warn("skipping fundraiser on unconfigured chain")
		return res
	}

	candidates, err := fetcher.RecentTransactions(ctx, f.WalletAddress)
	if err != nil {
		res.errors++
		metrics.SweepErrorsTotal.WithLabelValues("fetch_candidates").Inc()
		o.emit(alert.Alert{
			Level:           alert.LevelWarning,
			FundraiserID:    f.ID,
			FundraiserTitle: f.Title,
			Chain:           string(f.Chain),
			Message:         fmt.Sprintf("could not fetch candidate transactions: %v", err),
		})
		logger.Warn("candidate fetch failed", "error", err)
		return res
	}
	res.candidates = len(candidates)

	for i := range candidates {
		tx := &candidates[i]
		created, err := o.processCandidate(ctx, f, fetcher, tx)
		switch {
		case err != nil:
			res.errors++
			metrics.SweepErrorsTotal.WithLabelValues("process_candidate").Inc()
			o.emit(alert.Alert{
				Level:           alert.LevelWarning,
				FundraiserID:    f.ID,
				FundraiserTitle: f.Title,
				Chain:           string(f.Chain),
				TxHash:          tx.Hash,
				Message:         fmt.Sprintf("could not process transaction: %v", err),
			})
			logger.Warn("candidate processing failed", "tx_hash", tx.Hash, "error", err)
		case created:
			res.created++
		default:
			res.skipped++
		}
	}
	return res
}

// processCandidate reports whether a new pledge was created for tx.
func (o *Orchestrator) processCandidate(ctx context.Context, f *model.Fundraiser, fetcher chain.TxFetcher, tx *chain.Transaction) (bool, error) {
	recorded, err := o.ledger.Recorded(ctx, f.ID, tx.Hash)
	if err != nil {
		return false, fmt.Errorf("pledge lookup: %w", err)
	}
	if recorded {
		return false, nil
	}

	// Sweep candidates on EVM chains come from block scans without receipt
	// logs; refetch the full transaction before detection.
	if f.Chain.IsEVM() && len(tx.Logs) == 0 {
		full, err := fetcher.FetchTransaction(ctx, tx.Hash, f.WalletAddress)
		if err != nil {
			return false, fmt.Errorf("refetch transaction: %w", err)
		}
		if full == nil {
			return false, nil
		}
		tx = full
	}

	result, err := o.detector.Detect(ctx, tx, f.WalletAddress)
	if err != nil {
		return false, fmt.Errorf("detect donation: %w", err)
	}
	if !result.Found {
		return false, nil
	}

	pledge, already, err := o.recordDetected(ctx, f, tx, result, nil)
	if err != nil {
		return false, err
	}
	if already {
		return false, nil
	}

	o.emit(alert.Alert{
		Level:           alert.LevelInfo,
		FundraiserID:    f.ID,
		FundraiserTitle: f.Title,
		Chain:           string(f.Chain),
		TxHash:          tx.Hash,
		Amount:          pledge.Amount.String(),
		Currency:        pledge.Currency,
		Message:         "donation verified",
	})
	return true, nil
}

// VerifyRequest is a manual verification submitted through the API.
type VerifyRequest struct {
	FundraiserID uuid.UUID
	Chain        model.Chain
	TxHash       string
	Donor        *string
	// Amount overrides the detected amount. Required to credit donations on
	// chains whose explorers do not expose transfer values.
	Amount *decimal.Decimal
}

// Verify checks a single claimed transaction and records it when it
// qualifies. It shares the ledger with the sweep, so racing submissions of
// one transaction converge on a single pledge.
func (o *Orchestrator) Verify(ctx context.Context, req VerifyRequest) (*model.Pledge, bool, error) {
	ctx, span := tracing.Tracer("poller").Start(ctx, "poller.Verify")
	defer span.End()

	f, err := o.fundraisers.Get(ctx, req.FundraiserID)
	if err != nil {
		return nil, false, fmt.Errorf("load fundraiser: %w", err)
	}
	if f == nil {
		return nil, false, ErrUnknownFundraiser
	}
	if !f.Verifiable() {
		return nil, false, ErrNotVerifiable
	}
	if req.Chain != "" && req.Chain != f.Chain {
		return nil, false, ErrChainMismatch
	}

	fetcher, ok := o.fetchers[f.Chain]
	if !ok {
		return nil, false, fmt.Errorf("no transaction fetcher configured for chain %s", f.Chain)
	}

	tx, err := fetcher.FetchTransaction(ctx, req.TxHash, f.WalletAddress)
	if err != nil {
		return nil, false, fmt.Errorf("fetch transaction: %w", err)
	}
	if tx == nil {
		return nil, false, ErrNoQualifyingTx
	}

	result, err := o.detector.Detect(ctx, tx, f.WalletAddress)
	if err != nil {
		return nil, false, fmt.Errorf("detect donation: %w", err)
	}
	if !result.Found {
		return nil, false, ErrNoQualifyingTx
	}

	pledge, already, err := o.recordDetected(ctx, f, tx, result, &req)
	if err != nil {
		return nil, false, err
	}

	if !already {
		o.emit(alert.Alert{
			Level:           alert.LevelInfo,
			FundraiserID:    f.ID,
			FundraiserTitle: f.Title,
			Chain:           string(f.Chain),
			TxHash:          tx.Hash,
			Amount:          pledge.Amount.String(),
			Currency:        pledge.Currency,
			Message:         "donation verified manually",
		})
	}
	return pledge, already, nil
}

func (o *Orchestrator) recordDetected(ctx context.Context, f *model.Fundraiser, tx *chain.Transaction, result detect.Result, req *VerifyRequest) (*model.Pledge, bool, error) {
	amount := result.Amount
	currency := result.Currency
	if currency == "" {
		currency = f.Currency
	}

	var donor *string
	if result.Donor != "" {
		d := result.Donor
		donor = &d
	}
	if req != nil {
		if req.Amount != nil && amount.IsZero() {
			amount = *req.Amount
		}
		if req.Donor != nil && *req.Donor != "" {
			donor = req.Donor
		}
	}

	return o.ledger.CreatePledgeAtomic(ctx, ledger.PledgeInput{
		FundraiserID: f.ID,
		ExternalID:   tx.Hash,
		Amount:       amount,
		Currency:     currency,
		Donor:        donor,
		Raw:          rawPayload(tx),
	})
}

// emit sends an alert without blocking the sweep. Delivery failures are the
// alerter's problem.
func (o *Orchestrator) emit(a alert.Alert) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := o.alerter.Send(ctx, a); err != nil {
			o.logger.Debug("alert delivery failed", "level", a.Level, "error", err)
		}
	}()
}

// rawPayload captures transaction provenance stored alongside the pledge.
func rawPayload(tx *chain.Transaction) json.RawMessage {
	value := ""
	if tx.ValueRaw != nil {
		value = tx.ValueRaw.String()
	}
	raw, err := json.Marshal(map[string]any{
		"chain":       tx.Chain,
		"hash":        tx.Hash,
		"from":        tx.From,
		"to":          tx.To,
		"value":       value,
		"blockNumber": tx.BlockNumber,
	})
	if err != nil {
		return nil
	}
	return raw
}
