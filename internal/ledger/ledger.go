// Package ledger records verified donations. Every pledge is written in one
// database transaction together with the fundraiser aggregate update, keyed
// by (fundraiserID, externalID) so replays and concurrent sweeps are benign.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/LegionofMany/411BlockPages-sub001/internal/domain/model"
	"github.com/LegionofMany/411BlockPages-sub001/internal/metrics"
	"github.com/LegionofMany/411BlockPages-sub001/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	// taxPrecision bounds the stored tax to sane NUMERIC scale.
	taxPrecision = 8

	defaultRecentDonorsCap = 10
)

// ErrFundraiserNotFound is returned when the pledge references a fundraiser
// that does not exist.
var ErrFundraiserNotFound = fmt.Errorf("fundraiser not found")

// PledgeInput is everything the ledger needs to record one verified donation.
type PledgeInput struct {
	FundraiserID uuid.UUID
	ExternalID   string
	Amount       decimal.Decimal
	Currency     string
	Donor        *string
	Raw          json.RawMessage
}

type Service struct {
	runner      store.TxRunner
	pledges     store.PledgeRepository
	fundraisers store.FundraiserRepository

	defaultTaxRate  decimal.Decimal
	recentDonorsCap int
	logger          *slog.Logger
}

type Option func(*Service)

// WithDefaultTaxRate sets the rate applied when a fundraiser has none.
func WithDefaultTaxRate(rate decimal.Decimal) Option {
	return func(s *Service) { s.defaultTaxRate = rate }
}

func WithRecentDonorsCap(cap int) Option {
	return func(s *Service) {
		if cap > 0 {
			s.recentDonorsCap = cap
		}
	}
}

func New(runner store.TxRunner, pledges store.PledgeRepository, fundraisers store.FundraiserRepository, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		runner:          runner,
		pledges:         pledges,
		fundraisers:     fundraisers,
		defaultTaxRate:  decimal.Zero,
		recentDonorsCap: defaultRecentDonorsCap,
		logger:          logger.With("component", "ledger"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreatePledgeAtomic records a pledge and updates the fundraiser aggregates
// in a single transaction. If the (fundraiserID, externalID) pair was already
// recorded, the existing pledge is returned with alreadyRecorded = true and
// no aggregate changes.
func (s *Service) CreatePledgeAtomic(ctx context.Context, in PledgeInput) (pledge *model.Pledge, alreadyRecorded bool, err error) {
	if in.ExternalID == "" {
		return nil, false, fmt.Errorf("pledge external ID is empty")
	}

	err = s.runner.WithinTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		p := &model.Pledge{
			FundraiserID: in.FundraiserID,
			ExternalID:   in.ExternalID,
			Amount:       in.Amount,
			Currency:     in.Currency,
			Donor:        in.Donor,
			Status:       model.PledgeStatusCompleted,
			Raw:          in.Raw,
		}
		inserted, err := s.pledges.InsertTx(ctx, tx, p)
		if err != nil {
			return fmt.Errorf("insert pledge: %w", err)
		}
		if !inserted {
			existing, err := s.pledges.GetTx(ctx, tx, in.FundraiserID, in.ExternalID)
			if err != nil {
				return fmt.Errorf("load existing pledge: %w", err)
			}
			pledge = existing
			alreadyRecorded = true
			return nil
		}

		f, err := s.fundraisers.GetForUpdateTx(ctx, tx, in.FundraiserID)
		if err != nil {
			return fmt.Errorf("lock fundraiser: %w", err)
		}
		if f == nil {
			return fmt.Errorf("%w: %s", ErrFundraiserNotFound, in.FundraiserID)
		}

		raised := f.Raised
		taxCollected := f.TaxCollected
		if strings.EqualFold(in.Currency, f.Currency) && in.Amount.IsPositive() {
			raised = raised.Add(in.Amount)
			tax := in.Amount.Mul(s.taxRateFor(f)).Round(taxPrecision)
			taxCollected = taxCollected.Add(tax)
		}
		donors := model.PushRecentDonor(f.RecentDonors, donorSummary(p), s.recentDonorsCap)

		if err := s.fundraisers.UpdateAggregatesTx(ctx, tx, f.ID, raised, taxCollected, donors); err != nil {
			return fmt.Errorf("update aggregates: %w", err)
		}
		pledge = p
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if alreadyRecorded {
		metrics.PledgesDedupedTotal.Inc()
		s.logger.Debug("pledge already recorded",
			"fundraiser_id", in.FundraiserID, "external_id", in.ExternalID)
	} else {
		metrics.PledgesCreatedTotal.Inc()
		s.logger.Info("pledge recorded",
			"fundraiser_id", in.FundraiserID,
			"external_id", in.ExternalID,
			"amount", in.Amount.String(),
			"currency", in.Currency)
	}
	return pledge, alreadyRecorded, nil
}

// Recorded reports whether the pledge already exists. It is a shortcut for
// the sweep to skip transactions before doing any chain work.
func (s *Service) Recorded(ctx context.Context, fundraiserID uuid.UUID, externalID string) (bool, error) {
	return s.pledges.Exists(ctx, fundraiserID, externalID)
}

func (s *Service) taxRateFor(f *model.Fundraiser) decimal.Decimal {
	if f.TaxRate != nil {
		return *f.TaxRate
	}
	return s.defaultTaxRate
}

func donorSummary(p *model.Pledge) string {
	return fmt.Sprintf("%s:%s", p.DonorLabel(), p.Amount.String())
}
