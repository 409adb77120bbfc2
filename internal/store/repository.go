package store

import (
	"context"
	"database/sql"

	"github.com/LegionofMany/411BlockPages-sub001/internal/domain/model"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TxRunner runs fn inside one database transaction, committing on nil and
// rolling back on error. It is the ledger's only consistency primitive.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error
}

// PledgeRepository provides access to pledge rows. Tx-suffixed methods must
// run on the supplied transaction.
type PledgeRepository interface {
	// GetTx returns the pledge for (fundraiserID, externalID), or nil.
	GetTx(ctx context.Context, tx *sql.Tx, fundraiserID uuid.UUID, externalID string) (*model.Pledge, error)
	// InsertTx inserts p with ON CONFLICT DO NOTHING semantics and reports
	// whether a row was actually written.
	InsertTx(ctx context.Context, tx *sql.Tx, p *model.Pledge) (bool, error)
	// Exists is a cheap non-transactional existence probe for the sweep.
	Exists(ctx context.Context, fundraiserID uuid.UUID, externalID string) (bool, error)
}

// FundraiserRepository provides access to fundraiser rows.
type FundraiserRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Fundraiser, error)
	GetActive(ctx context.Context) ([]model.Fundraiser, error)
	// GetForUpdateTx locks the fundraiser row for the duration of tx.
	GetForUpdateTx(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*model.Fundraiser, error)
	// UpdateAggregatesTx writes the new running totals and donor summaries.
	UpdateAggregatesTx(ctx context.Context, tx *sql.Tx, id uuid.UUID, raised, taxCollected decimal.Decimal, recentDonors []string) error
	Upsert(ctx context.Context, f *model.Fundraiser) error
}
