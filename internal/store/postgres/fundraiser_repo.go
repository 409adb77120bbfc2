package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/LegionofMany/411BlockPages-sub001/internal/domain/model"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

type FundraiserRepo struct {
	db *DB
}

func NewFundraiserRepo(db *DB) *FundraiserRepo {
	return &FundraiserRepo{db: db}
}

const fundraiserColumns = `
	id, title, wallet_address, chain, currency, raised, tax_rate,
	tax_collected, recent_donors, active, status, created_at, updated_at`

func (r *FundraiserRepo) Get(ctx context.Context, id uuid.UUID) (*model.Fundraiser, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx,
		`SELECT `+fundraiserColumns+` FROM fundraisers WHERE id = $1`, id)
	f, err := scanFundraiser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get fundraiser: %w", err)
	}
	return f, nil
}

// GetActive returns fundraisers eligible for the sweep.
func (r *FundraiserRepo) GetActive(ctx context.Context) ([]model.Fundraiser, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+fundraiserColumns+` FROM fundraisers
		 WHERE active = TRUE AND status = $1
		 ORDER BY created_at`, model.FundraiserStatusApproved)
	if err != nil {
		return nil, fmt.Errorf("list active fundraisers: %w", err)
	}
	defer rows.Close()

	var out []model.Fundraiser
	for rows.Next() {
		f, err := scanFundraiser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fundraiser: %w", err)
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

// GetForUpdateTx locks the fundraiser row until tx completes, serializing
// concurrent aggregate updates.
func (r *FundraiserRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*model.Fundraiser, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+fundraiserColumns+` FROM fundraisers WHERE id = $1 FOR UPDATE`, id)
	f, err := scanFundraiser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock fundraiser: %w", err)
	}
	return f, nil
}

func (r *FundraiserRepo) UpdateAggregatesTx(ctx context.Context, tx *sql.Tx, id uuid.UUID, raised, taxCollected decimal.Decimal, recentDonors []string) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE fundraisers
		SET raised = $2, tax_collected = $3, recent_donors = $4, updated_at = now()
		WHERE id = $1
	`, id, raised.String(), taxCollected.String(), pq.Array(recentDonors))
	if err != nil {
		return fmt.Errorf("update fundraiser aggregates: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update fundraiser aggregates: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("update fundraiser aggregates: fundraiser %s not found", id)
	}
	return nil
}

// Upsert inserts or refreshes a fundraiser. Aggregate columns are left
// untouched on conflict; they belong to the ledger.
func (r *FundraiserRepo) Upsert(ctx context.Context, f *model.Fundraiser) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}

	var taxRate any
	if f.TaxRate != nil {
		taxRate = f.TaxRate.String()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO fundraisers (id, title, wallet_address, chain, currency, raised, tax_rate, tax_collected, recent_donors, active, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			wallet_address = EXCLUDED.wallet_address,
			chain = EXCLUDED.chain,
			currency = EXCLUDED.currency,
			tax_rate = EXCLUDED.tax_rate,
			active = EXCLUDED.active,
			status = EXCLUDED.status,
			updated_at = now()
	`, f.ID, f.Title, f.WalletAddress, f.Chain, f.Currency,
		f.Raised.String(), taxRate, f.TaxCollected.String(),
		pq.Array(f.RecentDonors), f.Active, f.Status,
	)
	if err != nil {
		return fmt.Errorf("upsert fundraiser: %w", err)
	}
	return nil
}

func scanFundraiser(row rowScanner) (*model.Fundraiser, error) {
	var (
		f            model.Fundraiser
		raisedStr    string
		taxRateStr   sql.NullString
		collectedStr string
		donors       pq.StringArray
	)
	if err := row.Scan(
		&f.ID, &f.Title, &f.WalletAddress, &f.Chain, &f.Currency,
		&raisedStr, &taxRateStr, &collectedStr, &donors,
		&f.Active, &f.Status, &f.CreatedAt, &f.UpdatedAt,
	); err != nil {
		return nil, err
	}

	raised, err := decimal.NewFromString(raisedStr)
	if err != nil {
		return nil, fmt.Errorf("parse raised %q: %w", raisedStr, err)
	}
	collected, err := decimal.NewFromString(collectedStr)
	if err != nil {
		return nil, fmt.Errorf("parse tax_collected %q: %w", collectedStr, err)
	}
	f.Raised = raised
	f.TaxCollected = collected
	f.RecentDonors = donors

	if taxRateStr.Valid {
		rate, err := decimal.NewFromString(taxRateStr.String)
		if err != nil {
			return nil, fmt.Errorf("parse tax_rate %q: %w", taxRateStr.String, err)
		}
		f.TaxRate = &rate
	}
	return &f, nil
}
