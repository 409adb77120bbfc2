package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/LegionofMany/411BlockPages-sub001/internal/domain/model"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PledgeRepo struct {
	db *DB
}

func NewPledgeRepo(db *DB) *PledgeRepo {
	return &PledgeRepo{db: db}
}

// GetTx returns the pledge for (fundraiserID, externalID), or nil when no
// such row exists.
func (r *PledgeRepo) GetTx(ctx context.Context, tx *sql.Tx, fundraiserID uuid.UUID, externalID string) (*model.Pledge, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, fundraiser_id, external_id, amount, currency, donor, status, raw, created_at
		FROM pledges
		WHERE fundraiser_id = $1 AND external_id = $2
	`, fundraiserID, externalID)

	p, err := scanPledge(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pledge: %w", err)
	}
	return p, nil
}

// InsertTx inserts p, resolving a concurrent duplicate insert to a no-op.
// Returns false when the row already existed.
func (r *PledgeRepo) InsertTx(ctx context.Context, tx *sql.Tx, p *model.Pledge) (bool, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO pledges (id, fundraiser_id, external_id, amount, currency, donor, status, raw, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (fundraiser_id, external_id) DO NOTHING
	`, p.ID, p.FundraiserID, p.ExternalID, p.Amount.String(), p.Currency,
		p.Donor, p.Status, nullableRaw(p.Raw), p.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert pledge: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert pledge rows affected: %w", err)
	}
	return inserted == 1, nil
}

// Exists is the sweep's cheap existence probe, outside any transaction.
func (r *PledgeRepo) Exists(ctx context.Context, fundraiserID uuid.UUID, externalID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM pledges WHERE fundraiser_id = $1 AND external_id = $2)
	`, fundraiserID, externalID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("pledge exists: %w", err)
	}
	return exists, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPledge(row rowScanner) (*model.Pledge, error) {
	var (
		p         model.Pledge
		amountStr string
		raw       sql.NullString
	)
	if err := row.Scan(
		&p.ID, &p.FundraiserID, &p.ExternalID, &amountStr, &p.Currency,
		&p.Donor, &p.Status, &raw, &p.CreatedAt,
	); err != nil {
		return nil, err
	}

	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return nil, fmt.Errorf("parse pledge amount %q: %w", amountStr, err)
	}
	p.Amount = amount
	if raw.Valid {
		p.Raw = []byte(raw.String)
	}
	return &p, nil
}

func nullableRaw(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
