package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Pledge is one confirmed on-chain donation. At most one pledge exists per
// (fundraiser_id, external_id); the external id is the chain tx hash.
type Pledge struct {
	ID           uuid.UUID       `db:"id"`
	FundraiserID uuid.UUID       `db:"fundraiser_id"`
	ExternalID   string          `db:"external_id"`
	Amount       decimal.Decimal `db:"amount"`
	Currency     string          `db:"currency"`
	Donor        *string         `db:"donor"`
	Status       PledgeStatus    `db:"status"`
	Raw          json.RawMessage `db:"raw"`
	CreatedAt    time.Time       `db:"created_at"`
}

// DonorLabel returns the donor address or "Anonymous" for the
// recent-donors summary.
func (p *Pledge) DonorLabel() string {
	if p.Donor != nil && *p.Donor != "" {
		return *p.Donor
	}
	return "Anonymous"
}
