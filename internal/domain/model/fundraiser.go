package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Fundraiser is the target a verified donation is credited to.
// Aggregates are mutated only by the pledge ledger, inside the same
// database transaction that inserts the pledge.
type Fundraiser struct {
	ID            uuid.UUID        `db:"id"`
	Title         string           `db:"title"`
	WalletAddress string           `db:"wallet_address"`
	Chain         Chain            `db:"chain"`
	Currency      string           `db:"currency"`
	Raised        decimal.Decimal  `db:"raised"`
	TaxRate       *decimal.Decimal `db:"tax_rate"`
	TaxCollected  decimal.Decimal  `db:"tax_collected"`
	RecentDonors  []string         `db:"recent_donors"`
	Active        bool             `db:"active"`
	Status        FundraiserStatus `db:"status"`
	CreatedAt     time.Time        `db:"created_at"`
	UpdatedAt     time.Time        `db:"updated_at"`
}

// Verifiable reports whether the fundraiser may accept new pledges.
func (f *Fundraiser) Verifiable() bool {
	return f.Active && f.Status == FundraiserStatusApproved
}

// PushRecentDonor appends a donor summary, evicting the oldest entries so
// at most cap summaries remain, newest last.
func PushRecentDonor(donors []string, summary string, cap int) []string {
	donors = append(donors, summary)
	if cap > 0 && len(donors) > cap {
		donors = donors[len(donors)-cap:]
	}
	return donors
}
