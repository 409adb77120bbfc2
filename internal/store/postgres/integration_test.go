//go:build integration

package postgres_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/LegionofMany/411BlockPages-sub001/internal/domain/model"
	"github.com/LegionofMany/411BlockPages-sub001/internal/store/postgres"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDB(t *testing.T) *postgres.DB {
	t.Helper()
	url := os.Getenv("TEST_DB_URL")
	if url != "" {
		// Use provided external DB.
		db, err := postgres.New(postgres.Config{
			URL:             url,
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: time.Minute,
		})
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		return db
	}
	// Use testcontainers (Docker-based ephemeral PostgreSQL).
	return setupTestContainer(t)
}

func seedFundraiser(t *testing.T, db *postgres.DB, currency string) *model.Fundraiser {
	t.Helper()
	repo := postgres.NewFundraiserRepo(db)
	rate := decimal.RequireFromString("0.05")
	f := &model.Fundraiser{
		Title:         "Test Drive " + uuid.NewString()[:8],
		WalletAddress: "0x" + uuid.NewString()[:8],
		Chain:         model.ChainEthereum,
		Currency:      currency,
		Raised:        decimal.Zero,
		TaxRate:       &rate,
		TaxCollected:  decimal.Zero,
		Active:        true,
		Status:        model.FundraiserStatusApproved,
	}
	require.NoError(t, repo.Upsert(context.Background(), f))
	return f
}

// ---------- FundraiserRepo ----------

func TestFundraiserRepo_UpsertAndGet(t *testing.T) {
	db := testDB(t)
	repo := postgres.NewFundraiserRepo(db)
	ctx := context.Background()

	f := seedFundraiser(t, db, "ETH")

	found, err := repo.Get(ctx, f.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, f.Title, found.Title)
	assert.Equal(t, model.ChainEthereum, found.Chain)
	assert.True(t, found.Raised.IsZero())
	require.NotNil(t, found.TaxRate)
	assert.True(t, found.TaxRate.Equal(decimal.RequireFromString("0.05")))

	missing, err := repo.Get(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestFundraiserRepo_GetActiveFiltersStatus(t *testing.T) {
	db := testDB(t)
	repo := postgres.NewFundraiserRepo(db)
	ctx := context.Background()

	approved := seedFundraiser(t, db, "ETH")

	pending := seedFundraiser(t, db, "ETH")
	pending.Status = model.FundraiserStatusPending
	require.NoError(t, repo.Upsert(ctx, pending))

	paused := seedFundraiser(t, db, "ETH")
	paused.Active = false
	require.NoError(t, repo.Upsert(ctx, paused))

	active, err := repo.GetActive(ctx)
	require.NoError(t, err)

	ids := make(map[uuid.UUID]bool, len(active))
	for _, f := range active {
		ids[f.ID] = true
	}
	assert.True(t, ids[approved.ID])
	assert.False(t, ids[pending.ID])
	assert.False(t, ids[paused.ID])
}

func TestFundraiserRepo_UpdateAggregates(t *testing.T) {
	db := testDB(t)
	repo := postgres.NewFundraiserRepo(db)
	ctx := context.Background()

	f := seedFundraiser(t, db, "ETH")

	err := db.WithinTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		locked, err := repo.GetForUpdateTx(ctx, tx, f.ID)
		if err != nil {
			return err
		}
		raised := locked.Raised.Add(decimal.RequireFromString("1.5"))
		collected := locked.TaxCollected.Add(decimal.RequireFromString("0.075"))
		donors := model.PushRecentDonor(locked.RecentDonors, "alice:1.5", 10)
		return repo.UpdateAggregatesTx(ctx, tx, f.ID, raised, collected, donors)
	})
	require.NoError(t, err)

	found, err := repo.Get(ctx, f.ID)
	require.NoError(t, err)
	assert.True(t, found.Raised.Equal(decimal.RequireFromString("1.5")))
	assert.True(t, found.TaxCollected.Equal(decimal.RequireFromString("0.075")))
	assert.Equal(t, []string{"alice:1.5"}, found.RecentDonors)
}

// ---------- PledgeRepo ----------

func TestPledgeRepo_InsertIdempotent(t *testing.T) {
	db := testDB(t)
	repo := postgres.NewPledgeRepo(db)
	ctx := context.Background()

	f := seedFundraiser(t, db, "ETH")
	p := &model.Pledge{
		FundraiserID: f.ID,
		ExternalID:   "0xabc" + uuid.NewString()[:8],
		Amount:       decimal.RequireFromString("2.5"),
		Currency:     "ETH",
		Status:       model.PledgeStatusCompleted,
		Raw:          json.RawMessage(`{"hash":"0xabc"}`),
	}

	err := db.WithinTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		inserted, err := repo.InsertTx(ctx, tx, p)
		require.NoError(t, err)
		assert.True(t, inserted)
		return nil
	})
	require.NoError(t, err)

	// Same (fundraiser, external_id) again: conflict, no second row.
	dup := *p
	dup.ID = uuid.Nil
	err = db.WithinTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		inserted, err := repo.InsertTx(ctx, tx, &dup)
		require.NoError(t, err)
		assert.False(t, inserted)
		return nil
	})
	require.NoError(t, err)

	exists, err := repo.Exists(ctx, f.ID, p.ExternalID)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.Exists(ctx, f.ID, "0xother")
	require.NoError(t, err)
	assert.False(t, exists)
}

// Concurrent inserts of the same external transaction must produce exactly
// one pledge row and exactly one aggregate increment.
func TestPledgeRepo_ConcurrentInsertSingleWinner(t *testing.T) {
	db := testDB(t)
	pledges := postgres.NewPledgeRepo(db)
	fundraisers := postgres.NewFundraiserRepo(db)
	ctx := context.Background()

	f := seedFundraiser(t, db, "ETH")
	externalID := "0xrace" + uuid.NewString()[:8]
	amount := decimal.RequireFromString("1")

	const workers = 8
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := db.WithinTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
				inserted, err := pledges.InsertTx(ctx, tx, &model.Pledge{
					FundraiserID: f.ID,
					ExternalID:   externalID,
					Amount:       amount,
					Currency:     "ETH",
					Status:       model.PledgeStatusCompleted,
				})
				if err != nil {
					return err
				}
				if !inserted {
					return nil
				}
				wins.Add(1)
				locked, err := fundraisers.GetForUpdateTx(ctx, tx, f.ID)
				if err != nil {
					return err
				}
				return fundraisers.UpdateAggregatesTx(ctx, tx, f.ID,
					locked.Raised.Add(amount), locked.TaxCollected, locked.RecentDonors)
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())

	found, err := fundraisers.Get(ctx, f.ID)
	require.NoError(t, err)
	assert.True(t, found.Raised.Equal(amount), "raised = %s", found.Raised)
}
