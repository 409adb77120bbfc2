package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/LegionofMany/411BlockPages-sub001/internal/domain/model"
	"github.com/LegionofMany/411BlockPages-sub001/internal/poller"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeVerifier struct {
	verifyFn func(ctx context.Context, req poller.VerifyRequest) (*model.Pledge, bool, error)
	sweepFn  func(ctx context.Context) (poller.RunSummary, error)

	lastVerify poller.VerifyRequest
}

func (f *fakeVerifier) Verify(ctx context.Context, req poller.VerifyRequest) (*model.Pledge, bool, error) {
	f.lastVerify = req
	return f.verifyFn(ctx, req)
}

func (f *fakeVerifier) Sweep(ctx context.Context) (poller.RunSummary, error) {
	return f.sweepFn(ctx)
}

func testPledge(fundraiserID uuid.UUID) *model.Pledge {
	donor := "alice"
	return &model.Pledge{
		ID:           uuid.New(),
		FundraiserID: fundraiserID,
		ExternalID:   "0xtx1",
		Amount:       decimal.RequireFromString("2.5"),
		Currency:     "ETH",
		Donor:        &donor,
		Status:       model.PledgeStatusCompleted,
		CreatedAt:    time.Now().UTC(),
	}
}

func newTestServer(v Verifier) *Server {
	return NewServer(v, slog.New(slog.DiscardHandler))
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleVerify_CreatesOK(t *testing.T) {
	fundraiserID := uuid.New()
	pledge := testPledge(fundraiserID)
	v := &fakeVerifier{
		verifyFn: func(_ context.Context, _ poller.VerifyRequest) (*model.Pledge, bool, error) {
			return pledge, false, nil
		},
	}
	srv := newTestServer(v)

	rec := postJSON(t, srv.Handler(), "/v1/verifications", map[string]any{
		"fundraiserId": fundraiserID.String(),
		"chain":        "ethereum",
		"txHash":       "0xtx1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp pledgeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, pledge.ID.String(), resp.ID)
	assert.Equal(t, "2.5", resp.Amount)
	assert.Equal(t, "ETH", resp.Currency)
	assert.False(t, resp.AlreadyRecorded)

	assert.Equal(t, fundraiserID, v.lastVerify.FundraiserID)
	assert.Equal(t, model.ChainEthereum, v.lastVerify.Chain)
	assert.Equal(t, "0xtx1", v.lastVerify.TxHash)
}

func TestHandleVerify_AlreadyRecordedMarker(t *testing.T) {
	fundraiserID := uuid.New()
	v := &fakeVerifier{
		verifyFn: func(_ context.Context, _ poller.VerifyRequest) (*model.Pledge, bool, error) {
			return testPledge(fundraiserID), true, nil
		},
	}
	srv := newTestServer(v)

	rec := postJSON(t, srv.Handler(), "/v1/verifications", map[string]any{
		"fundraiserId": fundraiserID.String(),
		"txHash":       "0xtx1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp pledgeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.AlreadyRecorded)
}

func TestHandleVerify_AmountAndDonorForwarded(t *testing.T) {
	fundraiserID := uuid.New()
	v := &fakeVerifier{
		verifyFn: func(_ context.Context, _ poller.VerifyRequest) (*model.Pledge, bool, error) {
			return testPledge(fundraiserID), false, nil
		},
	}
	srv := newTestServer(v)

	rec := postJSON(t, srv.Handler(), "/v1/verifications", map[string]any{
		"fundraiserId": fundraiserID.String(),
		"txHash":       "btctx",
		"amount":       "0.01",
		"donor":        "satoshi",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	require.NotNil(t, v.lastVerify.Amount)
	assert.True(t, v.lastVerify.Amount.Equal(decimal.RequireFromString("0.01")))
	require.NotNil(t, v.lastVerify.Donor)
	assert.Equal(t, "satoshi", *v.lastVerify.Donor)
}

func TestHandleVerify_NotFound(t *testing.T) {
	for _, verifyErr := range []error{poller.ErrNoQualifyingTx, poller.ErrUnknownFundraiser} {
		v := &fakeVerifier{
			verifyFn: func(_ context.Context, _ poller.VerifyRequest) (*model.Pledge, bool, error) {
				return nil, false, verifyErr
			},
		}
		srv := newTestServer(v)

		rec := postJSON(t, srv.Handler(), "/v1/verifications", map[string]any{
			"fundraiserId": uuid.New().String(),
			"txHash":       "0xmissing",
		})
		assert.Equal(t, http.StatusNotFound, rec.Code, "error %v", verifyErr)
	}
}

func TestHandleVerify_BadRequests(t *testing.T) {
	v := &fakeVerifier{
		verifyFn: func(_ context.Context, _ poller.VerifyRequest) (*model.Pledge, bool, error) {
			return nil, false, poller.ErrNotVerifiable
		},
	}
	srv := newTestServer(v)
	handler := srv.Handler()

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing txHash", map[string]any{"fundraiserId": uuid.New().String()}},
		{"missing fundraiserId", map[string]any{"txHash": "0x1"}},
		{"bad uuid", map[string]any{"fundraiserId": "not-a-uuid", "txHash": "0x1"}},
		{"unknown chain", map[string]any{"fundraiserId": uuid.New().String(), "txHash": "0x1", "chain": "dogecoin"}},
		{"bad amount", map[string]any{"fundraiserId": uuid.New().String(), "txHash": "0x1", "amount": "lots"}},
		{"negative amount", map[string]any{"fundraiserId": uuid.New().String(), "txHash": "0x1", "amount": "-1"}},
		{"unverifiable fundraiser", map[string]any{"fundraiserId": uuid.New().String(), "txHash": "0x1"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := postJSON(t, handler, "/v1/verifications", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestHandleVerify_InvalidJSON(t *testing.T) {
	srv := newTestServer(&fakeVerifier{})
	req := httptest.NewRequest(http.MethodPost, "/v1/verifications", bytes.NewBufferString("{nope"))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleVerify_InternalError(t *testing.T) {
	v := &fakeVerifier{
		verifyFn: func(_ context.Context, _ poller.VerifyRequest) (*model.Pledge, bool, error) {
			return nil, false, fmt.Errorf("db write failed")
		},
	}
	srv := newTestServer(v)

	rec := postJSON(t, srv.Handler(), "/v1/verifications", map[string]any{
		"fundraiserId": uuid.New().String(),
		"txHash":       "0x1",
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandleSweep(t *testing.T) {
	v := &fakeVerifier{
		sweepFn: func(context.Context) (poller.RunSummary, error) {
			return poller.RunSummary{Fundraisers: 3, Created: 1}, nil
		},
	}
	srv := newTestServer(v)

	rec := postJSON(t, srv.Handler(), "/v1/sweep", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var summary poller.RunSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 3, summary.Fundraisers)
	assert.Equal(t, 1, summary.Created)
}

func TestHandleSweep_Failure(t *testing.T) {
	v := &fakeVerifier{
		sweepFn: func(context.Context) (poller.RunSummary, error) {
			return poller.RunSummary{}, fmt.Errorf("fundraisers unavailable")
		},
	}
	srv := newTestServer(v)

	rec := postJSON(t, srv.Handler(), "/v1/sweep", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(&fakeVerifier{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
