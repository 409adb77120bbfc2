package rpc

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LegionofMany/411BlockPages-sub001/internal/chain/ratelimit"
)

func newBlockNumberServer(t *testing.T, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"0x10"}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_GetBlockNumber(t *testing.T) {
	var calls atomic.Int64
	srv := newBlockNumberServer(t, &calls)

	client := NewClient(srv.URL, slog.New(slog.DiscardHandler))

	n, err := client.GetBlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(16), n)
	assert.Equal(t, int64(1), calls.Load())
}

func TestClient_RateLimiterGatesCalls(t *testing.T) {
	var calls atomic.Int64
	srv := newBlockNumberServer(t, &calls)

	client := NewClient(srv.URL, slog.New(slog.DiscardHandler))
	client.SetRateLimiter(ratelimit.NewLimiter(0.1, 1, "ethereum"))

	_, err := client.GetBlockNumber(context.Background())
	require.NoError(t, err, "burst token admits the first call")

	// The bucket refills at 0.1 rps, so the next token is ~10s away. A
	// short deadline must abort the wait without touching the endpoint.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = client.GetBlockNumber(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "rate limiter")
	assert.Equal(t, int64(1), calls.Load(), "rate-limited call must not reach the endpoint")
}
