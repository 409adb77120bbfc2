package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.DB.MaxOpenConns)
	assert.Equal(t, 5, cfg.DB.MaxIdleConns)
	assert.Equal(t, 30*time.Minute, cfg.DB.ConnMaxLifetime)

	assert.Equal(t, 10*time.Second, cfg.Gateway.Timeout)
	assert.Equal(t, 2, cfg.Gateway.Retries)
	assert.Equal(t, 500*time.Millisecond, cfg.Gateway.BackoffBase)
	assert.Equal(t, 8*time.Second, cfg.Gateway.BackoffMax)
	assert.Equal(t, time.Minute, cfg.Gateway.Cooldown)

	assert.Equal(t, []string{"https://blockstream.info/api", "https://mempool.space/api"}, cfg.Chains.BitcoinBackends)
	assert.Equal(t, []string{"https://api.mainnet-beta.solana.com"}, cfg.Chains.SolanaBackends)
	assert.Equal(t, []string{"https://api.trongrid.io"}, cfg.Chains.TronBackends)
	assert.Equal(t, 5, cfg.Chains.RPCRateLimitRPS)
	assert.Equal(t, 10, cfg.Chains.RPCRateLimitBurst)

	assert.Equal(t, "0", cfg.Ledger.DefaultTaxRate)
	assert.Equal(t, 10, cfg.Ledger.RecentDonorsCap)
	assert.Equal(t, "*/5 * * * *", cfg.Sweep.CronSpec)
	assert.Equal(t, 4, cfg.Sweep.Concurrency)
	assert.Equal(t, 5*time.Minute, cfg.Alert.Cooldown)
	assert.Equal(t, 8080, cfg.Server.APIPort)
	assert.Equal(t, 9090, cfg.Server.MetricsPort)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.True(t, cfg.Tracing.Insecure)
	assert.Equal(t, 1.0, cfg.Tracing.SampleRatio)
	assert.Equal(t, "production", cfg.Tracing.Environment)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DB_URL", "postgres://custom:custom@db:5432/pw")
	t.Setenv("GATEWAY_TIMEOUT_MS", "2500")
	t.Setenv("GATEWAY_RETRIES", "5")
	t.Setenv("BITCOIN_EXPLORER_URLS", " https://a.example/api , https://b.example/api ")
	t.Setenv("DEFAULT_TAX_RATE", "0.05")
	t.Setenv("RECENT_DONORS_CAP", "3")
	t.Setenv("SWEEP_CRON", "@hourly")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("RPC_RATE_LIMIT_RPS", "20")
	t.Setenv("OTEL_TRACES_SAMPLE_RATIO", "0.25")
	t.Setenv("DEPLOYMENT_ENV", "staging")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres://custom:custom@db:5432/pw", cfg.DB.URL)
	assert.Equal(t, 2500*time.Millisecond, cfg.Gateway.Timeout)
	assert.Equal(t, 5, cfg.Gateway.Retries)
	assert.Equal(t, []string{"https://a.example/api", "https://b.example/api"}, cfg.Chains.BitcoinBackends)
	assert.Equal(t, "0.05", cfg.Ledger.DefaultTaxRate)
	assert.Equal(t, 3, cfg.Ledger.RecentDonorsCap)
	assert.Equal(t, "@hourly", cfg.Sweep.CronSpec)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 20, cfg.Chains.RPCRateLimitRPS)
	assert.Equal(t, 0.25, cfg.Tracing.SampleRatio)
	assert.Equal(t, "staging", cfg.Tracing.Environment)
}

func TestLoad_RejectsZeroRateLimit(t *testing.T) {
	t.Setenv("RPC_RATE_LIMIT_RPS", "0")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_Validation(t *testing.T) {
	t.Setenv("RECENT_DONORS_CAP", "0")
	_, err := Load()
	assert.Error(t, err)
}

func TestGetEnvInt_IgnoresGarbage(t *testing.T) {
	t.Setenv("GATEWAY_RETRIES", "many")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Gateway.Retries)
}
