package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LegionofMany/411BlockPages-sub001/internal/alert"
	"github.com/LegionofMany/411BlockPages-sub001/internal/api"
	"github.com/LegionofMany/411BlockPages-sub001/internal/chain"
	"github.com/LegionofMany/411BlockPages-sub001/internal/chain/evm"
	"github.com/LegionofMany/411BlockPages-sub001/internal/chain/evm/rpc"
	"github.com/LegionofMany/411BlockPages-sub001/internal/chain/explorer"
	"github.com/LegionofMany/411BlockPages-sub001/internal/chain/ratelimit"
	"github.com/LegionofMany/411BlockPages-sub001/internal/config"
	"github.com/LegionofMany/411BlockPages-sub001/internal/detect"
	"github.com/LegionofMany/411BlockPages-sub001/internal/domain/model"
	"github.com/LegionofMany/411BlockPages-sub001/internal/gateway"
	"github.com/LegionofMany/411BlockPages-sub001/internal/ledger"
	"github.com/LegionofMany/411BlockPages-sub001/internal/poller"
	"github.com/LegionofMany/411BlockPages-sub001/internal/store/postgres"
	"github.com/LegionofMany/411BlockPages-sub001/internal/tracing"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	logger.Info("starting pledgewatch",
		"ethereum_rpc", cfg.Chains.EthereumRPCURL,
		"bsc_rpc", cfg.Chains.BSCRPCURL,
		"polygon_rpc", cfg.Chains.PolygonRPCURL,
		"bitcoin_backends", len(cfg.Chains.BitcoinBackends),
		"solana_backends", len(cfg.Chains.SolanaBackends),
		"tron_backends", len(cfg.Chains.TronBackends),
		"sweep_cron", cfg.Sweep.CronSpec,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx, "pledgewatch", tracing.Config{
		Endpoint:    cfg.Tracing.OTLPEndpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
		Environment: cfg.Tracing.Environment,
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown error", "error", err)
		}
	}()

	db, err := postgres.New(postgres.Config{
		URL:             cfg.DB.URL,
		MaxOpenConns:    cfg.DB.MaxOpenConns,
		MaxIdleConns:    cfg.DB.MaxIdleConns,
		ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
	})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	migrationsDir := os.Getenv("MIGRATIONS_DIR")
	if migrationsDir == "" {
		migrationsDir = "internal/store/postgres/migrations"
	}
	if err := db.RunMigrations(migrationsDir); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	fundraisers := postgres.NewFundraiserRepo(db)
	pledges := postgres.NewPledgeRepo(db)

	gw := gateway.New(gateway.Config{
		Timeout:     cfg.Gateway.Timeout,
		Retries:     cfg.Gateway.Retries,
		BackoffBase: cfg.Gateway.BackoffBase,
		BackoffMax:  cfg.Gateway.BackoffMax,
		Cooldown:    cfg.Gateway.Cooldown,
	}, logger)

	detector := detect.New(logger)
	var fetchers []chain.TxFetcher

	evmChains := []struct {
		chain  model.Chain
		rpcURL string
	}{
		{model.ChainEthereum, cfg.Chains.EthereumRPCURL},
		{model.ChainBSC, cfg.Chains.BSCRPCURL},
		{model.ChainPolygon, cfg.Chains.PolygonRPCURL},
	}
	for _, ec := range evmChains {
		if ec.rpcURL == "" {
			logger.Warn("no RPC URL configured, chain disabled", "chain", ec.chain)
			continue
		}
		client := rpc.NewClient(ec.rpcURL, logger)
		client.SetRateLimiter(ratelimit.NewLimiter(float64(cfg.Chains.RPCRateLimitRPS), cfg.Chains.RPCRateLimitBurst, ec.chain.String()))
		fetchers = append(fetchers, evm.NewFetcher(ec.chain, client, gw, logger))
		detector.RegisterResolver(ec.chain, evm.NewTokenResolver(ec.chain, client, gw, logger))
	}
	fetchers = append(fetchers,
		explorer.NewBitcoin(cfg.Chains.BitcoinBackends, logger),
		explorer.NewSolana(cfg.Chains.SolanaBackends, logger),
		explorer.NewTron(cfg.Chains.TronBackends, logger),
	)

	defaultTaxRate, err := decimal.NewFromString(cfg.Ledger.DefaultTaxRate)
	if err != nil {
		logger.Error("invalid DEFAULT_TAX_RATE", "value", cfg.Ledger.DefaultTaxRate, "error", err)
		os.Exit(1)
	}
	ledgerSvc := ledger.New(db, pledges, fundraisers, logger,
		ledger.WithDefaultTaxRate(defaultTaxRate),
		ledger.WithRecentDonorsCap(cfg.Ledger.RecentDonorsCap),
	)

	alerter := buildAlerter(cfg, logger)

	orch := poller.New(fundraisers, detector, ledgerSvc, alerter, logger, fetchers...)
	orch.SetConcurrency(cfg.Sweep.Concurrency)

	apiServer := api.NewServer(orch, logger)

	scheduler := cron.New()
	_, err = scheduler.AddFunc(cfg.Sweep.CronSpec, func() {
		if _, err := orch.Sweep(ctx); err != nil {
			logger.Error("scheduled sweep failed", "error", err)
		}
	})
	if err != nil {
		logger.Error("invalid SWEEP_CRON", "spec", cfg.Sweep.CronSpec, "error", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runServer(gCtx, "api", cfg.Server.APIPort, apiServer.Handler(), logger)
	})
	g.Go(func() error {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		return runServer(gCtx, "metrics", cfg.Server.MetricsPort, mux, logger)
	})
	g.Go(func() error {
		scheduler.Start()
		<-gCtx.Done()
		stopCtx := scheduler.Stop()
		<-stopCtx.Done()
		return nil
	})
	g.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	if err := g.Wait(); err != nil {
		logger.Error("shutdown with error", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func buildAlerter(cfg *config.Config, logger *slog.Logger) alert.Alerter {
	var channels []alert.Alerter
	if cfg.Alert.SlackWebhookURL != "" {
		channels = append(channels, alert.NewSlackAlerter(cfg.Alert.SlackWebhookURL))
	}
	if cfg.Alert.WebhookURL != "" {
		channels = append(channels, alert.NewWebhookAlerter(cfg.Alert.WebhookURL))
	}
	if len(channels) == 0 {
		logger.Warn("no alert channels configured, alerts disabled")
		return &alert.NoopAlerter{}
	}
	return alert.NewMultiAlerter(cfg.Alert.Cooldown, logger, channels...)
}

func runServer(ctx context.Context, name string, port int, handler http.Handler, logger *slog.Logger) error {
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: handler,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("server shutdown error", "server", name, "error", err)
		}
	}()

	logger.Info("server started", "server", name, "port", port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("%s server: %w", name, err)
	}
	return nil
}
