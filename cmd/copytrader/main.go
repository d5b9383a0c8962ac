package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"solana-copy-trader/internal/alert"
	"solana-copy-trader/internal/blockhash"
	"solana-copy-trader/internal/config"
	"solana-copy-trader/internal/cooldown"
	"solana-copy-trader/internal/execution"
	"solana-copy-trader/internal/latency"
	"solana-copy-trader/internal/ledger"
	"solana-copy-trader/internal/liquidity"
	"solana-copy-trader/internal/logger"
	"solana-copy-trader/internal/metrics"
	"solana-copy-trader/internal/models"
	"solana-copy-trader/internal/monitor"
	"solana-copy-trader/internal/persistence"
	"solana-copy-trader/internal/portfolio"
	"solana-copy-trader/internal/rpc"
	"solana-copy-trader/internal/slippage"
	"solana-copy-trader/internal/statemanager"
	"solana-copy-trader/internal/stream"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to a JSON or YAML config file (defaults when empty)")
	envFile := flag.String("env", ".env", "path to the .env file")
	flag.Parse()

	// bootstrap logger until the config is read
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		logger.S().Fatalf("Failed to load configuration: %v", err)
	}

	log := logger.InitLogger(cfg.LogConfig)
	code := run(cfg, log)
	_ = log.Sync()
	os.Exit(code)
}

func run(cfg *models.Config, log *zap.Logger) int {
	sugar := log.Sugar()
	sugar.Infof("--- Starting copy trader (%s mode) for %s, watching %d wallet(s) ---",
		cfg.Execution.Mode, cfg.Wallet, len(cfg.TargetWallets))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	// --- Alerts ---
	sinks := []alert.Sink{alert.NewLogSink(log)}
	if cfg.Alerts.Enabled && cfg.Alerts.NATSURL != "" {
		ns, err := alert.NewNATSSink(cfg.Alerts.NATSURL, cfg.Alerts.SubjectPrefix, log)
		if err != nil {
			sugar.Errorf("NATS alert sink unavailable: %v", err)
		} else {
			defer func() { _ = ns.Close() }()
			sinks = append(sinks, ns)
		}
	}
	alerts := alert.NewDispatcher(cfg.Alerts, log, sinks, alert.WithDropHook(m.AlertDropped))
	alerts.Start(context.Background())
	defer alerts.Stop()

	// --- Chain access ---
	client := rpc.NewClient(cfg.RPCEndpoint,
		rpc.WithRateLimit(cfg.RPCRateLimit, int(cfg.RPCRateLimit)),
		rpc.WithCommitment(cfg.Stream.Commitment),
	)
	registry := blockhash.NewRegistry(cfg.Blockhash, log, time.Now)
	defer registry.StopAll()
	hashes := registry.Manager(ctx, client)

	if cfg.MetricsAddr != "" {
		srv := startHTTP(cfg.MetricsAddr, m, registry, log)
		defer shutdownHTTP(srv, log)
	}

	// --- Ledger and persistence ---
	var sm *statemanager.StateManager
	store := ledger.NewStore(time.Duration(cfg.Ledger.TTLHours)*time.Hour, log,
		ledger.WithChangeHook(func() {
			if sm != nil {
				sm.LedgerChanged()
			}
		}),
		ledger.WithAnomalyHook(monitor.AnomalyHook(m, alerts)),
	)
	repo, err := persistence.NewBadgerRepository(cfg.DBPath)
	if err != nil {
		sugar.Errorf("Failed to open ledger database at %s: %v", cfg.DBPath, err)
		return 1
	}
	defer func() {
		if err := repo.Close(); err != nil {
			sugar.Errorf("Failed to close ledger database: %v", err)
		}
	}()
	sm = statemanager.NewStateManager(store, repo, models.Sec(cfg.Ledger.SnapshotIntervalSec), log)
	if restored, err := sm.Load(); err != nil {
		sugar.Warnf("Could not restore ledger snapshot: %v, starting empty.", err)
	} else if restored {
		sugar.Infof("Restored %d tracked position(s) from %s", len(store.AllPositions()), cfg.DBPath)
	}
	sm.Start()
	defer sm.Stop()

	// --- Risk layers and execution ---
	slip := slippage.NewTracker(cfg.Slippage, time.Now)
	paper := execution.NewPaperSwapper(cfg.Execution.PaperStartBalance, log)
	engine := execution.NewEngine(cfg.Execution, paper, paper, slip, hashes, log)

	shared := &monitor.Shared{
		Config:            cfg,
		Ledger:            store,
		Cooldown:          cooldown.NewGovernor(cfg.Cooldown, time.Now),
		Liquidity:         liquidity.NewAnalyzer(cfg.Liquidity),
		Latency:           latency.NewCompensator(cfg.Latency, time.Now),
		Slippage:          slip,
		Portfolio:         portfolio.New(time.Now),
		Executor:          engine,
		Alerts:            alerts,
		Metrics:           m,
		Logger:            log,
		BookExecutedFills: true,
	}

	// --- Monitors ---
	wallets := append([]string(nil), cfg.TargetWallets...)
	wallets = append(wallets, cfg.Wallet)
	monitors := make([]*monitor.Monitor, 0, len(wallets))
	for _, w := range wallets {
		src := stream.NewClient(cfg.WSEndpoint, cfg.Stream, log)
		monitors = append(monitors, monitor.New(w, shared, src, log))
	}
	sup := monitor.NewSupervisor(shared, monitors, registry, os.Stdout, log)

	if lamports, err := execution.NewRPCHoldings(client, cfg.Wallet).SOLBalance(ctx); err != nil {
		sugar.Warnf("Could not read on-chain balance of %s: %v", cfg.Wallet, err)
	} else {
		sugar.Infof("On-chain balance of %s: %.4f SOL", models.Short(cfg.Wallet), models.LamportsToSOL(lamports))
	}
	if err := sup.CheckBalance(ctx, paper); err != nil {
		sugar.Errorf("Startup balance check failed: %v", err)
		return 1
	}

	go sup.WatchSignals(ctx)
	if err := sup.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		sugar.Errorf("Copy trader stopped with error: %v", err)
		return 1
	}

	spent, received := shared.Portfolio.Totals()
	sugar.Infof("Copy trader stopped. Spent %.4f SOL, received %.4f SOL, %d position(s) saved.",
		spent, received, len(store.AllPositions()))
	return 0
}
