package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"solana-oracle-relay/internal/config"
	"solana-oracle-relay/internal/controller"
	"solana-oracle-relay/internal/domain"
	"solana-oracle-relay/internal/lockfile"
	"solana-oracle-relay/internal/observability"
	"solana-oracle-relay/internal/relay"
	"solana-oracle-relay/internal/solana"
	"solana-oracle-relay/internal/supervisor"
	"solana-oracle-relay/internal/txbuilder"
	"solana-oracle-relay/internal/validator"
	"solana-oracle-relay/internal/wallet"
)

// Exit codes.
const (
	exitOK       = 0
	exitStartup  = 1
	exitAuth     = 2
	exitLockHeld = 3
)

func main() {
	mode := flag.String("mode", "supervisor", "Run mode: supervisor or relay")
	envFile := flag.String("env", ".env", "Path to .env file (optional)")
	dryRun := flag.Bool("dry-run", false, "Build and log transactions without submitting")
	flag.Parse()

	switch *mode {
	case "relay":
		os.Exit(runRelay(*envFile))
	case "supervisor":
		os.Exit(runSupervisor(*envFile, *dryRun))
	default:
		log.Fatalf("Unknown mode: %s", *mode)
	}
}

// runRelay is the child-process mode: stdout carries the message channel, so
// all logging goes to stderr.
func runRelay(envFile string) int {
	logger := log.New(os.Stderr, "[relayd] ", log.LstdFlags)

	cfg, err := config.Load(envFile)
	if err != nil {
		logger.Printf("config: %v", err)
		return exitStartup
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, shutting down relay", sig)
		cancel()
	}()

	// The feed-level metrics live in this process; the supervisor's
	// endpoint cannot see them.
	if cfg.RelayMetricsAddr != "" {
		go serveMetrics(cfg.RelayMetricsAddr, logger)
	}

	err = relay.RunProcess(ctx, relay.Config{
		PrimaryURL:   cfg.PrimaryURL,
		PrimaryFeeds: cfg.PrimaryFeeds,
		Binance:      cfg.Binance,
		Coinbase:     cfg.Coinbase,
		OKX:          cfg.OKX,
		Kraken:       cfg.Kraken,
	}, logger)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Printf("relay: %v", err)
		return exitStartup
	}
	return exitOK
}

func runSupervisor(envFile string, dryRun bool) int {
	logger := log.New(os.Stdout, "[relayd] ", log.LstdFlags)

	cfg, err := config.Load(envFile)
	if err != nil {
		logger.Printf("config: %v", err)
		return exitStartup
	}
	if dryRun {
		cfg.DryRun = true
	}

	// One updating instance per lock path. The kernel drops the lock if we
	// die, so there is nothing to clean up after a crash.
	lock, err := lockfile.Acquire(cfg.LockPath)
	if err != nil {
		logger.Printf("lock: %v", err)
		if errors.Is(err, lockfile.ErrLockHeld) {
			return exitLockHeld
		}
		return exitStartup
	}
	defer lock.Release()

	keypair, err := wallet.Load(cfg.KeypairPath)
	if err != nil {
		logger.Printf("wallet: %v", err)
		return exitAuth
	}

	updaters := cfg.AuthorizedUpdaters
	if len(updaters) == 0 {
		updaters = map[string]uint8{keypair.Public().String(): 1}
	}
	authorized, err := wallet.NewAuthorizedSet(updaters)
	if err != nil {
		logger.Printf("authorized updaters: %v", err)
		return exitAuth
	}
	updaterIndex, err := authorized.IndexFor(keypair.Public())
	if err != nil {
		logger.Printf("wallet %s: %v", keypair.Public(), err)
		return exitAuth
	}
	logger.Printf("Updater %s holds slot %d", keypair.Public(), updaterIndex)

	programID, err := solana.PubkeyFromBase58(cfg.ProgramID)
	if err != nil {
		logger.Printf("program id: %v", err)
		return exitStartup
	}
	stateAccount, err := solana.PubkeyFromBase58(cfg.StateAccount)
	if err != nil {
		logger.Printf("state account: %v", err)
		return exitStartup
	}

	rpc := solana.NewHTTPClient(cfg.RPCEndpoint)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Balance preflight: an empty wallet cannot pay fees, so fail fast
	// instead of burning the restart budget on doomed submissions.
	balance, err := rpc.GetBalance(ctx, keypair.Public().String())
	if err != nil {
		logger.Printf("balance preflight: %v", err)
		return exitStartup
	}
	const lowBalanceLamports = 50_000_000 // 0.05 SOL
	if balance == 0 && !cfg.DryRun {
		logger.Printf("wallet %s has zero balance", keypair.Public())
		return exitStartup
	}
	if balance < lowBalanceLamports {
		logger.Printf("WARNING: wallet balance %d lamports is low", balance)
	}
	if slot, err := rpc.GetSlot(ctx); err != nil {
		logger.Printf("WARNING: slot preflight failed: %v", err)
	} else {
		logger.Printf("RPC endpoint %s healthy at slot %d", cfg.RPCEndpoint, slot)
	}

	builder, err := txbuilder.New(txbuilder.Options{
		RPC:        rpc,
		Signer:     keypair,
		ProgramID:  programID,
		StateAccnt: stateAccount,
		Logger:     logger,
	})
	if err != nil {
		logger.Printf("txbuilder: %v", err)
		return exitStartup
	}

	if !cfg.DryRun {
		created, err := builder.InitializeIfNeeded(ctx)
		if err != nil {
			logger.Printf("initialize: %v", err)
			return exitStartup
		}
		if created {
			logger.Printf("Oracle state account created")
		}
	}

	val := validator.New(validator.Options{Limits: cfg.Limits, Logger: logger})

	ctrl, err := controller.New(controller.Options{
		Sender:       builder,
		Validator:    val,
		UpdaterIndex: updaterIndex,
		Decimals:     cfg.Decimals,
		DryRun:       cfg.DryRun,
		Logger:       logger,
	})
	if err != nil {
		logger.Printf("controller: %v", err)
		return exitStartup
	}

	// Prime the diff state from the on-chain account so the first batch
	// repeats the stored values instead of zeroing assets whose feeds have
	// not produced a validated price yet.
	if !cfg.DryRun {
		prices, err := builder.FetchOnChainPrices(ctx)
		if err != nil {
			logger.Printf("read on-chain prices: %v", err)
			return exitStartup
		}
		if prices != nil {
			ctrl.SeedLastSent(*prices)
			logger.Printf("Seeded last-sent prices from on-chain state")
		}
	}

	// Metrics and health endpoint.
	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, logger)
	}

	exe, err := os.Executable()
	if err != nil {
		logger.Printf("resolve executable: %v", err)
		return exitStartup
	}

	fatal := make(chan struct{})
	var lastHeartbeat atomic.Int64

	sup := supervisor.New(supervisor.Options{
		Factory: supervisor.ProcessFactory(exe, []string{"-mode=relay", "-env", envFile}, logger),
		Handlers: supervisor.Handlers{
			Heartbeat: func(tsMs int64) {
				lastHeartbeat.Store(time.Now().UnixNano())
				observability.DefaultMetrics.HeartbeatAge.Set(0)
			},
			PriceUpdate: func(tsMs int64, snapshot domain.PriceSnapshot) {
				observability.DefaultMetrics.PriceUpdatesSeen.Inc()
				ctrl.OnPriceUpdate(tsMs, snapshot)
			},
			Restarted: func(restartCount int) {
				observability.RecordRelayRestart()
			},
			MaxRestartsExceeded: func() {
				close(fatal)
			},
		},
		Logger: logger,
	})

	if err := sup.Start(ctx); err != nil {
		logger.Printf("supervisor: %v", err)
		return exitStartup
	}

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				observability.DefaultMetrics.UptimeSeconds.Inc()
				if hb := lastHeartbeat.Load(); hb != 0 {
					observability.DefaultMetrics.HeartbeatAge.Set(time.Since(time.Unix(0, hb)).Seconds())
				}
			}
		}
	}()

	ctrlDone := make(chan struct{})
	go func() {
		defer close(ctrlDone)
		if err := ctrl.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Printf("controller: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	code := exitOK
	select {
	case sig := <-sigCh:
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		go func() {
			sig := <-sigCh
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(exitStartup)
		}()
	case <-fatal:
		logger.Printf("Relay worker exceeded its restart budget, shutting down")
		code = exitStartup
	}

	cancel()
	sup.Stop()
	<-ctrlDone

	logger.Printf("Shutdown complete")
	return code
}

// serveMetrics runs the /metrics and /health endpoint until the process
// exits.
func serveMetrics(addr string, logger *log.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	logger.Printf("Starting metrics server on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		logger.Printf("Metrics server error: %v", err)
	}
}
