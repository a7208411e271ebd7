package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tokenbridge/relayer/pkg/config"
	"github.com/tokenbridge/relayer/pkg/ethereum"
	"github.com/tokenbridge/relayer/pkg/health"
	"github.com/tokenbridge/relayer/pkg/relayer"
	"github.com/tokenbridge/relayer/pkg/state"
	"github.com/tokenbridge/relayer/pkg/watcher"
)

var configPath = flag.String("config", "", "Path to configuration file (optional, env vars suffice)")

func main() {
	flag.Parse()

	// Load configuration; invalid or missing values block startup.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting cross-chain deposit relayer")

	// Durable state; corrupted state is fatal, never silently reset.
	cursorStore, err := state.NewCursorStore(cfg.State.Dir)
	if err != nil {
		logger.Fatal("Failed to open scan cursor store", zap.Error(err))
	}
	ledgerStore, err := state.NewLedgerStore(cfg.State.Dir)
	if err != nil {
		logger.Fatal("Failed to open processed ledger", zap.Error(err))
	}
	logger.Info("Durable state loaded",
		zap.String("dir", cfg.State.Dir),
		zap.Int("relayed_events", ledgerStore.Len()))

	// Chain clients
	reader, err := ethereum.NewReader(&cfg.Source, logger)
	if err != nil {
		logger.Fatal("Failed to connect to source chain", zap.Error(err))
	}
	defer reader.Close()

	writer, err := ethereum.NewWriter(&cfg.Destination, &cfg.Relayer, logger)
	if err != nil {
		logger.Fatal("Failed to connect to destination chain", zap.Error(err))
	}
	defer writer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Pipeline components
	eventWatcher, err := watcher.New(ctx, reader, cursorStore, watcher.Options{
		ConfirmationBlocks: cfg.Relayer.ConfirmationBlocks,
		MaxScanBlocks:      cfg.Relayer.MaxScanBlocks,
		HeadSafetyMargin:   cfg.Relayer.HeadSafetyMargin,
		StartBlock:         cfg.Relayer.StartBlock,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize event watcher", zap.Error(err))
	}

	coordinator := relayer.NewCoordinator(writer, ledgerStore, cfg.Relayer.WaitForReceipt, logger)

	checker := health.NewChecker([]health.Endpoint{
		{Name: "source", URL: cfg.Source.RPCURL},
		{Name: "destination", URL: cfg.Destination.RPCURL},
	}, logger)

	engine := relayer.NewEngine(
		eventWatcher,
		coordinator,
		reader,
		checker,
		cfg.Relayer.ScanInterval(),
		cfg.Relayer.UnhealthyBackoff,
		logger,
	)
	engine.Start(ctx)
	defer engine.Stop()

	// HTTP surface: liveness, readiness, metrics, read-only API
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if !engine.IsReady() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("NOT_READY"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("READY"))
	})

	if cfg.Monitoring.Enabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/deposits", handleGetDeposits(ledgerStore, logger))
		r.Get("/status", handleGetStatus(engine, eventWatcher, logger))
	})

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("address", serverAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutdown signal received, gracefully shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}

	logger.Info("Relayer stopped")
}

func handleGetDeposits(ledger *state.LedgerStore, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]interface{}{
			"deposits": ledger.Records(),
		}); err != nil {
			logger.Error("Failed to encode response", zap.Error(err))
		}
	}
}

func handleGetStatus(engine *relayer.Engine, watch *watcher.Watcher, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]interface{}{
			"state":              engine.State(),
			"last_scanned_block": watch.LastScannedBlock(),
			"pending_events":     watch.PendingCount(),
		}); err != nil {
			logger.Error("Failed to encode response", zap.Error(err))
		}
	}
}
