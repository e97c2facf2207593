package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/observastack/health-sentinel/internal/api"
	"github.com/observastack/health-sentinel/internal/baselines"
	"github.com/observastack/health-sentinel/internal/config"
	"github.com/observastack/health-sentinel/internal/engine"
	"github.com/observastack/health-sentinel/internal/metrics"
	"github.com/observastack/health-sentinel/internal/repo"
	"github.com/observastack/health-sentinel/internal/services"
	"github.com/observastack/health-sentinel/internal/utils"
	"github.com/observastack/health-sentinel/pkg/kvstore"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting health-sentinel", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	store := buildStore(cfg, logger)
	defer store.Close()

	telemetry := repo.NewTelemetryClient(cfg.Clients.Telemetry, store)
	states := repo.NewKVStateStore(store, 0)
	audit := buildAuditStore(cfg, store, logger)

	advisor, err := engine.NewAdvisoryEngine(cfg.Advisories.Path, logger)
	if err != nil {
		logger.Error("failed to load advisory rule pack", slog.String("path", cfg.Advisories.Path), slog.Any("error", err))
		os.Exit(1)
	}
	evaluator := engine.NewEvaluator(cfg.Evaluation, advisor, logger)
	miner := baselines.NewMiner(logger, store, cfg.Evaluation.TrendLookback)

	healthService := services.NewHealthService(logger, telemetry, audit, states, evaluator, miner, cfg.Evaluation)
	handler := api.NewHandler(logger, healthService)

	server, err := api.NewServer(cfg.Server, handler.Routes())
	if err != nil {
		logger.Error("failed to create HTTP server", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("HTTP server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("health-sentinel stopped")
}

// buildStore selects the key-value backend for hysteresis state and caches.
// A misconfigured or unreachable Valkey degrades to the in-memory store so a
// single replica can still serve.
func buildStore(cfg *config.Config, logger *slog.Logger) kvstore.Store {
	if cfg.StateStore.Backend != "valkey" || cfg.StateStore.Addr == "" {
		return kvstore.NewMemory()
	}

	store, err := kvstore.NewValkey(kvstore.ValkeyConfig{
		Addr:         cfg.StateStore.Addr,
		Username:     cfg.StateStore.Username,
		Password:     cfg.StateStore.Password,
		DB:           cfg.StateStore.DB,
		DialTimeout:  cfg.StateStore.DialTimeout,
		ReadTimeout:  cfg.StateStore.ReadTimeout,
		WriteTimeout: cfg.StateStore.WriteTimeout,
		MaxRetries:   cfg.StateStore.MaxRetries,
		TLS:          cfg.StateStore.TLS,
	})
	if err != nil {
		logger.Warn("valkey unavailable, falling back to in-memory state", slog.Any("error", err))
		return kvstore.NewMemory()
	}
	return store
}

func buildAuditStore(cfg *config.Config, store kvstore.Store, logger *slog.Logger) repo.AuditStore {
	if cfg.Audit.Endpoint == "" {
		logger.Info("audit endpoint not configured, keeping audit trail in memory")
		return repo.NewMemoryAuditStore(4096)
	}
	return repo.NewHTTPAuditStore(cfg.Audit, store)
}
