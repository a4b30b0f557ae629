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

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/civicworks/complaint-forecast/internal/api"
	"github.com/civicworks/complaint-forecast/internal/cache"
	"github.com/civicworks/complaint-forecast/internal/config"
	"github.com/civicworks/complaint-forecast/internal/ingest"
	"github.com/civicworks/complaint-forecast/internal/metrics"
	"github.com/civicworks/complaint-forecast/internal/models"
	"github.com/civicworks/complaint-forecast/internal/precompute"
	"github.com/civicworks/complaint-forecast/internal/resolver"
	"github.com/civicworks/complaint-forecast/internal/store"
	"github.com/civicworks/complaint-forecast/internal/summary"
	"github.com/civicworks/complaint-forecast/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("could not load .env file", slog.Any("error", err))
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting forecast-engine", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	records, err := ingest.Load(ctx, cfg.Data, logger)
	if err != nil {
		logger.Error("failed to load records", slog.Any("error", err))
		os.Exit(1)
	}

	aggregates, err := store.Open(cfg.Data.StorePath)
	if err != nil {
		logger.Error("failed to open aggregate store", slog.Any("error", err))
		os.Exit(1)
	}
	defer aggregates.Close()

	// A fresh store gets one inline precompute pass so the service is usable
	// without a prior batch run.
	empty, err := aggregates.Empty(ctx)
	if err != nil {
		logger.Error("failed to inspect aggregate store", slog.Any("error", err))
		os.Exit(1)
	}
	if empty {
		logger.Info("aggregate store is empty, running precompute")
		stats, err := precompute.NewRunner(aggregates, logger).Run(ctx, records)
		if err != nil {
			logger.Error("precompute failed", slog.Any("error", err))
			os.Exit(1)
		}
		metrics.ObservePrecompute(stats.Duration, rowCounts(stats))
	}

	forecaster := resolver.New(aggregates, records, cfg.Forecast, cache.NewMemoryProvider(), logger)

	slot := summary.Start(ctx, func(ctx context.Context) (models.ForecastResult, error) {
		return forecaster.Resolve(ctx, models.ForecastRequest{
			Neighborhood: models.Citywide,
			Item:         models.AllItems,
			Metric:       models.MetricVolume,
		})
	}, logger)

	handlers := api.NewHandlers(forecaster, aggregates, slot, logger)
	server := api.NewServer(cfg.Server, api.NewRouter(handlers, cfg.Server.AllowedOrigins))

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
			logger.Error("http server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", slog.Any("error", err))
	}

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("forecast-engine stopped")
}

func rowCounts(stats precompute.Stats) map[string]int {
	out := make(map[string]int, len(stats.Rows))
	for metric, rows := range stats.Rows {
		out[string(metric)] = rows
	}
	return out
}
