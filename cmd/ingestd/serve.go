package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/surchile/platform-ingest/internal/config"
	"github.com/surchile/platform-ingest/internal/events"
	"github.com/surchile/platform-ingest/internal/ingest"
	"github.com/surchile/platform-ingest/internal/model"
	"github.com/surchile/platform-ingest/internal/objectstore"
	"github.com/surchile/platform-ingest/internal/store/postgres"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ingestion scheduler until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.IntervalClamped {
			logger.Warn("configured sync interval below floor, clamped",
				"floor", config.MinSyncInterval, "interval", cfg.SyncInterval)
		}

		engine, cleanup, err := buildPipeline(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer cleanup()

		scheduler := ingest.NewScheduler(engine, cfg.SyncInterval, logger)
		scheduler.Start()
		logger.Info("ingest scheduler started",
			"interval", cfg.SyncInterval,
			"bucket", cfg.S3Bucket,
			"source_prefix", cfg.SourcePrefix,
			"stage", cfg.Stage,
		)

		var metricsServer *http.Server
		if cfg.MetricsAddr != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			})
			metricsServer = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
			go func() {
				logger.Info("metrics listening", "addr", cfg.MetricsAddr)
				if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("metrics server error", "err", err)
				}
			}()
		}

		// Wait for SIGINT or SIGTERM.
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)

		scheduler.Stop()
		logger.Info("ingest scheduler stopped")

		if metricsServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}

		return nil
	},
}

// buildPipeline constructs the engine and its collaborators from config.
// The returned cleanup closes them in reverse order.
func buildPipeline(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*ingest.Engine, func(), error) {
	docs, err := postgres.New(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}

	objects, err := objectstore.New(ctx, cfg.S3Bucket, cfg.S3Region, cfg.S3Endpoint)
	if err != nil {
		docs.Close()
		return nil, nil, err
	}

	var publisher events.Publisher
	if cfg.NATSURL != "" {
		pub, err := events.NewNATSPublisher(cfg.NATSURL)
		if err != nil {
			docs.Close()
			return nil, nil, err
		}
		publisher = pub
		logger.Info("events enabled", "nats_url", cfg.NATSURL)
	} else {
		publisher = &events.NoopPublisher{}
		logger.Info("events disabled (INGEST_NATS_URL not set)")
	}

	engine := ingest.NewEngine(objects, docs, publisher, ingest.Config{
		SourcePrefix:    cfg.SourcePrefix,
		ProcessedPrefix: cfg.ProcessedPrefix,
		ErrorsPrefix:    cfg.ErrorsPrefix,
		Stage:           cfg.Stage,
		Routes: map[model.EventKind]string{
			model.KindDeclarePT:     cfg.CollDeclarePT,
			model.KindConsumirVasot: cfg.CollConsumirVasot,
		},
		Workers: cfg.Workers,
	}, logger)

	cleanup := func() {
		publisher.Close()
		docs.Close()
	}
	return engine, cleanup, nil
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
