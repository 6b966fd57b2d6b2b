// Command challenger runs the evaluation side of the pipeline: it consumes
// recompute events from the durable log, deduplicates them, and evaluates
// challenge rules, granting rewards on achievement.
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

	"github.com/spf13/cobra"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/campuscode/harvest/pkg/config"
	"github.com/campuscode/harvest/pkg/metrics"
	"github.com/campuscode/harvest/pkg/rules"
	"github.com/campuscode/harvest/pkg/storage"
	"github.com/campuscode/harvest/pkg/stream"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:          "challenger",
		Short:        "Evaluates challenge rules on recompute events",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "", "path to the YAML config file")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	db, err := gorm.Open(sqlite.Open(cfg.Database.DSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	store := storage.New(db)
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	collector := metrics.NewCollector()

	engine := rules.NewEngine(
		store.Rules(),
		store.Stats(),
		store.Achievements(),
		store.Rewards(),
		rules.WithEngineLogger(logger),
		rules.WithEngineMetrics(collector),
	)
	handler := rules.NewHandler(engine, store.Entities(),
		rules.WithHandlerLogger(logger),
		rules.WithHandlerMetrics(collector))

	consumer, err := stream.NewConsumer(
		store.Log(),
		store.Markers(),
		handler,
		cfg.Consumer.StreamKey,
		cfg.Consumer.Group,
		cfg.Consumer.Name,
		stream.WithPollInterval(cfg.Consumer.PollInterval),
		stream.WithBatchSize(cfg.Consumer.BatchSize),
		stream.WithRecoveryMax(cfg.Consumer.RecoveryMax),
		stream.WithConsumerLogger(logger),
		stream.WithConsumerMetrics(collector),
	)
	if err != nil {
		return err
	}

	serveMetrics(ctx, cfg.Metrics.Addr, collector, logger)

	logger.Info("challenger started",
		"stream", cfg.Consumer.StreamKey,
		"group", cfg.Consumer.Group,
		"consumer", cfg.Consumer.Name)

	if err := consumer.Start(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info("challenger stopped")
	return nil
}

func serveMetrics(ctx context.Context, addr string, collector *metrics.Collector, logger *slog.Logger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
