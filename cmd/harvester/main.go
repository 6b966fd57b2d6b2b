// Command harvester runs the collection side of the pipeline: the
// priority scheduler, the rate-gated API client, and the recompute event
// publisher.
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

	"github.com/campuscode/harvest/pkg/client"
	"github.com/campuscode/harvest/pkg/collect"
	"github.com/campuscode/harvest/pkg/config"
	"github.com/campuscode/harvest/pkg/metrics"
	"github.com/campuscode/harvest/pkg/ratelimit"
	"github.com/campuscode/harvest/pkg/scheduler"
	"github.com/campuscode/harvest/pkg/storage"
	"github.com/campuscode/harvest/pkg/stream"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:          "harvester",
		Short:        "Collects member activity and publishes recompute events",
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

	budget := ratelimit.NewBudget(
		cfg.Rate.Capacity,
		cfg.Rate.Threshold,
		cfg.Rate.Window,
		ratelimit.WithLogger(logger),
	)

	apiClient := client.New(cfg.API.BaseURL, cfg.API.Token, budget,
		client.WithLogger(logger),
		client.WithMetrics(collector))

	publisher, err := stream.NewPublisher(store.Log(), cfg.Consumer.StreamKey,
		stream.WithPublisherLogger(logger),
		stream.WithPublisherMetrics(collector))
	if err != nil {
		return err
	}

	runner := collect.New(apiClient, store.Entities(), store.Stats(), publisher,
		collect.WithLogger(logger))

	sched := scheduler.New(store.Executions(), store.Entities(), runner,
		scheduler.WithDrainInterval(cfg.Scheduler.DrainInterval),
		scheduler.WithLogger(logger),
		scheduler.WithMetrics(collector))

	if cfg.Scheduler.SeedOnStart {
		if err := sched.Seed(ctx); err != nil {
			logger.Error("startup seeding failed", "error", err)
		}
	}

	sweeper := scheduler.NewSweeper(30*time.Second, logger)
	sweeper.Add(scheduler.Sweep{
		Name:     "quota-reset-resubmit",
		Schedule: scheduler.Every(time.Hour),
		Run: func(ctx context.Context) {
			if err := sched.Seed(ctx); err != nil {
				logger.Error("quota reset sweep failed", "error", err)
			}
		},
	})
	sweeper.Add(scheduler.Sweep{
		Name:     "daily-full-collection",
		Schedule: scheduler.Daily(2, 0),
		Run: func(ctx context.Context) {
			if err := sched.Seed(ctx); err != nil {
				logger.Error("daily collection sweep failed", "error", err)
			}
		},
	})

	serveMetrics(ctx, cfg.Metrics.Addr, collector, logger)

	go func() {
		if err := sweeper.Start(ctx); err != nil && ctx.Err() == nil {
			logger.Error("sweeper stopped", "error", err)
		}
	}()

	logger.Info("harvester started",
		"drain_interval", cfg.Scheduler.DrainInterval,
		"stream", cfg.Consumer.StreamKey)

	if err := sched.Start(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	sched.Wait()
	logger.Info("harvester stopped")
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
