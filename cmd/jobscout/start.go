package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/amishk599/jobscout/internal/discovery"
	"github.com/amishk599/jobscout/internal/metrics"
	"github.com/amishk599/jobscout/internal/scheduler"
	"github.com/amishk599/jobscout/internal/store"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the discovery daemon",
	Long:  "Run discovery on the configured cron schedule; blocks until SIGINT/SIGTERM.",
	RunE:  runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	logger := setupLogger(debug)

	cfg, err := loadConfig()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return err
	}

	logger.Info("config loaded",
		"schedule", cfg.Schedule,
		"driver", cfg.Database.Driver,
		"feeds", len(cfg.Feeds),
		"greenhouse", cfg.Greenhouse.Enabled,
		"max_orgs_per_run", cfg.Discovery.MaxOrgsPerRun,
		"metrics_addr", cfg.MetricsAddr,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		return err
	}
	defer st.Close()

	adapters, err := buildAdapters(cfg, "", logger)
	if err != nil {
		logger.Error("failed to build sources", "error", err)
		return err
	}
	defer closeAdapters(adapters)

	rec := metrics.NewRecorder(prometheus.DefaultRegisterer)
	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr, prometheus.DefaultGatherer, logger); err != nil {
				logger.Error("metrics endpoint stopped", "error", err)
			}
		}()
	}

	orch := discovery.New(st, orchestratorOptions(cfg, st, rec, false, logger))
	lockFile := lockPath(cfg)

	sched, err := scheduler.NewScheduler(cfg.Schedule, func(ctx context.Context) error {
		lock, err := store.AcquireRunLock(lockFile)
		if errors.Is(err, store.ErrRunInProgress) {
			logger.Warn("another run holds the lock, skipping tick", "lock", lockFile)
			return nil
		}
		if err != nil {
			return err
		}
		defer lock.Release()

		_, err = orch.Run(ctx, adapters)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}, logger)
	if err != nil {
		logger.Error("invalid schedule", "error", err)
		return err
	}

	if err := sched.Run(ctx); err != nil {
		logger.Error("scheduler error", "error", err)
		return err
	}

	logger.Info("goodbye")
	return nil
}
