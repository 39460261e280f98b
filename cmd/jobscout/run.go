package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/amishk599/jobscout/internal/console"
	"github.com/amishk599/jobscout/internal/discovery"
	"github.com/amishk599/jobscout/internal/model"
	"github.com/amishk599/jobscout/internal/store"
)

var (
	runSource   string
	runProgress bool
	runDryRun   bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run discovery once and print the summary",
	Long:  "One discovery run over every enabled source (or just --source), then exit. --dry-run rolls back every write.",
	RunE:  runOnce,
}

func init() {
	runCmd.Flags().StringVar(&runSource, "source", "", "only run the named source (greenhouse or a feed name)")
	runCmd.Flags().BoolVar(&runProgress, "progress", false, "show a spinner instead of info logs while running")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "run everything but persist nothing")
	rootCmd.AddCommand(runCmd)
}

func runOnce(cmd *cobra.Command, args []string) error {
	var logger *slog.Logger
	if runProgress && !debug {
		// Keep the spinner line clean; only problems reach the terminal.
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	} else {
		logger = setupLogger(debug)
	}

	cfg, err := loadConfig()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	lock, err := store.AcquireRunLock(lockPath(cfg))
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	adapters, err := buildAdapters(cfg, runSource, logger)
	if err != nil {
		return err
	}
	defer closeAdapters(adapters)

	orch := discovery.New(st, orchestratorOptions(cfg, st, nil, runDryRun, logger))
	run := func(ctx context.Context) (model.Summary, error) {
		return orch.Run(ctx, adapters)
	}

	var summary model.Summary
	if runProgress {
		summary, err = console.RunWithSpinner(ctx, "Discovering postings", run)
	} else {
		summary, err = run(ctx)
	}

	fmt.Println(console.RenderSummary(summary, runDryRun))
	if err != nil {
		return fmt.Errorf("discovery run: %w", err)
	}
	return nil
}
