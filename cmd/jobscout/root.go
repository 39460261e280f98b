package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/spf13/cobra"

	"github.com/amishk599/jobscout/internal/adapter"
	"github.com/amishk599/jobscout/internal/config"
	"github.com/amishk599/jobscout/internal/discovery"
	"github.com/amishk599/jobscout/internal/filter"
	"github.com/amishk599/jobscout/internal/model"
	"github.com/amishk599/jobscout/internal/store"
	"github.com/amishk599/jobscout/internal/trust"
)

var (
	cfgPath string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "jobscout",
	Short: "Job discovery and ingestion",
	Long:  "jobscout discovers organizations from public ATS sitemaps and community feeds, and ingests their postings into a deduplicated store.",
	// Default to `start` so that `jobscout` with no args runs the daemon.
	RunE:         runStart,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file (default: JOBSCOUT_CONFIG env var or ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

func loadConfig() (*config.Config, error) {
	return config.Load(config.ResolvePath(cfgPath))
}

func setupLogger(dbg bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if dbg {
		logLevel = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
}

func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	st, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}

// lockPath places the run lock next to a sqlite database, or in the temp dir
// for postgres.
func lockPath(cfg *config.Config) string {
	if cfg.Database.Driver == store.DriverSQLite {
		return cfg.Database.DSN + ".lock"
	}
	return filepath.Join(os.TempDir(), "jobscout.lock")
}

func httpOptions(cfg *config.Config) adapter.HTTPOptions {
	return adapter.HTTPOptions{
		UserAgent:         cfg.Discovery.UserAgent,
		Timeout:           cfg.Discovery.RequestTimeout,
		RequestsPerMinute: cfg.Discovery.RequestsPerMinute,
		MaxRetries:        cfg.Discovery.MaxRetries,
		RetryBaseDelay:    cfg.Discovery.RetryBaseDelay,
	}
}

// buildAdapters creates the enabled adapters in run order: the sitemap ATS
// first, then each feed. A non-empty only restricts the set to that source.
func buildAdapters(cfg *config.Config, only string, logger *slog.Logger) ([]model.SourceAdapter, error) {
	var adapters []model.SourceAdapter
	httpOpts := httpOptions(cfg)

	if cfg.Greenhouse.Enabled && (only == "" || only == "greenhouse") {
		adapters = append(adapters, adapter.NewGreenhouseAdapter(adapter.GreenhouseConfig{
			BaseURL:      cfg.Greenhouse.BaseURL,
			SitemapURL:   cfg.Greenhouse.SitemapURL,
			AllowedHosts: cfg.Greenhouse.AllowedHosts,
			HTTP:         httpOpts,
			Logger:       logger,
		}))
		logger.Info("registered source", "source", "greenhouse", "sitemap", cfg.Greenhouse.SitemapURL)
	}

	for _, f := range cfg.Feeds {
		if !f.Enabled || (only != "" && only != f.Name) {
			continue
		}
		a, err := adapter.NewFeedAdapter(adapter.FeedConfig{
			Name:       f.Name,
			Slug:       f.Slug,
			URLs:       f.URLs,
			MaxAge:     f.MaxAge,
			SourceType: model.JobSourceType(f.SourceType),
			HTTP:       httpOpts,
			Logger:     logger,
		})
		if err != nil {
			closeAdapters(adapters)
			return nil, err
		}
		adapters = append(adapters, a)
		logger.Info("registered source", "source", f.Name, "urls", len(f.URLs))
	}

	if len(adapters) == 0 {
		if only != "" {
			return nil, fmt.Errorf("no enabled source named %q", only)
		}
		return nil, fmt.Errorf("no sources enabled")
	}
	return adapters, nil
}

func closeAdapters(adapters []model.SourceAdapter) {
	for _, a := range adapters {
		a.Close()
	}
}

func orchestratorOptions(cfg *config.Config, st *store.Store, rec discovery.Recorder, dryRun bool, logger *slog.Logger) discovery.Options {
	safe := slices.Concat(trust.DefaultSafeDomains, cfg.Trust.SafeDomains)
	opts := discovery.Options{
		MaxOrgsPerRun: cfg.Discovery.MaxOrgsPerRun,
		RecencyWindow: cfg.Discovery.RecencyWindow,
		EmptyBackoff:  cfg.Frontier.EmptyBackoff,
		Trust:         trust.NewWhitelistEvaluator(trust.NewHostRule(safe), st),
		Recorder:      rec,
		DryRun:        dryRun,
		Logger:        logger,
	}
	if len(cfg.Filters.TitleKeywords) > 0 || len(cfg.Filters.TitleExcludeKeywords) > 0 {
		opts.Filter = filter.NewTitleFilter(cfg.Filters.TitleKeywords, cfg.Filters.TitleExcludeKeywords)
	}
	return opts
}
