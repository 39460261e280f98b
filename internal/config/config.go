package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for a jobscout deployment.
type Config struct {
	Database    DatabaseConfig
	Schedule    string // cron spec used by `start`
	MetricsAddr string // empty disables the /metrics endpoint
	Discovery   DiscoveryConfig
	Frontier    FrontierConfig
	Greenhouse  GreenhouseConfig
	Feeds       []FeedConfig
	Trust       TrustConfig
	Filters     FilterConfig
}

// DatabaseConfig selects the store backend.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "postgres"
	DSN    string `yaml:"dsn"`
}

// DiscoveryConfig holds the limits shared by every adapter.
type DiscoveryConfig struct {
	RequestTimeout    time.Duration
	RequestsPerMinute int
	MaxOrgsPerRun     int
	RecencyWindow     time.Duration
	UserAgent         string
	MaxRetries        int
	RetryBaseDelay    time.Duration
}

// FrontierConfig controls frontier backoff.
type FrontierConfig struct {
	EmptyBackoff time.Duration // mute orgs that listed nothing; 0 disables
}

// GreenhouseConfig configures the sitemap-driven ATS adapter.
type GreenhouseConfig struct {
	Enabled      bool
	BaseURL      string
	SitemapURL   string
	AllowedHosts []string
}

// FeedConfig describes one JSON postings feed.
type FeedConfig struct {
	Name       string
	Slug       string
	URLs       []string
	MaxAge     time.Duration
	SourceType string
	Enabled    bool
}

// TrustConfig extends the set of hosts trusted without review.
type TrustConfig struct {
	SafeDomains []string `yaml:"safe_domains"`
}

// FilterConfig holds title keyword filters. Empty lists admit everything.
type FilterConfig struct {
	TitleKeywords        []string `yaml:"title_keywords"`
	TitleExcludeKeywords []string `yaml:"title_exclude_keywords"`
}

const (
	defaultDriver            = "sqlite"
	defaultDSN               = "jobscout.db"
	defaultSchedule          = "0 */3 * * *"
	defaultRequestTimeout    = 20 * time.Second
	defaultRequestsPerMinute = 60
	defaultMaxOrgsPerRun     = 25
	defaultRecencyWindow     = 30 * 24 * time.Hour
	defaultUserAgent         = "JobscoutDiscoveryBot/0.1"
	defaultMaxRetries        = 2
	defaultRetryBaseDelay    = 2 * time.Second
	defaultEmptyBackoff      = 24 * time.Hour
	defaultFeedMaxAge        = 30 * 24 * time.Hour
	defaultGreenhouseBaseURL = "https://boards.greenhouse.io"
)

// DefaultFeeds are the community listings used when the config names none.
var DefaultFeeds = []FeedConfig{
	{
		Name: "simplify",
		Slug: "simplify",
		URLs: []string{
			"https://raw.githubusercontent.com/SimplifyJobs/New-Grad-Positions/dev/.github/scripts/listings.json",
			"https://raw.githubusercontent.com/SimplifyJobs/Summer2026-Internships/dev/.github/scripts/listings.json",
		},
		MaxAge:  defaultFeedMaxAge,
		Enabled: true,
	},
	{
		Name: "newgrad2026",
		Slug: "newgrad2026",
		URLs: []string{
			"https://raw.githubusercontent.com/vanshb03/New-Grad-2026/dev/.github/scripts/listings.json",
		},
		MaxAge:  defaultFeedMaxAge,
		Enabled: true,
	},
}

// rawConfig is used for YAML unmarshaling (snake_case fields and durations as strings).
type rawConfig struct {
	Database    DatabaseConfig     `yaml:"database"`
	Schedule    string             `yaml:"schedule"`
	MetricsAddr *string            `yaml:"metrics_addr"`
	Discovery   rawDiscoveryConfig `yaml:"discovery"`
	Frontier    rawFrontierConfig  `yaml:"frontier"`
	Greenhouse  rawGreenhouse      `yaml:"greenhouse"`
	Feeds       []rawFeedConfig    `yaml:"feeds"`
	Trust       TrustConfig        `yaml:"trust"`
	Filters     FilterConfig       `yaml:"filters"`
}

type rawDiscoveryConfig struct {
	RequestTimeout    string `yaml:"request_timeout"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
	MaxOrgsPerRun     int    `yaml:"max_orgs_per_run"`
	RecencyWindow     string `yaml:"recency_window"`
	UserAgent         string `yaml:"user_agent"`
	MaxRetries        *int   `yaml:"max_retries"`
	RetryBaseDelay    string `yaml:"retry_base_delay"`
}

type rawFrontierConfig struct {
	EmptyBackoff *string `yaml:"empty_backoff"`
}

type rawGreenhouse struct {
	Enabled      *bool    `yaml:"enabled"`
	BaseURL      string   `yaml:"base_url"`
	SitemapURL   string   `yaml:"sitemap_url"`
	AllowedHosts []string `yaml:"allowed_hosts"`
}

type rawFeedConfig struct {
	Name       string   `yaml:"name"`
	Slug       string   `yaml:"slug"`
	URLs       []string `yaml:"urls"`
	MaxAge     string   `yaml:"max_age"`
	SourceType string   `yaml:"source_type"`
	Enabled    *bool    `yaml:"enabled"`
}

// ResolvePath picks the config file: the explicit flag value, then
// $JOBSCOUT_CONFIG, then ./config.yaml.
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("JOBSCOUT_CONFIG"); env != "" {
		return env
	}
	return "config.yaml"
}

// Load reads and parses the YAML config file at path, validates it, and returns Config.
// A .env file next to the config is loaded first so ${VAR} references resolve;
// variables already set in the environment win.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	envPath := filepath.Join(filepath.Dir(path), ".env")
	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envPath, err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg, err := fromRaw(raw)
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromRaw(raw rawConfig) (*Config, error) {
	cfg := &Config{
		Database:    raw.Database,
		Schedule:    raw.Schedule,
		MetricsAddr: ":9090",
		Trust:       raw.Trust,
		Filters:     raw.Filters,
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = defaultDriver
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == defaultDriver {
		cfg.Database.DSN = defaultDSN
	}
	if cfg.Schedule == "" {
		cfg.Schedule = defaultSchedule
	}
	if raw.MetricsAddr != nil {
		cfg.MetricsAddr = strings.TrimSpace(*raw.MetricsAddr)
	}

	var err error
	d := raw.Discovery
	if cfg.Discovery.RequestTimeout, err = parseDuration("discovery.request_timeout", d.RequestTimeout, defaultRequestTimeout); err != nil {
		return nil, err
	}
	if cfg.Discovery.RecencyWindow, err = parseDuration("discovery.recency_window", d.RecencyWindow, defaultRecencyWindow); err != nil {
		return nil, err
	}
	if cfg.Discovery.RetryBaseDelay, err = parseDuration("discovery.retry_base_delay", d.RetryBaseDelay, defaultRetryBaseDelay); err != nil {
		return nil, err
	}
	cfg.Discovery.RequestsPerMinute = orDefault(d.RequestsPerMinute, defaultRequestsPerMinute)
	cfg.Discovery.MaxOrgsPerRun = orDefault(d.MaxOrgsPerRun, defaultMaxOrgsPerRun)
	cfg.Discovery.UserAgent = d.UserAgent
	if cfg.Discovery.UserAgent == "" {
		cfg.Discovery.UserAgent = defaultUserAgent
	}
	cfg.Discovery.MaxRetries = defaultMaxRetries
	if d.MaxRetries != nil {
		cfg.Discovery.MaxRetries = *d.MaxRetries
	}

	cfg.Frontier.EmptyBackoff = defaultEmptyBackoff
	if raw.Frontier.EmptyBackoff != nil {
		if cfg.Frontier.EmptyBackoff, err = parseDuration("frontier.empty_backoff", *raw.Frontier.EmptyBackoff, 0); err != nil {
			return nil, err
		}
	}

	gh := raw.Greenhouse
	cfg.Greenhouse = GreenhouseConfig{
		Enabled:      gh.Enabled == nil || *gh.Enabled,
		BaseURL:      strings.TrimRight(gh.BaseURL, "/"),
		SitemapURL:   gh.SitemapURL,
		AllowedHosts: gh.AllowedHosts,
	}
	if cfg.Greenhouse.BaseURL == "" {
		cfg.Greenhouse.BaseURL = defaultGreenhouseBaseURL
	}
	if cfg.Greenhouse.SitemapURL == "" {
		cfg.Greenhouse.SitemapURL = cfg.Greenhouse.BaseURL + "/sitemap.xml"
	}

	if len(raw.Feeds) == 0 {
		cfg.Feeds = append([]FeedConfig(nil), DefaultFeeds...)
	}
	for i, f := range raw.Feeds {
		maxAge, err := parseDuration(fmt.Sprintf("feeds[%d].max_age", i), f.MaxAge, defaultFeedMaxAge)
		if err != nil {
			return nil, err
		}
		slug := f.Slug
		if slug == "" {
			slug = f.Name
		}
		cfg.Feeds = append(cfg.Feeds, FeedConfig{
			Name:       f.Name,
			Slug:       slug,
			URLs:       f.URLs,
			MaxAge:     maxAge,
			SourceType: f.SourceType,
			Enabled:    f.Enabled == nil || *f.Enabled,
		})
	}

	return cfg, nil
}

func parseDuration(key, value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s %q: %w", key, value, err)
	}
	return d, nil
}

func orDefault(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}

func validate(cfg *Config) error {
	switch cfg.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver must be \"sqlite\" or \"postgres\", got %q", cfg.Database.Driver)
	}
	if cfg.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required for driver %q", cfg.Database.Driver)
	}

	d := cfg.Discovery
	if d.RequestTimeout <= 0 {
		return fmt.Errorf("discovery.request_timeout must be positive, got %v", d.RequestTimeout)
	}
	if d.RequestsPerMinute <= 0 {
		return fmt.Errorf("discovery.requests_per_minute must be positive, got %d", d.RequestsPerMinute)
	}
	if d.MaxOrgsPerRun <= 0 {
		return fmt.Errorf("discovery.max_orgs_per_run must be positive, got %d", d.MaxOrgsPerRun)
	}
	if d.RecencyWindow <= 0 {
		return fmt.Errorf("discovery.recency_window must be positive, got %v", d.RecencyWindow)
	}
	if d.MaxRetries < 0 {
		return fmt.Errorf("discovery.max_retries must not be negative, got %d", d.MaxRetries)
	}
	if cfg.Frontier.EmptyBackoff < 0 {
		return fmt.Errorf("frontier.empty_backoff must not be negative, got %v", cfg.Frontier.EmptyBackoff)
	}

	if cfg.Greenhouse.Enabled {
		for key, raw := range map[string]string{
			"greenhouse.base_url":    cfg.Greenhouse.BaseURL,
			"greenhouse.sitemap_url": cfg.Greenhouse.SitemapURL,
		} {
			if err := validateURL(key, raw); err != nil {
				return err
			}
		}
	}

	names := make(map[string]struct{}, len(cfg.Feeds))
	for i, f := range cfg.Feeds {
		if f.Name == "" {
			return fmt.Errorf("feeds[%d].name is required", i)
		}
		if f.Name == "greenhouse" {
			return fmt.Errorf("feeds[%d].name %q is reserved", i, f.Name)
		}
		if _, dup := names[f.Name]; dup {
			return fmt.Errorf("feeds[%d].name %q is used more than once", i, f.Name)
		}
		names[f.Name] = struct{}{}
		if !f.Enabled {
			continue
		}
		if len(f.URLs) == 0 {
			return fmt.Errorf("feeds[%d] (%s) needs at least one url", i, f.Name)
		}
		for j, u := range f.URLs {
			if err := validateURL(fmt.Sprintf("feeds[%d].urls[%d]", i, j), u); err != nil {
				return err
			}
		}
		if f.MaxAge < 0 {
			return fmt.Errorf("feeds[%d].max_age must not be negative, got %v", i, f.MaxAge)
		}
		switch f.SourceType {
		case "", "company", "feed", "greenhouse":
		default:
			return fmt.Errorf("feeds[%d].source_type %q is not one of company, feed, greenhouse", i, f.SourceType)
		}
	}

	return nil
}

func validateURL(key, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || u.Scheme != "https" {
		return fmt.Errorf("%s must be an absolute https url, got %q", key, raw)
	}
	return nil
}
