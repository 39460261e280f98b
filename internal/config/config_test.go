package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: postgres
  dsn: postgres://jobs@localhost/jobs?sslmode=disable
schedule: "@every 2h"
metrics_addr: ":9100"
discovery:
  request_timeout: 10s
  requests_per_minute: 30
  max_orgs_per_run: 5
  recency_window: 168h
  max_retries: 0
frontier:
  empty_backoff: 12h
greenhouse:
  enabled: true
  allowed_hosts: [boards.greenhouse.io, job-boards.greenhouse.io]
feeds:
  - name: newgrad
    urls: [https://raw.githubusercontent.com/org/repo/dev/listings.json]
    max_age: 240h
trust:
  safe_domains: [careers.initech.com]
filters:
  title_keywords: [engineer]
  title_exclude_keywords: [senior]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Driver != "postgres" {
		t.Errorf("Database.Driver = %q, want postgres", cfg.Database.Driver)
	}
	if cfg.Schedule != "@every 2h" || cfg.MetricsAddr != ":9100" {
		t.Errorf("Schedule/MetricsAddr = %q/%q", cfg.Schedule, cfg.MetricsAddr)
	}
	if cfg.Discovery.RequestTimeout != 10*time.Second || cfg.Discovery.RequestsPerMinute != 30 {
		t.Errorf("Discovery = %+v", cfg.Discovery)
	}
	if cfg.Discovery.MaxRetries != 0 {
		t.Errorf("MaxRetries = %d, want explicit 0 kept", cfg.Discovery.MaxRetries)
	}
	if cfg.Discovery.UserAgent != defaultUserAgent {
		t.Errorf("UserAgent = %q, want default", cfg.Discovery.UserAgent)
	}
	if cfg.Frontier.EmptyBackoff != 12*time.Hour {
		t.Errorf("EmptyBackoff = %v, want 12h", cfg.Frontier.EmptyBackoff)
	}
	if cfg.Greenhouse.SitemapURL != "https://boards.greenhouse.io/sitemap.xml" {
		t.Errorf("SitemapURL = %q", cfg.Greenhouse.SitemapURL)
	}
	if len(cfg.Greenhouse.AllowedHosts) != 2 {
		t.Errorf("AllowedHosts = %v", cfg.Greenhouse.AllowedHosts)
	}
	if len(cfg.Feeds) != 1 || cfg.Feeds[0].Slug != "newgrad" || cfg.Feeds[0].MaxAge != 240*time.Hour || !cfg.Feeds[0].Enabled {
		t.Errorf("Feeds = %+v", cfg.Feeds)
	}
	if len(cfg.Trust.SafeDomains) != 1 || cfg.Filters.TitleExcludeKeywords[0] != "senior" {
		t.Errorf("Trust/Filters = %+v / %+v", cfg.Trust, cfg.Filters)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Driver != "sqlite" || cfg.Database.DSN != "jobscout.db" {
		t.Errorf("Database = %+v", cfg.Database)
	}
	if cfg.Schedule != defaultSchedule || cfg.MetricsAddr != ":9090" {
		t.Errorf("Schedule/MetricsAddr = %q/%q", cfg.Schedule, cfg.MetricsAddr)
	}
	if cfg.Discovery.MaxOrgsPerRun != 25 || cfg.Discovery.RecencyWindow != 720*time.Hour || cfg.Discovery.MaxRetries != 2 {
		t.Errorf("Discovery = %+v", cfg.Discovery)
	}
	if cfg.Frontier.EmptyBackoff != 24*time.Hour {
		t.Errorf("EmptyBackoff = %v", cfg.Frontier.EmptyBackoff)
	}
	if !cfg.Greenhouse.Enabled {
		t.Error("greenhouse should be enabled by default")
	}
	if len(cfg.Feeds) != 2 || cfg.Feeds[0].Name != "simplify" || cfg.Feeds[1].Name != "newgrad2026" {
		t.Errorf("Feeds = %+v, want the two default feeds", cfg.Feeds)
	}
}

func TestLoad_EmptyMetricsAddrDisables(t *testing.T) {
	cfg, err := Load(writeConfig(t, "metrics_addr: \"\"\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MetricsAddr != "" {
		t.Errorf("MetricsAddr = %q, want empty", cfg.MetricsAddr)
	}
}

func TestLoad_ExpandsDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
database:
  driver: postgres
  dsn: ${JOBSCOUT_TEST_DSN}
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("JOBSCOUT_TEST_DSN=postgres://from-dotenv/jobs\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("JOBSCOUT_TEST_DSN") })

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.DSN != "postgres://from-dotenv/jobs" {
		t.Errorf("DSN = %q, want value from .env", cfg.Database.DSN)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err == nil {
		t.Fatal("Load: expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "schedule: [broken"))
	if err == nil {
		t.Fatal("Load: expected error for invalid YAML")
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown driver", "database: {driver: mysql, dsn: x}\n"},
		{"postgres without dsn", "database: {driver: postgres}\n"},
		{"bad duration", "discovery: {request_timeout: soon}\n"},
		{"negative retries", "discovery: {max_retries: -1}\n"},
		{"relative sitemap", "greenhouse: {sitemap_url: /sitemap.xml}\n"},
		{"plain http sitemap", "greenhouse: {sitemap_url: http://boards.greenhouse.io/sitemap.xml}\n"},
		{"plain http board base", "greenhouse: {base_url: http://boards.greenhouse.io}\n"},
		{"plain http feed url", "feeds: [{name: a, urls: [http://x.io/a.json]}]\n"},
		{"feed without name", "feeds: [{urls: [https://example.com/a.json]}]\n"},
		{"feed without urls", "feeds: [{name: a}]\n"},
		{"duplicate feed", "feeds: [{name: a, urls: [https://x.io/a]}, {name: a, urls: [https://x.io/b]}]\n"},
		{"reserved feed name", "feeds: [{name: greenhouse, urls: [https://x.io/a]}]\n"},
		{"bad source type", "feeds: [{name: a, source_type: rss, urls: [https://x.io/a]}]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.content)); err == nil {
				t.Errorf("Load: expected validation error for %s", tt.name)
			}
		})
	}
}

func TestLoad_DisabledFeedSkipsValidation(t *testing.T) {
	cfg, err := Load(writeConfig(t, "feeds: [{name: parked, enabled: false}]\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Feeds) != 1 || cfg.Feeds[0].Enabled {
		t.Errorf("Feeds = %+v", cfg.Feeds)
	}
}

func TestResolvePath(t *testing.T) {
	t.Setenv("JOBSCOUT_CONFIG", "/etc/jobscout.yaml")
	if got := ResolvePath("custom.yaml"); got != "custom.yaml" {
		t.Errorf("flag should win, got %q", got)
	}
	if got := ResolvePath(""); got != "/etc/jobscout.yaml" {
		t.Errorf("env should be used, got %q", got)
	}
	t.Setenv("JOBSCOUT_CONFIG", "")
	if got := ResolvePath(""); got != "config.yaml" {
		t.Errorf("default = %q, want config.yaml", got)
	}
}
