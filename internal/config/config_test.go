package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
logging:
  development: true
  level: debug
http:
  user_agent: jobfeed-test
  timeout_seconds: 45
  max_attempts: 4
  backoff_initial_ms: 100
  backoff_max_ms: 500
  rate_limit_rps: 2.5
  headers:
    Accept-Language: fr-FR
source:
  keywords: golang
  location: Paris
  max_pages: 3
pacing:
  page_min_ms: 10
  page_max_ms: 20
  follow_up_ms: 5
destination:
  base_url: https://cms.example.com
  username: editor
  app_password: secret
  status_url: https://cms.example.com/wp-json/fetcher/v1/get-status
state:
  backend: redis
  redis_addr: localhost:6379
  name: paris-golang
control:
  enabled: true
  port: 9090
  api_key: k
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if !cfg.Logging.Development || cfg.Logging.Level != "debug" {
		t.Fatalf("expected logging overrides, got %+v", cfg.Logging)
	}
	if cfg.HTTP.MaxAttempts != 4 || cfg.HTTP.RateLimitRPS != 2.5 {
		t.Fatalf("expected http overrides to apply: %+v", cfg.HTTP)
	}
	if cfg.HTTP.Headers["accept-language"] != "fr-FR" {
		t.Fatalf("expected header map to load (viper lowercases keys): %+v", cfg.HTTP.Headers)
	}
	if cfg.Source.Keywords != "golang" || cfg.Source.MaxPages != 3 || cfg.Source.PageSize != 25 {
		t.Fatalf("expected source overrides with default page size: %+v", cfg.Source)
	}
	if cfg.State.Backend != "redis" || cfg.State.Name != "paris-golang" {
		t.Fatalf("expected state overrides: %+v", cfg.State)
	}
	if cfg.Destination.CompanyPostType != "company" || cfg.Destination.JobPostType != "job_listing" {
		t.Fatalf("expected destination defaults: %+v", cfg.Destination)
	}
	if got := cfg.HTTPTimeout(); got != 45*time.Second {
		t.Fatalf("expected http timeout 45s, got %v", got)
	}
}

func TestLoadDefaultsFromEnv(t *testing.T) {
	t.Setenv("JOBFEED_DESTINATION_BASE_URL", "https://cms.example.com")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Source.MaxPages != 15 || cfg.Resolver.ParagraphMaxLength != 200 {
		t.Fatalf("unexpected defaults: %+v %+v", cfg.Source, cfg.Resolver)
	}
	if len(cfg.Source.FatalURLMarkers) != 2 {
		t.Fatalf("expected login/challenge markers, got %v", cfg.Source.FatalURLMarkers)
	}
	if cfg.State.Backend != "file" || cfg.Notify.Backend != "none" {
		t.Fatalf("unexpected backend defaults: %+v %+v", cfg.State, cfg.Notify)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := validConfig()
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should be valid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing base url", func(c *Config) { c.Destination.BaseURL = "" }, "destination.base_url"},
		{"invalid timeout", func(c *Config) { c.HTTP.TimeoutSeconds = 0 }, "http.timeout_seconds"},
		{"unknown state backend", func(c *Config) { c.State.Backend = "etcd" }, "state.backend"},
		{"pacing inverted", func(c *Config) { c.Pacing.PageMaxMs = 1 }, "pacing.page_max_ms"},
		{"redis without addr", func(c *Config) { c.State.Backend = "redis" }, "state.redis_addr"},
		{"postgres without dsn", func(c *Config) { c.State.Backend = "postgres" }, "state.postgres_dsn"},
		{"gcs without bucket", func(c *Config) {
			c.Archive.Enabled = true
			c.Archive.Backend = "gcs"
		}, "archive.gcs_bucket"},
		{"pubsub without topic", func(c *Config) { c.Notify.Backend = "pubsub" }, "notify.project_id"},
		{"username without password", func(c *Config) { c.Destination.Username = "u" }, "destination.app_password"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func validConfig() Config {
	return Config{
		HTTP: HTTPConfig{UserAgent: "ua", TimeoutSeconds: 10, MaxAttempts: 3, BackoffInitialMs: 10, BackoffMaxMs: 100},
		Source: SourceConfig{
			ListingURLTemplate: "https://example.com/jobs?start={start}",
			PageSize:           25,
			MaxPages:           15,
			SiteDomain:         "example.com",
		},
		Pacing: PacingConfig{PageMinMs: 5, PageMaxMs: 10},
		Destination: DestinationConfig{
			BaseURL:         "https://cms.example.com",
			CompanyPostType: "company",
			JobPostType:     "job_listing",
			PostStatus:      "publish",
			TimeoutSeconds:  15,
		},
		State:   StateConfig{Backend: "memory", Name: "default"},
		Archive: ArchiveConfig{Backend: "local"},
		Notify:  NotifyConfig{Backend: "none"},
	}
}
