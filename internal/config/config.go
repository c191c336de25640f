// Package config loads and validates jobfeed configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/JakeFAU/jobfeed-publisher/internal/logging"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging     logging.Config    `mapstructure:"logging"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Source      SourceConfig      `mapstructure:"source"`
	Pacing      PacingConfig      `mapstructure:"pacing"`
	Resolver    ResolverConfig    `mapstructure:"resolver"`
	Destination DestinationConfig `mapstructure:"destination"`
	State       StateConfig       `mapstructure:"state"`
	Archive     ArchiveConfig     `mapstructure:"archive"`
	Notify      NotifyConfig      `mapstructure:"notify"`
	Control     ControlConfig     `mapstructure:"control"`
	Schedule    ScheduleConfig    `mapstructure:"schedule"`
}

// HTTPConfig configures the outbound HTTP client.
type HTTPConfig struct {
	UserAgent        string            `mapstructure:"user_agent" validate:"required"`
	TimeoutSeconds   int               `mapstructure:"timeout_seconds" validate:"gt=0"`
	MaxAttempts      int               `mapstructure:"max_attempts" validate:"gte=1,lte=10"`
	BackoffInitialMs int               `mapstructure:"backoff_initial_ms" validate:"gte=0"`
	BackoffMaxMs     int               `mapstructure:"backoff_max_ms" validate:"gte=0"`
	IgnoreRobots     bool              `mapstructure:"ignore_robots"`
	RateLimitRPS     float64           `mapstructure:"rate_limit_rps" validate:"gte=0"`
	RateLimitBurst   int               `mapstructure:"rate_limit_burst" validate:"gte=0"`
	Headers          map[string]string `mapstructure:"headers"`
}

// SourceConfig describes the listing site being crawled.
type SourceConfig struct {
	ListingURLTemplate string   `mapstructure:"listing_url_template" validate:"required"`
	Keywords           string   `mapstructure:"keywords"`
	Location           string   `mapstructure:"location"`
	DefaultLocation    string   `mapstructure:"default_location"`
	PageSize           int      `mapstructure:"page_size" validate:"gt=0"`
	MaxPages           int      `mapstructure:"max_pages" validate:"gt=0"`
	SiteDomain         string   `mapstructure:"site_domain" validate:"required"`
	FatalURLMarkers    []string `mapstructure:"fatal_url_markers"`
}

// PacingConfig bounds the deliberate delays between outbound fetches.
type PacingConfig struct {
	PageMinMs  int `mapstructure:"page_min_ms" validate:"gte=0"`
	PageMaxMs  int `mapstructure:"page_max_ms" validate:"gte=0"`
	FollowUpMs int `mapstructure:"follow_up_ms" validate:"gte=0"`
}

// ResolverConfig tunes detail-page extraction.
type ResolverConfig struct {
	ParagraphMaxLength  int      `mapstructure:"paragraph_max_length" validate:"gte=0"`
	ApplicationKeywords []string `mapstructure:"application_keywords"`
}

// DestinationConfig describes the content API that receives records.
type DestinationConfig struct {
	BaseURL         string `mapstructure:"base_url" validate:"required,url"`
	Username        string `mapstructure:"username"`
	AppPassword     string `mapstructure:"app_password"`
	BearerToken     string `mapstructure:"bearer_token"`
	CompanyPostType string `mapstructure:"company_post_type" validate:"required"`
	JobPostType     string `mapstructure:"job_post_type" validate:"required"`
	PostStatus      string `mapstructure:"post_status" validate:"required"`
	StatusURL       string `mapstructure:"status_url" validate:"omitempty,url"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds" validate:"gt=0"`
}

// StateConfig selects where the checkpoint and processed set are persisted.
type StateConfig struct {
	Backend        string `mapstructure:"backend" validate:"oneof=file redis postgres memory"`
	Dir            string `mapstructure:"dir"`
	CheckpointFile string `mapstructure:"checkpoint_file"`
	ProcessedFile  string `mapstructure:"processed_file"`
	Name           string `mapstructure:"name" validate:"required"`
	RedisAddr      string `mapstructure:"redis_addr"`
	RedisPassword  string `mapstructure:"redis_password"`
	RedisDB        int    `mapstructure:"redis_db" validate:"gte=0"`
	PostgresDSN    string `mapstructure:"postgres_dsn"`
}

// ArchiveConfig controls raw page archiving.
type ArchiveConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Backend     string `mapstructure:"backend" validate:"oneof=local gcs"`
	Dir         string `mapstructure:"dir"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// NotifyConfig controls per-item outcome notifications.
type NotifyConfig struct {
	Backend   string `mapstructure:"backend" validate:"oneof=none pubsub memory"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ControlConfig configures the operator HTTP server.
type ControlConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port" validate:"gte=0,lte=65535"`
	APIKey  string `mapstructure:"api_key"`
}

// ScheduleConfig configures periodic runs.
type ScheduleConfig struct {
	Cron string `mapstructure:"cron"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("JOBFEED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("http.user_agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36")
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_attempts", 3)
	v.SetDefault("http.backoff_initial_ms", 1000)
	v.SetDefault("http.backoff_max_ms", 8000)
	v.SetDefault("http.ignore_robots", true)
	v.SetDefault("http.rate_limit_rps", 0)
	v.SetDefault("http.rate_limit_burst", 1)
	v.SetDefault("source.listing_url_template", "https://www.linkedin.com/jobs/search?keywords={keywords}&location={location}&start={start}")
	v.SetDefault("source.location", "France")
	v.SetDefault("source.default_location", "France")
	v.SetDefault("source.page_size", 25)
	v.SetDefault("source.max_pages", 15)
	v.SetDefault("source.site_domain", "linkedin.com")
	v.SetDefault("source.fatal_url_markers", []string{"login", "challenge"})
	v.SetDefault("pacing.page_min_ms", 5000)
	v.SetDefault("pacing.page_max_ms", 10000)
	v.SetDefault("pacing.follow_up_ms", 5000)
	v.SetDefault("resolver.paragraph_max_length", 200)
	v.SetDefault("resolver.application_keywords", []string{"apply", "careers", "jobs"})
	v.SetDefault("destination.company_post_type", "company")
	v.SetDefault("destination.job_post_type", "job_listing")
	v.SetDefault("destination.post_status", "publish")
	v.SetDefault("destination.timeout_seconds", 15)
	v.SetDefault("state.backend", "file")
	v.SetDefault("state.dir", ".")
	v.SetDefault("state.checkpoint_file", "last_page.txt")
	v.SetDefault("state.processed_file", "processed_job_ids.txt")
	v.SetDefault("state.name", "default")
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.backend", "local")
	v.SetDefault("archive.dir", "archive")
	v.SetDefault("archive.prefix", "")
	v.SetDefault("archive.content_type", "text/html; charset=utf-8")
	v.SetDefault("notify.backend", "none")
	v.SetDefault("control.enabled", false)
	v.SetDefault("control.port", 8080)
	v.SetDefault("schedule.cron", "@every 6h")

	// Keys without a useful default are registered so AutomaticEnv can fill them.
	for _, key := range []string{
		"source.keywords",
		"destination.base_url",
		"destination.username",
		"destination.app_password",
		"destination.bearer_token",
		"destination.status_url",
		"state.redis_addr",
		"state.redis_password",
		"state.postgres_dsn",
		"archive.gcs_bucket",
		"notify.project_id",
		"notify.topic",
		"control.api_key",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("state.redis_db", 0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		return strings.SplitN(field.Tag.Get("mapstructure"), ",", 2)[0]
	})
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid config: %s failed %q", fieldPath(verrs[0].Namespace()), verrs[0].Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Pacing.PageMaxMs < c.Pacing.PageMinMs {
		return fmt.Errorf("pacing.page_max_ms must be >= pacing.page_min_ms")
	}
	if c.HTTP.BackoffMaxMs < c.HTTP.BackoffInitialMs {
		return fmt.Errorf("http.backoff_max_ms must be >= http.backoff_initial_ms")
	}
	switch c.State.Backend {
	case "redis":
		if c.State.RedisAddr == "" {
			return fmt.Errorf("state.redis_addr must be set when state.backend is redis")
		}
	case "postgres":
		if c.State.PostgresDSN == "" {
			return fmt.Errorf("state.postgres_dsn must be set when state.backend is postgres")
		}
	}
	if c.Archive.Enabled && c.Archive.Backend == "gcs" && c.Archive.GCSBucket == "" {
		return fmt.Errorf("archive.gcs_bucket must be set when archive.backend is gcs")
	}
	if c.Notify.Backend == "pubsub" && (c.Notify.ProjectID == "" || c.Notify.Topic == "") {
		return fmt.Errorf("notify.project_id and notify.topic must be set when notify.backend is pubsub")
	}
	if c.Control.Enabled && c.Control.Port <= 0 {
		return fmt.Errorf("control.port must be > 0 when control is enabled")
	}
	if c.Destination.Username != "" && c.Destination.AppPassword == "" {
		return fmt.Errorf("destination.app_password must be set when destination.username is set")
	}
	return nil
}

// HTTPTimeout converts the HTTP timeout into a duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// fieldPath drops the root type from a validator namespace such as
// "Config.http.timeout_seconds".
func fieldPath(namespace string) string {
	_, rest, found := strings.Cut(namespace, ".")
	if !found {
		return namespace
	}
	return rest
}
