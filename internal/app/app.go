// Package app builds the long-lived services of a jobfeed process from
// configuration and runs crawls with them.
package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobfeed-publisher/internal/archive"
	"github.com/JakeFAU/jobfeed-publisher/internal/clock/system"
	"github.com/JakeFAU/jobfeed-publisher/internal/config"
	"github.com/JakeFAU/jobfeed-publisher/internal/control"
	"github.com/JakeFAU/jobfeed-publisher/internal/crawl"
	"github.com/JakeFAU/jobfeed-publisher/internal/destination"
	"github.com/JakeFAU/jobfeed-publisher/internal/httpclient"
	"github.com/JakeFAU/jobfeed-publisher/internal/id/uuid"
	"github.com/JakeFAU/jobfeed-publisher/internal/logging"
	"github.com/JakeFAU/jobfeed-publisher/internal/metrics"
	"github.com/JakeFAU/jobfeed-publisher/internal/policy/pacing"
	"github.com/JakeFAU/jobfeed-publisher/internal/policy/ratelimit"
	notifymemory "github.com/JakeFAU/jobfeed-publisher/internal/publisher/memory"
	notifypubsub "github.com/JakeFAU/jobfeed-publisher/internal/publisher/pubsub"
	"github.com/JakeFAU/jobfeed-publisher/internal/resolver"
	"github.com/JakeFAU/jobfeed-publisher/internal/storage"
	"github.com/JakeFAU/jobfeed-publisher/internal/storage/gcs"
	"github.com/JakeFAU/jobfeed-publisher/internal/storage/local"
	"github.com/JakeFAU/jobfeed-publisher/internal/storage/memory"
	"github.com/JakeFAU/jobfeed-publisher/internal/storage/postgres"
	"github.com/JakeFAU/jobfeed-publisher/internal/storage/redis"
)

// ErrRunInProgress is returned when a run is requested while another is active.
var ErrRunInProgress = errors.New("a crawl run is already in progress")

// App holds the services shared by every run of one process.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	client     *httpclient.Client
	pacer      *pacing.Pacer
	checkpoint storage.CheckpointStore
	processed  storage.ProcessedLog
	blobs      storage.BlobStore
	publisher  *destination.Publisher
	status     *destination.StatusChecker
	notifier   crawl.Notifier
	tracker    *crawl.Tracker
	stop       *crawl.Switch
	clock      crawl.Clock
	newRunID   func() (string, error)
	closers    []func() error

	runMu sync.Mutex
}

// Option customizes an App.
type Option func(*App)

// WithNotifier replaces the configured outcome notifier.
func WithNotifier(n crawl.Notifier) Option {
	return func(a *App) {
		a.notifier = n
	}
}

// WithBlobStore replaces the configured archive backend and enables archiving.
func WithBlobStore(s storage.BlobStore) Option {
	return func(a *App) {
		a.blobs = s
	}
}

// WithClock overrides the time source.
func WithClock(c crawl.Clock) Option {
	return func(a *App) {
		a.clock = c
	}
}

// WithRunIDs overrides run ID generation.
func WithRunIDs(fn func() (string, error)) Option {
	return func(a *App) {
		a.newRunID = fn
	}
}

// New initializes every service named by cfg and fails fast when one cannot start.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	logger = logging.OrNop(logger)
	metrics.Init()

	a := &App{
		cfg:      cfg,
		logger:   logger,
		tracker:  crawl.NewTracker(),
		stop:     crawl.NewSwitch(),
		clock:    system.New(),
		newRunID: uuid.New().NewID,
	}
	for _, opt := range opts {
		opt(a)
	}

	clientCfg := httpclient.Config{
		UserAgent:      cfg.HTTP.UserAgent,
		Timeout:        cfg.HTTPTimeout(),
		MaxAttempts:    cfg.HTTP.MaxAttempts,
		BackoffInitial: time.Duration(cfg.HTTP.BackoffInitialMs) * time.Millisecond,
		BackoffMax:     time.Duration(cfg.HTTP.BackoffMaxMs) * time.Millisecond,
		IgnoreRobots:   cfg.HTTP.IgnoreRobots,
		Headers:        cfg.HTTP.Headers,
	}
	limiter := ratelimit.New(ratelimit.Config{RPS: cfg.HTTP.RateLimitRPS, Burst: cfg.HTTP.RateLimitBurst})
	a.client = httpclient.New(clientCfg, httpclient.WithLimiter(limiter), httpclient.WithLogger(logger))

	a.pacer = pacing.New(pacing.Config{
		PageMin:  time.Duration(cfg.Pacing.PageMinMs) * time.Millisecond,
		PageMax:  time.Duration(cfg.Pacing.PageMaxMs) * time.Millisecond,
		FollowUp: time.Duration(cfg.Pacing.FollowUpMs) * time.Millisecond,
	})

	if err := a.initState(ctx); err != nil {
		a.closeQuietly()
		return nil, err
	}
	if err := a.initArchive(ctx); err != nil {
		a.closeQuietly()
		return nil, err
	}
	if err := a.initDestination(); err != nil {
		a.closeQuietly()
		return nil, err
	}
	if err := a.initNotifier(ctx); err != nil {
		a.closeQuietly()
		return nil, err
	}

	logger.Info("application services initialized",
		zap.String("state_backend", cfg.State.Backend),
		zap.Bool("archive", a.blobs != nil),
		zap.String("notify_backend", cfg.Notify.Backend),
		zap.Bool("status_check", a.status != nil),
	)
	return a, nil
}

func (a *App) initState(ctx context.Context) error {
	st := a.cfg.State
	switch st.Backend {
	case "file":
		cp, err := local.NewCheckpointStore(st.Dir, st.CheckpointFile)
		if err != nil {
			return fmt.Errorf("init checkpoint file: %w", err)
		}
		pl, err := local.NewProcessedLog(st.Dir, st.ProcessedFile)
		if err != nil {
			return fmt.Errorf("init processed file: %w", err)
		}
		a.checkpoint, a.processed = cp, pl
	case "redis":
		s, err := redis.New(ctx, redis.Config{
			Addr:     st.RedisAddr,
			Password: st.RedisPassword,
			DB:       st.RedisDB,
			Name:     st.Name,
		})
		if err != nil {
			return fmt.Errorf("init redis state: %w", err)
		}
		a.closers = append(a.closers, s.Close)
		a.checkpoint, a.processed = s, s
	case "postgres":
		s, err := postgres.NewStateStore(ctx, postgres.Config{DSN: st.PostgresDSN, Name: st.Name})
		if err != nil {
			return fmt.Errorf("init postgres state: %w", err)
		}
		a.closers = append(a.closers, func() error {
			s.Close()
			return nil
		})
		if err := s.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("init postgres schema: %w", err)
		}
		a.checkpoint, a.processed = s, s
	case "memory":
		a.checkpoint, a.processed = memory.NewCheckpointStore(0), memory.NewProcessedLog()
	default:
		return fmt.Errorf("unknown state backend: %s", st.Backend)
	}
	return nil
}

func (a *App) initArchive(ctx context.Context) error {
	if a.blobs != nil || !a.cfg.Archive.Enabled {
		return nil
	}
	ac := a.cfg.Archive
	switch ac.Backend {
	case "local":
		s, err := local.New(local.Config{BaseDir: ac.Dir})
		if err != nil {
			return fmt.Errorf("init local archive: %w", err)
		}
		a.blobs = s
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("create gcs client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		s, err := gcs.New(client, gcs.Config{Bucket: ac.GCSBucket, Prefix: ac.Prefix})
		if err != nil {
			return fmt.Errorf("init gcs archive: %w", err)
		}
		a.blobs = s
	default:
		return fmt.Errorf("unknown archive backend: %s", ac.Backend)
	}
	return nil
}

func (a *App) initDestination() error {
	dc := a.cfg.Destination
	destCfg := destination.Config{
		BaseURL:         dc.BaseURL,
		Username:        dc.Username,
		AppPassword:     dc.AppPassword,
		BearerToken:     dc.BearerToken,
		CompanyPostType: dc.CompanyPostType,
		JobPostType:     dc.JobPostType,
		PostStatus:      dc.PostStatus,
		Timeout:         time.Duration(dc.TimeoutSeconds) * time.Second,
		DefaultLocation: a.cfg.Source.DefaultLocation,
	}
	pub, err := destination.New(destCfg, a.client, destination.WithLogger(a.logger))
	if err != nil {
		return fmt.Errorf("init destination: %w", err)
	}
	a.publisher = pub
	a.status = destination.NewStatusChecker(dc.StatusURL, a.client, destination.AuthHeaders(destCfg), a.logger)
	return nil
}

func (a *App) initNotifier(ctx context.Context) error {
	if a.notifier != nil {
		return nil
	}
	nc := a.cfg.Notify
	switch nc.Backend {
	case "", "none":
	case "memory":
		a.notifier = notifymemory.New()
	case "pubsub":
		p, err := notifypubsub.Dial(ctx, nc.ProjectID, nc.Topic, a.logger)
		if err != nil {
			return fmt.Errorf("init pubsub notifier: %w", err)
		}
		a.closers = append(a.closers, p.Close)
		a.notifier = p
	default:
		return fmt.Errorf("unknown notify backend: %s", nc.Backend)
	}
	return nil
}

// RunOnce executes one crawl with a fresh run ID. Only one run may be active.
func (a *App) RunOnce(ctx context.Context) (crawl.Summary, error) {
	if !a.runMu.TryLock() {
		return crawl.Summary{}, ErrRunInProgress
	}
	defer a.runMu.Unlock()

	runID, err := a.newRunID()
	if err != nil {
		return crawl.Summary{}, fmt.Errorf("generate run id: %w", err)
	}
	a.stop.Reset()
	log := a.logger.With(zap.String("run_id", runID))

	resolverOpts := []resolver.Option{
		resolver.WithPacer(a.pacer),
		resolver.WithLogger(log),
	}
	if a.blobs != nil {
		arch, err := archive.New(a.blobs, a.clock, runID,
			archive.WithContentType(a.cfg.Archive.ContentType),
			archive.WithLogger(log),
		)
		if err != nil {
			return crawl.Summary{}, fmt.Errorf("init archive: %w", err)
		}
		resolverOpts = append(resolverOpts, resolver.WithArchiver(arch))
	}
	res := resolver.New(a.resolverConfig(), a.client, resolverOpts...)

	stops := []crawl.StopCondition{a.stop}
	if a.status != nil {
		stops = append(stops, a.status)
	}
	src := a.cfg.Source
	crawlCfg := crawl.Config{
		RunID:              runID,
		ListingURLTemplate: src.ListingURLTemplate,
		Keywords:           src.Keywords,
		Location:           src.Location,
		PageSize:           src.PageSize,
		MaxPages:           src.MaxPages,
		FatalURLMarkers:    src.FatalURLMarkers,
	}
	orch, err := crawl.New(crawlCfg, a.client, res, a.publisher, a.checkpoint, a.processed,
		crawl.WithPacer(a.pacer),
		crawl.WithStopConditions(stops...),
		crawl.WithNotifier(a.notifier),
		crawl.WithTracker(a.tracker),
		crawl.WithClock(a.clock),
		crawl.WithLogger(log),
	)
	if err != nil {
		return crawl.Summary{}, fmt.Errorf("build orchestrator: %w", err)
	}
	return orch.Run(ctx)
}

func (a *App) resolverConfig() resolver.Config {
	cfg := resolver.DefaultConfig()
	cfg.SiteDomain = a.cfg.Source.SiteDomain
	cfg.DefaultLocation = a.cfg.Source.DefaultLocation
	if a.cfg.Resolver.ParagraphMaxLength > 0 {
		cfg.ParagraphMaxLength = a.cfg.Resolver.ParagraphMaxLength
	}
	if len(a.cfg.Resolver.ApplicationKeywords) > 0 {
		cfg.ApplicationKeywords = a.cfg.Resolver.ApplicationKeywords
	}
	return cfg
}

// Stop asks the active run, if any, to abort between items.
func (a *App) Stop(reason string) {
	a.stop.Stop(reason)
}

// Tracker exposes the latest run state.
func (a *App) Tracker() *crawl.Tracker {
	return a.tracker
}

// Ready reports whether the state backend answers.
func (a *App) Ready(ctx context.Context) error {
	if _, err := a.checkpoint.Load(ctx); err != nil {
		return fmt.Errorf("state backend: %w", err)
	}
	return nil
}

// ControlServer builds the operator HTTP server over this App.
func (a *App) ControlServer() *control.Server {
	return control.NewServer(
		control.Config{APIKey: a.cfg.Control.APIKey},
		a.tracker,
		a.stop,
		control.WithReadiness(a.Ready),
		control.WithLogger(a.logger),
	)
}

// ControlAddr is the listen address of the control server.
func (a *App) ControlAddr() string {
	return ":" + strconv.Itoa(a.cfg.Control.Port)
}

// Close releases clients in reverse order of creation.
func (a *App) Close() error {
	a.logger.Info("shutting down application services")
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) closeQuietly() {
	if err := a.Close(); err != nil {
		a.logger.Warn("cleanup after failed init", zap.Error(err))
	}
}
