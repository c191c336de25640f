// Package crawl drives the listing pages: it resolves every item, skips what
// was already published, publishes the rest and checkpoints after each page.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/jobfeed-publisher/internal/destination"
	"github.com/JakeFAU/jobfeed-publisher/internal/httpclient"
	"github.com/JakeFAU/jobfeed-publisher/internal/job"
	"github.com/JakeFAU/jobfeed-publisher/internal/logging"
	"github.com/JakeFAU/jobfeed-publisher/internal/metrics"
	"github.com/JakeFAU/jobfeed-publisher/internal/storage"
)

// ErrFatalCrawl reports a login or challenge wall. The run aborts without retry.
var ErrFatalCrawl = errors.New("fatal crawl condition")

// Fetcher performs HTTP requests.
type Fetcher interface {
	Do(ctx context.Context, req httpclient.Request) (*httpclient.Response, error)
}

// Resolver turns an item URL into a record.
type Resolver interface {
	Resolve(ctx context.Context, listingURL string) (job.Record, error)
}

// Publisher pushes records to the destination.
type Publisher interface {
	PublishCompany(ctx context.Context, c job.CompanyProfile) (destination.RemoteID, error)
	PublishJob(ctx context.Context, r job.Record, companyID destination.RemoteID) (destination.RemoteID, error)
}

// Pacer delays listing and detail page fetches.
type Pacer interface {
	BeforePage(ctx context.Context) error
}

// Notifier receives every item outcome. Errors are logged only.
type Notifier interface {
	Notify(ctx context.Context, o Outcome) error
}

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

// Config describes one crawl.
type Config struct {
	RunID              string
	ListingURLTemplate string
	Keywords           string
	Location           string
	PageSize           int
	MaxPages           int
	ListingSelector    string
	FatalURLMarkers    []string
}

// Orchestrator runs the page and item loops. It is single-goroutine.
type Orchestrator struct {
	cfg        Config
	fetcher    Fetcher
	resolver   Resolver
	publisher  Publisher
	checkpoint storage.CheckpointStore
	processed  storage.ProcessedLog
	pacer      Pacer
	stops      []StopCondition
	notifier   Notifier
	tracker    *Tracker
	clock      Clock
	logger     *zap.Logger
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithPacer delays each listing and detail fetch.
func WithPacer(p Pacer) Option {
	return func(o *Orchestrator) {
		o.pacer = p
	}
}

// WithStopConditions adds conditions polled between pages and items.
func WithStopConditions(conds ...StopCondition) Option {
	return func(o *Orchestrator) {
		for _, c := range conds {
			if c != nil {
				o.stops = append(o.stops, c)
			}
		}
	}
}

// WithNotifier forwards item outcomes.
func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) {
		o.notifier = n
	}
}

// WithTracker exposes progress to other goroutines.
func WithTracker(t *Tracker) Option {
	return func(o *Orchestrator) {
		o.tracker = t
	}
}

// WithClock overrides the time source.
func WithClock(c Clock) Option {
	return func(o *Orchestrator) {
		o.clock = c
	}
}

// WithLogger sets the orchestrator logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logging.OrNop(logger).Named("crawl")
	}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// New builds an Orchestrator.
func New(
	cfg Config,
	fetcher Fetcher,
	resolver Resolver,
	publisher Publisher,
	checkpoint storage.CheckpointStore,
	processed storage.ProcessedLog,
	opts ...Option,
) (*Orchestrator, error) {
	switch {
	case fetcher == nil:
		return nil, fmt.Errorf("fetcher is required")
	case resolver == nil:
		return nil, fmt.Errorf("resolver is required")
	case publisher == nil:
		return nil, fmt.Errorf("publisher is required")
	case checkpoint == nil:
		return nil, fmt.Errorf("checkpoint store is required")
	case processed == nil:
		return nil, fmt.Errorf("processed log is required")
	case strings.TrimSpace(cfg.ListingURLTemplate) == "":
		return nil, fmt.Errorf("listing url template is required")
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 25
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 15
	}
	if cfg.ListingSelector == "" {
		cfg.ListingSelector = DefaultListingSelector
	}
	if cfg.FatalURLMarkers == nil {
		cfg.FatalURLMarkers = []string{"login", "challenge"}
	}
	o := &Orchestrator{
		cfg:        cfg,
		fetcher:    fetcher,
		resolver:   resolver,
		publisher:  publisher,
		checkpoint: checkpoint,
		processed:  processed,
		clock:      systemClock{},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Run crawls from the checkpoint to MaxPages. It returns a non-nil error only
// for a fatal crawl condition or checkpoint/processed-set I/O failures; the
// summary is valid in every case.
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	log := o.logger.With(zap.String("run_id", o.cfg.RunID))
	sum := Summary{RunID: o.cfg.RunID, StartedAt: o.clock.Now()}

	start, err := o.checkpoint.Load(ctx)
	if err != nil {
		return o.finish(log, sum, start, fmt.Errorf("load checkpoint: %w", err))
	}
	sum.StartPage = start
	processed, err := storage.LoadProcessedSet(ctx, o.processed)
	if err != nil {
		return o.finish(log, sum, start, fmt.Errorf("load processed set: %w", err))
	}
	log.Info("crawl started",
		zap.Int("start_page", start),
		zap.Int("max_pages", o.cfg.MaxPages),
		zap.Int("processed", processed.Len()),
	)
	o.tracker.update(true, start, sum, nil)

	// The checkpoint never moves past a listing page that failed this run.
	firstFailed := -1
	for page := start; page < o.cfg.MaxPages; page++ {
		if o.stopRequested(ctx, log, &sum) {
			break
		}
		if err := o.pace(ctx); err != nil {
			o.abort(log, &sum, err.Error())
			break
		}

		pageURL := ListingURL(o.cfg.ListingURLTemplate, o.cfg.Keywords, o.cfg.Location, page, o.cfg.PageSize)
		pageLog := log.With(zap.Int("page", page), zap.String("url", pageURL))
		items, err := o.fetchListing(ctx, pageURL)
		switch {
		case errors.Is(err, ErrFatalCrawl):
			metrics.ObservePage("fatal")
			o.abort(pageLog, &sum, err.Error())
			return o.finish(log, sum, page, err)
		case err != nil:
			if ctx.Err() != nil {
				o.abort(pageLog, &sum, ctx.Err().Error())
				return o.finish(log, sum, page, nil)
			}
			metrics.ObservePage("failed")
			sum.Failed++
			pageLog.Error("listing page failed", zap.Error(err))
			if firstFailed < 0 {
				firstFailed = page
			}
			o.tracker.update(true, page, sum, nil)
			continue
		}
		if len(items) == 0 {
			pageLog.Warn("listing page has no items")
		} else {
			pageLog.Info("listing page fetched", zap.Int("items", len(items)))
		}

		complete := true
		for _, itemURL := range items {
			if o.stopRequested(ctx, pageLog, &sum) {
				complete = false
				break
			}
			outcome, err := o.processItem(ctx, pageLog, page, itemURL, processed)
			if err != nil {
				return o.finish(log, sum, page, err)
			}
			if outcome == nil {
				// Canceled mid-resolution; the item is retried on resume.
				o.abort(pageLog, &sum, ctx.Err().Error())
				complete = false
				break
			}
			sum.record(*outcome)
			metrics.ObserveItem(string(outcome.Status))
			o.notify(ctx, pageLog, *outcome)
			o.tracker.update(true, page, sum, nil)
		}
		if !complete {
			break
		}

		next := page + 1
		if firstFailed >= 0 && firstFailed < next {
			next = firstFailed
		}
		if err := o.checkpoint.Save(ctx, next); err != nil {
			return o.finish(log, sum, page, fmt.Errorf("save checkpoint: %w", err))
		}
		metrics.SetCheckpoint(next)
		metrics.ObservePage("completed")
		sum.PagesCompleted++
		pageLog.Info("page completed", zap.Int("next_page", next))
	}
	return o.finish(log, sum, o.cfg.MaxPages, nil)
}

func (o *Orchestrator) finish(log *zap.Logger, sum Summary, page int, err error) (Summary, error) {
	sum.FinishedAt = o.clock.Now()
	o.tracker.update(false, page, sum, err)
	fields := []zap.Field{
		zap.Int("total", sum.Total),
		zap.Int("succeeded", sum.Succeeded),
		zap.Int("failed", sum.Failed),
		zap.Int("skipped", sum.Skipped),
		zap.Int("pages_completed", sum.PagesCompleted),
		zap.Bool("aborted", sum.Aborted),
	}
	if err != nil {
		log.Error("crawl ended with error", append(fields, zap.Error(err))...)
		return sum, err
	}
	log.Info("crawl finished", fields...)
	return sum, nil
}

func (o *Orchestrator) abort(log *zap.Logger, sum *Summary, reason string) {
	sum.Aborted = true
	if sum.AbortReason == "" {
		sum.AbortReason = reason
	}
	log.Warn("crawl stopping", zap.String("reason", reason))
}

func (o *Orchestrator) stopRequested(ctx context.Context, log *zap.Logger, sum *Summary) bool {
	if err := ctx.Err(); err != nil {
		o.abort(log, sum, err.Error())
		return true
	}
	for _, cond := range o.stops {
		if stop, reason := cond.ShouldStop(ctx); stop {
			if reason == "" {
				reason = "stop requested"
			}
			o.abort(log, sum, reason)
			return true
		}
	}
	return false
}

func (o *Orchestrator) pace(ctx context.Context) error {
	if o.pacer == nil {
		return nil
	}
	return o.pacer.BeforePage(ctx)
}

// fetchListing loads one results page and extracts item URLs. Landing on a
// login or challenge URL is fatal, whatever the status code.
func (o *Orchestrator) fetchListing(ctx context.Context, pageURL string) ([]string, error) {
	resp, err := o.fetcher.Do(ctx, httpclient.Request{Method: http.MethodGet, URL: pageURL})
	if err != nil {
		var netErr *httpclient.NetworkError
		if errors.As(err, &netErr) && netErr.FinalURL != "" {
			if marker, hit := hitsMarker(netErr.FinalURL, o.cfg.FatalURLMarkers); hit {
				return nil, fmt.Errorf("%w: redirected to %s (%s)", ErrFatalCrawl, netErr.FinalURL, marker)
			}
		}
		return nil, err
	}
	final := resp.FinalURL
	if final == "" {
		final = resp.URL
	}
	if marker, hit := hitsMarker(final, o.cfg.FatalURLMarkers); hit {
		return nil, fmt.Errorf("%w: redirected to %s (%s)", ErrFatalCrawl, final, marker)
	}
	return ParseListing(resp.Body, final, o.cfg.ListingSelector)
}

// processItem handles one listing item. It returns a nil outcome when ctx was
// canceled before the item finished, and an error only for processed-set
// failures.
func (o *Orchestrator) processItem(
	ctx context.Context,
	log *zap.Logger,
	page int,
	itemURL string,
	processed *storage.ProcessedSet,
) (*Outcome, error) {
	out := &Outcome{RunID: o.cfg.RunID, Page: page, URL: itemURL}
	itemLog := log.With(zap.String("item", itemURL))

	if err := o.pace(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, nil
		}
		itemLog.Warn("pacing failed", zap.Error(err))
	}
	rec, err := o.resolver.Resolve(ctx, itemURL)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil
		}
		itemLog.Error("item resolution failed", zap.Error(err))
		return o.fail(out, StatusFailed, "resolve", err), nil
	}
	out.Title = rec.Title
	out.Company = rec.CompanyName

	if err := rec.Validate(); err != nil {
		itemLog.Warn("item rejected", zap.Error(err))
		return o.fail(out, StatusInvalid, "validate", err), nil
	}
	id := rec.Identity()
	out.Identity = string(id)
	itemLog = itemLog.With(zap.String("identity", out.Identity))

	if processed.Contains(id) {
		itemLog.Info("item already processed")
		out.Status = StatusSkipped
		out.At = o.clock.Now()
		return out, nil
	}

	company := rec.Company
	if strings.TrimSpace(company.Name) == "" {
		company.Name = rec.CompanyName
	}
	companyID, err := o.publisher.PublishCompany(ctx, company)
	if err != nil && !errors.Is(err, destination.ErrAlreadyExists) {
		if ctx.Err() != nil {
			return nil, nil
		}
		itemLog.Warn("company publish failed, publishing job without company", zap.Error(err))
		companyID = 0
	}
	out.CompanyID = int64(companyID)

	jobID, err := o.publisher.PublishJob(ctx, rec, companyID)
	if err != nil && !errors.Is(err, destination.ErrAlreadyExists) {
		if ctx.Err() != nil {
			return nil, nil
		}
		itemLog.Error("job publish failed", zap.Error(err))
		return o.fail(out, StatusFailed, "publish", err), nil
	}
	out.JobID = int64(jobID)

	if err := processed.Add(ctx, id); err != nil {
		return nil, fmt.Errorf("record processed identity %s: %w", id, err)
	}
	out.Status = StatusPublished
	out.At = o.clock.Now()
	itemLog.Info("item published", zap.Int64("job_id", out.JobID), zap.Int64("company_id", out.CompanyID))
	return out, nil
}

func (o *Orchestrator) fail(out *Outcome, status Status, stage string, err error) *Outcome {
	out.Status = status
	out.Stage = stage
	out.Error = err.Error()
	out.At = o.clock.Now()
	return out
}

func (o *Orchestrator) notify(ctx context.Context, log *zap.Logger, out Outcome) {
	if o.notifier == nil {
		return
	}
	if err := o.notifier.Notify(ctx, out); err != nil {
		log.Warn("outcome notification failed", zap.Error(err))
	}
}
