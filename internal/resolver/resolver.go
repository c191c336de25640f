// Package resolver turns a listing URL into a merged job record by fetching
// the job page, following its application link and enriching the company.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/jobfeed-publisher/internal/httpclient"
	"github.com/JakeFAU/jobfeed-publisher/internal/job"
	"github.com/JakeFAU/jobfeed-publisher/internal/logging"
	"github.com/JakeFAU/jobfeed-publisher/internal/text"
)

// ErrAbandoned wraps failures that prevent a listing from being resolved.
var ErrAbandoned = errors.New("listing abandoned")

// State tracks a listing through resolution.
type State int

// Resolution states. Resolved and Abandoned are terminal.
const (
	StateFetching State = iota
	StateParsed
	StateApplicationResolved
	StateCompanyEnriched
	StateResolved
	StateAbandoned
)

func (s State) String() string {
	switch s {
	case StateFetching:
		return "fetching"
	case StateParsed:
		return "parsed"
	case StateApplicationResolved:
		return "application_resolved"
	case StateCompanyEnriched:
		return "company_enriched"
	case StateResolved:
		return "resolved"
	case StateAbandoned:
		return "abandoned"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Fetcher performs HTTP requests.
type Fetcher interface {
	Do(ctx context.Context, req httpclient.Request) (*httpclient.Response, error)
}

// Pacer delays secondary fetches.
type Pacer interface {
	BeforeFollowUp(ctx context.Context) error
}

// PageArchiver stores raw job pages.
type PageArchiver interface {
	Archive(ctx context.Context, pageURL string, body []byte) error
}

// Config tunes extraction.
type Config struct {
	Selectors Selectors

	// SiteDomain is the source site's host; links on it are never taken as company websites.
	SiteDomain          string
	DefaultLocation     string
	ParagraphMaxLength  int
	ApplicationKeywords []string
	EnvironmentMarkers  []string
	RedirectWrapperPath string
	RedirectParam       string
}

// DefaultConfig returns extraction settings for the default source site.
func DefaultConfig() Config {
	return Config{
		Selectors:           DefaultSelectors(),
		SiteDomain:          "linkedin.com",
		ParagraphMaxLength:  200,
		ApplicationKeywords: []string{"apply", "careers", "jobs"},
		EnvironmentMarkers:  []string{"remote", "hybrid", "on-site"},
		RedirectWrapperPath: "/redir/redirect",
		RedirectParam:       "url",
	}
}

// Resolver resolves listing URLs into job records.
type Resolver struct {
	cfg      Config
	fetcher  Fetcher
	pacer    Pacer
	archiver PageArchiver
	logger   *zap.Logger
}

// Option customizes a Resolver.
type Option func(*Resolver)

// WithPacer sets the pacer used before follow-up fetches.
func WithPacer(p Pacer) Option {
	return func(r *Resolver) {
		r.pacer = p
	}
}

// WithArchiver stores every fetched job page.
func WithArchiver(a PageArchiver) Option {
	return func(r *Resolver) {
		r.archiver = a
	}
}

// WithLogger sets the resolver logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Resolver) {
		r.logger = logging.OrNop(logger).Named("resolver")
	}
}

// New builds a Resolver. Zero-valued config fields fall back to DefaultConfig.
func New(cfg Config, fetcher Fetcher, opts ...Option) *Resolver {
	def := DefaultConfig()
	if len(cfg.ApplicationKeywords) == 0 {
		cfg.ApplicationKeywords = def.ApplicationKeywords
	}
	if len(cfg.EnvironmentMarkers) == 0 {
		cfg.EnvironmentMarkers = def.EnvironmentMarkers
	}
	if cfg.RedirectWrapperPath == "" {
		cfg.RedirectWrapperPath = def.RedirectWrapperPath
	}
	if cfg.RedirectParam == "" {
		cfg.RedirectParam = def.RedirectParam
	}
	cfg.SiteDomain = strings.ToLower(strings.TrimPrefix(cfg.SiteDomain, "www."))

	r := &Resolver{
		cfg:     cfg,
		fetcher: fetcher,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve fetches and merges everything known about one listing. Only a
// failure to fetch or parse the job page itself abandons the listing; every
// secondary lookup degrades to empty fields.
func (r *Resolver) Resolve(ctx context.Context, listingURL string) (job.Record, error) {
	log := r.logger.With(zap.String("url", listingURL))
	r.transition(log, StateFetching)

	resp, err := r.fetcher.Do(ctx, httpclient.Request{Method: http.MethodGet, URL: listingURL})
	if err != nil {
		r.transition(log, StateAbandoned)
		return job.Record{}, fmt.Errorf("%w: fetch job page %s: %w", ErrAbandoned, listingURL, err)
	}
	r.archive(ctx, log, listingURL, resp.Body)

	page, err := parseJobPage(resp.Body, pageBase(resp), r.cfg)
	if err != nil {
		r.transition(log, StateAbandoned)
		return job.Record{}, fmt.Errorf("%w: parse job page %s: %w", ErrAbandoned, listingURL, err)
	}
	for _, p := range page.droppedParagraphs {
		log.Info("removed duplicate description paragraph", zap.String("paragraph", truncate(p, 50)))
	}
	record := page.record
	record.SourceURL = listingURL
	r.transition(log, StateParsed)

	if err := r.resolveApplication(ctx, log, &record, page); err != nil {
		r.transition(log, StateAbandoned)
		return job.Record{}, err
	}
	r.transition(log, StateApplicationResolved)

	if record.Company.ProfileURL != "" {
		if err := r.enrichCompany(ctx, log, &record.Company); err != nil {
			r.transition(log, StateAbandoned)
			return job.Record{}, err
		}
		r.transition(log, StateCompanyEnriched)
	} else {
		log.Debug("no company profile link, skipping enrichment")
	}

	r.transition(log, StateResolved)
	return record, nil
}

func (r *Resolver) transition(log *zap.Logger, s State) {
	log.Debug("resolver state", zap.Stringer("state", s))
}

func (r *Resolver) archive(ctx context.Context, log *zap.Logger, pageURL string, body []byte) {
	if r.archiver == nil {
		return
	}
	if err := r.archiver.Archive(ctx, pageURL, body); err != nil {
		log.Warn("archive job page failed", zap.Error(err))
	}
}

// paceFollowUp waits before a secondary fetch. It only fails when ctx ends.
func (r *Resolver) paceFollowUp(ctx context.Context) error {
	if r.pacer == nil {
		return nil
	}
	if err := r.pacer.BeforeFollowUp(ctx); err != nil {
		return fmt.Errorf("pace follow-up: %w", err)
	}
	return nil
}

// follow GETs rawURL and reports where it landed. A server that answered
// with an error status still counts as reached.
func (r *Resolver) follow(ctx context.Context, rawURL string) (finalURL string, body []byte, err error) {
	resp, err := r.fetcher.Do(ctx, httpclient.Request{Method: http.MethodGet, URL: rawURL})
	if err == nil {
		return finalOf(resp), resp.Body, nil
	}
	var netErr *httpclient.NetworkError
	if errors.As(err, &netErr) && netErr.StatusCode != 0 {
		landed := netErr.FinalURL
		if landed == "" {
			landed = rawURL
		}
		return landed, netErr.Body, nil
	}
	return "", nil, err
}

// onSite reports whether rawURL points at the source site. SiteDomain may
// carry a port, in which case the full host must match.
func (r *Resolver) onSite(rawURL string) bool {
	return text.OnDomain(rawURL, r.cfg.SiteDomain)
}

func finalOf(resp *httpclient.Response) string {
	if resp.FinalURL != "" {
		return resp.FinalURL
	}
	return resp.URL
}

func pageBase(resp *httpclient.Response) *url.URL {
	u, err := url.Parse(finalOf(resp))
	if err != nil {
		return nil
	}
	return u
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
