// Package destination publishes resolved companies and jobs to a
// WordPress-style REST content API.
package destination

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kennygrant/sanitize"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobfeed-publisher/internal/httpclient"
	"github.com/JakeFAU/jobfeed-publisher/internal/identity"
	"github.com/JakeFAU/jobfeed-publisher/internal/job"
	"github.com/JakeFAU/jobfeed-publisher/internal/logging"
	"github.com/JakeFAU/jobfeed-publisher/internal/metrics"
)

const (
	kindCompany = "company"
	kindJob     = "job"

	maxPayloadLog = 2048
)

// RemoteID is the destination's identifier for a post. Zero means "not published".
type RemoteID int64

// String formats the ID for payloads and logs.
func (id RemoteID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// Doer executes HTTP requests. *httpclient.Client satisfies it.
type Doer interface {
	Do(ctx context.Context, req httpclient.Request) (*httpclient.Response, error)
}

// Config describes the destination API.
type Config struct {
	BaseURL         string
	Username        string
	AppPassword     string
	BearerToken     string
	CompanyPostType string
	JobPostType     string
	PostStatus      string
	Timeout         time.Duration
	DefaultLocation string
}

// Publisher creates companies and jobs unless they already exist.
type Publisher struct {
	cfg    Config
	base   string
	client Doer
	auth   http.Header
	logger *zap.Logger
}

// Option customizes a Publisher.
type Option func(*Publisher)

// WithLogger sets the publisher logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Publisher) {
		p.logger = logging.OrNop(logger).Named("destination")
	}
}

// New builds a Publisher.
func New(cfg Config, client Doer, opts ...Option) (*Publisher, error) {
	if client == nil {
		return nil, fmt.Errorf("http client is required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if _, err := url.ParseRequestURI(base); err != nil || base == "" {
		return nil, fmt.Errorf("invalid destination base url %q", cfg.BaseURL)
	}
	if cfg.CompanyPostType == "" {
		cfg.CompanyPostType = "company"
	}
	if cfg.JobPostType == "" {
		cfg.JobPostType = "job_listing"
	}
	if cfg.PostStatus == "" {
		cfg.PostStatus = "publish"
	}
	p := &Publisher{
		cfg:    cfg,
		base:   base,
		client: client,
		auth:   AuthHeaders(cfg),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// AuthHeaders builds the Authorization header from cfg. Basic auth from the
// username and application password wins over a bearer token.
func AuthHeaders(cfg Config) http.Header {
	h := http.Header{}
	switch {
	case cfg.Username != "" && cfg.AppPassword != "":
		token := base64.StdEncoding.EncodeToString([]byte(cfg.Username + ":" + cfg.AppPassword))
		h.Set("Authorization", "Basic "+token)
	case cfg.BearerToken != "":
		h.Set("Authorization", "Bearer "+cfg.BearerToken)
	}
	return h
}

// PublishCompany returns the destination ID of company c, creating the post
// when no existing one matches.
func (p *Publisher) PublishCompany(ctx context.Context, c job.CompanyProfile) (RemoteID, error) {
	name := strings.TrimSpace(c.Name)
	if name == "" || job.IsPlaceholderCompany(name) {
		return 0, &RejectionError{Kind: kindCompany, Name: name, Err: errors.New("company name is empty or a placeholder")}
	}
	log := p.logger.With(zap.String("company", name))

	key := identity.CompanyKey(c.Name)
	existing, err := p.find(ctx, p.cfg.CompanyPostType, name, companyKeyField, key, name, nil)
	if err != nil {
		return p.finish(log, kindCompany, 0, searchFailed(kindCompany, name, err))
	}
	if existing != 0 {
		metrics.ObservePublish(kindCompany, "exists")
		log.Info("company already published", zap.Int64("remote_id", int64(existing)))
		return existing, nil
	}

	mediaID := p.uploadLogo(ctx, log, c.LogoURL, sanitize.BaseName(name)+"_logo.jpg")
	payload := companyPayload(c, p.cfg.PostStatus, mediaID)
	id, err := p.create(ctx, kindCompany, p.cfg.CompanyPostType, name, payload)
	return p.finish(log, kindCompany, id, err)
}

// PublishJob creates the job post for r. companyID may be zero when the
// company could not be published.
func (p *Publisher) PublishJob(ctx context.Context, r job.Record, companyID RemoteID) (RemoteID, error) {
	title := strings.TrimSpace(r.Title)
	log := p.logger.With(zap.String("job", title), zap.String("company", r.CompanyName))

	key := string(r.Identity())
	extra := map[string]string{"company_name": r.CompanyName}
	existing, err := p.find(ctx, p.cfg.JobPostType, title, jobKeyField, key, title, extra)
	if err != nil {
		return p.finish(log, kindJob, 0, searchFailed(kindJob, title, err))
	}
	if existing != 0 {
		metrics.ObservePublish(kindJob, "exists")
		log.Info("job already published", zap.Int64("remote_id", int64(existing)))
		return existing, nil
	}

	mediaID := p.uploadLogo(ctx, log, r.Company.LogoURL, sanitize.BaseName(r.CompanyName)+"_logo_job.jpg")
	payload := jobPayload(r, companyID, p.cfg.PostStatus, p.cfg.DefaultLocation, mediaID)
	id, err := p.create(ctx, kindJob, p.cfg.JobPostType, title, payload)
	return p.finish(log, kindJob, id, err)
}

func (p *Publisher) finish(log *zap.Logger, kind string, id RemoteID, err error) (RemoteID, error) {
	switch {
	case err == nil:
		metrics.ObservePublish(kind, "created")
		log.Info(kind+" published", zap.Int64("remote_id", int64(id)))
		return id, nil
	case errors.Is(err, ErrAlreadyExists):
		metrics.ObservePublish(kind, "exists")
		log.Info(kind+" already exists on destination")
		return id, err
	default:
		metrics.ObservePublish(kind, "rejected")
		log.Error(kind+" publish failed", zap.Error(err))
		return 0, err
	}
}

// searchFailed refuses to create when the pre-existence search could not
// answer, so a flaky search never produces a duplicate post.
func searchFailed(kind, name string, err error) error {
	rej := &RejectionError{Kind: kind, Name: name, Err: err}
	var netErr *httpclient.NetworkError
	if errors.As(err, &netErr) {
		rej.StatusCode = netErr.StatusCode
	}
	return rej
}

// find searches postType for term and returns the first matching post ID.
func (p *Publisher) find(
	ctx context.Context,
	postType, term, keyField, key, title string,
	extra map[string]string,
) (RemoteID, error) {
	if term == "" {
		return 0, nil
	}
	q := url.Values{}
	q.Set("search", term)
	q.Set("per_page", "20")
	q.Set("_fields", "id,title,meta")
	resp, err := p.client.Do(ctx, httpclient.Request{
		Method:  http.MethodGet,
		URL:     p.endpoint(postType) + "?" + q.Encode(),
		Headers: p.headers("application/json"),
		Timeout: p.cfg.Timeout,
	})
	if err != nil {
		return 0, fmt.Errorf("search %s: %w", postType, err)
	}
	var results []searchResult
	if err := json.Unmarshal(resp.Body, &results); err != nil {
		return 0, fmt.Errorf("decode %s search: %w", postType, err)
	}
	for _, r := range results {
		if r.ID != 0 && r.matches(keyField, key, title, extra) {
			return RemoteID(r.ID), nil
		}
	}
	return 0, nil
}

// create posts payload and interprets the destination's answer.
func (p *Publisher) create(ctx context.Context, kind, postType, name string, payload postPayload) (RemoteID, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	hdr := p.headers("application/json")
	hdr.Set("Content-Type", "application/json")
	resp, err := p.client.Do(ctx, httpclient.Request{
		Method:  http.MethodPost,
		URL:     p.endpoint(postType),
		Body:    body,
		Headers: hdr,
		Timeout: p.cfg.Timeout,
	})
	if err != nil {
		var netErr *httpclient.NetworkError
		if errors.As(err, &netErr) {
			if res, ok := decodeCreate(netErr.Body); ok && alreadyExists(res) {
				return RemoteID(res.ID), ErrAlreadyExists
			}
			return 0, &RejectionError{
				Kind:       kind,
				Name:       name,
				StatusCode: netErr.StatusCode,
				Payload:    truncate(string(netErr.Body), maxPayloadLog),
				Err:        err,
			}
		}
		return 0, &RejectionError{Kind: kind, Name: name, Err: err}
	}

	res, ok := decodeCreate(resp.Body)
	switch {
	case ok && res.ID != 0:
		return RemoteID(res.ID), nil
	case ok && alreadyExists(res):
		return 0, ErrAlreadyExists
	default:
		return 0, &RejectionError{
			Kind:       kind,
			Name:       name,
			StatusCode: resp.StatusCode,
			Payload:    truncate(string(resp.Body), maxPayloadLog),
			Err:        errors.New("response carries no post id"),
		}
	}
}

// uploadLogo copies the logo into the media library. Failures are logged and
// yield 0 so the post is created without an image.
func (p *Publisher) uploadLogo(ctx context.Context, log *zap.Logger, logoURL, filename string) int64 {
	logoURL = strings.TrimSpace(logoURL)
	if logoURL == "" {
		return 0
	}
	logo, err := p.client.Do(ctx, httpclient.Request{Method: http.MethodGet, URL: logoURL, Timeout: p.cfg.Timeout})
	if err != nil {
		metrics.ObservePublish("media", "failed")
		log.Warn("logo download failed", zap.String("logo_url", logoURL), zap.Error(err))
		return 0
	}
	contentType := logo.Headers.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}
	hdr := p.headers("application/json")
	hdr.Set("Content-Type", contentType)
	hdr.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	resp, err := p.client.Do(ctx, httpclient.Request{
		Method:  http.MethodPost,
		URL:     p.base + "/wp-json/wp/v2/media",
		Body:    logo.Body,
		Headers: hdr,
		Timeout: p.cfg.Timeout,
	})
	if err != nil {
		metrics.ObservePublish("media", "failed")
		log.Warn("logo upload failed", zap.String("logo_url", logoURL), zap.Error(err))
		return 0
	}
	var media mediaResponse
	if err := json.Unmarshal(resp.Body, &media); err != nil || media.ID == 0 {
		metrics.ObservePublish("media", "failed")
		log.Warn("logo upload returned no media id", zap.String("logo_url", logoURL))
		return 0
	}
	metrics.ObservePublish("media", "created")
	log.Debug("logo uploaded", zap.Int64("media_id", media.ID))
	return media.ID
}

func (p *Publisher) endpoint(postType string) string {
	return p.base + "/wp-json/wp/v2/" + url.PathEscape(postType)
}

func (p *Publisher) headers(accept string) http.Header {
	h := p.auth.Clone()
	h.Set("Accept", accept)
	return h
}

func decodeCreate(body []byte) (createResponse, bool) {
	var res createResponse
	if len(body) == 0 {
		return res, false
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return res, false
	}
	return res, true
}

func alreadyExists(res createResponse) bool {
	return strings.Contains(strings.ToLower(res.Message), "already exists") ||
		strings.Contains(strings.ToLower(res.Code), "exists")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
