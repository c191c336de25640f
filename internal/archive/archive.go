// Package archive keeps a copy of every job page the resolver fetched so
// that extraction can be replayed or audited later.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/kennygrant/sanitize"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobfeed-publisher/internal/hash/sha256"
	"github.com/JakeFAU/jobfeed-publisher/internal/logging"
	"github.com/JakeFAU/jobfeed-publisher/internal/storage"
)

const defaultContentType = "text/html; charset=utf-8"

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

// Archiver writes pages to a blob store under pages/<run-date>/<run-id>/.
type Archiver struct {
	store       storage.BlobStore
	clock       Clock
	runID       string
	contentType string
	logger      *zap.Logger
}

// Option customizes an Archiver.
type Option func(*Archiver)

// WithContentType overrides the stored content type.
func WithContentType(ct string) Option {
	return func(a *Archiver) {
		if strings.TrimSpace(ct) != "" {
			a.contentType = ct
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(a *Archiver) {
		a.logger = logging.OrNop(logger).Named("archive")
	}
}

// New builds an Archiver for one run.
func New(store storage.BlobStore, clock Clock, runID string, opts ...Option) (*Archiver, error) {
	if store == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	a := &Archiver{
		store:       store,
		clock:       clock,
		runID:       runID,
		contentType: defaultContentType,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Archive stores body and logs where it landed.
func (a *Archiver) Archive(ctx context.Context, pageURL string, body []byte) error {
	key := a.Path(pageURL)
	uri, err := a.store.PutObject(ctx, key, a.contentType, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("archive %s: %w", pageURL, err)
	}
	a.logger.Debug("page archived", zap.String("url", pageURL), zap.String("uri", uri), zap.Int("bytes", len(body)))
	return nil
}

// Path returns the object path used for pageURL.
func (a *Archiver) Path(pageURL string) string {
	date := a.clock.Now().Format("2006-01-02")
	name := pageName(pageURL)
	if a.runID == "" {
		return path.Join("pages", date, name)
	}
	return path.Join("pages", date, a.runID, name)
}

// pageName combines a readable host prefix with a digest of the full URL.
func pageName(pageURL string) string {
	digest := sha256.Short(pageURL, 16)
	host := ""
	if u, err := url.Parse(pageURL); err == nil {
		host = strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	}
	if host == "" {
		return digest + ".html"
	}
	return sanitize.BaseName(host) + "-" + digest + ".html"
}
