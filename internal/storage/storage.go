// Package storage defines the persistence contracts used by the crawl:
// the pagination checkpoint, the processed-identity log and the blob store
// that holds archived pages.
package storage

import (
	"context"
	"errors"
	"io"

	"github.com/JakeFAU/jobfeed-publisher/internal/identity"
)

// ErrInvalidCheckpoint is returned when a persisted checkpoint cannot be parsed.
var ErrInvalidCheckpoint = errors.New("invalid checkpoint")

// CheckpointStore persists the next results page to fetch.
type CheckpointStore interface {
	// Load returns the stored page, or 0 when nothing has been saved yet.
	Load(ctx context.Context) (int, error)
	// Save overwrites the stored page.
	Save(ctx context.Context, page int) error
}

// ProcessedLog is the durable, append-only log of published identities.
type ProcessedLog interface {
	// LoadAll returns every identity recorded so far.
	LoadAll(ctx context.Context) ([]identity.JobIdentity, error)
	// Append records one identity. Appending an existing identity is harmless.
	Append(ctx context.Context, id identity.JobIdentity) error
}

// BlobStore writes opaque objects and returns a URI describing where they landed.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// ProcessedSet is the in-memory view over a ProcessedLog. It is owned by a
// single goroutine.
type ProcessedSet struct {
	log ProcessedLog
	ids map[identity.JobIdentity]struct{}
}

// LoadProcessedSet reads the full log into memory.
func LoadProcessedSet(ctx context.Context, log ProcessedLog) (*ProcessedSet, error) {
	ids, err := log.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	set := &ProcessedSet{log: log, ids: make(map[identity.JobIdentity]struct{}, len(ids))}
	for _, id := range ids {
		set.ids[id] = struct{}{}
	}
	return set, nil
}

// Contains reports whether id has already been published.
func (s *ProcessedSet) Contains(id identity.JobIdentity) bool {
	_, ok := s.ids[id]
	return ok
}

// Add appends id to the log and the in-memory set. Identities already
// present are not written again.
func (s *ProcessedSet) Add(ctx context.Context, id identity.JobIdentity) error {
	if s.Contains(id) {
		return nil
	}
	if err := s.log.Append(ctx, id); err != nil {
		return err
	}
	s.ids[id] = struct{}{}
	return nil
}

// Len returns the number of known identities.
func (s *ProcessedSet) Len() int {
	return len(s.ids)
}
