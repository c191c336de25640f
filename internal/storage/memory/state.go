package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/jobfeed-publisher/internal/identity"
)

// CheckpointStore holds the checkpoint in memory.
type CheckpointStore struct {
	mu    sync.Mutex
	page  int
	saves int
}

// NewCheckpointStore returns a store starting at page.
func NewCheckpointStore(page int) *CheckpointStore {
	return &CheckpointStore{page: page}
}

// Load returns the current page.
func (s *CheckpointStore) Load(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.page, nil
}

// Save overwrites the current page.
func (s *CheckpointStore) Save(_ context.Context, page int) error {
	if page < 0 {
		return fmt.Errorf("checkpoint page must be non-negative, got %d", page)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.page = page
	s.saves++
	return nil
}

// Saves returns how many times Save succeeded.
func (s *CheckpointStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// ProcessedLog is an append-only identity log kept in memory.
type ProcessedLog struct {
	mu  sync.Mutex
	ids []identity.JobIdentity
}

// NewProcessedLog returns a log seeded with ids.
func NewProcessedLog(ids ...identity.JobIdentity) *ProcessedLog {
	return &ProcessedLog{ids: append([]identity.JobIdentity(nil), ids...)}
}

// LoadAll returns a copy of every recorded identity.
func (l *ProcessedLog) LoadAll(context.Context) ([]identity.JobIdentity, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]identity.JobIdentity(nil), l.ids...), nil
}

// Append records id.
func (l *ProcessedLog) Append(_ context.Context, id identity.JobIdentity) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ids = append(l.ids, id)
	return nil
}
