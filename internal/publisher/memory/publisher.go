// Package memory keeps item outcomes in memory for tests and dry runs.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/jobfeed-publisher/internal/crawl"
)

// Publisher stores notified outcomes for inspection.
type Publisher struct {
	mu       sync.RWMutex
	outcomes []crawl.Outcome
	err      error
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// FailWith makes every later Notify return err.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Notify records the outcome.
func (p *Publisher) Notify(_ context.Context, o crawl.Outcome) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.outcomes = append(p.outcomes, o)
	return nil
}

// Outcomes returns the recorded outcomes.
func (p *Publisher) Outcomes() []crawl.Outcome {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]crawl.Outcome, len(p.outcomes))
	copy(out, p.outcomes)
	return out
}
