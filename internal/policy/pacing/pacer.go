// Package pacing inserts deliberate delays between outbound fetches.
package pacing

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/JakeFAU/jobfeed-publisher/internal/metrics"
)

// Config bounds the pacing delays.
type Config struct {
	// PageMin and PageMax bound the jittered delay before a listing or detail fetch.
	PageMin time.Duration
	PageMax time.Duration

	// FollowUp is the fixed delay before secondary fetches (application link, company page).
	FollowUp time.Duration
}

// Pacer sleeps between fetches. A zero Pacer never sleeps.
type Pacer struct {
	cfg    Config
	sleep  func(context.Context, time.Duration) error
	jitter func(n int64) int64
}

// New creates a Pacer from cfg.
func New(cfg Config) *Pacer {
	if cfg.PageMax < cfg.PageMin {
		cfg.PageMax = cfg.PageMin
	}
	return &Pacer{cfg: cfg, sleep: Sleep, jitter: rand.Int64N}
}

// BeforePage waits a random duration in [PageMin, PageMax].
func (p *Pacer) BeforePage(ctx context.Context) error {
	if p == nil {
		return nil
	}
	d := p.cfg.PageMin
	if spread := p.cfg.PageMax - p.cfg.PageMin; spread > 0 {
		d += time.Duration(p.jitter(int64(spread) + 1))
	}
	return p.wait(ctx, d)
}

// BeforeFollowUp waits the fixed follow-up delay.
func (p *Pacer) BeforeFollowUp(ctx context.Context) error {
	if p == nil {
		return nil
	}
	return p.wait(ctx, p.cfg.FollowUp)
}

func (p *Pacer) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	metrics.ObservePacingDelay(d)
	return p.sleep(ctx, d)
}

// Sleep blocks for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("pacing interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
