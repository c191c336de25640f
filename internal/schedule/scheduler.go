// Package schedule runs crawls periodically on a cron spec.
package schedule

import (
	"context"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobfeed-publisher/internal/crawl"
	"github.com/JakeFAU/jobfeed-publisher/internal/logging"
)

// Runner executes one crawl.
type Runner interface {
	RunOnce(ctx context.Context) (crawl.Summary, error)
}

// Scheduler wraps robfig/cron. A tick that fires while the previous run is
// still going is skipped.
type Scheduler struct {
	cron   *cron.Cron
	spec   string
	runner Runner
	runNow bool
	logger *zap.Logger
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithRunNow also runs once immediately on Start.
func WithRunNow(v bool) Option {
	return func(s *Scheduler) {
		s.runNow = v
	}
}

// WithLogger sets the scheduler logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logging.OrNop(logger).Named("schedule")
	}
}

// New validates spec (standard five fields or a descriptor such as "@every 6h").
func New(spec string, runner Runner, opts ...Option) (*Scheduler, error) {
	spec = strings.TrimSpace(spec)
	if runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("parse cron spec %q: %w", spec, err)
	}
	s := &Scheduler{spec: spec, runner: runner, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	cl := cronLogger{l: s.logger.Sugar()}
	s.cron = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	return s, nil
}

// Start registers the crawl job and starts the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.spec, func() { s.tick(ctx) }); err != nil {
		return fmt.Errorf("cron.AddFunc: %w", err)
	}
	s.cron.Start()
	s.logger.Info("scheduler started", zap.String("spec", s.spec))
	if s.runNow {
		go s.tick(ctx)
	}
	return nil
}

// Stop halts the cron loop. The returned context is done once a running crawl returns.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("scheduler stopping")
	return s.cron.Stop()
}

// Run starts the scheduler and blocks until ctx is canceled and the active run drains.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	<-s.Stop().Done()
	return nil
}

func (s *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	sum, err := s.runner.RunOnce(ctx)
	if err != nil {
		s.logger.Error("scheduled run failed", zap.String("run_id", sum.RunID), zap.Error(err))
		return
	}
	s.logger.Info("scheduled run finished",
		zap.String("run_id", sum.RunID),
		zap.Int("succeeded", sum.Succeeded),
		zap.Int("failed", sum.Failed),
		zap.Int("skipped", sum.Skipped),
		zap.Bool("aborted", sum.Aborted),
	)
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
