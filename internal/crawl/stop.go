package crawl

import (
	"context"
	"sync"
)

// StopCondition is polled between pages and items. A true result ends the
// run after the current item.
type StopCondition interface {
	ShouldStop(ctx context.Context) (bool, string)
}

// StopFunc adapts a function to StopCondition.
type StopFunc func(ctx context.Context) (bool, string)

// ShouldStop implements StopCondition.
func (f StopFunc) ShouldStop(ctx context.Context) (bool, string) {
	return f(ctx)
}

// Switch is an operator-controlled stop flag. It is safe for concurrent use.
type Switch struct {
	mu      sync.Mutex
	stopped bool
	reason  string
}

// NewSwitch returns a switch in the running position.
func NewSwitch() *Switch {
	return &Switch{}
}

// Stop requests that the current run end. The first reason wins.
func (s *Switch) Stop(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	s.reason = reason
}

// Reset re-arms the switch for the next run.
func (s *Switch) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = false
	s.reason = ""
}

// ShouldStop implements StopCondition.
func (s *Switch) ShouldStop(context.Context) (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped, s.reason
}
