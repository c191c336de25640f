package crawl

import (
	"sync"
	"time"
)

// Status is the result class of one listing item.
type Status string

// Item statuses.
const (
	StatusPublished Status = "published"
	StatusSkipped   Status = "skipped"
	StatusInvalid   Status = "invalid"
	StatusFailed    Status = "failed"
)

// Outcome records what happened to one listing item.
type Outcome struct {
	RunID     string    `json:"run_id"`
	Page      int       `json:"page"`
	URL       string    `json:"url"`
	Identity  string    `json:"identity,omitempty"`
	Title     string    `json:"title,omitempty"`
	Company   string    `json:"company,omitempty"`
	Status    Status    `json:"status"`
	Stage     string    `json:"stage,omitempty"`
	CompanyID int64     `json:"company_id,omitempty"`
	JobID     int64     `json:"job_id,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// Summary is the run-end report. Failed also counts listing pages that could
// not be fetched, so Succeeded+Skipped+Failed may exceed Total.
type Summary struct {
	RunID          string    `json:"run_id"`
	StartPage      int       `json:"start_page"`
	Total          int       `json:"total"`
	Succeeded      int       `json:"succeeded"`
	Failed         int       `json:"failed"`
	Skipped        int       `json:"skipped"`
	PagesCompleted int       `json:"pages_completed"`
	Aborted        bool      `json:"aborted"`
	AbortReason    string    `json:"abort_reason,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	Outcomes       []Outcome `json:"outcomes,omitempty"`
}

func (s *Summary) record(o Outcome) {
	s.Outcomes = append(s.Outcomes, o)
	switch o.Status {
	case StatusPublished:
		s.Total++
		s.Succeeded++
	case StatusSkipped:
		s.Total++
		s.Skipped++
	default:
		s.Total++
		s.Failed++
	}
}

// Snapshot is the externally visible state of the latest run.
type Snapshot struct {
	Running bool    `json:"running"`
	Page    int     `json:"page"`
	Summary Summary `json:"summary"`
	Error   string  `json:"error,omitempty"`
}

// Tracker publishes run progress to readers on other goroutines.
type Tracker struct {
	mu      sync.RWMutex
	current Snapshot
	has     bool
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Snapshot returns a copy of the latest state and whether any run was seen.
func (t *Tracker) Snapshot() (Snapshot, bool) {
	if t == nil {
		return Snapshot{}, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	snap := t.current
	snap.Summary.Outcomes = append([]Outcome(nil), t.current.Summary.Outcomes...)
	return snap, t.has
}

func (t *Tracker) update(running bool, page int, s Summary, err error) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	s.Outcomes = append([]Outcome(nil), s.Outcomes...)
	t.current = Snapshot{Running: running, Page: page, Summary: s}
	if err != nil {
		t.current.Error = err.Error()
	}
	t.has = true
}
