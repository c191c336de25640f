package crawl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/jobfeed-publisher/internal/destination"
	"github.com/JakeFAU/jobfeed-publisher/internal/httpclient"
	"github.com/JakeFAU/jobfeed-publisher/internal/identity"
	"github.com/JakeFAU/jobfeed-publisher/internal/job"
	"github.com/JakeFAU/jobfeed-publisher/internal/storage/memory"
)

const testTemplate = "https://source.test/jobs?keywords={keywords}&location={location}&start={start}"

type listingPage struct {
	items    []string
	finalURL string
	err      error
}

type fakeFetcher struct {
	pages map[int]listingPage
	calls []string
}

func (f *fakeFetcher) Do(_ context.Context, req httpclient.Request) (*httpclient.Response, error) {
	f.calls = append(f.calls, req.URL)
	var start int
	if i := strings.Index(req.URL, "start="); i >= 0 {
		_, _ = fmt.Sscanf(req.URL[i:], "start=%d", &start)
	}
	page, ok := f.pages[start/25]
	if !ok {
		return &httpclient.Response{URL: req.URL, StatusCode: 200, Body: []byte("<html></html>")}, nil
	}
	if page.err != nil {
		return nil, page.err
	}
	var b strings.Builder
	b.WriteString(`<html><body><div id="main-content"><section><ul>`)
	for _, item := range page.items {
		fmt.Fprintf(&b, `<li><div><a href="%s">job</a></div></li>`, item)
	}
	b.WriteString(`</ul></section></div></body></html>`)
	return &httpclient.Response{URL: req.URL, FinalURL: page.finalURL, StatusCode: 200, Body: []byte(b.String())}, nil
}

type fakeResolver struct {
	records map[string]job.Record
	errs    map[string]error
	calls   []string
}

func (f *fakeResolver) Resolve(_ context.Context, u string) (job.Record, error) {
	f.calls = append(f.calls, u)
	if err, ok := f.errs[u]; ok {
		return job.Record{}, err
	}
	rec, ok := f.records[u]
	if !ok {
		return job.Record{}, fmt.Errorf("no record for %s", u)
	}
	return rec, nil
}

type fakePublisher struct {
	companies  []string
	jobs       []string
	jobIDs     []destination.RemoteID
	companyErr error
	jobErr     map[string]error
	next       destination.RemoteID
}

func (f *fakePublisher) PublishCompany(_ context.Context, c job.CompanyProfile) (destination.RemoteID, error) {
	f.companies = append(f.companies, c.Name)
	if f.companyErr != nil {
		return 0, f.companyErr
	}
	f.next++
	return f.next, nil
}

func (f *fakePublisher) PublishJob(_ context.Context, r job.Record, companyID destination.RemoteID) (destination.RemoteID, error) {
	f.jobs = append(f.jobs, r.Title)
	f.jobIDs = append(f.jobIDs, companyID)
	if err := f.jobErr[r.Title]; err != nil {
		return 0, err
	}
	f.next++
	return f.next, nil
}

type recordingNotifier struct {
	outcomes []Outcome
}

func (n *recordingNotifier) Notify(_ context.Context, o Outcome) error {
	n.outcomes = append(n.outcomes, o)
	return errors.New("topic unavailable")
}

type harness struct {
	fetcher    *fakeFetcher
	resolver   *fakeResolver
	publisher  *fakePublisher
	checkpoint *memory.CheckpointStore
	processed  *memory.ProcessedLog
}

func newHarness(startPage int, seeded ...identity.JobIdentity) *harness {
	return &harness{
		fetcher:    &fakeFetcher{pages: map[int]listingPage{}},
		resolver:   &fakeResolver{records: map[string]job.Record{}, errs: map[string]error{}},
		publisher:  &fakePublisher{jobErr: map[string]error{}},
		checkpoint: memory.NewCheckpointStore(startPage),
		processed:  memory.NewProcessedLog(seeded...),
	}
}

func (h *harness) item(u, title, company string) {
	h.resolver.records[u] = job.Record{Title: title, CompanyName: company, SourceURL: u}
}

func (h *harness) orchestrator(t *testing.T, maxPages int, opts ...Option) *Orchestrator {
	t.Helper()
	o, err := New(Config{
		RunID:              "run-1",
		ListingURLTemplate: testTemplate,
		Keywords:           "data engineer",
		Location:           "France",
		MaxPages:           maxPages,
	}, h.fetcher, h.resolver, h.publisher, h.checkpoint, h.processed, opts...)
	require.NoError(t, err)
	return o
}

func (h *harness) processedIDs(t *testing.T) []identity.JobIdentity {
	t.Helper()
	ids, err := h.processed.LoadAll(context.Background())
	require.NoError(t, err)
	return ids
}

func TestRunPublishesAndCheckpointsEveryPage(t *testing.T) {
	t.Parallel()

	h := newHarness(0)
	h.fetcher.pages[0] = listingPage{items: []string{"/jobs/view/1", "/jobs/view/2"}}
	h.fetcher.pages[1] = listingPage{items: []string{"/jobs/view/3"}}
	h.item("https://source.test/jobs/view/1", "Engineer", "Acme")
	h.item("https://source.test/jobs/view/2", "Designer", "Acme")
	h.item("https://source.test/jobs/view/3", "Analyst", "Globex")

	sum, err := h.orchestrator(t, 2).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, sum.Total)
	assert.Equal(t, 3, sum.Succeeded)
	assert.Zero(t, sum.Failed)
	assert.Equal(t, 2, sum.PagesCompleted)
	assert.False(t, sum.Aborted)
	assert.Equal(t, "run-1", sum.RunID)
	assert.Len(t, sum.Outcomes, 3)

	page, _ := h.checkpoint.Load(context.Background())
	assert.Equal(t, 2, page)
	assert.Equal(t, 2, h.checkpoint.Saves())
	assert.Len(t, h.processedIDs(t), 3)
	assert.Contains(t, h.fetcher.calls[0], "keywords=data+engineer&location=France&start=0")
	assert.Contains(t, h.fetcher.calls[1], "start=25")
}

func TestRunSkipsDuplicateIdentity(t *testing.T) {
	t.Parallel()

	h := newHarness(0)
	h.fetcher.pages[0] = listingPage{items: []string{"/a", "/b"}}
	h.resolver.records["https://source.test/a"] = job.Record{Title: "Engineer", CompanyName: "Acme", Description: "first"}
	h.resolver.records["https://source.test/b"] = job.Record{Title: "Engineer", CompanyName: "Acme", Description: "second"}

	sum, err := h.orchestrator(t, 1).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, sum.Total)
	assert.Equal(t, 1, sum.Succeeded)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, []string{"Engineer"}, h.publisher.jobs, "second listing is never published")
	assert.Equal(t, StatusSkipped, sum.Outcomes[1].Status)
	assert.Equal(t, sum.Outcomes[0].Identity, sum.Outcomes[1].Identity)
	assert.Equal(t, []identity.JobIdentity{identity.Of("Engineer", "Acme")}, h.processedIDs(t))
}

func TestRunAbortsOnLoginWall(t *testing.T) {
	t.Parallel()

	h := newHarness(3)
	h.fetcher.pages[3] = listingPage{items: []string{"/a"}, finalURL: "https://source.test/authwall/login?session_redirect=x"}
	h.item("https://source.test/a", "Engineer", "Acme")

	sum, err := h.orchestrator(t, 15).Run(context.Background())
	require.ErrorIs(t, err, ErrFatalCrawl)
	assert.True(t, sum.Aborted)
	assert.Empty(t, h.resolver.calls)
	assert.Empty(t, h.publisher.jobs)

	page, _ := h.checkpoint.Load(context.Background())
	assert.Equal(t, 3, page, "checkpoint stays on the walled page")
	assert.Zero(t, h.checkpoint.Saves())
}

func TestRunAbortsOnChallengeStatusError(t *testing.T) {
	t.Parallel()

	h := newHarness(0)
	h.fetcher.pages[0] = listingPage{err: &httpclient.NetworkError{
		Method:     "GET",
		URL:        "https://source.test/jobs",
		FinalURL:   "https://source.test/checkpoint/challenge",
		StatusCode: 403,
		Attempts:   1,
	}}

	_, err := h.orchestrator(t, 2).Run(context.Background())
	require.ErrorIs(t, err, ErrFatalCrawl)
}

func TestRunCountsListingFailureAndContinues(t *testing.T) {
	t.Parallel()

	h := newHarness(0)
	h.fetcher.pages[0] = listingPage{err: errors.New("connection reset")}
	h.fetcher.pages[1] = listingPage{items: []string{"/a"}}
	h.item("https://source.test/a", "Engineer", "Acme")

	sum, err := h.orchestrator(t, 2).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 1, sum.Succeeded)
	assert.Equal(t, 1, sum.PagesCompleted)
	assert.Equal(t, 1, h.checkpoint.Saves(), "failed page does not save a checkpoint")
}

func TestRunNeverCheckpointsPastFailedListing(t *testing.T) {
	t.Parallel()

	h := newHarness(0)
	h.fetcher.pages[0] = listingPage{err: errors.New("connection reset")}
	h.fetcher.pages[1] = listingPage{items: []string{"/b"}}
	h.fetcher.pages[2] = listingPage{items: []string{"/c"}}
	h.item("https://source.test/a", "Engineer", "Acme")
	h.item("https://source.test/b", "Designer", "Acme")
	h.item("https://source.test/c", "Analyst", "Acme")

	sum, err := h.orchestrator(t, 3).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.PagesCompleted)
	next, err := h.checkpoint.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, next, "checkpoint stays on the failed page")

	h.fetcher.pages[0] = listingPage{items: []string{"/a"}}
	sum, err = h.orchestrator(t, 3).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, sum.StartPage)
	assert.Equal(t, 1, sum.Succeeded)
	assert.Equal(t, 2, sum.Skipped)
	assert.Equal(t, []string{"Designer", "Analyst", "Engineer"}, h.publisher.jobs)
	next, err = h.checkpoint.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, next)
}

type countingPacer struct{ n int }

func (p *countingPacer) BeforePage(context.Context) error {
	p.n++
	return nil
}

func TestRunPacesListingAndDetailFetches(t *testing.T) {
	t.Parallel()

	h := newHarness(0)
	h.fetcher.pages[0] = listingPage{items: []string{"/a", "/b"}}
	h.item("https://source.test/a", "Engineer", "Acme")
	h.item("https://source.test/b", "Designer", "Acme")
	pacer := &countingPacer{}

	sum, err := h.orchestrator(t, 1, WithPacer(pacer)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Succeeded)
	assert.Equal(t, 3, pacer.n, "one listing fetch and two detail fetches")
}

func TestRunItemFailuresDoNotStopThePage(t *testing.T) {
	t.Parallel()

	h := newHarness(0)
	h.fetcher.pages[0] = listingPage{items: []string{"/gone", "/hidden", "/reject", "/ok"}}
	h.resolver.errs["https://source.test/gone"] = errors.New("status 404")
	h.item("https://source.test/hidden", "Engineer", "Unknown")
	h.item("https://source.test/reject", "Designer", "Acme")
	h.item("https://source.test/ok", "Analyst", "Acme")
	h.publisher.jobErr["Designer"] = &destination.RejectionError{Kind: "job", Name: "Designer", StatusCode: 400}

	sum, err := h.orchestrator(t, 1).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, sum.Total)
	assert.Equal(t, 3, sum.Failed)
	assert.Equal(t, 1, sum.Succeeded)

	statuses := []Status{}
	stages := []string{}
	for _, o := range sum.Outcomes {
		statuses = append(statuses, o.Status)
		stages = append(stages, o.Stage)
	}
	assert.Equal(t, []Status{StatusFailed, StatusInvalid, StatusFailed, StatusPublished}, statuses)
	assert.Equal(t, []string{"resolve", "validate", "publish", ""}, stages)
	assert.Equal(t, []identity.JobIdentity{identity.Of("Analyst", "Acme")}, h.processedIDs(t), "rejected job is not recorded")
}

func TestRunPublishesJobWhenCompanyFails(t *testing.T) {
	t.Parallel()

	h := newHarness(0)
	h.fetcher.pages[0] = listingPage{items: []string{"/a"}}
	h.item("https://source.test/a", "Engineer", "Acme")
	h.publisher.companyErr = errors.New("media library full")

	sum, err := h.orchestrator(t, 1).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Succeeded)
	assert.Equal(t, []destination.RemoteID{0}, h.publisher.jobIDs)
	assert.Equal(t, []string{"Acme"}, h.publisher.companies, "company name falls back to the record")
}

func TestRunTreatsAlreadyExistsAsSuccess(t *testing.T) {
	t.Parallel()

	h := newHarness(0)
	h.fetcher.pages[0] = listingPage{items: []string{"/a"}}
	h.item("https://source.test/a", "Engineer", "Acme")
	h.publisher.jobErr["Engineer"] = fmt.Errorf("create: %w", destination.ErrAlreadyExists)

	sum, err := h.orchestrator(t, 1).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Succeeded)
	assert.Len(t, h.processedIDs(t), 1)
}

func TestResumeNeverRepublishesAndNeverSkipsNew(t *testing.T) {
	t.Parallel()

	published := identity.Of("Engineer", "Acme")
	h := newHarness(2, published)
	h.fetcher.pages[0] = listingPage{items: []string{"/old"}}
	h.fetcher.pages[2] = listingPage{items: []string{"/again", "/new"}}
	h.item("https://source.test/old", "Old", "Acme")
	h.item("https://source.test/again", "Engineer", "Acme")
	h.item("https://source.test/new", "Designer", "Acme")

	sum, err := h.orchestrator(t, 3).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Designer"}, h.publisher.jobs)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, 1, sum.Succeeded)
	assert.Equal(t, 2, sum.StartPage)
	assert.NotContains(t, h.resolver.calls, "https://source.test/old", "pages before the checkpoint are not fetched")
	assert.Equal(t, []identity.JobIdentity{published, identity.Of("Designer", "Acme")}, h.processedIDs(t))
}

func TestRunStopsBetweenItems(t *testing.T) {
	t.Parallel()

	h := newHarness(0)
	h.fetcher.pages[0] = listingPage{items: []string{"/a", "/b"}}
	h.item("https://source.test/a", "Engineer", "Acme")
	h.item("https://source.test/b", "Designer", "Acme")

	sw := NewSwitch()
	notifier := &recordingNotifier{}
	stopAfterFirst := StopFunc(func(context.Context) (bool, string) {
		if len(h.publisher.jobs) == 1 {
			sw.Stop("operator abort")
		}
		return false, ""
	})
	tracker := NewTracker()

	sum, err := h.orchestrator(t, 3,
		WithStopConditions(stopAfterFirst, sw),
		WithNotifier(notifier),
		WithTracker(tracker),
	).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, sum.Aborted)
	assert.Equal(t, "operator abort", sum.AbortReason)
	assert.Equal(t, 1, sum.Succeeded)
	assert.Zero(t, h.checkpoint.Saves(), "a partially processed page is not checkpointed")
	assert.Len(t, notifier.outcomes, 1, "notification errors are not fatal")

	snap, ok := tracker.Snapshot()
	require.True(t, ok)
	assert.False(t, snap.Running)
	assert.Equal(t, 1, snap.Summary.Succeeded)
}

func TestRunHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	h := newHarness(0)
	h.fetcher.pages[0] = listingPage{items: []string{"/a"}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sum, err := h.orchestrator(t, 2).Run(ctx)
	require.NoError(t, err)
	assert.True(t, sum.Aborted)
	assert.Empty(t, h.fetcher.calls)
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	h := newHarness(0)
	_, err := New(Config{ListingURLTemplate: testTemplate}, nil, h.resolver, h.publisher, h.checkpoint, h.processed)
	require.Error(t, err)
	_, err = New(Config{}, h.fetcher, h.resolver, h.publisher, h.checkpoint, h.processed)
	require.Error(t, err)
}

type fixedClock time.Time

func (c fixedClock) Now() time.Time { return time.Time(c) }

func TestOutcomesAreStamped(t *testing.T) {
	t.Parallel()

	h := newHarness(0)
	h.fetcher.pages[0] = listingPage{items: []string{"/a"}}
	h.item("https://source.test/a", "Engineer", "Acme")
	at := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

	sum, err := h.orchestrator(t, 1, WithClock(fixedClock(at))).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, sum.Outcomes, 1)
	out := sum.Outcomes[0]
	assert.Equal(t, at, out.At)
	assert.Equal(t, "run-1", out.RunID)
	assert.Equal(t, string(identity.Of("Engineer", "Acme")), out.Identity)
	assert.NotZero(t, out.JobID)
	assert.NotZero(t, out.CompanyID)
	assert.Equal(t, at, sum.StartedAt)
}
