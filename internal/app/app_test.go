// Package app_test contains end-to-end tests for the app package.
package app_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobfeed-publisher/internal/app"
	"github.com/JakeFAU/jobfeed-publisher/internal/clock/system"
	"github.com/JakeFAU/jobfeed-publisher/internal/config"
	"github.com/JakeFAU/jobfeed-publisher/internal/crawl"
	notifymemory "github.com/JakeFAU/jobfeed-publisher/internal/publisher/memory"
	"github.com/JakeFAU/jobfeed-publisher/internal/storage/memory"
)

const jobPage = `<html><body>
<section class="top-card-layout">
<h1 class="top-card-layout__title">%s</h1>
<a class="topcard__org-name-link" href="/company/acme">Acme</a>
<span class="topcard__flavor topcard__flavor--bullet">Lyon</span>
</section>
<div class="show-more-less-html__markup"><p>Build things.</p></div>
</body></html>`

const companyPage = `<html><body><p class="about-us__description">Acme builds rockets.</p></body></html>`

func newSource(t *testing.T, titles ...string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/jobs", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("start") != "0" {
			_, _ = io.WriteString(w, `<html><body><div id="main-content"></div></body></html>`)
			return
		}
		var b strings.Builder
		b.WriteString(`<html><body><div id="main-content"><section><ul>`)
		for i := range titles {
			fmt.Fprintf(&b, `<li><div><a href="/jobs/view/%d">job</a></div></li>`, i)
		}
		b.WriteString(`</ul></section></div></body></html>`)
		_, _ = io.WriteString(w, b.String())
	})
	for i, title := range titles {
		mux.HandleFunc(fmt.Sprintf("/jobs/view/%d", i), func(w http.ResponseWriter, _ *http.Request) {
			_, _ = fmt.Fprintf(w, jobPage, title)
		})
	}
	mux.HandleFunc("/company/acme", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, companyPage)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type cms struct {
	mu      sync.Mutex
	creates map[string]int
	nextID  int64
	status  string
}

func newCMS(t *testing.T, status string) (*cms, *httptest.Server) {
	t.Helper()
	c := &cms{creates: map[string]int{}, nextID: 10, status: status}
	mux := http.NewServeMux()
	mux.HandleFunc("/wp-json/fetcher/v1/get-status", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"status": c.status})
	})
	mux.HandleFunc("/wp-json/wp/v2/{type}", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			_, _ = io.WriteString(w, "[]")
			return
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		c.creates[r.PathValue("type")]++
		c.nextID++
		_ = json.NewEncoder(w).Encode(map[string]any{"id": c.nextID, "link": "https://cms.test/p"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return c, srv
}

func (c *cms) count(postType string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creates[postType]
}

func testConfig(source, dest string) config.Config {
	return config.Config{
		HTTP: config.HTTPConfig{
			UserAgent:      "jobfeed-test",
			TimeoutSeconds: 5,
			MaxAttempts:    1,
			IgnoreRobots:   true,
		},
		Source: config.SourceConfig{
			ListingURLTemplate: source + "/jobs?keywords={keywords}&start={start}",
			Keywords:           "engineer",
			DefaultLocation:    "France",
			PageSize:           25,
			MaxPages:           1,
			SiteDomain:         strings.TrimPrefix(source, "http://"),
			FatalURLMarkers:    []string{"login", "challenge"},
		},
		Destination: config.DestinationConfig{
			BaseURL:         dest,
			CompanyPostType: "company",
			JobPostType:     "job_listing",
			PostStatus:      "publish",
			TimeoutSeconds:  5,
		},
		State:  config.StateConfig{Backend: "memory", Name: "test"},
		Notify: config.NotifyConfig{Backend: "none"},
	}
}

func fixedRunIDs(ids ...string) func() (string, error) {
	var mu sync.Mutex
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		id := ids[0]
		if len(ids) > 1 {
			ids = ids[1:]
		}
		return id, nil
	}
}

func TestRunOncePublishesAndArchives(t *testing.T) {
	source := newSource(t, "Engineer", "Designer")
	dest, destSrv := newCMS(t, "running")
	notifier := notifymemory.New()
	blobs := memory.NewBlobStore()

	a, err := app.New(context.Background(), testConfig(source.URL, destSrv.URL), zap.NewNop(),
		app.WithNotifier(notifier),
		app.WithBlobStore(blobs),
		app.WithClock(system.Fixed(time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC))),
		app.WithRunIDs(fixedRunIDs("run-1", "run-2")),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	sum, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "run-1", sum.RunID)
	assert.Equal(t, 2, sum.Total)
	assert.Equal(t, 2, sum.Succeeded)
	assert.Equal(t, 1, sum.PagesCompleted)
	assert.Equal(t, 2, dest.count("job_listing"))
	assert.Equal(t, 2, dest.count("company"))

	outcomes := notifier.Outcomes()
	require.Len(t, outcomes, 2)
	for _, o := range outcomes {
		assert.Equal(t, crawl.StatusPublished, o.Status)
		assert.Equal(t, "run-1", o.RunID)
	}

	paths := blobs.Paths()
	require.NotEmpty(t, paths)
	for _, p := range paths {
		assert.True(t, strings.HasPrefix(p, "pages/2026-05-04/run-1/"), p)
	}

	snap, ok := a.Tracker().Snapshot()
	require.True(t, ok)
	assert.False(t, snap.Running)
	assert.Equal(t, "run-1", snap.Summary.RunID)

	// The checkpoint now points past the last page, so a second run has nothing to do.
	again, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "run-2", again.RunID)
	assert.Equal(t, 0, again.Total)
	assert.Equal(t, 2, dest.count("job_listing"))
}

func TestRunOnceHonorsRemoteStatus(t *testing.T) {
	source := newSource(t, "Engineer")
	dest, destSrv := newCMS(t, "stopped")
	cfg := testConfig(source.URL, destSrv.URL)
	cfg.Destination.StatusURL = destSrv.URL + "/wp-json/fetcher/v1/get-status"

	a, err := app.New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	sum, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, sum.Aborted)
	assert.Equal(t, 0, sum.Total)
	assert.Equal(t, 0, dest.count("job_listing"))
}

func TestStopBeforeRunDoesNotCarryOver(t *testing.T) {
	source := newSource(t, "Engineer")
	dest, destSrv := newCMS(t, "running")

	a, err := app.New(context.Background(), testConfig(source.URL, destSrv.URL), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	// RunOnce resets the switch, so a stop before the run does not carry over.
	a.Stop("early")
	sum, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, sum.Aborted)
	assert.Equal(t, 1, dest.count("job_listing"))
}

func TestNewWithFileState(t *testing.T) {
	source := newSource(t)
	_, destSrv := newCMS(t, "running")
	cfg := testConfig(source.URL, destSrv.URL)
	cfg.State = config.StateConfig{
		Backend:        "file",
		Dir:            t.TempDir(),
		CheckpointFile: "last_page.txt",
		ProcessedFile:  "processed_job_ids.txt",
		Name:           "test",
	}

	a, err := app.New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	require.NoError(t, a.Ready(context.Background()))

	sum, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.PagesCompleted)
}

func TestNewRejectsUnknownBackends(t *testing.T) {
	cfg := testConfig("http://source.test", "http://cms.test")

	cfg.State.Backend = "etcd"
	_, err := app.New(context.Background(), cfg, nil)
	require.ErrorContains(t, err, "unknown state backend")

	cfg.State.Backend = "memory"
	cfg.Notify.Backend = "kafka"
	_, err = app.New(context.Background(), cfg, nil)
	require.ErrorContains(t, err, "unknown notify backend")

	cfg.Notify.Backend = "none"
	cfg.Destination.BaseURL = "not a url"
	_, err = app.New(context.Background(), cfg, nil)
	require.ErrorContains(t, err, "destination")
}

func TestControlServerReportsRun(t *testing.T) {
	source := newSource(t, "Engineer")
	_, destSrv := newCMS(t, "running")

	a, err := app.New(context.Background(), testConfig(source.URL, destSrv.URL), nil,
		app.WithRunIDs(fixedRunIDs("run-ctl")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	_, err = a.RunOnce(context.Background())
	require.NoError(t, err)

	srv := a.ControlServer()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/run", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "run-ctl")

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ":0", a.ControlAddr())
}
