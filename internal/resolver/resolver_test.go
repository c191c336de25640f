package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/jobfeed-publisher/internal/httpclient"
)

const jobPageTemplate = `<html><body>
<section class="top-card-layout"><div><a href="/company/acme"><img data-delayed-url="https://media.example/logo.png"></a></div>
<h1 class="top-card-layout__title"> Backend Engineer </h1>
<a class="topcard__org-name-link" href="/company/acme?trk=public_jobs">  Acme  </a>
<span class="topcard__flavor topcard__flavor--bullet">Paris, Île-de-France, Paris</span>
<span class="topcard__flavor--metadata">2 days ago</span>
<span class="topcard__flavor--metadata">Hybrid</span>
</section>
<div class="show-more-less-html__markup">%s</div>
<ul class="description__job-criteria-list">
<li><h3>Seniority level</h3><span>Mid-Senior level</span></li>
<li><h3>Employment type</h3><span>Temps plein</span></li>
<li><h3>Job function</h3><span>Engineering</span></li>
<li><h3>Industries</h3><span>Software Development</span></li>
</ul>
<div id="teriary-cta-container"><div><a href="%s">Apply</a></div></div>
</body></html>`

const companyPageTemplate = `<html><body>
<p class="about-us__description">%s</p>
<section class="core-section-container core-section-container--with-border"><div><dl>
<div><dt>Website</dt><dd><a href="%s">website</a></dd></div>
<div><dt> Industry </dt><dd>Aerospace</dd></div>
<div><dt>Company size</dt><dd>51-200 employees</dd></div>
<div><dt>Headquarters</dt><dd>Toulouse, Occitanie</dd></div>
<div><dt>Founded</dt><dd>1999</dd></div>
</dl></div></section>
</body></html>`

type fixture struct {
	source   *httptest.Server
	external *httptest.Server
	mux      *http.ServeMux
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ext := http.NewServeMux()
	ext.HandleFunc("/go", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/home", http.StatusFound)
	})
	ext.HandleFunc("/home", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "<html>Acme home</html>")
	})
	ext.HandleFunc("/careers/1", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `<html>Questions? hr@ats.example <a href="/apply/now">Apply</a></html>`)
	})
	f := &fixture{mux: http.NewServeMux()}
	f.external = httptest.NewServer(ext)
	f.source = httptest.NewServer(f.mux)
	t.Cleanup(f.source.Close)
	t.Cleanup(f.external.Close)
	return f
}

func (f *fixture) serveJob(path, descriptionHTML, applyHref string) {
	f.mux.HandleFunc(path, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprintf(w, jobPageTemplate, descriptionHTML, applyHref)
	})
}

func (f *fixture) serveCompany(about, websiteHref string) {
	f.mux.HandleFunc("/company/acme", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprintf(w, companyPageTemplate, about, websiteHref)
	})
}

func (f *fixture) resolver(t *testing.T, opts ...Option) *Resolver {
	t.Helper()
	client := httpclient.New(httpclient.Config{
		Timeout:        2 * time.Second,
		MaxAttempts:    1,
		BackoffInitial: time.Millisecond,
		IgnoreRobots:   true,
	})
	cfg := DefaultConfig()
	cfg.SiteDomain = strings.TrimPrefix(f.source.URL, "http://")
	cfg.DefaultLocation = "France"
	return New(cfg, client, opts...)
}

func TestResolveDeduplicatesDescriptionAndPrefersDescriptionEmail(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.serveJob("/jobs/view/1",
		"<p>Great role.</p><p>Great role.</p><p>Apply now: jobs@x.com</p>",
		f.source.URL+"/apply/1")
	f.mux.HandleFunc("/apply/1", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, f.external.URL+"/careers/1", http.StatusFound)
	})
	f.serveCompany("Acme builds rockets.", "")

	rec, err := f.resolver(t).Resolve(context.Background(), f.source.URL+"/jobs/view/1")
	require.NoError(t, err)

	assert.Equal(t, "Great role.\n\nApply now: jobs@x.com", rec.Description)
	assert.Equal(t, "jobs@x.com", rec.DescriptionApplicationInfo)
	assert.Equal(t, "hr@ats.example", rec.ResolvedApplicationInfo)
	assert.Equal(t, f.external.URL+"/careers/1", rec.ResolvedApplicationURL)
	assert.Equal(t, "jobs@x.com", rec.FinalApplicationEmail)
	assert.Equal(t, "jobs@x.com", rec.ApplicationContact())

	assert.Equal(t, "Backend Engineer", rec.Title)
	assert.Equal(t, "Acme", rec.CompanyName)
	assert.Equal(t, f.source.URL+"/company/acme", rec.Company.ProfileURL)
	assert.Equal(t, "https://media.example/logo.png", rec.Company.LogoURL)
	assert.Equal(t, "Paris, Île-de-France", rec.Location)
	assert.Equal(t, "Hybrid", rec.Environment)
	assert.Equal(t, "Mid-Senior level", rec.SeniorityLevel)
	assert.Equal(t, "Full-time", rec.EmploymentType)
	assert.Equal(t, "Engineering", rec.Functions)
	assert.Equal(t, "Software Development", rec.Industries)
	assert.Equal(t, f.source.URL+"/jobs/view/1", rec.SourceURL)
}

func TestResolveUnwrapsAndFollowsCompanyWebsite(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.serveJob("/jobs/view/2", "<p>Build things.</p>", "")
	wrapped := f.source.URL + "/redir/redirect?url=" + url.QueryEscape(f.external.URL+"/go") + "&urlhash=abc"
	f.serveCompany("Acme builds rockets.", wrapped)

	rec, err := f.resolver(t).Resolve(context.Background(), f.source.URL+"/jobs/view/2")
	require.NoError(t, err)

	c := rec.Company
	assert.Equal(t, f.external.URL+"/home", c.WebsiteURL)
	assert.NotContains(t, c.WebsiteURL, f.source.URL)
	assert.Equal(t, "Acme builds rockets.", c.Details)
	assert.Equal(t, "Aerospace", c.Industry)
	assert.Equal(t, "51-200 employees", c.Size)
	assert.Equal(t, "Toulouse, Occitanie", c.Headquarters)
	assert.Equal(t, "1999", c.Founded)
	assert.Equal(t, "Toulouse, Occitanie", c.Address, "address falls back to headquarters")
	assert.Empty(t, rec.ApplicationURL)
	assert.Empty(t, rec.ApplicationContact())
}

func TestResolveDiscardsSelfReferentialWebsite(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.serveJob("/jobs/view/3", "<p>Build things.</p>", "")
	f.serveCompany("Acme builds rockets.", f.source.URL+"/company/acme/life")

	rec, err := f.resolver(t).Resolve(context.Background(), f.source.URL+"/jobs/view/3")
	require.NoError(t, err)
	assert.Empty(t, rec.Company.WebsiteURL)
}

func TestResolveFallsBackToWebsiteInAboutText(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.serveJob("/jobs/view/4", "<p>Build things.</p>", "")
	f.serveCompany("Learn more at "+f.external.URL+"/go today.", "")

	rec, err := f.resolver(t).Resolve(context.Background(), f.source.URL+"/jobs/view/4")
	require.NoError(t, err)
	assert.Equal(t, f.external.URL+"/home", rec.Company.WebsiteURL)
}

func TestResolveAbandonsWhenJobPageMissing(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.resolver(t).Resolve(context.Background(), f.source.URL+"/jobs/view/404")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAbandoned))
}

func TestResolveDescriptionFallsBackToBlockText(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.serveJob("/jobs/view/5",
		"<strong>About us</strong><br><br>We ship.<br><br>We ship!<br><br>Show more",
		"")

	rec, err := f.resolver(t).Resolve(context.Background(), f.source.URL+"/jobs/view/5")
	require.NoError(t, err)
	assert.Equal(t, "About us\n\nWe ship.", rec.Description)
}
