package resolver

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobfeed-publisher/internal/httpclient"
	"github.com/JakeFAU/jobfeed-publisher/internal/job"
	"github.com/JakeFAU/jobfeed-publisher/internal/metrics"
	"github.com/JakeFAU/jobfeed-publisher/internal/text"
)

// enrichCompany fills profile fields from the company page. Any fetch failure
// leaves the fields empty; only context cancellation is returned.
func (r *Resolver) enrichCompany(ctx context.Context, log *zap.Logger, company *job.CompanyProfile) error {
	log = log.With(zap.String("company_url", company.ProfileURL))
	if err := r.paceFollowUp(ctx); err != nil {
		return err
	}
	resp, err := r.fetcher.Do(ctx, httpclient.Request{Method: http.MethodGet, URL: company.ProfileURL})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("fetch company page failed", zap.Error(err))
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		log.Warn("parse company page failed", zap.Error(err))
		return nil
	}
	sel := r.cfg.Selectors
	base := pageBase(resp)

	for _, selector := range sel.CompanyAbout {
		if details := strings.TrimSpace(first(doc.Selection, selector).Text()); details != "" {
			company.Details = details
			break
		}
	}

	website, err := r.companyWebsite(ctx, log, doc.Selection, base, company.Details)
	if err != nil {
		return err
	}
	company.WebsiteURL = website

	facts := collectFacts(doc.Selection, sel.CompanyFacts)
	company.Industry, _ = lookupLabel(facts, "Industry")
	company.Size, _ = lookupLabel(facts, "Company size")
	company.Headquarters, _ = lookupLabel(facts, "Headquarters")
	company.Type, _ = lookupLabel(facts, "Type")
	company.Founded, _ = lookupLabel(facts, "Founded")
	company.Specialties, _ = lookupLabel(facts, "Specialties")

	company.Address = selectText(doc.Selection, sel.CompanyAddress)
	if company.Address == "" {
		company.Address = company.Headquarters
	}
	return nil
}

// companyWebsite resolves the company's own site. The explicit website field
// is unwrapped and followed one hop; without one, the first external URL in
// the about text is followed instead. Links on the source site are discarded.
func (r *Resolver) companyWebsite(
	ctx context.Context,
	log *zap.Logger,
	doc *goquery.Selection,
	base *url.URL,
	about string,
) (string, error) {
	candidate := ""
	if href, ok := first(doc, r.cfg.Selectors.CompanyWebsite).Attr("href"); ok {
		candidate = r.unwrapRedirect(log, absolute(base, strings.TrimSpace(href)))
	}

	var (
		website string
		err     error
	)
	if candidate != "" && !r.onSite(candidate) {
		website, err = r.resolveWebsite(ctx, log, candidate, true)
	} else if urls := text.ExternalURLs(about, r.cfg.SiteDomain); len(urls) > 0 {
		log.Debug("using website from about text", zap.String("candidate", urls[0]))
		website, err = r.resolveWebsite(ctx, log, urls[0], false)
	}
	if err != nil {
		return "", err
	}

	if r.onSite(website) {
		log.Info("discarding source-site link as company website", zap.String("website", website))
		return "", nil
	}
	return website, nil
}

// resolveWebsite follows candidate one hop. With allowRecover, a host named in
// a connection error still counts; otherwise failures yield "".
func (r *Resolver) resolveWebsite(ctx context.Context, log *zap.Logger, candidate string, allowRecover bool) (string, error) {
	if err := r.paceFollowUp(ctx); err != nil {
		return "", err
	}
	landed, _, err := r.follow(ctx, candidate)
	if err == nil {
		return landed, nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if allowRecover {
		if recovered, ok := httpclient.RecoverRedirectURL(candidate, err); ok {
			metrics.ObserveRedirectRecovery()
			log.Info("recovered company website host from follow error", zap.String("recovered", recovered))
			return recovered, nil
		}
	}
	log.Warn("resolve company website failed", zap.String("website", candidate), zap.Error(err))
	return "", nil
}

// unwrapRedirect returns the target embedded in a source-site redirect
// wrapper, or raw unchanged.
func (r *Resolver) unwrapRedirect(log *zap.Logger, raw string) string {
	if raw == "" || !r.onSite(raw) {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil || !strings.Contains(u.Path, r.cfg.RedirectWrapperPath) {
		return raw
	}
	target := strings.TrimSpace(u.Query().Get(r.cfg.RedirectParam))
	if target == "" {
		log.Warn("redirect wrapper without target parameter", zap.String("website", raw))
		return raw
	}
	return target
}
