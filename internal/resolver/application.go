package resolver

import (
	"bytes"
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobfeed-publisher/internal/httpclient"
	"github.com/JakeFAU/jobfeed-publisher/internal/job"
	"github.com/JakeFAU/jobfeed-publisher/internal/metrics"
	"github.com/JakeFAU/jobfeed-publisher/internal/text"
)

// resolveApplication follows the apply button one hop and merges what it
// finds with the description's own contact. Follow failures are absorbed;
// only context cancellation is returned.
func (r *Resolver) resolveApplication(ctx context.Context, log *zap.Logger, rec *job.Record, page jobPage) error {
	if strings.Contains(rec.DescriptionApplicationInfo, "@") {
		rec.FinalApplicationEmail = rec.DescriptionApplicationInfo
	}
	rec.FinalApplicationURL = page.descriptionURL

	if rec.ApplicationURL == "" {
		return nil
	}
	if err := r.paceFollowUp(ctx); err != nil {
		return err
	}

	landed, body, err := r.follow(ctx, rec.ApplicationURL)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rec.FinalApplicationURL = r.applicationFallback(log, rec.ApplicationURL, page.descriptionURL, err)
		return nil
	}

	rec.ResolvedApplicationURL = landed
	rec.ResolvedApplicationInfo = applicationInfo(body, landed, r.cfg.ApplicationKeywords)
	if strings.Contains(rec.ResolvedApplicationInfo, "@") && rec.FinalApplicationEmail == "" {
		rec.FinalApplicationEmail = rec.ResolvedApplicationInfo
	}
	rec.FinalApplicationURL = mergeApplicationURL(page.descriptionURL, landed)
	log.Debug("application resolved",
		zap.String("resolved_url", landed),
		zap.String("resolved_info", rec.ResolvedApplicationInfo),
	)
	return nil
}

// mergeApplicationURL picks the final application URL. An email from the
// description always beats a followed one, but for URLs the followed value
// wins whenever the two differ. The asymmetry is kept as observed in the
// records this pipeline has already published.
func mergeApplicationURL(descriptionURL, resolvedURL string) string {
	switch {
	case descriptionURL != "" && resolvedURL != "":
		if descriptionURL == resolvedURL {
			return descriptionURL
		}
		return resolvedURL
	case resolvedURL != "":
		return resolvedURL
	default:
		return descriptionURL
	}
}

// applicationFallback chooses a URL when following the apply button failed:
// a host recovered from the error, else the description link, else the raw href.
func (r *Resolver) applicationFallback(log *zap.Logger, buttonURL, descriptionURL string, err error) string {
	if recovered, ok := httpclient.RecoverRedirectURL(buttonURL, err); ok {
		metrics.ObserveRedirectRecovery()
		log.Info("recovered application host from follow error",
			zap.String("recovered", recovered),
			zap.Error(err),
		)
		return recovered
	}
	log.Warn("follow application link failed", zap.String("apply_url", buttonURL), zap.Error(err))
	if descriptionURL != "" {
		return descriptionURL
	}
	return buttonURL
}

// applicationInfo scans a followed page for an email, else an apply link.
func applicationInfo(body []byte, pageURL string, keywords []string) string {
	if email := text.FirstEmail(string(body)); email != "" {
		return email
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	base, _ := url.Parse(pageURL)
	return applicationLink(doc.Selection, base, keywords)
}
