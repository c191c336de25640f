package destination

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/jobfeed-publisher/internal/httpclient"
	"github.com/JakeFAU/jobfeed-publisher/internal/logging"
)

const (
	statusRunning = "running"

	defaultStatusTimeout = 5 * time.Second
)

// StatusChecker asks the destination whether the crawl may continue. The
// remote switch lets site operators stop a run from the CMS.
type StatusChecker struct {
	url     string
	client  Doer
	auth    http.Header
	timeout time.Duration
	logger  *zap.Logger
}

// NewStatusChecker returns nil when statusURL is empty, which disables the check.
func NewStatusChecker(statusURL string, client Doer, auth http.Header, logger *zap.Logger) *StatusChecker {
	statusURL = strings.TrimSpace(statusURL)
	if statusURL == "" || client == nil {
		return nil
	}
	return &StatusChecker{
		url:     statusURL,
		client:  client,
		auth:    auth.Clone(),
		timeout: defaultStatusTimeout,
		logger:  logging.OrNop(logger).Named("status"),
	}
}

// ShouldStop reports true unless the endpoint answers {"status":"running"}.
// Errors count as stopped.
func (s *StatusChecker) ShouldStop(ctx context.Context) (bool, string) {
	if s == nil {
		return false, ""
	}
	hdr := s.auth.Clone()
	if hdr == nil {
		hdr = http.Header{}
	}
	hdr.Set("Accept", "application/json")
	resp, err := s.client.Do(ctx, httpclient.Request{
		Method:  http.MethodGet,
		URL:     s.url,
		Headers: hdr,
		Timeout: s.timeout,
	})
	if err != nil {
		s.logger.Error("status check failed", zap.Error(err))
		return true, "status check failed"
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		s.logger.Error("status response is not json", zap.Error(err))
		return true, "status response unreadable"
	}
	status := strings.ToLower(strings.TrimSpace(body.Status))
	s.logger.Debug("status checked", zap.String("status", status))
	if status != statusRunning {
		if status == "" {
			status = "stopped"
		}
		return true, "remote status " + status
	}
	return false, ""
}
