package httpclient

import (
	"errors"
	"net/url"
	"regexp"
	"strings"
)

var (
	quotedHostPattern = regexp.MustCompile(`host='([^']+)'`)
	lookupHostPattern = regexp.MustCompile(`lookup ([A-Za-z0-9.-]+\.[A-Za-z]{2,})`)
)

// RecoverRedirectURL extracts a redirect target's host from a failed follow of
// requestedURL and returns it as "https://host". Redirects that land on a host
// the client cannot reach still reveal where the link was heading; ok is false
// when err carries no host other than the requested one.
func RecoverRedirectURL(requestedURL string, err error) (string, bool) {
	if err == nil {
		return "", false
	}
	requestedHost := Hostname(requestedURL)
	candidates := make([]string, 0, 4)

	var netErr *NetworkError
	if errors.As(err, &netErr) && netErr.FinalURL != "" {
		if u, perr := url.Parse(netErr.FinalURL); perr == nil {
			candidates = append(candidates, strings.ToLower(u.Hostname()))
		}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if u, perr := url.Parse(urlErr.URL); perr == nil {
			candidates = append(candidates, strings.ToLower(u.Hostname()))
		}
	}
	msg := err.Error()
	if m := quotedHostPattern.FindStringSubmatch(msg); m != nil {
		candidates = append(candidates, strings.ToLower(m[1]))
	}
	if m := lookupHostPattern.FindStringSubmatch(msg); m != nil {
		candidates = append(candidates, strings.ToLower(m[1]))
	}

	for _, host := range candidates {
		if host == "" || strings.TrimPrefix(host, "www.") == requestedHost {
			continue
		}
		return "https://" + host, true
	}
	return "", false
}
