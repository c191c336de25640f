package text

import (
	"html"
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"github.com/kennygrant/sanitize"
)

var (
	tagPattern      = regexp.MustCompile(`</?[a-zA-Z!][^>]*>`)
	emailPattern    = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	urlPattern      = regexp.MustCompile(`https?://[^\s"'<>]+`)
	showMorePattern = regexp.MustCompile(`(?im)\s*show\s+(?:more|less)\s*$`)
)

// Sanitize strips markup and collapses whitespace. Plain text also gets a
// space after periods glued to the next word ("a.b" -> "a. b"). In URL mode
// the value is only trimmed and given an https scheme when it has none.
func Sanitize(raw string, isURL bool) string {
	if isURL {
		return CoerceURL(raw)
	}
	if raw == "" {
		return ""
	}
	stripped := raw
	if tagPattern.MatchString(raw) {
		stripped = sanitize.HTML(raw)
	}
	stripped = html.UnescapeString(stripped)
	fields := strings.Fields(stripped)
	for i, field := range fields {
		fields[i] = spaceAfterPeriods(field)
	}
	return strings.Join(fields, " ")
}

// CoerceURL trims raw and prefixes https:// when no http(s) scheme is present.
func CoerceURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	lower := strings.ToLower(raw)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return raw
	}
	return "https://" + raw
}

// spaceAfterPeriods repairs concatenated sentences inside one token. Tokens
// that look like addresses or links, and decimals, are left alone.
func spaceAfterPeriods(token string) string {
	if strings.Contains(token, "@") || strings.Contains(token, "://") ||
		strings.HasPrefix(strings.ToLower(token), "www.") {
		return token
	}
	runes := []rune(token)
	var b strings.Builder
	b.Grow(len(token) + 4)
	for i, r := range runes {
		b.WriteRune(r)
		if r != '.' || i == 0 || i == len(runes)-1 {
			continue
		}
		prev, next := runes[i-1], runes[i+1]
		if !isWord(prev) || !isWord(next) {
			continue
		}
		if unicode.IsDigit(prev) && unicode.IsDigit(next) {
			continue
		}
		b.WriteRune(' ')
	}
	return b.String()
}

func isWord(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// NormalizeForDedup lowercases s and drops punctuation and whitespace.
func NormalizeForDedup(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if isWord(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// StripShowMore removes "Show more"/"Show less" toggles left at line ends,
// including several toggles sharing one line.
func StripShowMore(s string) string {
	for {
		next := showMorePattern.ReplaceAllString(s, "")
		if next == s {
			return strings.TrimSpace(s)
		}
		s = next
	}
}

// CollapseLocation trims comma-separated segments and drops repeats,
// keeping first occurrences in order.
func CollapseLocation(raw string) string {
	parts := strings.Split(raw, ",")
	seen := make(map[string]struct{}, len(parts))
	kept := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if _, dup := seen[part]; dup {
			continue
		}
		seen[part] = struct{}{}
		kept = append(kept, part)
	}
	return strings.Join(kept, ", ")
}

// FirstEmail returns the first email address in s, or "".
func FirstEmail(s string) string {
	return emailPattern.FindString(s)
}

// ExternalURLs returns absolute http(s) URLs in s whose host is not on
// excludeDomain. An empty excludeDomain keeps every URL.
func ExternalURLs(s, excludeDomain string) []string {
	matches := urlPattern.FindAllString(s, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		m = strings.TrimRight(m, ".,;:)")
		if excludeDomain != "" && OnDomain(m, excludeDomain) {
			continue
		}
		out = append(out, m)
	}
	return out
}

// OnDomain reports whether rawURL's host is domain or one of its subdomains.
// domain may carry a port, in which case the full host must match.
func OnDomain(rawURL, domain string) bool {
	domain = strings.ToLower(domain)
	if domain == "" || rawURL == "" {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return strings.Contains(strings.ToLower(rawURL), domain)
	}
	host := strings.ToLower(u.Host)
	hostname := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	return host == domain ||
		hostname == domain ||
		strings.HasSuffix(hostname, "."+domain)
}
