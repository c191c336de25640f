package crawl

import (
	"bytes"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DefaultListingSelector matches the result cards on a search page.
const DefaultListingSelector = "#main-content > section > ul > li > div > a"

// ListingURL fills the template placeholders {keywords}, {location} and
// {start}. start is page * pageSize.
func ListingURL(template, keywords, location string, page, pageSize int) string {
	return strings.NewReplacer(
		"{keywords}", url.QueryEscape(keywords),
		"{location}", url.QueryEscape(location),
		"{start}", strconv.Itoa(page*pageSize),
		"{page}", strconv.Itoa(page),
	).Replace(template)
}

// ParseListing returns the absolute item URLs in document order.
func ParseListing(body []byte, pageURL, selector string) ([]string, error) {
	if selector == "" {
		selector = DefaultListingSelector
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse listing: %w", err)
	}
	base, _ := url.Parse(pageURL)
	var urls []string
	doc.Find(selector).Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		href = strings.TrimSpace(href)
		if !ok || href == "" {
			return
		}
		if base != nil {
			if ref, err := url.Parse(href); err == nil {
				href = base.ResolveReference(ref).String()
			}
		}
		urls = append(urls, href)
	})
	return urls, nil
}

// hitsMarker reports whether rawURL contains one of markers, case-insensitively.
func hitsMarker(rawURL string, markers []string) (string, bool) {
	lower := strings.ToLower(rawURL)
	for _, m := range markers {
		m = strings.ToLower(strings.TrimSpace(m))
		if m != "" && strings.Contains(lower, m) {
			return m, true
		}
	}
	return "", false
}
