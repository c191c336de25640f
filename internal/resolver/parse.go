package resolver

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/JakeFAU/jobfeed-publisher/internal/job"
	"github.com/JakeFAU/jobfeed-publisher/internal/text"
)

// jobPage is what the job page itself yields before any follow-up fetch.
type jobPage struct {
	record            job.Record
	descriptionURL    string
	droppedParagraphs []string
}

func parseJobPage(body []byte, base *url.URL, cfg Config) (jobPage, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return jobPage{}, fmt.Errorf("parse html: %w", err)
	}
	sel := cfg.Selectors

	var page jobPage
	rec := &page.record
	rec.Title = selectText(doc.Selection, sel.Title)

	company := first(doc.Selection, sel.CompanyLink)
	rec.CompanyName = collapse(company.Text())
	rec.Company.Name = rec.CompanyName
	if href, ok := company.Attr("href"); ok && strings.TrimSpace(href) != "" {
		rec.Company.ProfileURL = stripQuery(absolute(base, href))
	}
	logo := first(doc.Selection, sel.Logo)
	if src := attrOr(logo, "data-delayed-url", "src"); src != "" {
		rec.Company.LogoURL = absolute(base, src)
	}

	location := selectText(doc.Selection, sel.Location)
	if location == "" {
		location = cfg.DefaultLocation
	}
	rec.Location = text.CollapseLocation(location)
	rec.Environment = environment(doc.Selection, sel.Environment, cfg.EnvironmentMarkers)

	rec.SeniorityLevel = selectText(doc.Selection, sel.criteria(criteriaSeniority))
	rec.EmploymentType = job.CanonicalEmploymentType(selectText(doc.Selection, sel.criteria(criteriaType)))
	rec.Functions = selectText(doc.Selection, sel.criteria(criteriaFunctions))
	rec.Industries = selectText(doc.Selection, sel.criteria(criteriaIndustry))

	container := first(doc.Selection, sel.Description)
	if container.Length() > 0 {
		rec.Description, page.droppedParagraphs = description(container, cfg.ParagraphMaxLength)
		if email := text.FirstEmail(rec.Description); email != "" {
			rec.DescriptionApplicationInfo = email
		} else if link := applicationLink(container, base, cfg.ApplicationKeywords); link != "" {
			page.descriptionURL = link
			rec.DescriptionApplicationInfo = link
		}
	}

	if href, ok := first(doc.Selection, sel.ApplyButton).Attr("href"); ok {
		rec.ApplicationURL = absolute(base, strings.TrimSpace(href))
	}
	return page, nil
}

// description extracts, deduplicates and re-chunks the description block.
func description(container *goquery.Selection, maxLength int) (string, []string) {
	var raw []string
	if children := container.ChildrenFiltered("p, li"); children.Length() > 0 {
		children.Each(func(_ int, s *goquery.Selection) {
			raw = append(raw, s.Text())
		})
	} else {
		raw = text.SplitParagraphs(blockText(container))
	}

	paragraphs := make([]string, 0, len(raw))
	for _, p := range raw {
		if clean := text.Sanitize(strings.TrimSpace(p), false); clean != "" {
			paragraphs = append(paragraphs, clean)
		}
	}
	kept, dropped := text.DedupParagraphs(paragraphs)

	joined := text.StripShowMore(text.JoinChunks(kept))
	chunks, _ := text.DedupParagraphs(text.SplitIntoChunks(joined, maxLength))
	return text.JoinChunks(chunks), dropped
}

var blockElements = map[string]struct{}{
	"p": {}, "div": {}, "li": {}, "ul": {}, "ol": {}, "section": {},
	"h1": {}, "h2": {}, "h3": {}, "h4": {}, "h5": {}, "h6": {}, "blockquote": {},
}

// blockText renders a node tree as text, separating block elements with
// blank lines and turning <br> into a newline.
func blockText(s *goquery.Selection) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			return
		case html.ElementNode:
			if n.Data == "br" {
				b.WriteString("\n")
				return
			}
		}
		_, block := blockElements[n.Data]
		if block && n.Type == html.ElementNode {
			b.WriteString("\n\n")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if block && n.Type == html.ElementNode {
			b.WriteString("\n\n")
		}
	}
	for _, n := range s.Nodes {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	return b.String()
}

// applicationLink returns the first link under s whose href mentions a keyword.
func applicationLink(s *goquery.Selection, base *url.URL, keywords []string) string {
	var found string
	s.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		if containsAny(strings.ToLower(href), keywords) {
			found = absolute(base, href)
			return false
		}
		return true
	})
	return found
}

func environment(doc *goquery.Selection, selector string, markers []string) string {
	if selector == "" {
		return ""
	}
	var env string
	doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		t := collapse(s.Text())
		if containsAny(strings.ToLower(t), markers) {
			env = t
			return false
		}
		return true
	})
	return env
}

// labeledFact is one label/value row from a company page.
type labeledFact struct {
	label string
	value string
}

// lookupLabel returns the value of the first fact whose label matches,
// ignoring case and surrounding space.
func lookupLabel(facts []labeledFact, label string) (string, bool) {
	want := strings.ToLower(strings.TrimSpace(label))
	for _, f := range facts {
		if strings.ToLower(f.label) == want {
			return f.value, true
		}
	}
	return "", false
}

func collectFacts(doc *goquery.Selection, selector string) []labeledFact {
	if selector == "" {
		return nil
	}
	var facts []labeledFact
	doc.Find(selector).Each(func(_ int, row *goquery.Selection) {
		dt := row.Find("dt").First()
		if dt.Length() == 0 {
			return
		}
		facts = append(facts, labeledFact{
			label: collapse(dt.Text()),
			value: collapse(row.Find("dd").First().Text()),
		})
	})
	return facts
}

// first returns the first match of selector. Invalid or empty selectors
// match nothing.
func first(s *goquery.Selection, selector string) *goquery.Selection {
	return s.Find(selector).First()
}

func selectText(s *goquery.Selection, selector string) string {
	return collapse(first(s, selector).Text())
}

func attrOr(s *goquery.Selection, names ...string) string {
	for _, name := range names {
		if v := strings.TrimSpace(s.AttrOr(name, "")); v != "" {
			return v
		}
	}
	return ""
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func stripQuery(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		return raw[:i]
	}
	return raw
}

// absolute resolves href against base, returning href unchanged when either
// cannot be parsed.
func absolute(base *url.URL, href string) string {
	if href == "" || base == nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
