package destination

import (
	"html"
	"strings"

	"github.com/JakeFAU/jobfeed-publisher/internal/identity"
	"github.com/JakeFAU/jobfeed-publisher/internal/job"
	"github.com/JakeFAU/jobfeed-publisher/internal/text"
)

// Meta keys that identify an entity on the destination side.
const (
	companyKeyField = "company_id"
	jobKeyField     = "job_id"
)

type postPayload struct {
	Title         string         `json:"title"`
	Content       string         `json:"content"`
	Status        string         `json:"status"`
	FeaturedMedia int64          `json:"featured_media,omitempty"`
	Meta          map[string]any `json:"meta"`
}

type createResponse struct {
	ID      int64  `json:"id"`
	Link    string `json:"link"`
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

type mediaResponse struct {
	ID int64 `json:"id"`
}

type searchResult struct {
	ID    int64 `json:"id"`
	Title struct {
		Rendered string `json:"rendered"`
	} `json:"title"`
	Meta map[string]any `json:"meta"`
}

func companyPayload(c job.CompanyProfile, status string, mediaID int64) postPayload {
	name := text.Sanitize(c.Name, false)
	details := sanitizeParagraphs(c.Details)
	return postPayload{
		Title:         name,
		Content:       details,
		Status:        status,
		FeaturedMedia: mediaID,
		Meta: map[string]any{
			companyKeyField:    identity.CompanyKey(c.Name),
			"company_name":     name,
			"company_details":  details,
			"company_website":  text.Sanitize(c.WebsiteURL, true),
			"company_industry": text.Sanitize(c.Industry, false),
			"company_founded":  text.Sanitize(c.Founded, false),
			"company_type":     text.Sanitize(c.Type, false),
			"company_address":  text.Sanitize(c.Address, false),
		},
	}
}

func jobPayload(r job.Record, companyID RemoteID, status, defaultLocation string, mediaID int64) postPayload {
	title := text.Sanitize(r.Title, false)
	description := sanitizeParagraphs(r.Description)
	location := r.Location
	if strings.TrimSpace(location) == "" {
		location = defaultLocation
	}
	contact := r.ApplicationContact()
	company := ""
	if companyID != 0 {
		company = companyID.String()
	}
	logo := ""
	if mediaID != 0 {
		logo = RemoteID(mediaID).String()
	}
	address := r.Company.Address
	if address == "" {
		address = r.Company.Headquarters
	}
	return postPayload{
		Title:         title,
		Content:       description,
		Status:        status,
		FeaturedMedia: mediaID,
		Meta: map[string]any{
			jobKeyField:        string(r.Identity()),
			"job_title":        title,
			"job_description":  description,
			"job_location":     text.Sanitize(location, false),
			"job_type":         text.Sanitize(job.EmploymentTypeSlug(r.EmploymentType), false),
			"job_salary":       text.Sanitize(r.Salary, false),
			"job_environment":  strings.ToLower(r.Environment),
			"application":      text.Sanitize(contact, !strings.Contains(contact, "@")),
			"company_id":       company,
			"company_name":     text.Sanitize(r.CompanyName, false),
			"company_website":  text.Sanitize(r.Company.WebsiteURL, true),
			"company_logo":     logo,
			"company_address":  text.Sanitize(address, false),
			"company_industry": text.Sanitize(r.Company.Industry, false),
			"company_founded":  text.Sanitize(r.Company.Founded, false),
		},
	}
}

// sanitizeParagraphs cleans each paragraph on its own so blank-line breaks survive.
func sanitizeParagraphs(s string) string {
	paragraphs := text.SplitParagraphs(s)
	out := paragraphs[:0]
	for _, p := range paragraphs {
		if clean := text.Sanitize(p, false); clean != "" {
			out = append(out, clean)
		}
	}
	return text.JoinChunks(out)
}

// matches reports whether an existing post is the entity being published.
// A post carrying the key meta field is matched on it alone. Otherwise the
// rendered title must match, and extra must not contradict the post's meta.
func (s searchResult) matches(keyField, key, title string, extra map[string]string) bool {
	if raw, ok := s.Meta[keyField]; ok {
		if v, isString := raw.(string); isString && v != "" {
			return v == key
		}
	}
	if !sameText(html.UnescapeString(s.Title.Rendered), title) {
		return false
	}
	for field, want := range extra {
		raw, ok := s.Meta[field]
		if !ok {
			continue
		}
		if v, isString := raw.(string); isString && v != "" && !sameText(v, want) {
			return false
		}
	}
	return true
}

func sameText(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
