package resolver

import "fmt"

// Selectors locate fields on job and company pages. Empty selectors match
// nothing and leave their field empty.
type Selectors struct {
	Title       string
	Logo        string
	CompanyLink string
	Location    string
	Environment string
	// Criteria is a format string taking the 1-based criteria position.
	Criteria    string
	Description string
	ApplyButton string

	CompanyAbout   []string
	CompanyWebsite string
	CompanyFacts   string
	CompanyAddress string
}

// Criteria positions on the job page.
const (
	criteriaSeniority = 1
	criteriaType      = 2
	criteriaFunctions = 3
	criteriaIndustry  = 4
)

// DefaultSelectors match the public job pages of the default source site.
func DefaultSelectors() Selectors {
	return Selectors{
		Title:       "h1.top-card-layout__title",
		Logo:        "section.top-card-layout a img",
		CompanyLink: ".topcard__org-name-link",
		Location:    ".topcard__flavor.topcard__flavor--bullet",
		Environment: ".topcard__flavor--metadata",
		Criteria:    ".description__job-criteria-list > li:nth-child(%d) > span",
		Description: ".show-more-less-html__markup",
		ApplyButton: "#teriary-cta-container > div > a",

		CompanyAbout: []string{
			"p.about-us__description",
			"section.core-section-container > div > p",
		},
		CompanyWebsite: "dl > div:nth-child(1) > dd > a",
		CompanyFacts:   "section.core-section-container.core-section-container--with-border > div > dl > div",
		CompanyAddress: "#address-0",
	}
}

func (s Selectors) criteria(position int) string {
	if s.Criteria == "" {
		return ""
	}
	return fmt.Sprintf(s.Criteria, position)
}
