// Package job defines the typed records produced by the detail resolver and
// consumed by the publisher.
package job

import (
	"strings"

	"github.com/JakeFAU/jobfeed-publisher/internal/identity"
)

// CompanyProfile holds what the company page revealed about an employer.
type CompanyProfile struct {
	Name         string `json:"name"`
	ProfileURL   string `json:"profile_url,omitempty"`
	Details      string `json:"details,omitempty"`
	LogoURL      string `json:"logo_url,omitempty"`
	WebsiteURL   string `json:"website_url,omitempty"`
	Industry     string `json:"industry,omitempty"`
	Size         string `json:"size,omitempty"`
	Headquarters string `json:"headquarters,omitempty"`
	Type         string `json:"type,omitempty"`
	Founded      string `json:"founded,omitempty"`
	Specialties  string `json:"specialties,omitempty"`
	Address      string `json:"address,omitempty"`
}

// Record is one resolved job listing.
type Record struct {
	Title          string `json:"title"`
	CompanyName    string `json:"company_name"`
	Description    string `json:"description,omitempty"`
	Location       string `json:"location,omitempty"`
	EmploymentType string `json:"employment_type,omitempty"`
	SeniorityLevel string `json:"seniority_level,omitempty"`
	Functions      string `json:"functions,omitempty"`
	Industries     string `json:"industries,omitempty"`
	Salary         string `json:"salary,omitempty"`
	Environment    string `json:"environment,omitempty"`

	// ApplicationURL is the raw apply button href. The Info fields hold an
	// email or apply link found in the description or on the page the button
	// led to (ResolvedApplicationURL). The Final fields hold the merged result.
	ApplicationURL             string `json:"application_url,omitempty"`
	DescriptionApplicationInfo string `json:"description_application_info,omitempty"`
	ResolvedApplicationInfo    string `json:"resolved_application_info,omitempty"`
	ResolvedApplicationURL     string `json:"resolved_application_url,omitempty"`
	FinalApplicationEmail      string `json:"final_application_email,omitempty"`
	FinalApplicationURL        string `json:"final_application_url,omitempty"`

	Company   CompanyProfile `json:"company"`
	SourceURL string         `json:"source_url"`
}

// Identity returns the record's deduplication key.
func (r Record) Identity() identity.JobIdentity {
	return identity.Of(r.Title, r.CompanyName)
}

// ApplicationContact returns the single contact a candidate should use: an
// email from the description, else a resolved application URL, else the raw
// apply button href.
func (r Record) ApplicationContact() string {
	if strings.Contains(r.DescriptionApplicationInfo, "@") {
		return r.DescriptionApplicationInfo
	}
	if r.FinalApplicationEmail != "" {
		return r.FinalApplicationEmail
	}
	if r.FinalApplicationURL != "" {
		return r.FinalApplicationURL
	}
	if r.ResolvedApplicationURL != "" {
		return r.ResolvedApplicationURL
	}
	return r.ApplicationURL
}

// IsEmailContact reports whether ApplicationContact is an email address.
func (r Record) IsEmailContact() bool {
	return strings.Contains(r.ApplicationContact(), "@")
}
