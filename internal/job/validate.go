package job

import (
	"fmt"
	"strings"
)

// placeholderCompanies are names the source shows when the employer is hidden.
var placeholderCompanies = map[string]struct{}{
	"unknown": {},
}

// ValidationError reports a record that must not be published.
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements error.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid record: %s %s", e.Field, e.Reason)
}

// Validate rejects records without a usable title or company.
func (r Record) Validate() error {
	if strings.TrimSpace(r.Title) == "" {
		return &ValidationError{Field: "title", Reason: "is empty"}
	}
	company := strings.TrimSpace(r.CompanyName)
	if company == "" {
		return &ValidationError{Field: "company_name", Reason: "is empty"}
	}
	if IsPlaceholderCompany(company) {
		return &ValidationError{Field: "company_name", Reason: fmt.Sprintf("is a placeholder (%q)", company)}
	}
	return nil
}

// IsPlaceholderCompany reports whether name stands in for a hidden employer.
func IsPlaceholderCompany(name string) bool {
	_, ok := placeholderCompanies[strings.ToLower(strings.TrimSpace(name))]
	return ok
}
