package job

// localizedEmploymentTypes maps French source labels to canonical English.
var localizedEmploymentTypes = map[string]string{
	"Temps plein":   "Full-time",
	"Temps partiel": "Part-time",
	"Contrat":       "Contract",
	"Temporaire":    "Temporary",
	"Indépendant":   "Freelance",
	"Stage":         "Internship",
	"Bénévolat":     "Volunteer",
}

// employmentTypeSlugs maps canonical English labels to destination slugs.
var employmentTypeSlugs = map[string]string{
	"Full-time":  "full-time",
	"Part-time":  "part-time",
	"Contract":   "contract",
	"Temporary":  "temporary",
	"Freelance":  "freelance",
	"Internship": "internship",
	"Volunteer":  "volunteer",
}

// CanonicalEmploymentType translates a localized label to English.
// Unknown labels are returned unchanged.
func CanonicalEmploymentType(label string) string {
	if canonical, ok := localizedEmploymentTypes[label]; ok {
		return canonical
	}
	return label
}

// EmploymentTypeSlug maps a label, localized or not, to the destination slug.
// Unknown labels are returned unchanged.
func EmploymentTypeSlug(label string) string {
	canonical := CanonicalEmploymentType(label)
	if slug, ok := employmentTypeSlugs[canonical]; ok {
		return slug
	}
	return canonical
}
