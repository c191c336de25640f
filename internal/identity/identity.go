// Package identity derives the stable keys used to deduplicate job records.
package identity

import (
	"crypto/md5" //nolint:gosec // compatibility key, not a security boundary
	"encoding/hex"
)

// Length is the number of hex characters kept from the digest.
const Length = 16

// JobIdentity identifies a job by title and company.
type JobIdentity string

// Of returns the identity of a job. Only title and company contribute, so
// two postings of the same role at the same company collapse together.
func Of(title, company string) JobIdentity {
	return JobIdentity(shortDigest(title + "_" + company))
}

// CompanyKey returns the identity of a company by name.
func CompanyKey(name string) string {
	return shortDigest(name)
}

// Valid reports whether s has the shape of an identity.
func Valid(s string) bool {
	if len(s) != Length {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

func shortDigest(s string) string {
	sum := md5.Sum([]byte(s)) //nolint:gosec
	return hex.EncodeToString(sum[:])[:Length]
}
