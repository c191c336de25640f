// Package text cleans strings scraped from listing pages and prepares
// description paragraphs for publishing.
//
// Sanitize repairs markup and spacing, NormalizeForDedup produces the
// comparison key used to drop duplicate paragraphs, and SplitIntoChunks
// bounds paragraph length for the destination.
package text
