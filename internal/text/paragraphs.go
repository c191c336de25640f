package text

import (
	"regexp"
	"strings"
)

// ParagraphSeparator joins description paragraphs.
const ParagraphSeparator = "\n\n"

var blankLinePattern = regexp.MustCompile(`\n\s*\n`)

// SplitParagraphs splits s on blank lines, dropping empty paragraphs.
func SplitParagraphs(s string) []string {
	raw := blankLinePattern.Split(s, -1)
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// DedupParagraphs keeps the first paragraph of every NormalizeForDedup class
// in order and returns the rest as dropped. Paragraphs that normalize to ""
// are discarded without being reported.
func DedupParagraphs(paragraphs []string) (kept, dropped []string) {
	seen := make(map[string]struct{}, len(paragraphs))
	kept = make([]string, 0, len(paragraphs))
	for _, p := range paragraphs {
		key := NormalizeForDedup(p)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			dropped = append(dropped, p)
			continue
		}
		seen[key] = struct{}{}
		kept = append(kept, p)
	}
	return kept, dropped
}

// SplitIntoChunks re-segments every blank-line paragraph of s so no chunk is
// longer than maxLength runes. A long paragraph is cut at its last space
// within the limit, else just after its last period, else hard at the limit.
// maxLength <= 0 returns the paragraphs unsplit.
func SplitIntoChunks(s string, maxLength int) []string {
	var chunks []string
	for _, para := range SplitParagraphs(s) {
		if maxLength <= 0 {
			chunks = append(chunks, para)
			continue
		}
		runes := []rune(para)
		for len(runes) > maxLength {
			cut := splitPoint(runes, maxLength)
			if head := strings.TrimSpace(string(runes[:cut])); head != "" {
				chunks = append(chunks, head)
			}
			runes = []rune(strings.TrimSpace(string(runes[cut:])))
		}
		if len(runes) > 0 {
			chunks = append(chunks, string(runes))
		}
	}
	return chunks
}

func splitPoint(runes []rune, maxLength int) int {
	for i := maxLength; i > 0; i-- {
		if runes[i] == ' ' || runes[i] == '\n' || runes[i] == '\t' {
			return i
		}
	}
	for i := maxLength - 1; i > 0; i-- {
		if runes[i] == '.' {
			return i + 1
		}
	}
	return maxLength
}

// JoinChunks joins chunks with ParagraphSeparator.
func JoinChunks(chunks []string) string {
	return strings.Join(chunks, ParagraphSeparator)
}
