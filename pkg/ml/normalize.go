package ml

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// normalizeForMatching prepares content for regex rule matching. NFKC
// compatibility folding collapses full-width and stylized letters onto
// their plain forms, and format, control and private-use runes are dropped
// so a zero-width joiner cannot split a keyword in half.
//
// This is rule-engine plumbing only. Canonical fragment content comes from
// Canonicalize and is never altered here.
func normalizeForMatching(s string) string {
	folded := norm.NFKC.String(s)

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if unicode.In(r, unicode.Cf, unicode.Cc, unicode.Co) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
