package ml

import (
	"net/url"
	"strings"
)

// maxDecodePasses bounds repeated percent-decoding. Three passes handle
// double- and triple-encoded payloads without looping on decode bombs.
const maxDecodePasses = 3

// Canonicalize normalizes request content into the representation the
// classifiers and heuristics operate on: percent-decoded (bounded passes),
// lower-cased, whitespace runs collapsed to single spaces, trimmed.
// It never fails. A failing decode pass keeps the last good value, so the
// worst case is a best-effort partial normalization of hostile input.
func Canonicalize(text string) string {
	if text == "" {
		return ""
	}

	for i := 0; i < maxDecodePasses; i++ {
		decoded, err := url.PathUnescape(text)
		if err != nil {
			break
		}
		if decoded == text {
			break
		}
		text = decoded
	}

	text = strings.ToLower(text)

	// Fields splits on any unicode whitespace run, so joining with a
	// single space both collapses and trims in one step.
	return strings.Join(strings.Fields(text), " ")
}
