// Package textutil normalizes free-text answers and question prompts so
// direct-match scoring and LLM prompt assembly see consistent input.
package textutil

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var tagPattern = regexp.MustCompile(`<.*?>`)

// StripHTML removes markup tags from question text before it is embedded in
// scoring prompts. Question bodies are authored in a rich-text editor and
// arrive wrapped in HTML.
func StripHTML(s string) string {
	return tagPattern.ReplaceAllString(s, "")
}

// Normalize prepares free-text answers for comparison: NFKC normalization,
// case folding, and whitespace collapsing.
func Normalize(s string) string {
	s = norm.NFKC.String(s)
	s = cases.Fold().String(s)
	return CollapseWhitespace(s)
}

// CollapseWhitespace trims the string and squeezes internal runs of
// whitespace down to single spaces.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Equal reports whether two free-text answers match after normalization.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}
