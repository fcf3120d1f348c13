package triage

import (
	"crypto/sha256"
	"encoding/hex"
	"html"
	"regexp"
	"strings"
)

var (
	tagPattern        = regexp.MustCompile(`(?s)<[^>]*>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
	cvePattern        = regexp.MustCompile(`(?i)CVE-\d{4}-\d{4,}`)
)

// StripHTML removes markup and resolves entities, leaving plain text.
func StripHTML(s string) string {
	return html.UnescapeString(tagPattern.ReplaceAllString(s, " "))
}

// CollapseWhitespace trims and folds whitespace runs into single spaces.
func CollapseWhitespace(s string) string {
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(s, " "))
}

// NormalizeTitle produces the lowercased, whitespace collapsed form used for
// near-duplicate matching.
func NormalizeTitle(title string) string {
	return strings.ToLower(CollapseWhitespace(StripHTML(title)))
}

// ExtractCVEs returns the distinct CVE ids mentioned in the text, uppercased,
// in order of first appearance.
func ExtractCVEs(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range cvePattern.FindAllString(text, -1) {
		id := strings.ToUpper(m)
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// ContentHash returns the sha256 hex digest of the normalized text, stable
// across markup and whitespace variations of the same story.
func ContentHash(text string) string {
	norm := strings.ToLower(CollapseWhitespace(StripHTML(text)))
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:])
}
