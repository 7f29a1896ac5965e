package dedup

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// NormalizeTitle lowercases a title, decomposes accented characters to
// their base letters, and strips punctuation/whitespace down to a single
// run of letters and digits, per spec §4.1 ("normalize title (lowercase,
// strip punctuation/whitespace, decompose accents)").
func NormalizeTitle(title string) string {
	title = strings.ToLower(strings.TrimSpace(title))
	if title == "" {
		return ""
	}

	// NFD decomposes e.g. "é" into "e" + a combining acute accent, which
	// the rune filter below then drops as a non-letter.
	decomposed := norm.NFD.String(title)

	var sb strings.Builder
	sb.Grow(len(decomposed))
	for _, r := range decomposed {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			sb.WriteRune(r)
		default:
			// punctuation, whitespace, and combining marks are dropped
			// entirely rather than collapsed to a separator: two titles
			// differing only in hyphenation or spacing must normalize
			// identically.
		}
	}
	return sb.String()
}

// CleanDOI strips a leading "https://doi.org/" (or "http://dx.doi.org/",
// or a bare "doi:" prefix) and lowercases the remainder, matching
// `_clean_doi` in the original harvester (see SPEC_FULL §6).
func CleanDOI(doi string) string {
	doi = strings.TrimSpace(doi)
	if doi == "" {
		return ""
	}
	lower := strings.ToLower(doi)
	for _, prefix := range []string{
		"https://doi.org/",
		"http://doi.org/",
		"https://dx.doi.org/",
		"http://dx.doi.org/",
		"doi:",
	} {
		if strings.HasPrefix(lower, prefix) {
			return strings.ToLower(doi[len(prefix):])
		}
	}
	return lower
}

// FirstAuthorSurname extracts a normalized surname from an author's
// full-text name for use as part of the title+author+year dedup key. It
// reuses NormalizeName's "Last, First" handling and simply takes the
// final whitespace-delimited token.
func FirstAuthorSurname(name string) string {
	normalized := NormalizeName(name)
	if normalized == "" {
		return ""
	}
	parts := strings.Fields(normalized)
	return parts[len(parts)-1]
}
