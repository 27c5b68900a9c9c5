package parser

import (
	"regexp"
	"strings"
	"unicode"

	ptn "github.com/middelink/go-parse-torrent-name"
)

var (
	groupedRe = regexp.MustCompile(`\[[^\]]*\]|\([^)]*\)|\{[^}]*\}`)
	// season/episode/year tokens left behind once grouping is stripped
	tokenRe = regexp.MustCompile(`(?i)\bS\d{1,2}(?:\s*EP?\s*\d{1,3}(?:\s*[-–—]\s*(?:EP?)?\s*\d{1,3})?)?\b|\bSeason\s*\d{1,2}\b|\bEP?\s*\d{1,3}\s*[-–—]\s*(?:EP?)?\s*\d{1,3}\b|\bEpisode\s*\d{1,3}\b|\bComplete\b|\b(?:19|20)\d{2}\b`)
	spaceRe = regexp.MustCompile(`\s+`)
)

// Normalize reduces a display title to the canonical lookup key used for
// cross-referencing descriptors against one show. It is idempotent:
// normalizing an already-normalized key returns it unchanged. An empty result
// means the title carries no usable identity (BAD_TITLE).
func Normalize(title string) string {
	s := title

	// Best-guess bare title first; fall back to the raw string when the
	// library gives nothing back.
	if info, err := ptn.Parse(s); err == nil && strings.TrimSpace(info.Title) != "" {
		s = info.Title
	}

	s = groupedRe.ReplaceAllString(s, " ")
	s = tokenRe.ReplaceAllString(s, " ")

	// Keep Unicode letters and digits; everything else becomes a separator.
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, s)

	s = spaceRe.ReplaceAllString(s, " ")
	return strings.ToLower(strings.TrimSpace(s))
}

// ExtractYear pulls a plausible release year out of a raw title, or 0.
func ExtractYear(title string) int {
	if info, err := ptn.Parse(title); err == nil && info.Year > 0 {
		return info.Year
	}
	return 0
}
