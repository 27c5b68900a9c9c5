// Package parser extracts stream metadata from raw magnet descriptors.
package parser

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	ptn "github.com/middelink/go-parse-torrent-name"

	"streamharvest/internal/harvest"
)

// ErrNoMatch means no rule and no fallback yielded season/episode
// information. Callers park the descriptor as an orphan; there is no silent
// season-1 default.
var ErrNoMatch = errors.New("no season or episode information")

// rule pairs a compiled matcher with its extractor. Rules are evaluated in
// slice order, most specific first, so overlapping patterns resolve
// deterministically: a range always beats a single-episode reading of its
// own prefix.
type rule struct {
	name    string
	re      *regexp.Regexp
	extract func(m []string) (season int, episodes []int, ok bool)
}

var (
	// S01E01-E09, S02 E01 - E03. The second endpoint must carry its own
	// E/EP marker so a bare number after a dash (a resolution token, a
	// year) can never close a range.
	dashRangeRe = regexp.MustCompile(`(?i)\bS(\d{1,2})\s*EP?\s*(\d{1,3})\s*[-–—]\s*EP?\s*(\d{1,3})\b`)
	// S01EP(01-09), S03(01-24): both endpoints inside the parentheses.
	parenRangeRe = regexp.MustCompile(`(?i)\bS(\d{1,2})\s*(?:EP?)?\s*\(\s*(\d{1,3})\s*[-–—]\s*(?:EP?)?\s*(\d{1,3})\s*\)`)
	// S01EP06, S01 E6
	singleRe = regexp.MustCompile(`(?i)\bS(\d{1,2})\s*EP?\s*\(?\s*(\d{1,3})\b`)
	// what may NOT follow a single-episode match: a range continuation,
	// which always marks its closing episode with E/EP
	rangeTailRe = regexp.MustCompile(`^\s*\)?\s*[-–—]\s*EP?\s*\(?\s*\d`)
	// S01, Season 1
	seasonRe   = regexp.MustCompile(`(?i)\b(?:S|Season\s*)(\d{1,2})\b`)
	completeRe = regexp.MustCompile(`(?i)\bcomplete\b`)

	resolutionRe = regexp.MustCompile(`(?i)\b(2160p|1080p|720p|576p|480p|4k)\b`)
	sizeRe       = regexp.MustCompile(`(?i)\b(\d+(?:\.\d+)?)\s*(TB|GB|MB)\b`)
	langCodeRe   = regexp.MustCompile(`(?i)\b(tam|tel|hin|mal|kan|eng|kor|jap|chi|fre|spa|ger|ita|rus|ara)\b`)
	bracketRe    = regexp.MustCompile(`\[([^\]]+)\]`)

	btihRe = regexp.MustCompile(`(?i)\burn:btih:([0-9a-f]{40}|[a-z2-7]{32})\b`)
)

// Parser turns a raw descriptor string into a StreamDescriptor.
type Parser struct {
	rules []rule
}

func extractRange(m []string) (int, []int, bool) {
	season := atoi(m[1])
	lo, hi := atoi(m[2]), atoi(m[3])
	if season == 0 || lo == 0 || hi < lo {
		return 0, nil, false
	}
	eps := make([]int, 0, hi-lo+1)
	for e := lo; e <= hi; e++ {
		eps = append(eps, e)
	}
	return season, eps, true
}

// New compiles the ordered rule list.
func New() *Parser {
	return &Parser{rules: []rule{
		{
			name:    "episode-range-dashed",
			re:      dashRangeRe,
			extract: extractRange,
		},
		{
			name:    "episode-range-paren",
			re:      parenRangeRe,
			extract: extractRange,
		},
		{
			name: "single-episode",
			re:   singleRe,
			extract: func(m []string) (int, []int, bool) {
				season, ep := atoi(m[1]), atoi(m[2])
				if season == 0 || ep == 0 {
					return 0, nil, false
				}
				return season, []int{ep}, true
			},
		},
		{
			name: "season-pack",
			re:   seasonRe,
			extract: func(m []string) (int, []int, bool) {
				season := atoi(m[1])
				if season == 0 {
					return 0, nil, false
				}
				return season, []int{}, true
			},
		},
	}}
}

// Parse extracts season/episode structure plus resolution, size and language
// tags from the raw descriptor. Returns ErrNoMatch when neither the rule list
// nor the fallback library finds season/episode information.
func (p *Parser) Parse(raw string) (harvest.StreamDescriptor, error) {
	desc := harvest.StreamDescriptor{RawTitle: raw}

	season, episodes, matched := p.matchRules(raw)
	if !matched {
		// Fallback: general-purpose title metadata, used only when no rule hit.
		info, err := ptn.Parse(raw)
		if err == nil && (info.Season > 0 || info.Episode > 0) {
			season = info.Season
			if season == 0 {
				season = 1
			}
			episodes = []int{}
			if info.Episode > 0 {
				episodes = []int{info.Episode}
			}
			matched = true
		}
	}
	if !matched {
		return harvest.StreamDescriptor{}, fmt.Errorf("parse %q: %w", raw, ErrNoMatch)
	}

	desc.Season = season
	desc.Episodes = episodes
	desc.Resolution = extractResolution(raw)
	desc.SizeBytes, desc.SizeLabel = extractSize(raw)
	desc.Languages = extractLanguages(raw)
	return desc, nil
}

func (p *Parser) matchRules(raw string) (int, []int, bool) {
	for _, r := range p.rules {
		loc := r.re.FindStringSubmatchIndex(raw)
		if loc == nil {
			continue
		}
		if r.name == "single-episode" && rangeTailRe.MatchString(raw[loc[1]:]) {
			// The episode number is the opening of a range; let the
			// season-pack rule have it rather than misread the prefix.
			continue
		}
		m := submatches(raw, loc)
		if season, eps, ok := r.extract(m); ok {
			return season, eps, true
		}
	}
	if completeRe.MatchString(raw) && !seasonRe.MatchString(raw) {
		// Bare "Complete" with no season marker: a season-1 full pack.
		return 1, []int{}, true
	}
	return 0, nil, false
}

func submatches(s string, loc []int) []string {
	m := make([]string, 0, len(loc)/2)
	for i := 0; i < len(loc); i += 2 {
		if loc[i] < 0 {
			m = append(m, "")
			continue
		}
		m = append(m, s[loc[i]:loc[i+1]])
	}
	return m
}

func extractResolution(raw string) string {
	m := resolutionRe.FindStringSubmatch(raw)
	if m == nil {
		return ""
	}
	res := strings.ToLower(m[1])
	if res == "4k" {
		res = "2160p"
	}
	return res
}

func extractSize(raw string) (int64, string) {
	m := sizeRe.FindStringSubmatch(raw)
	if m == nil {
		return 0, ""
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, ""
	}
	var mult float64
	switch strings.ToUpper(m[2]) {
	case "TB":
		mult = 1 << 40
	case "GB":
		mult = 1 << 30
	case "MB":
		mult = 1 << 20
	}
	label := m[1] + strings.ToUpper(m[2])
	return int64(value * mult), label
}

// languageTags maps descriptor tokens to canonical tags.
var languageTags = map[string]string{
	"tam": "ta", "tamil": "ta",
	"tel": "te", "telugu": "te",
	"hin": "hi", "hindi": "hi",
	"mal": "ml", "malayalam": "ml",
	"kan": "kn", "kannada": "kn",
	"eng": "en", "english": "en",
	"kor": "ko", "korean": "ko",
	"jap": "ja", "japanese": "ja",
	"chi": "zh", "chinese": "zh",
	"fre": "fr", "french": "fr",
	"spa": "es", "spanish": "es",
	"ger": "de", "german": "de",
	"ita": "it", "italian": "it",
	"rus": "ru", "russian": "ru",
	"ara": "ar", "arabic": "ar",
}

// extractLanguages unions library-detected tags, 3-letter codes anywhere in
// the string, and tokens inside the first bracketed group. Defaults to
// English when nothing is tagged.
func extractLanguages(raw string) []string {
	set := map[string]struct{}{}

	if info, err := ptn.Parse(raw); err == nil && info.Language != "" {
		if tag, ok := languageTags[strings.ToLower(info.Language)]; ok {
			set[tag] = struct{}{}
		}
	}
	for _, m := range langCodeRe.FindAllStringSubmatch(raw, -1) {
		if tag, ok := languageTags[strings.ToLower(m[1])]; ok {
			set[tag] = struct{}{}
		}
	}
	if b := bracketRe.FindStringSubmatch(raw); b != nil {
		for _, tok := range strings.FieldsFunc(b[1], func(r rune) bool {
			return r == '+' || r == ',' || r == ' ' || r == '\t'
		}) {
			if tag, ok := languageTags[strings.ToLower(tok)]; ok {
				set[tag] = struct{}{}
			}
		}
	}

	if len(set) == 0 {
		return []string{"en"}
	}
	tags := make([]string, 0, len(set))
	for tag := range set {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Resolution extracts a normalized resolution tag from a raw title, or "".
func Resolution(raw string) string {
	return extractResolution(raw)
}

// Languages extracts language tags from a raw title. Unlike a full parse it
// returns nil, not the English default, when nothing is tagged, so callers
// can tell "untagged" from "tagged en".
func Languages(raw string) []string {
	tags := extractLanguages(raw)
	if len(tags) == 1 && tags[0] == "en" && !hasLanguageToken(raw) {
		return nil
	}
	return tags
}

func hasLanguageToken(raw string) bool {
	if langCodeRe.MatchString(raw) {
		return true
	}
	if info, err := ptn.Parse(raw); err == nil && info.Language != "" {
		return true
	}
	if b := bracketRe.FindStringSubmatch(raw); b != nil {
		for _, tok := range strings.FieldsFunc(b[1], func(r rune) bool {
			return r == '+' || r == ',' || r == ' ' || r == '\t'
		}) {
			if _, ok := languageTags[strings.ToLower(tok)]; ok {
				return true
			}
		}
	}
	return false
}

// ParseMagnet extracts the info hash and display name from a magnet URI.
func ParseMagnet(uri string) (infoHash, displayName string, err error) {
	m := btihRe.FindStringSubmatch(uri)
	if m == nil {
		return "", "", fmt.Errorf("magnet %q: missing btih hash", truncate(uri, 64))
	}
	infoHash = strings.ToLower(m[1])

	if u, perr := url.Parse(uri); perr == nil {
		displayName = u.Query().Get("dn")
	}
	return infoHash, displayName, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}
