// Package harvest defines core types shared across subsystems.
package harvest

import (
	"fmt"
	"time"
)

// ThreadDescriptor is the persisted state of a discovered forum thread.
type ThreadDescriptor struct {
	URL           string    `json:"url"`
	Title         string    `json:"title"`
	PosterURL     string    `json:"poster_url,omitempty"`
	Magnets       []string  `json:"magnets"`
	LastVisitedAt time.Time `json:"last_visited_at"`
}

// StreamDescriptor is one parsed magnet, keyed by
// (InfoHash, Season, episode range, Resolution). Immutable once parsed.
type StreamDescriptor struct {
	InfoHash   string   `json:"info_hash"`
	RawTitle   string   `json:"raw_title"`
	Season     int      `json:"season"`
	Episodes   []int    `json:"episodes"` // empty means whole-season pack
	Resolution string   `json:"resolution,omitempty"`
	Languages  []string `json:"languages"`
	SizeBytes  int64    `json:"size_bytes,omitempty"`
	SizeLabel  string   `json:"size_label,omitempty"`
}

// Key identifies the descriptor within its show+season stream set.
func (s StreamDescriptor) Key() string {
	lo, hi := 0, 0
	if len(s.Episodes) > 0 {
		lo, hi = s.Episodes[0], s.Episodes[len(s.Episodes)-1]
	}
	return fmt.Sprintf("%s:%d-%d:%s", s.InfoHash, lo, hi, s.Resolution)
}

// Covers reports whether the descriptor carries the given episode,
// either exactly or as part of a pack.
func (s StreamDescriptor) Covers(episode int) bool {
	if len(s.Episodes) == 0 {
		return true // season pack
	}
	for _, e := range s.Episodes {
		if e == episode {
			return true
		}
	}
	return false
}

// ShowIdentity is a cross-referenced identity pair for one show.
type ShowIdentity struct {
	PrimaryID   string `json:"primary_id"`
	SecondaryID string `json:"secondary_id"`
	DisplayName string `json:"display_name"`
	Poster      string `json:"poster,omitempty"`
	Year        int    `json:"year,omitempty"`
}

// Usable reports whether the identity satisfies the two-ID requirement
// that gates persistence.
func (s ShowIdentity) Usable() bool {
	return s.PrimaryID != "" && s.SecondaryID != ""
}

// OrphanRecord is a descriptor that could not be resolved to an identity,
// retained for periodic re-attempt.
type OrphanRecord struct {
	InfoHash     string       `json:"info_hash"`
	DisplayName  string       `json:"display_name"`
	ThreadTitle  string       `json:"thread_title"`
	CanonicalKey string       `json:"canonical_key"`
	SourceURL    string       `json:"source_url"`
	Reason       OrphanReason `json:"reason"`
	Attempts     int          `json:"attempts"`
	LoggedAt     time.Time    `json:"logged_at"`
}

// CatalogEntry is the year-ranked catalog projection of a resolved show.
type CatalogEntry struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Poster string `json:"poster,omitempty"`
	Year   int    `json:"year,omitempty"`
}
