package api

import (
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"streamharvest/internal/harvest"
)

type manifestResponse struct {
	ID          string            `json:"id"`
	Version     string            `json:"version"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Resources   []string          `json:"resources"`
	Types       []string          `json:"types"`
	Catalogs    []manifestCatalog `json:"catalogs"`
}

type manifestCatalog struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Name string `json:"name"`
}

type meta struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Name        string `json:"name"`
	Poster      string `json:"poster,omitempty"`
	ReleaseInfo string `json:"releaseInfo,omitempty"`
}

type catalogResponse struct {
	Metas []meta `json:"metas"`
}

type stream struct {
	Name     string `json:"name"`
	Title    string `json:"title"`
	InfoHash string `json:"infoHash"`
}

type streamResponse struct {
	Streams []stream `json:"streams"`
}

func (s *Server) manifest(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, manifestResponse{
		ID:          s.cfg.AddonID,
		Version:     s.cfg.Version,
		Name:        s.cfg.AddonName,
		Description: "Streams harvested from forum magnet listings.",
		Resources:   []string{"catalog", "stream"},
		Types:       []string{"series"},
		Catalogs: []manifestCatalog{
			{Type: "series", ID: "streamharvest", Name: s.cfg.AddonName},
		},
	})
}

func (s *Server) catalog(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.CatalogByYear(r.Context(), s.cfg.CatalogLimit)
	if err != nil {
		s.logger.Error("catalog read failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "catalog unavailable")
		return
	}
	metas := make([]meta, 0, len(entries))
	for _, e := range entries {
		m := meta{ID: e.ID, Type: "series", Name: e.Name, Poster: e.Poster}
		if e.Year > 0 {
			m.ReleaseInfo = strconv.Itoa(e.Year)
		}
		metas = append(metas, m)
	}
	writeJSON(w, http.StatusOK, catalogResponse{Metas: metas})
}

// streams answers stream lookups for "{primaryId}", "{primaryId}:{season}"
// and "{primaryId}:{season}:{episode}" ids. An omitted season defaults to 1;
// an omitted episode returns the whole season. With an episode, preference
// order is exact match, then an enclosing episode pack, then a season pack.
func (s *Server) streams(w http.ResponseWriter, r *http.Request) {
	primaryID, season, episode, ok := parseStreamID(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid stream id")
		return
	}

	descriptors, err := s.store.Streams(r.Context(), primaryID, season)
	if err != nil {
		s.logger.Error("streams read failed", zap.String("id", primaryID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "streams unavailable")
		return
	}

	selected := selectStreams(descriptors, episode)
	out := make([]stream, 0, len(selected))
	for _, d := range selected {
		out = append(out, stream{
			Name:     streamName(s.cfg.AddonName, d),
			Title:    streamTitle(d),
			InfoHash: d.InfoHash,
		})
	}
	writeJSON(w, http.StatusOK, streamResponse{Streams: out})
}

// parseStreamID splits an id into its parts. Season defaults to 1 when
// omitted; a zero episode means no episode filter.
func parseStreamID(id string) (primaryID string, season, episode int, ok bool) {
	parts := strings.Split(id, ":")
	if len(parts) > 3 || parts[0] == "" {
		return "", 0, 0, false
	}
	season = 1
	if len(parts) >= 2 {
		n, err := strconv.Atoi(parts[1])
		if err != nil || n <= 0 {
			return "", 0, 0, false
		}
		season = n
	}
	if len(parts) == 3 {
		n, err := strconv.Atoi(parts[2])
		if err != nil || n <= 0 {
			return "", 0, 0, false
		}
		episode = n
	}
	return parts[0], season, episode, true
}

// selectStreams applies the lookup preference order, falling through only
// when the better tier is empty. Episode zero selects the whole season.
func selectStreams(descriptors []harvest.StreamDescriptor, episode int) []harvest.StreamDescriptor {
	if episode == 0 {
		all := append([]harvest.StreamDescriptor(nil), descriptors...)
		sortByResolution(all)
		return all
	}
	var exact, packs, seasonPacks []harvest.StreamDescriptor
	for _, d := range descriptors {
		switch {
		case len(d.Episodes) == 1 && d.Episodes[0] == episode:
			exact = append(exact, d)
		case len(d.Episodes) > 1 && d.Covers(episode):
			packs = append(packs, d)
		case len(d.Episodes) == 0:
			seasonPacks = append(seasonPacks, d)
		}
	}
	for _, tier := range [][]harvest.StreamDescriptor{exact, packs, seasonPacks} {
		if len(tier) > 0 {
			sortByResolution(tier)
			return tier
		}
	}
	return nil
}

var resolutionRank = map[string]int{"2160p": 4, "1080p": 3, "720p": 2, "576p": 1, "480p": 0}

func sortByResolution(descriptors []harvest.StreamDescriptor) {
	sort.SliceStable(descriptors, func(i, j int) bool {
		return resolutionRank[descriptors[i].Resolution] > resolutionRank[descriptors[j].Resolution]
	})
}

func streamName(addonName string, d harvest.StreamDescriptor) string {
	if d.Resolution == "" {
		return addonName
	}
	return addonName + " " + d.Resolution
}

func streamTitle(d harvest.StreamDescriptor) string {
	parts := []string{describeScope(d)}
	if len(d.Languages) > 0 {
		parts = append(parts, strings.Join(d.Languages, "+"))
	}
	switch {
	case d.SizeLabel != "":
		parts = append(parts, d.SizeLabel)
	case d.SizeBytes > 0:
		parts = append(parts, humanize.IBytes(uint64(d.SizeBytes)))
	}
	return strings.Join(parts, " | ")
}

func describeScope(d harvest.StreamDescriptor) string {
	switch {
	case len(d.Episodes) == 0:
		return "S" + pad(d.Season) + " pack"
	case len(d.Episodes) == 1:
		return "S" + pad(d.Season) + "E" + pad(d.Episodes[0])
	default:
		return "S" + pad(d.Season) + "E" + pad(d.Episodes[0]) + "-E" + pad(d.Episodes[len(d.Episodes)-1])
	}
}

func pad(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}
