package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"streamharvest/internal/harvest"
	"streamharvest/internal/store/memory"
)

func newTestServer(t *testing.T) (*Server, *memory.Store) {
	t.Helper()
	store := memory.New()
	return NewServer(store, Config{}, zap.NewNop()), store
}

func doGet(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)
	rec := doGet(t, s, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestManifest(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)
	rec := doGet(t, s, "/manifest.json")
	require.Equal(t, http.StatusOK, rec.Code)

	var m manifestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	require.Equal(t, "community.streamharvest", m.ID)
	require.Contains(t, m.Resources, "stream")
	require.Contains(t, m.Types, "series")
}

func TestCatalogOrderedByYear(t *testing.T) {
	t.Parallel()

	s, store := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, store.UpsertCatalogEntry(ctx, harvest.CatalogEntry{ID: "1", Name: "Old Show", Year: 2018}))
	require.NoError(t, store.UpsertCatalogEntry(ctx, harvest.CatalogEntry{ID: "2", Name: "New Show", Year: 2026, Poster: "https://img.example/p.jpg"}))

	rec := doGet(t, s, "/catalog/series/streamharvest.json")
	require.Equal(t, http.StatusOK, rec.Code)

	var c catalogResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &c))
	require.Len(t, c.Metas, 2)
	require.Equal(t, "New Show", c.Metas[0].Name)
	require.Equal(t, "2026", c.Metas[0].ReleaseInfo)
	require.Equal(t, "series", c.Metas[0].Type)
}

func seedStreams(t *testing.T, store *memory.Store) {
	t.Helper()
	ctx := context.Background()
	put := func(d harvest.StreamDescriptor) {
		require.NoError(t, store.PutStream(ctx, "93405", d))
	}
	put(harvest.StreamDescriptor{InfoHash: "exact720", Season: 1, Episodes: []int{6}, Resolution: "720p"})
	put(harvest.StreamDescriptor{InfoHash: "exact1080", Season: 1, Episodes: []int{6}, Resolution: "1080p"})
	put(harvest.StreamDescriptor{InfoHash: "pack", Season: 1, Episodes: []int{1, 2, 3, 4, 5, 6, 7, 8, 9}, Resolution: "1080p"})
	put(harvest.StreamDescriptor{InfoHash: "season", Season: 1, Episodes: nil, Resolution: "2160p", SizeLabel: "42GB"})
}

func TestStreamsPrefersExactEpisode(t *testing.T) {
	t.Parallel()

	s, store := newTestServer(t)
	seedStreams(t, store)

	rec := doGet(t, s, "/stream/series/93405:1:6.json")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp streamResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Streams, 2)
	// Higher resolution ranks first inside the tier.
	require.Equal(t, "exact1080", resp.Streams[0].InfoHash)
	require.Equal(t, "exact720", resp.Streams[1].InfoHash)
}

func TestStreamsFallsBackToEnclosingPack(t *testing.T) {
	t.Parallel()

	s, store := newTestServer(t)
	seedStreams(t, store)

	// Episode 3 has no exact match; the range pack covers it.
	rec := doGet(t, s, "/stream/series/93405:1:3.json")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp streamResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Streams, 1)
	require.Equal(t, "pack", resp.Streams[0].InfoHash)
}

func TestStreamsFallsBackToSeasonPack(t *testing.T) {
	t.Parallel()

	s, store := newTestServer(t)
	seedStreams(t, store)

	// Episode 12 is outside every episode pack; only the season pack serves.
	rec := doGet(t, s, "/stream/series/93405:1:12.json")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp streamResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Streams, 1)
	require.Equal(t, "season", resp.Streams[0].InfoHash)
	require.Contains(t, resp.Streams[0].Title, "42GB")
}

func TestStreamsBareIDReturnsWholeSeason(t *testing.T) {
	t.Parallel()

	s, store := newTestServer(t)
	seedStreams(t, store)

	// A bare primary id serves every season-1 stream, best resolution first.
	for _, id := range []string{"93405", "93405:1"} {
		rec := doGet(t, s, "/stream/series/"+id+".json")
		require.Equal(t, http.StatusOK, rec.Code, "id %q", id)

		var resp streamResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Streams, 4, "id %q", id)
		require.Equal(t, "season", resp.Streams[0].InfoHash)
		require.Equal(t, "exact720", resp.Streams[3].InfoHash)
	}
}

func TestStreamsEmptyForUnknownShow(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)

	rec := doGet(t, s, "/stream/series/555:1:1.json")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp streamResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Empty(t, resp.Streams)
}

func TestStreamsRejectsMalformedID(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)

	for _, id := range []string{"a:b:c", "93405:0:1", "93405:1:0", "93405:x", "93405:1:2:3"} {
		rec := doGet(t, s, "/stream/series/"+id+".json")
		require.Equal(t, http.StatusBadRequest, rec.Code, "id %q", id)
	}
}

func TestParseStreamID(t *testing.T) {
	t.Parallel()

	primaryID, season, episode, ok := parseStreamID("93405:1:6")
	require.True(t, ok)
	require.Equal(t, "93405", primaryID)
	require.Equal(t, 1, season)
	require.Equal(t, 6, episode)

	primaryID, season, episode, ok = parseStreamID("93405")
	require.True(t, ok)
	require.Equal(t, "93405", primaryID)
	require.Equal(t, 1, season)
	require.Zero(t, episode)

	primaryID, season, episode, ok = parseStreamID("93405:2")
	require.True(t, ok)
	require.Equal(t, "93405", primaryID)
	require.Equal(t, 2, season)
	require.Zero(t, episode)

	_, _, _, ok = parseStreamID("tt123:2:10")
	require.True(t, ok)

	_, _, _, ok = parseStreamID(":1:2")
	require.False(t, ok)
}
