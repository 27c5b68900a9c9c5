package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"streamharvest/internal/harvest"
)

func TestIdentityTTL(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.SetNow(func() time.Time { return base })

	id := harvest.ShowIdentity{PrimaryID: "93405", SecondaryID: "tt14452776", DisplayName: "Mercy For None"}
	require.NoError(t, s.PutIdentity(ctx, "mercy for none", id, 30*24*time.Hour))

	got, err := s.GetIdentity(ctx, "mercy for none")
	require.NoError(t, err)
	require.Equal(t, id, got)

	s.SetNow(func() time.Time { return base.Add(31 * 24 * time.Hour) })
	_, err = s.GetIdentity(ctx, "mercy for none")
	require.ErrorIs(t, err, harvest.ErrNotFound)
}

func TestIdentityIndexSnapshot(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	require.NoError(t, s.IndexIdentity(ctx, "great show", harvest.ShowIdentity{PrimaryID: "100"}))
	require.NoError(t, s.IndexIdentity(ctx, "other show", harvest.ShowIdentity{PrimaryID: "200"}))

	idx, err := s.IdentityIndex(ctx)
	require.NoError(t, err)
	require.Len(t, idx, 2)
	require.Equal(t, "100", idx["great show"].PrimaryID)

	// The snapshot is a copy; mutating it does not touch the store.
	delete(idx, "great show")
	idx2, err := s.IdentityIndex(ctx)
	require.NoError(t, err)
	require.Len(t, idx2, 2)
}

func TestStreamsDedupeByKey(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	d := harvest.StreamDescriptor{InfoHash: "aaa", Season: 1, Episodes: []int{6}, Resolution: "720p"}
	require.NoError(t, s.PutStream(ctx, "93405", d))
	require.NoError(t, s.PutStream(ctx, "93405", d))
	require.NoError(t, s.PutStream(ctx, "93405", harvest.StreamDescriptor{InfoHash: "bbb", Season: 1, Episodes: []int{1, 2, 3}, Resolution: "1080p"}))

	streams, err := s.Streams(ctx, "93405", 1)
	require.NoError(t, err)
	require.Len(t, streams, 2)

	other, err := s.Streams(ctx, "93405", 2)
	require.NoError(t, err)
	require.Empty(t, other)
}

func TestCatalogOrdering(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	require.NoError(t, s.UpsertCatalogEntry(ctx, harvest.CatalogEntry{ID: "1", Name: "Older", Year: 2019}))
	require.NoError(t, s.UpsertCatalogEntry(ctx, harvest.CatalogEntry{ID: "2", Name: "Newest", Year: 2026}))
	require.NoError(t, s.UpsertCatalogEntry(ctx, harvest.CatalogEntry{ID: "3", Name: "Middle", Year: 2023}))

	entries, err := s.CatalogByYear(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, "Newest", entries[0].Name)
	require.Equal(t, "Older", entries[2].Name)

	limited, err := s.CatalogByYear(ctx, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)

	// Upsert replaces in place rather than duplicating.
	require.NoError(t, s.UpsertCatalogEntry(ctx, harvest.CatalogEntry{ID: "2", Name: "Newest", Year: 2026, Poster: "p"}))
	entries, err = s.CatalogByYear(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, "p", entries[0].Poster)
}

func TestThreadRoundTrip(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	_, err := s.GetThread(ctx, "https://forum.example/topic/1")
	require.ErrorIs(t, err, harvest.ErrNotFound)

	thread := harvest.ThreadDescriptor{URL: "https://forum.example/topic/1", Title: "Show S01"}
	require.NoError(t, s.PutThread(ctx, thread))

	got, err := s.GetThread(ctx, thread.URL)
	require.NoError(t, err)
	require.Equal(t, thread, got)

	all, err := s.Threads(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestReplaceOrphansKeepsConcurrentAppends(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	require.NoError(t, s.AppendOrphan(ctx, harvest.OrphanRecord{InfoHash: "a"}))
	require.NoError(t, s.AppendOrphan(ctx, harvest.OrphanRecord{InfoHash: "b"}))

	seen, _, err := s.Orphans(ctx)
	require.NoError(t, err)
	require.Len(t, seen, 2)

	// An append lands after the reconciler took its snapshot.
	require.NoError(t, s.AppendOrphan(ctx, harvest.OrphanRecord{InfoHash: "c"}))

	// Reconciler rescued "a" and kept "b"; "c" must survive the swap.
	require.NoError(t, s.ReplaceOrphans(ctx, []harvest.OrphanRecord{{InfoHash: "b", Attempts: 2}}, len(seen)))

	after, _, err := s.Orphans(ctx)
	require.NoError(t, err)
	require.Len(t, after, 2)
	require.Equal(t, "b", after[0].InfoHash)
	require.Equal(t, 2, after[0].Attempts)
	require.Equal(t, "c", after[1].InfoHash)
}
