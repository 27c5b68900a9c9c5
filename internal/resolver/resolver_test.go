package resolver

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"streamharvest/internal/harvest"
	"streamharvest/internal/store/memory"
)

type fakePrimary struct {
	searchCalls  int
	detailCalls  int
	findCalls    int
	searchResult map[string][]string // "title:year" -> candidate ids
	details      map[string]harvest.ShowIdentity
	byExternal   map[string]harvest.ShowIdentity
	err          error
}

func searchKey(title string, year int) string {
	if year > 0 {
		return title + ":" + strconv.Itoa(year)
	}
	return title
}

func (f *fakePrimary) SearchByTitle(_ context.Context, title string, year int) ([]string, error) {
	f.searchCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.searchResult[searchKey(title, year)], nil
}

func (f *fakePrimary) GetDetails(_ context.Context, id string) (harvest.ShowIdentity, error) {
	f.detailCalls++
	if f.err != nil {
		return harvest.ShowIdentity{}, f.err
	}
	det, ok := f.details[id]
	if !ok {
		return harvest.ShowIdentity{}, harvest.ErrNotFound
	}
	return det, nil
}

func (f *fakePrimary) FindBySecondaryID(_ context.Context, secondaryID string) (harvest.ShowIdentity, error) {
	f.findCalls++
	if f.err != nil {
		return harvest.ShowIdentity{}, f.err
	}
	det, ok := f.byExternal[secondaryID]
	if !ok {
		return harvest.ShowIdentity{}, harvest.ErrNotFound
	}
	return det, nil
}

func (f *fakePrimary) calls() int {
	return f.searchCalls + f.detailCalls + f.findCalls
}

type fakeSecondary struct {
	calls  int
	result string
	err    error
}

func (f *fakeSecondary) SearchByTitle(context.Context, string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if f.result == "" {
		return "", harvest.ErrNotFound
	}
	return f.result, nil
}

var fullIdentity = harvest.ShowIdentity{
	PrimaryID:   "93405",
	SecondaryID: "tt14452776",
	DisplayName: "Mercy For None",
	Year:        2025,
}

func TestResolvePrimaryTitleYear(t *testing.T) {
	t.Parallel()

	primary := &fakePrimary{
		searchResult: map[string][]string{"mercy for none:2025": {"93405"}},
		details:      map[string]harvest.ShowIdentity{"93405": fullIdentity},
	}
	secondary := &fakeSecondary{}
	store := memory.New()
	r := New(Config{}, store, primary, secondary, zap.NewNop())

	id, err := r.Resolve(context.Background(), "mercy for none", 2025)
	require.NoError(t, err)
	require.Equal(t, fullIdentity, id)
	require.Equal(t, 0, secondary.calls)

	// Success warms the index and the catalog.
	idx, err := store.IdentityIndex(context.Background())
	require.NoError(t, err)
	require.Equal(t, "93405", idx["mercy for none"].PrimaryID)

	entry, err := store.CatalogEntry(context.Background(), "93405")
	require.NoError(t, err)
	require.Equal(t, "Mercy For None", entry.Name)
}

func TestResolveSecondCallHitsCacheOnly(t *testing.T) {
	t.Parallel()

	primary := &fakePrimary{
		searchResult: map[string][]string{"mercy for none:2025": {"93405"}},
		details:      map[string]harvest.ShowIdentity{"93405": fullIdentity},
	}
	r := New(Config{}, memory.New(), primary, &fakeSecondary{}, zap.NewNop())

	_, err := r.Resolve(context.Background(), "mercy for none", 2025)
	require.NoError(t, err)
	before := primary.calls()

	id, err := r.Resolve(context.Background(), "mercy for none", 2025)
	require.NoError(t, err)
	require.Equal(t, fullIdentity, id)
	require.Equal(t, before, primary.calls(), "cached resolve must not touch providers")

	// The year-less cache entry serves lookups that lack a year.
	id, err = r.Resolve(context.Background(), "mercy for none", 0)
	require.NoError(t, err)
	require.Equal(t, fullIdentity, id)
	require.Equal(t, before, primary.calls())
}

func TestResolveFallsBackWithoutYear(t *testing.T) {
	t.Parallel()

	primary := &fakePrimary{
		searchResult: map[string][]string{"great show": {"777"}},
		details:      map[string]harvest.ShowIdentity{"777": {PrimaryID: "777", SecondaryID: "tt0000777", DisplayName: "Great Show"}},
	}
	r := New(Config{}, memory.New(), primary, &fakeSecondary{}, zap.NewNop())

	// Year-scoped search finds nothing; the year-less retry succeeds.
	id, err := r.Resolve(context.Background(), "great show", 2020)
	require.NoError(t, err)
	require.Equal(t, "777", id.PrimaryID)
}

func TestResolveSecondaryWaterfall(t *testing.T) {
	t.Parallel()

	primary := &fakePrimary{
		details:    map[string]harvest.ShowIdentity{},
		byExternal: map[string]harvest.ShowIdentity{"tt14452776": fullIdentity},
	}
	secondary := &fakeSecondary{result: "tt14452776"}
	r := New(Config{}, memory.New(), primary, secondary, zap.NewNop())

	id, err := r.Resolve(context.Background(), "mercy for none", 0)
	require.NoError(t, err)
	require.Equal(t, fullIdentity, id)
	require.Equal(t, 1, secondary.calls)
	require.Equal(t, 1, primary.findCalls)
}

func TestResolveRejectsPartialIdentity(t *testing.T) {
	t.Parallel()

	// Details lack the cross-referenced secondary id, so the candidate never
	// satisfies the two-id requirement.
	primary := &fakePrimary{
		searchResult: map[string][]string{"great show": {"777"}},
		details:      map[string]harvest.ShowIdentity{"777": {PrimaryID: "777", DisplayName: "Great Show"}},
	}
	r := New(Config{}, memory.New(), primary, &fakeSecondary{}, zap.NewNop())

	_, err := r.Resolve(context.Background(), "great show", 0)
	var resErr *harvest.ResolutionError
	require.ErrorAs(t, err, &resErr)
	require.Equal(t, harvest.ReasonNoMetadataMatch, resErr.Reason)
}

func TestResolveEmptyKey(t *testing.T) {
	t.Parallel()

	r := New(Config{}, memory.New(), &fakePrimary{}, &fakeSecondary{}, zap.NewNop())

	_, err := r.Resolve(context.Background(), "", 0)
	var resErr *harvest.ResolutionError
	require.ErrorAs(t, err, &resErr)
	require.Equal(t, harvest.ReasonBadTitle, resErr.Reason)
}

func TestResolveTimeoutReason(t *testing.T) {
	t.Parallel()

	primary := &fakePrimary{err: &harvest.TransientError{Err: errors.New("gateway timeout")}}
	r := New(Config{}, memory.New(), primary, &fakeSecondary{err: errors.New("unreachable")}, zap.NewNop())

	_, err := r.Resolve(context.Background(), "great show", 0)
	var resErr *harvest.ResolutionError
	require.ErrorAs(t, err, &resErr)
	require.Equal(t, harvest.ReasonAPITimeout, resErr.Reason)
}

func TestResolveHint(t *testing.T) {
	t.Parallel()

	primary := &fakePrimary{
		details: map[string]harvest.ShowIdentity{"93405": fullIdentity},
	}
	cfg := Config{Hints: map[string]string{"mercy for none": "93405"}}
	r := New(cfg, memory.New(), primary, &fakeSecondary{}, zap.NewNop())

	id, err := r.Resolve(context.Background(), "mercy for none", 0)
	require.NoError(t, err)
	require.Equal(t, fullIdentity, id)
	require.Equal(t, 0, primary.searchCalls, "hint skips the search stages")

	// The hint's cached identity keeps later resolutions off the network.
	before := primary.calls()
	_, err = r.Resolve(context.Background(), "mercy for none", 0)
	require.NoError(t, err)
	require.Equal(t, before, primary.calls())
}
