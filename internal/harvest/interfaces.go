package harvest

import (
	"context"
	"time"
)

// ThreadLink is one discovered listing entry.
type ThreadLink struct {
	URL   string
	Title string
}

// ThreadPage is the extracted content of a single thread.
type ThreadPage struct {
	Title     string
	PosterURL string
	Magnets   []string
}

// ThreadFetcher retrieves listing pages and thread content.
// FetchListing returns ErrNotFound past the last page; FetchThread returns
// ErrNotFound for removed threads.
type ThreadFetcher interface {
	FetchListing(ctx context.Context, page int) ([]ThreadLink, error)
	FetchThread(ctx context.Context, url string) (ThreadPage, error)
}

// Store is the narrow key-value persistence contract the pipeline consumes.
// Implementations are expected to make each operation atomic; concurrent
// writers to the same identity converge via idempotent upserts.
type Store interface {
	// Identity cache with TTL, keyed by cache key composed by the resolver.
	GetIdentity(ctx context.Context, key string) (ShowIdentity, error)
	PutIdentity(ctx context.Context, key string, id ShowIdentity, ttl time.Duration) error

	// Canonical-key index, the reconciliation snapshot source.
	IndexIdentity(ctx context.Context, canonicalKey string, id ShowIdentity) error
	IdentityIndex(ctx context.Context) (map[string]ShowIdentity, error)

	// Stream records per show+season.
	PutStream(ctx context.Context, primaryID string, stream StreamDescriptor) error
	Streams(ctx context.Context, primaryID string, season int) ([]StreamDescriptor, error)

	// Year-ranked catalog.
	UpsertCatalogEntry(ctx context.Context, entry CatalogEntry) error
	CatalogByYear(ctx context.Context, limit int) ([]CatalogEntry, error)
	CatalogEntry(ctx context.Context, id string) (CatalogEntry, error)

	// Thread visit state.
	PutThread(ctx context.Context, thread ThreadDescriptor) error
	GetThread(ctx context.Context, url string) (ThreadDescriptor, error)
	Threads(ctx context.Context) ([]ThreadDescriptor, error)

	// Orphan ledger: append live, swap during reconciliation. Orphans also
	// returns the raw entry count it read, which can exceed len(records)
	// when stored entries fail to decode. ReplaceOrphans drops exactly that
	// observed prefix and re-inserts the survivors, so appends racing the
	// pass are kept and undecodable entries cannot skew the trim.
	AppendOrphan(ctx context.Context, rec OrphanRecord) error
	Orphans(ctx context.Context) (records []OrphanRecord, entries int, err error)
	ReplaceOrphans(ctx context.Context, survivors []OrphanRecord, observed int) error
}

// PrimaryProvider is the main external metadata source. Search returns
// candidate ids; details carry the cross-referenced secondary id.
type PrimaryProvider interface {
	SearchByTitle(ctx context.Context, title string, year int) ([]string, error)
	GetDetails(ctx context.Context, id string) (ShowIdentity, error)
	FindBySecondaryID(ctx context.Context, secondaryID string) (ShowIdentity, error)
}

// SecondaryProvider yields a secondary id directly from a title search.
type SecondaryProvider interface {
	SearchByTitle(ctx context.Context, title string) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
