// Package memory provides a Store implementation for tests and local runs.
package memory

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"streamharvest/internal/harvest"
)

type cachedIdentity struct {
	identity  harvest.ShowIdentity
	expiresAt time.Time
}

// Store keeps all pipeline state in process memory. It mirrors the Redis
// store's semantics, including TTL expiry and the orphan prefix swap.
type Store struct {
	mu         sync.Mutex
	identities map[string]cachedIdentity
	index      map[string]harvest.ShowIdentity
	streams    map[string]map[string]harvest.StreamDescriptor // primaryID:season -> key -> stream
	catalog    map[string]harvest.CatalogEntry
	threads    map[string]harvest.ThreadDescriptor
	orphans    []harvest.OrphanRecord
	now        func() time.Time
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		identities: map[string]cachedIdentity{},
		index:      map[string]harvest.ShowIdentity{},
		streams:    map[string]map[string]harvest.StreamDescriptor{},
		catalog:    map[string]harvest.CatalogEntry{},
		threads:    map[string]harvest.ThreadDescriptor{},
		now:        time.Now,
	}
}

// SetNow overrides the clock, for TTL tests.
func (s *Store) SetNow(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) GetIdentity(_ context.Context, key string) (harvest.ShowIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.identities[key]
	if !ok || (!c.expiresAt.IsZero() && s.now().After(c.expiresAt)) {
		return harvest.ShowIdentity{}, harvest.ErrNotFound
	}
	return c.identity, nil
}

func (s *Store) PutIdentity(_ context.Context, key string, id harvest.ShowIdentity, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expires time.Time
	if ttl > 0 {
		expires = s.now().Add(ttl)
	}
	s.identities[key] = cachedIdentity{identity: id, expiresAt: expires}
	return nil
}

func (s *Store) IndexIdentity(_ context.Context, canonicalKey string, id harvest.ShowIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index[canonicalKey] = id
	return nil
}

func (s *Store) IdentityIndex(_ context.Context) (map[string]harvest.ShowIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]harvest.ShowIdentity, len(s.index))
	for k, v := range s.index {
		out[k] = v
	}
	return out, nil
}

func streamMapKey(primaryID string, season int) string {
	return primaryID + ":" + strconv.Itoa(season)
}

func (s *Store) PutStream(_ context.Context, primaryID string, stream harvest.StreamDescriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := streamMapKey(primaryID, stream.Season)
	if s.streams[key] == nil {
		s.streams[key] = map[string]harvest.StreamDescriptor{}
	}
	s.streams[key][stream.Key()] = stream
	return nil
}

func (s *Store) Streams(_ context.Context, primaryID string, season int) ([]harvest.StreamDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.streams[streamMapKey(primaryID, season)]
	out := make([]harvest.StreamDescriptor, 0, len(set))
	for _, d := range set {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		fi, fj := 0, 0
		if len(out[i].Episodes) > 0 {
			fi = out[i].Episodes[0]
		}
		if len(out[j].Episodes) > 0 {
			fj = out[j].Episodes[0]
		}
		if fi != fj {
			return fi < fj
		}
		return out[i].Resolution > out[j].Resolution
	})
	return out, nil
}

func (s *Store) UpsertCatalogEntry(_ context.Context, entry harvest.CatalogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog[entry.ID] = entry
	return nil
}

func (s *Store) CatalogByYear(_ context.Context, limit int) ([]harvest.CatalogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]harvest.CatalogEntry, 0, len(s.catalog))
	for _, e := range s.catalog {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year > out[j].Year
		}
		return out[i].Name < out[j].Name
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CatalogEntry(_ context.Context, id string) (harvest.CatalogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.catalog[id]
	if !ok {
		return harvest.CatalogEntry{}, harvest.ErrNotFound
	}
	return e, nil
}

func (s *Store) PutThread(_ context.Context, thread harvest.ThreadDescriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads[thread.URL] = thread
	return nil
}

func (s *Store) GetThread(_ context.Context, url string) (harvest.ThreadDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[url]
	if !ok {
		return harvest.ThreadDescriptor{}, harvest.ErrNotFound
	}
	return t, nil
}

func (s *Store) Threads(_ context.Context) ([]harvest.ThreadDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]harvest.ThreadDescriptor, 0, len(s.threads))
	for _, t := range s.threads {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out, nil
}

func (s *Store) AppendOrphan(_ context.Context, rec harvest.OrphanRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orphans = append(s.orphans, rec)
	return nil
}

func (s *Store) Orphans(_ context.Context) ([]harvest.OrphanRecord, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]harvest.OrphanRecord, len(s.orphans))
	copy(out, s.orphans)
	return out, len(out), nil
}

func (s *Store) ReplaceOrphans(_ context.Context, survivors []harvest.OrphanRecord, observed int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if observed > len(s.orphans) {
		observed = len(s.orphans)
	}
	tail := s.orphans[observed:]
	next := make([]harvest.OrphanRecord, 0, len(survivors)+len(tail))
	next = append(next, survivors...)
	next = append(next, tail...)
	s.orphans = next
	return nil
}
