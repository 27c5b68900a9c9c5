// Package redisstore implements harvest.Store on a Redis key space.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"streamharvest/internal/harvest"
)

const (
	identityPrefix   = "identity:"
	identityIndexKey = "identity:index"
	streamsPrefix    = "streams:"
	catalogRankKey   = "catalog:series"
	catalogMetaKey   = "catalog:meta"
	threadsKey       = "threads"
	orphansKey       = "orphans"
)

// Store persists pipeline state in Redis. Per-key atomicity comes from the
// server; the orphan swap uses a transactional pipeline.
type Store struct {
	client *redis.Client
}

// Config controls the Redis connection.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Store{client: client}, nil
}

// Close releases the client.
func (s *Store) Close() error {
	return s.client.Close()
}

// GetIdentity reads a cached identity by cache key.
func (s *Store) GetIdentity(ctx context.Context, key string) (harvest.ShowIdentity, error) {
	raw, err := s.client.Get(ctx, identityPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return harvest.ShowIdentity{}, harvest.ErrNotFound
	}
	if err != nil {
		return harvest.ShowIdentity{}, fmt.Errorf("get identity: %w", err)
	}
	var id harvest.ShowIdentity
	if err := json.Unmarshal([]byte(raw), &id); err != nil {
		return harvest.ShowIdentity{}, fmt.Errorf("decode identity: %w", err)
	}
	return id, nil
}

// PutIdentity caches an identity with a TTL.
func (s *Store) PutIdentity(ctx context.Context, key string, id harvest.ShowIdentity, ttl time.Duration) error {
	raw, err := json.Marshal(id)
	if err != nil {
		return fmt.Errorf("encode identity: %w", err)
	}
	if err := s.client.Set(ctx, identityPrefix+key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("set identity: %w", err)
	}
	return nil
}

// IndexIdentity records the canonical-key mapping consumed by reconciliation.
func (s *Store) IndexIdentity(ctx context.Context, canonicalKey string, id harvest.ShowIdentity) error {
	raw, err := json.Marshal(id)
	if err != nil {
		return fmt.Errorf("encode identity: %w", err)
	}
	if err := s.client.HSet(ctx, identityIndexKey, canonicalKey, raw).Err(); err != nil {
		return fmt.Errorf("hset identity index: %w", err)
	}
	return nil
}

// IdentityIndex returns every canonical-key mapping.
func (s *Store) IdentityIndex(ctx context.Context) (map[string]harvest.ShowIdentity, error) {
	fields, err := s.client.HGetAll(ctx, identityIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall identity index: %w", err)
	}
	index := make(map[string]harvest.ShowIdentity, len(fields))
	for key, raw := range fields {
		var id harvest.ShowIdentity
		if err := json.Unmarshal([]byte(raw), &id); err != nil {
			continue // skip records written by incompatible versions
		}
		index[key] = id
	}
	return index, nil
}

func streamsKey(primaryID string, season int) string {
	return streamsPrefix + primaryID + ":" + strconv.Itoa(season)
}

// PutStream upserts one stream record under its show+season hash.
func (s *Store) PutStream(ctx context.Context, primaryID string, stream harvest.StreamDescriptor) error {
	raw, err := json.Marshal(stream)
	if err != nil {
		return fmt.Errorf("encode stream: %w", err)
	}
	if err := s.client.HSet(ctx, streamsKey(primaryID, stream.Season), stream.Key(), raw).Err(); err != nil {
		return fmt.Errorf("hset stream: %w", err)
	}
	return nil
}

// Streams returns all stream records for one show season, ordered by first
// episode then resolution for deterministic output.
func (s *Store) Streams(ctx context.Context, primaryID string, season int) ([]harvest.StreamDescriptor, error) {
	fields, err := s.client.HGetAll(ctx, streamsKey(primaryID, season)).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall streams: %w", err)
	}
	streams := make([]harvest.StreamDescriptor, 0, len(fields))
	for _, raw := range fields {
		var d harvest.StreamDescriptor
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			continue
		}
		streams = append(streams, d)
	}
	sortStreams(streams)
	return streams, nil
}

func sortStreams(streams []harvest.StreamDescriptor) {
	sort.Slice(streams, func(i, j int) bool {
		fi, fj := 0, 0
		if len(streams[i].Episodes) > 0 {
			fi = streams[i].Episodes[0]
		}
		if len(streams[j].Episodes) > 0 {
			fj = streams[j].Episodes[0]
		}
		if fi != fj {
			return fi < fj
		}
		return streams[i].Resolution > streams[j].Resolution
	})
}

// UpsertCatalogEntry writes the year-ranked catalog projection.
func (s *Store) UpsertCatalogEntry(ctx context.Context, entry harvest.CatalogEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode catalog entry: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, catalogRankKey, redis.Z{Score: float64(entry.Year), Member: entry.ID})
	pipe.HSet(ctx, catalogMetaKey, entry.ID, raw)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("upsert catalog entry: %w", err)
	}
	return nil
}

// CatalogByYear returns up to limit entries, newest year first.
func (s *Store) CatalogByYear(ctx context.Context, limit int) ([]harvest.CatalogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	ids, err := s.client.ZRevRange(ctx, catalogRankKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("zrevrange catalog: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	raws, err := s.client.HMGet(ctx, catalogMetaKey, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("hmget catalog meta: %w", err)
	}
	entries := make([]harvest.CatalogEntry, 0, len(raws))
	for _, raw := range raws {
		str, ok := raw.(string)
		if !ok {
			continue
		}
		var e harvest.CatalogEntry
		if err := json.Unmarshal([]byte(str), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// CatalogEntry reads one catalog entry by id.
func (s *Store) CatalogEntry(ctx context.Context, id string) (harvest.CatalogEntry, error) {
	raw, err := s.client.HGet(ctx, catalogMetaKey, id).Result()
	if errors.Is(err, redis.Nil) {
		return harvest.CatalogEntry{}, harvest.ErrNotFound
	}
	if err != nil {
		return harvest.CatalogEntry{}, fmt.Errorf("hget catalog entry: %w", err)
	}
	var e harvest.CatalogEntry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return harvest.CatalogEntry{}, fmt.Errorf("decode catalog entry: %w", err)
	}
	return e, nil
}

// PutThread upserts thread visit state.
func (s *Store) PutThread(ctx context.Context, thread harvest.ThreadDescriptor) error {
	raw, err := json.Marshal(thread)
	if err != nil {
		return fmt.Errorf("encode thread: %w", err)
	}
	if err := s.client.HSet(ctx, threadsKey, thread.URL, raw).Err(); err != nil {
		return fmt.Errorf("hset thread: %w", err)
	}
	return nil
}

// GetThread reads one thread by URL.
func (s *Store) GetThread(ctx context.Context, url string) (harvest.ThreadDescriptor, error) {
	raw, err := s.client.HGet(ctx, threadsKey, url).Result()
	if errors.Is(err, redis.Nil) {
		return harvest.ThreadDescriptor{}, harvest.ErrNotFound
	}
	if err != nil {
		return harvest.ThreadDescriptor{}, fmt.Errorf("hget thread: %w", err)
	}
	var t harvest.ThreadDescriptor
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return harvest.ThreadDescriptor{}, fmt.Errorf("decode thread: %w", err)
	}
	return t, nil
}

// Threads returns every known thread.
func (s *Store) Threads(ctx context.Context) ([]harvest.ThreadDescriptor, error) {
	fields, err := s.client.HGetAll(ctx, threadsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall threads: %w", err)
	}
	threads := make([]harvest.ThreadDescriptor, 0, len(fields))
	for _, raw := range fields {
		var t harvest.ThreadDescriptor
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			continue
		}
		threads = append(threads, t)
	}
	return threads, nil
}

// AppendOrphan pushes one orphan record onto the ledger.
func (s *Store) AppendOrphan(ctx context.Context, rec harvest.OrphanRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode orphan: %w", err)
	}
	if err := s.client.RPush(ctx, orphansKey, raw).Err(); err != nil {
		return fmt.Errorf("rpush orphan: %w", err)
	}
	return nil
}

// Orphans reads the full ledger. The returned entry count covers every raw
// list element, decodable or not, so callers trimming the read prefix drop
// corrupt entries instead of duplicating survivors past them.
func (s *Store) Orphans(ctx context.Context) ([]harvest.OrphanRecord, int, error) {
	raws, err := s.client.LRange(ctx, orphansKey, 0, -1).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("lrange orphans: %w", err)
	}
	orphans := make([]harvest.OrphanRecord, 0, len(raws))
	for _, raw := range raws {
		var o harvest.OrphanRecord
		if err := json.Unmarshal([]byte(raw), &o); err != nil {
			continue
		}
		orphans = append(orphans, o)
	}
	return orphans, len(raws), nil
}

// ReplaceOrphans swaps the processed prefix of the ledger for the survivor
// list in one transaction. Records appended while the pass was running sit
// past the observed prefix and are kept; rescued records cannot resurrect.
func (s *Store) ReplaceOrphans(ctx context.Context, survivors []harvest.OrphanRecord, observed int) error {
	encoded := make([]any, 0, len(survivors))
	for i := len(survivors) - 1; i >= 0; i-- { // LPush reverses, pre-reverse here
		raw, err := json.Marshal(survivors[i])
		if err != nil {
			return fmt.Errorf("encode orphan: %w", err)
		}
		encoded = append(encoded, raw)
	}
	pipe := s.client.TxPipeline()
	pipe.LTrim(ctx, orphansKey, int64(observed), -1)
	if len(encoded) > 0 {
		pipe.LPush(ctx, orphansKey, encoded...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("replace orphans: %w", err)
	}
	return nil
}
