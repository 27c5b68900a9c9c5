// Package resolver maps canonical title keys to cross-referenced show
// identities through a staged waterfall.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"streamharvest/internal/harvest"
	"streamharvest/internal/metrics"
)

const defaultCacheTTL = 30 * 24 * time.Hour

// Config controls resolver behavior.
type Config struct {
	// Hints is the operator-curated canonical-key to primary-id map. A hint
	// wins over every scored lookup.
	Hints    map[string]string
	CacheTTL time.Duration
	// MaxCandidates bounds how many search candidates get a detail fetch.
	MaxCandidates int
}

// Resolver resolves canonical keys against the identity cache and the
// external providers, short-circuiting on the first stage that satisfies the
// two-ID requirement.
type Resolver struct {
	cfg       Config
	store     harvest.Store
	primary   harvest.PrimaryProvider
	secondary harvest.SecondaryProvider
	logger    *zap.Logger
}

// New builds a Resolver.
func New(cfg Config, store harvest.Store, primary harvest.PrimaryProvider, secondary harvest.SecondaryProvider, logger *zap.Logger) *Resolver {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = 3
	}
	return &Resolver{
		cfg:       cfg,
		store:     store,
		primary:   primary,
		secondary: secondary,
		logger:    logger,
	}
}

func cacheKey(key string, year int) string {
	if year > 0 {
		return key + ":" + strconv.Itoa(year)
	}
	return key
}

// Resolve runs the waterfall for one canonical key. Stages: manual hint,
// identity cache (keyed by (key, year) then key alone), primary search with
// year, primary search without year, secondary search completed by one extra
// detail fetch. The first usable identity wins, warms the cache and the
// canonical-key index, and refreshes the catalog entry.
func (r *Resolver) Resolve(ctx context.Context, key string, year int) (harvest.ShowIdentity, error) {
	if key == "" {
		return harvest.ShowIdentity{}, &harvest.ResolutionError{Reason: harvest.ReasonBadTitle, Err: errors.New("empty canonical key")}
	}

	if id, ok := r.fromHint(ctx, key); ok {
		return r.finish(ctx, "hint", key, year, id)
	}
	if id, ok := r.fromCache(ctx, key, year); ok {
		metrics.ResolutionStage("cache")
		return id, nil
	}

	var lastErr error
	if year > 0 {
		id, err := r.fromPrimarySearch(ctx, key, year)
		if err == nil {
			return r.finish(ctx, "primary-title-year", key, year, id)
		}
		lastErr = preferTransient(lastErr, err)
	}
	id, err := r.fromPrimarySearch(ctx, key, 0)
	if err == nil {
		return r.finish(ctx, "primary-title", key, year, id)
	}
	lastErr = preferTransient(lastErr, err)

	id, err = r.fromSecondarySearch(ctx, key)
	if err == nil {
		return r.finish(ctx, "secondary-title", key, year, id)
	}
	lastErr = preferTransient(lastErr, err)

	return harvest.ShowIdentity{}, &harvest.ResolutionError{
		Reason: failureReason(lastErr),
		Err:    lastErr,
	}
}

// fromHint resolves an operator hint. A cached identity matching the hinted
// id is preferred so repeated resolutions stay off the network.
func (r *Resolver) fromHint(ctx context.Context, key string) (harvest.ShowIdentity, bool) {
	hintID, ok := r.cfg.Hints[key]
	if !ok {
		return harvest.ShowIdentity{}, false
	}
	if cached, err := r.store.GetIdentity(ctx, cacheKey(key, 0)); err == nil &&
		cached.PrimaryID == hintID && cached.Usable() {
		return cached, true
	}
	id, err := r.primary.GetDetails(ctx, hintID)
	if err != nil || !id.Usable() {
		r.logger.Warn("hint lookup failed",
			zap.String("key", key),
			zap.String("hint_id", hintID),
			zap.Error(err),
		)
		return harvest.ShowIdentity{}, false
	}
	return id, true
}

func (r *Resolver) fromCache(ctx context.Context, key string, year int) (harvest.ShowIdentity, bool) {
	if year > 0 {
		if id, err := r.store.GetIdentity(ctx, cacheKey(key, year)); err == nil && id.Usable() {
			return id, true
		}
	}
	if id, err := r.store.GetIdentity(ctx, cacheKey(key, 0)); err == nil && id.Usable() {
		return id, true
	}
	return harvest.ShowIdentity{}, false
}

func (r *Resolver) fromPrimarySearch(ctx context.Context, key string, year int) (harvest.ShowIdentity, error) {
	candidates, err := r.primary.SearchByTitle(ctx, key, year)
	if err != nil {
		return harvest.ShowIdentity{}, fmt.Errorf("primary search: %w", err)
	}
	if len(candidates) > r.cfg.MaxCandidates {
		candidates = candidates[:r.cfg.MaxCandidates]
	}
	var lastErr error
	for _, candidate := range candidates {
		id, err := r.primary.GetDetails(ctx, candidate)
		if err != nil {
			lastErr = err
			continue
		}
		if id.Usable() {
			return id, nil
		}
	}
	if lastErr != nil {
		return harvest.ShowIdentity{}, fmt.Errorf("primary details: %w", lastErr)
	}
	return harvest.ShowIdentity{}, harvest.ErrNotFound
}

func (r *Resolver) fromSecondarySearch(ctx context.Context, key string) (harvest.ShowIdentity, error) {
	secondaryID, err := r.secondary.SearchByTitle(ctx, key)
	if err != nil {
		return harvest.ShowIdentity{}, fmt.Errorf("secondary search: %w", err)
	}
	id, err := r.primary.FindBySecondaryID(ctx, secondaryID)
	if err != nil {
		return harvest.ShowIdentity{}, fmt.Errorf("complete secondary id %s: %w", secondaryID, err)
	}
	if id.SecondaryID == "" {
		id.SecondaryID = secondaryID
	}
	if !id.Usable() {
		return harvest.ShowIdentity{}, harvest.ErrNotFound
	}
	return id, nil
}

// finish warms the cache and side indexes for a freshly resolved identity.
func (r *Resolver) finish(ctx context.Context, stage, key string, year int, id harvest.ShowIdentity) (harvest.ShowIdentity, error) {
	metrics.ResolutionStage(stage)

	if err := r.store.PutIdentity(ctx, cacheKey(key, 0), id, r.cfg.CacheTTL); err != nil {
		r.logger.Warn("cache identity failed", zap.String("key", key), zap.Error(err))
	}
	if year > 0 {
		if err := r.store.PutIdentity(ctx, cacheKey(key, year), id, r.cfg.CacheTTL); err != nil {
			r.logger.Warn("cache identity failed", zap.String("key", cacheKey(key, year)), zap.Error(err))
		}
	}
	if err := r.store.IndexIdentity(ctx, key, id); err != nil {
		r.logger.Warn("index identity failed", zap.String("key", key), zap.Error(err))
	}
	if err := r.store.UpsertCatalogEntry(ctx, harvest.CatalogEntry{
		ID:     id.PrimaryID,
		Name:   id.DisplayName,
		Poster: id.Poster,
		Year:   id.Year,
	}); err != nil {
		r.logger.Warn("catalog upsert failed", zap.String("id", id.PrimaryID), zap.Error(err))
	}

	r.logger.Debug("identity resolved",
		zap.String("key", key),
		zap.String("stage", stage),
		zap.String("primary_id", id.PrimaryID),
		zap.String("secondary_id", id.SecondaryID),
	)
	return id, nil
}

// preferTransient keeps a timeout-class error over a plain no-match so the
// orphan reason reflects the retryable cause.
func preferTransient(prev, next error) error {
	if prev != nil && (harvest.IsTransient(prev) || errors.Is(prev, context.DeadlineExceeded)) {
		return prev
	}
	if next != nil {
		return next
	}
	return prev
}

func failureReason(err error) harvest.OrphanReason {
	if err == nil {
		return harvest.ReasonNoMetadataMatch
	}
	if errors.Is(err, context.DeadlineExceeded) || harvest.IsTransient(err) {
		return harvest.ReasonAPITimeout
	}
	return harvest.ReasonNoMetadataMatch
}
