// Package worker implements the per-thread harvest pipeline: fetch, parse,
// resolve, persist or park.
package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"streamharvest/internal/harvest"
	"streamharvest/internal/metrics"
	"streamharvest/internal/orphan"
	"streamharvest/internal/parser"
	"streamharvest/internal/resolver"
)

// Worker processes one discovered thread end-to-end. Every failure below the
// fetch layer is downgraded to an orphan record rather than aborting the
// batch.
type Worker struct {
	fetcher  harvest.ThreadFetcher
	parser   *parser.Parser
	resolver *resolver.Resolver
	ledger   *orphan.Ledger
	store    harvest.Store
	clock    harvest.Clock
	logger   *zap.Logger
}

// New constructs a Worker.
func New(
	fetcher harvest.ThreadFetcher,
	p *parser.Parser,
	r *resolver.Resolver,
	ledger *orphan.Ledger,
	store harvest.Store,
	clock harvest.Clock,
	logger *zap.Logger,
) *Worker {
	return &Worker{
		fetcher:  fetcher,
		parser:   p,
		resolver: r,
		ledger:   ledger,
		store:    store,
		clock:    clock,
		logger:   logger,
	}
}

// ProcessThread fetches one thread and turns its magnets into stream records
// or orphans. The thread's visit timestamp advances on every completed
// attempt, including fetch failures, so a permanently broken page is not
// hot-looped.
func (w *Worker) ProcessThread(ctx context.Context, link harvest.ThreadLink) error {
	page, err := w.fetcher.FetchThread(ctx, link.URL)
	if err != nil {
		w.touchThread(ctx, link, nil)
		metrics.ThreadProcessed("fetch_error")
		if errors.Is(err, harvest.ErrNotFound) {
			w.logger.Info("thread gone", zap.String("url", link.URL))
			return nil
		}
		return fmt.Errorf("fetch thread %s: %w", link.URL, err)
	}

	title := page.Title
	if title == "" {
		title = link.Title
	}
	if title == "" || len(page.Magnets) == 0 {
		// HTML missing required fields; skip but advance the timestamp.
		w.touchThread(ctx, link, &page)
		metrics.ThreadProcessed("parse_error")
		w.logger.Warn("thread missing title or magnets", zap.String("url", link.URL))
		return nil
	}

	key := parser.Normalize(title)
	year := parser.ExtractYear(title)

	var (
		identity   harvest.ShowIdentity
		failReason harvest.OrphanReason
	)
	if key == "" {
		failReason = harvest.ReasonBadTitle
	} else {
		id, rerr := w.resolver.Resolve(ctx, key, year)
		if rerr != nil {
			failReason = resolutionReason(rerr)
			w.logger.Info("thread unresolved",
				zap.String("url", link.URL),
				zap.String("canonical_key", key),
				zap.String("reason", string(failReason)),
			)
		} else {
			identity = id
		}
	}

	for _, magnet := range page.Magnets {
		w.processMagnet(ctx, link, title, key, identity, failReason, magnet)
	}

	w.touchThread(ctx, link, &page)
	if failReason != "" {
		metrics.ThreadProcessed("unresolved")
	} else {
		metrics.ThreadProcessed("ok")
	}
	return nil
}

func (w *Worker) processMagnet(
	ctx context.Context,
	link harvest.ThreadLink,
	title, key string,
	identity harvest.ShowIdentity,
	failReason harvest.OrphanReason,
	magnet string,
) {
	infoHash, displayName, err := parser.ParseMagnet(magnet)
	if err != nil {
		metrics.MagnetParsed("invalid")
		w.logger.Warn("invalid magnet", zap.String("url", link.URL), zap.Error(err))
		return
	}

	if failReason != "" {
		w.park(ctx, link, title, key, infoHash, displayName, failReason)
		return
	}

	raw := displayName
	if raw == "" {
		raw = title
	}
	desc, perr := w.parser.Parse(raw)
	if perr != nil && raw != title {
		// The magnet name alone may omit the season marker the thread
		// title carries.
		desc, perr = w.parser.Parse(title)
	}
	if perr != nil {
		metrics.MagnetParsed("no_match")
		w.park(ctx, link, title, key, infoHash, displayName, harvest.ReasonMagnetParseFailed)
		return
	}

	desc.InfoHash = infoHash
	w.enrichFromThread(&desc, title)

	if err := w.store.PutStream(ctx, identity.PrimaryID, desc); err != nil {
		metrics.MagnetParsed("persist_error")
		w.logger.Error("persist stream failed",
			zap.String("info_hash", infoHash),
			zap.String("primary_id", identity.PrimaryID),
			zap.Error(err),
		)
		return
	}
	metrics.MagnetParsed("ok")
	w.logger.Debug("stream persisted",
		zap.String("info_hash", infoHash),
		zap.String("primary_id", identity.PrimaryID),
		zap.Int("season", desc.Season),
		zap.Ints("episodes", desc.Episodes),
	)
}

// enrichFromThread fills resolution and language tags the magnet name omitted
// from the thread title.
func (w *Worker) enrichFromThread(desc *harvest.StreamDescriptor, title string) {
	if desc.Resolution == "" {
		desc.Resolution = parser.Resolution(title)
	}
	if len(desc.Languages) == 1 && desc.Languages[0] == "en" {
		if tags := parser.Languages(title); len(tags) > 0 {
			desc.Languages = tags
		}
	}
}

func (w *Worker) park(ctx context.Context, link harvest.ThreadLink, title, key, infoHash, displayName string, reason harvest.OrphanReason) {
	rec := harvest.OrphanRecord{
		InfoHash:     infoHash,
		DisplayName:  displayName,
		ThreadTitle:  title,
		CanonicalKey: key,
		SourceURL:    link.URL,
		Reason:       reason,
	}
	if err := w.ledger.Record(ctx, rec); err != nil {
		w.logger.Error("record orphan failed", zap.String("info_hash", infoHash), zap.Error(err))
	}
}

// touchThread upserts the thread descriptor with a fresh visit timestamp,
// preserving previously captured content when the fetch produced none.
func (w *Worker) touchThread(ctx context.Context, link harvest.ThreadLink, page *harvest.ThreadPage) {
	thread, err := w.store.GetThread(ctx, link.URL)
	if err != nil {
		thread = harvest.ThreadDescriptor{URL: link.URL, Title: link.Title}
	}
	if page != nil {
		if page.Title != "" {
			thread.Title = page.Title
		}
		if page.PosterURL != "" {
			thread.PosterURL = page.PosterURL
		}
		if len(page.Magnets) > 0 {
			thread.Magnets = page.Magnets
		}
	}
	thread.LastVisitedAt = w.clock.Now()
	if err := w.store.PutThread(ctx, thread); err != nil {
		w.logger.Error("persist thread failed", zap.String("url", link.URL), zap.Error(err))
	}
}

func resolutionReason(err error) harvest.OrphanReason {
	var re *harvest.ResolutionError
	if errors.As(err, &re) {
		return re.Reason
	}
	return harvest.ReasonNoMetadataMatch
}
