// Package orphan records unresolved descriptors and periodically retries
// them against already-known identities.
package orphan

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"streamharvest/internal/harvest"
	"streamharvest/internal/metrics"
	"streamharvest/internal/parser"
)

// Ledger is the orphan store facade used by the pipeline and the
// reconciliation schedule.
type Ledger struct {
	store  harvest.Store
	parser *parser.Parser
	hints  map[string]string
	clock  harvest.Clock
	logger *zap.Logger
}

// New builds a Ledger. hints is the operator-curated canonical-key to
// primary-id map; it wins over cached mappings during reconciliation.
func New(store harvest.Store, p *parser.Parser, hints map[string]string, clock harvest.Clock, logger *zap.Logger) *Ledger {
	return &Ledger{
		store:  store,
		parser: p,
		hints:  hints,
		clock:  clock,
		logger: logger,
	}
}

// Record appends one orphan to the ledger.
func (l *Ledger) Record(ctx context.Context, rec harvest.OrphanRecord) error {
	if rec.Attempts <= 0 {
		rec.Attempts = 1
	}
	if rec.LoggedAt.IsZero() {
		rec.LoggedAt = l.clock.Now()
	}
	if err := l.store.AppendOrphan(ctx, rec); err != nil {
		return fmt.Errorf("append orphan: %w", err)
	}
	metrics.OrphanRecorded(string(rec.Reason))
	l.logger.Info("orphan recorded",
		zap.String("info_hash", rec.InfoHash),
		zap.String("canonical_key", rec.CanonicalKey),
		zap.String("reason", string(rec.Reason)),
	)
	return nil
}

// Reconcile attempts bulk rescue without new external calls. It builds a
// snapshot of known canonical-key mappings (hints win on collision), rescues
// orphans whose key is now known, bumps attempts on the rest, and swaps the
// processed prefix of the ledger in one atomic replace.
func (l *Ledger) Reconcile(ctx context.Context) (rescued, retained int, err error) {
	index, err := l.store.IdentityIndex(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("load identity index: %w", err)
	}
	snapshot := make(map[string]string, len(index)+len(l.hints))
	for key, id := range index {
		if id.PrimaryID != "" {
			snapshot[key] = id.PrimaryID
		}
	}
	for key, id := range l.hints {
		snapshot[key] = id
	}

	orphans, observed, err := l.store.Orphans(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("load orphans: %w", err)
	}

	survivors := make([]harvest.OrphanRecord, 0, len(orphans))
	for _, o := range orphans {
		primaryID, known := snapshot[o.CanonicalKey]
		if known && l.rescue(ctx, o, primaryID) {
			rescued++
			continue
		}
		o.Attempts++
		survivors = append(survivors, o)
	}

	if err := l.store.ReplaceOrphans(ctx, survivors, observed); err != nil {
		return 0, 0, fmt.Errorf("replace orphans: %w", err)
	}
	retained = len(survivors)
	l.logger.Info("reconciliation pass finished",
		zap.Int("rescued", rescued),
		zap.Int("retained", retained),
	)
	return rescued, retained, nil
}

// rescue re-parses the stored descriptor and persists it against the now
// known id. The orphan is dropped only when both steps succeed.
func (l *Ledger) rescue(ctx context.Context, o harvest.OrphanRecord, primaryID string) bool {
	raw := o.DisplayName
	if raw == "" {
		raw = o.ThreadTitle
	}
	desc, err := l.parser.Parse(raw)
	if err != nil {
		return false
	}
	desc.InfoHash = o.InfoHash
	if err := l.store.PutStream(ctx, primaryID, desc); err != nil {
		l.logger.Warn("rescue persist failed",
			zap.String("info_hash", o.InfoHash),
			zap.Error(err),
		)
		return false
	}
	metrics.OrphanRescued()
	l.logger.Info("orphan rescued",
		zap.String("info_hash", o.InfoHash),
		zap.String("primary_id", primaryID),
	)
	return true
}
