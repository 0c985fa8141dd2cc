package conflict

import (
	"context"
	"errors"
	"log/slog"
	"time"

	syncErrors "github.com/teleregnet/syncbridge/errors"
	"github.com/teleregnet/syncbridge/logging"
	"github.com/teleregnet/syncbridge/metrics"
	"github.com/teleregnet/syncbridge/record"
)

// BatchResult summarizes one auto-resolve pass. Failed counts conflicts that
// still require attention: apply failures and manual-strategy conflicts.
type BatchResult struct {
	Resolved int `json:"resolved"`
	Failed   int `json:"failed"`
}

// Resolver applies resolution strategies to stored conflicts and writes the
// winning values back to the record store.
type Resolver struct {
	conflicts Store
	records   record.Store
	logger    *slog.Logger
	metrics   metrics.Collector
	now       func() time.Time
}

// NewResolver creates a Resolver over the given stores.
func NewResolver(conflicts Store, records record.Store, logger *slog.Logger, collector metrics.Collector) *Resolver {
	if logger == nil {
		logger = logging.WithComponent(logging.Component("resolver")).Logger
	}
	if collector == nil {
		collector = &metrics.NoOpCollector{}
	}
	return &Resolver{
		conflicts: conflicts,
		records:   records,
		logger:    logger,
		metrics:   collector,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Resolve applies resolvedValue to the conflicted record field and marks the
// conflict resolved. Returns false when the conflict is already resolved or
// the underlying record was deleted concurrently; in the latter case the
// conflict stays pending.
func (r *Resolver) Resolve(ctx context.Context, conflictID string, resolvedValue any, strategy Strategy, resolvedBy string) (bool, error) {
	if !strategy.Valid() {
		return false, syncErrors.NewInvalidStrategyError(syncErrors.OpResolve, string(strategy))
	}

	c, err := r.conflicts.Get(ctx, conflictID)
	if err != nil {
		if errors.Is(err, syncErrors.ErrConflictNotFound) {
			return false, nil
		}
		return false, err
	}
	if c.Status != StatusPending {
		return false, nil
	}

	status := StatusResolved
	if resolvedBy == "" {
		resolvedBy = "system"
		status = StatusAutoResolved
	}

	return r.apply(ctx, c, Resolution{
		Status:        status,
		Strategy:      strategy,
		ResolvedValue: resolvedValue,
		ResolvedAt:    r.now(),
		ResolvedBy:    resolvedBy,
	})
}

// AutoResolve iterates all pending conflicts for an agency and resolves them
// with the given strategy. Manual conflicts are never auto-resolved; each is
// counted as failed, meaning it requires human input. The pass is safe to
// re-run concurrently: a conflict resolved by another call is skipped via
// the pending-status check, not via locking.
func (r *Resolver) AutoResolve(ctx context.Context, agencyID string, strategy Strategy) (BatchResult, error) {
	var result BatchResult
	if !strategy.Valid() {
		return result, syncErrors.NewInvalidStrategyError(syncErrors.OpAutoResolve, string(strategy))
	}

	pending, err := r.conflicts.Unresolved(ctx, agencyID)
	if err != nil {
		return result, err
	}

	for i := range pending {
		c := pending[i]

		if strategy == StrategyManual {
			result.Failed++
			continue
		}

		value := pickValue(&c, strategy)
		ok, err := r.apply(ctx, &c, Resolution{
			Status:        StatusAutoResolved,
			Strategy:      strategy,
			ResolvedValue: value,
			ResolvedAt:    r.now(),
			ResolvedBy:    "system",
		})
		if err != nil || !ok {
			if err != nil {
				r.logger.LogAttrs(ctx, slog.LevelWarn, "auto-resolve failed for conflict",
					slog.String("conflict_id", c.ID),
					slog.String("error", err.Error()))
			}
			result.Failed++
			continue
		}
		result.Resolved++
	}

	r.metrics.RecordResolutions(string(strategy), result.Resolved, result.Failed)
	r.logger.Info("auto-resolve pass completed",
		slog.String("agency_id", agencyID),
		slog.String("strategy", string(strategy)),
		slog.Int("resolved", result.Resolved),
		slog.Int("failed", result.Failed))
	return result, nil
}

// apply writes the winning value to the record store, then flips the
// conflict status. The record write comes first so an apply failure leaves
// the conflict pending; the status flip is a compare-and-set on pending, so
// a concurrent resolution of the same conflict makes this call return false.
func (r *Resolver) apply(ctx context.Context, c *ConflictData, res Resolution) (bool, error) {
	rec, err := r.records.Get(ctx, c.RecordID)
	if err != nil {
		if errors.Is(err, syncErrors.ErrRecordNotFound) {
			return false, nil
		}
		return false, syncErrors.NewApplyError(syncErrors.OpResolve, err)
	}

	if rec.Fields == nil {
		rec.Fields = make(map[string]any)
	}
	rec.Fields[c.Field] = res.ResolvedValue
	if rec.Baseline == nil {
		rec.Baseline = make(map[string]any)
	}
	rec.Baseline[c.Field] = res.ResolvedValue
	rec.Version++
	rec.UpdatedAt = res.ResolvedAt
	rec.SourceOfTruth = record.SourceMerged

	if err := r.records.Upsert(ctx, rec); err != nil {
		return false, syncErrors.NewApplyError(syncErrors.OpResolve, err)
	}

	if err := r.conflicts.MarkResolved(ctx, c.ID, res); err != nil {
		if errors.Is(err, syncErrors.ErrAlreadyResolved) {
			return false, nil
		}
		return false, err
	}

	r.logger.Debug("conflict resolved",
		slog.String("conflict_id", c.ID),
		slog.String("record_id", c.RecordID),
		slog.String("field", c.Field),
		slog.String("strategy", string(res.Strategy)))
	return true, nil
}

// pickValue chooses the winning value for a deterministic strategy.
func pickValue(c *ConflictData, strategy Strategy) any {
	switch strategy {
	case StrategyLocalWins:
		return c.LocalValue
	case StrategyNewestWins:
		if c.LocalUpdatedAt.After(c.RemoteUpdatedAt) {
			return c.LocalValue
		}
		return c.RemoteValue
	default:
		return c.RemoteValue
	}
}
