// Package syncbridge reconciles each agency's canonical records against
// snapshots harvested from that agency's external systems. It owns the sync
// session lifecycle, field-level diffing, conflict persistence, and the
// resolution strategies applied to conflicts after the fact.
package syncbridge

import (
	"context"
	"log/slog"
	"time"

	"github.com/teleregnet/syncbridge/conflict"
	"github.com/teleregnet/syncbridge/fetch"
	"github.com/teleregnet/syncbridge/logging"
	"github.com/teleregnet/syncbridge/metrics"
	"github.com/teleregnet/syncbridge/notify"
	"github.com/teleregnet/syncbridge/record"
	"github.com/teleregnet/syncbridge/session"
)

// Engine is the API surface the portal's UI layer consumes. All mutations of
// records and conflicts funnel through it; reads go straight to the stores
// and are lock-free.
type Engine struct {
	sessions  *session.Manager
	records   record.Store
	conflicts conflict.Store
	resolver  *conflict.Resolver
	fetcher   fetch.SnapshotFetcher
	broker    *notify.Broker

	logger  *slog.Logger
	metrics metrics.Collector

	fetchTimeout time.Duration
	batchSize    int
	stopPoll     time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(collector metrics.Collector) Option {
	return func(e *Engine) { e.metrics = collector }
}

// WithSinks registers notification sinks on the engine's broker.
func WithSinks(sinks ...notify.Sink) Option {
	return func(e *Engine) { e.broker = notify.NewBroker(nil, sinks...) }
}

// WithFetchTimeout sets the default snapshot fetch timeout used when a sync
// config leaves it unset.
func WithFetchTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.fetchTimeout = d
		}
	}
}

// WithBatchSize sets how many remote records are processed between
// cooperative stop checks.
func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithStopPollInterval sets how often a running fetch is checked against an
// external stop request.
func WithStopPollInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.stopPoll = d
		}
	}
}

// New assembles an Engine over the given stores and snapshot fetcher.
func New(sessions session.Store, records record.Store, conflicts conflict.Store, fetcher fetch.SnapshotFetcher, opts ...Option) *Engine {
	e := &Engine{
		records:      records,
		conflicts:    conflicts,
		fetcher:      fetcher,
		logger:       logging.WithComponent(logging.Component("engine")).Logger,
		metrics:      &metrics.NoOpCollector{},
		fetchTimeout: fetch.DefaultTimeout,
		batchSize:    50,
		stopPoll:     100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.broker == nil {
		e.broker = notify.NewBroker(nil)
	}
	e.sessions = session.NewManager(sessions, e.logger)
	e.resolver = conflict.NewResolver(conflicts, records, e.logger, e.metrics)
	return e
}

// Restore rebuilds the per-agency session guard after a restart.
func (e *Engine) Restore(ctx context.Context, agencyIDs []string) error {
	return e.sessions.Restore(ctx, agencyIDs)
}

// Subscribe registers an in-process listener for engine events and returns
// its unsubscribe function. Polling dashboards are just one consumer of
// this; the engine assumes no particular refresh cadence.
func (e *Engine) Subscribe(fn func(notify.Event)) func() {
	return e.broker.Subscribe(fn)
}

// StopSync requests cooperative cancellation of a session. It returns true
// only when the session was still pending or running; stopping a terminal
// session is a harmless no-op returning false.
func (e *Engine) StopSync(ctx context.Context, sessionID string) (bool, error) {
	stopped, err := e.sessions.Stop(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if stopped {
		sess, gerr := e.sessions.Get(ctx, sessionID)
		agencyID := ""
		if gerr == nil {
			agencyID = sess.AgencyID
		}
		e.broker.Publish(ctx, notify.Event{
			Type:      notify.EventSyncStopped,
			AgencyID:  agencyID,
			SessionID: sessionID,
		})
	}
	return stopped, nil
}

// DeleteRecord removes one canonical record. Record removal never travels
// through synchronization (a record vanishing from a snapshot is not a
// deletion); this is the explicit operator-driven path.
func (e *Engine) DeleteRecord(ctx context.Context, recordID string) (bool, error) {
	deleted, err := e.records.Delete(ctx, recordID)
	if err != nil {
		return false, err
	}
	if deleted {
		e.logger.Info("record deleted", slog.String("record_id", recordID))
		e.broker.Publish(ctx, notify.Event{
			Type:    notify.EventRecordDeleted,
			Payload: map[string]any{"record_id": recordID},
		})
	}
	return deleted, nil
}

// GetActiveSessions returns the sessions in {pending, running} for one agency.
func (e *Engine) GetActiveSessions(ctx context.Context, agencyID string) ([]session.SyncSession, error) {
	return e.sessions.Active(ctx, agencyID)
}

// GetUnresolvedConflicts returns the pending conflicts for one agency.
func (e *Engine) GetUnresolvedConflicts(ctx context.Context, agencyID string) ([]conflict.ConflictData, error) {
	return e.conflicts.Unresolved(ctx, agencyID)
}

// GetResolutionStats returns the derived resolution aggregate for one agency.
func (e *Engine) GetResolutionStats(ctx context.Context, agencyID string) (conflict.Stats, error) {
	return e.conflicts.Stats(ctx, agencyID)
}

// GetConflictHistory returns all conflicts for one agency regardless of
// status, most recently touched first.
func (e *Engine) GetConflictHistory(ctx context.Context, agencyID string) ([]conflict.ConflictData, error) {
	return e.conflicts.History(ctx, agencyID)
}

// ResolveConflict applies resolvedValue to the conflicted record and marks
// the conflict resolved, stamped with resolvedBy.
func (e *Engine) ResolveConflict(ctx context.Context, conflictID string, resolvedValue any, strategy conflict.Strategy, resolvedBy string) (bool, error) {
	ok, err := e.resolver.Resolve(ctx, conflictID, resolvedValue, strategy, resolvedBy)
	if ok {
		e.broker.Publish(ctx, notify.Event{
			Type:    notify.EventConflictResolved,
			Payload: map[string]any{"conflict_id": conflictID, "strategy": string(strategy)},
		})
	}
	return ok, err
}

// AutoResolveConflicts resolves every pending conflict for an agency with
// the given strategy. Manual conflicts are counted as failed and left for
// human review.
func (e *Engine) AutoResolveConflicts(ctx context.Context, agencyID string, strategy conflict.Strategy) (conflict.BatchResult, error) {
	result, err := e.resolver.AutoResolve(ctx, agencyID, strategy)
	if err == nil && result.Resolved > 0 {
		e.broker.Publish(ctx, notify.Event{
			Type:     notify.EventConflictResolved,
			AgencyID: agencyID,
			Payload:  map[string]any{"resolved": result.Resolved, "failed": result.Failed, "strategy": string(strategy)},
		})
	}
	return result, err
}
