package syncbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/teleregnet/syncbridge/conflict"
	"github.com/teleregnet/syncbridge/diff"
	syncErrors "github.com/teleregnet/syncbridge/errors"
	"github.com/teleregnet/syncbridge/fetch"
	"github.com/teleregnet/syncbridge/notify"
	"github.com/teleregnet/syncbridge/record"
	"github.com/teleregnet/syncbridge/session"
)

// SyncResult is the aggregate outcome returned to the caller. Business-level
// failures land in Errors; StartSync only returns a non-nil error for
// invalid input or store malfunction.
type SyncResult struct {
	Success             bool     `json:"success"`
	SyncSessionID       string   `json:"sync_session_id,omitempty"`
	OperationsProcessed int      `json:"operations_processed"`
	ConflictsDetected   int      `json:"conflicts_detected"`
	Errors              []string `json:"errors,omitempty"`

	// Code classifies a session-wide business failure (guard rejection,
	// fetch failure) so callers can branch without parsing error strings.
	Code syncErrors.ErrorCode `json:"code,omitempty"`
}

// StartSync runs one synchronization session for an agency: acquire the
// session guard, fetch the remote snapshot, diff every matched record, apply
// non-conflicting changes, persist conflicts, and close the session. The
// session is guaranteed to reach a terminal state even on panic; it is never
// left running with the agency guard held.
func (e *Engine) StartSync(ctx context.Context, agencyID string, cfg fetch.Config) (*SyncResult, error) {
	result := &SyncResult{}
	start := time.Now()

	sess, err := e.sessions.Start(ctx, agencyID)
	if err != nil {
		if errors.Is(err, syncErrors.ErrSessionAlreadyActive) {
			result.Code = syncErrors.ErrCodeSessionActive
			result.Errors = append(result.Errors, err.Error())
			return result, nil
		}
		return result, err
	}
	result.SyncSessionID = sess.ID

	logger := e.logger.With(
		slog.String("session_id", sess.ID),
		slog.String("agency_id", agencyID))
	logger.Info("sync started")
	e.broker.Publish(ctx, notify.Event{
		Type: notify.EventSyncStarted, AgencyID: agencyID, SessionID: sess.ID,
	})

	// A panic mid-run must still terminate the session and release the
	// agency guard before propagating to the caller.
	defer func() {
		if r := recover(); r != nil {
			e.failSession(context.WithoutCancel(ctx), sess.ID, agencyID, result, fmt.Sprintf("panic: %v", r))
			panic(r)
		}
	}()

	defer func() {
		e.metrics.RecordSyncDuration(agencyID, time.Since(start))
		e.metrics.RecordSyncOps(agencyID, result.OperationsProcessed)
		if result.ConflictsDetected > 0 {
			e.metrics.RecordConflicts(agencyID, result.ConflictsDetected)
		}
	}()

	if err := e.sessions.UpdateStatus(ctx, sess.ID, session.StatusRunning, session.Stats{}); err != nil {
		e.failSession(ctx, sess.ID, agencyID, result, err.Error())
		return result, nil
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = e.fetchTimeout
	}
	snapshot, outcome, fetchErrMsg, fetchCode := e.fetchSnapshot(ctx, sess.ID, agencyID, cfg)
	switch outcome {
	case fetchStopped:
		logger.Info("sync stopped during fetch")
		return result, nil
	case fetchFailed:
		result.Code = fetchCode
		result.Errors = append(result.Errors, fetchErrMsg)
		return result, nil
	}

	logger.Debug("snapshot fetched", slog.Int("remote_records", len(snapshot)))

	locals, err := e.records.ListByAgency(ctx, agencyID)
	if err != nil {
		e.failSession(ctx, sess.ID, agencyID, result, err.Error())
		return result, nil
	}
	byKey := make(map[string]*record.SyncRecord, len(locals))
	for i := range locals {
		byKey[locals[i].ExternalKey] = &locals[i]
	}

	for offset := 0; offset < len(snapshot); offset += e.batchSize {
		if e.sessions.IsStopped(ctx, sess.ID) {
			// Already-applied writes stay in place; partial progress is
			// reflected in the session counters.
			logger.Info("sync stopped mid-run",
				slog.Int("operations_processed", result.OperationsProcessed))
			return result, nil
		}

		end := offset + e.batchSize
		if end > len(snapshot) {
			end = len(snapshot)
		}

		var stats session.Stats
		for _, remote := range snapshot[offset:end] {
			ops, conflicts, errs := e.applyRecord(ctx, sess.ID, agencyID, byKey[remote.ExternalKey], remote)
			stats.OperationsProcessed += ops
			stats.ConflictsDetected += conflicts
			stats.Errors = append(stats.Errors, errs...)
		}

		result.OperationsProcessed += stats.OperationsProcessed
		result.ConflictsDetected += stats.ConflictsDetected
		result.Errors = append(result.Errors, stats.Errors...)
		if err := e.sessions.UpdateStatus(ctx, sess.ID, session.StatusRunning, stats); err != nil {
			if errors.Is(err, syncErrors.ErrSessionTerminal) {
				// Stopped concurrently between the check and the update.
				return result, nil
			}
			e.failSession(ctx, sess.ID, agencyID, result, err.Error())
			return result, nil
		}
	}

	if err := e.sessions.UpdateStatus(ctx, sess.ID, session.StatusCompleted, session.Stats{}); err != nil {
		if errors.Is(err, syncErrors.ErrSessionTerminal) {
			return result, nil
		}
		e.failSession(ctx, sess.ID, agencyID, result, err.Error())
		return result, nil
	}

	result.Success = true
	logger.Info("sync completed",
		slog.Int("operations_processed", result.OperationsProcessed),
		slog.Int("conflicts_detected", result.ConflictsDetected),
		slog.Int("record_errors", len(result.Errors)),
		slog.Duration("duration", time.Since(start)))
	e.broker.Publish(ctx, notify.Event{
		Type: notify.EventSyncCompleted, AgencyID: agencyID, SessionID: sess.ID,
		Payload: map[string]any{
			"operations_processed": result.OperationsProcessed,
			"conflicts_detected":   result.ConflictsDetected,
		},
	})
	return result, nil
}

type fetchOutcome int

const (
	fetchOK fetchOutcome = iota
	fetchFailed
	fetchStopped
)

// fetchSnapshot runs the bounded fetch while polling for an external stop
// request, so StopSync can release the agency immediately even when the
// remote source hangs.
func (e *Engine) fetchSnapshot(ctx context.Context, sessionID, agencyID string, cfg fetch.Config) ([]record.RemoteRecord, fetchOutcome, string, syncErrors.ErrorCode) {
	type fetched struct {
		records []record.RemoteRecord
		err     error
	}

	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan fetched, 1)
	go func() {
		records, err := fetch.WithTimeout(fetchCtx, e.fetcher, agencyID, cfg)
		done <- fetched{records, err}
	}()

	ticker := time.NewTicker(e.stopPoll)
	defer ticker.Stop()

	for {
		select {
		case out := <-done:
			if out.err != nil {
				ferr := syncErrors.NewFetchError(out.err)
				e.metrics.RecordSyncErrors(agencyID, string(ferr.Code))
				msg := e.failSessionErr(ctx, sessionID, agencyID, out.err)
				return nil, fetchFailed, msg, ferr.Code
			}
			return out.records, fetchOK, "", ""
		case <-ticker.C:
			if e.sessions.IsStopped(ctx, sessionID) {
				cancel()
				return nil, fetchStopped, "", ""
			}
		case <-ctx.Done():
			msg := e.failSessionErr(context.WithoutCancel(ctx), sessionID, agencyID, ctx.Err())
			return nil, fetchFailed, msg, syncErrors.ErrCodeFetchFailure
		}
	}
}

// applyRecord runs the diff for one remote record and applies its outcome:
// inserts for unmatched records, directed updates for one-sided changes, and
// conflict rows for two-sided ones. Per-record failures are absorbed into
// the returned errors so the batch keeps going.
func (e *Engine) applyRecord(ctx context.Context, sessionID, agencyID string, local *record.SyncRecord, remote record.RemoteRecord) (ops, conflicts int, errs []string) {
	now := time.Now().UTC()
	d := diff.Diff(local, remote)

	switch d.Action {
	case diff.ActionCreate:
		rec := &record.SyncRecord{
			ID:            uuid.NewString(),
			AgencyID:      agencyID,
			ExternalKey:   remote.ExternalKey,
			Fields:        remote.Fields,
			Version:       1,
			UpdatedAt:     now,
			SourceOfTruth: record.SourceRemote,
		}
		rec.MarkSynced(now)
		if err := e.records.Upsert(ctx, rec); err != nil {
			errs = append(errs, fmt.Sprintf("create %s: %v", remote.ExternalKey, err))
			return ops, conflicts, errs
		}
		ops++

	case diff.ActionUpdate:
		firstSync := local.Baseline == nil
		localEditedAt := local.UpdatedAt
		if local.Fields == nil {
			local.Fields = make(map[string]any)
		}
		if local.Baseline == nil {
			local.Baseline = make(map[string]any)
		}
		for _, u := range d.Updates {
			local.Fields[u.Field] = u.RemoteValue
			local.Baseline[u.Field] = u.RemoteValue
		}
		for _, field := range d.Converged {
			local.Baseline[field] = local.Fields[field]
		}

		// firstSync persists even with no field writes: the (possibly empty)
		// baseline must be recorded so later runs classify divergences.
		if len(d.Updates) > 0 || len(d.Converged) > 0 || firstSync {
			if len(d.Updates) > 0 {
				if firstSync {
					local.SourceOfTruth = record.SourceMerged
				} else {
					local.SourceOfTruth = record.SourceRemote
				}
				local.Version++
				local.UpdatedAt = now
			}
			local.LastSyncedAt = now
			if err := e.records.Upsert(ctx, local); err != nil {
				errs = append(errs, fmt.Sprintf("update %s: %v", remote.ExternalKey, err))
			} else if len(d.Updates) > 0 {
				ops++
			}
		}

		for _, fc := range d.Conflicts {
			c := &conflict.ConflictData{
				ID:              uuid.NewString(),
				SessionID:       sessionID,
				RecordID:        local.ID,
				AgencyID:        agencyID,
				Field:           fc.Field,
				LocalValue:      fc.LocalValue,
				RemoteValue:     fc.RemoteValue,
				LocalUpdatedAt:  localEditedAt,
				RemoteUpdatedAt: remote.UpdatedAt,
				Status:          conflict.StatusPending,
				CreatedAt:       now,
			}
			if err := e.conflicts.Record(ctx, c); err != nil {
				errs = append(errs, fmt.Sprintf("conflict %s.%s: %v", remote.ExternalKey, fc.Field, err))
				continue
			}
			conflicts++
			e.broker.Publish(ctx, notify.Event{
				Type: notify.EventConflictDetected, AgencyID: agencyID, SessionID: sessionID,
				Payload: map[string]any{"record_id": local.ID, "field": fc.Field},
			})
		}
	}

	return ops, conflicts, errs
}

func (e *Engine) failSessionErr(ctx context.Context, sessionID, agencyID string, cause error) string {
	msg := cause.Error()
	if errors.Is(cause, syncErrors.ErrFetchTimeout) {
		msg = "timeout"
	}
	e.failSessionMsg(ctx, sessionID, agencyID, msg)
	return msg
}

func (e *Engine) failSession(ctx context.Context, sessionID, agencyID string, result *SyncResult, msg string) {
	result.Success = false
	result.Errors = append(result.Errors, msg)
	e.failSessionMsg(ctx, sessionID, agencyID, msg)
}

// failSessionMsg marks a session failed and publishes the failure. A session
// already stopped or failed is left alone.
func (e *Engine) failSessionMsg(ctx context.Context, sessionID, agencyID string, msg string) {
	err := e.sessions.UpdateStatus(ctx, sessionID, session.StatusFailed, session.Stats{Errors: []string{msg}})
	if err != nil && !errors.Is(err, syncErrors.ErrSessionTerminal) {
		e.logger.Error("failed to mark session failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()))
	}
	e.broker.Publish(ctx, notify.Event{
		Type: notify.EventSyncFailed, AgencyID: agencyID, SessionID: sessionID,
		Payload: map[string]any{"error": msg},
	})
}
