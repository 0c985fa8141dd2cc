package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/teleregnet/syncbridge/conflict"
	syncErrors "github.com/teleregnet/syncbridge/errors"
)

// ConflictStore is the conflict.Store view over a Store.
type ConflictStore struct {
	store *Store
}

var _ conflict.Store = (*ConflictStore)(nil)

const conflictColumns = `id, session_id, record_id, agency_id, field, local_value, remote_value,
    local_updated_at, remote_updated_at, status, created_at,
    resolution_strategy, resolved_value, resolved_at, resolved_by`

// Record persists a detected conflict. An existing pending conflict for the
// same (record_id, field) is superseded in place, so repeated sync runs
// update the open conflict instead of accumulating duplicates.
func (s *ConflictStore) Record(ctx context.Context, c *conflict.ConflictData) error {
	if c.ID == "" || c.RecordID == "" || c.Field == "" {
		return syncErrors.NewValidationError(syncErrors.OpStore, fmt.Errorf("conflict id, record id and field are required"))
	}

	localVal, err := marshalJSON(c.LocalValue)
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, err)
	}
	remoteVal, err := marshalJSON(c.RemoteValue)
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, err)
	}

	res, err := s.store.db.ExecContext(ctx, `
        UPDATE sync_conflicts
        SET session_id = ?, local_value = ?, remote_value = ?,
            local_updated_at = ?, remote_updated_at = ?, created_at = ?
        WHERE record_id = ? AND field = ? AND status = ?`,
		c.SessionID, localVal, remoteVal, c.LocalUpdatedAt, c.RemoteUpdatedAt, c.CreatedAt,
		c.RecordID, c.Field, string(conflict.StatusPending))
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, err)
	} else if n > 0 {
		return nil
	}

	_, err = s.store.db.ExecContext(ctx, `
        INSERT INTO sync_conflicts (id, session_id, record_id, agency_id, field,
            local_value, remote_value, local_updated_at, remote_updated_at, status, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.SessionID, c.RecordID, c.AgencyID, c.Field,
		localVal, remoteVal, c.LocalUpdatedAt, c.RemoteUpdatedAt,
		string(conflict.StatusPending), c.CreatedAt)
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, err)
	}
	return nil
}

// Get retrieves one conflict by id.
func (s *ConflictStore) Get(ctx context.Context, id string) (*conflict.ConflictData, error) {
	row := s.store.db.QueryRowContext(ctx,
		`SELECT `+conflictColumns+` FROM sync_conflicts WHERE id = ?`, id)

	c, err := scanConflict(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", syncErrors.ErrConflictNotFound, id)
	}
	if err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpLoad, err)
	}
	return c, nil
}

// Unresolved retrieves pending conflicts for one agency, oldest first.
func (s *ConflictStore) Unresolved(ctx context.Context, agencyID string) ([]conflict.ConflictData, error) {
	return s.query(ctx, `
        SELECT `+conflictColumns+` FROM sync_conflicts
        WHERE agency_id = ? AND status = ?
        ORDER BY created_at`,
		agencyID, string(conflict.StatusPending))
}

// History retrieves all conflicts for one agency regardless of status, most
// recently touched first.
func (s *ConflictStore) History(ctx context.Context, agencyID string) ([]conflict.ConflictData, error) {
	return s.query(ctx, `
        SELECT `+conflictColumns+` FROM sync_conflicts
        WHERE agency_id = ?
        ORDER BY COALESCE(resolved_at, created_at) DESC`,
		agencyID)
}

// Stats recomputes the resolution aggregate for one agency on every read, so
// the counters cannot drift from the underlying rows.
func (s *ConflictStore) Stats(ctx context.Context, agencyID string) (conflict.Stats, error) {
	var stats conflict.Stats
	rows, err := s.store.db.QueryContext(ctx, `
        SELECT status, COUNT(*) FROM sync_conflicts
        WHERE agency_id = ? GROUP BY status`, agencyID)
	if err != nil {
		return stats, syncErrors.NewStorageError(syncErrors.OpLoad, err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return stats, syncErrors.NewStorageError(syncErrors.OpLoad, err)
		}
		stats.Total += count
		switch conflict.Status(status) {
		case conflict.StatusPending:
			stats.Pending += count
		case conflict.StatusResolved:
			stats.Resolved += count
		case conflict.StatusAutoResolved:
			stats.AutoResolved += count
		}
	}
	if err := rows.Err(); err != nil {
		return stats, syncErrors.NewStorageError(syncErrors.OpLoad, err)
	}
	return stats, nil
}

// MarkResolved transitions a conflict from pending to the given resolution
// with a conditional update, making concurrent resolutions race-safe: the
// loser sees zero affected rows and gets ErrAlreadyResolved.
func (s *ConflictStore) MarkResolved(ctx context.Context, id string, res conflict.Resolution) error {
	resolvedVal, err := marshalJSON(res.ResolvedValue)
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, err)
	}

	result, err := s.store.db.ExecContext(ctx, `
        UPDATE sync_conflicts
        SET status = ?, resolution_strategy = ?, resolved_value = ?, resolved_at = ?, resolved_by = ?
        WHERE id = ? AND status = ?`,
		string(res.Status), string(res.Strategy), resolvedVal, res.ResolvedAt, res.ResolvedBy,
		id, string(conflict.StatusPending))
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, err)
	}
	if n == 0 {
		if _, gerr := s.Get(ctx, id); gerr != nil {
			return gerr
		}
		return fmt.Errorf("%w: %s", syncErrors.ErrAlreadyResolved, id)
	}
	return nil
}

func (s *ConflictStore) query(ctx context.Context, query string, args ...any) ([]conflict.ConflictData, error) {
	rows, err := s.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpLoad, err)
	}
	defer rows.Close()

	var out []conflict.ConflictData
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, syncErrors.NewStorageError(syncErrors.OpLoad, err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpLoad, err)
	}
	return out, nil
}

func scanConflict(row rowScanner) (*conflict.ConflictData, error) {
	var (
		c          conflict.ConflictData
		localVal   sql.NullString
		remoteVal  sql.NullString
		localAt    sql.NullTime
		remoteAt   sql.NullTime
		status     string
		strategy   sql.NullString
		resolved   sql.NullString
		resolvedAt sql.NullTime
		resolvedBy sql.NullString
	)
	if err := row.Scan(&c.ID, &c.SessionID, &c.RecordID, &c.AgencyID, &c.Field,
		&localVal, &remoteVal, &localAt, &remoteAt, &status, &c.CreatedAt,
		&strategy, &resolved, &resolvedAt, &resolvedBy); err != nil {
		return nil, err
	}

	var err error
	if c.LocalValue, err = unmarshalValue(localVal); err != nil {
		return nil, err
	}
	if c.RemoteValue, err = unmarshalValue(remoteVal); err != nil {
		return nil, err
	}
	if c.ResolvedValue, err = unmarshalValue(resolved); err != nil {
		return nil, err
	}
	if localAt.Valid {
		c.LocalUpdatedAt = localAt.Time
	}
	if remoteAt.Valid {
		c.RemoteUpdatedAt = remoteAt.Time
	}
	if resolvedAt.Valid {
		at := resolvedAt.Time
		c.ResolvedAt = &at
	}
	c.Status = conflict.Status(status)
	if strategy.Valid {
		c.ResolutionStrategy = conflict.Strategy(strategy.String)
	}
	if resolvedBy.Valid {
		c.ResolvedBy = resolvedBy.String
	}
	return &c, nil
}
