package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	syncErrors "github.com/teleregnet/syncbridge/errors"
	"github.com/teleregnet/syncbridge/session"
)

// SessionStore is the session.Store view over a Store.
type SessionStore struct {
	store *Store
}

const sessionColumns = `id, agency_id, status, started_at, ended_at, operations_processed, conflicts_detected, errors`

// Create persists a new session row.
func (s *SessionStore) Create(ctx context.Context, sess *session.SyncSession) error {
	errsJSON, err := marshalJSON(sess.Errors)
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, err)
	}

	_, err = s.store.db.ExecContext(ctx, `
        INSERT INTO sync_sessions (`+sessionColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.AgencyID, string(sess.Status), sess.StartedAt,
		nullTime(sess.EndedAt), sess.OperationsProcessed, sess.ConflictsDetected, errsJSON)
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, err)
	}
	return nil
}

// Get retrieves a session by id.
func (s *SessionStore) Get(ctx context.Context, id string) (*session.SyncSession, error) {
	row := s.store.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sync_sessions WHERE id = ?`, id)

	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", syncErrors.ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpLoad, err)
	}
	return sess, nil
}

// Update replaces the mutable columns of an existing session.
func (s *SessionStore) Update(ctx context.Context, sess *session.SyncSession) error {
	errsJSON, err := marshalJSON(sess.Errors)
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, err)
	}

	res, err := s.store.db.ExecContext(ctx, `
        UPDATE sync_sessions
        SET status = ?, ended_at = ?, operations_processed = ?, conflicts_detected = ?, errors = ?
        WHERE id = ?`,
		string(sess.Status), nullTime(sess.EndedAt),
		sess.OperationsProcessed, sess.ConflictsDetected, errsJSON, sess.ID)
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", syncErrors.ErrSessionNotFound, sess.ID)
	}
	return nil
}

// ListActive retrieves sessions in {pending, running} for one agency.
func (s *SessionStore) ListActive(ctx context.Context, agencyID string) ([]session.SyncSession, error) {
	rows, err := s.store.db.QueryContext(ctx, `
        SELECT `+sessionColumns+` FROM sync_sessions
        WHERE agency_id = ? AND status IN (?, ?)
        ORDER BY started_at`,
		agencyID, string(session.StatusPending), string(session.StatusRunning))
	if err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpLoad, err)
	}
	defer rows.Close()

	var out []session.SyncSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, syncErrors.NewStorageError(syncErrors.OpLoad, err)
		}
		out = append(out, *sess)
	}
	if err := rows.Err(); err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpLoad, err)
	}
	return out, nil
}

func scanSession(row rowScanner) (*session.SyncSession, error) {
	var (
		sess    session.SyncSession
		status  string
		endedAt sql.NullTime
		errsRaw sql.NullString
	)
	if err := row.Scan(&sess.ID, &sess.AgencyID, &status, &sess.StartedAt, &endedAt,
		&sess.OperationsProcessed, &sess.ConflictsDetected, &errsRaw); err != nil {
		return nil, err
	}
	sess.Status = session.Status(status)
	if endedAt.Valid {
		ended := endedAt.Time
		sess.EndedAt = &ended
	}
	if errsRaw.Valid && errsRaw.String != "" {
		if err := json.Unmarshal([]byte(errsRaw.String), &sess.Errors); err != nil {
			return nil, err
		}
	}
	return &sess, nil
}
