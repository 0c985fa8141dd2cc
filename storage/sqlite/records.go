package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	syncErrors "github.com/teleregnet/syncbridge/errors"
	"github.com/teleregnet/syncbridge/record"
)

// RecordStore is the record.Store view over a Store.
type RecordStore struct {
	store *Store
}

const recordColumns = `id, agency_id, external_key, fields, baseline, version, updated_at, last_synced_at, source_of_truth`

// Get retrieves a record by its internal id.
func (s *RecordStore) Get(ctx context.Context, id string) (*record.SyncRecord, error) {
	row := s.store.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM sync_records WHERE id = ?`, id)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", syncErrors.ErrRecordNotFound, id)
	}
	if err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpLoad, err)
	}
	return rec, nil
}

// Upsert inserts or replaces a record, keyed by internal id with a
// uniqueness guarantee on (agency_id, external_key).
func (s *RecordStore) Upsert(ctx context.Context, rec *record.SyncRecord) error {
	if rec.ID == "" {
		return syncErrors.NewValidationError(syncErrors.OpStore, fmt.Errorf("record id is required"))
	}

	fields, err := marshalJSON(rec.Fields)
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, err)
	}
	baseline, err := marshalJSON(rec.Baseline)
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, err)
	}

	_, err = s.store.db.ExecContext(ctx, `
        INSERT INTO sync_records (`+recordColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (id) DO UPDATE SET
            fields = excluded.fields,
            baseline = excluded.baseline,
            version = excluded.version,
            updated_at = excluded.updated_at,
            last_synced_at = excluded.last_synced_at,
            source_of_truth = excluded.source_of_truth`,
		rec.ID, rec.AgencyID, rec.ExternalKey, fields, baseline,
		rec.Version, rec.UpdatedAt, rec.LastSyncedAt, string(rec.SourceOfTruth))
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, err)
	}
	return nil
}

// ListByAgency retrieves all records belonging to one agency.
func (s *RecordStore) ListByAgency(ctx context.Context, agencyID string) ([]record.SyncRecord, error) {
	rows, err := s.store.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM sync_records WHERE agency_id = ? ORDER BY external_key`, agencyID)
	if err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpLoad, err)
	}
	defer rows.Close()

	var out []record.SyncRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, syncErrors.NewStorageError(syncErrors.OpLoad, err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpLoad, err)
	}
	return out, nil
}

// Delete removes a record. Deletion never happens through the sync path;
// this backs the explicit, separately-authorized deletion operation.
func (s *RecordStore) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.store.db.ExecContext(ctx, `DELETE FROM sync_records WHERE id = ?`, id)
	if err != nil {
		return false, syncErrors.NewStorageError(syncErrors.OpStore, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, syncErrors.NewStorageError(syncErrors.OpStore, err)
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*record.SyncRecord, error) {
	var (
		rec          record.SyncRecord
		fields       sql.NullString
		baseline     sql.NullString
		updatedAt    sql.NullTime
		lastSyncedAt sql.NullTime
		source       string
	)
	if err := row.Scan(&rec.ID, &rec.AgencyID, &rec.ExternalKey, &fields, &baseline,
		&rec.Version, &updatedAt, &lastSyncedAt, &source); err != nil {
		return nil, err
	}

	var err error
	if rec.Fields, err = unmarshalFields(fields); err != nil {
		return nil, err
	}
	if rec.Baseline, err = unmarshalFields(baseline); err != nil {
		return nil, err
	}
	if updatedAt.Valid {
		rec.UpdatedAt = updatedAt.Time
	}
	if lastSyncedAt.Valid {
		rec.LastSyncedAt = lastSyncedAt.Time
	}
	rec.SourceOfTruth = record.Source(source)
	return &rec, nil
}
