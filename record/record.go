// Package record defines the canonical per-agency entities participating in
// synchronization and the store that owns them.
package record

import (
	"context"
	"time"
)

// Source identifies which side last authored a record's content.
type Source string

const (
	SourceLocal  Source = "local"
	SourceRemote Source = "remote"
	SourceMerged Source = "merged"
)

// SyncRecord is a local canonical entity participating in sync. It is owned
// exclusively by the record store; mutations funnel through the orchestrator's
// apply step or the resolution engine.
type SyncRecord struct {
	ID       string `json:"id"`
	AgencyID string `json:"agency_id"`

	// ExternalKey is the stable key used to match this record against its
	// remote counterpart. It is distinct from the internal ID.
	ExternalKey string `json:"external_key"`

	Fields map[string]any `json:"fields"`

	// Baseline holds the field values as of the last successful sync. A nil
	// baseline means the record has never been synchronized (first run).
	// Diffing uses it to tell local edits from remote edits.
	Baseline map[string]any `json:"baseline,omitempty"`

	// Version is a monotonic counter bumped on every write.
	Version int64 `json:"version"`

	UpdatedAt     time.Time `json:"updated_at"`
	LastSyncedAt  time.Time `json:"last_synced_at,omitempty"`
	SourceOfTruth Source    `json:"source_of_truth"`
}

// Clone returns a deep copy so callers can mutate freely without aliasing
// store-owned state.
func (r *SyncRecord) Clone() *SyncRecord {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Fields = cloneFields(r.Fields)
	cp.Baseline = cloneFields(r.Baseline)
	return &cp
}

// MarkSynced advances the baseline to the current field values, recording
// that local and remote agree as of now.
func (r *SyncRecord) MarkSynced(now time.Time) {
	r.Baseline = cloneFields(r.Fields)
	r.LastSyncedAt = now
}

func cloneFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	cp := make(map[string]any, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return cp
}

// RemoteRecord is one entry of a point-in-time snapshot harvested from an
// agency's external system. The harvesting mechanics are out of scope; the
// engine only consumes the resulting shape.
type RemoteRecord struct {
	ExternalKey string         `json:"external_key"`
	AgencyID    string         `json:"agency_id"`
	Fields      map[string]any `json:"fields"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Store provides persistence for sync records.
// Implementations can use any storage backend (SQLite, PostgreSQL, memory).
type Store interface {
	// Get retrieves a record by its internal id
	Get(ctx context.Context, id string) (*SyncRecord, error)

	// Upsert inserts or replaces a record
	Upsert(ctx context.Context, rec *SyncRecord) error

	// ListByAgency retrieves all records belonging to one agency
	ListByAgency(ctx context.Context, agencyID string) ([]SyncRecord, error)

	// Delete removes a record by its internal id, reporting whether a row
	// existed. Deleting an absent record is not an error.
	Delete(ctx context.Context, id string) (bool, error)
}
