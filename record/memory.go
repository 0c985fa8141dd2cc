package record

import (
	"context"
	"fmt"
	"sync"

	syncErrors "github.com/teleregnet/syncbridge/errors"
)

// MemoryStore is an in-memory Store implementation backed by a map with
// RWMutex synchronization. Suitable for tests and single-process demos;
// production deployments use storage/sqlite.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*SyncRecord
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory record store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*SyncRecord)}
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*SyncRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", syncErrors.ErrRecordNotFound, id)
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) Upsert(ctx context.Context, rec *SyncRecord) error {
	if rec.ID == "" {
		return syncErrors.NewValidationError(syncErrors.OpStore, fmt.Errorf("record id is required"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[rec.ID] = rec.Clone()
	return nil
}

func (s *MemoryStore) ListByAgency(ctx context.Context, agencyID string) ([]SyncRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []SyncRecord
	for _, rec := range s.records {
		if rec.AgencyID == agencyID {
			out = append(out, *rec.Clone())
		}
	}
	return out, nil
}

// Delete removes a record. Deletions never propagate through the sync path;
// this serves the explicit, separately-authorized deletion flow.
func (s *MemoryStore) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return false, nil
	}
	delete(s.records, id)
	return true, nil
}
