package conflict

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	syncErrors "github.com/teleregnet/syncbridge/errors"
)

// MemoryStore is an in-memory Store implementation for tests and demos.
type MemoryStore struct {
	mu        sync.RWMutex
	conflicts map[string]*ConflictData
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory conflict store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{conflicts: make(map[string]*ConflictData)}
}

func (s *MemoryStore) Record(ctx context.Context, c *ConflictData) error {
	if c.ID == "" || c.RecordID == "" || c.Field == "" {
		return syncErrors.NewValidationError(syncErrors.OpStore, fmt.Errorf("conflict id, record id and field are required"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Supersede an existing pending conflict for the same (record, field).
	for id, existing := range s.conflicts {
		if existing.RecordID == c.RecordID && existing.Field == c.Field && existing.Status == StatusPending {
			cp := *c
			cp.ID = id
			s.conflicts[id] = &cp
			return nil
		}
	}

	cp := *c
	s.conflicts[c.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*ConflictData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.conflicts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", syncErrors.ErrConflictNotFound, id)
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) Unresolved(ctx context.Context, agencyID string) ([]ConflictData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ConflictData
	for _, c := range s.conflicts {
		if c.AgencyID == agencyID && c.Status == StatusPending {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) History(ctx context.Context, agencyID string) ([]ConflictData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ConflictData
	for _, c := range s.conflicts {
		if c.AgencyID == agencyID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return touchedAt(out[i]).After(touchedAt(out[j]))
	})
	return out, nil
}

func (s *MemoryStore) Stats(ctx context.Context, agencyID string) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats Stats
	for _, c := range s.conflicts {
		if c.AgencyID != agencyID {
			continue
		}
		stats.Total++
		switch c.Status {
		case StatusPending:
			stats.Pending++
		case StatusResolved:
			stats.Resolved++
		case StatusAutoResolved:
			stats.AutoResolved++
		}
	}
	return stats, nil
}

func (s *MemoryStore) MarkResolved(ctx context.Context, id string, res Resolution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conflicts[id]
	if !ok {
		return fmt.Errorf("%w: %s", syncErrors.ErrConflictNotFound, id)
	}
	if c.Status != StatusPending {
		return fmt.Errorf("%w: %s", syncErrors.ErrAlreadyResolved, id)
	}

	c.Status = res.Status
	c.ResolutionStrategy = res.Strategy
	c.ResolvedValue = res.ResolvedValue
	resolvedAt := res.ResolvedAt
	c.ResolvedAt = &resolvedAt
	c.ResolvedBy = res.ResolvedBy
	return nil
}

// touchedAt orders history entries: resolved conflicts by resolution time,
// pending ones by creation time.
func touchedAt(c ConflictData) time.Time {
	if c.ResolvedAt != nil {
		return *c.ResolvedAt
	}
	return c.CreatedAt
}
