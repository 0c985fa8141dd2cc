package session

import (
	"context"
	"fmt"
	"sort"
	"sync"

	syncErrors "github.com/teleregnet/syncbridge/errors"
)

// MemoryStore is an in-memory Store implementation for tests and demos.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*SyncSession
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory session store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*SyncSession)}
}

func (s *MemoryStore) Create(ctx context.Context, sess *SyncSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sess.ID]; ok {
		return fmt.Errorf("session %s already exists", sess.ID)
	}
	s.sessions[sess.ID] = clone(sess)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*SyncSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", syncErrors.ErrSessionNotFound, id)
	}
	return clone(sess), nil
}

func (s *MemoryStore) Update(ctx context.Context, sess *SyncSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sess.ID]; !ok {
		return fmt.Errorf("%w: %s", syncErrors.ErrSessionNotFound, sess.ID)
	}
	s.sessions[sess.ID] = clone(sess)
	return nil
}

func (s *MemoryStore) ListActive(ctx context.Context, agencyID string) ([]SyncSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []SyncSession
	for _, sess := range s.sessions {
		if sess.AgencyID == agencyID && sess.Status.Active() {
			out = append(out, *clone(sess))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func clone(sess *SyncSession) *SyncSession {
	cp := *sess
	if sess.EndedAt != nil {
		ended := *sess.EndedAt
		cp.EndedAt = &ended
	}
	cp.Errors = append([]string(nil), sess.Errors...)
	return &cp
}
