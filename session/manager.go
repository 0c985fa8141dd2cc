package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	syncErrors "github.com/teleregnet/syncbridge/errors"
	"github.com/teleregnet/syncbridge/logging"
)

// Manager enforces the session state machine and the per-agency guard. The
// guard is an explicit map agencyID -> sessionID behind a mutex so the
// at-most-one invariant is independently testable; the store only persists.
type Manager struct {
	store  Store
	logger *slog.Logger

	mu     sync.Mutex
	active map[string]string // agencyID -> active sessionID

	// transitions serializes the read-check-write of a session's status so a
	// stop landing between another caller's read and write cannot be undone.
	transitions sync.Mutex
}

// NewManager creates a Manager on top of the given store.
func NewManager(store Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.WithComponent(logging.Component("session")).Logger
	}
	return &Manager{
		store:  store,
		logger: logger,
		active: make(map[string]string),
	}
}

// Restore rebuilds the in-memory guard from sessions that were active when
// the process last stopped. Call once at startup, before serving requests.
func (m *Manager) Restore(ctx context.Context, agencyIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, agencyID := range agencyIDs {
		sessions, err := m.store.ListActive(ctx, agencyID)
		if err != nil {
			return syncErrors.NewStorageError(syncErrors.OpLoad, err)
		}
		for _, sess := range sessions {
			m.active[sess.AgencyID] = sess.ID
		}
	}
	return nil
}

// Start atomically checks the per-agency guard and creates a pending
// session. Concurrent calls for the same agency yield exactly one success;
// the rest fail with ErrSessionAlreadyActive.
func (m *Manager) Start(ctx context.Context, agencyID string) (*SyncSession, error) {
	if agencyID == "" {
		return nil, syncErrors.NewValidationError(syncErrors.OpStartSync, fmt.Errorf("agency id is required"))
	}

	sess := &SyncSession{
		ID:        uuid.NewString(),
		AgencyID:  agencyID,
		Status:    StatusPending,
		StartedAt: time.Now().UTC(),
	}

	m.mu.Lock()
	if existing, ok := m.active[agencyID]; ok {
		m.mu.Unlock()
		return nil, syncErrors.NewSessionActiveError(agencyID).WithMetadata("active_session_id", existing)
	}
	m.active[agencyID] = sess.ID
	m.mu.Unlock()

	if err := m.store.Create(ctx, sess); err != nil {
		m.release(agencyID, sess.ID)
		return nil, syncErrors.NewStorageError(syncErrors.OpStore, err)
	}

	m.logger.Info("sync session started",
		slog.String("session_id", sess.ID),
		slog.String("agency_id", agencyID))
	return sess, nil
}

// Get retrieves one session by id.
func (m *Manager) Get(ctx context.Context, sessionID string) (*SyncSession, error) {
	return m.store.Get(ctx, sessionID)
}

// Active returns the sessions in {pending, running} for one agency.
func (m *Manager) Active(ctx context.Context, agencyID string) ([]SyncSession, error) {
	return m.store.ListActive(ctx, agencyID)
}

// UpdateStatus transitions a session and advances its counters. Transitions
// out of a terminal state are rejected; a transition into a terminal state
// releases the agency guard exactly once.
func (m *Manager) UpdateStatus(ctx context.Context, sessionID string, status Status, stats Stats) error {
	m.transitions.Lock()
	defer m.transitions.Unlock()

	sess, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", syncErrors.ErrSessionTerminal, sessionID, sess.Status)
	}

	sess.Status = status
	sess.OperationsProcessed += stats.OperationsProcessed
	sess.ConflictsDetected += stats.ConflictsDetected
	sess.Errors = append(sess.Errors, stats.Errors...)
	if status.Terminal() {
		now := time.Now().UTC()
		sess.EndedAt = &now
	}

	if err := m.store.Update(ctx, sess); err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, err)
	}

	if status.Terminal() {
		m.release(sess.AgencyID, sess.ID)
		m.logger.Info("sync session ended",
			slog.String("session_id", sess.ID),
			slog.String("agency_id", sess.AgencyID),
			slog.String("status", string(status)),
			slog.Int("operations_processed", sess.OperationsProcessed),
			slog.Int("conflicts_detected", sess.ConflictsDetected))
	}
	return nil
}

// Stop transitions a pending or running session to stopped and releases the
// agency guard. Stopping an already-terminal or unknown session returns
// false without error, making the call idempotent.
func (m *Manager) Stop(ctx context.Context, sessionID string) (bool, error) {
	sess, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return false, nil
	}
	if !sess.Status.Active() {
		return false, nil
	}

	if err := m.UpdateStatus(ctx, sessionID, StatusStopped, Stats{}); err != nil {
		if errors.Is(err, syncErrors.ErrSessionTerminal) {
			// Lost the race to a concurrent terminal transition.
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// IsStopped is the cooperative cancellation check the orchestrator polls
// between major steps.
func (m *Manager) IsStopped(ctx context.Context, sessionID string) bool {
	sess, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return false
	}
	return sess.Status == StatusStopped
}

// release clears the guard entry if it still belongs to the given session.
func (m *Manager) release(agencyID, sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active[agencyID] == sessionID {
		delete(m.active, agencyID)
	}
}
