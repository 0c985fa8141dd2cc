// Package session owns the lifecycle of synchronization runs and enforces
// the at-most-one-active-session-per-agency invariant.
package session

import (
	"context"
	"time"
)

// Status is the lifecycle state of a sync session.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusStopped   Status = "stopped"
)

// Terminal reports whether the status is immutable.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusStopped:
		return true
	}
	return false
}

// Active reports whether the status counts against the per-agency guard.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusRunning
}

// SyncSession is one synchronization run for one agency.
type SyncSession struct {
	ID       string `json:"id"`
	AgencyID string `json:"agency_id"`
	Status   Status `json:"status"`

	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	OperationsProcessed int      `json:"operations_processed"`
	ConflictsDetected   int      `json:"conflicts_detected"`
	Errors              []string `json:"errors,omitempty"`
}

// Stats carries the counters a status update may advance.
type Stats struct {
	OperationsProcessed int
	ConflictsDetected   int
	Errors              []string
}

// Store provides persistence for sync sessions.
type Store interface {
	// Create persists a new session row
	Create(ctx context.Context, sess *SyncSession) error

	// Get retrieves a session by id
	Get(ctx context.Context, id string) (*SyncSession, error)

	// Update replaces the mutable columns of an existing session
	Update(ctx context.Context, sess *SyncSession) error

	// ListActive retrieves sessions in {pending, running} for one agency
	ListActive(ctx context.Context, agencyID string) ([]SyncSession, error)
}
