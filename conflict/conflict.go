// Package conflict holds the durable conflict table and the resolution
// engine that applies strategies against it.
package conflict

import (
	"context"
	"time"
)

// Strategy is the policy used to pick a winning value for a conflicting
// field.
type Strategy string

const (
	StrategyRemoteWins Strategy = "remote-wins"
	StrategyLocalWins  Strategy = "local-wins"
	StrategyNewestWins Strategy = "newest-wins"
	StrategyManual     Strategy = "manual"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyRemoteWins, StrategyLocalWins, StrategyNewestWins, StrategyManual:
		return true
	}
	return false
}

// Status of one conflict row.
type Status string

const (
	StatusPending      Status = "pending"
	StatusResolved     Status = "resolved"
	StatusAutoResolved Status = "auto-resolved"
)

// FieldWholeRecord marks a conflict spanning the entire record rather than
// one field.
const FieldWholeRecord = "whole-record"

// ConflictData is one detected divergence between local and remote edits of
// the same field. Rows are never hard-deleted; resolution only mutates the
// status columns, keeping the full history for audit.
type ConflictData struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	RecordID  string `json:"record_id"`
	AgencyID  string `json:"agency_id"`
	Field     string `json:"field"`

	LocalValue      any       `json:"local_value"`
	RemoteValue     any       `json:"remote_value"`
	LocalUpdatedAt  time.Time `json:"local_updated_at"`
	RemoteUpdatedAt time.Time `json:"remote_updated_at"`

	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`

	ResolutionStrategy Strategy   `json:"resolution_strategy,omitempty"`
	ResolvedValue      any        `json:"resolved_value,omitempty"`
	ResolvedAt         *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy         string     `json:"resolved_by,omitempty"`
}

// Stats is the derived resolution aggregate for one agency, recomputed on
// read so counters cannot drift.
type Stats struct {
	Total        int `json:"total"`
	Resolved     int `json:"resolved"`
	Pending      int `json:"pending"`
	AutoResolved int `json:"auto_resolved"`
}

// Resolution carries the outcome applied when marking a conflict resolved.
type Resolution struct {
	Status        Status
	Strategy      Strategy
	ResolvedValue any
	ResolvedAt    time.Time
	ResolvedBy    string
}

// Store provides persistence for conflicts.
type Store interface {
	// Record persists a detected conflict. An existing pending conflict for
	// the same (recordID, field) is superseded in place rather than
	// duplicated, so repeated sync runs cannot accumulate rows unboundedly.
	Record(ctx context.Context, c *ConflictData) error

	// Get retrieves one conflict by id
	Get(ctx context.Context, id string) (*ConflictData, error)

	// Unresolved retrieves pending conflicts for one agency
	Unresolved(ctx context.Context, agencyID string) ([]ConflictData, error)

	// History retrieves all conflicts for one agency regardless of status,
	// most recently touched first
	History(ctx context.Context, agencyID string) ([]ConflictData, error)

	// Stats recomputes the resolution aggregate for one agency
	Stats(ctx context.Context, agencyID string) (Stats, error)

	// MarkResolved transitions a conflict from pending to the given
	// resolution atomically. Returns ErrAlreadyResolved if the conflict is
	// no longer pending, which makes resolution idempotent per conflict id.
	MarkResolved(ctx context.Context, id string, res Resolution) error
}
