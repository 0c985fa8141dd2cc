// Package sqlite provides the SQLite implementation of the syncbridge
// stores: sync_records, sync_sessions and sync_conflicts, all keyed by
// agency_id for efficient per-tenant queries.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/teleregnet/syncbridge/logging"
	"github.com/teleregnet/syncbridge/record"
	"github.com/teleregnet/syncbridge/session"

	// Go SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

// Config holds configuration options for the Store.
//
// Production-ready defaults are applied by DefaultConfig() including:
//   - WAL mode enabled for better concurrency
//   - Connection pool with 25 max open, 5 max idle connections
//   - Connection lifetimes of 1 hour max, 5 minutes max idle
type Config struct {
	// DataSourceName is the connection string for the SQLite database.
	DataSourceName string

	// EnableWAL enables Write-Ahead Logging mode for better concurrency.
	// When true, automatically appends "?_journal_mode=WAL" to DataSourceName.
	EnableWAL bool

	// Connection pool settings for production workloads.
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

func (c *Config) setDefaults() {
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 5 * time.Minute
	}
	if c.EnableWAL {
		if !strings.Contains(c.DataSourceName, "_journal_mode=") {
			sep := "?"
			if strings.Contains(c.DataSourceName, "?") {
				sep = "&"
			}
			c.DataSourceName += sep + "_journal_mode=WAL"
		}
	}
}

// DefaultConfig returns a Config with production-ready defaults.
func DefaultConfig(dataSourceName string) *Config {
	config := &Config{
		DataSourceName: dataSourceName,
		EnableWAL:      true,
	}
	config.setDefaults()
	return config
}

// Store is the SQLite-backed persistence for records, sessions and
// conflicts. One Store owns the connection pool and schema; the typed views
// returned by Records, Sessions and Conflicts satisfy the engine's store
// interfaces.
type Store struct {
	db     *sql.DB
	logger *logging.Logger
}

// Records returns the record.Store view.
func (s *Store) Records() *RecordStore { return &RecordStore{store: s} }

// Sessions returns the session.Store view.
func (s *Store) Sessions() *SessionStore { return &SessionStore{store: s} }

// Conflicts returns the conflict.Store view.
func (s *Store) Conflicts() *ConflictStore { return &ConflictStore{store: s} }

// Compile-time interface checks
var (
	_ record.Store  = (*RecordStore)(nil)
	_ session.Store = (*SessionStore)(nil)
)

// New creates a Store from a Config. If config is nil an error is returned;
// use DefaultConfig for sensible production settings.
func New(config *Config) (*Store, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	config.setDefaults()
	if config.DataSourceName == "" {
		return nil, fmt.Errorf("DataSourceName is required")
	}

	logger := logging.WithComponent(logging.Component("sqlite-store"))
	logger.Info("opening SQLite database",
		slog.String("data_source", config.DataSourceName),
		slog.Bool("wal_enabled", config.EnableWAL),
	)

	db, err := sql.Open("sqlite3", config.DataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to sqlite database: %w", err)
	}

	store := &Store{db: db, logger: logger}
	if err := store.setupSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to setup database schema: %w", err)
	}
	return store, nil
}

// NewWithDataSource is a convenience constructor using default settings.
func NewWithDataSource(dataSourceName string) (*Store, error) {
	return New(DefaultConfig(dataSourceName))
}

func (s *Store) setupSchema() error {
	query := `
    CREATE TABLE IF NOT EXISTS sync_records (
        id              TEXT PRIMARY KEY,
        agency_id       TEXT NOT NULL,
        external_key    TEXT NOT NULL,
        fields          TEXT NOT NULL,
        baseline        TEXT,
        version         INTEGER NOT NULL DEFAULT 0,
        updated_at      TIMESTAMP,
        last_synced_at  TIMESTAMP,
        source_of_truth TEXT NOT NULL DEFAULT 'local',
        UNIQUE (agency_id, external_key)
    );
    CREATE INDEX IF NOT EXISTS idx_sync_records_agency ON sync_records (agency_id);

    CREATE TABLE IF NOT EXISTS sync_sessions (
        id                   TEXT PRIMARY KEY,
        agency_id            TEXT NOT NULL,
        status               TEXT NOT NULL,
        started_at           TIMESTAMP NOT NULL,
        ended_at             TIMESTAMP,
        operations_processed INTEGER NOT NULL DEFAULT 0,
        conflicts_detected   INTEGER NOT NULL DEFAULT 0,
        errors               TEXT
    );
    CREATE INDEX IF NOT EXISTS idx_sync_sessions_agency ON sync_sessions (agency_id, status);

    CREATE TABLE IF NOT EXISTS sync_conflicts (
        id                  TEXT PRIMARY KEY,
        session_id          TEXT NOT NULL,
        record_id           TEXT NOT NULL,
        agency_id           TEXT NOT NULL,
        field               TEXT NOT NULL,
        local_value         TEXT,
        remote_value        TEXT,
        local_updated_at    TIMESTAMP,
        remote_updated_at   TIMESTAMP,
        status              TEXT NOT NULL DEFAULT 'pending',
        created_at          TIMESTAMP NOT NULL,
        resolution_strategy TEXT,
        resolved_value      TEXT,
        resolved_at         TIMESTAMP,
        resolved_by         TEXT
    );
    CREATE INDEX IF NOT EXISTS idx_sync_conflicts_agency ON sync_conflicts (agency_id, status);
    CREATE UNIQUE INDEX IF NOT EXISTS idx_sync_conflicts_open
        ON sync_conflicts (record_id, field) WHERE status = 'pending';
    `
	_, err := s.db.Exec(query)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Stats exposes connection pool statistics for observability.
func (s *Store) Stats() sql.DBStats {
	return s.db.Stats()
}

func marshalJSON(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalFields(data sql.NullString) (map[string]any, error) {
	if !data.Valid || data.String == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(data.String), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func unmarshalValue(data sql.NullString) (any, error) {
	if !data.Valid || data.String == "" {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal([]byte(data.String), &v); err != nil {
		return nil, err
	}
	return v, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
