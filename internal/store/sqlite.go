package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/scenario-coach/internal/shared"
	_ "modernc.org/sqlite"
)

// Interface compliance check.
var _ Repository = (*SQLiteStore)(nil)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed ledger. Use ":memory:" for tests.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	dsn := ":memory:"
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		// WAL mode for concurrent readers during writes.
		dsn = dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if dbPath == ":memory:" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS session_outcomes (
		session_id TEXT PRIMARY KEY,
		scenario_id TEXT NOT NULL,
		objectives_json TEXT NOT NULL,
		completed INTEGER NOT NULL DEFAULT 0,
		turns INTEGER NOT NULL DEFAULT 0,
		evicted INTEGER NOT NULL DEFAULT 0,
		started_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		completed_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_outcomes_scenario ON session_outcomes(scenario_id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveOutcome upserts the outcome row for a session.
func (s *SQLiteStore) SaveOutcome(ctx context.Context, o *Outcome) error {
	objectives, err := json.Marshal(o.Objectives)
	if err != nil {
		return fmt.Errorf("encode objectives: %w", err)
	}

	now := time.Now().UTC()
	started := o.StartedAt
	if started.IsZero() {
		started = now
	}
	var completedAt any
	if o.Completed {
		ts := now
		if o.CompletedAt != nil {
			ts = *o.CompletedAt
		}
		completedAt = ts.UnixMilli()
	}

	query := `
	INSERT INTO session_outcomes (session_id, scenario_id, objectives_json, completed, turns, started_at, updated_at, completed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		objectives_json = excluded.objectives_json,
		completed = excluded.completed,
		turns = excluded.turns,
		updated_at = excluded.updated_at,
		completed_at = COALESCE(session_outcomes.completed_at, excluded.completed_at)`

	return shared.WithRetry(ctx, shared.DefaultRetryPolicy, "save outcome", func() error {
		_, err := s.db.ExecContext(ctx, query,
			o.SessionID, o.ScenarioID, string(objectives), boolToInt(o.Completed), o.Turns,
			started.UnixMilli(), now.UnixMilli(), completedAt,
		)
		return err
	})
}

// GetOutcome returns the stored outcome for a session.
func (s *SQLiteStore) GetOutcome(ctx context.Context, sessionID string) (*Outcome, error) {
	query := `
		SELECT session_id, scenario_id, objectives_json, completed, turns, evicted,
		       started_at, updated_at, completed_at
		FROM session_outcomes WHERE session_id = ?`

	var (
		o                  Outcome
		objectives         string
		completed, evicted int
		started, updated   int64
		completedAt        sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(
		&o.SessionID, &o.ScenarioID, &objectives, &completed, &o.Turns, &evicted,
		&started, &updated, &completedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan outcome row: %w", err)
	}

	if err := json.Unmarshal([]byte(objectives), &o.Objectives); err != nil {
		return nil, fmt.Errorf("decode objectives: %w", err)
	}
	o.Completed = completed != 0
	o.Evicted = evicted != 0
	o.StartedAt = time.UnixMilli(started).UTC()
	o.UpdatedAt = time.UnixMilli(updated).UTC()
	if completedAt.Valid {
		ts := time.UnixMilli(completedAt.Int64).UTC()
		o.CompletedAt = &ts
	}
	return &o, nil
}

// MarkEvicted flags an outcome whose session left memory.
func (s *SQLiteStore) MarkEvicted(ctx context.Context, sessionID string) error {
	return shared.WithRetry(ctx, shared.DefaultRetryPolicy, "mark evicted", func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE session_outcomes SET evicted = 1, updated_at = ? WHERE session_id = ?`,
			time.Now().UTC().UnixMilli(), sessionID)
		return err
	})
}

// Stats aggregates outcomes per scenario.
func (s *SQLiteStore) Stats(ctx context.Context) ([]ScenarioStats, error) {
	query := `
		SELECT scenario_id,
		       COUNT(*),
		       COALESCE(SUM(completed), 0),
		       COALESCE(AVG(CASE WHEN completed = 1 THEN turns END), 0)
		FROM session_outcomes
		GROUP BY scenario_id
		ORDER BY scenario_id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	var stats []ScenarioStats
	for rows.Next() {
		var st ScenarioStats
		if err := rows.Scan(&st.ScenarioID, &st.Started, &st.Completed, &st.AvgTurnsToComplete); err != nil {
			return nil, fmt.Errorf("scan stats row: %w", err)
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
