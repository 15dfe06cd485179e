// Package store records dialogue outcomes. It is an analytics ledger, not a
// session store: active sessions live in memory and are never restored from here.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no outcome exists for a session.
var ErrNotFound = errors.New("outcome not found")

// Outcome is the latest known state of one session.
type Outcome struct {
	SessionID   string
	ScenarioID  string
	Objectives  map[string]bool
	Completed   bool
	Turns       int
	Evicted     bool
	StartedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// ScenarioStats aggregates outcomes per scenario.
type ScenarioStats struct {
	ScenarioID         string  `json:"scenario"`
	Started            int     `json:"started"`
	Completed          int     `json:"completed"`
	AvgTurnsToComplete float64 `json:"avgTurnsToComplete"`
}

// Repository defines the interface for the outcome ledger.
type Repository interface {
	// SaveOutcome inserts or updates the outcome for a session. CompletedAt is
	// kept from the first save that reported completion.
	SaveOutcome(ctx context.Context, o *Outcome) error

	// GetOutcome returns the outcome for a session or ErrNotFound.
	GetOutcome(ctx context.Context, sessionID string) (*Outcome, error)

	// MarkEvicted flags a session that was removed from memory.
	MarkEvicted(ctx context.Context, sessionID string) error

	// Stats returns per-scenario counts ordered by scenario ID.
	Stats(ctx context.Context) ([]ScenarioStats, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
