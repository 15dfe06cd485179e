// Package session stores active dialogue sessions.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/scenario-coach/internal/domain"
	"github.com/google/uuid"
)

// ErrNotFound is returned when a session ID is unknown.
var ErrNotFound = errors.New("session not found")

// ErrClosed is returned by a store after Close.
var ErrClosed = errors.New("session store is closed")

// Store holds active sessions keyed by ID.
type Store interface {
	// Create assigns a fresh ID to s, stores a copy and returns the ID.
	Create(ctx context.Context, s *domain.Session) (string, error)

	// Get returns a copy of the session or ErrNotFound.
	Get(ctx context.Context, id string) (*domain.Session, error)

	// Update replaces the stored session with a copy of s.
	Update(ctx context.Context, s *domain.Session) error

	// Lock serializes access to one session. The returned func releases it.
	Lock(ctx context.Context, id string) (unlock func(), err error)

	// Delete removes a session. Deleting an unknown ID is not an error.
	Delete(ctx context.Context, id string) error

	// IdleSince returns the IDs of sessions not updated since cutoff.
	IdleSince(ctx context.Context, cutoff time.Time) ([]string, error)

	// Len returns the number of stored sessions.
	Len() int

	// Close releases resources. Later calls fail with ErrClosed.
	Close() error
}

// IDGenerator produces session identifiers.
type IDGenerator func() string

// NewUUID returns a random UUID string.
func NewUUID() string {
	return uuid.NewString()
}
