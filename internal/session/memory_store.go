package session

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ashureev/scenario-coach/internal/domain"
)

// Interface compliance check.
var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps sessions in process memory. Nothing is evicted unless a
// sweeper is started.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
	locks    map[string]chan struct{}
	newID    IDGenerator
	closed   bool
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithIDGenerator overrides the UUID generator. Useful for deterministic tests.
func WithIDGenerator(gen IDGenerator) MemoryOption {
	return func(s *MemoryStore) { s.newID = gen }
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		sessions: make(map[string]*domain.Session),
		locks:    make(map[string]chan struct{}),
		newID:    NewUUID,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Create assigns an ID and stores a copy of sess.
func (s *MemoryStore) Create(_ context.Context, sess *domain.Session) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}

	id := s.newID()
	if _, exists := s.sessions[id]; exists {
		return "", fmt.Errorf("create session: duplicate id %q", id)
	}

	stored := sess.Clone()
	stored.ID = id
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	stored.UpdatedAt = time.Now().UTC()
	s.sessions[id] = stored
	return id, nil
}

// Get returns a copy of the stored session.
func (s *MemoryStore) Get(_ context.Context, id string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sess.Clone(), nil
}

// Update replaces an existing session.
func (s *MemoryStore) Update(_ context.Context, sess *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	if _, ok := s.sessions[sess.ID]; !ok {
		return ErrNotFound
	}
	stored := sess.Clone()
	stored.UpdatedAt = time.Now().UTC()
	s.sessions[sess.ID] = stored
	return nil
}

// Lock blocks until the caller holds the session or ctx ends.
func (s *MemoryStore) Lock(ctx context.Context, id string) (func(), error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if _, ok := s.sessions[id]; !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	sem, ok := s.locks[id]
	if !ok {
		sem = make(chan struct{}, 1)
		s.locks[id] = sem
	}
	s.mu.Unlock()

	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-sem })
	}, nil
}

// Delete removes a session and its lock.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.sessions, id)
	delete(s.locks, id)
	return nil
}

// IdleSince lists sessions whose last update is before cutoff.
func (s *MemoryStore) IdleSince(_ context.Context, cutoff time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	var ids []string
	for id, sess := range s.sessions {
		if sess.UpdatedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// Len returns the number of sessions.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Close drops all sessions.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.sessions = nil
	s.locks = nil
	return nil
}
