package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/DonorPipe/internal/models"
)

// InMemoryStore implements Store using a map. Sessions are copied on the way
// in and out so callers never share mutable state with the store.
// Idle sessions are evicted lazily when read; there is no background sweeper.
type InMemoryStore struct {
	mu          sync.RWMutex
	sessions    map[models.UserID]*models.ConversationSession
	idleTimeout time.Duration
	clock       func() time.Time
}

func newInMemoryStore(cfg *storeConfig) *InMemoryStore {
	return &InMemoryStore{
		sessions:    make(map[models.UserID]*models.ConversationSession),
		idleTimeout: cfg.idleTimeout,
		clock:       cfg.clock,
	}
}

// Get implements Store.
func (s *InMemoryStore) Get(ctx context.Context, userID models.UserID) (*models.ConversationSession, error) {
	s.mu.RLock()
	stored, ok := s.sessions[userID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	if s.idleTimeout > 0 && s.clock().Sub(stored.UpdatedAt) > s.idleTimeout {
		s.mu.Lock()
		// Re-check under the write lock; a concurrent Put may have refreshed it.
		if cur, ok := s.sessions[userID]; ok && cur == stored {
			delete(s.sessions, userID)
		}
		s.mu.Unlock()
		slog.Info("InMemoryStore.Get: evicted idle session", "user_id", userID, "flow", stored.FlowKind, "updated_at", stored.UpdatedAt)
		return nil, nil
	}
	return stored.Clone(), nil
}

// Put implements Store.
func (s *InMemoryStore) Put(ctx context.Context, sess *models.ConversationSession) error {
	if sess == nil || sess.UserID == "" {
		return models.ErrEmptyUserID
	}
	c := sess.Clone()
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = s.clock()
	}
	s.mu.Lock()
	s.sessions[c.UserID] = c
	s.mu.Unlock()
	return nil
}

// Remove implements Store.
func (s *InMemoryStore) Remove(ctx context.Context, userID models.UserID) error {
	s.mu.Lock()
	delete(s.sessions, userID)
	s.mu.Unlock()
	return nil
}

// Len returns the number of resident sessions, including idle ones not yet evicted.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Close implements Store.
func (s *InMemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[models.UserID]*models.ConversationSession)
	return nil
}

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)
