// Package session provides storage backends for conversation state.
//
// This file implements a simple in-memory store used by tests.
package session

import (
	"context"
	"sync"

	"github.com/MSMikl/fish-store/internal/models"
)

// InMemoryStore is a map-backed session store. It satisfies Store but
// obviously does not survive restarts; production runs use Redis, Postgres,
// or SQLite.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]models.SessionState
}

// NewInMemoryStore creates an empty in-memory session store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]models.SessionState)}
}

func (s *InMemoryStore) Get(ctx context.Context, conversationID string) (models.SessionState, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.sessions[conversationID]
	if !ok {
		return "", false, nil
	}
	validated, err := validateTag(conversationID, string(state))
	if err != nil {
		return "", false, err
	}
	return validated, true, nil
}

func (s *InMemoryStore) Set(ctx context.Context, conversationID string, state models.SessionState) error {
	if conversationID == "" {
		return models.ErrEmptyConversationID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[conversationID] = state
	return nil
}

func (s *InMemoryStore) Delete(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, conversationID)
	return nil
}

func (s *InMemoryStore) Close() error {
	return nil
}
