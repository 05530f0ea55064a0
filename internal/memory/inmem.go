package memory

import (
	"context"
	"sync"
)

// InMemStore keeps turns in process memory, suitable for tests and
// single-shot CLI runs.
type InMemStore struct {
	mu       sync.Mutex
	sessions map[string][]Turn
}

// NewInMemStore creates an empty store.
func NewInMemStore() *InMemStore {
	return &InMemStore{sessions: make(map[string][]Turn)}
}

// Append implements Store. The cap is enforced under the same lock as the
// insert, so no reader ever sees the session over maxTurns.
func (s *InMemStore) Append(_ context.Context, turn Turn, maxTurns int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	turns := append(s.sessions[turn.SessionID], turn)
	if maxTurns > 0 && len(turns) > maxTurns {
		kept := make([]Turn, maxTurns)
		copy(kept, turns[len(turns)-maxTurns:])
		turns = kept
	}
	s.sessions[turn.SessionID] = turns
	return nil
}

// List implements Store.
func (s *InMemStore) List(_ context.Context, sessionID string) ([]Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	turns := s.sessions[sessionID]
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out, nil
}

// Trim implements Store.
func (s *InMemStore) Trim(_ context.Context, sessionID string, retain int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	turns := s.sessions[sessionID]
	if retain <= 0 {
		delete(s.sessions, sessionID)
		return nil
	}
	if len(turns) > retain {
		kept := make([]Turn, retain)
		copy(kept, turns[len(turns)-retain:])
		s.sessions[sessionID] = kept
	}
	return nil
}
