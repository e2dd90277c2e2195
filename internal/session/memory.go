package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the single-process default when no DSN is configured.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*memorySession
	ttl      time.Duration
	maxTurns int
	now      func() time.Time
}

type memorySession struct {
	turns    []Turn
	lastSeen time.Time
}

func NewMemoryStore(ttl time.Duration, maxTurns int) *MemoryStore {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	if maxTurns <= 0 {
		maxTurns = 10
	}
	return &MemoryStore{
		sessions: map[string]*memorySession{},
		ttl:      ttl,
		maxTurns: maxTurns,
		now:      time.Now,
	}
}

func (s *MemoryStore) Recent(_ context.Context, sessionID string, limit int) ([]Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	if s.expired(entry) {
		delete(s.sessions, sessionID)
		return nil, nil
	}
	entry.lastSeen = s.now()

	turns := entry.turns
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out, nil
}

func (s *MemoryStore) Append(_ context.Context, sessionID string, turn Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[sessionID]
	if !ok || s.expired(entry) {
		entry = &memorySession{}
		s.sessions[sessionID] = entry
	}
	entry.turns = append(entry.turns, turn)
	if len(entry.turns) > s.maxTurns {
		entry.turns = entry.turns[len(entry.turns)-s.maxTurns:]
	}
	entry.lastSeen = s.now()
	return nil
}

func (s *MemoryStore) DeleteExpired(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, entry := range s.sessions {
		if s.expired(entry) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) expired(entry *memorySession) bool {
	return s.now().Sub(entry.lastSeen) > s.ttl
}
