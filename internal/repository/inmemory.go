package repository

import (
	"context"
	"sync"
	"time"

	"counsel-bot/internal/domain"
)

// InMemoryStore is an in-process exchange log for local runs and tests.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string][]domain.Exchange
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string][]domain.Exchange)}
}

func (s *InMemoryStore) LoadRecent(_ context.Context, userID string, limit int) ([]domain.Exchange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.records[userID]
	if limit <= 0 || len(arr) == 0 {
		return []domain.Exchange{}, nil
	}
	if limit > len(arr) {
		limit = len(arr)
	}
	out := make([]domain.Exchange, limit)
	copy(out, arr[len(arr)-limit:])
	return out, nil
}

func (s *InMemoryStore) Append(_ context.Context, userID, question, answer string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	arr := s.records[userID]
	var last domain.Exchange
	if len(arr) > 0 {
		last = arr[len(arr)-1]
	}
	s.records[userID] = append(arr, domain.Exchange{
		Sequence:  last.Sequence + 1,
		Timestamp: clampTimestamp(at, last.Timestamp),
		Question:  question,
		Answer:    answer,
	})
	return nil
}

// All returns a copy of every exchange stored for userID.
func (s *InMemoryStore) All(userID string) []domain.Exchange {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Exchange, len(s.records[userID]))
	copy(out, s.records[userID])
	return out
}

func (s *InMemoryStore) Close() error { return nil }
