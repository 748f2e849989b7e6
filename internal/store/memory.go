package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryInteractionStore is an in-memory implementation of InteractionStore.
//
// Records are held in insertion order; queries copy out so callers never
// observe concurrent mutation.
type InMemoryInteractionStore struct {
	mu      sync.RWMutex
	records []InteractionRecord
	byID    map[string]int
}

// NewInMemoryInteractionStore creates an empty in-memory store.
func NewInMemoryInteractionStore() *InMemoryInteractionStore {
	return &InMemoryInteractionStore{
		byID: make(map[string]int),
	}
}

// Add persists a record after validation.
func (s *InMemoryInteractionStore) Add(ctx context.Context, rec *InteractionRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.byID[rec.ID] = len(s.records)
	s.records = append(s.records, *rec)
	return nil
}

// Get retrieves a record by ID.
func (s *InMemoryInteractionStore) Get(ctx context.Context, id string) (*InteractionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	rec := s.records[idx]
	return &rec, nil
}

// Recent returns up to limit records, newest first.
func (s *InMemoryInteractionStore) Recent(ctx context.Context, limit int) ([]InteractionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.records)
	if limit > n {
		limit = n
	}
	out := make([]InteractionRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.records[i])
	}
	return out, nil
}

// Since returns records with Timestamp at or after t, oldest first.
func (s *InMemoryInteractionStore) Since(ctx context.Context, t time.Time) ([]InteractionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []InteractionRecord{}
	for _, rec := range s.records {
		if !rec.Timestamp.Before(t) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// TopQuality returns up to limit records ranked by quality, best first.
func (s *InMemoryInteractionStore) TopQuality(ctx context.Context, limit int) ([]InteractionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]InteractionRecord, len(s.records))
	copy(out, s.records)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Quality > out[j].Quality
	})
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// ByUser returns all records for a user, oldest first.
func (s *InMemoryInteractionStore) ByUser(ctx context.Context, userID string) ([]InteractionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []InteractionRecord{}
	for _, rec := range s.records {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Count returns the number of stored records.
func (s *InMemoryInteractionStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

// Ensure InMemoryInteractionStore implements InteractionStore.
var _ InteractionStore = (*InMemoryInteractionStore)(nil)
