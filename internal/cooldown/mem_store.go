package cooldown

import (
	"context"
	"sync"
	"time"

	"github.com/thebtf/suggestd/pkg/models"
)

type memKey struct {
	userID, kind, conceptHash string
}

// MemStore is an in-process Store. Entries are lost on restart.
type MemStore struct {
	entries map[memKey]models.CooldownEntry
	mu      sync.RWMutex
}

// NewMemStore creates an empty in-process store.
func NewMemStore() *MemStore {
	return &MemStore{entries: make(map[memKey]models.CooldownEntry)}
}

// ShownSince implements Store.
func (s *MemStore) ShownSince(_ context.Context, userID, kind string, since time.Time) (map[string]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]time.Time)
	for k, e := range s.entries {
		if k.userID != userID || k.kind != kind {
			continue
		}
		if !e.LastShownAt.Before(since) {
			out[k.conceptHash] = e.LastShownAt
		}
	}
	return out, nil
}

// LastShown implements Store.
func (s *MemStore) LastShown(_ context.Context, userID, kind, conceptHash string) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[memKey{userID, kind, conceptHash}]
	return e.LastShownAt, ok, nil
}

// Upsert implements Store.
func (s *MemStore) Upsert(_ context.Context, entry models.CooldownEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[memKey{entry.UserID, entry.Kind, entry.ConceptHash}] = entry
	return nil
}

// Len returns the number of stored entries.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
