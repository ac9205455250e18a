package events

import (
	"context"
	"sync"

	"cardvault/pkg/domain"
)

// InMemoryStore keeps events in process memory, ordered by append.
type InMemoryStore struct {
	mu      sync.RWMutex
	all     []Event
	byToken map[domain.TokenID][]int
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{byToken: make(map[domain.TokenID][]int)}
}

func (s *InMemoryStore) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.all = append(s.all, event)
	if !event.TokenID.IsZero() {
		s.byToken[event.TokenID] = append(s.byToken[event.TokenID], len(s.all)-1)
	}
	return nil
}

func (s *InMemoryStore) ListByToken(_ context.Context, id domain.TokenID) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idxs := s.byToken[id]
	out := make([]Event, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, s.all[i])
	}
	return out, nil
}

// ListAll returns every event in append order. Test helper.
func (s *InMemoryStore) ListAll(_ context.Context) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Event, len(s.all))
	copy(out, s.all)
	return out, nil
}
