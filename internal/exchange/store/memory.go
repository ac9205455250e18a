package store

import (
	"context"
	"sync"

	"cardvault/internal/exchange/models"
	"cardvault/pkg/domain"
)

// InMemory holds listings and per-token purchase histories.
type InMemory struct {
	mu        sync.RWMutex
	listings  map[domain.TokenID]bool
	purchases map[domain.TokenID][]models.PurchaseRecord
}

func NewInMemory() *InMemory {
	return &InMemory{
		listings:  make(map[domain.TokenID]bool),
		purchases: make(map[domain.TokenID][]models.PurchaseRecord),
	}
}

func (s *InMemory) IsListed(_ context.Context, id domain.TokenID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listings[id], nil
}

func (s *InMemory) SetListed(_ context.Context, id domain.TokenID, listed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listings[id] = listed
	return nil
}

// ListedCount returns the number of active listings.
func (s *InMemory) ListedCount(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, listed := range s.listings {
		if listed {
			n++
		}
	}
	return n, nil
}

func (s *InMemory) AppendPurchase(_ context.Context, id domain.TokenID, record models.PurchaseRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purchases[id] = append(s.purchases[id], record)
	return nil
}

func (s *InMemory) Purchases(_ context.Context, id domain.TokenID) ([]models.PurchaseRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := s.purchases[id]
	out := make([]models.PurchaseRecord, len(records))
	copy(out, records)
	return out, nil
}
