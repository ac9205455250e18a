package store

import (
	"context"
	"sync"
	"time"

	"cardvault/internal/registry/models"
	"cardvault/pkg/domain"
	"cardvault/pkg/platform/sentinel"
)

// InMemory keeps records, provenance, and the authorized-caller set in
// process memory. The reference store for unit tests and single-node runs.
type InMemory struct {
	mu         sync.RWMutex
	nextID     domain.TokenID
	records    map[domain.TokenID]models.Record
	provenance map[domain.TokenID][]models.ProvenanceEntry
	authorized map[domain.Address]struct{}
}

func NewInMemory() *InMemory {
	return &InMemory{
		nextID:     1,
		records:    make(map[domain.TokenID]models.Record),
		provenance: make(map[domain.TokenID][]models.ProvenanceEntry),
		authorized: make(map[domain.Address]struct{}),
	}
}

// Create allocates the next id, stores the record, and appends the creation
// provenance entry (price 0) in one step.
func (s *InMemory) Create(_ context.Context, record *models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record.ID = s.nextID
	s.nextID++
	s.records[record.ID] = *record
	s.provenance[record.ID] = []models.ProvenanceEntry{{
		Owner:     record.Owner,
		Timestamp: record.CreatedAt,
		Price:     0,
	}}
	return nil
}

func (s *InMemory) Get(_ context.Context, id domain.TokenID) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &record, nil
}

// Update overwrites the stored record. The service owns which fields may
// change; the store only requires that the record exists.
func (s *InMemory) Update(_ context.Context, record *models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[record.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.records[record.ID] = *record
	return nil
}

// Transfer updates the owner and appends the provenance entry atomically.
func (s *InMemory) Transfer(_ context.Context, id domain.TokenID, to domain.Address, price uint64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	record.Owner = to
	s.records[id] = record
	s.provenance[id] = append(s.provenance[id], models.ProvenanceEntry{
		Owner:     to,
		Timestamp: at,
		Price:     price,
	})
	return nil
}

func (s *InMemory) History(_ context.Context, id domain.TokenID) ([]models.ProvenanceEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries, ok := s.provenance[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := make([]models.ProvenanceEntry, len(entries))
	copy(out, entries)
	return out, nil
}

func (s *InMemory) SetAuthorizedCaller(_ context.Context, addr domain.Address, allowed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if allowed {
		s.authorized[addr] = struct{}{}
	} else {
		delete(s.authorized, addr)
	}
	return nil
}

func (s *InMemory) IsAuthorizedCaller(_ context.Context, addr domain.Address) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.authorized[addr]
	return ok, nil
}
