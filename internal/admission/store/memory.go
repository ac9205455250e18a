package store

import (
	"context"
	"sync"

	"cardvault/internal/admission/models"
	"cardvault/pkg/domain"
	"cardvault/pkg/platform/sentinel"
)

// InMemory holds the FIFO queue state: one entry per token, an append-only
// order array with a head cursor, a presence set for dedup, the
// certifier-account allow-list, and fee accounting.
type InMemory struct {
	mu         sync.RWMutex
	entries    map[domain.TokenID]models.QueueEntry
	order      []domain.TokenID
	head       int
	present    map[domain.TokenID]struct{}
	certifiers map[domain.Address]string // address -> api secret hash
	fees       models.FeeAccount
}

func NewInMemory() *InMemory {
	return &InMemory{
		entries:    make(map[domain.TokenID]models.QueueEntry),
		present:    make(map[domain.TokenID]struct{}),
		certifiers: make(map[domain.Address]string),
	}
}

// Push appends the entry at the tail and marks the token present.
func (s *InMemory) Push(_ context.Context, entry models.QueueEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, queued := s.present[entry.TokenID]; queued {
		return sentinel.ErrConflict
	}
	s.entries[entry.TokenID] = entry
	s.order = append(s.order, entry.TokenID)
	s.present[entry.TokenID] = struct{}{}
	return nil
}

// Peek returns the token at the head without advancing.
func (s *InMemory) Peek(_ context.Context) (domain.TokenID, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.head >= len(s.order) {
		return 0, false, nil
	}
	return s.order[s.head], true, nil
}

// Advance moves the head past the current token and clears its presence
// flag, returning the token. Reports false when the queue is empty.
func (s *InMemory) Advance(_ context.Context) (domain.TokenID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.head >= len(s.order) {
		return 0, false, nil
	}
	id := s.order[s.head]
	s.head++
	delete(s.present, id)
	return id, true, nil
}

// GetEntry returns the entry for a token, whether pending or completed.
func (s *InMemory) GetEntry(_ context.Context, id domain.TokenID) (*models.QueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &entry, nil
}

// Complete marks the entry finalized with its grade and, if the token sits
// at the head, advances past it.
func (s *InMemory) Complete(_ context.Context, id domain.TokenID, finalGrade string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	if entry.Completed {
		return sentinel.ErrInvalidState
	}
	entry.Completed = true
	entry.FinalGrade = finalGrade
	s.entries[id] = entry
	delete(s.present, id)
	if s.head < len(s.order) && s.order[s.head] == id {
		s.head++
	}
	return nil
}

// IsQueued reports whether the token has a live entry.
func (s *InMemory) IsQueued(_ context.Context, id domain.TokenID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.present[id]
	return ok, nil
}

// Depth returns the number of pending entries.
func (s *InMemory) Depth(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.present), nil
}

// Clear drops all pending entries and resets the queue. Completed entries
// are untouched; pending entries lose their presence flag so their tokens
// can be re-enqueued.
func (s *InMemory) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.present {
		if entry, ok := s.entries[id]; ok && !entry.Completed {
			delete(s.entries, id)
		}
	}
	s.order = nil
	s.head = 0
	s.present = make(map[domain.TokenID]struct{})
	return nil
}

// SetCertifier adds or removes a certifier account. secretHash is stored for
// token-issuance verification; empty removes the account.
func (s *InMemory) SetCertifier(_ context.Context, addr domain.Address, secretHash string, allowed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if allowed {
		s.certifiers[addr] = secretHash
	} else {
		delete(s.certifiers, addr)
	}
	return nil
}

// IsCertifier reports allow-list membership.
func (s *InMemory) IsCertifier(_ context.Context, addr domain.Address) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.certifiers[addr]
	return ok, nil
}

// CertifierSecretHash returns the stored hash for an allow-listed account.
func (s *InMemory) CertifierSecretHash(_ context.Context, addr domain.Address) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hash, ok := s.certifiers[addr]
	if !ok {
		return "", sentinel.ErrNotFound
	}
	return hash, nil
}

// AddCollected records fees taken into the vault.
func (s *InMemory) AddCollected(_ context.Context, amount uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fees.Collected += amount
	return nil
}

// SubCollected reverses a collected fee when an enqueue is unwound.
func (s *InMemory) SubCollected(_ context.Context, amount uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if amount > s.fees.Collected {
		return sentinel.ErrInvalidState
	}
	s.fees.Collected -= amount
	return nil
}

// AddWithdrawn records an administrative withdrawal. Fails if it would
// exceed the collected, unreturned balance.
func (s *InMemory) AddWithdrawn(_ context.Context, amount uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if amount > s.fees.Withdrawable() {
		return sentinel.ErrInvalidState
	}
	s.fees.Withdrawn += amount
	return nil
}

// Fees returns the current fee account.
func (s *InMemory) Fees(_ context.Context) (models.FeeAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fees, nil
}
