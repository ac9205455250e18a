// Package funds is the in-ledger native-currency book. Settlement across
// custody boundaries is out of scope; within this ledger a transfer either
// fully succeeds or fails with no effect, which is the atomicity the
// purchase path assumes.
package funds

import (
	"context"
	"sync"

	"cardvault/pkg/domain"
	dErrors "cardvault/pkg/domain-errors"
)

// Book tracks balances in currency atomic units.
type Book interface {
	Balance(ctx context.Context, addr domain.Address) (uint64, error)
	Deposit(ctx context.Context, addr domain.Address, amount uint64) error
	Transfer(ctx context.Context, from, to domain.Address, amount uint64) error
}

// InMemoryBook is the process-local balance book.
type InMemoryBook struct {
	mu       sync.RWMutex
	balances map[domain.Address]uint64
}

func NewInMemoryBook() *InMemoryBook {
	return &InMemoryBook{balances: make(map[domain.Address]uint64)}
}

func (b *InMemoryBook) Balance(_ context.Context, addr domain.Address) (uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.balances[addr], nil
}

func (b *InMemoryBook) Deposit(_ context.Context, addr domain.Address, amount uint64) error {
	if addr.IsZero() {
		return dErrors.New(dErrors.CodeInvalidInput, "cannot deposit to the zero address")
	}
	if amount == 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "deposit amount must be positive")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances[addr] += amount
	return nil
}

// Transfer moves amount from one account to another. All checks happen
// before any balance changes, so a failed transfer has no effect.
func (b *InMemoryBook) Transfer(_ context.Context, from, to domain.Address, amount uint64) error {
	if from.IsZero() || to.IsZero() {
		return dErrors.New(dErrors.CodeInvalidInput, "transfer endpoints cannot be the zero address")
	}
	if amount == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.balances[from] < amount {
		return dErrors.Newf(dErrors.CodePaymentFailed, "insufficient balance: have %d, need %d", b.balances[from], amount)
	}
	b.balances[from] -= amount
	b.balances[to] += amount
	return nil
}
