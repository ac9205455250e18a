// Package ledger provides the execution discipline shared by the registry,
// admission queue, and exchange: every state-changing operation runs alone
// against the full ledger state, in some total order, and commits all of its
// writes or none of them.
package ledger

import (
	"context"
	"sync"

	"cardvault/pkg/domain"
	dErrors "cardvault/pkg/domain-errors"
)

// Sequencer serializes operations over the shared ledger state. Callers wrap
// each externally invoked operation in Do; two operations never observe each
// other's intermediate writes.
//
// Cross-component calls (admission queue into registry, exchange into
// registry) happen inside an operation that already holds the sequence. The
// context carries that fact, so a nested Do joins the enclosing operation
// instead of deadlocking; the nested call is part of the same atomic unit.
type Sequencer struct {
	mu sync.Mutex
}

type sequencedKey struct{}

// Do runs op with exclusive access to the ledger. The context passed to op
// must be used for any nested Do calls.
func (s *Sequencer) Do(ctx context.Context, op func(ctx context.Context) error) error {
	if ctx.Value(sequencedKey{}) != nil {
		return op(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "operation cancelled before execution")
	}
	return op(context.WithValue(ctx, sequencedKey{}, struct{}{}))
}

// Guard is a per-token reentrancy guard: set on entry, cleared on exit, and a
// second entrant for the same token is rejected outright. It protects the
// transfer-then-settle ordering in purchase against a fund recipient calling
// back into the exchange mid-operation. Explicit flag, not call-depth
// accounting.
type Guard struct {
	mu   sync.Mutex
	held map[domain.TokenID]struct{}
}

// NewGuard returns an empty guard.
func NewGuard() *Guard {
	return &Guard{held: make(map[domain.TokenID]struct{})}
}

// Acquire marks the token as being operated on. Fails if already held.
func (g *Guard) Acquire(id domain.TokenID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.held[id]; ok {
		return dErrors.Newf(dErrors.CodeConflict, "reentrant operation on token %d", id)
	}
	g.held[id] = struct{}{}
	return nil
}

// Release clears the flag. Safe to call for tokens that are not held.
func (g *Guard) Release(id domain.TokenID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.held, id)
}
