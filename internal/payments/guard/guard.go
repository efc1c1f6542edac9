// Package guard keeps track of payment tokens whose confirmation is in flight.
//
// The guard is a fast path that turns duplicate callbacks into an immediate
// "already processing" answer. The row lock taken by the ledger remains the
// correctness backstop, so a guard that forgets a token never double-settles.
package guard

import (
	"context"
	"sync"
)

// Guard is the membership set consulted before a confirmation enters the ledger transaction.
type Guard interface {
	TryAcquire(ctx context.Context, token string) bool
	Release(ctx context.Context, token string)
}

// Local is the process-wide set of in-flight tokens.
type Local struct {
	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewLocal returns an empty in-process guard.
func NewLocal() *Local {
	return &Local{inflight: make(map[string]struct{})}
}

// TryAcquire marks token as in flight, returning false when it already was.
func (g *Local) TryAcquire(_ context.Context, token string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.inflight[token]; busy {
		return false
	}
	g.inflight[token] = struct{}{}
	return true
}

// Release forgets token; releasing an unknown token is a no-op.
func (g *Local) Release(_ context.Context, token string) {
	g.mu.Lock()
	delete(g.inflight, token)
	g.mu.Unlock()
}

// Len reports how many tokens are currently held.
func (g *Local) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.inflight)
}
