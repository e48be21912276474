package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/npcforge/internal/npc"
)

// GuardedStore is an [npc.Store] whose calls pass through a
// [CircuitBreaker]. Once the breaker opens, calls fail with an error
// wrapping [ErrCircuitOpen] without reaching the backend.
type GuardedStore struct {
	next npc.Store
	cb   *CircuitBreaker
}

var _ npc.Store = (*GuardedStore)(nil)

// GuardStore wraps next with a breaker built from cfg. Missing NPCs,
// validation errors and cancelled requests do not count as failures.
func GuardStore(next npc.Store, cfg CircuitBreakerConfig) *GuardedStore {
	if cfg.Name == "" {
		cfg.Name = "store"
	}
	cfg.IsFailure = isStoreFailure
	return &GuardedStore{next: next, cb: NewCircuitBreaker(cfg)}
}

func isStoreFailure(err error) bool {
	var ve *npc.ValidationError
	switch {
	case err == nil,
		errors.Is(err, npc.ErrNotFound),
		errors.As(err, &ve),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}

// Breaker returns the breaker guarding the store.
func (s *GuardedStore) Breaker() *CircuitBreaker {
	return s.cb
}

// List implements [npc.Store.List].
func (s *GuardedStore) List(ctx context.Context) (out []npc.NPC, err error) {
	err = s.do(func() error {
		out, err = s.next.List(ctx)
		return err
	})
	return out, err
}

// Get implements [npc.Store.Get].
func (s *GuardedStore) Get(ctx context.Context, id string) (n npc.NPC, err error) {
	err = s.do(func() error {
		n, err = s.next.Get(ctx, id)
		return err
	})
	return n, err
}

// Create implements [npc.Store.Create].
func (s *GuardedStore) Create(ctx context.Context, f npc.Fields) (n npc.NPC, err error) {
	err = s.do(func() error {
		n, err = s.next.Create(ctx, f)
		return err
	})
	return n, err
}

// Update implements [npc.Store.Update].
func (s *GuardedStore) Update(ctx context.Context, id string, p npc.Patch) (n npc.NPC, err error) {
	err = s.do(func() error {
		n, err = s.next.Update(ctx, id, p)
		return err
	})
	return n, err
}

// Delete implements [npc.Store.Delete].
func (s *GuardedStore) Delete(ctx context.Context, id string) error {
	return s.do(func() error { return s.next.Delete(ctx, id) })
}

// Ping pings the backend, if it supports it, and then reports the breaker
// state. Pings never count toward the breaker.
func (s *GuardedStore) Ping(ctx context.Context) error {
	if p, ok := s.next.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(ctx); err != nil {
			return err
		}
	}
	return s.cb.Check(ctx)
}

func (s *GuardedStore) do(fn func() error) error {
	err := s.cb.Execute(fn)
	if errors.Is(err, ErrCircuitOpen) {
		return fmt.Errorf("resilience: %s unavailable: %w", s.cb.name, err)
	}
	return err
}
