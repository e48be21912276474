package npc

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Compile-time assertion that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

// maxIDAttempts bounds ID regeneration on collision.
const maxIDAttempts = 8

// MemStore is a thread-safe, in-memory implementation of [Store].
// Records live only as long as the process.
type MemStore struct {
	now   func() time.Time
	newID func() string

	mu    sync.RWMutex
	npcs  map[string]NPC
	order []string
}

// MemOption configures a [MemStore].
type MemOption func(*MemStore)

// WithClock overrides the time source used for CreatedAt.
func WithClock(now func() time.Time) MemOption {
	return func(s *MemStore) { s.now = now }
}

// WithIDGenerator overrides the ID generator. Intended for tests.
func WithIDGenerator(gen func() string) MemOption {
	return func(s *MemStore) { s.newID = gen }
}

// NewMemStore returns an empty [MemStore].
func NewMemStore(opts ...MemOption) *MemStore {
	s := &MemStore{
		now:   time.Now,
		newID: uuid.NewString,
		npcs:  make(map[string]NPC),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// List implements [Store.List].
func (s *MemStore) List(ctx context.Context) ([]NPC, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]NPC, 0, len(s.order))
	for _, id := range s.order {
		result = append(result, s.npcs[id].Clone())
	}
	return result, nil
}

// Get implements [Store.Get].
func (s *MemStore) Get(ctx context.Context, id string) (NPC, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.npcs[id]
	if !ok {
		return NPC{}, ErrNotFound
	}
	return n.Clone(), nil
}

// Create implements [Store.Create].
func (s *MemStore) Create(ctx context.Context, f Fields) (NPC, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.freshID()
	if err != nil {
		return NPC{}, err
	}

	n := NPC{
		ID:              id,
		CreatedAt:       s.now().UTC(),
		Name:            f.Name,
		Background:      f.Background,
		Appearance:      f.Appearance,
		ProfileImageURL: f.ProfileImageURL,
		Personality:     f.Personality,
		CoreValues:      f.CoreValues,
		PrimaryAims:     f.PrimaryAims,
	}.Clone()

	s.npcs[id] = n
	s.order = append(s.order, id)
	return n.Clone(), nil
}

// Update implements [Store.Update].
func (s *MemStore) Update(ctx context.Context, id string, p Patch) (NPC, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.npcs[id]
	if !ok {
		return NPC{}, ErrNotFound
	}

	next := p.Apply(cur)
	s.npcs[id] = next
	return next.Clone(), nil
}

// Delete implements [Store.Delete].
func (s *MemStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.npcs[id]; !ok {
		return ErrNotFound
	}

	delete(s.npcs, id)
	if i := slices.Index(s.order, id); i >= 0 {
		s.order = slices.Delete(s.order, i, i+1)
	}
	return nil
}

// Len returns the number of stored NPCs.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.npcs)
}

// freshID returns an ID not yet present in the store. Must be called with
// s.mu held.
func (s *MemStore) freshID() (string, error) {
	for range maxIDAttempts {
		id := s.newID()
		if id == "" {
			continue
		}
		if _, taken := s.npcs[id]; !taken {
			return id, nil
		}
	}
	return "", fmt.Errorf("npc: could not generate a unique id after %d attempts", maxIDAttempts)
}
