package npc_test

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/npcforge/internal/npc"
)

func sampleFields(name string) npc.Fields {
	return npc.Fields{
		Name:        name,
		Background:  "Born in a forgotten shard of the network",
		Appearance:  "Flickering pixels",
		Personality: npc.Personality{RiskTolerance: 8, Rationality: 6, Autonomy: 4},
		CoreValues:  []string{"Speed", "Trust"},
		PrimaryAims: []string{"Explore"},
	}
}

func TestCreate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("assigns id and timestamp", func(t *testing.T) {
		t.Parallel()
		fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		s := npc.NewMemStore(npc.WithClock(func() time.Time { return fixed }))

		got, err := s.Create(ctx, sampleFields("Aria"))
		if err != nil {
			t.Fatalf("Create: unexpected error: %v", err)
		}
		if got.ID == "" {
			t.Fatal("Create: expected generated ID, got empty string")
		}
		if !got.CreatedAt.Equal(fixed) {
			t.Errorf("Create: CreatedAt = %v, want %v", got.CreatedAt, fixed)
		}
	})

	t.Run("ids are unique", func(t *testing.T) {
		t.Parallel()
		s := npc.NewMemStore()
		seen := make(map[string]struct{})
		for i := range 500 {
			got, err := s.Create(ctx, sampleFields(fmt.Sprintf("npc-%d", i)))
			if err != nil {
				t.Fatalf("Create #%d: %v", i, err)
			}
			if _, dup := seen[got.ID]; dup {
				t.Fatalf("Create #%d: duplicate ID %q", i, got.ID)
			}
			seen[got.ID] = struct{}{}
		}
	})

	t.Run("colliding generator never overwrites", func(t *testing.T) {
		t.Parallel()
		ids := []string{"same", "same", "other"}
		var mu sync.Mutex
		gen := func() string {
			mu.Lock()
			defer mu.Unlock()
			id := ids[0]
			ids = ids[1:]
			return id
		}
		s := npc.NewMemStore(npc.WithIDGenerator(gen))

		first, err := s.Create(ctx, sampleFields("First"))
		if err != nil {
			t.Fatalf("Create first: %v", err)
		}
		second, err := s.Create(ctx, sampleFields("Second"))
		if err != nil {
			t.Fatalf("Create second: %v", err)
		}
		if first.ID != "same" || second.ID != "other" {
			t.Fatalf("ids = %q, %q; want same, other", first.ID, second.ID)
		}
		got, _ := s.Get(ctx, "same")
		if got.Name != "First" {
			t.Errorf("record overwritten: name = %q, want First", got.Name)
		}
	})

	t.Run("exhausted generator returns error", func(t *testing.T) {
		t.Parallel()
		s := npc.NewMemStore(npc.WithIDGenerator(func() string { return "fixed" }))
		if _, err := s.Create(ctx, sampleFields("A")); err != nil {
			t.Fatalf("Create A: %v", err)
		}
		if _, err := s.Create(ctx, sampleFields("B")); err == nil {
			t.Fatal("Create B: expected error, got nil")
		}
		if s.Len() != 1 {
			t.Errorf("Len = %d, want 1", s.Len())
		}
	})
}

func TestCreateThenGetRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := npc.NewMemStore()
	url := "https://example.com/aria.png"
	in := sampleFields("Aria")
	in.ProfileImageURL = &url

	created, err := s.Create(ctx, in)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := s.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !reflect.DeepEqual(got.Fields(), in) {
		t.Errorf("round trip mismatch:\n got  %+v\n want %+v", got.Fields(), in)
	}
}

func TestNotFoundIsRepeatable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := npc.NewMemStore()
	name := "X"

	for i := range 3 {
		if _, err := s.Get(ctx, "never-issued"); !errors.Is(err, npc.ErrNotFound) {
			t.Fatalf("Get #%d: expected ErrNotFound, got %v", i, err)
		}
		if _, err := s.Update(ctx, "never-issued", npc.Patch{Name: &name}); !errors.Is(err, npc.ErrNotFound) {
			t.Fatalf("Update #%d: expected ErrNotFound, got %v", i, err)
		}
		if err := s.Delete(ctx, "never-issued"); !errors.Is(err, npc.ErrNotFound) {
			t.Fatalf("Delete #%d: expected ErrNotFound, got %v", i, err)
		}
	}
}

func TestUpdate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("name only leaves other fields unchanged", func(t *testing.T) {
		t.Parallel()
		s := npc.NewMemStore()
		orig, _ := s.Create(ctx, sampleFields("Aria"))

		name := "X"
		got, err := s.Update(ctx, orig.ID, npc.Patch{Name: &name})
		if err != nil {
			t.Fatalf("Update: %v", err)
		}
		if got.Name != "X" {
			t.Errorf("Name = %q, want X", got.Name)
		}
		want := orig
		want.Name = "X"
		if !reflect.DeepEqual(got, want) {
			t.Errorf("Update changed more than name:\n got  %+v\n want %+v", got, want)
		}
	})

	t.Run("personality is replaced wholesale", func(t *testing.T) {
		t.Parallel()
		s := npc.NewMemStore()
		orig, _ := s.Create(ctx, sampleFields("Aria"))

		p := npc.Personality{Autonomy: 2}
		got, err := s.Update(ctx, orig.ID, npc.Patch{Personality: &p})
		if err != nil {
			t.Fatalf("Update: %v", err)
		}
		if got.Personality != p {
			t.Errorf("Personality = %+v, want %+v", got.Personality, p)
		}
	})

	t.Run("id and created_at are immutable", func(t *testing.T) {
		t.Parallel()
		s := npc.NewMemStore()
		orig, _ := s.Create(ctx, sampleFields("Aria"))

		aims := []string{"Rest"}
		got, err := s.Update(ctx, orig.ID, npc.Patch{PrimaryAims: &aims})
		if err != nil {
			t.Fatalf("Update: %v", err)
		}
		if got.ID != orig.ID || !got.CreatedAt.Equal(orig.CreatedAt) {
			t.Errorf("identity changed: got (%q, %v), want (%q, %v)", got.ID, got.CreatedAt, orig.ID, orig.CreatedAt)
		}
	})
}

func TestDeleteThenGet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := npc.NewMemStore()
	n, _ := s.Create(ctx, sampleFields("Doomed"))

	if err := s.Delete(ctx, n.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, n.ID); !errors.Is(err, npc.ErrNotFound) {
		t.Fatalf("Get after Delete: expected ErrNotFound, got %v", err)
	}
	if err := s.Delete(ctx, n.ID); !errors.Is(err, npc.ErrNotFound) {
		t.Fatalf("second Delete: expected ErrNotFound, got %v", err)
	}
	all, _ := s.List(ctx)
	if len(all) != 0 {
		t.Errorf("List after Delete: got %d NPCs, want 0", len(all))
	}
}

func TestListSnapshot(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := npc.NewMemStore()
	a, _ := s.Create(ctx, sampleFields("A"))
	_, _ = s.Create(ctx, sampleFields("B"))

	snap, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(snap) != 2 || snap[0].Name != "A" || snap[1].Name != "B" {
		t.Fatalf("List: unexpected order/content: %+v", snap)
	}

	name := "renamed"
	_, _ = s.Update(ctx, a.ID, npc.Patch{Name: &name})
	_, _ = s.Create(ctx, sampleFields("C"))
	_ = s.Delete(ctx, a.ID)

	if len(snap) != 2 || snap[0].Name != "A" {
		t.Errorf("snapshot changed after mutations: %+v", snap)
	}

	// Mutating a returned record must not leak into the store.
	snap[1].CoreValues[0] = "Tampered"
	fresh, _ := s.List(ctx)
	for _, n := range fresh {
		if n.Name == "B" && n.CoreValues[0] != "Speed" {
			t.Errorf("store shares slices with returned records: %v", n.CoreValues)
		}
	}
}

func TestCreateDoesNotAliasInput(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := npc.NewMemStore()
	in := sampleFields("Aria")
	n, _ := s.Create(ctx, in)

	in.CoreValues[0] = "Changed"
	got, _ := s.Get(ctx, n.ID)
	if got.CoreValues[0] != "Speed" {
		t.Errorf("store aliased caller slice: %v", got.CoreValues)
	}
}

func TestConcurrentAccess(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := npc.NewMemStore()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := s.Create(ctx, sampleFields(fmt.Sprintf("c-%d", i)))
			if err != nil {
				t.Errorf("Create: %v", err)
				return
			}
			_, _ = s.Get(ctx, n.ID)
			_, _ = s.List(ctx)
			if i%2 == 0 {
				_ = s.Delete(ctx, n.ID)
			}
		}()
	}
	wg.Wait()

	if got := s.Len(); got != 25 {
		t.Errorf("Len = %d, want 25", got)
	}
}
