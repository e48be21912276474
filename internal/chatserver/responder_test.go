package chatserver

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/npcforge/internal/npc"
)

func seededStore(t *testing.T) *npc.MemStore {
	t.Helper()
	s := npc.NewMemStore()
	if _, err := npc.Seed(context.Background(), s, npc.DefaultSeed()); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	return s
}

func TestStoreResponder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  []string // substrings, one per expected reply
	}{
		{name: "help", input: "help", want: []string{"breed <name> and <name>"}},
		{name: "list", input: "list", want: []string{"Known NPCs (2):\n- Aria (risk 7, rationality 8, autonomy 9)\n- Nexus"}},
		{name: "show exact", input: "show Nexus", want: []string{"Core values: Security, Trust, Decentralization"}},
		{name: "show misspelled", input: "SHOW arya", want: []string{"Aria\nBackground: A skilled trader"}},
		{name: "show unknown", input: "show Zork", want: []string{`I don't know an NPC called "Zork".`}},
		{name: "show without name", input: "show", want: []string{"Usage: show <name>"}},
		{name: "breed", input: "breed Aria and Nexus", want: []string{"from Aria and Nexus.", "Personality: risk 5.5, rationality 8.5, autonomy 8"}},
		{name: "breed with itself", input: "breed aria with Aria", want: []string{"cannot be bred with itself"}},
		{name: "breed malformed", input: "breed Aria", want: []string{"Usage: breed"}},
		{name: "breed unknown parent", input: "breed Aria and Zork", want: []string{`"Zork"`}},
		{name: "anything else", input: "what's up?", want: []string{`Received: "what's up?".`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := NewStoreResponder(seededStore(t), nil)
			got, err := r.Respond(context.Background(), tt.input)
			if err != nil {
				t.Fatalf("Respond(%q): %v", tt.input, err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Respond(%q) = %q, want %d replies", tt.input, got, len(tt.want))
			}
			for i, w := range tt.want {
				if !strings.Contains(got[i], w) {
					t.Errorf("reply[%d] = %q, want it to contain %q", i, got[i], w)
				}
			}
		})
	}
}

func TestStoreResponder_DuplicateNames(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := seededStore(t)
	var twins []npc.NPC
	for _, bg := range []string{"elder", "younger"} {
		n, err := store.Create(ctx, npc.Fields{Name: "Twin", Background: bg})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		twins = append(twins, n)
	}
	r := NewStoreResponder(store, nil)

	for _, input := range []string{"show Twin", "breed Twin and Twin", "breed Aria and twin"} {
		got, err := r.Respond(ctx, input)
		if err != nil {
			t.Fatalf("Respond(%q): %v", input, err)
		}
		if len(got) != 1 || !strings.Contains(got[0], `2 NPCs are called "Twin"`) ||
			!strings.Contains(got[0], twins[0].ID) || !strings.Contains(got[0], twins[1].ID) {
			t.Errorf("Respond(%q) = %q, want an ambiguity reply listing both ids", input, got)
		}
	}
	if store.Len() != 4 {
		t.Errorf("store has %d NPCs, ambiguous breed must not create one", store.Len())
	}

	got, err := r.Respond(ctx, "show "+twins[1].ID)
	if err != nil || len(got) != 1 || !strings.Contains(got[0], "Background: younger") {
		t.Errorf("show by id = %q, %v", got, err)
	}
	got, err = r.Respond(ctx, "breed "+twins[0].ID+" and "+twins[1].ID)
	if err != nil || len(got) != 2 || !strings.Contains(got[0], "from Twin and Twin.") {
		t.Errorf("breed by id = %q, %v", got, err)
	}
}

func TestStoreResponder_BreedPersists(t *testing.T) {
	t.Parallel()

	store := seededStore(t)
	r := NewStoreResponder(store, nil)
	if _, err := r.Respond(context.Background(), "breed nexus & aria"); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	all, _ := store.List(context.Background())
	if len(all) != 3 {
		t.Fatalf("store has %d NPCs, want 3", len(all))
	}
	child := all[2]
	if !strings.HasPrefix(child.Name, "hybrid-") {
		t.Errorf("offspring name = %q", child.Name)
	}
	if want := "Security,Trust,Decentralization"; strings.Join(child.CoreValues, ",") != want {
		t.Errorf("offspring core values = %v, want %s", child.CoreValues, want)
	}
}

func TestStoreResponder_EmptyStore(t *testing.T) {
	t.Parallel()

	r := NewStoreResponder(npc.NewMemStore(), nil)
	got, err := r.Respond(context.Background(), "list")
	if err != nil || len(got) != 1 || got[0] != "No NPCs yet." {
		t.Errorf("Respond(list) = %q, %v", got, err)
	}
}

type failingStore struct{ npc.Store }

func (failingStore) List(context.Context) ([]npc.NPC, error) {
	return nil, errors.New("db down")
}

func TestStoreResponder_StoreError(t *testing.T) {
	t.Parallel()

	r := NewStoreResponder(failingStore{}, nil)
	if _, err := r.Respond(context.Background(), "list"); err == nil || !strings.Contains(err.Error(), "db down") {
		t.Errorf("Respond(list) error = %v, want wrapped store error", err)
	}
}
