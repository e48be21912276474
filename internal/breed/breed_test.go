package breed

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/MrWong99/npcforge/internal/npc"
)

func parents() (npc.NPC, npc.NPC) {
	a := npc.NPC{
		ID:          "a",
		Name:        "Aria",
		Personality: npc.Personality{RiskTolerance: 8, Rationality: 6, Autonomy: 4},
		CoreValues:  []string{"Speed", "Trust"},
		PrimaryAims: []string{"Expand territory", "Play"},
	}
	b := npc.NPC{
		ID:          "b",
		Name:        "Nexus",
		Personality: npc.Personality{RiskTolerance: 4, Rationality: 8, Autonomy: 6},
		CoreValues:  []string{"Trust", "Wisdom", "Chaos"},
		PrimaryAims: []string{"Protect the realm", "Play", "Trade"},
	}
	return a, b
}

func TestOffspring(t *testing.T) {
	t.Parallel()

	a, b := parents()
	now := time.UnixMilli(1_700_000_012_345)
	got := Offspring(a, b, now)

	if want := (npc.Personality{RiskTolerance: 6, Rationality: 7, Autonomy: 5}); got.Personality != want {
		t.Errorf("Personality = %+v, want %+v", got.Personality, want)
	}
	if want := []string{"Speed", "Trust", "Wisdom"}; !reflect.DeepEqual(got.CoreValues, want) {
		t.Errorf("CoreValues = %v, want %v", got.CoreValues, want)
	}
	if want := []string{"Expand", "Play", "Protect"}; !reflect.DeepEqual(got.PrimaryAims, want) {
		t.Errorf("PrimaryAims = %v, want %v", got.PrimaryAims, want)
	}
	if got.Name != "hybrid-2345" {
		t.Errorf("Name = %q, want hybrid-2345", got.Name)
	}
	if want := "A unique blend of Aria and Nexus's experiences..."; got.Background != want {
		t.Errorf("Background = %q, want %q", got.Background, want)
	}
	if want := "A fascinating combination of Aria and Nexus's features..."; got.Appearance != want {
		t.Errorf("Appearance = %q, want %q", got.Appearance, want)
	}
	if err := got.Validate(); err != nil {
		t.Errorf("offspring does not validate: %v", err)
	}
}

func TestOffspring_DoesNotAliasParents(t *testing.T) {
	t.Parallel()

	a, b := parents()
	got := Offspring(a, b, time.Now())
	got.CoreValues = append(got.CoreValues, "Extra")
	got.CoreValues[0] = "Mutated"
	if a.CoreValues[0] != "Speed" {
		t.Errorf("parent core values mutated: %v", a.CoreValues)
	}
}

func TestUnion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b []string
		want []string
	}{
		{name: "both empty", want: []string{}},
		{name: "disjoint", a: []string{"x"}, b: []string{"y"}, want: []string{"x", "y"}},
		{name: "overlap keeps first occurrence", a: []string{"x", "y"}, b: []string{"y", "x", "z"}, want: []string{"x", "y", "z"}},
		{name: "duplicates within one list", a: []string{"x", "x"}, want: []string{"x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := union(tt.a, tt.b); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("union(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		ms   int64
		want string
	}{
		{ms: 1_700_000_000_042, want: "hybrid-0042"},
		{ms: 7, want: "hybrid-7"},
	}
	for _, tt := range tests {
		if got := Name(time.UnixMilli(tt.ms)); got != tt.want {
			t.Errorf("Name(%d) = %q, want %q", tt.ms, got, tt.want)
		}
	}
}

func TestBreed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := npc.NewMemStore()
	a, b := parents()
	pa, err := store.Create(ctx, a.Fields())
	if err != nil {
		t.Fatal(err)
	}
	pb, err := store.Create(ctx, b.Fields())
	if err != nil {
		t.Fatal(err)
	}

	child, err := breedAt(ctx, store, pa.ID, pb.ID, time.UnixMilli(1_700_000_009_999))
	if err != nil {
		t.Fatalf("Breed: %v", err)
	}
	if child.Name != "hybrid-9999" {
		t.Errorf("Name = %q", child.Name)
	}
	stored, err := store.Get(ctx, child.ID)
	if err != nil {
		t.Fatalf("offspring not persisted: %v", err)
	}
	if stored.Personality.Rationality != 7 {
		t.Errorf("stored rationality = %v, want 7", stored.Personality.Rationality)
	}
	if store.Len() != 3 {
		t.Errorf("store has %d NPCs, want 3", store.Len())
	}
}

func TestBreed_Errors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := npc.NewMemStore()
	p, _ := store.Create(ctx, npc.Fields{Name: "Solo"})

	if _, err := Breed(ctx, store, p.ID, p.ID); !errors.Is(err, ErrSameParent) {
		t.Errorf("same parent: err = %v, want ErrSameParent", err)
	}
	if _, err := Breed(ctx, store, p.ID, "missing"); !errors.Is(err, npc.ErrNotFound) {
		t.Errorf("missing parent: err = %v, want ErrNotFound", err)
	}
	if store.Len() != 1 {
		t.Errorf("failed breed created records: Len = %d", store.Len())
	}
}
