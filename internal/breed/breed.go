// Package breed computes offspring NPCs from two parents.
//
// Breeding is not a store concept: the offspring is an ordinary NPC whose
// fields are derived from its parents and persisted through [npc.Store.Create].
package breed

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/npcforge/internal/npc"
)

// MaxLabels caps the number of core values and primary aims an offspring
// inherits.
const MaxLabels = 3

// ErrSameParent is returned by [Breed] when both parent IDs are equal.
var ErrSameParent = errors.New("breed: parents must be two different NPCs")

// Offspring derives the fields of a new NPC from parents a and b.
//
// Personality traits are the arithmetic mean of the parents' traits. Core
// values are the ordered union of both parents' values (a first), truncated
// to [MaxLabels]. Primary aims are built the same way but only the first
// word of each aim is kept. now seeds the generated name.
func Offspring(a, b npc.NPC, now time.Time) npc.Fields {
	return npc.Fields{
		Name:       Name(now),
		Background: fmt.Sprintf("A unique blend of %s and %s's experiences...", a.Name, b.Name),
		Appearance: fmt.Sprintf("A fascinating combination of %s and %s's features...", a.Name, b.Name),
		Personality: npc.Personality{
			RiskTolerance: (a.Personality.RiskTolerance + b.Personality.RiskTolerance) / 2,
			Rationality:   (a.Personality.Rationality + b.Personality.Rationality) / 2,
			Autonomy:      (a.Personality.Autonomy + b.Personality.Autonomy) / 2,
		},
		CoreValues:  truncate(union(a.CoreValues, b.CoreValues), MaxLabels),
		PrimaryAims: truncate(firstWords(union(a.PrimaryAims, b.PrimaryAims)), MaxLabels),
	}
}

// Name returns the generated offspring name "hybrid-NNNN", where NNNN are the
// last four digits of now in Unix milliseconds.
func Name(now time.Time) string {
	ms := strconv.FormatInt(now.UnixMilli(), 10)
	if len(ms) > 4 {
		ms = ms[len(ms)-4:]
	}
	return "hybrid-" + ms
}

// Breed loads the parents idA and idB from store, derives the offspring and
// persists it. Missing parents surface as [npc.ErrNotFound].
func Breed(ctx context.Context, store npc.Store, idA, idB string) (npc.NPC, error) {
	return breedAt(ctx, store, idA, idB, time.Now())
}

func breedAt(ctx context.Context, store npc.Store, idA, idB string, now time.Time) (npc.NPC, error) {
	if idA == idB {
		return npc.NPC{}, ErrSameParent
	}
	a, err := store.Get(ctx, idA)
	if err != nil {
		return npc.NPC{}, fmt.Errorf("breed: parent %q: %w", idA, err)
	}
	b, err := store.Get(ctx, idB)
	if err != nil {
		return npc.NPC{}, fmt.Errorf("breed: parent %q: %w", idB, err)
	}
	child, err := store.Create(ctx, Offspring(a, b, now))
	if err != nil {
		return npc.NPC{}, fmt.Errorf("breed: create offspring: %w", err)
	}
	return child, nil
}

// union returns the distinct labels of a followed by those of b, in
// encounter order.
func union(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, v := range list {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

// firstWords keeps the first whitespace-separated word of each label.
// Duplicates introduced by shortening are kept.
func firstWords(labels []string) []string {
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		if fields := strings.Fields(l); len(fields) > 0 {
			out = append(out, fields[0])
			continue
		}
		out = append(out, l)
	}
	return out
}

func truncate(labels []string, n int) []string {
	if len(labels) > n {
		return labels[:n:n]
	}
	return labels
}
