package npc

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by Get, Update and Delete when no NPC has the
// requested ID. It is an ordinary outcome, not an exceptional one.
var ErrNotFound = errors.New("npc not found")

// Store manages NPC records.
//
// All implementations must be safe for concurrent use and must behave as if
// operations were applied one at a time.
type Store interface {
	// List returns every NPC in insertion order. The returned slice is a
	// snapshot: later mutations of the store do not change it.
	List(ctx context.Context) ([]NPC, error)

	// Get retrieves an NPC by ID.
	// Returns [ErrNotFound] when no NPC with that ID exists.
	Get(ctx context.Context, id string) (NPC, error)

	// Create persists a new NPC built from f. The store assigns a fresh
	// unique ID and the current time as CreatedAt and returns the stored
	// record. An existing ID is never overwritten.
	Create(ctx context.Context, f Fields) (NPC, error)

	// Update merges p over the NPC with the given ID (see [Patch]) and
	// returns the updated record.
	// Returns [ErrNotFound] when no NPC with that ID exists.
	Update(ctx context.Context, id string, p Patch) (NPC, error)

	// Delete removes the NPC with the given ID.
	// Returns [ErrNotFound] when no NPC with that ID exists, including on
	// repeated deletes of the same ID.
	Delete(ctx context.Context, id string) error
}

// ValidationError describes every problem found in caller-supplied NPC data.
// Stores do not validate on their own; input layers (HTTP handlers, seed
// loaders) call [Fields.Validate] before handing data to a store.
type ValidationError struct {
	Problems []string
}

// Error implements error.
func (e *ValidationError) Error() string {
	return "npc: invalid: " + strings.Join(e.Problems, "; ")
}

// Validate checks f for logical consistency. It returns a [*ValidationError]
// listing every violation, or nil. Problems name fields by their JSON keys.
func (f Fields) Validate() error {
	var problems []string

	if strings.TrimSpace(f.Name) == "" {
		problems = append(problems, "name must not be empty")
	}
	problems = append(problems, f.Personality.problems()...)
	problems = append(problems, labelProblems("coreValues", f.CoreValues)...)
	problems = append(problems, labelProblems("primaryAims", f.PrimaryAims)...)

	if len(problems) == 0 {
		return nil
	}
	return &ValidationError{Problems: problems}
}

// Validate checks the fields a patch would set. A nil Name is fine, an empty
// one is not.
func (p Patch) Validate() error {
	var problems []string
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		problems = append(problems, "name must not be empty")
	}
	if p.Personality != nil {
		problems = append(problems, p.Personality.problems()...)
	}
	if p.CoreValues != nil {
		problems = append(problems, labelProblems("coreValues", *p.CoreValues)...)
	}
	if p.PrimaryAims != nil {
		problems = append(problems, labelProblems("primaryAims", *p.PrimaryAims)...)
	}
	if len(problems) == 0 {
		return nil
	}
	return &ValidationError{Problems: problems}
}

func (p Personality) problems() []string {
	var out []string
	check := func(name string, v float64) {
		if v < MinTrait || v > MaxTrait {
			out = append(out, fmt.Sprintf("personality.%s must be in [%d, %d], got %g", name, MinTrait, MaxTrait, v))
		}
	}
	check("riskTolerance", p.RiskTolerance)
	check("rationality", p.Rationality)
	check("autonomy", p.Autonomy)
	return out
}

func labelProblems(field string, labels []string) []string {
	var out []string
	for i, v := range labels {
		if strings.TrimSpace(v) == "" {
			out = append(out, fmt.Sprintf("%s[%d] must not be blank", field, i))
		}
	}
	return out
}
