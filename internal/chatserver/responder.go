package chatserver

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/MrWong99/npcforge/internal/breed"
	"github.com/MrWong99/npcforge/internal/namematch"
	"github.com/MrWong99/npcforge/internal/npc"
	"github.com/MrWong99/npcforge/internal/observe"
)

const helpText = `Commands:
  list                     list all NPCs
  show <name>              describe one NPC
  breed <name> and <name>  create a hybrid of two NPCs
  help                     show this message
An NPC id may be used wherever a name is expected.`

// breedPattern splits "breed <a> and <b>" (also "with" / "x").
var breedPattern = regexp.MustCompile(`(?i)^(.+?)\s+(?:and|with|x|&)\s+(.+)$`)

// StoreResponder answers chat commands from an [npc.Store]. Names typed by
// the user are resolved with [namematch.Matcher], so small misspellings
// still find their NPC.
type StoreResponder struct {
	store   npc.Store
	matcher *namematch.Matcher
	metrics *observe.Metrics
}

// NewStoreResponder creates a [StoreResponder]. m may be nil.
func NewStoreResponder(store npc.Store, m *observe.Metrics) *StoreResponder {
	return &StoreResponder{store: store, matcher: namematch.New(), metrics: m}
}

// Respond implements [Responder].
func (s *StoreResponder) Respond(ctx context.Context, text string) ([]string, error) {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(text), " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(cmd) {
	case "help", "?":
		return []string{helpText}, nil
	case "list", "ls":
		return s.list(ctx)
	case "show", "describe":
		if arg == "" {
			return []string{"Usage: show <name>"}, nil
		}
		return s.show(ctx, arg)
	case "breed":
		m := breedPattern.FindStringSubmatch(arg)
		if m == nil {
			return []string{"Usage: breed <name> and <name>"}, nil
		}
		return s.breed(ctx, m[1], m[2])
	default:
		return []string{fmt.Sprintf("Received: %q. Type \"help\" to see what I can do.", text)}, nil
	}
}

func (s *StoreResponder) list(ctx context.Context) ([]string, error) {
	all, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("chatserver: list: %w", err)
	}
	if len(all) == 0 {
		return []string{"No NPCs yet."}, nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Known NPCs (%d):", len(all))
	for _, n := range all {
		fmt.Fprintf(&b, "\n- %s (risk %g, rationality %g, autonomy %g)",
			n.Name, n.Personality.RiskTolerance, n.Personality.Rationality, n.Personality.Autonomy)
	}
	return []string{b.String()}, nil
}

func (s *StoreResponder) show(ctx context.Context, name string) ([]string, error) {
	n, reply, err := s.resolve(ctx, name)
	if err != nil || reply != "" {
		return replyOrNil(reply), err
	}
	return []string{Describe(n)}, nil
}

func (s *StoreResponder) breed(ctx context.Context, nameA, nameB string) ([]string, error) {
	a, reply, err := s.resolve(ctx, nameA)
	if err != nil || reply != "" {
		return replyOrNil(reply), err
	}
	b, reply, err := s.resolve(ctx, nameB)
	if err != nil || reply != "" {
		return replyOrNil(reply), err
	}

	child, err := breed.Breed(ctx, s.store, a.ID, b.ID)
	if errors.Is(err, breed.ErrSameParent) {
		return []string{"An NPC cannot be bred with itself."}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("chatserver: breed: %w", err)
	}
	s.metrics.RecordOffspring(ctx)
	return []string{
		fmt.Sprintf("Bred %s from %s and %s.", child.Name, a.Name, b.Name),
		Describe(child),
	}, nil
}

// resolve finds the NPC whose id equals ref or whose name best matches it.
// A non-empty reply means no single NPC was found and reply explains why.
func (s *StoreResponder) resolve(ctx context.Context, ref string) (npc.NPC, string, error) {
	all, err := s.store.List(ctx)
	if err != nil {
		return npc.NPC{}, "", fmt.Errorf("chatserver: list: %w", err)
	}
	for _, n := range all {
		if n.ID == ref {
			return n, "", nil
		}
	}

	names := make([]string, len(all))
	for i, n := range all {
		names[i] = n.Name
	}
	match, _, ok := s.matcher.Match(ref, names)
	if !ok {
		return npc.NPC{}, fmt.Sprintf("I don't know an NPC called %q.", ref), nil
	}
	var found []npc.NPC
	for _, n := range all {
		if n.Name == match {
			found = append(found, n)
		}
	}
	switch len(found) {
	case 0:
		return npc.NPC{}, fmt.Sprintf("I don't know an NPC called %q.", ref), nil
	case 1:
		return found[0], "", nil
	}
	ids := make([]string, len(found))
	for i, n := range found {
		ids[i] = n.ID
	}
	return npc.NPC{}, fmt.Sprintf("%d NPCs are called %q. Use an id instead: %s.",
		len(found), match, strings.Join(ids, ", ")), nil
}

func replyOrNil(reply string) []string {
	if reply == "" {
		return nil
	}
	return []string{reply}
}

// Describe renders n as a multi-line chat reply.
func Describe(n npc.NPC) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", n.Name)
	if n.Background != "" {
		fmt.Fprintf(&b, "Background: %s\n", n.Background)
	}
	if n.Appearance != "" {
		fmt.Fprintf(&b, "Appearance: %s\n", n.Appearance)
	}
	fmt.Fprintf(&b, "Personality: risk %g, rationality %g, autonomy %g",
		n.Personality.RiskTolerance, n.Personality.Rationality, n.Personality.Autonomy)
	if len(n.CoreValues) > 0 {
		fmt.Fprintf(&b, "\nCore values: %s", strings.Join(n.CoreValues, ", "))
	}
	if len(n.PrimaryAims) > 0 {
		fmt.Fprintf(&b, "\nPrimary aims: %s", strings.Join(n.PrimaryAims, ", "))
	}
	return b.String()
}
