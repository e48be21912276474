package npc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// SeedFile is the top-level structure of an NPC seed YAML file.
//
// Example:
//
//	npcs:
//	  - name: "Aria"
//	    background: "A skilled trader from the digital realms"
//	    personality:
//	      risk_tolerance: 7
//	      rationality: 8
//	      autonomy: 9
//	    core_values: [Innovation, Freedom, Knowledge]
//	    primary_aims: [Expand, Play]
type SeedFile struct {
	NPCs []Fields `yaml:"npcs"`
}

// LoadSeedFile reads and parses a seed YAML file from disk.
func LoadSeedFile(path string) (*SeedFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("npc: open seed file %q: %w", path, err)
	}
	defer f.Close()

	sf, err := LoadSeedFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("npc: parse seed file %q: %w", path, err)
	}
	return sf, nil
}

// LoadSeedFromReader parses seed YAML from r and validates every entry.
func LoadSeedFromReader(r io.Reader) (*SeedFile, error) {
	var sf SeedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&sf); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("npc: decode seed yaml: %w", err)
	}
	for i, f := range sf.NPCs {
		if err := f.Validate(); err != nil {
			return nil, fmt.Errorf("npc: seed npcs[%d]: %w", i, err)
		}
	}
	return &sf, nil
}

// Seed creates every entry of fields in store, in order. It stops at the
// first error and returns how many NPCs were created before it.
func Seed(ctx context.Context, store Store, fields []Fields) (int, error) {
	count := 0
	for _, f := range fields {
		if _, err := store.Create(ctx, f); err != nil {
			return count, fmt.Errorf("npc: seed at index %d (name %q): %w", count, f.Name, err)
		}
		count++
	}
	return count, nil
}

// DefaultSeed returns the built-in starter NPCs.
func DefaultSeed() []Fields {
	return []Fields{
		{
			Name:        "Aria",
			Background:  "A skilled trader from the digital realms",
			Appearance:  "Holographic being with flowing data streams",
			Personality: Personality{RiskTolerance: 7, Rationality: 8, Autonomy: 9},
			CoreValues:  []string{"Innovation", "Freedom", "Knowledge"},
			PrimaryAims: []string{"Expand", "Play"},
		},
		{
			Name:        "Nexus",
			Background:  "Cybersecurity expert and blockchain guardian",
			Appearance:  "Matrix-like code patterns forming a humanoid shape",
			Personality: Personality{RiskTolerance: 4, Rationality: 9, Autonomy: 7},
			CoreValues:  []string{"Security", "Trust", "Decentralization"},
			PrimaryAims: []string{"Protect", "Play"},
		},
	}
}
