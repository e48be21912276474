// Package npc defines the NPC record and the [Store] abstraction that owns
// NPC records for the lifetime of the process.
//
// The default implementation is [MemStore]. Persistent backends live in the
// pgstore and sqlitestore sub-packages and satisfy the same interface, so
// callers (REST handlers, the chat agent, the breeding flow) never depend on
// a concrete backend.
//
// Seed data can be loaded from YAML ([LoadSeedFile]) or taken from
// [DefaultSeed].
package npc

import (
	"slices"
	"time"
)

// MinTrait and MaxTrait bound the conventional personality scale.
const (
	MinTrait = 0
	MaxTrait = 10
)

// Personality is the numeric trait triple of an NPC. Each trait uses the
// [MinTrait]..[MaxTrait] scale by convention; stores do not enforce it.
type Personality struct {
	RiskTolerance float64 `yaml:"risk_tolerance" json:"riskTolerance"`
	Rationality   float64 `yaml:"rationality" json:"rationality"`
	Autonomy      float64 `yaml:"autonomy" json:"autonomy"`
}

// NPC is a persisted character record.
type NPC struct {
	// ID is unique within a store and assigned by [Store.Create].
	ID string `yaml:"id" json:"id"`

	// CreatedAt is assigned by [Store.Create] and never changes afterwards.
	CreatedAt time.Time `yaml:"-" json:"created_at"`

	// Name is the display name.
	Name string `yaml:"name" json:"name"`

	// Background is the narrative backstory.
	Background string `yaml:"background" json:"background"`

	// Appearance is the narrative physical description.
	Appearance string `yaml:"appearance" json:"appearance"`

	// ProfileImageURL optionally points at an avatar. Display only.
	ProfileImageURL *string `yaml:"profile_image_url,omitempty" json:"profile_image_url"`

	Personality Personality `yaml:"personality" json:"personality"`

	// CoreValues is an ordered list of value labels.
	CoreValues []string `yaml:"core_values" json:"coreValues"`

	// PrimaryAims is an ordered list of aim labels.
	PrimaryAims []string `yaml:"primary_aims" json:"primaryAims"`
}

// Fields holds the caller-supplied part of an [NPC]: everything except the
// store-assigned ID and CreatedAt. It is the input to [Store.Create].
type Fields struct {
	Name            string      `yaml:"name" json:"name"`
	Background      string      `yaml:"background" json:"background"`
	Appearance      string      `yaml:"appearance" json:"appearance"`
	ProfileImageURL *string     `yaml:"profile_image_url,omitempty" json:"profile_image_url,omitempty"`
	Personality     Personality `yaml:"personality" json:"personality"`
	CoreValues      []string    `yaml:"core_values" json:"coreValues"`
	PrimaryAims     []string    `yaml:"primary_aims" json:"primaryAims"`
}

// Fields returns the caller-supplied part of n.
func (n NPC) Fields() Fields {
	return Fields{
		Name:            n.Name,
		Background:      n.Background,
		Appearance:      n.Appearance,
		ProfileImageURL: n.ProfileImageURL,
		Personality:     n.Personality,
		CoreValues:      n.CoreValues,
		PrimaryAims:     n.PrimaryAims,
	}
}

// Clone returns a deep copy of n so that callers can never mutate slices
// owned by a store.
func (n NPC) Clone() NPC {
	out := n
	out.CoreValues = slices.Clone(n.CoreValues)
	out.PrimaryAims = slices.Clone(n.PrimaryAims)
	if n.ProfileImageURL != nil {
		u := *n.ProfileImageURL
		out.ProfileImageURL = &u
	}
	return out
}

// Patch is a partial update applied by [Store.Update].
//
// Merging is shallow: every non-nil field replaces the corresponding
// top-level field of the record. Personality is replaced as a whole, never
// merged trait by trait. ID and CreatedAt cannot be patched.
type Patch struct {
	Name            *string      `json:"name,omitempty"`
	Background      *string      `json:"background,omitempty"`
	Appearance      *string      `json:"appearance,omitempty"`
	ProfileImageURL *string      `json:"profile_image_url,omitempty"`
	Personality     *Personality `json:"personality,omitempty"`
	CoreValues      *[]string    `json:"coreValues,omitempty"`
	PrimaryAims     *[]string    `json:"primaryAims,omitempty"`
}

// IsEmpty reports whether p changes nothing.
func (p Patch) IsEmpty() bool {
	return p == Patch{}
}

// Apply returns n with p merged over it. n itself is not modified.
func (p Patch) Apply(n NPC) NPC {
	out := n.Clone()
	if p.Name != nil {
		out.Name = *p.Name
	}
	if p.Background != nil {
		out.Background = *p.Background
	}
	if p.Appearance != nil {
		out.Appearance = *p.Appearance
	}
	if p.ProfileImageURL != nil {
		u := *p.ProfileImageURL
		out.ProfileImageURL = &u
	}
	if p.Personality != nil {
		out.Personality = *p.Personality
	}
	if p.CoreValues != nil {
		out.CoreValues = slices.Clone(*p.CoreValues)
	}
	if p.PrimaryAims != nil {
		out.PrimaryAims = slices.Clone(*p.PrimaryAims)
	}
	return out
}
