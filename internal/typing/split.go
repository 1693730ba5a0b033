package typing

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/rivo/uniseg"
)

// Unit policies.
const (
	PolicyRunes     = "runes"
	PolicyGraphemes = "graphemes"
)

// Splitter breaks decoded text into ordered reveal units.
type Splitter func(s string) []string

// SplitterFor resolves a policy name. Empty means runes.
func SplitterFor(policy string) (Splitter, error) {
	switch policy {
	case "", PolicyRunes:
		return Runes, nil
	case PolicyGraphemes:
		return Graphemes, nil
	default:
		return nil, fmt.Errorf("unknown unit policy %q", policy)
	}
}

// Runes yields one unit per character.
func Runes(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

// Graphemes yields one unit per user-perceived character, so combining marks
// and emoji sequences are revealed together.
func Graphemes(s string) []string {
	var out []string
	g := uniseg.NewGraphemes(s)
	for g.Next() {
		out = append(out, g.Str())
	}
	return out
}

// Tag splits s and labels every unit with the entry it is destined for.
func Tag(split Splitter, entryID uuid.UUID, s string) []Unit {
	parts := split(s)
	units := make([]Unit, len(parts))
	for i, p := range parts {
		units[i] = Unit{EntryID: entryID, Text: p}
	}
	return units
}
