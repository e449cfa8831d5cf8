package board

import (
	"strings"

	"github.com/google/uuid"
)

// Source tags where a card came from.
type Source string

const (
	SourceManual Source = "manual"
	SourceVATSIM Source = "vatsim"
)

// Item is a single flight card.
type Item struct {
	ID       string   `json:"id"`
	Callsign string   `json:"callsign"`
	Fix      string   `json:"waypoint"`
	Estimate string   `json:"estimate"`
	Altitude string   `json:"altitude"`
	Mach     string   `json:"mach"`
	Squawk   string   `json:"squawk"`
	Source   Source   `json:"source"`
	Route    []string `json:"route"`
}

// NewItem creates a card with a fresh id. The route is parsed once here and is
// never recomputed.
func NewItem(callsign string, source Source, route string) Item {
	if source == "" {
		source = SourceManual
	}
	return Item{
		ID:       uuid.NewString(),
		Callsign: NormalizeCallsign(callsign),
		Source:   source,
		Route:    ParseRoute(route),
	}
}

// NormalizeCallsign trims and upper-cases a callsign for storage and comparison.
func NormalizeCallsign(callsign string) string {
	return strings.ToUpper(strings.TrimSpace(callsign))
}

func (i Item) clone() Item {
	if i.Route != nil {
		i.Route = append([]string(nil), i.Route...)
	}
	return i
}

// ItemPatch is a partial update. Nil fields are left untouched when applied.
type ItemPatch struct {
	Callsign *string `json:"callsign,omitempty"`
	Fix      *string `json:"waypoint,omitempty"`
	Estimate *string `json:"estimate,omitempty"`
	Altitude *string `json:"altitude,omitempty"`
	Mach     *string `json:"mach,omitempty"`
	Squawk   *string `json:"squawk,omitempty"`
}

// Str is a helper for building patches.
func Str(s string) *string { return &s }

// IsEmpty reports whether the patch would change nothing.
func (p ItemPatch) IsEmpty() bool {
	return p.Callsign == nil && p.Fix == nil && p.Estimate == nil &&
		p.Altitude == nil && p.Mach == nil && p.Squawk == nil
}

// Apply shallow-merges the patch into item and returns the result.
func (p ItemPatch) Apply(item Item) Item {
	if p.Callsign != nil {
		item.Callsign = *p.Callsign
	}
	if p.Fix != nil {
		item.Fix = *p.Fix
	}
	if p.Estimate != nil {
		item.Estimate = *p.Estimate
	}
	if p.Altitude != nil {
		item.Altitude = *p.Altitude
	}
	if p.Mach != nil {
		item.Mach = *p.Mach
	}
	if p.Squawk != nil {
		item.Squawk = *p.Squawk
	}
	return item
}
