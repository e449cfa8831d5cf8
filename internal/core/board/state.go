package board

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/cespare/xxhash/v2"
)

// State is a full board snapshot.
//
// Every id in Items appears in exactly one lane, and every id in a lane has an
// entry in Items. LastUpdated is a logical clock in milliseconds used only for
// last-write-wins comparison.
type State struct {
	Lanes       map[string][]string `json:"lanes"`
	Items       map[string]Item     `json:"items"`
	LastUpdated int64               `json:"lastUpdated"`
}

// NewState returns an empty board with every lane present.
func NewState(lanes Lanes) State {
	s := State{
		Lanes: make(map[string][]string, len(lanes)),
		Items: make(map[string]Item),
	}
	for _, name := range lanes {
		s.Lanes[name] = []string{}
	}
	return s
}

// Clone returns a deep copy.
func (s State) Clone() State {
	out := State{
		Lanes:       make(map[string][]string, len(s.Lanes)),
		Items:       make(map[string]Item, len(s.Items)),
		LastUpdated: s.LastUpdated,
	}
	for name, ids := range s.Lanes {
		out.Lanes[name] = append(make([]string, 0, len(ids)), ids...)
	}
	for id, item := range s.Items {
		out.Items[id] = item.clone()
	}
	return out
}

// Normalize fills in missing maps and lanes so a state received from a peer can
// be used safely. It does not repair dangling or duplicated ids.
func (s *State) Normalize(lanes Lanes) {
	if s.Lanes == nil {
		s.Lanes = make(map[string][]string, len(lanes))
	}
	if s.Items == nil {
		s.Items = make(map[string]Item)
	}
	for _, name := range lanes {
		if s.Lanes[name] == nil {
			s.Lanes[name] = []string{}
		}
	}
}

// Item looks up a card.
func (s State) Item(id string) (Item, bool) {
	item, ok := s.Items[id]
	return item, ok
}

// LaneOf returns the lane holding id.
func (s State) LaneOf(id string) (string, bool) {
	for name, ids := range s.Lanes {
		if slices.Contains(ids, id) {
			return name, true
		}
	}
	return "", false
}

// HasCallsign reports whether any card already uses callsign (case-insensitive).
func (s State) HasCallsign(callsign string) bool {
	want := NormalizeCallsign(callsign)
	for _, item := range s.Items {
		if NormalizeCallsign(item.Callsign) == want {
			return true
		}
	}
	return false
}

// AddItem places a new card at the head of lane. Callsigns must be unique across
// the board at creation time.
func (s *State) AddItem(item Item, lane string) error {
	if _, ok := s.Lanes[lane]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownLane, lane)
	}
	if item.ID == "" || NormalizeCallsign(item.Callsign) == "" {
		return ErrInvalidItem
	}
	if _, ok := s.Items[item.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, item.ID)
	}
	if s.HasCallsign(item.Callsign) {
		return fmt.Errorf("%w: %s", ErrDuplicateCallsign, NormalizeCallsign(item.Callsign))
	}
	if s.Items == nil {
		s.Items = make(map[string]Item)
	}
	s.Items[item.ID] = item.clone()
	s.Lanes[lane] = slices.Insert(s.Lanes[lane], 0, item.ID)
	return nil
}

// RemoveItem deletes a card and its lane entry. Unknown ids are a no-op.
func (s *State) RemoveItem(id string) bool {
	if _, ok := s.Items[id]; !ok || id == "" {
		return false
	}
	delete(s.Items, id)
	s.detach(id)
	return true
}

// PatchItem shallow-merges patch into the card. It reports false, leaving the
// state untouched, when id is empty or unknown or patch is nil.
func (s *State) PatchItem(id string, patch *ItemPatch) bool {
	if id == "" || patch == nil {
		return false
	}
	item, ok := s.Items[id]
	if !ok {
		return false
	}
	s.Items[id] = patch.Apply(item)
	return true
}

// MoveItem takes id out of lane from and inserts it into lane to at index, or at
// the head when index is nil or out of range. A missing from lane is treated as
// empty; if id is not found there it is taken from whichever lane holds it.
// Unknown ids and unknown destination lanes leave the state untouched.
func (s *State) MoveItem(id, from, to string, index *int) bool {
	if id == "" {
		return false
	}
	if _, ok := s.Items[id]; !ok {
		return false
	}
	if _, ok := s.Lanes[to]; !ok {
		return false
	}

	if !s.removeFromLane(from, id) {
		s.detach(id)
	}

	dest := s.Lanes[to]
	pos := 0
	if index != nil && *index >= 0 && *index <= len(dest) {
		pos = *index
	}
	s.Lanes[to] = slices.Insert(dest, pos, id)
	return true
}

func (s *State) removeFromLane(lane, id string) bool {
	ids, ok := s.Lanes[lane]
	if !ok {
		return false
	}
	idx := slices.Index(ids, id)
	if idx < 0 {
		return false
	}
	s.Lanes[lane] = slices.Delete(ids, idx, idx+1)
	return true
}

func (s *State) detach(id string) {
	for name, ids := range s.Lanes {
		if slices.Contains(ids, id) {
			s.Lanes[name] = slices.DeleteFunc(ids, func(v string) bool { return v == id })
		}
	}
}

// Validate checks referential integrity and single-lane membership.
func (s State) Validate() error {
	seen := make(map[string]string, len(s.Items))
	for name, ids := range s.Lanes {
		for _, id := range ids {
			if other, dup := seen[id]; dup {
				return fmt.Errorf("%w: %s in lanes %q and %q", ErrIntegrity, id, other, name)
			}
			seen[id] = name
			if _, ok := s.Items[id]; !ok {
				return fmt.Errorf("%w: lane %q references unknown item %s", ErrIntegrity, name, id)
			}
		}
	}
	for id := range s.Items {
		if _, ok := seen[id]; !ok {
			return fmt.Errorf("%w: item %s is in no lane", ErrIntegrity, id)
		}
	}
	return nil
}

// Fingerprint hashes the canonical JSON form of s. Two replicas holding equal
// states produce equal fingerprints.
func Fingerprint(s State) uint64 {
	data, err := json.Marshal(s)
	if err != nil {
		return 0
	}
	return xxhash.Sum64(data)
}
