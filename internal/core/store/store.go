// Package store holds the server-authoritative board state.
package store

import (
	"github.com/yancarlos4500/sanjuan-coordination/internal/core/board"
)

// Backend is the durability boundary for the authoritative board. The in-memory
// Store is the only implementation; a persistent one would slot in here.
type Backend interface {
	Lanes() board.Lanes
	Snapshot() board.State
	ReplaceIfNewer(candidate board.State) bool
	ApplyItemPatch(id string, patch *board.ItemPatch, mtime *int64) bool
	ApplyMove(id, from, to string, index *int, mtime *int64) bool
	LastUpdated() int64
	Stats() Stats
}

var _ Backend = (*Store)(nil)

// Store keeps the single authoritative board in memory. It is not safe for
// concurrent use: the hub event loop is its only caller.
type Store struct {
	state board.State
	lanes board.Lanes
}

// Stats summarises the board for status endpoints.
type Stats struct {
	Items       int            `json:"items"`
	Lanes       map[string]int `json:"lanes"`
	LastUpdated int64          `json:"lastUpdated"`
}

func New(lanes board.Lanes) *Store {
	if len(lanes) == 0 {
		lanes = board.DefaultLanes
	}
	return &Store{
		state: board.NewState(lanes),
		lanes: lanes,
	}
}

// Lanes returns the lane enumeration the store was created with.
func (s *Store) Lanes() board.Lanes {
	return s.lanes
}

// Snapshot returns a deep copy of the current board.
func (s *Store) Snapshot() board.State {
	return s.state.Clone()
}

// ReplaceIfNewer installs candidate when its clock is not behind the current
// one; ties go to the candidate. Beyond filling in missing lanes the candidate
// is taken as-is.
func (s *Store) ReplaceIfNewer(candidate board.State) bool {
	if candidate.LastUpdated < s.state.LastUpdated {
		return false
	}
	next := candidate.Clone()
	next.Normalize(s.lanes)
	s.state = next
	return true
}

// ApplyItemPatch merges patch into the item with id. The clock is set to mtime,
// or to the wall clock when mtime is nil.
func (s *Store) ApplyItemPatch(id string, patch *board.ItemPatch, mtime *int64) bool {
	if !s.state.PatchItem(id, patch) {
		return false
	}
	s.state.LastUpdated = stamp(mtime)
	return true
}

// ApplyMove moves id between lanes and always advances the clock. The result
// reports whether lane membership actually changed.
func (s *Store) ApplyMove(id, from, to string, index *int, mtime *int64) bool {
	moved := s.state.MoveItem(id, from, to, index)
	s.state.LastUpdated = stamp(mtime)
	return moved
}

func (s *Store) LastUpdated() int64 {
	return s.state.LastUpdated
}

func (s *Store) Stats() Stats {
	lanes := make(map[string]int, len(s.state.Lanes))
	for name, ids := range s.state.Lanes {
		lanes[name] = len(ids)
	}
	return Stats{
		Items:       len(s.state.Items),
		Lanes:       lanes,
		LastUpdated: s.state.LastUpdated,
	}
}

func stamp(mtime *int64) int64 {
	if mtime != nil {
		return *mtime
	}
	return board.Now()
}
