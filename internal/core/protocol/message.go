// Package protocol defines the board synchronization wire messages.
//
// Every frame is a JSON envelope {"type": ..., "data": ...}. Inbound frames are
// decoded into one concrete variant per type and validated here, so nothing
// loosely shaped reaches the store.
package protocol

import "github.com/yancarlos4500/sanjuan-coordination/internal/core/board"

// Type names a message variant on the wire.
type Type string

const (
	// client -> server
	TypePull   Type = "pull"
	TypeUpdate Type = "update"
	TypePatch  Type = "patch"
	TypeMove   Type = "move"

	// server -> client
	TypeState      Type = "state"
	TypePatchApply Type = "patch-apply"
	TypeMoveApply  Type = "move-apply"
)

func (t Type) String() string { return string(t) }

// Message is implemented by every variant.
type Message interface {
	Type() Type
}

// PatchPayload carries a partial item update.
type PatchPayload struct {
	ID    string          `json:"id"`
	Patch board.ItemPatch `json:"patch"`
	MTime *int64          `json:"mtime,omitempty"`
}

// MovePayload carries a lane move. Index is optional; nil means head of lane.
type MovePayload struct {
	ID    string `json:"id"`
	From  string `json:"from"`
	To    string `json:"to"`
	Index *int   `json:"index,omitempty"`
	MTime *int64 `json:"mtime,omitempty"`
}

// Pull asks the server for the full board.
type Pull struct{}

// Update offers a full board as the new authoritative state.
type Update struct {
	State board.State
}

// Patch is a fine-grained field edit.
type Patch struct {
	PatchPayload
}

// Move is a fine-grained lane move.
type Move struct {
	MovePayload
}

// StateReply carries the full board from the server.
type StateReply struct {
	State board.State
}

// PatchApply relays an accepted patch to other replicas.
type PatchApply struct {
	PatchPayload
}

// MoveApply relays a move to other replicas.
type MoveApply struct {
	MovePayload
}

func (Pull) Type() Type       { return TypePull }
func (Update) Type() Type     { return TypeUpdate }
func (Patch) Type() Type      { return TypePatch }
func (Move) Type() Type       { return TypeMove }
func (StateReply) Type() Type { return TypeState }
func (PatchApply) Type() Type { return TypePatchApply }
func (MoveApply) Type() Type  { return TypeMoveApply }
