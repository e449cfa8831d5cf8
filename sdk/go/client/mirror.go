package client

import (
	"sync"
	"time"

	"github.com/yancarlos4500/sanjuan-coordination/internal/core/board"
	"github.com/yancarlos4500/sanjuan-coordination/internal/core/protocol"
)

// CoarsePolicy decides which mirror changes are followed by a full-board update.
type CoarsePolicy int

const (
	// CoarseEveryChange sends the full board after local edits and after
	// merged patch-apply/move-apply messages. A full state from the server is
	// never sent back.
	CoarseEveryChange CoarsePolicy = iota
	// CoarseLocalOnly sends the full board after local edits only.
	CoarseLocalOnly
	// CoarseStructuralOnly sends the full board only for adds and removes,
	// which have no fine-grained message.
	CoarseStructuralOnly
)

// Cause tells listeners where a mirror change came from.
type Cause string

const (
	CauseLocal       Cause = "local"
	CauseRemoteState Cause = "remote-state"
	CauseRemotePatch Cause = "remote-patch"
	CauseRemoteMove  Cause = "remote-move"
)

// ChangeFunc observes the mirror after a change.
type ChangeFunc func(state board.State, cause Cause)

// MirrorOptions tunes outbound traffic.
type MirrorOptions struct {
	Coarse CoarsePolicy
	// CoalesceWindow batches full-board updates: changes inside the window
	// produce a single update carrying the latest mirror. Zero sends one per change.
	CoalesceWindow time.Duration
}

// Mirror is the local replica of the board. Local edits apply immediately and
// are never rolled back; inbound server messages are merged with the same
// rules the server uses.
type Mirror struct {
	mu        sync.Mutex
	state     board.State
	lanes     board.Lanes
	options   MirrorOptions
	sink      func(protocol.Message)
	coalesce  *time.Timer
	listeners []ChangeFunc
}

func NewMirror(lanes board.Lanes, options MirrorOptions) *Mirror {
	if len(lanes) == 0 {
		lanes = board.DefaultLanes
	}
	return &Mirror{
		state:   board.NewState(lanes),
		lanes:   lanes,
		options: options,
	}
}

// SetSink installs the outbound message function. It is called with the
// mirror lock held and must not block or call back into the mirror.
func (m *Mirror) SetSink(sink func(protocol.Message)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sink = sink
}

func (m *Mirror) OnChange(fn ChangeFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// State returns a copy of the mirror.
func (m *Mirror) State() board.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone()
}

// Lanes returns the lane enumeration. It starts as the configured set and is
// replaced by the server's once a board arrives.
func (m *Mirror) Lanes() board.Lanes {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lanes
}

// AddItem puts a new card at the head of lane and sends the full board.
func (m *Mirror) AddItem(item board.Item, lane string) error {
	m.mu.Lock()
	if err := m.state.AddItem(item, lane); err != nil {
		m.mu.Unlock()
		return err
	}
	m.stamp()
	m.sendCoarse(true)
	m.changed(CauseLocal)
	return nil
}

// RemoveItem deletes a card and sends the full board.
func (m *Mirror) RemoveItem(id string) bool {
	m.mu.Lock()
	if !m.state.RemoveItem(id) {
		m.mu.Unlock()
		return false
	}
	m.stamp()
	m.sendCoarse(true)
	m.changed(CauseLocal)
	return true
}

// PatchItem edits fields of a card and sends a patch.
func (m *Mirror) PatchItem(id string, patch board.ItemPatch) bool {
	m.mu.Lock()
	if !m.state.PatchItem(id, &patch) {
		m.mu.Unlock()
		return false
	}
	mtime := m.stamp()
	m.send(protocol.Patch{PatchPayload: protocol.PatchPayload{ID: id, Patch: patch, MTime: &mtime}})
	m.sendCoarse(m.options.Coarse != CoarseStructuralOnly)
	m.changed(CauseLocal)
	return true
}

// MoveItem moves a card between lanes and sends a move. index nil means the
// head of the destination lane.
func (m *Mirror) MoveItem(id, from, to string, index *int) bool {
	m.mu.Lock()
	if !m.state.MoveItem(id, from, to, index) {
		m.mu.Unlock()
		return false
	}
	mtime := m.stamp()
	m.send(protocol.Move{MovePayload: protocol.MovePayload{ID: id, From: from, To: to, Index: index, MTime: &mtime}})
	m.sendCoarse(m.options.Coarse != CoarseStructuralOnly)
	m.changed(CauseLocal)
	return true
}

// Apply merges one inbound server message and reports whether the mirror
// changed. Client-bound variants only; anything else is ignored.
func (m *Mirror) Apply(msg protocol.Message) bool {
	m.mu.Lock()

	var cause Cause
	switch v := msg.(type) {
	case protocol.StateReply:
		next := v.State.Clone()
		// The server owns the lane set; local lanes must not leak into it.
		if len(next.Lanes) > 0 {
			m.lanes = board.LanesOf(next, m.lanes)
		}
		next.Normalize(m.lanes)
		m.state = next
		cause = CauseRemoteState

	case protocol.PatchApply:
		if !m.state.PatchItem(v.ID, &v.Patch) {
			m.mu.Unlock()
			return false
		}
		m.adopt(v.MTime)
		m.sendCoarse(m.options.Coarse == CoarseEveryChange)
		cause = CauseRemotePatch

	case protocol.MoveApply:
		moved := m.state.MoveItem(v.ID, v.From, v.To, v.Index)
		m.adopt(v.MTime)
		if !moved {
			m.mu.Unlock()
			return false
		}
		m.sendCoarse(m.options.Coarse == CoarseEveryChange)
		cause = CauseRemoteMove

	default:
		m.mu.Unlock()
		return false
	}

	m.changed(cause)
	return true
}

// Close stops a pending coalesced update.
func (m *Mirror) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.coalesce != nil {
		m.coalesce.Stop()
		m.coalesce = nil
	}
}

// stamp advances the logical clock for a local edit. Caller holds mu.
func (m *Mirror) stamp() int64 {
	m.state.LastUpdated = board.NextStamp(m.state.LastUpdated)
	return m.state.LastUpdated
}

// adopt takes the server's stamp for a merged change. Caller holds mu.
func (m *Mirror) adopt(mtime *int64) {
	if mtime != nil {
		m.state.LastUpdated = *mtime
	}
}

// send hands msg to the sink. Caller holds mu.
func (m *Mirror) send(msg protocol.Message) {
	if m.sink != nil {
		m.sink(msg)
	}
}

// sendCoarse sends or schedules a full-board update. Caller holds mu.
func (m *Mirror) sendCoarse(enabled bool) {
	if !enabled {
		return
	}
	if m.options.CoalesceWindow <= 0 {
		m.send(protocol.Update{State: m.state.Clone()})
		return
	}
	if m.coalesce != nil {
		return
	}
	m.coalesce = time.AfterFunc(m.options.CoalesceWindow, m.flushCoarse)
}

func (m *Mirror) flushCoarse() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.coalesce == nil {
		return
	}
	m.coalesce = nil
	m.send(protocol.Update{State: m.state.Clone()})
}

// changed releases mu and notifies listeners.
func (m *Mirror) changed(cause Cause) {
	listeners := m.listeners
	var snapshot board.State
	if len(listeners) > 0 {
		snapshot = m.state.Clone()
	}
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(snapshot, cause)
	}
}
