package client

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yancarlos4500/sanjuan-coordination/internal/core/board"
	"github.com/yancarlos4500/sanjuan-coordination/internal/core/protocol"
)

type sinkRecorder struct {
	mu   sync.Mutex
	msgs []protocol.Message
}

func (r *sinkRecorder) sink(msg protocol.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *sinkRecorder) types() []protocol.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]protocol.Type, 0, len(r.msgs))
	for _, m := range r.msgs {
		out = append(out, m.Type())
	}
	return out
}

func (r *sinkRecorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = nil
}

func (r *sinkRecorder) at(i int) protocol.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.msgs[i]
}

func newTestMirror(t *testing.T, options MirrorOptions) (*Mirror, *sinkRecorder, board.Item) {
	t.Helper()
	m := NewMirror(board.DefaultLanes, options)
	rec := &sinkRecorder{}
	m.SetSink(rec.sink)

	item := board.NewItem("JBU123", board.SourceManual, "")
	require.NoError(t, m.AddItem(item, board.HoldingLane))
	rec.reset()
	return m, rec, item
}

func freezeClock(t *testing.T, ms int64) {
	t.Helper()
	prev := board.Now
	board.Now = func() int64 { return ms }
	t.Cleanup(func() { board.Now = prev })
}

func TestLocalAddSendsFullBoard(t *testing.T) {
	m := NewMirror(nil, MirrorOptions{})
	rec := &sinkRecorder{}
	m.SetSink(rec.sink)

	require.NoError(t, m.AddItem(board.NewItem("JBU123", board.SourceManual, ""), board.HoldingLane))
	assert.Equal(t, []protocol.Type{protocol.TypeUpdate}, rec.types())

	update := rec.at(0).(protocol.Update)
	assert.True(t, update.State.HasCallsign("JBU123"))
	assert.Equal(t, m.State().LastUpdated, update.State.LastUpdated)

	err := m.AddItem(board.NewItem(" jbu123 ", board.SourceManual, ""), "Piarco")
	assert.ErrorIs(t, err, board.ErrDuplicateCallsign)
	assert.Len(t, rec.types(), 1)
}

func TestLocalPatchSendsPatchThenBoard(t *testing.T) {
	m, rec, item := newTestMirror(t, MirrorOptions{})

	require.True(t, m.PatchItem(item.ID, board.ItemPatch{Altitude: board.Str("FL350")}))
	require.Equal(t, []protocol.Type{protocol.TypePatch, protocol.TypeUpdate}, rec.types())

	patch := rec.at(0).(protocol.Patch)
	assert.Equal(t, item.ID, patch.ID)
	assert.Equal(t, "FL350", *patch.Patch.Altitude)
	require.NotNil(t, patch.MTime)

	update := rec.at(1).(protocol.Update)
	assert.Equal(t, *patch.MTime, update.State.LastUpdated)
	assert.Equal(t, "FL350", update.State.Items[item.ID].Altitude)
	assert.Equal(t, "JBU123", update.State.Items[item.ID].Callsign)

	rec.reset()
	assert.False(t, m.PatchItem("missing", board.ItemPatch{Altitude: board.Str("FL350")}))
	assert.Empty(t, rec.types())
}

func TestLocalMoveSendsMoveThenBoard(t *testing.T) {
	m, rec, item := newTestMirror(t, MirrorOptions{})

	index := 0
	require.True(t, m.MoveItem(item.ID, board.HoldingLane, "Piarco", &index))
	require.Equal(t, []protocol.Type{protocol.TypeMove, protocol.TypeUpdate}, rec.types())

	move := rec.at(0).(protocol.Move)
	assert.Equal(t, board.HoldingLane, move.From)
	assert.Equal(t, "Piarco", move.To)
	assert.Equal(t, 0, *move.Index)

	state := m.State()
	assert.Empty(t, state.Lanes[board.HoldingLane])
	assert.Equal(t, []string{item.ID}, state.Lanes["Piarco"])

	rec.reset()
	assert.False(t, m.MoveItem(item.ID, "Piarco", "Nowhere", nil))
	assert.Empty(t, rec.types())
}

func TestLocalRemove(t *testing.T) {
	m, rec, item := newTestMirror(t, MirrorOptions{})

	assert.True(t, m.RemoveItem(item.ID))
	assert.Equal(t, []protocol.Type{protocol.TypeUpdate}, rec.types())
	assert.Empty(t, m.State().Items)

	rec.reset()
	assert.False(t, m.RemoveItem(item.ID))
	assert.Empty(t, rec.types())
}

func TestLocalStampsAreStrictlyIncreasing(t *testing.T) {
	freezeClock(t, 5000)
	m, _, item := newTestMirror(t, MirrorOptions{})

	first := m.State().LastUpdated
	m.PatchItem(item.ID, board.ItemPatch{Fix: board.Str("A")})
	second := m.State().LastUpdated
	m.PatchItem(item.ID, board.ItemPatch{Fix: board.Str("B")})
	third := m.State().LastUpdated

	assert.Equal(t, int64(5000), first)
	assert.Equal(t, int64(5001), second)
	assert.Equal(t, int64(5002), third)
}

func TestInboundStateReplacesUnconditionally(t *testing.T) {
	m, rec, item := newTestMirror(t, MirrorOptions{})

	older := board.NewState(board.Lanes{board.HoldingLane, "Piarco"})
	older.LastUpdated = 1
	require.True(t, m.Apply(protocol.StateReply{State: older}))

	state := m.State()
	assert.Equal(t, int64(1), state.LastUpdated)
	assert.NotContains(t, state.Items, item.ID)
	// the lane set follows the server
	assert.NotContains(t, state.Lanes, "NewYork")
	assert.Equal(t, board.Lanes{board.HoldingLane, "Piarco"}, m.Lanes())
	assert.Empty(t, rec.types())
}

func TestInboundStateKeepsServerLanesInUpdates(t *testing.T) {
	m, rec, _ := newTestMirror(t, MirrorOptions{})

	remote := board.NewState(board.Lanes{"Hold", "East"})
	item := board.NewItem("AAL55", board.SourceManual, "")
	require.NoError(t, remote.AddItem(item, "Hold"))
	remote.LastUpdated = 10
	require.True(t, m.Apply(protocol.StateReply{State: remote}))

	mtime := int64(11)
	require.True(t, m.Apply(protocol.PatchApply{PatchPayload: protocol.PatchPayload{
		ID: item.ID, Patch: board.ItemPatch{Altitude: board.Str("FL310")}, MTime: &mtime,
	}}))
	require.Equal(t, []protocol.Type{protocol.TypeUpdate}, rec.types())
	sent := rec.at(0).(protocol.Update).State
	assert.Len(t, sent.Lanes, 2)
	assert.NotContains(t, sent.Lanes, board.HoldingLane)

	// moves into a lane the server does not have are refused
	assert.False(t, m.MoveItem(item.ID, "Hold", "Piarco", nil))
}

func TestInboundStateWithoutLanesUsesConfigured(t *testing.T) {
	m, _, _ := newTestMirror(t, MirrorOptions{})

	require.True(t, m.Apply(protocol.StateReply{State: board.State{LastUpdated: 3}}))
	state := m.State()
	assert.Len(t, state.Lanes, len(board.DefaultLanes))
	assert.Equal(t, board.DefaultLanes, m.Lanes())
}

func TestInboundPatchApplyMerges(t *testing.T) {
	m, rec, item := newTestMirror(t, MirrorOptions{})

	mtime := int64(9_000_000_000_000)
	require.True(t, m.Apply(protocol.PatchApply{PatchPayload: protocol.PatchPayload{
		ID: item.ID, Patch: board.ItemPatch{Squawk: board.Str("2201")}, MTime: &mtime,
	}}))

	state := m.State()
	assert.Equal(t, "2201", state.Items[item.ID].Squawk)
	assert.Equal(t, "JBU123", state.Items[item.ID].Callsign)
	assert.Equal(t, mtime, state.LastUpdated)
	require.Equal(t, []protocol.Type{protocol.TypeUpdate}, rec.types())
	assert.Equal(t, mtime, rec.at(0).(protocol.Update).State.LastUpdated)

	rec.reset()
	assert.False(t, m.Apply(protocol.PatchApply{PatchPayload: protocol.PatchPayload{
		ID: "missing", Patch: board.ItemPatch{Squawk: board.Str("7000")},
	}}))
	assert.Empty(t, rec.types())
}

func TestInboundMoveApplyUnknownTargetsAreIgnored(t *testing.T) {
	m, rec, item := newTestMirror(t, MirrorOptions{})
	before := m.State()

	assert.False(t, m.Apply(protocol.MoveApply{MovePayload: protocol.MovePayload{
		ID: "ghost", From: board.HoldingLane, To: "Piarco",
	}}))
	assert.False(t, m.Apply(protocol.MoveApply{MovePayload: protocol.MovePayload{
		ID: item.ID, From: board.HoldingLane, To: "Nowhere",
	}}))

	after := m.State()
	assert.Equal(t, before.Lanes, after.Lanes)
	assert.Empty(t, rec.types())
	require.NoError(t, after.Validate())
}

func TestInboundMoveApplyMoves(t *testing.T) {
	m, _, item := newTestMirror(t, MirrorOptions{Coarse: CoarseLocalOnly})

	var causes []Cause
	m.OnChange(func(_ board.State, cause Cause) { causes = append(causes, cause) })

	mtime := int64(42)
	require.True(t, m.Apply(protocol.MoveApply{MovePayload: protocol.MovePayload{
		ID: item.ID, From: board.HoldingLane, To: "Curacao", MTime: &mtime,
	}}))

	state := m.State()
	assert.Equal(t, []string{item.ID}, state.Lanes["Curacao"])
	assert.Equal(t, int64(42), state.LastUpdated)
	assert.Equal(t, []Cause{CauseRemoteMove}, causes)
}

func TestCoarseLocalOnlySkipsInbound(t *testing.T) {
	m, rec, item := newTestMirror(t, MirrorOptions{Coarse: CoarseLocalOnly})

	require.True(t, m.Apply(protocol.PatchApply{PatchPayload: protocol.PatchPayload{
		ID: item.ID, Patch: board.ItemPatch{Mach: board.Str("M080")},
	}}))
	assert.Empty(t, rec.types())

	require.True(t, m.PatchItem(item.ID, board.ItemPatch{Mach: board.Str("M082")}))
	assert.Equal(t, []protocol.Type{protocol.TypePatch, protocol.TypeUpdate}, rec.types())
}

func TestCoarseStructuralOnly(t *testing.T) {
	m, rec, item := newTestMirror(t, MirrorOptions{Coarse: CoarseStructuralOnly})

	require.True(t, m.PatchItem(item.ID, board.ItemPatch{Mach: board.Str("M080")}))
	require.True(t, m.MoveItem(item.ID, board.HoldingLane, "Piarco", nil))
	assert.Equal(t, []protocol.Type{protocol.TypePatch, protocol.TypeMove}, rec.types())

	rec.reset()
	require.True(t, m.RemoveItem(item.ID))
	assert.Equal(t, []protocol.Type{protocol.TypeUpdate}, rec.types())
}

func TestCoalesceWindowBatchesFullBoard(t *testing.T) {
	m, rec, item := newTestMirror(t, MirrorOptions{CoalesceWindow: 30 * time.Millisecond})
	defer m.Close()

	for _, est := range []string{"1410", "1411", "1412"} {
		require.True(t, m.PatchItem(item.ID, board.ItemPatch{Estimate: board.Str(est)}))
	}
	assert.Equal(t, []protocol.Type{protocol.TypePatch, protocol.TypePatch, protocol.TypePatch}, rec.types())

	require.Eventually(t, func() bool { return len(rec.types()) == 4 }, time.Second, 5*time.Millisecond)
	update, ok := rec.at(3).(protocol.Update)
	require.True(t, ok)
	assert.Equal(t, "1412", update.State.Items[item.ID].Estimate)
	assert.Equal(t, m.State().LastUpdated, update.State.LastUpdated)
}

func TestMirrorIgnoresServerBoundTypes(t *testing.T) {
	m, rec, _ := newTestMirror(t, MirrorOptions{})
	assert.False(t, m.Apply(protocol.Pull{}))
	assert.False(t, m.Apply(protocol.Update{State: board.NewState(nil)}))
	assert.Empty(t, rec.types())
}
