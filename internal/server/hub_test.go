package server

import (
	"context"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yancarlos4500/sanjuan-coordination/internal/core/board"
	"github.com/yancarlos4500/sanjuan-coordination/internal/core/events/bus"
	"github.com/yancarlos4500/sanjuan-coordination/internal/core/observability/interfaces"
	"github.com/yancarlos4500/sanjuan-coordination/internal/core/observability/log"
	"github.com/yancarlos4500/sanjuan-coordination/internal/core/protocol"
	"github.com/yancarlos4500/sanjuan-coordination/internal/core/protocol/websocket"
	"github.com/yancarlos4500/sanjuan-coordination/internal/core/store"
)

type testEnv struct {
	hub    *Hub
	server *httptest.Server
	wsURL  string
	item   board.Item
}

// newTestEnv starts a hub whose board holds one card, JBU123, in the holding lane.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st := store.New(board.DefaultLanes)
	seed := board.NewState(board.DefaultLanes)
	item := board.NewItem("JBU123", board.SourceManual, "SAVIK L455 KEEKA")
	require.NoError(t, seed.AddItem(item, board.HoldingLane))
	seed.LastUpdated = 100
	require.True(t, st.ReplaceIfNewer(seed))

	hub := NewHub(st, HubConfig{InboundQueueSize: 64, SendQueueSize: 64}, nil, log.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = hub.Run(ctx) }()

	httpServer := NewHTTPServer(hub, nil, nil, websocket.DefaultConfig(), log.NewNop())
	ts := httptest.NewServer(httpServer.Handler())
	t.Cleanup(func() {
		cancel()
		ts.Close()
	})

	return &testEnv{
		hub:    hub,
		server: ts,
		wsURL:  "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
		item:   item,
	}
}

type testClient struct {
	t    *testing.T
	conn *gorilla.Conn
}

// connect dials and completes a pull round trip, so the client is registered
// with the hub when it returns.
func (e *testEnv) connect(t *testing.T) (*testClient, board.State) {
	t.Helper()
	conn, _, err := gorilla.DefaultDialer.Dial(e.wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	c := &testClient{t: t, conn: conn}
	return c, c.pull()
}

func (c *testClient) send(msg protocol.Message) {
	c.t.Helper()
	frame, err := protocol.Encode(msg)
	require.NoError(c.t, err)
	c.sendRaw(string(frame))
}

func (c *testClient) sendRaw(frame string) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteMessage(gorilla.TextMessage, []byte(frame)))
}

func (c *testClient) read() protocol.Message {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, frame, err := c.conn.ReadMessage()
	require.NoError(c.t, err)
	msg, err := protocol.Decode(frame)
	require.NoError(c.t, err)
	return msg
}

// pull asks for the board and requires the very next frame to be the reply.
// Anything queued for this client before the pull shows up as a failure.
func (c *testClient) pull() board.State {
	c.t.Helper()
	c.send(protocol.Pull{})
	msg := c.read()
	reply, ok := msg.(protocol.StateReply)
	require.Truef(c.t, ok, "expected state, got %s", msg.Type())
	return reply.State
}

func TestPullRepliesWithBoard(t *testing.T) {
	env := newTestEnv(t)

	_, state := env.connect(t)

	assert.Equal(t, int64(100), state.LastUpdated)
	for _, lane := range board.DefaultLanes {
		assert.Contains(t, state.Lanes, lane)
	}
	assert.Equal(t, []string{env.item.ID}, state.Lanes[board.HoldingLane])
	assert.Equal(t, "JBU123", state.Items[env.item.ID].Callsign)
	assert.Equal(t, []string{"SAVIK", "KEEKA"}, state.Items[env.item.ID].Route)
}

func TestUpdateBroadcastsToOthersOnly(t *testing.T) {
	env := newTestEnv(t)
	a, state := env.connect(t)
	b, _ := env.connect(t)

	require.NoError(t, state.AddItem(board.NewItem("AAL456", board.SourceManual, ""), "Piarco"))
	state.LastUpdated = 200
	a.send(protocol.Update{State: state})

	msg := b.read()
	require.IsType(t, protocol.StateReply{}, msg)
	got := msg.(protocol.StateReply).State
	assert.Equal(t, int64(200), got.LastUpdated)
	assert.Len(t, got.Items, 2)
	assert.True(t, got.HasCallsign("AAL456"))

	// no echo: the sender's next frame is its own pull reply
	mine := a.pull()
	assert.Equal(t, board.Fingerprint(got), board.Fingerprint(mine))
}

func TestUpdateTieIsAccepted(t *testing.T) {
	env := newTestEnv(t)
	a, state := env.connect(t)
	b, _ := env.connect(t)

	state.Items[env.item.ID] = board.ItemPatch{Fix: board.Str("KEEKA")}.Apply(state.Items[env.item.ID])
	a.send(protocol.Update{State: state})

	msg := b.read()
	require.IsType(t, protocol.StateReply{}, msg)
	assert.Equal(t, "KEEKA", msg.(protocol.StateReply).State.Items[env.item.ID].Fix)
}

func TestStaleUpdateIsDropped(t *testing.T) {
	env := newTestEnv(t)
	a, state := env.connect(t)
	b, _ := env.connect(t)

	stale := state.Clone()
	delete(stale.Items, env.item.ID)
	stale.Lanes[board.HoldingLane] = nil
	stale.LastUpdated = 50
	a.send(protocol.Update{State: stale})
	a.pull()

	after := b.pull()
	assert.Equal(t, int64(100), after.LastUpdated)
	assert.Contains(t, after.Items, env.item.ID)
}

func TestPatchBroadcastsPatchApply(t *testing.T) {
	env := newTestEnv(t)
	a, _ := env.connect(t)
	b, _ := env.connect(t)

	mtime := int64(300)
	a.send(protocol.Patch{PatchPayload: protocol.PatchPayload{
		ID:    env.item.ID,
		Patch: board.ItemPatch{Fix: board.Str("SAVIK"), Estimate: board.Str("1432")},
		MTime: &mtime,
	}})

	msg := b.read()
	require.IsType(t, protocol.PatchApply{}, msg)
	applied := msg.(protocol.PatchApply)
	assert.Equal(t, env.item.ID, applied.ID)
	assert.Equal(t, "SAVIK", *applied.Patch.Fix)
	require.NotNil(t, applied.MTime)
	assert.Equal(t, int64(300), *applied.MTime)

	state := a.pull()
	assert.Equal(t, int64(300), state.LastUpdated)
	assert.Equal(t, "SAVIK", state.Items[env.item.ID].Fix)
	assert.Equal(t, "1432", state.Items[env.item.ID].Estimate)
	assert.Equal(t, "JBU123", state.Items[env.item.ID].Callsign)
}

func TestPatchUnknownItemIsDropped(t *testing.T) {
	env := newTestEnv(t)
	a, _ := env.connect(t)
	b, _ := env.connect(t)

	mtime := int64(300)
	a.send(protocol.Patch{PatchPayload: protocol.PatchPayload{
		ID:    "does-not-exist",
		Patch: board.ItemPatch{Fix: board.Str("SAVIK")},
		MTime: &mtime,
	}})
	a.pull()

	state := b.pull()
	assert.Equal(t, int64(100), state.LastUpdated)
	assert.Len(t, state.Items, 1)
}

func TestMoveBroadcastsMoveApply(t *testing.T) {
	env := newTestEnv(t)
	a, _ := env.connect(t)
	b, _ := env.connect(t)

	index := 0
	mtime := int64(400)
	a.send(protocol.Move{MovePayload: protocol.MovePayload{
		ID:    env.item.ID,
		From:  board.HoldingLane,
		To:    "Piarco",
		Index: &index,
		MTime: &mtime,
	}})

	msg := b.read()
	require.IsType(t, protocol.MoveApply{}, msg)
	applied := msg.(protocol.MoveApply)
	assert.Equal(t, env.item.ID, applied.ID)
	assert.Equal(t, board.HoldingLane, applied.From)
	assert.Equal(t, "Piarco", applied.To)
	require.NotNil(t, applied.Index)
	assert.Equal(t, 0, *applied.Index)
	assert.Equal(t, int64(400), *applied.MTime)

	state := a.pull()
	assert.Empty(t, state.Lanes[board.HoldingLane])
	assert.Equal(t, []string{env.item.ID}, state.Lanes["Piarco"])
	require.NoError(t, state.Validate())
}

func TestMoveOfUnknownItemStillBroadcasts(t *testing.T) {
	env := newTestEnv(t)
	a, _ := env.connect(t)
	b, _ := env.connect(t)

	mtime := int64(500)
	a.send(protocol.Move{MovePayload: protocol.MovePayload{
		ID: "ghost", From: board.HoldingLane, To: "Piarco", MTime: &mtime,
	}})

	msg := b.read()
	require.IsType(t, protocol.MoveApply{}, msg)
	assert.Equal(t, "ghost", msg.(protocol.MoveApply).ID)

	state := a.pull()
	assert.Equal(t, int64(500), state.LastUpdated)
	assert.Equal(t, []string{env.item.ID}, state.Lanes[board.HoldingLane])
	assert.NotContains(t, state.Items, "ghost")
}

func TestBadFramesKeepConnectionOpen(t *testing.T) {
	env := newTestEnv(t)
	a, _ := env.connect(t)
	b, _ := env.connect(t)

	a.sendRaw("not json")
	a.sendRaw(`{"type":"bogus"}`)
	a.sendRaw(`{"type":"patch","data":{"patch":{"waypoint":"X"}}}`)
	a.sendRaw(`{"type":"update","data":{"lanes":{},"items":{}}}`)
	a.sendRaw(`{"type":"move","data":{"id":"x","from":"Unassigned"}}`)
	a.sendRaw(`{"type":"state","data":{"lanes":{},"items":{},"lastUpdated":999}}`)

	state := a.pull()
	assert.Equal(t, int64(100), state.LastUpdated)
	assert.Equal(t, int64(100), b.pull().LastUpdated)
}

func TestSenderFIFO(t *testing.T) {
	env := newTestEnv(t)
	a, _ := env.connect(t)
	b, _ := env.connect(t)

	for i, fix := range []string{"ONE", "TWO", "THREE"} {
		mtime := int64(1000 + i)
		a.send(protocol.Patch{PatchPayload: protocol.PatchPayload{
			ID: env.item.ID, Patch: board.ItemPatch{Fix: board.Str(fix)}, MTime: &mtime,
		}})
	}

	for _, fix := range []string{"ONE", "TWO", "THREE"} {
		msg := b.read()
		require.IsType(t, protocol.PatchApply{}, msg)
		assert.Equal(t, fix, *msg.(protocol.PatchApply).Patch.Fix)
	}
	assert.Equal(t, "THREE", a.pull().Items[env.item.ID].Fix)
}

func TestSnapshotAndStats(t *testing.T) {
	env := newTestEnv(t)
	env.connect(t)

	ctx := context.Background()
	state, err := env.hub.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(100), state.LastUpdated)

	stats, err := env.hub.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Clients)
	assert.Equal(t, 1, stats.Board.Items)
	assert.Equal(t, 1, stats.Board.Lanes[board.HoldingLane])
	assert.Equal(t, 1, env.hub.ClientCount())
}

func TestAddItemBroadcastsToEveryone(t *testing.T) {
	env := newTestEnv(t)
	a, _ := env.connect(t)

	state, err := env.hub.AddItem(context.Background(), board.NewItem("aal456", board.SourceManual, ""), "Curacao")
	require.NoError(t, err)
	assert.Greater(t, state.LastUpdated, int64(100))
	assert.True(t, state.HasCallsign("AAL456"))

	msg := a.read()
	require.IsType(t, protocol.StateReply{}, msg)
	assert.Equal(t, board.Fingerprint(state), board.Fingerprint(msg.(protocol.StateReply).State))

	_, err = env.hub.AddItem(context.Background(), board.NewItem("JBU123", board.SourceManual, ""), "Curacao")
	assert.ErrorIs(t, err, board.ErrDuplicateCallsign)
}

func TestDisconnectUnregisters(t *testing.T) {
	env := newTestEnv(t)
	a, _ := env.connect(t)
	env.connect(t)
	require.Equal(t, 2, env.hub.ClientCount())

	require.NoError(t, a.conn.Close())
	require.Eventually(t, func() bool { return env.hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestRunTwice(t *testing.T) {
	env := newTestEnv(t)
	env.connect(t)
	assert.ErrorIs(t, env.hub.Run(context.Background()), ErrHubAlreadyRunning)
}

func TestStoppedHubRejectsCalls(t *testing.T) {
	hub := NewHub(store.New(nil), DefaultHubConfig(), nil, log.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = hub.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	_, err := hub.Snapshot(context.Background())
	assert.ErrorIs(t, err, ErrHubStopped)
}

type dropCounter struct {
	interfaces.Nop
	reasons []string
}

func (d *dropCounter) MessageDropped(reason string) { d.reasons = append(d.reasons, reason) }

func TestOverflowEvictsSession(t *testing.T) {
	recorder := &dropCounter{}
	hub := NewHub(store.New(nil), HubConfig{SendQueueSize: 1}, recorder, log.NewNop())

	slow := &session{id: "slow", send: make(chan []byte, 1), logger: log.NewNop()}
	fast := &session{id: "fast", send: make(chan []byte, 4), logger: log.NewNop()}
	hub.sessions[slow.id] = slow
	hub.sessions[fast.id] = fast

	hub.broadcast(protocol.StateReply{State: board.NewState(board.DefaultLanes)}, nil)
	hub.broadcast(protocol.StateReply{State: board.NewState(board.DefaultLanes)}, nil)

	assert.NotContains(t, hub.sessions, "slow")
	assert.Contains(t, hub.sessions, "fast")
	assert.Len(t, fast.send, 2)
	assert.Equal(t, []string{"send_overflow"}, recorder.reasons)

	// the evicted queue is closed after its buffered frame
	<-slow.send
	_, open := <-slow.send
	assert.False(t, open)
}

func TestActivityEvents(t *testing.T) {
	st := store.New(board.DefaultLanes)
	seed := board.NewState(board.DefaultLanes)
	item := board.NewItem("JBU123", board.SourceManual, "")
	require.NoError(t, seed.AddItem(item, board.HoldingLane))
	seed.LastUpdated = 100
	require.True(t, st.ReplaceIfNewer(seed))

	var (
		mu    sync.Mutex
		kinds []bus.Kind
	)
	events := bus.New()
	events.SubscribeAll(func(e bus.Event) error {
		mu.Lock()
		defer mu.Unlock()
		kinds = append(kinds, e.Kind)
		return nil
	})
	events.SubscribeAll(ActivityLogger(log.NewNop()))

	hub := NewHub(st, DefaultHubConfig(), nil, log.NewNop())
	hub.SetEvents(events)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()

	ts := httptest.NewServer(NewHTTPServer(hub, nil, nil, websocket.DefaultConfig(), log.NewNop()).Handler())
	defer ts.Close()
	env := &testEnv{hub: hub, server: ts, wsURL: "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws", item: item}

	a, _ := env.connect(t)
	mtime := int64(200)
	a.send(protocol.Patch{PatchPayload: protocol.PatchPayload{
		ID: item.ID, Patch: board.ItemPatch{Squawk: board.Str("2201")}, MTime: &mtime,
	}})
	a.send(protocol.Move{MovePayload: protocol.MovePayload{ID: item.ID, From: board.HoldingLane, To: "Piarco", MTime: &mtime}})
	a.pull()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bus.Kind{bus.KindClientConnected, bus.KindItemPatched, bus.KindItemMoved}, kinds)
}

type lockedDrops struct {
	interfaces.Nop
	mu      sync.Mutex
	reasons []string
}

func (d *lockedDrops) MessageDropped(reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reasons = append(d.reasons, reason)
}

func (d *lockedDrops) has(reason string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Contains(d.reasons, reason)
}

func TestOversizeFrameClosesConnection(t *testing.T) {
	recorder := &lockedDrops{}
	hub := NewHub(store.New(board.DefaultLanes), DefaultHubConfig(), recorder, log.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = hub.Run(ctx) }()

	wsConfig := websocket.DefaultConfig()
	wsConfig.MaxMessageSize = 256
	ts := httptest.NewServer(NewHTTPServer(hub, nil, nil, wsConfig, log.NewNop()).Handler())
	t.Cleanup(ts.Close)

	conn, _, err := gorilla.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	c := &testClient{t: t, conn: conn}
	c.pull()

	c.sendRaw(`{"type":"pull","pad":"` + strings.Repeat("x", 1024) + `"}`)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	require.Eventually(t, func() bool { return recorder.has("oversize") }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
