package server

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/yancarlos4500/sanjuan-coordination/internal/core/board"
	"github.com/yancarlos4500/sanjuan-coordination/internal/core/events/bus"
	"github.com/yancarlos4500/sanjuan-coordination/internal/core/observability/interfaces"
	"github.com/yancarlos4500/sanjuan-coordination/internal/core/observability/log"
	"github.com/yancarlos4500/sanjuan-coordination/internal/core/observability/metrics"
	"github.com/yancarlos4500/sanjuan-coordination/internal/core/protocol"
	"github.com/yancarlos4500/sanjuan-coordination/internal/core/protocol/websocket"
	"github.com/yancarlos4500/sanjuan-coordination/internal/core/store"
)

// HubConfig holds hub queue settings.
type HubConfig struct {
	// InboundQueueSize bounds decoded messages waiting for the event loop.
	InboundQueueSize int
	// SendQueueSize bounds frames waiting for one session's writer. A session
	// that falls this far behind is disconnected.
	SendQueueSize int
	// PingInterval drives keepalive pings. Zero disables them.
	PingInterval time.Duration
}

func DefaultHubConfig() HubConfig {
	return HubConfig{
		InboundQueueSize: 1024,
		SendQueueSize:    256,
		PingInterval:     25 * time.Second,
	}
}

// HubStats is returned by the stats endpoint.
type HubStats struct {
	Clients int         `json:"clients"`
	Board   store.Stats `json:"board"`
}

type inbound struct {
	from *session
	msg  protocol.Message
}

// Hub relays board changes between connected replicas. A single event loop owns
// the store and the session set; connection goroutines only feed it messages,
// so every store mutation is applied in arrival order one at a time.
type Hub struct {
	store    store.Backend
	config   HubConfig
	recorder interfaces.HubRecorder
	events   bus.Bus
	logger   log.Log

	register   chan *session
	unregister chan *session
	inbound    chan inbound
	calls      chan func()

	// owned by the event loop
	sessions map[string]*session

	clientCount int64 // atomic
	running     int32 // atomic bool
	done        chan struct{}
}

func NewHub(backend store.Backend, config HubConfig, recorder interfaces.HubRecorder, logger log.Log) *Hub {
	if config.InboundQueueSize <= 0 {
		config.InboundQueueSize = DefaultHubConfig().InboundQueueSize
	}
	if config.SendQueueSize <= 0 {
		config.SendQueueSize = DefaultHubConfig().SendQueueSize
	}
	if recorder == nil {
		recorder = interfaces.Nop{}
	}
	return &Hub{
		store:      backend,
		config:     config,
		recorder:   recorder,
		logger:     logger.With(log.String("component", "hub")),
		register:   make(chan *session),
		unregister: make(chan *session),
		inbound:    make(chan inbound, config.InboundQueueSize),
		calls:      make(chan func()),
		sessions:   make(map[string]*session),
		done:       make(chan struct{}),
	}
}

// SetEvents publishes board activity to b. Call it before Run.
func (h *Hub) SetEvents(b bus.Bus) {
	h.events = b
}

// Run is the event loop. It returns when ctx is cancelled, after closing every
// session. A hub cannot be restarted.
func (h *Hub) Run(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&h.running, 0, 1) {
		return ErrHubAlreadyRunning
	}

	h.logger.Info("Hub started")
	defer h.logger.Info("Hub stopped")

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return nil

		case s := <-h.register:
			h.sessions[s.id] = s
			atomic.AddInt64(&h.clientCount, 1)
			h.recorder.ClientConnected()
			s.logger.Info("Client connected",
				log.Int64("total_clients", atomic.LoadInt64(&h.clientCount)))
			h.publish(bus.Event{Kind: bus.KindClientConnected, ClientID: s.id})

		case s := <-h.unregister:
			if h.drop(s) {
				s.logger.Info("Client disconnected",
					log.Int64("total_clients", atomic.LoadInt64(&h.clientCount)))
			}

		case in := <-h.inbound:
			h.dispatch(in)

		case fn := <-h.calls:
			fn()
		}
	}
}

// Serve runs a connection until it closes. The caller's goroutine becomes the
// connection's reader.
func (h *Hub) Serve(conn *websocket.Connection) error {
	s := newSession(conn, h.config.SendQueueSize, h.logger)

	select {
	case h.register <- s:
	case <-h.done:
		_ = conn.CloseWithReason("server shutting down")
		return ErrHubStopped
	}

	go s.writeLoop(h.config.PingInterval)

	h.readLoop(s)

	_ = conn.Close()
	select {
	case h.unregister <- s:
	case <-h.done:
	}
	return nil
}

// readLoop decodes frames and hands them to the event loop. Frames that fail to
// decode are dropped without closing the connection.
func (h *Hub) readLoop(s *session) {
	for {
		frame, err := s.conn.ReadFrame()
		if err != nil {
			switch {
			case websocket.IsReadLimit(err):
				h.recorder.MessageDropped(metrics.DropOversize)
				s.logger.Warn("Closing connection after oversized frame", log.Error(err))
			case !s.conn.IsClosed() && !websocket.IsNormalClose(err):
				s.logger.Debug("Read failed", log.Error(err))
			}
			return
		}

		msg, err := protocol.Decode(frame)
		if err != nil {
			reason := metrics.DropMalformed
			if errors.Is(err, protocol.ErrUnknownType) {
				reason = metrics.DropUnknownType
			}
			h.recorder.MessageDropped(reason)
			s.logger.Warn("Dropping message", log.String("reason", reason), log.Error(err))
			continue
		}
		h.recorder.MessageReceived(msg.Type().String())

		select {
		case h.inbound <- inbound{from: s, msg: msg}:
		case <-s.conn.Done():
			return
		case <-h.done:
			return
		}
	}
}

func (h *Hub) dispatch(in inbound) {
	switch m := in.msg.(type) {
	case protocol.Pull:
		h.reply(in.from, protocol.StateReply{State: h.store.Snapshot()})

	case protocol.Update:
		if !h.store.ReplaceIfNewer(m.State) {
			h.recorder.MessageDropped(metrics.DropStale)
			in.from.logger.Debug("Stale update ignored",
				log.Int64("candidate", m.State.LastUpdated),
				log.Int64("current", h.store.LastUpdated()))
			return
		}
		snapshot := h.store.Snapshot()
		h.boardChanged(snapshot)
		h.broadcast(protocol.StateReply{State: snapshot}, in.from)
		h.publish(bus.Event{Kind: bus.KindBoardReplaced, ClientID: in.from.id, LastUpdated: snapshot.LastUpdated})

	case protocol.Patch:
		if !h.store.ApplyItemPatch(m.ID, &m.Patch, m.MTime) {
			h.recorder.MessageDropped(metrics.DropUnknownItem)
			in.from.logger.Debug("Patch for unknown item ignored", log.String("item_id", m.ID))
			return
		}
		payload := m.PatchPayload
		payload.MTime = h.effectiveStamp()
		h.boardChanged(h.store.Snapshot())
		h.broadcast(protocol.PatchApply{PatchPayload: payload}, in.from)
		h.publish(bus.Event{Kind: bus.KindItemPatched, ClientID: in.from.id, ItemID: m.ID, LastUpdated: *payload.MTime})

	case protocol.Move:
		moved := h.store.ApplyMove(m.ID, m.From, m.To, m.Index, m.MTime)
		if !moved {
			in.from.logger.Debug("Move changed nothing",
				log.String("item_id", m.ID),
				log.String("from", m.From),
				log.String("to", m.To))
		}
		payload := m.MovePayload
		payload.MTime = h.effectiveStamp()
		h.boardChanged(h.store.Snapshot())
		h.broadcast(protocol.MoveApply{MovePayload: payload}, in.from)
		if moved {
			h.publish(bus.Event{Kind: bus.KindItemMoved, ClientID: in.from.id, ItemID: m.ID, From: m.From, To: m.To, LastUpdated: *payload.MTime})
		}

	default:
		h.recorder.MessageDropped(metrics.DropUnknownType)
		in.from.logger.Warn("Dropping server-bound message type",
			log.String("type", in.msg.Type().String()))
	}
}

func (h *Hub) effectiveStamp() *int64 {
	ts := h.store.LastUpdated()
	return &ts
}

func (h *Hub) boardChanged(s board.State) {
	h.recorder.BoardChanged(s.LastUpdated, len(s.Items))
}

// reply sends msg to one session, if it is still connected.
func (h *Hub) reply(to *session, msg protocol.Message) {
	if _, ok := h.sessions[to.id]; !ok {
		return
	}
	frame, err := protocol.Encode(msg)
	if err != nil {
		h.logger.Error("Failed to encode reply", log.Error(err))
		return
	}
	h.enqueue(to, frame)
}

// broadcast encodes msg once and queues it for every session except the sender.
func (h *Hub) broadcast(msg protocol.Message, except *session) {
	frame, err := protocol.Encode(msg)
	if err != nil {
		h.logger.Error("Failed to encode broadcast", log.Error(err))
		return
	}

	recipients := 0
	for id, s := range h.sessions {
		if except != nil && id == except.id {
			continue
		}
		if h.enqueue(s, frame) {
			recipients++
		}
	}
	h.recorder.Broadcast(msg.Type().String(), recipients)
}

// enqueue never blocks the loop. A session whose queue is full is dropped; it
// will reconnect and pull a fresh board.
func (h *Hub) enqueue(s *session, frame []byte) bool {
	select {
	case s.send <- frame:
		return true
	default:
		h.recorder.MessageDropped(metrics.DropOverflow)
		s.logger.Warn("Send queue full, disconnecting client",
			log.Int("queue_size", cap(s.send)))
		h.drop(s)
		return false
	}
}

// drop removes s from the session set and closes its queue. Only the loop
// calls it, and only the first call for a session has any effect.
func (h *Hub) drop(s *session) bool {
	if _, ok := h.sessions[s.id]; !ok {
		return false
	}
	delete(h.sessions, s.id)
	close(s.send)
	atomic.AddInt64(&h.clientCount, -1)
	h.recorder.ClientDisconnected()
	h.publish(bus.Event{Kind: bus.KindClientDisconnected, ClientID: s.id})
	return true
}

func (h *Hub) publish(event bus.Event) {
	if h.events == nil {
		return
	}
	if err := h.events.Publish(event); err != nil {
		h.logger.Warn("Activity handler failed",
			log.String("kind", string(event.Kind)),
			log.Error(err))
	}
}

func (h *Hub) shutdown() {
	for _, s := range h.sessions {
		h.drop(s)
	}
	close(h.done)
}

// call runs fn on the event loop and waits for it.
func (h *Hub) call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	wrapped := func() {
		defer close(finished)
		fn()
	}

	select {
	case h.calls <- wrapped:
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return ErrHubStopped
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns a copy of the authoritative board.
func (h *Hub) Snapshot(ctx context.Context) (board.State, error) {
	var snapshot board.State
	err := h.call(ctx, func() {
		snapshot = h.store.Snapshot()
	})
	return snapshot, err
}

func (h *Hub) Stats(ctx context.Context) (HubStats, error) {
	var stats HubStats
	err := h.call(ctx, func() {
		stats = HubStats{
			Clients: len(h.sessions),
			Board:   h.store.Stats(),
		}
	})
	return stats, err
}

// AddItem places a new card on the board as the server, stamping it with the
// next clock value, and pushes the new board to every replica.
func (h *Hub) AddItem(ctx context.Context, item board.Item, lane string) (board.State, error) {
	var (
		snapshot board.State
		addErr   error
	)
	err := h.call(ctx, func() {
		candidate := h.store.Snapshot()
		if addErr = candidate.AddItem(item, lane); addErr != nil {
			return
		}
		candidate.LastUpdated = board.NextStamp(candidate.LastUpdated)
		h.store.ReplaceIfNewer(candidate)
		snapshot = h.store.Snapshot()
		h.boardChanged(snapshot)
		h.broadcast(protocol.StateReply{State: snapshot}, nil)
		h.publish(bus.Event{Kind: bus.KindItemAdded, ItemID: item.ID, To: lane, LastUpdated: snapshot.LastUpdated})
	})
	if err != nil {
		return board.State{}, err
	}
	return snapshot, addErr
}

// Lanes returns the fixed lane enumeration.
func (h *Hub) Lanes() board.Lanes {
	return h.store.Lanes()
}

func (h *Hub) ClientCount() int {
	return int(atomic.LoadInt64(&h.clientCount))
}
