// Package client is the Go replica SDK for the coordination board. A Client
// keeps a Mirror in step with the server over a websocket and reconnects on
// its own when the transport drops.
package client

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yancarlos4500/sanjuan-coordination/internal/core/board"
	"github.com/yancarlos4500/sanjuan-coordination/internal/core/observability/log"
	"github.com/yancarlos4500/sanjuan-coordination/internal/core/protocol"
	"github.com/yancarlos4500/sanjuan-coordination/internal/core/protocol/websocket"
)

// ConnState is the replica's view of its connection.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnectedUnsynced
	StateConnectedSynced
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnectedUnsynced:
		return "connected-unsynced"
	case StateConnectedSynced:
		return "connected-synced"
	default:
		return fmt.Sprintf("ConnState(%d)", int32(s))
	}
}

// Config holds configuration for the client
type Config struct {
	// URL of the server websocket endpoint, e.g. ws://localhost:8080/ws.
	URL string

	ConnectTimeout    time.Duration
	ReconnectInterval time.Duration
	// MaxReconnectAttempts caps consecutive failed dials. Zero retries forever.
	MaxReconnectAttempts int

	// SendBufferSize bounds outbound messages waiting for the writer.
	SendBufferSize int

	Transport websocket.Config
	Lanes     board.Lanes
	Mirror    MirrorOptions

	LogLevel log.Level
}

// DefaultClientConfig returns default client configuration
func DefaultClientConfig() Config {
	return Config{
		URL:               "ws://localhost:8080/ws",
		ConnectTimeout:    10 * time.Second,
		ReconnectInterval: 2 * time.Second,
		SendBufferSize:    256,
		Transport:         websocket.DefaultConfig(),
		Lanes:             board.DefaultLanes,
		LogLevel:          log.LevelInfo,
	}
}

// StateHandler observes connection state transitions.
type StateHandler func(from, to ConnState)

// Client connects a Mirror to the server.
type Client struct {
	config Config
	mirror *Mirror
	logger log.Log

	mu       sync.Mutex
	state    ConnState
	changed  chan struct{}
	handlers []StateHandler
	outbound chan []byte // nil while disconnected

	running int32 // atomic bool
	closed  int32 // atomic bool
	cancel  context.CancelFunc
}

// NewClient creates a client. A nil logger gets one built from config.LogLevel.
func NewClient(config Config, logger log.Log) (*Client, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("%w: url is required", ErrInvalidConfig)
	}
	if config.SendBufferSize <= 0 {
		config.SendBufferSize = DefaultClientConfig().SendBufferSize
	}
	if config.ReconnectInterval <= 0 {
		config.ReconnectInterval = DefaultClientConfig().ReconnectInterval
	}
	if logger == nil {
		logger = log.New(config.LogLevel)
	}

	c := &Client{
		config:  config,
		mirror:  NewMirror(config.Lanes, config.Mirror),
		logger:  logger.With(log.String("component", "client")),
		state:   StateDisconnected,
		changed: make(chan struct{}),
	}
	c.mirror.SetSink(c.enqueue)
	return c, nil
}

// Mirror returns the local replica. Edits made on it are sent to the server
// while connected and dropped while not; the next pull reconciles.
func (c *Client) Mirror() *Mirror {
	return c.mirror
}

func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnStateChange registers fn for every transition. Handlers run on the
// client's connection goroutine.
func (c *Client) OnStateChange(fn StateHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, fn)
}

// WaitSynced blocks until the first full board has arrived on the current
// connection.
func (c *Client) WaitSynced(ctx context.Context) error {
	for {
		c.mu.Lock()
		if c.state == StateConnectedSynced {
			c.mu.Unlock()
			return nil
		}
		changed := c.changed
		c.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Run connects and keeps reconnecting until ctx is cancelled, Close is called
// or MaxReconnectAttempts consecutive dials fail.
func (c *Client) Run(ctx context.Context) error {
	if atomic.LoadInt32(&c.closed) == 1 {
		return ErrClientClosed
	}
	if !atomic.CompareAndSwapInt32(&c.running, 0, 1) {
		return ErrAlreadyRunning
	}
	defer atomic.StoreInt32(&c.running, 0)

	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()
	if atomic.LoadInt32(&c.closed) == 1 {
		return ErrClientClosed
	}
	defer c.setState(StateDisconnected)

	failures := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		c.setState(StateConnecting)
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			failures++
			c.logger.Warn("Connection attempt failed",
				log.Int("attempt", failures),
				log.Error(err))
			if c.config.MaxReconnectAttempts > 0 && failures >= c.config.MaxReconnectAttempts {
				return fmt.Errorf("%w after %d attempts: %w", ErrReconnectFailed, failures, err)
			}
		} else {
			failures = 0
			c.serve(ctx, conn)
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("Connection lost, attempting to reconnect")
		}

		c.setState(StateDisconnected)
		select {
		case <-time.After(c.config.ReconnectInterval):
		case <-ctx.Done():
			return nil
		}
	}
}

// Close stops Run. The mirror stays readable.
func (c *Client) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.mirror.Close()
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Connection, error) {
	if c.config.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.ConnectTimeout)
		defer cancel()
	}
	return websocket.Dial(ctx, c.config.URL, c.config.Transport)
}

// serve runs one connection: pull first, then read until the transport fails.
func (c *Client) serve(ctx context.Context, conn *websocket.Connection) {
	logger := c.logger.With(log.String("connection_id", conn.ID()))

	queue := make(chan []byte, c.config.SendBufferSize)
	pull, err := protocol.Encode(protocol.Pull{})
	if err != nil {
		logger.Error("Failed to encode pull", log.Error(err))
		_ = conn.Close()
		return
	}
	queue <- pull

	c.mu.Lock()
	c.outbound = queue
	c.mu.Unlock()
	c.setState(StateConnectedUnsynced)
	logger.Info("Connected, pulling board")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writeLoop(conn, queue, logger)
	}()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	c.readLoop(conn, logger)

	c.mu.Lock()
	c.outbound = nil
	c.mu.Unlock()
	_ = conn.Close()
	wg.Wait()
}

func (c *Client) readLoop(conn *websocket.Connection, logger log.Log) {
	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			if !conn.IsClosed() && !websocket.IsNormalClose(err) {
				logger.Debug("Read failed", log.Error(err))
			}
			return
		}

		msg, err := protocol.Decode(frame)
		if err != nil {
			logger.Warn("Dropping message", log.Error(err))
			continue
		}

		c.mirror.Apply(msg)
		if _, ok := msg.(protocol.StateReply); ok && c.State() == StateConnectedUnsynced {
			c.setState(StateConnectedSynced)
			logger.Info("Board synchronized")
		}
	}
}

func (c *Client) writeLoop(conn *websocket.Connection, queue <-chan []byte, logger log.Log) {
	var tick <-chan time.Time
	if c.config.Transport.PingInterval > 0 {
		ticker := time.NewTicker(c.config.Transport.PingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case frame := <-queue:
			if err := conn.WriteFrame(frame); err != nil {
				logger.Debug("Write failed", log.Error(err))
				_ = conn.Close()
				return
			}
		case <-tick:
			if err := conn.Ping(); err != nil {
				_ = conn.Close()
				return
			}
		case <-conn.Done():
			return
		}
	}
}

// enqueue is the mirror's sink. It never blocks: while disconnected, or when
// the writer is behind, the message is dropped.
func (c *Client) enqueue(msg protocol.Message) {
	frame, err := protocol.Encode(msg)
	if err != nil {
		c.logger.Error("Failed to encode message", log.Error(err))
		return
	}

	c.mu.Lock()
	queue := c.outbound
	c.mu.Unlock()

	if queue == nil {
		c.logger.Debug("Not connected, dropping message", log.String("type", msg.Type().String()))
		return
	}
	select {
	case queue <- frame:
	default:
		c.logger.Warn("Send buffer full, dropping message", log.String("type", msg.Type().String()))
	}
}

func (c *Client) setState(next ConnState) {
	c.mu.Lock()
	prev := c.state
	if prev == next {
		c.mu.Unlock()
		return
	}
	c.state = next
	close(c.changed)
	c.changed = make(chan struct{})
	handlers := c.handlers
	c.mu.Unlock()

	c.logger.Debug("Connection state changed",
		log.String("from", prev.String()),
		log.String("to", next.String()))
	for _, fn := range handlers {
		fn(prev, next)
	}
}
