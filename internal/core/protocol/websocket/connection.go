package websocket

import (
	"context"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// ErrConnectionClosed is returned by operations on a closed connection.
var ErrConnectionClosed = errors.New("connection is closed")

// Connection wraps a gorilla websocket with serialized writes, deadlines and
// traffic counters. Reads must come from a single goroutine.
type Connection struct {
	id          string
	conn        *websocket.Conn
	config      Config
	connectedAt time.Time

	lastActivity int64 // unix nanos
	closed       int32

	framesSent     uint64
	framesReceived uint64
	bytesSent      uint64
	bytesReceived  uint64

	writeMu sync.Mutex
	done    chan struct{}
}

// Stats is a point-in-time copy of the connection counters.
type Stats struct {
	FramesSent     uint64
	FramesReceived uint64
	BytesSent      uint64
	BytesReceived  uint64
	ConnectedAt    time.Time
	LastActivity   time.Time
}

// NewConnection wraps an established websocket.
func NewConnection(conn *websocket.Conn, config Config) *Connection {
	now := time.Now()
	c := &Connection{
		id:           uuid.New().String(),
		conn:         conn,
		config:       config,
		connectedAt:  now,
		lastActivity: now.UnixNano(),
		done:         make(chan struct{}),
	}

	if config.MaxMessageSize > 0 {
		conn.SetReadLimit(config.MaxMessageSize)
	}
	c.extendReadDeadline()
	conn.SetPongHandler(func(string) error {
		c.touch()
		c.extendReadDeadline()
		return nil
	})

	return c
}

// Upgrade performs the server-side handshake.
func Upgrade(upgrader *websocket.Upgrader, w http.ResponseWriter, r *http.Request, config Config) (*Connection, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, errors.Wrap(err, "websocket upgrade")
	}
	return NewConnection(conn, config), nil
}

// Dial opens a client connection to url.
func Dial(ctx context.Context, url string, config Config) (*Connection, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   config.ReadBufferSize,
		WriteBufferSize:  config.WriteBufferSize,
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", url)
	}
	return NewConnection(conn, config), nil
}

func (c *Connection) ID() string {
	return c.id
}

func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// WriteFrame sends one text frame.
func (c *Connection) WriteFrame(data []byte) error {
	if c.IsClosed() {
		return ErrConnectionClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.config.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.Wrap(err, "failed to write frame")
	}

	atomic.AddUint64(&c.framesSent, 1)
	atomic.AddUint64(&c.bytesSent, uint64(len(data)))
	c.touch()

	return nil
}

// ReadFrame blocks for the next text or binary frame.
func (c *Connection) ReadFrame() ([]byte, error) {
	if c.IsClosed() {
		return nil, ErrConnectionClosed
	}

	messageType, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read frame")
	}
	if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
		return nil, errors.Errorf("unsupported frame type %d", messageType)
	}

	atomic.AddUint64(&c.framesReceived, 1)
	atomic.AddUint64(&c.bytesReceived, uint64(len(data)))
	c.touch()
	c.extendReadDeadline()

	return data, nil
}

// Ping writes a ping control frame.
func (c *Connection) Ping() error {
	if c.IsClosed() {
		return ErrConnectionClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(c.config.WriteTimeout)
	if c.config.WriteTimeout <= 0 {
		deadline = time.Now().Add(10 * time.Second)
	}
	return errors.Wrap(c.conn.WriteControl(websocket.PingMessage, nil, deadline), "failed to write ping")
}

// Done is closed once the connection is closed.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) IsClosed() bool {
	return atomic.LoadInt32(&c.closed) == 1
}

func (c *Connection) Close() error {
	return c.CloseWithReason("connection closed")
}

// CloseWithReason sends a close frame and tears down the socket. Safe to call
// more than once.
func (c *Connection) CloseWithReason(reason string) error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	close(c.done)

	c.writeMu.Lock()
	closeMessage := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, closeMessage, time.Now().Add(time.Second))
	c.writeMu.Unlock()

	return c.conn.Close()
}

func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, atomic.LoadInt64(&c.lastActivity))
}

func (c *Connection) Stats() Stats {
	return Stats{
		FramesSent:     atomic.LoadUint64(&c.framesSent),
		FramesReceived: atomic.LoadUint64(&c.framesReceived),
		BytesSent:      atomic.LoadUint64(&c.bytesSent),
		BytesReceived:  atomic.LoadUint64(&c.bytesReceived),
		ConnectedAt:    c.connectedAt,
		LastActivity:   c.LastActivity(),
	}
}

func (c *Connection) touch() {
	atomic.StoreInt64(&c.lastActivity, time.Now().UnixNano())
}

func (c *Connection) extendReadDeadline() {
	if c.config.PongTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.config.PongTimeout))
	}
}

// IsReadLimit reports whether err came from a frame larger than
// Config.MaxMessageSize. The connection is unusable afterwards.
func IsReadLimit(err error) bool {
	return errors.Cause(err) == websocket.ErrReadLimit
}

// IsNormalClose reports whether err is an orderly close from the peer.
func IsNormalClose(err error) bool {
	return websocket.IsCloseError(errors.Cause(err), websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
