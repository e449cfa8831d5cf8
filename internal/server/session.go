package server

import (
	"time"

	"github.com/yancarlos4500/sanjuan-coordination/internal/core/observability/log"
	"github.com/yancarlos4500/sanjuan-coordination/internal/core/protocol/websocket"
)

// session is one connected replica. send is owned by the hub loop: only the
// loop writes to it and only the loop closes it.
type session struct {
	id          string
	conn        *websocket.Connection
	send        chan []byte
	connectedAt time.Time
	logger      log.Log
}

func newSession(conn *websocket.Connection, queueSize int, logger log.Log) *session {
	return &session{
		id:          conn.ID(),
		conn:        conn,
		send:        make(chan []byte, queueSize),
		connectedAt: time.Now(),
		logger: logger.With(
			log.String("client_id", conn.ID()),
			log.String("remote_addr", conn.RemoteAddr().String())),
	}
}

// writeLoop drains the send queue and keeps the connection alive with pings.
// It closes the connection when the queue is closed or a write fails.
func (s *session) writeLoop(pingInterval time.Duration) {
	var tick <-chan time.Time
	if pingInterval > 0 {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case frame, ok := <-s.send:
			if !ok {
				_ = s.conn.CloseWithReason("session closed")
				return
			}
			if err := s.conn.WriteFrame(frame); err != nil {
				s.logger.Debug("Write failed", log.Error(err))
				_ = s.conn.Close()
				return
			}
		case <-tick:
			if err := s.conn.Ping(); err != nil {
				s.logger.Debug("Ping failed", log.Error(err))
				_ = s.conn.Close()
				return
			}
		case <-s.conn.Done():
			return
		}
	}
}
