package websocket

import (
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"
)

// Config holds per-connection transport settings.
type Config struct {
	// WriteTimeout bounds a single frame write.
	WriteTimeout time.Duration
	// PongTimeout is how long a connection may stay silent before reads fail.
	PongTimeout time.Duration
	// PingInterval must be shorter than PongTimeout.
	PingInterval time.Duration
	// MaxMessageSize caps inbound frames in bytes. Zero disables the limit.
	MaxMessageSize int64

	ReadBufferSize  int
	WriteBufferSize int

	// AllowedOrigins restricts browser origins. Empty allows any origin.
	AllowedOrigins []string
}

func DefaultConfig() Config {
	return Config{
		WriteTimeout:    10 * time.Second,
		PongTimeout:     60 * time.Second,
		PingInterval:    25 * time.Second,
		MaxMessageSize:  16 << 20, // 16MiB
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}
}

// NewUpgrader builds the HTTP upgrader for the server side.
func NewUpgrader(config Config) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  config.ReadBufferSize,
		WriteBufferSize: config.WriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			if len(config.AllowedOrigins) == 0 {
				return true
			}
			return slices.Contains(config.AllowedOrigins, r.Header.Get("Origin"))
		},
	}
}
