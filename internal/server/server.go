package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yancarlos4500/sanjuan-coordination/internal/core/feed"
	"github.com/yancarlos4500/sanjuan-coordination/internal/core/observability/log"
)

// Config holds server configuration
type Config struct {
	ListenAddr      string
	ShutdownTimeout time.Duration
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() Config {
	return Config{
		ListenAddr:      "127.0.0.1:8080",
		ShutdownTimeout: 10 * time.Second,
	}
}

// Server runs the hub, the optional flight feed and the HTTP listener as one
// unit. If any of them fails the others are stopped.
type Server struct {
	config Config
	hub    *Hub
	feed   *feed.Poller
	http   *HTTPServer
	logger log.Log

	addr    atomic.Value // net.Addr
	running int32        // atomic bool
	ready   chan struct{}
}

func NewServer(config Config, hub *Hub, poller *feed.Poller, httpServer *HTTPServer, logger log.Log) *Server {
	return &Server{
		config: config,
		hub:    hub,
		feed:   poller,
		http:   httpServer,
		logger: logger.With(log.String("component", "server")),
		ready:  make(chan struct{}),
	}
}

// Run blocks until ctx is cancelled or a component fails.
func (s *Server) Run(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return ErrServerAlreadyRunning
	}

	listener, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return err
	}
	s.addr.Store(listener.Addr())

	httpServer := &http.Server{
		Handler:           s.http.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.hub.Run(ctx)
	})

	if s.feed != nil {
		g.Go(func() error {
			return s.feed.Run(ctx)
		})
	}

	g.Go(func() error {
		s.logger.Info("Server listening", log.String("addr", listener.Addr().String()))
		close(s.ready)
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		s.logger.Info("Stopping server")

		timeout := s.config.ShutdownTimeout
		if timeout <= 0 {
			timeout = DefaultServerConfig().ShutdownTimeout
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("HTTP shutdown incomplete", log.Error(err))
		}
		return nil
	})

	err = g.Wait()
	s.logger.Info("Server stopped")
	return err
}

// Ready is closed once the listener is accepting connections.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound listen address, or nil before Run.
func (s *Server) Addr() net.Addr {
	if addr, ok := s.addr.Load().(net.Addr); ok {
		return addr
	}
	return nil
}
