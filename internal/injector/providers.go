package injector

import (
	"net/http"

	"github.com/google/wire"

	"github.com/yancarlos4500/sanjuan-coordination/internal/config"
	"github.com/yancarlos4500/sanjuan-coordination/internal/core/events/bus"
	"github.com/yancarlos4500/sanjuan-coordination/internal/core/feed"
	"github.com/yancarlos4500/sanjuan-coordination/internal/core/observability/log"
	"github.com/yancarlos4500/sanjuan-coordination/internal/core/observability/metrics"
	"github.com/yancarlos4500/sanjuan-coordination/internal/core/protocol/websocket"
	"github.com/yancarlos4500/sanjuan-coordination/internal/core/store"
	"github.com/yancarlos4500/sanjuan-coordination/internal/server"
)

var ProviderSet = wire.NewSet(
	ProvideLogger,
	wire.Bind(new(log.Log), new(*log.Logger)),
	metrics.New,
	ProvideEventBus,
	ProvideStore,
	ProvideWebSocketConfig,
	ProvideHub,
	ProvideFeed,
	ProvideHTTPServer,
	ProvideServer,
)

// ProvideLogger builds the root logger. The cleanup flushes buffered entries.
func ProvideLogger(cfg config.Config) (*log.Logger, func()) {
	logger := log.NewWithOptions(cfg.LogOptions())
	return logger, func() { _ = logger.Sync() }
}

// ProvideEventBus returns the activity bus with the activity log attached.
func ProvideEventBus(logger log.Log) bus.Bus {
	b := bus.New()
	b.SubscribeAll(server.ActivityLogger(logger))
	return b
}

func ProvideStore(cfg config.Config) store.Backend {
	return store.New(cfg.BoardLanes())
}

func ProvideWebSocketConfig(cfg config.Config) (websocket.Config, error) {
	return cfg.WebSocket()
}

func ProvideHub(backend store.Backend, cfg config.Config, m *metrics.Metrics, events bus.Bus, logger log.Log) *server.Hub {
	hub := server.NewHub(backend, server.HubConfig{
		InboundQueueSize: cfg.Hub.InboundQueueSize,
		SendQueueSize:    cfg.Hub.SendQueueSize,
		PingInterval:     cfg.Transport.PingInterval,
	}, m, logger)
	hub.SetEvents(events)
	return hub
}

// ProvideFeed returns nil when the feed is disabled.
func ProvideFeed(cfg config.Config, m *metrics.Metrics, logger log.Log) *feed.Poller {
	if !cfg.Feed.Enabled {
		return nil
	}
	return feed.NewPoller(feed.Config{
		URL:             cfg.Feed.URL,
		Interval:        cfg.Feed.Interval,
		Timeout:         cfg.Feed.Timeout,
		AirportPrefixes: cfg.Feed.AirportPrefixes,
	}, &http.Client{Timeout: cfg.Feed.Timeout}, m, logger)
}

func ProvideHTTPServer(hub *server.Hub, poller *feed.Poller, m *metrics.Metrics, wsConfig websocket.Config, logger log.Log) *server.HTTPServer {
	return server.NewHTTPServer(hub, poller, m.Handler(), wsConfig, logger)
}

func ProvideServer(cfg config.Config, hub *server.Hub, poller *feed.Poller, httpServer *server.HTTPServer, logger log.Log) *server.Server {
	return server.NewServer(server.Config{
		ListenAddr:      cfg.Listen,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, hub, poller, httpServer, logger)
}
