// Package config defines the service configuration and its YAML form.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/yancarlos4500/sanjuan-coordination/internal/core/board"
	"github.com/yancarlos4500/sanjuan-coordination/internal/core/observability/log"
	"github.com/yancarlos4500/sanjuan-coordination/internal/core/protocol/websocket"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds server configuration.
type Config struct {
	Listen          string          `yaml:"listen"`
	Lanes           []string        `yaml:"lanes"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
	Log             LogConfig       `yaml:"log"`
	Transport       TransportConfig `yaml:"transport"`
	Hub             HubConfig       `yaml:"hub"`
	Feed            FeedConfig      `yaml:"feed"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type TransportConfig struct {
	// MaxMessageSize accepts human sizes such as "1MiB" or "512kB".
	MaxMessageSize string        `yaml:"max_message_size"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	PongTimeout    time.Duration `yaml:"pong_timeout"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

type HubConfig struct {
	InboundQueueSize int `yaml:"inbound_queue_size"`
	SendQueueSize    int `yaml:"send_queue_size"`
}

type FeedConfig struct {
	Enabled  bool          `yaml:"enabled"`
	URL      string        `yaml:"url"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
	// AirportPrefixes keeps flights departing or arriving at matching ICAO
	// codes. Empty keeps everything.
	AirportPrefixes []string `yaml:"airport_prefixes"`
}

// Default returns default server configuration.
func Default() Config {
	return Config{
		Listen:          "127.0.0.1:8080",
		Lanes:           append([]string(nil), board.DefaultLanes...),
		ShutdownTimeout: 10 * time.Second,
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 14,
		},
		Transport: TransportConfig{
			MaxMessageSize: "16MiB",
			WriteTimeout:   10 * time.Second,
			PongTimeout:    60 * time.Second,
			PingInterval:   25 * time.Second,
		},
		Hub: HubConfig{
			InboundQueueSize: 1024,
			SendQueueSize:    256,
		},
		Feed: FeedConfig{
			Enabled:         false,
			URL:             "https://data.vatsim.net/v3/vatsim-data.json",
			Interval:        15 * time.Second,
			Timeout:         10 * time.Second,
			AirportPrefixes: []string{"TJ", "TI", "TK", "TN", "TT"},
		},
	}
}

// LoadYAML decodes r on top of the defaults.
func LoadYAML(r io.Reader) (Config, error) {
	c := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return c, nil
}

// LoadFile reads a YAML config file.
func LoadFile(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	return LoadYAML(f)
}

// Validate checks the configuration for values the service cannot run with.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Listen) == "" {
		errs = append(errs, errors.New("listen address is empty"))
	}
	if len(c.Lanes) == 0 {
		errs = append(errs, errors.New("at least one lane is required"))
	}
	seen := make(map[string]struct{}, len(c.Lanes))
	for _, lane := range c.Lanes {
		if strings.TrimSpace(lane) == "" {
			errs = append(errs, errors.New("lane names must not be empty"))
			continue
		}
		if _, dup := seen[lane]; dup {
			errs = append(errs, fmt.Errorf("duplicate lane %q", lane))
		}
		seen[lane] = struct{}{}
	}
	if _, err := c.MaxMessageBytes(); err != nil {
		errs = append(errs, err)
	}
	if c.Transport.PingInterval > 0 && c.Transport.PongTimeout > 0 && c.Transport.PingInterval >= c.Transport.PongTimeout {
		errs = append(errs, errors.New("transport.ping_interval must be shorter than transport.pong_timeout"))
	}
	if c.Hub.InboundQueueSize <= 0 || c.Hub.SendQueueSize <= 0 {
		errs = append(errs, errors.New("hub queue sizes must be positive"))
	}
	if c.Feed.Enabled {
		if c.Feed.URL == "" {
			errs = append(errs, errors.New("feed.url is required when the feed is enabled"))
		}
		if c.Feed.Interval <= 0 {
			errs = append(errs, errors.New("feed.interval must be positive"))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// MaxMessageBytes parses Transport.MaxMessageSize. An empty value means no limit.
func (c Config) MaxMessageBytes() (int64, error) {
	if strings.TrimSpace(c.Transport.MaxMessageSize) == "" {
		return 0, nil
	}
	size, err := humanize.ParseBytes(c.Transport.MaxMessageSize)
	if err != nil {
		return 0, fmt.Errorf("transport.max_message_size: %w", err)
	}
	return int64(size), nil
}

// BoardLanes returns the closed lane enumeration.
func (c Config) BoardLanes() board.Lanes {
	if len(c.Lanes) == 0 {
		return board.DefaultLanes
	}
	return board.Lanes(append([]string(nil), c.Lanes...))
}

// WebSocket converts the transport section.
func (c Config) WebSocket() (websocket.Config, error) {
	size, err := c.MaxMessageBytes()
	if err != nil {
		return websocket.Config{}, err
	}
	ws := websocket.DefaultConfig()
	ws.MaxMessageSize = size
	ws.WriteTimeout = c.Transport.WriteTimeout
	ws.PongTimeout = c.Transport.PongTimeout
	ws.PingInterval = c.Transport.PingInterval
	ws.AllowedOrigins = c.Transport.AllowedOrigins
	return ws, nil
}

// LogOptions converts the log section.
func (c Config) LogOptions() log.Options {
	return log.Options{
		Level:      log.ParseLevel(c.Log.Level),
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
	}
}
