// Package feed polls the VATSIM network data file for live flights. The list is
// only used to populate the add-to-board search; it never touches board state.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/yancarlos4500/sanjuan-coordination/internal/core/observability/interfaces"
	"github.com/yancarlos4500/sanjuan-coordination/internal/core/observability/log"
)

var ErrUnexpectedStatus = errors.New("unexpected feed status")

// Config holds poller settings.
type Config struct {
	URL             string
	Interval        time.Duration
	Timeout         time.Duration
	AirportPrefixes []string
}

// Poller fetches the feed on a fixed interval and keeps the last good list.
type Poller struct {
	config   Config
	client   *http.Client
	recorder interfaces.FeedRecorder
	logger   log.Log

	mu       sync.RWMutex
	snapshot Snapshot
}

func NewPoller(config Config, client *http.Client, recorder interfaces.FeedRecorder, logger log.Log) *Poller {
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}
	if recorder == nil {
		recorder = interfaces.Nop{}
	}
	return &Poller{
		config:   config,
		client:   client,
		recorder: recorder,
		logger:   logger.With(log.String("component", "feed")),
		snapshot: Snapshot{Flights: []Flight{}},
	}
}

// Run polls immediately and then every Interval until ctx is done. Fetch
// failures are logged and recorded, never returned.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("Feed poller started",
		log.String("url", p.config.URL),
		log.Duration("interval", p.config.Interval))

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		_ = p.Refresh(ctx)

		select {
		case <-ctx.Done():
			p.logger.Info("Feed poller stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Refresh performs one poll and updates the snapshot.
func (p *Poller) Refresh(ctx context.Context) error {
	flights, err := p.fetch(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()

	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		p.snapshot.Error = err.Error()
		p.snapshot.Stale = true
		p.recorder.FeedFetched(false, 0)
		p.logger.Warn("Feed fetch failed, serving stale list",
			log.Error(err),
			log.Int("flights", len(p.snapshot.Flights)))
		return err
	}

	p.snapshot = Snapshot{
		Flights:   flights,
		FetchedAt: time.Now().UTC(),
	}
	p.recorder.FeedFetched(true, len(flights))
	p.logger.Debug("Feed refreshed", log.Int("flights", len(flights)))
	return nil
}

// Snapshot returns a copy of the current list.
func (p *Poller) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	snap := p.snapshot
	snap.Flights = append([]Flight(nil), p.snapshot.Flights...)
	if snap.Flights == nil {
		snap.Flights = []Flight{}
	}
	return snap
}

// Lookup finds a flight by callsign in the current list.
func (p *Poller) Lookup(callsign string) (Flight, bool) {
	want := strings.ToUpper(strings.TrimSpace(callsign))

	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, f := range p.snapshot.Flights {
		if f.Callsign == want {
			return f, true
		}
	}
	return Flight{}, false
}

func (p *Poller) fetch(ctx context.Context) ([]Flight, error) {
	if p.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build feed request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedStatus, resp.Status)
	}

	var data vatsimData
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("decode feed: %w", err)
	}

	flights := make([]Flight, 0, len(data.Pilots))
	for _, pilot := range data.Pilots {
		f := fromPilot(pilot)
		if f.Callsign == "" || !p.keep(f) {
			continue
		}
		flights = append(flights, f)
	}
	sort.Slice(flights, func(i, j int) bool { return flights[i].Callsign < flights[j].Callsign })
	return flights, nil
}

func (p *Poller) keep(f Flight) bool {
	if len(p.config.AirportPrefixes) == 0 {
		return true
	}
	for _, prefix := range p.config.AirportPrefixes {
		prefix = strings.ToUpper(prefix)
		if strings.HasPrefix(f.Departure, prefix) || strings.HasPrefix(f.Arrival, prefix) {
			return true
		}
	}
	return false
}
