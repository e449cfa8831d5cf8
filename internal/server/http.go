package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	gorilla "github.com/gorilla/websocket"

	"github.com/yancarlos4500/sanjuan-coordination/internal/core/board"
	"github.com/yancarlos4500/sanjuan-coordination/internal/core/feed"
	"github.com/yancarlos4500/sanjuan-coordination/internal/core/observability/log"
	"github.com/yancarlos4500/sanjuan-coordination/internal/core/protocol/websocket"
)

// HTTPServer exposes the websocket endpoint and the JSON API.
type HTTPServer struct {
	hub      *Hub
	feed     *feed.Poller
	metrics  http.Handler
	upgrader *gorilla.Upgrader
	wsConfig websocket.Config
	logger   log.Log
}

// NewHTTPServer wires the routes. poller and metricsHandler may be nil.
func NewHTTPServer(hub *Hub, poller *feed.Poller, metricsHandler http.Handler, wsConfig websocket.Config, logger log.Log) *HTTPServer {
	return &HTTPServer{
		hub:      hub,
		feed:     poller,
		metrics:  metricsHandler,
		upgrader: websocket.NewUpgrader(wsConfig),
		wsConfig: wsConfig,
		logger:   logger.With(log.String("component", "http")),
	}
}

func (s *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/flights", s.handleFlights)
	mux.HandleFunc("POST /api/items", s.handleAddItem)
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	return mux
}

func (s *HTTPServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Upgrade(s.upgrader, w, r, s.wsConfig)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed",
			log.String("remote_addr", r.RemoteAddr),
			log.Error(err))
		return
	}
	if err := s.hub.Serve(conn); err != nil {
		s.logger.Debug("Connection rejected", log.Error(err))
	}
}

// handleState serves the board with a fingerprint ETag.
func (s *HTTPServer) handleState(w http.ResponseWriter, r *http.Request) {
	state, err := s.hub.Snapshot(r.Context())
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err)
		return
	}

	etag := fmt.Sprintf(`"%016x"`, board.Fingerprint(state))
	w.Header().Set("ETag", etag)
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	s.writeJSON(w, http.StatusOK, state)
}

func (s *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.hub.Stats(r.Context())
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// handleFlights serves the live flight list, optionally narrowed with ?q= on
// the callsign prefix.
func (s *HTTPServer) handleFlights(w http.ResponseWriter, r *http.Request) {
	if s.feed == nil {
		s.writeError(w, http.StatusNotFound, ErrFeedDisabled)
		return
	}

	snap := s.feed.Snapshot()
	if q := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("q"))); q != "" {
		filtered := make([]feed.Flight, 0, len(snap.Flights))
		for _, f := range snap.Flights {
			if strings.HasPrefix(f.Callsign, q) {
				filtered = append(filtered, f)
			}
		}
		snap.Flights = filtered
	}
	s.writeJSON(w, http.StatusOK, snap)
}

type addItemRequest struct {
	Callsign string `json:"callsign"`
	Route    string `json:"route"`
	Lane     string `json:"lane"`
}

// handleAddItem creates a card. A callsign present in the live feed takes its
// route, altitude and squawk from there; anything else is a manual card.
func (s *HTTPServer) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if board.NormalizeCallsign(req.Callsign) == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("%w: callsign is required", board.ErrInvalidItem))
		return
	}

	item := board.NewItem(req.Callsign, board.SourceManual, req.Route)
	if s.feed != nil {
		if f, ok := s.feed.Lookup(req.Callsign); ok {
			item = f.ToItem()
		}
	}

	lane := req.Lane
	if lane == "" {
		lane = s.hub.Lanes().Holding()
	}

	state, err := s.hub.AddItem(r.Context(), item, lane)
	switch {
	case errors.Is(err, board.ErrDuplicateCallsign), errors.Is(err, board.ErrDuplicateID):
		s.writeError(w, http.StatusConflict, err)
		return
	case errors.Is(err, board.ErrUnknownLane), errors.Is(err, board.ErrInvalidItem):
		s.writeError(w, http.StatusBadRequest, err)
		return
	case err != nil:
		s.writeError(w, http.StatusServiceUnavailable, err)
		return
	}

	created, _ := state.Item(item.ID)
	s.writeJSON(w, http.StatusCreated, created)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": s.hub.ClientCount(),
	})
}

func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("Failed to write response", log.Error(err))
	}
}

func (s *HTTPServer) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
