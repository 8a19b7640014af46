// Package server exposes the room registry over WebSocket and HTTP.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sanehaakhtar/localboard/internal/config"
	"github.com/sanehaakhtar/localboard/internal/observability"
	"github.com/sanehaakhtar/localboard/internal/state"
)

// Server owns the HTTP surface and every live session.
type Server struct {
	cfg      config.ServerConfig
	registry *state.Registry
	logger   zerolog.Logger
	metrics  *observability.Metrics
	gatherer prometheus.Gatherer
	upgrader websocket.Upgrader

	baseCtx  context.Context
	stop     context.CancelFunc
	sessions sync.WaitGroup
}

// New wires a server to registry. When promReg is non-nil the server
// registers its collectors there and serves them on /metrics.
func New(cfg config.ServerConfig, registry *state.Registry, logger zerolog.Logger, promReg *prometheus.Registry) *Server {
	ctx, stop := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		registry: registry,
		logger:   logger.With().Str("component", "server").Logger(),
		baseCtx:  ctx,
		stop:     stop,
	}
	if promReg != nil {
		s.metrics = observability.NewMetrics(promReg, registrySizer{registry})
		s.gatherer = promReg
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Registry returns the registry the server applies intents to.
func (s *Server) Registry() *state.Registry { return s.registry }

// Metrics returns the server collectors, or nil when metrics are disabled.
func (s *Server) Metrics() *observability.Metrics { return s.metrics }

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+s.cfg.WSPath, s.handleWS)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /rooms/{id}", s.handleRoom)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Close ends every live session and waits for them to leave their rooms.
func (s *Server) Close() {
	s.stop()
	s.sessions.Wait()
}

// EvictIdle removes idle, member-less rooms and records them.
func (s *Server) EvictIdle(now time.Time, ttl time.Duration) []string {
	evicted := s.registry.EvictIdle(now, ttl)
	s.metrics.Evicted(len(evicted))
	return evicted
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.baseCtx.Err() != nil {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	ctx, cancel := context.WithCancel(s.baseCtx)
	id := uuid.NewString()
	sess := &session{
		server:    s,
		conn:      conn,
		send:      make(chan []byte, s.cfg.SendQueue),
		ctx:       ctx,
		cancel:    cancel,
		logger:    s.logger.With().Str("session", id).Str("remote", r.RemoteAddr).Logger(),
		id:        id,
		state:     unjoined{},
		connected: time.Now(),
	}
	sess.logger.Info().Msg("session opened")

	s.metrics.Connected()
	s.sessions.Add(1)
	go func() {
		defer s.sessions.Done()
		defer s.metrics.Disconnected()
		sess.run()
	}()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := s.registry.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"rooms":   st.Rooms,
		"members": st.Members,
	})
}

func (s *Server) handleRoom(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.registry.Snapshot(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "room not found"})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	s.logger.Warn().Str("origin", origin).Msg("origin rejected")
	return false
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type registrySizer struct {
	registry *state.Registry
}

func (r registrySizer) RoomCount() int   { return r.registry.Stats().Rooms }
func (r registrySizer) MemberCount() int { return r.registry.Stats().Members }
