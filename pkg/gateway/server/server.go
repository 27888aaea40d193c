// Package server exposes the call gateway over HTTP: a health probe, a
// Prometheus endpoint, and the websocket console that hosts live calls.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/dialkit/dialkit/pkg/core/call"
	"github.com/dialkit/dialkit/pkg/core/signal"
	"github.com/dialkit/dialkit/pkg/gateway/config"
	"github.com/dialkit/dialkit/pkg/gateway/metrics"
	"github.com/dialkit/dialkit/pkg/gateway/mw"
)

type Server struct {
	cfg     config.Config
	logger  *slog.Logger
	mux     *http.ServeMux
	metrics *metrics.Metrics

	history *call.HistoryStore
	games   *call.GameRegistry

	// dialSignal establishes the upstream agent channel for a new call.
	// Tests point it at a fake agent.
	dialSignal func(ctx context.Context) (signal.Channel, error)

	mu     sync.Mutex
	active int
}

func New(cfg config.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	games := call.NewGameRegistry()
	registerGames(games)

	s := &Server{
		cfg:     cfg,
		logger:  logger,
		mux:     http.NewServeMux(),
		metrics: metrics.New(""),
		history: call.NewHistoryStore(),
		games:   games,
	}
	s.dialSignal = s.dialAgent

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	s.mux.Handle("/metrics", s.metrics.Handler())
	s.mux.HandleFunc("/v1/call", s.handleConsole)
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

func (s *Server) dialAgent(ctx context.Context) (signal.Channel, error) {
	var header http.Header
	if s.cfg.AgentKey != "" {
		header = http.Header{"Authorization": []string{"Bearer " + s.cfg.AgentKey}}
	}
	return signal.Dial(ctx, s.cfg.AgentURL, header, s.cfg.SignalConfig(), s.logger)
}

// tryAcquire reserves a call slot; callers must release on teardown.
func (s *Server) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active >= s.cfg.MaxConcurrentCalls {
		return false
	}
	s.active++
	return true
}

func (s *Server) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active > 0 {
		s.active--
	}
}

func registerGames(r *call.GameRegistry) {
	r.Register("guess_number", func() call.Game {
		return call.NewGuessNumber(randTarget())
	})
}
