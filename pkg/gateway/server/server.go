// Package server assembles the voice gateway: routes, middleware, session
// store, metrics, and the Gemini completion gateway.
package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/revlabs/revvoice/pkg/core/providers/gemini"
	"github.com/revlabs/revvoice/pkg/gateway/config"
	"github.com/revlabs/revvoice/pkg/gateway/handlers"
	"github.com/revlabs/revvoice/pkg/gateway/live/sessions"
	"github.com/revlabs/revvoice/pkg/gateway/metrics"
	"github.com/revlabs/revvoice/pkg/gateway/mw"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	store    *sessions.Store
	metrics  *metrics.Metrics
	provider *gemini.Provider
	draining atomic.Bool
}

func New(cfg config.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout: 10 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}

	opts := []gemini.Option{gemini.WithHTTPClient(httpClient)}
	if cfg.GeminiBaseURL != "" {
		opts = append(opts, gemini.WithBaseURL(cfg.GeminiBaseURL))
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		mux:      http.NewServeMux(),
		store:    sessions.NewStore(),
		metrics:  metrics.New("revvoice"),
		provider: gemini.New(cfg.GeminiAPIKey, cfg.GeminiModel, opts...),
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/health", handlers.HealthHandler{})
	s.mux.Handle("/metrics", s.metrics.Handler())
	s.mux.Handle("GET /conversation/{id}", handlers.ConversationHandler{Store: s.store})
	s.mux.Handle("GET /active-conversations", handlers.ActiveConversationsHandler{Store: s.store})
	s.mux.Handle("/voice", handlers.VoiceHandler{
		Config:   s.cfg,
		Gateway:  s.provider,
		Store:    s.store,
		Logger:   s.logger,
		Metrics:  s.metrics,
		Draining: s.IsDraining,
	})
	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// Store exposes the session store, mainly for wiring and tests.
func (s *Server) Store() *sessions.Store {
	return s.store
}

// RunSweeper expires abandoned sessions until ctx is canceled.
func (s *Server) RunSweeper(ctx context.Context) {
	s.store.RunSweeper(ctx, s.cfg.SweepInterval, s.cfg.SessionMaxAge)
}

// SetDraining makes /voice refuse new connections.
func (s *Server) SetDraining() {
	s.draining.Store(true)
}

func (s *Server) IsDraining() bool {
	return s.draining.Load()
}

// WarnSessionsDraining notifies every live conversation that the server is
// shutting down.
func (s *Server) WarnSessionsDraining() {
	sent := s.store.WarnAll("draining", "server is shutting down")
	if sent > 0 {
		s.logger.Info("warned live sessions", "count", sent)
	}
}

// WaitSessions blocks until every session is gone or ctx expires.
func (s *Server) WaitSessions(ctx context.Context) bool {
	return s.store.Wait(ctx)
}

// CancelSessions force-terminates the sessions that did not drain in time.
func (s *Server) CancelSessions() {
	canceled := s.store.CancelAll()
	if canceled > 0 {
		s.logger.Warn("canceled live sessions", "count", canceled)
	}
}
