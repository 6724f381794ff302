// Package server exposes the assistant over HTTP and websocket: a
// synchronous chat endpoint, read-only status and history endpoints, the
// streaming websocket, and Prometheus metrics.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/longregen/marlowe/internal/degradation"
	"github.com/longregen/marlowe/internal/memory"
	"github.com/longregen/marlowe/internal/orchestrator"
	"github.com/longregen/marlowe/internal/store"
)

const ReadTimeout = 30 * time.Second

// recentToolsWindow bounds how many recently used tool names are kept per
// conversation for prefilter recency scoring.
const recentToolsWindow = 10

type Server struct {
	router    *chi.Mux
	server    *http.Server
	addr      string
	authToken string

	orch     *orchestrator.Orchestrator
	store    *store.Store
	recorder *memory.Recorder
	degr     *degradation.Manager

	toolsMu     sync.Mutex
	recentTools map[string][]string
}

type Config struct {
	Addr         string
	AuthToken    string
	Orchestrator *orchestrator.Orchestrator
	Store        *store.Store
	Recorder     *memory.Recorder
	Degradation  *degradation.Manager
}

func New(cfg Config) *Server {
	s := &Server{
		addr:        cfg.Addr,
		authToken:   cfg.AuthToken,
		orch:        cfg.Orchestrator,
		store:       cfg.Store,
		recorder:    cfg.Recorder,
		degr:        cfg.Degradation,
		recentTools: make(map[string][]string),
	}

	router := chi.NewRouter()
	router.Use(Recovery)
	router.Use(Logger)

	router.Get("/health", s.handleHealth)
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/api/v1/ws", s.handleWS)

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/chat", s.handleChat)
		r.Get("/conversations", s.handleListConversations)
		r.Get("/conversations/{id}/messages", s.handleGetMessages)
		r.Get("/conversations/{id}/interactions", s.handleListInteractions)
		r.Post("/interactions/{id}/feedback", s.handleFeedback)
	})

	s.router = router
	return s
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     s.router,
		ReadTimeout: ReadTimeout,
		// Streaming turns over the websocket have no write bound.
		WriteTimeout: 0,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// turnRequest builds a TurnRequest carrying the conversation's recently
// used tools for prefilter recency scoring.
func (s *Server) turnRequest(convID, userID, message string) orchestrator.TurnRequest {
	s.toolsMu.Lock()
	recent := append([]string(nil), s.recentTools[convID]...)
	s.toolsMu.Unlock()

	return orchestrator.TurnRequest{
		ConversationID: convID,
		UserID:         userID,
		Message:        message,
		RecentTools:    recent,
	}
}

// noteToolsUsed records which tools a turn ran, for the next turn's
// prefilter.
func (s *Server) noteToolsUsed(convID string, used []string) {
	if len(used) == 0 {
		return
	}
	s.toolsMu.Lock()
	defer s.toolsMu.Unlock()
	tools := append(s.recentTools[convID], used...)
	if len(tools) > recentToolsWindow {
		tools = tools[len(tools)-recentToolsWindow:]
	}
	s.recentTools[convID] = tools
}
