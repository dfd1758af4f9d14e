package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ttm-labs/ttm-orchestrator/internal/history"
	"github.com/ttm-labs/ttm-orchestrator/internal/lifecycle"
	"github.com/ttm-labs/ttm-orchestrator/internal/results"
	"github.com/ttm-labs/ttm-orchestrator/internal/templates"
)

// Server is the HTTP API server
type Server struct {
	tracker   *lifecycle.Tracker
	templates *templates.Manager
	results   *results.Manager
	history   *history.Store
	addr      string
	mux       *http.ServeMux
	sseHub    *SSEHub
}

// NewServer creates a new API server. The history store may be nil when
// archival is disabled.
func NewServer(tracker *lifecycle.Tracker, tpl *templates.Manager, res *results.Manager, hist *history.Store, addr string) *Server {
	s := &Server{
		tracker:   tracker,
		templates: tpl,
		results:   res,
		history:   hist,
		addr:      addr,
		mux:       http.NewServeMux(),
		sseHub:    NewSSEHub(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/status", s.statusHandler())
	s.mux.HandleFunc("/api/experiments", s.experimentsHandler())
	s.mux.HandleFunc("/api/experiments/", s.experimentHandler())
	s.mux.HandleFunc("/api/templates", s.templatesHandler())
	s.mux.HandleFunc("/api/templates/", s.templateHandler())
	s.mux.HandleFunc("/api/results", s.listResultsHandler())
	s.mux.HandleFunc("/api/results/", s.resultFolderHandler())
	s.mux.HandleFunc("/api/history", s.historyHandler())
	s.mux.HandleFunc("/api/events", s.sseHandler())
}

// Handler returns the server's HTTP handler for use with a custom http.Server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start starts the HTTP server
func (s *Server) Start() error {
	go s.sseHub.Run()
	return http.ListenAndServe(s.addr, s.mux)
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	go s.sseHub.Run()

	srv := &http.Server{Addr: s.addr, Handler: s.mux}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Broadcast sends an event to all SSE clients
func (s *Server) Broadcast(event SSEEvent) {
	s.sseHub.Broadcast(event)
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
