package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/MimeLyc/web-research-agent/internal/agent"
	"github.com/MimeLyc/web-research-agent/internal/jobs"
)

// runStore reads finished runs for the API.
type runStore interface {
	GetRun(ctx context.Context, runID string) (*agent.RunResult, bool, error)
}

// statusProvider reports service-level status, e.g. the next maintenance
// trigger.
type statusProvider func() map[string]any

type Server struct {
	queue  *jobs.Queue
	runs   runStore
	status statusProvider

	mux    *http.ServeMux
	server *http.Server
}

type Option func(*Server)

func WithRunStore(store runStore) Option {
	return func(s *Server) {
		s.runs = store
	}
}

func WithStatusProvider(provider statusProvider) Option {
	return func(s *Server) {
		s.status = provider
	}
}

func NewServer(queue *jobs.Queue, opts ...Option) *Server {
	s := &Server{
		queue: queue,
		mux:   http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/research", s.handleResearch)
	s.mux.HandleFunc("/api/research/", s.handleResearchByID)
	s.mux.HandleFunc("/api/runs/", s.handleRunByID)
	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/api/healthz", s.handleHealthz)
}
