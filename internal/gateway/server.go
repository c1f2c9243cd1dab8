// Package gateway exposes the task service over HTTP.
package gateway

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dohr-michael/swarm/internal/events"
	"github.com/dohr-michael/swarm/internal/gateway/ws"
	"github.com/dohr-michael/swarm/internal/knowledge"
	"github.com/dohr-michael/swarm/internal/service"
	"github.com/dohr-michael/swarm/internal/storage"
)

// Options wires the server to the services. EventLog, Knowledge and MCP are
// optional.
type Options struct {
	Addr     string
	Tasks    *service.TaskService
	Profiles *service.ProfileService
	Health   *service.HealthService
	Bus      *events.Bus
	EventLog *storage.EventLogger
	// Knowledge, when set, is served under /knowledge.
	Knowledge *knowledge.Store
	// MCP, when set, is mounted at /mcp.
	MCP http.Handler
	// LogPoll is the status poll interval of streamed logs.
	LogPoll time.Duration
}

// Server is the swarm HTTP server.
type Server struct {
	httpServer *http.Server
	hub        *ws.Hub
	opts       Options
}

// NewServer builds the router. Every route is served both at the root and
// under /api.
func NewServer(opts Options) *Server {
	if opts.LogPoll <= 0 {
		opts.LogPoll = time.Second
	}
	s := &Server{
		hub:  ws.NewHub(opts.Bus),
		opts: opts,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)

	r.Group(s.routes)
	r.Route("/api", s.routes)
	if opts.MCP != nil {
		r.Handle("/mcp", opts.MCP)
		r.Handle("/mcp/*", opts.MCP)
	}

	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes(r chi.Router) {
	r.Get("/health", s.handleHealth)
	r.Get("/events", s.handleEvents)
	r.Get("/ws", s.hub.ServeWS)

	r.Route("/tasks", func(r chi.Router) {
		r.Post("/", s.handleCreateTask)
		r.Get("/", s.handleListTasks)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetTask)
			r.Delete("/", s.handleCancelTask)
			r.Post("/purge", s.handlePurgeTask)
			r.Get("/events", s.handleTaskEvents)
			r.Get("/logs", s.handleTaskLogs)
			r.Delete("/logs", s.handleDeleteTaskLogs)
			r.Get("/artifacts", s.handleListArtifacts)
			r.Get("/artifacts/*", s.handleDownloadArtifact)
		})
	})

	r.Route("/mcp-profiles", func(r chi.Router) {
		r.Post("/", s.handleCreateProfile)
		r.Get("/", s.handleListProfiles)
		r.Get("/{id}", s.handleGetProfile)
		r.Delete("/{id}", s.handleDeleteProfile)
	})

	if s.opts.Knowledge != nil {
		r.Route("/knowledge", func(r chi.Router) {
			r.Get("/", s.handleListKnowledge)
			r.Post("/", s.handleCreateKnowledge)
			r.Post("/sync", s.handleSyncKnowledge)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetKnowledge)
				r.Patch("/", s.handleUpdateKnowledge)
				r.Delete("/", s.handleDeleteKnowledge)
				r.Get("/prompt", s.handleKnowledgePrompt)
				r.Post("/rate", s.handleRateKnowledge)
			})
		})
	}
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start listens and blocks until the server is stopped.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	slog.Info("swarm gateway listening", "addr", ln.Addr().String())
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Health.Health())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		writeError(w, r, err)
		return
	}
	history := s.opts.Bus.History(limit)
	if history == nil {
		history = []events.Event{}
	}
	writeJSON(w, http.StatusOK, history)
}
