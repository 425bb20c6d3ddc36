// Package httpserver exposes the producer-facing HTTP API: task creation,
// health, stats, and dead-letter inspection.
package httpserver

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/taskqd/taskqd/internal/runtime"
	tasksvc "github.com/taskqd/taskqd/internal/services/tasks"
	logpkg "github.com/taskqd/taskqd/pkg/log"
)

type Server struct {
	rt     *runtime.Runtime
	svc    *tasksvc.Service
	logger logpkg.Logger
	srv    *http.Server
	lis    net.Listener
}

// New builds the HTTP server over the task service.
func New(rt *runtime.Runtime, svc *tasksvc.Service, logger logpkg.Logger) *Server {
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	s := &Server{rt: rt, svc: svc, logger: logger.WithComponent("http")}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "x-api-key"},
	}))
	r.Use(s.requireAPIKey)

	r.Get("/v1/healthz", s.handleHealth)
	r.Post("/v1/tasks", s.handleCreateTask)
	r.Get("/v1/dlq", s.handleListDeadLetters)
	r.Get("/v1/stats", s.handleStats)

	s.srv = &http.Server{Handler: r}
	return s
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// ListenAndServe serves until ctx is canceled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	s.logger.Info("http listening", logpkg.Str("addr", l.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		return err
	}
}

// Close releases the listener.
func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}
