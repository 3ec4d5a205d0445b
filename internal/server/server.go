// Package server sets up the HTTP router, middleware, and the
// /v1/messages request handlers.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/howard-nolan/geminigate/internal/anthropic"
	"github.com/howard-nolan/geminigate/internal/metrics"
	"github.com/howard-nolan/geminigate/internal/stream"
)

// Engine runs one translated request against the upstream and pushes
// the resulting SSE events into send, in order. The proxy pipeline is
// the production implementation; tests substitute their own.
type Engine interface {
	Run(ctx context.Context, req *anthropic.MessagesRequest, send func(stream.Event) error) error
}

// Server holds the HTTP router and the dependencies handlers need.
type Server struct {
	router chi.Router
	engine Engine
	log    *logrus.Entry
}

// New creates a Server, wires up routes and middleware, and returns it
// ready to use as an http.Handler.
func New(engine Engine, log *logrus.Entry) *Server {
	s := &Server{engine: engine, log: log}
	s.routes()
	return s
}

// routes builds the chi router with all middleware and route
// definitions, gathered in one method so the routing table is easy to
// scan.
func (s *Server) routes() {
	r := chi.NewRouter()

	// middleware.Logger prints a line per request (method, path, status,
	// duration). middleware.Recoverer turns handler panics into 500s
	// instead of crashing the process.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Post("/v1/messages", s.handleMessages)

	s.router = r
}

// ServeHTTP makes Server satisfy http.Handler by delegating to chi.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
