// Package rest provides the read-only status server: health plus projections
// over persisted runs and available workflow definitions. Runs are driven by
// the CLI, so the server exposes no mutation endpoints.
package rest

import (
	"github.com/gofiber/fiber/v2"

	"yqhp/flowrunner/internal/config"
	"yqhp/flowrunner/internal/store"
	"yqhp/flowrunner/internal/workflow"
)

// Server is the REST status server.
type Server struct {
	app    *fiber.App
	store  *store.Store
	loader *workflow.Loader
	addr   string
}

// NewServer creates a Server over the given store and workflow loader.
func NewServer(cfg config.ServerConfig, st *store.Store, loader *workflow.Loader) *Server {
	app := fiber.New(fiber.Config{
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		DisableStartupMessage: true,
	})

	s := &Server{app: app, store: st, loader: loader, addr: cfg.Address}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.app.Get("/health", s.healthCheck)

	v1 := s.app.Group("/api/v1")
	v1.Get("/runs", s.listRuns)
	v1.Get("/runs/:id", s.getRun)
	v1.Get("/workflows", s.listWorkflows)
}

// Start listens on the configured address and blocks until shutdown.
func (s *Server) Start() error {
	return s.app.Listen(s.addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}
