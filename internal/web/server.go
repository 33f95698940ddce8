// Package web provides the HTTP server for the sync service: a JSON
// record API plus the websocket endpoint for live collection rooms.
package web

import (
	"context"
	"net/http"

	"github.com/fieldsync/fieldsync/internal/config"
	"github.com/fieldsync/fieldsync/internal/engine"
	"github.com/fieldsync/fieldsync/internal/hub"
	"github.com/fieldsync/fieldsync/internal/web/middleware"
	"github.com/fieldsync/fieldsync/internal/ws"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// Server is the HTTP server for the sync service.
type Server struct {
	eng    *engine.Engine
	rooms  *hub.Hub
	cfg    *config.Config
	router *chi.Mux
	server *http.Server
}

// NewServer creates a new Server instance.
func NewServer(eng *engine.Engine, rooms *hub.Hub, cfg *config.Config) *Server {
	s := &Server{
		eng:    eng,
		rooms:  rooms,
		cfg:    cfg,
		router: chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(chimw.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
}

// setupRoutes configures all HTTP routes. The websocket route sits
// outside the request-timeout middleware; everything else gets it.
func (s *Server) setupRoutes() {
	wsHandler := ws.NewHandler(s.eng, s.rooms, s.cfg.Sync)
	s.router.Get("/ws/collections/{collectionID}", wsHandler.ServeHTTP)

	s.router.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(s.cfg.Server.RequestTimeout))

		r.Get("/healthz", s.handleHealth)

		r.Route("/api", func(r chi.Router) {
			r.Get("/collections/{collectionID}/{type}", s.handleList)
			r.Post("/collections/{collectionID}/{type}", s.handleCreate)
			r.Get("/collections/{collectionID}/presence", s.handlePresence)

			r.Get("/{type}/{id}", s.handleGet)
			r.Patch("/{type}/{id}", s.handleMutate)
			r.Delete("/{type}/{id}", s.handleDelete)
		})
	})
}

// Handler returns the root http.Handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening on the configured address. Blocks until the
// server stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
