// Package server provides the HTTP control API: health, run triggering,
// leaderboard and readiness queries.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/quantlab/alphaevolve/internal/database"
	"github.com/quantlab/alphaevolve/internal/gate"
	"github.com/quantlab/alphaevolve/internal/marketdata"
	"github.com/quantlab/alphaevolve/internal/registry"
)

// RunFunc starts one full evolution run. The server invokes it
// asynchronously and guards against overlapping runs.
type RunFunc func(ctx context.Context) error

// Config holds server configuration
type Config struct {
	Log        zerolog.Logger
	Port       int
	DevMode    bool
	RegistryDB *database.DB
	Repo       *registry.Repository
	Gate       *gate.Gate
	Cache      *marketdata.Cache
	Run        RunFunc
}

// Server represents the HTTP control server
type Server struct {
	router      *chi.Mux
	server      *http.Server
	log         zerolog.Logger
	registryDB  *database.DB
	repo        *registry.Repository
	gate        *gate.Gate
	cache       *marketdata.Cache
	run         RunFunc
	running     atomic.Bool
	startupTime time.Time
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		log:         cfg.Log.With().Str("component", "server").Logger(),
		registryDB:  cfg.RegistryDB,
		repo:        cfg.Repo,
		gate:        cfg.Gate,
		cache:       cfg.Cache,
		run:         cfg.Run,
		startupTime: time.Now(),
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
	}

	return s
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/run", s.handleRun)
		r.Get("/top", s.handleTop)
		r.Get("/readiness/{genomeID}", s.handleReadiness)
		r.Get("/lineage/{genomeID}", s.handleLineage)
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}
