package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/baby-monitor/relay-server/internal/cache"
	"github.com/baby-monitor/relay-server/internal/config"
	"github.com/baby-monitor/relay-server/internal/ingest"
	"github.com/baby-monitor/relay-server/internal/realtime"
	"github.com/baby-monitor/relay-server/internal/stream"
)

// Deps are the collaborators the HTTP surface fronts. The API layer holds
// no state of its own beyond the listener.
type Deps struct {
	Pipeline *ingest.Pipeline
	Registry *realtime.ConnectionRegistry
	Bus      *stream.FrameBus
	Store    cache.Store
	Sink     realtime.DeviceCommandSink
	Ticker   *realtime.HeartbeatTicker
	Tracker  *ingest.DeviceTracker
}

// RESTServer represents the REST API server
type RESTServer struct {
	config *config.Config
	deps   Deps
	router chi.Router
	server *http.Server

	startedAt time.Time
}

// NewRESTServer creates a new REST API server
func NewRESTServer(cfg *config.Config, deps Deps) *RESTServer {
	if deps.Sink == nil {
		deps.Sink = realtime.NopCommandSink{}
	}

	s := &RESTServer{
		config:    cfg,
		deps:      deps,
		router:    chi.NewRouter(),
		startedAt: time.Now().UTC(),
	}

	s.setupRoutes()

	// No WriteTimeout or handler timeout: /video/stream and /app/stream
	// hold their connections open indefinitely.
	s.server = &http.Server{
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	return s
}

// setupRoutes configures all routes
func (s *RESTServer) setupRoutes() {
	// Middleware. No middleware.Timeout: /video/stream and /app/stream
	// hold their connections open indefinitely.
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	s.setupAPIRoutes(s.router)
}

// ListenAndServe starts the server
func (s *RESTServer) ListenAndServe(addr string) error {
	s.server.Addr = addr
	log.Info().Str("addr", addr).Msg("Starting REST API server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *RESTServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
