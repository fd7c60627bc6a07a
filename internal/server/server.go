package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/personasync/apiserver/config"
	"github.com/personasync/apiserver/internal/handlers"
	"github.com/personasync/apiserver/internal/logger"
	"github.com/personasync/apiserver/internal/mq"
	"github.com/personasync/apiserver/internal/services"
	"github.com/personasync/apiserver/internal/storage"
	"github.com/personasync/apiserver/internal/store"
)

// Deps are the services the HTTP layer is built from.
type Deps struct {
	Sessions  *services.SessionStore
	Stats     *services.StatsService
	Narration *services.NarrationService
	Exports   *services.ExportService
	Tokens    *handlers.SessionTokenHandler
	Log       *logger.Logger
}

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	backends   Backends
	log        *logger.Logger
}

// Backends holds the connections opened from config.
type Backends struct {
	KV      store.KV
	Bus     *mq.MQ
	Objects *storage.Storage
}

// OpenBackends connects the KV store and the optional broker and object
// storage selected by cfg.
func OpenBackends(ctx context.Context, cfg config.Config) (Backends, error) {
	kv, err := store.Open(ctx, cfg)
	if err != nil {
		return Backends{}, err
	}
	bus, err := mq.Open(ctx, cfg)
	if err != nil {
		_ = kv.Close()
		return Backends{}, err
	}
	objects, err := storage.Open(ctx, cfg)
	if err != nil {
		_ = kv.Close()
		if bus != nil {
			_ = bus.Close()
		}
		return Backends{}, err
	}
	return Backends{KV: kv, Bus: bus, Objects: objects}, nil
}

// Close releases every open backend.
func (b Backends) Close() error {
	var errs []error
	if b.Objects != nil {
		errs = append(errs, b.Objects.Close())
	}
	if b.Bus != nil {
		errs = append(errs, b.Bus.Close())
	}
	if b.KV != nil {
		errs = append(errs, b.KV.Close())
	}
	return errors.Join(errs...)
}

// NewSessionStore builds the session store on top of b, publishing
// events when a broker is configured.
func NewSessionStore(b Backends, log *logger.Logger) *services.SessionStore {
	opts := []services.SessionStoreOption{services.WithLogger(log)}
	if b.Bus != nil {
		opts = append(opts, services.WithEvents(b.Bus))
	}
	return services.NewSessionStore(b.KV, opts...)
}

// NewExportService builds the exporter, disabled when b has no storage.
func NewExportService(sessions *services.SessionStore, b Backends) *services.ExportService {
	var objects services.ObjectWriter
	if b.Objects != nil {
		objects = b.Objects
	}
	return services.NewExportService(sessions, objects)
}

// New constructs a Server with basic middleware and defaults.
func New(ctx context.Context, cfg config.Config, log *logger.Logger) (*Server, error) {
	if cfg.Session.Secret == "" {
		return nil, errors.New("SESSION_SECRET is required")
	}

	backends, err := OpenBackends(ctx, cfg)
	if err != nil {
		return nil, err
	}

	sessions := NewSessionStore(backends, log)
	stats := services.NewStatsService(sessions)
	deps := Deps{
		Sessions:  sessions,
		Stats:     stats,
		Narration: services.NewNarrationService(stats, cfg.TTS.Endpoint, cfg.TTS.Timeout),
		Exports:   NewExportService(sessions, backends),
		Tokens:    handlers.NewSessionTokenHandler(cfg.Session.Secret, cfg.Session.TokenTTL),
		Log:       log,
	}
	router := NewRouter(deps)

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info("server configured",
		"port", port,
		"kv_backend", cfg.KVBackend,
		"mq_backend", cfg.MQBackend,
		"storage_backend", cfg.StorageBackend,
	)

	return &Server{
		httpServer: httpServer,
		router:     router,
		backends:   backends,
		log:        log,
	}, nil
}

// NewRouter registers every route on a fresh chi router.
func NewRouter(d Deps) *chi.Mux {
	sessionHandler := handlers.NewSessionHandler(d.Sessions, d.Log)
	dashboardHandler := handlers.NewDashboardHandler(d.Stats, d.Narration, d.Exports, d.Log)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Route("/sessions", func(r chi.Router) {
		handlers.SessionTokenRouter(r, d.Tokens)
	})
	router.Route("/session", func(r chi.Router) {
		handlers.SessionRouter(r, sessionHandler, d.Tokens)
	})
	router.Route("/users", func(r chi.Router) {
		handlers.UserRouter(r, sessionHandler, d.Tokens)
	})
	router.Route("/dashboard", func(r chi.Router) {
		handlers.DashboardRouter(r, dashboardHandler)
	})
	return router
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	s.log.Info("listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and closes the backends.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	return errors.Join(err, s.backends.Close())
}
