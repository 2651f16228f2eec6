package api

import (
	"VodForge/internal/api/handlers"
	"VodForge/internal/config"
	"VodForge/internal/intake"
	"VodForge/internal/job"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Server struct {
	router     *chi.Mux
	jobManager *job.Manager
	spool      *intake.Spool
	cfg        *config.Config
	logger     *zap.Logger
	httpServer *http.Server
}

func NewServer(jobManager *job.Manager, spool *intake.Spool, cfg *config.Config, logger *zap.Logger) *Server {
	s := &Server{
		jobManager: jobManager,
		spool:      spool,
		cfg:        cfg,
		logger:     logger,
	}

	s.router = chi.NewRouter()
	s.setupMiddleware()
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: s.router,
		// uploads and SSE streams are long
		ReadTimeout:       10 * time.Minute,
		IdleTimeout:       2 * time.Minute,
		MaxHeaderBytes:    1 << 20,
		ReadHeaderTimeout: 30 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
}

func (s *Server) setupRoutes() {
	jobsHandler := handlers.NewJobsHandler(s.jobManager, s.logger)
	streamHandler := handlers.NewStreamHandler(s.jobManager, s.logger)

	s.router.With(middleware.Timeout(10*time.Second)).Get("/health", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.With(middleware.Timeout(30*time.Second)).Post("/jobs", jobsHandler.Submit)
	s.router.With(middleware.Timeout(30*time.Second)).Get("/queue/stats", jobsHandler.QueueStats)
	s.router.With(middleware.Timeout(30*time.Second)).Get("/videos/{videoID}/status", jobsHandler.GetStatus)

	// long-lived connections, no timeout
	s.router.Get("/videos/{videoID}/stream", streamHandler.StreamProgress)
	if s.spool != nil {
		maxBytes := s.cfg.Spool.MaxUploadMB << 20
		uploadHandler := handlers.NewUploadHandler(s.jobManager, s.spool, maxBytes, s.logger)
		s.router.Post("/videos/{videoID}/upload", uploadHandler.Handle)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{
		"status":  "healthy",
		"service": "vodforge",
	})
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown; it returns http.ErrServerClosed after a
// clean stop, even when Shutdown ran first.
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
