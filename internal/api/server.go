// Package api is the read surface: precomputed artifacts, search,
// rankings, and watchlist management. It never computes anything itself —
// a missing or incomplete artifact is reported as PrecomputeMissing rather
// than computed on demand.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sentinel-quant/nightly-compute/internal/controller"
	"github.com/sentinel-quant/nightly-compute/internal/repository"
)

// Config wires the server's dependencies.
type Config struct {
	Port        int
	Log         zerolog.Logger
	Repo        *repository.Repository
	Controller  *controller.Controller
	MetricsReg  *prometheus.Registry
	CORSOrigins []string
	DevMode     bool
}

// Server is the read API's HTTP server.
type Server struct {
	router     *chi.Mux
	server     *http.Server
	log        zerolog.Logger
	repo       *repository.Repository
	ctrl       *controller.Controller
	metricsReg *prometheus.Registry
}

func New(cfg Config) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		log:        cfg.Log.With().Str("component", "api").Logger(),
		repo:       cfg.Repo,
		ctrl:       cfg.Controller,
		metricsReg: cfg.MetricsReg,
	}

	s.setupMiddleware(cfg.CORSOrigins, cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware(origins []string, devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(30 * time.Second))

	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	if s.metricsReg != nil {
		s.router.Handle("/metrics", metricsHandler(s.metricsReg))
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/reports/{symbol}", s.handleGetReport)
		r.Post("/reports/{symbol}/refresh", s.handleRequestReport)
		r.Get("/jobs/{jobID}", s.handleGetJob)
		r.Get("/search", s.handleSearch)
		r.Get("/rankings/{metric}", s.handleRankings)

		r.Route("/watchlist", func(r chi.Router) {
			r.Get("/{userID}", s.handleGetWatchlist)
			r.Put("/{userID}/{symbol}", s.handleAddWatchlistItem)
			r.Delete("/{userID}/{symbol}", s.handleRemoveWatchlistItem)
		})

		r.Get("/runs/{id}/stream", s.handleRunStream)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

func metricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func (s *Server) ListenAndServe() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("read API listening")
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
