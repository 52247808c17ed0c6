// Package api provides the HTTP API server for PulseOS.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/pulseos/pulseos/internal/costs"
	"github.com/pulseos/pulseos/internal/insight"
	"github.com/pulseos/pulseos/internal/storage"
)

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server

	insights *insight.Service
	tracker  *costs.Tracker
	metrics  *storage.MetricStore
	patterns *storage.PatternStore
}

// Config for the server
type Config struct {
	Host     string
	Port     int
	Insights *insight.Service
	Tracker  *costs.Tracker
	Metrics  *storage.MetricStore
	Patterns *storage.PatternStore
}

// NewServer creates the API server
func NewServer(cfg Config) *Server {
	s := &Server{
		insights: cfg.Insights,
		tracker:  cfg.Tracker,
		metrics:  cfg.Metrics,
		patterns: cfg.Patterns,
	}
	s.router = s.routes()
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: s.router,
	}
	return s
}

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// Metric ingestion
		r.Put("/metrics", s.handlePutMetrics)
		r.Get("/metrics/{metric}", s.handleGetSeries)

		// Insights
		r.Get("/briefs/{date}", s.handleGetBrief)
		r.Post("/briefs/{date}", s.handleGenerateBrief)
		r.Get("/reviews/{date}", s.handleGetReview)
		r.Post("/reviews/{date}", s.handleGenerateReview)
		r.Post("/energy/{date}", s.handlePredictEnergy)
		r.Get("/energy/accuracy", s.handleEnergyAccuracy)

		// Patterns
		r.Get("/patterns", s.handleGetPatterns)
		r.Post("/patterns/detect", s.handleDetectPatterns)

		// Feedback
		r.Post("/insights/{id}/feedback", s.handleFeedback)

		// Costs
		r.Get("/costs", s.handleGetCosts)
	})

	return r
}

// Router exposes the handler, for tests and embedding.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
