// Package server exposes the churn predictor over HTTP and serves the
// bundled frontend when it is present on disk.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"churn-service/internal/cfg"
	"churn-service/internal/dashboard"
	"churn-service/internal/metrics"
	"churn-service/internal/ml"
	"churn-service/internal/storage"
)

// AuditStore records served predictions and reads them back by time range.
type AuditStore interface {
	StorePrediction(rec storage.PredictionRecord) error
	GetPredictions(start, end time.Time) ([]storage.PredictionRecord, error)
}

// Server is the HTTP front of the predictor.
type Server struct {
	predictor      ml.PredictorInterface
	metrics        *metrics.Metrics
	audit          AuditStore
	feed           *dashboard.Feed
	predictTimeout time.Duration
	handler        http.Handler
	server         *http.Server
}

// Option customizes a Server.
type Option func(*Server)

// WithMetrics records HTTP metrics and exposes GET /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithAuditStore records every successful prediction and exposes the trail
// at GET /predictions.
func WithAuditStore(a AuditStore) Option {
	return func(s *Server) { s.audit = a }
}

// WithFeed pushes every successful prediction to the live feed and exposes
// it at GET /ws/predictions.
func WithFeed(f *dashboard.Feed) Option {
	return func(s *Server) { s.feed = f }
}

// New builds the server and its routes.
func New(settings cfg.Settings, predictor ml.PredictorInterface, opts ...Option) *Server {
	s := &Server{
		predictor:      predictor,
		predictTimeout: settings.PredictTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.predictTimeout <= 0 {
		s.predictTimeout = 5 * time.Second
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /predict", s.handlePredict)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /model/info", s.handleModelInfo)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	if s.audit != nil {
		mux.HandleFunc("GET /predictions", s.handlePredictions)
	}
	if s.feed != nil {
		mux.Handle("GET /ws/predictions", s.feed)
	}

	if frontendAvailable(settings.FrontendDir) {
		mux.Handle("GET /assets/", assetsHandler(settings.FrontendDir))
		mux.Handle("GET /", spaHandler(settings.FrontendDir))
		log.Info().Str("dir", settings.FrontendDir).Msg("serving frontend")
	}

	maxBody := settings.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	s.handler = Chain(
		Recovery,
		RequestLogger(s.metrics),
		CORS(settings.AllowedOrigins),
		MaxBytes(maxBody),
	)(mux)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", settings.Port),
		Handler:      s.handler,
		ReadTimeout:  settings.ReadTimeout,
		WriteTimeout: settings.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Addr is the listen address.
func (s *Server) Addr() string {
	return s.server.Addr
}

// Start serves until Shutdown is called. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("starting churn server")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
