package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/vitos/alpha_monitor/internal/domain"
	"github.com/vitos/alpha_monitor/internal/infrastructure/metrics"
	"github.com/vitos/alpha_monitor/internal/usecase"
	"go.uber.org/zap"
)

// AssetQueries serves the read API.
type AssetQueries interface {
	Assets(ctx context.Context) ([]domain.AssetRecord, error)
	Stats(ctx context.Context) (*domain.Stats, error)
}

// CollectorStatus reports collector health.
type CollectorStatus interface {
	Stats() usecase.CollectorStats
}

type Server struct {
	router    chi.Router
	server    *http.Server
	hub       *Hub
	queries   AssetQueries
	collector CollectorStatus
	recorder  *metrics.Recorder
	logger    *zap.Logger
	timeNow   func() time.Time
}

func NewServer(
	port int,
	hub *Hub,
	queries AssetQueries,
	collector CollectorStatus,
	recorder *metrics.Recorder,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		router:    chi.NewRouter(),
		hub:       hub,
		queries:   queries,
		collector: collector,
		recorder:  recorder,
		logger:    logger,
		timeNow:   time.Now,
	}
	s.routes()
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.router.Use(middleware.Recoverer)
	if s.recorder != nil {
		s.router.Use(s.recorder.Instrument(func(r *http.Request) string {
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				return rctx.RoutePattern()
			}
			return ""
		}))
	}

	// Subscriber stream
	s.router.Get("/ws", s.hub.ServeHTTP)

	s.router.Get("/health", s.handleHealth)
	if s.recorder != nil {
		s.router.Method(http.MethodGet, "/metrics", s.recorder.Handler())
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/assets", s.handleAssets)
		r.Get("/stats", s.handleStats)
	})
}

// Handler returns the root handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown closes the fanout hub before the listener so nothing is sent on
// a connection that is already gone.
func (s *Server) Shutdown(ctx context.Context) error {
	hubErr := s.hub.Close(ctx)
	return errors.Join(hubErr, s.server.Shutdown(ctx))
}
