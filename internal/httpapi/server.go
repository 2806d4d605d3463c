// Package httpapi provides the HTTP API for the pipeline.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/studyd/internal/bus"
	"github.com/fyrsmithlabs/studyd/internal/quiz"
	"github.com/fyrsmithlabs/studyd/internal/store"
)

// maxUploadBytes caps the accepted document size.
const maxUploadBytes = 10 << 20

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Server is the HTTP front door: uploads and quiz requests go in, records
// and grades come out. All pipeline work happens in the workers; handlers
// only publish events and read the store.
type Server struct {
	echo   *echo.Echo
	store  *store.Store
	blobs  store.BlobStore
	bus    bus.Bus
	grader *quiz.Grader
	logger *zap.Logger
	config *Config
}

// NewServer creates the HTTP server and registers its routes.
func NewServer(s *store.Store, blobs store.BlobStore, b bus.Bus, grader *quiz.Grader, logger *zap.Logger, cfg *Config) (*Server, error) {
	if s == nil {
		return nil, fmt.Errorf("store is required")
	}
	if blobs == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if b == nil {
		return nil, fmt.Errorf("bus is required")
	}
	if grader == nil {
		return nil, fmt.Errorf("grader is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8080,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit("10M"))
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	srv := &Server{
		echo:   e,
		store:  s,
		blobs:  blobs,
		bus:    b,
		grader: grader,
		logger: logger,
		config: cfg,
	}
	srv.registerRoutes()
	return srv, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/documents", s.handleUploadDocument)
	v1.GET("/documents/:id", s.handleGetDocument)
	v1.GET("/documents/:id/text", s.handleGetDocumentText)
	v1.GET("/documents/:id/notes", s.handleGetDocumentNotes)

	v1.POST("/quizzes", s.handleRequestQuiz)
	v1.GET("/quizzes/requests/:request_id", s.handleGetQuizRequest)
	v1.GET("/quizzes/:id", s.handleGetQuiz)
	v1.POST("/quizzes/:id/submissions", s.handleSubmitAnswers)
	v1.GET("/quizzes/:id/submissions", s.handleListSubmissions)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	if err := s.store.Ping(c.Request().Context()); err != nil {
		return c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "degraded"})
	}
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
