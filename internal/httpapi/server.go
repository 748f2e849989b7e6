// Package httpapi provides the HTTP API for learnd.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/haldanelabs/learnd/internal/experiment"
	"github.com/haldanelabs/learnd/internal/feedback"
	"github.com/haldanelabs/learnd/internal/knowledge"
	"github.com/haldanelabs/learnd/internal/optimizer"
	"github.com/haldanelabs/learnd/internal/patterns"
	"github.com/haldanelabs/learnd/internal/store"
	"github.com/haldanelabs/learnd/internal/training"
)

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Server provides the learnd HTTP endpoints.
type Server struct {
	echo   *echo.Echo
	logger *zap.Logger
	config *Config

	interactions store.InteractionStore
	orch         *training.Orchestrator
	engine       *patterns.Engine
	optim        *optimizer.Optimizer
	experiments  *experiment.Runner
	synth        *knowledge.Synthesizer
	loop         *feedback.Loop

	// nc backs the SSE bridge; nil disables the events endpoint.
	nc *nats.Conn
}

// Deps are the subsystems the server exposes.
type Deps struct {
	Interactions store.InteractionStore
	Orchestrator *training.Orchestrator
	Engine       *patterns.Engine
	Optimizer    *optimizer.Optimizer
	Experiments  *experiment.Runner
	Synthesizer  *knowledge.Synthesizer
	Feedback     *feedback.Loop
	NATS         *nats.Conn
}

// NewServer creates the HTTP server.
func NewServer(deps Deps, logger *zap.Logger, cfg *Config) (*Server, error) {
	if deps.Interactions == nil || deps.Orchestrator == nil || deps.Engine == nil ||
		deps.Optimizer == nil || deps.Experiments == nil || deps.Synthesizer == nil ||
		deps.Feedback == nil {
		return nil, fmt.Errorf("all subsystem dependencies are required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "127.0.0.1",
			Port: 8089,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
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

	s := &Server{
		echo:         e,
		logger:       logger,
		config:       cfg,
		interactions: deps.Interactions,
		orch:         deps.Orchestrator,
		engine:       deps.Engine,
		optim:        deps.Optimizer,
		experiments:  deps.Experiments,
		synth:        deps.Synthesizer,
		loop:         deps.Feedback,
		nc:           deps.NATS,
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")

	v1.POST("/training/start", s.handleTrainingStart)
	v1.POST("/training/stop", s.handleTrainingStop)
	v1.GET("/training/status", s.handleTrainingStatus)
	v1.GET("/training/sessions/:id", s.handleTrainingSession)

	v1.GET("/patterns", s.handlePatterns)
	v1.GET("/patterns/analyze", s.handlePatternsAnalyze)

	v1.POST("/optimization/run", s.handleOptimizationRun)
	v1.GET("/optimization/targets", s.handleOptimizationTargets)

	v1.POST("/knowledge/synthesize", s.handleKnowledgeSynthesize)
	v1.GET("/knowledge/items", s.handleKnowledgeItems)

	v1.POST("/experiments/run", s.handleExperimentsRun)
	v1.POST("/experiments/:id/release", s.handleExperimentRelease)
	v1.GET("/experiments/:id", s.handleExperimentGet)

	v1.POST("/interactions", s.handleInteractionAdd)

	v1.POST("/feedback", s.handleFeedback)
	v1.GET("/feedback/actions", s.handleFeedbackActions)
	v1.POST("/feedback/actions/:id/apply", s.handleFeedbackApply)

	v1.GET("/learning/progress", s.handleLearningProgress)

	v1.GET("/events/:session_id", s.handleEvents)
}

// envelope is the uniform response shape.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ok writes a success envelope.
func ok(c echo.Context, status int, data any) error {
	return c.JSON(status, envelope{Success: true, Data: data})
}

// fail maps domain errors to HTTP statuses and writes a failure
// envelope.
func (s *Server) fail(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, training.ErrInvalidKind),
		errors.Is(err, training.ErrInvalidPriority),
		errors.Is(err, experiment.ErrInvalidKind),
		errors.Is(err, knowledge.ErrInvalidSource),
		errors.Is(err, knowledge.ErrInvalidDepth),
		errors.Is(err, optimizer.ErrInvalidTarget),
		errors.Is(err, feedback.ErrInvalidKind),
		errors.Is(err, feedback.ErrInvalidFeedback),
		errors.Is(err, store.ErrInvalidRecord),
		errors.Is(err, store.ErrEmptyInput),
		errors.Is(err, store.ErrInvalidQuality):
		status = http.StatusBadRequest
	case errors.Is(err, training.ErrSessionNotFound),
		errors.Is(err, experiment.ErrNotFound),
		errors.Is(err, optimizer.ErrUnknownTarget),
		errors.Is(err, feedback.ErrActionNotFound),
		errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, training.ErrNotRunning),
		errors.Is(err, experiment.ErrNotQueued),
		errors.Is(err, feedback.ErrNotPending):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	return c.JSON(status, envelope{Success: false, Error: err.Error()})
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
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
