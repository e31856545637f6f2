// Package http provides the HTTP API for aceql.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/aceql/internal/assembler"
	"github.com/fyrsmithlabs/aceql/internal/curator"
	"github.com/fyrsmithlabs/aceql/internal/logging"
	"github.com/fyrsmithlabs/aceql/internal/orchestrator"
	"github.com/fyrsmithlabs/aceql/internal/playbook"
	"github.com/fyrsmithlabs/aceql/internal/secrets"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Runner executes one learning cycle.
type Runner interface {
	Run(ctx context.Context, spec orchestrator.TaskSpec) *orchestrator.RunRecord
}

// PlaybookCurator applies operations and guidance to the playbook.
type PlaybookCurator interface {
	ApplyOperations(ctx context.Context, ops []curator.Operation) (curator.ApplyReport, error)
	Teach(ctx context.Context, section playbook.Section, guidance string) (curator.ApplyReport, error)
}

// Services are the components behind the API.
type Services struct {
	Runner    Runner
	Playbooks assembler.PlaybookSource
	Curator   PlaybookCurator
	Scrubber  secrets.Scrubber
}

// Server provides HTTP endpoints for aceql.
type Server struct {
	echo     *echo.Echo
	services Services
	metrics  *HTTPMetrics
	logger   *zap.Logger
	config   *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates a new HTTP server.
func NewServer(svc Services, logger *zap.Logger, cfg *Config) (*Server, error) {
	if svc.Runner == nil || svc.Playbooks == nil || svc.Curator == nil {
		return nil, fmt.Errorf("runner, playbooks and curator are required")
	}
	if svc.Scrubber == nil {
		return nil, fmt.Errorf("scrubber cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
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

	s := &Server{
		echo:     e,
		services: svc,
		metrics:  NewHTTPMetrics(logger),
		logger:   logger,
		config:   cfg,
	}

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			requestID := c.Response().Header().Get(echo.HeaderXRequestID)
			req := c.Request()
			c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), requestID)))

			err := next(c)

			logger.Info("http request",
				zap.String("method", req.Method),
				zap.String("uri", req.RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", requestID),
			)
			return err
		}
	})
	e.Use(s.metrics.MetricsMiddleware())

	s.registerRoutes()
	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/runs", s.handleRun)
	v1.GET("/playbook", s.handleGetPlaybook)
	v1.POST("/playbook/operations", s.handleApplyOperations)
	v1.POST("/playbook/teach", s.handleTeach)
}

// Echo exposes the router so callers can mount extra routes.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleRun runs one cycle. The record is scrubbed before it leaves the
// process.
func (s *Server) handleRun(c echo.Context) error {
	var spec orchestrator.TaskSpec
	if err := c.Bind(&spec); err != nil {
		s.logger.Warn("invalid run request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := spec.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	rec := s.services.Runner.Run(c.Request().Context(), spec)
	return s.scrubbedJSON(c, http.StatusOK, rec)
}

// handleGetPlaybook returns the whole playbook, or one section with
// ?section=<name>.
func (s *Server) handleGetPlaybook(c echo.Context) error {
	pb, err := s.services.Playbooks.Load(c.Request().Context())
	if err != nil {
		s.logger.Error("loading playbook", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "playbook unavailable")
	}

	if name := c.QueryParam("section"); name != "" {
		section, err := playbook.ParseSection(name)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return c.JSON(http.StatusOK, SectionResponse{Section: section, Items: pb.Items(section)})
	}
	return c.JSON(http.StatusOK, pb)
}

// SectionResponse is the response body for GET /api/v1/playbook?section=.
type SectionResponse struct {
	Section playbook.Section `json:"section"`
	Items   []playbook.Item  `json:"items"`
}

// OperationsRequest is the request body for POST /api/v1/playbook/operations.
type OperationsRequest struct {
	Operations []curator.Operation `json:"operations"`
}

// ApplyResponse is the response body of the playbook mutation endpoints.
type ApplyResponse struct {
	Applied       []curator.Applied `json:"applied"`
	PlaybookItems int               `json:"playbook_items"`
}

func newApplyResponse(r curator.ApplyReport) ApplyResponse {
	resp := ApplyResponse{Applied: r.Applied}
	if resp.Applied == nil {
		resp.Applied = []curator.Applied{}
	}
	if r.Playbook != nil {
		resp.PlaybookItems = r.Playbook.Len()
	}
	return resp
}

// handleApplyOperations applies a batch of delta operations.
func (s *Server) handleApplyOperations(c echo.Context) error {
	var req OperationsRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid operations request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Operations) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "operations field is required")
	}

	report, err := s.services.Curator.ApplyOperations(c.Request().Context(), req.Operations)
	if err != nil {
		s.logger.Error("applying operations", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "applying operations failed")
	}
	return c.JSON(http.StatusOK, newApplyResponse(report))
}

// TeachRequest is the request body for POST /api/v1/playbook/teach.
type TeachRequest struct {
	Section  string `json:"section"`
	Guidance string `json:"guidance"`
}

// handleTeach turns user guidance into a rule.
func (s *Server) handleTeach(c echo.Context) error {
	var req TeachRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid teach request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	report, err := s.services.Curator.Teach(c.Request().Context(), playbook.Section(req.Section), req.Guidance)
	if err != nil {
		if errors.Is(err, curator.ErrInvalidOperation) || errors.Is(err, playbook.ErrUnknownSection) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		s.logger.Error("teaching", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "teaching failed")
	}
	return c.JSON(http.StatusOK, newApplyResponse(report))
}

func (s *Server) scrubbedJSON(c echo.Context, code int, v any) error {
	body, findings, err := secrets.ScrubJSON(s.services.Scrubber, v)
	if err != nil {
		s.logger.Error("encoding response", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "encoding response failed")
	}
	if findings > 0 {
		s.logger.Debug("scrubbed response", zap.Int("findings", findings))
	}
	return c.JSONBlob(code, body)
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
