package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/medreport-mcp-server/internal/domain"
	"github.com/medreport-mcp-server/internal/middleware"
	"github.com/medreport-mcp-server/internal/service"
)

const shutdownTimeout = 30 * time.Second

// HealthCheck checks one dependency for GET /health.
type HealthCheck func(ctx context.Context) error

// Server represents the HTTP server
type Server struct {
	config  domain.ServerConfig
	service *service.AnalysisService
	logger  *logrus.Logger
	checks  map[string]HealthCheck
	router  *gin.Engine
	server  *http.Server
	started time.Time
}

// NewServer creates a new HTTP server instance
func NewServer(cfg domain.ServerConfig, svc *service.AnalysisService, logger *logrus.Logger) *Server {
	router := gin.New()

	limiter := middleware.NewClientRateLimiter(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimit,
		Burst:             cfg.RateBurst,
	}, logger)

	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.AuditLogger(logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORS(cfg.AllowedOrigins))
	router.Use(limiter.Middleware())
	router.Use(middleware.BodyLimit(cfg.MaxBodyBytes))

	s := &Server{
		config:  cfg,
		service: svc,
		logger:  logger,
		checks:  make(map[string]HealthCheck),
		router:  router,
		started: time.Now(),
	}
	s.setupRoutes()
	return s
}

// AddHealthCheck registers a named dependency check.
func (s *Server) AddHealthCheck(name string, check HealthCheck) {
	s.checks[name] = check
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/analyze", s.handleAnalyze)
		v1.POST("/similar-cases", s.handleSimilarCases)
		v1.GET("/analyses", s.handleListAnalyses)
		v1.GET("/analyses/:id", s.handleGetAnalysis)
		v1.GET("/analyses/:id/report", s.handleRenderReport)
		v1.GET("/export", s.handleExport)
		v1.GET("/profiles", s.handleProfiles)
	}
}

// handleHealth reports liveness plus the state of registered dependencies.
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := "healthy"
	code := http.StatusOK
	checks := make(map[string]string, len(names))
	for _, name := range names {
		if err := s.checks[name](ctx); err != nil {
			checks[name] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	c.JSON(code, gin.H{
		"status":           status,
		"timestamp":        time.Now().UTC(),
		"uptime":           time.Since(s.started).Round(time.Second).String(),
		"pipeline_version": s.service.Version(),
		"checks":           checks,
	})
}
