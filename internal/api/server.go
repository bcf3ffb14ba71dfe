package api

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/basekick-labs/transcoder/internal/logger"
	"github.com/basekick-labs/transcoder/internal/metrics"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"
)

// ReadinessCheck reports why the process cannot take work, or nil when it can
type ReadinessCheck func(ctx context.Context) error

// Server is the status API of `transcoder serve`
type Server struct {
	app     *fiber.App
	logger  zerolog.Logger
	addr    string
	started time.Time

	mu     sync.RWMutex
	checks map[string]ReadinessCheck
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:         "127.0.0.1",
		Port:         8090,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

func NewServer(cfg *ServerConfig, logger zerolog.Logger) *Server {
	if cfg == nil {
		cfg = DefaultServerConfig()
	}
	s := &Server{
		logger:  logger.With().Str("component", "api-server").Logger(),
		addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		started: time.Now(),
		checks:  make(map[string]ReadinessCheck),
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "transcoder",
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		IdleTimeout:           cfg.IdleTimeout,
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
	s.app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	s.app.Use(apiHeaders)
	s.app.Use(s.observe)

	return s
}

// AddReadinessCheck registers a named check consulted by /ready
func (s *Server) AddReadinessCheck(name string, check ReadinessCheck) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = check
}

func (s *Server) RegisterRoutes() {
	s.app.Get("/health", s.health)
	s.app.Get("/ready", s.ready)
	s.app.Get("/metrics", s.prometheus)
	s.app.Get("/api/v1/metrics", s.metricsJSON)
	s.app.Get("/api/v1/logs", s.recentLogs)
}

// GetApp exposes the fiber app so other handlers can register routes
func (s *Server) GetApp() *fiber.App {
	return s.app
}

func (s *Server) health(c *fiber.Ctx) error {
	uptime := time.Since(s.started)
	return c.JSON(fiber.Map{
		"status":     "ok",
		"time":       time.Now().UTC().Format(time.RFC3339),
		"uptime":     uptime.Round(time.Second).String(),
		"uptime_sec": uptime.Seconds(),
	})
}

// ready answers 503 with the failing checks until every check passes
func (s *Server) ready(c *fiber.Ctx) error {
	s.mu.RLock()
	checks := make(map[string]ReadinessCheck, len(s.checks))
	for name, check := range s.checks {
		checks[name] = check
	}
	s.mu.RUnlock()

	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	failed := fiber.Map{}
	for name, check := range checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "not_ready",
			"failed": failed,
		})
	}
	return c.JSON(fiber.Map{"status": "ready", "checks": len(checks)})
}

// prometheus serves the text exposition format, or the JSON snapshot when
// the client asks for application/json
func (s *Server) prometheus(c *fiber.Ctx) error {
	if c.Get(fiber.HeaderAccept) == fiber.MIMEApplicationJSON {
		return c.JSON(metrics.Get().Snapshot())
	}
	c.Set(fiber.HeaderContentType, "text/plain; version=0.0.4; charset=utf-8")
	return c.SendString(metrics.Get().PrometheusFormat())
}

func (s *Server) metricsJSON(c *fiber.Ctx) error {
	snapshot := metrics.Get().Snapshot()
	snapshot["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return c.JSON(snapshot)
}

// recentLogs serves the in-process log ring, newest first.
// Query: limit (1..1000, default 100), level (minimum), run_id.
func (s *Server) recentLogs(c *fiber.Ctx) error {
	q := logger.Query{
		Limit: 100,
		Level: c.Query("level"),
		RunID: c.Query("run_id"),
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			return fiber.NewError(fiber.StatusBadRequest, "limit must be between 1 and 1000")
		}
		q.Limit = n
	}

	entries := logger.Recent().Get(q)
	return c.JSON(fiber.Map{
		"count":  len(entries),
		"limit":  q.Limit,
		"level":  q.Level,
		"run_id": q.RunID,
		"logs":   entries,
	})
}

// Start listens in the background. A listen failure is delivered on the
// returned channel, which is closed once the listener stops.
func (s *Server) Start() <-chan error {
	s.logger.Info().Str("addr", s.addr).Msg("Starting HTTP server")

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := s.app.Listen(s.addr); err != nil {
			errCh <- err
		}
	}()
	return errCh
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.app.ShutdownWithContext(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info().Msg("HTTP server stopped")
	return nil
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}
	if code >= fiber.StatusInternalServerError {
		s.logger.Error().Err(err).Str("method", c.Method()).Str("path", c.Path()).Msg("Request failed")
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

func apiHeaders(c *fiber.Ctx) error {
	c.Set("X-Frame-Options", "DENY")
	c.Set("X-Content-Type-Options", "nosniff")
	c.Set("Referrer-Policy", "no-referrer")
	c.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
	return c.Next()
}

// observe feeds the HTTP metrics and logs failed requests
func (s *Server) observe(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	elapsed := time.Since(start)

	status := c.Response().StatusCode()
	if fe, ok := err.(*fiber.Error); ok {
		// the error handler has not written the response yet
		status = fe.Code
	}

	m := metrics.Get()
	m.IncHTTPRequests()
	m.RecordHTTPLatency(elapsed.Microseconds())
	if status >= fiber.StatusBadRequest {
		m.IncHTTPError()
		s.logger.Warn().
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", status).
			Dur("duration", elapsed).
			Msg("HTTP request error")
	} else {
		m.IncHTTPSuccess()
	}
	return err
}
