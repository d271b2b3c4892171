// Package server exposes the HTTP API: project browsing, ask execution with
// SSE streaming, and the staged-write approval lifecycle.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/atelier-ai/atelier/internal/apperr"
	"github.com/atelier-ai/atelier/internal/audit"
	"github.com/atelier-ai/atelier/internal/browse"
	"github.com/atelier-ai/atelier/internal/dispatch"
	"github.com/atelier-ai/atelier/internal/health"
	"github.com/atelier-ai/atelier/internal/metrics"
	"github.com/atelier-ai/atelier/internal/requestid"
	"github.com/atelier-ai/atelier/internal/staging"
	"github.com/atelier-ai/atelier/internal/workspace"
)

// Config holds server configuration.
type Config struct {
	CORSOrigins        string
	AuthMode           string // "none" or "api-key"
	APIKey             string
	GenerationTimeout  time.Duration
	StreamPingInterval time.Duration
}

// Server is the API Fiber application.
type Server struct {
	app        *fiber.App
	projects   *workspace.Registry
	browser    *browse.Browser
	staging    *staging.Store
	dispatcher *dispatch.Dispatcher
	audit      *audit.Store
	checker    *health.Checker
	metrics    *metrics.Metrics
	config     Config
	logger     zerolog.Logger
}

// New creates and configures the API server. audit may be nil.
func New(
	cfg Config,
	projects *workspace.Registry,
	browser *browse.Browser,
	st *staging.Store,
	dispatcher *dispatch.Dispatcher,
	auditStore *audit.Store,
	checker *health.Checker,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler(logger),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		ReadBufferSize:        8192,
		WriteBufferSize:       8192,
	})

	s := &Server{
		app:        app,
		projects:   projects,
		browser:    browser,
		staging:    st,
		dispatcher: dispatcher,
		audit:      auditStore,
		checker:    checker,
		metrics:    m,
		config:     cfg,
		logger:     logger.With().Str("component", "server").Logger(),
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	// Request ID
	s.app.Use(func(c *fiber.Ctx) error {
		id := requestid.New()
		c.Set("X-Request-ID", id)
		c.Locals("request_id", id)
		c.SetUserContext(requestid.WithContext(c.UserContext(), id))
		return c.Next()
	})

	if s.config.CORSOrigins != "" {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins: s.config.CORSOrigins,
			AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
			AllowMethods: "GET, POST, DELETE, OPTIONS",
		}))
	}

	s.app.Use(newAuthMiddleware(s.config, s.logger))

	// Request log, skipping probe noise
	s.app.Use(func(c *fiber.Ctx) error {
		path := c.Path()
		if path == "/healthz" || path == "/readyz" {
			return c.Next()
		}
		s.logger.Info().
			Str("method", c.Method()).
			Str("path", path).
			Str("ip", c.IP()).
			Str("request_id", c.Locals("request_id").(string)).
			Msg("api request")
		return c.Next()
	})
}

func (s *Server) setupRoutes() {
	s.app.Get("/healthz", s.liveness)
	s.app.Get("/readyz", s.readiness)

	v1 := s.app.Group("/api/v1")

	v1.Get("/projects", s.listProjects)
	v1.Get("/projects/:id", s.getProject)
	v1.Get("/projects/:id/fs", s.listFS)
	v1.Get("/projects/:id/search", s.search)
	v1.Get("/projects/:id/file", s.readFile)

	v1.Post("/projects/:id/ask", s.ask)
	v1.Post("/projects/:id/ask/stream", s.askStream)

	v1.Get("/projects/:id/staged", s.listStaged)
	v1.Get("/projects/:id/diff", s.diff)
	v1.Post("/projects/:id/promote", s.promote)
	v1.Delete("/projects/:id/staged", s.reject)
	v1.Get("/projects/:id/history", s.history)
}

// App exposes the fiber app for testing.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen starts serving on addr, blocking until shutdown.
func (s *Server) Listen(addr string) error {
	s.logger.Info().Str("addr", addr).Msg("api server listening")
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(timeout time.Duration) error {
	return s.app.ShutdownWithTimeout(timeout)
}

// project resolves the :id path parameter.
func (s *Server) project(c *fiber.Ctx) (*workspace.Project, error) {
	id := c.Params("id")
	p, ok := s.projects.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: project %s", apperr.ErrNotFound, id)
	}
	return p, nil
}

// statusFor maps error kinds onto HTTP status codes.
func statusFor(kind string) int {
	switch kind {
	case "path_escape", "invalid_input":
		return fiber.StatusBadRequest
	case "missing_input":
		return fiber.StatusUnprocessableEntity
	case "not_staged", "not_found":
		return fiber.StatusNotFound
	case "already_exists":
		return fiber.StatusConflict
	case "generation_failure":
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

func errorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		kind := apperr.Kind(err)
		code := statusFor(kind)

		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
			kind = "http_error"
		}

		if code >= fiber.StatusInternalServerError {
			logger.Error().Err(err).Int("status", code).Str("path", c.Path()).Msg("request failed")
		} else {
			logger.Debug().Err(err).Int("status", code).Str("path", c.Path()).Msg("request rejected")
		}

		detail := err.Error()
		if code == fiber.StatusInternalServerError {
			detail = "internal server error"
		}

		return c.Status(code).JSON(ProblemDetail{
			Type:     kind,
			Title:    fiber.NewError(code).Message,
			Status:   code,
			Detail:   detail,
			Instance: c.Path(),
		})
	}
}
