// Package server is the HTTP and websocket boundary of the bridge: a
// Fiber app exposing the REST surface, the realtime channel and the
// Prometheus endpoint.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/bridge/internal/collab"
	"github.com/p-blackswan/bridge/internal/config"
	perrors "github.com/p-blackswan/bridge/internal/errors"
	"github.com/p-blackswan/bridge/internal/hub"
	"github.com/p-blackswan/bridge/internal/message"
	"github.com/p-blackswan/bridge/internal/metrics"
	"github.com/p-blackswan/bridge/internal/requestid"
	"github.com/p-blackswan/bridge/internal/snapshot"
	"github.com/p-blackswan/bridge/internal/task"
)

// Deps bundles the server's collaborators.
type Deps struct {
	Config     config.Config
	Aggregator *snapshot.Aggregator
	Tasks      *task.Store
	Messages   *message.Store
	Hub        *hub.Hub
	Status     *collab.StatusReader
	Metrics    *metrics.Metrics
	Roster     snapshot.Roster
}

// Server is the bridge Fiber application.
type Server struct {
	app    *fiber.App
	deps   Deps
	logger zerolog.Logger
}

// New creates and configures the boundary server.
func New(deps Deps, logger zerolog.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler(logger),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		ReadBufferSize:        8192,
		WriteBufferSize:       8192,
	})

	s := &Server{
		app:    app,
		deps:   deps,
		logger: logger.With().Str("component", "server").Logger(),
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	// Request ID middleware
	s.app.Use(func(c *fiber.Ctx) error {
		_, reqID := requestid.New(c.Context())
		c.Set("X-Request-ID", reqID)
		c.Locals("request_id", reqID)
		return c.Next()
	})

	// The dashboard is served from anywhere; the API is wide open.
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, X-Request-ID",
		AllowMethods: "GET, POST, PATCH, DELETE, OPTIONS",
	}))

	// Audit middleware (log every request)
	s.app.Use(func(c *fiber.Ctx) error {
		path := c.Path()
		// Skip noisy probe logging
		if path == "/health" || path == "/metrics" {
			return c.Next()
		}

		reqID, _ := c.Locals("request_id").(string)
		s.logger.Info().
			Str("method", c.Method()).
			Str("path", path).
			Str("ip", c.IP()).
			Str("request_id", requestid.Short(reqID)).
			Msg("api request")

		err := c.Next()
		if s.deps.Metrics != nil {
			s.deps.Metrics.RecordRequest(c.Method(), strconv.Itoa(c.Response().StatusCode()))
		}
		return err
	})
}

func (s *Server) setupRoutes() {
	s.app.Get("/health", s.Health)
	if s.deps.Metrics != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(s.deps.Metrics.Handler()))
	}

	s.app.Get("/api/data", s.GetData)

	// Task board
	s.app.Get("/api/tasks", s.ListTasks)
	s.app.Post("/api/tasks", s.CreateTask)
	s.app.Get("/api/tasks/stats", s.TaskStats)
	s.app.Post("/api/tasks/archive", s.ArchiveTasks)
	s.app.Patch("/api/tasks/:id", s.UpdateTask)
	s.app.Delete("/api/tasks/:id", s.DeleteTask)
	s.app.Post("/api/tasks/:id/comments", s.AddComment)
	s.app.Post("/api/tasks/:id/logs", s.AddTaskLog)

	// Messages
	s.app.Get("/api/messages", s.ListMessages)
	s.app.Post("/api/messages", s.CreateMessage)
	s.app.Get("/api/messages/counts", s.MessageCounts)
	s.app.Patch("/api/messages/:id", s.UpdateMessage)
	s.app.Delete("/api/messages/:id", s.DeleteMessage)
	s.app.Post("/api/messages/:id/reply", s.ReplyMessage)
	s.app.Post("/api/messages/:id/create-task", s.CreateTaskFromMessage)

	// Read-only collaborator proxies
	s.app.Get("/api/sessions", s.GetSessions)
	s.app.Get("/api/cron", s.GetCron)
	s.app.Get("/api/checkpoints", s.GetCheckpoints)
	s.app.Get("/api/weather", s.GetWeather)
	s.app.Get("/api/stall", s.statusProxy("stall"))
	s.app.Get("/api/work-loop", s.statusProxy("work-loop"))
	s.app.Get("/api/git-locks", s.statusProxy("git-locks"))
	s.app.Get("/api/meta-learning", s.statusProxy("meta-learning"))

	s.setupWebsocket()
}

// Start starts the server. Blocks until stopped.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.deps.Config.Port)
	s.logger.Info().Str("addr", addr).Msg("bridge server starting")
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("bridge server shutting down")
	return s.app.Shutdown()
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}

// respondError maps domain errors onto the wire contract: a JSON body
// with a single error string and the matching status code.
func respondError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	switch {
	case perrors.IsNotFound(err):
		code = fiber.StatusNotFound
	case perrors.IsValidation(err):
		code = fiber.StatusBadRequest
	case perrors.IsPersistBlocked(err):
		code = fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

func badJSON(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid JSON"})
}

func errorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
		}

		logger.Error().
			Err(err).
			Int("status", code).
			Str("path", c.Path()).
			Str("method", c.Method()).
			Msg("unhandled error")

		msg := err.Error()
		if code == fiber.StatusInternalServerError {
			msg = "internal error"
		}
		return c.Status(code).JSON(fiber.Map{"error": msg})
	}
}
