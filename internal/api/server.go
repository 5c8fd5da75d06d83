// Package api wires the HTTP surface: the chat page, the JSON API, the
// feedback websocket and metrics.
package api

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/ragscope/backend/internal/api/handlers"
	"github.com/ragscope/backend/internal/metrics"
	"github.com/ragscope/backend/internal/middleware/ratelimit"
	"github.com/ragscope/backend/internal/middleware/security"
	"github.com/ragscope/backend/internal/middleware/validation"
	"github.com/ragscope/backend/pkg/config"
	"github.com/ragscope/backend/pkg/logger"
)

type Deps struct {
	Apps          handlers.Apps
	Store         handlers.RecordStore
	Hub           handlers.FeedbackHub
	FeedbackNames []string
	Checks        map[string]handlers.Check
	// StreamTimeout bounds how long a feedback websocket waits.
	StreamTimeout time.Duration
	// AccessLog enables per-request logging.
	AccessLog bool
}

type Server struct {
	app     *fiber.App
	limiter *ratelimit.RateLimiter
}

func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	app := fiber.New(fiber.Config{
		ReadTimeout:           time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout:          time.Duration(cfg.WriteTimeout) * time.Second,
		BodyLimit:             cfg.BodyLimit,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	if deps.AccessLog {
		app.Use(fiberlogger.New())
	}
	if len(cfg.AllowedOrigins) > 0 {
		app.Use(cors.New(cors.Config{
			AllowOrigins: strings.Join(cfg.AllowedOrigins, ","),
			AllowHeaders: "Origin, Content-Type, Accept",
			AllowMethods: "GET, POST, OPTIONS",
		}))
	}
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		IsDevelopment:  cfg.Development,
	}))

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.MaxRequestsPerMinute,
		Logger:               logger.GetLogger(),
	})
	validate := validation.Middleware(validation.Config{
		MaxQueryLength: cfg.MaxQueryLength,
		Logger:         logger.GetLogger(),
	})

	uiHandler := handlers.NewUIHandler(deps.Apps, deps.Store, deps.FeedbackNames)
	queryHandler := handlers.NewQueryHandler(deps.Apps)
	recordsHandler := handlers.NewRecordsHandler(deps.Store)
	healthHandler := handlers.NewHealthHandler(deps.Checks)
	wsHandler := handlers.NewWebSocketHandler(deps.Store, deps.Hub, deps.FeedbackNames, deps.StreamTimeout)

	app.Get("/", uiHandler.Index)
	app.Post("/", limiter.Middleware(), validate, uiHandler.Submit)

	api := app.Group("/api/v1")

	api.Post("/query", limiter.Middleware(), validate, queryHandler.HandleQuery)
	api.Get("/records", recordsHandler.ListRecords)
	api.Get("/records/:id", recordsHandler.GetRecord)
	api.Get("/records/:id/feedback", recordsHandler.GetFeedback)
	api.Get("/leaderboard", recordsHandler.Leaderboard)
	api.Get("/health", healthHandler.Health)
	api.Get("/ready", healthHandler.Ready)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/records/:id/feedback", websocket.New(wsHandler.HandleFeedback))

	app.Get("/metrics", metrics.MetricsHandler())

	return &Server{app: app, limiter: limiter}
}

func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

func (s *Server) Shutdown() error {
	s.limiter.Stop()
	return s.app.Shutdown()
}
