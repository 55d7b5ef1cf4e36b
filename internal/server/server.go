// Package server provides the HTTP server for go-mlat
package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teslashibe/go-mlat/internal/config"
	"github.com/teslashibe/go-mlat/internal/health"
	"github.com/teslashibe/go-mlat/internal/tracker"
)

// Server is the HTTP server for go-mlat
type Server struct {
	app       *fiber.App
	cfg       *config.Config
	tracker   *tracker.Tracker
	checker   *health.Checker
	metrics   *Metrics
	logger    *slog.Logger
	wsHub     *WSHub
	startTime time.Time
	version   string
}

// New creates a new HTTP server. trk may be nil, in which case only the stateless
// estimation endpoints are useful. A nil checker gets a fresh one.
func New(cfg *config.Config, trk *tracker.Tracker, checker *health.Checker, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if checker == nil {
		checker = health.NewChecker(version)
	}

	app := fiber.New(fiber.Config{
		AppName:               "go-mlat",
		DisableStartupMessage: true,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
	})

	s := &Server{
		app:       app,
		cfg:       cfg,
		tracker:   trk,
		checker:   checker,
		logger:    logger,
		wsHub:     NewWSHub(trk, logger),
		startTime: time.Now(),
		version:   version,
	}
	s.metrics = NewMetrics(trk, s.wsHub, s.startTime)

	if trk != nil {
		registerTrackerProbes(checker, trk)
	}

	// Middleware
	app.Use(recover.New())
	app.Use(cors.New())
	app.Use(LoggingMiddleware(logger))
	app.Use(MetricsMiddleware(s.metrics))

	// Register routes
	s.registerRoutes()

	return s
}

func registerTrackerProbes(checker *health.Checker, trk *tracker.Tracker) {
	checker.Register("source", true, func() (bool, string) {
		stats := trk.Stats()
		return stats.SourceHealthy, stats.SourceName
	})
	checker.Register("tracker", false, func() (bool, string) {
		stats := trk.Stats()
		if stats.PollCount == 0 || stats.HasFix {
			return true, fmt.Sprintf("%d polls", stats.PollCount)
		}
		return false, stats.LastError
	})
}

// registerRoutes sets up all API routes
func (s *Server) registerRoutes() {
	// Health check
	s.app.Get("/health", s.healthHandler)

	// Metrics endpoint
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})))

	api := s.app.Group("/api")

	// Live tracking
	api.Get("/position", s.positionHandler)
	api.Get("/position/stream", s.wsHub.UpgradeHandler())
	api.Get("/history", s.historyHandler)

	// Stateless estimation
	api.Post("/estimate", s.estimateHandler)
	api.Post("/distance", s.distanceHandler)
	api.Post("/simulate", s.simulateHandler)

	// Config endpoint
	api.Get("/config", s.configHandler)
	api.Patch("/config", s.updateConfigHandler)

	// Stats endpoint
	api.Get("/stats", s.statsHandler)
}

// healthHandler returns service health
func (s *Server) healthHandler(c *fiber.Ctx) error {
	status := s.checker.GetStatus()

	code := fiber.StatusOK
	if status.Status == "unhealthy" {
		code = fiber.StatusServiceUnavailable
	}

	return c.Status(code).JSON(status)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server",
		"port", s.cfg.Server.Port,
	)

	return s.app.Listen(fmt.Sprintf(":%d", s.cfg.Server.Port))
}

// WSHub returns the WebSocket hub for external control
func (s *Server) WSHub() *WSHub {
	return s.wsHub
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Close WebSocket hub
	s.wsHub.Close()

	// Shutdown Fiber with timeout from context
	done := make(chan error, 1)
	go func() {
		done <- s.app.Shutdown()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
