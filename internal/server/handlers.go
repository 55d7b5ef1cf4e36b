package server

import (
	"errors"
	"math"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-mlat/internal/harness"
	"github.com/teslashibe/go-mlat/internal/mlat"
	"github.com/teslashibe/go-mlat/internal/pathloss"
	"github.com/teslashibe/go-mlat/internal/protocol"
)

const (
	outcomeOK           = "ok"
	outcomeFallback     = "fallback"
	outcomeInvalid      = "invalid"
	outcomeNoCandidates = "no_candidates"
	outcomeError        = "error"
)

// estimateRequest carries parallel coordinate and range slices
type estimateRequest struct {
	X            []float64 `json:"x"`
	Y            []float64 `json:"y"`
	R            []float64 `json:"r"`
	TrimFraction *float64  `json:"trim_fraction,omitempty"`
	Disambiguate *bool     `json:"disambiguate,omitempty"`
}

type distanceRequest struct {
	pathloss.Link
	ReceivedPower float64 `json:"received_power_dbm"`
}

type distanceResponse struct {
	Distance float64 `json:"distance_m"`
	PathLoss float64 `json:"path_loss_db"`
}

type simulateRequest struct {
	harness.Scenario
	NoiseStdDev  float64  `json:"noise_stddev_db"`
	Seed         uint64   `json:"seed"`
	TrimFraction *float64 `json:"trim_fraction,omitempty"`
	Disambiguate *bool    `json:"disambiguate,omitempty"`
}

// errorResponse is returned for every non-2xx API response. Result holds the
// partial estimate when no candidates were found.
type errorResponse struct {
	Error  string      `json:"error"`
	Field  string      `json:"field,omitempty"`
	Result interface{} `json:"result,omitempty"`
}

// positionHandler returns the latest tracker fix
func (s *Server) positionHandler(c *fiber.Ctx) error {
	if s.tracker == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(errorResponse{
			Error: "position tracker not available",
		})
	}

	return c.JSON(s.tracker.GetLatest())
}

// historyHandler returns retained fixes, optionally only the last ?limit=N
func (s *Server) historyHandler(c *fiber.Ctx) error {
	if s.tracker == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(errorResponse{
			Error: "position tracker not available",
		})
	}

	history := s.tracker.History()
	if limit := c.QueryInt("limit", 0); limit > 0 && limit < len(history) {
		history = history[len(history)-limit:]
	}

	return c.JSON(history)
}

// statsHandler returns tracker statistics
func (s *Server) statsHandler(c *fiber.Ctx) error {
	if s.tracker == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(errorResponse{
			Error: "tracker not available",
		})
	}

	return c.JSON(s.tracker.Stats())
}

// configHandler returns current configuration
func (s *Server) configHandler(c *fiber.Ctx) error {
	estimation := s.cfg.Tracker.Options()
	emaAlpha := s.cfg.Tracker.EMAAlpha
	if s.tracker != nil {
		estimation = s.tracker.Options()
		emaAlpha = s.tracker.EMAAlpha()
	}

	return c.JSON(fiber.Map{
		"server": fiber.Map{
			"port":             s.cfg.Server.Port,
			"read_timeout_ms":  s.cfg.Server.ReadTimeout.Milliseconds(),
			"write_timeout_ms": s.cfg.Server.WriteTimeout.Milliseconds(),
		},
		"tracker": fiber.Map{
			"poll_hz":       s.cfg.Tracker.PollHz,
			"ema_alpha":     emaAlpha,
			"history_size":  s.cfg.Tracker.HistorySize,
			"trim_fraction": estimation.TrimFraction,
			"disambiguate":  estimation.Disambiguate,
		},
		"scene": s.cfg.Scene.Scenario(),
	})
}

// updateConfigHandler applies a partial tuning update to the running tracker
func (s *Server) updateConfigHandler(c *fiber.Ctx) error {
	if s.tracker == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(errorResponse{
			Error: "tracker not available",
		})
	}

	var update protocol.ConfigUpdate
	if err := c.BodyParser(&update); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: err.Error()})
	}

	if err := update.Apply(s.tracker); err != nil {
		return s.writeError(c, err, nil)
	}

	return s.configHandler(c)
}

// estimateHandler runs a single estimation over posted ranges
func (s *Server) estimateHandler(c *fiber.Ctx) error {
	var req estimateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: err.Error()})
	}

	opts := s.options(req.TrimFraction, req.Disambiguate)

	refs, err := mlat.NewReferencePoints(req.X, req.Y, req.R)
	if err != nil {
		s.metrics.ObserveEstimate("estimate", outcomeInvalid, 0, 0)
		return s.writeError(c, err, nil)
	}

	start := time.Now()
	result, err := mlat.Estimate(refs, opts)
	elapsed := time.Since(start)

	s.metrics.ObserveEstimate("estimate", outcomeFor(result, err), elapsed, result.Candidates)
	if err != nil {
		return s.writeError(c, err, result)
	}

	return c.JSON(result)
}

// distanceHandler inverts the Friis model for one received power
func (s *Server) distanceHandler(c *fiber.Ctx) error {
	var req distanceRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: err.Error()})
	}

	d, err := pathloss.DistanceFromPower(req.ReceivedPower, req.Link)
	if err != nil {
		return s.writeError(c, err, nil)
	}
	if math.IsInf(d, 0) || d == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{
			Error: "received power yields no finite range",
			Field: "received_power_dbm",
		})
	}

	return c.JSON(distanceResponse{
		Distance: d,
		PathLoss: pathloss.PathLoss(req.Wavelength, d),
	})
}

// simulateHandler runs one harness scenario. Omitted fields take the configured scene.
func (s *Server) simulateHandler(c *fiber.Ctx) error {
	req := simulateRequest{
		Scenario:    s.cfg.Scene.Scenario(),
		NoiseStdDev: s.cfg.Scene.NoiseStdDevDB,
		Seed:        s.cfg.Scene.Seed,
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: err.Error()})
	}

	if req.NoiseStdDev < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{
			Error: "noise standard deviation must not be negative",
			Field: "noise_stddev_db",
		})
	}

	opts := s.options(req.TrimFraction, req.Disambiguate)
	noise := pathloss.NewGaussian(req.NoiseStdDev, req.Seed)

	out, err := harness.Run(req.Scenario, noise, opts)
	s.metrics.ObserveEstimate("simulate", outcomeFor(out.Estimate, err), out.Elapsed, out.Estimate.Candidates)
	if err != nil {
		return s.writeError(c, err, out)
	}

	return c.JSON(out)
}

// options starts from the configured estimation options and applies request overrides
func (s *Server) options(trim *float64, disambiguate *bool) mlat.Options {
	opts := s.cfg.Tracker.Options()
	if trim != nil {
		opts.TrimFraction = *trim
	}
	if disambiguate != nil {
		opts.Disambiguate = *disambiguate
	}
	return opts
}

// writeError maps domain errors to HTTP status codes
func (s *Server) writeError(c *fiber.Ctx, err error, partial interface{}) error {
	var (
		verr *mlat.ValidationError
		nerr *mlat.NoCandidatesError
	)

	switch {
	case errors.As(err, &verr):
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: err.Error(), Field: verr.Field})
	case errors.As(err, &nerr):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(errorResponse{Error: err.Error(), Result: partial})
	case errors.Is(err, pathloss.ErrInvalidLink):
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: err.Error()})
	default:
		s.logger.Error("request failed", "path", c.Path(), "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: err.Error()})
	}
}

func outcomeFor(result mlat.EstimationResult, err error) string {
	var (
		verr *mlat.ValidationError
		nerr *mlat.NoCandidatesError
	)

	switch {
	case err == nil && result.Fallback:
		return outcomeFallback
	case err == nil:
		return outcomeOK
	case errors.As(err, &verr), errors.Is(err, pathloss.ErrInvalidLink):
		return outcomeInvalid
	case errors.As(err, &nerr):
		return outcomeNoCandidates
	default:
		return outcomeError
	}
}
