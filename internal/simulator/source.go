// Package simulator provides a synthetic range source: a transmitter moving through
// a field of observation points, heard through the Friis model with optional noise
package simulator

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/teslashibe/go-mlat/internal/harness"
	"github.com/teslashibe/go-mlat/internal/mlat"
	"github.com/teslashibe/go-mlat/internal/pathloss"
	"github.com/teslashibe/go-mlat/internal/tracker"
)

// Motion moves the transmitter on a circle around Center.
// A zero Radius or Period keeps it at Center.
type Motion struct {
	Center mlat.Point2D
	Radius float64
	Period time.Duration
}

// PositionAt returns the transmitter position after elapsed time
func (m Motion) PositionAt(elapsed time.Duration) mlat.Point2D {
	if m.Radius == 0 || m.Period <= 0 {
		return m.Center
	}
	phase := 2 * math.Pi * elapsed.Seconds() / m.Period.Seconds()
	return mlat.Pt(m.Center.X+m.Radius*math.Cos(phase), m.Center.Y+m.Radius*math.Sin(phase))
}

// Config describes the simulated scene
type Config struct {
	Scenario    harness.Scenario // Observers and link; Transmitter is ignored in favour of Motion
	Motion      Motion
	NoiseStdDev float64 // dB
	Seed        uint64
}

// Source simulates range observations
type Source struct {
	mu        sync.Mutex
	cfg       Config
	noise     pathloss.Noise
	healthy   bool
	startTime time.Time
	now       func() time.Time
}

var _ tracker.Source = (*Source)(nil)

// NewSource creates a simulated source
func NewSource(cfg Config) (*Source, error) {
	s := cfg.Scenario
	s.Transmitter = cfg.Motion.Center
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("simulated scene: %w", err)
	}

	return &Source{
		cfg:       cfg,
		noise:     pathloss.NewGaussian(cfg.NoiseStdDev, cfg.Seed),
		healthy:   true,
		startTime: time.Now(),
		now:       time.Now,
	}, nil
}

// Observe returns the current ranges from every observer
func (s *Source) Observe(ctx context.Context) (tracker.Observation, error) {
	if err := ctx.Err(); err != nil {
		return tracker.Observation{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	scenario := s.cfg.Scenario
	scenario.Transmitter = s.cfg.Motion.PositionAt(now.Sub(s.startTime))

	refs, powers, err := scenario.Measure(s.noise)
	if err != nil {
		return tracker.Observation{}, err
	}

	truth := scenario.Transmitter
	return tracker.Observation{
		ReferencePoints: refs,
		ReceivedPowers:  powers,
		Truth:           &truth,
		Timestamp:       now,
	}, nil
}

// Close releases resources
func (s *Source) Close() error {
	return nil
}

// Healthy returns true if the source is operational
func (s *Source) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.healthy
}

// Name returns the source type name
func (s *Source) Name() string {
	return "simulated"
}

// SetHealthy sets the reported health state
func (s *Source) SetHealthy(healthy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthy = healthy
}

// SetMotion replaces the transmitter trajectory and restarts its clock
func (s *Source) SetMotion(m Motion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Motion = m
	s.startTime = s.now()
}
