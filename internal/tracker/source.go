// Package tracker turns a stream of range observations into smoothed position fixes
package tracker

import (
	"context"
	"time"

	"github.com/teslashibe/go-mlat/internal/mlat"
)

// Observation is one snapshot of ranges from every observation point
type Observation struct {
	ReferencePoints []mlat.ReferencePoint `json:"reference_points"`
	ReceivedPowers  []float64             `json:"received_powers_dbm,omitempty"` // Raw RSS behind each range (if available)
	Truth           *mlat.Point2D         `json:"truth,omitempty"`               // Known transmitter position (simulation only)
	Timestamp       time.Time             `json:"timestamp"`                     // When the snapshot was taken
	LatencyMs       int64                 `json:"latency_ms"`                    // Time spent acquiring it
}

// Source provides range observations
type Source interface {
	// Observe returns the current ranges
	Observe(ctx context.Context) (Observation, error)

	// Close releases resources
	Close() error

	// Healthy returns true if the source is operational
	Healthy() bool

	// Name returns the source type name
	Name() string
}

// Clamp clamps a value to [min, max]
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// Lerp moves from prev towards next by alpha
func Lerp(prev, next mlat.Point2D, alpha float64) mlat.Point2D {
	return mlat.Pt(
		alpha*next.X+(1-alpha)*prev.X,
		alpha*next.Y+(1-alpha)*prev.Y,
	)
}
