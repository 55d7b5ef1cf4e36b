package mlat

import (
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"
)

// DefaultTrimFraction drops the lowest and highest quarter of each axis
const DefaultTrimFraction = 0.25

// Aggregation is the reduced position plus how it was obtained
type Aggregation struct {
	Position Point2D `json:"position"`
	// Kept is the number of values averaged per axis
	Kept int `json:"kept"`
	// Fallback is set when trimming would have removed every value and
	// the untrimmed mean was used instead
	Fallback bool `json:"fallback"`
}

// Aggregate reduces candidate points to one position with a symmetric trimmed mean.
//
// x and y are sorted and trimmed independently, so a point rejected on one axis
// may still contribute on the other. floor(n*trimFraction) values are dropped
// from each end of each axis.
func Aggregate(points []Point2D, trimFraction float64) (Aggregation, error) {
	if err := ValidateTrimFraction(trimFraction); err != nil {
		return Aggregation{}, err
	}
	if len(points) == 0 {
		return Aggregation{}, &NoCandidatesError{}
	}

	xs := make([]float64, len(points))
	ys := make([]float64, len(points))
	for i, p := range points {
		xs[i] = p.X
		ys[i] = p.Y
	}
	slices.Sort(xs)
	slices.Sort(ys)

	n := len(points)
	k := int(math.Floor(float64(n) * trimFraction))
	if n-2*k <= 0 {
		return Aggregation{
			Position: Pt(stat.Mean(xs, nil), stat.Mean(ys, nil)),
			Kept:     n,
			Fallback: true,
		}, nil
	}

	return Aggregation{
		Position: Pt(stat.Mean(xs[k:n-k], nil), stat.Mean(ys[k:n-k], nil)),
		Kept:     n - 2*k,
	}, nil
}

// ValidateTrimFraction checks that f lies in [0, 1)
func ValidateTrimFraction(f float64) error {
	if math.IsNaN(f) || f < 0 || f >= 1 {
		return &ValidationError{
			Field:  "trim_fraction",
			Reason: fmt.Sprintf("must be in [0, 1), got %v", f),
		}
	}
	return nil
}
