// Package mlat estimates a 2D position from range estimates to fixed reference points
package mlat

import (
	"fmt"
	"math"
)

// Point2D is a position in meters
type Point2D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Pt is shorthand for Point2D{X: x, Y: y}
func Pt(x, y float64) Point2D {
	return Point2D{X: x, Y: y}
}

// Distance returns the Euclidean distance between two points
func Distance(a, b Point2D) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// IsFinite reports whether both coordinates are finite
func (p Point2D) IsFinite() bool {
	return !math.IsNaN(p.X) && !math.IsInf(p.X, 0) && !math.IsNaN(p.Y) && !math.IsInf(p.Y, 0)
}

func (p Point2D) String() string {
	return fmt.Sprintf("(%g, %g)", p.X, p.Y)
}

// ReferencePoint is an observation point with its believed range to the target
type ReferencePoint struct {
	Position Point2D `json:"position"`
	Distance float64 `json:"distance"`
}

// NewReferencePoints zips parallel coordinate and distance slices.
// Lengths must match and every distance must be a finite, non-negative number.
func NewReferencePoints(xs, ys, distances []float64) ([]ReferencePoint, error) {
	if len(xs) != len(ys) || len(xs) != len(distances) {
		return nil, &ValidationError{
			Field:  "reference_points",
			Reason: fmt.Sprintf("mismatched lengths: %d x-coords, %d y-coords, %d distances", len(xs), len(ys), len(distances)),
		}
	}

	refs := make([]ReferencePoint, len(xs))
	for i := range xs {
		refs[i] = ReferencePoint{Position: Pt(xs[i], ys[i]), Distance: distances[i]}
	}

	if err := validateReferencePoints(refs); err != nil {
		return nil, err
	}
	return refs, nil
}

func validateReferencePoints(refs []ReferencePoint) error {
	if len(refs) < 2 {
		return &ValidationError{
			Field:  "reference_points",
			Reason: fmt.Sprintf("need at least 2 reference points, got %d", len(refs)),
		}
	}

	for i, ref := range refs {
		if !ref.Position.IsFinite() {
			return &ValidationError{
				Field:  fmt.Sprintf("reference_points[%d].position", i),
				Reason: fmt.Sprintf("non-finite position %v", ref.Position),
			}
		}
		if err := checkRadius(fmt.Sprintf("reference_points[%d].distance", i), ref.Distance); err != nil {
			return err
		}
	}
	return nil
}

func checkRadius(field string, r float64) error {
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return &ValidationError{Field: field, Reason: fmt.Sprintf("non-finite distance %v", r)}
	}
	if r < 0 {
		return &ValidationError{Field: field, Reason: fmt.Sprintf("negative distance %v", r)}
	}
	return nil
}
