package mlat

import "math"

// Epsilon is the relative tolerance used to classify circle configurations.
// It is scaled by the magnitude of the inputs, see tolerance.
const Epsilon = 1e-9

// IntersectCircles returns the real intersection points of two circles.
//
// The result holds zero, one (tangent) or two points. Disjoint, nested and
// coincident circles yield an empty slice without error: under measurement
// noise these are ordinary outcomes. When two points exist the one offset
// towards the right of the c1→c2 direction comes first.
//
// Only a negative or non-finite radius is an error.
func IntersectCircles(c1 Point2D, r1 float64, c2 Point2D, r2 float64) ([]Point2D, error) {
	if err := checkRadius("r1", r1); err != nil {
		return nil, err
	}
	if err := checkRadius("r2", r2); err != nil {
		return nil, err
	}

	d := Distance(c1, c2)
	tol := tolerance(c1, r1, c2, r2)

	// Concentric: either coincident (infinitely many points) or nested
	if d < tol {
		return nil, nil
	}
	if d > r1+r2+tol || d < math.Abs(r1-r2)-tol {
		return nil, nil
	}

	a := (d*d + r1*r1 - r2*r2) / (2 * d)
	h2 := r1*r1 - a*a

	// h2 carries units of m², so its tolerance scales once more
	h2tol := tol * math.Max(1, math.Max(r1, r2))
	if h2 < -h2tol {
		return nil, nil
	}

	ux := (c2.X - c1.X) / d
	uy := (c2.Y - c1.Y) / d
	base := Pt(c1.X+a*ux, c1.Y+a*uy)

	if h2 <= h2tol {
		return []Point2D{base}, nil
	}

	h := math.Sqrt(h2)
	return []Point2D{
		Pt(base.X+h*uy, base.Y-h*ux),
		Pt(base.X-h*uy, base.Y+h*ux),
	}, nil
}

func tolerance(c1 Point2D, r1 float64, c2 Point2D, r2 float64) float64 {
	scale := 1.0
	for _, v := range [...]float64{c1.X, c1.Y, c2.X, c2.Y, r1, r2} {
		scale = math.Max(scale, math.Abs(v))
	}
	return Epsilon * scale
}
