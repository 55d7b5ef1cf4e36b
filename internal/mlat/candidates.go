package mlat

// Candidate is one real intersection of the circles around reference points I and J
type Candidate struct {
	Point Point2D `json:"point"`
	I     int     `json:"i"`
	J     int     `json:"j"`
}

// PairCount returns C(n, 2)
func PairCount(n int) int {
	if n < 2 {
		return 0
	}
	return n * (n - 1) / 2
}

// GenerateCandidates intersects every unordered pair of reference circles.
//
// Pairs are visited in ascending (i, j) order and each contributes its points
// in IntersectCircles order, so identical input always yields identical output.
func GenerateCandidates(refs []ReferencePoint) ([]Candidate, error) {
	if err := validateReferencePoints(refs); err != nil {
		return nil, err
	}

	candidates := make([]Candidate, 0, 2*PairCount(len(refs)))
	for i := 0; i < len(refs); i++ {
		for j := i + 1; j < len(refs); j++ {
			points, err := IntersectCircles(refs[i].Position, refs[i].Distance, refs[j].Position, refs[j].Distance)
			if err != nil {
				return nil, err
			}
			for _, p := range points {
				candidates = append(candidates, Candidate{Point: p, I: i, J: j})
			}
		}
	}

	return candidates, nil
}

// Points strips the pair tags
func Points(candidates []Candidate) []Point2D {
	points := make([]Point2D, len(candidates))
	for i, c := range candidates {
		points[i] = c.Point
	}
	return points
}
