package mlat

import "math"

// Options tunes an estimation call
type Options struct {
	// TrimFraction is passed to Aggregate
	TrimFraction float64 `json:"trim_fraction"`

	// Disambiguate keeps, for each pair with two roots, only the root that
	// best agrees with the ranges of the remaining reference points.
	// It has no effect with fewer than 3 reference points.
	Disambiguate bool `json:"disambiguate"`
}

// DefaultOptions returns the options used by the daemon and CLI
func DefaultOptions() Options {
	return Options{
		TrimFraction: DefaultTrimFraction,
		Disambiguate: true,
	}
}

// EstimationResult is the outcome of one estimation call
type EstimationResult struct {
	Position Point2D `json:"position"`

	Pairs      int `json:"pairs"`
	Candidates int `json:"candidates"` // real roots considered by the aggregator
	Discarded  int `json:"discarded"`  // non-real roots, two per non-intersecting pair
	Rejected   int `json:"rejected"`   // mirror roots dropped by disambiguation
	Kept       int `json:"kept"`       // values per axis left after trimming

	Fallback  bool `json:"fallback"`  // trimmed mean degraded to the plain mean
	Ambiguous bool `json:"ambiguous"` // only two reference points were given
}

// Estimate runs validation, candidate generation and aggregation.
//
// Estimate holds no state between calls and may be called concurrently.
func Estimate(refs []ReferencePoint, opts Options) (EstimationResult, error) {
	candidates, err := GenerateCandidates(refs)
	if err != nil {
		return EstimationResult{}, err
	}

	pairs := PairCount(len(refs))
	result := EstimationResult{
		Pairs:     pairs,
		Discarded: 2 * (pairs - countIntersectingPairs(candidates)),
		Ambiguous: len(refs) == 2,
	}

	if opts.Disambiguate && len(refs) >= 3 {
		before := len(candidates)
		candidates = rejectMirrorRoots(candidates, refs)
		result.Rejected = before - len(candidates)
	}
	result.Candidates = len(candidates)

	if len(candidates) == 0 {
		return result, &NoCandidatesError{Pairs: pairs}
	}

	agg, err := Aggregate(Points(candidates), opts.TrimFraction)
	if err != nil {
		return result, err
	}

	result.Position = agg.Position
	result.Kept = agg.Kept
	result.Fallback = agg.Fallback
	return result, nil
}

func countIntersectingPairs(candidates []Candidate) int {
	count := 0
	for i, c := range candidates {
		if i == 0 || c.I != candidates[i-1].I || c.J != candidates[i-1].J {
			count++
		}
	}
	return count
}

// rejectMirrorRoots relies on GenerateCandidates emitting both roots of a pair adjacently
func rejectMirrorRoots(candidates []Candidate, refs []ReferencePoint) []Candidate {
	kept := make([]Candidate, 0, len(candidates))
	for i := 0; i < len(candidates); i++ {
		c := candidates[i]
		if i+1 < len(candidates) && candidates[i+1].I == c.I && candidates[i+1].J == c.J {
			other := candidates[i+1]
			if rangeResidual(other, refs) < rangeResidual(c, refs) {
				c = other
			}
			i++
		}
		kept = append(kept, c)
	}
	return kept
}

// rangeResidual is the Euclidean norm of range errors against the reference points outside the pair
func rangeResidual(c Candidate, refs []ReferencePoint) float64 {
	var sum float64
	for k, ref := range refs {
		if k == c.I || k == c.J {
			continue
		}
		diff := Distance(c.Point, ref.Position) - ref.Distance
		sum += diff * diff
	}
	return math.Sqrt(sum)
}
