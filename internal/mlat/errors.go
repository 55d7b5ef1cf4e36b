package mlat

import "fmt"

// ValidationError reports a caller contract violation detected before any geometry runs
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NoCandidatesError reports that no pair of reference circles produced a real intersection.
// It describes an unlucky measurement configuration rather than a programming error;
// callers may retry with another sample or more reference points.
type NoCandidatesError struct {
	Pairs int
}

func (e *NoCandidatesError) Error() string {
	if e.Pairs == 0 {
		return "no candidate positions to aggregate"
	}
	return fmt.Sprintf("no candidate positions: none of %d reference pairs intersect", e.Pairs)
}
