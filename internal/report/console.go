// Package report renders harness outcomes as console text, CSV rows and scatter plots
package report

import (
	"fmt"
	"io"
	"math"

	"github.com/teslashibe/go-mlat/internal/harness"
)

// WriteSetup describes the scenario the way it will be simulated
func WriteSetup(w io.Writer, s harness.Scenario) error {
	ew := &errWriter{w: w}

	ew.printf("Running test with the following setup:\n")
	ew.printf("- Signal of wavelength %gm transmitting from (%gm, %gm) with power of %gdBm and gain of %gdBi\n",
		s.Wavelength, s.Transmitter.X, s.Transmitter.Y, s.TxPower, s.TxGain)
	for i, o := range s.Observers {
		ew.printf("- OP%d receiving signal at (%g, %g) with gain of %gdBi\n",
			i+1, o.Position.X, o.Position.Y, o.Gain)
	}
	return ew.err
}

// WriteOutcome prints the comparison between the true and estimated position
func WriteOutcome(w io.Writer, out harness.Outcome) error {
	ew := &errWriter{w: w}
	est := out.Estimate.Position

	ew.printf("Exact position:          (%sm, %sm)\n", round3(out.Exact.X), round3(out.Exact.Y))
	ew.printf("Estimated position:      (%sm, %sm)\n", round3(est.X), round3(est.Y))
	ew.printf("Estimation elapsed time: %s\n", out.Elapsed)
	ew.printf("Percent difference:      (%s%%, %s%%)\n", round3(out.PercentError.X), round3(out.PercentError.Y))
	ew.printf("Delta values:            (%sm, %sm)\n", round3(out.Delta.X), round3(out.Delta.Y))
	ew.printf("Distance apart:          %sm\n", round3(out.DistanceApart))

	r := out.Estimate
	ew.printf("Candidates:              %d used, %d discarded, %d rejected, %d kept per axis\n",
		r.Candidates, r.Discarded, r.Rejected, r.Kept)
	if r.Fallback {
		ew.printf("Note: trimming would drop every candidate, used the untrimmed mean\n")
	}
	if r.Ambiguous {
		ew.printf("Note: two observers cannot tell the mirror positions apart\n")
	}
	return ew.err
}

// WriteSummary prints sweep error statistics
func WriteSummary(w io.Writer, s harness.Summary) error {
	ew := &errWriter{w: w}

	ew.printf("Trials:        %d (%d failed)\n", s.Trials, s.Failures)
	ew.printf("Mean error:    %sm\n", round3(s.Mean))
	ew.printf("Median error:  %sm\n", round3(s.Median))
	ew.printf("P90 error:     %sm\n", round3(s.P90))
	ew.printf("Max error:     %sm\n", round3(s.Max))
	ew.printf("RMSE:          %sm\n", round3(s.RMSE))
	return ew.err
}

// round3 formats to at most three decimals without trailing zeros
func round3(v float64) string {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return fmt.Sprint(v)
	}
	r := math.Round(v*1000) / 1000
	if r == 0 {
		r = 0 // drop negative zero
	}
	return fmt.Sprintf("%g", r)
}

// errWriter keeps the first write error so callers check once
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...interface{}) {
	if ew.err != nil {
		return
	}
	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}
