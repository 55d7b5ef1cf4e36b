package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/teslashibe/go-mlat/internal/harness"
)

var trialHeader = []string{
	"trial", "true_x_m", "true_y_m", "est_x_m", "est_y_m",
	"error_m", "candidates", "discarded", "rejected", "fallback", "elapsed_us", "error",
}

// WriteTrials writes one CSV row per sweep trial, failed trials included
func WriteTrials(w io.Writer, trials []harness.Trial) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(trialHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for _, t := range trials {
		out := t.Outcome
		est := out.Estimate
		row := []string{
			strconv.Itoa(t.Index),
			fmt.Sprintf("%.6f", out.Exact.X),
			fmt.Sprintf("%.6f", out.Exact.Y),
			"",
			"",
			"",
			strconv.Itoa(est.Candidates),
			strconv.Itoa(est.Discarded),
			strconv.Itoa(est.Rejected),
			strconv.FormatBool(est.Fallback),
			strconv.FormatInt(out.Elapsed.Microseconds(), 10),
			t.Err,
		}
		if t.OK() {
			row[3] = fmt.Sprintf("%.6f", est.Position.X)
			row[4] = fmt.Sprintf("%.6f", est.Position.Y)
			row[5] = fmt.Sprintf("%.6f", out.DistanceApart)
		}

		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write trial %d: %w", t.Index, err)
		}
	}

	cw.Flush()
	return cw.Error()
}
