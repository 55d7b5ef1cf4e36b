package harness

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/teslashibe/go-mlat/internal/mlat"
	"github.com/teslashibe/go-mlat/internal/pathloss"
)

// SweepConfig configures a batch of independent trials
type SweepConfig struct {
	Workers     int          // Concurrent trials (0 = GOMAXPROCS)
	NoiseStdDev float64      // dB, 0 disables noise
	Seed        uint64       // Trial i uses Seed+i
	Options     mlat.Options // Estimation options for every trial
}

// Trial is the result of one sweep position
type Trial struct {
	Index   int     `json:"index"`
	Outcome Outcome `json:"outcome"`
	Err     string  `json:"error,omitempty"`
}

// OK reports whether the trial produced an estimate
func (t Trial) OK() bool {
	return t.Err == ""
}

// Sweep runs base once per transmitter position and returns trials in input order.
//
// Trials are independent and run on a bounded worker pool. A trial that fails
// (for example with mlat.NoCandidatesError under heavy noise) is recorded and does
// not stop the sweep; only an invalid base scenario or a cancelled context does.
func Sweep(ctx context.Context, base Scenario, transmitters []mlat.Point2D, cfg SweepConfig, logger *slog.Logger) ([]Trial, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := base.Validate(); err != nil {
		return nil, err
	}
	if err := mlat.ValidateTrimFraction(cfg.Options.TrimFraction); err != nil {
		return nil, err
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	trials := make([]Trial, len(transmitters))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, tx := range transmitters {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			s := base
			s.Transmitter = tx
			noise := pathloss.NewGaussian(cfg.NoiseStdDev, cfg.Seed+uint64(i))

			out, err := Run(s, noise, cfg.Options)
			trials[i] = Trial{Index: i, Outcome: out}
			if err != nil {
				trials[i].Err = err.Error()
				logger.Debug("trial failed",
					"index", i,
					"transmitter", tx.String(),
					"error", err,
				)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("sweep: %w", err)
	}

	return trials, nil
}

// GridTransmitters lays out transmitter positions on a regular grid, row by row
func GridTransmitters(min, max mlat.Point2D, step float64) ([]mlat.Point2D, error) {
	if !(step > 0) {
		return nil, &mlat.ValidationError{Field: "step", Reason: fmt.Sprintf("must be positive, got %v", step)}
	}
	if !min.IsFinite() || !max.IsFinite() {
		return nil, &mlat.ValidationError{Field: "grid", Reason: fmt.Sprintf("non-finite bounds %v to %v", min, max)}
	}
	if max.X < min.X || max.Y < min.Y {
		return nil, &mlat.ValidationError{Field: "grid", Reason: fmt.Sprintf("max %v below min %v", max, min)}
	}

	nx := int(math.Floor((max.X-min.X)/step+1e-9)) + 1
	ny := int(math.Floor((max.Y-min.Y)/step+1e-9)) + 1

	points := make([]mlat.Point2D, 0, nx*ny)
	for iy := 0; iy < ny; iy++ {
		for ix := 0; ix < nx; ix++ {
			points = append(points, mlat.Pt(min.X+float64(ix)*step, min.Y+float64(iy)*step))
		}
	}
	return points, nil
}

// Summary condenses the position error over a set of trials
type Summary struct {
	Trials   int     `json:"trials"`
	Failures int     `json:"failures"`
	Mean     float64 `json:"mean_error_m"`
	Median   float64 `json:"median_error_m"`
	P90      float64 `json:"p90_error_m"`
	Max      float64 `json:"max_error_m"`
	RMSE     float64 `json:"rmse_m"`
}

// Summarize computes error statistics over the successful trials
func Summarize(trials []Trial) Summary {
	s := Summary{Trials: len(trials)}

	errs := make([]float64, 0, len(trials))
	for _, t := range trials {
		if !t.OK() {
			s.Failures++
			continue
		}
		errs = append(errs, t.Outcome.DistanceApart)
	}
	if len(errs) == 0 {
		return s
	}

	slices.Sort(errs)

	var sq float64
	for _, e := range errs {
		sq += e * e
	}

	s.Mean = stat.Mean(errs, nil)
	s.Median = stat.Quantile(0.5, stat.Empirical, errs, nil)
	s.P90 = stat.Quantile(0.9, stat.Empirical, errs, nil)
	s.Max = errs[len(errs)-1]
	s.RMSE = math.Sqrt(sq / float64(len(errs)))
	return s
}
