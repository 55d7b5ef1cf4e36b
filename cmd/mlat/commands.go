package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-mlat/internal/harness"
	"github.com/teslashibe/go-mlat/internal/mlat"
	"github.com/teslashibe/go-mlat/internal/pathloss"
	"github.com/teslashibe/go-mlat/internal/report"
)

// estimationFlags override the configured estimation options
type estimationFlags struct {
	trim           float64
	noDisambiguate bool
}

func (f *estimationFlags) register(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&f.trim, "trim", mlat.DefaultTrimFraction, "Trim fraction per end, in [0, 1) (default from config)")
	cmd.Flags().BoolVar(&f.noDisambiguate, "no-disambiguate", false, "Keep both roots of every intersecting pair")
}

// apply overrides opts with the flags set on cmd; an out-of-range trim is
// left for mlat.Estimate to reject
func (f *estimationFlags) apply(cmd *cobra.Command, opts mlat.Options) mlat.Options {
	if cmd.Flags().Changed("trim") {
		opts.TrimFraction = f.trim
	}
	if f.noDisambiguate {
		opts.Disambiguate = false
	}
	return opts
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newEstimateCmd(root *rootOptions) *cobra.Command {
	var (
		xs, ys, rs []float64
		est        estimationFlags
	)

	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Estimate a position from observation point coordinates and ranges",
		Example: `  mlat estimate -x 0,3,10 -y 0,8,5 -r 5.657,4.123,6.083
  mlat estimate -x 0,3,10 -y 0,8,5 -r 5.657,4.123,6.083 --trim 0 --no-disambiguate`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}

			refs, err := mlat.NewReferencePoints(xs, ys, rs)
			if err != nil {
				return err
			}

			result, err := mlat.Estimate(refs, est.apply(cmd, cfg.Tracker.Options()))
			if err != nil {
				var nerr *mlat.NoCandidatesError
				if errors.As(err, &nerr) {
					return fmt.Errorf("%w (%d roots discarded)", err, result.Discarded)
				}
				return err
			}

			out := cmd.OutOrStdout()
			if root.jsonOut {
				return writeJSON(out, result)
			}

			fmt.Fprintf(out, "Estimated position:      (%gm, %gm)\n", result.Position.X, result.Position.Y)
			fmt.Fprintf(out, "Candidates:              %d used, %d discarded, %d rejected, %d kept per axis\n",
				result.Candidates, result.Discarded, result.Rejected, result.Kept)
			if result.Fallback {
				fmt.Fprintln(out, "Note: trimming would drop every candidate, used the untrimmed mean")
			}
			if result.Ambiguous {
				fmt.Fprintln(out, "Note: two observers cannot tell the mirror positions apart")
			}
			return nil
		},
	}

	cmd.Flags().Float64SliceVarP(&xs, "x", "x", nil, "Observation point x-coordinates (m)")
	cmd.Flags().Float64SliceVarP(&ys, "y", "y", nil, "Observation point y-coordinates (m)")
	cmd.Flags().Float64SliceVarP(&rs, "range", "r", nil, "Ranges to the transmitter (m)")
	est.register(cmd)
	_ = cmd.MarkFlagRequired("x")
	_ = cmd.MarkFlagRequired("y")
	_ = cmd.MarkFlagRequired("range")

	return cmd
}

func newDistanceCmd(root *rootOptions) *cobra.Command {
	var (
		pr   float64
		link pathloss.Link
	)

	cmd := &cobra.Command{
		Use:     "distance",
		Short:   "Convert a received power to a range with the Friis equation",
		Example: `  mlat distance --pr -61.985 --wl 0.1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := pathloss.DistanceFromPower(pr, link)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if root.jsonOut {
				return writeJSON(out, map[string]float64{
					"distance_m":   d,
					"path_loss_db": pathloss.PathLoss(link.Wavelength, d),
				})
			}

			fmt.Fprintf(out, "Distance:                %gm\n", d)
			fmt.Fprintf(out, "Free-space path loss:    %gdB\n", pathloss.PathLoss(link.Wavelength, d))
			return nil
		},
	}

	cmd.Flags().Float64Var(&pr, "pr", 0, "Received power (dBm)")
	cmd.Flags().Float64Var(&link.TxPower, "pt", 0, "Transmit power (dBm)")
	cmd.Flags().Float64Var(&link.TxGain, "gt", 0, "Transmitter antenna gain (dBi)")
	cmd.Flags().Float64Var(&link.RxGain, "gr", 0, "Receiver antenna gain (dBi)")
	cmd.Flags().Float64Var(&link.Wavelength, "wl", 0, "Wavelength (m)")
	_ = cmd.MarkFlagRequired("pr")
	_ = cmd.MarkFlagRequired("wl")

	return cmd
}

// sceneFlags override the configured scene
type sceneFlags struct {
	xs, ys, gains []float64
	wavelength    float64
	txPower       float64
	txGain        float64
	noise         float64
	seed          uint64
}

func (f *sceneFlags) register(cmd *cobra.Command) {
	cmd.Flags().Float64SliceVarP(&f.xs, "x", "x", nil, "Observer x-coordinates (default from config)")
	cmd.Flags().Float64SliceVarP(&f.ys, "y", "y", nil, "Observer y-coordinates (default from config)")
	cmd.Flags().Float64SliceVarP(&f.gains, "gain", "g", nil, "Observer antenna gains in dBi (default 0 each)")
	cmd.Flags().Float64Var(&f.wavelength, "wl", 0, "Wavelength in m (default from config)")
	cmd.Flags().Float64Var(&f.txPower, "pt", 0, "Transmit power (dBm)")
	cmd.Flags().Float64Var(&f.txGain, "gt", 0, "Transmitter antenna gain (dBi)")
	cmd.Flags().Float64Var(&f.noise, "noise", 0, "Received power noise standard deviation (dB)")
	cmd.Flags().Uint64Var(&f.seed, "seed", 0, "Noise seed")
}

// scenario merges the flags that were set into base
func (f *sceneFlags) scenario(cmd *cobra.Command, base harness.Scenario) (harness.Scenario, error) {
	flags := cmd.Flags()

	if flags.Changed("x") || flags.Changed("y") || flags.Changed("gain") {
		gains := f.gains
		if !flags.Changed("gain") {
			gains = make([]float64, len(f.xs))
		}
		observers, err := harness.NewObservers(f.xs, f.ys, gains)
		if err != nil {
			return base, err
		}
		base.Observers = observers
	}
	if flags.Changed("wl") {
		base.Wavelength = f.wavelength
	}
	if flags.Changed("pt") {
		base.TxPower = f.txPower
	}
	if flags.Changed("gt") {
		base.TxGain = f.txGain
	}
	return base, nil
}

func parsePoint(name string, v []float64) (mlat.Point2D, error) {
	if len(v) != 2 {
		return mlat.Point2D{}, &mlat.ValidationError{
			Field:  name,
			Reason: fmt.Sprintf("expected x,y got %d values", len(v)),
		}
	}
	return mlat.Pt(v[0], v[1]), nil
}

func newSimulateCmd(root *rootOptions) *cobra.Command {
	var (
		tx    []float64
		scene sceneFlags
		est   estimationFlags
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Simulate one transmitter and compare the estimate with the truth",
		Example: `  mlat simulate
  mlat simulate --tx 4,4 -x 0,3,10 -y 0,8,5 --wl 0.1 --noise 1 --seed 7`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}

			s, err := scene.scenario(cmd, cfg.Scene.Scenario())
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("tx") {
				if s.Transmitter, err = parsePoint("tx", tx); err != nil {
					return err
				}
			}

			noiseStdDev, seed := cfg.Scene.NoiseStdDevDB, cfg.Scene.Seed
			if cmd.Flags().Changed("noise") {
				noiseStdDev = scene.noise
			}
			if cmd.Flags().Changed("seed") {
				seed = scene.seed
			}

			out := cmd.OutOrStdout()
			if !root.jsonOut {
				if err := report.WriteSetup(out, s); err != nil {
					return err
				}
			}

			outcome, err := harness.Run(s, pathloss.NewGaussian(noiseStdDev, seed), est.apply(cmd, cfg.Tracker.Options()))
			if err != nil {
				return err
			}

			if root.jsonOut {
				return writeJSON(out, outcome)
			}
			return report.WriteOutcome(out, outcome)
		},
	}

	cmd.Flags().Float64SliceVar(&tx, "tx", nil, "Transmitter position x,y in m (default motion center from config)")
	scene.register(cmd)
	est.register(cmd)

	return cmd
}

func newSweepCmd(root *rootOptions) *cobra.Command {
	var (
		minXY, maxXY []float64
		step         float64
		workers      int
		csvPath      string
		plotPath     string
		scene        sceneFlags
		est          estimationFlags
	)

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Simulate a grid of transmitter positions and summarize the error",
		Example: `  mlat sweep --min 0,0 --max 10,10 --step 0.5 --noise 2 --csv sweep.csv --plot sweep.png`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}

			s, err := scene.scenario(cmd, cfg.Scene.Scenario())
			if err != nil {
				return err
			}

			lo, err := parsePoint("min", minXY)
			if err != nil {
				return err
			}
			hi, err := parsePoint("max", maxXY)
			if err != nil {
				return err
			}
			txs, err := harness.GridTransmitters(lo, hi, step)
			if err != nil {
				return err
			}

			sweepCfg := harness.SweepConfig{
				Workers:     workers,
				NoiseStdDev: cfg.Scene.NoiseStdDevDB,
				Seed:        cfg.Scene.Seed,
				Options:     est.apply(cmd, cfg.Tracker.Options()),
			}
			if cmd.Flags().Changed("noise") {
				sweepCfg.NoiseStdDev = scene.noise
			}
			if cmd.Flags().Changed("seed") {
				sweepCfg.Seed = scene.seed
			}

			logger := root.logger(cmd)
			logger.Debug("starting sweep", "trials", len(txs), "workers", workers)

			trials, err := harness.Sweep(cmd.Context(), s, txs, sweepCfg, logger)
			if err != nil {
				return err
			}

			if csvPath != "" {
				if err := writeTrialsFile(csvPath, trials); err != nil {
					return err
				}
			}
			if plotPath != "" {
				title := fmt.Sprintf("%d trials, noise %g dB", len(trials), sweepCfg.NoiseStdDev)
				p, err := report.Scatter(title, s.Observers, trials)
				if err != nil {
					return err
				}
				if err := report.SavePlot(p, plotPath); err != nil {
					return err
				}
			}

			summary := harness.Summarize(trials)
			out := cmd.OutOrStdout()
			if root.jsonOut {
				return writeJSON(out, summary)
			}
			return report.WriteSummary(out, summary)
		},
	}

	cmd.Flags().Float64SliceVar(&minXY, "min", []float64{0, 0}, "Grid lower corner x,y (m)")
	cmd.Flags().Float64SliceVar(&maxXY, "max", []float64{10, 10}, "Grid upper corner x,y (m)")
	cmd.Flags().Float64Var(&step, "step", 1, "Grid spacing (m)")
	cmd.Flags().IntVar(&workers, "workers", 0, "Concurrent trials (0 = GOMAXPROCS)")
	cmd.Flags().StringVar(&csvPath, "csv", "", "Write one row per trial to this CSV file")
	cmd.Flags().StringVar(&plotPath, "plot", "", "Save a scatter plot (.png, .svg, .pdf)")
	scene.register(cmd)
	est.register(cmd)

	return cmd
}

func writeTrialsFile(path string, trials []harness.Trial) error {
	if ext := strings.ToLower(filepath.Ext(path)); ext != ".csv" && ext != "" {
		return fmt.Errorf("csv output %s: unexpected extension %s", path, ext)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}

	if err := report.WriteTrials(f, trials); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
