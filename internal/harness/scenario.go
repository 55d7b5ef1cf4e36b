// Package harness simulates transmitters seen by observation points and scores the estimates
package harness

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/teslashibe/go-mlat/internal/mlat"
	"github.com/teslashibe/go-mlat/internal/pathloss"
)

// Observer is a receiving observation point
type Observer struct {
	Position mlat.Point2D `json:"position"`
	Gain     float64      `json:"gain_dbi"`
}

// NewObservers zips parallel coordinate and gain slices
func NewObservers(xs, ys, gains []float64) ([]Observer, error) {
	if len(xs) != len(ys) || len(xs) != len(gains) {
		return nil, &mlat.ValidationError{
			Field:  "observers",
			Reason: fmt.Sprintf("mismatched lengths: %d x-coords, %d y-coords, %d gains", len(xs), len(ys), len(gains)),
		}
	}

	observers := make([]Observer, len(xs))
	for i := range xs {
		observers[i] = Observer{Position: mlat.Pt(xs[i], ys[i]), Gain: gains[i]}
	}
	return observers, nil
}

// Scenario is a transmitter at a known position and the observers that hear it
type Scenario struct {
	Transmitter mlat.Point2D `json:"transmitter"`
	Wavelength  float64      `json:"wavelength_m"`
	TxPower     float64      `json:"tx_power_dbm"`
	TxGain      float64      `json:"tx_gain_dbi"`
	Observers   []Observer   `json:"observers"`
}

// Link returns the Friis parameters between the transmitter and observer i
func (s Scenario) Link(i int) pathloss.Link {
	return pathloss.Link{
		TxPower:    s.TxPower,
		TxGain:     s.TxGain,
		RxGain:     s.Observers[i].Gain,
		Wavelength: s.Wavelength,
	}
}

// Validate checks the scenario before any power is computed
func (s Scenario) Validate() error {
	if len(s.Observers) < 2 {
		return &mlat.ValidationError{
			Field:  "observers",
			Reason: fmt.Sprintf("need at least 2 observers, got %d", len(s.Observers)),
		}
	}
	if !s.Transmitter.IsFinite() {
		return &mlat.ValidationError{Field: "transmitter", Reason: "non-finite position"}
	}
	for i := range s.Observers {
		if err := s.Link(i).Validate(); err != nil {
			return &mlat.ValidationError{Field: fmt.Sprintf("observers[%d]", i), Reason: err.Error()}
		}
	}
	return nil
}

// Outcome compares the true transmitter position with its estimate
type Outcome struct {
	Exact          mlat.Point2D          `json:"exact"`
	Estimate       mlat.EstimationResult `json:"estimate"`
	ReceivedPowers []float64             `json:"received_powers_dbm"`
	Distances      []float64             `json:"distances_m"`
	Elapsed        time.Duration         `json:"elapsed_ns"`

	// PercentError holds |exact-estimate|/|exact| per axis, in percent
	PercentError  mlat.Point2D `json:"percent_error"`
	Delta         mlat.Point2D `json:"delta"`
	DistanceApart float64      `json:"distance_apart"`
}

// MarshalJSON writes a non-finite percent error, as produced for a transmitter on an
// axis, as null
func (o Outcome) MarshalJSON() ([]byte, error) {
	type plain Outcome
	aux := struct {
		plain
		PercentError *mlat.Point2D `json:"percent_error"`
	}{plain: plain(o)}
	if o.PercentError.IsFinite() {
		aux.PercentError = &o.PercentError
	}
	return json.Marshal(aux)
}

// Measure computes each observer's received power from the true geometry, perturbs it
// with noise and inverts it back to a range.
func (s Scenario) Measure(noise pathloss.Noise) ([]mlat.ReferencePoint, []float64, error) {
	if noise == nil {
		noise = pathloss.NoNoise{}
	}

	refs := make([]mlat.ReferencePoint, len(s.Observers))
	powers := make([]float64, len(s.Observers))
	for i, o := range s.Observers {
		d := mlat.Distance(o.Position, s.Transmitter)
		if d == 0 {
			// Co-located: Friis has no finite power at zero range, so report the
			// unattenuated link budget and an exact zero range
			l := s.Link(i)
			powers[i] = l.TxPower + l.TxGain + l.RxGain + noise.Sample()
			refs[i] = mlat.ReferencePoint{Position: o.Position}
			continue
		}

		pr, err := pathloss.ReceivedPower(s.Link(i), d)
		if err != nil {
			return nil, nil, &mlat.ValidationError{
				Field:  fmt.Sprintf("observers[%d]", i),
				Reason: err.Error(),
			}
		}
		pr += noise.Sample()

		dist, err := pathloss.DistanceFromPower(pr, s.Link(i))
		if err != nil {
			return nil, nil, fmt.Errorf("observer %d: %w", i, err)
		}

		powers[i] = pr
		refs[i] = mlat.ReferencePoint{Position: o.Position, Distance: dist}
	}
	return refs, powers, nil
}

// Run measures the scenario and estimates the transmitter position.
//
// The returned Outcome is populated up to the failing step when err is non-nil.
// Only the estimation itself is timed.
func Run(s Scenario, noise pathloss.Noise, opts mlat.Options) (Outcome, error) {
	if err := s.Validate(); err != nil {
		return Outcome{}, err
	}

	out := Outcome{Exact: s.Transmitter}

	refs, powers, err := s.Measure(noise)
	if err != nil {
		return out, err
	}
	out.ReceivedPowers = powers
	out.Distances = make([]float64, len(refs))
	for i, ref := range refs {
		out.Distances[i] = ref.Distance
	}

	start := time.Now()
	result, err := mlat.Estimate(refs, opts)
	out.Elapsed = time.Since(start)
	out.Estimate = result
	if err != nil {
		return out, err
	}

	est := result.Position
	out.PercentError = mlat.Pt(
		100*RelativeError(s.Transmitter.X, est.X),
		100*RelativeError(s.Transmitter.Y, est.Y),
	)
	out.Delta = mlat.Pt(math.Abs(s.Transmitter.X-est.X), math.Abs(s.Transmitter.Y-est.Y))
	out.DistanceApart = mlat.Distance(s.Transmitter, est)

	return out, nil
}

// RelativeError returns |exact-approx|/|exact|. A zero exact value yields 0 when
// approx is also 0 and +Inf otherwise.
func RelativeError(exact, approx float64) float64 {
	diff := math.Abs(exact - approx)
	if exact == 0 {
		if diff == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return diff / math.Abs(exact)
}
