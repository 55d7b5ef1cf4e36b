package simulator

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/teslashibe/go-mlat/internal/harness"
	"github.com/teslashibe/go-mlat/internal/mlat"
)

func testScenario(t *testing.T) harness.Scenario {
	t.Helper()
	observers, err := harness.NewObservers(
		[]float64{0, 3, 10},
		[]float64{0, 8, 5},
		[]float64{0, 0, 0},
	)
	if err != nil {
		t.Fatalf("NewObservers() error = %v", err)
	}
	return harness.Scenario{Wavelength: 0.1, Observers: observers}
}

func TestMotion_PositionAt(t *testing.T) {
	m := Motion{Center: mlat.Pt(4, 4), Radius: 2, Period: 4 * time.Second}

	tests := []struct {
		elapsed time.Duration
		want    mlat.Point2D
	}{
		{0, mlat.Pt(6, 4)},
		{time.Second, mlat.Pt(4, 6)},
		{2 * time.Second, mlat.Pt(2, 4)},
		{4 * time.Second, mlat.Pt(6, 4)},
	}

	for _, tt := range tests {
		got := m.PositionAt(tt.elapsed)
		if mlat.Distance(got, tt.want) > 1e-9 {
			t.Errorf("PositionAt(%v) = %v, want %v", tt.elapsed, got, tt.want)
		}
	}

	static := Motion{Center: mlat.Pt(1, 2)}
	if got := static.PositionAt(time.Hour); got != mlat.Pt(1, 2) {
		t.Errorf("static motion moved to %v", got)
	}
}

func TestSource_Observe(t *testing.T) {
	src, err := NewSource(Config{
		Scenario: testScenario(t),
		Motion:   Motion{Center: mlat.Pt(4, 4)},
	})
	if err != nil {
		t.Fatalf("NewSource() error = %v", err)
	}
	defer src.Close()

	obs, err := src.Observe(context.Background())
	if err != nil {
		t.Fatalf("Observe() error = %v", err)
	}

	if len(obs.ReferencePoints) != 3 || len(obs.ReceivedPowers) != 3 {
		t.Fatalf("expected 3 observations, got %d ranges and %d powers", len(obs.ReferencePoints), len(obs.ReceivedPowers))
	}

	want := []float64{math.Sqrt(32), math.Sqrt(17), math.Sqrt(37)}
	for i, ref := range obs.ReferencePoints {
		if math.Abs(ref.Distance-want[i]) > 1e-9 {
			t.Errorf("range %d = %v, want %v", i, ref.Distance, want[i])
		}
	}

	if obs.Truth == nil || *obs.Truth != mlat.Pt(4, 4) {
		t.Errorf("expected truth (4, 4), got %v", obs.Truth)
	}
}

func TestSource_MovingTransmitter(t *testing.T) {
	src, err := NewSource(Config{
		Scenario: testScenario(t),
		Motion:   Motion{Center: mlat.Pt(5, 4), Radius: 1, Period: 4 * time.Second},
	})
	if err != nil {
		t.Fatalf("NewSource() error = %v", err)
	}

	start := time.Unix(1000, 0)
	clock := start
	src.now = func() time.Time { return clock }
	src.SetMotion(Motion{Center: mlat.Pt(5, 4), Radius: 1, Period: 4 * time.Second})

	clock = start.Add(time.Second)
	obs, err := src.Observe(context.Background())
	if err != nil {
		t.Fatalf("Observe() error = %v", err)
	}

	if mlat.Distance(*obs.Truth, mlat.Pt(5, 5)) > 1e-9 {
		t.Errorf("truth = %v, want (5, 5)", *obs.Truth)
	}

	result, err := mlat.Estimate(obs.ReferencePoints, mlat.DefaultOptions())
	if err != nil {
		t.Fatalf("Estimate() error = %v", err)
	}
	if mlat.Distance(result.Position, *obs.Truth) > 1e-6 {
		t.Errorf("estimate %v far from truth %v", result.Position, *obs.Truth)
	}
}

func TestSource_Noise(t *testing.T) {
	cfg := Config{
		Scenario:    testScenario(t),
		Motion:      Motion{Center: mlat.Pt(4, 4)},
		NoiseStdDev: 2,
		Seed:        11,
	}

	a, err := NewSource(cfg)
	if err != nil {
		t.Fatalf("NewSource() error = %v", err)
	}
	b, err := NewSource(cfg)
	if err != nil {
		t.Fatalf("NewSource() error = %v", err)
	}

	obsA, _ := a.Observe(context.Background())
	obsB, _ := b.Observe(context.Background())

	for i := range obsA.ReferencePoints {
		if obsA.ReferencePoints[i].Distance != obsB.ReferencePoints[i].Distance {
			t.Errorf("same seed should give same ranges at %d", i)
		}
	}

	if math.Abs(obsA.ReferencePoints[0].Distance-math.Sqrt(32)) < 1e-9 {
		t.Error("expected noise to perturb the range")
	}
}

func TestSource_Invalid(t *testing.T) {
	s := testScenario(t)
	s.Wavelength = 0
	if _, err := NewSource(Config{Scenario: s, Motion: Motion{Center: mlat.Pt(4, 4)}}); err == nil {
		t.Error("expected error for zero wavelength")
	}
}

func TestSource_Health(t *testing.T) {
	src, err := NewSource(Config{Scenario: testScenario(t), Motion: Motion{Center: mlat.Pt(4, 4)}})
	if err != nil {
		t.Fatalf("NewSource() error = %v", err)
	}

	if !src.Healthy() {
		t.Error("expected healthy source")
	}
	src.SetHealthy(false)
	if src.Healthy() {
		t.Error("expected unhealthy source")
	}
	if src.Name() != "simulated" {
		t.Errorf("expected name simulated, got %s", src.Name())
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := src.Observe(ctx); err == nil {
		t.Error("expected error from cancelled context")
	}
}
