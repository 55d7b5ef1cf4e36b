package pathloss

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"
)

func TestReceivedPower(t *testing.T) {
	l := Link{Wavelength: 0.1}

	// λ/(4πd) with d = λ/(4π) is exactly 1
	pr, err := ReceivedPower(l, 0.1/(4*math.Pi))
	require.NoError(t, err)
	assert.InDelta(t, 0, pr, 1e-12)

	// Doubling distance costs ~6.02 dB
	near, err := ReceivedPower(l, 10)
	require.NoError(t, err)
	far, err := ReceivedPower(l, 20)
	require.NoError(t, err)
	assert.InDelta(t, 20*math.Log10(2), near-far, 1e-12)

	// Gains add linearly in dB
	boosted, err := ReceivedPower(Link{TxPower: 10, TxGain: 2, RxGain: 3, Wavelength: 0.1}, 10)
	require.NoError(t, err)
	assert.InDelta(t, near+15, boosted, 1e-12)
}

func TestDistanceFromPower_RoundTrip(t *testing.T) {
	links := []Link{
		{Wavelength: 0.1},
		{TxPower: 20, TxGain: 2.15, RxGain: -1, Wavelength: 0.125},
		{TxPower: -10, Wavelength: 3},
	}
	distances := []float64{0.5, 4, math.Sqrt(32), 150, 2500}

	for _, l := range links {
		for _, d := range distances {
			pr, err := ReceivedPower(l, d)
			require.NoError(t, err)

			got, err := DistanceFromPower(pr, l)
			require.NoError(t, err)
			assert.InEpsilon(t, d, got, 1e-12, "link %+v distance %v", l, d)
		}
	}
}

func TestInvalidLink(t *testing.T) {
	tests := []struct {
		name string
		fn   func() error
	}{
		{"zero wavelength", func() error { _, err := ReceivedPower(Link{}, 1); return err }},
		{"negative wavelength", func() error { _, err := DistanceFromPower(-50, Link{Wavelength: -1}); return err }},
		{"zero distance", func() error { _, err := ReceivedPower(Link{Wavelength: 0.1}, 0); return err }},
		{"NaN power", func() error { _, err := DistanceFromPower(math.NaN(), Link{Wavelength: 0.1}); return err }},
		{"infinite gain", func() error { _, err := ReceivedPower(Link{Wavelength: 0.1, RxGain: math.Inf(1)}, 1); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fn()
			assert.True(t, errors.Is(err, ErrInvalidLink), "got %v", err)
		})
	}
}

func TestPathLoss(t *testing.T) {
	l := Link{TxPower: 0, Wavelength: 0.1}
	pr, err := ReceivedPower(l, 7)
	require.NoError(t, err)
	assert.InDelta(t, -pr, PathLoss(0.1, 7), 1e-12)
}

func TestNoise(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		n := NewGaussian(0, 1)
		assert.IsType(t, NoNoise{}, n)
		assert.Zero(t, n.Sample())
	})

	t.Run("seeded sequences repeat", func(t *testing.T) {
		a := NewGaussian(2, 42)
		b := NewGaussian(2, 42)
		for i := 0; i < 16; i++ {
			assert.Equal(t, a.Sample(), b.Sample())
		}
	})

	t.Run("moments", func(t *testing.T) {
		n := NewGaussian(3, 7)
		samples := make([]float64, 20000)
		for i := range samples {
			samples[i] = n.Sample()
		}
		assert.InDelta(t, 0, stat.Mean(samples, nil), 0.1)
		assert.InDelta(t, 3, stat.StdDev(samples, nil), 0.1)
	})
}
