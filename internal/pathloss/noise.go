package pathloss

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// Noise perturbs a received power sample in dB
type Noise interface {
	Sample() float64
}

// NoNoise leaves measurements untouched
type NoNoise struct{}

// Sample always returns 0
func (NoNoise) Sample() float64 { return 0 }

// Gaussian draws zero-mean normal samples. It is not safe for concurrent use.
type Gaussian struct {
	dist distuv.Normal
}

// NewGaussian returns a seeded zero-mean normal source.
// A non-positive stddev disables noise.
func NewGaussian(stddev float64, seed uint64) Noise {
	if !(stddev > 0) {
		return NoNoise{}
	}
	return &Gaussian{
		dist: distuv.Normal{
			Mu:    0,
			Sigma: stddev,
			Src:   rand.NewPCG(seed, seed^0x9e3779b97f4a7c15),
		},
	}
}

// Sample returns the next noise value
func (g *Gaussian) Sample() float64 {
	return g.dist.Rand()
}
