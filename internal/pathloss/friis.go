// Package pathloss converts between received signal power and range using the Friis equation
package pathloss

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidLink is returned for non-physical link parameters
var ErrInvalidLink = errors.New("invalid link parameters")

// Link describes one transmitter/receiver pairing.
// Powers are in dBm, gains in dBi and the wavelength in meters.
// Distances come back in the wavelength's unit.
type Link struct {
	TxPower    float64 `json:"tx_power_dbm" mapstructure:"tx_power_dbm"`
	TxGain     float64 `json:"tx_gain_dbi" mapstructure:"tx_gain_dbi"`
	RxGain     float64 `json:"rx_gain_dbi" mapstructure:"rx_gain_dbi"`
	Wavelength float64 `json:"wavelength_m" mapstructure:"wavelength_m"`
}

// Validate checks that the wavelength is a positive finite number
func (l Link) Validate() error {
	if !(l.Wavelength > 0) || math.IsInf(l.Wavelength, 0) {
		return fmt.Errorf("%w: wavelength must be positive, got %v", ErrInvalidLink, l.Wavelength)
	}
	for _, v := range [...]float64{l.TxPower, l.TxGain, l.RxGain} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite power or gain", ErrInvalidLink)
		}
	}
	return nil
}

// ReceivedPower returns Pr = Pt + Gt + Gr + 20·log10(λ / (4πd)) in dBm
func ReceivedPower(l Link, distance float64) (float64, error) {
	if err := l.Validate(); err != nil {
		return 0, err
	}
	if !(distance > 0) || math.IsInf(distance, 0) {
		return 0, fmt.Errorf("%w: distance must be positive, got %v", ErrInvalidLink, distance)
	}

	return l.TxPower + l.TxGain + l.RxGain + 20*math.Log10(l.Wavelength/(4*math.Pi*distance)), nil
}

// DistanceFromPower inverts ReceivedPower:
//
//	d = λ / (4π · 10^((Pr − Pt − Gt − Gr) / 20))
func DistanceFromPower(receivedPower float64, l Link) (float64, error) {
	if err := l.Validate(); err != nil {
		return 0, err
	}
	if math.IsNaN(receivedPower) || math.IsInf(receivedPower, 0) {
		return 0, fmt.Errorf("%w: non-finite received power %v", ErrInvalidLink, receivedPower)
	}

	exp := (receivedPower - l.TxPower - l.TxGain - l.RxGain) / 20
	return l.Wavelength / (4 * math.Pi * math.Pow(10, exp)), nil
}

// PathLoss returns the free-space loss in dB at the given distance, excluding antenna gains
func PathLoss(wavelength, distance float64) float64 {
	return -20 * math.Log10(wavelength/(4*math.Pi*distance))
}
