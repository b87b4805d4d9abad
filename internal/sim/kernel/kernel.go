// Package kernel maps a cell's local conditions to a directional spread
// potential in [0,1].
//
// Potential is a pure function: identical inputs always produce identical
// outputs, and nothing in this package holds state or draws random numbers.
// Stochastic variation enters only through the member-wide scales applied by
// the stepper before the kernel is called.
package kernel

import (
	"math"

	"emberguide.ai/internal/sim/logic/mathx"
)

// Weights configures the linear combination of wind, slope and dryness
// factors, plus the normalization constants for each factor.
type Weights struct {
	Wind    float64 `yaml:"wind_weight" json:"wind_weight"`
	Slope   float64 `yaml:"slope_weight" json:"slope_weight"`
	Dryness float64 `yaml:"dryness_weight" json:"dryness_weight"`

	// WindMaxMS is the wind speed (m/s) that saturates the wind factor.
	WindMaxMS float64 `yaml:"wind_max_ms" json:"wind_max_ms"`
	// SlopeMaxDeg is the slope that saturates the slope factor.
	SlopeMaxDeg float64 `yaml:"slope_max_deg" json:"slope_max_deg"`
	// DownslopeScale multiplies the slope factor when the neighbor lies downslope.
	DownslopeScale float64 `yaml:"downslope_scale" json:"downslope_scale"`
}

func DefaultWeights() Weights {
	return Weights{
		Wind:           0.5,
		Slope:          0.3,
		Dryness:        0.2,
		WindMaxMS:      10,
		SlopeMaxDeg:    45,
		DownslopeScale: 0.5,
	}
}

// Input is the local state seen from a burning cell looking at one neighbor.
type Input struct {
	NeighborBearing float64 // compass bearing from the burning cell to the neighbor
	WindU           float64 // m/s, positive east
	WindV           float64 // m/s, positive north
	SlopeDeg        float64
	AspectDeg       float64 // compass direction the slope faces; <0 means flat
	Dryness         float64 // [0,1]
}

// Potential returns the spread potential toward the neighbor.
func Potential(in Input, w Weights) float64 {
	wind := WindFactor(in.WindU, in.WindV, in.NeighborBearing, w.WindMaxMS)
	slope := SlopeFactor(in.SlopeDeg, in.AspectDeg, in.NeighborBearing, w)
	dry := mathx.Clamp01(in.Dryness)
	// Explicit conversions stop the compiler from fusing multiply-adds, which
	// would change results across architectures.
	return mathx.Clamp01(float64(w.Wind*wind) + float64(w.Slope*slope) + float64(w.Dryness*dry))
}

// WindFactor is the normalized downwind component of the wind toward bearing.
// Upwind and calm conditions contribute zero.
func WindFactor(u, v, bearing, maxMS float64) float64 {
	if maxMS <= 0 {
		return 0
	}
	speed := math.Hypot(u, v)
	if speed == 0 {
		return 0
	}
	toward := WindToward(u, v)
	return mathx.Clamp01(speed / maxMS * math.Cos(mathx.Radians(toward-bearing)))
}

// WindToward is the compass bearing the wind blows toward.
func WindToward(u, v float64) float64 {
	return mathx.Bearing(u, v)
}

// SlopeFactor is the normalized slope contribution toward bearing. Fire runs
// upslope, so a neighbor within 90 degrees of the upslope direction
// (aspect+180) gets the full factor and any other neighbor gets it scaled by
// DownslopeScale.
func SlopeFactor(slopeDeg, aspectDeg, bearing float64, w Weights) float64 {
	if slopeDeg <= 0 || w.SlopeMaxDeg <= 0 {
		return 0
	}
	base := mathx.Clamp01(slopeDeg / w.SlopeMaxDeg)
	if aspectDeg < 0 {
		return base
	}
	upslope := aspectDeg + 180
	if math.Cos(mathx.Radians(bearing-upslope)) < 0 {
		return base * w.DownslopeScale
	}
	return base
}

// Dryness converts relative humidity (percent) into a fuel dryness factor,
// applying a member's humidity and temperature scales.
func Dryness(rh, rhScale, tempScale float64) float64 {
	eff := mathx.Clamp(rh*rhScale, 0, 100)
	return mathx.Clamp01((100 - eff) / 100 * tempScale)
}
