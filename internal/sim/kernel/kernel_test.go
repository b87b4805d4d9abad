package kernel

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindFactor(t *testing.T) {
	cases := []struct {
		name    string
		u, v    float64
		bearing float64
		want    float64
	}{
		{"calm", 0, 0, 90, 0},
		{"downwind_east", 5, 0, 90, 0.5},
		{"upwind_west", 5, 0, 270, 0},
		{"saturated", 30, 0, 90, 1},
		{"north_wind_toward_north", 0, 4, 0, 0.4},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := WindFactor(c.u, c.v, c.bearing, 10)
			assert.InDelta(t, c.want, got, 1e-12)
		})
	}
}

func TestWindFactor_MonotonicInSpeedDownwind(t *testing.T) {
	for _, bearing := range []float64{45, 90, 135} {
		prev := -1.0
		for speed := 0.0; speed <= 25; speed += 0.25 {
			got := WindFactor(speed, 0, bearing, 10)
			require.GreaterOrEqual(t, got, prev, "bearing=%v speed=%v", bearing, speed)
			prev = got
		}
	}
}

func TestSlopeFactor_UpslopeVersusDownslope(t *testing.T) {
	w := DefaultWeights()
	// Slope faces south (aspect 180): upslope is north.
	up := SlopeFactor(22.5, 180, 0, w)
	down := SlopeFactor(22.5, 180, 180, w)
	assert.InDelta(t, 0.5, up, 1e-12)
	assert.InDelta(t, 0.25, down, 1e-12)

	assert.Zero(t, SlopeFactor(0, 180, 0, w))
	assert.InDelta(t, 0.5, SlopeFactor(22.5, -1, 180, w), 1e-12, "flat aspect applies no directional scaling")
	assert.Equal(t, 1.0, SlopeFactor(80, 180, 0, w), "factor saturates at slope_max_deg")
}

func TestDryness(t *testing.T) {
	assert.InDelta(t, 0.5, Dryness(50, 1, 1), 1e-12)
	assert.Zero(t, Dryness(100, 1, 1))
	assert.Zero(t, Dryness(95, 1.1, 1), "humidity above 100% clamps to saturated")
	assert.Equal(t, 1.0, Dryness(0, 1, 1.05), "dryness clamps to 1")
}

func TestPotential_BoundedAndDeterministic(t *testing.T) {
	w := DefaultWeights()
	for u := -20.0; u <= 20; u += 5 {
		for v := -20.0; v <= 20; v += 5 {
			for b := 0.0; b < 360; b += 45 {
				for _, slope := range []float64{0, 10, 60} {
					in := Input{NeighborBearing: b, WindU: u, WindV: v, SlopeDeg: slope, AspectDeg: 90, Dryness: 0.8}
					p := Potential(in, w)
					require.False(t, math.IsNaN(p))
					require.GreaterOrEqual(t, p, 0.0)
					require.LessOrEqual(t, p, 1.0)
					require.Equal(t, p, Potential(in, w))
				}
			}
		}
	}
}

func TestPotential_ZeroDrivers(t *testing.T) {
	w := DefaultWeights()
	for b := 0.0; b < 360; b += 45 {
		assert.Zero(t, Potential(Input{NeighborBearing: b, AspectDeg: -1}, w))
	}
}

func TestPotential_WeightedSum(t *testing.T) {
	w := DefaultWeights()
	in := Input{NeighborBearing: 90, WindU: 5, SlopeDeg: 0, AspectDeg: -1, Dryness: 0.5}
	// 0.5*0.5 (wind) + 0.2*0.5 (dryness)
	assert.InDelta(t, 0.35, Potential(in, w), 1e-12)
}
