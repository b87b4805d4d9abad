// Package perturb draws per-member weather perturbations from a counter-based
// generator keyed by (seed, member index).
//
// There is no generator state: a member's vector is a pure function of the
// run seed and its index, so members can be computed in any order, on any
// goroutine, and still reproduce exactly.
package perturb

import (
	"fmt"

	"emberguide.ai/internal/sim/logic/mathx"
)

// Stream ids select independent hash streams for each perturbed variable.
const (
	streamWind = iota
	streamRH
	streamTemp
)

// Range is a closed multiplicative interval [Min, Max].
type Range struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

func (r Range) at(u float64) float64 {
	return r.Min + float64((r.Max-r.Min)*u)
}

type Ranges struct {
	WindScale Range `yaml:"wind_scale" json:"wind_scale"`
	RHScale   Range `yaml:"rh_scale" json:"rh_scale"`
	TempScale Range `yaml:"temp_scale" json:"temp_scale"`
}

func DefaultRanges() Ranges {
	return Ranges{
		WindScale: Range{Min: 0.8, Max: 1.2},
		RHScale:   Range{Min: 0.9, Max: 1.1},
		TempScale: Range{Min: 0.95, Max: 1.05},
	}
}

func (r Ranges) Validate() error {
	check := func(name string, rg Range) error {
		if !mathx.IsFinite(rg.Min) || !mathx.IsFinite(rg.Max) {
			return fmt.Errorf("%s: non-finite bound", name)
		}
		if rg.Min <= 0 {
			return fmt.Errorf("%s: min must be > 0, got %v", name, rg.Min)
		}
		if rg.Max < rg.Min {
			return fmt.Errorf("%s: max %v < min %v", name, rg.Max, rg.Min)
		}
		return nil
	}
	if err := check("wind_scale", r.WindScale); err != nil {
		return err
	}
	if err := check("rh_scale", r.RHScale); err != nil {
		return err
	}
	return check("temp_scale", r.TempScale)
}

// Vector is one member's perturbation, applied uniformly to every cell and
// step of that member.
type Vector struct {
	WindScale float64 `json:"wind_scale"`
	RHScale   float64 `json:"rh_scale"`
	TempScale float64 `json:"temp_scale"`
}

// Identity leaves the inputs unchanged.
func Identity() Vector {
	return Vector{WindScale: 1, RHScale: 1, TempScale: 1}
}

// Sample returns the perturbation vector for member of the run seeded by seed.
func Sample(seed int64, member int, r Ranges) Vector {
	return Vector{
		WindScale: r.WindScale.at(mathx.Unit(mathx.Hash3(seed, member, streamWind, 0))),
		RHScale:   r.RHScale.at(mathx.Unit(mathx.Hash3(seed, member, streamRH, 0))),
		TempScale: r.TempScale.at(mathx.Unit(mathx.Hash3(seed, member, streamTemp, 0))),
	}
}
