package ensemble

import (
	"math"

	"emberguide.ai/internal/sim/grid"
	"emberguide.ai/internal/sim/logic/mathx"
	"emberguide.ai/internal/sim/stepper"
)

// NoDirection marks cells without a defined spread direction.
const NoDirection = -1.0

// fixedScale quantizes unit vectors so direction sums are exact integers.
const fixedScale = 1e9

// Horizon is the aggregate for one reporting step.
type Horizon struct {
	Step        int       `json:"step"`
	Probability []float64 `json:"probability"`
	Direction   []float64 `json:"direction"`
	Uncertainty []float64 `json:"uncertainty"`
}

// Accumulator reduces member outcomes into per-horizon counts. Every field
// is an integer sum, so Add and Merge give identical results in any order.
type Accumulator struct {
	horizons []int
	cells    int
	members  int64

	// Unit vectors of the bearing from each cell's nearest seed, fixed
	// point. Zero for the seed cells themselves.
	sinQ, cosQ []int64

	burned [][]int64
	sinSum [][]int64
	cosSum [][]int64
}

// NewAccumulator prepares an empty reduction over d for the given horizons.
func NewAccumulator(d *grid.Domain, horizons []int) *Accumulator {
	n := d.Len()
	a := &Accumulator{
		horizons: append([]int(nil), horizons...),
		cells:    n,
		sinQ:     make([]int64, n),
		cosQ:     make([]int64, n),
		burned:   make([][]int64, len(horizons)),
		sinSum:   make([][]int64, len(horizons)),
		cosSum:   make([][]int64, len(horizons)),
	}
	seeds := d.Seeds()
	for idx := 0; idx < n; idx++ {
		if d.NoData(idx) {
			continue
		}
		s := seeds[d.NearestSeed(idx)]
		if s.Cell == idx {
			continue
		}
		rad := mathx.Radians(d.BearingBetween(s.Cell, idx))
		a.sinQ[idx] = int64(math.Round(math.Sin(rad) * fixedScale))
		a.cosQ[idx] = int64(math.Round(math.Cos(rad) * fixedScale))
	}
	for h := range horizons {
		a.burned[h] = make([]int64, n)
		a.sinSum[h] = make([]int64, n)
		a.cosSum[h] = make([]int64, n)
	}
	return a
}

// Members is the number of outcomes added so far.
func (a *Accumulator) Members() int64 { return a.members }

func (a *Accumulator) Add(o stepper.Outcome) {
	a.members++
	for h, step := range a.horizons {
		burned, sinSum, cosSum := a.burned[h], a.sinSum[h], a.cosSum[h]
		for idx := 0; idx < a.cells; idx++ {
			if !o.BurnedBy(idx, step) {
				continue
			}
			burned[idx]++
			sinSum[idx] += a.sinQ[idx]
			cosSum[idx] += a.cosQ[idx]
		}
	}
}

// Merge folds b into a. Both must cover the same domain and horizons.
func (a *Accumulator) Merge(b *Accumulator) {
	a.members += b.members
	for h := range a.horizons {
		for idx := 0; idx < a.cells; idx++ {
			a.burned[h][idx] += b.burned[h][idx]
			a.sinSum[h][idx] += b.sinSum[h][idx]
			a.cosSum[h][idx] += b.cosSum[h][idx]
		}
	}
}

// Horizons computes the probability, direction and uncertainty grids. It
// returns nil when no member was added.
func (a *Accumulator) Horizons() []Horizon {
	if a.members == 0 {
		return nil
	}
	total := float64(a.members)
	out := make([]Horizon, len(a.horizons))
	for h, step := range a.horizons {
		hz := Horizon{
			Step:        step,
			Probability: make([]float64, a.cells),
			Direction:   make([]float64, a.cells),
			Uncertainty: make([]float64, a.cells),
		}
		for idx := 0; idx < a.cells; idx++ {
			p := float64(a.burned[h][idx]) / total
			hz.Probability[idx] = p
			hz.Uncertainty[idx] = math.Sqrt(p * (1 - p))
			hz.Direction[idx] = NoDirection
			s, c := a.sinSum[h][idx], a.cosSum[h][idx]
			if a.burned[h][idx] > 0 && (s != 0 || c != 0) {
				hz.Direction[idx] = mathx.NormDeg(mathx.Degrees(math.Atan2(float64(s), float64(c))))
			}
		}
		out[h] = hz
	}
	return out
}
