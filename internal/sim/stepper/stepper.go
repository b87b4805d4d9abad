// Package stepper advances one ensemble member's burn-state grid through
// discrete hourly steps.
package stepper

import (
	"context"
	"fmt"
	"sort"

	"emberguide.ai/internal/sim/grid"
	"emberguide.ai/internal/sim/kernel"
	"emberguide.ai/internal/sim/logic/mathx"
	"emberguide.ai/internal/sim/perturb"
	"emberguide.ai/internal/sim/simerr"
)

type State uint8

const (
	Unburned State = iota
	Burning
	Burned
)

func (s State) String() string {
	switch s {
	case Unburned:
		return "unburned"
	case Burning:
		return "burning"
	case Burned:
		return "burned"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// NotIgnited marks cells that never caught fire in IgnitionStep.
const NotIgnited int32 = -1

type Config struct {
	SpreadThreshold float64
	// BurnSteps is how many steps a cell keeps igniting neighbors before it
	// burns out.
	BurnSteps int
}

// Member is one realization. It is not safe for concurrent use; each worker
// owns its member exclusively.
type Member struct {
	d   *grid.Domain
	w   kernel.Weights
	p   perturb.Vector
	cfg Config

	windU, windV []float64
	dryness      []float64

	state    []State
	age      []int32
	ignition []int32
	burning  []int
	pending  []bool
	ignited  []int
	step     int
}

func New(d *grid.Domain, w kernel.Weights, p perturb.Vector, cfg Config) (*Member, error) {
	if cfg.BurnSteps < 1 {
		cfg.BurnSteps = 1
	}
	n := d.Len()
	m := &Member{
		d:        d,
		w:        w,
		p:        p,
		cfg:      cfg,
		windU:    make([]float64, n),
		windV:    make([]float64, n),
		dryness:  make([]float64, n),
		state:    make([]State, n),
		age:      make([]int32, n),
		ignition: make([]int32, n),
		pending:  make([]bool, n),
	}
	for i := 0; i < n; i++ {
		m.ignition[i] = NotIgnited
		if d.NoData(i) {
			continue
		}
		m.windU[i] = d.WindU(i) * p.WindScale
		m.windV[i] = d.WindV(i) * p.WindScale
		m.dryness[i] = kernel.Dryness(d.RH(i), p.RHScale, p.TempScale)
		if !mathx.IsFinite(m.windU[i]) || !mathx.IsFinite(m.windV[i]) || !mathx.IsFinite(m.dryness[i]) {
			row, col := d.RowCol(i)
			return nil, simerr.New(simerr.CodeMemberFailure, fmt.Sprintf("non-finite perturbed input at (%d,%d)", row, col))
		}
	}
	for _, s := range d.Seeds() {
		m.state[s.Cell] = Burning
		m.ignition[s.Cell] = 0
		m.burning = append(m.burning, s.Cell)
	}
	return m, nil
}

func (m *Member) State(idx int) State { return m.state[idx] }

// Steps is the number of steps taken so far.
func (m *Member) Steps() int { return m.step }

func (m *Member) Active() bool { return len(m.burning) > 0 }

// Step performs one synchronous update. Ignitions found during the step take
// effect only after every burning cell has been visited.
func (m *Member) Step() {
	m.step++
	offsets := m.d.Offsets()
	m.ignited = m.ignited[:0]
	for _, b := range m.burning {
		for k, o := range offsets {
			nb, ok := m.d.Neighbor(b, k)
			if !ok || m.state[nb] != Unburned || m.pending[nb] {
				continue
			}
			p := kernel.Potential(kernel.Input{
				NeighborBearing: o.Bearing,
				WindU:           m.windU[b],
				WindV:           m.windV[b],
				SlopeDeg:        m.d.Slope(b),
				AspectDeg:       m.d.Aspect(b),
				Dryness:         m.dryness[nb],
			}, m.w)
			if p > m.cfg.SpreadThreshold {
				m.pending[nb] = true
				m.ignited = append(m.ignited, nb)
			}
		}
	}

	still := m.burning[:0]
	for _, b := range m.burning {
		m.age[b]++
		if int(m.age[b]) >= m.cfg.BurnSteps {
			m.state[b] = Burned
			continue
		}
		still = append(still, b)
	}
	for _, nb := range m.ignited {
		m.pending[nb] = false
		m.state[nb] = Burning
		m.ignition[nb] = int32(m.step)
		still = append(still, nb)
	}
	sort.Ints(still)
	m.burning = still
}

// Outcome is the record a member leaves behind for aggregation.
type Outcome struct {
	// IgnitionStep holds the step each cell caught fire, 0 for seeds and
	// NotIgnited for cells that never burned.
	IgnitionStep []int32
	Steps        int
	Perturbation perturb.Vector
}

// BurnedBy reports whether cell idx had ignited by the end of step h.
func (o Outcome) BurnedBy(idx, h int) bool {
	s := o.IgnitionStep[idx]
	return s != NotIgnited && int(s) <= h
}

// Burned counts cells that ignited at any step.
func (o Outcome) Burned() int {
	n := 0
	for _, s := range o.IgnitionStep {
		if s != NotIgnited {
			n++
		}
	}
	return n
}

// Run steps until horizon or until nothing is burning. ctx is checked
// between steps.
func (m *Member) Run(ctx context.Context, horizon int) (Outcome, error) {
	for m.step < horizon && m.Active() {
		if err := ctx.Err(); err != nil {
			return Outcome{}, simerr.Wrap(simerr.CodeCancelled, fmt.Sprintf("member stopped at step %d", m.step), err)
		}
		m.Step()
	}
	out := make([]int32, len(m.ignition))
	copy(out, m.ignition)
	return Outcome{IgnitionStep: out, Steps: m.step, Perturbation: m.p}, nil
}
