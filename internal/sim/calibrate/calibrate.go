// Package calibrate maps raw ensemble frequencies to calibrated
// probabilities. Every mapping is monotonic non-decreasing in the raw value,
// so calibration never reorders cells by risk.
package calibrate

import (
	"fmt"
	"math"
	"sort"

	"emberguide.ai/internal/sim/logic/mathx"
	"emberguide.ai/internal/sim/simerr"
)

type Method string

const (
	MethodIdentity   Method = "identity"
	MethodIsotonic   Method = "isotonic"
	MethodParametric Method = "parametric"
)

// Features are per-run context values a parametric model may condition on.
type Features map[string]float64

type Calibrator interface {
	Method() Method
	Transform(raw float64, f Features) (float64, error)
}

// Identity passes raw frequencies through. Output produced with it is
// flagged uncalibrated.
type Identity struct{}

func (Identity) Method() Method { return MethodIdentity }

func (Identity) Transform(raw float64, _ Features) (float64, error) {
	return mathx.Clamp01(raw), nil
}

// Table is a fitted isotonic step function evaluated with linear
// interpolation between thresholds. Inputs outside [X[0], X[n-1]] are
// clipped to the end values.
type Table struct {
	x, y []float64
}

func NewTable(x, y []float64) (*Table, error) {
	if len(x) == 0 || len(x) != len(y) {
		return nil, fmt.Errorf("table: %d thresholds, %d values", len(x), len(y))
	}
	for i := range x {
		if !mathx.IsFinite(x[i]) || !mathx.IsFinite(y[i]) {
			return nil, fmt.Errorf("table: non-finite entry at %d", i)
		}
		if y[i] < 0 || y[i] > 1 {
			return nil, fmt.Errorf("table: y[%d]=%v outside [0,1]", i, y[i])
		}
		if i > 0 && x[i] < x[i-1] {
			return nil, fmt.Errorf("table: thresholds decrease at %d", i)
		}
		if i > 0 && y[i] < y[i-1] {
			return nil, fmt.Errorf("table: values decrease at %d", i)
		}
	}
	return &Table{x: append([]float64(nil), x...), y: append([]float64(nil), y...)}, nil
}

func (*Table) Method() Method { return MethodIsotonic }

func (t *Table) Transform(raw float64, _ Features) (float64, error) {
	if math.IsNaN(raw) {
		return 0, fmt.Errorf("table: NaN input")
	}
	n := len(t.x)
	if raw <= t.x[0] {
		return t.y[0], nil
	}
	if raw >= t.x[n-1] {
		return t.y[n-1], nil
	}
	// First threshold strictly above raw; t.x[i-1] <= raw < t.x[i].
	i := sort.Search(n, func(k int) bool { return t.x[k] > raw })
	x0, x1 := t.x[i-1], t.x[i]
	y0, y1 := t.y[i-1], t.y[i]
	frac := (raw - x0) / (x1 - x0)
	return y0 + float64((y1-y0)*frac), nil
}

// Parametric is a logistic model sigmoid(Slope*raw + Intercept + sum w_i*f_i).
// Slope must be non-negative.
type Parametric struct {
	slope, intercept float64
	names            []string
	weights          []float64
}

func NewParametric(slope, intercept float64, weights map[string]float64) (*Parametric, error) {
	if !mathx.IsFinite(slope) || slope < 0 {
		return nil, fmt.Errorf("parametric: slope must be finite and >= 0, got %v", slope)
	}
	if !mathx.IsFinite(intercept) {
		return nil, fmt.Errorf("parametric: non-finite intercept")
	}
	p := &Parametric{slope: slope, intercept: intercept}
	for name := range weights {
		p.names = append(p.names, name)
	}
	// Fixed summation order keeps results bit-identical across runs.
	sort.Strings(p.names)
	for _, name := range p.names {
		w := weights[name]
		if !mathx.IsFinite(w) {
			return nil, fmt.Errorf("parametric: non-finite weight %q", name)
		}
		p.weights = append(p.weights, w)
	}
	return p, nil
}

func (*Parametric) Method() Method { return MethodParametric }

func (p *Parametric) Transform(raw float64, f Features) (float64, error) {
	if math.IsNaN(raw) {
		return 0, fmt.Errorf("parametric: NaN input")
	}
	z := float64(p.slope*raw) + p.intercept
	for i, name := range p.names {
		v, ok := f[name]
		if !ok {
			return 0, simerr.New(simerr.CodeInputValidation, fmt.Sprintf("parametric: missing feature %q", name))
		}
		z += float64(p.weights[i] * v)
	}
	return 1 / (1 + math.Exp(-z)), nil
}

// Apply transforms a probability grid, clamping results to [0,1].
func Apply(c Calibrator, raw []float64, f Features) ([]float64, error) {
	out := make([]float64, len(raw))
	for i, v := range raw {
		p, err := c.Transform(v, f)
		if err != nil {
			return nil, fmt.Errorf("cell %d: %w", i, err)
		}
		out[i] = mathx.Clamp01(p)
	}
	return out, nil
}

// monotonicProbes is the number of evenly spaced raw values checked by
// CheckMonotonic.
const monotonicProbes = 101

// CheckMonotonic probes c over [0,1] and reports the first decrease.
func CheckMonotonic(c Calibrator, f Features) error {
	prev := math.Inf(-1)
	for i := 0; i < monotonicProbes; i++ {
		raw := float64(i) / float64(monotonicProbes-1)
		v, err := c.Transform(raw, f)
		if err != nil {
			return err
		}
		if v < prev {
			return fmt.Errorf("%s: output decreases at raw=%v (%v < %v)", c.Method(), raw, v, prev)
		}
		prev = v
	}
	return nil
}
