package nowcast

import (
	"gonum.org/v1/gonum/floats"

	"emberguide.ai/internal/sim/calibrate"
	"emberguide.ai/internal/sim/ensemble"
	"emberguide.ai/internal/sim/grid"
)

// AffectedThreshold is the calibrated probability above which a cell counts
// toward the affected area.
const AffectedThreshold = 0.5

type GridInfo struct {
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	CRS       string            `json:"crs"`
	Transform grid.GeoTransform `json:"transform"`
}

func gridInfo(d *grid.Domain) GridInfo {
	return GridInfo{Width: d.Width(), Height: d.Height(), CRS: d.CRS(), Transform: d.Transform()}
}

type Forecast struct {
	Metadata          ensemble.Metadata `json:"metadata"`
	Grid              GridInfo          `json:"grid"`
	Calibrated        bool              `json:"calibrated"`
	CalibrationMethod calibrate.Method  `json:"calibration_method,omitempty"`
	// CalibrationError is set when a configured model could not be applied
	// and raw frequencies were reported instead.
	CalibrationError string    `json:"calibration_error,omitempty"`
	Horizons         []Product `json:"horizons"`
}

// Product is the per-horizon output.
type Product struct {
	Step           int       `json:"step"`
	Probability    []float64 `json:"probability"`
	RawProbability []float64 `json:"raw_probability"`
	Direction      []float64 `json:"direction"`
	Uncertainty    []float64 `json:"uncertainty"`
	Metrics        Metrics   `json:"metrics"`
}

type Metrics struct {
	MaxProbability  float64 `json:"max_probability"`
	MeanProbability float64 `json:"mean_probability"`
	AffectedAreaKm2 float64 `json:"affected_area_km2"`
}

func newProduct(hz ensemble.Horizon, probs []float64, cellAreaKm2 float64) Product {
	return Product{
		Step:           hz.Step,
		Probability:    probs,
		RawProbability: hz.Probability,
		Direction:      hz.Direction,
		Uncertainty:    hz.Uncertainty,
		Metrics:        computeMetrics(probs, cellAreaKm2),
	}
}

func computeMetrics(probs []float64, cellAreaKm2 float64) Metrics {
	if len(probs) == 0 {
		return Metrics{}
	}
	affected := 0
	for _, p := range probs {
		if p > AffectedThreshold {
			affected++
		}
	}
	return Metrics{
		MaxProbability:  floats.Max(probs),
		MeanProbability: floats.Sum(probs) / float64(len(probs)),
		AffectedAreaKm2: float64(affected) * cellAreaKm2,
	}
}

// Horizon returns the product for step, or false.
func (f *Forecast) Horizon(step int) (Product, bool) {
	for _, p := range f.Horizons {
		if p.Step == step {
			return p, true
		}
	}
	return Product{}, false
}
