// Package scenario reads a YAML fire scenario: grid geometry, per-layer
// values (uniform or explicit row-major), a no-data list and seed
// detections.
package scenario

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"emberguide.ai/internal/sim/grid"
	"emberguide.ai/internal/sim/simerr"
)

type Scenario struct {
	FireID    string            `yaml:"fire_id"`
	Width     int               `yaml:"width"`
	Height    int               `yaml:"height"`
	CRS       string            `yaml:"crs"`
	Transform grid.GeoTransform `yaml:"transform"`
	Layers    map[string]Layer  `yaml:"layers"`
	// NoData lists [row, col] pairs to mask out.
	NoData [][2]int `yaml:"nodata"`
	Seeds  []Seed   `yaml:"seeds"`
	// Features are passed to the calibration model.
	Features map[string]float64 `yaml:"features"`
}

// Layer is either a constant or a full row-major grid. Use .nan in Values
// for no-data cells.
type Layer struct {
	Uniform *float64  `yaml:"uniform"`
	Values  []float64 `yaml:"values"`
}

type Seed struct {
	Row        *int      `yaml:"row"`
	Col        *int      `yaml:"col"`
	X          *float64  `yaml:"x"`
	Y          *float64  `yaml:"y"`
	Confidence float64   `yaml:"confidence"`
	DetectedAt time.Time `yaml:"detected_at"`
}

func Load(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

func Parse(raw []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, simerr.Wrap(simerr.CodeInputValidation, "decode scenario", err)
	}
	if s.Width <= 0 || s.Height <= 0 {
		return nil, invalid("grid must be at least 1x1, got %dx%d", s.Height, s.Width)
	}
	if err := CheckID(s.FireID); err != nil {
		return nil, fmt.Errorf("fire_id: %w", err)
	}
	return &s, nil
}

// CheckID rejects identifiers that cannot serve as a single path element,
// since fire and run ids name output directories.
func CheckID(id string) error {
	if id == "." || id == ".." || strings.ContainsAny(id, "/\\\x00") {
		return invalid("id %q must be a single path element", id)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return simerr.New(simerr.CodeInputValidation, fmt.Sprintf(format, args...))
}

// GridLayers expands every layer to a full raster.
func (s *Scenario) GridLayers() (grid.Layers, error) {
	out := make(grid.Layers, len(s.Layers))
	for name, l := range s.Layers {
		switch {
		case l.Uniform != nil && l.Values != nil:
			return nil, invalid("layer %s: set uniform or values, not both", name)
		case l.Uniform != nil:
			out[name] = grid.Uniform(s.Width, s.Height, s.Transform, s.CRS, *l.Uniform)
		case l.Values != nil:
			vals := make([]float64, len(l.Values))
			copy(vals, l.Values)
			out[name] = grid.Raster{Width: s.Width, Height: s.Height, Transform: s.Transform, CRS: s.CRS, Values: vals}
		default:
			return nil, invalid("layer %s: no values", name)
		}
	}
	return out, nil
}

// Mask returns the no-data mask, or nil when the scenario lists none.
func (s *Scenario) Mask() ([]bool, error) {
	if len(s.NoData) == 0 {
		return nil, nil
	}
	mask := make([]bool, s.Width*s.Height)
	for _, rc := range s.NoData {
		if rc[0] < 0 || rc[0] >= s.Height || rc[1] < 0 || rc[1] >= s.Width {
			return nil, invalid("nodata cell (%d,%d) outside %dx%d grid", rc[0], rc[1], s.Height, s.Width)
		}
		mask[rc[0]*s.Width+rc[1]] = true
	}
	return mask, nil
}

// GridSeeds converts seed entries. Each must give either row/col or x/y.
func (s *Scenario) GridSeeds() ([]grid.Seed, error) {
	out := make([]grid.Seed, 0, len(s.Seeds))
	for i, sd := range s.Seeds {
		gs := grid.Seed{Confidence: sd.Confidence, DetectedAt: sd.DetectedAt}
		switch {
		case sd.Row != nil && sd.Col != nil:
			gs.Row, gs.Col = *sd.Row, *sd.Col
		case sd.X != nil && sd.Y != nil:
			gs.Coord = &grid.Point{X: *sd.X, Y: *sd.Y}
		default:
			return nil, invalid("seed %d: need row/col or x/y", i)
		}
		out = append(out, gs)
	}
	return out, nil
}

// Domain builds the validated grid domain for this scenario.
func (s *Scenario) Domain(opts grid.Options) (*grid.Domain, error) {
	layers, err := s.GridLayers()
	if err != nil {
		return nil, err
	}
	mask, err := s.Mask()
	if err != nil {
		return nil, err
	}
	seeds, err := s.GridSeeds()
	if err != nil {
		return nil, err
	}
	return grid.New(layers, mask, seeds, opts)
}
