package calibrate

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"emberguide.ai/internal/sim/simerr"
)

//go:embed calibration.schema.json
var schemaJSON string

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func artifactSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.CompileString("calibration.schema.json", schemaJSON)
	})
	return schema, schemaErr
}

// Artifact is the on-disk form of a trained calibration model. Training
// fits on fire events held out by event, never by cell, and records the
// sample count and seed it used.
type Artifact struct {
	Method        Method    `json:"method"`
	Version       string    `json:"version"`
	NSamples      int       `json:"n_samples,omitempty"`
	Seed          int64     `json:"seed,omitempty"`
	FeatureSchema []string  `json:"feature_schema,omitempty"`
	Table         *tableDoc `json:"table,omitempty"`
	Parametric    *paramDoc `json:"parametric,omitempty"`
}

type tableDoc struct {
	X []float64 `json:"x"`
	Y []float64 `json:"y"`
}

type paramDoc struct {
	Slope     float64            `json:"slope"`
	Intercept float64            `json:"intercept"`
	Weights   map[string]float64 `json:"weights,omitempty"`
}

// Model is a loaded calibrator plus the provenance of its artifact.
type Model struct {
	Calibrator
	Version  string
	NSamples int
	Seed     int64
	Features []string
}

// Uncalibrated is the fallback used when no artifact is available.
func Uncalibrated() *Model {
	return &Model{Calibrator: Identity{}}
}

func (m *Model) Calibrated() bool { return m.Method() != MethodIdentity }

// Load reads an artifact file. A missing file is reported as
// ErrCalibrationUnavailable so callers can fall back to Uncalibrated.
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, simerr.Wrap(simerr.CodeCalibrationUnavailable, "calibration artifact not found", err)
		}
		return nil, simerr.Wrap(simerr.CodeCalibrationUnavailable, "read calibration artifact", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Parse validates data against the artifact schema, builds the calibrator
// and checks it is monotonic.
func Parse(data []byte) (*Model, error) {
	unavailable := func(msg string, err error) error {
		return simerr.Wrap(simerr.CodeCalibrationUnavailable, msg, err)
	}
	sch, err := artifactSchema()
	if err != nil {
		return nil, unavailable("compile artifact schema", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, unavailable("decode artifact", err)
	}
	if err := sch.Validate(doc); err != nil {
		return nil, unavailable("artifact schema", err)
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, unavailable("decode artifact", err)
	}

	m := &Model{Version: a.Version, NSamples: a.NSamples, Seed: a.Seed, Features: a.FeatureSchema}
	switch a.Method {
	case MethodIdentity:
		m.Calibrator = Identity{}
	case MethodIsotonic:
		t, err := NewTable(a.Table.X, a.Table.Y)
		if err != nil {
			return nil, unavailable("isotonic artifact", err)
		}
		m.Calibrator = t
	case MethodParametric:
		p, err := NewParametric(a.Parametric.Slope, a.Parametric.Intercept, a.Parametric.Weights)
		if err != nil {
			return nil, unavailable("parametric artifact", err)
		}
		for name := range a.Parametric.Weights {
			if !contains(a.FeatureSchema, name) {
				return nil, unavailable("parametric artifact", fmt.Errorf("weight %q not in feature_schema", name))
			}
		}
		m.Calibrator = p
	default:
		return nil, unavailable("artifact", fmt.Errorf("unknown method %q", a.Method))
	}

	probe := Features{}
	for _, name := range a.FeatureSchema {
		probe[name] = 0
	}
	if err := CheckMonotonic(m.Calibrator, probe); err != nil {
		return nil, unavailable("artifact not monotonic", err)
	}
	return m, nil
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}
