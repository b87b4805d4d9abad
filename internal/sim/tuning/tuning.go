// Package tuning holds the run configuration for a nowcast: ensemble size,
// horizons, kernel weights and perturbation ranges. A Config is loaded from
// YAML over Defaults, optionally overridden from the environment, then
// normalized and validated before use.
package tuning

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"sort"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"emberguide.ai/internal/sim/kernel"
	"emberguide.ai/internal/sim/logic/mathx"
	"emberguide.ai/internal/sim/perturb"
	"emberguide.ai/internal/sim/simerr"
)

type Config struct {
	Seed         int64 `yaml:"seed" json:"seed"`
	EnsembleSize int   `yaml:"ensemble_size" json:"ensemble_size"`
	// Horizons are step counts at which probability grids are reported.
	Horizons  []int `yaml:"horizons" json:"horizons"`
	BurnSteps int   `yaml:"burn_steps" json:"burn_steps"`
	// SpreadThreshold is the potential a neighbor must exceed to ignite.
	SpreadThreshold float64 `yaml:"spread_threshold" json:"spread_threshold"`
	Neighbors       int     `yaml:"neighbors" json:"neighbors"`

	Kernel       kernel.Weights `yaml:"kernel" json:"kernel"`
	Perturbation perturb.Ranges `yaml:"perturbation" json:"perturbation"`

	MaxFailureFraction float64 `yaml:"max_failure_fraction" json:"max_failure_fraction"`
	MaxNoDataFraction  float64 `yaml:"max_nodata_fraction" json:"max_nodata_fraction"`
	MinConfidence      float64 `yaml:"min_confidence" json:"min_confidence"`

	// Execution settings. They never change results and are left out of the
	// fingerprint.
	Workers int           `yaml:"workers" json:"-"`
	Timeout time.Duration `yaml:"timeout" json:"-"`
}

func Defaults() Config {
	return Config{
		Seed:               42,
		EnsembleSize:       50,
		Horizons:           []int{12, 24, 48},
		BurnSteps:          1,
		SpreadThreshold:    0.3,
		Neighbors:          8,
		Kernel:             kernel.DefaultWeights(),
		Perturbation:       perturb.DefaultRanges(),
		MaxFailureFraction: 0.2,
		MaxNoDataFraction:  0.5,
	}
}

func Load(path string) (Config, error) {
	cfg := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

type envOverrides struct {
	Seed         *int64         `env:"NOWCAST_SEED"`
	EnsembleSize *int           `env:"NOWCAST_ENSEMBLE_SIZE"`
	Horizons     []int          `env:"NOWCAST_HORIZONS" envSeparator:","`
	Workers      *int           `env:"NOWCAST_WORKERS"`
	Timeout      *time.Duration `env:"NOWCAST_TIMEOUT"`
}

// ApplyEnv overrides fields from NOWCAST_* variables. environ replaces the
// process environment when non-nil.
func (c *Config) ApplyEnv(environ map[string]string) error {
	var raw envOverrides
	if err := env.ParseWithOptions(&raw, env.Options{Environment: environ}); err != nil {
		return simerr.Wrap(simerr.CodeConfig, "parse env", err)
	}
	if raw.Seed != nil {
		c.Seed = *raw.Seed
	}
	if raw.EnsembleSize != nil {
		c.EnsembleSize = *raw.EnsembleSize
	}
	if len(raw.Horizons) > 0 {
		c.Horizons = raw.Horizons
	}
	if raw.Workers != nil {
		c.Workers = *raw.Workers
	}
	if raw.Timeout != nil {
		c.Timeout = *raw.Timeout
	}
	c.Normalize()
	return c.Validate()
}

// Normalize sorts and de-duplicates horizons and clamps Workers to the
// available cores.
func (c *Config) Normalize() {
	hs := append([]int(nil), c.Horizons...)
	sort.Ints(hs)
	out := hs[:0]
	for i, h := range hs {
		if i > 0 && h == hs[i-1] {
			continue
		}
		out = append(out, h)
	}
	c.Horizons = out

	if n := runtime.NumCPU(); c.Workers <= 0 || c.Workers > n {
		c.Workers = n
	}
}

func (c Config) Validate() error {
	bad := func(format string, args ...any) error {
		return simerr.New(simerr.CodeConfig, fmt.Sprintf(format, args...))
	}
	if c.EnsembleSize < 1 {
		return bad("ensemble_size must be >= 1, got %d", c.EnsembleSize)
	}
	if len(c.Horizons) == 0 {
		return bad("horizons must not be empty")
	}
	for _, h := range c.Horizons {
		if h < 1 {
			return bad("horizon must be >= 1, got %d", h)
		}
	}
	if c.BurnSteps < 1 {
		return bad("burn_steps must be >= 1, got %d", c.BurnSteps)
	}
	if !(c.SpreadThreshold >= 0 && c.SpreadThreshold < 1) {
		return bad("spread_threshold must be in [0,1), got %v", c.SpreadThreshold)
	}
	if c.Neighbors != 4 && c.Neighbors != 8 {
		return bad("neighbors must be 4 or 8, got %d", c.Neighbors)
	}
	k := c.Kernel
	for _, kw := range []struct {
		name string
		w    float64
	}{{"wind_weight", k.Wind}, {"slope_weight", k.Slope}, {"dryness_weight", k.Dryness}} {
		if !mathx.IsFinite(kw.w) || kw.w < 0 {
			return bad("kernel.%s must be finite and >= 0, got %v", kw.name, kw.w)
		}
	}
	if !(k.WindMaxMS > 0) || !(k.SlopeMaxDeg > 0) {
		return bad("kernel.wind_max_ms and kernel.slope_max_deg must be > 0")
	}
	if !(k.DownslopeScale >= 0 && k.DownslopeScale <= 1) {
		return bad("kernel.downslope_scale must be in [0,1], got %v", k.DownslopeScale)
	}
	if err := c.Perturbation.Validate(); err != nil {
		return simerr.Wrap(simerr.CodeConfig, "perturbation", err)
	}
	if !(c.MaxFailureFraction >= 0 && c.MaxFailureFraction <= 1) {
		return bad("max_failure_fraction must be in [0,1], got %v", c.MaxFailureFraction)
	}
	if !(c.MaxNoDataFraction >= 0 && c.MaxNoDataFraction <= 1) {
		return bad("max_nodata_fraction must be in [0,1], got %v", c.MaxNoDataFraction)
	}
	if !mathx.IsFinite(c.MinConfidence) {
		return bad("min_confidence must be finite")
	}
	if c.Timeout < 0 {
		return bad("timeout must be >= 0, got %s", c.Timeout)
	}
	return nil
}

// MaxHorizon is the number of steps a member must simulate.
func (c Config) MaxHorizon() int {
	if len(c.Horizons) == 0 {
		return 0
	}
	return c.Horizons[len(c.Horizons)-1]
}

// Fingerprint is a stable digest of every setting that affects results.
func (c Config) Fingerprint() string {
	b, _ := json.Marshal(c)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
