package scenario

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emberguide.ai/internal/sim/grid"
	"emberguide.ai/internal/sim/simerr"
)

const sample = `
fire_id: ridge-3
width: 3
height: 2
crs: EPSG:32610
transform: {origin_x: 1000, origin_y: 2000, res_x: 30, res_y: 30}
layers:
  wind_u: {uniform: 4}
  wind_v: {values: [0, 1, 2, 3, 4, .nan]}
  temperature_c: {uniform: 30}
  dewpoint_c: {uniform: 10}
  slope: {uniform: 5}
  aspect: {uniform: 180}
nodata: [[0, 2]]
seeds:
  - {row: 1, col: 0, confidence: 80, detected_at: 2024-08-01T12:00:00Z}
  - {x: 1045, y: 1985, confidence: 60}
features: {wind_speed: 4}
`

func TestParse_BuildsDomain(t *testing.T) {
	s, err := Parse([]byte(sample))
	require.NoError(t, err)
	assert.Equal(t, "ridge-3", s.FireID)
	assert.Equal(t, 4.0, s.Features["wind_speed"])

	layers, err := s.GridLayers()
	require.NoError(t, err)
	require.Contains(t, layers, grid.LayerWindV)
	assert.True(t, math.IsNaN(layers[grid.LayerWindV].Values[5]))

	d, err := s.Domain(grid.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 3, d.Width())
	assert.Equal(t, 2, d.Height())
	assert.True(t, d.NoData(2), "listed nodata cell")
	assert.True(t, d.NoData(5), "NaN cell")
	assert.Equal(t, 2, d.NoDataCount())
	assert.True(t, d.HasTemperature())
	assert.InDelta(t, grid.RelativeHumidity(30, 10), d.RH(0), 1e-12)

	seeds := d.Seeds()
	require.Len(t, seeds, 2)
	assert.Equal(t, 1, seeds[0].Cell)
	assert.Equal(t, 3, seeds[1].Cell)
	assert.Equal(t, time.Date(2024, 8, 1, 12, 0, 0, 0, time.UTC), seeds[1].DetectedAt)
}

func TestParse_Invalid(t *testing.T) {
	cases := map[string]string{
		"empty_grid":     "width: 0\nheight: 2\n",
		"bad_yaml":       "width: [1\n",
		"fire_id_parent": "fire_id: ../x\nwidth: 2\nheight: 2\n",
		"fire_id_slash":  "fire_id: a/b\nwidth: 2\nheight: 2\n",
		"fire_id_dotdot": "fire_id: \"..\"\nwidth: 2\nheight: 2\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(body))
			require.Error(t, err)
			assert.True(t, errors.Is(err, simerr.ErrInputValidation))
		})
	}
}

func TestScenario_BadParts(t *testing.T) {
	s := &Scenario{Width: 2, Height: 2, Layers: map[string]Layer{"wind_u": {}}}
	_, err := s.GridLayers()
	assert.Error(t, err)

	one := 1.0
	s.Layers["wind_u"] = Layer{Uniform: &one, Values: []float64{1, 1, 1, 1}}
	_, err = s.GridLayers()
	assert.Error(t, err)

	s.NoData = [][2]int{{2, 0}}
	_, err = s.Mask()
	assert.Error(t, err)

	s.Seeds = []Seed{{Confidence: 50}}
	_, err = s.GridSeeds()
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	p := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(p, []byte(sample), 0o644))
	s, err := Load(p)
	require.NoError(t, err)
	assert.Len(t, s.Seeds, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
