package snapshot

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emberguide.ai/internal/sim/ensemble"
	"emberguide.ai/internal/sim/grid"
	"emberguide.ai/internal/sim/nowcast"
	"emberguide.ai/internal/sim/tuning"
)

func testForecast(t *testing.T) (nowcast.Request, tuning.Config, *nowcast.Forecast) {
	t.Helper()
	tr := grid.GeoTransform{OriginX: 0, OriginY: 700, ResX: 100, ResY: 100}
	layers := grid.Layers{
		grid.LayerWindU:  grid.Uniform(7, 7, tr, "local", 5),
		grid.LayerWindV:  grid.Uniform(7, 7, tr, "local", 2),
		grid.LayerRH:     grid.Uniform(7, 7, tr, "local", 40),
		grid.LayerSlope:  grid.Uniform(7, 7, tr, "local", 0),
		grid.LayerAspect: grid.Uniform(7, 7, tr, "local", -1),
	}
	layers[grid.LayerRH].Values[0] = math.NaN()
	req := nowcast.Request{
		FireID: "snap-1",
		Layers: layers,
		Seeds:  []grid.Seed{{Row: 3, Col: 2, Confidence: 70, DetectedAt: time.Date(2024, 7, 1, 3, 0, 0, 0, time.UTC)}},
	}
	cfg := tuning.Defaults()
	cfg.EnsembleSize = 8
	cfg.Horizons = []int{1, 3}
	cfg.Normalize()

	f, err := nowcast.New(nil, nil, nil).Run(context.Background(), req, cfg)
	require.NoError(t, err)
	return req, cfg, f
}

func TestSnapshot_WriteRead(t *testing.T) {
	req, cfg, f := testForecast(t)
	now := time.Date(2024, 7, 1, 4, 0, 0, 0, time.UTC)
	path := filepath.Join(t.TempDir(), "fires", "snap-1", "forecast.snap.zst")

	require.NoError(t, WriteSnapshot(path, New(req, cfg, f, now)))

	h, err := ReadHeader(path)
	require.NoError(t, err)
	assert.Equal(t, Version, h.Version)
	assert.Equal(t, "snap-1", h.FireID)
	assert.Equal(t, f.Metadata.RunID, h.RunID)
	assert.Equal(t, f.Metadata.Digest, h.Digest)
	assert.Equal(t, "success", h.Status)
	assert.True(t, now.Equal(h.CreatedAt))

	got, err := ReadSnapshot(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Fingerprint(), got.Config.Fingerprint())
	assert.Equal(t, cfg.Workers, got.Config.Workers)
	assert.Equal(t, req.Seeds[0].Row, got.Request.Seeds[0].Row)
	assert.True(t, math.IsNaN(got.Request.Layers[grid.LayerRH].Values[0]))
	assert.Equal(t, f.Metadata.Digest, got.Forecast.Metadata.Digest)
	require.Len(t, got.Forecast.Horizons, 2)
	assert.Equal(t, f.Horizons[1].Probability, got.Forecast.Horizons[1].Probability)

	// The stored grids reproduce the recorded digest.
	var hs []ensemble.Horizon
	for _, p := range got.Forecast.Horizons {
		hs = append(hs, ensemble.Horizon{Step: p.Step, Probability: p.RawProbability, Direction: p.Direction, Uncertainty: p.Uncertainty})
	}
	assert.Equal(t, got.Header.Digest, ensemble.DigestHorizons(hs))
}

func TestReadSnapshot_Version(t *testing.T) {
	req, cfg, f := testForecast(t)
	snap := New(req, cfg, f, time.Now())
	snap.Header.Version = 99
	path := filepath.Join(t.TempDir(), "future.snap.zst")
	require.NoError(t, WriteSnapshot(path, snap))

	_, err := ReadSnapshot(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrVersion))
}

func TestReadSnapshot_Missing(t *testing.T) {
	_, err := ReadSnapshot(filepath.Join(t.TempDir(), "none"))
	assert.Error(t, err)
	_, err = ReadHeader(filepath.Join(t.TempDir(), "none"))
	assert.Error(t, err)
}
