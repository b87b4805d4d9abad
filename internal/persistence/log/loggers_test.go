package log

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emberguide.ai/internal/sim/ensemble"
	"emberguide.ai/internal/sim/grid"
	"emberguide.ai/internal/sim/tuning"
)

func TestJSONLZstdWriter_Rotates(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONLZstdWriter(dir, "x")
	clock := time.Date(2024, 9, 1, 10, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return clock }

	require.NoError(t, w.Write(map[string]int{"a": 1}))
	clock = clock.Add(2 * time.Minute)
	require.NoError(t, w.Write(map[string]int{"a": 2}))
	require.NoError(t, w.Close())

	files, err := filepath.Glob(filepath.Join(dir, "x-*.jsonl.zst"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		filepath.Join(dir, "x-2024-09-01-10.jsonl.zst"),
		filepath.Join(dir, "x-2024-09-01-11.jsonl.zst"),
	}, files)
}

func TestMemberLogger_WithRunner(t *testing.T) {
	tr := grid.GeoTransform{ResX: 100, ResY: 100}
	layers := grid.Layers{
		grid.LayerWindU:  grid.Uniform(6, 6, tr, "local", 6),
		grid.LayerWindV:  grid.Uniform(6, 6, tr, "local", 0),
		grid.LayerRH:     grid.Uniform(6, 6, tr, "local", 50),
		grid.LayerSlope:  grid.Uniform(6, 6, tr, "local", 0),
		grid.LayerAspect: grid.Uniform(6, 6, tr, "local", -1),
	}
	d, err := grid.New(layers, nil, []grid.Seed{{Row: 2, Col: 1}}, grid.DefaultOptions())
	require.NoError(t, err)
	cfg := tuning.Defaults()
	cfg.EnsembleSize = 5
	cfg.Horizons = []int{2}
	cfg.Normalize()

	dir := t.TempDir()
	ml := NewMemberLogger(dir)
	res, err := ensemble.NewRunner(ensemble.NewPool(0), nil).Run(context.Background(), d, cfg, ensemble.WithSink(ml), ensemble.WithFireID("f9"))
	require.NoError(t, err)
	require.NoError(t, ml.Close())

	files, err := filepath.Glob(filepath.Join(dir, "members", "members-*.jsonl.zst"))
	require.NoError(t, err)
	require.NotEmpty(t, files)

	var entries []MemberEntry
	for _, f := range files {
		es, err := ReadMembers(f)
		require.NoError(t, err)
		entries = append(entries, es...)
	}
	require.Len(t, entries, 5)
	for i, e := range entries {
		assert.Equal(t, i, e.Member)
		assert.Equal(t, res.Metadata.RunID, e.RunID)
		assert.Equal(t, "f9", e.FireID)
		assert.Equal(t, "ok", e.Status)

		steps, err := e.DecodeIgnition()
		require.NoError(t, err)
		require.Len(t, steps, 36)
		assert.Equal(t, int32(0), steps[d.Seed(0).Cell])
		burned := 0
		for _, s := range steps {
			if s >= 0 {
				burned++
			}
		}
		assert.Equal(t, e.Burned, burned)
	}
}
