package main

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emberguide.ai/internal/persistence/snapshot"
	"emberguide.ai/internal/sim/simerr"
)

const (
	goldenScenario = "../../internal/sim/nowcast/testdata/golden_east.yaml"
	goldenTuning   = "../../internal/sim/nowcast/testdata/golden_east_tuning.yaml"
	neScenario     = "../../internal/sim/nowcast/testdata/golden_northeast.yaml"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append(args, "--log-level", "error"))
	err := root.Execute()
	return out.String(), err
}

func TestRunReplayInspect(t *testing.T) {
	dir := t.TempDir()
	snaps := filepath.Join(dir, "snaps")
	arch := filepath.Join(dir, "archive")
	idx := filepath.Join(dir, "index.db")
	members := filepath.Join(dir, "members")

	out, err := execute(t, "run",
		"--scenario", goldenScenario,
		"--config", goldenTuning,
		"--out", snaps,
		"--archive", arch,
		"--index", idx,
		"--member-log", members,
		"--workers", "2",
		"--verify",
	)
	require.NoError(t, err, out)
	assert.Contains(t, out, "fire=golden-east")
	assert.Contains(t, out, "status=success")
	assert.Contains(t, out, "h=3 max=1.0000")

	files, err := filepath.Glob(filepath.Join(snaps, "golden-east", "*.snap.zst"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	args := []string{"replay", "--snapshot", files[0]}
	logs, err := filepath.Glob(filepath.Join(members, "members", "members-*.jsonl.zst"))
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	if len(logs) == 1 {
		args = append(args, "--member-log", logs[0])
	}
	out, err = execute(t, args...)
	require.NoError(t, err, out)
	assert.Contains(t, out, "replay ok")

	out, err = execute(t, "inspect", "--snapshot", files[0], "--archive", arch, "--fire", "golden-east", "--index", idx)
	require.NoError(t, err, out)
	assert.Contains(t, out, "grid=9x9 crs=local calibrated=false")
	assert.Contains(t, out, "h=3 max=1.0000")
	assert.Contains(t, out, "archived run=")
	assert.Contains(t, out, "indexed run=")
	assert.Contains(t, out, "members=10/10")
}

func TestReplay_DigestMismatch(t *testing.T) {
	dir := t.TempDir()
	out, err := execute(t, "run", "--scenario", goldenScenario, "--config", goldenTuning, "--out", dir)
	require.NoError(t, err, out)

	files, err := filepath.Glob(filepath.Join(dir, "golden-east", "*.snap.zst"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	snap, err := snapshot.ReadSnapshot(files[0])
	require.NoError(t, err)
	snap.Header.Digest = "0000"
	tampered := filepath.Join(dir, "tampered.snap.zst")
	require.NoError(t, snapshot.WriteSnapshot(tampered, snap))

	_, err = execute(t, "replay", "--snapshot", tampered)
	require.Error(t, err)
	assert.True(t, errors.Is(err, simerr.ErrDeterminismViolation))
	assert.Equal(t, 3, exitCode(err))
}

func TestRun_Batch(t *testing.T) {
	dir := t.TempDir()
	out, err := execute(t, "run", "--scenario", goldenScenario, "--scenario", neScenario, "--out", dir)
	require.NoError(t, err, out)
	assert.Contains(t, out, "fire=golden-east")
	assert.Contains(t, out, "fire=golden-northeast")
}

func TestRun_BadScenario(t *testing.T) {
	_, err := execute(t, "run", "--scenario", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, 1, exitCode(err))
}

func TestRun_RequiresScenario(t *testing.T) {
	_, err := execute(t, "run")
	require.Error(t, err)
}

func TestInspect_RequiresSource(t *testing.T) {
	_, err := execute(t, "inspect")
	require.Error(t, err)
}
