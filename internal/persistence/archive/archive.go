package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"emberguide.ai/internal/persistence/snapshot"
	"emberguide.ai/internal/sim/scenario"
)

// RunMeta is written next to each archived snapshot as meta.json.
type RunMeta struct {
	FireID            string `json:"fire_id"`
	RunID             string `json:"run_id"`
	Seed              int64  `json:"seed"`
	ConfigFingerprint string `json:"config_fingerprint"`
	DomainDigest      string `json:"domain_digest"`
	Digest            string `json:"digest"`
	Status            string `json:"status"`
	Reason            string `json:"reason,omitempty"`
	EnsembleSize      int    `json:"ensemble_size"`
	Horizons          []int  `json:"horizons"`
	Calibrated        bool   `json:"calibrated"`
	Snapshot          string `json:"snapshot"`
	CreatedAt         string `json:"created_at"`
}

// ArchiveForecast copies a forecast snapshot into
// `root/archives/<fire_id>/<run_id>/` and writes meta.json beside it.
// Runs without output grids are not archived (archived=false).
func ArchiveForecast(root, snapshotPath string, snap snapshot.SnapshotV1) (archivedPath string, archived bool, err error) {
	md := snap.Forecast.Metadata
	if md.Digest == "" || snap.Header.FireID == "" || md.RunID == "" {
		return "", false, nil
	}

	for _, id := range []string{snap.Header.FireID, md.RunID} {
		if err := scenario.CheckID(id); err != nil {
			return "", false, err
		}
	}
	dir := RunDir(root, snap.Header.FireID, md.RunID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", false, err
	}
	dst := filepath.Join(dir, filepath.Base(snapshotPath))
	if err := copyFile(snapshotPath, dst); err != nil {
		return "", false, err
	}

	meta := RunMeta{
		FireID:            snap.Header.FireID,
		RunID:             md.RunID,
		Seed:              md.Seed,
		ConfigFingerprint: md.ConfigFingerprint,
		DomainDigest:      md.DomainDigest,
		Digest:            md.Digest,
		Status:            string(md.Status),
		Reason:            string(md.Reason),
		EnsembleSize:      md.EnsembleSize,
		Horizons:          snap.Config.Horizons,
		Calibrated:        snap.Forecast.Calibrated,
		Snapshot:          filepath.Base(dst),
		CreatedAt:         createdAt(snap.Header.CreatedAt),
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", false, err
	}
	if err := os.WriteFile(filepath.Join(dir, "meta.json"), b, 0o644); err != nil {
		return "", false, err
	}
	return dst, true, nil
}

// createdAt uses a fixed-width layout so ListRuns can sort the strings.
func createdAt(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}

func RunDir(root, fireID, runID string) string {
	return filepath.Join(root, "archives", fireID, runID)
}

// ListRuns returns the archived runs of a fire, oldest first.
func ListRuns(root, fireID string) ([]RunMeta, error) {
	if err := scenario.CheckID(fireID); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(root, "archives", fireID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []RunMeta
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		b, err := os.ReadFile(filepath.Join(root, "archives", fireID, e.Name(), "meta.json"))
		if err != nil {
			return nil, fmt.Errorf("run %s: %w", e.Name(), err)
		}
		var m RunMeta
		if err := json.Unmarshal(b, &m); err != nil {
			return nil, fmt.Errorf("run %s: %w", e.Name(), err)
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].RunID < out[j].RunID
	})
	return out, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
