package indexdb

import (
	"context"
	"time"
)

const runColumns = `run_id,fire_id,seed,config_fingerprint,domain_digest,digest,status,COALESCE(reason,''),ensemble_size,succeeded,failed,cancelled,calibrated,COALESCE(calibration_method,''),started_at,duration_ms,COALESCE(snapshot_path,'')`

// Runs lists indexed runs oldest first. An empty fireID lists every fire.
func (s *SQLiteIndex) Runs(ctx context.Context, fireID string) ([]RunRow, error) {
	q := `SELECT ` + runColumns + ` FROM runs`
	var args []any
	if fireID != "" {
		q += ` WHERE fire_id=?`
		args = append(args, fireID)
	}
	q += ` ORDER BY started_at, run_id`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRow
	for rows.Next() {
		var (
			r       RunRow
			started string
		)
		if err := rows.Scan(
			&r.RunID, &r.FireID, &r.Seed, &r.ConfigFingerprint, &r.DomainDigest, &r.Digest,
			&r.Status, &r.Reason, &r.EnsembleSize, &r.Succeeded, &r.Failed, &r.Cancelled,
			&r.Calibrated, &r.CalibrationMethod, &started, &r.DurationMs, &r.SnapshotPath,
		); err != nil {
			return nil, err
		}
		if t, err := time.Parse(timeLayout, started); err == nil {
			r.StartedAt = t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Horizons returns the per-horizon summary rows of a run ordered by step.
func (s *SQLiteIndex) Horizons(ctx context.Context, runID string) ([]HorizonRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT step,max_probability,mean_probability,affected_area_km2 FROM horizons WHERE run_id=? ORDER BY step`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HorizonRow
	for rows.Next() {
		var h HorizonRow
		if err := rows.Scan(&h.Step, &h.MaxProbability, &h.MeanProbability, &h.AffectedAreaKm2); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// MemberCounts tallies indexed member rows of a run by status.
func (s *SQLiteIndex) MemberCounts(ctx context.Context, runID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM members WHERE run_id=? GROUP BY status`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}
