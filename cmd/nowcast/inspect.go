package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"emberguide.ai/internal/persistence/archive"
	"emberguide.ai/internal/persistence/indexdb"
	"emberguide.ai/internal/persistence/snapshot"
)

type inspectFlags struct {
	snapshot string
	archive  string
	index    string
	fire     string
}

func newInspectCmd(a *app) *cobra.Command {
	var f inspectFlags
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show stored forecasts",
		Long: `Prints a snapshot's header and per-horizon metrics (--snapshot), the
archived runs of a fire (--archive) or the indexed runs (--index).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.snapshot == "" && f.archive == "" && f.index == "" {
				return fmt.Errorf("one of --snapshot, --archive or --index is required")
			}
			return inspect(cmd.Context(), cmd.OutOrStdout(), f)
		},
	}
	cmd.Flags().StringVar(&f.snapshot, "snapshot", "", "path to .snap.zst")
	cmd.Flags().StringVar(&f.archive, "archive", "", "archive root")
	cmd.Flags().StringVar(&f.index, "index", "", "SQLite index path")
	cmd.Flags().StringVar(&f.fire, "fire", "", "fire id filter")
	return cmd
}

func inspect(ctx context.Context, w io.Writer, f inspectFlags) error {
	if f.snapshot != "" {
		snap, err := snapshot.ReadSnapshot(f.snapshot)
		if err != nil {
			return fmt.Errorf("read snapshot: %w", err)
		}
		fc := snap.Forecast
		fmt.Fprintf(w, "fire=%s run=%s status=%s created=%s digest=%s\n",
			snap.Header.FireID, snap.Header.RunID, snap.Header.Status, snap.Header.CreatedAt.Format("2006-01-02T15:04:05Z"), snap.Header.Digest)
		fmt.Fprintf(w, "grid=%dx%d crs=%s calibrated=%t method=%s\n",
			fc.Grid.Height, fc.Grid.Width, fc.Grid.CRS, fc.Calibrated, fc.CalibrationMethod)
		for _, p := range fc.Horizons {
			fmt.Fprintf(w, "  h=%d max=%.4f mean=%.4f affected_km2=%.4f\n",
				p.Step, p.Metrics.MaxProbability, p.Metrics.MeanProbability, p.Metrics.AffectedAreaKm2)
		}
	}
	if f.archive != "" {
		if f.fire == "" {
			return fmt.Errorf("--archive needs --fire")
		}
		runs, err := archive.ListRuns(f.archive, f.fire)
		if err != nil {
			return fmt.Errorf("list archive: %w", err)
		}
		for _, r := range runs {
			fmt.Fprintf(w, "archived run=%s status=%s seed=%d created=%s digest=%s\n",
				r.RunID, r.Status, r.Seed, r.CreatedAt, r.Digest)
		}
	}
	if f.index != "" {
		idx, err := indexdb.OpenSQLite(f.index)
		if err != nil {
			return fmt.Errorf("open index: %w", err)
		}
		defer func() { _ = idx.Close() }()
		runs, err := idx.Runs(ctx, f.fire)
		if err != nil {
			return fmt.Errorf("query index: %w", err)
		}
		for _, r := range runs {
			fmt.Fprintf(w, "indexed run=%s fire=%s status=%s members=%d/%d duration_ms=%d\n",
				r.RunID, r.FireID, r.Status, r.Succeeded, r.EnsembleSize, r.DurationMs)
		}
	}
	return nil
}
