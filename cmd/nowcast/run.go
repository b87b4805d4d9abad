package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"emberguide.ai/internal/persistence/archive"
	"emberguide.ai/internal/persistence/indexdb"
	mlog "emberguide.ai/internal/persistence/log"
	"emberguide.ai/internal/persistence/snapshot"
	"emberguide.ai/internal/sim/calibrate"
	"emberguide.ai/internal/sim/ensemble"
	"emberguide.ai/internal/sim/nowcast"
	"emberguide.ai/internal/sim/scenario"
	"emberguide.ai/internal/sim/tuning"
)

type runFlags struct {
	scenarios   []string
	config      string
	calibration string
	out         string
	archive     string
	index       string
	memberLog   string
	workers     int
	verify      bool
}

func newRunCmd(a *app) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the ensemble for one or more fire scenarios",
		Long: `Runs the ensemble for every --scenario and writes a forecast snapshot per
fire. Several scenarios run concurrently on one shared worker pool; a fire
that fails does not stop the others.

Example:
  nowcast run --scenario fire.yaml --config tuning.yaml --out ./forecasts`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), cmd.OutOrStdout(), f)
		},
	}
	fl := cmd.Flags()
	fl.StringSliceVar(&f.scenarios, "scenario", nil, "scenario YAML file (repeatable)")
	fl.StringVar(&f.config, "config", "", "tuning YAML file (defaults when empty)")
	fl.StringVar(&f.calibration, "calibration", "", "calibration artifact JSON (optional)")
	fl.StringVar(&f.out, "out", "./forecasts", "snapshot output directory")
	fl.StringVar(&f.archive, "archive", "", "archive root (optional)")
	fl.StringVar(&f.index, "index", "", "SQLite index path (optional)")
	fl.StringVar(&f.memberLog, "member-log", "", "member log directory (optional)")
	fl.IntVar(&f.workers, "workers", 0, "worker pool size (0 = config or all cores)")
	fl.BoolVar(&f.verify, "verify", false, "rerun serially and compare digests")
	_ = cmd.MarkFlagRequired("scenario")
	return cmd
}

func loadConfig(path string, workers int) (tuning.Config, error) {
	cfg := tuning.Defaults()
	if path != "" {
		var err error
		if cfg, err = tuning.Load(path); err != nil {
			return cfg, err
		}
	}
	if err := cfg.ApplyEnv(env.ToMap(os.Environ())); err != nil {
		return cfg, err
	}
	if workers > 0 {
		cfg.Workers = workers
	}
	cfg.Normalize()
	return cfg, cfg.Validate()
}

func (a *app) loadModel(path string) *calibrate.Model {
	if path == "" {
		return calibrate.Uncalibrated()
	}
	m, err := calibrate.Load(path)
	if err != nil {
		a.logger.Warn("calibration unavailable, reporting raw frequencies", zap.String("path", path), zap.Error(err))
		return calibrate.Uncalibrated()
	}
	return m
}

var errFiresFailed = errors.New("one or more fires failed")

func (a *app) run(ctx context.Context, stdout io.Writer, f runFlags) error {
	cfg, err := loadConfig(f.config, f.workers)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	reqs := make([]nowcast.Request, 0, len(f.scenarios))
	for _, path := range f.scenarios {
		s, err := scenario.Load(path)
		if err != nil {
			return fmt.Errorf("load scenario: %w", err)
		}
		req, err := nowcast.RequestFromScenario(s)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		reqs = append(reqs, req)
	}

	var (
		sinks ensemble.MultiSink
		idx   *indexdb.SQLiteIndex
	)
	if f.index != "" {
		if idx, err = indexdb.OpenSQLite(f.index); err != nil {
			return fmt.Errorf("open index: %w", err)
		}
		defer func() { _ = idx.Close() }()
		if err := idx.UpsertConfig(ctx, cfg); err != nil {
			a.logger.Warn("index config upsert failed", zap.Error(err))
		}
		sinks = append(sinks, idx)
	}
	if f.memberLog != "" {
		ml := mlog.NewMemberLogger(f.memberLog)
		defer func() { _ = ml.Close() }()
		sinks = append(sinks, ml)
	}
	var opts []ensemble.Option
	if len(sinks) > 0 {
		opts = append(opts, ensemble.WithSink(sinks))
	}

	engine := nowcast.New(ensemble.NewRunner(ensemble.NewPool(cfg.Workers), a.logger), a.loadModel(f.calibration), a.logger)
	results := engine.RunBatch(ctx, reqs, cfg, opts...)

	failed := 0
	for i, fr := range results {
		if fr.Status == ensemble.StatusFailed {
			failed++
		}
		snapPath := ""
		if fr.Forecast != nil && fr.Forecast.Horizons != nil {
			snapPath, err = a.store(fr.Forecast, reqs[i], cfg, f)
			if err != nil {
				return err
			}
			if f.verify {
				if err := engine.VerifyDeterminism(ctx, reqs[i], cfg, fr.Forecast.Metadata); err != nil {
					return err
				}
			}
		}
		if idx != nil && fr.Forecast != nil {
			idx.RecordForecast(fr.Forecast, snapPath)
		}
		printResult(stdout, fr, snapPath)
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d", errFiresFailed, failed, len(results))
	}
	return nil
}

func (a *app) store(fc *nowcast.Forecast, req nowcast.Request, cfg tuning.Config, f runFlags) (string, error) {
	for _, id := range []string{req.FireID, fc.Metadata.RunID} {
		if err := scenario.CheckID(id); err != nil {
			return "", fmt.Errorf("snapshot path: %w", err)
		}
	}
	snap := snapshot.New(req, cfg, fc, time.Now())
	path := filepath.Join(f.out, fireDir(req.FireID), fc.Metadata.RunID+".snap.zst")
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	if f.archive != "" {
		dst, ok, err := archive.ArchiveForecast(f.archive, path, snap)
		if err != nil {
			return "", fmt.Errorf("archive: %w", err)
		}
		if ok {
			a.logger.Info("forecast archived", zap.String("run_id", fc.Metadata.RunID), zap.String("path", dst))
		}
	}
	return path, nil
}

func fireDir(fireID string) string {
	if fireID == "" {
		return "_"
	}
	return fireID
}

func printResult(w io.Writer, fr nowcast.FireResult, snapPath string) {
	if fr.Forecast == nil {
		fmt.Fprintf(w, "fire=%s status=%s reason=%s error=%v\n", fr.FireID, fr.Status, fr.Reason, fr.Err)
		return
	}
	m := fr.Forecast.Metadata
	fmt.Fprintf(w, "fire=%s run=%s status=%s members=%d/%d digest=%s calibrated=%t",
		fr.FireID, m.RunID, m.Status, m.Succeeded, m.EnsembleSize, m.Digest, fr.Forecast.Calibrated)
	if m.Reason != "" {
		fmt.Fprintf(w, " reason=%s", m.Reason)
	}
	if snapPath != "" {
		fmt.Fprintf(w, " snapshot=%s", snapPath)
	}
	if fr.Err != nil {
		fmt.Fprintf(w, " error=%v", fr.Err)
	}
	fmt.Fprintln(w)
	for _, p := range fr.Forecast.Horizons {
		fmt.Fprintf(w, "  h=%d max=%.4f mean=%.4f affected_km2=%.4f\n",
			p.Step, p.Metrics.MaxProbability, p.Metrics.MeanProbability, p.Metrics.AffectedAreaKm2)
	}
}
