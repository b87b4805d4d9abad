package nowcast

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"emberguide.ai/internal/sim/ensemble"
	"emberguide.ai/internal/sim/simerr"
	"emberguide.ai/internal/sim/tuning"
)

// FireResult is one fire's outcome in a batch. Err is nil unless Status is
// failed.
type FireResult struct {
	FireID   string
	Status   ensemble.Status
	Reason   simerr.Code
	Forecast *Forecast
	Err      error
}

// RunBatch forecasts several fires concurrently on the engine's shared pool.
// A failing fire never affects the others; results keep request order.
func (e *Engine) RunBatch(ctx context.Context, reqs []Request, cfg tuning.Config, opts ...ensemble.Option) []FireResult {
	results := make([]FireResult, len(reqs))
	var g errgroup.Group
	g.SetLimit(e.runner.Pool().Size())
	for i, req := range reqs {
		g.Go(func() error {
			results[i] = e.runFire(ctx, req, cfg, opts)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (e *Engine) runFire(ctx context.Context, req Request, cfg tuning.Config, opts []ensemble.Option) (fr FireResult) {
	fr.FireID = req.FireID
	defer func() {
		if rec := recover(); rec != nil {
			err := simerr.New(simerr.CodeInternal, fmt.Sprintf("fire %s panicked: %v", req.FireID, rec))
			e.logger.Error("fire run panicked", zap.String("fire_id", req.FireID), zap.Any("panic", rec))
			fr = FireResult{FireID: req.FireID, Status: ensemble.StatusFailed, Reason: err.Code, Err: err}
		}
	}()
	f, err := e.Run(ctx, req, cfg, opts...)
	fr.Forecast = f
	if err != nil {
		fr.Status = ensemble.StatusFailed
		fr.Reason = simerr.CodeOf(err)
		fr.Err = err
		e.logger.Warn("fire forecast failed", zap.String("fire_id", req.FireID),
			zap.String("reason", string(fr.Reason)), zap.Error(err))
		return fr
	}
	fr.Status = f.Metadata.Status
	fr.Reason = f.Metadata.Reason
	return fr
}
