// Package nowcast turns a fire request into a forecast: it builds the grid
// domain, runs the ensemble, calibrates the aggregate and derives summary
// metrics per horizon.
package nowcast

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"emberguide.ai/internal/sim/calibrate"
	"emberguide.ai/internal/sim/ensemble"
	"emberguide.ai/internal/sim/grid"
	"emberguide.ai/internal/sim/scenario"
	"emberguide.ai/internal/sim/simerr"
	"emberguide.ai/internal/sim/tuning"
)

var tracer = otel.Tracer("emberguide.ai/internal/sim/nowcast")

// Request is everything needed to forecast one fire.
type Request struct {
	FireID   string
	Layers   grid.Layers
	Mask     []bool
	Seeds    []grid.Seed
	Features calibrate.Features
}

func RequestFromScenario(s *scenario.Scenario) (Request, error) {
	layers, err := s.GridLayers()
	if err != nil {
		return Request{}, err
	}
	mask, err := s.Mask()
	if err != nil {
		return Request{}, err
	}
	seeds, err := s.GridSeeds()
	if err != nil {
		return Request{}, err
	}
	return Request{FireID: s.FireID, Layers: layers, Mask: mask, Seeds: seeds, Features: s.Features}, nil
}

type Engine struct {
	runner *ensemble.Runner
	model  *calibrate.Model
	logger *zap.Logger
}

// New returns an engine. A nil model means output is left uncalibrated.
func New(runner *ensemble.Runner, model *calibrate.Model, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if runner == nil {
		runner = ensemble.NewRunner(nil, logger)
	}
	if model == nil {
		model = calibrate.Uncalibrated()
	}
	return &Engine{runner: runner, model: model, logger: logger}
}

func domainOptions(cfg tuning.Config) grid.Options {
	return grid.Options{
		Connectivity:      grid.Connectivity(cfg.Neighbors),
		MaxNoDataFraction: cfg.MaxNoDataFraction,
		MinConfidence:     cfg.MinConfidence,
	}
}

// Run forecasts one fire. Input errors fail fast. When the ensemble fails,
// the returned forecast carries only metadata alongside the error.
func (e *Engine) Run(ctx context.Context, req Request, cfg tuning.Config, opts ...ensemble.Option) (*Forecast, error) {
	ctx, span := tracer.Start(ctx, "nowcast.Run")
	defer span.End()
	span.SetAttributes(attribute.String("fire_id", req.FireID))

	if err := cfg.Validate(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	d, err := grid.New(req.Layers, req.Mask, req.Seeds, domainOptions(cfg))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("fire %s: %w", req.FireID, err)
	}

	opts = append([]ensemble.Option{ensemble.WithFireID(req.FireID)}, opts...)
	res, err := e.runner.Run(ctx, d, cfg, opts...)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		if res == nil {
			return nil, err
		}
		return &Forecast{Metadata: res.Metadata, Grid: gridInfo(d)}, err
	}

	f := &Forecast{
		Metadata:          res.Metadata,
		Grid:              gridInfo(d),
		CalibrationMethod: e.model.Method(),
		Calibrated:        e.model.Calibrated(),
	}
	for _, hz := range res.Horizons {
		probs, err := calibrate.Apply(e.model, hz.Probability, req.Features)
		if err != nil {
			// Fall back for the whole forecast so every horizon uses the
			// same mapping.
			e.logger.Warn("calibration unavailable, using raw frequencies",
				zap.String("fire_id", req.FireID), zap.Error(err))
			return e.uncalibrated(res, d, err), nil
		}
		f.Horizons = append(f.Horizons, newProduct(hz, probs, d.CellAreaKm2()))
	}
	return f, nil
}

func (e *Engine) uncalibrated(res *ensemble.Result, d *grid.Domain, cause error) *Forecast {
	f := &Forecast{
		Metadata:          res.Metadata,
		Grid:              gridInfo(d),
		CalibrationMethod: calibrate.MethodIdentity,
		CalibrationError:  cause.Error(),
	}
	for _, hz := range res.Horizons {
		probs, _ := calibrate.Apply(calibrate.Identity{}, hz.Probability, nil)
		f.Horizons = append(f.Horizons, newProduct(hz, probs, d.CellAreaKm2()))
	}
	return f
}

// VerifyDeterminism reruns req on a single-slot pool and compares the
// output digest with want.Digest. Members cancelled in the original run are
// excluded from the rerun so partial runs compare like for like. A digest
// mismatch is fatal; a rerun that is itself cut short is reported as
// cancelled.
func (e *Engine) VerifyDeterminism(ctx context.Context, req Request, cfg tuning.Config, want ensemble.Metadata) error {
	serial := New(ensemble.NewRunner(ensemble.NewPool(1), e.logger), e.model, e.logger)
	f, err := serial.Run(ctx, req, cfg, ensemble.WithExcludedMembers(want.CancelledMembers...))
	if err != nil {
		return fmt.Errorf("verification rerun: %w", err)
	}
	if f.Metadata.Cancelled != len(want.CancelledMembers) {
		return simerr.Wrap(simerr.CodeCancelled,
			fmt.Sprintf("fire %s: verification rerun lost %d members", req.FireID, f.Metadata.Cancelled-len(want.CancelledMembers)),
			ctx.Err())
	}
	if f.Metadata.Digest != want.Digest {
		return simerr.New(simerr.CodeDeterminismViolation,
			fmt.Sprintf("fire %s: digest %s on rerun, want %s", req.FireID, f.Metadata.Digest, want.Digest))
	}
	return nil
}
