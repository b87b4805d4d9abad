// Package ensemble runs a fire's members on a bounded pool and reduces their
// outcomes into probability, direction and uncertainty grids.
package ensemble

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"emberguide.ai/internal/sim/grid"
	"emberguide.ai/internal/sim/perturb"
	"emberguide.ai/internal/sim/simerr"
	"emberguide.ai/internal/sim/stepper"
	"emberguide.ai/internal/sim/tuning"
)

var tracer = otel.Tracer("emberguide.ai/internal/sim/ensemble")

var errExcluded = simerr.New(simerr.CodeCancelled, "member excluded from run")

// Result is the output of Runner.Run. Horizons is nil when the run failed.
type Result struct {
	Metadata Metadata  `json:"metadata"`
	Horizons []Horizon `json:"horizons"`
}

type Runner struct {
	pool   *Pool
	logger *zap.Logger
}

func NewRunner(pool *Pool, logger *zap.Logger) *Runner {
	if pool == nil {
		pool = NewPool(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{pool: pool, logger: logger}
}

func (r *Runner) Pool() *Pool { return r.pool }

type Option func(*runOptions)

type runOptions struct {
	fireID string
	runID  string
	sink   MemberSink
	skip   map[int]bool
	fault  func(member int) error
}

func WithFireID(id string) Option { return func(o *runOptions) { o.fireID = id } }

// WithRunID fixes the run id instead of generating one.
func WithRunID(id string) Option { return func(o *runOptions) { o.runID = id } }

// WithSink streams member records to s after reduction.
func WithSink(s MemberSink) Option { return func(o *runOptions) { o.sink = s } }

// WithExcludedMembers marks the given members cancelled without running
// them. Verification uses it to replay a partial run over the same member set.
func WithExcludedMembers(ids ...int) Option {
	return func(o *runOptions) {
		if len(ids) == 0 {
			return
		}
		o.skip = make(map[int]bool, len(ids))
		for _, id := range ids {
			o.skip[id] = true
		}
	}
}

// withFault makes member runs fail or panic on demand.
func withFault(f func(member int) error) Option { return func(o *runOptions) { o.fault = f } }

type slot struct {
	status MemberStatus
	out    stepper.Outcome
	p      perturb.Vector
	err    error
}

// Run executes cfg.EnsembleSize members over d. A run whose status is failed
// returns its Result together with an error carrying the reason code, so the
// caller keeps the metadata.
func (r *Runner) Run(ctx context.Context, d *grid.Domain, cfg tuning.Config, opts ...Option) (*Result, error) {
	var o runOptions
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if int(d.Connectivity()) != cfg.Neighbors {
		return nil, simerr.New(simerr.CodeConfig, fmt.Sprintf("domain is %d-connected, config wants %d", d.Connectivity(), cfg.Neighbors))
	}
	if o.runID == "" {
		o.runID = uuid.NewString()
	}

	ctx, span := tracer.Start(ctx, "ensemble.Run", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()
	span.SetAttributes(
		attribute.String("run_id", o.runID),
		attribute.String("fire_id", o.fireID),
		attribute.Int64("seed", cfg.Seed),
		attribute.Int("ensemble_size", cfg.EnsembleSize),
	)

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	log := r.logger.With(zap.String("run_id", o.runID), zap.String("fire_id", o.fireID))
	started := time.Now()

	slots := make([]slot, cfg.EnsembleSize)
	var g errgroup.Group
	next := len(slots)
	for i := range slots {
		if o.skip[i] {
			slots[i] = slot{status: MemberCancelled, p: perturb.Sample(cfg.Seed, i, cfg.Perturbation), err: errExcluded}
			continue
		}
		if err := r.pool.acquire(ctx); err != nil {
			next = i
			break
		}
		g.Go(func() error {
			defer r.pool.release()
			slots[i] = r.runMember(ctx, d, cfg, i, o.fault)
			return nil
		})
	}
	_ = g.Wait()
	for i := next; i < len(slots); i++ {
		if o.skip[i] {
			slots[i] = slot{status: MemberCancelled, p: perturb.Sample(cfg.Seed, i, cfg.Perturbation), err: errExcluded}
			continue
		}
		slots[i] = slot{status: MemberCancelled, p: perturb.Sample(cfg.Seed, i, cfg.Perturbation), err: ctx.Err()}
	}

	acc := NewAccumulator(d, cfg.Horizons)
	var failed, cancelled int
	var cancelledIDs []int
	for i, s := range slots {
		switch s.status {
		case MemberOK:
			acc.Add(s.out)
		case MemberCancelled:
			cancelled++
			cancelledIDs = append(cancelledIDs, i)
		default:
			failed++
			log.Warn("ensemble member failed", zap.Int("member", i), zap.Error(s.err))
			span.AddEvent("member failed", trace.WithAttributes(
				attribute.Int("member", i),
				attribute.String("reason", string(simerr.CodeOf(s.err))),
			))
		}
	}
	succeeded := int(acc.Members())
	status, reason := classify(cfg.EnsembleSize, succeeded, failed, cancelled, cfg.MaxFailureFraction)

	res := &Result{Metadata: Metadata{
		RunID:             o.runID,
		FireID:            o.fireID,
		Seed:              cfg.Seed,
		ConfigFingerprint: cfg.Fingerprint(),
		DomainDigest:      d.Digest(),
		EnsembleSize:      cfg.EnsembleSize,
		Succeeded:         succeeded,
		Failed:            failed,
		Cancelled:         cancelled,
		CancelledMembers:  cancelledIDs,
		Status:            status,
		Reason:            reason,
		StartedAt:         started.UTC(),
	}}
	if status != StatusFailed {
		res.Horizons = acc.Horizons()
		res.Metadata.Digest = DigestHorizons(res.Horizons)
	}
	res.Metadata.Duration = time.Since(started)

	if o.sink != nil {
		r.emit(o, slots, log)
	}

	fields := []zap.Field{
		zap.Int64("seed", cfg.Seed),
		zap.String("status", string(status)),
		zap.Int("succeeded", succeeded),
		zap.Int("failed", failed),
		zap.Int("cancelled", cancelled),
		zap.Duration("duration", res.Metadata.Duration),
	}
	span.SetAttributes(attribute.String("status", string(status)))
	if status == StatusFailed {
		log.Error("ensemble run failed", append(fields, zap.String("reason", string(reason)))...)
		err := simerr.New(reason, fmt.Sprintf("%d of %d members lost (%d failed, %d cancelled)", failed+cancelled, cfg.EnsembleSize, failed, cancelled))
		span.SetStatus(codes.Error, err.Error())
		if reason == simerr.CodeCancelled && ctx.Err() != nil {
			err.Cause = ctx.Err()
		}
		return res, err
	}
	log.Info("ensemble run complete", fields...)
	return res, nil
}

func (r *Runner) runMember(ctx context.Context, d *grid.Domain, cfg tuning.Config, i int, fault func(int) error) (s slot) {
	s.p = perturb.Sample(cfg.Seed, i, cfg.Perturbation)
	defer func() {
		if rec := recover(); rec != nil {
			s = slot{status: MemberFailed, p: s.p, err: simerr.New(simerr.CodeMemberFailure, fmt.Sprintf("member %d panicked: %v", i, rec))}
		}
	}()
	if err := ctx.Err(); err != nil {
		return slot{status: MemberCancelled, p: s.p, err: err}
	}
	if fault != nil {
		if err := fault(i); err != nil {
			return slot{status: MemberFailed, p: s.p, err: err}
		}
	}
	m, err := stepper.New(d, cfg.Kernel, s.p, stepper.Config{SpreadThreshold: cfg.SpreadThreshold, BurnSteps: cfg.BurnSteps})
	if err != nil {
		return slot{status: MemberFailed, p: s.p, err: err}
	}
	out, err := m.Run(ctx, cfg.MaxHorizon())
	if err != nil {
		if errors.Is(err, simerr.ErrCancelled) {
			return slot{status: MemberCancelled, p: s.p, err: err}
		}
		return slot{status: MemberFailed, p: s.p, err: err}
	}
	return slot{status: MemberOK, p: s.p, out: out}
}

func (r *Runner) emit(o runOptions, slots []slot, log *zap.Logger) {
	for i, s := range slots {
		rec := MemberRecord{
			RunID:        o.runID,
			FireID:       o.fireID,
			Member:       i,
			Status:       s.status,
			Perturbation: s.p,
		}
		if s.err != nil {
			rec.Error = s.err.Error()
		}
		if s.status == MemberOK {
			rec.Steps = s.out.Steps
			rec.Burned = s.out.Burned()
			rec.IgnitionStep = s.out.IgnitionStep
		}
		if err := o.sink.WriteMember(rec); err != nil {
			log.Warn("member sink write failed", zap.Int("member", i), zap.Error(err))
			return
		}
	}
}
