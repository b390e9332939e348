// Package scheduler runs the anchoring cycle: read the chain, pick the next boundary,
// check the contract, submit.
package scheduler

import (
	"context"
	"time"

	"beaconoracle.com/internal/oracle/contract"
	"beaconoracle.com/internal/oracle/domain"
	"beaconoracle.com/internal/oracle/selector"
	"beaconoracle.com/pkg/broker"
	"beaconoracle.com/pkg/logger"
	"beaconoracle.com/pkg/metrics"
	"beaconoracle.com/pkg/safe"
	"beaconoracle.com/pkg/xerr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "beaconoracle.com/internal/oracle/scheduler"

type Config struct {
	// Interval is the block spacing between anchored boundaries.
	Interval uint64
	// PollInterval is the sleep between two cycles.
	PollInterval time.Duration
	// ReadTimeout bounds each read step of a cycle (height, locate, timestamp, check).
	ReadTimeout time.Duration
	// SubmitTimeout bounds a submission including the wait for inclusion.
	SubmitTimeout time.Duration
}

// CycleResult is what one cycle did. Candidate and Outcome are set once the cycle got
// that far.
type CycleResult struct {
	Stage        domain.Stage
	Height       uint64
	LastAnchored uint64
	Candidate    *domain.CandidateUpdate
	Outcome      *domain.SubmissionOutcome
	Err          error
}

type Scheduler struct {
	cfg Config

	reader    domain.ChainReader
	locator   domain.BoundaryLocator
	checker   domain.AnchorChecker
	submitter domain.Submitter

	publisher domain.Publisher
	leader    domain.Leader

	tracer trace.Tracer
}

type Option func(*Scheduler)

// WithPublisher emits an event for every submission outcome. Without it events are
// dropped by broker.Nop.
func WithPublisher(p domain.Publisher) Option {
	return func(s *Scheduler) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithLeader makes cycles run only while l grants the lease.
func WithLeader(l domain.Leader) Option {
	return func(s *Scheduler) { s.leader = l }
}

func New(cfg Config, reader domain.ChainReader, locator domain.BoundaryLocator,
	checker domain.AnchorChecker, submitter domain.Submitter, opts ...Option) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Minute
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 5 * time.Minute
	}
	s := &Scheduler{
		cfg:       cfg,
		reader:    reader,
		locator:   locator,
		checker:   checker,
		submitter: submitter,
		publisher: broker.Nop{},
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run repeats RunCycle, sleeping PollInterval after each one, until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	logger.Info(ctx, "🚀 anchoring loop started",
		zap.String("strategy", s.submitter.Name()),
		zap.Uint64("interval", s.cfg.Interval),
		zap.Duration("poll_interval", s.cfg.PollInterval))

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "anchoring loop stopped")
			return nil
		case <-timer.C:
		}

		s.RunCycle(ctx)

		logger.Debug(ctx, "sleeping until next cycle", zap.Duration("for", s.cfg.PollInterval))
		timer.Reset(s.cfg.PollInterval)
	}
}

// RunCycle runs one cycle. It never panics and never returns an error: the result
// says how far it got and why it stopped.
func (s *Scheduler) RunCycle(ctx context.Context) (res CycleResult) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "oracle.cycle")
	defer func() {
		span.SetAttributes(attribute.String("stage", string(res.Stage)))
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Err.Error())
		}
		span.End()
		metrics.CycleTotal.WithLabelValues(string(res.Stage)).Inc()
		metrics.CycleDuration.Observe(time.Since(start).Seconds())
	}()

	err := safe.Run(ctx, func(ctx context.Context) error {
		res = s.cycle(ctx)
		return nil
	})
	if err != nil {
		res = CycleResult{Stage: domain.StagePanicked, Err: xerr.Wrap(xerr.Internal, err, "cycle")}
	}
	return res
}

func (s *Scheduler) cycle(ctx context.Context) CycleResult {
	if s.leader != nil {
		ok, err := bounded(ctx, s.cfg.ReadTimeout, func(ctx context.Context) (bool, error) {
			return s.leader.TryAcquireMaster(ctx)
		})
		if err != nil {
			logger.Warn(ctx, "leader lease check failed, skipping cycle", zap.Error(err))
			return CycleResult{Stage: domain.StageNotLeader, Err: err}
		}
		if !ok {
			logger.Debug(ctx, "not the leader, skipping cycle")
			return CycleResult{Stage: domain.StageNotLeader}
		}
	}

	height, err := bounded(ctx, s.cfg.ReadTimeout, func(ctx context.Context) (uint64, error) {
		return s.reader.LatestHeight(ctx)
	})
	if err != nil {
		return s.readFailed(ctx, "latest height", CycleResult{}, err)
	}
	metrics.ChainHeight.Set(float64(height))
	res := CycleResult{Height: height}

	last, err := bounded(ctx, s.cfg.ReadTimeout, func(ctx context.Context) (uint64, error) {
		return s.locator.LastAnchoredBoundary(ctx, height)
	})
	if err != nil {
		return s.readFailed(ctx, "last anchored boundary", res, err)
	}
	metrics.LastAnchoredBoundary.Set(float64(last))
	res.LastAnchored = last

	boundary, ok := selector.SelectBoundary(last, s.cfg.Interval, height)
	if !ok {
		logger.Debug(ctx, "no boundary to anchor yet",
			zap.Uint64("last_anchored", last), zap.Uint64("height", height))
		res.Stage = domain.StageNoCandidate
		return res
	}
	logger.Debug(ctx, "candidate boundary computed",
		zap.Uint64("boundary", boundary),
		zap.Uint64("last_anchored", last),
		zap.Uint64("height", height))

	// the block must be at least two behind the head before we read it
	if !selector.IsStable(boundary, height) {
		logger.Debug(ctx, "candidate too close to head, waiting",
			zap.Uint64("boundary", boundary), zap.Uint64("height", height))
		res.Stage = domain.StageUnstable
		res.Candidate = &domain.CandidateUpdate{Boundary: boundary}
		return res
	}

	ts, err := bounded(ctx, s.cfg.ReadTimeout, func(ctx context.Context) (uint64, error) {
		return s.reader.BlockTimestamp(ctx, boundary)
	})
	if err != nil {
		return s.readFailed(ctx, "candidate timestamp", res, err)
	}
	candidate := domain.CandidateUpdate{Boundary: boundary, BlockTimestamp: ts}
	res.Candidate = &candidate

	anchored, err := bounded(ctx, s.cfg.ReadTimeout, func(ctx context.Context) (bool, error) {
		return s.checker.IsAnchored(ctx, ts)
	})
	if err != nil {
		return s.readFailed(ctx, "anchor check", res, err)
	}
	if anchored {
		logger.Debug(ctx, "boundary already anchored",
			zap.Uint64("boundary", boundary), zap.Uint64("timestamp", ts))
		res.Stage = domain.StageAlreadyAnchored
		return res
	}

	call, err := contract.PackAddTimestamp(ts)
	if err != nil {
		res.Stage = domain.StageSubmitFailed
		res.Err = xerr.Wrap(xerr.Internal, err, "pack addTimestamp")
		logger.Error(ctx, "encode addTimestamp failed", zap.Error(res.Err))
		return res
	}

	logger.Info(ctx, "submitting addTimestamp",
		zap.String("strategy", s.submitter.Name()),
		zap.Uint64("boundary", boundary),
		zap.Uint64("timestamp", ts))

	submitCtx, cancel := context.WithTimeout(ctx, s.cfg.SubmitTimeout)
	outcome := s.submitter.Submit(submitCtx, call)
	cancel()

	res.Outcome = &outcome
	s.report(ctx, candidate, outcome)
	if !outcome.Success {
		res.Stage = domain.StageSubmitFailed
		res.Err = outcome.Err
		return res
	}
	res.Stage = domain.StageSubmitted
	return res
}

func (s *Scheduler) report(ctx context.Context, c domain.CandidateUpdate, o domain.SubmissionOutcome) {
	fields := []zap.Field{
		zap.String("strategy", s.submitter.Name()),
		zap.Uint64("boundary", c.Boundary),
		zap.Uint64("timestamp", c.BlockTimestamp),
	}
	if o.TxHash != nil {
		fields = append(fields, zap.String("tx_hash", o.TxHash.Hex()))
	}

	result := "success"
	switch {
	case o.Success:
		logger.Info(ctx, "✅ boundary anchored", fields...)
	case xerr.Is(o.Err, xerr.Unconfirmed):
		result = "unconfirmed"
		logger.Error(ctx, "submission not confirmed, next cycle re-checks the contract",
			append(fields, zap.Error(o.Err))...)
	default:
		result = "failed"
		logger.Error(ctx, "submission failed", append(fields, zap.Error(o.Err))...)
	}
	metrics.SubmissionTotal.WithLabelValues(s.submitter.Name(), result).Inc()

	topic, payload, err := encodeEvent(s.submitter.Name(), c, o)
	if err != nil {
		logger.Warn(ctx, "encode anchor event failed", zap.Error(err))
		return
	}
	if err := s.publisher.Publish(ctx, topic, payload); err != nil {
		logger.Warn(ctx, "publish anchor event failed", zap.String("topic", topic), zap.Error(err))
	}
}

func (s *Scheduler) readFailed(ctx context.Context, step string, res CycleResult, err error) CycleResult {
	logger.Error(ctx, "chain read failed, skipping cycle", zap.String("step", step), zap.Error(err))
	res.Stage = domain.StageReadFailed
	res.Err = err
	return res
}

// bounded runs fn under a timeout derived from ctx.
func bounded[T any](ctx context.Context, d time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return fn(ctx)
}
