package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/safar/go-order-engine/internal/apperr"
	"github.com/safar/go-order-engine/internal/config"
	"github.com/safar/go-order-engine/internal/metrics"
	"github.com/safar/go-order-engine/internal/requestctx"
)

// Dead letter reasons.
const (
	ReasonRejected  = "rejected"
	ReasonExhausted = "exhausted"
	ReasonMalformed = "malformed"
)

// DeadLetter keeps jobs that will not be retried any more.
type DeadLetter interface {
	Record(ctx context.Context, job Job, attempts int, reason string, cause error) error
}

// Deduper remembers finished jobs so a redelivered record is skipped.
type Deduper interface {
	Done(ctx context.Context, jobID string) (bool, error)
	MarkDone(ctx context.Context, jobID string) error
}

type Pool struct {
	handler     Handler
	workers     int
	maxAttempts int
	backoff     time.Duration
	jobTimeout  time.Duration
	limiter     *rate.Limiter
	deadLetter  DeadLetter
	deduper     Deduper
	permanent   func(error) bool
	metrics     *metrics.Metrics
	logger      *zap.Logger
	sleep       func(ctx context.Context, d time.Duration) error
	now         func() time.Time
}

type PoolOption func(*Pool)

func WithDeadLetter(d DeadLetter) PoolOption {
	return func(p *Pool) { p.deadLetter = d }
}

func WithDeduper(d Deduper) PoolOption {
	return func(p *Pool) { p.deduper = d }
}

func WithMetrics(m *metrics.Metrics) PoolOption {
	return func(p *Pool) { p.metrics = m }
}

func WithLogger(l *zap.Logger) PoolOption {
	return func(p *Pool) { p.logger = l }
}

func NewPool(cfg config.QueueConfig, handler Handler, opts ...PoolOption) *Pool {
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	p := &Pool{
		handler:     handler,
		workers:     max(cfg.Workers, 1),
		maxAttempts: max(cfg.MaxAttempts, 1),
		backoff:     cfg.Backoff,
		jobTimeout:  cfg.JobTimeout,
		limiter:     rate.NewLimiter(limit, burst),
		permanent:   apperr.Permanent,
		logger:      zap.NewNop(),
		sleep:       sleepContext,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs jobs on at most Workers goroutines and returns once every job
// has either finished or been dead-lettered. A non-nil error means at least
// one job was left unsettled and must be delivered again.
func (p *Pool) Process(ctx context.Context, jobs []Job) error {
	sem := make(chan struct{}, p.workers)
	errs := make([]error, len(jobs))

	var wg sync.WaitGroup
	for i, job := range jobs {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			errs[i] = ctx.Err()
			continue
		}

		wg.Add(1)
		go func(i int, job Job) {
			defer wg.Done()
			defer func() { <-sem }()
			errs[i] = p.settle(ctx, job)
		}(i, job)
	}
	wg.Wait()

	return errors.Join(errs...)
}

// settle runs one job to a final outcome.
func (p *Pool) settle(ctx context.Context, job Job) error {
	logger := p.logger.With(zap.String("job_id", job.ID), zap.String("topic", job.Topic))
	ctx = requestctx.WithLogger(requestctx.WithJobID(ctx, job.ID), logger)

	if p.deduper != nil {
		done, err := p.deduper.Done(ctx, job.ID)
		if err != nil {
			logger.Warn("dedupe lookup failed", zap.Error(err))
		} else if done {
			logger.Info("skipping finished job")
			p.metrics.JobFinished(job.Topic, metrics.JobDuplicate)
			return nil
		}
	}

	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}

		start := p.now()
		lastErr = p.attempt(ctx, job)
		p.metrics.ObserveJob(float64(p.now().Sub(start).Milliseconds()))

		if lastErr == nil {
			p.metrics.JobFinished(job.Topic, metrics.JobSucceeded)
			if p.deduper != nil {
				if err := p.deduper.MarkDone(ctx, job.ID); err != nil {
					logger.Warn("failed to mark job done", zap.Error(err))
				}
			}
			logger.Info("job succeeded", zap.Int("attempt", attempt))
			return nil
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if p.permanent(lastErr) {
			return p.deadLetterJob(ctx, logger, job, attempt, ReasonRejected, lastErr)
		}
		if attempt == p.maxAttempts {
			break
		}

		p.metrics.JobFinished(job.Topic, metrics.JobRetried)
		delay := p.backoff << (attempt - 1)
		logger.Warn("job failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(lastErr),
		)
		if err := p.sleep(ctx, delay); err != nil {
			return err
		}
	}

	return p.deadLetterJob(ctx, logger, job, p.maxAttempts, ReasonExhausted, lastErr)
}

func (p *Pool) attempt(ctx context.Context, job Job) error {
	if p.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.jobTimeout)
		defer cancel()
	}
	return p.handler(ctx, job)
}

func (p *Pool) deadLetterJob(ctx context.Context, logger *zap.Logger, job Job, attempts int, reason string, cause error) error {
	p.metrics.JobFinished(job.Topic, metrics.JobDeadLettered)
	logger.Error("job dead-lettered",
		zap.String("reason", reason),
		zap.Int("attempts", attempts),
		zap.Error(cause),
	)
	if p.deadLetter == nil {
		return nil
	}
	if err := p.deadLetter.Record(ctx, job, attempts, reason, cause); err != nil {
		logger.Error("failed to record dead letter", zap.Error(err))
		return err
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
