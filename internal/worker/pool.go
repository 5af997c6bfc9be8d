package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/kirillkom/doc-intelligence/internal/core/domain"
	"github.com/kirillkom/doc-intelligence/internal/core/ports"
)

// Metrics is the subset of worker metrics the pool reports to. A nil Metrics disables reporting.
type Metrics interface {
	StartJob()
	FinishJob(service, kind, outcome string, duration time.Duration)
	ObserveQueueLag(service, kind string, lag time.Duration)
	EmptyLease(service string)
}

type Config struct {
	Service           string
	WorkerIDPrefix    string
	Count             int
	VisibilityTimeout time.Duration
	ProcessTimeout    time.Duration
	// LeaseErrorBackoff is the pause after a failed Lease call.
	LeaseErrorBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.Service == "" {
		c.Service = "worker"
	}
	if c.WorkerIDPrefix == "" {
		c.WorkerIDPrefix = c.Service
	}
	if c.Count < 1 {
		c.Count = 1
	}
	if c.VisibilityTimeout <= 0 {
		c.VisibilityTimeout = 5 * time.Minute
	}
	if c.ProcessTimeout <= 0 || c.ProcessTimeout > c.VisibilityTimeout {
		c.ProcessTimeout = c.VisibilityTimeout
	}
	if c.LeaseErrorBackoff <= 0 {
		c.LeaseErrorBackoff = time.Second
	}
	return c
}

const (
	outcomeAcked     = "acked"
	outcomeLeaseLost = "lease-lost"
	outcomeError     = "error"
)

// Pool runs a fixed number of lease loops on an ants goroutine pool.
type Pool struct {
	queue     ports.JobQueue
	processor ports.JobProcessor
	pool      *ants.Pool
	cfg       Config
	metrics   Metrics
	logger    *slog.Logger
	now       func() time.Time
}

func New(queue ports.JobQueue, processor ports.JobProcessor, cfg Config, metrics Metrics, logger *slog.Logger) (*Pool, error) {
	if queue == nil || processor == nil {
		return nil, errors.New("worker pool requires a queue and a processor")
	}
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := ants.NewPool(cfg.Count, ants.WithPanicHandler(func(v any) {
		logger.Error("worker_loop_panic", "panic", fmt.Sprint(v))
	}))
	if err != nil {
		return nil, fmt.Errorf("create ants pool: %w", err)
	}

	return &Pool{
		queue:     queue,
		processor: processor,
		pool:      pool,
		cfg:       cfg,
		metrics:   metrics,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Run blocks until ctx is cancelled and every loop has returned.
func (p *Pool) Run(ctx context.Context) error {
	defer p.pool.Release()

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Count; i++ {
		workerID := fmt.Sprintf("%s-%d", p.cfg.WorkerIDPrefix, i)
		wg.Add(1)
		if err := p.pool.Submit(func() {
			defer wg.Done()
			p.loop(ctx, workerID)
		}); err != nil {
			wg.Done()
			return fmt.Errorf("start worker %s: %w", workerID, err)
		}
	}

	p.logger.Info("worker_pool_started", "workers", p.cfg.Count, "visibility_timeout", p.cfg.VisibilityTimeout.String())
	wg.Wait()
	p.logger.Info("worker_pool_stopped")
	return nil
}

func (p *Pool) loop(ctx context.Context, workerID string) {
	for ctx.Err() == nil {
		job, err := p.queue.Lease(ctx, workerID, p.cfg.VisibilityTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("job_lease_failed", "worker_id", workerID, "error", err.Error())
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.cfg.LeaseErrorBackoff):
			}
			continue
		}
		if job == nil {
			if p.metrics != nil {
				p.metrics.EmptyLease(p.cfg.Service)
			}
			continue
		}
		p.handle(ctx, workerID, job)
	}
}

// handle never lets a job error or panic escape; every outcome ends in Ack or Fail.
func (p *Pool) handle(ctx context.Context, workerID string, job *domain.Job) {
	start := p.now()
	kind := string(job.Kind)
	logger := p.logger.With(
		"worker_id", workerID,
		"job_id", job.ID,
		"document_id", job.DocumentID,
		"kind", kind,
		"attempt", job.Attempt,
	)
	if p.metrics != nil {
		p.metrics.StartJob()
		if !job.AvailableAt.IsZero() {
			p.metrics.ObserveQueueLag(p.cfg.Service, kind, start.Sub(job.AvailableAt))
		}
	}

	jobCtx, cancel := context.WithTimeout(ctx, p.cfg.ProcessTimeout)
	err := p.process(jobCtx, job)
	cancel()

	// Settle the job even when shutdown cancelled ctx mid-flight.
	settleCtx, settleCancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer settleCancel()

	outcome := outcomeAcked
	if err == nil {
		if ackErr := p.queue.Ack(settleCtx, job); ackErr != nil {
			outcome = settleFailure(ackErr)
			logger.Warn("job_ack_failed", "error", ackErr.Error())
		} else {
			logger.Info("job_acked", "duration_ms", p.now().Sub(start).Milliseconds())
		}
	} else {
		if ctx.Err() != nil {
			err = domain.WrapError(domain.ErrTemporary, "process job", fmt.Errorf("worker shutting down: %w", err))
		} else if errors.Is(err, context.DeadlineExceeded) {
			err = domain.WrapError(domain.ErrTemporary, "process job", fmt.Errorf("exceeded %s: %w", p.cfg.ProcessTimeout, err))
		}
		result, failErr := p.queue.Fail(settleCtx, job, err)
		if failErr != nil {
			outcome = settleFailure(failErr)
			logger.Warn("job_fail_failed", "cause", err.Error(), "error", failErr.Error())
		} else {
			outcome = string(result)
			logger.Warn("job_failed", "outcome", outcome, "error_kind", string(domain.KindOf(err)), "error", err.Error())
		}
	}

	if p.metrics != nil {
		p.metrics.FinishJob(p.cfg.Service, kind, outcome, p.now().Sub(start))
	}
}

func (p *Pool) process(ctx context.Context, job *domain.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("job_panic", "job_id", job.ID, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			err = domain.WrapError(domain.ErrTemporary, "process job", fmt.Errorf("panic: %v", r))
		}
	}()
	return p.processor.Process(ctx, job)
}

func settleFailure(err error) string {
	if errors.Is(err, domain.ErrLeaseLost) {
		return outcomeLeaseLost
	}
	return outcomeError
}
