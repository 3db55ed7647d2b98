package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/azure/brand-mentions-pipeline/internal/metrics"
)

// Handler processes one job delivery. Returning an error schedules a retry
// unless the error is wrapped with Permanent.
type Handler func(ctx context.Context, job *Job) error

const defaultPollTimeout = time.Second

// Pool runs Concurrency workers that reserve jobs from Queue and hand them to Handler
type Pool struct {
	Queue       *Queue
	Handler     Handler
	Concurrency int
	// Limiter bounds job pickup across all workers; nil means unlimited
	Limiter     *rate.Limiter
	PollTimeout time.Duration
	Logger      logrus.FieldLogger
}

// PerMinute builds a limiter allowing n jobs per minute. n <= 0 disables limiting.
func PerMinute(n int) *rate.Limiter {
	if n <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), 1)
}

// Run blocks until ctx is cancelled. In-flight jobs are allowed to finish;
// jobs interrupted by a crash stay in the active list until Recover.
func (p *Pool) Run(ctx context.Context) {
	logger := p.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger = logger.WithField("queue", p.Queue.Name())

	workers := p.Concurrency
	if workers < 1 {
		workers = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			p.work(ctx, logger.WithField("worker", worker))
		}(i)
	}

	logger.Infof("Started %d workers", workers)
	wg.Wait()
	logger.Info("Workers stopped")
}

func (p *Pool) work(ctx context.Context, logger logrus.FieldLogger) {
	timeout := p.PollTimeout
	if timeout <= 0 {
		timeout = defaultPollTimeout
	}

	for ctx.Err() == nil {
		if p.Limiter != nil {
			if err := p.Limiter.Wait(ctx); err != nil {
				return
			}
		}

		job, err := p.Queue.Reserve(ctx, timeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Errorf("Failed to reserve job: %v", err)
			sleep(ctx, timeout)
			continue
		}
		if job == nil {
			continue
		}

		p.handle(context.WithoutCancel(ctx), logger, job)
	}
}

func (p *Pool) handle(ctx context.Context, logger logrus.FieldLogger, job *Job) {
	logger = logger.WithFields(logrus.Fields{"job_id": job.ID, "attempt": job.Attempt})
	start := time.Now()

	err := p.safeHandle(ctx, job)
	metrics.JobDuration.WithLabelValues(p.Queue.Name()).Observe(time.Since(start).Seconds())

	if err == nil {
		if ackErr := p.Queue.Ack(ctx, job); ackErr != nil {
			logger.Errorf("Failed to ack job: %v", ackErr)
		}
		metrics.JobsProcessed.WithLabelValues(p.Queue.Name(), "ack").Inc()
		return
	}

	retried, failErr := p.Queue.Fail(ctx, job, err)
	if failErr != nil {
		logger.Errorf("Failed to record job failure: %v", failErr)
		return
	}
	if retried {
		logger.Warnf("Job failed, retry scheduled in %s: %v", p.Queue.Delay(job.Attempt), err)
		metrics.JobsProcessed.WithLabelValues(p.Queue.Name(), "retry").Inc()
		return
	}
	logger.Errorf("Job moved to failed list: %v", err)
	metrics.JobsProcessed.WithLabelValues(p.Queue.Name(), "failed").Inc()
}

// safeHandle turns a handler panic into a permanent failure so the worker survives
func (p *Pool) safeHandle(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Permanent(panicError{value: r})
		}
	}()
	return p.Handler(ctx, job)
}

type panicError struct {
	value interface{}
}

func (e panicError) Error() string {
	return fmt.Sprintf("handler panic: %v", e.value)
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
