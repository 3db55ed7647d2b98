package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/azure/brand-mentions-pipeline/internal/clock"
	"github.com/azure/brand-mentions-pipeline/internal/metrics"
)

// Queue names used by the pipeline
const (
	Scrape        = "scrape"
	Mentions      = "mentions"
	Notifications = "notifications"
)

const (
	defaultPrefix      = "mentions"
	defaultMaxAttempts = 3
	defaultBackoff     = 5 * time.Second
)

// promoteScript moves every delayed job whose ready time has passed onto the wait list
var promoteScript = redis.NewScript(`
local jobs = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, job in ipairs(jobs) do
  redis.call('ZREM', KEYS[1], job)
  redis.call('LPUSH', KEYS[2], job)
end
return #jobs
`)

// Options configures a Queue
type Options struct {
	Prefix      string
	MaxAttempts int
	Backoff     time.Duration
	Clock       clock.Clock
	Logger      logrus.FieldLogger
}

// Queue is a Redis-backed job queue with at-least-once delivery.
// Jobs move wait -> active on delivery and leave active on ack, retry or failure.
type Queue struct {
	client      redis.UniversalClient
	name        string
	prefix      string
	maxAttempts int
	backoff     time.Duration
	clock       clock.Clock
	logger      logrus.FieldLogger
}

// Stats holds the number of jobs in each state
type Stats struct {
	Wait    int64 `json:"wait"`
	Active  int64 `json:"active"`
	Delayed int64 `json:"delayed"`
	Failed  int64 `json:"failed"`
}

// New creates a queue named name on client
func New(client redis.UniversalClient, name string, opts Options) *Queue {
	q := &Queue{
		client:      client,
		name:        name,
		prefix:      opts.Prefix,
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.Backoff,
		clock:       opts.Clock,
		logger:      opts.Logger,
	}
	if q.prefix == "" {
		q.prefix = defaultPrefix
	}
	if q.maxAttempts < 1 {
		q.maxAttempts = defaultMaxAttempts
	}
	if q.backoff <= 0 {
		q.backoff = defaultBackoff
	}
	if q.clock == nil {
		q.clock = clock.Real{}
	}
	if q.logger == nil {
		q.logger = logrus.StandardLogger()
	}
	q.logger = q.logger.WithField("queue", name)
	return q
}

// Name returns the queue name
func (q *Queue) Name() string {
	return q.name
}

func (q *Queue) key(state string) string {
	return fmt.Sprintf("%s:%s:%s", q.prefix, q.name, state)
}

// Enqueue stores payload as a new job and returns its id
func (q *Queue) Enqueue(ctx context.Context, payload interface{}) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s payload: %w", q.name, err)
	}

	job := Job{
		ID:          uuid.NewString(),
		Queue:       q.name,
		Payload:     body,
		MaxAttempts: q.maxAttempts,
		EnqueuedAt:  q.clock.Now().UTC(),
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job envelope: %w", err)
	}

	if err := q.client.LPush(ctx, q.key("wait"), raw).Err(); err != nil {
		return "", fmt.Errorf("failed to enqueue %s job: %w", q.name, err)
	}
	return job.ID, nil
}

// Reserve delivers the next waiting job, blocking up to timeout.
// It returns nil without error when nothing arrived in time.
func (q *Queue) Reserve(ctx context.Context, timeout time.Duration) (*Job, error) {
	if err := q.promote(ctx); err != nil {
		return nil, err
	}

	raw, err := q.client.BLMove(ctx, q.key("wait"), q.key("active"), "RIGHT", "LEFT", timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to reserve %s job: %w", q.name, err)
	}

	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		q.logger.Errorf("Dropping undecodable envelope into failed list: %v", err)
		_, perr := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LRem(ctx, q.key("active"), 1, raw)
			pipe.LPush(ctx, q.key("failed"), raw)
			return nil
		})
		return nil, perr
	}

	job.raw = raw
	job.Attempt++
	return &job, nil
}

// Ack removes a successfully handled job from the active list
func (q *Queue) Ack(ctx context.Context, job *Job) error {
	if err := q.client.LRem(ctx, q.key("active"), 1, job.raw).Err(); err != nil {
		return fmt.Errorf("failed to ack job %s: %w", job.ID, err)
	}
	return nil
}

// Fail records a failed delivery. The job is scheduled for retry with
// exponential backoff, or moved to the failed list when attempts are
// exhausted or the error is permanent. It reports whether a retry was scheduled.
func (q *Queue) Fail(ctx context.Context, job *Job, cause error) (bool, error) {
	next := *job
	next.raw = ""
	next.LastError = cause.Error()

	raw, err := json.Marshal(next)
	if err != nil {
		return false, fmt.Errorf("failed to marshal job envelope: %w", err)
	}

	retry := !IsPermanent(cause) && job.Attempt < job.MaxAttempts
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.key("active"), 1, job.raw)
		if retry {
			readyAt := q.clock.Now().Add(q.Delay(job.Attempt))
			pipe.ZAdd(ctx, q.key("delayed"), redis.Z{Score: float64(readyAt.UnixMilli()), Member: string(raw)})
		} else {
			pipe.LPush(ctx, q.key("failed"), string(raw))
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to record failure of job %s: %w", job.ID, err)
	}
	return retry, nil
}

// Delay is the backoff before retrying a job whose attempt-th delivery failed
func (q *Queue) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return q.backoff * time.Duration(1<<uint(attempt-1))
}

func (q *Queue) promote(ctx context.Context) error {
	cutoff := strconv.FormatInt(q.clock.Now().UnixMilli(), 10)
	if err := promoteScript.Run(ctx, q.client, []string{q.key("delayed"), q.key("wait")}, cutoff).Err(); err != nil {
		return fmt.Errorf("failed to promote delayed %s jobs: %w", q.name, err)
	}
	return nil
}

// Recover moves jobs left in the active list by a previous process back to
// the wait list so they are redelivered. The interrupted delivery counts as an
// attempt; jobs that have used all their attempts go to the failed list.
// Call it before starting workers. It returns the number of redelivered jobs.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	requeued, failed := 0, 0
	for {
		raw, err := q.client.LIndex(ctx, q.key("active"), -1).Result()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return requeued, fmt.Errorf("failed to recover %s jobs: %w", q.name, err)
		}

		target, next, retry := q.recovered(raw)
		_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LRem(ctx, q.key("active"), 1, raw)
			if retry {
				pipe.RPush(ctx, target, next)
			} else {
				pipe.LPush(ctx, target, next)
			}
			return nil
		})
		if err != nil {
			return requeued, fmt.Errorf("failed to recover %s jobs: %w", q.name, err)
		}
		if retry {
			requeued++
		} else {
			failed++
		}
	}

	if requeued > 0 || failed > 0 {
		q.logger.WithFields(logrus.Fields{
			"requeued": requeued,
			"failed":   failed,
		}).Warn("Recovered unfinished jobs")
	}
	return requeued, nil
}

// recovered returns the list and envelope an interrupted job moves to
func (q *Queue) recovered(raw string) (string, string, bool) {
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return q.key("failed"), raw, false
	}

	job.Attempt++
	job.LastError = "interrupted before completion"
	body, err := json.Marshal(job)
	if err != nil {
		return q.key("failed"), raw, false
	}
	if job.Attempt >= job.MaxAttempts {
		return q.key("failed"), string(body), false
	}
	return q.key("wait"), string(body), true
}

// Stats returns the number of jobs in each state
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	var wait, active, delayed, failed *redis.IntCmd
	_, err := q.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		wait = pipe.LLen(ctx, q.key("wait"))
		active = pipe.LLen(ctx, q.key("active"))
		delayed = pipe.ZCard(ctx, q.key("delayed"))
		failed = pipe.LLen(ctx, q.key("failed"))
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("failed to read %s stats: %w", q.name, err)
	}
	return Stats{
		Wait:    wait.Val(),
		Active:  active.Val(),
		Delayed: delayed.Val(),
		Failed:  failed.Val(),
	}, nil
}

// ReportDepth publishes the queue's current stats to the depth gauge
func (q *Queue) ReportDepth(ctx context.Context) error {
	stats, err := q.Stats(ctx)
	if err != nil {
		return err
	}
	metrics.QueueDepth.WithLabelValues(q.name, "wait").Set(float64(stats.Wait))
	metrics.QueueDepth.WithLabelValues(q.name, "active").Set(float64(stats.Active))
	metrics.QueueDepth.WithLabelValues(q.name, "delayed").Set(float64(stats.Delayed))
	metrics.QueueDepth.WithLabelValues(q.name, "failed").Set(float64(stats.Failed))
	return nil
}

// Failed returns up to limit jobs from the failed list, newest first
func (q *Queue) Failed(ctx context.Context, limit int64) ([]Job, error) {
	raws, err := q.client.LRange(ctx, q.key("failed"), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list failed %s jobs: %w", q.name, err)
	}
	jobs := make([]Job, 0, len(raws))
	for _, raw := range raws {
		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}
