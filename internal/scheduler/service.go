package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/azure/brand-mentions-pipeline/internal/clock"
	"github.com/azure/brand-mentions-pipeline/internal/digest"
	"github.com/azure/brand-mentions-pipeline/internal/metrics"
	"github.com/azure/brand-mentions-pipeline/internal/models"
)

const (
	// DefaultFrequency applies to sources without a positive frequency
	DefaultFrequency = time.Hour
	DefaultSpec      = "@every 1m"
	defaultDepthSpec = "@every 30s"
)

// SourceStore is the persistence the scheduler needs
type SourceStore interface {
	ListActiveSources(ctx context.Context) ([]models.Source, error)
	MarkScheduled(ctx context.Context, id string, at time.Time) error
}

// Enqueuer hands a scrape job to the scrape queue
type Enqueuer interface {
	Enqueue(ctx context.Context, payload interface{}) (string, error)
}

// DepthReporter publishes a queue's backlog to metrics
type DepthReporter interface {
	Name() string
	ReportDepth(ctx context.Context) error
}

// DigestRunner sends the periodic brand digests on its own cron spec
type DigestRunner interface {
	Spec() string
	Run(ctx context.Context) (digest.RunResult, error)
}

// Options configures the scheduler
type Options struct {
	// Spec is the cron expression of the due-check tick
	Spec string
	// DepthSpec is the cron expression of the queue depth refresh
	DepthSpec        string
	DefaultFrequency time.Duration
	Queues           []DepthReporter
	Digest           DigestRunner
	Clock            clock.Clock
	Logger           logrus.FieldLogger
}

// Service enqueues a scrape job for every active source that is due
type Service struct {
	store            SourceStore
	scrape           Enqueuer
	queues           []DepthReporter
	digest           DigestRunner
	spec             string
	depthSpec        string
	defaultFrequency time.Duration
	clock            clock.Clock
	logger           logrus.FieldLogger
	cron             *cron.Cron
}

// TickResult summarises one due-check pass
type TickResult struct {
	Checked  int `json:"checked"`
	Enqueued int `json:"enqueued"`
	Failed   int `json:"failed"`
}

// NewService creates a new scheduler service
func NewService(st SourceStore, scrape Enqueuer, opts Options) *Service {
	s := &Service{
		store:            st,
		scrape:           scrape,
		queues:           opts.Queues,
		digest:           opts.Digest,
		spec:             opts.Spec,
		depthSpec:        opts.DepthSpec,
		defaultFrequency: opts.DefaultFrequency,
		clock:            opts.Clock,
		logger:           opts.Logger,
	}
	if s.spec == "" {
		s.spec = DefaultSpec
	}
	if s.depthSpec == "" {
		s.depthSpec = defaultDepthSpec
	}
	if s.defaultFrequency <= 0 {
		s.defaultFrequency = DefaultFrequency
	}
	if s.clock == nil {
		s.clock = clock.Real{}
	}
	if s.logger == nil {
		s.logger = logrus.StandardLogger()
	}

	s.cron = cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(s.logger))),
	)
	return s
}

// IsDue reports whether source should be collected at now. A source that was never
// collected is always due; otherwise it is due once its frequency has fully elapsed.
func IsDue(source models.Source, now time.Time, defaultFrequency time.Duration) bool {
	if source.LastCollectedAt == nil {
		return true
	}
	frequency := time.Duration(source.FrequencySeconds) * time.Second
	if frequency <= 0 {
		frequency = defaultFrequency
	}
	return now.Sub(*source.LastCollectedAt) >= frequency
}

// Start registers the cron jobs, runs one due-check immediately and starts the
// scheduler. Jobs run with ctx.
func (s *Service) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() {
		if _, err := s.Tick(ctx); err != nil {
			s.logger.WithError(err).Error("Scheduler tick failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid scheduler spec %q: %w", s.spec, err)
	}

	if len(s.queues) > 0 {
		_, err = s.cron.AddFunc(s.depthSpec, func() {
			s.reportDepth(ctx)
		})
		if err != nil {
			return fmt.Errorf("invalid queue depth spec %q: %w", s.depthSpec, err)
		}
	}

	if s.digest != nil {
		_, err = s.cron.AddFunc(s.digest.Spec(), func() {
			if _, err := s.digest.Run(ctx); err != nil {
				s.logger.WithError(err).Error("Digest run failed")
			}
		})
		if err != nil {
			return fmt.Errorf("invalid digest spec %q: %w", s.digest.Spec(), err)
		}
	}

	if _, err := s.Tick(ctx); err != nil {
		s.logger.WithError(err).Error("Initial scheduler tick failed")
	}

	s.cron.Start()
	s.logger.WithFields(logrus.Fields{
		"spec":              s.spec,
		"default_frequency": s.defaultFrequency,
	}).Info("Scheduler started")
	return nil
}

// Stop stops the scheduler. The returned context is done once a running tick has finished.
func (s *Service) Stop() context.Context {
	ctx := s.cron.Stop()
	s.logger.Info("Scheduler stopped")
	return ctx
}

// Tick enqueues every due source and advances its last collection time so the next
// tick does not enqueue it again while the job is pending. A failing source does not
// stop the others.
func (s *Service) Tick(ctx context.Context) (TickResult, error) {
	var result TickResult

	sources, err := s.store.ListActiveSources(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to list active sources: %w", err)
	}

	now := s.clock.Now()
	for _, source := range sources {
		result.Checked++
		if !IsDue(source, now, s.defaultFrequency) {
			continue
		}

		logger := s.logger.WithFields(logrus.Fields{
			"source_id": source.ID,
			"platform":  source.Platform,
		})

		if _, err := s.scrape.Enqueue(ctx, models.ScrapeJob{SourceID: source.ID}); err != nil {
			logger.WithError(err).Error("Failed to enqueue scrape job")
			result.Failed++
			continue
		}
		if err := s.store.MarkScheduled(ctx, source.ID, now); err != nil {
			// The source will be enqueued again next tick; ingestion is idempotent.
			logger.WithError(err).Warn("Failed to mark source as scheduled")
		}

		result.Enqueued++
		metrics.SourcesEnqueued.Inc()
		logger.Debug("Source enqueued for collection")
	}

	if result.Enqueued > 0 || result.Failed > 0 {
		s.logger.WithFields(logrus.Fields{
			"checked":  result.Checked,
			"enqueued": result.Enqueued,
			"failed":   result.Failed,
		}).Info("Scheduler tick completed")
	}
	return result, nil
}

func (s *Service) reportDepth(ctx context.Context) {
	for _, q := range s.queues {
		if err := q.ReportDepth(ctx); err != nil {
			s.logger.WithError(err).WithField("queue", q.Name()).Warn("Failed to refresh queue depth")
		}
	}
}
