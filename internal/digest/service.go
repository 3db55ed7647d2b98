package digest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/azure/brand-mentions-pipeline/internal/clock"
	"github.com/azure/brand-mentions-pipeline/internal/models"
)

const (
	Daily  = "daily"
	Weekly = "weekly"
	Off    = "off"

	defaultTopN = 5
)

// Schedule maps a digest schedule name to its cron spec and reporting period
func Schedule(name string) (spec string, period time.Duration, ok bool) {
	switch name {
	case Daily:
		// 9 AM UTC
		return "0 0 9 * * *", 24 * time.Hour, true
	case Weekly:
		// Monday 9 AM UTC
		return "0 0 9 * * MON", 7 * 24 * time.Hour, true
	default:
		return "", 0, false
	}
}

// Store is the persistence the digest reads
type Store interface {
	ListBrands(ctx context.Context) ([]models.Brand, error)
	GetBrand(ctx context.Context, id string) (*models.Brand, error)
	ListMentionsSince(ctx context.Context, brandID string, since time.Time) ([]models.Mention, error)
	ListRecipients(ctx context.Context, organizationID string) ([]models.Recipient, error)
}

// Enqueuer hands a notification job to the notifications queue
type Enqueuer interface {
	Enqueue(ctx context.Context, payload interface{}) (string, error)
}

// Options configures the digest service
type Options struct {
	// Schedule is "daily" or "weekly"
	Schedule string
	TopN     int
	Clock    clock.Clock
	Logger   logrus.FieldLogger
}

// Service builds periodic per-brand mention digests and sends them as notifications
type Service struct {
	store         Store
	notifications Enqueuer
	schedule      string
	period        time.Duration
	topN          int
	clock         clock.Clock
	logger        logrus.FieldLogger
}

// RunResult summarises one digest pass
type RunResult struct {
	Brands  int `json:"brands"`
	Sent    int `json:"sent"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// NewService creates a new digest service
func NewService(st Store, notifications Enqueuer, opts Options) (*Service, error) {
	schedule := opts.Schedule
	if schedule == "" {
		schedule = Daily
	}
	_, period, ok := Schedule(schedule)
	if !ok {
		return nil, fmt.Errorf("unknown digest schedule %q", opts.Schedule)
	}

	s := &Service{
		store:         st,
		notifications: notifications,
		schedule:      schedule,
		period:        period,
		topN:          opts.TopN,
		clock:         opts.Clock,
		logger:        opts.Logger,
	}
	if s.topN <= 0 {
		s.topN = defaultTopN
	}
	if s.clock == nil {
		s.clock = clock.Real{}
	}
	if s.logger == nil {
		s.logger = logrus.StandardLogger()
	}
	return s, nil
}

// Spec returns the cron spec of the configured schedule
func (s *Service) Spec() string {
	spec, _, _ := Schedule(s.schedule)
	return spec
}

// Build returns the digest of one brand for the period ending now
func (s *Service) Build(ctx context.Context, brandID string) (*Report, error) {
	brand, err := s.store.GetBrand(ctx, brandID)
	if err != nil {
		return nil, err
	}
	return s.build(ctx, *brand, s.clock.Now())
}

func (s *Service) build(ctx context.Context, brand models.Brand, now time.Time) (*Report, error) {
	from := now.Add(-s.period)
	mentions, err := s.store.ListMentionsSince(ctx, brand.ID, from)
	if err != nil {
		return nil, err
	}
	return Summarize(brand, mentions, s.schedule, from, now, s.topN), nil
}

// Run sends a digest for every brand with mentions in the period. A failing brand
// does not stop the others.
func (s *Service) Run(ctx context.Context) (RunResult, error) {
	var result RunResult

	brands, err := s.store.ListBrands(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to list brands: %w", err)
	}

	now := s.clock.Now()
	var errs []error
	for _, brand := range brands {
		result.Brands++
		logger := s.logger.WithField("brand_id", brand.ID)

		report, err := s.build(ctx, brand, now)
		if err != nil {
			logger.WithError(err).Error("Failed to build digest")
			errs = append(errs, err)
			result.Failed++
			continue
		}
		if report.TotalMentions == 0 {
			logger.Debug("No mentions in period, skipping digest")
			result.Skipped++
			continue
		}

		if err := s.send(ctx, report); err != nil {
			logger.WithError(err).Error("Failed to enqueue digest")
			errs = append(errs, err)
			result.Failed++
			continue
		}
		result.Sent++
		logger.WithField("mentions", report.TotalMentions).Info("Digest enqueued")
	}

	s.logger.WithFields(logrus.Fields{
		"brands":  result.Brands,
		"sent":    result.Sent,
		"skipped": result.Skipped,
		"failed":  result.Failed,
	}).Info("Digest run completed")

	if len(errs) > 0 {
		return result, fmt.Errorf("%d of %d digests failed: %w", len(errs), result.Brands, errors.Join(errs...))
	}
	return result, nil
}

// send enqueues the organization broadcast and one email job per member with an address
func (s *Service) send(ctx context.Context, report *Report) error {
	if s.notifications == nil {
		return nil
	}

	recipients, err := s.store.ListRecipients(ctx, report.OrganizationID)
	if err != nil {
		s.logger.WithError(err).WithField("brand_id", report.BrandID).Warn("Failed to list digest recipients")
	}

	if _, err := s.notifications.Enqueue(ctx, report.Notification()); err != nil {
		return err
	}
	for _, r := range recipients {
		if r.Email == "" {
			continue
		}
		job := report.Notification()
		job.UserID = r.UserID
		job.Data["email"] = r.Email
		if _, err := s.notifications.Enqueue(ctx, job); err != nil {
			return err
		}
	}
	return nil
}
