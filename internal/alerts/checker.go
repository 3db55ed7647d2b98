package alerts

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/azure/brand-mentions-pipeline/internal/clock"
	"github.com/azure/brand-mentions-pipeline/internal/metrics"
	"github.com/azure/brand-mentions-pipeline/internal/models"
	"github.com/azure/brand-mentions-pipeline/internal/store"
)

const (
	defaultNegativeThreshold = 0.5
	defaultKeywordThreshold  = 10
	defaultSpikeThreshold    = 50
	// minSentimentSample is the number of mentions needed before an average is meaningful
	minSentimentSample = 5

	keywordWindow   = 24 * time.Hour
	spikeWindow     = time.Hour
	sentimentWindow = 24 * time.Hour
)

// Store is the persistence the checker needs
type Store interface {
	store.MentionRepository
	store.AlertRepository
}

// Enqueuer hands a notification job to the notifications queue
type Enqueuer interface {
	Enqueue(ctx context.Context, payload interface{}) (string, error)
}

// Checker evaluates a brand's active alert rules against a newly stored mention.
// It never writes to the mention; writes go to alert triggers and counters only.
type Checker struct {
	store         Store
	notifications Enqueuer
	clock         clock.Clock
	logger        logrus.FieldLogger
}

// Evaluation is the outcome of one rule against one mention
type Evaluation struct {
	Triggered bool
	Value     float64
	Message   string
}

// NewChecker creates a checker. notifications may be nil, in which case triggers are only recorded.
func NewChecker(st Store, notifications Enqueuer, clk clock.Clock, logger logrus.FieldLogger) *Checker {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Checker{store: st, notifications: notifications, clock: clk, logger: logger}
}

// Check evaluates every active alert of brandID. A failing rule does not stop the others;
// the last failure is returned once all rules have run.
func (c *Checker) Check(ctx context.Context, mentionID, brandID string) error {
	mention, err := c.store.GetMention(ctx, mentionID)
	if err != nil {
		return fmt.Errorf("failed to load mention %s: %w", mentionID, err)
	}

	alerts, err := c.store.ListActiveAlerts(ctx, brandID)
	if err != nil {
		return fmt.Errorf("failed to list alerts for brand %s: %w", brandID, err)
	}

	var failed int
	var lastErr error
	for _, alert := range alerts {
		logger := c.logger.WithFields(logrus.Fields{
			"alert_id":   alert.ID,
			"condition":  alert.Condition,
			"mention_id": mentionID,
		})

		result, err := c.Evaluate(ctx, alert, mention)
		if err != nil {
			logger.WithError(err).Error("Failed to evaluate alert")
			failed++
			lastErr = err
			continue
		}
		if !result.Triggered {
			continue
		}

		if err := c.trigger(ctx, logger, alert, mention, result); err != nil {
			logger.WithError(err).Error("Failed to record alert trigger")
			failed++
			lastErr = err
		}
	}

	if lastErr != nil {
		return fmt.Errorf("%d of %d alerts failed: %w", failed, len(alerts), lastErr)
	}
	return nil
}

// Evaluate applies one alert rule to a mention
func (c *Checker) Evaluate(ctx context.Context, alert models.Alert, mention *models.Mention) (Evaluation, error) {
	now := c.clock.Now()

	switch alert.Condition {
	case models.ConditionNegativeSentiment:
		threshold := math.Abs(alert.Threshold)
		if threshold == 0 {
			threshold = defaultNegativeThreshold
		}
		if mention.Sentiment == models.SentimentNegative && mention.SentimentScore < -threshold {
			return Evaluation{
				Triggered: true,
				Value:     mention.SentimentScore,
				Message:   fmt.Sprintf("Negative sentiment detected on %s (score %.2f)", mention.Platform, mention.SentimentScore),
			}, nil
		}

	case models.ConditionKeywordFrequency:
		if alert.Keyword == "" || !hasKeyword(mention.Keywords, alert.Keyword) {
			return Evaluation{}, nil
		}
		if coolingDown(alert, now, keywordWindow) {
			return Evaluation{}, nil
		}
		count, err := c.store.CountKeywordMentionsSince(ctx, mention.BrandID, alert.Keyword, now.Add(-keywordWindow))
		if err != nil {
			return Evaluation{}, err
		}
		threshold := thresholdOr(alert.Threshold, defaultKeywordThreshold)
		if float64(count) >= threshold {
			return Evaluation{
				Triggered: true,
				Value:     float64(count),
				Message:   fmt.Sprintf("Keyword %q mentioned %d times in the last 24h", alert.Keyword, count),
			}, nil
		}

	case models.ConditionMentionSpike:
		if coolingDown(alert, now, spikeWindow) {
			return Evaluation{}, nil
		}
		count, err := c.store.CountMentionsSince(ctx, mention.BrandID, now.Add(-spikeWindow))
		if err != nil {
			return Evaluation{}, err
		}
		threshold := thresholdOr(alert.Threshold, defaultSpikeThreshold)
		if float64(count) >= threshold {
			return Evaluation{
				Triggered: true,
				Value:     float64(count),
				Message:   fmt.Sprintf("Mention spike: %d mentions in the last hour", count),
			}, nil
		}

	case models.ConditionSentimentDrop:
		if coolingDown(alert, now, sentimentWindow) {
			return Evaluation{}, nil
		}
		avg, n, err := c.store.AverageSentimentSince(ctx, mention.BrandID, now.Add(-sentimentWindow))
		if err != nil {
			return Evaluation{}, err
		}
		if n >= minSentimentSample && avg < alert.Threshold {
			return Evaluation{
				Triggered: true,
				Value:     avg,
				Message:   fmt.Sprintf("Average sentiment dropped to %.2f over %d mentions in the last 24h", avg, n),
			}, nil
		}

	default:
		return Evaluation{}, fmt.Errorf("unsupported alert condition %q", alert.Condition)
	}

	return Evaluation{}, nil
}

func (c *Checker) trigger(ctx context.Context, logger logrus.FieldLogger, alert models.Alert, mention *models.Mention, result Evaluation) error {
	trigger := &models.AlertTrigger{
		ID:        uuid.NewString(),
		AlertID:   alert.ID,
		MentionID: mention.ID,
		Value:     result.Value,
		Message:   result.Message,
		CreatedAt: c.clock.Now(),
	}
	if err := c.store.CreateTrigger(ctx, trigger); err != nil {
		return err
	}
	metrics.AlertsTriggered.WithLabelValues(string(alert.Condition)).Inc()
	logger.WithField("value", result.Value).Warn("Alert triggered")

	if c.notifications != nil {
		c.notify(ctx, logger, alert, mention, trigger)
	}
	return nil
}

// notify enqueues one job per organization member plus an organization-wide broadcast
// (empty user id). Enqueue failures are logged, the trigger is already stored.
func (c *Checker) notify(ctx context.Context, logger logrus.FieldLogger, alert models.Alert, mention *models.Mention, trigger *models.AlertTrigger) {
	recipients, err := c.store.ListRecipients(ctx, alert.OrganizationID)
	if err != nil {
		logger.WithError(err).Error("Failed to list alert recipients")
		recipients = nil
	}

	jobs := make([]models.NotificationJob, 0, len(recipients)+1)
	for _, r := range recipients {
		job := notificationJob(alert, mention, trigger)
		job.UserID = r.UserID
		if r.Email != "" {
			job.Data["email"] = r.Email
		}
		jobs = append(jobs, job)
	}
	jobs = append(jobs, notificationJob(alert, mention, trigger))

	var errs []error
	for _, job := range jobs {
		if _, err := c.notifications.Enqueue(ctx, job); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		logger.WithError(errors.Join(errs...)).Errorf("Failed to enqueue %d of %d notifications", len(errs), len(jobs))
	}
}

func notificationJob(alert models.Alert, mention *models.Mention, trigger *models.AlertTrigger) models.NotificationJob {
	return models.NotificationJob{
		Type:           models.NotificationAlertTriggered,
		OrganizationID: alert.OrganizationID,
		Title:          fmt.Sprintf("[%s] %s", alert.Level, alert.Name),
		Message:        trigger.Message,
		Data: map[string]interface{}{
			"alert_id":   alert.ID,
			"trigger_id": trigger.ID,
			"mention_id": mention.ID,
			"brand_id":   mention.BrandID,
			"condition":  string(alert.Condition),
			"level":      string(alert.Level),
			"value":      trigger.Value,
			"platform":   string(mention.Platform),
			"url":        mention.URL,
			"excerpt":    excerpt(mention.Content, 280),
		},
	}
}

// coolingDown suppresses aggregate rules that already fired inside their window
func coolingDown(alert models.Alert, now time.Time, window time.Duration) bool {
	return alert.LastTriggeredAt != nil && now.Sub(*alert.LastTriggeredAt) < window
}

func hasKeyword(keywords []string, keyword string) bool {
	for _, kw := range keywords {
		if strings.EqualFold(kw, keyword) {
			return true
		}
	}
	return false
}

func thresholdOr(threshold, def float64) float64 {
	if threshold <= 0 {
		return def
	}
	return threshold
}

func excerpt(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + "..."
}
