package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/azure/brand-mentions-pipeline/internal/clock"
	"github.com/azure/brand-mentions-pipeline/internal/metrics"
	"github.com/azure/brand-mentions-pipeline/internal/models"
	"github.com/azure/brand-mentions-pipeline/internal/queue"
	"github.com/azure/brand-mentions-pipeline/internal/sources"
	"github.com/azure/brand-mentions-pipeline/internal/store"
)

// ScrapeProcessor runs one collection for a source and fans the results out as ingestion jobs
type ScrapeProcessor struct {
	store      ScrapeStore
	collectors CollectorResolver
	mentions   Enqueuer
	archiver   BatchArchiver
	clock      clock.Clock
	logger     logrus.FieldLogger
}

// ScrapeResult summarises one collection run
type ScrapeResult struct {
	SourceID string `json:"source_id"`
	Skipped  bool   `json:"skipped,omitempty"`
	Found    int    `json:"found"`
	Enqueued int    `json:"enqueued"`
	Archive  string `json:"archive,omitempty"`
}

// NewScrapeProcessor creates a scrape processor. archiver may be nil.
func NewScrapeProcessor(st ScrapeStore, collectors CollectorResolver, mentions Enqueuer, archiver BatchArchiver, clk clock.Clock, logger logrus.FieldLogger) *ScrapeProcessor {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ScrapeProcessor{
		store:      st,
		collectors: collectors,
		mentions:   mentions,
		archiver:   archiver,
		clock:      clk,
		logger:     logger,
	}
}

// Handle is the queue.Handler for the scrape queue
func (p *ScrapeProcessor) Handle(ctx context.Context, job *queue.Job) error {
	var payload models.ScrapeJob
	if err := job.Decode(&payload); err != nil {
		return err
	}
	_, err := p.Process(ctx, payload)
	return err
}

// Process collects mentions for the job's source. Policy failures come back
// wrapped with queue.Permanent, anything else is left to the broker's retry policy.
func (p *ScrapeProcessor) Process(ctx context.Context, job models.ScrapeJob) (*ScrapeResult, error) {
	if job.SourceID == "" {
		return nil, queue.Permanent(errors.New("scrape job has no source id"))
	}
	logger := p.logger.WithField("source_id", job.SourceID)
	result := &ScrapeResult{SourceID: job.SourceID}

	source, err := p.store.GetSource(ctx, job.SourceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, queue.Permanent(err)
		}
		return nil, fmt.Errorf("failed to load source %s: %w", job.SourceID, err)
	}
	logger = logger.WithField("platform", source.Platform)

	if !source.Active && !job.Force {
		logger.Info("Source is inactive, skipping")
		result.Skipped = true
		return result, nil
	}

	collector, err := p.collectors.Get(source.Platform)
	if err != nil {
		var disabled *sources.DisabledError
		if errors.As(err, &disabled) {
			if derr := p.store.Deactivate(ctx, source.ID); derr != nil {
				logger.WithError(derr).Error("Failed to deactivate source of disabled platform")
			} else {
				logger.WithField("reason", disabled.Reason).Warn("Deactivated source of disabled platform")
			}
		}
		return nil, p.fail(ctx, logger, source, err)
	}

	keywords, err := p.resolveKeywords(ctx, source)
	if err != nil {
		return nil, p.fail(ctx, logger, source, err)
	}

	logger.WithField("keywords", keywords).Info("Collecting mentions")
	raw, err := collector.Collect(ctx, source, keywords)
	if err != nil {
		return nil, p.fail(ctx, logger, source, err)
	}
	result.Found = len(raw)
	metrics.CollectedMentions.WithLabelValues(string(source.Platform)).Add(float64(len(raw)))

	if p.archiver != nil && len(raw) > 0 {
		name, err := p.archiver.Archive(ctx, source, keywords, raw, p.clock.Now())
		if err != nil {
			logger.WithError(err).Warn("Failed to archive collection batch")
		} else {
			result.Archive = name
		}
	}

	for _, m := range raw {
		if _, err := p.mentions.Enqueue(ctx, mentionJob(source, m)); err != nil {
			// Already enqueued mentions are deduplicated on redelivery.
			return nil, fmt.Errorf("failed to enqueue mention %s: %w", m.ExternalID, err)
		}
		result.Enqueued++
	}

	if err := p.store.RecordSuccess(ctx, source.ID, p.clock.Now()); err != nil {
		logger.WithError(err).Error("Failed to record collection success")
	}

	logger.WithFields(logrus.Fields{
		"found":    result.Found,
		"enqueued": result.Enqueued,
	}).Info("Collection completed")
	return result, nil
}

// resolveKeywords prefers the source's own keywords, then the brand's, then the brand name
func (p *ScrapeProcessor) resolveKeywords(ctx context.Context, source *models.Source) ([]string, error) {
	if kws := nonBlank(source.Config.Keywords); len(kws) > 0 {
		return kws, nil
	}

	brand, err := p.store.GetBrand(ctx, source.BrandID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &sources.ConfigError{Platform: source.Platform, Field: "brand " + source.BrandID}
		}
		return nil, fmt.Errorf("failed to load brand %s: %w", source.BrandID, err)
	}

	if kws := nonBlank(brand.Keywords); len(kws) > 0 {
		return kws, nil
	}
	if name := strings.TrimSpace(brand.Name); name != "" {
		return []string{name}, nil
	}
	return nil, &sources.ConfigError{Platform: source.Platform, Field: "keywords"}
}

func (p *ScrapeProcessor) fail(ctx context.Context, logger logrus.FieldLogger, source *models.Source, cause error) error {
	metrics.CollectionErrors.WithLabelValues(string(source.Platform)).Inc()
	if err := p.store.RecordFailure(ctx, source.ID, cause.Error()); err != nil {
		logger.WithError(err).Error("Failed to record collection failure")
	}

	if sources.IsPolicyError(cause) {
		logger.WithError(cause).Warn("Collection rejected by policy")
		return queue.Permanent(cause)
	}
	logger.WithError(cause).Error("Collection failed")
	return fmt.Errorf("collection for source %s failed: %w", source.ID, cause)
}

func mentionJob(source *models.Source, m models.RawMention) models.MentionJob {
	author := strings.TrimSpace(m.Author)
	if author == "" {
		author = "Anonymous"
	}

	raw := make(map[string]interface{}, len(m.Metadata)+3)
	for k, v := range m.Metadata {
		raw[k] = v
	}
	if m.Title != "" {
		raw["title"] = m.Title
	}
	if m.Rating != nil {
		raw["rating"] = *m.Rating
	}
	if m.Sentiment != "" {
		raw["collector_sentiment"] = string(m.Sentiment)
	}

	platform := m.Platform
	if platform == "" {
		platform = source.Platform
	}

	return models.MentionJob{
		Content:         m.Content,
		Author:          author,
		AuthorURL:       m.AuthorURL,
		AuthorAvatar:    m.AuthorAvatar,
		URL:             m.URL,
		PublishedAt:     m.PublishedAt,
		ExternalID:      m.ExternalID,
		Platform:        platform,
		EngagementCount: m.EngagementCount,
		BrandID:         source.BrandID,
		SourceID:        source.ID,
		RawData:         raw,
	}
}

func nonBlank(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
