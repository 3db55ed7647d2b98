package ingest

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/azure/brand-mentions-pipeline/internal/aiclient"
	"github.com/azure/brand-mentions-pipeline/internal/clock"
	"github.com/azure/brand-mentions-pipeline/internal/metrics"
	"github.com/azure/brand-mentions-pipeline/internal/models"
	"github.com/azure/brand-mentions-pipeline/internal/queue"
	"github.com/azure/brand-mentions-pipeline/internal/store"
)

const defaultKeywordLimit = 5

// MentionProcessor enriches a mention candidate and stores it:
// dedup, sentiment, keywords, persist, alert check.
type MentionProcessor struct {
	store        MentionStore
	analyzer     aiclient.Analyzer
	alerts       AlertChecker
	keywordLimit int
	clock        clock.Clock
	logger       logrus.FieldLogger
}

// MentionOptions holds the optional collaborators of a MentionProcessor
type MentionOptions struct {
	// Analyzer is the AI enrichment service; nil means every mention gets the fallbacks
	Analyzer     aiclient.Analyzer
	Alerts       AlertChecker
	KeywordLimit int
	Clock        clock.Clock
	Logger       logrus.FieldLogger
}

func NewMentionProcessor(st MentionStore, opts MentionOptions) *MentionProcessor {
	p := &MentionProcessor{
		store:        st,
		analyzer:     opts.Analyzer,
		alerts:       opts.Alerts,
		keywordLimit: opts.KeywordLimit,
		clock:        opts.Clock,
		logger:       opts.Logger,
	}
	if p.keywordLimit <= 0 {
		p.keywordLimit = defaultKeywordLimit
	}
	if p.clock == nil {
		p.clock = clock.Real{}
	}
	if p.logger == nil {
		p.logger = logrus.StandardLogger()
	}
	return p
}

// Handle is the queue.Handler for the mentions queue
func (p *MentionProcessor) Handle(ctx context.Context, job *queue.Job) error {
	var payload models.MentionJob
	if err := job.Decode(&payload); err != nil {
		return err
	}
	_, err := p.Process(ctx, payload)
	return err
}

// Process ingests one candidate and returns the stored mention. Ingesting the
// same (external id, platform) twice returns the first mention unchanged.
// Only persistence failures are returned.
func (p *MentionProcessor) Process(ctx context.Context, job models.MentionJob) (*models.Mention, error) {
	if job.ExternalID == "" || job.Platform == "" {
		return nil, queue.Permanent(errors.New("mention job needs an external id and a platform"))
	}
	logger := p.logger.WithFields(logrus.Fields{
		"external_id": job.ExternalID,
		"platform":    job.Platform,
	})

	existing, err := p.store.FindMention(ctx, job.ExternalID, job.Platform)
	switch {
	case err == nil:
		metrics.IngestedMentions.WithLabelValues("duplicate").Inc()
		logger.Debug("Mention already ingested")
		return existing, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("failed to look up mention: %w", err)
	}

	brand, err := p.store.GetBrand(ctx, job.BrandID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, queue.Permanent(err)
		}
		return nil, fmt.Errorf("failed to load brand %s: %w", job.BrandID, err)
	}

	sentiment := p.analyzeSentiment(ctx, logger, job.Content)
	keywords := p.extractKeywords(ctx, logger, job.Content, brand.Keywords)

	language := sentiment.Language
	if language == "" {
		language = "unknown"
	}

	now := p.clock.Now()
	mention := &models.Mention{
		ID:              uuid.NewString(),
		BrandID:         job.BrandID,
		SourceID:        job.SourceID,
		ExternalID:      job.ExternalID,
		Platform:        job.Platform,
		Author:          job.Author,
		AuthorURL:       job.AuthorURL,
		Content:         job.Content,
		URL:             job.URL,
		PublishedAt:     job.PublishedAt,
		Sentiment:       sentiment.Sentiment,
		SentimentScore:  sentiment.Score,
		Language:        language,
		Keywords:        keywords,
		EngagementCount: job.EngagementCount,
		ReachScore:      job.EngagementCount,
		Processed:       true,
		AnalyzedAt:      now,
		RawData:         rawData(job),
		CreatedAt:       now,
	}
	if mention.PublishedAt.IsZero() {
		mention.PublishedAt = now
	}

	if err := p.store.CreateMention(ctx, mention); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// A concurrent delivery won the insert
			metrics.IngestedMentions.WithLabelValues("duplicate").Inc()
			return p.store.FindMention(ctx, job.ExternalID, job.Platform)
		}
		return nil, err
	}
	metrics.IngestedMentions.WithLabelValues("created").Inc()

	logger.WithFields(logrus.Fields{
		"mention_id": mention.ID,
		"sentiment":  mention.Sentiment,
		"keywords":   len(mention.Keywords),
	}).Info("Mention ingested")

	if p.alerts != nil {
		if err := p.alerts.Check(ctx, mention.ID, mention.BrandID); err != nil {
			logger.WithError(err).Error("Alert check failed")
		}
	}

	return mention, nil
}

func (p *MentionProcessor) analyzeSentiment(ctx context.Context, logger logrus.FieldLogger, text string) aiclient.SentimentResult {
	fallback := aiclient.SentimentResult{Sentiment: models.SentimentNeutral}
	if p.analyzer == nil {
		return fallback
	}

	result, err := p.analyzer.AnalyzeSentiment(ctx, text)
	if err != nil || result == nil {
		metrics.EnrichmentFallbacks.WithLabelValues("sentiment").Inc()
		logger.WithError(err).Warn("Sentiment analysis unavailable, using NEUTRAL")
		return fallback
	}
	return *result
}

// extractKeywords unions the brand keywords found in text with the keywords suggested by the analyzer
func (p *MentionProcessor) extractKeywords(ctx context.Context, logger logrus.FieldLogger, text string, brandKeywords []string) []string {
	keywords := MatchKeywords(text, brandKeywords)
	if p.analyzer == nil {
		return keywords
	}

	suggested, err := p.analyzer.ExtractKeywords(ctx, text, p.keywordLimit)
	if err != nil {
		metrics.EnrichmentFallbacks.WithLabelValues("keywords").Inc()
		logger.WithError(err).Warn("Keyword extraction unavailable, using brand keyword matches only")
		return keywords
	}
	return union(keywords, suggested)
}

// MatchKeywords returns the keywords that occur in text as whole words, ignoring case
func MatchKeywords(text string, keywords []string) []string {
	matched := []string{}
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(kw) + `\b`)
		if err != nil {
			continue
		}
		if re.MatchString(text) {
			matched = append(matched, kw)
		}
	}
	return union(matched, nil)
}

func union(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, kw := range list {
			key := strings.ToLower(strings.TrimSpace(kw))
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, strings.TrimSpace(kw))
		}
	}
	return out
}

func rawData(job models.MentionJob) map[string]interface{} {
	if len(job.RawData) == 0 && job.AuthorAvatar == "" {
		return nil
	}
	raw := make(map[string]interface{}, len(job.RawData)+1)
	for k, v := range job.RawData {
		raw[k] = v
	}
	if job.AuthorAvatar != "" {
		raw["author_avatar"] = job.AuthorAvatar
	}
	return raw
}
