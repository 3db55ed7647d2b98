package ingest

import (
	"context"
	"time"

	"github.com/azure/brand-mentions-pipeline/internal/models"
	"github.com/azure/brand-mentions-pipeline/internal/sources"
	"github.com/azure/brand-mentions-pipeline/internal/store"
)

// Enqueuer hands a payload to a job queue
type Enqueuer interface {
	Enqueue(ctx context.Context, payload interface{}) (string, error)
}

// CollectorResolver resolves the collector bound to a platform
type CollectorResolver interface {
	Get(platform models.Platform) (sources.Collector, error)
}

// BatchArchiver keeps a copy of each raw collection batch
type BatchArchiver interface {
	Archive(ctx context.Context, source *models.Source, keywords []string, mentions []models.RawMention, at time.Time) (string, error)
}

// AlertChecker evaluates a brand's alert rules against a freshly stored mention
type AlertChecker interface {
	Check(ctx context.Context, mentionID, brandID string) error
}

// ScrapeStore is the persistence the scrape processor needs
type ScrapeStore interface {
	store.SourceRepository
	store.BrandRepository
}

// MentionStore is the persistence the mention processor needs
type MentionStore interface {
	store.MentionRepository
	store.BrandRepository
}
