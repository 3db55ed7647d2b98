package store

import (
	"context"
	"errors"
	"time"

	"github.com/azure/brand-mentions-pipeline/internal/models"
)

var (
	// ErrNotFound is returned when a requested row does not exist
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a mention with the same (external id, platform) exists
	ErrDuplicate = errors.New("duplicate mention")
)

// SourceRepository reads and updates monitored sources
type SourceRepository interface {
	GetSource(ctx context.Context, id string) (*models.Source, error)
	ListActiveSources(ctx context.Context) ([]models.Source, error)
	// MarkScheduled advances last_collected_at to at; it never moves it backwards.
	MarkScheduled(ctx context.Context, id string, at time.Time) error
	RecordSuccess(ctx context.Context, id string, at time.Time) error
	RecordFailure(ctx context.Context, id string, message string) error
	Deactivate(ctx context.Context, id string) error
}

// BrandRepository reads brands
type BrandRepository interface {
	GetBrand(ctx context.Context, id string) (*models.Brand, error)
	ListBrands(ctx context.Context) ([]models.Brand, error)
}

// MentionRepository stores enriched mentions
type MentionRepository interface {
	FindMention(ctx context.Context, externalID string, platform models.Platform) (*models.Mention, error)
	CreateMention(ctx context.Context, mention *models.Mention) error
	GetMention(ctx context.Context, id string) (*models.Mention, error)
	CountMentionsSince(ctx context.Context, brandID string, since time.Time) (int, error)
	CountKeywordMentionsSince(ctx context.Context, brandID, keyword string, since time.Time) (int, error)
	AverageSentimentSince(ctx context.Context, brandID string, since time.Time) (float64, int, error)
	// ListMentionsSince returns the brand's mentions created at or after since, oldest first.
	ListMentionsSince(ctx context.Context, brandID string, since time.Time) ([]models.Mention, error)
}

// AlertRepository reads alert rules and records their triggers
type AlertRepository interface {
	ListActiveAlerts(ctx context.Context, brandID string) ([]models.Alert, error)
	// CreateTrigger inserts the trigger and bumps the alert counter atomically.
	CreateTrigger(ctx context.Context, trigger *models.AlertTrigger) error
	ListRecipients(ctx context.Context, organizationID string) ([]models.Recipient, error)
}

// Store is the full persistence surface used by the pipeline
type Store interface {
	SourceRepository
	BrandRepository
	MentionRepository
	AlertRepository
}
