package sources

import (
	"context"

	"github.com/azure/brand-mentions-pipeline/internal/models"
)

// Collector turns a Source and a keyword list into raw mention candidates.
// There is one implementation per platform.
type Collector interface {
	Platform() models.Platform
	Collect(ctx context.Context, source *models.Source, keywords []string) ([]models.RawMention, error)
	TestConnection(ctx context.Context, cfg models.SourceConfig) ConnectionResult
}

// ConnectionResult reports whether a collector can reach its platform
type ConnectionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
