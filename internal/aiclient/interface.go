package aiclient

import (
	"context"

	"github.com/azure/brand-mentions-pipeline/internal/models"
)

// Analyzer is the sentiment and keyword capability consumed by ingestion
type Analyzer interface {
	AnalyzeSentiment(ctx context.Context, text string) (*SentimentResult, error)
	ExtractKeywords(ctx context.Context, text string, limit int) ([]string, error)
}

// SentimentResult is the normalized answer of the sentiment endpoint
type SentimentResult struct {
	Sentiment  models.Sentiment
	Score      float64
	Confidence float64
	Language   string
}
