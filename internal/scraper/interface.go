package scraper

import (
	"context"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/azure/brand-mentions-pipeline/internal/models"
)

// Fetcher retrieves the raw body of a page
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string, headers map[string]string) (string, error)
}

// Parser extracts items from a parsed page
type Parser interface {
	Parse(doc *goquery.Document, cfg Config, now time.Time) []Item
}

// Config describes one scrape
type Config struct {
	Name      string
	URL       string
	Platform  models.Platform
	Selectors models.SelectorConfig
	Dynamic   bool
	Headers   map[string]string
	// Delay is slept between page fetches
	Delay    time.Duration
	MaxPages int
}

// Item is a mention candidate extracted from a page
type Item struct {
	Title           string
	Content         string
	Author          string
	PublishedAt     time.Time
	URL             string
	ExternalID      string
	Platform        models.Platform
	EngagementCount int
	Rating          *float64
	Sentiment       models.Sentiment
	RawData         map[string]interface{}
}
