package sources

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/azure/brand-mentions-pipeline/internal/models"
	"github.com/azure/brand-mentions-pipeline/internal/scraper"
)

const keywordPlaceholder = "{{keyword}}"

// Scraper is the part of the scraper engine the web collectors need
type Scraper interface {
	Scrape(ctx context.Context, cfg scraper.Config) ([]scraper.Item, error)
}

// WebCollector collects open-web pages through the scraper engine.
// One instance serves one of the scraped platforms.
type WebCollector struct {
	platform models.Platform
	engine   Scraper
	logger   logrus.FieldLogger
}

var _ Collector = (*WebCollector)(nil)

// NewWebCollector creates a scraping collector for platform
func NewWebCollector(platform models.Platform, engine Scraper, logger logrus.FieldLogger) *WebCollector {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &WebCollector{
		platform: platform,
		engine:   engine,
		logger:   logger.WithField("collector", platform),
	}
}

func (w *WebCollector) Platform() models.Platform {
	return w.platform
}

// DefaultSelectors are used when a source carries no selector configuration
func DefaultSelectors() models.SelectorConfig {
	return models.SelectorConfig{
		Container: scraper.DefaultContainer,
		Title:     "h1, h2, .title",
		Content:   "p, .content, .description",
		Author:    `.author, [rel="author"]`,
		Date:      "time, .date",
	}
}

func (w *WebCollector) Collect(ctx context.Context, source *models.Source, keywords []string) ([]models.RawMention, error) {
	baseURL := sourceURL(source)
	if baseURL == "" {
		return nil, &ConfigError{Platform: w.platform, Field: "url"}
	}
	if err := CheckDomain(baseURL); err != nil {
		return nil, err
	}

	targets := map[string]string{}
	if strings.Contains(baseURL, keywordPlaceholder) {
		for _, k := range keywords {
			targets[k] = strings.ReplaceAll(baseURL, keywordPlaceholder, url.QueryEscape(k))
		}
	} else {
		targets[""] = baseURL
	}

	var (
		mentions []models.RawMention
		failures int
		lastErr  error
	)
	for keyword, target := range targets {
		cfg := w.scrapeConfig(source, target, keyword)
		items, err := w.engine.Scrape(ctx, cfg)
		if err != nil {
			w.logger.Warnf("Scrape of %s failed: %v", target, err)
			failures++
			lastErr = err
			continue
		}
		for _, item := range items {
			mentions = append(mentions, itemMention(item, keyword))
		}
	}

	if failures == len(targets) {
		return nil, lastErr
	}
	return deduplicate(mentions), nil
}

func (w *WebCollector) scrapeConfig(source *models.Source, target, keyword string) scraper.Config {
	cfg := source.Config
	selectors := DefaultSelectors()
	if cfg.Selectors != nil {
		selectors = *cfg.Selectors
	}

	name := source.Name
	if keyword != "" {
		name = fmt.Sprintf("%s - %s", source.Name, keyword)
	}

	return scraper.Config{
		Name:      name,
		URL:       target,
		Platform:  w.platform,
		Selectors: selectors,
		Dynamic:   cfg.Dynamic,
		Headers:   cfg.Headers,
		Delay:     time.Duration(cfg.DelayMs) * time.Millisecond,
		MaxPages:  cfg.MaxPages,
	}
}

func itemMention(item scraper.Item, keyword string) models.RawMention {
	metadata := map[string]interface{}{}
	for k, v := range item.RawData {
		metadata[k] = v
	}
	if keyword != "" {
		metadata["keyword"] = keyword
	}

	sentiment := item.Sentiment
	if sentiment == "" {
		sentiment = LexiconSentiment(item.Title + " " + item.Content)
	}

	return models.RawMention{
		ExternalID:      item.ExternalID,
		Platform:        item.Platform,
		Author:          item.Author,
		Title:           item.Title,
		Content:         item.Content,
		URL:             item.URL,
		PublishedAt:     item.PublishedAt,
		EngagementCount: item.EngagementCount,
		Rating:          item.Rating,
		Sentiment:       sentiment,
		Metadata:        metadata,
	}
}

func sourceURL(source *models.Source) string {
	if u := strings.TrimSpace(source.URL); u != "" {
		return u
	}
	return strings.TrimSpace(source.Config.URL)
}

func (w *WebCollector) TestConnection(ctx context.Context, cfg models.SourceConfig) ConnectionResult {
	target := strings.TrimSpace(strings.ReplaceAll(cfg.URL, keywordPlaceholder, "test"))
	if target == "" {
		return ConnectionResult{Message: "config.url is required"}
	}
	if err := CheckDomain(target); err != nil {
		return ConnectionResult{Message: err.Error()}
	}

	source := &models.Source{Name: "connection test", URL: target, Config: cfg}
	scrapeCfg := w.scrapeConfig(source, target, "")
	scrapeCfg.MaxPages = 1

	items, err := w.engine.Scrape(ctx, scrapeCfg)
	if err != nil {
		return ConnectionResult{Message: fmt.Sprintf("Fetch failed: %v", err)}
	}
	return ConnectionResult{Success: true, Message: fmt.Sprintf("Page reachable, %d items matched the selectors", len(items))}
}
