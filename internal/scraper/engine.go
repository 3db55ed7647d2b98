package scraper

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"github.com/azure/brand-mentions-pipeline/internal/clock"
	"github.com/azure/brand-mentions-pipeline/internal/models"
)

const (
	fetcherStatic  = "static"
	fetcherDynamic = "dynamic"
)

// Engine composes a Fetcher and a Parser per platform to scrape configured pages
type Engine struct {
	fetchers map[string]Fetcher
	parsers  map[models.Platform]Parser
	fallback Parser
	clock    clock.Clock
	logger   logrus.FieldLogger
}

// NewEngine wires the parsers for every scraped platform. dynamic may be nil,
// in which case sources asking for JS rendering fall back to the static fetcher.
func NewEngine(static, dynamic Fetcher, clk clock.Clock, logger logrus.FieldLogger) *Engine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if clk == nil {
		clk = clock.Real{}
	}

	generic := NewGenericParser(logger)
	forum := NewForumParser(logger)
	review := NewReviewParser(logger)

	e := &Engine{
		fetchers: map[string]Fetcher{fetcherStatic: static},
		parsers: map[models.Platform]Parser{
			models.PlatformWeb:           generic,
			models.PlatformNews:          generic,
			models.PlatformBlog:          generic,
			models.PlatformForum:         forum,
			models.PlatformReview:        review,
			models.PlatformTrustpilot:    review,
			models.PlatformGoogleReviews: review,
		},
		fallback: generic,
		clock:    clk,
		logger:   logger,
	}
	if dynamic != nil {
		e.fetchers[fetcherDynamic] = dynamic
	}
	return e
}

// Scrape fetches cfg.URL, follows the next-page link up to MaxPages and
// returns every extracted item
func (e *Engine) Scrape(ctx context.Context, cfg Config) ([]Item, error) {
	logger := e.logger.WithFields(logrus.Fields{"scraper": cfg.Name, "platform": cfg.Platform})

	fetcher, err := e.fetcherFor(cfg)
	if err != nil {
		return nil, err
	}

	parser, ok := e.parsers[cfg.Platform]
	if !ok {
		parser = e.fallback
	}

	maxPages := cfg.MaxPages
	if maxPages < 1 {
		maxPages = 1
	}

	var items []Item
	pageURL := cfg.URL
	visited := map[string]bool{}

	for page := 0; page < maxPages && pageURL != "" && !visited[pageURL]; page++ {
		visited[pageURL] = true

		html, err := fetcher.Fetch(ctx, pageURL, cfg.Headers)
		if err != nil {
			if page == 0 {
				return nil, err
			}
			logger.Warnf("Stopping pagination at page %d: %v", page+1, err)
			break
		}

		doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
		if err != nil {
			if page == 0 {
				return nil, fmt.Errorf("parse html from %s: %w", pageURL, err)
			}
			logger.Warnf("Stopping pagination at page %d: %v", page+1, err)
			break
		}

		pageCfg := cfg
		pageCfg.URL = pageURL
		items = append(items, parser.Parse(doc, pageCfg, e.clock.Now())...)

		pageURL = nextPageURL(doc, cfg.Selectors.NextPage, pageURL)
		if pageURL != "" && page+1 < maxPages && cfg.Delay > 0 {
			if err := sleepContext(ctx, cfg.Delay); err != nil {
				return items, err
			}
		}
	}

	logger.Infof("Scraped %d items", len(items))
	return items, nil
}

func (e *Engine) fetcherFor(cfg Config) (Fetcher, error) {
	if cfg.Dynamic {
		if f, ok := e.fetchers[fetcherDynamic]; ok {
			return f, nil
		}
		e.logger.WithField("scraper", cfg.Name).Warn("Dynamic rendering unavailable, using static fetch")
	}
	f, ok := e.fetchers[fetcherStatic]
	if !ok || f == nil {
		return nil, fmt.Errorf("no fetcher configured")
	}
	return f, nil
}

func nextPageURL(doc *goquery.Document, selector, current string) string {
	if strings.TrimSpace(selector) == "" {
		return ""
	}
	href, ok := doc.Find(selector).First().Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return ""
	}
	base, err := url.Parse(current)
	if err != nil {
		return ""
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
