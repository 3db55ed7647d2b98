package scraper

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"github.com/azure/brand-mentions-pipeline/internal/models"
)

// Selector defaults for the generic parser
const (
	DefaultContainer = "article, .post, .entry"
	defaultTitle     = "h1, h2"
	defaultContent   = "p"
	defaultAuthor    = ".author"
	defaultDate      = "time"
	defaultLink      = "a"
	anonymousAuthor  = "Anonymous"
)

const (
	ratingSelector  = `[aria-label*="rating"], [class*="rating"], [class*="star"]`
	repliesSelector = `.replies, .reply-count, [class*="repl"]`
)

var (
	whitespace    = regexp.MustCompile(`\s+`)
	numberPattern = regexp.MustCompile(`(\d+(\.\d+)?)`)
)

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"2 Jan 2006",
}

// GenericParser extracts article-like items from container elements
type GenericParser struct {
	logger logrus.FieldLogger
}

// Ensure GenericParser implements Parser
var _ Parser = (*GenericParser)(nil)

// NewGenericParser creates the default parser
func NewGenericParser(logger logrus.FieldLogger) *GenericParser {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &GenericParser{logger: logger}
}

// Parse returns one item per container with non-empty content
func (p *GenericParser) Parse(doc *goquery.Document, cfg Config, now time.Time) []Item {
	return p.parse(doc, cfg, now, nil)
}

// enricher adds parser-specific fields to an extracted item
type enricher func(el *goquery.Selection, item *Item)

func (p *GenericParser) parse(doc *goquery.Document, cfg Config, now time.Time, enrich enricher) []Item {
	sel := cfg.Selectors
	if sel.Container == "" {
		p.logger.WithField("scraper", cfg.Name).Warn("No container selector configured, using defaults")
		sel.Container = DefaultContainer
	}

	base, err := url.Parse(cfg.URL)
	if err != nil {
		p.logger.WithField("scraper", cfg.Name).Errorf("Invalid base URL %q: %v", cfg.URL, err)
		return nil
	}

	var items []Item
	doc.Find(sel.Container).Each(func(i int, el *goquery.Selection) {
		item, ok, err := p.extractSafely(el, sel, cfg, base, now, enrich)
		if err != nil {
			p.logger.WithField("scraper", cfg.Name).Warnf("Skipping item %d: %v", i, err)
			return
		}
		if ok {
			items = append(items, item)
		}
	})

	return items
}

// extractSafely isolates one container so a malformed element never aborts the page
func (p *GenericParser) extractSafely(el *goquery.Selection, sel models.SelectorConfig, cfg Config, base *url.URL, now time.Time, enrich enricher) (item Item, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while parsing: %v", r)
			ok = false
		}
	}()
	return extractItem(el, sel, cfg, base, now, enrich)
}

func extractItem(el *goquery.Selection, sel models.SelectorConfig, cfg Config, base *url.URL, now time.Time, enrich enricher) (Item, bool, error) {
	titleSel := or(sel.Title, defaultTitle)

	content := cleanText(el.Find(or(sel.Content, defaultContent)).Text())
	if content == "" {
		return Item{}, false, nil
	}

	title := cleanText(el.Find(titleSel).First().Text())
	author := cleanText(el.Find(or(sel.Author, defaultAuthor)).First().Text())
	if author == "" {
		author = anonymousAuthor
	}

	dateEl := el.Find(or(sel.Date, defaultDate)).First()
	dateStr, hasAttr := dateEl.Attr("datetime")
	if !hasAttr || strings.TrimSpace(dateStr) == "" {
		dateStr = cleanText(dateEl.Text())
	}

	href := findHref(el, or(sel.Link, titleSel))
	pageURL := base.String()
	externalKey := pageURL + "\n" + content
	if href != "" {
		ref, err := url.Parse(href)
		if err != nil {
			return Item{}, false, fmt.Errorf("invalid link %q: %w", href, err)
		}
		pageURL = base.ResolveReference(ref).String()
		externalKey = pageURL
	}

	item := Item{
		Title:       title,
		Content:     content,
		Author:      author,
		PublishedAt: parseDate(dateStr, now),
		URL:         pageURL,
		ExternalID:  computeHash(externalKey),
		Platform:    cfg.Platform,
		RawData: map[string]interface{}{
			"original_date": dateStr,
			"title":         title,
			"source":        cfg.Name,
		},
	}

	if enrich != nil {
		enrich(el, &item)
	}

	return item, true, nil
}

// findHref looks for an href on the first element matching selector, then on a
// link nested inside it. Other links in the container (author or profile
// links) never identify the item.
func findHref(el *goquery.Selection, selector string) string {
	target := el.Find(selector).First()
	if href, ok := target.Attr("href"); ok && strings.TrimSpace(href) != "" {
		return strings.TrimSpace(href)
	}
	if href, ok := target.Find(defaultLink).First().Attr("href"); ok && strings.TrimSpace(href) != "" {
		return strings.TrimSpace(href)
	}
	return ""
}

// ForumParser extracts threads and adds the reply count as engagement
type ForumParser struct {
	generic *GenericParser
}

// Ensure ForumParser implements Parser
var _ Parser = (*ForumParser)(nil)

func NewForumParser(logger logrus.FieldLogger) *ForumParser {
	return &ForumParser{generic: NewGenericParser(logger)}
}

func (p *ForumParser) Parse(doc *goquery.Document, cfg Config, now time.Time) []Item {
	return p.generic.parse(doc, cfg, now, func(el *goquery.Selection, item *Item) {
		if n, ok := firstNumber(el.Find(repliesSelector).First().Text()); ok {
			item.EngagementCount = int(n)
			item.RawData["replies"] = int(n)
		}
		item.RawData["thread_title"] = item.Title
	})
}

// ReviewParser extracts reviews and derives sentiment from the star rating
type ReviewParser struct {
	generic *GenericParser
}

// Ensure ReviewParser implements Parser
var _ Parser = (*ReviewParser)(nil)

func NewReviewParser(logger logrus.FieldLogger) *ReviewParser {
	return &ReviewParser{generic: NewGenericParser(logger)}
}

func (p *ReviewParser) Parse(doc *goquery.Document, cfg Config, now time.Time) []Item {
	return p.generic.parse(doc, cfg, now, func(el *goquery.Selection, item *Item) {
		rating, ok := ExtractRating(el)
		if !ok {
			return
		}
		item.Rating = &rating
		item.Sentiment = models.RatingSentiment(rating)
		item.RawData["rating"] = rating
	})
}

// ExtractRating reads a numeric rating from rating or star labelled elements,
// trying their text first and the aria-label second.
func ExtractRating(el *goquery.Selection) (float64, bool) {
	ratingEl := el.Find(ratingSelector)
	if n, ok := firstNumber(ratingEl.Text()); ok {
		return n, true
	}
	if label, exists := ratingEl.Attr("aria-label"); exists {
		return firstNumber(label)
	}
	return 0, false
}

func firstNumber(s string) (float64, bool) {
	m := numberPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func parseDate(s string, fallback time.Time) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return fallback
}

func cleanText(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

func or(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// computeHash returns the hex-encoded SHA-256 digest of the given text
func computeHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}
