package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/azure/brand-mentions-pipeline/internal/clock"
	"github.com/azure/brand-mentions-pipeline/internal/models"
)

// NewsCollector searches articles through NewsAPI.org
type NewsCollector struct {
	client *resty.Client
	clock  clock.Clock
	logger logrus.FieldLogger
}

type newsResponse struct {
	Status   string        `json:"status"`
	Message  string        `json:"message"`
	Articles []newsArticle `json:"articles"`
}

type newsArticle struct {
	Source struct {
		Name string `json:"name"`
	} `json:"source"`
	Author      string `json:"author"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Content     string `json:"content"`
	URL         string `json:"url"`
	URLToImage  string `json:"urlToImage"`
	PublishedAt string `json:"publishedAt"`
}

// newsLookback is how far back the free tier allows searching
const newsLookback = 30 * 24 * time.Hour

var _ Collector = (*NewsCollector)(nil)

// NewNewsCollector creates a NewsAPI collector
func NewNewsCollector(apiKey string, clk clock.Clock, logger logrus.FieldLogger) (*NewsCollector, error) {
	if apiKey == "" {
		return nil, &CredentialsError{Platform: models.PlatformNews, Setting: "NEWS_API_KEY"}
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &NewsCollector{
		client: newClient("https://newsapi.org/v2", "").SetHeader("X-Api-Key", apiKey),
		clock:  clk,
		logger: logger.WithField("collector", models.PlatformNews),
	}, nil
}

func (n *NewsCollector) Platform() models.Platform {
	return models.PlatformNews
}

func (n *NewsCollector) Collect(ctx context.Context, source *models.Source, keywords []string) ([]models.RawMention, error) {
	cfg := source.Config
	language := cfg.Language
	if language == "" {
		language = "en"
	}

	articles, err := n.search(ctx, map[string]string{
		"q":        strings.Join(keywords, " OR "),
		"language": language,
		"sortBy":   "publishedAt",
		"from":     n.clock.Now().Add(-newsLookback).UTC().Format(time.RFC3339),
		"pageSize": strconv.Itoa(limitOr(cfg.Limit, 100, 100)),
	})
	if err != nil {
		return nil, err
	}

	var mentions []models.RawMention
	for _, a := range articles {
		if a.URL == "" {
			continue
		}
		publishedAt, err := time.Parse(time.RFC3339, a.PublishedAt)
		if err != nil {
			n.logger.Debugf("Failed to parse article timestamp %q: %v", a.PublishedAt, err)
			publishedAt = n.clock.Now()
		}

		author := a.Author
		if author == "" {
			author = a.Source.Name
		}
		if author == "" {
			author = "Unknown"
		}

		var parts []string
		for _, p := range []string{a.Title, a.Description, a.Content} {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}

		mentions = append(mentions, models.RawMention{
			ExternalID:  "news-" + hashString(a.URL),
			Platform:    models.PlatformNews,
			Author:      author,
			Title:       a.Title,
			Content:     strings.Join(parts, "\n\n"),
			URL:         a.URL,
			PublishedAt: publishedAt,
			Sentiment:   LexiconSentiment(a.Title + " " + a.Description),
			Metadata: map[string]interface{}{
				"news_source":   a.Source.Name,
				"source_domain": articleDomain(a.URL),
				"image_url":     a.URLToImage,
			},
		})
	}

	return deduplicate(mentions), nil
}

func (n *NewsCollector) search(ctx context.Context, params map[string]string) ([]newsArticle, error) {
	resp, err := n.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get("/everything")
	if err != nil {
		return nil, err
	}

	var result newsResponse
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, fmt.Errorf("failed to parse NewsAPI response (status %d): %w", resp.StatusCode(), err)
	}
	if resp.StatusCode() != 200 || result.Status == "error" {
		return nil, fmt.Errorf("newsapi returned status %d: %s", resp.StatusCode(), result.Message)
	}
	return result.Articles, nil
}

func articleDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return u.Hostname()
}

func (n *NewsCollector) TestConnection(ctx context.Context, _ models.SourceConfig) ConnectionResult {
	if _, err := n.search(ctx, map[string]string{"q": "test", "pageSize": "1"}); err != nil {
		return ConnectionResult{Message: fmt.Sprintf("NewsAPI connection failed: %v", err)}
	}
	return ConnectionResult{Success: true, Message: "NewsAPI connection successful"}
}
