package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/azure/brand-mentions-pipeline/internal/models"
)

// HackerNewsCollector scans the newest Hacker News items for keyword matches
type HackerNewsCollector struct {
	client *resty.Client
	logger logrus.FieldLogger
}

type hackerNewsItem struct {
	ID          int    `json:"id"`
	Type        string `json:"type"`
	By          string `json:"by"`
	Time        int64  `json:"time"`
	Text        string `json:"text"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Score       int    `json:"score"`
	Descendants int    `json:"descendants"`
	Dead        bool   `json:"dead"`
	Deleted     bool   `json:"deleted"`
}

var _ Collector = (*HackerNewsCollector)(nil)

// NewHackerNewsCollector creates a collector against the Firebase HN API
func NewHackerNewsCollector(logger logrus.FieldLogger) *HackerNewsCollector {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &HackerNewsCollector{
		client: newClient("https://hacker-news.firebaseio.com/v0", ""),
		logger: logger.WithField("collector", models.PlatformHackerNews),
	}
}

func (h *HackerNewsCollector) Platform() models.Platform {
	return models.PlatformHackerNews
}

func (h *HackerNewsCollector) Collect(ctx context.Context, source *models.Source, keywords []string) ([]models.RawMention, error) {
	itemIDs, err := h.newStories(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent items: %w", err)
	}

	limit := limitOr(source.Config.Limit, 200, 500)
	if len(itemIDs) > limit {
		itemIDs = itemIDs[:limit]
	}

	var mentions []models.RawMention
	for _, itemID := range itemIDs {
		if err := ctx.Err(); err != nil {
			return mentions, err
		}

		item, err := h.item(ctx, itemID)
		if err != nil {
			h.logger.Debugf("Failed to get HN item %d: %v", itemID, err)
			continue
		}
		if item == nil || item.Time == 0 || item.Dead || item.Deleted {
			continue
		}

		text := stripHTML(item.Text)
		matched := matchedKeywords(item.Title+" "+text, keywords)
		if len(matched) == 0 {
			continue
		}

		content := item.Title
		if text != "" {
			content = strings.TrimSpace(content + "\n\n" + text)
		}

		itemURL := fmt.Sprintf("https://news.ycombinator.com/item?id=%d", item.ID)
		mentions = append(mentions, models.RawMention{
			ExternalID:      fmt.Sprintf("hackernews-%d", item.ID),
			Platform:        models.PlatformHackerNews,
			Author:          item.By,
			AuthorURL:       "https://news.ycombinator.com/user?id=" + item.By,
			Title:           item.Title,
			Content:         content,
			URL:             itemURL,
			PublishedAt:     time.Unix(item.Time, 0).UTC(),
			EngagementCount: item.Score + item.Descendants,
			Sentiment:       LexiconSentiment(content),
			Metadata: map[string]interface{}{
				"type":             item.Type,
				"score":            item.Score,
				"comment_count":    item.Descendants,
				"story_url":        item.URL,
				"matched_keywords": matched,
			},
		})
	}

	return mentions, nil
}

func (h *HackerNewsCollector) newStories(ctx context.Context) ([]int, error) {
	resp, err := h.client.R().
		SetContext(ctx).
		Get("/newstories.json")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("hacker news API returned status %d", resp.StatusCode())
	}

	var itemIDs []int
	if err := json.Unmarshal(resp.Body(), &itemIDs); err != nil {
		return nil, err
	}
	return itemIDs, nil
}

func (h *HackerNewsCollector) item(ctx context.Context, itemID int) (*hackerNewsItem, error) {
	resp, err := h.client.R().
		SetContext(ctx).
		Get(fmt.Sprintf("/item/%d.json", itemID))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("hacker news API returned status %d for item %d", resp.StatusCode(), itemID)
	}

	var item *hackerNewsItem
	if err := json.Unmarshal(resp.Body(), &item); err != nil {
		return nil, err
	}
	return item, nil
}

func (h *HackerNewsCollector) TestConnection(ctx context.Context, _ models.SourceConfig) ConnectionResult {
	ids, err := h.newStories(ctx)
	if err != nil {
		return ConnectionResult{Message: fmt.Sprintf("Hacker News API check failed: %v", err)}
	}
	return ConnectionResult{Success: true, Message: fmt.Sprintf("Hacker News API reachable (%d new stories)", len(ids))}
}
