package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/azure/brand-mentions-pipeline/internal/models"
)

// StackOverflowCollector searches questions through the Stack Exchange API
type StackOverflowCollector struct {
	key    string
	client *resty.Client
	logger logrus.FieldLogger
}

type stackOverflowResponse struct {
	Items          []stackOverflowQuestion `json:"items"`
	ErrorID        int                     `json:"error_id"`
	ErrorMessage   string                  `json:"error_message"`
	QuotaRemaining int                     `json:"quota_remaining"`
}

type stackOverflowQuestion struct {
	QuestionID int      `json:"question_id"`
	Title      string   `json:"title"`
	Body       string   `json:"body"`
	Tags       []string `json:"tags"`
	Owner      struct {
		DisplayName  string `json:"display_name"`
		Link         string `json:"link"`
		ProfileImage string `json:"profile_image"`
	} `json:"owner"`
	CreationDate int64  `json:"creation_date"`
	Score        int    `json:"score"`
	ViewCount    int    `json:"view_count"`
	AnswerCount  int    `json:"answer_count"`
	Link         string `json:"link"`
	IsAnswered   bool   `json:"is_answered"`
}

var _ Collector = (*StackOverflowCollector)(nil)

// NewStackOverflowCollector creates a collector; key is optional and only raises the quota
func NewStackOverflowCollector(key string, logger logrus.FieldLogger) *StackOverflowCollector {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &StackOverflowCollector{
		key:    key,
		client: newClient("https://api.stackexchange.com/2.3", ""),
		logger: logger.WithField("collector", models.PlatformStackOverflow),
	}
}

func (s *StackOverflowCollector) Platform() models.Platform {
	return models.PlatformStackOverflow
}

func (s *StackOverflowCollector) Collect(ctx context.Context, source *models.Source, keywords []string) ([]models.RawMention, error) {
	pageSize := limitOr(source.Config.Limit, 50, 100)

	var (
		mentions []models.RawMention
		failures int
		lastErr  error
	)
	for _, keyword := range keywords {
		questions, err := s.search(ctx, keyword, pageSize)
		if err != nil {
			s.logger.Errorf("Failed to search Stack Overflow for keyword '%s': %v", keyword, err)
			failures++
			lastErr = err
			continue
		}

		for _, q := range questions {
			title := html.UnescapeString(q.Title)
			content := title
			if body := stripHTML(q.Body); body != "" {
				content += "\n\n" + body
			}

			mentions = append(mentions, models.RawMention{
				ExternalID:      fmt.Sprintf("stackoverflow-%d", q.QuestionID),
				Platform:        models.PlatformStackOverflow,
				Author:          html.UnescapeString(q.Owner.DisplayName),
				AuthorURL:       q.Owner.Link,
				AuthorAvatar:    q.Owner.ProfileImage,
				Title:           title,
				Content:         content,
				URL:             q.Link,
				PublishedAt:     time.Unix(q.CreationDate, 0).UTC(),
				EngagementCount: q.Score + q.AnswerCount,
				Sentiment:       LexiconSentiment(content),
				Metadata: map[string]interface{}{
					"tags":         q.Tags,
					"score":        q.Score,
					"view_count":   q.ViewCount,
					"answer_count": q.AnswerCount,
					"is_answered":  q.IsAnswered,
					"keyword":      keyword,
				},
			})
		}
	}

	// Every keyword failing means the platform itself is failing
	if len(keywords) > 0 && failures == len(keywords) {
		return nil, lastErr
	}
	return deduplicate(mentions), nil
}

func (s *StackOverflowCollector) search(ctx context.Context, query string, pageSize int) ([]stackOverflowQuestion, error) {
	params := map[string]string{
		"order":    "desc",
		"sort":     "creation",
		"q":        query,
		"site":     "stackoverflow",
		"pagesize": strconv.Itoa(pageSize),
		"filter":   "withbody",
	}
	if s.key != "" {
		params["key"] = s.key
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get("/search/advanced")
	if err != nil {
		return nil, err
	}

	var searchResp stackOverflowResponse
	if err := json.Unmarshal(resp.Body(), &searchResp); err != nil {
		return nil, fmt.Errorf("failed to parse Stack Overflow response: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("stack overflow API returned status %d: %s", resp.StatusCode(), searchResp.ErrorMessage)
	}
	if searchResp.QuotaRemaining > 0 && searchResp.QuotaRemaining < 10 {
		s.logger.Warnf("Stack Exchange quota nearly exhausted: %d requests remaining", searchResp.QuotaRemaining)
	}
	return searchResp.Items, nil
}

func (s *StackOverflowCollector) TestConnection(ctx context.Context, _ models.SourceConfig) ConnectionResult {
	if _, err := s.search(ctx, "test", 1); err != nil {
		return ConnectionResult{Message: fmt.Sprintf("Stack Exchange API check failed: %v", err)}
	}
	return ConnectionResult{Success: true, Message: "Stack Exchange API reachable"}
}
