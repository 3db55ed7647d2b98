package aiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/azure/brand-mentions-pipeline/internal/models"
)

// DefaultTimeout bounds every call to the analysis service
const DefaultTimeout = 5 * time.Second

// maxTextLength mirrors the service's request validation
const maxTextLength = 5000

// Client calls the analysis service over HTTP
type Client struct {
	client *resty.Client
}

// Ensure Client implements Analyzer
var _ Analyzer = (*Client)(nil)

type sentimentRequest struct {
	Text string `json:"text"`
}

type sentimentResponse struct {
	Sentiment  string             `json:"sentiment"`
	Confidence *float64           `json:"confidence"`
	Scores     map[string]float64 `json:"scores"`
	Language   string             `json:"language_detected"`
}

type keywordsRequest struct {
	Text        string `json:"text"`
	Limit       int    `json:"limit"`
	MaxKeywords int    `json:"max_keywords"`
}

type keywordsResponse struct {
	Keywords []json.RawMessage `json:"keywords"`
}

// NewClient creates a client for the service at baseURL
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		client: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json"),
	}
}

// AnalyzeSentiment labels text and derives a score in [-1, 1] as positive minus negative
func (c *Client) AnalyzeSentiment(ctx context.Context, text string) (*SentimentResult, error) {
	var out sentimentResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(sentimentRequest{Text: clip(text)}).
		SetResult(&out).
		Post("/analyze/sentiment")
	if err != nil {
		return nil, fmt.Errorf("sentiment request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("sentiment service returned status %d", resp.StatusCode())
	}

	score := out.Scores["positive"] - out.Scores["negative"]
	confidence := 0.5
	if out.Confidence != nil {
		confidence = *out.Confidence
	}

	return &SentimentResult{
		Sentiment:  models.ParseSentiment(out.Sentiment),
		Score:      math.Max(-1, math.Min(1, score)),
		Confidence: confidence,
		Language:   out.Language,
	}, nil
}

// ExtractKeywords returns at most limit keywords. The service may answer with
// plain strings or {word, score} objects.
func (c *Client) ExtractKeywords(ctx context.Context, text string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 5
	}

	var out keywordsResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(keywordsRequest{Text: clip(text), Limit: limit, MaxKeywords: limit}).
		SetResult(&out).
		Post("/analyze/keywords")
	if err != nil {
		return nil, fmt.Errorf("keyword request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("keyword service returned status %d", resp.StatusCode())
	}

	keywords := make([]string, 0, len(out.Keywords))
	for _, raw := range out.Keywords {
		word, ok := decodeKeyword(raw)
		if !ok {
			continue
		}
		keywords = append(keywords, word)
		if len(keywords) == limit {
			break
		}
	}
	return keywords, nil
}

func decodeKeyword(raw json.RawMessage) (string, bool) {
	var word string
	if err := json.Unmarshal(raw, &word); err == nil {
		word = strings.TrimSpace(word)
		return word, word != ""
	}

	var item struct {
		Word string `json:"word"`
	}
	if err := json.Unmarshal(raw, &item); err != nil {
		return "", false
	}
	item.Word = strings.TrimSpace(item.Word)
	return item.Word, item.Word != ""
}

func clip(text string) string {
	r := []rune(text)
	if len(r) <= maxTextLength {
		return text
	}
	return string(r[:maxTextLength])
}
