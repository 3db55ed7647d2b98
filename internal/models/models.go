package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Platform identifies the external origin of a source ("REDDIT", "YELP", ...)
type Platform string

const (
	PlatformReddit        Platform = "REDDIT"
	PlatformYouTube       Platform = "YOUTUBE"
	PlatformTwitter       Platform = "TWITTER"
	PlatformFacebook      Platform = "FACEBOOK"
	PlatformGoogleReviews Platform = "GOOGLE_REVIEWS"
	PlatformYelp          Platform = "YELP"
	PlatformNews          Platform = "NEWS"
	PlatformHackerNews    Platform = "HACKERNEWS"
	PlatformStackOverflow Platform = "STACKOVERFLOW"
	PlatformTrustpilot    Platform = "TRUSTPILOT"
	PlatformWeb           Platform = "WEB"
	PlatformForum         Platform = "FORUM"
	PlatformBlog          Platform = "BLOG"
	PlatformReview        Platform = "REVIEW"
)

// Sentiment is the polarity label attached to a mention
type Sentiment string

const (
	SentimentPositive Sentiment = "POSITIVE"
	SentimentNegative Sentiment = "NEGATIVE"
	SentimentNeutral  Sentiment = "NEUTRAL"
	SentimentMixed    Sentiment = "MIXED"
)

// ParseSentiment maps a free-form label onto a Sentiment, defaulting to NEUTRAL.
func ParseSentiment(label string) Sentiment {
	switch Sentiment(strings.ToUpper(strings.TrimSpace(label))) {
	case SentimentPositive:
		return SentimentPositive
	case SentimentNegative:
		return SentimentNegative
	case SentimentMixed:
		return SentimentMixed
	default:
		return SentimentNeutral
	}
}

// RatingSentiment derives a sentiment from a 5-point rating: 4 and above is
// POSITIVE, 2 and below is NEGATIVE, anything between is NEUTRAL.
func RatingSentiment(rating float64) Sentiment {
	switch {
	case rating >= 4:
		return SentimentPositive
	case rating <= 2:
		return SentimentNegative
	default:
		return SentimentNeutral
	}
}

// SelectorConfig declares the CSS selectors used to extract mentions from a page
type SelectorConfig struct {
	Container string `json:"container"`
	Title     string `json:"title,omitempty"`
	Content   string `json:"content"`
	Author    string `json:"author,omitempty"`
	Date      string `json:"date,omitempty"`
	Link      string `json:"link,omitempty"`
	NextPage  string `json:"next_page,omitempty"`
}

// SourceConfig is the platform-specific configuration blob stored with a source.
// Each collector reads the fields it needs and validates them itself.
type SourceConfig struct {
	Keywords        []string          `json:"keywords,omitempty"`
	URL             string            `json:"url,omitempty"`
	Selectors       *SelectorConfig   `json:"selectors,omitempty"`
	Dynamic         bool              `json:"dynamic,omitempty"`
	Headers         map[string]string `json:"headers,omitempty"`
	DelayMs         int               `json:"delay_ms,omitempty"`
	MaxPages        int               `json:"max_pages,omitempty"`
	Subreddit       string            `json:"subreddit,omitempty"`
	IncludeComments bool              `json:"include_comments,omitempty"`
	PlaceID         string            `json:"place_id,omitempty"`
	PlaceName       string            `json:"place_name,omitempty"`
	BusinessID      string            `json:"business_id,omitempty"`
	ChannelID       string            `json:"channel_id,omitempty"`
	Language        string            `json:"language,omitempty"`
	Limit           int               `json:"limit,omitempty"`
}

// Value implements driver.Valuer so the config can be stored as JSONB
func (c SourceConfig) Value() (driver.Value, error) {
	return json.Marshal(c)
}

// Scan implements sql.Scanner
func (c *SourceConfig) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*c = SourceConfig{}
		return nil
	case []byte:
		return json.Unmarshal(v, c)
	case string:
		return json.Unmarshal([]byte(v), c)
	default:
		return fmt.Errorf("unsupported source config type %T", src)
	}
}

// Source is a monitored origin for one brand
type Source struct {
	ID               string       `json:"id" db:"id"`
	BrandID          string       `json:"brand_id" db:"brand_id"`
	Platform         Platform     `json:"platform" db:"platform"`
	Name             string       `json:"name" db:"name"`
	URL              string       `json:"url" db:"url"`
	Config           SourceConfig `json:"config" db:"config"`
	Active           bool         `json:"active" db:"active"`
	FrequencySeconds int          `json:"frequency_seconds" db:"frequency_seconds"`
	LastCollectedAt  *time.Time   `json:"last_collected_at,omitempty" db:"last_collected_at"`
	ErrorCount       int          `json:"error_count" db:"error_count"`
	LastError        string       `json:"last_error,omitempty" db:"last_error"`
}

// Brand owns sources and carries the keywords used for queries and matching
type Brand struct {
	ID             string   `json:"id"`
	OrganizationID string   `json:"organization_id"`
	Name           string   `json:"name"`
	Keywords       []string `json:"keywords"`
}

// RawMention is an in-flight mention candidate produced by a collector
type RawMention struct {
	ExternalID      string                 `json:"external_id"`
	Platform        Platform               `json:"platform"`
	Author          string                 `json:"author"`
	AuthorURL       string                 `json:"author_url,omitempty"`
	AuthorAvatar    string                 `json:"author_avatar,omitempty"`
	Title           string                 `json:"title,omitempty"`
	Content         string                 `json:"content"`
	URL             string                 `json:"url"`
	PublishedAt     time.Time              `json:"published_at"`
	EngagementCount int                    `json:"engagement_count"`
	Rating          *float64               `json:"rating,omitempty"`
	Sentiment       Sentiment              `json:"sentiment,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// Mention is the persisted, enriched unit of brand-related content
type Mention struct {
	ID              string                 `json:"id"`
	BrandID         string                 `json:"brand_id"`
	SourceID        string                 `json:"source_id"`
	ExternalID      string                 `json:"external_id"`
	Platform        Platform               `json:"platform"`
	Author          string                 `json:"author"`
	AuthorURL       string                 `json:"author_url,omitempty"`
	Content         string                 `json:"content"`
	URL             string                 `json:"url"`
	PublishedAt     time.Time              `json:"published_at"`
	Sentiment       Sentiment              `json:"sentiment"`
	SentimentScore  float64                `json:"sentiment_score"`
	Language        string                 `json:"language"`
	Keywords        []string               `json:"keywords"`
	EngagementCount int                    `json:"engagement_count"`
	ReachScore      int                    `json:"reach_score"`
	Processed       bool                   `json:"processed"`
	AnalyzedAt      time.Time              `json:"analyzed_at"`
	RawData         map[string]interface{} `json:"raw_data,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
}

// AlertCondition names the rule an alert evaluates
type AlertCondition string

const (
	ConditionNegativeSentiment AlertCondition = "NEGATIVE_SENTIMENT_THRESHOLD"
	ConditionKeywordFrequency  AlertCondition = "KEYWORD_FREQUENCY"
	ConditionMentionSpike      AlertCondition = "MENTION_SPIKE"
	ConditionSentimentDrop     AlertCondition = "SENTIMENT_DROP"
)

// AlertLevel is the severity of an alert
type AlertLevel string

const (
	AlertLevelLow      AlertLevel = "LOW"
	AlertLevelMedium   AlertLevel = "MEDIUM"
	AlertLevelHigh     AlertLevel = "HIGH"
	AlertLevelCritical AlertLevel = "CRITICAL"
)

// Alert is a standing rule over a brand's mentions
type Alert struct {
	ID              string         `json:"id"`
	BrandID         string         `json:"brand_id"`
	OrganizationID  string         `json:"organization_id"`
	Name            string         `json:"name"`
	Condition       AlertCondition `json:"condition"`
	Threshold       float64        `json:"threshold"`
	Keyword         string         `json:"keyword,omitempty"`
	Level           AlertLevel     `json:"level"`
	Active          bool           `json:"active"`
	TriggerCount    int            `json:"trigger_count"`
	LastTriggeredAt *time.Time     `json:"last_triggered_at,omitempty"`
}

// Recipient is an organization member who receives alert notifications
type Recipient struct {
	UserID string `json:"user_id" db:"user_id"`
	Email  string `json:"email,omitempty" db:"email"`
}

// AlertTrigger is the immutable record of an alert firing for a mention
type AlertTrigger struct {
	ID        string    `json:"id"`
	AlertID   string    `json:"alert_id"`
	MentionID string    `json:"mention_id"`
	Value     float64   `json:"value"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// ScrapeJob is the payload of the scrape queue
type ScrapeJob struct {
	SourceID string `json:"sourceId"`
	Force    bool   `json:"force,omitempty"`
}

// MentionJob is the payload of the ingestion queue
type MentionJob struct {
	Content         string                 `json:"content"`
	Author          string                 `json:"author"`
	AuthorURL       string                 `json:"authorUrl,omitempty"`
	AuthorAvatar    string                 `json:"authorAvatar,omitempty"`
	URL             string                 `json:"url"`
	PublishedAt     time.Time              `json:"publishedAt"`
	ExternalID      string                 `json:"externalId"`
	Platform        Platform               `json:"platform"`
	EngagementCount int                    `json:"engagementCount,omitempty"`
	BrandID         string                 `json:"brandId"`
	SourceID        string                 `json:"sourceId"`
	RawData         map[string]interface{} `json:"rawData,omitempty"`
}

// NotificationType classifies notification jobs
type NotificationType string

const (
	NotificationAlertTriggered NotificationType = "ALERT_TRIGGERED"
	NotificationBrandDigest    NotificationType = "BRAND_DIGEST"
)

// NotificationJob is the payload of the notifications queue
type NotificationJob struct {
	Type           NotificationType       `json:"type"`
	UserID         string                 `json:"userId"`
	OrganizationID string                 `json:"organizationId,omitempty"`
	Title          string                 `json:"title"`
	Message        string                 `json:"message"`
	Data           map[string]interface{} `json:"data,omitempty"`
}
