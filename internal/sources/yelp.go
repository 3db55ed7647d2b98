package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/azure/brand-mentions-pipeline/internal/models"
)

// YelpCollector reads business reviews from the Yelp Fusion API
type YelpCollector struct {
	client *resty.Client
	logger logrus.FieldLogger
}

type yelpBusiness struct {
	Name        string  `json:"name"`
	Rating      float64 `json:"rating"`
	ReviewCount int     `json:"review_count"`
	URL         string  `json:"url"`
}

type yelpReviewsResponse struct {
	Reviews []struct {
		ID          string  `json:"id"`
		Text        string  `json:"text"`
		Rating      float64 `json:"rating"`
		TimeCreated string  `json:"time_created"`
		URL         string  `json:"url"`
		User        struct {
			ID         string `json:"id"`
			Name       string `json:"name"`
			ImageURL   string `json:"image_url"`
			ProfileURL string `json:"profile_url"`
		} `json:"user"`
	} `json:"reviews"`
}

const yelpTimeLayout = "2006-01-02 15:04:05"

var _ Collector = (*YelpCollector)(nil)

// NewYelpCollector creates a Yelp Fusion collector
func NewYelpCollector(apiKey string, logger logrus.FieldLogger) (*YelpCollector, error) {
	if apiKey == "" {
		return nil, &CredentialsError{Platform: models.PlatformYelp, Setting: "YELP_API_KEY"}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &YelpCollector{
		client: newClient("https://api.yelp.com/v3", "").
			SetAuthToken(apiKey).
			SetHeader("Accept", "application/json"),
		logger: logger.WithField("collector", models.PlatformYelp),
	}, nil
}

func (y *YelpCollector) Platform() models.Platform {
	return models.PlatformYelp
}

func (y *YelpCollector) Collect(ctx context.Context, source *models.Source, _ []string) ([]models.RawMention, error) {
	businessID := source.Config.BusinessID
	if businessID == "" {
		return nil, &ConfigError{Platform: models.PlatformYelp, Field: "business_id"}
	}

	business, err := y.business(ctx, businessID)
	if err != nil {
		y.logger.Warnf("Failed to load business %s: %v", businessID, err)
		business = &yelpBusiness{}
	}

	resp, err := y.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"limit": "50", "sort_by": "newest"}).
		Get(fmt.Sprintf("/businesses/%s/reviews", url.PathEscape(businessID)))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("yelp API returned status %d", resp.StatusCode())
	}

	var reviews yelpReviewsResponse
	if err := json.Unmarshal(resp.Body(), &reviews); err != nil {
		return nil, fmt.Errorf("failed to parse Yelp reviews: %w", err)
	}

	var mentions []models.RawMention
	for _, r := range reviews.Reviews {
		author := r.User.Name
		if author == "" {
			author = "Anonymous"
		}
		publishedAt, err := time.Parse(yelpTimeLayout, r.TimeCreated)
		if err != nil {
			y.logger.Debugf("Failed to parse Yelp timestamp %q: %v", r.TimeCreated, err)
			publishedAt = time.Time{}
		}

		mentions = append(mentions, models.RawMention{
			ExternalID:   "yelp-" + r.ID,
			Platform:     models.PlatformYelp,
			Author:       author,
			AuthorURL:    r.User.ProfileURL,
			AuthorAvatar: r.User.ImageURL,
			Content:      r.Text,
			URL:          r.URL,
			PublishedAt:  publishedAt,
			Rating:       floatPtr(r.Rating),
			Sentiment:    models.RatingSentiment(r.Rating),
			Metadata: map[string]interface{}{
				"business_id":           businessID,
				"business_name":         business.Name,
				"business_rating":       business.Rating,
				"business_review_count": business.ReviewCount,
			},
		})
	}
	return mentions, nil
}

func (y *YelpCollector) business(ctx context.Context, businessID string) (*yelpBusiness, error) {
	resp, err := y.client.R().
		SetContext(ctx).
		Get("/businesses/" + url.PathEscape(businessID))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("yelp API returned status %d", resp.StatusCode())
	}

	var b yelpBusiness
	if err := json.Unmarshal(resp.Body(), &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (y *YelpCollector) TestConnection(ctx context.Context, cfg models.SourceConfig) ConnectionResult {
	businessID := cfg.BusinessID
	if businessID == "" {
		businessID = "google-san-francisco"
	}
	if _, err := y.business(ctx, businessID); err != nil {
		return ConnectionResult{Message: fmt.Sprintf("Yelp API connection failed: %v", err)}
	}
	return ConnectionResult{Success: true, Message: "Yelp API connection successful"}
}
