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

// GoogleReviewsCollector reads place reviews from the Places API
type GoogleReviewsCollector struct {
	apiKey string
	client *resty.Client
	logger logrus.FieldLogger
}

type placesTextSearchResponse struct {
	Status  string `json:"status"`
	Results []struct {
		PlaceID string `json:"place_id"`
	} `json:"results"`
}

type placeDetailsResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Result       struct {
		Name             string        `json:"name"`
		Rating           float64       `json:"rating"`
		UserRatingsTotal int           `json:"user_ratings_total"`
		Reviews          []placeReview `json:"reviews"`
	} `json:"result"`
}

type placeReview struct {
	AuthorName      string  `json:"author_name"`
	AuthorURL       string  `json:"author_url"`
	ProfilePhotoURL string  `json:"profile_photo_url"`
	Rating          float64 `json:"rating"`
	Text            string  `json:"text"`
	Time            int64   `json:"time"`
	Language        string  `json:"language"`
}

var _ Collector = (*GoogleReviewsCollector)(nil)

// NewGoogleReviewsCollector creates a Places API collector
func NewGoogleReviewsCollector(apiKey string, logger logrus.FieldLogger) (*GoogleReviewsCollector, error) {
	if apiKey == "" {
		return nil, &CredentialsError{Platform: models.PlatformGoogleReviews, Setting: "GOOGLE_API_KEY"}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &GoogleReviewsCollector{
		apiKey: apiKey,
		client: newClient("https://maps.googleapis.com/maps/api/place", ""),
		logger: logger.WithField("collector", models.PlatformGoogleReviews),
	}, nil
}

func (g *GoogleReviewsCollector) Platform() models.Platform {
	return models.PlatformGoogleReviews
}

func (g *GoogleReviewsCollector) Collect(ctx context.Context, source *models.Source, _ []string) ([]models.RawMention, error) {
	cfg := source.Config

	placeID := cfg.PlaceID
	if placeID == "" && cfg.PlaceName != "" {
		id, err := g.findPlaceID(ctx, cfg.PlaceName)
		if err != nil {
			return nil, err
		}
		if id == "" {
			g.logger.Warnf("No place found for %q", cfg.PlaceName)
			return nil, nil
		}
		placeID = id
	}
	if placeID == "" {
		return nil, &ConfigError{Platform: models.PlatformGoogleReviews, Field: "place_id or place_name"}
	}

	details, err := g.details(ctx, placeID)
	if err != nil {
		return nil, err
	}

	placeName := cfg.PlaceName
	if placeName == "" {
		placeName = details.Result.Name
	}
	placeURL := "https://www.google.com/maps/search/?api=1&query=" + url.QueryEscape(placeName)

	var mentions []models.RawMention
	for i, review := range details.Result.Reviews {
		author := review.AuthorName
		idAuthor := author
		if idAuthor == "" {
			idAuthor = "anon"
			author = "Anonymous"
		}
		content := review.Text
		if content == "" {
			content = "[No text]"
		}

		mentions = append(mentions, models.RawMention{
			ExternalID:   fmt.Sprintf("google-%s-%d", idAuthor, review.Time),
			Platform:     models.PlatformGoogleReviews,
			Author:       author,
			AuthorURL:    review.AuthorURL,
			AuthorAvatar: review.ProfilePhotoURL,
			Title:        fmt.Sprintf("%g/5 stars", review.Rating),
			Content:      content,
			URL:          placeURL,
			PublishedAt:  time.Unix(review.Time, 0).UTC(),
			Rating:       floatPtr(review.Rating),
			Sentiment:    models.RatingSentiment(review.Rating),
			Metadata: map[string]interface{}{
				"place_id":      placeID,
				"place_name":    placeName,
				"place_rating":  details.Result.Rating,
				"total_ratings": details.Result.UserRatingsTotal,
				"language":      review.Language,
				"review_index":  i,
			},
		})
	}

	return mentions, nil
}

func (g *GoogleReviewsCollector) findPlaceID(ctx context.Context, query string) (string, error) {
	resp, err := g.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"query": query, "key": g.apiKey}).
		Get("/textsearch/json")
	if err != nil {
		return "", err
	}
	if resp.StatusCode() != 200 {
		return "", fmt.Errorf("places text search returned status %d", resp.StatusCode())
	}

	var search placesTextSearchResponse
	if err := json.Unmarshal(resp.Body(), &search); err != nil {
		return "", fmt.Errorf("failed to parse places search response: %w", err)
	}
	if search.Status != "OK" || len(search.Results) == 0 {
		return "", nil
	}
	return search.Results[0].PlaceID, nil
}

func (g *GoogleReviewsCollector) details(ctx context.Context, placeID string) (*placeDetailsResponse, error) {
	resp, err := g.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"place_id": placeID,
			"fields":   "reviews,name,rating,user_ratings_total",
			"key":      g.apiKey,
		}).
		Get("/details/json")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("places details returned status %d", resp.StatusCode())
	}

	var details placeDetailsResponse
	if err := json.Unmarshal(resp.Body(), &details); err != nil {
		return nil, fmt.Errorf("failed to parse places details response: %w", err)
	}
	if details.Status != "OK" {
		return nil, fmt.Errorf("places API error %s: %s", details.Status, details.ErrorMessage)
	}
	return &details, nil
}

func (g *GoogleReviewsCollector) TestConnection(ctx context.Context, _ models.SourceConfig) ConnectionResult {
	resp, err := g.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"query": "test", "key": g.apiKey}).
		Get("/textsearch/json")
	if err != nil {
		return ConnectionResult{Message: fmt.Sprintf("Google Places unreachable: %v", err)}
	}

	var search placesTextSearchResponse
	if err := json.Unmarshal(resp.Body(), &search); err != nil {
		return ConnectionResult{Message: fmt.Sprintf("Google Places returned an unexpected response: %v", err)}
	}
	if search.Status == "OK" || search.Status == "ZERO_RESULTS" {
		return ConnectionResult{Success: true, Message: "Google Reviews API credentials are valid"}
	}
	return ConnectionResult{Message: "Google Places returned status " + search.Status}
}
