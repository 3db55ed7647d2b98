package sources

import (
	"github.com/sirupsen/logrus"

	"github.com/azure/brand-mentions-pipeline/internal/clock"
	"github.com/azure/brand-mentions-pipeline/internal/models"
)

// Credentials carries the API keys the collectors read from configuration
type Credentials struct {
	RedditUserAgent    string
	YouTubeAPIKey      string
	TwitterBearerToken string
	GoogleAPIKey       string
	YelpAPIKey         string
	NewsAPIKey         string
	StackExchangeKey   string
}

// DefaultFactories returns a factory for every platform with a collector implementation.
// Factories for platforms missing credentials fail with a CredentialsError on resolution.
func DefaultFactories(creds Credentials, engine Scraper, clk clock.Clock, logger logrus.FieldLogger) map[models.Platform]Factory {
	factories := map[models.Platform]Factory{
		models.PlatformReddit: func() (Collector, error) {
			return NewRedditCollector(creds.RedditUserAgent, logger), nil
		},
		models.PlatformYouTube: func() (Collector, error) {
			return NewYouTubeCollector(creds.YouTubeAPIKey, logger)
		},
		models.PlatformTwitter: func() (Collector, error) {
			return NewTwitterCollector(creds.TwitterBearerToken, logger)
		},
		models.PlatformGoogleReviews: func() (Collector, error) {
			return NewGoogleReviewsCollector(creds.GoogleAPIKey, logger)
		},
		models.PlatformYelp: func() (Collector, error) {
			return NewYelpCollector(creds.YelpAPIKey, logger)
		},
		models.PlatformNews: func() (Collector, error) {
			return NewNewsCollector(creds.NewsAPIKey, clk, logger)
		},
		models.PlatformHackerNews: func() (Collector, error) {
			return NewHackerNewsCollector(logger), nil
		},
		models.PlatformStackOverflow: func() (Collector, error) {
			return NewStackOverflowCollector(creds.StackExchangeKey, logger), nil
		},
	}

	if engine != nil {
		for _, p := range []models.Platform{models.PlatformWeb, models.PlatformForum, models.PlatformBlog, models.PlatformReview} {
			platform := p
			factories[platform] = func() (Collector, error) {
				return NewWebCollector(platform, engine, logger), nil
			}
		}
	}

	return factories
}

// RegisterAll binds every factory, skipping what the policy disables
func (r *Registry) RegisterAll(factories map[models.Platform]Factory) error {
	for platform, factory := range factories {
		if err := r.Register(platform, factory); err != nil {
			return err
		}
	}
	return nil
}
