package sources

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	twitter "github.com/g8rswimmer/go-twitter/v2"
	"github.com/sirupsen/logrus"

	"github.com/azure/brand-mentions-pipeline/internal/models"
)

// TwitterCollector runs API v2 recent searches
type TwitterCollector struct {
	client *twitter.Client
	logger logrus.FieldLogger
}

type bearerAuthorizer struct {
	token string
}

func (a bearerAuthorizer) Add(req *http.Request) {
	req.Header.Add("Authorization", "Bearer "+a.token)
}

var _ Collector = (*TwitterCollector)(nil)

// NewTwitterCollector creates a recent-search collector with an app bearer token
func NewTwitterCollector(bearerToken string, logger logrus.FieldLogger) (*TwitterCollector, error) {
	if bearerToken == "" {
		return nil, &CredentialsError{Platform: models.PlatformTwitter, Setting: "TWITTER_BEARER_TOKEN"}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &TwitterCollector{
		client: &twitter.Client{
			Authorizer: bearerAuthorizer{token: bearerToken},
			Client:     &http.Client{Timeout: 30 * time.Second},
			Host:       "https://api.twitter.com",
		},
		logger: logger.WithField("collector", models.PlatformTwitter),
	}, nil
}

func (t *TwitterCollector) Platform() models.Platform {
	return models.PlatformTwitter
}

func (t *TwitterCollector) Collect(ctx context.Context, source *models.Source, keywords []string) ([]models.RawMention, error) {
	query := buildTweetQuery(keywords)
	if query == "" {
		return nil, nil
	}

	resp, err := t.client.TweetRecentSearch(ctx, query, twitter.TweetRecentSearchOpts{
		Expansions: []twitter.Expansion{twitter.ExpansionAuthorID},
		TweetFields: []twitter.TweetField{
			twitter.TweetFieldCreatedAt,
			twitter.TweetFieldAuthorID,
			twitter.TweetFieldPublicMetrics,
			twitter.TweetFieldLanguage,
			twitter.TweetFieldReferencedTweets,
		},
		UserFields: []twitter.UserField{
			twitter.UserFieldUserName,
			twitter.UserFieldName,
			twitter.UserFieldProfileImageURL,
		},
		MaxResults: tweetLimit(source.Config.Limit),
	})
	if err != nil {
		return nil, fmt.Errorf("twitter recent search: %w", err)
	}
	if resp == nil || resp.Raw == nil {
		return nil, nil
	}

	users := map[string]*twitter.UserObj{}
	if resp.Raw.Includes != nil {
		for _, u := range resp.Raw.Includes.Users {
			if u != nil {
				users[u.ID] = u
			}
		}
	}

	var mentions []models.RawMention
	for _, tweet := range resp.Raw.Tweets {
		if tweet == nil || isRetweet(tweet) {
			continue
		}

		createdAt, err := time.Parse(time.RFC3339, tweet.CreatedAt)
		if err != nil {
			t.logger.Debugf("Failed to parse Twitter timestamp: %v", err)
			continue
		}

		author, authorURL, avatar := tweet.AuthorID, "", ""
		if u, ok := users[tweet.AuthorID]; ok {
			author = "@" + u.UserName
			authorURL = "https://twitter.com/" + u.UserName
			avatar = u.ProfileImageURL
		}

		var likes, retweets, replies int
		if m := tweet.PublicMetrics; m != nil {
			likes, retweets, replies = m.Likes, m.Retweets, m.Replies
		}

		mentions = append(mentions, models.RawMention{
			ExternalID:      "twitter-" + tweet.ID,
			Platform:        models.PlatformTwitter,
			Author:          author,
			AuthorURL:       authorURL,
			AuthorAvatar:    avatar,
			Content:         tweet.Text,
			URL:             "https://twitter.com/user/status/" + tweet.ID,
			PublishedAt:     createdAt,
			EngagementCount: likes,
			Sentiment:       LexiconSentiment(tweet.Text),
			Metadata: map[string]interface{}{
				"retweets": retweets,
				"replies":  replies,
				"language": tweet.Language,
			},
		})
	}

	t.logger.Infof("Twitter search returned %d mentions for source %s", len(mentions), source.ID)
	return mentions, nil
}

func buildTweetQuery(keywords []string) string {
	var terms []string
	for _, k := range keywords {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if strings.ContainsAny(k, " \t") {
			k = strconv.Quote(k)
		}
		terms = append(terms, k)
	}
	if len(terms) == 0 {
		return ""
	}
	query := strings.Join(terms, " OR ")
	if len(terms) > 1 {
		query = "(" + query + ")"
	}
	return query + " -is:retweet"
}

func isRetweet(tweet *twitter.TweetObj) bool {
	for _, ref := range tweet.ReferencedTweets {
		if ref != nil && ref.Type == "retweeted" {
			return true
		}
	}
	return false
}

func (t *TwitterCollector) TestConnection(ctx context.Context, _ models.SourceConfig) ConnectionResult {
	_, err := t.client.TweetRecentSearch(ctx, "test", twitter.TweetRecentSearchOpts{MaxResults: 10})
	if err != nil {
		return ConnectionResult{Message: fmt.Sprintf("Twitter API check failed: %v", err)}
	}
	return ConnectionResult{Success: true, Message: "Twitter API credentials are valid"}
}

// tweetLimit keeps max_results inside the 10..100 range recent search accepts
func tweetLimit(limit int) int {
	limit = limitOr(limit, 100, 100)
	if limit < 10 {
		limit = 10
	}
	return limit
}
