package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/azure/brand-mentions-pipeline/internal/models"
)

// RedditCollector searches Reddit through its public JSON endpoints
type RedditCollector struct {
	client *resty.Client
	logger logrus.FieldLogger
}

type redditListing struct {
	Data struct {
		Children []struct {
			Data redditThing `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

// redditThing covers both posts and comments
type redditThing struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Selftext    string  `json:"selftext"`
	Body        string  `json:"body"`
	Author      string  `json:"author"`
	Subreddit   string  `json:"subreddit"`
	Permalink   string  `json:"permalink"`
	Created     float64 `json:"created_utc"`
	Score       int     `json:"score"`
	Ups         int     `json:"ups"`
	NumComments int     `json:"num_comments"`
	ParentID    string  `json:"parent_id"`
}

var _ Collector = (*RedditCollector)(nil)

// NewRedditCollector creates a collector against www.reddit.com
func NewRedditCollector(userAgent string, logger logrus.FieldLogger) *RedditCollector {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RedditCollector{
		client: newClient("https://www.reddit.com", userAgent),
		logger: logger.WithField("collector", models.PlatformReddit),
	}
}

func (r *RedditCollector) Platform() models.Platform {
	return models.PlatformReddit
}

func (r *RedditCollector) Collect(ctx context.Context, source *models.Source, keywords []string) ([]models.RawMention, error) {
	cfg := source.Config
	subreddit := strings.TrimPrefix(strings.TrimSpace(cfg.Subreddit), "r/")

	posts, err := r.search(ctx, subreddit, keywords, limitOr(cfg.Limit, 50, 100))
	if err != nil {
		return nil, err
	}

	var mentions []models.RawMention
	for _, post := range posts {
		mentions = append(mentions, r.postMention(post))
	}

	if cfg.IncludeComments && subreddit != "" {
		top := posts
		if len(top) > 5 {
			top = top[:5]
		}
		for _, post := range top {
			comments, err := r.comments(ctx, subreddit, post.ID)
			if err != nil {
				r.logger.Warnf("Failed to fetch comments for post %s: %v", post.ID, err)
				continue
			}
			for _, c := range comments {
				mentions = append(mentions, r.commentMention(c, post))
			}
		}
	}

	r.logger.Debugf("Found %d Reddit mentions for source %s", len(mentions), source.ID)
	return deduplicate(mentions), nil
}

func (r *RedditCollector) search(ctx context.Context, subreddit string, keywords []string, limit int) ([]redditThing, error) {
	path := "/search.json"
	restrict := "false"
	if subreddit != "" {
		path = fmt.Sprintf("/r/%s/search.json", subreddit)
		restrict = "true"
	}

	resp, err := r.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"q":           strings.Join(keywords, " OR "),
			"sort":        "new",
			"t":           "month",
			"limit":       strconv.Itoa(limit),
			"restrict_sr": restrict,
		}).
		Get(path)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("reddit API returned status %d", resp.StatusCode())
	}

	var listing redditListing
	if err := json.Unmarshal(resp.Body(), &listing); err != nil {
		return nil, fmt.Errorf("failed to parse Reddit response: %w", err)
	}

	var posts []redditThing
	for _, child := range listing.Data.Children {
		if child.Data.ID == "" || child.Data.Title == "" {
			continue
		}
		posts = append(posts, child.Data)
	}
	return posts, nil
}

func (r *RedditCollector) comments(ctx context.Context, subreddit, postID string) ([]redditThing, error) {
	resp, err := r.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"limit": "10", "sort": "top"}).
		Get(fmt.Sprintf("/r/%s/comments/%s.json", subreddit, postID))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("reddit API returned status %d", resp.StatusCode())
	}

	// The response is [post listing, comment listing]
	var listings []redditListing
	if err := json.Unmarshal(resp.Body(), &listings); err != nil {
		return nil, fmt.Errorf("failed to parse Reddit comments: %w", err)
	}
	if len(listings) < 2 {
		return nil, nil
	}

	var comments []redditThing
	for _, child := range listings[1].Data.Children {
		body := strings.TrimSpace(child.Data.Body)
		if body == "" || body == "[deleted]" || body == "[removed]" {
			continue
		}
		comments = append(comments, child.Data)
	}
	return comments, nil
}

func (r *RedditCollector) postMention(post redditThing) models.RawMention {
	content := post.Title
	if text := strings.TrimSpace(post.Selftext); text != "" {
		content += "\n\n" + text
	}
	return models.RawMention{
		ExternalID:      "reddit-post-" + post.ID,
		Platform:        models.PlatformReddit,
		Author:          redditAuthor(post.Author),
		AuthorURL:       redditAuthorURL(post.Author),
		Title:           truncate(post.Title, 100),
		Content:         content,
		URL:             "https://reddit.com" + post.Permalink,
		PublishedAt:     time.Unix(int64(post.Created), 0).UTC(),
		EngagementCount: post.Score + post.NumComments,
		Sentiment:       LexiconSentiment(content),
		Metadata: map[string]interface{}{
			"type":          "post",
			"subreddit":     post.Subreddit,
			"score":         post.Score,
			"upvotes":       post.Ups,
			"comment_count": post.NumComments,
		},
	}
}

func (r *RedditCollector) commentMention(c redditThing, post redditThing) models.RawMention {
	permalink := c.Permalink
	if permalink == "" {
		permalink = post.Permalink
	}
	return models.RawMention{
		ExternalID:      "reddit-comment-" + c.ID,
		Platform:        models.PlatformReddit,
		Author:          redditAuthor(c.Author),
		AuthorURL:       redditAuthorURL(c.Author),
		Title:           truncate(post.Title, 100),
		Content:         c.Body,
		URL:             "https://reddit.com" + permalink,
		PublishedAt:     time.Unix(int64(c.Created), 0).UTC(),
		EngagementCount: c.Score,
		Sentiment:       LexiconSentiment(c.Body),
		Metadata: map[string]interface{}{
			"type":           "comment",
			"subreddit":      c.Subreddit,
			"post_id":        post.ID,
			"score":          c.Score,
			"parent_comment": strings.HasPrefix(c.ParentID, "t1_"),
		},
	}
}

func redditAuthor(name string) string {
	if name == "" {
		return "[deleted]"
	}
	return name
}

func redditAuthorURL(name string) string {
	if name == "" || name == "[deleted]" {
		return ""
	}
	return "https://reddit.com/user/" + name
}

func (r *RedditCollector) TestConnection(ctx context.Context, _ models.SourceConfig) ConnectionResult {
	resp, err := r.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"q": "test", "limit": "1"}).
		Get("/search.json")
	if err != nil {
		return ConnectionResult{Message: fmt.Sprintf("Reddit unreachable: %v", err)}
	}
	if resp.StatusCode() != 200 {
		return ConnectionResult{Message: fmt.Sprintf("Reddit returned status %d", resp.StatusCode())}
	}
	return ConnectionResult{Success: true, Message: "Reddit public API is reachable"}
}
