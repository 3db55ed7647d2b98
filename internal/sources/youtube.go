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

// YouTubeCollector searches videos and their top-level comments through the Data API v3
type YouTubeCollector struct {
	apiKey string
	client *resty.Client
	logger logrus.FieldLogger
}

type youTubeSearchResponse struct {
	Items []youTubeVideo `json:"items"`
}

type youTubeVideo struct {
	ID struct {
		VideoID string `json:"videoId"`
	} `json:"id"`
	Snippet struct {
		Title        string `json:"title"`
		Description  string `json:"description"`
		ChannelID    string `json:"channelId"`
		ChannelTitle string `json:"channelTitle"`
		PublishedAt  string `json:"publishedAt"`
		Thumbnails   struct {
			High struct {
				URL string `json:"url"`
			} `json:"high"`
		} `json:"thumbnails"`
	} `json:"snippet"`
}

type youTubeCommentsResponse struct {
	Items []youTubeComment `json:"items"`
}

type youTubeComment struct {
	ID      string `json:"id"`
	Snippet struct {
		TopLevelComment struct {
			Snippet struct {
				TextDisplay           string `json:"textDisplay"`
				AuthorDisplayName     string `json:"authorDisplayName"`
				AuthorProfileImageURL string `json:"authorProfileImageUrl"`
				AuthorChannelURL      string `json:"authorChannelUrl"`
				PublishedAt           string `json:"publishedAt"`
				LikeCount             int    `json:"likeCount"`
			} `json:"snippet"`
		} `json:"topLevelComment"`
	} `json:"snippet"`
}

var _ Collector = (*YouTubeCollector)(nil)

// NewYouTubeCollector creates a YouTube collector
func NewYouTubeCollector(apiKey string, logger logrus.FieldLogger) (*YouTubeCollector, error) {
	if apiKey == "" {
		return nil, &CredentialsError{Platform: models.PlatformYouTube, Setting: "YOUTUBE_API_KEY"}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &YouTubeCollector{
		apiKey: apiKey,
		client: newClient("https://www.googleapis.com/youtube/v3", ""),
		logger: logger.WithField("collector", models.PlatformYouTube),
	}, nil
}

func (y *YouTubeCollector) Platform() models.Platform {
	return models.PlatformYouTube
}

func (y *YouTubeCollector) Collect(ctx context.Context, source *models.Source, keywords []string) ([]models.RawMention, error) {
	cfg := source.Config

	videos, err := y.searchVideos(ctx, strings.Join(keywords, " "), cfg, limitOr(cfg.Limit, 25, 50))
	if err != nil {
		return nil, err
	}

	var mentions []models.RawMention
	for _, video := range videos {
		m, err := y.videoMention(video)
		if err != nil {
			y.logger.Debugf("Skipping video %s: %v", video.ID.VideoID, err)
			continue
		}
		mentions = append(mentions, m)
	}

	if cfg.IncludeComments {
		top := videos
		if len(top) > 3 {
			top = top[:3]
		}
		for _, video := range top {
			comments, err := y.videoComments(ctx, video.ID.VideoID)
			if err != nil {
				y.logger.Warnf("Failed to get comments for video %s: %v", video.ID.VideoID, err)
				continue
			}
			mentions = append(mentions, comments...)
		}
	}

	return deduplicate(mentions), nil
}

func (y *YouTubeCollector) searchVideos(ctx context.Context, query string, cfg models.SourceConfig, maxResults int) ([]youTubeVideo, error) {
	language := cfg.Language
	if language == "" {
		language = "en"
	}
	params := map[string]string{
		"part":              "snippet",
		"q":                 query,
		"type":              "video",
		"order":             "relevance",
		"maxResults":        strconv.Itoa(maxResults),
		"relevanceLanguage": language,
		"key":               y.apiKey,
	}
	if cfg.ChannelID != "" {
		params["channelId"] = cfg.ChannelID
	}

	resp, err := y.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get("/search")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("youtube API returned status %d: %s", resp.StatusCode(), truncate(string(resp.Body()), 200))
	}

	var searchResp youTubeSearchResponse
	if err := json.Unmarshal(resp.Body(), &searchResp); err != nil {
		return nil, fmt.Errorf("failed to parse YouTube response: %w", err)
	}
	return searchResp.Items, nil
}

func (y *YouTubeCollector) videoMention(video youTubeVideo) (models.RawMention, error) {
	publishedAt, err := time.Parse(time.RFC3339, video.Snippet.PublishedAt)
	if err != nil {
		return models.RawMention{}, err
	}

	content := video.Snippet.Description
	if content == "" {
		content = video.Snippet.Title
	}

	return models.RawMention{
		ExternalID:  "youtube-" + video.ID.VideoID,
		Platform:    models.PlatformYouTube,
		Author:      video.Snippet.ChannelTitle,
		AuthorURL:   "https://www.youtube.com/channel/" + video.Snippet.ChannelID,
		Title:       video.Snippet.Title,
		Content:     content,
		URL:         "https://www.youtube.com/watch?v=" + video.ID.VideoID,
		PublishedAt: publishedAt,
		Sentiment:   LexiconSentiment(video.Snippet.Title + " " + video.Snippet.Description),
		Metadata: map[string]interface{}{
			"type":          "video",
			"video_id":      video.ID.VideoID,
			"channel_id":    video.Snippet.ChannelID,
			"thumbnail_url": video.Snippet.Thumbnails.High.URL,
		},
	}, nil
}

func (y *YouTubeCollector) videoComments(ctx context.Context, videoID string) ([]models.RawMention, error) {
	resp, err := y.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"part":       "snippet",
			"videoId":    videoID,
			"textFormat": "plainText",
			"maxResults": "20",
			"key":        y.apiKey,
		}).
		Get("/commentThreads")
	if err != nil {
		return nil, err
	}
	// Comments disabled on the video
	if resp.StatusCode() == 403 {
		return nil, nil
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("youtube comments API returned status %d", resp.StatusCode())
	}

	var commentsResp youTubeCommentsResponse
	if err := json.Unmarshal(resp.Body(), &commentsResp); err != nil {
		return nil, fmt.Errorf("failed to parse YouTube comments response: %w", err)
	}

	var mentions []models.RawMention
	for _, comment := range commentsResp.Items {
		s := comment.Snippet.TopLevelComment.Snippet
		if strings.TrimSpace(s.TextDisplay) == "" {
			continue
		}
		publishedAt, err := time.Parse(time.RFC3339, s.PublishedAt)
		if err != nil {
			y.logger.Debugf("Failed to parse YouTube comment timestamp: %v", err)
			continue
		}

		mentions = append(mentions, models.RawMention{
			ExternalID:      "youtube-comment-" + comment.ID,
			Platform:        models.PlatformYouTube,
			Author:          s.AuthorDisplayName,
			AuthorURL:       s.AuthorChannelURL,
			AuthorAvatar:    s.AuthorProfileImageURL,
			Content:         s.TextDisplay,
			URL:             fmt.Sprintf("https://www.youtube.com/watch?v=%s&lc=%s", videoID, comment.ID),
			PublishedAt:     publishedAt,
			EngagementCount: s.LikeCount,
			Sentiment:       LexiconSentiment(s.TextDisplay),
			Metadata: map[string]interface{}{
				"type":       "comment",
				"video_id":   videoID,
				"like_count": s.LikeCount,
			},
		})
	}
	return mentions, nil
}

func (y *YouTubeCollector) TestConnection(ctx context.Context, _ models.SourceConfig) ConnectionResult {
	_, err := y.searchVideos(ctx, "test", models.SourceConfig{}, 1)
	if err != nil {
		return ConnectionResult{Message: fmt.Sprintf("YouTube API check failed: %v", err)}
	}
	return ConnectionResult{Success: true, Message: "YouTube API credentials are valid"}
}
