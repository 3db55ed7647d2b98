package digest

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azure/brand-mentions-pipeline/internal/models"
)

var (
	testTo   = time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC)
	testFrom = testTo.Add(-24 * time.Hour)
)

func sampleMentions() []models.Mention {
	return []models.Mention{
		{ID: "m1", Platform: models.PlatformReddit, Sentiment: models.SentimentPositive, SentimentScore: 0.8,
			Keywords: []string{"Acme", "battery"}, EngagementCount: 10, CreatedAt: testTo.Add(-time.Hour)},
		{ID: "m2", Platform: models.PlatformReddit, Sentiment: models.SentimentNegative, SentimentScore: -0.9,
			Keywords: []string{"acme", "ACME"}, EngagementCount: 5, Author: "bob", URL: "https://reddit.com/2",
			Content: "  Acme support is terrible  ", CreatedAt: testTo.Add(-2 * time.Hour)},
		{ID: "m3", Platform: models.PlatformYouTube, Sentiment: models.SentimentNegative, SentimentScore: -0.3,
			Keywords: []string{"battery"}, CreatedAt: testTo.Add(-3 * time.Hour)},
		{ID: "m4", Platform: models.PlatformNews, Sentiment: models.SentimentNeutral, SentimentScore: 0,
			CreatedAt: testFrom.Add(-time.Minute)},
		{ID: "m5", Platform: models.PlatformNews, Sentiment: models.SentimentNeutral, CreatedAt: testTo},
	}
}

func TestSummarize(t *testing.T) {
	brand := models.Brand{ID: "b1", OrganizationID: "org1", Name: "Acme"}

	report := Summarize(brand, sampleMentions(), Daily, testFrom, testTo, 5)

	assert.Equal(t, 3, report.TotalMentions)
	assert.Equal(t, 15, report.TotalEngagement)
	assert.InDelta(t, (0.8-0.9-0.3)/3, report.AverageScore, 1e-9)
	assert.Equal(t, map[models.Platform]int{models.PlatformReddit: 2, models.PlatformYouTube: 1}, report.Platforms)
	assert.Equal(t, 1, report.Sentiment[models.SentimentPositive])
	assert.Equal(t, 2, report.Sentiment[models.SentimentNegative])
	assert.Equal(t, 0, report.Sentiment[models.SentimentNeutral])
	assert.Equal(t, []string{"REDDIT (2)", "YOUTUBE (1)"}, report.TopPlatforms)
	assert.Equal(t, []string{"acme (2)", "battery (2)"}, report.TopKeywords)

	require.Len(t, report.MostNegative, 2)
	assert.Equal(t, "m2", report.MostNegative[0].ID)
	assert.Equal(t, "Acme support is terrible", report.MostNegative[0].Excerpt)
	assert.Equal(t, "m3", report.MostNegative[1].ID)
}

func TestSummarize_Limits(t *testing.T) {
	tests := []struct {
		name     string
		mentions []models.Mention
		topN     int
		check    func(t *testing.T, r *Report)
	}{
		{
			name: "empty period",
			topN: 5,
			check: func(t *testing.T, r *Report) {
				assert.Zero(t, r.TotalMentions)
				assert.Zero(t, r.AverageScore)
				assert.Empty(t, r.TopPlatforms)
				assert.Empty(t, r.MostNegative)
			},
		},
		{
			name:     "top lists are bounded",
			mentions: sampleMentions(),
			topN:     1,
			check: func(t *testing.T, r *Report) {
				assert.Equal(t, []string{"REDDIT (2)"}, r.TopPlatforms)
				assert.Len(t, r.TopKeywords, 1)
				assert.Len(t, r.MostNegative, 1)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, Summarize(models.Brand{ID: "b1"}, tt.mentions, Daily, testFrom, testTo, tt.topN))
		})
	}
}

func TestReport_Notification(t *testing.T) {
	report := Summarize(models.Brand{ID: "b1", OrganizationID: "org1", Name: "Acme"}, sampleMentions(), Weekly, testFrom, testTo, 5)

	job := report.Notification()
	assert.Equal(t, models.NotificationBrandDigest, job.Type)
	assert.Empty(t, job.UserID)
	assert.Equal(t, "org1", job.OrganizationID)
	assert.Equal(t, "Acme weekly digest", job.Title)
	assert.True(t, strings.HasPrefix(job.Message, "3 mentions of Acme"))
	assert.Equal(t, "3", job.Data["mentions"])
	assert.Equal(t, "1 positive, 0 neutral, 2 negative", job.Data["sentiment_breakdown"])
	assert.Equal(t, "REDDIT (2), YOUTUBE (1)", job.Data["top_platforms"])
	assert.Equal(t, "https://reddit.com/2", job.Data["url"])
	assert.Equal(t, "-0.13", job.Data["average_sentiment"])
}

func TestSchedule(t *testing.T) {
	tests := []struct {
		name   string
		spec   string
		period time.Duration
		ok     bool
	}{
		{name: Daily, spec: "0 0 9 * * *", period: 24 * time.Hour, ok: true},
		{name: Weekly, spec: "0 0 9 * * MON", period: 7 * 24 * time.Hour, ok: true},
		{name: Off},
		{name: "monthly"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, period, ok := Schedule(tt.name)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.spec, spec)
			assert.Equal(t, tt.period, period)
		})
	}
}
