package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/azure/brand-mentions-pipeline/internal/aiclient"
	"github.com/azure/brand-mentions-pipeline/internal/clock"
	"github.com/azure/brand-mentions-pipeline/internal/models"
	"github.com/azure/brand-mentions-pipeline/internal/queue"
	"github.com/azure/brand-mentions-pipeline/internal/store"
)

var ingestTime = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func setupMentionStore() *store.Memory {
	st := store.NewMemory()
	st.PutBrand(models.Brand{ID: "brand-1", OrganizationID: "org-1", Name: "Acme", Keywords: []string{"Acme", "widget"}})
	return st
}

func redditJob(content string) models.MentionJob {
	return models.MentionJob{
		Content:         content,
		Author:          "u/alice",
		URL:             "https://reddit.com/r/acme/comments/r1",
		PublishedAt:     ingestTime.Add(-time.Hour),
		ExternalID:      "r1",
		Platform:        models.PlatformReddit,
		EngagementCount: 12,
		BrandID:         "brand-1",
		SourceID:        "src-1",
	}
}

func TestMentionProcessor_IngestionIsIdempotent(t *testing.T) {
	st := setupMentionStore()
	analyzer := new(MockAnalyzer)
	analyzer.On("AnalyzeSentiment", mock.Anything, "I love this product").
		Return(&aiclient.SentimentResult{Sentiment: models.SentimentPositive, Score: 0.8, Confidence: 0.9, Language: "en"}, nil).Once()
	analyzer.On("ExtractKeywords", mock.Anything, "I love this product", 5).Return([]string{"product"}, nil).Once()

	p := NewMentionProcessor(st, MentionOptions{Analyzer: analyzer, Clock: clock.NewFake(ingestTime), Logger: testLogger()})

	first, err := p.Process(context.Background(), redditJob("I love this product"))
	require.NoError(t, err)
	second, err := p.Process(context.Background(), redditJob("I love this product"))
	require.NoError(t, err)

	assert.Equal(t, 1, st.MentionCount())
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, models.SentimentPositive, second.Sentiment)
	assert.InDelta(t, 0.8, second.SentimentScore, 1e-9)
	assert.Equal(t, "en", second.Language)
	assert.Equal(t, []string{"product"}, second.Keywords)
	assert.Equal(t, 12, second.ReachScore)
	assert.True(t, second.Processed)
	assert.Equal(t, ingestTime, second.AnalyzedAt)
	analyzer.AssertExpectations(t)
}

func TestMentionProcessor_AITimeoutFallsBack(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	st := setupMentionStore()
	p := NewMentionProcessor(st, MentionOptions{
		Analyzer: aiclient.NewClient(server.URL, 50*time.Millisecond),
		Clock:    clock.NewFake(ingestTime),
		Logger:   testLogger(),
	})

	mention, err := p.Process(context.Background(), redditJob("Acme just shipped a new WIDGET, acmeville is jealous"))
	require.NoError(t, err)

	assert.Equal(t, models.SentimentNeutral, mention.Sentiment)
	assert.Equal(t, 0.0, mention.SentimentScore)
	assert.Equal(t, []string{"Acme", "widget"}, mention.Keywords)
	assert.Equal(t, "unknown", mention.Language)
	assert.Equal(t, 1, st.MentionCount())
}

func TestMentionProcessor_KeywordUnion(t *testing.T) {
	st := setupMentionStore()
	analyzer := new(MockAnalyzer)
	analyzer.On("AnalyzeSentiment", mock.Anything, mock.Anything).
		Return(&aiclient.SentimentResult{Sentiment: models.SentimentNegative, Score: -0.7}, nil)
	analyzer.On("ExtractKeywords", mock.Anything, mock.Anything, 3).Return([]string{"shipping", "ACME", "delay"}, nil)

	p := NewMentionProcessor(st, MentionOptions{Analyzer: analyzer, KeywordLimit: 3, Logger: testLogger()})
	mention, err := p.Process(context.Background(), redditJob("acme shipping delay again"))
	require.NoError(t, err)

	assert.Equal(t, []string{"Acme", "shipping", "delay"}, mention.Keywords)
	assert.Equal(t, models.SentimentNegative, mention.Sentiment)
}

func TestMentionProcessor_KeywordServiceFailureKeepsSentiment(t *testing.T) {
	analyzer := new(MockAnalyzer)
	analyzer.On("AnalyzeSentiment", mock.Anything, mock.Anything).
		Return(&aiclient.SentimentResult{Sentiment: models.SentimentPositive, Score: 0.5}, nil)
	analyzer.On("ExtractKeywords", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("503"))

	p := NewMentionProcessor(setupMentionStore(), MentionOptions{Analyzer: analyzer, Logger: testLogger()})
	mention, err := p.Process(context.Background(), redditJob("great widget"))
	require.NoError(t, err)

	assert.Equal(t, models.SentimentPositive, mention.Sentiment)
	assert.Equal(t, []string{"widget"}, mention.Keywords)
}

func TestMentionProcessor_AlertCheck(t *testing.T) {
	tests := []struct {
		name     string
		checkErr error
	}{
		{name: "alert check succeeds"},
		{name: "alert check failure does not fail ingestion", checkErr: errors.New("redis down")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alerts := new(MockAlertChecker)
			alerts.On("Check", mock.Anything, mock.AnythingOfType("string"), "brand-1").Return(tt.checkErr).Once()

			st := setupMentionStore()
			p := NewMentionProcessor(st, MentionOptions{Alerts: alerts, Logger: testLogger()})
			mention, err := p.Process(context.Background(), redditJob("hello acme"))
			require.NoError(t, err)
			require.NotNil(t, mention)

			assert.Equal(t, 1, st.MentionCount())
			alerts.AssertCalled(t, "Check", mock.Anything, mention.ID, "brand-1")
		})
	}
}

type failingMentionStore struct {
	*store.Memory
	err error
}

func (s *failingMentionStore) CreateMention(context.Context, *models.Mention) error {
	return s.err
}

// racingMentionStore simulates a concurrent delivery inserting the mention first
type racingMentionStore struct {
	*store.Memory
}

func (s *racingMentionStore) CreateMention(ctx context.Context, m *models.Mention) error {
	winner := *m
	winner.ID = "winner"
	if err := s.Memory.CreateMention(ctx, &winner); err != nil {
		return err
	}
	return store.ErrDuplicate
}

func TestMentionProcessor_Persistence(t *testing.T) {
	t.Run("error propagates for retry", func(t *testing.T) {
		st := &failingMentionStore{Memory: setupMentionStore(), err: errors.New("connection reset")}
		_, err := NewMentionProcessor(st, MentionOptions{Logger: testLogger()}).Process(context.Background(), redditJob("acme"))
		require.Error(t, err)
		assert.False(t, queue.IsPermanent(err))
	})

	t.Run("lost insert race returns the stored mention", func(t *testing.T) {
		st := &racingMentionStore{Memory: setupMentionStore()}
		mention, err := NewMentionProcessor(st, MentionOptions{Logger: testLogger()}).Process(context.Background(), redditJob("acme"))
		require.NoError(t, err)
		assert.Equal(t, "winner", mention.ID)
		assert.Equal(t, 1, st.MentionCount())
	})
}

func TestMentionProcessor_RejectsBadJobs(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(j *models.MentionJob)
	}{
		{name: "missing external id", mutate: func(j *models.MentionJob) { j.ExternalID = "" }},
		{name: "missing platform", mutate: func(j *models.MentionJob) { j.Platform = "" }},
		{name: "unknown brand", mutate: func(j *models.MentionJob) { j.BrandID = "nope" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := redditJob("acme")
			tt.mutate(&job)
			_, err := NewMentionProcessor(setupMentionStore(), MentionOptions{Logger: testLogger()}).Process(context.Background(), job)
			require.Error(t, err)
			assert.True(t, queue.IsPermanent(err))
		})
	}
}

func TestMentionProcessor_Handle(t *testing.T) {
	st := setupMentionStore()
	p := NewMentionProcessor(st, MentionOptions{Logger: testLogger()})

	job := redditJob("acme widget")
	job.AuthorAvatar = "https://img/a.png"
	job.RawData = map[string]interface{}{"subreddit": "acme"}
	payload, err := json.Marshal(job)
	require.NoError(t, err)

	require.NoError(t, p.Handle(context.Background(), &queue.Job{Queue: queue.Mentions, Payload: payload}))

	stored, err := st.FindMention(context.Background(), "r1", models.PlatformReddit)
	require.NoError(t, err)
	assert.Equal(t, "acme", stored.RawData["subreddit"])
	assert.Equal(t, "https://img/a.png", stored.RawData["author_avatar"])

	err = p.Handle(context.Background(), &queue.Job{Queue: queue.Mentions, Payload: []byte("not json")})
	assert.True(t, queue.IsPermanent(err))
}

func TestMatchKeywords(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		keywords []string
		want     []string
	}{
		{name: "case insensitive", text: "Loving my ACME phone", keywords: []string{"acme"}, want: []string{"acme"}},
		{name: "substring is not a match", text: "acmeville fair", keywords: []string{"acme"}, want: []string{}},
		{name: "phrase", text: "Tried Acme Cloud today", keywords: []string{"acme cloud", "acme"}, want: []string{"acme cloud", "acme"}},
		{name: "regex characters are literal", text: "acme.io is down", keywords: []string{"acme.io", "acmexio"}, want: []string{"acme.io"}},
		{name: "blank and duplicate keywords", text: "acme", keywords: []string{" ", "Acme", "acme"}, want: []string{"Acme"}},
		{name: "no keywords", text: "anything", keywords: nil, want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchKeywords(tt.text, tt.keywords))
		})
	}
}
