package sources

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azure/brand-mentions-pipeline/internal/models"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type stubCollector struct {
	platform models.Platform
	calls    int
}

func (s *stubCollector) Platform() models.Platform { return s.platform }

func (s *stubCollector) Collect(context.Context, *models.Source, []string) ([]models.RawMention, error) {
	s.calls++
	return []models.RawMention{{ExternalID: "x", Platform: s.platform}}, nil
}

func (s *stubCollector) TestConnection(context.Context, models.SourceConfig) ConnectionResult {
	return ConnectionResult{Success: true}
}

func TestRegistry_Get(t *testing.T) {
	reg := NewRegistry(DefaultPolicy(), testLogger())
	reddit := &stubCollector{platform: models.PlatformReddit}
	require.NoError(t, reg.Register(models.PlatformReddit, func() (Collector, error) { return reddit, nil }))

	c, err := reg.Get(models.PlatformReddit)
	require.NoError(t, err)
	assert.Equal(t, models.PlatformReddit, c.Platform())

	mentions, err := c.Collect(context.Background(), &models.Source{}, []string{"acme"})
	require.NoError(t, err)
	assert.Len(t, mentions, 1)
	assert.Equal(t, 1, reddit.calls)
}

func TestRegistry_FactoryCalledOnce(t *testing.T) {
	reg := NewRegistry(DefaultPolicy(), testLogger())
	built := 0
	require.NoError(t, reg.Register(models.PlatformHackerNews, func() (Collector, error) {
		built++
		return &stubCollector{platform: models.PlatformHackerNews}, nil
	}))

	for i := 0; i < 3; i++ {
		_, err := reg.Get(models.PlatformHackerNews)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, built)
}

func TestRegistry_Errors(t *testing.T) {
	reg := NewRegistry(DefaultPolicy(), testLogger())
	require.NoError(t, reg.Register(models.PlatformYouTube, func() (Collector, error) {
		return NewYouTubeCollector("", testLogger())
	}))

	tests := []struct {
		name     string
		platform models.Platform
		check    func(t *testing.T, err error)
	}{
		{
			name:     "disabled platform names the alternative",
			platform: models.PlatformTrustpilot,
			check: func(t *testing.T, err error) {
				var disabled *DisabledError
				require.True(t, errors.As(err, &disabled))
				assert.Contains(t, err.Error(), "TRUSTPILOT")
				assert.Contains(t, err.Error(), "GOOGLE_REVIEWS or YELP")
			},
		},
		{
			name:     "unknown platform",
			platform: models.Platform("MYSPACE"),
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrUnknownPlatform)
			},
		},
		{
			name:     "enabled but not registered",
			platform: models.PlatformYelp,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrNotRegistered)
				assert.Contains(t, err.Error(), "YELP")
			},
		},
		{
			name:     "missing credentials",
			platform: models.PlatformYouTube,
			check: func(t *testing.T, err error) {
				var creds *CredentialsError
				require.True(t, errors.As(err, &creds))
				assert.Equal(t, "YOUTUBE_API_KEY", creds.Setting)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := reg.Get(tt.platform)
			require.Error(t, err)
			assert.Nil(t, c)
			assert.True(t, IsPolicyError(err))
			tt.check(t, err)
		})
	}
}

func TestRegistry_DisabledRegistrationIsSkipped(t *testing.T) {
	reg := NewRegistry(DefaultPolicy().WithDisabled([]string{"reddit"}), testLogger())
	require.NoError(t, reg.Register(models.PlatformReddit, func() (Collector, error) {
		return &stubCollector{platform: models.PlatformReddit}, nil
	}))

	assert.False(t, reg.IsEnabled(models.PlatformReddit))
	_, err := reg.Get(models.PlatformReddit)
	var disabled *DisabledError
	require.True(t, errors.As(err, &disabled))
	assert.Equal(t, "disabled by configuration", disabled.Reason)
	assert.Empty(t, reg.Platforms())

	err = reg.Register(models.Platform("MYSPACE"), nil)
	assert.ErrorIs(t, err, ErrUnknownPlatform)
}

func TestRegistry_Report(t *testing.T) {
	reg := NewRegistry(DefaultPolicy(), testLogger())
	require.NoError(t, reg.RegisterAll(map[models.Platform]Factory{
		models.PlatformReddit:     func() (Collector, error) { return &stubCollector{}, nil },
		models.PlatformTrustpilot: func() (Collector, error) { return &stubCollector{}, nil },
	}))

	report := reg.Report()
	require.Len(t, report, len(DefaultPolicy()))

	byPlatform := map[models.Platform]RegistryEntry{}
	for _, e := range report {
		byPlatform[e.Platform] = e
	}
	assert.True(t, byPlatform[models.PlatformReddit].Registered)
	assert.False(t, byPlatform[models.PlatformTrustpilot].Registered)
	assert.False(t, byPlatform[models.PlatformTrustpilot].Enabled)
	assert.Equal(t, "REDDIT", string(byPlatform[models.PlatformReddit].Platform))
	assert.Equal(t, "60/minute", byPlatform[models.PlatformReddit].RateLimit.String())
}

func TestDefaultPolicy(t *testing.T) {
	policy := DefaultPolicy()

	for _, platform := range []models.Platform{models.PlatformTrustpilot, models.PlatformFacebook} {
		entry := policy[platform]
		assert.False(t, entry.Enabled, platform)
		assert.NotEmpty(t, entry.Reason, platform)
		assert.NotEmpty(t, entry.Alternative, platform)
	}
	for _, platform := range []models.Platform{models.PlatformYouTube, models.PlatformTwitter, models.PlatformYelp, models.PlatformNews, models.PlatformGoogleReviews} {
		assert.True(t, policy[platform].RequiresAuth, platform)
	}
	assert.False(t, policy[models.PlatformReddit].RequiresAuth)
}

func TestCheckDomain(t *testing.T) {
	tests := []struct {
		name      string
		url       string
		forbidden bool
	}{
		{name: "twitter", url: "https://twitter.com/acme", forbidden: true},
		{name: "x with www", url: "https://www.x.com/acme", forbidden: true},
		{name: "facebook subdomain", url: "https://m.facebook.com/acme", forbidden: true},
		{name: "linkedin without scheme", url: "linkedin.com/company/acme", forbidden: true},
		{name: "telegram short link", url: "https://t.me/acme", forbidden: true},
		{name: "lookalike domain", url: "https://notx.com/acme", forbidden: false},
		{name: "blog", url: "https://blog.example.com/{{keyword}}", forbidden: false},
		{name: "empty", url: "", forbidden: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckDomain(tt.url)
			if !tt.forbidden {
				assert.NoError(t, err)
				return
			}
			var forbidden *ForbiddenDomainError
			require.True(t, errors.As(err, &forbidden))
			assert.True(t, IsPolicyError(err))
		})
	}
}

func TestLexiconSentiment(t *testing.T) {
	tests := []struct {
		name string
		text string
		want models.Sentiment
	}{
		{name: "positive", text: "I love this product", want: models.SentimentPositive},
		{name: "negative", text: "Terrible support, the app is broken", want: models.SentimentNegative},
		{name: "tie", text: "Great design but awful battery", want: models.SentimentNeutral},
		{name: "no lexicon words", text: "Shipped on Tuesday", want: models.SentimentNeutral},
		{name: "punctuation and case", text: "AMAZING!!! Best purchase.", want: models.SentimentPositive},
		{name: "substring is not a match", text: "goodness gracious", want: models.SentimentNeutral},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LexiconSentiment(tt.text))
		})
	}
}

func TestRateLimit_Limiter(t *testing.T) {
	limiter := RateLimit{Requests: 60, Per: PerMinute}.Limiter()
	assert.Equal(t, 10, limiter.Burst())
	assert.InDelta(t, 1.0, float64(limiter.Limit()), 0.001)

	unlimited := RateLimit{}.Limiter()
	assert.True(t, unlimited.Allow())
}
