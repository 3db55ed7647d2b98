package scraper

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azure/brand-mentions-pipeline/internal/clock"
	"github.com/azure/brand-mentions-pipeline/internal/models"
)

type fakeFetcher struct {
	pages   map[string]string
	fetched []string
}

func (f *fakeFetcher) Fetch(_ context.Context, pageURL string, _ map[string]string) (string, error) {
	f.fetched = append(f.fetched, pageURL)
	html, ok := f.pages[pageURL]
	if !ok {
		return "", errors.New("not found")
	}
	return html, nil
}

func TestEngine_FollowsNextPage(t *testing.T) {
	static := &fakeFetcher{pages: map[string]string{
		"https://forum.example.com/latest":        `<article><p>one</p></article><a class="next" href="/latest?page=2">next</a>`,
		"https://forum.example.com/latest?page=2": `<article><p>two</p></article><a class="next" href="/latest?page=3">next</a>`,
		"https://forum.example.com/latest?page=3": `<article><p>three</p></article>`,
	}}
	engine := NewEngine(static, nil, clock.NewFake(testNow), testLogger())

	items, err := engine.Scrape(context.Background(), Config{
		Name:      "forum",
		URL:       "https://forum.example.com/latest",
		Platform:  models.PlatformWeb,
		Selectors: models.SelectorConfig{NextPage: "a.next"},
		MaxPages:  2,
	})
	require.NoError(t, err)

	require.Len(t, items, 2)
	assert.Equal(t, "one", items[0].Content)
	assert.Equal(t, "two", items[1].Content)
	assert.Len(t, static.fetched, 2)
}

func TestEngine_FirstPageErrorFails(t *testing.T) {
	engine := NewEngine(&fakeFetcher{}, nil, clock.NewFake(testNow), testLogger())

	_, err := engine.Scrape(context.Background(), Config{URL: "https://missing.example.com"})
	assert.Error(t, err)
}

func TestEngine_LaterPageErrorKeepsItems(t *testing.T) {
	static := &fakeFetcher{pages: map[string]string{
		"https://example.com/": `<article><p>kept</p></article><a rel="next" href="/gone">next</a>`,
	}}
	engine := NewEngine(static, nil, clock.NewFake(testNow), testLogger())

	items, err := engine.Scrape(context.Background(), Config{
		URL:       "https://example.com/",
		Selectors: models.SelectorConfig{NextPage: `a[rel="next"]`},
		MaxPages:  5,
	})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "kept", items[0].Content)
}

func TestEngine_SelectsFetcherAndParser(t *testing.T) {
	page := `<div class="review"><span class="rating">5</span><p>Love it</p></div>`
	static := &fakeFetcher{pages: map[string]string{"https://example.com/r": page}}
	dynamic := &fakeFetcher{pages: map[string]string{"https://example.com/r": page}}

	tests := []struct {
		name        string
		dynamic     Fetcher
		wantDynamic bool
	}{
		{name: "dynamic available", dynamic: dynamic, wantDynamic: true},
		{name: "dynamic unavailable falls back to static", dynamic: nil, wantDynamic: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			static.fetched, dynamic.fetched = nil, nil
			engine := NewEngine(static, tt.dynamic, clock.NewFake(testNow), testLogger())

			items, err := engine.Scrape(context.Background(), Config{
				URL:       "https://example.com/r",
				Platform:  models.PlatformGoogleReviews,
				Dynamic:   true,
				Selectors: models.SelectorConfig{Container: ".review"},
			})
			require.NoError(t, err)
			require.Len(t, items, 1)
			require.NotNil(t, items[0].Rating)
			assert.Equal(t, models.SentimentPositive, items[0].Sentiment)

			if tt.wantDynamic {
				assert.Len(t, dynamic.fetched, 1)
				assert.Empty(t, static.fetched)
			} else {
				assert.Len(t, static.fetched, 1)
			}
		})
	}
}

func TestStaticFetcher(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
			assert.Equal(t, "yes", r.Header.Get("X-Custom"))
			w.Write([]byte("<html><body>hi</body></html>"))
		default:
			w.WriteHeader(http.StatusForbidden)
		}
	}))
	defer server.Close()

	fetcher := NewStaticFetcher("test-agent", 5*time.Second)

	html, err := fetcher.Fetch(context.Background(), server.URL+"/ok", map[string]string{"X-Custom": "yes"})
	require.NoError(t, err)
	assert.Contains(t, html, "hi")

	_, err = fetcher.Fetch(context.Background(), server.URL+"/blocked", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}
