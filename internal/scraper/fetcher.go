package scraper

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// StaticFetcher fetches pages with a plain HTTP GET
type StaticFetcher struct {
	client *resty.Client
}

// Ensure StaticFetcher implements Fetcher
var _ Fetcher = (*StaticFetcher)(nil)

// NewStaticFetcher creates a fetcher that presents itself as a desktop browser
func NewStaticFetcher(userAgent string, timeout time.Duration) *StaticFetcher {
	return &StaticFetcher{
		client: resty.New().
			SetTimeout(timeout).
			SetHeader("User-Agent", userAgent).
			SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8").
			SetHeader("Accept-Language", "en-US,en;q=0.9,fr;q=0.8"),
	}
}

func (f *StaticFetcher) Fetch(ctx context.Context, pageURL string, headers map[string]string) (string, error) {
	resp, err := f.client.R().
		SetContext(ctx).
		SetHeaders(headers).
		Get(pageURL)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", pageURL, err)
	}

	if resp.IsError() {
		return "", fmt.Errorf("fetch %s returned status %d", pageURL, resp.StatusCode())
	}

	return resp.String(), nil
}
