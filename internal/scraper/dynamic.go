package scraper

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

const (
	renderTimeout     = 30 * time.Second
	renderStableDur   = 500 * time.Millisecond
	maxConcurrentTabs = 3
)

// blockedResourceTypes are not needed to read the rendered DOM
var blockedResourceTypes = []proto.NetworkResourceType{
	proto.NetworkResourceTypeImage,
	proto.NetworkResourceTypeFont,
	proto.NetworkResourceTypeStylesheet,
	proto.NetworkResourceTypeMedia,
}

// DynamicFetcher renders JavaScript-heavy pages in headless Chromium.
// Create with NewDynamicFetcher; call Close when done.
type DynamicFetcher struct {
	browser *rod.Browser
	tabSem  chan struct{}
}

// Ensure DynamicFetcher implements Fetcher
var _ Fetcher = (*DynamicFetcher)(nil)

// NewDynamicFetcher launches a headless browser
func NewDynamicFetcher() (*DynamicFetcher, error) {
	u, err := launcher.New().
		Headless(true).
		Set("disable-gpu").
		Set("no-sandbox").
		Set("disable-dev-shm-usage").
		Launch()
	if err != nil {
		return nil, fmt.Errorf("launch headless browser: %w", err)
	}

	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to headless browser: %w", err)
	}

	return &DynamicFetcher{
		browser: browser,
		tabSem:  make(chan struct{}, maxConcurrentTabs),
	}, nil
}

// Fetch navigates to pageURL, waits for the DOM to settle and returns the rendered HTML
func (f *DynamicFetcher) Fetch(ctx context.Context, pageURL string, headers map[string]string) (string, error) {
	select {
	case f.tabSem <- struct{}{}:
		defer func() { <-f.tabSem }()
	case <-ctx.Done():
		return "", ctx.Err()
	}

	page, err := stealth.Page(f.browser)
	if err != nil {
		return "", fmt.Errorf("create tab: %w", err)
	}
	defer page.Close()

	renderCtx, cancel := context.WithTimeout(ctx, renderTimeout)
	defer cancel()
	page = page.Context(renderCtx)

	if len(headers) > 0 {
		dict := make([]string, 0, len(headers)*2)
		for k, v := range headers {
			dict = append(dict, k, v)
		}
		cleanup, err := page.SetExtraHeaders(dict)
		if err != nil {
			return "", fmt.Errorf("set headers for %s: %w", pageURL, err)
		}
		defer cleanup()
	}

	router := page.HijackRequests()
	for _, rt := range blockedResourceTypes {
		_ = router.Add("*", rt, func(h *rod.Hijack) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
		})
	}
	go router.Run()
	defer router.MustStop()

	if err := page.Navigate(pageURL); err != nil {
		return "", fmt.Errorf("navigate to %s: %w", pageURL, err)
	}

	_ = page.WaitStable(renderStableDur)

	html, err := page.HTML()
	if err != nil {
		return "", fmt.Errorf("get HTML from %s: %w", pageURL, err)
	}

	return html, nil
}

// Close shuts down the browser process
func (f *DynamicFetcher) Close() {
	_ = f.browser.Close()
}
