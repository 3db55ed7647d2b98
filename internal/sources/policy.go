package sources

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/azure/brand-mentions-pipeline/internal/models"
)

var (
	// ErrNotRegistered is returned when an enabled platform has no collector bound
	ErrNotRegistered = errors.New("collector not registered")
	// ErrUnknownPlatform is returned for platforms absent from the enablement table
	ErrUnknownPlatform = errors.New("unknown platform")
)

// Period is the window of a rate limit
type Period string

const (
	PerMinute Period = "minute"
	PerHour   Period = "hour"
	PerDay    Period = "day"
)

func (p Period) duration() time.Duration {
	switch p {
	case PerMinute:
		return time.Minute
	case PerHour:
		return time.Hour
	default:
		return 24 * time.Hour
	}
}

// RateLimit is the request quota a platform allows
type RateLimit struct {
	Requests int    `json:"requests"`
	Per      Period `json:"per"`
}

func (r RateLimit) String() string {
	return fmt.Sprintf("%d/%s", r.Requests, r.Per)
}

// Limiter builds a token bucket that paces requests to the quota
func (r RateLimit) Limiter() *rate.Limiter {
	if r.Requests <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := r.Requests
	if burst > 10 {
		burst = 10
	}
	return rate.NewLimiter(rate.Every(r.Per.duration()/time.Duration(r.Requests)), burst)
}

// PolicyEntry is one row of the enablement table
type PolicyEntry struct {
	Platform     models.Platform `json:"platform"`
	Enabled      bool            `json:"enabled"`
	RequiresAuth bool            `json:"requires_auth"`
	RateLimit    *RateLimit      `json:"rate_limit,omitempty"`
	Description  string          `json:"description,omitempty"`
	Reason       string          `json:"reason,omitempty"`
	Alternative  string          `json:"alternative,omitempty"`
}

// Policy is the enablement table keyed by platform
type Policy map[models.Platform]PolicyEntry

// DefaultPolicy returns the built-in enablement table
func DefaultPolicy() Policy {
	scraping := &RateLimit{Requests: 1000, Per: PerHour}
	entries := []PolicyEntry{
		{Platform: models.PlatformReddit, Enabled: true, RateLimit: &RateLimit{60, PerMinute}, Description: "Reddit discussions (public JSON)"},
		{Platform: models.PlatformYouTube, Enabled: true, RequiresAuth: true, RateLimit: &RateLimit{10000, PerDay}, Description: "YouTube videos and comments (Data API v3)"},
		{Platform: models.PlatformTwitter, Enabled: true, RequiresAuth: true, RateLimit: &RateLimit{100, PerMinute}, Description: "Twitter/X recent search (API v2, paid tier)"},
		{Platform: models.PlatformGoogleReviews, Enabled: true, RequiresAuth: true, RateLimit: &RateLimit{2500, PerDay}, Description: "Google Places reviews"},
		{Platform: models.PlatformYelp, Enabled: true, RequiresAuth: true, RateLimit: &RateLimit{5000, PerDay}, Description: "Yelp Fusion business reviews"},
		{Platform: models.PlatformNews, Enabled: true, RequiresAuth: true, RateLimit: &RateLimit{100, PerDay}, Description: "NewsAPI.org articles"},
		{Platform: models.PlatformHackerNews, Enabled: true, RateLimit: &RateLimit{1000, PerHour}, Description: "Hacker News stories and comments"},
		{Platform: models.PlatformStackOverflow, Enabled: true, RateLimit: &RateLimit{300, PerDay}, Description: "Stack Overflow questions"},
		{Platform: models.PlatformWeb, Enabled: true, RateLimit: scraping, Description: "Generic web scraping"},
		{Platform: models.PlatformForum, Enabled: true, RateLimit: scraping, Description: "Forum threads"},
		{Platform: models.PlatformBlog, Enabled: true, RateLimit: scraping, Description: "Blog posts and articles"},
		{Platform: models.PlatformReview, Enabled: true, RateLimit: scraping, Description: "Review pages with star ratings"},
		{
			Platform:    models.PlatformTrustpilot,
			Reason:      "Trustpilot terms of service prohibit scraping and the official API is paid",
			Alternative: "GOOGLE_REVIEWS or YELP",
		},
		{
			Platform:    models.PlatformFacebook,
			Reason:      "Graph API access requires app review",
			Alternative: "REDDIT",
		},
	}

	p := make(Policy, len(entries))
	for _, e := range entries {
		p[e.Platform] = e
	}
	return p
}

// WithDisabled returns a copy of the policy with the named platforms switched off
func (p Policy) WithDisabled(platforms []string) Policy {
	out := make(Policy, len(p))
	for k, v := range p {
		out[k] = v
	}
	for _, name := range platforms {
		platform := models.Platform(strings.ToUpper(strings.TrimSpace(name)))
		entry, ok := out[platform]
		if !ok || !entry.Enabled {
			continue
		}
		entry.Enabled = false
		entry.Reason = "disabled by configuration"
		out[platform] = entry
	}
	return out
}

// Entries returns the table sorted by platform, for reporting
func (p Policy) Entries() []PolicyEntry {
	out := make([]PolicyEntry, 0, len(p))
	for _, e := range p {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Platform < out[j].Platform })
	return out
}

// DisabledError is returned when a platform is switched off in the enablement table
type DisabledError struct {
	Platform    models.Platform
	Reason      string
	Alternative string
}

func (e *DisabledError) Error() string {
	msg := fmt.Sprintf("collector %s is disabled", e.Platform)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Alternative != "" {
		msg += fmt.Sprintf(" (use %s instead)", e.Alternative)
	}
	return msg
}

// CredentialsError is returned when a collector is missing its API credentials
type CredentialsError struct {
	Platform models.Platform
	Setting  string
}

func (e *CredentialsError) Error() string {
	return fmt.Sprintf("collector %s requires credentials: %s is not set", e.Platform, e.Setting)
}

// ForbiddenDomainError is returned when a scraped source points at a domain that must not be scraped
type ForbiddenDomainError struct {
	URL    string
	Domain string
}

func (e *ForbiddenDomainError) Error() string {
	return fmt.Sprintf("scraping %s is forbidden (%s)", e.URL, e.Domain)
}

// ConfigError is returned when a source config blob is missing a field the collector needs
type ConfigError struct {
	Platform models.Platform
	Field    string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("source config for %s is missing %s", e.Platform, e.Field)
}

// IsPolicyError reports whether err is a non-retryable policy or configuration failure
func IsPolicyError(err error) bool {
	var (
		disabled  *DisabledError
		creds     *CredentialsError
		forbidden *ForbiddenDomainError
		cfg       *ConfigError
	)
	return errors.As(err, &disabled) ||
		errors.As(err, &creds) ||
		errors.As(err, &forbidden) ||
		errors.As(err, &cfg) ||
		errors.Is(err, ErrNotRegistered) ||
		errors.Is(err, ErrUnknownPlatform)
}

var forbiddenDomains = []string{
	"twitter.com",
	"x.com",
	"facebook.com",
	"fb.com",
	"linkedin.com",
	"telegram.org",
	"telegram.me",
	"telegram.com",
	"t.me",
}

// CheckDomain rejects URLs on domains whose terms forbid scraping
func CheckDomain(rawURL string) error {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil
	}
	if !strings.Contains(rawURL, "://") {
		rawURL = "https://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid source url %q: %w", rawURL, err)
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	for _, domain := range forbiddenDomains {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return &ForbiddenDomainError{URL: rawURL, Domain: domain}
		}
	}
	return nil
}

// IsScraped reports whether the platform is collected through the scraper engine
func IsScraped(platform models.Platform) bool {
	switch platform {
	case models.PlatformWeb, models.PlatformForum, models.PlatformBlog, models.PlatformReview:
		return true
	default:
		return false
	}
}
