package sources

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"

	"github.com/azure/brand-mentions-pipeline/internal/models"
)

const defaultUserAgent = "BrandMentions-Pipeline/1.0"

func newClient(baseURL, userAgent string) *resty.Client {
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30*time.Second).
		SetHeader("User-Agent", userAgent)
}

func deduplicate(mentions []models.RawMention) []models.RawMention {
	seen := make(map[string]bool)
	var unique []models.RawMention

	for _, m := range mentions {
		if !seen[m.ExternalID] {
			seen[m.ExternalID] = true
			unique = append(unique, m)
		}
	}

	return unique
}

// matchedKeywords returns the keywords that appear in content, case-insensitively
func matchedKeywords(content string, keywords []string) []string {
	lower := strings.ToLower(content)
	var matched []string
	for _, k := range keywords {
		if k = strings.TrimSpace(k); k != "" && strings.Contains(lower, strings.ToLower(k)) {
			matched = append(matched, k)
		}
	}
	return matched
}

// stripHTML returns the text content of an HTML fragment
func stripHTML(fragment string) string {
	if !strings.Contains(fragment, "<") && !strings.Contains(fragment, "&") {
		return strings.TrimSpace(fragment)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.TrimSpace(fragment)
	}
	doc.Find("p, br, li").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})
	return strings.TrimSpace(doc.Text())
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}

func limitOr(limit, def, ceiling int) int {
	if limit <= 0 {
		limit = def
	}
	if limit > ceiling {
		limit = ceiling
	}
	return limit
}

func floatPtr(f float64) *float64 {
	return &f
}
