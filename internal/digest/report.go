package digest

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/azure/brand-mentions-pipeline/internal/models"
)

// Report summarises one brand's mentions over a period
type Report struct {
	BrandID         string                   `json:"brand_id"`
	BrandName       string                   `json:"brand_name"`
	OrganizationID  string                   `json:"organization_id"`
	Period          string                   `json:"period"`
	From            time.Time                `json:"from"`
	To              time.Time                `json:"to"`
	GeneratedAt     time.Time                `json:"generated_at"`
	TotalMentions   int                      `json:"total_mentions"`
	TotalEngagement int                      `json:"total_engagement"`
	AverageScore    float64                  `json:"average_score"`
	Platforms       map[models.Platform]int  `json:"platforms"`
	Sentiment       map[models.Sentiment]int `json:"sentiment"`
	TopPlatforms    []string                 `json:"top_platforms"`
	TopKeywords     []string                 `json:"top_keywords"`
	MostNegative    []MentionSummary         `json:"most_negative,omitempty"`
}

// MentionSummary is a short reference to a stored mention
type MentionSummary struct {
	ID       string          `json:"id"`
	Platform models.Platform `json:"platform"`
	Author   string          `json:"author"`
	URL      string          `json:"url"`
	Score    float64         `json:"score"`
	Excerpt  string          `json:"excerpt"`
}

// Summarize builds the report for mentions created in [from, to). topN bounds every ranked list.
func Summarize(brand models.Brand, mentions []models.Mention, period string, from, to time.Time, topN int) *Report {
	report := &Report{
		BrandID:        brand.ID,
		BrandName:      brand.Name,
		OrganizationID: brand.OrganizationID,
		Period:         period,
		From:           from,
		To:             to,
		GeneratedAt:    to,
		Platforms:      make(map[models.Platform]int),
		Sentiment: map[models.Sentiment]int{
			models.SentimentPositive: 0,
			models.SentimentNeutral:  0,
			models.SentimentNegative: 0,
		},
		TopPlatforms: []string{},
		TopKeywords:  []string{},
	}

	keywordCount := make(map[string]int)
	var negative []models.Mention
	var scoreSum float64

	for _, m := range mentions {
		if m.CreatedAt.Before(from) || !m.CreatedAt.Before(to) {
			continue
		}
		report.TotalMentions++
		report.TotalEngagement += m.EngagementCount
		report.Platforms[m.Platform]++
		report.Sentiment[m.Sentiment]++
		scoreSum += m.SentimentScore

		seen := make(map[string]bool, len(m.Keywords))
		for _, kw := range m.Keywords {
			key := strings.ToLower(kw)
			if !seen[key] {
				seen[key] = true
				keywordCount[key]++
			}
		}
		if m.SentimentScore < 0 {
			negative = append(negative, m)
		}
	}

	if report.TotalMentions == 0 {
		return report
	}
	report.AverageScore = scoreSum / float64(report.TotalMentions)

	platformCount := make(map[string]int, len(report.Platforms))
	for p, n := range report.Platforms {
		platformCount[string(p)] = n
	}
	report.TopPlatforms = topCounts(platformCount, topN)
	report.TopKeywords = topCounts(keywordCount, topN)

	sort.SliceStable(negative, func(i, j int) bool {
		return negative[i].SentimentScore < negative[j].SentimentScore
	})
	for i, m := range negative {
		if i >= topN {
			break
		}
		report.MostNegative = append(report.MostNegative, MentionSummary{
			ID:       m.ID,
			Platform: m.Platform,
			Author:   m.Author,
			URL:      m.URL,
			Score:    m.SentimentScore,
			Excerpt:  excerpt(m.Content, 280),
		})
	}

	return report
}

// topCounts ranks by count descending, then name, formatted as "name (count)"
func topCounts(counts map[string]int, n int) []string {
	type entry struct {
		name  string
		count int
	}

	entries := make([]entry, 0, len(counts))
	for name, count := range counts {
		entries = append(entries, entry{name, count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].name < entries[j].name
	})

	top := make([]string, 0, n)
	for i, e := range entries {
		if i >= n {
			break
		}
		top = append(top, fmt.Sprintf("%s (%d)", e.name, e.count))
	}
	return top
}

// Notification renders the report as an organization-wide notification job
func (r *Report) Notification() models.NotificationJob {
	data := map[string]interface{}{
		"brand_id":          r.BrandID,
		"period":            r.Period,
		"mentions":          fmt.Sprintf("%d", r.TotalMentions),
		"engagement":        fmt.Sprintf("%d", r.TotalEngagement),
		"average_sentiment": fmt.Sprintf("%.2f", r.AverageScore),
		"sentiment_breakdown": fmt.Sprintf("%d positive, %d neutral, %d negative",
			r.Sentiment[models.SentimentPositive], r.Sentiment[models.SentimentNeutral], r.Sentiment[models.SentimentNegative]),
	}
	if len(r.TopPlatforms) > 0 {
		data["top_platforms"] = strings.Join(r.TopPlatforms, ", ")
	}
	if len(r.TopKeywords) > 0 {
		data["top_keywords"] = strings.Join(r.TopKeywords, ", ")
	}
	if len(r.MostNegative) > 0 {
		worst := r.MostNegative[0]
		data["excerpt"] = worst.Excerpt
		data["url"] = worst.URL
		data["platform"] = string(worst.Platform)
	}

	return models.NotificationJob{
		Type:           models.NotificationBrandDigest,
		OrganizationID: r.OrganizationID,
		Title:          fmt.Sprintf("%s %s digest", r.BrandName, r.Period),
		Message: fmt.Sprintf("%d mentions of %s between %s and %s.",
			r.TotalMentions, r.BrandName, r.From.UTC().Format(time.RFC1123), r.To.UTC().Format(time.RFC1123)),
		Data: data,
	}
}

func excerpt(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + "..."
}
