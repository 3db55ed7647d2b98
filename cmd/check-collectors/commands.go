package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/azure/brand-mentions-pipeline/internal/models"
	"github.com/azure/brand-mentions-pipeline/internal/sources"
)

func newReportCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Print the collector enablement table",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := loadRegistry(opts)
			if err != nil {
				return err
			}
			renderReport(cmd.OutOrStdout(), registry.Report())
			return nil
		},
	}
}

func newTestCommand(opts *options) *cobra.Command {
	var platforms []string

	cmd := &cobra.Command{
		Use:   "test",
		Short: "Check connectivity of registered collectors",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := loadRegistry(opts)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd, opts)
			defer cancel()

			targets := registry.Platforms()
			if len(platforms) > 0 {
				targets = toPlatforms(platforms)
			}

			results := make([]testResult, 0, len(targets))
			for _, platform := range targets {
				result := testResult{Platform: platform}
				collector, err := registry.Get(platform)
				if err != nil {
					result.Message = err.Error()
				} else {
					res := collector.TestConnection(ctx, sampleConfig(platform))
					result.Success = res.Success
					result.Message = res.Message
				}
				results = append(results, result)
			}

			renderTests(cmd.OutOrStdout(), results)
			if failed := countFailed(results); failed > 0 {
				return fmt.Errorf("%d collector checks failed", failed)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&platforms, "platform", "p", nil, "platforms to test (default: all registered)")
	return cmd
}

func newCollectCommand(opts *options) *cobra.Command {
	var (
		platform string
		keywords []string
		cfg      models.SourceConfig
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Run one collection and print the mentions found",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(keywords) == 0 {
				return fmt.Errorf("at least one --keyword is required")
			}
			registry, err := loadRegistry(opts)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd, opts)
			defer cancel()

			collector, err := registry.Get(models.Platform(strings.ToUpper(platform)))
			if err != nil {
				return err
			}

			source := &models.Source{ID: "cli", Platform: collector.Platform(), Name: "check-collectors", URL: cfg.URL, Config: cfg}
			mentions, err := collector.Collect(ctx, source, keywords)
			if err != nil {
				return err
			}
			renderMentions(cmd.OutOrStdout(), mentions, limit)
			return nil
		},
	}
	cmd.Flags().StringVarP(&platform, "platform", "p", "", "platform to collect from")
	cmd.Flags().StringSliceVarP(&keywords, "keyword", "k", nil, "keywords to search for")
	cmd.Flags().StringVar(&cfg.URL, "url", "", "page URL for web collectors, may contain {{keyword}}")
	cmd.Flags().StringVar(&cfg.Subreddit, "subreddit", "", "restrict Reddit search to a subreddit")
	cmd.Flags().StringVar(&cfg.PlaceID, "place-id", "", "Google place id")
	cmd.Flags().StringVar(&cfg.PlaceName, "place-name", "", "Google place name")
	cmd.Flags().StringVar(&cfg.BusinessID, "business-id", "", "Yelp business id")
	cmd.Flags().BoolVar(&cfg.IncludeComments, "comments", false, "include comments where supported")
	cmd.Flags().IntVar(&limit, "show", 10, "number of mentions to print")
	_ = cmd.MarkFlagRequired("platform")
	return cmd
}

type testResult struct {
	Platform models.Platform
	Success  bool
	Message  string
}

// sampleConfig returns the minimal config each collector needs to answer a connectivity check
func sampleConfig(platform models.Platform) models.SourceConfig {
	switch platform {
	case models.PlatformGoogleReviews:
		return models.SourceConfig{PlaceName: "Googleplex"}
	case models.PlatformYelp:
		return models.SourceConfig{BusinessID: "gary-danko-san-francisco"}
	case models.PlatformWeb, models.PlatformForum, models.PlatformBlog, models.PlatformReview:
		return models.SourceConfig{URL: "https://example.com/"}
	default:
		return models.SourceConfig{}
	}
}

func toPlatforms(values []string) []models.Platform {
	out := make([]models.Platform, 0, len(values))
	for _, v := range values {
		out = append(out, models.Platform(strings.ToUpper(strings.TrimSpace(v))))
	}
	return out
}

func countFailed(results []testResult) int {
	n := 0
	for _, r := range results {
		if !r.Success {
			n++
		}
	}
	return n
}

func renderReport(w io.Writer, entries []sources.RegistryEntry) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Platform", "Enabled", "Registered", "Auth", "Rate Limit", "Notes"})

	for _, e := range entries {
		limit := "-"
		if e.RateLimit != nil {
			limit = e.RateLimit.String()
		}
		notes := e.Description
		if !e.Enabled {
			notes = e.Reason
			if e.Alternative != "" {
				notes += " (use " + e.Alternative + ")"
			}
		}
		t.AppendRow(table.Row{e.Platform, yesNo(e.Enabled), yesNo(e.Registered), yesNo(e.RequiresAuth), limit, notes})
	}
	t.Render()
}

func renderTests(w io.Writer, results []testResult) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Platform", "Status", "Message"})
	for _, r := range results {
		status := "OK"
		if !r.Success {
			status = "FAIL"
		}
		t.AppendRow(table.Row{r.Platform, status, r.Message})
	}
	t.AppendFooter(table.Row{"", fmt.Sprintf("%d/%d", len(results)-countFailed(results), len(results)), ""})
	t.Render()
}

func renderMentions(w io.Writer, mentions []models.RawMention, limit int) {
	fmt.Fprintf(w, "%d mentions found\n", len(mentions))
	if len(mentions) == 0 {
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"External ID", "Author", "Published", "Sentiment", "Content"})
	for i, m := range mentions {
		if limit > 0 && i >= limit {
			break
		}
		t.AppendRow(table.Row{m.ExternalID, m.Author, m.PublishedAt.Format("2006-01-02"), m.Sentiment, shorten(m.Content, 60)})
	}
	t.Render()
}

func shorten(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
