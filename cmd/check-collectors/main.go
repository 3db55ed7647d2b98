package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/azure/brand-mentions-pipeline/internal/clock"
	"github.com/azure/brand-mentions-pipeline/internal/config"
	"github.com/azure/brand-mentions-pipeline/internal/scraper"
	"github.com/azure/brand-mentions-pipeline/internal/sources"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

type options struct {
	timeout time.Duration
	verbose bool
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:          "check-collectors",
		Short:        "Inspect and test the mention collectors",
		Long:         "Prints the collector enablement table and checks connectivity of every registered collector.",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "overall timeout")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log collector activity")

	cmd.AddCommand(
		newReportCommand(opts),
		newTestCommand(opts),
		newCollectCommand(opts),
	)
	return cmd
}

// loadRegistry builds the registry the pipeline would run with
func loadRegistry(opts *options) (*sources.Registry, error) {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	if opts.verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	engine := scraper.NewEngine(scraper.NewStaticFetcher(cfg.ScraperUserAgent, cfg.FetchTimeout), nil, clock.Real{}, logger)
	registry := sources.NewRegistry(sources.DefaultPolicy().WithDisabled(cfg.DisabledPlatforms), logger)
	creds := sources.Credentials{
		RedditUserAgent:    cfg.RedditUserAgent,
		YouTubeAPIKey:      cfg.YouTubeAPIKey,
		TwitterBearerToken: cfg.TwitterBearerToken,
		GoogleAPIKey:       cfg.GoogleAPIKey,
		YelpAPIKey:         cfg.YelpAPIKey,
		NewsAPIKey:         cfg.NewsAPIKey,
		StackExchangeKey:   cfg.StackExchangeKey,
	}
	if err := registry.RegisterAll(sources.DefaultFactories(creds, engine, clock.Real{}, logger)); err != nil {
		return nil, err
	}
	return registry, nil
}

func withTimeout(cmd *cobra.Command, opts *options) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), opts.timeout)
}
