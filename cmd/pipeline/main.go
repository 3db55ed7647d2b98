package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/azure/brand-mentions-pipeline/internal/aiclient"
	"github.com/azure/brand-mentions-pipeline/internal/alerts"
	"github.com/azure/brand-mentions-pipeline/internal/clock"
	"github.com/azure/brand-mentions-pipeline/internal/config"
	"github.com/azure/brand-mentions-pipeline/internal/digest"
	"github.com/azure/brand-mentions-pipeline/internal/ingest"
	"github.com/azure/brand-mentions-pipeline/internal/notifications"
	"github.com/azure/brand-mentions-pipeline/internal/queue"
	"github.com/azure/brand-mentions-pipeline/internal/scheduler"
	"github.com/azure/brand-mentions-pipeline/internal/scraper"
	"github.com/azure/brand-mentions-pipeline/internal/sources"
	"github.com/azure/brand-mentions-pipeline/internal/storage"
	"github.com/azure/brand-mentions-pipeline/internal/store"
)

func main() {
	// Load environment variables from .env file if it exists
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logrus.SetLevel(logrus.InfoLevel)
	if cfg.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logger := logrus.StandardLogger()

	logger.Info("Starting brand mentions pipeline")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, closeStore := openStore(ctx, cfg, logger)
	defer closeStore()

	redisClient, err := queue.Connect(cfg.RedisAddress, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()

	queueOpts := queue.Options{
		Prefix:      cfg.QueuePrefix,
		MaxAttempts: cfg.JobMaxAttempts,
		Backoff:     cfg.JobBackoff,
		Logger:      logger,
	}
	scrapeQueue := queue.New(redisClient, queue.Scrape, queueOpts)
	mentionQueue := queue.New(redisClient, queue.Mentions, queueOpts)
	notifyQueue := queue.New(redisClient, queue.Notifications, queueOpts)
	queues := []*queue.Queue{scrapeQueue, mentionQueue, notifyQueue}

	for _, q := range queues {
		if _, err := q.Recover(ctx); err != nil {
			logger.Fatalf("Failed to recover %s queue: %v", q.Name(), err)
		}
	}

	// Scraper engine for the open-web collectors
	var dynamic scraper.Fetcher
	if cfg.EnableDynamicFetch {
		df, err := scraper.NewDynamicFetcher()
		if err != nil {
			logger.WithError(err).Warn("Headless browser unavailable, dynamic sources will be fetched statically")
		} else {
			defer df.Close()
			dynamic = df
		}
	}
	engine := scraper.NewEngine(scraper.NewStaticFetcher(cfg.ScraperUserAgent, cfg.FetchTimeout), dynamic, clock.Real{}, logger)

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
		logger.Fatalf("Failed to register collectors: %v", err)
	}
	logger.WithField("platforms", registry.Platforms()).Info("Collectors registered")

	var archiver *storage.Archiver
	var batchArchiver ingest.BatchArchiver
	if cfg.StorageAccount != "" {
		azure, err := storage.NewAzureStorage(ctx, cfg.StorageAccount, cfg.StorageContainer, logger)
		if err != nil {
			logger.Fatalf("Failed to initialize storage: %v", err)
		}
		archiver = storage.NewArchiver(azure, logger)
		batchArchiver = archiver
	}

	var analyzer aiclient.Analyzer
	if cfg.AIServiceURL != "" {
		analyzer = aiclient.NewClient(cfg.AIServiceURL, cfg.AITimeout)
	}

	notifier := notifications.NewService(notifications.Settings{
		TeamsWebhookURL: cfg.TeamsWebhookURL,
		From:            cfg.NotificationFrom,
		SMTPHost:        cfg.SMTPHost,
		SMTPPort:        cfg.SMTPPort,
		SMTPUsername:    cfg.SMTPUsername,
		SMTPPassword:    cfg.SMTPPassword,
	}, logger)
	checker := alerts.NewChecker(st, notifyQueue, clock.Real{}, logger)
	scrapeProcessor := ingest.NewScrapeProcessor(st, registry, mentionQueue, batchArchiver, clock.Real{}, logger)
	mentionProcessor := ingest.NewMentionProcessor(st, ingest.MentionOptions{
		Analyzer:     analyzer,
		Alerts:       checker,
		KeywordLimit: cfg.AIKeywordLimit,
		Logger:       logger,
	})

	pools := []*queue.Pool{
		{Queue: scrapeQueue, Handler: scrapeProcessor.Handle, Concurrency: cfg.ScrapeConcurrency, Limiter: queue.PerMinute(cfg.ScrapeRatePerMinute), Logger: logger},
		{Queue: mentionQueue, Handler: mentionProcessor.Handle, Concurrency: cfg.IngestConcurrency, Logger: logger},
		{Queue: notifyQueue, Handler: notifier.Handle, Concurrency: cfg.NotifyConcurrency, Logger: logger},
	}

	// Pools get their own context so shutdown can stop the scheduler first
	poolCtx, stopPools := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for _, p := range pools {
		wg.Add(1)
		go func(p *queue.Pool) {
			defer wg.Done()
			p.Run(poolCtx)
		}(p)
	}

	schedulerOpts := scheduler.Options{
		Spec:             cfg.SchedulerSpec,
		DefaultFrequency: time.Duration(cfg.DefaultFrequencySeconds) * time.Second,
		Queues:           []scheduler.DepthReporter{scrapeQueue, mentionQueue, notifyQueue},
		Logger:           logger,
	}

	var digestService *digest.Service
	if cfg.DigestSchedule != digest.Off {
		svc, err := digest.NewService(st, notifyQueue, digest.Options{Schedule: cfg.DigestSchedule, Logger: logger})
		if err != nil {
			logger.Fatalf("Failed to initialize digest: %v", err)
		}
		digestService = svc
		schedulerOpts.Digest = svc
	}

	schedulerService := scheduler.NewService(st, scrapeQueue, schedulerOpts)
	if err := schedulerService.Start(poolCtx); err != nil {
		logger.Fatalf("Failed to start scheduler: %v", err)
	}

	api := &server{
		registry: registry,
		sources:  st,
		scrape:   scrapeQueue,
		queues:   queues,
		archiver: archiver,
		digest:   digestService,
		logger:   logger,
	}
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      api.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Infof("HTTP server starting on port %s", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("HTTP server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	select {
	case <-schedulerService.Stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn("Scheduler tick did not finish before the shutdown deadline")
	}

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	// Workers stop reserving and finish in-flight jobs; anything cut short stays
	// in the active list and is recovered on the next start.
	stopPools()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("Workers did not finish before the shutdown deadline")
	}

	logger.Info("Pipeline exited")
}

func openStore(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) (store.Store, func()) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, using the in-memory store")
		return store.NewMemory(), func() {}
	}

	pg, err := store.OpenPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		logger.Fatalf("Failed to prepare database schema: %v", err)
	}
	return pg, func() {
		if err := pg.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close database")
		}
	}
}
