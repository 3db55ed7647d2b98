package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azure/brand-mentions-pipeline/internal/digest"
	"github.com/azure/brand-mentions-pipeline/internal/models"
	"github.com/azure/brand-mentions-pipeline/internal/queue"
	"github.com/azure/brand-mentions-pipeline/internal/sources"
	"github.com/azure/brand-mentions-pipeline/internal/storage"
	"github.com/azure/brand-mentions-pipeline/internal/store"
)

func setupServer(t *testing.T, withArchive bool) (*server, *store.Memory) {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	scrape := queue.New(client, queue.Scrape, queue.Options{Prefix: "test", Logger: logger})
	mentions := queue.New(client, queue.Mentions, queue.Options{Prefix: "test", Logger: logger})

	registry := sources.NewRegistry(sources.DefaultPolicy(), logger)
	require.NoError(t, registry.RegisterAll(sources.DefaultFactories(sources.Credentials{}, nil, nil, logger)))

	st := store.NewMemory()
	st.PutSource(models.Source{ID: "reddit-1", BrandID: "b", Platform: models.PlatformReddit, Active: true})
	st.PutSource(models.Source{ID: "trustpilot-1", BrandID: "b", Platform: models.PlatformTrustpilot, Active: true})
	st.PutSource(models.Source{ID: "youtube-1", BrandID: "b", Platform: models.PlatformYouTube, Active: true})

	s := &server{
		registry: registry,
		sources:  st,
		scrape:   scrape,
		queues:   []*queue.Queue{scrape, mentions},
		logger:   logger,
	}
	if withArchive {
		s.archiver = storage.NewArchiver(storage.NewMemoryStorage(), logger)
	}
	return s, st
}

func do(t *testing.T, s *server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestServer_Health(t *testing.T) {
	s, _ := setupServer(t, false)
	rec := do(t, s, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
}

func TestServer_Collectors(t *testing.T) {
	s, _ := setupServer(t, false)
	rec := do(t, s, http.MethodGet, "/collectors")
	require.Equal(t, http.StatusOK, rec.Code)

	var report []sources.RegistryEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Len(t, report, len(sources.DefaultPolicy()))
}

func TestServer_Scrape(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantBody   string
	}{
		{name: "enqueues", path: "/sources/reddit-1/scrape", wantStatus: http.StatusAccepted, wantBody: `"force":false`},
		{name: "force flag", path: "/sources/reddit-1/scrape?force=true", wantStatus: http.StatusAccepted, wantBody: `"force":true`},
		{name: "unknown source", path: "/sources/nope/scrape", wantStatus: http.StatusNotFound},
		{name: "disabled platform", path: "/sources/trustpilot-1/scrape", wantStatus: http.StatusConflict, wantBody: "GOOGLE_REVIEWS or YELP"},
		{name: "missing credentials", path: "/sources/youtube-1/scrape", wantStatus: http.StatusConflict, wantBody: "YOUTUBE_API_KEY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := setupServer(t, false)
			rec := do(t, s, http.MethodPost, tt.path)
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantBody != "" {
				assert.Contains(t, rec.Body.String(), tt.wantBody)
			}

			stats, err := s.scrape.Stats(context.Background())
			require.NoError(t, err)
			if tt.wantStatus == http.StatusAccepted {
				assert.Equal(t, int64(1), stats.Wait)
			} else {
				assert.Equal(t, int64(0), stats.Wait)
			}
		})
	}
}

func TestServer_Queues(t *testing.T) {
	s, _ := setupServer(t, false)
	require.Equal(t, http.StatusAccepted, do(t, s, http.MethodPost, "/sources/reddit-1/scrape").Code)

	rec := do(t, s, http.MethodGet, "/queues")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats map[string]queue.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(1), stats[queue.Scrape].Wait)
	assert.Equal(t, int64(0), stats[queue.Mentions].Wait)
}

func TestServer_FailedJobs(t *testing.T) {
	s, _ := setupServer(t, false)

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/queues/bogus/failed").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/queues/scrape/failed?limit=-1").Code)

	rec := do(t, s, http.MethodGet, "/queues/scrape/failed?limit=10")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestServer_Archives(t *testing.T) {
	s, _ := setupServer(t, false)
	assert.Equal(t, http.StatusNotImplemented, do(t, s, http.MethodGet, "/sources/reddit-1/archives").Code)

	s, st := setupServer(t, true)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/sources/reddit-1/archives/latest").Code)

	source, err := st.GetSource(context.Background(), "reddit-1")
	require.NoError(t, err)
	at := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	_, err = s.archiver.Archive(context.Background(), source, []string{"acme"}, []models.RawMention{{ExternalID: "old"}}, at)
	require.NoError(t, err)
	_, err = s.archiver.Archive(context.Background(), source, []string{"acme"}, []models.RawMention{{ExternalID: "new"}}, at.Add(time.Hour))
	require.NoError(t, err)

	rec := do(t, s, http.MethodGet, "/sources/reddit-1/archives")
	require.Equal(t, http.StatusOK, rec.Code)
	var names []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &names))
	assert.Len(t, names, 2)

	rec = do(t, s, http.MethodGet, "/sources/reddit-1/archives/latest")
	require.Equal(t, http.StatusOK, rec.Code)
	var batch storage.Batch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &batch))
	require.Len(t, batch.Mentions, 1)
	assert.Equal(t, "new", batch.Mentions[0].ExternalID)
}

func TestServer_Digest(t *testing.T) {
	s, st := setupServer(t, false)

	rec := do(t, s, http.MethodGet, "/brands/b/digest")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
	rec = do(t, s, http.MethodPost, "/digests/run")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)

	st.PutBrand(models.Brand{ID: "b", OrganizationID: "org", Name: "Acme"})
	require.NoError(t, st.CreateMention(context.Background(), &models.Mention{
		ID: "m1", BrandID: "b", ExternalID: "1", Platform: models.PlatformReddit,
		Sentiment: models.SentimentPositive, SentimentScore: 0.5, CreatedAt: time.Now().Add(-time.Hour),
	}))
	svc, err := digest.NewService(st, nil, digest.Options{Schedule: digest.Daily, Logger: s.logger})
	require.NoError(t, err)
	s.digest = svc

	rec = do(t, s, http.MethodGet, "/brands/b/digest")
	require.Equal(t, http.StatusOK, rec.Code)
	var report digest.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 1, report.TotalMentions)
	assert.Equal(t, "daily", report.Period)

	rec = do(t, s, http.MethodGet, "/brands/missing/digest")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, http.MethodPost, "/digests/run")
	assert.Equal(t, http.StatusAccepted, rec.Code)
}
