package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/azure/brand-mentions-pipeline/internal/digest"
	"github.com/azure/brand-mentions-pipeline/internal/models"
	"github.com/azure/brand-mentions-pipeline/internal/queue"
	"github.com/azure/brand-mentions-pipeline/internal/sources"
	"github.com/azure/brand-mentions-pipeline/internal/storage"
	"github.com/azure/brand-mentions-pipeline/internal/store"
)

// server exposes health, metrics and operator endpoints
type server struct {
	registry *sources.Registry
	sources  store.SourceRepository
	scrape   *queue.Queue
	queues   []*queue.Queue
	// archiver is nil when no storage account is configured
	archiver *storage.Archiver
	// digest is nil when DIGEST_SCHEDULE is off
	digest *digest.Service
	logger logrus.FieldLogger
}

func (s *server) routes() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/collectors", s.handleCollectors).Methods(http.MethodGet)
	router.HandleFunc("/queues", s.handleQueues).Methods(http.MethodGet)
	router.HandleFunc("/queues/{name}/failed", s.handleFailedJobs).Methods(http.MethodGet)
	router.HandleFunc("/sources/{id}/scrape", s.handleScrape).Methods(http.MethodPost)
	router.HandleFunc("/sources/{id}/archives", s.handleArchives).Methods(http.MethodGet)
	router.HandleFunc("/sources/{id}/archives/latest", s.handleLatestArchive).Methods(http.MethodGet)
	router.HandleFunc("/brands/{id}/digest", s.handleDigestPreview).Methods(http.MethodGet)
	router.HandleFunc("/digests/run", s.handleDigestRun).Methods(http.MethodPost)

	return router
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *server) handleCollectors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Report())
}

func (s *server) handleQueues(w http.ResponseWriter, r *http.Request) {
	stats := make(map[string]queue.Stats, len(s.queues))
	for _, q := range s.queues {
		st, err := q.Stats(r.Context())
		if err != nil {
			s.logger.WithError(err).Error("Failed to read queue stats")
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
		stats[q.Name()] = st
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *server) handleFailedJobs(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	var target *queue.Queue
	for _, q := range s.queues {
		if q.Name() == name {
			target = q
		}
	}
	if target == nil {
		writeError(w, http.StatusNotFound, errors.New("unknown queue "+name))
		return
	}

	limit := int64(50)
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = n
	}

	jobs, err := target.Failed(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

// handleScrape enqueues a collection for one source. Policy problems are reported
// here instead of surfacing later as failed jobs.
func (s *server) handleScrape(w http.ResponseWriter, r *http.Request) {
	source, ok := s.loadSource(w, r)
	if !ok {
		return
	}

	if _, err := s.registry.Get(source.Platform); err != nil {
		if sources.IsPolicyError(err) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	force := r.URL.Query().Get("force") == "true"
	jobID, err := s.scrape.Enqueue(r.Context(), models.ScrapeJob{SourceID: source.ID, Force: force})
	if err != nil {
		s.logger.WithError(err).WithField("source_id", source.ID).Error("Failed to enqueue manual scrape")
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}

	s.logger.WithFields(logrus.Fields{"source_id": source.ID, "job_id": jobID, "force": force}).Info("Manual scrape enqueued")
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id":    jobID,
		"source_id": source.ID,
		"force":     force,
	})
}

func (s *server) handleArchives(w http.ResponseWriter, r *http.Request) {
	source, ok := s.archivedSource(w, r)
	if !ok {
		return
	}
	names, err := s.archiver.ListBatches(r.Context(), source.Platform, source.ID)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

func (s *server) handleLatestArchive(w http.ResponseWriter, r *http.Request) {
	source, ok := s.archivedSource(w, r)
	if !ok {
		return
	}
	names, err := s.archiver.ListBatches(r.Context(), source.Platform, source.ID)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	if len(names) == 0 {
		writeError(w, http.StatusNotFound, errors.New("no archived batches for source "+source.ID))
		return
	}
	batch, err := s.archiver.LoadBatch(r.Context(), names[0])
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

func (s *server) handleDigestPreview(w http.ResponseWriter, r *http.Request) {
	if s.digest == nil {
		writeError(w, http.StatusNotImplemented, errors.New("digests are disabled"))
		return
	}

	report, err := s.digest.Build(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleDigestRun sends the digests now. The run outlives the request.
func (s *server) handleDigestRun(w http.ResponseWriter, r *http.Request) {
	if s.digest == nil {
		writeError(w, http.StatusNotImplemented, errors.New("digests are disabled"))
		return
	}

	go func() {
		if _, err := s.digest.Run(context.Background()); err != nil {
			s.logger.WithError(err).Error("Manual digest run failed")
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"message": "Digest run triggered"})
}

func (s *server) archivedSource(w http.ResponseWriter, r *http.Request) (*models.Source, bool) {
	if s.archiver == nil {
		writeError(w, http.StatusNotImplemented, errors.New("batch archive is not configured"))
		return nil, false
	}
	return s.loadSource(w, r)
}

func (s *server) loadSource(w http.ResponseWriter, r *http.Request) (*models.Source, bool) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	source, err := s.sources.GetSource(ctx, mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return nil, false
		}
		writeError(w, http.StatusInternalServerError, err)
		return nil, false
	}
	return source, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Warn("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
