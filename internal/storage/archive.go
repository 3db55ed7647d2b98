package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/azure/brand-mentions-pipeline/internal/models"
)

// timestampLayout sorts lexically in time order
const timestampLayout = "20060102T150405.000Z"

// Batch is one archived collection run
type Batch struct {
	SourceID    string              `json:"source_id"`
	BrandID     string              `json:"brand_id"`
	Platform    models.Platform     `json:"platform"`
	Keywords    []string            `json:"keywords"`
	CollectedAt time.Time           `json:"collected_at"`
	Count       int                 `json:"count"`
	Mentions    []models.RawMention `json:"mentions"`
}

// Archiver writes raw collection batches as JSON under <platform>/<source_id>/<timestamp>.json
type Archiver struct {
	storage StorageInterface
	logger  logrus.FieldLogger
}

func NewArchiver(storage StorageInterface, logger logrus.FieldLogger) *Archiver {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Archiver{storage: storage, logger: logger}
}

// BatchName returns the blob name for a batch collected at at
func BatchName(platform models.Platform, sourceID string, at time.Time) string {
	return fmt.Sprintf("%s/%s/%s.json", strings.ToLower(string(platform)), sourceID, at.UTC().Format(timestampLayout))
}

// Archive stores the raw mentions collected for source and returns the blob name
func (a *Archiver) Archive(ctx context.Context, source *models.Source, keywords []string, mentions []models.RawMention, at time.Time) (string, error) {
	batch := Batch{
		SourceID:    source.ID,
		BrandID:     source.BrandID,
		Platform:    source.Platform,
		Keywords:    keywords,
		CollectedAt: at.UTC(),
		Count:       len(mentions),
		Mentions:    mentions,
	}

	data, err := json.MarshalIndent(batch, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal batch: %w", err)
	}

	name := BatchName(source.Platform, source.ID, at)
	if err := a.storage.Store(ctx, name, data); err != nil {
		return "", err
	}

	a.logger.WithFields(logrus.Fields{
		"source_id": source.ID,
		"blob":      name,
		"count":     len(mentions),
	}).Info("Archived collection batch")
	return name, nil
}

// ListBatches returns the archived batch names for a source, newest first
func (a *Archiver) ListBatches(ctx context.Context, platform models.Platform, sourceID string) ([]string, error) {
	prefix := fmt.Sprintf("%s/%s/", strings.ToLower(string(platform)), sourceID)
	names, err := a.storage.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

// LoadBatch reads an archived batch back
func (a *Archiver) LoadBatch(ctx context.Context, name string) (*Batch, error) {
	data, err := a.storage.Retrieve(ctx, name)
	if err != nil {
		return nil, err
	}
	var batch Batch
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("failed to decode batch %s: %w", name, err)
	}
	return &batch, nil
}
