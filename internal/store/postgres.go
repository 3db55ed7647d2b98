package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/azure/brand-mentions-pipeline/internal/models"
)

// uniqueViolation is the Postgres SQLSTATE for unique constraint violations
const uniqueViolation = "23505"

// Postgres implements Store on top of PostgreSQL
type Postgres struct {
	db *sqlx.DB
}

// Ensure Postgres implements Store
var _ Store = (*Postgres)(nil)

// NewPostgres wraps an existing connection
func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

// OpenPostgres connects to dsn and verifies the connection
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	return NewPostgres(db), nil
}

// Close closes the underlying pool
func (p *Postgres) Close() error {
	return p.db.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS brands (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		keywords TEXT[] NOT NULL DEFAULT '{}'
	)`,
	`CREATE TABLE IF NOT EXISTS sources (
		id TEXT PRIMARY KEY,
		brand_id TEXT NOT NULL REFERENCES brands(id),
		platform TEXT NOT NULL,
		name TEXT NOT NULL,
		url TEXT NOT NULL DEFAULT '',
		config JSONB NOT NULL DEFAULT '{}',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		frequency_seconds INTEGER NOT NULL DEFAULT 0,
		last_collected_at TIMESTAMPTZ,
		error_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS mentions (
		id TEXT PRIMARY KEY,
		brand_id TEXT NOT NULL REFERENCES brands(id),
		source_id TEXT NOT NULL REFERENCES sources(id),
		external_id TEXT NOT NULL,
		platform TEXT NOT NULL,
		author TEXT NOT NULL,
		author_url TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		url TEXT NOT NULL DEFAULT '',
		published_at TIMESTAMPTZ NOT NULL,
		sentiment TEXT NOT NULL,
		sentiment_score DOUBLE PRECISION NOT NULL DEFAULT 0,
		language TEXT NOT NULL DEFAULT 'unknown',
		keywords TEXT[] NOT NULL DEFAULT '{}',
		engagement_count INTEGER NOT NULL DEFAULT 0,
		reach_score INTEGER NOT NULL DEFAULT 0,
		processed BOOLEAN NOT NULL DEFAULT FALSE,
		analyzed_at TIMESTAMPTZ,
		raw_data JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (external_id, platform)
	)`,
	`CREATE INDEX IF NOT EXISTS mentions_brand_created_idx ON mentions (brand_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		brand_id TEXT NOT NULL REFERENCES brands(id),
		name TEXT NOT NULL,
		condition TEXT NOT NULL,
		threshold DOUBLE PRECISION NOT NULL DEFAULT 0,
		keyword TEXT,
		level TEXT NOT NULL DEFAULT 'MEDIUM',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		trigger_count INTEGER NOT NULL DEFAULT 0,
		last_triggered_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS alert_triggers (
		id TEXT PRIMARY KEY,
		alert_id TEXT NOT NULL REFERENCES alerts(id),
		mention_id TEXT NOT NULL REFERENCES mentions(id),
		value DOUBLE PRECISION NOT NULL DEFAULT 0,
		message TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS organization_members (
		organization_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (organization_id, user_id)
	)`,
}

// EnsureSchema creates the tables the pipeline reads and writes
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	for _, q := range schema {
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("failed to init schema: %w", err)
		}
	}
	return nil
}

const sourceColumns = `id, brand_id, platform, name, url, config, active, frequency_seconds,
	last_collected_at, error_count, COALESCE(last_error, '') AS last_error`

func (p *Postgres) GetSource(ctx context.Context, id string) (*models.Source, error) {
	var src models.Source
	err := p.db.GetContext(ctx, &src, `SELECT `+sourceColumns+` FROM sources WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("source %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load source %s: %w", id, err)
	}
	return &src, nil
}

func (p *Postgres) ListActiveSources(ctx context.Context) ([]models.Source, error) {
	var sources []models.Source
	err := p.db.SelectContext(ctx, &sources, `SELECT `+sourceColumns+` FROM sources WHERE active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active sources: %w", err)
	}
	return sources, nil
}

func (p *Postgres) MarkScheduled(ctx context.Context, id string, at time.Time) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE sources SET last_collected_at = GREATEST(COALESCE(last_collected_at, $2), $2) WHERE id = $1`,
		id, at)
	if err != nil {
		return fmt.Errorf("failed to mark source %s scheduled: %w", id, err)
	}
	return nil
}

func (p *Postgres) RecordSuccess(ctx context.Context, id string, at time.Time) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE sources SET error_count = 0, last_error = NULL,
		 last_collected_at = GREATEST(COALESCE(last_collected_at, $2), $2) WHERE id = $1`,
		id, at)
	if err != nil {
		return fmt.Errorf("failed to record success for source %s: %w", id, err)
	}
	return nil
}

func (p *Postgres) RecordFailure(ctx context.Context, id string, message string) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE sources SET error_count = error_count + 1, last_error = $2 WHERE id = $1`,
		id, message)
	if err != nil {
		return fmt.Errorf("failed to record failure for source %s: %w", id, err)
	}
	return nil
}

func (p *Postgres) Deactivate(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, `UPDATE sources SET active = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate source %s: %w", id, err)
	}
	return nil
}

type brandRow struct {
	ID             string         `db:"id"`
	OrganizationID string         `db:"organization_id"`
	Name           string         `db:"name"`
	Keywords       pq.StringArray `db:"keywords"`
}

func (p *Postgres) GetBrand(ctx context.Context, id string) (*models.Brand, error) {
	var row brandRow
	err := p.db.GetContext(ctx, &row,
		`SELECT id, organization_id, name, keywords FROM brands WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("brand %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load brand %s: %w", id, err)
	}
	return &models.Brand{
		ID:             row.ID,
		OrganizationID: row.OrganizationID,
		Name:           row.Name,
		Keywords:       []string(row.Keywords),
	}, nil
}

func (p *Postgres) ListBrands(ctx context.Context) ([]models.Brand, error) {
	var rows []brandRow
	if err := p.db.SelectContext(ctx, &rows,
		`SELECT id, organization_id, name, keywords FROM brands ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to list brands: %w", err)
	}

	brands := make([]models.Brand, 0, len(rows))
	for _, row := range rows {
		brands = append(brands, models.Brand{
			ID:             row.ID,
			OrganizationID: row.OrganizationID,
			Name:           row.Name,
			Keywords:       []string(row.Keywords),
		})
	}
	return brands, nil
}

type mentionRow struct {
	ID              string         `db:"id"`
	BrandID         string         `db:"brand_id"`
	SourceID        string         `db:"source_id"`
	ExternalID      string         `db:"external_id"`
	Platform        string         `db:"platform"`
	Author          string         `db:"author"`
	AuthorURL       string         `db:"author_url"`
	Content         string         `db:"content"`
	URL             string         `db:"url"`
	PublishedAt     time.Time      `db:"published_at"`
	Sentiment       string         `db:"sentiment"`
	SentimentScore  float64        `db:"sentiment_score"`
	Language        string         `db:"language"`
	Keywords        pq.StringArray `db:"keywords"`
	EngagementCount int            `db:"engagement_count"`
	ReachScore      int            `db:"reach_score"`
	Processed       bool           `db:"processed"`
	AnalyzedAt      sql.NullTime   `db:"analyzed_at"`
	RawData         []byte         `db:"raw_data"`
	CreatedAt       time.Time      `db:"created_at"`
}

func (r mentionRow) toModel() *models.Mention {
	m := &models.Mention{
		ID:              r.ID,
		BrandID:         r.BrandID,
		SourceID:        r.SourceID,
		ExternalID:      r.ExternalID,
		Platform:        models.Platform(r.Platform),
		Author:          r.Author,
		AuthorURL:       r.AuthorURL,
		Content:         r.Content,
		URL:             r.URL,
		PublishedAt:     r.PublishedAt,
		Sentiment:       models.Sentiment(r.Sentiment),
		SentimentScore:  r.SentimentScore,
		Language:        r.Language,
		Keywords:        []string(r.Keywords),
		EngagementCount: r.EngagementCount,
		ReachScore:      r.ReachScore,
		Processed:       r.Processed,
		CreatedAt:       r.CreatedAt,
	}
	if r.AnalyzedAt.Valid {
		m.AnalyzedAt = r.AnalyzedAt.Time
	}
	if len(r.RawData) > 0 {
		if err := json.Unmarshal(r.RawData, &m.RawData); err != nil {
			logrus.WithField("mention_id", r.ID).Warnf("Failed to decode raw data: %v", err)
		}
	}
	return m
}

const mentionColumns = `id, brand_id, source_id, external_id, platform, author, author_url, content, url,
	published_at, sentiment, sentiment_score, language, keywords, engagement_count, reach_score,
	processed, analyzed_at, raw_data, created_at`

func (p *Postgres) FindMention(ctx context.Context, externalID string, platform models.Platform) (*models.Mention, error) {
	var row mentionRow
	err := p.db.GetContext(ctx, &row,
		`SELECT `+mentionColumns+` FROM mentions WHERE external_id = $1 AND platform = $2`,
		externalID, string(platform))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up mention %s/%s: %w", platform, externalID, err)
	}
	return row.toModel(), nil
}

func (p *Postgres) GetMention(ctx context.Context, id string) (*models.Mention, error) {
	var row mentionRow
	err := p.db.GetContext(ctx, &row, `SELECT `+mentionColumns+` FROM mentions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("mention %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load mention %s: %w", id, err)
	}
	return row.toModel(), nil
}

func (p *Postgres) CreateMention(ctx context.Context, m *models.Mention) error {
	var rawData []byte
	if m.RawData != nil {
		var err error
		if rawData, err = json.Marshal(m.RawData); err != nil {
			return fmt.Errorf("failed to marshal raw data: %w", err)
		}
	}

	_, err := p.db.ExecContext(ctx,
		`INSERT INTO mentions (`+mentionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		m.ID, m.BrandID, m.SourceID, m.ExternalID, string(m.Platform), m.Author, m.AuthorURL, m.Content, m.URL,
		m.PublishedAt, string(m.Sentiment), m.SentimentScore, m.Language, pq.Array(m.Keywords),
		m.EngagementCount, m.ReachScore, m.Processed, m.AnalyzedAt, rawData, m.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert mention %s/%s: %w", m.Platform, m.ExternalID, err)
	}
	return nil
}

func (p *Postgres) CountMentionsSince(ctx context.Context, brandID string, since time.Time) (int, error) {
	var n int
	err := p.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM mentions WHERE brand_id = $1 AND created_at >= $2`, brandID, since)
	if err != nil {
		return 0, fmt.Errorf("failed to count mentions for brand %s: %w", brandID, err)
	}
	return n, nil
}

func (p *Postgres) CountKeywordMentionsSince(ctx context.Context, brandID, keyword string, since time.Time) (int, error) {
	var n int
	err := p.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM mentions
		 WHERE brand_id = $1 AND created_at >= $3
		 AND EXISTS (SELECT 1 FROM unnest(keywords) k WHERE lower(k) = lower($2))`,
		brandID, keyword, since)
	if err != nil {
		return 0, fmt.Errorf("failed to count keyword mentions for brand %s: %w", brandID, err)
	}
	return n, nil
}

func (p *Postgres) AverageSentimentSince(ctx context.Context, brandID string, since time.Time) (float64, int, error) {
	var row struct {
		Avg   float64 `db:"avg"`
		Count int     `db:"count"`
	}
	err := p.db.GetContext(ctx, &row,
		`SELECT COALESCE(AVG(sentiment_score), 0) AS avg, COUNT(*) AS count
		 FROM mentions WHERE brand_id = $1 AND created_at >= $2`, brandID, since)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to average sentiment for brand %s: %w", brandID, err)
	}
	return row.Avg, row.Count, nil
}

func (p *Postgres) ListMentionsSince(ctx context.Context, brandID string, since time.Time) ([]models.Mention, error) {
	var rows []mentionRow
	err := p.db.SelectContext(ctx, &rows,
		`SELECT `+mentionColumns+` FROM mentions WHERE brand_id = $1 AND created_at >= $2 ORDER BY created_at`,
		brandID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list mentions for brand %s: %w", brandID, err)
	}

	mentions := make([]models.Mention, 0, len(rows))
	for _, row := range rows {
		mentions = append(mentions, *row.toModel())
	}
	return mentions, nil
}

type alertRow struct {
	ID              string       `db:"id"`
	BrandID         string       `db:"brand_id"`
	OrganizationID  string       `db:"organization_id"`
	Name            string       `db:"name"`
	Condition       string       `db:"condition"`
	Threshold       float64      `db:"threshold"`
	Keyword         string       `db:"keyword"`
	Level           string       `db:"level"`
	Active          bool         `db:"active"`
	TriggerCount    int          `db:"trigger_count"`
	LastTriggeredAt sql.NullTime `db:"last_triggered_at"`
}

func (p *Postgres) ListActiveAlerts(ctx context.Context, brandID string) ([]models.Alert, error) {
	var rows []alertRow
	err := p.db.SelectContext(ctx, &rows,
		`SELECT a.id, a.brand_id, b.organization_id, a.name, a.condition, a.threshold,
		 COALESCE(a.keyword, '') AS keyword, a.level, a.active, a.trigger_count, a.last_triggered_at
		 FROM alerts a JOIN brands b ON b.id = a.brand_id
		 WHERE a.brand_id = $1 AND a.active ORDER BY a.id`, brandID)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts for brand %s: %w", brandID, err)
	}

	alerts := make([]models.Alert, 0, len(rows))
	for _, r := range rows {
		a := models.Alert{
			ID:             r.ID,
			BrandID:        r.BrandID,
			OrganizationID: r.OrganizationID,
			Name:           r.Name,
			Condition:      models.AlertCondition(r.Condition),
			Threshold:      r.Threshold,
			Keyword:        r.Keyword,
			Level:          models.AlertLevel(r.Level),
			Active:         r.Active,
			TriggerCount:   r.TriggerCount,
		}
		if r.LastTriggeredAt.Valid {
			t := r.LastTriggeredAt.Time
			a.LastTriggeredAt = &t
		}
		alerts = append(alerts, a)
	}
	return alerts, nil
}

func (p *Postgres) CreateTrigger(ctx context.Context, trigger *models.AlertTrigger) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO alert_triggers (id, alert_id, mention_id, value, message, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		trigger.ID, trigger.AlertID, trigger.MentionID, trigger.Value, trigger.Message, trigger.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert alert trigger: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE alerts SET trigger_count = trigger_count + 1, last_triggered_at = $2 WHERE id = $1`,
		trigger.AlertID, trigger.CreatedAt); err != nil {
		return fmt.Errorf("failed to update alert %s: %w", trigger.AlertID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit alert trigger: %w", err)
	}
	return nil
}

func (p *Postgres) ListRecipients(ctx context.Context, organizationID string) ([]models.Recipient, error) {
	var users []models.Recipient
	err := p.db.SelectContext(ctx, &users,
		`SELECT user_id, email FROM organization_members WHERE organization_id = $1 ORDER BY user_id`, organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members of organization %s: %w", organizationID, err)
	}
	return users, nil
}
