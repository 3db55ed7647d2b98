package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/azure/brand-mentions-pipeline/internal/models"
)

// Memory is an in-process Store used by tests and local development
type Memory struct {
	mu       sync.RWMutex
	brands   map[string]models.Brand
	sources  map[string]models.Source
	mentions map[string]models.Mention
	byKey    map[string]string
	alerts   map[string]models.Alert
	triggers []models.AlertTrigger
	members  map[string][]models.Recipient
}

// Ensure Memory implements Store
var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		brands:   make(map[string]models.Brand),
		sources:  make(map[string]models.Source),
		mentions: make(map[string]models.Mention),
		byKey:    make(map[string]string),
		alerts:   make(map[string]models.Alert),
		members:  make(map[string][]models.Recipient),
	}
}

func mentionKey(externalID string, platform models.Platform) string {
	return string(platform) + "\x00" + externalID
}

// PutBrand inserts or replaces a brand
func (m *Memory) PutBrand(b models.Brand) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.brands[b.ID] = b
}

// PutSource inserts or replaces a source
func (m *Memory) PutSource(s models.Source) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[s.ID] = s
}

// PutAlert inserts or replaces an alert rule
func (m *Memory) PutAlert(a models.Alert) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts[a.ID] = a
}

// AddMember registers a user as a member of an organization
func (m *Memory) AddMember(organizationID, userID, email string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[organizationID] = append(m.members[organizationID], models.Recipient{UserID: userID, Email: email})
}

// Triggers returns a copy of every recorded alert trigger
func (m *Memory) Triggers() []models.AlertTrigger {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.AlertTrigger, len(m.triggers))
	copy(out, m.triggers)
	return out
}

// MentionCount returns the number of stored mentions
func (m *Memory) MentionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.mentions)
}

// Alert returns the stored alert rule
func (m *Memory) Alert(id string) (models.Alert, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.alerts[id]
	return a, ok
}

func (m *Memory) GetSource(_ context.Context, id string) (*models.Source, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sources[id]
	if !ok {
		return nil, fmt.Errorf("source %s: %w", id, ErrNotFound)
	}
	return copySource(s), nil
}

func (m *Memory) ListActiveSources(_ context.Context) ([]models.Source, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Source
	for _, s := range m.sources {
		if s.Active {
			out = append(out, *copySource(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) MarkScheduled(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sources[id]
	if !ok {
		return fmt.Errorf("source %s: %w", id, ErrNotFound)
	}
	advance(&s, at)
	m.sources[id] = s
	return nil
}

func (m *Memory) RecordSuccess(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sources[id]
	if !ok {
		return fmt.Errorf("source %s: %w", id, ErrNotFound)
	}
	advance(&s, at)
	s.ErrorCount = 0
	s.LastError = ""
	m.sources[id] = s
	return nil
}

func (m *Memory) RecordFailure(_ context.Context, id string, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sources[id]
	if !ok {
		return fmt.Errorf("source %s: %w", id, ErrNotFound)
	}
	s.ErrorCount++
	s.LastError = message
	m.sources[id] = s
	return nil
}

func (m *Memory) Deactivate(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sources[id]
	if !ok {
		return fmt.Errorf("source %s: %w", id, ErrNotFound)
	}
	s.Active = false
	m.sources[id] = s
	return nil
}

func (m *Memory) GetBrand(_ context.Context, id string) (*models.Brand, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.brands[id]
	if !ok {
		return nil, fmt.Errorf("brand %s: %w", id, ErrNotFound)
	}
	b.Keywords = append([]string(nil), b.Keywords...)
	return &b, nil
}

func (m *Memory) ListBrands(_ context.Context) ([]models.Brand, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Brand, 0, len(m.brands))
	for _, b := range m.brands {
		b.Keywords = append([]string(nil), b.Keywords...)
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) FindMention(_ context.Context, externalID string, platform models.Platform) (*models.Mention, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byKey[mentionKey(externalID, platform)]
	if !ok {
		return nil, ErrNotFound
	}
	mention := m.mentions[id]
	return &mention, nil
}

func (m *Memory) CreateMention(_ context.Context, mention *models.Mention) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := mentionKey(mention.ExternalID, mention.Platform)
	if _, exists := m.byKey[key]; exists {
		return ErrDuplicate
	}
	stored := *mention
	stored.Keywords = append([]string(nil), mention.Keywords...)
	m.mentions[mention.ID] = stored
	m.byKey[key] = mention.ID
	return nil
}

func (m *Memory) GetMention(_ context.Context, id string) (*models.Mention, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mention, ok := m.mentions[id]
	if !ok {
		return nil, fmt.Errorf("mention %s: %w", id, ErrNotFound)
	}
	return &mention, nil
}

func (m *Memory) CountMentionsSince(_ context.Context, brandID string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, mention := range m.mentions {
		if mention.BrandID == brandID && !mention.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) CountKeywordMentionsSince(_ context.Context, brandID, keyword string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, mention := range m.mentions {
		if mention.BrandID != brandID || mention.CreatedAt.Before(since) {
			continue
		}
		for _, kw := range mention.Keywords {
			if strings.EqualFold(kw, keyword) {
				n++
				break
			}
		}
	}
	return n, nil
}

func (m *Memory) AverageSentimentSince(_ context.Context, brandID string, since time.Time) (float64, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var sum float64
	n := 0
	for _, mention := range m.mentions {
		if mention.BrandID == brandID && !mention.CreatedAt.Before(since) {
			sum += mention.SentimentScore
			n++
		}
	}
	if n == 0 {
		return 0, 0, nil
	}
	return sum / float64(n), n, nil
}

func (m *Memory) ListMentionsSince(_ context.Context, brandID string, since time.Time) ([]models.Mention, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Mention
	for _, mention := range m.mentions {
		if mention.BrandID == brandID && !mention.CreatedAt.Before(since) {
			mention.Keywords = append([]string(nil), mention.Keywords...)
			out = append(out, mention)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ListActiveAlerts(_ context.Context, brandID string) ([]models.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Alert
	for _, a := range m.alerts {
		if a.BrandID == brandID && a.Active {
			if a.OrganizationID == "" {
				a.OrganizationID = m.brands[brandID].OrganizationID
			}
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) CreateTrigger(_ context.Context, trigger *models.AlertTrigger) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[trigger.AlertID]
	if !ok {
		return fmt.Errorf("alert %s: %w", trigger.AlertID, ErrNotFound)
	}
	at := trigger.CreatedAt
	a.TriggerCount++
	a.LastTriggeredAt = &at
	m.alerts[a.ID] = a
	m.triggers = append(m.triggers, *trigger)
	return nil
}

func (m *Memory) ListRecipients(_ context.Context, organizationID string) ([]models.Recipient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Recipient(nil), m.members[organizationID]...), nil
}

func advance(s *models.Source, at time.Time) {
	if s.LastCollectedAt == nil || at.After(*s.LastCollectedAt) {
		t := at
		s.LastCollectedAt = &t
	}
}

func copySource(s models.Source) *models.Source {
	if s.LastCollectedAt != nil {
		t := *s.LastCollectedAt
		s.LastCollectedAt = &t
	}
	s.Config.Keywords = append([]string(nil), s.Config.Keywords...)
	return &s
}
