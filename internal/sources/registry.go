package sources

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/azure/brand-mentions-pipeline/internal/models"
)

// Factory builds a collector. It is called once, on first resolution.
type Factory func() (Collector, error)

// Registry maps platforms to collectors, gated by the enablement policy
type Registry struct {
	policy    Policy
	logger    logrus.FieldLogger
	mu        sync.Mutex
	factories map[models.Platform]Factory
	resolved  map[models.Platform]Collector
}

// RegistryEntry is one row of the operational report
type RegistryEntry struct {
	PolicyEntry
	Registered bool `json:"registered"`
}

var _ Collector = (*pacedCollector)(nil)

// NewRegistry creates an empty registry governed by policy
func NewRegistry(policy Policy, logger logrus.FieldLogger) *Registry {
	if policy == nil {
		policy = DefaultPolicy()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Registry{
		policy:    policy,
		logger:    logger,
		factories: make(map[models.Platform]Factory),
		resolved:  make(map[models.Platform]Collector),
	}
}

// Register binds a factory to an enabled platform. Disabled platforms are
// skipped so that they can never be resolved later.
func (r *Registry) Register(platform models.Platform, factory Factory) error {
	entry, ok := r.policy[platform]
	if !ok {
		return fmt.Errorf("register %s: %w", platform, ErrUnknownPlatform)
	}
	if !entry.Enabled {
		r.logger.WithField("platform", platform).Infof("Skipping disabled collector: %s", entry.Reason)
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[platform] = factory
	delete(r.resolved, platform)
	return nil
}

// Get resolves the collector for platform
func (r *Registry) Get(platform models.Platform) (Collector, error) {
	entry, ok := r.policy[platform]
	if !ok {
		return nil, fmt.Errorf("collector %s: %w", platform, ErrUnknownPlatform)
	}
	if !entry.Enabled {
		return nil, &DisabledError{Platform: platform, Reason: entry.Reason, Alternative: entry.Alternative}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.resolved[platform]; ok {
		return c, nil
	}
	factory, ok := r.factories[platform]
	if !ok {
		return nil, fmt.Errorf("collector %s: %w", platform, ErrNotRegistered)
	}

	c, err := factory()
	if err != nil {
		return nil, err
	}

	var limiter *rate.Limiter
	if entry.RateLimit != nil {
		limiter = entry.RateLimit.Limiter()
	}
	paced := &pacedCollector{Collector: c, limiter: limiter}
	r.resolved[platform] = paced
	return paced, nil
}

// IsEnabled reports whether the policy allows platform
func (r *Registry) IsEnabled(platform models.Platform) bool {
	return r.policy[platform].Enabled
}

// Entry returns the policy row for platform
func (r *Registry) Entry(platform models.Platform) (PolicyEntry, bool) {
	e, ok := r.policy[platform]
	return e, ok
}

// Platforms lists every platform with a bound factory
func (r *Registry) Platforms() []models.Platform {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []models.Platform
	for _, e := range r.policy.Entries() {
		if _, ok := r.factories[e.Platform]; ok {
			out = append(out, e.Platform)
		}
	}
	return out
}

// Report returns the enablement table annotated with registration state
func (r *Registry) Report() []RegistryEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.policy.Entries()
	out := make([]RegistryEntry, 0, len(entries))
	for _, e := range entries {
		_, ok := r.factories[e.Platform]
		out = append(out, RegistryEntry{PolicyEntry: e, Registered: ok})
	}
	return out
}

// pacedCollector waits on the platform quota before each collection
type pacedCollector struct {
	Collector
	limiter *rate.Limiter
}

func (p *pacedCollector) Collect(ctx context.Context, source *models.Source, keywords []string) ([]models.RawMention, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	return p.Collector.Collect(ctx, source, keywords)
}
