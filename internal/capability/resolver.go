// Package capability resolves and caches the capability sets that guard
// conditions and the HTTP surface check against. Capabilities come from a
// policy backend (static YAML in this build) and are cached per subject and
// tenant.
package capability

import (
	"sync"
	"time"

	"github.com/riverrun-io/caseflow/model"
)

type cacheEntry struct {
	caps    model.CapabilitySet
	expires time.Time
}

// Resolver implements model.CapabilityResolver with an in-memory TTL cache
// in front of a policy evaluator.
type Resolver struct {
	evaluator model.PolicyEvaluator
	ttl       time.Duration
	mu        sync.RWMutex
	cache     map[string]cacheEntry
}

// NewResolver creates a new Resolver with the given evaluator and cache TTL.
func NewResolver(evaluator model.PolicyEvaluator, ttl time.Duration) *Resolver {
	return &Resolver{
		evaluator: evaluator,
		ttl:       ttl,
		cache:     make(map[string]cacheEntry),
	}
}

func cacheKey(actor *model.ActorContext) string {
	return actor.SubjectID + ":" + actor.TenantID
}

// Resolve returns the full capability set for the acting user. Results are
// cached for the configured TTL.
func (r *Resolver) Resolve(actor *model.ActorContext) (model.CapabilitySet, error) {
	key := cacheKey(actor)

	r.mu.RLock()
	if entry, ok := r.cache[key]; ok && time.Now().Before(entry.expires) {
		r.mu.RUnlock()
		return entry.caps, nil
	}
	r.mu.RUnlock()

	caps, err := r.evaluator.ResolveCapabilities(actor)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[key] = cacheEntry{caps: caps, expires: time.Now().Add(r.ttl)}
	r.mu.Unlock()

	return caps, nil
}

// Invalidate clears cached capabilities for the given subject and tenant.
func (r *Resolver) Invalidate(subjectID, tenantID string) {
	key := subjectID + ":" + tenantID
	r.mu.Lock()
	delete(r.cache, key)
	r.mu.Unlock()
}
