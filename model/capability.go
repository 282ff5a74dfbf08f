package model

import "strings"

// CapabilitySet is a set of capabilities granted to an actor. Each key is a
// capability string (e.g. "cases:transition:execute") and may include
// wildcards (e.g. "cases:*").
type CapabilitySet map[string]bool

// Has returns true if the set contains the exact capability or a wildcard
// that matches it.
func (cs CapabilitySet) Has(cap string) bool {
	if cs[cap] {
		return true
	}
	for pattern := range cs {
		if matchWildcard(pattern, cap) {
			return true
		}
	}
	return false
}

// HasAll returns true if the set matches all given capabilities (including
// via wildcards).
func (cs CapabilitySet) HasAll(caps ...string) bool {
	for _, cap := range caps {
		if !cs.Has(cap) {
			return false
		}
	}
	return true
}

// HasAny returns true if the set matches at least one of the given
// capabilities (including via wildcards).
func (cs CapabilitySet) HasAny(caps ...string) bool {
	for _, cap := range caps {
		if cs.Has(cap) {
			return true
		}
	}
	return false
}

// matchWildcard returns true if pattern (which may end in "*") matches cap.
// Examples:
//
//	"*"                matches anything
//	"cases:*"          matches "cases:transition:execute"
//	"cases:history"    does NOT match "cases:history:view" (exact only)
func matchWildcard(pattern, cap string) bool {
	if pattern == "*" {
		return true
	}
	if !strings.HasSuffix(pattern, ":*") {
		return false
	}
	prefix := pattern[:len(pattern)-1]
	return strings.HasPrefix(cap, prefix)
}

// CapabilityResolver resolves the full capability set for an actor context.
type CapabilityResolver interface {
	// Resolve returns all capabilities for the given subject/tenant.
	Resolve(actor *ActorContext) (CapabilitySet, error)

	// Invalidate clears cached capabilities for the given subject and tenant.
	Invalidate(subjectID, tenantID string)
}

// PolicyEvaluator is the backend implementation that resolves capabilities
// from roles and tenant configuration.
type PolicyEvaluator interface {
	// ResolveCapabilities returns the full capability set for the given context.
	ResolveCapabilities(actor *ActorContext) (CapabilitySet, error)

	// Sync refreshes policy data from its source.
	Sync() error
}
