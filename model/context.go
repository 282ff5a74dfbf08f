package model

import (
	"context"
	"errors"
	"fmt"
)

// ActorContext carries the identity, tenancy, and tracing information of the
// authenticated actor for the lifetime of a request. It is immutable after
// construction and safe for concurrent reads.
type ActorContext struct {
	SubjectID     string
	Email         string
	TenantID      string
	Roles         []string
	Claims        map[string]any
	CorrelationID string
	TraceID       string
	Locale        string
}

// Validate checks that all mandatory fields are present.
// SubjectID and TenantID must be non-empty.
func (ac *ActorContext) Validate() error {
	var errs []error
	if ac.SubjectID == "" {
		errs = append(errs, fmt.Errorf("SubjectID is required"))
	}
	if ac.TenantID == "" {
		errs = append(errs, fmt.Errorf("TenantID is required"))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// HasRole returns true if the ActorContext contains the given role.
func (ac *ActorContext) HasRole(role string) bool {
	for _, r := range ac.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Claim returns the value of the given claim key, or nil if not present.
func (ac *ActorContext) Claim(key string) any {
	if ac.Claims == nil {
		return nil
	}
	return ac.Claims[key]
}

type contextKey struct{}

// WithActorContext attaches an ActorContext to the given context.
func WithActorContext(ctx context.Context, actor *ActorContext) context.Context {
	return context.WithValue(ctx, contextKey{}, actor)
}

// ActorContextFrom extracts the ActorContext from the context, or returns nil
// if not present.
func ActorContextFrom(ctx context.Context) *ActorContext {
	actor, _ := ctx.Value(contextKey{}).(*ActorContext)
	return actor
}

// MustActorContext extracts the ActorContext from the context, panicking if
// it is not present. This is safe to call in handlers that are guaranteed to
// run behind the authentication middleware.
func MustActorContext(ctx context.Context) *ActorContext {
	actor := ActorContextFrom(ctx)
	if actor == nil {
		panic("model: ActorContext not found in context")
	}
	return actor
}
