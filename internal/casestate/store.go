// Package casestate persists per-case workflow state. The revision-checked
// Advance is the engine's only commit gate: of N concurrent attempts from
// the same revision, exactly one write succeeds.
package casestate

import (
	"context"

	"github.com/riverrun-io/caseflow/model"
)

// Store persists case workflow state.
type Store interface {
	// Create persists a new case state at revision 0. Returns CONFLICT if
	// the case already exists.
	Create(ctx context.Context, state model.CaseWorkflowState) error

	// Get retrieves case state by ID, scoped to a tenant. Returns NOT_FOUND
	// if the case doesn't exist or belongs to a different tenant.
	Get(ctx context.Context, tenantID, caseID string) (model.CaseWorkflowState, error)

	// Advance writes the new state in a single conditional write. The write
	// succeeds only if the stored revision still equals fromRevision;
	// state.Revision must already be fromRevision+1. Returns
	// CONCURRENT_MODIFICATION when another writer got there first.
	Advance(ctx context.Context, state model.CaseWorkflowState, fromRevision int64) error

	// UpdateFields writes post-action field and assignee changes under the
	// same conditional-write rule as Advance. Callers treat a
	// CONCURRENT_MODIFICATION here as best-effort loss, not failure.
	UpdateFields(ctx context.Context, state model.CaseWorkflowState, fromRevision int64) error
}
