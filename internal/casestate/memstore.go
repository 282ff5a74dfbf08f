package casestate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/riverrun-io/caseflow/model"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	cases map[string]model.CaseWorkflowState // key: case ID
}

// NewMemoryStore creates a new in-memory case state store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cases: make(map[string]model.CaseWorkflowState)}
}

// Create persists a new case state.
func (s *MemoryStore) Create(_ context.Context, state model.CaseWorkflowState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.cases[state.CaseID]; exists {
		return model.NewConflictError(fmt.Sprintf("case %q already exists", state.CaseID))
	}

	s.cases[state.CaseID] = state.Clone()
	return nil
}

// Get retrieves case state by ID, scoped to tenant.
func (s *MemoryStore) Get(_ context.Context, tenantID, caseID string) (model.CaseWorkflowState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, exists := s.cases[caseID]
	if !exists || state.TenantID != tenantID {
		return model.CaseWorkflowState{}, model.NewNotFoundError(fmt.Sprintf("case %q not found", caseID))
	}
	return state.Clone(), nil
}

// Advance performs the conditional write against the stored revision.
func (s *MemoryStore) Advance(_ context.Context, state model.CaseWorkflowState, fromRevision int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.cases[state.CaseID]
	if !exists || existing.TenantID != state.TenantID {
		return model.NewNotFoundError(fmt.Sprintf("case %q not found", state.CaseID))
	}
	if existing.Revision != fromRevision {
		return model.NewConcurrentModificationError(fmt.Sprintf(
			"case %q was modified concurrently (expected revision %d, found %d)",
			state.CaseID, fromRevision, existing.Revision))
	}

	state.UpdatedAt = time.Now().UTC()
	s.cases[state.CaseID] = state.Clone()
	return nil
}

// UpdateFields applies field and assignee changes under the same revision
// check as Advance.
func (s *MemoryStore) UpdateFields(ctx context.Context, state model.CaseWorkflowState, fromRevision int64) error {
	return s.Advance(ctx, state, fromRevision)
}

// Len returns the number of stored cases. For testing.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cases)
}
