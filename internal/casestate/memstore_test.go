package casestate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/riverrun-io/caseflow/model"
)

func seedState() model.CaseWorkflowState {
	now := time.Now().UTC()
	return model.CaseWorkflowState{
		CaseID:          "case-1",
		TenantID:        "acme",
		WorkflowID:      "case-lifecycle",
		WorkflowVersion: 1,
		CurrentState:    "NEW",
		Revision:        0,
		Fields:          map[string]any{"priority": "HIGH"},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func errorCode(t *testing.T, err error) string {
	t.Helper()
	var envelope *model.ErrorEnvelope
	if !errors.As(err, &envelope) {
		t.Fatalf("error = %T (%v), want *model.ErrorEnvelope", err, err)
	}
	return envelope.Code
}

func TestMemoryStore_create_and_get(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.Create(ctx, seedState()); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := s.Get(ctx, "acme", "case-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.CurrentState != "NEW" || got.Revision != 0 {
		t.Errorf("Get() = state %q rev %d, want NEW rev 0", got.CurrentState, got.Revision)
	}
}

func TestMemoryStore_create_duplicate(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.Create(ctx, seedState()); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	err := s.Create(ctx, seedState())
	if err == nil {
		t.Fatal("Create() duplicate should fail")
	}
	if code := errorCode(t, err); code != model.ErrConflict {
		t.Errorf("Code = %q, want CONFLICT", code)
	}
}

func TestMemoryStore_get_tenant_isolation(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.Create(ctx, seedState()); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	_, err := s.Get(ctx, "other-tenant", "case-1")
	if err == nil {
		t.Fatal("Get() across tenants should fail")
	}
	if code := errorCode(t, err); code != model.ErrNotFound {
		t.Errorf("Code = %q, want NOT_FOUND", code)
	}
}

func TestMemoryStore_advance(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.Create(ctx, seedState()); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	next := seedState()
	next.CurrentState = "IN_PROGRESS"
	next.Revision = 1
	if err := s.Advance(ctx, next, 0); err != nil {
		t.Fatalf("Advance() error = %v", err)
	}

	got, _ := s.Get(ctx, "acme", "case-1")
	if got.CurrentState != "IN_PROGRESS" || got.Revision != 1 {
		t.Errorf("after Advance: state %q rev %d, want IN_PROGRESS rev 1", got.CurrentState, got.Revision)
	}
}

func TestMemoryStore_advance_stale_revision(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.Create(ctx, seedState()); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	next := seedState()
	next.CurrentState = "IN_PROGRESS"
	next.Revision = 1
	if err := s.Advance(ctx, next, 0); err != nil {
		t.Fatalf("Advance() error = %v", err)
	}

	// A second writer still holding revision 0 must lose.
	stale := seedState()
	stale.CurrentState = "CANCELLED"
	stale.Revision = 1
	err := s.Advance(ctx, stale, 0)
	if err == nil {
		t.Fatal("stale Advance() should fail")
	}
	if code := errorCode(t, err); code != model.ErrConcurrentModification {
		t.Errorf("Code = %q, want CONCURRENT_MODIFICATION", code)
	}

	got, _ := s.Get(ctx, "acme", "case-1")
	if got.CurrentState != "IN_PROGRESS" {
		t.Errorf("state = %q, stale write must not apply", got.CurrentState)
	}
}

func TestMemoryStore_advance_unknown_case(t *testing.T) {
	s := NewMemoryStore()
	err := s.Advance(context.Background(), seedState(), 0)
	if err == nil {
		t.Fatal("Advance() on missing case should fail")
	}
	if code := errorCode(t, err); code != model.ErrNotFound {
		t.Errorf("Code = %q, want NOT_FOUND", code)
	}
}

func TestMemoryStore_at_most_one_concurrent_advance(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.Create(ctx, seedState()); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	start := make(chan struct{})

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			<-start
			next := seedState()
			next.CurrentState = "IN_PROGRESS"
			next.Revision = 1
			errs[n] = s.Advance(ctx, next, 0)
		}(i)
	}
	close(start)
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		if code := errorCode(t, err); code != model.ErrConcurrentModification {
			t.Errorf("loser Code = %q, want CONCURRENT_MODIFICATION", code)
		}
	}
	if succeeded != 1 {
		t.Errorf("%d writers succeeded from revision 0, want exactly 1", succeeded)
	}
}

func TestMemoryStore_update_fields(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.Create(ctx, seedState()); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	next := seedState()
	next.Revision = 1
	next.Fields["resolvedBy"] = "agent-7"
	next.AssignedTo = "agent-7"
	if err := s.UpdateFields(ctx, next, 0); err != nil {
		t.Fatalf("UpdateFields() error = %v", err)
	}

	got, _ := s.Get(ctx, "acme", "case-1")
	if got.Fields["resolvedBy"] != "agent-7" || got.AssignedTo != "agent-7" {
		t.Errorf("UpdateFields not applied: %+v", got)
	}
}

func TestMemoryStore_get_returns_copy(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.Create(ctx, seedState()); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, _ := s.Get(ctx, "acme", "case-1")
	got.Fields["priority"] = "LOW"

	again, _ := s.Get(ctx, "acme", "case-1")
	if again.Fields["priority"] != "HIGH" {
		t.Error("caller mutation leaked into store")
	}
}
