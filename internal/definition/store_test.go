package definition

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/riverrun-io/caseflow/model"
)

func TestStore_publish_and_get(t *testing.T) {
	s := NewStore()
	published, err := s.Publish(validDefinition())
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if published.Version != 1 {
		t.Errorf("Version = %d, want 1 (auto-assigned)", published.Version)
	}
	if !published.Active {
		t.Error("published definition should be active")
	}

	got, ok := s.Get("case-lifecycle")
	if !ok {
		t.Fatal("Get() not found after publish")
	}
	if got.Version != 1 {
		t.Errorf("Get() Version = %d, want 1", got.Version)
	}
}

func TestStore_get_unknown(t *testing.T) {
	s := NewStore()
	if _, ok := s.Get("nope"); ok {
		t.Error("Get() on empty store should return false")
	}
	if _, ok := s.GetVersion("nope", 1); ok {
		t.Error("GetVersion() on empty store should return false")
	}
}

func TestStore_publish_invalid(t *testing.T) {
	s := NewStore()
	def := validDefinition()
	def.InitialState = "MISSING"

	_, err := s.Publish(def)
	if err == nil {
		t.Fatal("Publish() with invalid definition should fail")
	}
	var envelope *model.ErrorEnvelope
	if !errors.As(err, &envelope) {
		t.Fatalf("Publish() error = %T, want *model.ErrorEnvelope", err)
	}
	if envelope.Code != model.ErrInvalidDefinition {
		t.Errorf("Code = %q, want %q", envelope.Code, model.ErrInvalidDefinition)
	}
	if len(envelope.Details) == 0 {
		t.Error("INVALID_DEFINITION should carry details")
	}
}

func TestStore_versioning(t *testing.T) {
	s := NewStore()

	v1, err := s.Publish(validDefinition())
	if err != nil {
		t.Fatalf("Publish() v1 error = %v", err)
	}

	v2def := validDefinition()
	v2def.Description = "revised"
	v2, err := s.Publish(v2def)
	if err != nil {
		t.Fatalf("Publish() v2 error = %v", err)
	}
	if v2.Version != 2 {
		t.Errorf("second publish Version = %d, want 2", v2.Version)
	}

	// Latest wins on Get.
	latest, _ := s.Get("case-lifecycle")
	if latest.Version != 2 {
		t.Errorf("Get() Version = %d, want 2", latest.Version)
	}
	if latest.Description != "revised" {
		t.Errorf("Get() Description = %q, want revised", latest.Description)
	}

	// Older versions stay resolvable for cases bound to them.
	old, ok := s.GetVersion("case-lifecycle", v1.Version)
	if !ok {
		t.Fatal("GetVersion(1) not found after superseding publish")
	}
	if old.Description != "" {
		t.Errorf("GetVersion(1) Description = %q, want original", old.Description)
	}
}

func TestStore_publish_explicit_version_conflict(t *testing.T) {
	s := NewStore()
	def := validDefinition()
	def.Version = 3
	if _, err := s.Publish(def); err != nil {
		t.Fatalf("Publish(v3) error = %v", err)
	}

	stale := validDefinition()
	stale.Version = 3
	_, err := s.Publish(stale)
	if err == nil {
		t.Fatal("Publish() with duplicate explicit version should fail")
	}
	var envelope *model.ErrorEnvelope
	if !errors.As(err, &envelope) || envelope.Code != model.ErrConflict {
		t.Errorf("error = %v, want CONFLICT envelope", err)
	}

	lower := validDefinition()
	lower.Version = 2
	if _, err := s.Publish(lower); err == nil {
		t.Fatal("Publish() with lower explicit version should fail")
	}

	// Auto-assignment continues from the explicit high-water mark.
	next, err := s.Publish(validDefinition())
	if err != nil {
		t.Fatalf("Publish() auto after explicit error = %v", err)
	}
	if next.Version != 4 {
		t.Errorf("auto-assigned Version = %d, want 4", next.Version)
	}
}

func TestStore_published_definitions_immutable(t *testing.T) {
	s := NewStore()
	def := validDefinition()
	if _, err := s.Publish(def); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	got, _ := s.Get("case-lifecycle")
	got.Name = "mutated"
	got.Transitions[0].To = "CLOSED"

	again, _ := s.Get("case-lifecycle")
	if again.Name != "Case Lifecycle" {
		t.Errorf("Name = %q, caller mutation leaked into store", again.Name)
	}
	if again.Transitions[0].To != "IN_PROGRESS" {
		t.Errorf("Transitions[0].To = %q, caller mutation leaked into store", again.Transitions[0].To)
	}
}

func TestStore_all_returns_copies(t *testing.T) {
	s := NewStore()
	if _, err := s.Publish(validDefinition()); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	all := s.All()
	all[0].Transitions[0].To = "CLOSED"
	all[0].States[0].Label = "mutated"

	again, _ := s.Get("case-lifecycle")
	if again.Transitions[0].To != "IN_PROGRESS" {
		t.Errorf("Transitions[0].To = %q, caller mutation leaked into store", again.Transitions[0].To)
	}
	if again.States[0].Label != "New" {
		t.Errorf("States[0].Label = %q, caller mutation leaked into store", again.States[0].Label)
	}
}

func TestStore_all_sorted(t *testing.T) {
	s := NewStore()
	b := validDefinition()
	b.ID = "b-flow"
	a := validDefinition()
	a.ID = "a-flow"
	if _, err := s.Publish(b); err != nil {
		t.Fatalf("Publish(b) error = %v", err)
	}
	if _, err := s.Publish(a); err != nil {
		t.Fatalf("Publish(a) error = %v", err)
	}

	all := s.All()
	if len(all) != 2 {
		t.Fatalf("All() = %d entries, want 2", len(all))
	}
	if all[0].ID != "a-flow" || all[1].ID != "b-flow" {
		t.Errorf("All() order = [%s %s], want [a-flow b-flow]", all[0].ID, all[1].ID)
	}
}

func TestStore_checksum_changes_on_publish(t *testing.T) {
	s := NewStore()
	before := s.Checksum()
	def := validDefinition()
	def.Checksum = "abc123"
	if _, err := s.Publish(def); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if s.Checksum() == before {
		t.Error("Checksum() unchanged after publish")
	}
}

func TestStore_concurrent_reads_during_publish(t *testing.T) {
	s := NewStore()
	if _, err := s.Publish(validDefinition()); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			def := validDefinition()
			def.ID = fmt.Sprintf("flow-%d", n)
			if _, err := s.Publish(def); err != nil {
				t.Errorf("Publish(flow-%d) error = %v", n, err)
			}
		}(i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if _, ok := s.Get("case-lifecycle"); !ok {
					t.Error("Get() lost case-lifecycle during concurrent publish")
					return
				}
			}
		}()
	}
	wg.Wait()
}
