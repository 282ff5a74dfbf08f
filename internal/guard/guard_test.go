package guard

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/riverrun-io/caseflow/model"
)

type fakeResolver struct {
	caps model.CapabilitySet
	err  error
}

func (f *fakeResolver) Resolve(_ *model.ActorContext) (model.CapabilitySet, error) {
	return f.caps, f.err
}

func (f *fakeResolver) Invalidate(_, _ string) {}

func testSnapshot() model.CaseWorkflowState {
	return model.CaseWorkflowState{
		CaseID:       "case-1",
		TenantID:     "acme",
		WorkflowID:   "case-lifecycle",
		CurrentState: "NEW",
		Revision:     0,
		AssignedTo:   "agent-7",
		Fields: map[string]any{
			"priority":   "HIGH",
			"resolution": "done",
		},
	}
}

func testActor() *model.ActorContext {
	return &model.ActorContext{
		SubjectID: "agent-7",
		TenantID:  "acme",
		Roles:     []string{"CASE_WORKER"},
	}
}

func TestEvaluate_no_guards(t *testing.T) {
	e := NewEvaluator(nil)
	out := e.Evaluate(model.Transition{ID: "t1"}, testSnapshot(), testActor())
	if !out.Satisfied {
		t.Error("transition without guards should be satisfied")
	}
	if len(out.Results) != 0 {
		t.Errorf("Results = %d, want 0", len(out.Results))
	}
}

func TestEvaluate_all_guards_reported(t *testing.T) {
	e := NewEvaluator(nil)
	snap := testSnapshot()
	snap.AssignedTo = ""
	tr := model.Transition{
		ID: "t1",
		Guards: []model.GuardDefinition{
			{Type: "has_assignee"},
			{Type: "has_role", Params: map[string]any{"role": "ADMIN"}},
			{Type: "always"},
		},
	}

	out := e.Evaluate(tr, snap, testActor())
	if out.Satisfied {
		t.Error("outcome should not be satisfied")
	}
	// Every guard is evaluated even after the first failure.
	if len(out.Results) != 3 {
		t.Fatalf("Results = %d, want 3", len(out.Results))
	}
	if out.Results[0].Satisfied || out.Results[1].Satisfied {
		t.Error("first two guards should be unsatisfied")
	}
	if !out.Results[2].Satisfied {
		t.Error("always guard should be satisfied")
	}
}

func TestEvaluate_unknown_type_fails_closed(t *testing.T) {
	e := NewEvaluator(nil)
	tr := model.Transition{
		ID:     "t1",
		Guards: []model.GuardDefinition{{Type: "quantum_entanglement"}},
	}

	out := e.Evaluate(tr, testSnapshot(), testActor())
	if out.Satisfied {
		t.Error("unknown guard type must fail closed")
	}
	if len(out.Results) != 1 {
		t.Fatalf("Results = %d, want 1", len(out.Results))
	}
	if !strings.Contains(out.Results[0].Message, model.ErrUnknownGuardType) {
		t.Errorf("Message = %q, want UNKNOWN_GUARD_TYPE marker", out.Results[0].Message)
	}
}

func TestEvaluate_error_message_override(t *testing.T) {
	e := NewEvaluator(nil)
	snap := testSnapshot()
	snap.AssignedTo = ""
	tr := model.Transition{
		ID: "t1",
		Guards: []model.GuardDefinition{
			{Type: "has_assignee", ErrorMessage: "Assign the case first"},
		},
	}

	out := e.Evaluate(tr, snap, testActor())
	if out.Results[0].Message != "Assign the case first" {
		t.Errorf("Message = %q, want configured error message", out.Results[0].Message)
	}
}

func TestEvaluate_custom_guard(t *testing.T) {
	e := NewEvaluator(nil)
	e.Register("is_high_priority", func(snap model.CaseWorkflowState, _ *model.ActorContext, _ map[string]any) (bool, string) {
		if snap.Field("priority") != "HIGH" {
			return false, "priority must be HIGH"
		}
		return true, ""
	})

	tr := model.Transition{ID: "t1", Guards: []model.GuardDefinition{{Type: "is_high_priority"}}}
	out := e.Evaluate(tr, testSnapshot(), testActor())
	if !out.Satisfied {
		t.Errorf("custom guard should pass: %+v", out.Results)
	}
}

func TestGuard_has_assignee(t *testing.T) {
	ok, _ := guardHasAssignee(testSnapshot(), nil, nil)
	if !ok {
		t.Error("assigned case should satisfy has_assignee")
	}

	snap := testSnapshot()
	snap.AssignedTo = ""
	ok, msg := guardHasAssignee(snap, nil, nil)
	if ok {
		t.Error("unassigned case should not satisfy has_assignee")
	}
	if msg == "" {
		t.Error("unsatisfied guard should explain itself")
	}
}

func TestGuard_is_assignee(t *testing.T) {
	ok, _ := guardIsAssignee(testSnapshot(), testActor(), nil)
	if !ok {
		t.Error("assignee should satisfy is_assignee")
	}

	other := testActor()
	other.SubjectID = "agent-9"
	if ok, _ := guardIsAssignee(testSnapshot(), other, nil); ok {
		t.Error("non-assignee should not satisfy is_assignee")
	}
	if ok, _ := guardIsAssignee(testSnapshot(), nil, nil); ok {
		t.Error("nil actor should not satisfy is_assignee")
	}

	unassigned := testSnapshot()
	unassigned.AssignedTo = ""
	if ok, _ := guardIsAssignee(unassigned, testActor(), nil); ok {
		t.Error("unassigned case should not satisfy is_assignee")
	}
}

func TestGuard_has_role(t *testing.T) {
	params := map[string]any{"role": "CASE_WORKER"}
	if ok, _ := guardHasRole(testSnapshot(), testActor(), params); !ok {
		t.Error("actor with role should satisfy has_role")
	}
	if ok, _ := guardHasRole(testSnapshot(), testActor(), map[string]any{"role": "ADMIN"}); ok {
		t.Error("actor without role should not satisfy has_role")
	}
	if ok, _ := guardHasRole(testSnapshot(), testActor(), nil); ok {
		t.Error("has_role without a role parameter should fail")
	}
}

func TestGuard_field_equals(t *testing.T) {
	params := map[string]any{"field": "priority", "value": "HIGH"}
	if ok, _ := guardFieldEquals(testSnapshot(), nil, params); !ok {
		t.Error("matching field should satisfy field_equals")
	}

	params["value"] = "LOW"
	if ok, _ := guardFieldEquals(testSnapshot(), nil, params); ok {
		t.Error("mismatching field should not satisfy field_equals")
	}

	// YAML ints and JSON floats render identically.
	snap := testSnapshot()
	snap.Fields["attempts"] = float64(3)
	numeric := map[string]any{"field": "attempts", "value": 3}
	if ok, _ := guardFieldEquals(snap, nil, numeric); !ok {
		t.Error("numerically equal values should satisfy field_equals")
	}

	if ok, _ := guardFieldEquals(testSnapshot(), nil, map[string]any{"field": "priority"}); ok {
		t.Error("field_equals without a value parameter should fail")
	}
}

func TestGuard_required_fields(t *testing.T) {
	params := map[string]any{"fields": []any{"priority", "resolution"}}
	if ok, _ := guardRequiredFields(testSnapshot(), nil, params); !ok {
		t.Error("present fields should satisfy required_fields")
	}

	params = map[string]any{"fields": []any{"priority", "rootCause"}}
	ok, msg := guardRequiredFields(testSnapshot(), nil, params)
	if ok {
		t.Error("missing field should not satisfy required_fields")
	}
	if !strings.Contains(msg, "rootCause") {
		t.Errorf("message %q should name the missing field", msg)
	}

	empty := testSnapshot()
	empty.Fields["resolution"] = ""
	params = map[string]any{"fields": []any{"resolution"}}
	if ok, _ := guardRequiredFields(empty, nil, params); ok {
		t.Error("empty-string field should count as missing")
	}
}

func TestGuard_before_deadline(t *testing.T) {
	snap := testSnapshot()
	snap.Fields["dueDate"] = time.Now().UTC().Add(24 * time.Hour).Format(time.RFC3339)
	if ok, _ := guardBeforeDeadline(snap, nil, nil); !ok {
		t.Error("future deadline should satisfy before_deadline")
	}

	snap.Fields["dueDate"] = time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)
	if ok, _ := guardBeforeDeadline(snap, nil, nil); ok {
		t.Error("past deadline should not satisfy before_deadline")
	}

	snap.Fields["reviewBy"] = time.Now().UTC().Add(time.Hour)
	if ok, _ := guardBeforeDeadline(snap, nil, map[string]any{"field": "reviewBy"}); !ok {
		t.Error("custom deadline field with time.Time value should work")
	}

	missing := testSnapshot()
	if ok, _ := guardBeforeDeadline(missing, nil, nil); ok {
		t.Error("missing deadline field should fail closed")
	}

	snap.Fields["dueDate"] = "not-a-date"
	if ok, _ := guardBeforeDeadline(snap, nil, nil); ok {
		t.Error("unparseable deadline should fail closed")
	}
}

func TestGuard_capability(t *testing.T) {
	resolver := &fakeResolver{caps: model.CapabilitySet{"cases:transition:execute": true}}
	e := NewEvaluator(resolver)

	tr := model.Transition{
		ID: "t1",
		Guards: []model.GuardDefinition{
			{Type: "capability", Params: map[string]any{"capability": "cases:transition:execute"}},
		},
	}
	if out := e.Evaluate(tr, testSnapshot(), testActor()); !out.Satisfied {
		t.Errorf("granted capability should satisfy guard: %+v", out.Results)
	}

	tr.Guards[0].Params["capability"] = "cases:admin:publish"
	if out := e.Evaluate(tr, testSnapshot(), testActor()); out.Satisfied {
		t.Error("missing capability should not satisfy guard")
	}
}

func TestGuard_capability_resolver_failure(t *testing.T) {
	e := NewEvaluator(&fakeResolver{err: errors.New("policy backend down")})
	tr := model.Transition{
		ID: "t1",
		Guards: []model.GuardDefinition{
			{Type: "capability", Params: map[string]any{"capability": "cases:transition:execute"}},
		},
	}
	if out := e.Evaluate(tr, testSnapshot(), testActor()); out.Satisfied {
		t.Error("resolver failure must fail closed")
	}
}

func TestGuard_capability_nil_resolver(t *testing.T) {
	e := NewEvaluator(nil)
	tr := model.Transition{
		ID: "t1",
		Guards: []model.GuardDefinition{
			{Type: "capability", Params: map[string]any{"capability": "cases:transition:execute"}},
		},
	}
	if out := e.Evaluate(tr, testSnapshot(), testActor()); out.Satisfied {
		t.Error("nil resolver must fail closed")
	}
}
