package guard

import (
	"fmt"
	"time"

	"github.com/riverrun-io/caseflow/model"
)

// registerBuiltins installs the standard guard vocabulary.
func registerBuiltins(e *Evaluator, resolver model.CapabilityResolver) {
	e.Register("always", guardAlways)
	e.Register("has_assignee", guardHasAssignee)
	e.Register("is_assignee", guardIsAssignee)
	e.Register("has_role", guardHasRole)
	e.Register("field_equals", guardFieldEquals)
	e.Register("required_fields", guardRequiredFields)
	e.Register("before_deadline", guardBeforeDeadline)
	e.Register("capability", guardCapability(resolver))
}

func guardAlways(_ model.CaseWorkflowState, _ *model.ActorContext, _ map[string]any) (bool, string) {
	return true, ""
}

func guardHasAssignee(snap model.CaseWorkflowState, _ *model.ActorContext, _ map[string]any) (bool, string) {
	if snap.AssignedTo == "" {
		return false, "case has no assignee"
	}
	return true, ""
}

func guardIsAssignee(snap model.CaseWorkflowState, actor *model.ActorContext, _ map[string]any) (bool, string) {
	if actor == nil || snap.AssignedTo == "" || snap.AssignedTo != actor.SubjectID {
		return false, "case is not assigned to the acting user"
	}
	return true, ""
}

func guardHasRole(_ model.CaseWorkflowState, actor *model.ActorContext, params map[string]any) (bool, string) {
	role := stringParam(params, "role")
	if role == "" {
		return false, "guard has_role requires a role parameter"
	}
	if actor == nil || !actor.HasRole(role) {
		return false, fmt.Sprintf("role %q is required", role)
	}
	return true, ""
}

func guardFieldEquals(snap model.CaseWorkflowState, _ *model.ActorContext, params map[string]any) (bool, string) {
	field := stringParam(params, "field")
	if field == "" {
		return false, "guard field_equals requires a field parameter"
	}
	expected, ok := params["value"]
	if !ok {
		return false, "guard field_equals requires a value parameter"
	}
	actual := snap.Field(field)
	// YAML and JSON disagree on numeric types, so compare rendered values.
	if fmt.Sprint(actual) != fmt.Sprint(expected) {
		return false, fmt.Sprintf("field %q is %v, expected %v", field, actual, expected)
	}
	return true, ""
}

func guardRequiredFields(snap model.CaseWorkflowState, _ *model.ActorContext, params map[string]any) (bool, string) {
	fields := stringSliceParam(params, "fields")
	if len(fields) == 0 {
		return false, "guard required_fields requires a fields parameter"
	}
	var missing []string
	for _, f := range fields {
		v := snap.Field(f)
		if v == nil || fmt.Sprint(v) == "" {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return false, fmt.Sprintf("required fields missing: %v", missing)
	}
	return true, ""
}

func guardBeforeDeadline(snap model.CaseWorkflowState, _ *model.ActorContext, params map[string]any) (bool, string) {
	field := stringParam(params, "field")
	if field == "" {
		field = "dueDate"
	}
	raw := snap.Field(field)
	if raw == nil {
		return false, fmt.Sprintf("field %q holds no deadline", field)
	}
	deadline, err := parseDeadline(raw)
	if err != nil {
		return false, fmt.Sprintf("field %q is not a valid deadline: %v", field, err)
	}
	if !time.Now().UTC().Before(deadline) {
		return false, fmt.Sprintf("deadline %s has passed", deadline.Format(time.RFC3339))
	}
	return true, ""
}

// guardCapability checks the actor's resolved capability set. With no
// resolver wired it fails closed.
func guardCapability(resolver model.CapabilityResolver) Func {
	return func(_ model.CaseWorkflowState, actor *model.ActorContext, params map[string]any) (bool, string) {
		want := stringParam(params, "capability")
		if want == "" {
			return false, "guard capability requires a capability parameter"
		}
		if resolver == nil || actor == nil {
			return false, fmt.Sprintf("capability %q could not be resolved", want)
		}
		caps, err := resolver.Resolve(actor)
		if err != nil {
			return false, fmt.Sprintf("capability %q could not be resolved", want)
		}
		if !caps.Has(want) {
			return false, fmt.Sprintf("capability %q is required", want)
		}
		return true, ""
	}
}

func parseDeadline(raw any) (time.Time, error) {
	switch v := raw.(type) {
	case time.Time:
		return v, nil
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t, nil
		}
		return time.Parse("2006-01-02", v)
	default:
		return time.Time{}, fmt.Errorf("unsupported type %T", raw)
	}
}

func stringParam(params map[string]any, key string) string {
	if params == nil {
		return ""
	}
	s, _ := params[key].(string)
	return s
}

func stringSliceParam(params map[string]any, key string) []string {
	if params == nil {
		return nil
	}
	switch v := params[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
