package definition

import (
	"fmt"

	"github.com/riverrun-io/caseflow/model"
)

// VError describes a single validation error in a definition.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validator validates the structural invariants of a workflow definition
// graph. Structural violations are errors; reachability problems are
// warnings only.
type Validator struct{}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks the definition's structural invariants and returns all
// violations found.
func (v *Validator) Validate(def model.WorkflowDefinition) []VError {
	var errs []VError

	if def.ID == "" {
		errs = append(errs, VError{Path: "id", Code: "REQUIRED", Message: "id is required"})
	}
	if def.Name == "" {
		errs = append(errs, VError{Path: "name", Code: "REQUIRED", Message: "name is required"})
	}
	if def.Version < 0 {
		errs = append(errs, VError{Path: "version", Code: "RANGE", Message: "version must not be negative"})
	}
	if len(def.States) == 0 {
		errs = append(errs, VError{Path: "states", Code: "REQUIRED", Message: "at least one state is required"})
	}
	if def.InitialState == "" {
		errs = append(errs, VError{Path: "initial_state", Code: "REQUIRED", Message: "initial_state is required"})
	}
	if len(def.FinalStates) == 0 {
		errs = append(errs, VError{Path: "final_states", Code: "REQUIRED", Message: "at least one final state is required"})
	}

	stateIDs := make(map[string]bool, len(def.States))
	startCount := 0
	for i, s := range def.States {
		sp := fmt.Sprintf("states[%d]", i)
		if s.ID == "" {
			errs = append(errs, VError{Path: sp + ".id", Code: "REQUIRED", Message: "state id is required"})
			continue
		}
		if stateIDs[s.ID] {
			errs = append(errs, VError{Path: sp + ".id", Code: "DUPLICATE", Message: fmt.Sprintf("duplicate state id %q", s.ID)})
		}
		stateIDs[s.ID] = true

		switch s.Kind {
		case model.StateKindStart:
			startCount++
		case model.StateKindIntermediate, model.StateKindEnd, "":
		default:
			errs = append(errs, VError{Path: sp + ".kind", Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid state kind %q", s.Kind)})
		}
	}

	// Exactly one state must be marked start.
	if startCount == 0 && len(def.States) > 0 {
		errs = append(errs, VError{Path: "states", Code: "ZERO_START", Message: "exactly one state must be marked start"})
	}
	if startCount > 1 {
		errs = append(errs, VError{Path: "states", Code: "MULTIPLE_START", Message: "at most one state may be marked start"})
	}

	if def.InitialState != "" && !stateIDs[def.InitialState] {
		errs = append(errs, VError{
			Path: "initial_state", Code: "REF_NOT_FOUND",
			Message: fmt.Sprintf("initial_state %q not found in states", def.InitialState),
		})
	} else if s := def.StateByID(def.InitialState); s != nil && s.Kind != model.StateKindStart {
		errs = append(errs, VError{
			Path: "initial_state", Code: "INITIAL_NOT_START",
			Message: fmt.Sprintf("initial_state %q must be the state marked start", def.InitialState),
		})
	}
	for i, f := range def.FinalStates {
		if !stateIDs[f] {
			errs = append(errs, VError{
				Path: fmt.Sprintf("final_states[%d]", i), Code: "REF_NOT_FOUND",
				Message: fmt.Sprintf("final state %q not found in states", f),
			})
		}
	}

	finals := make(map[string]bool, len(def.FinalStates))
	for _, f := range def.FinalStates {
		finals[f] = true
	}
	// A state marked end must appear in final_states, and vice versa.
	for i, s := range def.States {
		if s.Kind == model.StateKindEnd && !finals[s.ID] {
			errs = append(errs, VError{
				Path: fmt.Sprintf("states[%d]", i), Code: "FINAL_MISMATCH",
				Message: fmt.Sprintf("state %q is kind end but not listed in final_states", s.ID),
			})
		}
	}

	transitionIDs := make(map[string]bool, len(def.Transitions))
	for i, tr := range def.Transitions {
		tp := fmt.Sprintf("transitions[%d]", i)
		if tr.ID == "" {
			errs = append(errs, VError{Path: tp + ".id", Code: "REQUIRED", Message: "transition id is required"})
		} else {
			if transitionIDs[tr.ID] {
				errs = append(errs, VError{Path: tp + ".id", Code: "DUPLICATE", Message: fmt.Sprintf("duplicate transition id %q", tr.ID)})
			}
			transitionIDs[tr.ID] = true
		}
		if tr.From == "" {
			errs = append(errs, VError{Path: tp + ".from", Code: "REQUIRED", Message: "transition from is required"})
		} else if !stateIDs[tr.From] {
			errs = append(errs, VError{Path: tp + ".from", Code: "REF_NOT_FOUND", Message: fmt.Sprintf("state %q not found", tr.From)})
		}
		if tr.To == "" {
			errs = append(errs, VError{Path: tp + ".to", Code: "REQUIRED", Message: "transition to is required"})
		} else if !stateIDs[tr.To] {
			errs = append(errs, VError{Path: tp + ".to", Code: "REF_NOT_FOUND", Message: fmt.Sprintf("state %q not found", tr.To)})
		}
		if tr.From != "" && finals[tr.From] {
			errs = append(errs, VError{
				Path: tp + ".from", Code: "FINAL_OUTGOING",
				Message: fmt.Sprintf("final state %q must not have outgoing transitions", tr.From),
			})
		}
		for j, g := range tr.Guards {
			if g.Type == "" {
				errs = append(errs, VError{Path: fmt.Sprintf("%s.guards[%d].type", tp, j), Code: "REQUIRED", Message: "guard type is required"})
			}
		}
		for j, a := range tr.Actions {
			if a.Type == "" {
				errs = append(errs, VError{Path: fmt.Sprintf("%s.actions[%d].type", tp, j), Code: "REQUIRED", Message: "action type is required"})
			}
		}
	}

	return errs
}

// Warnings reports non-fatal graph problems: states unreachable from the
// initial state, and non-final states with no outgoing transitions.
func (v *Validator) Warnings(def model.WorkflowDefinition) []string {
	var warns []string

	if def.InitialState == "" || def.StateByID(def.InitialState) == nil {
		return warns
	}

	reachable := map[string]bool{def.InitialState: true}
	queue := []string{def.InitialState}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, tr := range def.OutgoingFrom(cur) {
			if !reachable[tr.To] {
				reachable[tr.To] = true
				queue = append(queue, tr.To)
			}
		}
	}

	for _, s := range def.States {
		if !reachable[s.ID] {
			warns = append(warns, fmt.Sprintf("state %q is unreachable from initial state %q", s.ID, def.InitialState))
		}
		if !def.IsFinal(s.ID) && len(def.OutgoingFrom(s.ID)) == 0 {
			warns = append(warns, fmt.Sprintf("non-final state %q has no outgoing transitions", s.ID))
		}
	}

	return warns
}

// FieldErrors converts validation errors into the envelope detail shape used
// by INVALID_DEFINITION responses.
func FieldErrors(errs []VError) []model.FieldError {
	out := make([]model.FieldError, 0, len(errs))
	for _, e := range errs {
		out = append(out, model.FieldError{Field: e.Path, Code: e.Code, Message: e.Message})
	}
	return out
}
