package model

import "time"

// Transition record outcomes.
const (
	OutcomeCommitted = "committed"
	OutcomeRejected  = "rejected"
)

// TransitionRecord is the immutable audit entry for one transition attempt.
// Created once per attempt, never edited. The audit log exclusively owns the
// sequence; the transition engine is the sole writer.
type TransitionRecord struct {
	ID           string    `json:"id"`
	CaseID       string    `json:"case_id"`
	TenantID     string    `json:"tenant_id"`
	WorkflowID   string    `json:"workflow_id"`
	FromState    string    `json:"from_state"`
	ToState      string    `json:"to_state"`
	TransitionID string    `json:"transition_id"`
	ActorID      string    `json:"actor_id"`
	Timestamp    time.Time `json:"timestamp"`
	Notes        string    `json:"notes,omitempty"`
	Outcome      string    `json:"outcome"`
	Reason       string    `json:"reason,omitempty"`
	Warnings     []string  `json:"warnings,omitempty"`
}

// GuardResult is the evaluation result of a single guard.
type GuardResult struct {
	GuardType string `json:"guard_type"`
	Satisfied bool   `json:"satisfied"`
	Message   string `json:"message,omitempty"`
}

// GuardOutcome aggregates the results of all guards on a transition. Every
// guard is evaluated and reported even when an earlier one fails, so callers
// can show the complete reason set.
type GuardOutcome struct {
	Satisfied bool          `json:"satisfied"`
	Results   []GuardResult `json:"results"`
}

// FailureDetails converts the unsatisfied guard results into field errors
// for an error envelope.
func (o GuardOutcome) FailureDetails() []FieldError {
	var details []FieldError
	for _, r := range o.Results {
		if r.Satisfied {
			continue
		}
		details = append(details, FieldError{
			Field:   r.GuardType,
			Code:    ErrGuardNotSatisfied,
			Message: r.Message,
		})
	}
	return details
}

// ActionOutcome is the result of executing a single action.
type ActionOutcome struct {
	Type           string         `json:"type"`
	Applied        bool           `json:"applied"`
	FieldMutations map[string]any `json:"field_mutations,omitempty"`
	Err            string         `json:"error,omitempty"`
}

// AvailableTransition pairs a transition with its guard outcome so callers
// can render disabled options with reasons, not just a filtered list.
type AvailableTransition struct {
	Transition Transition   `json:"transition"`
	Outcome    GuardOutcome `json:"outcome"`
}
