// Package engine executes case workflow transitions: it resolves
// definitions, evaluates guards, advances case state under optimistic
// concurrency, runs post-commit actions, and records every attempt in the
// audit log.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/riverrun-io/caseflow/internal/action"
	"github.com/riverrun-io/caseflow/internal/audit"
	"github.com/riverrun-io/caseflow/internal/casestate"
	"github.com/riverrun-io/caseflow/internal/definition"
	"github.com/riverrun-io/caseflow/internal/guard"
	"github.com/riverrun-io/caseflow/model"
)

// Metrics receives engine-level measurements. A nil Metrics disables
// recording.
type Metrics interface {
	RecordCaseOpened(workflowID string)
	RecordTransition(workflowID, transitionID, outcome string, duration time.Duration)
	RecordGuardFailure(workflowID, guardType string)
	RecordActionFailure(workflowID, actionType string)
}

// Engine is the transition engine. It holds no per-case state; everything
// case-specific lives in the case store, so any number of Engine calls may
// run concurrently.
type Engine struct {
	definitions *definition.Store
	cases       casestate.Store
	guards      *guard.Evaluator
	actions     *action.Executor
	audit       audit.Log
	logger      *zap.Logger
	metrics     Metrics
}

// New creates an Engine.
func New(
	definitions *definition.Store,
	cases casestate.Store,
	guards *guard.Evaluator,
	actions *action.Executor,
	auditLog audit.Log,
	logger *zap.Logger,
	metrics Metrics,
) *Engine {
	return &Engine{
		definitions: definitions,
		cases:       cases,
		guards:      guards,
		actions:     actions,
		audit:       auditLog,
		logger:      logger,
		metrics:     metrics,
	}
}

// OpenCase binds a new case to the latest active version of a workflow,
// placing it in the initial state at revision 0. An empty caseID is
// replaced with a generated one.
func (e *Engine) OpenCase(ctx context.Context, actor *model.ActorContext, workflowID, caseID string, fields map[string]any) (model.CaseWorkflowState, error) {
	def, ok := e.definitions.Get(workflowID)
	if !ok {
		return model.CaseWorkflowState{}, model.NewNotFoundError(fmt.Sprintf("workflow %q not found", workflowID))
	}

	if caseID == "" {
		caseID = uuid.New().String()
	}

	now := time.Now().UTC()
	state := model.CaseWorkflowState{
		CaseID:          caseID,
		TenantID:        actor.TenantID,
		WorkflowID:      def.ID,
		WorkflowVersion: def.Version,
		CurrentState:    def.InitialState,
		Revision:        0,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if len(fields) > 0 {
		state.Fields = make(map[string]any, len(fields))
		for k, v := range fields {
			state.Fields[k] = v
		}
	}

	if err := e.cases.Create(ctx, state); err != nil {
		return model.CaseWorkflowState{}, err
	}

	e.logger.Info("case opened",
		zap.String("case_id", caseID),
		zap.String("tenant_id", actor.TenantID),
		zap.String("workflow_id", def.ID),
		zap.Int("workflow_version", def.Version),
		zap.String("state", def.InitialState),
	)
	if e.metrics != nil {
		e.metrics.RecordCaseOpened(def.ID)
	}
	return state, nil
}

// ListAvailable returns the transitions leaving the case's current state in
// declared order, each with its full guard outcome. Disabled transitions
// are included so callers can render them with reasons. A terminal state
// yields an empty list, not an error.
func (e *Engine) ListAvailable(ctx context.Context, actor *model.ActorContext, caseID string) ([]model.AvailableTransition, error) {
	state, err := e.cases.Get(ctx, actor.TenantID, caseID)
	if err != nil {
		return nil, err
	}
	def, err := e.resolveDefinition(state)
	if err != nil {
		return nil, err
	}

	outgoing := def.OutgoingFrom(state.CurrentState)
	available := make([]model.AvailableTransition, 0, len(outgoing))
	for _, tr := range outgoing {
		available = append(available, model.AvailableTransition{
			Transition: tr,
			Outcome:    e.guards.Evaluate(tr, state, actor),
		})
	}
	return available, nil
}

// Execute attempts one transition. On success it returns the committed
// record, including warnings from failed actions. Guard rejections and
// concurrent-modification losses are recorded in the audit log; a stale
// transition ID (TRANSITION_NOT_FOUND) is not.
func (e *Engine) Execute(ctx context.Context, actor *model.ActorContext, caseID, transitionID, notes string) (model.TransitionRecord, error) {
	started := time.Now()

	state, err := e.cases.Get(ctx, actor.TenantID, caseID)
	if err != nil {
		return model.TransitionRecord{}, err
	}
	def, err := e.resolveDefinition(state)
	if err != nil {
		return model.TransitionRecord{}, err
	}

	tr := def.TransitionByID(transitionID)
	if tr == nil || tr.From != state.CurrentState {
		if len(def.OutgoingFrom(state.CurrentState)) == 0 {
			return model.TransitionRecord{}, model.NewNoTransitionsAvailableError(fmt.Sprintf(
				"case %q is in state %q, which has no outgoing transitions", caseID, state.CurrentState))
		}
		return model.TransitionRecord{}, model.NewTransitionNotFoundError(fmt.Sprintf(
			"transition %q is not available from state %q", transitionID, state.CurrentState))
	}

	// Guards are re-evaluated here regardless of what any earlier
	// ListAvailable reported.
	outcome := e.guards.Evaluate(*tr, state, actor)
	if !outcome.Satisfied {
		e.recordRejection(ctx, state, tr, actor, notes, guardRejectionReason(outcome))
		if e.metrics != nil {
			for _, r := range outcome.Results {
				if !r.Satisfied {
					e.metrics.RecordGuardFailure(def.ID, r.GuardType)
				}
			}
			e.metrics.RecordTransition(def.ID, tr.ID, model.OutcomeRejected, time.Since(started))
		}
		return model.TransitionRecord{}, model.NewGuardNotSatisfiedError(outcome.FailureDetails())
	}

	// The conditional write is the only commit gate: of N concurrent
	// attempts from the same revision, exactly one lands.
	advanced := state.Clone()
	advanced.CurrentState = tr.To
	advanced.Revision = state.Revision + 1
	advanced.UpdatedAt = time.Now().UTC()

	if err := e.cases.Advance(ctx, advanced, state.Revision); err != nil {
		var envelope *model.ErrorEnvelope
		if errors.As(err, &envelope) && envelope.Code == model.ErrConcurrentModification {
			e.recordRejection(ctx, state, tr, actor, notes, envelope.Message)
			if e.metrics != nil {
				e.metrics.RecordTransition(def.ID, tr.ID, model.OutcomeRejected, time.Since(started))
			}
		}
		return model.TransitionRecord{}, err
	}

	warnings := e.runActions(ctx, def, *tr, advanced, actor)

	record := model.TransitionRecord{
		ID:           uuid.New().String(),
		CaseID:       state.CaseID,
		TenantID:     state.TenantID,
		WorkflowID:   state.WorkflowID,
		FromState:    state.CurrentState,
		ToState:      tr.To,
		TransitionID: tr.ID,
		ActorID:      actor.SubjectID,
		Timestamp:    time.Now().UTC(),
		Notes:        notes,
		Outcome:      model.OutcomeCommitted,
		Warnings:     warnings,
	}
	if err := e.audit.Append(ctx, record); err != nil {
		// The state change is already committed; the record must not be
		// able to undo it.
		e.logger.Error("audit append failed for committed transition",
			zap.String("record_id", record.ID),
			zap.String("case_id", record.CaseID),
			zap.Error(err),
		)
	}

	e.logger.Info("transition committed",
		zap.String("case_id", state.CaseID),
		zap.String("transition_id", tr.ID),
		zap.String("from_state", state.CurrentState),
		zap.String("to_state", tr.To),
		zap.Int64("revision", advanced.Revision),
		zap.Int("warnings", len(warnings)),
	)
	if e.metrics != nil {
		e.metrics.RecordTransition(def.ID, tr.ID, model.OutcomeCommitted, time.Since(started))
	}
	return record, nil
}

// History returns the case's transition records, most recent first. The
// case is loaded first so tenant scoping and NOT_FOUND behave exactly as
// they do for reads of the case itself.
func (e *Engine) History(ctx context.Context, actor *model.ActorContext, caseID string, limit int) ([]model.TransitionRecord, error) {
	if _, err := e.cases.Get(ctx, actor.TenantID, caseID); err != nil {
		return nil, err
	}
	return e.audit.History(ctx, actor.TenantID, caseID, limit)
}

// Definition returns a workflow definition: the latest active version when
// version is 0, otherwise the exact published version.
func (e *Engine) Definition(_ context.Context, workflowID string, version int) (model.WorkflowDefinition, error) {
	if version == 0 {
		def, ok := e.definitions.Get(workflowID)
		if !ok {
			return model.WorkflowDefinition{}, model.NewNotFoundError(fmt.Sprintf("workflow %q not found", workflowID))
		}
		return def, nil
	}
	def, ok := e.definitions.GetVersion(workflowID, version)
	if !ok {
		return model.WorkflowDefinition{}, model.NewNotFoundError(fmt.Sprintf(
			"workflow %q version %d not found", workflowID, version))
	}
	return def, nil
}

// Case returns the current case state.
func (e *Engine) Case(ctx context.Context, actor *model.ActorContext, caseID string) (model.CaseWorkflowState, error) {
	return e.cases.Get(ctx, actor.TenantID, caseID)
}

// resolveDefinition returns the definition version the case is bound to.
// Cases keep resolving against their bound version even after newer
// publishes.
func (e *Engine) resolveDefinition(state model.CaseWorkflowState) (model.WorkflowDefinition, error) {
	def, ok := e.definitions.GetVersion(state.WorkflowID, state.WorkflowVersion)
	if !ok {
		return model.WorkflowDefinition{}, model.NewNotFoundError(fmt.Sprintf(
			"workflow %q version %d not found", state.WorkflowID, state.WorkflowVersion))
	}
	return def, nil
}

// runActions executes the transition's actions against the committed state,
// folds any field mutations back into the case with a best-effort
// conditional write, and converts failures into warnings.
func (e *Engine) runActions(ctx context.Context, def model.WorkflowDefinition, tr model.Transition, committed model.CaseWorkflowState, actor *model.ActorContext) []string {
	if len(tr.Actions) == 0 {
		return nil
	}

	outcomes := e.actions.ExecuteAll(ctx, tr, committed, actor)

	var warnings []string
	mutated := committed.Clone()
	changed := false
	for _, out := range outcomes {
		if out.Err != "" {
			warnings = append(warnings, fmt.Sprintf("action %s failed: %s", out.Type, out.Err))
			if e.metrics != nil {
				e.metrics.RecordActionFailure(def.ID, out.Type)
			}
			continue
		}
		for k, v := range out.FieldMutations {
			changed = true
			switch {
			case k == action.AssigneeField:
				mutated.AssignedTo = fmt.Sprint(v)
			case v == nil:
				delete(mutated.Fields, k)
			default:
				if mutated.Fields == nil {
					mutated.Fields = make(map[string]any)
				}
				mutated.Fields[k] = v
			}
		}
	}

	if changed {
		mutated.Revision = committed.Revision + 1
		if err := e.cases.UpdateFields(ctx, mutated, committed.Revision); err != nil {
			warnings = append(warnings, fmt.Sprintf("action field changes were not applied: %v", err))
			e.logger.Warn("post-action field write lost",
				zap.String("case_id", committed.CaseID),
				zap.Error(err),
			)
		}
	}

	return warnings
}

// recordRejection appends a rejected-attempt record. Failures to write it
// are logged, never surfaced.
func (e *Engine) recordRejection(ctx context.Context, state model.CaseWorkflowState, tr *model.Transition, actor *model.ActorContext, notes, reason string) {
	record := model.TransitionRecord{
		ID:           uuid.New().String(),
		CaseID:       state.CaseID,
		TenantID:     state.TenantID,
		WorkflowID:   state.WorkflowID,
		FromState:    state.CurrentState,
		ToState:      tr.To,
		TransitionID: tr.ID,
		ActorID:      actor.SubjectID,
		Timestamp:    time.Now().UTC(),
		Notes:        notes,
		Outcome:      model.OutcomeRejected,
		Reason:       reason,
	}
	if err := e.audit.Append(ctx, record); err != nil {
		e.logger.Warn("audit append failed for rejected attempt",
			zap.String("case_id", state.CaseID),
			zap.Error(err),
		)
	}
}

func guardRejectionReason(outcome model.GuardOutcome) string {
	var msgs []string
	for _, r := range outcome.Results {
		if !r.Satisfied {
			msgs = append(msgs, r.Message)
		}
	}
	return fmt.Sprintf("%s: %s", model.ErrGuardNotSatisfied, strings.Join(msgs, "; "))
}
