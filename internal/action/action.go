// Package action executes transition side effects after a state change has
// committed. Action failures produce warnings on the transition record and
// never roll the transition back.
package action

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/riverrun-io/caseflow/internal/notify"
	"github.com/riverrun-io/caseflow/model"
	"go.uber.org/zap"
)

const defaultTimeout = 5 * time.Second

// AssigneeField is the reserved field-mutation key that the engine folds
// into CaseWorkflowState.AssignedTo instead of the free-form field map.
const AssigneeField = "assignedTo"

// Func executes a single action against an immutable case snapshot. Field
// changes are returned in the outcome, not written anywhere; the engine
// folds them back after the action phase.
type Func func(ctx context.Context, snap model.CaseWorkflowState, actor *model.ActorContext, params map[string]any) (model.ActionOutcome, error)

// Executor holds the registry of action types and runs the action list of a
// committed transition.
type Executor struct {
	mu      sync.RWMutex
	funcs   map[string]Func
	logger  *zap.Logger
	timeout time.Duration
}

// NewExecutor creates an Executor with all built-in action types
// registered.
func NewExecutor(sink notify.Sink, logger *zap.Logger, timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	e := &Executor{
		funcs:   make(map[string]Func),
		logger:  logger,
		timeout: timeout,
	}
	registerBuiltins(e, sink, logger)
	return e
}

// Register adds or replaces an action type.
func (e *Executor) Register(actionType string, fn Func) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.funcs[actionType] = fn
}

// ExecuteAll runs every action on the transition in declared order, each
// under a bounded timeout. Failures are collected in the outcomes; an
// unknown action type is logged and skipped.
func (e *Executor) ExecuteAll(ctx context.Context, tr model.Transition, snap model.CaseWorkflowState, actor *model.ActorContext) []model.ActionOutcome {
	outcomes := make([]model.ActionOutcome, 0, len(tr.Actions))

	for _, a := range tr.Actions {
		e.mu.RLock()
		fn, ok := e.funcs[a.Type]
		e.mu.RUnlock()

		if !ok {
			e.logger.Warn("skipping unknown action type",
				zap.String("action_type", a.Type),
				zap.String("case_id", snap.CaseID),
				zap.String("transition_id", tr.ID),
			)
			outcomes = append(outcomes, model.ActionOutcome{
				Type: a.Type,
				Err:  fmt.Sprintf("%s: action type %q is not registered", model.ErrUnknownActionType, a.Type),
			})
			continue
		}

		outcomes = append(outcomes, e.runOne(ctx, fn, a, snap, actor))
	}

	return outcomes
}

func (e *Executor) runOne(ctx context.Context, fn Func, a model.ActionDefinition, snap model.CaseWorkflowState, actor *model.ActorContext) (out model.ActionOutcome) {
	actionCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("action panicked",
				zap.String("action_type", a.Type),
				zap.String("case_id", snap.CaseID),
				zap.Any("panic", r),
			)
			out = model.ActionOutcome{Type: a.Type, Err: fmt.Sprintf("action %q panicked: %v", a.Type, r)}
		}
	}()

	out, err := fn(actionCtx, snap.Clone(), actor, a.Params)
	out.Type = a.Type
	if err != nil {
		out.Applied = false
		out.Err = err.Error()
		e.logger.Warn("action failed",
			zap.String("action_type", a.Type),
			zap.String("case_id", snap.CaseID),
			zap.Error(err),
		)
	}
	return out
}
