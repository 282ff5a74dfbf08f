// Package guard evaluates transition guard conditions. Guards are pure
// predicates over a case snapshot and the acting user; they never touch
// storage and never have side effects.
package guard

import (
	"fmt"
	"sync"

	"github.com/riverrun-io/caseflow/model"
)

// Func is a single guard predicate. It returns whether the guard is
// satisfied and, when it is not, a user-facing explanation.
type Func func(snap model.CaseWorkflowState, actor *model.ActorContext, params map[string]any) (bool, string)

// Evaluator holds the registry of guard types and evaluates the guard list
// of a transition.
type Evaluator struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

// NewEvaluator creates an Evaluator with all built-in guard types
// registered. A nil resolver disables the capability guard (it then always
// fails closed).
func NewEvaluator(resolver model.CapabilityResolver) *Evaluator {
	e := &Evaluator{funcs: make(map[string]Func)}
	registerBuiltins(e, resolver)
	return e
}

// Register adds or replaces a guard type. Custom guards registered here are
// addressable from definitions by their type string.
func (e *Evaluator) Register(guardType string, fn Func) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.funcs[guardType] = fn
}

// Evaluate runs every guard on the transition and aggregates the results.
// All guards are evaluated even after a failure, so callers can present the
// complete reason set. An unknown guard type fails closed.
func (e *Evaluator) Evaluate(tr model.Transition, snap model.CaseWorkflowState, actor *model.ActorContext) model.GuardOutcome {
	outcome := model.GuardOutcome{Satisfied: true}

	for _, g := range tr.Guards {
		e.mu.RLock()
		fn, ok := e.funcs[g.Type]
		e.mu.RUnlock()

		if !ok {
			outcome.Satisfied = false
			outcome.Results = append(outcome.Results, model.GuardResult{
				GuardType: g.Type,
				Satisfied: false,
				Message:   fmt.Sprintf("%s: guard type %q is not registered", model.ErrUnknownGuardType, g.Type),
			})
			continue
		}

		satisfied, msg := fn(snap.Clone(), actor, g.Params)
		if !satisfied && g.ErrorMessage != "" {
			msg = g.ErrorMessage
		}
		if !satisfied {
			outcome.Satisfied = false
		}
		outcome.Results = append(outcome.Results, model.GuardResult{
			GuardType: g.Type,
			Satisfied: satisfied,
			Message:   msg,
		})
	}

	return outcome
}
