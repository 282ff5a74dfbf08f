package action

import (
	"context"
	"fmt"

	"github.com/riverrun-io/caseflow/internal/notify"
	"github.com/riverrun-io/caseflow/model"
	"go.uber.org/zap"
)

// registerBuiltins installs the standard action vocabulary.
func registerBuiltins(e *Executor, sink notify.Sink, logger *zap.Logger) {
	e.Register("log", actionLog(logger))
	e.Register("set_field", actionSetField)
	e.Register("assign", actionAssign)
	e.Register("clear_field", actionClearField)
	e.Register("send_notification", actionSendNotification(sink))
	e.Register("create_task", actionCreateTask(sink))
}

func actionLog(logger *zap.Logger) Func {
	return func(_ context.Context, snap model.CaseWorkflowState, actor *model.ActorContext, params map[string]any) (model.ActionOutcome, error) {
		actorID := ""
		if actor != nil {
			actorID = actor.SubjectID
		}
		logger.Info(stringParam(params, "message"),
			zap.String("case_id", snap.CaseID),
			zap.String("tenant_id", snap.TenantID),
			zap.String("state", snap.CurrentState),
			zap.String("actor_id", actorID),
		)
		return model.ActionOutcome{Applied: true}, nil
	}
}

// actionSetField writes one case data field. The value comes from the
// literal "value" parameter, or from the acting user when
// value_from: actor is set.
func actionSetField(_ context.Context, _ model.CaseWorkflowState, actor *model.ActorContext, params map[string]any) (model.ActionOutcome, error) {
	field := stringParam(params, "field")
	if field == "" {
		return model.ActionOutcome{}, fmt.Errorf("action set_field requires a field parameter")
	}

	var value any
	switch stringParam(params, "value_from") {
	case "actor":
		if actor == nil {
			return model.ActionOutcome{}, fmt.Errorf("action set_field: no actor to take value from")
		}
		value = actor.SubjectID
	case "":
		var ok bool
		value, ok = params["value"]
		if !ok {
			return model.ActionOutcome{}, fmt.Errorf("action set_field requires a value or value_from parameter")
		}
	default:
		return model.ActionOutcome{}, fmt.Errorf("action set_field: unsupported value_from %q", stringParam(params, "value_from"))
	}

	return model.ActionOutcome{
		Applied:        true,
		FieldMutations: map[string]any{field: value},
	}, nil
}

// actionAssign changes the case assignee, either to an explicit subject or
// to the acting user.
func actionAssign(_ context.Context, _ model.CaseWorkflowState, actor *model.ActorContext, params map[string]any) (model.ActionOutcome, error) {
	assignee := stringParam(params, "assignee")
	if assignee == "" {
		if actor == nil {
			return model.ActionOutcome{}, fmt.Errorf("action assign requires an assignee parameter or an acting user")
		}
		assignee = actor.SubjectID
	}
	return model.ActionOutcome{
		Applied:        true,
		FieldMutations: map[string]any{AssigneeField: assignee},
	}, nil
}

func actionClearField(_ context.Context, _ model.CaseWorkflowState, _ *model.ActorContext, params map[string]any) (model.ActionOutcome, error) {
	field := stringParam(params, "field")
	if field == "" {
		return model.ActionOutcome{}, fmt.Errorf("action clear_field requires a field parameter")
	}
	return model.ActionOutcome{
		Applied:        true,
		FieldMutations: map[string]any{field: nil},
	}, nil
}

func actionSendNotification(sink notify.Sink) Func {
	return func(ctx context.Context, snap model.CaseWorkflowState, actor *model.ActorContext, params map[string]any) (model.ActionOutcome, error) {
		recipient := stringParam(params, "recipient")
		if recipient == "" {
			recipient = snap.AssignedTo
		}
		msg := notify.Message{
			Kind:      notify.KindNotification,
			TenantID:  snap.TenantID,
			CaseID:    snap.CaseID,
			Template:  stringParam(params, "template"),
			Recipient: recipient,
			Payload: map[string]any{
				"state": snap.CurrentState,
			},
		}
		if actor != nil {
			msg.Payload["actor_id"] = actor.SubjectID
		}
		if err := sink.Notify(ctx, msg); err != nil {
			return model.ActionOutcome{}, fmt.Errorf("send_notification: %w", err)
		}
		return model.ActionOutcome{Applied: true}, nil
	}
}

func actionCreateTask(sink notify.Sink) Func {
	return func(ctx context.Context, snap model.CaseWorkflowState, actor *model.ActorContext, params map[string]any) (model.ActionOutcome, error) {
		msg := notify.Message{
			Kind:      notify.KindTask,
			TenantID:  snap.TenantID,
			CaseID:    snap.CaseID,
			Recipient: stringParam(params, "assignee"),
			Payload: map[string]any{
				"title": stringParam(params, "title"),
				"state": snap.CurrentState,
			},
		}
		if actor != nil {
			msg.Payload["requested_by"] = actor.SubjectID
		}
		if err := sink.Notify(ctx, msg); err != nil {
			return model.ActionOutcome{}, fmt.Errorf("create_task: %w", err)
		}
		return model.ActionOutcome{Applied: true}, nil
	}
}

func stringParam(params map[string]any, key string) string {
	if params == nil {
		return ""
	}
	s, _ := params[key].(string)
	return s
}
