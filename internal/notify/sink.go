// Package notify delivers outbound messages produced by transition actions:
// user notifications and follow-up task requests.
package notify

import (
	"context"

	"go.uber.org/zap"
)

// Message kinds.
const (
	KindNotification = "notification"
	KindTask         = "task"
)

// Message is one outbound delivery request.
type Message struct {
	Kind      string         `json:"kind"`
	TenantID  string         `json:"tenant_id"`
	CaseID    string         `json:"case_id"`
	Template  string         `json:"template,omitempty"`
	Recipient string         `json:"recipient,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Sink delivers messages to some downstream channel. Delivery is
// best-effort from the engine's point of view; a failed Notify surfaces as
// a transition warning, never a rollback.
type Sink interface {
	Notify(ctx context.Context, msg Message) error
}

// LogSink writes messages to the structured log. It is the default sink for
// development and tests.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Notify logs the message.
func (s *LogSink) Notify(_ context.Context, msg Message) error {
	s.logger.Info("outbound message",
		zap.String("kind", msg.Kind),
		zap.String("tenant_id", msg.TenantID),
		zap.String("case_id", msg.CaseID),
		zap.String("template", msg.Template),
		zap.String("recipient", msg.Recipient),
	)
	return nil
}
