package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// NATSSink publishes messages to NATS. Subjects are derived from the
// configured prefix and the message kind, e.g.
// "caseflow.notifications.task".
type NATSSink struct {
	conn          *nats.Conn
	subjectPrefix string
}

// NewNATSSink connects to the given NATS URL.
func NewNATSSink(url, subjectPrefix string) (*NATSSink, error) {
	conn, err := nats.Connect(url,
		nats.Name("caseflow"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("notify: connecting to nats: %w", err)
	}
	return &NATSSink{conn: conn, subjectPrefix: subjectPrefix}, nil
}

// Notify publishes the message as JSON.
func (s *NATSSink) Notify(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("notify: encoding message: %w", err)
	}
	subject := fmt.Sprintf("%s.%s", s.subjectPrefix, msg.Kind)
	if err := s.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("notify: publishing to %s: %w", subject, err)
	}
	return nil
}

// Close drains and closes the underlying connection.
func (s *NATSSink) Close() error {
	return s.conn.Drain()
}
