package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/riverrun-io/caseflow/model"
)

// PgLog is a PostgreSQL-backed Log using pgx/v5.
type PgLog struct {
	pool *pgxpool.Pool
}

// NewPgLog creates a new PostgreSQL audit log.
func NewPgLog(pool *pgxpool.Pool) *PgLog {
	return &PgLog{pool: pool}
}

// Append inserts one transition record.
func (l *PgLog) Append(ctx context.Context, record model.TransitionRecord) error {
	warningsJSON, err := json.Marshal(record.Warnings)
	if err != nil {
		return fmt.Errorf("marshal warnings: %w", err)
	}

	_, err = l.pool.Exec(ctx, `
		INSERT INTO case_transition_records (
			id, case_id, tenant_id, workflow_id,
			from_state, to_state, transition_id, actor_id,
			occurred_at, notes, outcome, reason, warnings
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		record.ID, record.CaseID, record.TenantID, record.WorkflowID,
		record.FromState, record.ToState, record.TransitionID, record.ActorID,
		record.Timestamp, record.Notes, record.Outcome, record.Reason, warningsJSON,
	)
	if err != nil {
		return model.NewStorageUnavailableError(fmt.Sprintf("insert transition record: %v", err))
	}
	return nil
}

// History returns records most recent first, scoped to a tenant.
func (l *PgLog) History(ctx context.Context, tenantID, caseID string, limit int) ([]model.TransitionRecord, error) {
	query := `
		SELECT id, case_id, tenant_id, workflow_id,
		       from_state, to_state, transition_id, actor_id,
		       occurred_at, notes, outcome, reason, warnings
		FROM case_transition_records
		WHERE case_id = $1 AND tenant_id = $2
		ORDER BY occurred_at DESC, id DESC`
	args := []any{caseID, tenantID}
	if limit > 0 {
		query += " LIMIT $3"
		args = append(args, limit)
	}

	rows, err := l.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, model.NewStorageUnavailableError(fmt.Sprintf("query transition records: %v", err))
	}
	defer rows.Close()

	var records []model.TransitionRecord
	for rows.Next() {
		var rec model.TransitionRecord
		var warningsJSON []byte
		if err := rows.Scan(
			&rec.ID, &rec.CaseID, &rec.TenantID, &rec.WorkflowID,
			&rec.FromState, &rec.ToState, &rec.TransitionID, &rec.ActorID,
			&rec.Timestamp, &rec.Notes, &rec.Outcome, &rec.Reason, &warningsJSON,
		); err != nil {
			return nil, fmt.Errorf("scan transition record: %w", err)
		}
		if warningsJSON != nil {
			_ = json.Unmarshal(warningsJSON, &rec.Warnings)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// HealthCheck verifies database connectivity.
func (l *PgLog) HealthCheck(ctx context.Context) error {
	return l.pool.Ping(ctx)
}
