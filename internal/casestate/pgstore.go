package casestate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/riverrun-io/caseflow/model"
)

// PgStore is a PostgreSQL-backed Store using pgx/v5.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a new PostgreSQL case state store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Create inserts a new case state row.
func (s *PgStore) Create(ctx context.Context, state model.CaseWorkflowState) error {
	fieldsJSON, err := json.Marshal(state.Fields)
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO case_workflow_states (
			case_id, tenant_id, workflow_id, workflow_version,
			current_state, revision, fields, assigned_to,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (case_id) DO NOTHING`,
		state.CaseID, state.TenantID, state.WorkflowID, state.WorkflowVersion,
		state.CurrentState, state.Revision, fieldsJSON, state.AssignedTo,
		state.CreatedAt, state.UpdatedAt,
	)
	if err != nil {
		return model.NewStorageUnavailableError(fmt.Sprintf("insert case state: %v", err))
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(fmt.Sprintf("case %q already exists", state.CaseID))
	}
	return nil
}

// Get retrieves case state by ID, scoped to tenant.
func (s *PgStore) Get(ctx context.Context, tenantID, caseID string) (model.CaseWorkflowState, error) {
	var state model.CaseWorkflowState
	var fieldsJSON []byte

	err := s.pool.QueryRow(ctx, `
		SELECT case_id, tenant_id, workflow_id, workflow_version,
		       current_state, revision, fields, assigned_to,
		       created_at, updated_at
		FROM case_workflow_states
		WHERE case_id = $1 AND tenant_id = $2`,
		caseID, tenantID,
	).Scan(
		&state.CaseID, &state.TenantID, &state.WorkflowID, &state.WorkflowVersion,
		&state.CurrentState, &state.Revision, &fieldsJSON, &state.AssignedTo,
		&state.CreatedAt, &state.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.CaseWorkflowState{}, model.NewNotFoundError(fmt.Sprintf("case %q not found", caseID))
	}
	if err != nil {
		return model.CaseWorkflowState{}, model.NewStorageUnavailableError(fmt.Sprintf("query case state: %v", err))
	}

	if fieldsJSON != nil {
		if err := json.Unmarshal(fieldsJSON, &state.Fields); err != nil {
			return model.CaseWorkflowState{}, fmt.Errorf("unmarshal fields: %w", err)
		}
	}
	return state, nil
}

// Advance performs the single conditional write gating a transition commit.
func (s *PgStore) Advance(ctx context.Context, state model.CaseWorkflowState, fromRevision int64) error {
	fieldsJSON, err := json.Marshal(state.Fields)
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE case_workflow_states SET
			current_state = $1,
			revision = $2,
			fields = $3,
			assigned_to = $4,
			updated_at = now()
		WHERE case_id = $5 AND tenant_id = $6 AND revision = $7`,
		state.CurrentState, state.Revision, fieldsJSON, state.AssignedTo,
		state.CaseID, state.TenantID, fromRevision,
	)
	if err != nil {
		return model.NewStorageUnavailableError(fmt.Sprintf("advance case state: %v", err))
	}
	if tag.RowsAffected() == 0 {
		return model.NewConcurrentModificationError(fmt.Sprintf(
			"case %q was modified concurrently (expected revision %d)", state.CaseID, fromRevision))
	}
	return nil
}

// UpdateFields applies post-action field and assignee changes under the
// same conditional write.
func (s *PgStore) UpdateFields(ctx context.Context, state model.CaseWorkflowState, fromRevision int64) error {
	fieldsJSON, err := json.Marshal(state.Fields)
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE case_workflow_states SET
			revision = $1,
			fields = $2,
			assigned_to = $3,
			updated_at = now()
		WHERE case_id = $4 AND tenant_id = $5 AND revision = $6`,
		state.Revision, fieldsJSON, state.AssignedTo,
		state.CaseID, state.TenantID, fromRevision,
	)
	if err != nil {
		return model.NewStorageUnavailableError(fmt.Sprintf("update case fields: %v", err))
	}
	if tag.RowsAffected() == 0 {
		return model.NewConcurrentModificationError(fmt.Sprintf(
			"case %q was modified concurrently (expected revision %d)", state.CaseID, fromRevision))
	}
	return nil
}

// HealthCheck verifies database connectivity.
func (s *PgStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
