package model

import "time"

// CaseWorkflowState is the mutable per-case workflow projection. It is owned
// exclusively by the transition engine: mutated only through a committed
// transition, never deleted, only ever advanced. Revision is the optimistic
// concurrency token; exactly one concurrent execute succeeds per revision.
type CaseWorkflowState struct {
	CaseID          string         `json:"case_id"`
	TenantID        string         `json:"tenant_id"`
	WorkflowID      string         `json:"workflow_id"`
	WorkflowVersion int            `json:"workflow_version"`
	CurrentState    string         `json:"current_state"`
	Revision        int64          `json:"revision"`
	Fields          map[string]any `json:"fields,omitempty"`
	AssignedTo      string         `json:"assigned_to,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Field returns the value of a case data field, or nil.
func (c *CaseWorkflowState) Field(key string) any {
	if c.Fields == nil {
		return nil
	}
	return c.Fields[key]
}

// Clone returns a deep-enough copy for handing to guards and actions: the
// Fields map is copied so evaluation can never alias engine-owned state.
func (c *CaseWorkflowState) Clone() CaseWorkflowState {
	out := *c
	if c.Fields != nil {
		out.Fields = make(map[string]any, len(c.Fields))
		for k, v := range c.Fields {
			out.Fields[k] = v
		}
	}
	return out
}
