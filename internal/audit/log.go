// Package audit owns the append-only transition history. Every attempted
// and committed transition produces exactly one record; records are never
// edited or deleted.
package audit

import (
	"context"
	"fmt"
	"sync"

	"github.com/riverrun-io/caseflow/model"
)

// Log persists transition records.
type Log interface {
	// Append adds one record. Fails only when the backing store is
	// unavailable (STORAGE_UNAVAILABLE).
	Append(ctx context.Context, record model.TransitionRecord) error

	// History returns records for a case, most recent first, scoped to a
	// tenant. A limit of 0 means no limit.
	History(ctx context.Context, tenantID, caseID string, limit int) ([]model.TransitionRecord, error)
}

// MemoryLog is an in-memory Log for development and tests.
type MemoryLog struct {
	mu      sync.RWMutex
	records map[string][]model.TransitionRecord // key: case ID, append order
}

// NewMemoryLog creates a new in-memory audit log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{records: make(map[string][]model.TransitionRecord)}
}

// Append adds a record.
func (l *MemoryLog) Append(_ context.Context, record model.TransitionRecord) error {
	if record.CaseID == "" {
		return fmt.Errorf("audit: record has no case id")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records[record.CaseID] = append(l.records[record.CaseID], record)
	return nil
}

// History returns records most recent first.
func (l *MemoryLog) History(_ context.Context, tenantID, caseID string, limit int) ([]model.TransitionRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stored := l.records[caseID]
	result := make([]model.TransitionRecord, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		if stored[i].TenantID != tenantID {
			continue
		}
		result = append(result, stored[i])
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

// Len returns the total record count. For testing.
func (l *MemoryLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, recs := range l.records {
		n += len(recs)
	}
	return n
}
