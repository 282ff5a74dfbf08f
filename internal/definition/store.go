package definition

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/riverrun-io/caseflow/model"
)

// snapshot is an immutable view of all published definitions. Lookups never
// take a lock; Publish builds a new snapshot and swaps the pointer.
type snapshot struct {
	byVersion map[string]map[int]model.WorkflowDefinition
	latest    map[string]model.WorkflowDefinition
	checksum  string
}

// Store holds published workflow definitions, versioned and immutable. Reads
// are lock-free via atomic pointer swap; Publish is serialized by a mutex.
type Store struct {
	mu        sync.Mutex
	snap      atomic.Pointer[snapshot]
	validator *Validator
}

// NewStore creates an empty definition Store.
func NewStore() *Store {
	s := &Store{validator: NewValidator()}
	s.snap.Store(&snapshot{
		byVersion: map[string]map[int]model.WorkflowDefinition{},
		latest:    map[string]model.WorkflowDefinition{},
	})
	return s
}

// Publish validates the definition and adds it as a new immutable version.
// A zero Version is assigned latest+1; an explicit Version must be strictly
// greater than the latest published version for that ID or the publish is
// rejected with CONFLICT. Published definitions are never mutated.
func (s *Store) Publish(def model.WorkflowDefinition) (model.WorkflowDefinition, error) {
	if verrs := s.validator.Validate(def); len(verrs) > 0 {
		return model.WorkflowDefinition{}, model.NewInvalidDefinitionError(FieldErrors(verrs))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snap.Load()
	latestVersion := 0
	if existing, ok := cur.latest[def.ID]; ok {
		latestVersion = existing.Version
	}

	switch {
	case def.Version == 0:
		def.Version = latestVersion + 1
	case def.Version <= latestVersion:
		return model.WorkflowDefinition{}, model.NewConflictError(fmt.Sprintf(
			"workflow %q version %d already superseded (latest is %d)",
			def.ID, def.Version, latestVersion))
	}
	def.Active = true

	next := &snapshot{
		byVersion: make(map[string]map[int]model.WorkflowDefinition, len(cur.byVersion)+1),
		latest:    make(map[string]model.WorkflowDefinition, len(cur.latest)+1),
	}
	for id, versions := range cur.byVersion {
		copied := make(map[int]model.WorkflowDefinition, len(versions)+1)
		for v, d := range versions {
			copied[v] = d
		}
		next.byVersion[id] = copied
	}
	for id, d := range cur.latest {
		next.latest[id] = d
	}

	if next.byVersion[def.ID] == nil {
		next.byVersion[def.ID] = make(map[int]model.WorkflowDefinition, 1)
	}
	stored := def.Clone()
	next.byVersion[def.ID][def.Version] = stored
	next.latest[def.ID] = stored
	next.checksum = combinedChecksum(next)

	s.snap.Store(next)
	return def, nil
}

// Get returns the latest active version of the workflow with the given ID.
func (s *Store) Get(workflowID string) (model.WorkflowDefinition, bool) {
	d, ok := s.snap.Load().latest[workflowID]
	if !ok {
		return model.WorkflowDefinition{}, false
	}
	return d.Clone(), true
}

// GetVersion returns a specific published version of a workflow. Cases bound
// to an older version keep resolving against it even after newer publishes.
func (s *Store) GetVersion(workflowID string, version int) (model.WorkflowDefinition, bool) {
	versions, ok := s.snap.Load().byVersion[workflowID]
	if !ok {
		return model.WorkflowDefinition{}, false
	}
	d, ok := versions[version]
	if !ok {
		return model.WorkflowDefinition{}, false
	}
	return d.Clone(), true
}

// All returns the latest version of every published workflow.
func (s *Store) All() []model.WorkflowDefinition {
	snap := s.snap.Load()
	defs := make([]model.WorkflowDefinition, 0, len(snap.latest))
	for _, d := range snap.latest {
		defs = append(defs, d.Clone())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs
}

// Checksum returns the combined checksum of all published definitions.
func (s *Store) Checksum() string {
	return s.snap.Load().checksum
}

func combinedChecksum(snap *snapshot) string {
	var parts []string
	for id, versions := range snap.byVersion {
		for v, d := range versions {
			parts = append(parts, fmt.Sprintf("%s:%d:%s", id, v, d.Checksum))
		}
	}
	sort.Strings(parts)
	return fmt.Sprintf("%x", sha256.Sum256([]byte(strings.Join(parts, "|"))))
}
