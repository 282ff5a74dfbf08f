package model

// State kind tags.
const (
	StateKindStart        = "start"
	StateKindIntermediate = "intermediate"
	StateKindEnd          = "end"
)

// WorkflowDefinition is a versioned, immutable graph of states and
// transitions governing a case type's lifecycle. A published definition is
// never mutated in place; a new version supersedes it.
type WorkflowDefinition struct {
	ID          string       `yaml:"id"           json:"id"`
	Name        string       `yaml:"name"         json:"name"`
	Description string       `yaml:"description"  json:"description,omitempty"`
	Version     int          `yaml:"version"      json:"version"`
	Active      bool         `yaml:"active"       json:"active"`
	InitialState string      `yaml:"initial_state" json:"initial_state"`
	FinalStates []string     `yaml:"final_states" json:"final_states"`
	States      []State      `yaml:"states"       json:"states"`
	Transitions []Transition `yaml:"transitions"  json:"transitions"`

	// Checksum and SourceFile are set at load time and not part of the YAML.
	Checksum   string `yaml:"-" json:"-"`
	SourceFile string `yaml:"-" json:"-"`
}

// State is a named node in the workflow graph.
type State struct {
	ID       string         `yaml:"id"       json:"id"`
	Label    string         `yaml:"label"    json:"label"`
	Kind     string         `yaml:"kind"     json:"kind"`
	Metadata map[string]any `yaml:"metadata" json:"metadata,omitempty"`
}

// Transition is a directed edge between two states. Guards are evaluated in
// declared order and must all pass; actions run in declared order after the
// state change commits. Cycles in the transition graph are legal.
type Transition struct {
	ID       string            `yaml:"id"       json:"id"`
	Name     string            `yaml:"name"     json:"name"`
	From     string            `yaml:"from"     json:"from"`
	To       string            `yaml:"to"       json:"to"`
	Guards   []GuardDefinition  `yaml:"guards"   json:"guards,omitempty"`
	Actions  []ActionDefinition `yaml:"actions"  json:"actions,omitempty"`
	Metadata map[string]any    `yaml:"metadata" json:"metadata,omitempty"`
}

// GuardDefinition is a typed, side-effect-free predicate gating a transition.
type GuardDefinition struct {
	Type         string         `yaml:"type"          json:"type"`
	Params       map[string]any `yaml:"params"        json:"params,omitempty"`
	ErrorMessage string         `yaml:"error_message" json:"error_message,omitempty"`
}

// ActionDefinition is a typed side effect executed after a transition commits.
type ActionDefinition struct {
	Type   string         `yaml:"type"   json:"type"`
	Params map[string]any `yaml:"params" json:"params,omitempty"`
}

// StateByID returns the state with the given ID, or nil.
func (d *WorkflowDefinition) StateByID(id string) *State {
	for i := range d.States {
		if d.States[i].ID == id {
			return &d.States[i]
		}
	}
	return nil
}

// TransitionByID returns the transition with the given ID, or nil.
func (d *WorkflowDefinition) TransitionByID(id string) *Transition {
	for i := range d.Transitions {
		if d.Transitions[i].ID == id {
			return &d.Transitions[i]
		}
	}
	return nil
}

// OutgoingFrom returns the transitions whose source is the given state, in
// declared order. Declaration order is the only ordering policy.
func (d *WorkflowDefinition) OutgoingFrom(stateID string) []Transition {
	var out []Transition
	for _, t := range d.Transitions {
		if t.From == stateID {
			out = append(out, t)
		}
	}
	return out
}

// Clone returns a deep copy. Published definitions hand out clones so that
// caller mutations never reach the stored graph.
func (d *WorkflowDefinition) Clone() WorkflowDefinition {
	out := *d
	out.FinalStates = append([]string(nil), d.FinalStates...)
	out.States = make([]State, len(d.States))
	for i, s := range d.States {
		out.States[i] = s
		out.States[i].Metadata = cloneMap(s.Metadata)
	}
	out.Transitions = make([]Transition, len(d.Transitions))
	for i, t := range d.Transitions {
		out.Transitions[i] = t
		out.Transitions[i].Metadata = cloneMap(t.Metadata)
		out.Transitions[i].Guards = make([]GuardDefinition, len(t.Guards))
		for j, g := range t.Guards {
			out.Transitions[i].Guards[j] = g
			out.Transitions[i].Guards[j].Params = cloneMap(g.Params)
		}
		out.Transitions[i].Actions = make([]ActionDefinition, len(t.Actions))
		for j, a := range t.Actions {
			out.Transitions[i].Actions[j] = a
			out.Transitions[i].Actions[j].Params = cloneMap(a.Params)
		}
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// IsFinal returns true if the given state is in the final-state set.
func (d *WorkflowDefinition) IsFinal(stateID string) bool {
	for _, f := range d.FinalStates {
		if f == stateID {
			return true
		}
	}
	return false
}
