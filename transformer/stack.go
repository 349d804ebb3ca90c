package transformer

import (
	"fmt"
	"slices"
)

// Resource is one resource of a stack template.
type Resource struct {
	Type           string         `json:"Type" yaml:"Type" msgpack:"Type"`
	Properties     map[string]any `json:"Properties,omitempty" yaml:"Properties,omitempty" msgpack:"Properties,omitempty"`
	DependsOn      []string       `json:"DependsOn,omitempty" yaml:"DependsOn,omitempty" msgpack:"DependsOn,omitempty"`
	Condition      string         `json:"Condition,omitempty" yaml:"Condition,omitempty" msgpack:"Condition,omitempty"`
	DeletionPolicy string         `json:"DeletionPolicy,omitempty" yaml:"DeletionPolicy,omitempty" msgpack:"DeletionPolicy,omitempty"`
}

// Parameter is a stack parameter.
type Parameter struct {
	Type          string   `json:"Type" yaml:"Type" msgpack:"Type"`
	Default       any      `json:"Default,omitempty" yaml:"Default,omitempty" msgpack:"Default,omitempty"`
	AllowedValues []string `json:"AllowedValues,omitempty" yaml:"AllowedValues,omitempty" msgpack:"AllowedValues,omitempty"`
	Description   string   `json:"Description,omitempty" yaml:"Description,omitempty" msgpack:"Description,omitempty"`
}

// Output is a stack output.
type Output struct {
	Description string `json:"Description,omitempty" yaml:"Description,omitempty" msgpack:"Description,omitempty"`
	Value       any    `json:"Value" yaml:"Value" msgpack:"Value"`
}

// Template is the serialized form of a stack.
type Template struct {
	Description string                `json:"Description,omitempty" yaml:"Description,omitempty" msgpack:"Description,omitempty"`
	Parameters  map[string]*Parameter `json:"Parameters,omitempty" yaml:"Parameters,omitempty" msgpack:"Parameters,omitempty"`
	Conditions  map[string]any        `json:"Conditions,omitempty" yaml:"Conditions,omitempty" msgpack:"Conditions,omitempty"`
	Resources   map[string]*Resource  `json:"Resources" yaml:"Resources" msgpack:"Resources"`
	Outputs     map[string]*Output    `json:"Outputs,omitempty" yaml:"Outputs,omitempty" msgpack:"Outputs,omitempty"`
}

// Ref returns an intrinsic reference to a parameter or resource.
func Ref(name string) map[string]any { return map[string]any{"Ref": name} }

// GetAtt returns an intrinsic attribute lookup.
func GetAtt(resource, attr string) map[string]any {
	return map[string]any{"Fn::GetAtt": []any{resource, attr}}
}

// Sub returns an intrinsic string substitution.
func Sub(format string) map[string]any { return map[string]any{"Fn::Sub": format} }

// Fn returns the intrinsic function Fn::name applied to args.
func Fn(name string, args ...any) map[string]any {
	return map[string]any{"Fn::" + name: args}
}

// Stack is a named group of resources deployed together.
type Stack struct {
	Name        string
	Description string
	resources   map[string]*Resource
	order       []string
	parameters  map[string]*Parameter
	conditions  map[string]any
	outputs     map[string]*Output
}

func newStack(name string) *Stack {
	return &Stack{
		Name:       name,
		resources:  make(map[string]*Resource),
		parameters: make(map[string]*Parameter),
		conditions: make(map[string]any),
		outputs:    make(map[string]*Output),
	}
}

// AddResource adds r under the logical id. Ids are unique per stack.
func (s *Stack) AddResource(id string, r *Resource) error {
	if _, ok := s.resources[id]; ok {
		return NewResourceConsistencyError("resource", id, fmt.Sprintf("already defined in stack %s", s.Name))
	}
	s.resources[id] = r
	s.order = append(s.order, id)
	return nil
}

// Resource returns the resource with the given logical id.
func (s *Stack) Resource(id string) (*Resource, bool) {
	r, ok := s.resources[id]
	return r, ok
}

// ResourceIDs returns the logical ids in insertion order.
func (s *Stack) ResourceIDs() []string { return slices.Clone(s.order) }

// AddParameter declares a parameter.
func (s *Stack) AddParameter(name string, p *Parameter) { s.parameters[name] = p }

// AddCondition declares a condition.
func (s *Stack) AddCondition(name string, cond any) { s.conditions[name] = cond }

// AddOutput declares an output.
func (s *Stack) AddOutput(name string, o *Output) { s.outputs[name] = o }

// Template returns the serialized form of the stack.
func (s *Stack) Template() *Template {
	t := &Template{Description: s.Description, Resources: make(map[string]*Resource, len(s.resources))}
	for id, r := range s.resources {
		t.Resources[id] = r
	}
	if len(s.parameters) > 0 {
		t.Parameters = s.parameters
	}
	if len(s.conditions) > 0 {
		t.Conditions = s.conditions
	}
	if len(s.outputs) > 0 {
		t.Outputs = s.outputs
	}
	return t
}

// RootStackName is the name of the stack holding API-wide resources.
const RootStackName = "root"

// StackManager owns the stacks of a run. Each logical name maps to exactly
// one stack.
type StackManager struct {
	root      *Stack
	stacks    map[string]*Stack
	order     []string
	mapping   map[string]string
	placement map[string]string
}

// NewStackManager returns a manager that applies the user stack mapping
// (resource id to stack name) when resolving scopes.
func NewStackManager(mapping map[string]string) *StackManager {
	return &StackManager{
		root:      newStack(RootStackName),
		stacks:    make(map[string]*Stack),
		mapping:   mapping,
		placement: make(map[string]string),
	}
}

// Root returns the root stack.
func (m *StackManager) Root() *Stack { return m.root }

// CreateStack returns the stack named name, creating it on first use.
func (m *StackManager) CreateStack(name string) *Stack {
	if name == "" || name == RootStackName {
		return m.root
	}
	if s, ok := m.stacks[name]; ok {
		return s
	}
	s := newStack(name)
	m.stacks[name] = s
	m.order = append(m.order, name)
	return s
}

// HasStack reports whether a stack named name exists.
func (m *StackManager) HasStack(name string) bool {
	_, ok := m.stacks[name]
	return ok
}

// GetStack returns the stack named name.
func (m *StackManager) GetStack(name string) (*Stack, bool) {
	if name == RootStackName {
		return m.root, true
	}
	s, ok := m.stacks[name]
	return s, ok
}

// GetScopeFor returns the stack a resource belongs to: the stack named in
// the user mapping if there is one, otherwise defaultStack.
func (m *StackManager) GetScopeFor(resourceID, defaultStack string) *Stack {
	name := defaultStack
	if mapped, ok := m.mapping[resourceID]; ok && mapped != "" {
		name = mapped
	}
	s := m.CreateStack(name)
	m.placement[resourceID] = s.Name
	return s
}

// Stacks returns the nested stacks in creation order.
func (m *StackManager) Stacks() []*Stack {
	out := make([]*Stack, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.stacks[name])
	}
	return out
}

// Placement returns the stack chosen for every resource resolved through
// GetScopeFor.
func (m *StackManager) Placement() map[string]string {
	out := make(map[string]string, len(m.placement))
	for k, v := range m.placement {
		out[k] = v
	}
	return out
}
