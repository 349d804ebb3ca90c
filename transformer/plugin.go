package transformer

import (
	"fmt"
	"sort"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

// Phase orders plugins across the run. Every pass calls plugins in phase
// order, so model tables and resolvers exist before auth decorates them
// and before index plugins reshape keys.
type Phase int

// Plugin phases.
const (
	PhaseModel Phase = iota
	PhaseAuth
	PhaseIndex
	PhaseField
	PhaseRelational
)

func (p Phase) String() string {
	switch p {
	case PhaseModel:
		return "model"
	case PhaseAuth:
		return "auth"
	case PhaseIndex:
		return "index"
	case PhaseField:
		return "field"
	case PhaseRelational:
		return "relational"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Plugin implements one or more schema directives. Its pass behavior is
// declared by implementing the optional visitor interfaces below.
type Plugin interface {
	// Name identifies the plugin in logs and errors.
	Name() string
	// Directive returns the SDL defining the plugin's directives and the
	// input types and enums their arguments use.
	Directive() string
	// Phase returns the plugin phase.
	Phase() Phase
}

// Preparer runs once before any visit.
type Preparer interface {
	Prepare(ctx *Context) error
}

// ObjectVisitor is called for every object type carrying one of the
// plugin's directives, once per directive instance.
type ObjectVisitor interface {
	Object(ctx *Context, def *ast.Definition, dir *ast.Directive) error
}

// InterfaceVisitor is ObjectVisitor for interface types.
type InterfaceVisitor interface {
	Interface(ctx *Context, def *ast.Definition, dir *ast.Directive) error
}

// FieldVisitor is called for every field carrying one of the plugin's
// directives, once per directive instance.
type FieldVisitor interface {
	Field(ctx *Context, parent *ast.Definition, field *ast.FieldDefinition, dir *ast.Directive) error
}

// SchemaTransformer extends the output schema once every visit completed.
type SchemaTransformer interface {
	TransformSchema(ctx *Context) error
}

// ResolverGenerator synthesizes resolvers.
type ResolverGenerator interface {
	GenerateResolvers(ctx *Context) error
}

// Finalizer runs after every plugin generated its resolvers.
type Finalizer interface {
	After(ctx *Context) error
}

// Registry holds the plugins of a run ordered by phase, then by
// registration order, and the directive definitions they own.
type Registry struct {
	plugins    []Plugin
	owners     map[string]Plugin
	directives map[string]*ast.DirectiveDefinition
	sources    []*ast.Source
}

// NewRegistry parses the directive definitions of plugins. Two plugins
// defining the same directive are rejected.
func NewRegistry(plugins ...Plugin) (*Registry, error) {
	r := &Registry{
		owners:     make(map[string]Plugin),
		directives: make(map[string]*ast.DirectiveDefinition),
	}
	for _, p := range plugins {
		src := &ast.Source{Name: p.Name() + ".graphql", Input: p.Directive(), BuiltIn: true}
		doc, err := parser.ParseSchema(src)
		if err != nil {
			return nil, NewConfigError("Plugins", p.Name(), fmt.Sprintf("invalid directive definition: %v", err))
		}
		for _, def := range doc.Directives {
			if owner, ok := r.owners[def.Name]; ok {
				return nil, NewConfigError("Plugins", p.Name(),
					fmt.Sprintf("directive @%s is already defined by %s", def.Name, owner.Name()))
			}
			r.owners[def.Name] = p
			r.directives[def.Name] = def
		}
		r.sources = append(r.sources, src)
		r.plugins = append(r.plugins, p)
	}
	sort.SliceStable(r.plugins, func(i, j int) bool {
		return r.plugins[i].Phase() < r.plugins[j].Phase()
	})
	return r, nil
}

// Plugins returns the plugins in pass order.
func (r *Registry) Plugins() []Plugin { return r.plugins }

// Owner returns the plugin defining the directive.
func (r *Registry) Owner(directive string) (Plugin, bool) {
	p, ok := r.owners[directive]
	return p, ok
}

// Owns reports whether p defines the directive.
func (r *Registry) Owns(p Plugin, directive string) bool {
	owner, ok := r.owners[directive]
	return ok && owner == p
}

// Definition returns the definition of a plugin directive.
func (r *Registry) Definition(directive string) (*ast.DirectiveDefinition, bool) {
	d, ok := r.directives[directive]
	return d, ok
}

// Sources returns the SDL sources of every plugin.
func (r *Registry) Sources() []*ast.Source { return r.sources }
