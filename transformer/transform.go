package transformer

import (
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"
)

// State is the pass a GraphQLTransform is in.
type State int

// Transform states, in run order. StateFailed is set when any pass fails.
const (
	StateInit State = iota
	StateValidating
	StateVisiting
	StateTransformSchema
	StateGeneratingResolvers
	StateAfter
	StateOverriding
	StateFinalized
	StateFailed
)

var stateNames = [...]string{
	StateInit:                "init",
	StateValidating:          "validating",
	StateVisiting:            "visiting",
	StateTransformSchema:     "transformSchema",
	StateGeneratingResolvers: "generatingResolvers",
	StateAfter:               "after",
	StateOverriding:          "overriding",
	StateFinalized:           "finalized",
	StateFailed:              "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// SynthesizeFunc renders a finished context into deployment resources.
type SynthesizeFunc func(ctx *Context) (*DeploymentResources, error)

// Hook wraps the synthesis step. Hooks run in the order they were added,
// the first being the outermost.
//
//	func logBuild(next transformer.SynthesizeFunc) transformer.SynthesizeFunc {
//		return func(ctx *transformer.Context) (*transformer.DeploymentResources, error) {
//			out, err := next(ctx)
//			if err == nil {
//				ctx.Logger.Info("synthesized", "build", out.BuildID)
//			}
//			return out, err
//		}
//	}
type Hook func(next SynthesizeFunc) SynthesizeFunc

// GraphQLTransform compiles annotated SDL into deployment resources. A
// transform may run several times; every run starts from a fresh context.
// It is not safe for concurrent use.
type GraphQLTransform struct {
	config   *Config
	registry *Registry
	state    State
}

// New returns a transform configured by opts.
func New(opts ...Option) (*GraphQLTransform, error) {
	cfg, err := NewConfig(opts...)
	if err != nil {
		return nil, err
	}
	return NewFromConfig(cfg)
}

// NewFromConfig returns a transform for a config built by the caller.
func NewFromConfig(cfg *Config) (*GraphQLTransform, error) {
	cfg.defaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	registry, err := NewRegistry(cfg.Plugins...)
	if err != nil {
		return nil, err
	}
	return &GraphQLTransform{config: cfg, registry: registry}, nil
}

// State returns the pass of the last run.
func (t *GraphQLTransform) State() State { return t.state }

// Config returns the configuration of the transform.
func (t *GraphQLTransform) Config() *Config { return t.config }

func (t *GraphQLTransform) enter(s State) {
	t.state = s
	t.config.Logger.Debug("transform pass", "state", s.String())
}

func (t *GraphQLTransform) fail(err error) error {
	t.state = StateFailed
	return err
}

// Validate parses and validates sdl without generating resources.
func (t *GraphQLTransform) Validate(sdl string) (*ast.Schema, error) {
	t.enter(StateValidating)
	doc, err := parseDocument(sdl)
	if err != nil {
		return nil, t.fail(err)
	}
	schema, err := validateDocument(sdl, doc, t.registry)
	if err != nil {
		return nil, t.fail(err)
	}
	return schema, nil
}

// Transform compiles sdl. No resources are returned when any pass fails.
func (t *GraphQLTransform) Transform(sdl string) (*DeploymentResources, error) {
	ctx, err := t.run(sdl)
	if err != nil {
		return nil, t.fail(err)
	}
	overridden, err := t.override(ctx)
	if err != nil {
		return nil, t.fail(err)
	}
	t.enter(StateFinalized)
	synth := func(ctx *Context) (*DeploymentResources, error) {
		return synthesize(ctx, overridden)
	}
	for i := len(t.config.Hooks) - 1; i >= 0; i-- {
		synth = t.config.Hooks[i](synth)
	}
	out, err := synth(ctx)
	if err != nil {
		return nil, t.fail(err)
	}
	return out, nil
}

// run executes the plugin passes and returns the populated context.
func (t *GraphQLTransform) run(sdl string) (*Context, error) {
	schema, err := t.Validate(sdl)
	if err != nil {
		return nil, err
	}
	input, err := parseDocument(sdl)
	if err != nil {
		return nil, err
	}
	output, err := parseDocument(sdl)
	if err != nil {
		return nil, err
	}
	ctx := NewContext(t.config, t.registry, input, schema, output)
	plugins := t.registry.Plugins()
	for _, p := range plugins {
		if pp, ok := p.(Preparer); ok {
			if err := pp.Prepare(ctx); err != nil {
				return nil, pluginError(p, err)
			}
		}
	}
	t.enter(StateVisiting)
	for _, p := range plugins {
		if err := t.visit(ctx, p); err != nil {
			return nil, pluginError(p, err)
		}
	}
	t.enter(StateTransformSchema)
	for _, p := range plugins {
		if st, ok := p.(SchemaTransformer); ok {
			if err := st.TransformSchema(ctx); err != nil {
				return nil, pluginError(p, err)
			}
		}
	}
	t.enter(StateGeneratingResolvers)
	for _, p := range plugins {
		if g, ok := p.(ResolverGenerator); ok {
			if err := g.GenerateResolvers(ctx); err != nil {
				return nil, pluginError(p, err)
			}
		}
	}
	t.enter(StateAfter)
	for _, p := range plugins {
		if f, ok := p.(Finalizer); ok {
			if err := f.After(ctx); err != nil {
				return nil, pluginError(p, err)
			}
		}
	}
	return ctx, nil
}

// visit calls p for every directive instance it owns, in document order.
func (t *GraphQLTransform) visit(ctx *Context, p Plugin) error {
	ov, _ := p.(ObjectVisitor)
	iv, _ := p.(InterfaceVisitor)
	fv, _ := p.(FieldVisitor)
	for _, def := range ctx.Input.Definitions {
		for _, dir := range def.Directives {
			if !t.registry.Owns(p, dir.Name) {
				continue
			}
			switch {
			case def.Kind == ast.Object && ov != nil:
				if err := ov.Object(ctx, def, dir); err != nil {
					return err
				}
			case def.Kind == ast.Interface && iv != nil:
				if err := iv.Interface(ctx, def, dir); err != nil {
					return err
				}
			}
		}
		if fv == nil || (def.Kind != ast.Object && def.Kind != ast.Interface) {
			continue
		}
		for _, field := range def.Fields {
			for _, dir := range field.Directives {
				if !t.registry.Owns(p, dir.Name) {
					continue
				}
				if err := fv.Field(ctx, def, field, dir); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// override splices user templates into the generated resolvers.
func (t *GraphQLTransform) override(ctx *Context) ([]string, error) {
	t.enter(StateOverriding)
	templates, err := t.config.userTemplates()
	if err != nil {
		return nil, err
	}
	if len(templates) == 0 {
		return nil, nil
	}
	slots, skipped := ParseUserDefinedSlots(templates)
	for _, name := range skipped {
		t.config.Logger.Debug("skipping override with unrecognized name", "file", name)
	}
	return applyOverrides(ctx, slots)
}

// pluginError names the plugin on untyped errors. Typed errors already
// carry the type, field and directive.
func pluginError(p Plugin, err error) error {
	if IsSchemaValidationError(err) || IsInvalidDirectiveError(err) ||
		IsResourceConsistencyError(err) || IsConfigError(err) {
		return err
	}
	return fmt.Errorf("transform: plugin %s: %w", p.Name(), err)
}
