// Package model implements the @model directive: it turns an object type
// into a stored entity with its table or relational binding, the CRUD
// operations of the API and their resolvers. It also owns @default and
// @refersTo, which only make sense on model types.
package model

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/vektah/gqlparser/v2/ast"

	"github.com/ShadowCat567/amplify-category-api/transformer"
)

const directiveSDL = `
directive @model(
  queries: ModelQueryMap
  mutations: ModelMutationMap
  subscriptions: ModelSubscriptionMap
  timestamps: TimestampConfiguration
) on OBJECT

input ModelQueryMap {
  get: String
  list: String
}

input ModelMutationMap {
  create: String
  update: String
  delete: String
}

input ModelSubscriptionMap {
  onCreate: [String]
  onUpdate: [String]
  onDelete: [String]
  level: ModelSubscriptionLevel
}

enum ModelSubscriptionLevel {
  off
  public
  on
}

input TimestampConfiguration {
  createdAt: String
  updatedAt: String
}

directive @default(value: String!) on FIELD_DEFINITION

directive @refersTo(name: String!) on OBJECT | FIELD_DEFINITION
`

// Subscription levels.
const (
	SubscriptionLevelOff    = "off"
	SubscriptionLevelPublic = "public"
	SubscriptionLevelOn     = "on"
)

// QueryMap names the generated queries. A nil name disables the query.
type QueryMap struct {
	Get  *string `mapstructure:"get"`
	List *string `mapstructure:"list"`
}

// MutationMap names the generated mutations. A nil name disables the
// mutation.
type MutationMap struct {
	Create *string `mapstructure:"create"`
	Update *string `mapstructure:"update"`
	Delete *string `mapstructure:"delete"`
}

// SubscriptionMap names the generated subscriptions.
type SubscriptionMap struct {
	OnCreate []string `mapstructure:"onCreate"`
	OnUpdate []string `mapstructure:"onUpdate"`
	OnDelete []string `mapstructure:"onDelete"`
	Level    string   `mapstructure:"level"`
}

// TimestampConfiguration names the managed timestamp fields. A nil name
// disables the timestamp.
type TimestampConfiguration struct {
	CreatedAt *string `mapstructure:"createdAt"`
	UpdatedAt *string `mapstructure:"updatedAt"`
}

// Directive is the decoded configuration of one @model.
type Directive struct {
	Queries       *QueryMap               `mapstructure:"queries"`
	Mutations     *MutationMap            `mapstructure:"mutations"`
	Subscriptions *SubscriptionMap        `mapstructure:"subscriptions"`
	Timestamps    *TimestampConfiguration `mapstructure:"timestamps"`
}

func defaultsFor(typeName string) map[string]any {
	return map[string]any{
		"queries": map[string]any{
			"get":  transformer.GetQueryName(typeName),
			"list": transformer.ListQueryName(typeName),
		},
		"mutations": map[string]any{
			"create": transformer.CreateMutationName(typeName),
			"update": transformer.UpdateMutationName(typeName),
			"delete": transformer.DeleteMutationName(typeName),
		},
		"subscriptions": map[string]any{
			"onCreate": []any{transformer.OnCreateSubscriptionName(typeName)},
			"onUpdate": []any{transformer.OnUpdateSubscriptionName(typeName)},
			"onDelete": []any{transformer.OnDeleteSubscriptionName(typeName)},
			"level":    SubscriptionLevelOn,
		},
		"timestamps": map[string]any{
			"createdAt": "createdAt",
			"updatedAt": "updatedAt",
		},
	}
}

func str(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// model is a visited @model type.
type model struct {
	def       *ast.Definition
	directive Directive
}

func (m *model) name() string { return m.def.Name }

// Plugin implements @model, @default and @refersTo. A Plugin may be reused
// across runs; its state is reset by Prepare.
type Plugin struct {
	models   []*model
	byName   map[string]*model
	defaults map[string][]defaultValue
}

var (
	_ transformer.Preparer          = (*Plugin)(nil)
	_ transformer.ObjectVisitor     = (*Plugin)(nil)
	_ transformer.FieldVisitor      = (*Plugin)(nil)
	_ transformer.SchemaTransformer = (*Plugin)(nil)
	_ transformer.ResolverGenerator = (*Plugin)(nil)
)

// New returns the @model plugin.
func New() *Plugin { return &Plugin{} }

// Name implements transformer.Plugin.
func (*Plugin) Name() string { return "ModelTransformer" }

// Directive implements transformer.Plugin.
func (*Plugin) Directive() string { return directiveSDL }

// Phase implements transformer.Plugin.
func (*Plugin) Phase() transformer.Phase { return transformer.PhaseModel }

// Prepare implements transformer.Preparer.
func (p *Plugin) Prepare(*transformer.Context) error {
	p.models = nil
	p.byName = make(map[string]*model)
	p.defaults = make(map[string][]defaultValue)
	return nil
}

// Config returns the decoded @model configuration of typeName.
func (p *Plugin) Config(typeName string) (Directive, bool) {
	m, ok := p.byName[typeName]
	if !ok {
		return Directive{}, false
	}
	return m.directive, true
}

// Object implements transformer.ObjectVisitor.
func (p *Plugin) Object(ctx *transformer.Context, def *ast.Definition, dir *ast.Directive) error {
	switch dir.Name {
	case "model":
		return p.visitModel(ctx, def, dir)
	case "refersTo":
		return p.visitTableRename(ctx, def, dir)
	}
	return nil
}

// DirectiveOf decodes the @model configuration of def with its defaults
// applied. Other plugins use it to find the operations of a model.
func DirectiveOf(ctx *transformer.Context, def *ast.Definition) (Directive, error) {
	var d Directive
	dir := def.Directives.ForName("model")
	if dir == nil {
		return d, transformer.NewInvalidDirectiveError("model", def.Name, "", "type is not annotated with @model")
	}
	err := ctx.Directive(dir, def.Name, "").Arguments(&d, defaultsFor(def.Name))
	return d, err
}

func (p *Plugin) visitModel(ctx *transformer.Context, def *ast.Definition, dir *ast.Directive) error {
	switch def.Name {
	case transformer.QueryTypeName, transformer.MutationTypeName, transformer.SubscriptionTypeName:
		return transformer.NewInvalidDirectiveError("model", def.Name, "",
			fmt.Sprintf("'%s' is a reserved type name and currently in use within the default schema element.", def.Name))
	}
	if _, ok := p.byName[def.Name]; ok {
		return transformer.NewInvalidDirectiveError("model", def.Name, "", "@model may only be used once per type")
	}
	m := &model{def: def}
	if err := ctx.Directive(dir, def.Name, "").Arguments(&m.directive, defaultsFor(def.Name)); err != nil {
		return err
	}
	if s := m.directive.Subscriptions; s != nil {
		if s.OnCreate == nil && s.OnUpdate == nil && s.OnDelete == nil {
			s.OnCreate = []string{transformer.OnCreateSubscriptionName(def.Name)}
			s.OnUpdate = []string{transformer.OnUpdateSubscriptionName(def.Name)}
			s.OnDelete = []string{transformer.OnDeleteSubscriptionName(def.Name)}
		}
		switch s.Level {
		case "":
			s.Level = SubscriptionLevelOn
		case SubscriptionLevelOff, SubscriptionLevelPublic, SubscriptionLevelOn:
		default:
			return transformer.NewInvalidDirectiveError("model", def.Name, "", "unknown subscription level "+s.Level)
		}
	}
	p.models = append(p.models, m)
	p.byName[def.Name] = m
	return nil
}

func (p *Plugin) visitTableRename(ctx *transformer.Context, def *ast.Definition, dir *ast.Directive) error {
	if !ctx.IsRelational(def.Name) {
		return transformer.NewInvalidDirectiveError("refersTo", def.Name, "", "@refersTo is not supported on DynamoDB models.")
	}
	if def.Directives.ForName("model") == nil {
		return transformer.NewInvalidDirectiveError("refersTo", def.Name, "", "@refersTo is not supported on non-model types.")
	}
	var args struct {
		Name string `mapstructure:"name"`
	}
	if err := ctx.Directive(dir, def.Name, "").Arguments(&args, nil); err != nil {
		return err
	}
	ctx.SetModelNameMapping(def.Name, args.Name)
	return nil
}

// Field implements transformer.FieldVisitor.
func (p *Plugin) Field(ctx *transformer.Context, parent *ast.Definition, field *ast.FieldDefinition, dir *ast.Directive) error {
	switch dir.Name {
	case "default":
		return p.visitDefault(ctx, parent, field, dir)
	case "refersTo":
		return p.visitColumnRename(ctx, parent, field, dir)
	}
	return nil
}

func (p *Plugin) visitColumnRename(ctx *transformer.Context, parent *ast.Definition, field *ast.FieldDefinition, dir *ast.Directive) error {
	if !ctx.IsRelational(parent.Name) {
		return transformer.NewInvalidDirectiveError("refersTo", parent.Name, field.Name, "@refersTo is not supported on DynamoDB models.")
	}
	var args struct {
		Name string `mapstructure:"name"`
	}
	if err := ctx.Directive(dir, parent.Name, field.Name).Arguments(&args, nil); err != nil {
		return err
	}
	for _, f := range parent.Fields {
		if f != field && ctx.FieldNameMapping(parent.Name, f.Name) == args.Name {
			return transformer.NewInvalidDirectiveError("refersTo", parent.Name, field.Name,
				fmt.Sprintf("Cannot map field '%s' to column '%s', the column is already used by field '%s'.", field.Name, args.Name, f.Name))
		}
	}
	ctx.SetFieldNameMapping(parent.Name, field.Name, args.Name)
	return nil
}

func (p *Plugin) visitDefault(ctx *transformer.Context, parent *ast.Definition, field *ast.FieldDefinition, dir *ast.Directive) error {
	invalid := func(msg string) error {
		return transformer.NewInvalidDirectiveError("default", parent.Name, field.Name, msg)
	}
	if parent.Directives.ForName("model") == nil {
		return invalid("The @default directive may only be added to object definitions annotated with @model.")
	}
	if field.Type.Elem != nil {
		return invalid("The @default directive may not be applied to list fields.")
	}
	typ := ctx.Schema.Types[field.Type.NamedType]
	if typ == nil || (typ.Kind != ast.Scalar && typ.Kind != ast.Enum) {
		return invalid("The @default directive may only be applied to scalar or enum fields.")
	}
	var args struct {
		Value string `mapstructure:"value"`
	}
	if err := ctx.Directive(dir, parent.Name, field.Name).Arguments(&args, nil); err != nil {
		return err
	}
	if err := validateDefault(typ, args.Value); err != nil {
		return invalid(err.Error())
	}
	p.defaults[parent.Name] = append(p.defaults[parent.Name], defaultValue{
		field:  field.Name,
		value:  args.Value,
		scalar: typ.Name,
	})
	return nil
}

func validateDefault(typ *ast.Definition, value string) error {
	bad := fmt.Errorf("Default value %q is not a valid %s.", value, typ.Name)
	switch {
	case typ.Kind == ast.Enum:
		if typ.EnumValues.ForName(value) == nil {
			return bad
		}
	case typ.Name == "Int", typ.Name == "AWSTimestamp":
		if _, err := strconv.Atoi(value); err != nil {
			return bad
		}
	case typ.Name == "Float":
		if _, err := strconv.ParseFloat(value, 64); err != nil {
			return bad
		}
	case typ.Name == "Boolean":
		if _, err := strconv.ParseBool(value); err != nil || (value != "true" && value != "false") {
			return bad
		}
	case typ.Name == "AWSJSON":
		if !json.Valid([]byte(value)) {
			return bad
		}
	}
	return nil
}
