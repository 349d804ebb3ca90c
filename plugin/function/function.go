// Package function implements @function, which resolves a field by
// invoking one or more Lambda functions in sequence.
package function

import (
	"strings"

	"github.com/vektah/gqlparser/v2/ast"

	"github.com/ShadowCat567/amplify-category-api/transformer"
	"github.com/ShadowCat567/amplify-category-api/vtl"
)

const directiveSDL = `
directive @function(name: String!, region: String) repeatable on FIELD_DEFINITION
`

// StackName is the stack holding the @function resources.
const StackName = "FunctionDirectiveStack"

// envPlaceholder is replaced by the environment name when one is deployed
// and dropped, with its leading dash, otherwise.
const envPlaceholder = "${env}"

// Config is one visited @function.
type Config struct {
	Name   string `mapstructure:"name"`
	Region string `mapstructure:"region"`
}

type binding struct {
	typeName, fieldName string
	invocations         []Config
}

// Plugin implements @function.
type Plugin struct {
	fields []*binding
	byKey  map[string]*binding
}

var (
	_ transformer.Preparer          = (*Plugin)(nil)
	_ transformer.FieldVisitor      = (*Plugin)(nil)
	_ transformer.ResolverGenerator = (*Plugin)(nil)
)

// New returns the @function plugin.
func New() *Plugin { return &Plugin{} }

// Name implements transformer.Plugin.
func (*Plugin) Name() string { return "FunctionTransformer" }

// Directive implements transformer.Plugin.
func (*Plugin) Directive() string { return directiveSDL }

// Phase implements transformer.Plugin.
func (*Plugin) Phase() transformer.Phase { return transformer.PhaseField }

// Prepare implements transformer.Preparer.
func (p *Plugin) Prepare(*transformer.Context) error {
	p.fields = nil
	p.byKey = make(map[string]*binding)
	return nil
}

// Field implements transformer.FieldVisitor. Repeated directives on one
// field chain their invocations in document order.
func (p *Plugin) Field(ctx *transformer.Context, parent *ast.Definition, field *ast.FieldDefinition, dir *ast.Directive) error {
	var c Config
	if err := ctx.Directive(dir, parent.Name, field.Name).Arguments(&c, nil); err != nil {
		return err
	}
	if strings.TrimSpace(c.Name) == "" {
		return transformer.NewInvalidDirectiveError("function", parent.Name, field.Name, "The @function directive requires a non-empty name.")
	}
	key := parent.Name + "." + field.Name
	b, ok := p.byKey[key]
	if !ok {
		b = &binding{typeName: parent.Name, fieldName: field.Name}
		p.byKey[key] = b
		p.fields = append(p.fields, b)
	}
	b.invocations = append(b.invocations, c)
	return nil
}

// GenerateResolvers implements transformer.ResolverGenerator.
func (p *Plugin) GenerateResolvers(ctx *transformer.Context) error {
	if len(p.fields) == 0 {
		return nil
	}
	ctx.Stacks.CreateStack(StackName)
	req := transformer.InlineTemplate(InvocationRequestTemplate())
	res := transformer.InlineTemplate(InvocationResponseTemplate())
	for _, b := range p.fields {
		var r *transformer.Resolver
		for i, c := range b.invocations {
			ds := dataSource(ctx, c)
			if i == 0 {
				r = ctx.Resolvers.GenerateQueryResolver(b.typeName, b.fieldName, ds.Name, req, res)
				r.SetScope(ctx.Stacks.GetScopeFor(r.ResourceID, StackName).Name)
				continue
			}
			if err := r.AddToSlot(transformer.SlotPostDataLoad, req, res, ds.Name); err != nil {
				return err
			}
		}
		ctx.Logger.Debug("function resolver", "field", r.Key(), "invocations", len(b.invocations))
	}
	return nil
}

// DataSourceName returns the datasource invoking the named function.
func DataSourceName(c Config) string {
	return transformer.UcFirst(transformer.GraphQLName(c.Name+c.Region)) + "LambdaDataSource"
}

func dataSource(ctx *transformer.Context, c Config) *transformer.DataSource {
	name := DataSourceName(c)
	if ds, ok := ctx.DataSources.GetDataSource(name); ok {
		return ds
	}
	return ctx.DataSources.AddDataSource(&transformer.DataSource{
		Name:        name,
		Kind:        transformer.KindLambda,
		FunctionARN: FunctionARN(c),
		ServiceRole: strings.TrimSuffix(name, "DataSource") + "Role",
		Stack:       StackName,
	})
}

// FunctionARN returns the ARN of the invoked function. A name carrying
// ${env} resolves against the env parameter, or without the suffix when no
// environment is deployed.
func FunctionARN(c Config) any {
	region := "${AWS::Region}"
	if c.Region != "" {
		region = c.Region
	}
	arn := func(name string) string {
		return "arn:aws:lambda:" + region + ":${AWS::AccountId}:function:" + name
	}
	if !strings.Contains(c.Name, envPlaceholder) {
		return transformer.Sub(arn(c.Name))
	}
	return transformer.Fn("If", transformer.CondHasEnvironmentParameter,
		transformer.Fn("Sub", arn(c.Name), map[string]any{"env": transformer.Ref(transformer.ParamEnv)}),
		transformer.Sub(arn(strings.ReplaceAll(c.Name, "-"+envPlaceholder, ""))),
	)
}

// InvocationRequestTemplate renders the Invoke request. The previous
// function result travels in prev, so chained functions see it.
func InvocationRequestTemplate() string {
	return vtl.PrintBlock("Invoke AWS Lambda data source")(vtl.Obj(
		vtl.KV("version", vtl.Str(vtl.ResolverVersionID)),
		vtl.KV("operation", vtl.Str("Invoke")),
		vtl.KV("payload", vtl.Obj(
			vtl.KV("typeName", vtl.ToJSON(vtl.MethodCall("ctx.stash.get", vtl.Str("typeName")))),
			vtl.KV("fieldName", vtl.ToJSON(vtl.MethodCall("ctx.stash.get", vtl.Str("fieldName")))),
			vtl.KV("arguments", vtl.ToJSON(vtl.Ref("ctx.arguments"))),
			vtl.KV("identity", vtl.ToJSON(vtl.Ref("ctx.identity"))),
			vtl.KV("source", vtl.ToJSON(vtl.Ref("ctx.source"))),
			vtl.KV("request", vtl.ToJSON(vtl.Ref("ctx.request"))),
			vtl.KV("prev", vtl.ToJSON(vtl.Ref("ctx.prev"))),
		)),
	))
}

// InvocationResponseTemplate raises invocation errors and returns the
// function result.
func InvocationResponseTemplate() string {
	return vtl.PrintBlock("Handle error or return result")(vtl.Compound(
		vtl.IfInline(vtl.Ref("ctx.error"), vtl.MethodCall("util.error", vtl.Ref("ctx.error.message"), vtl.Ref("ctx.error.type"))),
		vtl.ToJSON(vtl.Ref("ctx.result")),
	))
}
