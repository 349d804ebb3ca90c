// Package sql implements @sql, which binds a Query or Mutation field to a
// statement run by the SQL lambda of relational models.
package sql

import (
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"

	"github.com/ShadowCat567/amplify-category-api/dialect/rds"
	"github.com/ShadowCat567/amplify-category-api/plugin/model"
	"github.com/ShadowCat567/amplify-category-api/transformer"
)

const directiveSDL = `
directive @sql(statement: String, reference: String) on FIELD_DEFINITION
`

// StackName is the stack holding the @sql resolvers.
const StackName = "CustomSQLStack"

// MissingCustomQuery is the statement of a reference that could not be
// resolved. Validation rejects such references before it is ever used.
const MissingCustomQuery = "MISSING_CUSTOM_QUERY"

// Config is one visited @sql.
type Config struct {
	Statement string `mapstructure:"statement"`
	Reference string `mapstructure:"reference"`

	typeName  string
	fieldName string
}

// Plugin implements @sql.
type Plugin struct {
	fields []*Config
}

var (
	_ transformer.Preparer          = (*Plugin)(nil)
	_ transformer.FieldVisitor      = (*Plugin)(nil)
	_ transformer.ResolverGenerator = (*Plugin)(nil)
)

// New returns the @sql plugin.
func New() *Plugin { return &Plugin{} }

// Name implements transformer.Plugin.
func (*Plugin) Name() string { return "SqlTransformer" }

// Directive implements transformer.Plugin.
func (*Plugin) Directive() string { return directiveSDL }

// Phase implements transformer.Plugin.
func (*Plugin) Phase() transformer.Phase { return transformer.PhaseField }

// Prepare implements transformer.Preparer.
func (p *Plugin) Prepare(*transformer.Context) error {
	p.fields = nil
	return nil
}

// Field implements transformer.FieldVisitor.
func (p *Plugin) Field(ctx *transformer.Context, parent *ast.Definition, field *ast.FieldDefinition, dir *ast.Directive) error {
	check := fmt.Sprintf("Check type %q and field %q.", parent.Name, field.Name)
	if parent.Name != transformer.QueryTypeName && parent.Name != transformer.MutationTypeName {
		return transformer.NewInvalidDirectiveError("sql", parent.Name, field.Name,
			"@sql directive can only be used on Query or Mutation types. "+check)
	}
	c := &Config{typeName: parent.Name, fieldName: field.Name}
	if err := ctx.Directive(dir, parent.Name, field.Name).Arguments(c, nil); err != nil {
		return err
	}
	switch {
	case c.Statement == "" && c.Reference == "":
		return transformer.NewInvalidDirectiveError("sql", parent.Name, field.Name,
			"@sql directive must have either a 'statement' or 'reference' argument. "+check)
	case c.Statement != "" && c.Reference != "":
		return transformer.NewInvalidDirectiveError("sql", parent.Name, field.Name,
			"@sql directive can have either a 'statement' or a 'reference' argument but not both. "+check)
	case c.Reference != "":
		if _, ok := ctx.Config.CustomQueries[c.Reference]; !ok {
			return transformer.NewInvalidDirectiveError("sql", parent.Name, field.Name, fmt.Sprintf(
				"@sql directive 'reference' argument must be a valid custom query name. %s The custom query %q does not exist in \"sql-statements\" directory.",
				check, c.Reference))
		}
	}
	p.fields = append(p.fields, c)
	return nil
}

// GenerateResolvers implements transformer.ResolverGenerator.
func (p *Plugin) GenerateResolvers(ctx *transformer.Context) error {
	if len(p.fields) == 0 {
		return nil
	}
	engine := model.RelationalEngine(ctx)
	ds, err := model.SQLDataSource(ctx, engine)
	if err != nil {
		return err
	}
	st := ctx.Stacks.CreateStack(StackName)
	st.Description = "An auto-generated nested stack for the @sql directive."
	for _, c := range p.fields {
		statement := c.Statement
		if c.Reference != "" {
			statement = ctx.Config.CustomQueries[c.Reference]
		}
		if statement == "" {
			statement = MissingCustomQuery
		}
		req := transformer.InlineTemplate(rds.RawSQLRequestTemplate(statement, c.fieldName))
		res := transformer.InlineTemplate(rds.ResponseTemplate())
		var r *transformer.Resolver
		if c.typeName == transformer.MutationTypeName {
			r = ctx.Resolvers.GenerateMutationResolver(c.typeName, c.fieldName, ds.Name, req, res)
		} else {
			r = ctx.Resolvers.GenerateQueryResolver(c.typeName, c.fieldName, ds.Name, req, res)
		}
		r.SetScope(ctx.Stacks.GetScopeFor(r.ResourceID, StackName).Name)
		ctx.Logger.Debug("sql resolver", "field", r.Key(), "engine", engine, "reference", c.Reference)
	}
	return nil
}
