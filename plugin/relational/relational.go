// Package relational implements @hasOne, @hasMany and @belongsTo. A
// relationship stores the key of the connected items in connection fields
// and resolves the relationship field by reading the connected model table.
package relational

import (
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"

	"github.com/ShadowCat567/amplify-category-api/transformer"
)

const directiveSDL = `
directive @hasOne(fields: [String!]) on FIELD_DEFINITION

directive @hasMany(indexName: String, fields: [String!], limit: Int = 100) on FIELD_DEFINITION

directive @belongsTo(fields: [String!]) on FIELD_DEFINITION
`

// StackName is the stack holding the relationship resolvers.
const StackName = "ConnectionStack"

// Relationship directives.
const (
	HasOne    = "hasOne"
	HasMany   = "hasMany"
	BelongsTo = "belongsTo"
)

// Config is one visited relationship.
type Config struct {
	Directive string               `mapstructure:"-"`
	Object    *ast.Definition      `mapstructure:"-"`
	Field     *ast.FieldDefinition `mapstructure:"-"`
	Related   *ast.Definition      `mapstructure:"-"`
	IndexName string               `mapstructure:"indexName"`
	Fields    []string             `mapstructure:"fields"`
	Limit     int                  `mapstructure:"limit"`

	// sourceFields hold, on Object, the values matched against
	// targetKeys on Related.
	sourceFields []string
	targetKeys   []string
	// index is empty when targetKeys are the Related primary key.
	index string
	// defaultIndex is set when the relationship owns index.
	defaultIndex bool
}

// IsList reports whether the relationship resolves to many items.
func (c *Config) IsList() bool { return c.Directive == HasMany }

// Plugin implements the relationship directives.
type Plugin struct {
	configs []*Config
}

var (
	_ transformer.Preparer          = (*Plugin)(nil)
	_ transformer.FieldVisitor      = (*Plugin)(nil)
	_ transformer.SchemaTransformer = (*Plugin)(nil)
	_ transformer.ResolverGenerator = (*Plugin)(nil)
)

// New returns the relationship plugin.
func New() *Plugin { return &Plugin{} }

// Name implements transformer.Plugin.
func (*Plugin) Name() string { return "RelationalTransformer" }

// Directive implements transformer.Plugin.
func (*Plugin) Directive() string { return directiveSDL }

// Phase implements transformer.Plugin.
func (*Plugin) Phase() transformer.Phase { return transformer.PhaseRelational }

// Prepare implements transformer.Preparer.
func (p *Plugin) Prepare(*transformer.Context) error {
	p.configs = nil
	return nil
}

// Field implements transformer.FieldVisitor.
func (p *Plugin) Field(ctx *transformer.Context, parent *ast.Definition, field *ast.FieldDefinition, dir *ast.Directive) error {
	c := &Config{Directive: dir.Name, Object: parent, Field: field}
	if err := ctx.Directive(dir, parent.Name, field.Name).Arguments(c, nil); err != nil {
		return err
	}
	invalid := func(format string, args ...any) error {
		return transformer.NewInvalidDirectiveError(dir.Name, parent.Name, field.Name, fmt.Sprintf(format, args...))
	}
	if !ctx.IsModel(parent.Name) {
		return invalid("@%s must be on an @model object type field.", dir.Name)
	}
	related := baseName(field.Type)
	if !ctx.IsModel(related) {
		return invalid("Object type %s must be annotated with @model.", related)
	}
	c.Related = ctx.InputType(related)
	isList := field.Type.Elem != nil
	switch {
	case c.IsList() && !isList:
		return invalid("@hasMany must be used with a list. Use @hasOne for non-list types.")
	case !c.IsList() && isList:
		return invalid("@%s cannot be used with lists. Use @hasMany instead.", dir.Name)
	}
	if ctx.IsRelational(parent.Name) || ctx.IsRelational(related) {
		return invalid("@%s is not supported on models backed by a SQL datasource.", dir.Name)
	}
	if c.IsList() && c.Limit <= 0 {
		return invalid("limit must be a positive number.")
	}
	for _, name := range c.Fields {
		f := parent.Fields.ForName(name)
		if f == nil {
			return invalid("%s is not a field in %s", name, parent.Name)
		}
		if f.Type.Elem != nil || !isLeaf(ctx, f.Type) {
			return invalid("All reference fields provided to @%s must be scalar or enum fields.", dir.Name)
		}
	}
	p.configs = append(p.configs, c)
	return nil
}

func baseName(t *ast.Type) string {
	for t.Elem != nil {
		t = t.Elem
	}
	return t.NamedType
}

func isLeaf(ctx *transformer.Context, t *ast.Type) bool {
	def := ctx.Schema.Types[baseName(t)]
	return def != nil && (def.Kind == ast.Scalar || def.Kind == ast.Enum)
}

// ConnectionFieldNames returns the connection fields a relationship named
// typeName.fieldName adds for a key: <type><Field>Id for the partition key
// followed by <type><Field><SortKey> for each sort key field.
func ConnectionFieldNames(typeName, fieldName string, keys []string) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		if i == 0 {
			out[i] = transformer.ToCamelCase([]string{typeName, fieldName}) + "Id"
			continue
		}
		out[i] = transformer.ToCamelCase([]string{typeName, fieldName, k})
	}
	return out
}

// DefaultIndexName returns the index a default @hasMany adds to the
// connected table.
func DefaultIndexName(typeName, fieldName string) string {
	return "gsi-" + typeName + "." + fieldName
}
