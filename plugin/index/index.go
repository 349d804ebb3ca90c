// Package index implements @primaryKey and @index. A primary key replaces
// the id key of a model table; an index adds a secondary index and,
// optionally, a query field reading it.
package index

import (
	"fmt"
	"slices"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"

	"github.com/ShadowCat567/amplify-category-api/transformer"
)

const directiveSDL = `
directive @primaryKey(sortKeyFields: [String]) on FIELD_DEFINITION

directive @index(name: String, sortKeyFields: [String], queryField: String) repeatable on FIELD_DEFINITION
`

// Config is one visited @primaryKey or @index.
type Config struct {
	Object *ast.Definition       `mapstructure:"-"`
	Field  *ast.FieldDefinition `mapstructure:"-"`
	// Name is empty for the primary key.
	Name          string   `mapstructure:"name"`
	SortKeyFields []string `mapstructure:"sortKeyFields"`
	QueryField    string   `mapstructure:"queryField"`
}

// IsPrimary reports whether c is the primary key of its model.
func (c *Config) IsPrimary() bool { return c.Name == "" }

// PartitionKey returns the partition key field.
func (c *Config) PartitionKey() string { return c.Field.Name }

// SortKeyName returns the stored sort key attribute. Composite sort keys
// join their fields with "#".
func (c *Config) SortKeyName() string {
	return strings.Join(c.SortKeyFields, transformer.ModelCompositeKeySeparator)
}

// IsComposite reports whether the sort key spans several fields.
func (c *Config) IsComposite() bool { return len(c.SortKeyFields) > 1 }

// sortKeyArgument returns the argument carrying the sort key condition.
func (c *Config) sortKeyArgument() string {
	if c.IsComposite() {
		return transformer.ToCamelCase(c.SortKeyFields)
	}
	if len(c.SortKeyFields) == 1 {
		return c.SortKeyFields[0]
	}
	return ""
}

func (c *Config) keyName() string {
	return transformer.UcFirst(transformer.ToCamelCase(c.SortKeyFields))
}

// Plugin implements @primaryKey and @index. A Plugin may be reused across
// runs; its state is reset by Prepare.
type Plugin struct {
	primary map[string]*Config
	indexes map[string][]*Config
	order   []string
}

var (
	_ transformer.Preparer          = (*Plugin)(nil)
	_ transformer.FieldVisitor      = (*Plugin)(nil)
	_ transformer.SchemaTransformer = (*Plugin)(nil)
	_ transformer.ResolverGenerator = (*Plugin)(nil)
	_ transformer.Finalizer         = (*Plugin)(nil)
)

// New returns the @primaryKey and @index plugin.
func New() *Plugin { return &Plugin{} }

// Name implements transformer.Plugin.
func (*Plugin) Name() string { return "IndexTransformer" }

// Directive implements transformer.Plugin.
func (*Plugin) Directive() string { return directiveSDL }

// Phase implements transformer.Plugin.
func (*Plugin) Phase() transformer.Phase { return transformer.PhaseIndex }

// Prepare implements transformer.Preparer.
func (p *Plugin) Prepare(*transformer.Context) error {
	p.primary = make(map[string]*Config)
	p.indexes = make(map[string][]*Config)
	p.order = nil
	return nil
}

// PrimaryKey returns the @primaryKey of typeName.
func (p *Plugin) PrimaryKey(typeName string) (*Config, bool) {
	c, ok := p.primary[typeName]
	return c, ok
}

// Indexes returns the @index configurations of typeName in document order.
func (p *Plugin) Indexes(typeName string) []*Config {
	return slices.Clone(p.indexes[typeName])
}

func (p *Plugin) track(typeName string) {
	if !slices.Contains(p.order, typeName) {
		p.order = append(p.order, typeName)
	}
}

// Field implements transformer.FieldVisitor.
func (p *Plugin) Field(ctx *transformer.Context, parent *ast.Definition, field *ast.FieldDefinition, dir *ast.Directive) error {
	c, err := newConfig(ctx, parent, field, dir)
	if err != nil {
		return err
	}
	invalid := func(format string, args ...any) error {
		return transformer.NewInvalidDirectiveError(dir.Name, parent.Name, field.Name, fmt.Sprintf(format, args...))
	}
	if parent.Directives.ForName("model") == nil {
		return invalid("The @%s directive may only be added to object definitions annotated with @model.", dir.Name)
	}
	if err := validateKeyFields(ctx, c, dir.Name); err != nil {
		return err
	}
	if c.IsPrimary() {
		if _, ok := p.primary[parent.Name]; ok {
			return invalid("You may only supply one primary key on type '%s'.", parent.Name)
		}
		p.primary[parent.Name] = c
		p.track(parent.Name)
		ctx.SetPrimaryKeyFields(parent.Name, append([]string{field.Name}, c.SortKeyFields...)...)
		return nil
	}
	for _, other := range p.indexes[parent.Name] {
		if other.Name == c.Name {
			return invalid("You may only supply one @index named '%s' on type '%s'.", c.Name, parent.Name)
		}
	}
	p.indexes[parent.Name] = append(p.indexes[parent.Name], c)
	p.track(parent.Name)
	return nil
}

// newConfig decodes dir and fills in the default index and query names.
func newConfig(ctx *transformer.Context, parent *ast.Definition, field *ast.FieldDefinition, dir *ast.Directive) (*Config, error) {
	c := &Config{Object: parent, Field: field}
	if err := ctx.Directive(dir, parent.Name, field.Name).Arguments(c, nil); err != nil {
		return nil, err
	}
	if dir.Name == "primaryKey" {
		c.Name = ""
		return c, nil
	}
	if c.Name == "" {
		c.Name = "by" + transformer.UcFirst(field.Name)
		for _, sk := range c.SortKeyFields {
			c.Name += "And" + transformer.UcFirst(sk)
		}
	}
	if c.QueryField == "" && ctx.TransformParameters().EnableAutoIndexQueryNames {
		c.QueryField = transformer.LcFirst(transformer.Plural(parent.Name)) + "By" + transformer.UcFirst(field.Name)
		for _, sk := range c.SortKeyFields {
			c.QueryField += "And" + transformer.UcFirst(sk)
		}
	}
	return c, nil
}

// IndexesOf decodes the @index directives of def in document order. It
// lets other plugins resolve an index by name without visiting it.
func IndexesOf(ctx *transformer.Context, def *ast.Definition) ([]*Config, error) {
	var out []*Config
	for _, f := range def.Fields {
		for _, dir := range f.Directives {
			if dir.Name != "index" {
				continue
			}
			c, err := newConfig(ctx, def, f, dir)
			if err != nil {
				return nil, err
			}
			out = append(out, c)
		}
	}
	return out, nil
}

// validateKeyFields checks that every key field exists and is a non list
// scalar or enum. Primary key fields must also be non-null.
func validateKeyFields(ctx *transformer.Context, c *Config, directive string) error {
	fields := []*ast.FieldDefinition{c.Field}
	for _, name := range c.SortKeyFields {
		if name == c.Field.Name {
			return transformer.NewInvalidDirectiveError(directive, c.Object.Name, c.Field.Name,
				fmt.Sprintf("The partition key field '%s' cannot also be a sort key field.", name))
		}
		f := c.Object.Fields.ForName(name)
		if f == nil {
			return transformer.NewInvalidDirectiveError(directive, c.Object.Name, c.Field.Name,
				fmt.Sprintf("Can't find field '%s' in %s, but it was specified in the %s.", name, c.Object.Name, keyKind(directive)))
		}
		fields = append(fields, f)
	}
	for _, f := range fields {
		def := ctx.Schema.Types[f.Type.Name()]
		if f.Type.Elem != nil || def == nil || (def.Kind != ast.Scalar && def.Kind != ast.Enum) {
			return transformer.NewInvalidDirectiveError(directive, c.Object.Name, c.Field.Name,
				fmt.Sprintf("The %s on type '%s' cannot reference non-scalar field '%s'.", keyKind(directive), c.Object.Name, f.Name))
		}
		if directive == "primaryKey" && !f.Type.NonNull {
			return transformer.NewInvalidDirectiveError(directive, c.Object.Name, c.Field.Name,
				fmt.Sprintf("The primary key on type '%s' must reference non-null fields.", c.Object.Name))
		}
	}
	return nil
}

func keyKind(directive string) string {
	if directive == "primaryKey" {
		return "primary key"
	}
	return "index"
}

// configs returns the primary key of typeName, if any, followed by its
// indexes.
func (p *Plugin) configs(typeName string) []*Config {
	var out []*Config
	if c, ok := p.primary[typeName]; ok {
		out = append(out, c)
	}
	return append(out, p.indexes[typeName]...)
}
