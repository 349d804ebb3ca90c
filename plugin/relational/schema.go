package relational

import (
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"

	"github.com/ShadowCat567/amplify-category-api/plugin/index"
	"github.com/ShadowCat567/amplify-category-api/plugin/model"
	"github.com/ShadowCat567/amplify-category-api/transformer"
)

// TransformSchema implements transformer.SchemaTransformer. Keys are
// resolved once every relationship is known so that a @belongsTo can
// reuse the connection fields of the @hasMany it pairs with.
func (p *Plugin) TransformSchema(ctx *transformer.Context) error {
	for _, c := range p.configs {
		if err := p.resolveKeys(ctx, c); err != nil {
			return err
		}
	}
	for _, c := range p.configs {
		if err := addConnectionFields(ctx, c); err != nil {
			return err
		}
		if c.IsList() {
			if err := makeConnectionField(ctx, c); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Config) invalid(format string, args ...any) error {
	return transformer.NewInvalidDirectiveError(c.Directive, c.Object.Name, c.Field.Name, fmt.Sprintf(format, args...))
}

func (p *Plugin) resolveKeys(ctx *transformer.Context, c *Config) error {
	if c.IsList() {
		return resolveHasMany(ctx, c)
	}
	relatedKey := ctx.PrimaryKeyFields(c.Related.Name)
	c.targetKeys = relatedKey
	switch {
	case len(c.Fields) > 0:
		if len(c.Fields) != len(relatedKey) {
			return c.invalid("Invalid @%s directive on %s.%s. Provided fields do not match the size of primary key(s) for %s.",
				c.Directive, c.Object.Name, c.Field.Name, c.Related.Name)
		}
		c.sourceFields = c.Fields
	case c.Directive == BelongsTo:
		if hm := p.pairedHasMany(c); hm != nil {
			c.sourceFields = ConnectionFieldNames(hm.Object.Name, hm.Field.Name, relatedKey)
			return nil
		}
		fallthrough
	default:
		c.sourceFields = ConnectionFieldNames(c.Object.Name, c.Field.Name, relatedKey)
	}
	return nil
}

// pairedHasMany returns the default @hasMany on the related type that
// points back at the object of c.
func (p *Plugin) pairedHasMany(c *Config) *Config {
	for _, other := range p.configs {
		if other.Directive == HasMany && other.IndexName == "" && len(other.Fields) == 0 &&
			other.Object.Name == c.Related.Name && other.Related.Name == c.Object.Name {
			return other
		}
	}
	return nil
}

func resolveHasMany(ctx *transformer.Context, c *Config) error {
	objectKey := ctx.PrimaryKeyFields(c.Object.Name)
	switch {
	case c.IndexName != "":
		indexes, err := index.IndexesOf(ctx, c.Related)
		if err != nil {
			return err
		}
		var found *index.Config
		for _, idx := range indexes {
			if idx.Name == c.IndexName {
				found = idx
				break
			}
		}
		if found == nil {
			return c.invalid("Index %s does not exist for model %s", c.IndexName, c.Related.Name)
		}
		c.index = found.Name
		c.targetKeys = append([]string{found.PartitionKey()}, found.SortKeyFields...)
		c.sourceFields = objectKey
		if len(c.Fields) > 0 {
			c.sourceFields = c.Fields
		}
	case len(c.Fields) > 0:
		c.targetKeys = ctx.PrimaryKeyFields(c.Related.Name)
		c.sourceFields = c.Fields
	default:
		if len(objectKey) > 2 {
			return c.invalid("%s has a composite sort key. Provide indexName or fields to @hasMany.", c.Object.Name)
		}
		c.sourceFields = objectKey
		c.targetKeys = ConnectionFieldNames(c.Object.Name, c.Field.Name, objectKey)
		c.index = DefaultIndexName(c.Object.Name, c.Field.Name)
		c.defaultIndex = true
		return nil
	}
	if len(c.sourceFields) > len(c.targetKeys) {
		return c.invalid("Invalid @hasMany directive on %s.%s. Provided fields exceed the key fields of %s.",
			c.Object.Name, c.Field.Name, c.Related.Name)
	}
	return nil
}

// keyType returns the nullable type of the key field name on def. Models
// without a declared id get one of type ID.
func keyType(def *ast.Definition, name string) *ast.Type {
	f := def.Fields.ForName(name)
	if f == nil {
		return ast.NamedType("ID", nil)
	}
	t := *f.Type
	t.NonNull = false
	return &t
}

// addConnectionFields declares the fields holding the key of the connected
// items. A default @hasMany stores them on the related type; a default
// @hasOne or @belongsTo stores them on its own type.
func addConnectionFields(ctx *transformer.Context, c *Config) error {
	var owner string
	var names []string
	var types []*ast.Type
	switch {
	case c.defaultIndex:
		owner, names = c.Related.Name, c.targetKeys
		for _, k := range c.sourceFields {
			types = append(types, keyType(c.Object, k))
		}
	case !c.IsList() && len(c.Fields) == 0:
		owner, names = c.Object.Name, c.sourceFields
		for _, k := range c.targetKeys {
			types = append(types, keyType(c.Related, k))
		}
	default:
		return nil
	}
	for i, name := range names {
		if _, err := ctx.AddField(owner, &ast.FieldDefinition{Name: name, Type: types[i]}); err != nil {
			return err
		}
		for _, input := range []string{
			transformer.ModelCreateInputObjectName(owner),
			transformer.ModelUpdateInputObjectName(owner),
		} {
			addInputField(ctx, input, name, types[i])
		}
		filter := ast.NamedType(model.EnsureFilterInput(ctx, types[i]), nil)
		for _, input := range []string{
			transformer.ModelFilterInputTypeName(owner),
			transformer.ModelConditionInputTypeName(owner),
		} {
			addInputField(ctx, input, name, filter)
		}
		ctx.Logger.Debug("added connection field", "type", owner, "field", name, "relationship", c.Object.Name+"."+c.Field.Name)
	}
	return nil
}

// addInputField appends name to the input type when the model declared
// that input and the field is absent.
func addInputField(ctx *transformer.Context, input, name string, t *ast.Type) {
	def := ctx.OutputType(input)
	if def == nil || def.Fields.ForName(name) != nil {
		return
	}
	def.Fields = append(def.Fields, &ast.FieldDefinition{Name: name, Type: t})
}

// makeConnectionField turns a @hasMany field into a paginated connection.
func makeConnectionField(ctx *transformer.Context, c *Config) error {
	def := ctx.OutputType(c.Object.Name)
	if def == nil {
		return transformer.NewResourceConsistencyError("type", c.Object.Name, "missing from the output schema")
	}
	field := def.Fields.ForName(c.Field.Name)
	if field == nil {
		return transformer.NewResourceConsistencyError("field", c.Object.Name+"."+c.Field.Name, "missing from the output schema")
	}
	connection := transformer.ModelConnectionTypeName(c.Related.Name)
	if !ctx.HasOutputType(connection) {
		return transformer.NewResourceConsistencyError("type", connection, "no connection type declared for the related model")
	}
	if field.Type.NonNull {
		field.Type = ast.NonNullNamedType(connection, nil)
	} else {
		field.Type = ast.NamedType(connection, nil)
	}
	args := ast.ArgumentDefinitionList{
		{Name: "filter", Type: ast.NamedType(transformer.ModelFilterInputTypeName(c.Related.Name), nil)},
		{Name: "sortDirection", Type: ast.NamedType(model.SortDirectionTypeName, nil)},
		{Name: "limit", Type: ast.NamedType("Int", nil)},
		{Name: "nextToken", Type: ast.NamedType("String", nil)},
	}
	for _, a := range args {
		if field.Arguments.ForName(a.Name) == nil {
			field.Arguments = append(field.Arguments, a)
		}
	}
	return nil
}
