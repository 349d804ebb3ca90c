package index

import (
	"github.com/vektah/gqlparser/v2/ast"

	"github.com/ShadowCat567/amplify-category-api/plugin/model"
	"github.com/ShadowCat567/amplify-category-api/transformer"
)

// TransformSchema implements transformer.SchemaTransformer.
func (p *Plugin) TransformSchema(ctx *transformer.Context) error {
	for _, name := range p.order {
		if c, ok := p.primary[name]; ok && !ctx.IsRelational(name) {
			if err := p.updateListField(ctx, c); err != nil {
				return err
			}
		}
		for _, c := range p.indexes[name] {
			if c.QueryField == "" {
				continue
			}
			if err := addQueryField(ctx, c); err != nil {
				return err
			}
		}
	}
	return nil
}

// listQueryName returns the list query of the model c belongs to, or ""
// when the model disables it.
func listQueryName(ctx *transformer.Context, c *Config) (string, error) {
	d, err := model.DirectiveOf(ctx, c.Object)
	if err != nil {
		return "", err
	}
	if d.Queries == nil || d.Queries.List == nil {
		return "", nil
	}
	return *d.Queries.List, nil
}

// updateListField lets the list query read a single partition, optionally
// narrowed by a sort key condition and ordered by sortDirection.
func (p *Plugin) updateListField(ctx *transformer.Context, c *Config) error {
	list, err := listQueryName(ctx, c)
	if err != nil || list == "" {
		return err
	}
	query := ctx.OutputType(transformer.QueryTypeName)
	if query == nil {
		return nil
	}
	field := query.Fields.ForName(list)
	if field == nil {
		return nil
	}
	args := ast.ArgumentDefinitionList{
		{Name: c.PartitionKey(), Type: ast.NamedType(c.Field.Type.Name(), nil)},
	}
	if sk := sortKeyArgument(ctx, c); sk != nil {
		args = append(args, sk)
	}
	for _, a := range field.Arguments {
		if args.ForName(a.Name) == nil {
			args = append(args, a)
		}
	}
	if args.ForName("sortDirection") == nil {
		args = append(args, &ast.ArgumentDefinition{Name: "sortDirection", Type: ast.NamedType(model.SortDirectionTypeName, nil)})
	}
	field.Arguments = args
	return nil
}

// addQueryField declares the query reading the index c.
func addQueryField(ctx *transformer.Context, c *Config) error {
	name := c.Object.Name
	args := ast.ArgumentDefinitionList{
		{Name: c.PartitionKey(), Type: ast.NonNullNamedType(c.Field.Type.Name(), nil)},
	}
	if sk := sortKeyArgument(ctx, c); sk != nil {
		args = append(args, sk)
	}
	args = append(args,
		&ast.ArgumentDefinition{Name: "sortDirection", Type: ast.NamedType(model.SortDirectionTypeName, nil)},
		&ast.ArgumentDefinition{Name: "filter", Type: ast.NamedType(transformer.ModelFilterInputTypeName(name), nil)},
		&ast.ArgumentDefinition{Name: "limit", Type: ast.NamedType("Int", nil)},
		&ast.ArgumentDefinition{Name: "nextToken", Type: ast.NamedType("String", nil)},
	)
	added, err := ctx.AddField(transformer.QueryTypeName, &ast.FieldDefinition{
		Name:      c.QueryField,
		Arguments: args,
		Type:      ast.NamedType(transformer.ModelConnectionTypeName(name), nil),
	})
	if err != nil {
		return err
	}
	if !added {
		return transformer.NewInvalidDirectiveError("index", name, c.Field.Name,
			"A query named '"+c.QueryField+"' already exists.")
	}
	return nil
}

// sortKeyArgument declares the condition input of the sort key of c and
// returns the argument carrying it, or nil when c has no sort key.
func sortKeyArgument(ctx *transformer.Context, c *Config) *ast.ArgumentDefinition {
	switch len(c.SortKeyFields) {
	case 0:
		return nil
	case 1:
		f := c.Object.Fields.ForName(c.SortKeyFields[0])
		input := ensureKeyConditionInput(ctx, keyScalar(f.Type.Name()))
		return &ast.ArgumentDefinition{Name: c.sortKeyArgument(), Type: ast.NamedType(input, nil)}
	}
	input := ensureCompositeKeyInputs(ctx, c)
	return &ast.ArgumentDefinition{Name: c.sortKeyArgument(), Type: ast.NamedType(input, nil)}
}

// keyScalar maps a key field type onto the scalars key conditions exist
// for. Enums and service scalars compare as strings.
func keyScalar(typeName string) string {
	switch typeName {
	case "ID", "Int", "Float":
		return typeName
	case "AWSTimestamp":
		return "Int"
	}
	return "String"
}

// ensureKeyConditionInput declares Model<scalar>KeyConditionInput.
func ensureKeyConditionInput(ctx *transformer.Context, scalar string) string {
	name := transformer.ModelKeyConditionInputTypeName(scalar)
	if ctx.HasOutputType(name) {
		return name
	}
	fields := ast.FieldList{}
	for _, op := range []string{"eq", "le", "lt", "ge", "gt"} {
		fields = append(fields, &ast.FieldDefinition{Name: op, Type: ast.NamedType(scalar, nil)})
	}
	fields = append(fields, &ast.FieldDefinition{Name: "between", Type: ast.ListType(ast.NamedType(scalar, nil), nil)})
	if scalar == "String" || scalar == "ID" {
		fields = append(fields, &ast.FieldDefinition{Name: "beginsWith", Type: ast.NamedType(scalar, nil)})
	}
	ctx.AddOutputType(&ast.Definition{Kind: ast.InputObject, Name: name, Fields: fields})
	return name
}

// ensureCompositeKeyInputs declares the condition input of a composite
// sort key and the input carrying its parts.
func ensureCompositeKeyInputs(ctx *transformer.Context, c *Config) string {
	typeName := c.Object.Name
	keyInput := transformer.ModelCompositeKeyInputTypeName(typeName, c.keyName())
	condition := transformer.ModelCompositeKeyConditionInputTypeName(typeName, c.keyName())
	if !ctx.HasOutputType(keyInput) {
		parts := ast.FieldList{}
		for _, name := range c.SortKeyFields {
			f := c.Object.Fields.ForName(name)
			parts = append(parts, &ast.FieldDefinition{Name: name, Type: ast.NamedType(f.Type.Name(), nil)})
		}
		ctx.AddOutputType(&ast.Definition{Kind: ast.InputObject, Name: keyInput, Fields: parts})
	}
	if !ctx.HasOutputType(condition) {
		fields := ast.FieldList{}
		for _, op := range []string{"eq", "le", "lt", "ge", "gt"} {
			fields = append(fields, &ast.FieldDefinition{Name: op, Type: ast.NamedType(keyInput, nil)})
		}
		fields = append(fields,
			&ast.FieldDefinition{Name: "between", Type: ast.ListType(ast.NamedType(keyInput, nil), nil)},
			&ast.FieldDefinition{Name: "beginsWith", Type: ast.NamedType(keyInput, nil)},
		)
		ctx.AddOutputType(&ast.Definition{Kind: ast.InputObject, Name: condition, Fields: fields})
	}
	return condition
}
