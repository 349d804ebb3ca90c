package model

import (
	"slices"

	"github.com/vektah/gqlparser/v2/ast"

	"github.com/ShadowCat567/amplify-category-api/transformer"
)

// Sync fields added to models with conflict detection.
const (
	VersionField       = "_version"
	DeletedField       = "_deleted"
	LastChangedAtField = "_lastChangedAt"
)

// SortDirectionTypeName is the enum of the sortDirection argument.
const SortDirectionTypeName = "ModelSortDirection"

// TransformSchema implements transformer.SchemaTransformer.
func (p *Plugin) TransformSchema(ctx *transformer.Context) error {
	if len(p.models) == 0 {
		return nil
	}
	addSharedTypes(ctx)
	for _, m := range p.models {
		if err := p.transformModel(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func addSharedTypes(ctx *transformer.Context) {
	ctx.AddOutputType(&ast.Definition{
		Kind:       ast.Enum,
		Name:       SortDirectionTypeName,
		EnumValues: ast.EnumValueList{{Name: "ASC"}, {Name: "DESC"}},
	})
	attrTypes := ast.EnumValueList{}
	for _, v := range []string{"binary", "binarySet", "bool", "list", "map", "number", "numberSet", "string", "stringSet", "_null"} {
		attrTypes = append(attrTypes, &ast.EnumValueDefinition{Name: v})
	}
	ctx.AddOutputType(&ast.Definition{Kind: ast.Enum, Name: "ModelAttributeTypes", EnumValues: attrTypes})
	sizeFields := ast.FieldList{}
	for _, op := range []string{"ne", "eq", "le", "lt", "ge", "gt"} {
		sizeFields = append(sizeFields, inputField(op, ast.NamedType("Int", nil)))
	}
	sizeFields = append(sizeFields, inputField("between", ast.ListType(ast.NamedType("Int", nil), nil)))
	ctx.AddOutputType(&ast.Definition{Kind: ast.InputObject, Name: "ModelSizeInput", Fields: sizeFields})
}

func inputField(name string, t *ast.Type) *ast.FieldDefinition {
	return &ast.FieldDefinition{Name: name, Type: t}
}

func argument(name string, t *ast.Type) *ast.ArgumentDefinition {
	return &ast.ArgumentDefinition{Name: name, Type: t}
}

func nullable(t *ast.Type) *ast.Type {
	c := *t
	c.NonNull = false
	return &c
}

// baseName returns the named type under any list wrapping.
func baseName(t *ast.Type) string {
	for t.Elem != nil {
		t = t.Elem
	}
	return t.NamedType
}

// IsLeaf reports whether t resolves to a scalar or an enum.
func IsLeaf(ctx *transformer.Context, t *ast.Type) bool {
	def := ctx.Schema.Types[baseName(t)]
	return def != nil && (def.Kind == ast.Scalar || def.Kind == ast.Enum)
}

// FilterInputTypeName returns the comparison input used to filter on a
// field of type t.
func FilterInputTypeName(ctx *transformer.Context, t *ast.Type) string {
	name := baseName(t)
	if def := ctx.Schema.Types[name]; def != nil && def.Kind == ast.Enum {
		return "Model" + name + "Input"
	}
	switch name {
	case "ID":
		return "ModelIDInput"
	case "Int", "AWSTimestamp":
		return "ModelIntInput"
	case "Float":
		return "ModelFloatInput"
	case "Boolean":
		return "ModelBooleanInput"
	default:
		return "ModelStringInput"
	}
}

// EnsureFilterInput declares the comparison input named by
// FilterInputTypeName for t.
func EnsureFilterInput(ctx *transformer.Context, t *ast.Type) string {
	name := FilterInputTypeName(ctx, t)
	if ctx.HasOutputType(name) {
		return name
	}
	scalar := baseName(t)
	valueType := func() *ast.Type { return ast.NamedType(scalar, nil) }
	var ops []string
	switch name {
	case "ModelStringInput", "ModelIDInput":
		valueType = func() *ast.Type {
			if name == "ModelIDInput" {
				return ast.NamedType("ID", nil)
			}
			return ast.NamedType("String", nil)
		}
		ops = []string{"ne", "eq", "le", "lt", "ge", "gt", "contains", "notContains", "between", "beginsWith"}
	case "ModelIntInput":
		valueType = func() *ast.Type { return ast.NamedType("Int", nil) }
		ops = []string{"ne", "eq", "le", "lt", "ge", "gt", "between"}
	case "ModelFloatInput":
		ops = []string{"ne", "eq", "le", "lt", "ge", "gt", "between"}
	case "ModelBooleanInput":
		ops = []string{"ne", "eq"}
	default:
		ops = []string{"eq", "ne"}
	}
	fields := ast.FieldList{}
	for _, op := range ops {
		t := valueType()
		if op == "between" {
			t = ast.ListType(valueType(), nil)
		}
		fields = append(fields, inputField(op, t))
	}
	fields = append(fields,
		inputField("attributeExists", ast.NamedType("Boolean", nil)),
		inputField("attributeType", ast.NamedType("ModelAttributeTypes", nil)),
	)
	if name == "ModelStringInput" || name == "ModelIDInput" {
		fields = append(fields, inputField("size", ast.NamedType("ModelSizeInput", nil)))
	}
	ctx.AddOutputType(&ast.Definition{Kind: ast.InputObject, Name: name, Fields: fields})
	return name
}

// timestampFields returns the managed timestamp fields of m that the user
// did not declare.
func (m *model) timestampFields() []string {
	var out []string
	if ts := m.directive.Timestamps; ts != nil {
		for _, name := range []string{str(ts.CreatedAt), str(ts.UpdatedAt)} {
			if name != "" && m.def.Fields.ForName(name) == nil && !slices.Contains(out, name) {
				out = append(out, name)
			}
		}
	}
	return out
}

func (m *model) isTimestamp(field string) bool {
	ts := m.directive.Timestamps
	return ts != nil && field != "" && (field == str(ts.CreatedAt) || field == str(ts.UpdatedAt))
}

func (p *Plugin) hasDefault(typeName, field string) bool {
	return slices.ContainsFunc(p.defaults[typeName], func(d defaultValue) bool { return d.field == field })
}

func isSynced(ctx *transformer.Context, typeName string) bool {
	return ctx.SyncConfig(typeName) != nil && !ctx.IsRelational(typeName)
}

func (p *Plugin) transformModel(ctx *transformer.Context, m *model) error {
	name := m.name()
	out := ctx.OutputType(name)
	if out == nil {
		return transformer.NewResourceConsistencyError("type", name, "not found in output schema")
	}
	if out.Fields.ForName("id") == nil && !ctx.HasCustomPrimaryKey(name) {
		out.Fields = append(ast.FieldList{{Name: "id", Type: ast.NonNullNamedType("ID", nil)}}, out.Fields...)
	}
	for _, f := range m.timestampFields() {
		out.Fields = append(out.Fields, &ast.FieldDefinition{Name: f, Type: ast.NonNullNamedType("AWSDateTime", nil)})
	}
	synced := isSynced(ctx, name)
	if synced {
		out.Fields = append(out.Fields,
			&ast.FieldDefinition{Name: VersionField, Type: ast.NonNullNamedType("Int", nil)},
			&ast.FieldDefinition{Name: DeletedField, Type: ast.NamedType("Boolean", nil)},
			&ast.FieldDefinition{Name: LastChangedAtField, Type: ast.NonNullNamedType("AWSTimestamp", nil)},
		)
	}

	p.addConnectionType(ctx, name, synced)
	p.addFilterInputs(ctx, m, out)
	if err := p.addMutationInputs(ctx, m, out, synced); err != nil {
		return err
	}
	return p.addOperations(ctx, m, synced)
}

func (p *Plugin) addConnectionType(ctx *transformer.Context, name string, synced bool) {
	fields := ast.FieldList{
		{Name: "items", Type: ast.NonNullListType(ast.NamedType(name, nil), nil)},
		{Name: "nextToken", Type: ast.NamedType("String", nil)},
	}
	if synced {
		fields = append(fields, &ast.FieldDefinition{Name: "startedAt", Type: ast.NamedType("AWSTimestamp", nil)})
	}
	ctx.AddOutputType(&ast.Definition{Kind: ast.Object, Name: transformer.ModelConnectionTypeName(name), Fields: fields})
}

// addFilterInputs declares the filter and condition inputs. Conditions
// cannot target the key of the item they guard.
func (p *Plugin) addFilterInputs(ctx *transformer.Context, m *model, out *ast.Definition) {
	name := m.name()
	keys := ctx.PrimaryKeyFields(name)
	filter := ast.FieldList{}
	condition := ast.FieldList{}
	for _, f := range out.Fields {
		if f.Name == VersionField || f.Name == LastChangedAtField || !IsLeaf(ctx, f.Type) {
			continue
		}
		in := EnsureFilterInput(ctx, f.Type)
		filter = append(filter, inputField(f.Name, ast.NamedType(in, nil)))
		if !slices.Contains(keys, f.Name) {
			condition = append(condition, inputField(f.Name, ast.NamedType(in, nil)))
		}
	}
	filterName := transformer.ModelFilterInputTypeName(name)
	conditionName := transformer.ModelConditionInputTypeName(name)
	filter = append(filter,
		inputField("and", ast.ListType(ast.NamedType(filterName, nil), nil)),
		inputField("or", ast.ListType(ast.NamedType(filterName, nil), nil)),
		inputField("not", ast.NamedType(filterName, nil)),
	)
	condition = append(condition,
		inputField("and", ast.ListType(ast.NamedType(conditionName, nil), nil)),
		inputField("or", ast.ListType(ast.NamedType(conditionName, nil), nil)),
		inputField("not", ast.NamedType(conditionName, nil)),
	)
	ctx.AddOutputType(&ast.Definition{Kind: ast.InputObject, Name: filterName, Fields: filter})
	ctx.AddOutputType(&ast.Definition{Kind: ast.InputObject, Name: conditionName, Fields: condition})
}

func (p *Plugin) addMutationInputs(ctx *transformer.Context, m *model, out *ast.Definition, synced bool) error {
	name := m.name()
	keys := ctx.PrimaryKeyFields(name)
	custom := ctx.HasCustomPrimaryKey(name)
	create := ast.FieldList{}
	update := ast.FieldList{}
	for _, f := range out.Fields {
		if !IsLeaf(ctx, f.Type) || f.Name == VersionField || f.Name == DeletedField || f.Name == LastChangedAtField {
			continue
		}
		managed := m.isTimestamp(f.Name) && m.def.Fields.ForName(f.Name) == nil
		if managed {
			continue
		}
		t := f.Type
		switch {
		case f.Name == "id" && !custom:
			t = nullable(t)
		case m.isTimestamp(f.Name), p.hasDefault(name, f.Name):
			t = nullable(t)
		}
		create = append(create, inputField(f.Name, t))
		if slices.Contains(keys, f.Name) {
			update = append(update, inputField(f.Name, ast.NonNullNamedType(baseName(f.Type), nil)))
		} else {
			update = append(update, inputField(f.Name, nullable(f.Type)))
		}
	}
	del := ast.FieldList{}
	for _, k := range keys {
		f := out.Fields.ForName(k)
		if f == nil {
			return transformer.NewInvalidDirectiveError("model", name, k, "key field is not defined on the type")
		}
		del = append(del, inputField(k, ast.NonNullNamedType(baseName(f.Type), nil)))
	}
	if synced {
		create = append(create, inputField(VersionField, ast.NamedType("Int", nil)))
		update = append(update, inputField(VersionField, ast.NamedType("Int", nil)))
		del = append(del, inputField(VersionField, ast.NamedType("Int", nil)))
	}
	ctx.AddOutputType(&ast.Definition{Kind: ast.InputObject, Name: transformer.ModelCreateInputObjectName(name), Fields: create})
	ctx.AddOutputType(&ast.Definition{Kind: ast.InputObject, Name: transformer.ModelUpdateInputObjectName(name), Fields: update})
	ctx.AddOutputType(&ast.Definition{Kind: ast.InputObject, Name: transformer.ModelDeleteInputObjectName(name), Fields: del})
	return nil
}

func (p *Plugin) addOperations(ctx *transformer.Context, m *model, synced bool) error {
	name := m.name()
	out := ctx.OutputType(name)
	filter := ast.NamedType(transformer.ModelFilterInputTypeName(name), nil)
	connection := ast.NamedType(transformer.ModelConnectionTypeName(name), nil)
	listArgs := func() ast.ArgumentDefinitionList {
		return ast.ArgumentDefinitionList{
			argument("filter", filter),
			argument("limit", ast.NamedType("Int", nil)),
			argument("nextToken", ast.NamedType("String", nil)),
		}
	}
	var fields []struct {
		parent string
		def    *ast.FieldDefinition
	}
	add := func(parent string, def *ast.FieldDefinition) {
		fields = append(fields, struct {
			parent string
			def    *ast.FieldDefinition
		}{parent, def})
	}

	if q := m.directive.Queries; q != nil {
		if get := str(q.Get); get != "" {
			args := ast.ArgumentDefinitionList{}
			for _, k := range ctx.PrimaryKeyFields(name) {
				args = append(args, argument(k, ast.NonNullNamedType(baseName(out.Fields.ForName(k).Type), nil)))
			}
			add(transformer.QueryTypeName, &ast.FieldDefinition{Name: get, Arguments: args, Type: ast.NamedType(name, nil)})
		}
		if list := str(q.List); list != "" {
			add(transformer.QueryTypeName, &ast.FieldDefinition{Name: list, Arguments: listArgs(), Type: connection})
		}
	}
	if synced {
		args := append(listArgs(), argument("lastSync", ast.NamedType("AWSTimestamp", nil)))
		add(transformer.QueryTypeName, &ast.FieldDefinition{Name: transformer.SyncQueryName(name), Arguments: args, Type: connection})
	}
	condition := ast.NamedType(transformer.ModelConditionInputTypeName(name), nil)
	if mu := m.directive.Mutations; mu != nil {
		for _, op := range []struct{ field, input string }{
			{str(mu.Create), transformer.ModelCreateInputObjectName(name)},
			{str(mu.Update), transformer.ModelUpdateInputObjectName(name)},
			{str(mu.Delete), transformer.ModelDeleteInputObjectName(name)},
		} {
			if op.field == "" {
				continue
			}
			add(transformer.MutationTypeName, &ast.FieldDefinition{
				Name: op.field,
				Arguments: ast.ArgumentDefinitionList{
					argument("input", ast.NonNullNamedType(op.input, nil)),
					argument("condition", condition),
				},
				Type: ast.NamedType(name, nil),
			})
		}
	}
	for _, sub := range p.subscriptionFields(m) {
		add(transformer.SubscriptionTypeName, &ast.FieldDefinition{
			Name: sub.field,
			Type: ast.NamedType(name, nil),
			Directives: ast.DirectiveList{{
				Name:      "aws_subscribe",
				Arguments: ast.ArgumentList{{Name: "mutations", Value: stringList(sub.mutations)}},
			}},
		})
	}
	for _, f := range fields {
		if _, err := ctx.AddField(f.parent, f.def); err != nil {
			return err
		}
	}
	return nil
}

type subscriptionField struct {
	field     string
	mutations []string
	op        transformer.Operation
}

// subscriptionFields lists the subscriptions of m, each bound to the
// mutations that trigger it. Subscriptions whose mutation is disabled are
// skipped.
func (p *Plugin) subscriptionFields(m *model) []subscriptionField {
	s := m.directive.Subscriptions
	if s == nil || s.Level == SubscriptionLevelOff {
		return nil
	}
	var mu MutationMap
	if m.directive.Mutations != nil {
		mu = *m.directive.Mutations
	}
	var out []subscriptionField
	for _, group := range []struct {
		names    []string
		mutation string
		op       transformer.Operation
	}{
		{s.OnCreate, str(mu.Create), transformer.OperationCreate},
		{s.OnUpdate, str(mu.Update), transformer.OperationUpdate},
		{s.OnDelete, str(mu.Delete), transformer.OperationDelete},
	} {
		if group.mutation == "" {
			continue
		}
		for _, name := range group.names {
			if name != "" {
				out = append(out, subscriptionField{field: name, mutations: []string{group.mutation}, op: group.op})
			}
		}
	}
	return out
}

func stringList(values []string) *ast.Value {
	children := ast.ChildValueList{}
	for _, v := range values {
		children = append(children, &ast.ChildValue{Value: &ast.Value{Kind: ast.StringValue, Raw: v}})
	}
	return &ast.Value{Kind: ast.ListValue, Children: children}
}
