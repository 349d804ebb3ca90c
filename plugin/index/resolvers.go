package index

import (
	"fmt"

	"github.com/ShadowCat567/amplify-category-api/dialect/rds"
	"github.com/ShadowCat567/amplify-category-api/plugin/model"
	"github.com/ShadowCat567/amplify-category-api/transformer"
	"github.com/ShadowCat567/amplify-category-api/vtl"
)

const invalidArguments = "InvalidArgumentsError"

// GenerateResolvers implements transformer.ResolverGenerator. Primary keys
// are applied before indexes so that local indexes can share the new
// partition key.
func (p *Plugin) GenerateResolvers(ctx *transformer.Context) error {
	for _, name := range p.order {
		ds, ok := ctx.DataSources.Get(name)
		if !ok {
			return transformer.NewResourceConsistencyError("datasource", name, "no datasource bound to model with @primaryKey or @index")
		}
		var err error
		if ds.Kind == transformer.KindRelational {
			err = p.generateRelational(ctx, name, ds)
		} else {
			err = p.generateDynamoDB(ctx, name, ds)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *Plugin) generateDynamoDB(ctx *transformer.Context, name string, ds *transformer.DataSource) error {
	if c, ok := p.primary[name]; ok {
		replacePrimaryKey(ctx, ds.Table, c)
		if err := updateResolvers(ctx, c); err != nil {
			return err
		}
	}
	for _, c := range p.indexes[name] {
		if err := appendSecondaryIndex(ctx, ds.Table, c); err != nil {
			return transformer.NewInvalidDirectiveError("index", name, c.Field.Name, err.Error())
		}
		if err := updateResolversForIndex(ctx, c); err != nil {
			return err
		}
		if c.QueryField != "" {
			if err := makeQueryResolver(ctx, ds, c); err != nil {
				return err
			}
		}
	}
	return nil
}

// generateRelational records the keys on the table definition. Query
// fields invoke the SQL lambda with the index columns.
func (p *Plugin) generateRelational(ctx *transformer.Context, name string, ds *transformer.DataSource) error {
	table, ok := rds.TablesFrom(ctx).Get(name)
	if !ok {
		return transformer.NewResourceConsistencyError("table", name, "no table recorded for relational model")
	}
	columns := func(c *Config) []string {
		cols := []string{ctx.FieldNameMapping(name, c.PartitionKey())}
		for _, sk := range c.SortKeyFields {
			cols = append(cols, ctx.FieldNameMapping(name, sk))
		}
		return cols
	}
	if c, ok := p.primary[name]; ok {
		if err := rds.SetPrimaryKey(table, columns(c)...); err != nil {
			return transformer.NewInvalidDirectiveError("primaryKey", name, c.Field.Name, err.Error())
		}
	}
	for _, c := range p.indexes[name] {
		if err := rds.AddIndex(table, c.Name, columns(c)...); err != nil {
			return transformer.NewInvalidDirectiveError("index", name, c.Field.Name, err.Error())
		}
		if c.QueryField == "" {
			continue
		}
		req := rds.RequestTemplate(rds.Request{
			Table:         ctx.ModelNameMapping(name),
			Operation:     rds.OperationIndexQuery,
			OperationName: c.QueryField,
			Keys:          ctx.PrimaryKeyFields(name),
			ColumnMapping: ctx.FieldNameMappings(name),
			Index:         c.Name,
			SortKeys:      append([]string{c.PartitionKey()}, c.SortKeyFields...),
		})
		r := newQueryResolver(ctx, ds, c, req, rds.ResponseTemplate())
		if err := r.AddToSlot(transformer.SlotPostAuth, sandbox(ctx), nil); err != nil {
			return err
		}
	}
	return nil
}

// attributeType returns the attribute type storing field of c's model.
func attributeType(c *Config, field string) string {
	f := c.Object.Fields.ForName(field)
	if f == nil {
		return "S"
	}
	return transformer.AttributeTypeFromScalar(f.Type.Name())
}

// sortKeyAttributeType is S for composite sort keys, which are stored as
// joined strings.
func sortKeyAttributeType(c *Config) string {
	if c.IsComposite() {
		return "S"
	}
	return attributeType(c, c.SortKeyFields[0])
}

func keySchema(c *Config) []transformer.KeySchemaElement {
	schema := []transformer.KeySchemaElement{{AttributeName: c.PartitionKey(), KeyType: transformer.KeyTypeHash}}
	if len(c.SortKeyFields) > 0 {
		schema = append(schema, transformer.KeySchemaElement{AttributeName: c.SortKeyName(), KeyType: transformer.KeyTypeRange})
	}
	return schema
}

// replacePrimaryKey rekeys table on c. Attributes of the old key stay
// declared only while a secondary index still uses them.
func replacePrimaryKey(ctx *transformer.Context, table *transformer.Table, c *Config) {
	inUse := table.IndexAttributes()
	for _, k := range table.KeySchema {
		if !inUse[k.AttributeName] {
			table.RemoveAttributeDefinition(k.AttributeName)
		}
	}
	table.SetKeySchema(keySchema(c))
	table.AddAttributeDefinition(c.PartitionKey(), attributeType(c, c.PartitionKey()))
	if len(c.SortKeyFields) > 0 {
		table.AddAttributeDefinition(c.SortKeyName(), sortKeyAttributeType(c))
	}
	ctx.Logger.Debug("replaced primary key", "table", table.LogicalID, "partitionKey", c.PartitionKey(), "sortKey", c.SortKeyName())
}

// appendSecondaryIndex adds c to table. An index sharing the table
// partition key becomes a local index unless secondary keys are forced to
// global indexes.
func appendSecondaryIndex(ctx *transformer.Context, table *transformer.Table, c *Config) error {
	projection := transformer.Projection{ProjectionType: "ALL"}
	// A local index needs a range key, so an index sharing the table
	// partition key without sort fields stays global.
	local := !ctx.TransformParameters().SecondaryKeyAsGSI &&
		c.PartitionKey() == table.PartitionKey() && len(c.SortKeyFields) > 0
	var err error
	if local {
		err = table.AddLocalSecondaryIndex(&transformer.LocalSecondaryIndex{
			IndexName:  c.Name,
			KeySchema:  keySchema(c),
			Projection: projection,
		})
	} else {
		err = table.AddGlobalSecondaryIndex(&transformer.GlobalSecondaryIndex{
			IndexName:  c.Name,
			KeySchema:  keySchema(c),
			Projection: projection,
			ProvisionedThroughput: transformer.Fn("If", transformer.CondPayPerRequestBilling,
				transformer.Ref("AWS::NoValue"), map[string]any{
					"ReadCapacityUnits":  transformer.Ref(transformer.ParamReadIOPS),
					"WriteCapacityUnits": transformer.Ref(transformer.ParamWriteIOPS),
				}),
		})
	}
	if err != nil {
		return err
	}
	table.AddAttributeDefinition(c.PartitionKey(), attributeType(c, c.PartitionKey()))
	if len(c.SortKeyFields) > 0 {
		table.AddAttributeDefinition(c.SortKeyName(), sortKeyAttributeType(c))
	}
	return nil
}

func sandbox(ctx *transformer.Context) *transformer.MappingTemplate {
	return transformer.InlineTemplate(model.SandboxAuthExpression(ctx.TransformParameters().SandboxModeEnabled))
}

// updateResolvers makes the model operations read and write the custom
// primary key.
func updateResolvers(ctx *transformer.Context, c *Config) error {
	name := c.Object.Name
	pk, sk := c.PartitionKey(), c.SortKeyFields
	steps := []struct {
		op       transformer.Operation
		snippets []string
	}{
		{transformer.OperationGet, []string{model.SetPrimaryKeySnippet(pk, sk, false)}},
		{transformer.OperationList, []string{queryExpressionSnippet(c, true)}},
		{transformer.OperationCreate, []string{model.MergeInputsAndDefaultsSnippet(), compositeKeySnippet(c, false), model.SetPrimaryKeySnippet(pk, sk, true)}},
		{transformer.OperationUpdate, []string{model.MergeInputsAndDefaultsSnippet(), compositeKeySnippet(c, false), model.SetPrimaryKeySnippet(pk, sk, true)}},
		{transformer.OperationDelete, []string{model.MergeInputsAndDefaultsSnippet(), compositeKeySnippet(c, false), model.SetPrimaryKeySnippet(pk, sk, true)}},
	}
	for _, step := range steps {
		r, ok := ctx.Resolvers.ForModel(name, step.op)
		if !ok {
			continue
		}
		if err := model.AddToPreAuth(r, nonEmpty(step.snippets), false); err != nil {
			return err
		}
	}
	return nil
}

// updateResolversForIndex keeps the stored composite sort key of c in
// step with its parts on writes. Deletes write it unconditionally.
func updateResolversForIndex(ctx *transformer.Context, c *Config) error {
	if !c.IsComposite() {
		return nil
	}
	for _, op := range []transformer.Operation{transformer.OperationCreate, transformer.OperationUpdate, transformer.OperationDelete} {
		r, ok := ctx.Resolvers.ForModel(c.Object.Name, op)
		if !ok {
			continue
		}
		snippets := []string{model.MergeInputsAndDefaultsSnippet()}
		if op == transformer.OperationDelete {
			snippets = append(snippets, compositeKeySnippet(c, false))
		} else {
			snippets = append(snippets, validateCompositeKeySnippet(c, op), compositeKeySnippet(c, true))
		}
		if err := model.AddToPreAuth(r, snippets, false); err != nil {
			return err
		}
	}
	return nil
}

func nonEmpty(snippets []string) []string {
	out := snippets[:0:0]
	for _, s := range snippets {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// compositeKeySnippet stores the joined composite sort key of c on the
// input and maps the attribute back to its argument name for updates.
// With conditional set, the key is written only once every part is known.
func compositeKeySnippet(c *Config, conditional bool) string {
	if !c.IsComposite() {
		return ""
	}
	attr := c.SortKeyName()
	write := vtl.Compound(
		vtl.QuietRef(fmt.Sprintf(`$ctx.args.input.put("%s", "%s")`, attr, joinedValue("mergedValues", c.SortKeyFields))),
		vtl.Set(vtl.Ref(transformer.DynamoDBNameOverrideMap),
			vtl.MethodCall("util.defaultIfNull", vtl.Ref("ctx.stash.metadata."+transformer.DynamoDBNameOverrideMap), vtl.Obj())),
		vtl.QuietRefExpr(vtl.MethodCall(transformer.DynamoDBNameOverrideMap+".put", vtl.Str(attr), vtl.Str(c.sortKeyArgument()))),
		vtl.QuietRefExpr(vtl.MethodCall("ctx.stash.metadata.put",
			vtl.Str(transformer.DynamoDBNameOverrideMap), vtl.Ref(transformer.DynamoDBNameOverrideMap))),
	)
	var body vtl.Expression = write
	if conditional {
		parts := make([]vtl.Expression, len(c.SortKeyFields))
		for i, f := range c.SortKeyFields {
			parts[i] = vtl.Not(vtl.IsNull(vtl.Ref("mergedValues." + f)))
		}
		body = vtl.If(vtl.And(parts...), write)
	}
	return vtl.PrintBlock("Set the composite sort key")(body)
}

// joinedValue renders the composite key interpolation of fields read from
// source, e.g. ${mergedValues.a}#${mergedValues.b}.
func joinedValue(source string, fields []string) string {
	out := ""
	for i, f := range fields {
		if i > 0 {
			out += transformer.ModelCompositeKeySeparator
		}
		out += "${" + source + "." + f + "}"
	}
	return out
}

// validateCompositeKeySnippet rejects writes that set some parts of the
// composite sort key of c but not all of them.
func validateCompositeKeySnippet(c *Config, op transformer.Operation) string {
	verb := "creating"
	if op == transformer.OperationUpdate {
		verb = "updating"
	}
	parts := make([]vtl.Expression, len(c.SortKeyFields))
	for i, f := range c.SortKeyFields {
		parts[i] = vtl.Str(f)
	}
	message := fmt.Sprintf("When %s any part of the composite sort key for @index '%s', you must provide all fields for the key. Missing key: '$keyFieldName'.", verb, c.Name)
	return vtl.PrintBlock("Validate update mutation for @index '" + c.Name + "'")(vtl.Compound(
		vtl.Set(vtl.Ref(transformer.HasSeenSomeKeyArg), vtl.Bool(false)),
		vtl.Set(vtl.Ref("keyFieldNames"), vtl.List(parts...)),
		vtl.ForEach(vtl.Ref("keyFieldName"), vtl.Ref("keyFieldNames"),
			vtl.IfInline(vtl.Ref(`ctx.args.input.containsKey("$keyFieldName")`),
				vtl.Set(vtl.Ref(transformer.HasSeenSomeKeyArg), vtl.Bool(true))),
		),
		vtl.If(vtl.Ref(transformer.HasSeenSomeKeyArg),
			vtl.ForEach(vtl.Ref("keyFieldName"), vtl.Ref("keyFieldNames"),
				vtl.IfInline(vtl.Not(vtl.Ref(`mergedValues.containsKey("$keyFieldName")`)),
					vtl.MethodCall("util.error", vtl.Str(message), vtl.Str(invalidArguments))),
			),
		),
	))
}

// queryExpressionSnippet stashes the key condition of a list or index
// query as $ctx.stash.modelQueryExpression. List queries may omit the
// partition key, in which case the table is scanned.
func queryExpressionSnippet(c *Config, isList bool) string {
	pk := c.PartitionKey()
	pkArg := vtl.Ref("ctx.args." + pk)
	sortDirection := vtl.Ref("ctx.args.sortDirection")
	var exprs []vtl.Expression
	exprs = append(exprs, vtl.Set(vtl.Ref("modelQueryExpression"), vtl.Obj()))
	if isList {
		exprs = append(exprs, vtl.If(vtl.And(vtl.Not(vtl.IsNull(sortDirection)), vtl.IsNull(pkArg)),
			vtl.MethodCall("util.error",
				vtl.Str(fmt.Sprintf("When providing argument 'sortDirection' you must also provide argument '%s'.", pk)),
				vtl.Str(invalidArguments))))
		if len(c.SortKeyFields) == 0 {
			exprs = append(exprs, vtl.If(vtl.Not(vtl.IsNull(sortDirection)),
				vtl.MethodCall("util.error",
					vtl.Str("sortDirection is not supported for List operations without a Sort key defined."),
					vtl.Str(invalidArguments))))
		}
	}
	exprs = append(exprs, vtl.If(vtl.Not(vtl.IsNull(pkArg)), vtl.Compound(
		vtl.Set(vtl.Ref("modelQueryExpression.expression"), vtl.Str("#"+pk+" = :"+pk)),
		vtl.Set(vtl.Ref("modelQueryExpression.expressionNames"), vtl.Obj(vtl.KV("#"+pk, vtl.Str(pk)))),
		vtl.Set(vtl.Ref("modelQueryExpression.expressionValues"),
			vtl.Obj(vtl.KV(":"+pk, vtl.MethodCall("util.dynamodb.toDynamoDB", pkArg)))),
	)))
	if len(c.SortKeyFields) > 0 {
		exprs = append(exprs, sortKeyConditions(c)...)
	}
	query := vtl.Ref("modelQueryExpression")
	exprs = append(exprs, vtl.If(
		vtl.And(vtl.Not(vtl.IsNull(query)), vtl.Not(vtl.IsNullOrEmpty(vtl.Ref("modelQueryExpression.expression")))),
		vtl.QuietRef(fmt.Sprintf(`$ctx.stash.put("%s", $modelQueryExpression)`, transformer.ModelQueryExpression)),
	))
	return vtl.PrintBlock("Set query expression for key")(vtl.Compound(exprs...))
}

// sortKeyOperators maps key condition operators onto their expression.
var sortKeyOperators = []struct {
	op   string
	expr string
}{
	{"beginsWith", "begins_with(#sortKey, :sortKey)"},
	{"between", "#sortKey BETWEEN :sortKey0 AND :sortKey1"},
	{"eq", "#sortKey = :sortKey"},
	{"lt", "#sortKey < :sortKey"},
	{"le", "#sortKey <= :sortKey"},
	{"gt", "#sortKey > :sortKey"},
	{"ge", "#sortKey >= :sortKey"},
}

// sortKeyConditions narrows the stashed query by the sort key argument.
// Composite conditions join the parts given, in key order, up to the first
// missing one.
func sortKeyConditions(c *Config) []vtl.Expression {
	arg := "ctx.args." + c.sortKeyArgument()
	var exprs []vtl.Expression
	for _, o := range sortKeyOperators {
		cond := arg + "." + o.op
		appendExpr := vtl.Set(vtl.Ref("modelQueryExpression.expression"),
			vtl.Str("$modelQueryExpression.expression AND "+o.expr))
		names := vtl.QuietRef(fmt.Sprintf(`$modelQueryExpression.expressionNames.put("#sortKey", "%s")`, c.SortKeyName()))
		var body []vtl.Expression
		if o.op == "between" {
			body = append(body, appendExpr, names)
			for i := range 2 {
				source := fmt.Sprintf("%s[%d]", cond, i)
				body = append(body, sortKeyValue(c, source, fmt.Sprintf(":sortKey%d", i))...)
			}
		} else {
			body = append(body, appendExpr, names)
			body = append(body, sortKeyValue(c, cond, ":sortKey")...)
		}
		exprs = append(exprs, vtl.If(
			vtl.And(vtl.Not(vtl.IsNull(vtl.Ref(arg))), vtl.Not(vtl.IsNull(vtl.Ref(cond)))),
			vtl.Compound(body...),
		))
	}
	return exprs
}

// sortKeyValue binds placeholder to the sort key value read from source.
func sortKeyValue(c *Config, source, placeholder string) []vtl.Expression {
	if !c.IsComposite() {
		return []vtl.Expression{
			vtl.QuietRefExpr(vtl.MethodCall("modelQueryExpression.expressionValues.put",
				vtl.Str(placeholder), vtl.MethodCall("util.dynamodb.toDynamoDB", vtl.Ref(source)))),
		}
	}
	parts := make([]vtl.Expression, len(c.SortKeyFields))
	for i, f := range c.SortKeyFields {
		parts[i] = vtl.Str(f)
	}
	return []vtl.Expression{
		vtl.Set(vtl.Ref("sortKeyValue"), vtl.Str("")),
		vtl.Set(vtl.Ref("sortKeyOpen"), vtl.Bool(true)),
		vtl.ForEach(vtl.Ref("part"), vtl.List(parts...),
			vtl.IfElse(vtl.And(vtl.Ref("sortKeyOpen"), vtl.Not(vtl.IsNull(vtl.Ref(source+".get($part)")))),
				vtl.Compound(
					vtl.IfInline(vtl.Raw("$foreach.count > 1"),
						vtl.Set(vtl.Ref("sortKeyValue"), vtl.Str("${sortKeyValue}"+transformer.ModelCompositeKeySeparator))),
					vtl.Set(vtl.Ref("sortKeyValue"), vtl.Str("${sortKeyValue}$"+source+".get($part)")),
				),
				vtl.Set(vtl.Ref("sortKeyOpen"), vtl.Bool(false)),
			),
		),
		vtl.QuietRefExpr(vtl.MethodCall("modelQueryExpression.expressionValues.put",
			vtl.Str(placeholder), vtl.MethodCall("util.dynamodb.toDynamoDB", vtl.Ref("sortKeyValue")))),
	}
}

func newQueryResolver(ctx *transformer.Context, ds *transformer.DataSource, c *Config, req, res string) *transformer.Resolver {
	r := ctx.Resolvers.GenerateQueryResolver(transformer.QueryTypeName, c.QueryField, ds.Name,
		transformer.InlineTemplate(req), transformer.InlineTemplate(res))
	r.Model = c.Object.Name
	r.Operation = transformer.OperationQuery
	r.SetScope(c.Object.Name)
	return r
}

// makeQueryResolver binds the query field of c to a Query on the index.
func makeQueryResolver(ctx *transformer.Context, ds *transformer.DataSource, c *Config) error {
	r := newQueryResolver(ctx, ds, c, queryRequestTemplate(c.Name), model.ErrorOrResult())
	if ds.DeltaSync != nil {
		r.Sync = ctx.SyncConfig(c.Object.Name)
	}
	if err := model.AddToPreAuth(r, []string{queryExpressionSnippet(c, false)}, false); err != nil {
		return err
	}
	return r.AddToSlot(transformer.SlotPostAuth, sandbox(ctx), nil)
}

// queryRequestTemplate renders the Query reading index. The auth filter
// and the filter argument narrow the items read.
func queryRequestTemplate(index string) string {
	query := "ctx.stash." + transformer.ModelQueryExpression
	return vtl.PrintBlock("Query Request")(vtl.Compound(
		vtl.Set(vtl.Ref("args"), vtl.MethodCall("util.defaultIfNull", vtl.Ref("ctx.stash.transformedArgs"), vtl.Ref("ctx.args"))),
		vtl.Set(vtl.Ref("limit"), vtl.MethodCall("util.defaultIfNull", vtl.Ref("args.limit"), vtl.Int(transformer.DefaultPageLimit))),
		vtl.Set(vtl.Ref("QueryRequest"), vtl.Obj(
			vtl.KV("version", vtl.Str(vtl.ResolverVersionID)),
			vtl.KV("operation", vtl.Str("Query")),
			vtl.KV("limit", vtl.Ref("limit")),
			vtl.KV("query", vtl.Ref(query)),
			vtl.KV("index", vtl.Str(index)),
		)),
		vtl.IfElse(vtl.And(vtl.Not(vtl.IsNull(vtl.Ref("args.sortDirection"))), vtl.Equals(vtl.Ref("args.sortDirection"), vtl.Str("DESC"))),
			vtl.Set(vtl.Ref("QueryRequest.scanIndexForward"), vtl.Bool(false)),
			vtl.Set(vtl.Ref("QueryRequest.scanIndexForward"), vtl.Bool(true)),
		),
		vtl.If(vtl.Ref("args.nextToken"), vtl.Set(vtl.Ref("QueryRequest.nextToken"), vtl.Ref("args.nextToken"))),
		vtl.If(vtl.Not(vtl.IsNullOrEmpty(vtl.Ref("ctx.stash.authFilter"))), vtl.Set(vtl.Ref("filter"), vtl.Ref("ctx.stash.authFilter"))),
		vtl.If(vtl.Not(vtl.IsNullOrEmpty(vtl.Ref("args.filter"))), vtl.IfElse(vtl.Ref("filter"),
			vtl.Set(vtl.Ref("filter"), vtl.Obj(vtl.KV("and", vtl.List(vtl.Ref("filter"), vtl.Ref("args.filter"))))),
			vtl.Set(vtl.Ref("filter"), vtl.Ref("args.filter")),
		)),
		vtl.If(vtl.Not(vtl.IsNullOrEmpty(vtl.Ref("filter"))), vtl.Compound(
			vtl.Set(vtl.Ref("filterExpression"), vtl.Ref("util.parseJson($util.transform.toDynamoDBFilterExpression($filter))")),
			vtl.If(vtl.Not(vtl.IsNullOrEmpty(vtl.Ref("filterExpression"))),
				vtl.Set(vtl.Ref("QueryRequest.filter"), vtl.Ref("filterExpression"))),
		)),
		vtl.ToJSON(vtl.Ref("QueryRequest")),
	))
}
