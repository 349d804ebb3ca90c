package relational

import (
	"strings"

	"github.com/ShadowCat567/amplify-category-api/plugin/model"
	"github.com/ShadowCat567/amplify-category-api/transformer"
	"github.com/ShadowCat567/amplify-category-api/vtl"
)

// GenerateResolvers implements transformer.ResolverGenerator. Each
// relationship field reads the table of the related model.
func (p *Plugin) GenerateResolvers(ctx *transformer.Context) error {
	if len(p.configs) == 0 {
		return nil
	}
	ctx.Stacks.CreateStack(StackName)
	for _, c := range p.configs {
		ds, ok := ctx.DataSources.Get(c.Related.Name)
		if !ok {
			return transformer.NewResourceConsistencyError("datasource", c.Related.Name, "no datasource bound to the related model")
		}
		if c.defaultIndex {
			if ds.Table == nil {
				return transformer.NewResourceConsistencyError("table", c.Related.Name, "no table to index")
			}
			if err := addDefaultIndex(c, ds.Table); err != nil {
				return c.invalid("%s", err.Error())
			}
		}
		req, op := getItemRequestTemplate(c), transformer.OperationGet
		if c.IsList() {
			req, op = queryRequestTemplate(c), transformer.OperationList
		}
		r := ctx.Resolvers.GenerateQueryResolver(c.Object.Name, c.Field.Name, ds.Name,
			transformer.InlineTemplate(req), transformer.InlineTemplate(model.ErrorOrResult()))
		r.Model = c.Related.Name
		r.Operation = op
		r.SetScope(ctx.Stacks.GetScopeFor(r.ResourceID, StackName).Name)
		ctx.Logger.Debug("relationship resolver", "field", r.Key(), "directive", c.Directive, "index", c.index)
	}
	return nil
}

// addDefaultIndex adds the index a default @hasMany queries to table.
func addDefaultIndex(c *Config, table *transformer.Table) error {
	if table.HasIndex(c.index) {
		return nil
	}
	schema := []transformer.KeySchemaElement{{AttributeName: c.targetKeys[0], KeyType: transformer.KeyTypeHash}}
	if len(c.targetKeys) > 1 {
		schema = append(schema, transformer.KeySchemaElement{AttributeName: c.targetKeys[1], KeyType: transformer.KeyTypeRange})
	}
	err := table.AddGlobalSecondaryIndex(&transformer.GlobalSecondaryIndex{
		IndexName:  c.index,
		KeySchema:  schema,
		Projection: transformer.Projection{ProjectionType: "ALL"},
		ProvisionedThroughput: transformer.Fn("If", transformer.CondPayPerRequestBilling,
			transformer.Ref("AWS::NoValue"), map[string]any{
				"ReadCapacityUnits":  transformer.Ref(transformer.ParamReadIOPS),
				"WriteCapacityUnits": transformer.Ref(transformer.ParamWriteIOPS),
			}),
	})
	if err != nil {
		return err
	}
	for i, k := range c.targetKeys {
		table.AddAttributeDefinition(k, transformer.AttributeTypeFromScalar(keyType(c.Object, c.sourceFields[i]).Name()))
	}
	return nil
}

func sourceRef(field string) vtl.Reference { return vtl.Ref("ctx.source." + field) }

// missingSource is true when any source field of c is null.
func missingSource(c *Config) vtl.Expression {
	checks := make([]vtl.Expression, len(c.sourceFields))
	for i, f := range c.sourceFields {
		checks[i] = vtl.IsNull(sourceRef(f))
	}
	if len(checks) == 1 {
		return checks[0]
	}
	return vtl.Or(checks...)
}

// joinedSource renders the sort key value stored for the source fields,
// joining composite parts with "#".
func joinedSource(fields []string) vtl.Expression {
	if len(fields) == 1 {
		return sourceRef(fields[0])
	}
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = "${ctx.source." + f + "}"
	}
	return vtl.Str(strings.Join(parts, transformer.ModelCompositeKeySeparator))
}

// getItemRequestTemplate reads the single item keyed by the source fields.
// Items without a stored key resolve to null.
func getItemRequestTemplate(c *Config) string {
	toDynamoDB := func(e vtl.Expression) vtl.Expression { return vtl.MethodCall("util.dynamodb.toDynamoDB", e) }
	key := []vtl.Attribute{vtl.KV(c.targetKeys[0], toDynamoDB(sourceRef(c.sourceFields[0])))}
	if len(c.targetKeys) > 1 {
		sortKey := strings.Join(c.targetKeys[1:], transformer.ModelCompositeKeySeparator)
		key = append(key, vtl.KV(sortKey, toDynamoDB(joinedSource(c.sourceFields[1:]))))
	}
	return vtl.PrintBlock("Get connected item")(vtl.IfElse(missingSource(c),
		vtl.Return(nil),
		vtl.Compound(
			vtl.Set(vtl.Ref("GetRequest"), vtl.Obj(
				vtl.KV("version", vtl.Str(vtl.ResolverVersionID)),
				vtl.KV("operation", vtl.Str("GetItem")),
				vtl.KV("key", vtl.Obj(key...)),
			)),
			vtl.ToJSON(vtl.Ref("GetRequest")),
		),
	))
}

// queryRequestTemplate reads the page of items whose target keys match
// the source fields. Sort keys given in part match by prefix.
func queryRequestTemplate(c *Config) string {
	pk := vtl.Ref("ctx.source." + c.sourceFields[0])
	exprs := []vtl.Expression{
		vtl.Set(vtl.Ref("limit"), vtl.MethodCall("util.defaultIfNull", vtl.Ref("ctx.args.limit"), vtl.Int(c.Limit))),
		vtl.Set(vtl.Ref("query"), vtl.Obj(
			vtl.KV("expression", vtl.Str("#partitionKey = :partitionKey")),
			vtl.KV("expressionNames", vtl.Obj(vtl.KV("#partitionKey", vtl.Str(c.targetKeys[0])))),
			vtl.KV("expressionValues", vtl.Obj(vtl.KV(":partitionKey", vtl.MethodCall("util.dynamodb.toDynamoDB", pk)))),
		)),
	}
	if provided := c.sourceFields[1:]; len(provided) > 0 {
		targets := c.targetKeys[1:]
		value := joinedSource(provided)
		condition := "#sortKey = :sortKey"
		if len(provided) < len(targets) {
			condition = "begins_with(#sortKey, :sortKey)"
			parts := make([]string, len(provided))
			for i, f := range provided {
				parts[i] = "${ctx.source." + f + "}"
			}
			value = vtl.Str(strings.Join(parts, transformer.ModelCompositeKeySeparator) + transformer.ModelCompositeKeySeparator)
		}
		exprs = append(exprs,
			vtl.Set(vtl.Ref("query.expression"), vtl.Str("$query.expression AND "+condition)),
			vtl.QuietRefExpr(vtl.MethodCall("query.expressionNames.put", vtl.Str("#sortKey"),
				vtl.Str(strings.Join(targets, transformer.ModelCompositeKeySeparator)))),
			vtl.QuietRefExpr(vtl.MethodCall("query.expressionValues.put", vtl.Str(":sortKey"),
				vtl.MethodCall("util.dynamodb.toDynamoDB", value))),
		)
	}
	request := []vtl.Attribute{
		vtl.KV("version", vtl.Str(vtl.ResolverVersionID)),
		vtl.KV("operation", vtl.Str("Query")),
		vtl.KV("query", vtl.Ref("query")),
		vtl.KV("scanIndexForward", vtl.Raw(`#if( $ctx.args.sortDirection == "DESC" ) false #else true #end`)),
		vtl.KV("limit", vtl.Ref("limit")),
	}
	if c.index != "" {
		request = append(request, vtl.KV("index", vtl.Str(c.index)))
	}
	exprs = append(exprs,
		vtl.Set(vtl.Ref("QueryRequest"), vtl.Obj(request...)),
		vtl.If(vtl.Ref("ctx.args.nextToken"), vtl.Set(vtl.Ref("QueryRequest.nextToken"), vtl.Ref("ctx.args.nextToken"))),
		vtl.If(vtl.Not(vtl.IsNullOrEmpty(vtl.Ref("ctx.args.filter"))), vtl.Compound(
			vtl.Set(vtl.Ref("filterExpression"), vtl.Ref("util.parseJson($util.transform.toDynamoDBFilterExpression($ctx.args.filter))")),
			vtl.If(vtl.Not(vtl.IsNullOrEmpty(vtl.Ref("filterExpression"))),
				vtl.Set(vtl.Ref("QueryRequest.filter"), vtl.Ref("filterExpression"))),
		)),
		vtl.ToJSON(vtl.Ref("QueryRequest")),
	)
	return vtl.PrintBlock("Query connected items")(vtl.IfElse(missingSource(c),
		vtl.Compound(
			vtl.Set(vtl.Ref("result"), vtl.Obj(vtl.KV("items", vtl.List()))),
			vtl.Return(vtl.Ref("result")),
		),
		vtl.Compound(exprs...),
	))
}
