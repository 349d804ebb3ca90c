package model

import (
	"strconv"

	"github.com/ShadowCat567/amplify-category-api/dialect"
	"github.com/ShadowCat567/amplify-category-api/dialect/rds"
	"github.com/ShadowCat567/amplify-category-api/transformer"
	"github.com/ShadowCat567/amplify-category-api/vtl"
)

// Delta sync resources.
const (
	DataStoreTableID = "AmplifyDataStore"
	// BaseTableTTL keeps deleted items for 30 days, in minutes.
	BaseTableTTL = 43200
	// TTLAttribute holds the expiry of deleted items.
	TTLAttribute = "_ttl"
)

// GenerateResolvers implements transformer.ResolverGenerator.
func (p *Plugin) GenerateResolvers(ctx *transformer.Context) error {
	for _, m := range p.models {
		ds, err := p.dataSource(ctx, m)
		if err != nil {
			return err
		}
		if err := p.generate(ctx, m, ds); err != nil {
			return err
		}
	}
	return nil
}

// dataSource binds m to its table, or to the SQL lambda for relational
// models.
func (p *Plugin) dataSource(ctx *transformer.Context, m *model) (*transformer.DataSource, error) {
	name := m.name()
	if engine := ctx.DataSourceType(name).DBType; engine.IsRelational() {
		ds, err := SQLDataSource(ctx, engine)
		if err != nil {
			return nil, err
		}
		table := rds.TableFromDefinition(engine, ctx.OutputType(name), ctx.ModelNameMapping(name), ctx.Schema.Types,
			func(field string) string { return ctx.FieldNameMapping(name, field) })
		rds.TablesFrom(ctx).Add(name, table)
		return ds, ctx.DataSources.Add(name, ds)
	}
	table := transformer.NewTable(transformer.ModelTableResourceID(name),
		transformer.Fn("Join", "-", []any{name, transformer.Ref(transformer.ParamAPIID), transformer.Ref(transformer.ParamEnv)}))
	ds := &transformer.DataSource{
		Name:        transformer.ModelTableDataSourceID(name),
		Kind:        transformer.KindDynamoDB,
		Engine:      dialect.DynamoDB,
		Table:       table,
		ServiceRole: name + "IAMRole",
		Stack:       name,
	}
	if isSynced(ctx, name) {
		if err := ensureDataStoreTable(ctx); err != nil {
			return nil, err
		}
		table.TimeToLiveAttribute = TTLAttribute
		ds.DeltaSync = &transformer.DeltaSyncConfig{
			BaseTableTTL: BaseTableTTL,
			DeltaSyncTableName: transformer.Fn("Join", "-", []any{
				DataStoreTableID, transformer.Ref(transformer.ParamAPIID), transformer.Ref(transformer.ParamEnv),
			}),
			DeltaSyncTableTTL: ctx.SynthParameters().DeltaSyncTableTTL,
		}
	}
	return ds, ctx.DataSources.Add(name, ds)
}

// ensureDataStoreTable declares the delta sync table once per API.
func ensureDataStoreTable(ctx *transformer.Context) error {
	root := ctx.Stacks.Root()
	if _, ok := root.Resource(DataStoreTableID); ok {
		return nil
	}
	table := &transformer.Table{
		LogicalID: DataStoreTableID,
		TableName: transformer.Fn("Join", "-", []any{
			DataStoreTableID, transformer.GetAtt(transformer.GraphQLAPIResourceID, "ApiId"), transformer.Ref(transformer.ParamEnv),
		}),
		KeySchema: []transformer.KeySchemaElement{
			{AttributeName: "ds_pk", KeyType: transformer.KeyTypeHash},
			{AttributeName: "ds_sk", KeyType: transformer.KeyTypeRange},
		},
		AttributeDefinitions: []transformer.AttributeDefinition{
			{AttributeName: "ds_pk", AttributeType: "S"},
			{AttributeName: "ds_sk", AttributeType: "S"},
		},
		TimeToLiveAttribute: TTLAttribute,
	}
	return root.AddResource(DataStoreTableID, table.Resource())
}

// operation is one generated model resolver.
type operation struct {
	typeName string
	field    string
	op       transformer.Operation
	req, res string
}

func (p *Plugin) operations(ctx *transformer.Context, m *model, relational bool) []operation {
	name := m.name()
	synced := isSynced(ctx, name)
	var ops []operation
	add := func(typeName, field string, op transformer.Operation, req, res string) {
		if field != "" {
			ops = append(ops, operation{typeName: typeName, field: field, op: op, req: req, res: res})
		}
	}
	if relational {
		lambda := func(op rds.Operation, field string) string {
			return rds.RequestTemplate(rds.Request{
				Table:         ctx.ModelNameMapping(name),
				Operation:     op,
				OperationName: field,
				Keys:          ctx.PrimaryKeyFields(name),
				ColumnMapping: ctx.FieldNameMappings(name),
			})
		}
		res := rds.ResponseTemplate()
		if q := m.directive.Queries; q != nil {
			add(transformer.QueryTypeName, str(q.Get), transformer.OperationGet, lambda(rds.OperationGet, str(q.Get)), res)
			add(transformer.QueryTypeName, str(q.List), transformer.OperationList, lambda(rds.OperationList, str(q.List)), res)
		}
		if mu := m.directive.Mutations; mu != nil {
			add(transformer.MutationTypeName, str(mu.Create), transformer.OperationCreate, lambda(rds.OperationCreate, str(mu.Create)), res)
			add(transformer.MutationTypeName, str(mu.Update), transformer.OperationUpdate, lambda(rds.OperationUpdate, str(mu.Update)), res)
			add(transformer.MutationTypeName, str(mu.Delete), transformer.OperationDelete, lambda(rds.OperationDelete, str(mu.Delete)), res)
		}
		return ops
	}
	if q := m.directive.Queries; q != nil {
		add(transformer.QueryTypeName, str(q.Get), transformer.OperationGet, getRequestTemplate(), getResponseTemplate(synced))
		add(transformer.QueryTypeName, str(q.List), transformer.OperationList, listRequestTemplate(), listResponseTemplate())
	}
	if synced {
		add(transformer.QueryTypeName, transformer.SyncQueryName(name), transformer.OperationSync, syncRequestTemplate(), listResponseTemplate())
	}
	if mu := m.directive.Mutations; mu != nil {
		res := mutationResponseTemplate(synced)
		add(transformer.MutationTypeName, str(mu.Create), transformer.OperationCreate, createRequestTemplate(name, synced), res)
		add(transformer.MutationTypeName, str(mu.Update), transformer.OperationUpdate, updateRequestTemplate(synced), res)
		add(transformer.MutationTypeName, str(mu.Delete), transformer.OperationDelete, deleteRequestTemplate(synced), res)
	}
	return ops
}

func (p *Plugin) generate(ctx *transformer.Context, m *model, ds *transformer.DataSource) error {
	name := m.name()
	relational := ds.Kind == transformer.KindRelational
	sandbox := transformer.InlineTemplate(SandboxAuthExpression(ctx.TransformParameters().SandboxModeEnabled))
	sc := ctx.SyncConfig(name)
	for _, op := range p.operations(ctx, m, relational) {
		r := ctx.Resolvers.GenerateQueryResolver(op.typeName, op.field, ds.Name,
			transformer.InlineTemplate(op.req), transformer.InlineTemplate(op.res))
		r.Model = name
		r.Operation = op.op
		r.SetScope(name)
		if op.op == transformer.OperationCreate || op.op == transformer.OperationUpdate {
			seed := initSlotTemplate(op.op, m.directive.Timestamps, p.defaults[name])
			if err := r.AddToSlot(transformer.SlotInit, transformer.InlineTemplate(seed), nil); err != nil {
				return err
			}
		}
		if relational {
			r.SetStash("keys", vtl.Print(keyList(ctx.PrimaryKeyFields(name))))
		} else {
			if !ctx.HasCustomPrimaryKey(name) {
				if err := addDefaultKey(r, op.op); err != nil {
					return err
				}
			}
			if isSynced(ctx, name) {
				r.Sync = sc
				if op.op == transformer.OperationSync {
					r.SetStash("deltaSyncTableTtl", strconv.Itoa(ctx.SynthParameters().DeltaSyncTableTTL))
				}
			}
		}
		if err := r.AddToSlot(transformer.SlotPostAuth, sandbox, nil); err != nil {
			return err
		}
	}
	s := m.directive.Subscriptions
	if s == nil || s.Level != SubscriptionLevelOn {
		return nil
	}
	for _, sub := range p.subscriptionFields(m) {
		r := ctx.Resolvers.GenerateSubscriptionResolver(transformer.SubscriptionTypeName, sub.field,
			transformer.InlineTemplate(subscriptionRequestTemplate()), transformer.InlineTemplate(subscriptionResponseTemplate()))
		r.Model = name
		r.Operation = transformer.OperationSubscription
		r.SetScope(name)
		if err := r.AddToSlot(transformer.SlotPostAuth, sandbox, nil); err != nil {
			return err
		}
	}
	return nil
}

func keyList(fields []string) vtl.Expression {
	exprs := make([]vtl.Expression, len(fields))
	for i, f := range fields {
		exprs[i] = vtl.Str(f)
	}
	return vtl.List(exprs...)
}

// addDefaultKey stores the id key on the stash for models keyed on id.
// Index plugins replace it for custom primary keys.
func addDefaultKey(r *transformer.Resolver, op transformer.Operation) error {
	switch op {
	case transformer.OperationGet:
		return AddToPreAuth(r, []string{SetPrimaryKeySnippet("id", nil, false)}, false)
	case transformer.OperationCreate, transformer.OperationUpdate, transformer.OperationDelete:
		return AddToPreAuth(r, []string{MergeInputsAndDefaultsSnippet(), SetPrimaryKeySnippet("id", nil, true)}, false)
	}
	return nil
}
