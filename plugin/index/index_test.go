package index_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShadowCat567/amplify-category-api/dialect"
	"github.com/ShadowCat567/amplify-category-api/plugin/index"
	"github.com/ShadowCat567/amplify-category-api/plugin/model"
	"github.com/ShadowCat567/amplify-category-api/transformer"
)

func newTransform(t *testing.T, opts ...transformer.Option) *transformer.GraphQLTransform {
	t.Helper()
	opts = append([]transformer.Option{transformer.WithPlugins(model.New(), index.New())}, opts...)
	tr, err := transformer.New(opts...)
	require.NoError(t, err)
	return tr
}

func transform(t *testing.T, sdl string, opts ...transformer.Option) *transformer.DeploymentResources {
	t.Helper()
	out, err := newTransform(t, opts...).Transform(sdl)
	require.NoError(t, err)
	return out
}

const orderSDL = `
enum Status { OPEN CLOSED }

type Order @model {
  customerId: ID! @primaryKey(sortKeyFields: ["createdAt"])
  createdAt: AWSDateTime!
  status: Status! @index(name: "byStatus", sortKeyFields: ["total", "createdAt"], queryField: "ordersByStatus")
  total: Int!
}
`

func TestPrimaryKey(t *testing.T) {
	out := transform(t, orderSDL)

	t.Run("table is keyed on the primary key", func(t *testing.T) {
		table := out.Stacks["Order"].Resources["OrderTable"]
		require.NotNil(t, table)
		assert.Equal(t, []transformer.KeySchemaElement{
			{AttributeName: "customerId", KeyType: transformer.KeyTypeHash},
			{AttributeName: "createdAt", KeyType: transformer.KeyTypeRange},
		}, table.Properties["KeySchema"])
		defs := table.Properties["AttributeDefinitions"].([]transformer.AttributeDefinition)
		assert.NotContains(t, defs, transformer.AttributeDefinition{AttributeName: "id", AttributeType: "S"})
		assert.Contains(t, defs, transformer.AttributeDefinition{AttributeName: "customerId", AttributeType: "S"})
	})
	t.Run("operations take the key fields", func(t *testing.T) {
		assert.Contains(t, out.Schema, "getOrder(customerId: ID!, createdAt: AWSDateTime!): Order")
		assert.Contains(t, out.Schema, "listOrders(customerId: ID, createdAt: ModelStringKeyConditionInput, filter: ModelOrderFilterInput, limit: Int, nextToken: String, sortDirection: ModelSortDirection): ModelOrderConnection")
		assert.Contains(t, out.Schema, "input ModelStringKeyConditionInput")
	})
	t.Run("get sets the key before the data step", func(t *testing.T) {
		content := out.Resolvers["Query.getOrder.preAuth.0.req.vtl"]
		assert.Contains(t, content, `"customerId": $util.dynamodb.toDynamoDB($ctx.args.customerId)`)
		assert.Contains(t, content, `"createdAt": $util.dynamodb.toDynamoDB($ctx.args.createdAt)`)
	})
	t.Run("list queries a partition", func(t *testing.T) {
		content := out.Resolvers["Query.listOrders.preAuth.0.req.vtl"]
		assert.Contains(t, content, "When providing argument 'sortDirection' you must also provide argument 'customerId'.")
		assert.Contains(t, content, `#set( $modelQueryExpression.expression = "#customerId = :customerId" )`)
		assert.Contains(t, content, `$util.qr($ctx.stash.put("modelQueryExpression", $modelQueryExpression))`)
		assert.NotContains(t, content, "without a Sort key defined")
	})
	t.Run("mutations read the key from merged values", func(t *testing.T) {
		content := out.Resolvers["Mutation.updateOrder.preAuth.0.req.vtl"]
		assert.Contains(t, content, "$mergedValues")
		assert.Contains(t, content, `"customerId": $util.dynamodb.toDynamoDB($mergedValues.customerId)`)
	})
}

func TestPrimaryKeyWithoutSortKey(t *testing.T) {
	out := transform(t, `type Account @model { email: String! @primaryKey name: String }`)
	content := out.Resolvers["Query.listAccounts.preAuth.0.req.vtl"]
	assert.Contains(t, content, "sortDirection is not supported for List operations without a Sort key defined.")
	table := out.Stacks["Account"].Resources["AccountTable"]
	assert.Equal(t, []transformer.KeySchemaElement{{AttributeName: "email", KeyType: transformer.KeyTypeHash}}, table.Properties["KeySchema"])
}

func TestCompositeIndex(t *testing.T) {
	out := transform(t, orderSDL)

	t.Run("index is global with a joined sort key", func(t *testing.T) {
		table := out.Stacks["Order"].Resources["OrderTable"]
		gsis := table.Properties["GlobalSecondaryIndexes"].([]*transformer.GlobalSecondaryIndex)
		require.Len(t, gsis, 1)
		assert.Equal(t, "byStatus", gsis[0].IndexName)
		assert.Equal(t, "total#createdAt", gsis[0].KeySchema[1].AttributeName)
		assert.Equal(t, "ALL", gsis[0].Projection.ProjectionType)
		defs := table.Properties["AttributeDefinitions"].([]transformer.AttributeDefinition)
		assert.Contains(t, defs, transformer.AttributeDefinition{AttributeName: "total#createdAt", AttributeType: "S"})
	})
	t.Run("composite key inputs are declared", func(t *testing.T) {
		assert.Contains(t, out.Schema, "input ModelOrderTotalCreatedAtCompositeKeyConditionInput")
		assert.Contains(t, out.Schema, "input ModelOrderTotalCreatedAtCompositeKeyInput")
		assert.Contains(t, out.Schema, "ordersByStatus(status: Status!, totalCreatedAt: ModelOrderTotalCreatedAtCompositeKeyConditionInput, sortDirection: ModelSortDirection, filter: ModelOrderFilterInput, limit: Int, nextToken: String): ModelOrderConnection")
	})
	t.Run("writes keep the composite key in step", func(t *testing.T) {
		content := out.Resolvers["Mutation.createOrder.preAuth.1.req.vtl"]
		assert.Contains(t, content, "When creating any part of the composite sort key for @index 'byStatus', you must provide all fields for the key. Missing key: '$keyFieldName'.")
		assert.Contains(t, content, `$util.qr($ctx.args.input.put("total#createdAt", "${mergedValues.total}#${mergedValues.createdAt}"))`)
		assert.Contains(t, content, `$util.qr($dynamodbNameOverrideMap.put("total#createdAt", "totalCreatedAt"))`)
		assert.Contains(t, out.Resolvers["Mutation.updateOrder.preAuth.1.req.vtl"], "When updating any part")
	})
	t.Run("query resolver reads the index", func(t *testing.T) {
		assert.Contains(t, out.Resolvers["Query.ordersByStatus.data.req.vtl"], `"index": "byStatus"`)
		assert.Contains(t, out.Resolvers["Query.ordersByStatus.data.req.vtl"], `"operation": "Query"`)
		content := out.Resolvers["Query.ordersByStatus.preAuth.0.req.vtl"]
		assert.Contains(t, content, `$modelQueryExpression.expressionNames.put("#sortKey", "total#createdAt")`)
		assert.Contains(t, content, "begins_with(#sortKey, :sortKey)")
		assert.NotContains(t, content, "you must also provide argument")
		assert.Contains(t, out.Resolvers["Query.ordersByStatus.postAuth.0.req.vtl"], "Sandbox Mode Disabled")
	})
}

// preAuth joins the preAuth functions of a resolver in slot order.
func preAuth(out *transformer.DeploymentResources, resolver string) string {
	var parts []string
	for i := 0; ; i++ {
		content, ok := out.Resolvers[fmt.Sprintf("%s.preAuth.%d.req.vtl", resolver, i)]
		if !ok {
			return strings.Join(parts, "\n")
		}
		parts = append(parts, content)
	}
}

func TestCompositePrimaryKey(t *testing.T) {
	out := transform(t, `
type Item @model {
  id: ID! @primaryKey(sortKeyFields: ["a", "b"])
  a: String!
  b: String!
}
`)
	for _, op := range []string{"Mutation.createItem", "Mutation.updateItem", "Mutation.deleteItem"} {
		t.Run(op, func(t *testing.T) {
			content := preAuth(out, op)
			composite := strings.Index(content, "## [Start] Set the composite sort key. **")
			key := strings.Index(content, "## [Start] Set the primary key. **")
			require.GreaterOrEqual(t, composite, 0)
			require.GreaterOrEqual(t, key, 0)
			assert.Less(t, composite, key, "the composite key is assembled before the key is set")
			assert.Contains(t, content, `$util.qr($ctx.args.input.put("a#b", "${mergedValues.a}#${mergedValues.b}"))`)
			assert.Contains(t, content, `"a#b": $util.dynamodb.toDynamoDB("${mergedValues.a}#${mergedValues.b}")`)
		})
	}
}

func TestCompositeIndexGuard(t *testing.T) {
	out := transform(t, `
type Entry @model {
  id: ID!
  kind: String! @index(name: "byKind", sortKeyFields: ["a", "b"])
  a: String
  b: String
}
`)
	tests := []struct {
		op    string
		verb  string
		guard bool
	}{
		{op: "Mutation.createEntry", verb: "creating", guard: true},
		{op: "Mutation.updateEntry", verb: "updating", guard: true},
		{op: "Mutation.deleteEntry"},
	}
	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			content := preAuth(out, tt.op)
			assemble := `$util.qr($ctx.args.input.put("a#b", "${mergedValues.a}#${mergedValues.b}"))`
			require.Contains(t, content, assemble)
			if !tt.guard {
				assert.NotContains(t, content, "Validate update mutation for @index")
				assert.NotContains(t, content, "you must provide all fields for the key")
				assert.NotContains(t, content, "#if( !$util.isNull($mergedValues.a) && !$util.isNull($mergedValues.b) )")
				return
			}
			guard := strings.Index(content, "## [Start] Validate update mutation for @index 'byKind'. **")
			require.GreaterOrEqual(t, guard, 0)
			assert.Less(t, guard, strings.Index(content, assemble), "the guard runs before the key is assembled")

			// No key field in the input leaves the flag unset and skips the check.
			assert.Contains(t, content, "#set( $hasSeenSomeKeyArg = false )")
			assert.Contains(t, content, `#set( $keyFieldNames = ["a", "b"] )`)
			assert.Contains(t, content, `#if( $ctx.args.input.containsKey("$keyFieldName") ) #set( $hasSeenSomeKeyArg = true ) #end`)
			// Any key field in the input requires every field, reporting the first missing one.
			check := fmt.Sprintf(`#if( !$mergedValues.containsKey("$keyFieldName") ) $util.error("When %s any part of the composite sort key for @index 'byKind', you must provide all fields for the key. Missing key: '$keyFieldName'.", "InvalidArgumentsError") #end`, tt.verb)
			assert.Contains(t, content, "#if( $hasSeenSomeKeyArg )\n")
			assert.Contains(t, content, check)
			assert.Less(t, strings.Index(content, "#if( $hasSeenSomeKeyArg )"), strings.Index(content, check))
			// Both fields present writes the joined key.
			assert.Contains(t, content, "#if( !$util.isNull($mergedValues.a) && !$util.isNull($mergedValues.b) )")
		})
	}
}

func TestIndexOnTablePartitionKeyWithoutSortKey(t *testing.T) {
	out := transform(t, `type Post @model { id: ID! @index(name: "byId") title: String }`)
	props := out.Stacks["Post"].Resources["PostTable"].Properties
	assert.NotContains(t, props, "LocalSecondaryIndexes")
	gsis := props["GlobalSecondaryIndexes"].([]*transformer.GlobalSecondaryIndex)
	require.Len(t, gsis, 1)
	assert.Equal(t, "byId", gsis[0].IndexName)
	assert.Equal(t, []transformer.KeySchemaElement{{AttributeName: "id", KeyType: transformer.KeyTypeHash}}, gsis[0].KeySchema)
}

func TestLocalIndex(t *testing.T) {
	sdl := `
type Message @model {
  roomId: ID! @primaryKey(sortKeyFields: ["sentAt"]) @index(name: "byAuthor", sortKeyFields: ["author"])
  sentAt: AWSDateTime!
  author: String!
}
`
	tests := []struct {
		name   string
		asGSI  bool
		wantLS bool
	}{
		{name: "same partition key becomes local", wantLS: true},
		{name: "forced global", asGSI: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := transform(t, sdl, transformer.WithSecondaryKeyAsGSI(tt.asGSI))
			props := out.Stacks["Message"].Resources["MessageTable"].Properties
			_, hasLSI := props["LocalSecondaryIndexes"]
			_, hasGSI := props["GlobalSecondaryIndexes"]
			assert.Equal(t, tt.wantLS, hasLSI)
			assert.Equal(t, !tt.wantLS, hasGSI)
		})
	}
}

func TestAutoQueryNames(t *testing.T) {
	out := transform(t, `type Post @model { id: ID! blogId: ID! @index(sortKeyFields: ["title"]) title: String! }`,
		transformer.WithTransformParameters(transformer.TransformParameters{EnableAutoIndexQueryNames: true}))
	assert.Contains(t, out.Schema, "postsByBlogIdAndTitle(blogId: ID!, title: ModelStringKeyConditionInput")
	assert.Contains(t, out.Resolvers["Query.postsByBlogIdAndTitle.data.req.vtl"], `"index": "byBlogIdAndTitle"`)
}

func TestSyncQueryPlan(t *testing.T) {
	out := transform(t, `
type Post @model {
  id: ID!
  blogId: ID! @index(name: "byBlog", sortKeyFields: ["title"])
  title: String!
}
`, transformer.WithResolverConfig(&transformer.ResolverConfig{
		Project: &transformer.SyncConfig{ConflictHandler: transformer.ConflictHandlerAutomerge},
	}))
	content := out.Resolvers["Query.syncPosts.preAuth.0.req.vtl"]
	assert.Contains(t, content, `"blogId+title": "byBlog"`)
	assert.Contains(t, content, `"id": "dbTable"`)
	assert.Contains(t, content, "#set( $window = $ctx.stash.deltaSyncTableTtl * 60000 )")
	assert.Contains(t, content, `#elseif( !$util.isNull($skCondition.ge) )`)
	assert.Contains(t, content, `$util.qr($ctx.stash.put("QueryRequest", $QueryRequest))`)

	t.Run("request is a sync of the key", func(t *testing.T) {
		assert.Contains(t, content, `"operation": "Sync",`)
		assert.NotContains(t, content, `"operation": "Query"`)
		assert.Contains(t, content, `"lastSync": $util.defaultIfNull($args.lastSync, null),`)
		assert.Contains(t, content, `"query": $query`)
		assert.Contains(t, content, "#set( $QueryRequest.scanIndexForward = false )")
		assert.Contains(t, content, "#set( $QueryRequest.filter = $util.parseJson($util.transform.toDynamoDBFilterExpression({ \"and\": $residual })) )")
	})
}

func TestSyncQueryPlanPrecedence(t *testing.T) {
	out := transform(t, `
type Post @model {
  id: ID! @index(name: "byIdAndTitle", sortKeyFields: ["title"])
  blogId: ID! @index(name: "byBlog", sortKeyFields: ["title"]) @index(name: "byBlogAndDate", sortKeyFields: ["createdAt"])
  title: String!
  createdAt: AWSDateTime!
}
`, transformer.WithResolverConfig(&transformer.ResolverConfig{
		Project: &transformer.SyncConfig{ConflictHandler: transformer.ConflictHandlerAutomerge},
	}))
	content := out.Resolvers["Query.syncPosts.preAuth.0.req.vtl"]

	tests := []struct {
		name    string
		want    string
		notWant string
	}{
		{name: "an index on the table key replaces the table", want: `"id": "byIdAndTitle"`, notWant: `"id": "dbTable"`},
		{name: "the last index of a partition key wins", want: `"blogId": "byBlogAndDate"`, notWant: `"blogId": "byBlog"`},
		{name: "every sort key pair keeps its index", want: `"blogId+title": "byBlog"`},
		{name: "sort keys are mapped by index", want: `"byBlogAndDate": "createdAt"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, content, tt.want)
			if tt.notWant != "" {
				assert.NotContains(t, content, tt.notWant)
			}
		})
	}
}

func TestIndexRelational(t *testing.T) {
	sdl := `
type Book @model {
  isbn: String! @primaryKey
  author: String! @index(name: "byAuthor", queryField: "booksByAuthor")
}
`
	tr := newTransform(t,
		transformer.WithModelDataSource("Book", transformer.DatasourceType{DBType: dialect.Postgres}),
		transformer.WithSQLConnection(&transformer.SQLConnection{ConnectionURI: "postgres://app:pw@db.example.com:5432/library"}))
	out, err := tr.Transform(sdl)
	require.NoError(t, err)

	req := out.Resolvers["Query.booksByAuthor.data.req.vtl"]
	assert.Contains(t, req, `#set( $lambdaInput.operation = "INDEX_QUERY" )`)
	assert.Contains(t, req, `#set( $lambdaInput.args.metadata.index = "byAuthor" )`)
	assert.Contains(t, out.Resolvers["Query.getBook.data.req.vtl"], `#set( $lambdaInput.args.metadata.keys = ["isbn"] )`)
	assert.Contains(t, out.Schema, "listBooks(filter: ModelBookFilterInput, limit: Int, nextToken: String): ModelBookConnection")
}

func TestIndexErrors(t *testing.T) {
	tests := []struct {
		name string
		sdl  string
		want string
	}{
		{
			name: "duplicate index name",
			sdl:  `type Post @model { id: ID! a: String @index(name: "byA") b: String @index(name: "byA") }`,
			want: "You may only supply one @index named 'byA' on type 'Post'.",
		},
		{
			name: "two primary keys",
			sdl:  `type Post @model { a: ID! @primaryKey b: ID! @primaryKey }`,
			want: "You may only supply one primary key on type 'Post'.",
		},
		{
			name: "missing sort key field",
			sdl:  `type Post @model { id: ID! @primaryKey(sortKeyFields: ["nope"]) }`,
			want: "Can't find field 'nope' in Post, but it was specified in the primary key.",
		},
		{
			name: "nullable primary key",
			sdl:  `type Post @model { id: ID @primaryKey }`,
			want: "must reference non-null fields",
		},
		{
			name: "non scalar key",
			sdl:  `type Tag { name: String } type Post @model { id: ID! tags: [String] @index(name: "byTags") }`,
			want: "cannot reference non-scalar field 'tags'",
		},
		{
			name: "not a model",
			sdl:  `type Post { id: ID! @primaryKey }`,
			want: "may only be added to object definitions annotated with @model",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTransform(t).Transform(tt.sdl)
			require.Error(t, err)
			assert.True(t, transformer.IsInvalidDirectiveError(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
