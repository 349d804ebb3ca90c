package transformer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStackManager(t *testing.T) {
	t.Run("create stack returns the existing stack", func(t *testing.T) {
		m := NewStackManager(nil)
		a := m.CreateStack("Todo")
		b := m.CreateStack("Todo")
		assert.Same(t, a, b)
		assert.True(t, m.HasStack("Todo"))
		assert.Len(t, m.Stacks(), 1)
	})

	t.Run("empty and root names resolve to the root stack", func(t *testing.T) {
		m := NewStackManager(nil)
		assert.Same(t, m.Root(), m.CreateStack(""))
		assert.Same(t, m.Root(), m.CreateStack(RootStackName))
		assert.Empty(t, m.Stacks())
	})

	t.Run("scope honours the user mapping", func(t *testing.T) {
		m := NewStackManager(map[string]string{"QueryGetTodoResolver": "Custom"})
		mapped := m.GetScopeFor("QueryGetTodoResolver", "Todo")
		unmapped := m.GetScopeFor("QueryListTodosResolver", "Todo")

		assert.Equal(t, "Custom", mapped.Name)
		assert.Equal(t, "Todo", unmapped.Name)
		assert.Equal(t, map[string]string{
			"QueryGetTodoResolver":   "Custom",
			"QueryListTodosResolver": "Todo",
		}, m.Placement())
	})
}

func TestStack(t *testing.T) {
	t.Run("resource ids are unique", func(t *testing.T) {
		s := newStack("Todo")
		require.NoError(t, s.AddResource("TodoTable", &Resource{Type: "AWS::DynamoDB::Table"}))
		err := s.AddResource("TodoTable", &Resource{Type: "AWS::DynamoDB::Table"})
		assert.True(t, IsResourceConsistencyError(err))
	})

	t.Run("template omits empty sections", func(t *testing.T) {
		s := newStack("Todo")
		require.NoError(t, s.AddResource("A", &Resource{Type: "T"}))
		tmpl := s.Template()
		assert.Len(t, tmpl.Resources, 1)
		assert.Nil(t, tmpl.Parameters)
		assert.Nil(t, tmpl.Conditions)
		assert.Nil(t, tmpl.Outputs)
	})

	t.Run("intrinsics", func(t *testing.T) {
		assert.Equal(t, map[string]any{"Ref": "env"}, Ref("env"))
		assert.Equal(t, map[string]any{"Fn::GetAtt": []any{"GraphQLAPI", "ApiId"}}, GetAtt("GraphQLAPI", "ApiId"))
		assert.Equal(t, map[string]any{"Fn::Equals": []any{"a", "b"}}, Fn("Equals", "a", "b"))
	})
}

func TestDataSources(t *testing.T) {
	t.Run("binding a type twice to the same datasource is allowed", func(t *testing.T) {
		d := NewDataSources()
		ds := &DataSource{Name: "TodoTable", Kind: KindDynamoDB}
		require.NoError(t, d.Add("Todo", ds))
		require.NoError(t, d.Add("Todo", ds))
		got, ok := d.Get("Todo")
		require.True(t, ok)
		assert.Same(t, ds, got)
	})

	t.Run("binding a type to another datasource fails", func(t *testing.T) {
		d := NewDataSources()
		require.NoError(t, d.Add("Todo", &DataSource{Name: "TodoTable", Kind: KindDynamoDB}))
		err := d.Add("Todo", &DataSource{Name: "TodoLambda", Kind: KindLambda})
		assert.True(t, IsResourceConsistencyError(err))
	})

	t.Run("datasources are shared by name", func(t *testing.T) {
		d := NewDataSources()
		sql := &DataSource{Name: SQLLambdaDataSourceName, Kind: KindRelational}
		require.NoError(t, d.Add("Post", sql))
		require.NoError(t, d.Add("Comment", &DataSource{Name: SQLLambdaDataSourceName, Kind: KindRelational}))
		got, _ := d.Get("Comment")
		assert.Same(t, sql, got)
		assert.Len(t, d.All(), 1)
		assert.Equal(t, "AWS_LAMBDA", got.ServiceType())
	})
}

func TestTable(t *testing.T) {
	t.Run("new tables are keyed on id", func(t *testing.T) {
		tbl := NewTable("TodoTable", "Todo")
		assert.Equal(t, "id", tbl.PartitionKey())
		assert.Empty(t, tbl.SortKey())
		assert.True(t, tbl.HasAttributeDefinition("id"))
	})

	t.Run("index names are unique across gsis and lsis", func(t *testing.T) {
		tbl := NewTable("TodoTable", "Todo")
		require.NoError(t, tbl.AddGlobalSecondaryIndex(&GlobalSecondaryIndex{IndexName: "byName"}))
		assert.Error(t, tbl.AddLocalSecondaryIndex(&LocalSecondaryIndex{IndexName: "byName"}))
		assert.Error(t, tbl.AddGlobalSecondaryIndex(&GlobalSecondaryIndex{IndexName: "byName"}))
	})

	t.Run("index attributes", func(t *testing.T) {
		tbl := NewTable("TodoTable", "Todo")
		require.NoError(t, tbl.AddGlobalSecondaryIndex(&GlobalSecondaryIndex{
			IndexName: "byName",
			KeySchema: []KeySchemaElement{{AttributeName: "name", KeyType: KeyTypeHash}},
		}))
		assert.Equal(t, map[string]bool{"name": true}, tbl.IndexAttributes())
	})

	t.Run("resource follows the billing condition", func(t *testing.T) {
		props := NewTable("TodoTable", "Todo").Resource().Properties
		assert.Equal(t, Fn("If", CondPayPerRequestBilling, "PAY_PER_REQUEST", Ref("AWS::NoValue")), props["BillingMode"])
		assert.NotContains(t, props, "GlobalSecondaryIndexes")
	})
}

func TestAuthRoleSet(t *testing.T) {
	t.Run("merges roles with the same identity", func(t *testing.T) {
		s := NewAuthRoleSet()
		s.Add("Todo", RoleDefinition{Provider: ProviderUserPools, Strategy: StrategyOwner, Claim: "sub", Entity: "owner", Operations: []string{"create", "read"}})
		s.Add("Todo", RoleDefinition{Provider: ProviderUserPools, Strategy: StrategyOwner, Claim: "sub", Entity: "owner", Operations: []string{"read", "delete"}})

		roles := s.For("Todo")
		require.Len(t, roles, 1)
		assert.Equal(t, []string{"create", "read", "delete"}, roles[0].Operations)
	})

	t.Run("keeps distinct roles in insertion order", func(t *testing.T) {
		s := NewAuthRoleSet()
		s.Add("Todo", RoleDefinition{Provider: ProviderAPIKey, Strategy: StrategyPublic, Operations: []string{"read"}})
		s.Add("Todo", RoleDefinition{Provider: ProviderUserPools, Strategy: StrategyPrivate, Operations: []string{"read", "create"}})

		roles := s.For("Todo")
		require.Len(t, roles, 2)
		assert.Equal(t, ProviderAPIKey, roles[0].Provider)
		assert.Len(t, s.ForOperation("Todo", "create"), 1)
		assert.Equal(t, []string{"Todo"}, s.Types())
	})

	t.Run("deduplicates operations of a single role", func(t *testing.T) {
		s := NewAuthRoleSet()
		role := s.Add("Todo", RoleDefinition{Provider: ProviderIAM, Strategy: StrategyPrivate, Operations: []string{"read", "read"}})
		assert.Equal(t, []string{"read"}, role.Operations)
	})
}
