package plugin_test

import (
	"encoding/json"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShadowCat567/amplify-category-api/plugin"
	"github.com/ShadowCat567/amplify-category-api/transformer"
)

const todoSDL = `
type Todo @model @auth(rules: [{allow: public}]) {
  id: ID!
  name: String! @index(name: "byName")
}
`

func TestDefaults(t *testing.T) {
	names := map[string]bool{}
	for _, p := range plugin.Defaults() {
		names[p.Name()] = true
	}
	assert.Len(t, names, 8)
}

func transform(t *testing.T, opts ...transformer.Option) *transformer.DeploymentResources {
	t.Helper()
	tr, err := plugin.New(opts...)
	require.NoError(t, err)
	out, err := tr.Transform(todoSDL)
	require.NoError(t, err)
	return out
}

func encode(t *testing.T, out *transformer.DeploymentResources) string {
	t.Helper()
	data, err := transformer.FormatJSON.Encode(out)
	require.NoError(t, err)
	return string(data)
}

func TestTodoEndToEnd(t *testing.T) {
	out := transform(t)

	t.Run("one table with the byName index", func(t *testing.T) {
		st := out.Stacks["Todo"]
		require.NotNil(t, st)
		var tables []string
		for id, r := range st.Resources {
			if r.Type == "AWS::DynamoDB::Table" {
				tables = append(tables, id)
			}
		}
		assert.Equal(t, []string{"TodoTable"}, tables)
		props := st.Resources["TodoTable"].Properties
		var names []string
		if gsis, ok := props["GlobalSecondaryIndexes"].([]*transformer.GlobalSecondaryIndex); ok {
			for _, gsi := range gsis {
				names = append(names, gsi.IndexName)
			}
		}
		if lsis, ok := props["LocalSecondaryIndexes"].([]*transformer.LocalSecondaryIndex); ok {
			for _, lsi := range lsis {
				names = append(names, lsi.IndexName)
			}
		}
		assert.Equal(t, []string{"byName"}, names)
	})
	t.Run("create and update set the key", func(t *testing.T) {
		for _, name := range []string{"Mutation.createTodo", "Mutation.updateTodo"} {
			req := out.Resolvers[name+".preAuth.0.req.vtl"]
			assert.Contains(t, req, "## [Start] Set the primary key. **", name)
		}
	})
	t.Run("output is deterministic", func(t *testing.T) {
		assert.Equal(t, encode(t, out), encode(t, transform(t)))
		first, err := json.Marshal(out.Stacks)
		require.NoError(t, err)
		second, err := json.Marshal(transform(t).Stacks)
		require.NoError(t, err)
		assert.JSONEq(t, string(first), string(second))
	})
}

func TestTodoOverride(t *testing.T) {
	const override = "Query.listTodos.postAuth.0.req.vtl"
	fs := afero.NewMemMapFs()
	opts := []transformer.Option{
		transformer.WithFs(fs),
		transformer.WithOverrideConfig(&transformer.OverrideConfig{OverrideDir: "/api/resolvers"}),
	}
	baseline := encode(t, transform(t, opts...))

	require.NoError(t, afero.WriteFile(fs, "/api/resolvers/"+override, []byte("## custom check"), 0o644))
	out := transform(t, opts...)
	assert.Equal(t, "## custom check", out.Resolvers[override])
	assert.Equal(t, []string{"Query.listTodos.postAuth.0"}, out.UserOverriddenSlots)

	t.Run("removing the overrides restores the baseline", func(t *testing.T) {
		require.NoError(t, fs.RemoveAll("/api/resolvers"))
		assert.Equal(t, baseline, encode(t, transform(t, opts...)))
	})
}
