package transformer

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vektah/gqlparser/v2/ast"
)

// listPlugin generates a list query for every type carrying @list.
type listPlugin struct {
	phase Phase
	calls *[]string
	types []string
}

func (p *listPlugin) Name() string { return "ListPlugin" }
func (p *listPlugin) Phase() Phase { return p.phase }
func (p *listPlugin) Directive() string {
	return `directive @list(field: String) on OBJECT`
}

func (p *listPlugin) record(s string) {
	if p.calls != nil {
		*p.calls = append(*p.calls, s)
	}
}

func (p *listPlugin) Object(ctx *Context, def *ast.Definition, dir *ast.Directive) error {
	p.record("visit " + def.Name)
	p.types = append(p.types, def.Name)
	return nil
}

func (p *listPlugin) TransformSchema(ctx *Context) error {
	p.record("schema")
	for _, name := range p.types {
		if _, err := ctx.AddField(QueryTypeName, &ast.FieldDefinition{
			Name: "list" + Plural(name),
			Type: ast.ListType(ast.NamedType(name, nil), nil),
		}); err != nil {
			return err
		}
	}
	return nil
}

func (p *listPlugin) GenerateResolvers(ctx *Context) error {
	p.record("generate")
	for _, name := range p.types {
		r := ctx.Resolvers.GenerateQueryResolver(QueryTypeName, "list"+Plural(name), NoneDataSourceName,
			InlineTemplate(`{"version": "2018-05-29", "payload": {}}`), InlineTemplate("$util.toJson($ctx.result)"))
		if err := r.AddToSlot(SlotPostAuth, InlineTemplate("## sandbox"), nil); err != nil {
			return err
		}
		r.SetScope(name)
	}
	return nil
}

func (p *listPlugin) After(ctx *Context) error {
	p.record("after")
	return nil
}

// tagPlugin owns a field directive and runs after listPlugin.
type tagPlugin struct {
	calls *[]string
}

func (p *tagPlugin) Name() string      { return "TagPlugin" }
func (p *tagPlugin) Phase() Phase      { return PhaseField }
func (p *tagPlugin) Directive() string { return `directive @tag(value: String!) on FIELD_DEFINITION` }

func (p *tagPlugin) Field(ctx *Context, parent *ast.Definition, field *ast.FieldDefinition, dir *ast.Directive) error {
	var args struct {
		Value string `mapstructure:"value"`
	}
	if err := ctx.Directive(dir, parent.Name, field.Name).Arguments(&args, nil); err != nil {
		return err
	}
	*p.calls = append(*p.calls, "tag "+parent.Name+"."+field.Name+"="+args.Value)
	return nil
}

const todoSDL = `
type Todo @list {
  id: ID!
  name: String @tag(value: "title")
}
`

// listSDL uses only the directive of listPlugin.
const listSDL = `
type Todo @list {
  id: ID!
  name: String
}
`

func TestTransformPasses(t *testing.T) {
	t.Run("plugins run pass by pass in phase order", func(t *testing.T) {
		var calls []string
		tr, err := New(WithPlugins(&tagPlugin{calls: &calls}, &listPlugin{calls: &calls}))
		require.NoError(t, err)

		_, err = tr.Transform(todoSDL)
		require.NoError(t, err)
		assert.Equal(t, []string{
			"visit Todo",
			"tag Todo.name=title",
			"schema",
			"generate",
			"after",
		}, calls)
		assert.Equal(t, StateFinalized, tr.State())
	})

	t.Run("plugins defining the same directive are rejected", func(t *testing.T) {
		_, err := New(WithPlugins(&listPlugin{}, &listPlugin{}))
		assert.True(t, IsConfigError(err))
	})

	t.Run("invalid directive arguments fail the run", func(t *testing.T) {
		var calls []string
		tr, err := New(WithPlugins(&tagPlugin{calls: &calls}, &listPlugin{}))
		require.NoError(t, err)

		_, err = tr.Transform(`type Todo @list { id: ID! name: String @tag(value: 1) }`)
		require.Error(t, err)
		assert.Equal(t, StateFailed, tr.State())
	})

	t.Run("hook errors fail the run", func(t *testing.T) {
		boom := errors.New("boom")
		tr, err := New(WithPlugins(&listPlugin{}), WithHooks(func(next SynthesizeFunc) SynthesizeFunc {
			return func(*Context) (*DeploymentResources, error) { return nil, boom }
		}))
		require.NoError(t, err)
		_, err = tr.Transform(listSDL)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, StateFailed, tr.State())
	})
}

func TestTransformValidation(t *testing.T) {
	tests := []struct {
		name string
		sdl  string
	}{
		{"syntax error", `type Todo @list {`},
		{"unknown type", `type Todo @list { id: ID! owner: Owner }`},
		{"unknown directive", `type Todo @searchable { id: ID! }`},
		{"reserved key directive", `type Todo @key(fields: ["id"]) { id: ID! }`},
		{"reserved connection directive", `type Todo { id: ID! parent: Todo @connection }`},
		{"reserved versioned directive", `type Todo @versioned { id: ID! }`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := New(WithPlugins(&listPlugin{}))
			require.NoError(t, err)
			_, err = tr.Transform(tt.sdl)
			require.Error(t, err)
			assert.True(t, IsSchemaValidationError(err))
			assert.Equal(t, StateFailed, tr.State())
		})
	}

	t.Run("reserved directives name the replacement", func(t *testing.T) {
		tr, err := New(WithPlugins(&listPlugin{}))
		require.NoError(t, err)
		_, err = tr.Transform(`type Todo @key(fields: ["id"]) { id: ID! }`)
		assert.Contains(t, err.Error(), "@primaryKey or @index")
	})

	t.Run("service scalars and directives are predefined", func(t *testing.T) {
		tr, err := New(WithPlugins(&listPlugin{}))
		require.NoError(t, err)
		_, err = tr.Validate(`type Todo @list @aws_api_key { id: ID! createdAt: AWSDateTime meta: AWSJSON }`)
		assert.NoError(t, err)
	})
}

func TestTransformOutput(t *testing.T) {
	t.Run("synthesizes resolvers functions and stacks", func(t *testing.T) {
		tr, err := New(WithPlugins(&listPlugin{}))
		require.NoError(t, err)
		out, err := tr.Transform(listSDL)
		require.NoError(t, err)

		assert.Contains(t, out.Schema, "listTodos: [Todo]")
		assert.NotContains(t, out.Schema, "@list")
		assert.Contains(t, out.Resolvers, "Query.listTodos.req.vtl")
		assert.Contains(t, out.Resolvers, "Query.listTodos.postAuth.0.req.vtl")
		assert.Contains(t, out.Resolvers, "Query.listTodos.data.req.vtl")
		assert.Equal(t, []string{"QueryListTodosPostAuth0Function", "QueryListTodosDataFunction"}, out.Functions["Query.listTodos"])

		require.Contains(t, out.Stacks, "Todo")
		assert.Contains(t, out.Stacks["Todo"].Resources, "QueryListTodosResolver")
		assert.Contains(t, out.RootStack.Resources, "Todo")
		assert.Contains(t, out.RootStack.Resources, GraphQLAPIResourceID)
		assert.Contains(t, out.RootStack.Resources, APIKeyResourceID)
		assert.Equal(t, "Todo", out.StackMapping["QueryListTodosResolver"])
		assert.NotEmpty(t, out.BuildID)
	})

	t.Run("before template seeds the stash", func(t *testing.T) {
		tr, err := New(WithPlugins(&listPlugin{}))
		require.NoError(t, err)
		out, err := tr.Transform(listSDL)
		require.NoError(t, err)
		before := out.Resolvers["Query.listTodos.req.vtl"]
		assert.Contains(t, before, `$util.qr($ctx.stash.put("typeName", "Query"))`)
		assert.Contains(t, before, `$util.qr($ctx.stash.put("fieldName", "listTodos"))`)
		assert.Contains(t, before, `$util.qr($ctx.stash.metadata.put("dataSourceType", "NONE"))`)
	})

	t.Run("stack mapping moves resolvers", func(t *testing.T) {
		tr, err := New(WithPlugins(&listPlugin{}), WithStackMapping(map[string]string{"QueryListTodosResolver": "CustomResources"}))
		require.NoError(t, err)
		out, err := tr.Transform(listSDL)
		require.NoError(t, err)
		require.Contains(t, out.Stacks, "CustomResources")
		assert.Contains(t, out.Stacks["CustomResources"].Resources, "QueryListTodosResolver")
	})

	t.Run("api key generation can be suppressed", func(t *testing.T) {
		tr, err := New(WithPlugins(&listPlugin{}), WithTransformParameters(TransformParameters{SuppressAPIKeyGeneration: true}))
		require.NoError(t, err)
		out, err := tr.Transform(listSDL)
		require.NoError(t, err)
		assert.NotContains(t, out.RootStack.Resources, APIKeyResourceID)
	})

	t.Run("runs are deterministic", func(t *testing.T) {
		render := func() []byte {
			tr, err := New(WithPlugins(&listPlugin{}))
			require.NoError(t, err)
			out, err := tr.Transform(listSDL)
			require.NoError(t, err)
			data, err := json.Marshal(out)
			require.NoError(t, err)
			return data
		}
		assert.Equal(t, render(), render())
	})

	t.Run("hooks wrap synthesis in order", func(t *testing.T) {
		var order []string
		hook := func(name string) Hook {
			return func(next SynthesizeFunc) SynthesizeFunc {
				return func(ctx *Context) (*DeploymentResources, error) {
					order = append(order, name)
					return next(ctx)
				}
			}
		}
		tr, err := New(WithPlugins(&listPlugin{}), WithHooks(hook("first"), hook("second")))
		require.NoError(t, err)
		_, err = tr.Transform(listSDL)
		require.NoError(t, err)
		assert.Equal(t, []string{"first", "second"}, order)
	})
}

func TestTransformOverrides(t *testing.T) {
	const override = "Query.listTodos.postAuth.0.req.vtl"

	t.Run("user templates replace generated functions", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fs, "/api/resolvers/"+override, []byte("## custom"), 0o644))
		tr, err := New(
			WithPlugins(&listPlugin{}),
			WithFs(fs),
			WithOverrideConfig(&OverrideConfig{OverrideDir: "/api/resolvers"}),
		)
		require.NoError(t, err)

		out, err := tr.Transform(listSDL)
		require.NoError(t, err)
		assert.Equal(t, "## custom", out.Resolvers[override])
		assert.Equal(t, NoopTemplate, out.Resolvers["Query.listTodos.postAuth.0.res.vtl"])
		assert.Equal(t, []string{"Query.listTodos.postAuth.0"}, out.UserOverriddenSlots)
	})

	t.Run("removing the override directory restores the baseline", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		tr, err := New(
			WithPlugins(&listPlugin{}),
			WithFs(fs),
			WithOverrideConfig(&OverrideConfig{OverrideDir: "/api/resolvers"}),
		)
		require.NoError(t, err)
		out, err := tr.Transform(listSDL)
		require.NoError(t, err)

		baseline, err := New(WithPlugins(&listPlugin{}))
		require.NoError(t, err)
		want, err := baseline.Transform(listSDL)
		require.NoError(t, err)
		assert.Equal(t, want.Resolvers, out.Resolvers)
		assert.Empty(t, out.UserOverriddenSlots)
	})

	t.Run("unknown targets and malformed names are logged and skipped", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
		tr, err := New(
			WithPlugins(&listPlugin{}),
			WithLogger(logger),
			WithUserTemplates(map[string]string{
				"Query.getTodo.postAuth.0.req.vtl": "## orphan",
				"Query.listTodos.whenever.req.vtl": "## bad slot",
			}),
		)
		require.NoError(t, err)
		out, err := tr.Transform(listSDL)
		require.NoError(t, err)
		assert.Empty(t, out.UserOverriddenSlots)
		assert.Contains(t, buf.String(), "level=WARN")
		assert.Contains(t, buf.String(), "Query.getTodo")
		assert.Contains(t, buf.String(), "Query.listTodos.whenever.req.vtl")
	})

	t.Run("appended positions extend the slot", func(t *testing.T) {
		tr, err := New(
			WithPlugins(&listPlugin{}),
			WithUserTemplates(map[string]string{"Query.listTodos.postAuth.1.res.vtl": "## extra"}),
		)
		require.NoError(t, err)
		out, err := tr.Transform(listSDL)
		require.NoError(t, err)
		assert.Equal(t, "## sandbox", out.Resolvers["Query.listTodos.postAuth.0.req.vtl"])
		assert.Equal(t, "## extra", out.Resolvers["Query.listTodos.postAuth.1.res.vtl"])
	})
}
