package function_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShadowCat567/amplify-category-api/plugin/function"
	"github.com/ShadowCat567/amplify-category-api/plugin/model"
	"github.com/ShadowCat567/amplify-category-api/transformer"
)

func transform(t *testing.T, sdl string, opts ...transformer.Option) *transformer.DeploymentResources {
	t.Helper()
	opts = append([]transformer.Option{transformer.WithPlugins(model.New(), function.New())}, opts...)
	tr, err := transformer.New(opts...)
	require.NoError(t, err)
	out, err := tr.Transform(sdl)
	require.NoError(t, err)
	return out
}

func TestFunctionChain(t *testing.T) {
	out := transform(t, `
type Query {
  echo(msg: String): String @function(name: "echofunction-${env}") @function(name: "otherfunction")
}
`)
	st := out.Stacks[function.StackName]
	require.NotNil(t, st)

	t.Run("one datasource per function", func(t *testing.T) {
		assert.Contains(t, st.Resources, "EchofunctionenvLambdaDataSourceDataSource")
		assert.Contains(t, st.Resources, "OtherfunctionLambdaDataSourceDataSource")
		assert.Contains(t, st.Resources, "OtherfunctionLambdaRole")
	})
	t.Run("invocations run in order", func(t *testing.T) {
		assert.Equal(t, []string{"QueryEchoDataFunction", "QueryEchoPostDataLoad0Function"}, out.Functions["Query.echo"])
		first := st.Resources["QueryEchoDataFunction"].Properties
		second := st.Resources["QueryEchoPostDataLoad0Function"].Properties
		assert.Equal(t, transformer.GetAtt("EchofunctionenvLambdaDataSourceDataSource", "Name"), first["DataSourceName"])
		assert.Equal(t, transformer.GetAtt("OtherfunctionLambdaDataSourceDataSource", "Name"), second["DataSourceName"])
	})
	t.Run("invoke payload", func(t *testing.T) {
		req := out.Resolvers["Query.echo.data.req.vtl"]
		assert.Contains(t, req, `"operation": "Invoke"`)
		assert.Contains(t, req, `"arguments": $util.toJson($ctx.arguments)`)
		assert.Contains(t, req, `"prev": $util.toJson($ctx.prev)`)
		assert.Equal(t, req, out.Resolvers["Query.echo.postDataLoad.0.req.vtl"])
		assert.Contains(t, out.Resolvers["Query.echo.data.res.vtl"], "#if( $ctx.error ) $util.error($ctx.error.message, $ctx.error.type) #end")
	})
	t.Run("resolver lives in the function stack", func(t *testing.T) {
		assert.Contains(t, st.Resources, "QueryEchoResolver")
		assert.NotContains(t, out.Schema, "@function")
	})
}

func TestFunctionARN(t *testing.T) {
	tests := []struct {
		name   string
		config function.Config
		want   any
	}{
		{
			name:   "plain name",
			config: function.Config{Name: "echo"},
			want:   transformer.Sub("arn:aws:lambda:${AWS::Region}:${AWS::AccountId}:function:echo"),
		},
		{
			name:   "explicit region",
			config: function.Config{Name: "echo", Region: "eu-west-1"},
			want:   transformer.Sub("arn:aws:lambda:eu-west-1:${AWS::AccountId}:function:echo"),
		},
		{
			name:   "environment suffix",
			config: function.Config{Name: "echo-${env}"},
			want: transformer.Fn("If", transformer.CondHasEnvironmentParameter,
				transformer.Fn("Sub", "arn:aws:lambda:${AWS::Region}:${AWS::AccountId}:function:echo-${env}",
					map[string]any{"env": transformer.Ref(transformer.ParamEnv)}),
				transformer.Sub("arn:aws:lambda:${AWS::Region}:${AWS::AccountId}:function:echo"),
			),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, function.FunctionARN(tt.config))
		})
	}
}

func TestFunctionOnModelField(t *testing.T) {
	out := transform(t, `
type Post @model {
  id: ID!
  title: String!
  summary: String @function(name: "summarize", region: "us-east-2")
}
`)
	assert.Contains(t, out.Resolvers, "Post.summary.data.req.vtl")
	assert.Contains(t, out.Stacks[function.StackName].Resources, "Summarizeuseast2LambdaDataSourceDataSource")
}

func TestFunctionErrors(t *testing.T) {
	tr, err := transformer.New(transformer.WithPlugins(function.New()))
	require.NoError(t, err)
	_, err = tr.Transform(`type Query { echo: String @function(name: " ") }`)
	require.Error(t, err)
	assert.True(t, transformer.IsInvalidDirectiveError(err))
}
