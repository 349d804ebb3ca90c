package auth_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShadowCat567/amplify-category-api/dialect"
	"github.com/ShadowCat567/amplify-category-api/plugin/auth"
	"github.com/ShadowCat567/amplify-category-api/plugin/model"
	"github.com/ShadowCat567/amplify-category-api/transformer"
)

var userPools = transformer.AuthConfig{
	DefaultAuthentication: transformer.AuthMode{AuthenticationType: transformer.AuthTypeUserPools},
}

func newTransform(t *testing.T, opts ...transformer.Option) *transformer.GraphQLTransform {
	t.Helper()
	opts = append([]transformer.Option{transformer.WithPlugins(model.New(), auth.New())}, opts...)
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

func TestAuthDefaultRule(t *testing.T) {
	out := transform(t, `type Todo @model { id: ID! name: String }`)
	for _, file := range []string{
		"Query.getTodo.auth.0.req.vtl",
		"Query.listTodos.auth.0.req.vtl",
		"Mutation.createTodo.auth.0.req.vtl",
		"Subscription.onCreateTodo.auth.0.req.vtl",
	} {
		content := out.Resolvers[file]
		assert.Contains(t, content, `$util.qr($ctx.stash.put("hasAuth", true))`, file)
		assert.Contains(t, content, `#if( $util.authType() == "API Key Authorization" )`, file)
		assert.Contains(t, content, "#if( !$isAuthorized ) $util.unauthorized() #end", file)
	}
	assert.NotContains(t, out.Schema, "@aws_api_key")
}

func TestAuthDefaultRuleModes(t *testing.T) {
	tests := []struct {
		name string
		mode string
		want string
	}{
		{name: "api key in sandbox", mode: transformer.AuthTypeAPIKey, want: `#if( $util.authType() == "API Key Authorization" )`},
		{name: "user pools", mode: transformer.AuthTypeUserPools, want: `#if( $util.authType() == "User Pool Authorization" )`},
		{name: "iam", mode: transformer.AuthTypeIAM, want: `#if( $util.authType() == "IAM Authorization" )`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := transform(t, `type Todo @model { id: ID! name: String }`,
				transformer.WithSandboxMode(true),
				transformer.WithAuthConfig(transformer.AuthConfig{
					DefaultAuthentication: transformer.AuthMode{AuthenticationType: tt.mode},
				}))
			for _, op := range []string{"Query.getTodo", "Query.listTodos", "Query.syncTodos", "Mutation.createTodo", "Mutation.updateTodo", "Mutation.deleteTodo"} {
				content, ok := out.Resolvers[op+".auth.0.req.vtl"]
				if !ok {
					continue
				}
				assert.Contains(t, content, tt.want, op)
				assert.Contains(t, content, "#set( $isAuthorized = true )", op)
			}
			assert.Contains(t, out.Resolvers["Query.getTodo.auth.0.req.vtl"], tt.want)
		})
	}
}

const ownerSDL = `
type Post @model @auth(rules: [{allow: owner}, {allow: groups, groups: ["Admin"]}]) {
  id: ID!
  title: String!
}
`

func TestAuthOwner(t *testing.T) {
	out := transform(t, ownerSDL, transformer.WithAuthConfig(userPools))

	t.Run("owner field is added", func(t *testing.T) {
		assert.Regexp(t, `type Post \{[^}]*owner: String`, out.Schema)
		assert.NotContains(t, out.Schema, "@auth")
	})
	t.Run("create fills the owner", func(t *testing.T) {
		content := out.Resolvers["Mutation.createPost.auth.0.req.vtl"]
		assert.Contains(t, content, `$util.qr($ctx.args.input.put("owner", $ownerClaim0))`)
		assert.Contains(t, content, `$util.defaultIfNull($ctx.identity.claims.get("username"), $util.defaultIfNull($ctx.identity.claims.get("cognito:username"), "___xamznone____"))`)
		assert.Contains(t, content, `$groupsInToken.contains("Admin")`)
	})
	t.Run("list filters by owner", func(t *testing.T) {
		content := out.Resolvers["Query.listPosts.auth.0.req.vtl"]
		assert.Contains(t, content, `$util.qr($authFilter.add({"owner": {"eq": $ownerClaim0}}))`)
		assert.Contains(t, content, `$util.qr($ctx.stash.put("authFilter", {"or": $authFilter}))`)
	})
	t.Run("get checks the loaded item", func(t *testing.T) {
		assert.Contains(t, out.Resolvers["Query.getPost.auth.0.req.vtl"], `$util.qr($ctx.stash.put("isAuthorized", $isAuthorized))`)
		content := out.Resolvers["Query.getPost.postDataLoad.0.req.vtl"]
		assert.Contains(t, content, "#if( $ctx.prev.result.owner == $ownerClaim0 ) #set( $isAuthorized = true ) #end")
		assert.Equal(t, transformer.ResolverAfterTemplate, out.Resolvers["Query.getPost.postDataLoad.0.res.vtl"])
	})
	t.Run("update and delete add a condition", func(t *testing.T) {
		for _, file := range []string{"Mutation.updatePost.auth.0.req.vtl", "Mutation.deletePost.auth.0.req.vtl"} {
			content := out.Resolvers[file]
			assert.Contains(t, content, `$util.qr($authCondition.add({"owner": {"eq": $ownerClaim0}}))`, file)
			assert.Contains(t, content, `$util.qr($ctx.stash.conditions.add({"or": $authCondition}))`, file)
		}
	})
	t.Run("subscriptions set a filter", func(t *testing.T) {
		assert.Contains(t, out.Resolvers["Subscription.onCreatePost.auth.0.req.vtl"], "$extensions.setSubscriptionFilter")
	})
}

func TestAuthOwnerClaims(t *testing.T) {
	tests := []struct {
		name   string
		sdl    string
		params transformer.TransformParameters
		want   string
	}{
		{
			name: "custom claim",
			sdl:  `type Post @model @auth(rules: [{allow: owner, identityClaim: "sub"}]) { id: ID! }`,
			want: `#set( $ownerClaim0 = $util.defaultIfNull($ctx.identity.claims.get("sub"), "___xamznone____") )`,
		},
		{
			name:   "sub and username",
			sdl:    `type Post @model @auth(rules: [{allow: owner}]) { id: ID! }`,
			params: transformer.TransformParameters{UseSubUsernameForDefaultIdentityClaim: true},
			want:   `#set( $ownerClaim0 = "${ownerClaim0Part0}::${ownerClaim0Part1}" )`,
		},
		{
			name: "list owner field",
			sdl:  `type Post @model @auth(rules: [{allow: owner, ownerField: "editors"}]) { id: ID! editors: [String] }`,
			want: `{"editors": {"contains": $ownerClaim0}}`,
		},
		{
			name: "dynamic groups",
			sdl:  `type Post @model @auth(rules: [{allow: groups, groupsField: "teams"}]) { id: ID! teams: [String] }`,
			want: `#foreach( $userGroup in $groupClaim0 )`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := transform(t, tt.sdl, transformer.WithAuthConfig(userPools), transformer.WithTransformParameters(tt.params))
			assert.Contains(t, out.Resolvers["Query.listPosts.auth.0.req.vtl"], tt.want)
		})
	}
}

func TestAuthProviderDirectives(t *testing.T) {
	cfg := userPools
	cfg.AdditionalAuthenticationProviders = []transformer.AuthMode{{AuthenticationType: transformer.AuthTypeAPIKey}}
	out := transform(t, `
type Post @model @auth(rules: [{allow: owner}, {allow: public, operations: [read]}]) {
  id: ID!
}
`, transformer.WithAuthConfig(cfg))

	assert.Contains(t, out.Schema, "@aws_cognito_user_pools")
	assert.Contains(t, out.Schema, "@aws_api_key")
	content := out.Resolvers["Query.listPosts.auth.0.req.vtl"]
	assert.Contains(t, content, `#if( $util.authType() == "API Key Authorization" )`)
	assert.NotContains(t, out.Resolvers["Mutation.createPost.auth.0.req.vtl"], "API Key Authorization")
}

func TestAuthFieldRules(t *testing.T) {
	out := transform(t, `
type Employee @model @auth(rules: [{allow: private}]) {
  id: ID!
  name: String
  salary: Int @auth(rules: [{allow: groups, groups: ["HR"]}])
}
`, transformer.WithAuthConfig(userPools))

	t.Run("reads go through a field resolver", func(t *testing.T) {
		assert.Equal(t, "$util.toJson($ctx.source.salary)", out.Resolvers["Employee.salary.data.res.vtl"])
		assert.Contains(t, out.Resolvers["Employee.salary.auth.0.req.vtl"], `$groupsInToken.contains("HR")`)
	})
	t.Run("writes of the field are guarded", func(t *testing.T) {
		for _, file := range []string{"Mutation.createEmployee.auth.0.req.vtl", "Mutation.updateEmployee.auth.0.req.vtl"} {
			assert.Contains(t, out.Resolvers[file], `#if( $ctx.args.input.containsKey("salary") )`, file)
		}
	})
}

func TestAuthOperationRules(t *testing.T) {
	tr := newTransform(t, transformer.WithAuthConfig(userPools))
	_, err := tr.Transform(`
type Post @model { id: ID! }
type Query {
  echo(msg: String): String @auth(rules: [{allow: owner}])
}
`)
	require.Error(t, err)
	assert.True(t, transformer.IsInvalidDirectiveError(err))
	assert.Contains(t, err.Error(), "not supported on operation fields")
}

func TestAuthErrors(t *testing.T) {
	tests := []struct {
		name string
		sdl  string
		want string
	}{
		{
			name: "provider not configured",
			sdl:  `type Post @model @auth(rules: [{allow: public}]) { id: ID! }`,
			want: "no API Key authentication provider configured",
		},
		{
			name: "provider not allowed for strategy",
			sdl:  `type Post @model @auth(rules: [{allow: owner, provider: iam}]) { id: ID! }`,
			want: "only supports 'userPools' and 'oidc' providers",
		},
		{
			name: "non model type",
			sdl:  `type Post @auth(rules: [{allow: private}]) { id: ID! }`,
			want: "must also be annotated with @model",
		},
		{
			name: "owner field type",
			sdl:  `type Post @model @auth(rules: [{allow: owner}]) { id: ID! owner: Int }`,
			want: "must be of type String, ID, [String] or [ID]",
		},
		{
			name: "groups and groups field",
			sdl:  `type Post @model @auth(rules: [{allow: groups, groups: ["A"], groupsField: "g"}]) { id: ID! }`,
			want: "not both",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTransform(t, transformer.WithAuthConfig(userPools)).Transform(tt.sdl)
			require.Error(t, err)
			assert.True(t, transformer.IsInvalidDirectiveError(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestAuthRelational(t *testing.T) {
	out := transform(t, `
type Post @model @auth(rules: [{allow: owner}]) {
  id: ID!
  title: String
}
`, transformer.WithAuthConfig(userPools), transformer.WithModelDataSource("Post", transformer.DatasourceType{DBType: dialect.MySQL}))

	t.Run("queries use the rule helpers", func(t *testing.T) {
		content := out.Resolvers["Query.listPosts.auth.0.req.vtl"]
		assert.Contains(t, content, `"ownerFieldName": "owner"`)
		assert.Contains(t, content, "#set( $authFilter = $util.authRules.queryAuth($authRules) )")
	})
	t.Run("create validates the input", func(t *testing.T) {
		assert.Contains(t, out.Resolvers["Mutation.createPost.auth.0.req.vtl"],
			`$util.authRules.mutationAuth($authRules, "create", $ctx.args.input, null)`)
	})
	t.Run("update loads the existing record", func(t *testing.T) {
		assert.Contains(t, out.Resolvers["Mutation.updatePost.auth.0.req.vtl"], `$util.qr($ctx.stash.put("authRules", $authRules))`)
		assert.Contains(t, out.Resolvers["Mutation.updatePost.auth.1.req.vtl"], `"GET_EXISTING_RECORD"`)
		assert.Contains(t, out.Resolvers["Mutation.updatePost.auth.1.res.vtl"],
			`$util.authRules.mutationAuth($ctx.stash.authRules, "update", $ctx.args.input, $ctx.result)`)
	})
}
