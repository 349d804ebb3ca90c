package transformer

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShadowCat567/amplify-category-api/dialect"
)

const projectConfig = `
transformParameters:
  sandboxModeEnabled: true
  secondaryKeyAsGSI: true
resolverConfig:
  project:
    ConflictHandler: AUTOMERGE
    ConflictDetection: VERSION
modelToDatasourceMap:
  Post:
    dbType: MySQL
customQueries:
  topPosts: SELECT * FROM posts LIMIT 10
overrideConfig:
  overrideDir: resolvers
synthParameters:
  apiName: blog
  amplifyEnvironmentName: dev
authConfig:
  defaultAuthentication:
    authenticationType: AMAZON_COGNITO_USER_POOLS
  additionalAuthenticationProviders:
    - authenticationType: API_KEY
`

func TestLoadConfig(t *testing.T) {
	t.Run("reads the project file", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fs, "/api/transform.yaml", []byte(projectConfig), 0o644))

		c, err := LoadConfig(fs, "/api/transform.yaml")
		require.NoError(t, err)
		assert.True(t, c.TransformParameters.SandboxModeEnabled)
		assert.True(t, c.TransformParameters.SecondaryKeyAsGSI)
		assert.Equal(t, ConflictHandlerAutomerge, c.ResolverConfig.Project.ConflictHandler)
		assert.Equal(t, dialect.MySQL, c.ModelToDatasourceMap["Post"].DBType)
		assert.Equal(t, "SELECT * FROM posts LIMIT 10", c.CustomQueries["topPosts"])
		assert.Equal(t, "/api/resolvers", c.OverrideConfig.OverrideDir)
		assert.Equal(t, "dev", c.SynthParameters.AmplifyEnvironmentName)
		assert.True(t, c.AuthConfig.Has(AuthTypeAPIKey))
		assert.False(t, c.AuthConfig.Has(AuthTypeIAM))
		assert.Equal(t, fs, c.Fs)
	})

	t.Run("missing file returns error", func(t *testing.T) {
		_, err := LoadConfig(afero.NewMemMapFs(), "/api/transform.yaml")
		assert.Error(t, err)
	})

	t.Run("malformed file returns error", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fs, "/api/transform.yaml", []byte("transformParameters: [1"), 0o644))
		_, err := LoadConfig(fs, "/api/transform.yaml")
		assert.Error(t, err)
	})
}

func TestContextSyncConfig(t *testing.T) {
	cfg := MustNewConfig(WithResolverConfig(&ResolverConfig{
		Project: &SyncConfig{ConflictHandler: ConflictHandlerAutomerge},
		Models:  map[string]*SyncConfig{"Note": {ConflictHandler: ConflictHandlerOptimistic}},
	}))
	ctx := NewContext(cfg, nil, nil, nil, nil)

	assert.True(t, ctx.IsProjectUsingDataStore())
	assert.Equal(t, ConflictHandlerOptimistic, ctx.SyncConfig("Note").ConflictHandler)
	assert.Equal(t, ConflictHandlerAutomerge, ctx.SyncConfig("Todo").ConflictHandler)
	assert.Equal(t, dialect.DynamoDB, ctx.DataSourceType("Todo").DBType)
	assert.False(t, ctx.IsRelational("Todo"))
}
