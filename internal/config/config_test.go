package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShadowCat567/amplify-category-api/internal/config"
	"github.com/ShadowCat567/amplify-category-api/transformer"
)

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		s, err := config.Load(config.New(afero.NewMemMapFs()))
		require.NoError(t, err)
		assert.Equal(t, "schema.graphql", s.Schema)
		assert.Equal(t, "build", s.OutDir)
		assert.Equal(t, transformer.FormatJSON, s.Format)
		assert.Equal(t, "text", s.LogFormat)
	})
	t.Run("environment overrides defaults", func(t *testing.T) {
		t.Setenv("GQLTRANSFORM_FORMAT", "yaml")
		t.Setenv("GQLTRANSFORM_LOG_FORMAT", "JSON")
		s, err := config.Load(config.New(afero.NewMemMapFs()))
		require.NoError(t, err)
		assert.Equal(t, transformer.FormatYAML, s.Format)
		assert.Equal(t, "json", s.LogFormat)
	})
	t.Run("settings file", func(t *testing.T) {
		wd, err := os.Getwd()
		require.NoError(t, err)
		fs := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fs, filepath.Join(wd, ".gqltransform.yaml"), []byte("out: dist\nworkers: 4\n"), 0o644))
		s, err := config.Load(config.New(fs))
		require.NoError(t, err)
		assert.Equal(t, "dist", s.OutDir)
		assert.Equal(t, 4, s.Workers)
	})
	t.Run("invalid format", func(t *testing.T) {
		v := config.New(afero.NewMemMapFs())
		v.Set(config.KeyFormat, "toml")
		_, err := config.Load(v)
		require.Error(t, err)
		assert.True(t, transformer.IsConfigError(err))
	})
	t.Run("invalid log format", func(t *testing.T) {
		v := config.New(afero.NewMemMapFs())
		v.Set(config.KeyLogFormat, "xml")
		_, err := config.Load(v)
		require.Error(t, err)
	})
}

func TestReadSchema(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "api/b.graphql", []byte("type B { id: ID }"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "api/a.graphql", []byte("type A { id: ID }"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "api/notes.txt", []byte("ignored"), 0o644))

	t.Run("directory joins files in name order", func(t *testing.T) {
		sdl, err := config.ReadSchema(fs, "api")
		require.NoError(t, err)
		assert.Equal(t, "type A { id: ID }\ntype B { id: ID }", sdl)
	})
	t.Run("single file", func(t *testing.T) {
		sdl, err := config.ReadSchema(fs, "api/b.graphql")
		require.NoError(t, err)
		assert.Equal(t, "type B { id: ID }", sdl)
	})
	t.Run("missing path", func(t *testing.T) {
		_, err := config.ReadSchema(fs, "nope.graphql")
		require.Error(t, err)
	})
}

func TestTransformConfig(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "sql-statements/topPosts.sql", []byte("SELECT * FROM posts LIMIT 10;\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "transform.yaml", []byte(`
transformParameters:
  sandboxModeEnabled: true
customQueries:
  topPosts: SELECT 1
`), 0o644))

	t.Run("settings fill the gaps", func(t *testing.T) {
		cfg, err := config.TransformConfig(fs, &config.Settings{
			Overrides:     "resolvers",
			SQLStatements: "sql-statements",
		})
		require.NoError(t, err)
		assert.Equal(t, "resolvers", cfg.OverrideConfig.OverrideDir)
		assert.Equal(t, "SELECT * FROM posts LIMIT 10;", cfg.CustomQueries["topPosts"])
	})
	t.Run("config file wins", func(t *testing.T) {
		cfg, err := config.TransformConfig(fs, &config.Settings{
			Config:        "transform.yaml",
			SQLStatements: "sql-statements",
		})
		require.NoError(t, err)
		assert.True(t, cfg.TransformParameters.SandboxModeEnabled)
		assert.Equal(t, "SELECT 1", cfg.CustomQueries["topPosts"])
		assert.Nil(t, cfg.OverrideConfig)
	})
}

func TestWatchPaths(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "schema.graphql", []byte("type Q { id: ID }"), 0o644))
	require.NoError(t, fs.MkdirAll("resolvers", 0o755))
	paths := config.WatchPaths(fs, &config.Settings{
		Schema:        "schema.graphql",
		Overrides:     "resolvers",
		SQLStatements: "sql-statements",
	})
	assert.Equal(t, []string{"schema.graphql", "resolvers"}, paths)
}
