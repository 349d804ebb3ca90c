package cli_test

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShadowCat567/amplify-category-api/internal/cli"
)

const todoSDL = `
type Todo @model {
  id: ID!
  name: String!
}
`

func run(t *testing.T, fs afero.Fs, args ...string) (string, error) {
	t.Helper()
	color.NoColor = true
	var out bytes.Buffer
	cmd := cli.New(fs, &out, &out).NewRootCommand()
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := cli.New(afero.NewMemMapFs(), &bytes.Buffer{}, &bytes.Buffer{}).NewRootCommand()
	assert.Equal(t, "gqltransform", cmd.Use)
	assert.True(t, cmd.SilenceUsage)
	assert.True(t, cmd.CompletionOptions.DisableDefaultCmd)
	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.ElementsMatch(t, []string{"compile", "validate", "watch", "version"}, names)
	assert.NotNil(t, cmd.PersistentFlags().ShorthandLookup("o"))
}

func TestVersion(t *testing.T) {
	out, err := run(t, afero.NewMemMapFs(), "version")
	require.NoError(t, err)
	assert.Equal(t, "gqltransform "+cli.Version+"\n", out)
}

func TestCompile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "schema.graphql", []byte(todoSDL), 0o644))

	out, err := run(t, fs, "compile", "--out", "dist", "--format", "yaml", "--log-level", "silent")
	require.NoError(t, err)
	assert.Contains(t, out, "✔ compiled")

	t.Run("bundle is written", func(t *testing.T) {
		schema, err := afero.ReadFile(fs, filepath.Join("dist", "schema.graphql"))
		require.NoError(t, err)
		assert.Contains(t, string(schema), "type Todo")
		exists, err := afero.Exists(fs, filepath.Join("dist", "resolvers", "Query.getTodo.data.req.vtl"))
		require.NoError(t, err)
		assert.True(t, exists)
	})
	t.Run("overrides are picked up", func(t *testing.T) {
		require.NoError(t, afero.WriteFile(fs, "resolvers/Query.listTodos.postAuth.0.req.vtl", []byte("## mine"), 0o644))
		_, err := run(t, fs, "compile", "--out", "dist", "--log-level", "silent")
		require.NoError(t, err)
		data, err := afero.ReadFile(fs, filepath.Join("dist", "resolvers", "Query.listTodos.postAuth.0.req.vtl"))
		require.NoError(t, err)
		assert.Equal(t, "## mine", string(data))
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		sdl     string
		wantErr string
	}{
		{name: "valid schema", sdl: todoSDL},
		{name: "unknown directive", sdl: `type Todo @table { id: ID! }`, wantErr: "table"},
		{name: "invalid directive use", sdl: `type Todo @model { id: ID! tag: Tag @hasOne } type Tag { id: ID! }`, wantErr: "must be annotated with @model"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			require.NoError(t, afero.WriteFile(fs, "api.graphql", []byte(tt.sdl), 0o644))
			out, err := run(t, fs, "validate", "--schema", "api.graphql", "--log-level", "silent")
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Contains(t, out, "api.graphql is valid")
		})
	}
}

func TestInvalidSettings(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "schema.graphql", []byte(todoSDL), 0o644))
	_, err := run(t, fs, "compile", "--log-level", "loud")
	require.Error(t, err)
	_, err = run(t, fs, "compile", "--format", "xml")
	require.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := cli.NewLogger(&buf, "json", "debug")
	require.NoError(t, err)
	logger.Debug("pass", "state", "transforming")
	assert.Contains(t, buf.String(), `"msg":"pass"`)
	assert.Contains(t, buf.String(), `"state":"transforming"`)

	_, err = cli.NewLogger(&buf, "text", "verbose")
	require.Error(t, err)
}
