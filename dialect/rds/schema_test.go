package rds

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"

	"github.com/ShadowCat567/amplify-category-api/dialect"
)

const blogSDL = `
enum Status { DRAFT PUBLISHED }
type Post {
  id: ID!
  title: String!
  views: Int
  rating: Float
  published: Boolean
  status: Status
  createdAt: AWSDateTime
  tags: [String]
  author: Author
}
type Author { id: ID! }
`

func parseTypes(t *testing.T) map[string]*ast.Definition {
	t.Helper()
	doc, err := parser.ParseSchema(&ast.Source{Input: blogSDL})
	require.NoError(t, err)
	types := make(map[string]*ast.Definition)
	for _, def := range doc.Definitions {
		types[def.Name] = def
	}
	return types
}

func TestTableFromDefinition(t *testing.T) {
	types := parseTypes(t)
	identity := func(f string) string { return f }

	t.Run("mysql columns", func(t *testing.T) {
		tbl := TableFromDefinition(dialect.MySQL, types["Post"], "posts", types, identity)
		assert.Equal(t, "posts", tbl.Name)

		want := map[string]string{
			"id":        "varchar(255)",
			"title":     "text",
			"views":     "int",
			"rating":    "double",
			"published": "tinyint(1)",
			"status":    "varchar(255)",
			"createdAt": "datetime",
			"tags":      "json",
		}
		require.Len(t, tbl.Columns, len(want))
		for _, c := range tbl.Columns {
			assert.Equal(t, want[c.Name], ColumnType(dialect.MySQL, fieldType(types["Post"], c.Name), map[string]bool{"Status": true}), c.Name)
		}
		_, ok := tbl.Column("author")
		assert.False(t, ok)
		assert.Equal(t, []string{"id"}, PrimaryKey(tbl))
	})

	t.Run("nullability follows the field type", func(t *testing.T) {
		tbl := TableFromDefinition(dialect.Postgres, types["Post"], "posts", types, identity)
		title, ok := tbl.Column("title")
		require.True(t, ok)
		assert.False(t, title.Type.Null)
		views, ok := tbl.Column("views")
		require.True(t, ok)
		assert.True(t, views.Type.Null)
	})

	t.Run("columns are renamed", func(t *testing.T) {
		rename := func(f string) string {
			if f == "createdAt" {
				return "created_at"
			}
			return f
		}
		tbl := TableFromDefinition(dialect.Postgres, types["Post"], "posts", types, rename)
		_, ok := tbl.Column("created_at")
		assert.True(t, ok)
	})

	t.Run("primary key and indexes", func(t *testing.T) {
		tbl := TableFromDefinition(dialect.MySQL, types["Post"], "posts", types, identity)
		require.NoError(t, SetPrimaryKey(tbl, "id", "title"))
		assert.Equal(t, []string{"id", "title"}, PrimaryKey(tbl))
		assert.Error(t, SetPrimaryKey(tbl, "missing"))

		require.NoError(t, AddIndex(tbl, "byStatus", "status", "createdAt"))
		assert.Error(t, AddIndex(tbl, "byStatus", "status"))
		assert.Error(t, AddIndex(tbl, "byMissing", "missing"))
	})
}

func fieldType(def *ast.Definition, name string) *ast.Type {
	return def.Fields.ForName(name).Type
}

func TestPostgresColumnTypes(t *testing.T) {
	enums := map[string]bool{}
	assert.Equal(t, "integer", ColumnType(dialect.Postgres, ast.NamedType("Int", nil), enums))
	assert.Equal(t, "boolean", ColumnType(dialect.Postgres, ast.NamedType("Boolean", nil), enums))
	assert.Equal(t, "timestamp", ColumnType(dialect.Postgres, ast.NamedType("AWSDateTime", nil), enums))
	assert.Equal(t, "jsonb", ColumnType(dialect.Postgres, ast.ListType(ast.NamedType("Int", nil), nil), enums))
	assert.Equal(t, "bigint", ColumnType(dialect.Postgres, ast.NamedType("AWSTimestamp", nil), enums))
}

type metadata map[string]any

func (m metadata) Metadata(key string) any           { return m[key] }
func (m metadata) SetMetadata(key string, value any) { m[key] = value }

func TestTablesFrom(t *testing.T) {
	m := metadata{}
	ts := TablesFrom(m)
	assert.Same(t, ts, TablesFrom(m))

	types := parseTypes(t)
	tbl := TableFromDefinition(dialect.MySQL, types["Post"], "posts", types, func(f string) string { return f })
	ts.Add("Post", tbl)
	got, ok := ts.Get("Post")
	require.True(t, ok)
	assert.Same(t, tbl, got)
	assert.Equal(t, []string{"Post"}, ts.Models())
}
