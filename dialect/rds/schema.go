package rds

import (
	"fmt"

	"ariga.io/atlas/sql/schema"
	"github.com/vektah/gqlparser/v2/ast"

	"github.com/ShadowCat567/amplify-category-api/dialect"
)

// TablesKey is the context metadata key holding the *Tables of a run.
const TablesKey = "rds.tables"

// Metadata is the part of the transformer context the table registry is
// stored in.
type Metadata interface {
	Metadata(key string) any
	SetMetadata(key string, value any)
}

// Tables maps relational models to their table.
type Tables struct {
	byModel map[string]*schema.Table
	order   []string
}

// TablesFrom returns the registry stored in m, creating it on first use.
func TablesFrom(m Metadata) *Tables {
	if ts, ok := m.Metadata(TablesKey).(*Tables); ok {
		return ts
	}
	ts := &Tables{byModel: make(map[string]*schema.Table)}
	m.SetMetadata(TablesKey, ts)
	return ts
}

// Add registers the table of model.
func (ts *Tables) Add(model string, t *schema.Table) {
	if _, ok := ts.byModel[model]; !ok {
		ts.order = append(ts.order, model)
	}
	ts.byModel[model] = t
}

// Get returns the table of model.
func (ts *Tables) Get(model string) (*schema.Table, bool) {
	t, ok := ts.byModel[model]
	return t, ok
}

// Models returns the registered models in registration order.
func (ts *Tables) Models() []string { return append([]string(nil), ts.order...) }

// ColumnType returns the engine type of a GraphQL field type. Lists are
// stored as JSON.
func ColumnType(engine dialect.DBType, t *ast.Type, enums map[string]bool) string {
	if t.Elem != nil {
		return pick(engine, "json", "jsonb")
	}
	switch name := t.NamedType; {
	case name == "Int":
		return pick(engine, "int", "integer")
	case name == "Float":
		return pick(engine, "double", "double precision")
	case name == "Boolean":
		return pick(engine, "tinyint(1)", "boolean")
	case name == "AWSDate":
		return "date"
	case name == "AWSTime":
		return "time"
	case name == "AWSDateTime":
		return pick(engine, "datetime", "timestamp")
	case name == "AWSTimestamp":
		return "bigint"
	case name == "AWSJSON":
		return pick(engine, "json", "jsonb")
	case name == "ID", enums[name]:
		return pick(engine, "varchar(255)", "text")
	default:
		return "text"
	}
}

func pick(engine dialect.DBType, mysql, postgres string) string {
	if engine == dialect.Postgres {
		return postgres
	}
	return mysql
}

func column(engine dialect.DBType, name string, t *ast.Type, enums map[string]bool) *schema.Column {
	typ := ColumnType(engine, t, enums)
	var c *schema.Column
	switch {
	case t.Elem == nil && t.NamedType == "Int", t.Elem == nil && t.NamedType == "AWSTimestamp":
		c = schema.NewIntColumn(name, typ)
	case t.Elem == nil && t.NamedType == "Float":
		c = schema.NewFloatColumn(name, typ)
	case t.Elem == nil && t.NamedType == "Boolean":
		c = schema.NewBoolColumn(name, typ)
	case t.Elem == nil && (t.NamedType == "AWSDate" || t.NamedType == "AWSTime" || t.NamedType == "AWSDateTime"):
		c = schema.NewTimeColumn(name, typ)
	case typ == "json" || typ == "jsonb":
		c = schema.NewJSONColumn(name, typ)
	default:
		c = schema.NewStringColumn(name, typ)
	}
	return c.SetNull(!t.NonNull)
}

// TableFromDefinition builds the table of a relational model. Fields of
// object type are relations and get no column. columnName maps a field to
// its column, as renamed by @refersTo.
func TableFromDefinition(engine dialect.DBType, def *ast.Definition, tableName string, types map[string]*ast.Definition, columnName func(field string) string) *schema.Table {
	enums := make(map[string]bool)
	for name, d := range types {
		if d.Kind == ast.Enum {
			enums[name] = true
		}
	}
	t := schema.NewTable(tableName)
	for _, f := range def.Fields {
		if d, ok := types[baseName(f.Type)]; ok && (d.Kind == ast.Object || d.Kind == ast.Interface || d.Kind == ast.Union) {
			continue
		}
		t.AddColumns(column(engine, columnName(f.Name), f.Type, enums))
	}
	if id, ok := t.Column(columnName("id")); ok {
		t.SetPrimaryKey(schema.NewPrimaryKey(id))
	}
	return t
}

func baseName(t *ast.Type) string {
	for t.Elem != nil {
		t = t.Elem
	}
	return t.NamedType
}

// SetPrimaryKey replaces the primary key of t with the named columns.
func SetPrimaryKey(t *schema.Table, columns ...string) error {
	cols := make([]*schema.Column, 0, len(columns))
	for _, name := range columns {
		c, ok := t.Column(name)
		if !ok {
			return fmt.Errorf("rds: table %s has no column %q", t.Name, name)
		}
		cols = append(cols, c)
	}
	t.SetPrimaryKey(schema.NewPrimaryKey(cols...))
	return nil
}

// PrimaryKey returns the primary key column names of t.
func PrimaryKey(t *schema.Table) []string {
	if t.PrimaryKey == nil {
		return nil
	}
	names := make([]string, 0, len(t.PrimaryKey.Parts))
	for _, p := range t.PrimaryKey.Parts {
		if p.C != nil {
			names = append(names, p.C.Name)
		}
	}
	return names
}

// AddIndex declares a secondary index on t. Relational engines create it
// through their own migrations; the declaration documents the access
// pattern for the lambda.
func AddIndex(t *schema.Table, name string, columns ...string) error {
	if _, ok := t.Index(name); ok {
		return fmt.Errorf("rds: table %s already has index %q", t.Name, name)
	}
	idx := schema.NewIndex(name)
	for _, c := range columns {
		col, ok := t.Column(c)
		if !ok {
			return fmt.Errorf("rds: table %s has no column %q", t.Name, c)
		}
		idx.AddColumns(col)
	}
	t.AddIndexes(idx)
	return nil
}
