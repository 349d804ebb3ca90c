package transformer

import (
	"log/slog"

	"github.com/vektah/gqlparser/v2/ast"

	"github.com/ShadowCat567/amplify-category-api/dialect"
)

// Root operation type names.
const (
	QueryTypeName        = "Query"
	MutationTypeName     = "Mutation"
	SubscriptionTypeName = "Subscription"
)

// Context is the mutable state of one transform run. It is created by the
// orchestrator and handed to every plugin call; nothing in it is shared
// between runs.
type Context struct {
	Config *Config
	Logger *slog.Logger

	// Input is the document as written by the user. Plugins read it.
	Input *ast.SchemaDocument
	// Schema is the validated input, including plugin directive types.
	Schema *ast.Schema
	// Output is the document printed as the API schema. Plugins extend it.
	Output *ast.SchemaDocument

	DataSources *DataSources
	Resolvers   *Resolvers
	Stacks      *StackManager
	AuthRoles   *AuthRoleSet

	registry   *Registry
	metadata   map[string]any
	modelNames map[string]string
	fieldNames map[string]map[string]string
	keys       map[string][]string
}

// NewContext returns a context for one run.
func NewContext(cfg *Config, registry *Registry, input *ast.SchemaDocument, schema *ast.Schema, output *ast.SchemaDocument) *Context {
	return &Context{
		Config:      cfg,
		Logger:      cfg.Logger,
		Input:       input,
		Schema:      schema,
		Output:      output,
		DataSources: NewDataSources(),
		Resolvers:   NewResolvers(),
		Stacks:      NewStackManager(cfg.StackMapping),
		AuthRoles:   NewAuthRoleSet(),
		registry:    registry,
		metadata:    make(map[string]any),
		modelNames:  make(map[string]string),
		fieldNames:  make(map[string]map[string]string),
		keys:        make(map[string][]string),
	}
}

// Directive wraps dir for argument extraction.
func (c *Context) Directive(dir *ast.Directive, typeName, fieldName string) *DirectiveWrapper {
	var def *ast.DirectiveDefinition
	if c.registry != nil {
		def, _ = c.registry.Definition(dir.Name)
	}
	if def == nil && c.Schema != nil {
		def = c.Schema.Directives[dir.Name]
	}
	var types map[string]*ast.Definition
	if c.Schema != nil {
		types = c.Schema.Types
	}
	w := NewDirectiveWrapper(dir, def, types, typeName, fieldName)
	w.deepMerge = c.Config.TransformParameters.ShouldDeepMergeDirectiveConfigDefaults
	return w
}

// TransformParameters returns the transform parameters of the run.
func (c *Context) TransformParameters() TransformParameters { return c.Config.TransformParameters }

// SynthParameters returns the synth parameters of the run.
func (c *Context) SynthParameters() SynthParameters { return c.Config.SynthParameters }

// IsProjectUsingDataStore reports whether any sync configuration is set.
func (c *Context) IsProjectUsingDataStore() bool {
	rc := c.Config.ResolverConfig
	return rc != nil && (rc.Project != nil || len(rc.Models) > 0)
}

// SyncConfig returns the sync configuration of typeName, or nil.
func (c *Context) SyncConfig(typeName string) *SyncConfig {
	rc := c.Config.ResolverConfig
	if rc == nil {
		return nil
	}
	if sc, ok := rc.Models[typeName]; ok {
		return sc
	}
	return rc.Project
}

// DataSourceType returns the engine binding of a model type.
func (c *Context) DataSourceType(typeName string) DatasourceType {
	if ds, ok := c.Config.ModelToDatasourceMap[typeName]; ok {
		return ds
	}
	return DatasourceType{DBType: dialect.DynamoDB, ProvisionDB: true}
}

// IsRelational reports whether typeName is stored in a relational engine.
func (c *Context) IsRelational(typeName string) bool {
	return c.DataSourceType(typeName).DBType.IsRelational()
}

// Metadata returns a value shared between plugins.
func (c *Context) Metadata(key string) any { return c.metadata[key] }

// SetMetadata stores a value shared between plugins.
func (c *Context) SetMetadata(key string, value any) { c.metadata[key] = value }

// SetModelNameMapping records the storage name of a model.
func (c *Context) SetModelNameMapping(typeName, name string) { c.modelNames[typeName] = name }

// ModelNameMapping returns the storage name of a model, which defaults
// to the type name.
func (c *Context) ModelNameMapping(typeName string) string {
	if name, ok := c.modelNames[typeName]; ok {
		return name
	}
	return typeName
}

// SetFieldNameMapping records the storage name of a field.
func (c *Context) SetFieldNameMapping(typeName, fieldName, name string) {
	if c.fieldNames[typeName] == nil {
		c.fieldNames[typeName] = make(map[string]string)
	}
	c.fieldNames[typeName][fieldName] = name
}

// FieldNameMapping returns the storage name of a field, which defaults to
// the field name.
func (c *Context) FieldNameMapping(typeName, fieldName string) string {
	if name, ok := c.fieldNames[typeName][fieldName]; ok {
		return name
	}
	return fieldName
}

// FieldNameMappings returns the renamed fields of typeName.
func (c *Context) FieldNameMappings(typeName string) map[string]string {
	out := make(map[string]string, len(c.fieldNames[typeName]))
	for k, v := range c.fieldNames[typeName] {
		out[k] = v
	}
	return out
}

// SetPrimaryKeyFields records the partition key field and sort key
// fields of a model.
func (c *Context) SetPrimaryKeyFields(typeName string, fields ...string) {
	c.keys[typeName] = append([]string(nil), fields...)
}

// PrimaryKeyFields returns the key fields of a model, id unless a custom
// primary key was recorded.
func (c *Context) PrimaryKeyFields(typeName string) []string {
	if fields, ok := c.keys[typeName]; ok {
		return append([]string(nil), fields...)
	}
	return []string{"id"}
}

// HasCustomPrimaryKey reports whether SetPrimaryKeyFields was called for
// typeName.
func (c *Context) HasCustomPrimaryKey(typeName string) bool {
	_, ok := c.keys[typeName]
	return ok
}

// InputType returns the input definition named name, or nil.
func (c *Context) InputType(name string) *ast.Definition {
	return c.Input.Definitions.ForName(name)
}

// IsModel reports whether the input type named name carries @model.
func (c *Context) IsModel(name string) bool {
	def := c.InputType(name)
	return def != nil && def.Directives.ForName("model") != nil
}

// Models returns the @model types in document order.
func (c *Context) Models() []*ast.Definition {
	var out []*ast.Definition
	for _, def := range c.Input.Definitions {
		if def.Kind == ast.Object && def.Directives.ForName("model") != nil {
			out = append(out, def)
		}
	}
	return out
}

// OutputType returns the output definition named name, or nil.
func (c *Context) OutputType(name string) *ast.Definition {
	return c.Output.Definitions.ForName(name)
}

// HasOutputType reports whether the output schema defines name.
func (c *Context) HasOutputType(name string) bool { return c.OutputType(name) != nil }

// AddOutputType adds def to the output schema unless a type with the same
// name exists, in which case the existing definition is returned.
func (c *Context) AddOutputType(def *ast.Definition) *ast.Definition {
	if existing := c.OutputType(def.Name); existing != nil {
		return existing
	}
	c.Output.Definitions = append(c.Output.Definitions, def)
	return def
}

// RootType returns the root operation type named name, creating it in the
// output schema when missing.
func (c *Context) RootType(name string) *ast.Definition {
	return c.AddOutputType(&ast.Definition{Kind: ast.Object, Name: name})
}

// AddField adds field to the output type named typeName, creating root
// operation types on demand. A field that already exists is kept and
// reported as false.
func (c *Context) AddField(typeName string, field *ast.FieldDefinition) (bool, error) {
	def := c.OutputType(typeName)
	if def == nil {
		switch typeName {
		case QueryTypeName, MutationTypeName, SubscriptionTypeName:
			def = c.RootType(typeName)
		default:
			return false, NewResourceConsistencyError("type", typeName, "not found in output schema")
		}
	}
	if def.Fields.ForName(field.Name) != nil {
		return false, nil
	}
	def.Fields = append(def.Fields, field)
	return true, nil
}
