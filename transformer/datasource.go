package transformer

import "github.com/ShadowCat567/amplify-category-api/dialect"

// DataSourceKind is the execution target of a resolver function.
type DataSourceKind string

// Datasource kinds.
const (
	KindDynamoDB   DataSourceKind = "AMAZON_DYNAMODB"
	KindRelational DataSourceKind = "RELATIONAL"
	KindLambda     DataSourceKind = "AWS_LAMBDA"
	KindHTTP       DataSourceKind = "HTTP"
	KindNone       DataSourceKind = "NONE"
)

// DataSource is a backing target for resolver functions.
type DataSource struct {
	Name string
	Kind DataSourceKind
	// Engine is set for DynamoDB and relational datasources.
	Engine dialect.DBType
	// Table is the DynamoDB table of a model datasource.
	Table *Table
	// FunctionARN is the invoked function of lambda and relational datasources.
	FunctionARN any
	// Endpoint is the origin of an HTTP datasource, as a string or an
	// intrinsic.
	Endpoint any
	// ServiceRole is the IAM role name the datasource assumes, if any.
	ServiceRole string
	// SigningService signs HTTP requests with the service role for the
	// named AWS service.
	SigningService string
	// Actions are the IAM actions the service role allows on HTTP
	// datasources.
	Actions []string
	// Stack is the stack holding the datasource resources. Empty means root.
	Stack string
	// DeltaSync enables versioned writes on a DynamoDB datasource.
	DeltaSync *DeltaSyncConfig
}

// DeltaSyncConfig points a versioned datasource at the delta sync table.
type DeltaSyncConfig struct {
	// BaseTableTTL is the retention of deleted items in minutes.
	BaseTableTTL int
	// DeltaSyncTableName is the physical name of the delta sync table.
	DeltaSyncTableName any
	// DeltaSyncTableTTL is the retention of change records in minutes.
	DeltaSyncTableTTL int
}

// ServiceType returns the datasource type understood by the service.
func (d *DataSource) ServiceType() string {
	if d.Kind == KindRelational {
		return string(KindLambda)
	}
	return string(d.Kind)
}

func (d *DataSource) same(o *DataSource) bool {
	return d == o || d.Name == o.Name && d.Kind == o.Kind && d.Engine == o.Engine
}

// DataSources binds model types to datasources and keeps the API-wide
// datasources by name.
type DataSources struct {
	byType    map[string]*DataSource
	byName    map[string]*DataSource
	nameOrder []string
}

// NewDataSources returns an empty registry.
func NewDataSources() *DataSources {
	return &DataSources{
		byType: make(map[string]*DataSource),
		byName: make(map[string]*DataSource),
	}
}

// Add binds typeName to ds and registers ds on the API. Binding a type
// twice fails unless both datasources are the same.
func (d *DataSources) Add(typeName string, ds *DataSource) error {
	if existing, ok := d.byType[typeName]; ok {
		if existing.same(ds) {
			return nil
		}
		return NewResourceConsistencyError("datasource", typeName,
			"type is already bound to datasource "+existing.Name)
	}
	d.byType[typeName] = d.AddDataSource(ds)
	return nil
}

// Get returns the datasource bound to typeName.
func (d *DataSources) Get(typeName string) (*DataSource, bool) {
	ds, ok := d.byType[typeName]
	return ds, ok
}

// Has reports whether typeName is bound.
func (d *DataSources) Has(typeName string) bool {
	_, ok := d.byType[typeName]
	return ok
}

// AddDataSource registers ds by name. A datasource with the same name is
// returned instead when one exists.
func (d *DataSources) AddDataSource(ds *DataSource) *DataSource {
	if existing, ok := d.byName[ds.Name]; ok {
		return existing
	}
	d.byName[ds.Name] = ds
	d.nameOrder = append(d.nameOrder, ds.Name)
	return ds
}

// GetDataSource returns the datasource registered under name.
func (d *DataSources) GetDataSource(name string) (*DataSource, bool) {
	ds, ok := d.byName[name]
	return ds, ok
}

// All returns the datasources in registration order.
func (d *DataSources) All() []*DataSource {
	all := make([]*DataSource, 0, len(d.nameOrder))
	for _, name := range d.nameOrder {
		all = append(all, d.byName[name])
	}
	return all
}
