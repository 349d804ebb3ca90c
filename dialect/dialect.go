package dialect

import "fmt"

// DBType is the engine a model is stored in.
type DBType string

// Supported engines.
const (
	DynamoDB DBType = "DDB"
	MySQL    DBType = "MySQL"
	Postgres DBType = "Postgres"
)

// Parse returns the DBType for s, accepting the lower case aliases used on
// the command line.
func Parse(s string) (DBType, error) {
	switch s {
	case "DDB", "ddb", "dynamodb", "DynamoDB":
		return DynamoDB, nil
	case "MySQL", "mysql":
		return MySQL, nil
	case "Postgres", "postgres", "postgresql", "PostgreSQL":
		return Postgres, nil
	default:
		return "", fmt.Errorf("dialect: unsupported database type %q", s)
	}
}

// IsRelational reports whether t is served by the SQL lambda.
func (t DBType) IsRelational() bool {
	return t == MySQL || t == Postgres
}

// A Capability defines what an engine lets the transform synthesize.
type Capability uint

const (
	// Indexes defines secondary index synthesis.
	Indexes Capability = 1 << iota

	// Streams defines change streams, required by delta sync.
	Streams

	// ConditionExpressions defines conditional writes evaluated by the datasource.
	ConditionExpressions
)

// Support reports whether c supports the given capability.
func (c Capability) Support(mode Capability) bool { return c&mode != 0 }

// Capabilities returns the capability set of t.
func Capabilities(t DBType) Capability {
	switch t {
	case DynamoDB:
		return Indexes | Streams | ConditionExpressions
	default:
		return 0
	}
}
