package transformer

import (
	"strings"
	"unicode"

	"github.com/99designs/gqlgen/codegen/templates"
	"github.com/go-openapi/inflect"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Shared resource and template constants.
const (
	// ModelCompositeKeySeparator joins the fields of a composite sort key.
	ModelCompositeKeySeparator = "#"
	// DefaultPageLimit is the page size used when a list query omits limit.
	DefaultPageLimit = 100
	// NoneDataSourceName is the datasource used by functions that only
	// transform the stash.
	NoneDataSourceName = "NONE_DS"
	// SQLLambdaDataSourceName is the shared datasource for relational models.
	SQLLambdaDataSourceName = "SQLLambdaDataSource"

	// Stash keys written by generated snippets.
	ModelObjectKey          = "modelObjectKey"
	ModelQueryExpression    = "modelQueryExpression"
	DynamoDBNameOverrideMap = "dynamodbNameOverrideMap"
	HasSeenSomeKeyArg       = "hasSeenSomeKeyArg"

	// Parameters and conditions referenced by table resources.
	ParamReadIOPS               = "DynamoDBModelTableReadIOPS"
	ParamWriteIOPS              = "DynamoDBModelTableWriteIOPS"
	ParamBillingMode            = "DynamoDBBillingMode"
	ParamEnv                    = "env"
	ParamAPIID                  = "AppSyncApiId"
	CondPayPerRequestBilling    = "ShouldUsePayPerRequestBilling"
	CondHasEnvironmentParameter = "HasEnvironmentParameter"
)

// UcFirst upper cases the first rune of s.
func UcFirst(s string) string { return templates.UcFirst(s) }

// LcFirst lower cases the first rune of s.
func LcFirst(s string) string { return templates.LcFirst(s) }

// plurals extends the default rules with the irregular nouns model names
// commonly use. Rules match lower case suffixes.
var plurals = func() *inflect.Ruleset {
	rs := inflect.NewDefaultRuleset()
	rs.AddPlural("human", "humans")
	rs.AddIrregular("foot", "feet")
	rs.AddIrregular("tooth", "teeth")
	rs.AddIrregular("goose", "geese")
	return rs
}()

// Plural returns the plural form of a type name, e.g. Todo -> Todos and
// SalesPerson -> SalesPeople. Only the last word of a camel case name is
// inflected.
func Plural(s string) string {
	i := strings.LastIndexFunc(s, unicode.IsUpper)
	if i < 0 || i == len(s)-1 {
		return plurals.Pluralize(s)
	}
	return s[:i] + UcFirst(plurals.Pluralize(LcFirst(s[i:])))
}

// ToCamelCase joins words in lower camel case: [name, createdAt] -> nameCreatedAt.
func ToCamelCase(words []string) string {
	title := cases.Title(language.Und, cases.NoLower)
	var b strings.Builder
	for i, w := range words {
		if i == 0 {
			b.WriteString(LcFirst(w))
			continue
		}
		b.WriteString(title.String(w))
	}
	return b.String()
}

// GraphQLName strips every rune that is not valid in a GraphQL name.
func GraphQLName(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '_' || r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return r
		}
		return -1
	}, s)
}

// Model resource identifiers.

func ModelTableResourceID(typeName string) string   { return typeName + "Table" }
func ModelTableDataSourceID(typeName string) string { return typeName + "Table" }
func ModelConnectionTypeName(typeName string) string {
	return "Model" + typeName + "Connection"
}
func ModelFilterInputTypeName(typeName string) string {
	return "Model" + typeName + "FilterInput"
}
func ModelConditionInputTypeName(typeName string) string {
	return "Model" + typeName + "ConditionInput"
}
func ModelCreateInputObjectName(typeName string) string { return "Create" + typeName + "Input" }
func ModelUpdateInputObjectName(typeName string) string { return "Update" + typeName + "Input" }
func ModelDeleteInputObjectName(typeName string) string { return "Delete" + typeName + "Input" }

// ModelKeyConditionInputTypeName names the key condition input of a scalar sort key.
func ModelKeyConditionInputTypeName(scalar string) string {
	return "Model" + scalar + "KeyConditionInput"
}

// ModelCompositeKeyConditionInputTypeName names the condition input of a composite sort key.
func ModelCompositeKeyConditionInputTypeName(modelName, keyName string) string {
	return "Model" + modelName + keyName + "CompositeKeyConditionInput"
}

// ModelCompositeKeyInputTypeName names the input that carries the parts of a composite sort key.
func ModelCompositeKeyInputTypeName(modelName, keyName string) string {
	return "Model" + modelName + keyName + "CompositeKeyInput"
}

// ResolverResourceID returns the logical id of the resolver bound to typeName.fieldName.
func ResolverResourceID(typeName, fieldName string) string {
	return typeName + UcFirst(fieldName) + "Resolver"
}

// Operation names derived from a model type.

func GetQueryName(typeName string) string          { return "get" + typeName }
func ListQueryName(typeName string) string         { return "list" + Plural(typeName) }
func SyncQueryName(typeName string) string         { return "sync" + Plural(typeName) }
func CreateMutationName(typeName string) string    { return "create" + typeName }
func UpdateMutationName(typeName string) string    { return "update" + typeName }
func DeleteMutationName(typeName string) string    { return "delete" + typeName }
func OnCreateSubscriptionName(typeName string) string { return "onCreate" + typeName }
func OnUpdateSubscriptionName(typeName string) string { return "onUpdate" + typeName }
func OnDeleteSubscriptionName(typeName string) string { return "onDelete" + typeName }

// scalars maps every scalar known to the service to its DynamoDB attribute type.
var scalars = map[string]string{
	"String":       "S",
	"ID":           "S",
	"Int":          "N",
	"Float":        "N",
	"Boolean":      "BOOL",
	"AWSDate":      "S",
	"AWSTime":      "S",
	"AWSDateTime":  "S",
	"AWSTimestamp": "N",
	"AWSEmail":     "S",
	"AWSJSON":      "S",
	"AWSURL":       "S",
	"AWSPhone":     "S",
	"AWSIPAddress": "S",
}

// IsScalar reports whether name is a built-in or service scalar.
func IsScalar(name string) bool {
	_, ok := scalars[name]
	return ok
}

// AttributeTypeFromScalar returns the DynamoDB attribute type for a scalar.
// Unknown names, such as enums, are stored as strings.
func AttributeTypeFromScalar(name string) string {
	if t, ok := scalars[name]; ok && t != "BOOL" {
		return t
	}
	return "S"
}
