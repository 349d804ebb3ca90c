package transformer

import (
	"fmt"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

// serviceSDL declares the scalars and directives provided by the service.
// They are valid in every document without being defined by a plugin.
const serviceSDL = `
scalar AWSDate
scalar AWSTime
scalar AWSDateTime
scalar AWSTimestamp
scalar AWSEmail
scalar AWSJSON
scalar AWSURL
scalar AWSPhone
scalar AWSIPAddress

directive @aws_subscribe(mutations: [String!]!) on FIELD_DEFINITION
directive @aws_auth(cognito_groups: [String!]!) on FIELD_DEFINITION
directive @aws_api_key on FIELD_DEFINITION | OBJECT
directive @aws_iam on FIELD_DEFINITION | OBJECT
directive @aws_oidc on FIELD_DEFINITION | OBJECT
directive @aws_lambda on FIELD_DEFINITION | OBJECT
directive @aws_cognito_user_pools(cognito_groups: [String!]) on FIELD_DEFINITION | OBJECT
`

var serviceSource = &ast.Source{Name: "aws.graphql", Input: serviceSDL, BuiltIn: true}

// reservedDirectives were removed from the directive set and have a
// replacement.
var reservedDirectives = map[string]string{
	"connection": "use @hasOne, @hasMany or @belongsTo instead",
	"key":        "use @primaryKey or @index instead",
	"versioned":  "configure conflict detection in resolverConfig instead",
}

// parseDocument parses the user document.
func parseDocument(sdl string) (*ast.SchemaDocument, error) {
	doc, err := parser.ParseSchema(&ast.Source{Name: "schema.graphql", Input: sdl})
	if err != nil {
		return nil, NewSchemaValidationError("", "", "parse schema", err)
	}
	return doc, nil
}

// validateDocument rejects reserved directives, then validates the user
// document together with the service and plugin definitions.
func validateDocument(sdl string, doc *ast.SchemaDocument, registry *Registry) (*ast.Schema, error) {
	defs := append(append(ast.DefinitionList{}, doc.Definitions...), doc.Extensions...)
	for _, def := range defs {
		if err := checkReserved(registry, def.Directives, def.Name, ""); err != nil {
			return nil, err
		}
		for _, f := range def.Fields {
			if err := checkReserved(registry, f.Directives, def.Name, f.Name); err != nil {
				return nil, err
			}
		}
	}
	sources := append([]*ast.Source{serviceSource}, registry.Sources()...)
	sources = append(sources, &ast.Source{Name: "schema.graphql", Input: sdl})
	schema, err := gqlparser.LoadSchema(sources...)
	if err != nil {
		return nil, NewSchemaValidationError("", "", "validate schema", err)
	}
	return schema, nil
}

func checkReserved(registry *Registry, dirs ast.DirectiveList, typeName, fieldName string) error {
	for _, dir := range dirs {
		hint, reserved := reservedDirectives[dir.Name]
		if !reserved {
			continue
		}
		if _, owned := registry.Owner(dir.Name); owned {
			continue
		}
		return NewSchemaValidationError(typeName, fieldName,
			fmt.Sprintf("the @%s directive is not supported, %s", dir.Name, hint), nil)
	}
	return nil
}
