package model

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/ShadowCat567/amplify-category-api/dialect"
	"github.com/ShadowCat567/amplify-category-api/dialect/rds"
	"github.com/ShadowCat567/amplify-category-api/transformer"
)

// SQL lambda resources.
const (
	SQLStackName            = "SqlApiStack"
	SQLLambdaFunctionID     = "SQLLambdaFunction"
	SQLLambdaRoleID         = "SQLLambdaExecutionRole"
	SQLLambdaDataSourceRole = "SQLLambdaDataSourceRole"
)

// SecretPrefix returns where the SQL lambda reads its connection values.
func SecretPrefix(ctx *transformer.Context) string {
	if c := ctx.Config.SQLConnection; c != nil && c.SecretPrefix != "" {
		return c.SecretPrefix
	}
	synth := ctx.SynthParameters()
	return fmt.Sprintf("/amplify/%s/%s/", synth.APIName, synth.AmplifyEnvironmentName)
}

// SQLDataSource returns the datasource fronting every relational model,
// declaring the lambda and its secrets on first use. The password never
// appears in a generated resource.
func SQLDataSource(ctx *transformer.Context, engine dialect.DBType) (*transformer.DataSource, error) {
	if ds, ok := ctx.DataSources.GetDataSource(transformer.SQLLambdaDataSourceName); ok {
		return ds, nil
	}
	st := ctx.Stacks.GetScopeFor(SQLLambdaFunctionID, SQLStackName)
	paths := rds.SecretPaths(SecretPrefix(ctx))

	if c := ctx.Config.SQLConnection; c != nil && c.ConnectionURI != "" {
		conn, err := rds.ParseConnectionURI(engine, c.ConnectionURI)
		if err != nil {
			return nil, transformer.NewConfigError("SQLConnection.ConnectionURI", "<redacted>",
				fmt.Sprintf("invalid %s connection string", engine))
		}
		values := conn.SecretValues()
		for _, name := range []string{rds.SecretHost, rds.SecretPort, rds.SecretDatabase, rds.SecretUsername} {
			if err := st.AddResource(secretResourceID(name), &transformer.Resource{
				Type: "AWS::SSM::Parameter",
				Properties: map[string]any{
					"Name":  paths[name],
					"Type":  "String",
					"Value": values[name],
				},
			}); err != nil {
				return nil, err
			}
		}
		ctx.Logger.Debug("sql connection", "engine", engine, "connection", conn.String())
	}

	env := map[string]any{"engine": strings.ToLower(string(engine))}
	for name, path := range paths {
		env[name] = path
	}
	if err := st.AddResource(SQLLambdaRoleID, &transformer.Resource{
		Type: "AWS::IAM::Role",
		Properties: map[string]any{
			"AssumeRolePolicyDocument": map[string]any{
				"Version": "2012-10-17",
				"Statement": []any{map[string]any{
					"Effect":    "Allow",
					"Principal": map[string]any{"Service": "lambda.amazonaws.com"},
					"Action":    "sts:AssumeRole",
				}},
			},
			"Policies": []any{map[string]any{
				"PolicyName": "SQLLambdaSecretsAccess",
				"PolicyDocument": map[string]any{
					"Version": "2012-10-17",
					"Statement": []any{map[string]any{
						"Effect": "Allow",
						"Action": []string{"ssm:GetParameter", "ssm:GetParameters"},
						"Resource": transformer.Sub("arn:aws:ssm:${AWS::Region}:${AWS::AccountId}:parameter" +
							strings.TrimSuffix(SecretPrefix(ctx), "/") + "/*"),
					}},
				},
			}},
		},
	}); err != nil {
		return nil, err
	}
	props := map[string]any{
		"Handler":     "handler.run",
		"Runtime":     "nodejs18.x",
		"Timeout":     30,
		"Role":        transformer.GetAtt(SQLLambdaRoleID, "Arn"),
		"Environment": map[string]any{"Variables": env},
	}
	if c := ctx.Config.SQLConnection; c != nil && c.VpcID != "" {
		props["Tags"] = []any{map[string]any{"Key": "amplify:vpc", "Value": c.VpcID}}
	}
	if err := st.AddResource(SQLLambdaFunctionID, &transformer.Resource{
		Type:       "AWS::Lambda::Function",
		Properties: props,
		DependsOn:  []string{SQLLambdaRoleID},
	}); err != nil {
		return nil, err
	}
	return ctx.DataSources.AddDataSource(&transformer.DataSource{
		Name:        transformer.SQLLambdaDataSourceName,
		Kind:        transformer.KindRelational,
		Engine:      engine,
		FunctionARN: transformer.GetAtt(SQLLambdaFunctionID, "Arn"),
		ServiceRole: SQLLambdaDataSourceRole,
		Stack:       st.Name,
	}), nil
}

func secretResourceID(name string) string {
	return "SQLSecret" + transformer.UcFirst(name)
}

// RelationalEngine returns the engine of the first relational model, or
// MySQL when no model is relational.
func RelationalEngine(ctx *transformer.Context) dialect.DBType {
	for _, def := range ctx.Models() {
		if t := ctx.DataSourceType(def.Name).DBType; t.IsRelational() {
			return t
		}
	}
	for _, name := range slices.Sorted(maps.Keys(ctx.Config.ModelToDatasourceMap)) {
		if t := ctx.Config.ModelToDatasourceMap[name].DBType; t.IsRelational() {
			return t
		}
	}
	return dialect.MySQL
}
