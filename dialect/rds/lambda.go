package rds

import (
	"maps"
	"slices"
	"strings"

	"github.com/ShadowCat567/amplify-category-api/vtl"
)

// Operation is the action the SQL lambda performs.
type Operation string

// Lambda operations.
const (
	OperationGet        Operation = "GET"
	OperationList       Operation = "LIST"
	OperationCreate     Operation = "CREATE"
	OperationUpdate     Operation = "UPDATE"
	OperationDelete     Operation = "DELETE"
	OperationIndexQuery Operation = "INDEX_QUERY"
	OperationRawSQL     Operation = "RAW_SQL"
	OperationSync       Operation = "SYNC"
)

// GetExistingRecord is the operation name of the read issued before
// update and delete authorization.
const GetExistingRecord = "GET_EXISTING_RECORD"

// Request describes one lambda invocation.
type Request struct {
	Table         string
	Operation     Operation
	OperationName string
	// Keys are the primary key columns.
	Keys []string
	// ColumnMapping maps renamed fields to their column.
	ColumnMapping map[string]string
	// Index is set for index queries.
	Index string
	// SortKeys are the index sort key fields.
	SortKeys []string
}

func invoke() vtl.Expression {
	return vtl.Obj(
		vtl.KV("version", vtl.Str(vtl.ResolverVersionID)),
		vtl.KV("operation", vtl.Str("Invoke")),
		vtl.KV("payload", vtl.MethodCall("util.toJson", vtl.Ref("lambdaInput"))),
	)
}

func strList(values []string) vtl.Expression {
	exprs := make([]vtl.Expression, len(values))
	for i, v := range values {
		exprs[i] = vtl.Str(v)
	}
	return vtl.List(exprs...)
}

// RequestTemplate renders the lambda invocation of a model operation.
func RequestTemplate(req Request) string {
	mapping := make([]vtl.Attribute, 0, len(req.ColumnMapping))
	for _, field := range sortedKeys(req.ColumnMapping) {
		mapping = append(mapping, vtl.KV(field, vtl.Str(req.ColumnMapping[field])))
	}
	exprs := []vtl.Expression{
		vtl.Set(vtl.Ref("lambdaInput"), vtl.Obj()),
		vtl.Set(vtl.Ref("lambdaInput.args"), vtl.Obj()),
		vtl.Set(vtl.Ref("lambdaInput.table"), vtl.Str(req.Table)),
		vtl.Set(vtl.Ref("lambdaInput.args.metadata"), vtl.Obj()),
		vtl.Set(vtl.Ref("lambdaInput.args.metadata.keys"), strList(req.Keys)),
		vtl.Set(vtl.Ref("lambdaInput.args.metadata.columnMapping"), vtl.Obj(mapping...)),
		vtl.Set(vtl.Ref("lambdaInput.operation"), vtl.Str(string(req.Operation))),
		vtl.Set(vtl.Ref("lambdaInput.operationName"), vtl.Str(req.OperationName)),
	}
	if req.Index != "" {
		exprs = append(exprs,
			vtl.Set(vtl.Ref("lambdaInput.args.metadata.index"), vtl.Str(req.Index)),
			vtl.Set(vtl.Ref("lambdaInput.args.metadata.sortKeys"), strList(req.SortKeys)),
		)
	}
	exprs = append(exprs,
		vtl.QuietRefExpr(vtl.MethodCall("lambdaInput.args.putAll",
			vtl.MethodCall("util.defaultIfNull", vtl.Ref("context.arguments"), vtl.Obj()))),
		vtl.IfInline(vtl.Not(vtl.IsNullOrEmpty(vtl.Ref("ctx.stash.authFilter"))),
			vtl.QuietRef("$lambdaInput.args.put(\"authFilter\", $ctx.stash.authFilter)")),
		invoke(),
	)
	return vtl.PrintBlock("Invoke RDS Lambda data source")(vtl.Compound(exprs...))
}

// ResponseTemplate raises lambda errors and returns the result.
func ResponseTemplate() string {
	return vtl.PrintBlock("ResponseTemplate")(vtl.Compound(
		vtl.IfElse(vtl.Ref("ctx.error"),
			vtl.MethodCall("util.error", vtl.Ref("ctx.error.message"), vtl.Ref("ctx.error.type")),
			vtl.ToJSON(vtl.Ref("ctx.result")),
		),
	))
}

var statementEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\r", "", "\t", " ")

// RawSQLRequestTemplate renders the invocation running a user statement
// with the field arguments as parameters.
func RawSQLRequestTemplate(statement, operationName string) string {
	return vtl.PrintBlock("Invoke RDS Lambda data source")(vtl.Compound(
		vtl.Set(vtl.Ref("lambdaInput"), vtl.Obj()),
		vtl.Set(vtl.Ref("lambdaInput.parameters"), vtl.Obj()),
		vtl.Set(vtl.Ref("lambdaInput.statement"), vtl.Str(statementEscaper.Replace(statement))),
		vtl.Set(vtl.Ref("lambdaInput.operation"), vtl.Str(string(OperationRawSQL))),
		vtl.Set(vtl.Ref("lambdaInput.operationName"), vtl.Str(operationName)),
		vtl.Set(vtl.Ref("lambdaInput.parameters"), vtl.MethodCall("util.defaultIfNull", vtl.Ref("context.arguments"), vtl.Obj())),
		invoke(),
	))
}

// ExistingRecordRequestTemplate renders the read of the record an update
// or delete targets, restricted to the key fields kept on the stash.
func ExistingRecordRequestTemplate(table string) string {
	return vtl.PrintBlock("Get existing record")(vtl.Compound(
		vtl.Set(vtl.Ref("lambdaInput"), vtl.Obj()),
		vtl.Set(vtl.Ref("lambdaInput.args"), vtl.Obj()),
		vtl.Set(vtl.Ref("lambdaInput.table"), vtl.Str(table)),
		vtl.Set(vtl.Ref("lambdaInput.operation"), vtl.Str(string(OperationGet))),
		vtl.Set(vtl.Ref("lambdaInput.operationName"), vtl.Str(GetExistingRecord)),
		vtl.Set(vtl.Ref("lambdaInput.args.metadata"), vtl.Obj()),
		vtl.Set(vtl.Ref("lambdaInput.args.metadata.keys"), vtl.List()),
		vtl.QuietRefExpr(vtl.MethodCall("lambdaInput.args.metadata.keys.addAll",
			vtl.MethodCall("util.defaultIfNull", vtl.Ref("ctx.stash.keys"), vtl.List()))),
		vtl.Set(vtl.Ref("lambdaInput.args.input"),
			vtl.MethodCall("util.map.copyAndRetainAllKeys", vtl.Ref("context.arguments.input"), vtl.Ref("ctx.stash.keys"))),
		invoke(),
	))
}

func sortedKeys(m map[string]string) []string {
	return slices.Sorted(maps.Keys(m))
}
