package model

import (
	"strings"

	"github.com/ShadowCat567/amplify-category-api/transformer"
	"github.com/ShadowCat567/amplify-category-api/vtl"
)

const apiKeyAuthType = "API Key Authorization"

// SandboxAuthExpression renders the postAuth check that rejects requests
// no auth rule handled. With sandbox mode enabled, API key requests are
// let through.
func SandboxAuthExpression(enabled bool) string {
	var check vtl.Expression = vtl.MethodCall("util.unauthorized")
	name := "Sandbox Mode Disabled"
	if enabled {
		check = vtl.If(vtl.NotEquals(vtl.MethodCall("util.authType"), vtl.Str(apiKeyAuthType)), check)
		name = "Sandbox Mode Enabled"
	}
	return vtl.PrintBlock(name)(vtl.Compound(
		vtl.If(vtl.Not(vtl.Ref(`ctx.stash.get("hasAuth")`)), check),
		vtl.ToJSON(vtl.Obj()),
	))
}

// ApplyDefaultsToInput sets target to the stashed default values
// overlaid with the mutation input.
func ApplyDefaultsToInput(target string) vtl.Expression {
	return vtl.Compound(
		vtl.Set(vtl.Ref(target), vtl.MethodCall("util.defaultIfNull", vtl.Ref("ctx.stash.defaultValues"), vtl.Obj())),
		vtl.QuietRefExpr(vtl.MethodCall(target+".putAll",
			vtl.MethodCall("util.defaultIfNull", vtl.Ref("ctx.args.input"), vtl.Obj()))),
	)
}

// MergeInputsAndDefaultsSnippet renders ApplyDefaultsToInput into
// $mergedValues, which the key snippets read on mutations.
func MergeInputsAndDefaultsSnippet() string {
	return vtl.PrintBlock("Merge default values and inputs")(ApplyDefaultsToInput("mergedValues"))
}

// SortKeyName returns the attribute holding the sort key: the single sort
// key field, or the fields joined with the composite key separator.
func SortKeyName(sortKeyFields []string) string {
	return strings.Join(sortKeyFields, transformer.ModelCompositeKeySeparator)
}

// SetPrimaryKeySnippet renders the step storing the item key in
// $ctx.stash.metadata.modelObjectKey. Mutations read the key from
// $mergedValues, queries from the arguments.
func SetPrimaryKeySnippet(partitionKey string, sortKeyFields []string, isMutation bool) string {
	prefix := "ctx.args"
	if isMutation {
		prefix = "mergedValues"
	}
	attrs := []vtl.Attribute{
		vtl.KV(partitionKey, vtl.Ref("util.dynamodb.toDynamoDB($"+prefix+"."+partitionKey+")")),
	}
	switch {
	case len(sortKeyFields) > 1:
		parts := make([]string, len(sortKeyFields))
		for i, f := range sortKeyFields {
			parts[i] = "${" + prefix + "." + f + "}"
		}
		value := strings.Join(parts, transformer.ModelCompositeKeySeparator)
		attrs = append(attrs, vtl.KV(SortKeyName(sortKeyFields), vtl.Ref(`util.dynamodb.toDynamoDB("`+value+`")`)))
	case len(sortKeyFields) == 1:
		attrs = append(attrs, vtl.KV(sortKeyFields[0], vtl.Ref("util.dynamodb.toDynamoDB($"+prefix+"."+sortKeyFields[0]+")")))
	}
	return vtl.PrintBlock("Set the primary key")(vtl.Compound(
		vtl.QuietRefExpr(vtl.MethodCall("ctx.stash.metadata.put", vtl.Str(transformer.ModelObjectKey), vtl.Obj(attrs...))),
	))
}

// AddToPreAuth joins snippets into one preAuth function. Every snippet
// but the sync ones ends with an empty request.
func AddToPreAuth(r *transformer.Resolver, snippets []string, isSync bool) error {
	content := strings.Join(snippets, "\n") + "\n"
	if !isSync {
		content += "{}"
	}
	return r.AddToSlot(transformer.SlotPreAuth, transformer.InlineTemplate(content), nil)
}

// ErrorOrResult renders the response that raises datasource errors and
// otherwise returns the result.
func ErrorOrResult() string {
	return vtl.Print(vtl.Compound(
		vtl.If(vtl.Ref("ctx.error"), vtl.MethodCall("util.error", vtl.Ref("ctx.error.message"), vtl.Ref("ctx.error.type"))),
		vtl.ToJSON(vtl.Ref("ctx.result")),
	))
}
