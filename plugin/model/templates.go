package model

import (
	"fmt"
	"strconv"

	"github.com/ShadowCat567/amplify-category-api/transformer"
	"github.com/ShadowCat567/amplify-category-api/vtl"
)

func version() vtl.Attribute { return vtl.KV("version", vtl.Str(vtl.ResolverVersionID)) }

// itemKey sets $Key from the stashed model key, falling back to the id
// read from expr.
func itemKey(expr string) vtl.Expression {
	return vtl.IfElse(vtl.Ref("ctx.stash.metadata."+transformer.ModelObjectKey),
		vtl.Set(vtl.Ref("Key"), vtl.Ref("ctx.stash.metadata."+transformer.ModelObjectKey)),
		vtl.Set(vtl.Ref("Key"), vtl.Obj(vtl.KV("id", vtl.MethodCall("util.dynamodb.toDynamoDB", vtl.Ref(expr))))),
	)
}

// conditions adds the key existence check and the user condition to the
// stashed conditions, then renders them into request.condition.
func conditions(request string, keyExists bool) vtl.Expression {
	return vtl.Compound(
		vtl.Comment("Begin - key condition"),
		vtl.ForEach(vtl.Ref("entry"), vtl.Ref("Key.entrySet()"),
			vtl.QuietRef(fmt.Sprintf(`$ctx.stash.conditions.add({ "$entry.key": { "attributeExists": %t } })`, keyExists)),
		),
		vtl.Comment("End - key condition"),
		vtl.If(vtl.Ref("args.condition"), vtl.QuietRef("$ctx.stash.conditions.add($args.condition)")),
		vtl.If(vtl.And(vtl.Ref("ctx.stash.conditions"), vtl.Raw("$ctx.stash.conditions.size() != 0")), vtl.Compound(
			vtl.Set(vtl.Ref("mergedConditions"), vtl.Obj(vtl.KV("and", vtl.Ref("ctx.stash.conditions")))),
			vtl.Set(vtl.Ref("Conditions"), vtl.Ref("util.parseJson($util.transform.toDynamoDBConditionExpression($mergedConditions))")),
			vtl.If(vtl.And(vtl.Ref("Conditions.expressionValues"), vtl.Raw("$Conditions.expressionValues.size() == 0")),
				vtl.Set(vtl.Ref("Conditions"), vtl.Obj(
					vtl.KV("expression", vtl.Ref("Conditions.expression")),
					vtl.KV("expressionNames", vtl.Ref("Conditions.expressionNames")),
				)),
			),
			vtl.QuietRef(fmt.Sprintf(`$%s.put("condition", $Conditions)`, request)),
		)),
	)
}

func syncVersion(request string, sync bool) vtl.Expression {
	if !sync {
		return vtl.NewLine()
	}
	return vtl.If(vtl.Ref("args.input._version"),
		vtl.QuietRef(fmt.Sprintf(`$%s.put("_version", $util.defaultIfNull($args.input["_version"], 0))`, request)))
}

func argsRef() vtl.Expression {
	return vtl.Set(vtl.Ref("args"), vtl.MethodCall("util.defaultIfNull", vtl.Ref("ctx.stash.transformedArgs"), vtl.Ref("ctx.args")))
}

func getRequestTemplate() string {
	return vtl.PrintBlock("Get Request template")(vtl.Compound(
		vtl.Set(vtl.Ref("GetRequest"), vtl.Obj(version(), vtl.KV("operation", vtl.Str("GetItem")))),
		itemKey("ctx.args.id"),
		vtl.QuietRef(`$GetRequest.put("key", $Key)`),
		vtl.ToJSON(vtl.Ref("GetRequest")),
	))
}

func getResponseTemplate(sync bool) string {
	var result vtl.Expression = vtl.ToJSON(vtl.Ref("ctx.result"))
	if sync {
		result = vtl.IfElse(vtl.Ref("ctx.result._deleted"), vtl.ToJSON(vtl.Null()), result)
	}
	return vtl.PrintBlock("Get Response template")(vtl.Compound(
		vtl.If(vtl.Ref("ctx.error"), vtl.MethodCall("util.error", vtl.Ref("ctx.error.message"), vtl.Ref("ctx.error.type"))),
		result,
	))
}

func listRequestTemplate() string {
	query := "ctx.stash." + transformer.ModelQueryExpression
	return vtl.PrintBlock("List Request")(vtl.Compound(
		vtl.Set(vtl.Ref("args"), vtl.Ref("util.defaultIfNull($ctx.stash.transformedArgs, $ctx.args)")),
		vtl.Set(vtl.Ref("limit"), vtl.MethodCall("util.defaultIfNull", vtl.Ref("args.limit"), vtl.Int(transformer.DefaultPageLimit))),
		vtl.Set(vtl.Ref("ListRequest"), vtl.Obj(version(), vtl.KV("limit", vtl.Ref("limit")))),
		vtl.If(vtl.Ref("args.nextToken"), vtl.Set(vtl.Ref("ListRequest.nextToken"), vtl.Ref("args.nextToken"))),
		vtl.If(vtl.Not(vtl.IsNullOrEmpty(vtl.Ref("ctx.stash.authFilter"))), vtl.Set(vtl.Ref("filter"), vtl.Ref("ctx.stash.authFilter"))),
		vtl.If(vtl.Not(vtl.IsNullOrEmpty(vtl.Ref("args.filter"))), vtl.IfElse(vtl.Ref("filter"),
			vtl.Set(vtl.Ref("filter"), vtl.Obj(vtl.KV("and", vtl.List(vtl.Ref("filter"), vtl.Ref("args.filter"))))),
			vtl.Set(vtl.Ref("filter"), vtl.Ref("args.filter")),
		)),
		vtl.If(vtl.Not(vtl.IsNullOrEmpty(vtl.Ref("filter"))), vtl.Compound(
			vtl.Set(vtl.Ref("filterExpression"), vtl.Ref("util.parseJson($util.transform.toDynamoDBFilterExpression($filter))")),
			vtl.If(vtl.Not(vtl.IsNullOrEmpty(vtl.Ref("filterExpression"))),
				vtl.Set(vtl.Ref("ListRequest.filter"), vtl.Ref("filterExpression"))),
		)),
		vtl.IfElse(vtl.And(vtl.Not(vtl.IsNull(vtl.Ref(query))), vtl.Not(vtl.IsNullOrEmpty(vtl.Ref(query+".expression")))),
			vtl.Compound(
				vtl.QuietRef(`$ListRequest.put("operation", "Query")`),
				vtl.QuietRef(`$ListRequest.put("query", $`+query+`)`),
				vtl.IfElse(vtl.And(vtl.Not(vtl.IsNull(vtl.Ref("args.sortDirection"))), vtl.Equals(vtl.Ref("args.sortDirection"), vtl.Str("DESC"))),
					vtl.Set(vtl.Ref("ListRequest.scanIndexForward"), vtl.Bool(false)),
					vtl.Set(vtl.Ref("ListRequest.scanIndexForward"), vtl.Bool(true)),
				),
			),
			vtl.QuietRef(`$ListRequest.put("operation", "Scan")`),
		),
		vtl.ToJSON(vtl.Ref("ListRequest")),
	))
}

func listResponseTemplate() string {
	return vtl.PrintBlock("List Response")(vtl.Compound(
		vtl.IfElse(vtl.Ref("ctx.error"),
			vtl.MethodCall("util.error", vtl.Ref("ctx.error.message"), vtl.Ref("ctx.error.type")),
			vtl.ToJSON(vtl.Ref("ctx.result")),
		),
	))
}

func syncRequestTemplate() string {
	return vtl.PrintBlock("Sync Request template")(vtl.Compound(
		vtl.IfElse(vtl.Ref("ctx.stash.QueryRequest"),
			vtl.ToJSON(vtl.Ref("ctx.stash.QueryRequest")),
			vtl.Compound(
				vtl.Set(vtl.Ref("limit"), vtl.MethodCall("util.defaultIfNull", vtl.Ref("context.args.limit"), vtl.Int(transformer.DefaultPageLimit))),
				vtl.Set(vtl.Ref("SyncRequest"), vtl.Obj(
					version(),
					vtl.KV("operation", vtl.Str("Sync")),
					vtl.KV("limit", vtl.Ref("limit")),
					vtl.KV("lastSync", vtl.MethodCall("util.defaultIfNull", vtl.Ref("ctx.args.lastSync"), vtl.Null())),
				)),
				vtl.If(vtl.Ref("context.args.nextToken"), vtl.Set(vtl.Ref("SyncRequest.nextToken"), vtl.Ref("context.args.nextToken"))),
				vtl.If(vtl.Ref("ctx.args.filter"), vtl.Set(vtl.Ref("SyncRequest.filter"),
					vtl.Ref("util.parseJson($util.transform.toDynamoDBFilterExpression($ctx.args.filter))"))),
				vtl.ToJSON(vtl.Ref("SyncRequest")),
			),
		),
	))
}

func createRequestTemplate(typeName string, sync bool) string {
	return vtl.PrintBlock("Create Request template")(vtl.Compound(
		argsRef(),
		vtl.Comment("Set the default values to put request"),
		vtl.Set(vtl.Ref("mergedValues"), vtl.MethodCall("util.defaultIfNull", vtl.Ref("ctx.stash.defaultValues"), vtl.Obj())),
		vtl.Comment("copy the values from input"),
		vtl.QuietRef("$mergedValues.putAll($util.defaultIfNull($args.input, {}))"),
		vtl.Comment("set the typename"),
		vtl.QuietRef(fmt.Sprintf(`$mergedValues.put("__typename", "%s")`, typeName)),
		vtl.Set(vtl.Ref("PutObject"), vtl.Obj(
			version(),
			vtl.KV("operation", vtl.Str("PutItem")),
			vtl.KV("attributeValues", vtl.MethodCall("util.dynamodb.toMapValues", vtl.Ref("mergedValues"))),
		)),
		itemKey("mergedValues.id"),
		vtl.QuietRef(`$PutObject.put("key", $Key)`),
		conditions("PutObject", false),
		syncVersion("PutObject", sync),
		vtl.ToJSON(vtl.Ref("PutObject")),
	))
}

// updateExpression builds $expression from the non key input fields,
// honoring the attribute names of composite sort keys.
const updateExpression = `#foreach( $entry in $Key.entrySet() )
  $util.qr($input.remove($entry.key))
#end
#set( $expNames = {} )
#set( $expValues = {} )
#set( $expSet = {} )
#set( $expRemove = [] )
#foreach( $entry in $input.entrySet() )
  #if( !$util.isNull($ctx.stash.metadata.dynamodbNameOverrideMap) && $ctx.stash.metadata.dynamodbNameOverrideMap.containsKey("$entry.key") )
    #set( $attr = $ctx.stash.metadata.dynamodbNameOverrideMap.get("$entry.key") )
  #else
    #set( $attr = $entry.key )
  #end
  $util.qr($expNames.put("#$attr", "$entry.key"))
  #if( $util.isNull($entry.value) )
    $util.qr($expRemove.add("#$attr"))
  #else
    $util.qr($expSet.put("#$attr", ":$attr"))
    $util.qr($expValues.put(":$attr", $util.dynamodb.toDynamoDB($entry.value)))
  #end
#end
#set( $expression = "" )
#if( !$expSet.isEmpty() )
  #set( $expression = "SET" )
  #foreach( $entry in $expSet.entrySet() )
    #set( $expression = "$expression $entry.key = $entry.value" )
    #if( $foreach.hasNext() )
      #set( $expression = "$expression," )
    #end
  #end
#end
#if( !$expRemove.isEmpty() )
  #set( $expression = "$expression REMOVE" )
  #foreach( $entry in $expRemove )
    #set( $expression = "$expression $entry" )
    #if( $foreach.hasNext() )
      #set( $expression = "$expression," )
    #end
  #end
#end`

func updateRequestTemplate(sync bool) string {
	return vtl.PrintBlock("Mutation Update resolver")(vtl.Compound(
		argsRef(),
		vtl.Set(vtl.Ref("input"), vtl.MethodCall("util.defaultIfNull", vtl.Ref("ctx.stash.defaultValues"), vtl.Obj())),
		vtl.QuietRef("$input.putAll($util.defaultIfNull($args.input, {}))"),
		itemKey("args.input.id"),
		vtl.Raw(updateExpression),
		vtl.Set(vtl.Ref("UpdateItem"), vtl.Obj(
			version(),
			vtl.KV("operation", vtl.Str("UpdateItem")),
			vtl.KV("key", vtl.Ref("Key")),
			vtl.KV("update", vtl.Obj(
				vtl.KV("expression", vtl.Str("$expression")),
				vtl.KV("expressionNames", vtl.Ref("expNames")),
				vtl.KV("expressionValues", vtl.Ref("expValues")),
			)),
		)),
		conditions("UpdateItem", true),
		syncVersion("UpdateItem", sync),
		vtl.ToJSON(vtl.Ref("UpdateItem")),
	))
}

func deleteRequestTemplate(sync bool) string {
	return vtl.PrintBlock("Delete Request template")(vtl.Compound(
		argsRef(),
		vtl.Set(vtl.Ref("DeleteRequest"), vtl.Obj(version(), vtl.KV("operation", vtl.Str("DeleteItem")))),
		itemKey("args.input.id"),
		vtl.QuietRef(`$DeleteRequest.put("key", $Key)`),
		conditions("DeleteRequest", true),
		syncVersion("DeleteRequest", sync),
		vtl.ToJSON(vtl.Ref("DeleteRequest")),
	))
}

func mutationResponseTemplate(sync bool) string {
	errArgs := []vtl.Expression{vtl.Ref("ctx.error.message"), vtl.Ref("ctx.error.type")}
	if sync {
		errArgs = append(errArgs, vtl.Ref("ctx.result"))
	}
	return vtl.PrintBlock("ResponseTemplate")(vtl.Compound(
		vtl.IfElse(vtl.Ref("ctx.error"),
			vtl.MethodCall("util.error", errArgs...),
			vtl.ToJSON(vtl.Ref("ctx.result")),
		),
	))
}

func subscriptionRequestTemplate() string {
	return vtl.PrintBlock("Subscription Request template")(vtl.Compound(
		vtl.ToJSON(vtl.Obj(version(), vtl.KV("payload", vtl.Obj()))),
	))
}

func subscriptionResponseTemplate() string {
	return vtl.PrintBlock("Subscription Response template")(vtl.Compound(
		vtl.ToJSON(vtl.Null()),
	))
}

// initSlotTemplate stashes the values create and update start from:
// generated ids, timestamps and the @default values of the type.
func initSlotTemplate(op transformer.Operation, ts *TimestampConfiguration, defaults []defaultValue) string {
	exprs := []vtl.Expression{
		vtl.QuietRef(`$ctx.stash.put("defaultValues", $util.defaultIfNull($ctx.stash.defaultValues, {}))`),
	}
	if op == transformer.OperationCreate {
		exprs = append(exprs, vtl.QuietRef(`$ctx.stash.defaultValues.put("id", $util.autoId())`))
	}
	if ts != nil && (ts.CreatedAt != nil || ts.UpdatedAt != nil) {
		exprs = append(exprs, vtl.Set(vtl.Ref("createdAt"), vtl.MethodCall("util.time.nowISO8601")))
		if ts.CreatedAt != nil && op == transformer.OperationCreate {
			exprs = append(exprs, vtl.QuietRef(fmt.Sprintf(`$ctx.stash.defaultValues.put("%s", $createdAt)`, *ts.CreatedAt)))
		}
		if ts.UpdatedAt != nil {
			exprs = append(exprs, vtl.QuietRef(fmt.Sprintf(`$ctx.stash.defaultValues.put("%s", $createdAt)`, *ts.UpdatedAt)))
		}
	}
	if op == transformer.OperationCreate {
		for _, d := range defaults {
			exprs = append(exprs, vtl.QuietRef(fmt.Sprintf(`$ctx.stash.defaultValues.put("%s", %s)`, d.field, d.literal())))
		}
	}
	exprs = append(exprs, vtl.ToJSON(vtl.Obj(version(), vtl.KV("payload", vtl.Obj()))))
	return vtl.PrintBlock("Initialization default values")(vtl.Compound(exprs...))
}

// defaultValue is a validated @default argument.
type defaultValue struct {
	field string
	value string
	// scalar is the named type of the field; enums are quoted like strings.
	scalar string
}

func (d defaultValue) literal() string {
	switch d.scalar {
	case "Int", "Float", "Boolean", "AWSTimestamp":
		return d.value
	case "AWSJSON":
		return "$util.parseJson(" + strconv.Quote(d.value) + ")"
	default:
		return strconv.Quote(d.value)
	}
}
