package index

import (
	"strings"
	"text/template"

	"github.com/ShadowCat567/amplify-category-api/plugin/model"
	"github.com/ShadowCat567/amplify-category-api/transformer"
	"github.com/ShadowCat567/amplify-category-api/vtl"
)

// tableIndex names the table itself in the sync query maps.
const tableIndex = "dbTable"

// syncPlan is rendered into the preAuth step of sync queries. When the
// filter starts with an equality on a key partition, the request becomes
// a Sync of that key, narrowed by the second condition when it targets
// the matching sort key. Syncs whose lastSync falls inside the delta table
// retention keep reading the delta table.
var syncPlan = template.Must(template.New("sync").Parse(`## [Start] Set query plan for sync. **
#set( $args = $util.defaultIfNull($ctx.stash.transformedArgs, $ctx.args) )
#set( $QueryMap = {{ .QueryMap }} )
#set( $PkMap = {{ .PkMap }} )
#set( $SkMap = {{ .SkMap }} )
#set( $useDeltaTable = false )
#if( !$util.isNull($args.lastSync) )
  #set( $window = $ctx.stash.deltaSyncTableTtl * 60000 )
  #set( $age = $util.time.nowEpochMilliSeconds() - $args.lastSync )
  #if( $age < $window ) #set( $useDeltaTable = true ) #end
#end
#set( $filterArgs = [] )
#if( !$util.isNull($args.filter) && !$util.isNull($args.filter.get("and")) )
  #set( $filterArgs = $args.filter.get("and") )
#end
#if( !$useDeltaTable && $filterArgs.size() > 0 && $filterArgs[0].keySet().size() == 1 )
  #foreach( $name in $filterArgs[0].keySet() ) #set( $pkField = $name ) #end
  #set( $pkCondition = $filterArgs[0].get($pkField) )
  #if( $PkMap.containsKey($pkField) && !$util.isNull($pkCondition.eq) )
    #set( $indexName = $PkMap.get($pkField) )
    #set( $query = {
      "expression": "#pk = :pk",
      "expressionNames": { "#pk": $pkField },
      "expressionValues": { ":pk": $util.dynamodb.toDynamoDB($pkCondition.eq) }
    } )
    #set( $residual = $filterArgs.subList(1, $filterArgs.size()) )
    #if( $filterArgs.size() > 1 && $filterArgs[1].keySet().size() == 1 )
      #foreach( $name in $filterArgs[1].keySet() ) #set( $skField = $name ) #end
      #if( $QueryMap.containsKey("${pkField}+${skField}") )
        #set( $indexName = $QueryMap.get("${pkField}+${skField}") )
        #set( $skCondition = $filterArgs[1].get($skField) )
        #set( $skMatched = true )
        $util.qr($query.expressionNames.put("#sk", $SkMap.get($indexName)))
        #if( !$util.isNull($skCondition.eq) )
          #set( $query.expression = "$query.expression AND #sk = :sk" )
          $util.qr($query.expressionValues.put(":sk", $util.dynamodb.toDynamoDB($skCondition.eq)))
        #elseif( !$util.isNull($skCondition.beginsWith) )
          #set( $query.expression = "$query.expression AND begins_with(#sk, :sk)" )
          $util.qr($query.expressionValues.put(":sk", $util.dynamodb.toDynamoDB($skCondition.beginsWith)))
        #elseif( !$util.isNull($skCondition.between) )
          #set( $query.expression = "$query.expression AND #sk BETWEEN :sk0 AND :sk1" )
          $util.qr($query.expressionValues.put(":sk0", $util.dynamodb.toDynamoDB($skCondition.between[0])))
          $util.qr($query.expressionValues.put(":sk1", $util.dynamodb.toDynamoDB($skCondition.between[1])))
        {{- range .Comparisons }}
        #elseif( !$util.isNull($skCondition.{{ .Op }}) )
          #set( $query.expression = "$query.expression AND #sk {{ .Symbol }} :sk" )
          $util.qr($query.expressionValues.put(":sk", $util.dynamodb.toDynamoDB($skCondition.{{ .Op }})))
        {{- end }}
        #else
          #set( $skMatched = false )
          #set( $indexName = $PkMap.get($pkField) )
          $util.qr($query.expressionNames.remove("#sk"))
        #end
        #if( $skMatched ) #set( $residual = $filterArgs.subList(2, $filterArgs.size()) ) #end
      #end
    #end
    #set( $QueryRequest = {
      "version": "{{ .Version }}",
      "operation": "Sync",
      "limit": $util.defaultIfNull($args.limit, {{ .Limit }}),
      "lastSync": $util.defaultIfNull($args.lastSync, null),
      "query": $query
    } )
    #if( !$util.isNull($args.sortDirection) && $args.sortDirection == "DESC" )
      #set( $QueryRequest.scanIndexForward = false )
    #else
      #set( $QueryRequest.scanIndexForward = true )
    #end
    #if( $indexName != "{{ .Table }}" ) #set( $QueryRequest.index = $indexName ) #end
    #if( $args.nextToken ) #set( $QueryRequest.nextToken = $args.nextToken ) #end
    #if( $residual.size() > 0 )
      #set( $QueryRequest.filter = $util.parseJson($util.transform.toDynamoDBFilterExpression({ "and": $residual })) )
    #end
    $util.qr($ctx.stash.put("QueryRequest", $QueryRequest))
  #end
#end
$util.toJson({})
## [End] Set query plan for sync. **`))

type comparison struct{ Op, Symbol string }

// attributeMap is an ordered string map. Putting an existing key replaces
// its value in place.
type attributeMap struct {
	attrs []vtl.Attribute
	index map[string]int
}

func (m *attributeMap) put(key, value string) {
	if i, ok := m.index[key]; ok {
		m.attrs[i] = vtl.KV(key, vtl.Str(value))
		return
	}
	if m.index == nil {
		m.index = make(map[string]int)
	}
	m.index[key] = len(m.attrs)
	m.attrs = append(m.attrs, vtl.KV(key, vtl.Str(value)))
}

type syncPlanData struct {
	QueryMap, PkMap, SkMap string
	Comparisons            []comparison
	Version                string
	Limit                  int
	Table                  string
}

// After implements transformer.Finalizer. Synced DynamoDB models with
// custom keys get a sync query plan.
func (p *Plugin) After(ctx *transformer.Context) error {
	for _, name := range p.order {
		if ctx.IsRelational(name) {
			continue
		}
		r, ok := ctx.Resolvers.ForModel(name, transformer.OperationSync)
		if !ok {
			continue
		}
		content, err := p.syncQueryPlan(name)
		if err != nil {
			return err
		}
		if err := model.AddToPreAuth(r, []string{content}, true); err != nil {
			return err
		}
	}
	return nil
}

// syncQueryPlan renders the plan of typeName. The table key is put first
// and every index after it, so the last index sharing a partition key wins.
func (p *Plugin) syncQueryPlan(typeName string) (string, error) {
	var queryMap, pkMap, skMap attributeMap
	add := func(index string, c *Config) {
		pk := c.PartitionKey()
		pkMap.put(pk, index)
		if len(c.SortKeyFields) == 1 {
			queryMap.put(pk+"+"+c.SortKeyFields[0], index)
			skMap.put(index, c.SortKeyFields[0])
		}
	}
	if c, ok := p.primary[typeName]; ok {
		add(tableIndex, c)
	} else {
		pkMap.put("id", tableIndex)
	}
	for _, c := range p.indexes[typeName] {
		add(c.Name, c)
	}
	data := syncPlanData{
		QueryMap: vtl.Print(vtl.Obj(queryMap.attrs...)),
		PkMap:    vtl.Print(vtl.Obj(pkMap.attrs...)),
		SkMap:    vtl.Print(vtl.Obj(skMap.attrs...)),
		Comparisons: []comparison{
			{"lt", "<"}, {"le", "<="}, {"gt", ">"}, {"ge", ">="},
		},
		Version: vtl.ResolverVersionID,
		Limit:   transformer.DefaultPageLimit,
		Table:   tableIndex,
	}
	var b strings.Builder
	if err := syncPlan.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}
