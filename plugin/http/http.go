// Package http implements @http, which resolves a field with a request to
// an HTTP endpoint. Fields calling the same origin share a datasource.
package http

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"

	"github.com/ShadowCat567/amplify-category-api/transformer"
	"github.com/ShadowCat567/amplify-category-api/vtl"
)

const directiveSDL = `
directive @http(method: HttpMethod = GET, url: String!, headers: [HttpHeader] = []) on FIELD_DEFINITION

enum HttpMethod {
  GET
  POST
  PUT
  DELETE
  PATCH
}

input HttpHeader {
  key: String
  value: String
}
`

// StackName is the stack holding the @http resources.
const StackName = "HttpStack"

// Header is a request header set on every call.
type Header struct {
	Key   string `mapstructure:"key"`
	Value string `mapstructure:"value"`
}

// Config is one visited @http.
type Config struct {
	Method  string   `mapstructure:"method"`
	URL     string   `mapstructure:"url"`
	Headers []Header `mapstructure:"headers"`

	typeName   string
	fieldName  string
	origin     string
	path       string
	pathParams []string
}

// HasBody reports whether the method sends the arguments as a body.
func (c *Config) HasBody() bool {
	return c.Method == "POST" || c.Method == "PUT" || c.Method == "PATCH"
}

var pathParam = regexp.MustCompile(`:([A-Za-z_][A-Za-z0-9_]*)`)

// Plugin implements @http.
type Plugin struct {
	fields []*Config
}

var (
	_ transformer.Preparer          = (*Plugin)(nil)
	_ transformer.FieldVisitor      = (*Plugin)(nil)
	_ transformer.SchemaTransformer = (*Plugin)(nil)
	_ transformer.ResolverGenerator = (*Plugin)(nil)
)

// New returns the @http plugin.
func New() *Plugin { return &Plugin{} }

// Name implements transformer.Plugin.
func (*Plugin) Name() string { return "HttpTransformer" }

// Directive implements transformer.Plugin.
func (*Plugin) Directive() string { return directiveSDL }

// Phase implements transformer.Plugin.
func (*Plugin) Phase() transformer.Phase { return transformer.PhaseField }

// Prepare implements transformer.Preparer.
func (p *Plugin) Prepare(*transformer.Context) error {
	p.fields = nil
	return nil
}

// Field implements transformer.FieldVisitor.
func (p *Plugin) Field(ctx *transformer.Context, parent *ast.Definition, field *ast.FieldDefinition, dir *ast.Directive) error {
	c := &Config{typeName: parent.Name, fieldName: field.Name}
	if err := ctx.Directive(dir, parent.Name, field.Name).Arguments(c, nil); err != nil {
		return err
	}
	origin, path, err := splitURL(c.URL)
	if err != nil {
		return transformer.NewInvalidDirectiveError("http", parent.Name, field.Name, err.Error())
	}
	c.origin, c.path = origin, path
	for _, m := range pathParam.FindAllStringSubmatch(path, -1) {
		if !slices.Contains(c.pathParams, m[1]) {
			c.pathParams = append(c.pathParams, m[1])
		}
	}
	if field.Arguments.ForName("params") != nil && len(c.pathParams) > 0 {
		return transformer.NewInvalidDirectiveError("http", parent.Name, field.Name,
			"A field using path parameters cannot declare an argument named 'params'.")
	}
	p.fields = append(p.fields, c)
	return nil
}

// splitURL returns the origin and path of raw. The scheme must be http or
// https and the path starts with "/".
func splitURL(raw string) (origin, path string, err error) {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok || (scheme != "http" && scheme != "https") {
		return "", "", fmt.Errorf("@http directive requires a url parameter that begins with http:// or https://, got %q.", raw)
	}
	host, path, _ := strings.Cut(rest, "/")
	if host == "" {
		return "", "", fmt.Errorf("@http directive url %q has no host.", raw)
	}
	return scheme + "://" + host, "/" + path, nil
}

// TransformSchema implements transformer.SchemaTransformer. Path
// parameters become a required params argument.
func (p *Plugin) TransformSchema(ctx *transformer.Context) error {
	for _, c := range p.fields {
		if len(c.pathParams) == 0 {
			continue
		}
		prefix := c.typeName + transformer.UcFirst(c.fieldName)
		pathInput := ast.FieldList{}
		for _, name := range c.pathParams {
			pathInput = append(pathInput, &ast.FieldDefinition{Name: name, Type: ast.NonNullNamedType("String", nil)})
		}
		ctx.AddOutputType(&ast.Definition{Kind: ast.InputObject, Name: prefix + "PathInput", Fields: pathInput})
		ctx.AddOutputType(&ast.Definition{Kind: ast.InputObject, Name: prefix + "ParamsInput", Fields: ast.FieldList{
			{Name: "path", Type: ast.NonNullNamedType(prefix+"PathInput", nil)},
		}})
		def := ctx.OutputType(c.typeName)
		if def == nil {
			return transformer.NewResourceConsistencyError("type", c.typeName, "missing from the output schema")
		}
		field := def.Fields.ForName(c.fieldName)
		field.Arguments = append(field.Arguments, &ast.ArgumentDefinition{
			Name: "params",
			Type: ast.NonNullNamedType(prefix+"ParamsInput", nil),
		})
	}
	return nil
}

// GenerateResolvers implements transformer.ResolverGenerator.
func (p *Plugin) GenerateResolvers(ctx *transformer.Context) error {
	if len(p.fields) == 0 {
		return nil
	}
	ctx.Stacks.CreateStack(StackName)
	for _, c := range p.fields {
		ds := dataSource(ctx, c.origin)
		req := transformer.InlineTemplate(RequestTemplate(c))
		res := transformer.InlineTemplate(ResponseTemplate())
		r := ctx.Resolvers.GenerateQueryResolver(c.typeName, c.fieldName, ds.Name, req, res)
		r.SetScope(ctx.Stacks.GetScopeFor(r.ResourceID, StackName).Name)
		ctx.Logger.Debug("http resolver", "field", r.Key(), "method", c.Method, "origin", c.origin)
	}
	return nil
}

// DataSourceName returns the datasource calling origin.
func DataSourceName(origin string) string {
	_, host, _ := strings.Cut(origin, "://")
	host = strings.NewReplacer("${env}", "", "${aws_region}", "").Replace(host)
	return transformer.UcFirst(transformer.GraphQLName(strings.ReplaceAll(host, ".", ""))) + "DataSource"
}

func dataSource(ctx *transformer.Context, origin string) *transformer.DataSource {
	name := DataSourceName(origin)
	if ds, ok := ctx.DataSources.GetDataSource(name); ok {
		return ds
	}
	var endpoint any = origin
	sub := strings.ReplaceAll(origin, "${aws_region}", "${AWS::Region}")
	switch {
	case strings.Contains(origin, "${env}"):
		endpoint = transformer.Fn("Sub", sub, map[string]any{"env": transformer.Ref(transformer.ParamEnv)})
	case sub != origin:
		endpoint = transformer.Sub(sub)
	}
	return ctx.DataSources.AddDataSource(&transformer.DataSource{
		Name:     name,
		Kind:     transformer.KindHTTP,
		Endpoint: endpoint,
		Stack:    StackName,
	})
}

// RequestTemplate renders the request of c. Path parameters read the
// params argument; the other arguments go in the query string, or in the
// body for methods that send one.
func RequestTemplate(c *Config) string {
	path := pathParam.ReplaceAllString(c.path, "$${ctx.args.params.path.$1}")
	headers := []vtl.Attribute{vtl.KV("Content-Type", vtl.Str("application/json"))}
	for _, h := range c.Headers {
		if strings.EqualFold(h.Key, "Content-Type") {
			headers[0] = vtl.KV("Content-Type", vtl.Str(h.Value))
			continue
		}
		headers = append(headers, vtl.KV(h.Key, vtl.Str(h.Value)))
	}
	args := vtl.MethodCall("util.map.copyAndRemoveAllKeys", vtl.Ref("ctx.args"), vtl.List(vtl.Str("params")))
	params := []vtl.Attribute{vtl.KV("headers", vtl.Obj(headers...))}
	if c.HasBody() {
		params = append(params, vtl.KV("body", vtl.ToJSON(args)))
	} else {
		params = append(params, vtl.KV("query", vtl.ToJSON(args)))
	}
	return vtl.PrintBlock("Invoke HTTP data source")(vtl.Obj(
		vtl.KV("version", vtl.Str(vtl.ResolverVersionID)),
		vtl.KV("method", vtl.Str(c.Method)),
		vtl.KV("resourcePath", vtl.Str(path)),
		vtl.KV("params", vtl.Obj(params...)),
	))
}

// ResponseTemplate returns the body of successful responses, converting
// XML to JSON, and appends an error for other status codes.
func ResponseTemplate() string {
	status := vtl.Ref("ctx.result.statusCode")
	return vtl.PrintBlock("Handle HTTP response")(vtl.Compound(
		vtl.IfInline(vtl.Ref("ctx.error"), vtl.MethodCall("util.error", vtl.Ref("ctx.error.message"), vtl.Ref("ctx.error.type"))),
		vtl.IfElse(vtl.Or(vtl.Equals(status, vtl.Int(200)), vtl.Equals(status, vtl.Int(201))),
			vtl.IfElse(vtl.Raw(`$util.defaultIfNullOrBlank($ctx.result.headers.get("Content-Type"), "").toLowerCase().contains("xml")`),
				vtl.MethodCall("util.xml.toJsonString", vtl.Ref("ctx.result.body")),
				vtl.Ref("ctx.result.body"),
			),
			vtl.QuietRefExpr(vtl.MethodCall("util.appendError", vtl.Ref("ctx.result.body"), vtl.Str("$ctx.result.statusCode"))),
		),
	))
}
