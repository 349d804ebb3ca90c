package transformer

import (
	"bytes"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"

	"github.com/ShadowCat567/amplify-category-api/vtl"
)

// DeploymentResources is the bundle produced by a transform run.
type DeploymentResources struct {
	// Schema is the printed output schema.
	Schema string `json:"schema" yaml:"schema" msgpack:"schema"`
	// Resolvers maps a template file name to its content.
	Resolvers map[string]string `json:"resolvers" yaml:"resolvers" msgpack:"resolvers"`
	// Functions lists, per resolver (Type.field), the logical ids of its
	// pipeline functions in execution order.
	Functions map[string][]string `json:"functions" yaml:"functions" msgpack:"functions"`
	// Stacks holds the nested stacks by name.
	Stacks    map[string]*Template `json:"stacks" yaml:"stacks" msgpack:"stacks"`
	RootStack *Template            `json:"rootStack" yaml:"rootStack" msgpack:"rootStack"`
	// StackMapping records the stack chosen for every placed resource.
	StackMapping map[string]string `json:"stackMapping" yaml:"stackMapping" msgpack:"stackMapping"`
	// UserOverriddenSlots lists the Type.field.slot.order keys replaced by
	// user templates.
	UserOverriddenSlots []string `json:"userOverriddenSlots,omitempty" yaml:"userOverriddenSlots,omitempty" msgpack:"userOverriddenSlots,omitempty"`
	// BuildID is derived from the API name and the schema, so identical
	// inputs share it.
	BuildID string `json:"buildId" yaml:"buildId" msgpack:"buildId"`
}

// Resource ids of the root stack.
const (
	GraphQLAPIResourceID    = "GraphQLAPI"
	GraphQLSchemaResourceID = "GraphQLSchema"
	APIKeyResourceID        = "GraphQLAPIDefaultApiKey"
)

// ResolverAfterTemplate returns the previous function result.
const ResolverAfterTemplate = "$util.toJson($ctx.prev.result)"

var nonAlnum = regexp.MustCompile(`[^A-Za-z0-9]`)

// DataSourceResourceID returns the logical id of the datasource named name.
func DataSourceResourceID(name string) string {
	return nonAlnum.ReplaceAllString(name, "") + "DataSource"
}

// FunctionResourceID returns the logical id of a pipeline function.
func FunctionResourceID(r *Resolver, fn PipelineFunction) string {
	stage := "Data"
	if fn.Slot != "" {
		stage = UcFirst(string(fn.Slot)) + fmt.Sprint(fn.Index)
	}
	return nonAlnum.ReplaceAllString(r.TypeName+UcFirst(r.FieldName)+stage, "") + "Function"
}

// FileName returns the template file name of a pipeline function half.
func (fn PipelineFunction) FileName(r *Resolver, half string) string {
	if fn.Slot == "" {
		return fmt.Sprintf("%s.data.%s.vtl", r.Key(), half)
	}
	return fmt.Sprintf("%s.%s.%d.%s.vtl", r.Key(), fn.Slot, fn.Index, half)
}

// synthesizer renders a finished context into deployment resources.
type synthesizer struct {
	ctx *Context
	out *DeploymentResources
	// functions dedupes identical functions per stack.
	functions map[string]string
}

func synthesize(ctx *Context, overridden []string) (*DeploymentResources, error) {
	s := &synthesizer{
		ctx: ctx,
		out: &DeploymentResources{
			Resolvers:           make(map[string]string),
			Functions:           make(map[string][]string),
			Stacks:              make(map[string]*Template),
			UserOverriddenSlots: overridden,
		},
		functions: make(map[string]string),
	}
	schema, err := s.schema()
	if err != nil {
		return nil, err
	}
	s.out.Schema = schema
	if err := s.root(); err != nil {
		return nil, err
	}
	if err := s.dataSources(); err != nil {
		return nil, err
	}
	for _, r := range ctx.Resolvers.All() {
		if err := s.resolver(r); err != nil {
			return nil, err
		}
	}
	if err := s.nested(); err != nil {
		return nil, err
	}
	s.out.RootStack = ctx.Stacks.Root().Template()
	for _, st := range ctx.Stacks.Stacks() {
		s.out.Stacks[st.Name] = st.Template()
	}
	s.out.StackMapping = ctx.Stacks.Placement()
	s.out.BuildID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(ctx.SynthParameters().APIName+"\n"+schema)).String()
	return s.out, nil
}

// schema prints the output document without the directives consumed by
// plugins.
func (s *synthesizer) schema() (string, error) {
	if s.ctx.Output == nil {
		return "", NewResourceConsistencyError("schema", "output", "no output document")
	}
	doc := s.ctx.Output
	strip := func(dirs ast.DirectiveList) ast.DirectiveList {
		return slices.DeleteFunc(slices.Clone(dirs), func(d *ast.Directive) bool {
			if s.ctx.registry == nil {
				return false
			}
			_, owned := s.ctx.registry.Owner(d.Name)
			return owned
		})
	}
	for _, def := range append(slices.Clone(doc.Definitions), doc.Extensions...) {
		def.Directives = strip(def.Directives)
		for _, f := range def.Fields {
			f.Directives = strip(f.Directives)
		}
	}
	var buf bytes.Buffer
	formatter.NewFormatter(&buf, formatter.WithIndent("  ")).FormatSchemaDocument(doc)
	return buf.String(), nil
}

// apiID returns the intrinsic locating the API from within st.
func (s *synthesizer) apiID(st *Stack) any {
	if st == s.ctx.Stacks.Root() {
		return GetAtt(GraphQLAPIResourceID, "ApiId")
	}
	return Ref(ParamAPIID)
}

func (s *synthesizer) root() error {
	root := s.ctx.Stacks.Root()
	addStandardParameters(root)
	root.AddParameter("DeploymentBucket", &Parameter{Type: "String", Description: "location of the nested stack templates"})
	synth := s.ctx.SynthParameters()
	auth := s.ctx.Config.AuthConfig
	api := map[string]any{
		"Name": Fn("If", CondHasEnvironmentParameter,
			Fn("Join", "-", []any{synth.APIName, Ref(ParamEnv)}), synth.APIName),
		"AuthenticationType": auth.DefaultAuthentication.AuthenticationType,
	}
	if extra := auth.AdditionalAuthenticationProviders; len(extra) > 0 {
		providers := make([]any, 0, len(extra))
		for _, m := range extra {
			providers = append(providers, map[string]any{"AuthenticationType": m.AuthenticationType})
		}
		api["AdditionalAuthenticationProviders"] = providers
	}
	if err := root.AddResource(GraphQLAPIResourceID, &Resource{Type: "AWS::AppSync::GraphQLApi", Properties: api}); err != nil {
		return err
	}
	if err := root.AddResource(GraphQLSchemaResourceID, &Resource{
		Type: "AWS::AppSync::GraphQLSchema",
		Properties: map[string]any{
			"ApiId":      GetAtt(GraphQLAPIResourceID, "ApiId"),
			"Definition": s.out.Schema,
		},
	}); err != nil {
		return err
	}
	root.AddOutput("GraphQLAPIIdOutput", &Output{Value: GetAtt(GraphQLAPIResourceID, "ApiId")})
	root.AddOutput("GraphQLAPIEndpointOutput", &Output{Value: GetAtt(GraphQLAPIResourceID, "GraphQLUrl")})
	for _, m := range auth.Modes() {
		if m.AuthenticationType != AuthTypeAPIKey || s.ctx.TransformParameters().SuppressAPIKeyGeneration {
			continue
		}
		days := m.APIKeyExpiration
		if days <= 0 {
			days = 7
		}
		if err := root.AddResource(APIKeyResourceID, &Resource{
			Type: "AWS::AppSync::ApiKey",
			Properties: map[string]any{
				"ApiId":       GetAtt(GraphQLAPIResourceID, "ApiId"),
				"Description": fmt.Sprintf("api key valid for %d days", days),
				"Expires":     days * 24 * 60 * 60,
			},
		}); err != nil {
			return err
		}
		root.AddOutput("GraphQLAPIKeyOutput", &Output{Value: GetAtt(APIKeyResourceID, "ApiKey")})
		break
	}
	return nil
}

// addStandardParameters declares the parameters and conditions every
// generated resource may reference.
func addStandardParameters(st *Stack) {
	st.AddParameter(ParamEnv, &Parameter{Type: "String", Default: "NONE"})
	st.AddParameter(ParamBillingMode, &Parameter{Type: "String", Default: "PAY_PER_REQUEST", AllowedValues: []string{"PAY_PER_REQUEST", "PROVISIONED"}})
	st.AddParameter(ParamReadIOPS, &Parameter{Type: "Number", Default: 5})
	st.AddParameter(ParamWriteIOPS, &Parameter{Type: "Number", Default: 5})
	st.AddCondition(CondPayPerRequestBilling, Fn("Equals", Ref(ParamBillingMode), "PAY_PER_REQUEST"))
	st.AddCondition(CondHasEnvironmentParameter, Fn("Not", Fn("Equals", Ref(ParamEnv), "NONE")))
}

func (s *synthesizer) dataSources() error {
	if _, ok := s.ctx.DataSources.GetDataSource(NoneDataSourceName); !ok {
		s.ctx.DataSources.AddDataSource(&DataSource{Name: NoneDataSourceName, Kind: KindNone})
	}
	for _, ds := range s.ctx.DataSources.All() {
		id := DataSourceResourceID(ds.Name)
		st := s.ctx.Stacks.GetScopeFor(id, ds.Stack)
		props := map[string]any{
			"ApiId": s.apiID(st),
			"Name":  ds.Name,
			"Type":  ds.ServiceType(),
		}
		var depends []string
		switch ds.Kind {
		case KindDynamoDB:
			if ds.Table == nil {
				return NewResourceConsistencyError("datasource", ds.Name, "DynamoDB datasource has no table")
			}
			tableStack := s.ctx.Stacks.GetScopeFor(ds.Table.LogicalID, ds.Stack)
			if err := tableStack.AddResource(ds.Table.LogicalID, ds.Table.Resource()); err != nil {
				return err
			}
			config := map[string]any{
				"AwsRegion": Ref("AWS::Region"),
				"TableName": Ref(ds.Table.LogicalID),
			}
			if ds.DeltaSync != nil {
				config["Versioned"] = true
				config["DeltaSyncConfig"] = map[string]any{
					"BaseTableTTL":       fmt.Sprint(ds.DeltaSync.BaseTableTTL),
					"DeltaSyncTableName": ds.DeltaSync.DeltaSyncTableName,
					"DeltaSyncTableTTL":  fmt.Sprint(ds.DeltaSync.DeltaSyncTableTTL),
				}
			}
			props["DynamoDBConfig"] = config
			depends = append(depends, ds.Table.LogicalID)
		case KindLambda, KindRelational:
			props["LambdaConfig"] = map[string]any{"LambdaFunctionArn": ds.FunctionARN}
		case KindHTTP:
			config := map[string]any{"Endpoint": ds.Endpoint}
			if ds.SigningService != "" {
				config["AuthorizationConfig"] = map[string]any{
					"AuthorizationType": "AWS_IAM",
					"AwsIamConfig": map[string]any{
						"SigningRegion":      Ref("AWS::Region"),
						"SigningServiceName": ds.SigningService,
					},
				}
			}
			props["HttpConfig"] = config
		}
		if ds.ServiceRole != "" {
			if err := st.AddResource(ds.ServiceRole, serviceRole(ds)); err != nil {
				return err
			}
			props["ServiceRoleArn"] = GetAtt(ds.ServiceRole, "Arn")
			depends = append(depends, ds.ServiceRole)
		}
		if err := st.AddResource(id, &Resource{Type: "AWS::AppSync::DataSource", Properties: props, DependsOn: depends}); err != nil {
			return err
		}
	}
	return nil
}

// serviceRole returns the role the service assumes to reach ds.
func serviceRole(ds *DataSource) *Resource {
	var statement map[string]any
	switch ds.Kind {
	case KindDynamoDB:
		table := GetAtt(ds.Table.LogicalID, "Arn")
		statement = map[string]any{
			"Effect": "Allow",
			"Action": []string{
				"dynamodb:BatchGetItem", "dynamodb:BatchWriteItem", "dynamodb:PutItem",
				"dynamodb:DeleteItem", "dynamodb:GetItem", "dynamodb:Scan",
				"dynamodb:Query", "dynamodb:UpdateItem",
			},
			"Resource": []any{table, Sub("${" + ds.Table.LogicalID + ".Arn}/*")},
		}
	case KindLambda, KindRelational:
		statement = map[string]any{
			"Effect":   "Allow",
			"Action":   []string{"lambda:InvokeFunction"},
			"Resource": ds.FunctionARN,
		}
	case KindHTTP:
		if len(ds.Actions) > 0 {
			statement = map[string]any{"Effect": "Allow", "Action": ds.Actions, "Resource": "*"}
			break
		}
		fallthrough
	default:
		statement = map[string]any{"Effect": "Deny", "Action": []string{"*"}, "Resource": "*"}
	}
	return &Resource{
		Type: "AWS::IAM::Role",
		Properties: map[string]any{
			"AssumeRolePolicyDocument": map[string]any{
				"Version": "2012-10-17",
				"Statement": []any{map[string]any{
					"Effect":    "Allow",
					"Principal": map[string]any{"Service": "appsync.amazonaws.com"},
					"Action":    "sts:AssumeRole",
				}},
			},
			"Policies": []any{map[string]any{
				"PolicyName": ds.Name + "Access",
				"PolicyDocument": map[string]any{
					"Version":   "2012-10-17",
					"Statement": []any{statement},
				},
			}},
		},
	}
}

// beforeTemplate renders the resolver request template, which seeds the
// stash for the pipeline.
func (s *synthesizer) beforeTemplate(r *Resolver) string {
	exprs := []vtl.Expression{
		vtl.QuietRef(fmt.Sprintf(`$ctx.stash.put("typeName", "%s")`, r.TypeName)),
		vtl.QuietRef(fmt.Sprintf(`$ctx.stash.put("fieldName", "%s")`, r.FieldName)),
		vtl.QuietRef(`$ctx.stash.put("conditions", [])`),
		vtl.QuietRef(`$ctx.stash.put("metadata", {})`),
	}
	if data := r.Data(); data != nil {
		if ds, ok := s.ctx.DataSources.GetDataSource(data.DataSource); ok {
			exprs = append(exprs, vtl.QuietRef(fmt.Sprintf(`$ctx.stash.metadata.put("dataSourceType", "%s")`, ds.ServiceType())))
		}
	}
	exprs = append(exprs, vtl.QuietRef(fmt.Sprintf(`$ctx.stash.metadata.put("apiId", "${%s}")`, ParamAPIID)))
	for _, v := range r.stash {
		exprs = append(exprs, vtl.QuietRef(fmt.Sprintf(`$ctx.stash.put("%s", %s)`, v.key, v.value)))
	}
	exprs = append(exprs, vtl.ToJSON(vtl.Raw("{}")))
	return vtl.Print(vtl.Compound(exprs...))
}

func (s *synthesizer) resolver(r *Resolver) error {
	st := s.ctx.Stacks.GetScopeFor(r.ResourceID, r.Scope())
	pipeline := r.Pipeline()
	if len(pipeline) == 0 {
		return NewResourceConsistencyError("resolver", r.Key(), "pipeline has no functions")
	}
	var fnRefs []any
	var ids []string
	for _, fn := range pipeline {
		id, err := s.function(st, r, fn)
		if err != nil {
			return err
		}
		ids = append(ids, id)
		fnRefs = append(fnRefs, GetAtt(id, "FunctionId"))
		s.out.Resolvers[fn.FileName(r, "req")] = fn.Request.Content
		s.out.Resolvers[fn.FileName(r, "res")] = fn.Response.Content
	}
	before := s.beforeTemplate(r)
	s.out.Resolvers[r.Key()+".req.vtl"] = before
	s.out.Resolvers[r.Key()+".res.vtl"] = ResolverAfterTemplate
	s.out.Functions[r.Key()] = ids
	return st.AddResource(r.ResourceID, &Resource{
		Type: "AWS::AppSync::Resolver",
		Properties: map[string]any{
			"ApiId":                   s.apiID(st),
			"TypeName":                r.TypeName,
			"FieldName":               r.FieldName,
			"Kind":                    "PIPELINE",
			"PipelineConfig":          map[string]any{"Functions": fnRefs},
			"RequestMappingTemplate":  before,
			"ResponseMappingTemplate": ResolverAfterTemplate,
		},
		DependsOn: slices.Compact(slices.Sorted(slices.Values(ids))),
	})
}

// function adds fn to st unless an identical function exists there, and
// returns its logical id.
func (s *synthesizer) function(st *Stack, r *Resolver, fn PipelineFunction) (string, error) {
	sync := fn.Slot == "" && r.Sync != nil
	key := strings.Join([]string{st.Name, fn.DataSource, fn.Request.Content, fn.Response.Content, fmt.Sprint(sync)}, "\x00")
	if id, ok := s.functions[key]; ok {
		return id, nil
	}
	if _, ok := s.ctx.DataSources.GetDataSource(fn.DataSource); !ok {
		return "", NewResourceConsistencyError("datasource", fn.DataSource, "referenced by "+r.Key()+" but not registered")
	}
	id := FunctionResourceID(r, fn)
	s.functions[key] = id
	dsID := DataSourceResourceID(fn.DataSource)
	props := map[string]any{
		"ApiId":                   s.apiID(st),
		"Name":                    id,
		"FunctionVersion":         vtl.ResolverVersionID,
		"DataSourceName":          fn.DataSource,
		"RequestMappingTemplate":  fn.Request.Content,
		"ResponseMappingTemplate": fn.Response.Content,
	}
	if sync {
		props["SyncConfig"] = syncConfig(r.Sync)
	}
	var depends []string
	if placed, ok := s.ctx.Stacks.Placement()[dsID]; ok && placed == st.Name {
		props["DataSourceName"] = GetAtt(dsID, "Name")
		depends = append(depends, dsID)
	}
	return id, st.AddResource(id, &Resource{
		Type:       "AWS::AppSync::FunctionConfiguration",
		Properties: props,
		DependsOn:  depends,
	})
}

func syncConfig(sc *SyncConfig) map[string]any {
	handler := sc.ConflictHandler
	if handler == "" {
		handler = ConflictHandlerAutomerge
	}
	out := map[string]any{
		"ConflictDetection": "VERSION",
		"ConflictHandler":   string(handler),
	}
	if handler == ConflictHandlerLambda && sc.LambdaConflictHandler != nil {
		arn := sc.LambdaConflictHandler.LambdaArn
		if arn == "" {
			arn = "arn:aws:lambda:${AWS::Region}:${AWS::AccountId}:function:" + sc.LambdaConflictHandler.Name
		}
		out["LambdaConflictHandlerConfig"] = map[string]any{"LambdaConflictHandlerArn": Sub(arn)}
	}
	return out
}

// nested declares a nested stack resource in the root stack for every
// named stack, passing the API id and the standard parameters.
func (s *synthesizer) nested() error {
	root := s.ctx.Stacks.Root()
	for _, st := range s.ctx.Stacks.Stacks() {
		addStandardParameters(st)
		st.AddParameter(ParamAPIID, &Parameter{Type: "String"})
		params := map[string]any{ParamAPIID: GetAtt(GraphQLAPIResourceID, "ApiId")}
		for _, name := range []string{ParamEnv, ParamBillingMode, ParamReadIOPS, ParamWriteIOPS} {
			params[name] = Ref(name)
		}
		if err := root.AddResource(st.Name, &Resource{
			Type: "AWS::CloudFormation::Stack",
			Properties: map[string]any{
				"Parameters":  params,
				"TemplateURL": Sub("${DeploymentBucket}/stacks/" + st.Name + ".json"),
			},
			DependsOn: []string{GraphQLSchemaResourceID},
		}); err != nil {
			return err
		}
	}
	return nil
}

// ResolverFileNames returns the resolver template names in sorted order.
func (d *DeploymentResources) ResolverFileNames() []string {
	return slices.Sorted(maps.Keys(d.Resolvers))
}
