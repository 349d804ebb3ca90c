// Package predictions implements @predictions, which resolves a Query
// field by running a sequence of AI service calls, each consuming the
// result of the previous one.
package predictions

import (
	"fmt"
	"slices"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"

	"github.com/ShadowCat567/amplify-category-api/transformer"
	"github.com/ShadowCat567/amplify-category-api/vtl"
)

const directiveSDL = `
directive @predictions(actions: [PredictionsActions!]!) on FIELD_DEFINITION

enum PredictionsActions {
  identifyText
  identifyLabels
  convertTextToSpeech
  translateText
}
`

// StackName is the stack holding the @predictions resources.
const StackName = "PredictionsDirectiveStack"

// Predictions actions.
const (
	IdentifyText        = "identifyText"
	IdentifyLabels      = "identifyLabels"
	TranslateText       = "translateText"
	ConvertTextToSpeech = "convertTextToSpeech"
)

// Resource ids.
const (
	RekognitionDataSourceName = "RekognitionDataSource"
	TranslateDataSourceName   = "TranslateDataSource"
	LambdaDataSourceName      = "LambdaDataSource"
	LambdaFunctionID          = "PredictionsLambdaFunction"
	LambdaRoleID              = "PredictionsLambdaIAMRole"
)

// next lists the actions allowed to follow each action.
var next = map[string][]string{
	IdentifyText:        {TranslateText, ConvertTextToSpeech},
	IdentifyLabels:      {},
	TranslateText:       {ConvertTextToSpeech},
	ConvertTextToSpeech: {},
}

// Config is one visited @predictions.
type Config struct {
	Actions []string `mapstructure:"actions"`

	fieldName string
}

// Plugin implements @predictions.
type Plugin struct {
	fields []*Config
}

var (
	_ transformer.Preparer          = (*Plugin)(nil)
	_ transformer.FieldVisitor      = (*Plugin)(nil)
	_ transformer.SchemaTransformer = (*Plugin)(nil)
	_ transformer.ResolverGenerator = (*Plugin)(nil)
)

// New returns the @predictions plugin.
func New() *Plugin { return &Plugin{} }

// Name implements transformer.Plugin.
func (*Plugin) Name() string { return "PredictionsTransformer" }

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
	invalid := func(msg string) error {
		return transformer.NewInvalidDirectiveError("predictions", parent.Name, field.Name, msg)
	}
	if parent.Name != transformer.QueryTypeName {
		return invalid("@predictions directive only works under Query operations.")
	}
	if ctx.SynthParameters().PredictionsBucket == "" {
		return invalid("Please configure storage in your project in order to use @predictions directive")
	}
	c := &Config{fieldName: field.Name}
	if err := ctx.Directive(dir, parent.Name, field.Name).Arguments(c, nil); err != nil {
		return err
	}
	if err := validateSequence(c.Actions); err != nil {
		return invalid(err.Error())
	}
	p.fields = append(p.fields, c)
	return nil
}

func validateSequence(actions []string) error {
	if len(actions) == 0 {
		return fmt.Errorf("@predictions directive requires at least one action")
	}
	for i := 1; i < len(actions); i++ {
		prev, cur := actions[i-1], actions[i]
		if !slices.Contains(next[prev], cur) {
			return fmt.Errorf("%s is not supported after %s in this context!", cur, prev)
		}
	}
	return nil
}

// InputTypeName returns the input carrying the arguments of every action
// of fieldName.
func InputTypeName(fieldName string) string {
	return transformer.UcFirst(fieldName) + "Input"
}

var actionInputs = map[string]ast.FieldList{
	IdentifyText: {
		{Name: "key", Type: ast.NonNullNamedType("String", nil)},
	},
	IdentifyLabels: {
		{Name: "key", Type: ast.NonNullNamedType("String", nil)},
	},
	TranslateText: {
		{Name: "sourceLanguage", Type: ast.NonNullNamedType("String", nil)},
		{Name: "targetLanguage", Type: ast.NonNullNamedType("String", nil)},
		{Name: "text", Type: ast.NamedType("String", nil)},
	},
	ConvertTextToSpeech: {
		{Name: "voiceID", Type: ast.NonNullNamedType("String", nil)},
		{Name: "text", Type: ast.NamedType("String", nil)},
	},
}

// TransformSchema implements transformer.SchemaTransformer. The field
// takes a single input argument with one member per action.
func (p *Plugin) TransformSchema(ctx *transformer.Context) error {
	query := ctx.OutputType(transformer.QueryTypeName)
	for _, c := range p.fields {
		members := ast.FieldList{}
		for _, action := range c.Actions {
			name := transformer.UcFirst(action) + "Input"
			ctx.AddOutputType(&ast.Definition{Kind: ast.InputObject, Name: name, Fields: actionInputs[action]})
			members = append(members, &ast.FieldDefinition{Name: action, Type: ast.NonNullNamedType(name, nil)})
		}
		ctx.AddOutputType(&ast.Definition{Kind: ast.InputObject, Name: InputTypeName(c.fieldName), Fields: members})
		field := query.Fields.ForName(c.fieldName)
		field.Arguments = ast.ArgumentDefinitionList{
			{Name: "input", Type: ast.NonNullNamedType(InputTypeName(c.fieldName), nil)},
		}
	}
	return nil
}

// GenerateResolvers implements transformer.ResolverGenerator.
func (p *Plugin) GenerateResolvers(ctx *transformer.Context) error {
	if len(p.fields) == 0 {
		return nil
	}
	st := ctx.Stacks.CreateStack(StackName)
	bucket := ctx.SynthParameters().PredictionsBucket
	for _, c := range p.fields {
		var r *transformer.Resolver
		for i, action := range c.Actions {
			ds, err := dataSource(ctx, st, action, bucket)
			if err != nil {
				return err
			}
			req := transformer.InlineTemplate(requestTemplate(action, bucket))
			res := transformer.InlineTemplate(responseTemplate(action))
			if i == 0 {
				r = ctx.Resolvers.GenerateQueryResolver(transformer.QueryTypeName, c.fieldName, ds.Name, req, res)
				r.SetScope(ctx.Stacks.GetScopeFor(r.ResourceID, StackName).Name)
				continue
			}
			if err := r.AddToSlot(transformer.SlotPostDataLoad, req, res, ds.Name); err != nil {
				return err
			}
		}
		ctx.Logger.Debug("predictions resolver", "field", r.Key(), "actions", strings.Join(c.Actions, ","))
	}
	return nil
}

func dataSource(ctx *transformer.Context, st *transformer.Stack, action, bucket string) (*transformer.DataSource, error) {
	var ds *transformer.DataSource
	switch action {
	case IdentifyText, IdentifyLabels:
		ds = &transformer.DataSource{
			Name:           RekognitionDataSourceName,
			Kind:           transformer.KindHTTP,
			Endpoint:       transformer.Sub("https://rekognition.${AWS::Region}.amazonaws.com"),
			SigningService: "rekognition",
			Actions:        []string{"rekognition:DetectText", "rekognition:DetectLabels", "s3:GetObject"},
		}
	case TranslateText:
		ds = &transformer.DataSource{
			Name:           TranslateDataSourceName,
			Kind:           transformer.KindHTTP,
			Endpoint:       transformer.Sub("https://translate.${AWS::Region}.amazonaws.com"),
			SigningService: "translate",
			Actions:        []string{"translate:TranslateText", "comprehend:DetectDominantLanguage"},
		}
	default:
		if existing, ok := ctx.DataSources.GetDataSource(LambdaDataSourceName); ok {
			return existing, nil
		}
		if err := addSpeechFunction(st, bucket); err != nil {
			return nil, err
		}
		ds = &transformer.DataSource{
			Name:        LambdaDataSourceName,
			Kind:        transformer.KindLambda,
			FunctionARN: transformer.GetAtt(LambdaFunctionID, "Arn"),
		}
	}
	if existing, ok := ctx.DataSources.GetDataSource(ds.Name); ok {
		return existing, nil
	}
	ds.ServiceRole = ds.Name + "Role"
	ds.Stack = StackName
	return ctx.DataSources.AddDataSource(ds), nil
}

// addSpeechFunction declares the function turning text into a presigned
// audio URL.
func addSpeechFunction(st *transformer.Stack, bucket string) error {
	if err := st.AddResource(LambdaRoleID, &transformer.Resource{
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
				"PolicyName": "PredictionsSpeechAccess",
				"PolicyDocument": map[string]any{
					"Version": "2012-10-17",
					"Statement": []any{map[string]any{
						"Effect":   "Allow",
						"Action":   []string{"polly:SynthesizeSpeech"},
						"Resource": "*",
					}},
				},
			}},
		},
	}); err != nil {
		return err
	}
	return st.AddResource(LambdaFunctionID, &transformer.Resource{
		Type: "AWS::Lambda::Function",
		Properties: map[string]any{
			"Handler": "index.handler",
			"Runtime": "nodejs18.x",
			"Timeout": 60,
			"Role":    transformer.GetAtt(LambdaRoleID, "Arn"),
			"Environment": map[string]any{"Variables": map[string]any{
				"bucketName": bucket,
			}},
		},
		DependsOn: []string{LambdaRoleID},
	})
}

// textInput reads the text of action from the arguments, falling back to
// the result of the previous action.
func textInput(action string) vtl.Expression {
	return vtl.MethodCall("util.defaultIfNull", vtl.Ref("ctx.args.input."+action+".text"), vtl.Ref("ctx.prev.result"))
}

func awsRequest(target string, body vtl.ObjectNode) vtl.ObjectNode {
	return vtl.Obj(
		vtl.KV("version", vtl.Str(vtl.ResolverVersionID)),
		vtl.KV("method", vtl.Str("POST")),
		vtl.KV("resourcePath", vtl.Str("/")),
		vtl.KV("params", vtl.Obj(
			vtl.KV("body", body),
			vtl.KV("headers", vtl.Obj(
				vtl.KV("Content-Type", vtl.Str("application/x-amz-json-1.1")),
				vtl.KV("X-Amz-Target", vtl.Str(target)),
			)),
		)),
	)
}

func s3Image(bucket, action string) vtl.ObjectNode {
	return vtl.Obj(vtl.KV("S3Object", vtl.Obj(
		vtl.KV("Bucket", vtl.Str(bucket)),
		vtl.KV("Name", vtl.Str("public/$ctx.args.input."+action+".key")),
	)))
}

func requestTemplate(action, bucket string) string {
	var body vtl.Expression
	switch action {
	case IdentifyText:
		body = awsRequest("RekognitionService.DetectText", vtl.Obj(vtl.KV("Image", s3Image(bucket, action))))
	case IdentifyLabels:
		body = awsRequest("RekognitionService.DetectLabels", vtl.Obj(
			vtl.KV("Image", s3Image(bucket, action)),
			vtl.KV("MaxLabels", vtl.Int(10)),
			vtl.KV("MinConfidence", vtl.Int(55)),
		))
	case TranslateText:
		body = vtl.Compound(
			vtl.Set(vtl.Ref("text"), textInput(action)),
			awsRequest("AWSShineFrontendService_20170701.TranslateText", vtl.Obj(
				vtl.KV("SourceLanguageCode", vtl.Str("$ctx.args.input.translateText.sourceLanguage")),
				vtl.KV("TargetLanguageCode", vtl.Str("$ctx.args.input.translateText.targetLanguage")),
				vtl.KV("Text", vtl.ToJSON(vtl.Ref("text"))),
			)),
		)
	default:
		body = vtl.Compound(
			vtl.Set(vtl.Ref("text"), textInput(action)),
			vtl.Obj(
				vtl.KV("version", vtl.Str(vtl.ResolverVersionID)),
				vtl.KV("operation", vtl.Str("Invoke")),
				vtl.KV("payload", vtl.Obj(
					vtl.KV("uuid", vtl.Str("$util.autoId()")),
					vtl.KV("action", vtl.Str(ConvertTextToSpeech)),
					vtl.KV("voiceID", vtl.Str("$ctx.args.input.convertTextToSpeech.voiceID")),
					vtl.KV("text", vtl.ToJSON(vtl.Ref("text"))),
				)),
			),
		)
	}
	return vtl.PrintBlock("Invoke "+action)(body)
}

func responseTemplate(action string) string {
	raise := vtl.IfInline(vtl.Ref("ctx.error"), vtl.MethodCall("util.error", vtl.Ref("ctx.error.message"), vtl.Ref("ctx.error.type")))
	var result []vtl.Expression
	switch action {
	case IdentifyText:
		result = []vtl.Expression{
			vtl.Set(vtl.Ref("body"), vtl.MethodCall("util.parseJson", vtl.Ref("ctx.result.body"))),
			vtl.Set(vtl.Ref("text"), vtl.Str("")),
			vtl.ForEach(vtl.Ref("detection"), vtl.Ref("body.TextDetections"),
				vtl.IfInline(vtl.Equals(vtl.Ref("detection.Type"), vtl.Str("LINE")),
					vtl.Set(vtl.Ref("text"), vtl.Str("$text $detection.DetectedText"))),
			),
			vtl.ToJSON(vtl.MethodCall("text.trim")),
		}
	case IdentifyLabels:
		result = []vtl.Expression{
			vtl.Set(vtl.Ref("body"), vtl.MethodCall("util.parseJson", vtl.Ref("ctx.result.body"))),
			vtl.Set(vtl.Ref("labels"), vtl.List()),
			vtl.ForEach(vtl.Ref("label"), vtl.Ref("body.Labels"),
				vtl.QuietRefExpr(vtl.MethodCall("labels.add", vtl.Ref("label.Name"))),
			),
			vtl.ToJSON(vtl.Ref("labels")),
		}
	case TranslateText:
		result = []vtl.Expression{
			vtl.Set(vtl.Ref("body"), vtl.MethodCall("util.parseJson", vtl.Ref("ctx.result.body"))),
			vtl.ToJSON(vtl.Ref("body.TranslatedText")),
		}
	default:
		result = []vtl.Expression{vtl.ToJSON(vtl.Ref("ctx.result.url"))}
	}
	return vtl.PrintBlock("Handle "+action+" result")(vtl.Compound(append([]vtl.Expression{raise}, result...)...))
}
