// Package auth implements the @auth directive. Rules on a model or a field
// become authorization roles; every resolver reading or writing a model is
// then decorated with an auth step that checks the caller against them.
package auth

import (
	"fmt"
	"slices"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"

	"github.com/ShadowCat567/amplify-category-api/transformer"
)

const directiveSDL = `
directive @auth(rules: [AuthRule!]!) on OBJECT | FIELD_DEFINITION

input AuthRule {
  allow: AuthStrategy!
  provider: AuthProvider
  identityClaim: String
  groupClaim: String
  ownerField: String
  groupsField: String
  groups: [String]
  operations: [ModelOperation]
}

enum AuthStrategy {
  owner
  groups
  private
  public
  custom
}

enum AuthProvider {
  apiKey
  iam
  oidc
  userPools
  function
}

enum ModelOperation {
  create
  update
  delete
  read
  get
  list
  sync
  listen
  search
}
`

// Rule is one decoded entry of @auth(rules:).
type Rule struct {
	Allow         transformer.AuthStrategy `mapstructure:"allow"`
	Provider      transformer.AuthProvider `mapstructure:"provider"`
	IdentityClaim string                   `mapstructure:"identityClaim"`
	GroupClaim    string                   `mapstructure:"groupClaim"`
	OwnerField    string                   `mapstructure:"ownerField"`
	GroupsField   string                   `mapstructure:"groupsField"`
	Groups        []string                 `mapstructure:"groups"`
	Operations    []string                 `mapstructure:"operations"`
}

// Model operations a rule may grant.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
	OpRead   = "read"
	OpGet    = "get"
	OpList   = "list"
	OpSync   = "sync"
	OpListen = "listen"
	OpSearch = "search"
)

var (
	defaultOperations = []string{OpCreate, OpUpdate, OpDelete, OpRead}
	readOperations    = []string{OpGet, OpList, OpSync, OpListen, OpSearch}
)

const (
	defaultOwnerField  = "owner"
	defaultGroupsField = "groups"
	defaultGroupClaim  = "cognito:groups"
	usernameClaim      = "username"
	subUsernameClaim   = "sub::username"
)

// expandOperations replaces read by the operations it stands for.
func expandOperations(ops []string) []string {
	var out []string
	for _, op := range ops {
		if op == OpRead {
			for _, r := range readOperations {
				if !slices.Contains(out, r) {
					out = append(out, r)
				}
			}
			continue
		}
		if !slices.Contains(out, op) {
			out = append(out, op)
		}
	}
	return out
}

var defaultProviders = map[transformer.AuthStrategy]transformer.AuthProvider{
	transformer.StrategyPublic:  transformer.ProviderAPIKey,
	transformer.StrategyPrivate: transformer.ProviderUserPools,
	transformer.StrategyOwner:   transformer.ProviderUserPools,
	transformer.StrategyGroups:  transformer.ProviderUserPools,
	transformer.StrategyCustom:  transformer.ProviderFunction,
}

var allowedProviders = map[transformer.AuthStrategy][]transformer.AuthProvider{
	transformer.StrategyPublic:  {transformer.ProviderAPIKey, transformer.ProviderIAM},
	transformer.StrategyPrivate: {transformer.ProviderUserPools, transformer.ProviderOIDC, transformer.ProviderIAM},
	transformer.StrategyOwner:   {transformer.ProviderUserPools, transformer.ProviderOIDC},
	transformer.StrategyGroups:  {transformer.ProviderUserPools, transformer.ProviderOIDC},
	transformer.StrategyCustom:  {transformer.ProviderFunction},
}

// providerAuthTypes maps a rule provider to the API authentication type
// that must be enabled for it.
var providerAuthTypes = map[transformer.AuthProvider]string{
	transformer.ProviderAPIKey:    transformer.AuthTypeAPIKey,
	transformer.ProviderIAM:       transformer.AuthTypeIAM,
	transformer.ProviderUserPools: transformer.AuthTypeUserPools,
	transformer.ProviderOIDC:      transformer.AuthTypeOIDC,
	transformer.ProviderFunction:  transformer.AuthTypeLambda,
}

var providerNames = map[string]string{
	transformer.AuthTypeAPIKey:    "API Key",
	transformer.AuthTypeIAM:       "IAM",
	transformer.AuthTypeUserPools: "Cognito User Pools",
	transformer.AuthTypeOIDC:      "OpenID Connect",
	transformer.AuthTypeLambda:    "Lambda",
}

// defaultRule is applied to models without @auth: the default
// authentication mode of the API may perform every operation.
func defaultRule(mode string) Rule {
	r := Rule{Allow: transformer.StrategyPublic, Provider: transformer.ProviderAPIKey}
	switch mode {
	case transformer.AuthTypeIAM:
		r = Rule{Allow: transformer.StrategyPrivate, Provider: transformer.ProviderIAM}
	case transformer.AuthTypeUserPools:
		r = Rule{Allow: transformer.StrategyPrivate, Provider: transformer.ProviderUserPools}
	case transformer.AuthTypeOIDC:
		r = Rule{Allow: transformer.StrategyPrivate, Provider: transformer.ProviderOIDC}
	case transformer.AuthTypeLambda:
		r = Rule{Allow: transformer.StrategyCustom, Provider: transformer.ProviderFunction}
	}
	r.Operations = slices.Clone(defaultOperations)
	return r
}

// normalize fills the defaults of r and validates it against the enabled
// authentication modes.
func normalize(ctx *transformer.Context, r *Rule) error {
	if r.Provider == "" {
		r.Provider = defaultProviders[r.Allow]
	}
	if !slices.Contains(allowedProviders[r.Allow], r.Provider) {
		names := make([]string, 0, len(allowedProviders[r.Allow]))
		for _, p := range allowedProviders[r.Allow] {
			names = append(names, "'"+string(p)+"'")
		}
		return fmt.Errorf("@auth directive with '%s' strategy only supports %s providers, but found '%s' assigned.",
			r.Allow, joinOr(names), r.Provider)
	}
	authType := providerAuthTypes[r.Provider]
	if !ctx.Config.AuthConfig.Has(authType) {
		return fmt.Errorf("@auth directive with '%s' provider found, but the project has no %s authentication provider configured.",
			r.Provider, providerNames[authType])
	}
	if len(r.Operations) == 0 {
		r.Operations = slices.Clone(defaultOperations)
	}
	switch r.Allow {
	case transformer.StrategyOwner:
		if r.OwnerField == "" {
			r.OwnerField = defaultOwnerField
		}
		if r.IdentityClaim == "" {
			r.IdentityClaim = usernameClaim
			if ctx.TransformParameters().UseSubUsernameForDefaultIdentityClaim {
				r.IdentityClaim = subUsernameClaim
			}
		}
	case transformer.StrategyGroups:
		if r.GroupClaim == "" {
			r.GroupClaim = defaultGroupClaim
		}
		if len(r.Groups) == 0 && r.GroupsField == "" {
			r.GroupsField = defaultGroupsField
		}
		if len(r.Groups) > 0 && r.GroupsField != "" {
			return fmt.Errorf("@auth rules with 'groups' strategy may list groups or name a groupsField, not both.")
		}
	}
	return nil
}

func joinOr(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	}
	out := items[0]
	for _, s := range items[1 : len(items)-1] {
		out += ", " + s
	}
	return out + " and " + items[len(items)-1]
}

// isDynamic reports whether r is checked against the stored item.
func (r Rule) isDynamic() bool {
	return r.Allow == transformer.StrategyOwner || r.Allow == transformer.StrategyGroups && r.GroupsField != ""
}

// roles returns the role definitions of r. A static group rule yields one
// role per group.
func (r Rule) roles(allowedFields []string) []transformer.RoleDefinition {
	ops := expandOperations(r.Operations)
	base := transformer.RoleDefinition{
		Provider:      r.Provider,
		Strategy:      r.Allow,
		AllowedFields: allowedFields,
		Operations:    ops,
	}
	switch r.Allow {
	case transformer.StrategyOwner:
		base.Claim = r.IdentityClaim
		base.Entity = r.OwnerField
		base.Name = fmt.Sprintf("%s:owner:%s:%s", r.Provider, r.OwnerField, r.IdentityClaim)
	case transformer.StrategyGroups:
		base.Claim = r.GroupClaim
		if r.GroupsField != "" {
			base.Entity = r.GroupsField
			base.Name = fmt.Sprintf("%s:groups:%s:%s", r.Provider, r.GroupsField, r.GroupClaim)
			break
		}
		out := make([]transformer.RoleDefinition, 0, len(r.Groups))
		for _, g := range r.Groups {
			role := base
			role.Static = true
			role.Entity = g
			role.Name = fmt.Sprintf("%s:staticGroup:%s", r.Provider, g)
			out = append(out, role)
		}
		return out
	default:
		base.Static = true
		base.Name = fmt.Sprintf("%s:%s", r.Allow, r.Provider)
	}
	return []transformer.RoleDefinition{base}
}

type fieldRules struct {
	field string
	rules []Rule
}

// Plugin implements @auth. A Plugin may be reused across runs; its state is
// reset by Prepare.
type Plugin struct {
	models     map[string][]Rule
	fields     map[string][]fieldRules
	operations map[string][]Rule
	opOrder    []string
	decorated  map[string]bool
}

var (
	_ transformer.Preparer          = (*Plugin)(nil)
	_ transformer.ObjectVisitor     = (*Plugin)(nil)
	_ transformer.FieldVisitor      = (*Plugin)(nil)
	_ transformer.SchemaTransformer = (*Plugin)(nil)
	_ transformer.ResolverGenerator = (*Plugin)(nil)
	_ transformer.Finalizer         = (*Plugin)(nil)
)

// New returns the @auth plugin.
func New() *Plugin { return &Plugin{} }

// Name implements transformer.Plugin.
func (*Plugin) Name() string { return "AuthTransformer" }

// Directive implements transformer.Plugin.
func (*Plugin) Directive() string { return directiveSDL }

// Phase implements transformer.Plugin.
func (*Plugin) Phase() transformer.Phase { return transformer.PhaseAuth }

// Prepare implements transformer.Preparer.
func (p *Plugin) Prepare(*transformer.Context) error {
	p.models = make(map[string][]Rule)
	p.fields = make(map[string][]fieldRules)
	p.operations = make(map[string][]Rule)
	p.opOrder = nil
	p.decorated = make(map[string]bool)
	return nil
}

func (p *Plugin) readRules(ctx *transformer.Context, dir *ast.Directive, typeName, fieldName string) ([]Rule, error) {
	var args struct {
		Rules []Rule `mapstructure:"rules"`
	}
	if err := ctx.Directive(dir, typeName, fieldName).Arguments(&args, nil); err != nil {
		return nil, err
	}
	for i := range args.Rules {
		if err := normalize(ctx, &args.Rules[i]); err != nil {
			return nil, transformer.NewInvalidDirectiveError("auth", typeName, fieldName, err.Error())
		}
	}
	return args.Rules, nil
}

// Object implements transformer.ObjectVisitor.
func (p *Plugin) Object(ctx *transformer.Context, def *ast.Definition, dir *ast.Directive) error {
	if def.Directives.ForName("model") == nil {
		return transformer.NewInvalidDirectiveError("auth", def.Name, "", "Types annotated with @auth must also be annotated with @model.")
	}
	rules, err := p.readRules(ctx, dir, def.Name, "")
	if err != nil {
		return err
	}
	for _, r := range rules {
		if err := checkEntityField(ctx, def, r); err != nil {
			return err
		}
	}
	p.models[def.Name] = append(p.models[def.Name], rules...)
	return nil
}

// checkEntityField verifies that an owner or groups field declared on the
// type can hold identities.
func checkEntityField(ctx *transformer.Context, def *ast.Definition, r Rule) error {
	var name string
	switch {
	case r.Allow == transformer.StrategyOwner:
		name = r.OwnerField
	case r.Allow == transformer.StrategyGroups && r.GroupsField != "":
		name = r.GroupsField
	default:
		return nil
	}
	f := def.Fields.ForName(name)
	if f == nil {
		return nil
	}
	base := f.Type
	if base.Elem != nil {
		base = base.Elem
	}
	if base.NamedType != "String" && base.NamedType != "ID" {
		return transformer.NewInvalidDirectiveError("auth", def.Name, name,
			fmt.Sprintf("The '%s' field must be of type String, ID, [String] or [ID].", name))
	}
	return nil
}

func isRootType(name string) bool {
	return name == transformer.QueryTypeName || name == transformer.MutationTypeName || name == transformer.SubscriptionTypeName
}

// Field implements transformer.FieldVisitor.
func (p *Plugin) Field(ctx *transformer.Context, parent *ast.Definition, field *ast.FieldDefinition, dir *ast.Directive) error {
	rules, err := p.readRules(ctx, dir, parent.Name, field.Name)
	if err != nil {
		return err
	}
	if isRootType(parent.Name) {
		for _, r := range rules {
			if r.isDynamic() {
				return transformer.NewInvalidDirectiveError("auth", parent.Name, field.Name,
					"Dynamic auth (owner and groupsField rules) is not supported on operation fields.")
			}
		}
		key := parent.Name + "." + field.Name
		if _, ok := p.operations[key]; !ok {
			p.opOrder = append(p.opOrder, key)
		}
		p.operations[key] = append(p.operations[key], rules...)
		return nil
	}
	if parent.Directives.ForName("model") == nil {
		return transformer.NewInvalidDirectiveError("auth", parent.Name, field.Name,
			"Field level @auth is only supported on @model types and operation fields.")
	}
	for _, r := range rules {
		if err := checkEntityField(ctx, parent, r); err != nil {
			return err
		}
	}
	p.fields[parent.Name] = append(p.fields[parent.Name], fieldRules{field: field.Name, rules: rules})
	return nil
}

// rulesFor returns the model rules of typeName, or the default rule.
func (p *Plugin) rulesFor(ctx *transformer.Context, typeName string) []Rule {
	if rules, ok := p.models[typeName]; ok {
		return rules
	}
	return []Rule{defaultRule(ctx.Config.AuthConfig.DefaultAuthentication.AuthenticationType)}
}

// TransformSchema implements transformer.SchemaTransformer. It records the
// roles of every model and adds the owner and group fields rules refer to.
func (p *Plugin) TransformSchema(ctx *transformer.Context) error {
	for _, def := range ctx.Models() {
		rules := p.rulesFor(ctx, def.Name)
		for _, r := range rules {
			for _, role := range r.roles(nil) {
				ctx.AuthRoles.Add(def.Name, role)
			}
		}
		for _, fr := range p.fields[def.Name] {
			for _, r := range fr.rules {
				for _, role := range r.roles([]string{fr.field}) {
					ctx.AuthRoles.Add(fieldKey(def.Name, fr.field), role)
				}
			}
		}
		out := ctx.OutputType(def.Name)
		if out == nil {
			return transformer.NewResourceConsistencyError("type", def.Name, "not found in output schema")
		}
		all := slices.Clone(rules)
		for _, fr := range p.fields[def.Name] {
			all = append(all, fr.rules...)
		}
		for _, r := range all {
			switch {
			case r.Allow == transformer.StrategyOwner && out.Fields.ForName(r.OwnerField) == nil:
				out.Fields = append(out.Fields, &ast.FieldDefinition{Name: r.OwnerField, Type: ast.NamedType("String", nil)})
			case r.Allow == transformer.StrategyGroups && r.GroupsField != "" && out.Fields.ForName(r.GroupsField) == nil:
				out.Fields = append(out.Fields, &ast.FieldDefinition{Name: r.GroupsField, Type: ast.ListType(ast.NamedType("String", nil), nil)})
			}
		}
		p.addProviderDirectives(ctx, def.Name, all)
	}
	return nil
}

func fieldKey(typeName, field string) string { return typeName + "." + field }

var providerDirectives = map[transformer.AuthProvider]string{
	transformer.ProviderAPIKey:    "aws_api_key",
	transformer.ProviderIAM:       "aws_iam",
	transformer.ProviderUserPools: "aws_cognito_user_pools",
	transformer.ProviderOIDC:      "aws_oidc",
	transformer.ProviderFunction:  "aws_lambda",
}

// addProviderDirectives marks the model type and its operations with the
// service directives of every provider its rules use. They are only
// needed when the API has more than one authentication mode.
func (p *Plugin) addProviderDirectives(ctx *transformer.Context, typeName string, rules []Rule) {
	if len(ctx.Config.AuthConfig.AdditionalAuthenticationProviders) == 0 {
		return
	}
	var providers []transformer.AuthProvider
	for _, r := range rules {
		if !slices.Contains(providers, r.Provider) {
			providers = append(providers, r.Provider)
		}
	}
	mark := func(dirs ast.DirectiveList) ast.DirectiveList {
		for _, pr := range providers {
			name := providerDirectives[pr]
			if dirs.ForName(name) == nil {
				dirs = append(dirs, &ast.Directive{Name: name})
			}
		}
		return dirs
	}
	out := ctx.OutputType(typeName)
	out.Directives = mark(out.Directives)
	connection := transformer.ModelConnectionTypeName(typeName)
	if c := ctx.OutputType(connection); c != nil {
		c.Directives = mark(c.Directives)
	}
	for _, root := range []string{transformer.QueryTypeName, transformer.MutationTypeName, transformer.SubscriptionTypeName} {
		def := ctx.OutputType(root)
		if def == nil {
			continue
		}
		for _, f := range def.Fields {
			if n := f.Type.Name(); n == typeName || n == connection {
				f.Directives = mark(f.Directives)
			}
		}
	}
}

// GenerateResolvers implements transformer.ResolverGenerator.
func (p *Plugin) GenerateResolvers(ctx *transformer.Context) error {
	return p.decorateAll(ctx)
}

// After implements transformer.Finalizer. Resolvers added by later phases,
// such as index queries and relation fields, are decorated here. Field
// rules are applied last so that they wrap relation resolvers too.
func (p *Plugin) After(ctx *transformer.Context) error {
	if err := p.decorateAll(ctx); err != nil {
		return err
	}
	for _, def := range ctx.Models() {
		for _, fr := range p.fields[def.Name] {
			if err := p.fieldResolver(ctx, def.Name, fr.field); err != nil {
				return err
			}
		}
	}
	for _, key := range p.opOrder {
		typeName, field, _ := strings.Cut(key, ".")
		r, ok := ctx.Resolvers.Get(typeName, field)
		if !ok {
			ctx.Logger.Debug("no resolver for operation with @auth", "field", key)
			continue
		}
		roles := make([]transformer.RoleDefinition, 0)
		for _, rule := range p.operations[key] {
			roles = append(roles, rule.roles(nil)...)
		}
		if err := r.AddToSlot(transformer.SlotAuth, transformer.InlineTemplate(operationAuth(roles)), nil); err != nil {
			return err
		}
		p.decorated[r.Key()] = true
	}
	return nil
}

func (p *Plugin) decorateAll(ctx *transformer.Context) error {
	for _, r := range ctx.Resolvers.All() {
		if r.Model == "" || p.decorated[r.Key()] {
			continue
		}
		if err := p.decorate(ctx, r); err != nil {
			return err
		}
		p.decorated[r.Key()] = true
	}
	return nil
}

// roleOperation maps a resolver operation to the rule operation it needs.
func roleOperation(op transformer.Operation) string {
	switch op {
	case transformer.OperationGet:
		return OpGet
	case transformer.OperationList, transformer.OperationQuery:
		return OpList
	case transformer.OperationSync:
		return OpSync
	case transformer.OperationSubscription:
		return OpListen
	case transformer.OperationCreate:
		return OpCreate
	case transformer.OperationUpdate:
		return OpUpdate
	case transformer.OperationDelete:
		return OpDelete
	default:
		return OpGet
	}
}

func (p *Plugin) decorate(ctx *transformer.Context, r *transformer.Resolver) error {
	if r.Operation == transformer.OperationField {
		return nil
	}
	var roles []transformer.RoleDefinition
	for _, role := range ctx.AuthRoles.ForOperation(r.Model, roleOperation(r.Operation)) {
		roles = append(roles, *role)
	}
	if ctx.IsRelational(r.Model) {
		return p.decorateRelational(ctx, r, roles)
	}
	return p.decorateDynamoDB(ctx, r, roles)
}

func (p *Plugin) decorateDynamoDB(ctx *transformer.Context, r *transformer.Resolver, roles []transformer.RoleDefinition) error {
	g := &generator{ctx: ctx, model: r.Model}
	var content string
	switch r.Operation {
	case transformer.OperationCreate:
		content = g.createAuth(roles, p.protectedFields(r.Model, OpCreate))
	case transformer.OperationUpdate:
		content = g.mutationAuth(roles, p.protectedFields(r.Model, OpUpdate))
	case transformer.OperationDelete:
		content = g.mutationAuth(roles, nil)
	case transformer.OperationList, transformer.OperationSync, transformer.OperationQuery:
		content = g.listAuth(roles)
	case transformer.OperationSubscription:
		content = g.subscriptionAuth(roles)
	default:
		content = g.getAuth(roles)
		if hasDynamic(roles) {
			if err := r.AddToSlot(transformer.SlotPostDataLoad, transformer.InlineTemplate(g.getPostDataLoad(roles)),
				transformer.InlineTemplate(transformer.ResolverAfterTemplate)); err != nil {
				return err
			}
		}
	}
	return r.AddToSlot(transformer.SlotAuth, transformer.InlineTemplate(content), nil)
}

// protectedFields returns the fields of typeName guarded by field rules,
// with the roles allowed to write them for op.
func (p *Plugin) protectedFields(typeName, op string) []fieldRoles {
	var out []fieldRoles
	for _, fr := range p.fields[typeName] {
		var roles []transformer.RoleDefinition
		for _, r := range fr.rules {
			for _, role := range r.roles([]string{fr.field}) {
				if slices.Contains(role.Operations, op) {
					roles = append(roles, role)
				}
			}
		}
		out = append(out, fieldRoles{field: fr.field, roles: roles})
	}
	return out
}

type fieldRoles struct {
	field string
	roles []transformer.RoleDefinition
}

// fieldResolver guards reads of a protected field.
func (p *Plugin) fieldResolver(ctx *transformer.Context, typeName, field string) error {
	var roles []transformer.RoleDefinition
	for _, role := range ctx.AuthRoles.ForOperation(fieldKey(typeName, field), OpGet) {
		roles = append(roles, *role)
	}
	g := &generator{ctx: ctx, model: typeName}
	r, ok := ctx.Resolvers.Get(typeName, field)
	if !ok {
		r = ctx.Resolvers.GenerateQueryResolver(typeName, field, transformer.NoneDataSourceName,
			transformer.InlineTemplate(`{"version": "2018-05-29", "payload": {}}`),
			transformer.InlineTemplate(fmt.Sprintf("$util.toJson($ctx.source.%s)", field)))
		r.Model = typeName
		r.Operation = transformer.OperationField
		r.SetScope(typeName)
	}
	return r.AddToSlot(transformer.SlotAuth, transformer.InlineTemplate(g.fieldAuth(roles)), nil)
}
