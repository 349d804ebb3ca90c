package auth

import (
	"fmt"
	"strings"

	"github.com/ShadowCat567/amplify-category-api/transformer"
	"github.com/ShadowCat567/amplify-category-api/vtl"
)

// noneValue stands for a missing identity claim. It never matches a
// stored owner.
const noneValue = "___xamznone____"

var (
	authorized   = vtl.Ref("isAuthorized")
	authorize    = vtl.Set(authorized, vtl.Bool(true))
	unauthorized = vtl.IfInline(vtl.Not(authorized), vtl.MethodCall("util.unauthorized"))
)

type generator struct {
	ctx   *transformer.Context
	model string
}

func hasDynamic(roles []transformer.RoleDefinition) bool {
	for _, r := range roles {
		if !r.Static {
			return true
		}
	}
	return false
}

// byProvider groups roles by provider in first seen order.
func byProvider(roles []transformer.RoleDefinition) [][]transformer.RoleDefinition {
	var (
		out   [][]transformer.RoleDefinition
		index = make(map[transformer.AuthProvider]int)
	)
	for _, r := range roles {
		i, ok := index[r.Provider]
		if !ok {
			i = len(out)
			index[r.Provider] = i
			out = append(out, nil)
		}
		out[i] = append(out[i], r)
	}
	return out
}

func whenProvider(p transformer.AuthProvider, exprs []vtl.Expression) vtl.Expression {
	if len(exprs) == 0 {
		return nil
	}
	return vtl.If(vtl.Equals(vtl.MethodCall("util.authType"), vtl.Str(p.ServiceAuthType())), vtl.Compound(exprs...))
}

func preamble() []vtl.Expression {
	return []vtl.Expression{
		vtl.QuietRef(`$ctx.stash.put("hasAuth", true)`),
		vtl.Set(authorized, vtl.Bool(false)),
	}
}

func claimRef(claim string) vtl.Expression {
	get := func(c string) vtl.Expression { return vtl.MethodCall("ctx.identity.claims.get", vtl.Str(c)) }
	if claim == usernameClaim {
		return vtl.MethodCall("util.defaultIfNull", get(usernameClaim),
			vtl.MethodCall("util.defaultIfNull", get("cognito:username"), vtl.Str(noneValue)))
	}
	return vtl.MethodCall("util.defaultIfNull", get(claim), vtl.Str(noneValue))
}

// claimValue sets name to the identity claim. Compound claims such as
// sub::username are joined with "::".
func claimValue(name, claim string) []vtl.Expression {
	parts := strings.Split(claim, "::")
	if len(parts) == 1 {
		return []vtl.Expression{vtl.Set(vtl.Ref(name), claimRef(claim))}
	}
	var (
		exprs []vtl.Expression
		refs  []string
	)
	for i, part := range parts {
		ref := fmt.Sprintf("%sPart%d", name, i)
		exprs = append(exprs, vtl.Set(vtl.Ref(ref), claimRef(part)))
		refs = append(refs, "${"+ref+"}")
	}
	return append(exprs, vtl.Set(vtl.Ref(name), vtl.Str(strings.Join(refs, "::"))))
}

// staticCheck authorizes the caller when it holds role regardless of the
// item.
func staticCheck(role transformer.RoleDefinition) vtl.Expression {
	switch role.Strategy {
	case transformer.StrategyPublic, transformer.StrategyPrivate:
		if role.Provider == transformer.ProviderIAM {
			kind := "authenticated"
			if role.Strategy == transformer.StrategyPublic {
				kind = "unauthenticated"
			}
			return vtl.IfInline(vtl.Equals(vtl.Ref("ctx.identity.cognitoIdentityAuthType"), vtl.Str(kind)), authorize)
		}
		return authorize
	case transformer.StrategyGroups:
		return vtl.Compound(
			vtl.Set(vtl.Ref("groupsInToken"), vtl.MethodCall("util.defaultIfNull",
				vtl.MethodCall("ctx.identity.claims.get", vtl.Str(role.Claim)), vtl.List())),
			vtl.IfInline(vtl.MethodCall("groupsInToken.contains", vtl.Str(role.Entity)), authorize),
		)
	default:
		return authorize
	}
}

func (g *generator) isListField(field string) bool {
	def := g.ctx.OutputType(g.model)
	if def == nil {
		return false
	}
	f := def.Fields.ForName(field)
	return f != nil && f.Type.Elem != nil
}

// identity sets the claim variable of the i-th dynamic role and returns its
// name. Group claims are normalized to a list.
func identity(role transformer.RoleDefinition, i int) (string, []vtl.Expression) {
	if role.Strategy == transformer.StrategyOwner {
		name := fmt.Sprintf("ownerClaim%d", i)
		return name, claimValue(name, role.Claim)
	}
	name := fmt.Sprintf("groupClaim%d", i)
	return name, []vtl.Expression{
		vtl.Set(vtl.Ref(name), vtl.MethodCall("util.defaultIfNull",
			vtl.MethodCall("ctx.identity.claims.get", vtl.Str(role.Claim)), vtl.List())),
		vtl.IfInline(vtl.MethodCall("util.isString", vtl.Ref(name)),
			vtl.Set(vtl.Ref(name), vtl.List(vtl.Ref(name)))),
	}
}

// filterAdds appends to list the filter conditions matching items the
// caller owns through role.
func (g *generator) filterAdds(list string, role transformer.RoleDefinition, i int) []vtl.Expression {
	op := "eq"
	if g.isListField(role.Entity) {
		op = "contains"
	}
	name, exprs := identity(role, i)
	add := func(value string) vtl.Expression {
		return vtl.QuietRef(fmt.Sprintf(`$%s.add({"%s": {"%s": $%s}})`, list, role.Entity, op, value))
	}
	if role.Strategy == transformer.StrategyOwner {
		return append(exprs, add(name))
	}
	return append(exprs, vtl.ForEach(vtl.Ref("userGroup"), vtl.Ref(name), add("userGroup")))
}

// itemCheck authorizes the caller when the item at source names it.
func (g *generator) itemCheck(source string, role transformer.RoleDefinition, i int) []vtl.Expression {
	name, exprs := identity(role, i)
	value := fmt.Sprintf("%s.%s", source, role.Entity)
	match := func(ref string) vtl.Expression {
		if g.isListField(role.Entity) {
			return vtl.MethodCall(fmt.Sprintf("util.defaultIfNull($%s, []).contains", value), vtl.Ref(ref))
		}
		return vtl.Equals(vtl.Ref(value), vtl.Ref(ref))
	}
	if role.Strategy == transformer.StrategyOwner {
		return append(exprs, vtl.IfInline(match(name), authorize))
	}
	return append(exprs, vtl.ForEach(vtl.Ref("userGroup"), vtl.Ref(name), vtl.IfInline(match("userGroup"), authorize)))
}

// providerBlocks renders one block per provider. Static roles are checked
// first; dynamic roles are rendered by dynamic.
func providerBlocks(roles []transformer.RoleDefinition, dynamic func(transformer.RoleDefinition, int) []vtl.Expression) []vtl.Expression {
	var (
		out []vtl.Expression
		n   int
	)
	for _, group := range byProvider(roles) {
		var body []vtl.Expression
		for _, role := range group {
			if role.Static {
				body = append(body, vtl.If(vtl.Not(authorized), staticCheck(role)))
			}
		}
		for _, role := range group {
			if !role.Static && dynamic != nil {
				body = append(body, dynamic(role, n)...)
				n++
			}
		}
		if b := whenProvider(group[0].Provider, body); b != nil {
			out = append(out, b)
		}
	}
	return out
}

func render(exprs []vtl.Expression) string {
	exprs = append(exprs, vtl.ToJSON(vtl.Obj()))
	return vtl.PrintBlock("Authorization Steps")(vtl.Compound(exprs...))
}

// listAuth restricts list and sync queries. Dynamic roles become a filter
// the data function applies to the scan or query.
func (g *generator) listAuth(roles []transformer.RoleDefinition) string {
	exprs := append(preamble(), vtl.Set(vtl.Ref("authFilter"), vtl.List()))
	exprs = append(exprs, providerBlocks(roles, func(role transformer.RoleDefinition, i int) []vtl.Expression {
		return g.filterAdds("authFilter", role, i)
	})...)
	exprs = append(exprs,
		vtl.If(vtl.And(vtl.Not(authorized), vtl.Raw("$authFilter.size() > 0")), vtl.Compound(
			vtl.QuietRef(`$ctx.stash.put("authFilter", {"or": $authFilter})`),
			authorize,
		)),
		unauthorized,
	)
	return render(exprs)
}

// subscriptionAuth restricts subscriptions with an enhanced subscription
// filter for dynamic roles.
func (g *generator) subscriptionAuth(roles []transformer.RoleDefinition) string {
	exprs := append(preamble(), vtl.Set(vtl.Ref("authFilter"), vtl.List()))
	exprs = append(exprs, providerBlocks(roles, func(role transformer.RoleDefinition, i int) []vtl.Expression {
		return g.filterAdds("authFilter", role, i)
	})...)
	exprs = append(exprs,
		vtl.If(vtl.And(vtl.Not(authorized), vtl.Raw("$authFilter.size() > 0")), vtl.Compound(
			vtl.QuietRef(`$extensions.setSubscriptionFilter($util.transform.toSubscriptionFilter({"or": $authFilter}))`),
			authorize,
		)),
		unauthorized,
	)
	return render(exprs)
}

// getAuth checks static roles. Dynamic roles are checked against the
// loaded item by getPostDataLoad.
func (g *generator) getAuth(roles []transformer.RoleDefinition) string {
	exprs := append(preamble(), providerBlocks(roles, nil)...)
	if hasDynamic(roles) {
		exprs = append(exprs, vtl.QuietRef(`$ctx.stash.put("isAuthorized", $isAuthorized)`))
	} else {
		exprs = append(exprs, unauthorized)
	}
	return render(exprs)
}

func (g *generator) getPostDataLoad(roles []transformer.RoleDefinition) string {
	found := vtl.And(vtl.Not(authorized), vtl.Not(vtl.IsNull(vtl.Ref("ctx.prev.result"))))
	var dynamic []transformer.RoleDefinition
	for _, r := range roles {
		if !r.Static {
			dynamic = append(dynamic, r)
		}
	}
	exprs := []vtl.Expression{
		vtl.Set(authorized, vtl.MethodCall("util.defaultIfNull", vtl.Ref("ctx.stash.isAuthorized"), vtl.Bool(false))),
	}
	if blocks := providerBlocks(dynamic, func(role transformer.RoleDefinition, i int) []vtl.Expression {
		return g.itemCheck("ctx.prev.result", role, i)
	}); len(blocks) > 0 {
		exprs = append(exprs, vtl.If(found, vtl.Compound(blocks...)))
	}
	exprs = append(exprs,
		vtl.IfInline(found, vtl.MethodCall("util.unauthorized")),
		vtl.ToJSON(vtl.Obj()),
	)
	return vtl.PrintBlock("Get Authorization Steps")(vtl.Compound(exprs...))
}

// createAuth checks the input of a create. An owner field left out of the
// input is filled with the caller's identity.
func (g *generator) createAuth(roles []transformer.RoleDefinition, protected []fieldRoles) string {
	exprs := append(preamble(), providerBlocks(roles, func(role transformer.RoleDefinition, i int) []vtl.Expression {
		if role.Strategy != transformer.StrategyOwner {
			return g.itemCheck("ctx.args.input", role, i)
		}
		name, out := identity(role, i)
		entity := fmt.Sprintf("ownerEntity%d", i)
		claim := vtl.Ref(name)
		fill := vtl.Expression(claim)
		matches := vtl.Expression(vtl.Equals(vtl.Ref(entity), claim))
		if g.isListField(role.Entity) {
			fill = vtl.List(claim)
			matches = vtl.MethodCall(entity+".contains", claim)
		}
		return append(out,
			vtl.Set(vtl.Ref(entity), vtl.MethodCall("util.defaultIfNull", vtl.Ref("ctx.args.input."+role.Entity), vtl.Null())),
			vtl.IfElse(
				vtl.And(vtl.IsNull(vtl.Ref(entity)), vtl.Not(vtl.MethodCall("ctx.args.input.containsKey", vtl.Str(role.Entity)))),
				vtl.Compound(
					vtl.QuietRefExpr(vtl.MethodCall("ctx.args.input.put", vtl.Str(role.Entity), fill)),
					authorize,
				),
				vtl.IfInline(matches, authorize),
			),
		)
	})...)
	exprs = append(exprs, unauthorized)
	exprs = append(exprs, g.fieldWriteChecks(protected)...)
	return render(exprs)
}

// mutationAuth checks updates and deletes. Dynamic roles become a
// condition on the stored item.
func (g *generator) mutationAuth(roles []transformer.RoleDefinition, protected []fieldRoles) string {
	exprs := append(preamble(), vtl.Set(vtl.Ref("authCondition"), vtl.List()))
	exprs = append(exprs, providerBlocks(roles, func(role transformer.RoleDefinition, i int) []vtl.Expression {
		return g.filterAdds("authCondition", role, i)
	})...)
	exprs = append(exprs,
		vtl.If(vtl.And(vtl.Not(authorized), vtl.Raw("$authCondition.size() > 0")), vtl.Compound(
			vtl.QuietRef(`$ctx.stash.conditions.add({"or": $authCondition})`),
			authorize,
		)),
		unauthorized,
	)
	exprs = append(exprs, g.fieldWriteChecks(protected)...)
	return render(exprs)
}

// fieldWriteChecks rejects input setting a protected field unless a static
// role of the field allows the write.
func (g *generator) fieldWriteChecks(protected []fieldRoles) []vtl.Expression {
	var out []vtl.Expression
	for _, p := range protected {
		var static []transformer.RoleDefinition
		for _, r := range p.roles {
			if r.Static {
				static = append(static, r)
			}
		}
		body := []vtl.Expression{vtl.Set(authorized, vtl.Bool(false))}
		body = append(body, providerBlocks(static, nil)...)
		body = append(body, unauthorized)
		out = append(out, vtl.If(vtl.MethodCall("ctx.args.input.containsKey", vtl.Str(p.field)), vtl.Compound(body...)))
	}
	return out
}

// fieldAuth guards the resolver of a protected field. Dynamic roles are
// checked against the parent item.
func (g *generator) fieldAuth(roles []transformer.RoleDefinition) string {
	exprs := append(preamble(), providerBlocks(roles, func(role transformer.RoleDefinition, i int) []vtl.Expression {
		return g.itemCheck("ctx.source", role, i)
	})...)
	exprs = append(exprs, unauthorized)
	return render(exprs)
}

// operationAuth guards a custom Query, Mutation or Subscription field.
func operationAuth(roles []transformer.RoleDefinition) string {
	exprs := append(preamble(), providerBlocks(roles, nil)...)
	exprs = append(exprs, unauthorized)
	return render(exprs)
}
