package auth

import (
	"github.com/ShadowCat567/amplify-category-api/dialect/rds"
	"github.com/ShadowCat567/amplify-category-api/transformer"
	"github.com/ShadowCat567/amplify-category-api/vtl"
)

// authRule renders role in the form the SQL lambda runtime evaluates.
func (g *generator) authRule(role transformer.RoleDefinition) vtl.Expression {
	attrs := []vtl.Attribute{
		vtl.KV("type", vtl.Str(string(role.Strategy))),
		vtl.KV("provider", vtl.Str(string(role.Provider))),
	}
	fieldType := func(field string) vtl.Expression {
		if g.isListField(field) {
			return vtl.Str("string[]")
		}
		return vtl.Str("string")
	}
	switch {
	case role.Strategy == transformer.StrategyOwner:
		attrs = append(attrs,
			vtl.KV("ownerFieldName", vtl.Str(role.Entity)),
			vtl.KV("ownerFieldType", fieldType(role.Entity)),
			vtl.KV("identityClaim", vtl.Str(role.Claim)),
		)
	case role.Strategy == transformer.StrategyGroups && role.Static:
		attrs = append(attrs,
			vtl.KV("allowedGroups", vtl.List(vtl.Str(role.Entity))),
			vtl.KV("identityClaim", vtl.Str(role.Claim)),
		)
	case role.Strategy == transformer.StrategyGroups:
		attrs = append(attrs,
			vtl.KV("groupsFieldName", vtl.Str(role.Entity)),
			vtl.KV("groupsFieldType", fieldType(role.Entity)),
			vtl.KV("groupClaim", vtl.Str(role.Claim)),
		)
	}
	return vtl.Obj(attrs...)
}

func (g *generator) authRules(roles []transformer.RoleDefinition) vtl.Expression {
	rules := make([]vtl.Expression, len(roles))
	for i, r := range roles {
		rules[i] = g.authRule(r)
	}
	return vtl.Set(vtl.Ref("authRules"), vtl.List(rules...))
}

// decorateRelational adds the auth steps of a relational model. The rules
// are evaluated by the runtime helpers of the SQL lambda resolvers; updates
// and deletes first load the stored record.
func (p *Plugin) decorateRelational(ctx *transformer.Context, r *transformer.Resolver, roles []transformer.RoleDefinition) error {
	g := &generator{ctx: ctx, model: r.Model}
	exprs := append(preamble(), g.authRules(roles))
	switch r.Operation {
	case transformer.OperationCreate:
		exprs = append(exprs,
			vtl.Set(authorized, vtl.Raw(`$util.authRules.mutationAuth($authRules, "create", $ctx.args.input, null)`)),
			unauthorized,
		)
	case transformer.OperationUpdate, transformer.OperationDelete:
		exprs = append(exprs, vtl.QuietRef(`$ctx.stash.put("authRules", $authRules)`))
		if err := r.AddToSlot(transformer.SlotAuth, transformer.InlineTemplate(render(exprs)), nil); err != nil {
			return err
		}
		check := vtl.PrintBlock("Validate existing record")(vtl.Compound(
			vtl.IfInline(vtl.Ref("ctx.error"), vtl.MethodCall("util.error", vtl.Ref("ctx.error.message"), vtl.Ref("ctx.error.type"))),
			vtl.Set(authorized, vtl.MethodCall("util.authRules.mutationAuth",
				vtl.Ref("ctx.stash.authRules"), vtl.Str(string(r.Operation)), vtl.Ref("ctx.args.input"), vtl.Ref("ctx.result"))),
			unauthorized,
			vtl.ToJSON(vtl.Obj()),
		))
		return r.AddToSlot(transformer.SlotAuth,
			transformer.InlineTemplate(rds.ExistingRecordRequestTemplate(ctx.ModelNameMapping(r.Model))),
			transformer.InlineTemplate(check),
			transformer.SQLLambdaDataSourceName)
	case transformer.OperationSubscription:
		exprs = append(exprs,
			vtl.Set(authorized, vtl.MethodCall("util.authRules.subscriptionAuth", vtl.Ref("authRules"))),
			unauthorized,
		)
	default:
		exprs = append(exprs,
			vtl.Set(vtl.Ref("authFilter"), vtl.MethodCall("util.authRules.queryAuth", vtl.Ref("authRules"))),
			vtl.IfInline(vtl.Not(vtl.IsNullOrEmpty(vtl.Ref("authFilter"))),
				vtl.QuietRef(`$ctx.stash.put("authFilter", $authFilter)`)),
		)
	}
	return r.AddToSlot(transformer.SlotAuth, transformer.InlineTemplate(render(exprs)), nil)
}
