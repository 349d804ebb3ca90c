// Package vtl provides an expression tree for AppSync mapping templates
// and a printer that renders it to Velocity Template Language text.
//
// Building a template and printing it are two separate steps. The tree is
// made of immutable nodes created by the constructors in this package:
//
//	expr := vtl.Compound(
//	    vtl.Set(vtl.Ref("limit"), vtl.MethodCall("util.defaultIfNull", vtl.Ref("ctx.args.limit"), vtl.Int(100))),
//	    vtl.ToJSON(vtl.Obj(
//	        vtl.KV("version", vtl.Str(vtl.ResolverVersionID)),
//	        vtl.KV("operation", vtl.Str("Scan")),
//	        vtl.KV("limit", vtl.Ref("limit")),
//	    )),
//	)
//	text := vtl.Print(expr)
//
// # Banners
//
// PrintBlock wraps the printed text in a named comment banner so generated
// templates can be traced back to the code that produced them:
//
//	## [Start] Set query expression for key. **
//	...
//	## [End] Set query expression for key. **
//
// # Empty blocks
//
// A compound expression or block without statements would render as an
// empty template, which the execution engine rejects. NewCompound and
// NewBlock return ErrEmptyBlock in that case; Compound and Block panic with
// the same error and are meant for statically known statement lists.
//
// Printing never fails and is deterministic: the same tree always produces
// the same text.
package vtl
