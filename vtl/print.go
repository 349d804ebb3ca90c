package vtl

import (
	"strconv"
	"strings"
)

const tab = "  "

// Print renders expr to mapping template text.
func Print(expr Expression) string {
	var p printer
	return p.expr(expr, "")
}

// PrintBlock returns a printer that wraps the rendered text in a named
// comment banner.
func PrintBlock(name string) func(Expression) string {
	return func(expr Expression) string {
		var b strings.Builder
		b.WriteString(startBanner(name))
		b.WriteByte('\n')
		b.WriteString(Print(expr))
		b.WriteByte('\n')
		b.WriteString(endBanner(name))
		return b.String()
	}
}

func startBanner(name string) string { return "## [Start] " + name + ". **" }
func endBanner(name string) string   { return "## [End] " + name + ". **" }

type printer struct{}

// inline renders expr for use inside another statement. Only the first
// line loses its indentation; nested lines stay relative to indent.
func (p printer) inline(expr Expression, indent string) string {
	return strings.TrimLeft(p.expr(expr, indent), " ")
}

func (p printer) join(exprs []Expression, indent, sep string) string {
	parts := make([]string, len(exprs))
	for i, e := range exprs {
		parts[i] = p.inline(e, indent)
	}
	return strings.Join(parts, sep)
}

func (p printer) lines(exprs []Expression, indent string) string {
	parts := make([]string, len(exprs))
	for i, e := range exprs {
		parts[i] = p.expr(e, indent)
	}
	return strings.Join(parts, "\n")
}

func (p printer) expr(expr Expression, indent string) string {
	switch n := expr.(type) {
	case nil:
		return ""
	case Reference:
		return indent + "$" + n.Value
	case QuietReference:
		return indent + "$util.qr(" + p.inline(n.Value, indent) + ")"
	case StringNode:
		return indent + `"` + escapeQuotes(n.Value) + `"`
	case IntNode:
		return indent + strconv.Itoa(n.Value)
	case FloatNode:
		return indent + strconv.FormatFloat(n.Value, 'f', -1, 64)
	case BooleanNode:
		return indent + strconv.FormatBool(n.Value)
	case NullNode:
		return indent + "null"
	case ListNode:
		return indent + "[" + p.join(n.Expressions, indent, ", ") + "]"
	case ObjectNode:
		return p.object(n, indent)
	case MethodCallNode:
		return indent + "$" + n.Method + "(" + p.join(n.Params, indent, ", ") + ")"
	case CompoundExpression:
		return p.lines(n.Expressions, indent)
	case BlockNode:
		return indent + startBanner(n.Name) + "\n" + p.lines(n.Expressions, indent) + "\n" + indent + endBanner(n.Name)
	case IfNode:
		if n.Inline {
			return indent + "#if( " + p.inline(n.Predicate, "") + " ) " + p.inline(n.Expr, "") + " #end"
		}
		return indent + "#if( " + p.inline(n.Predicate, indent) + " )\n" +
			p.expr(n.Expr, indent+tab) + "\n" +
			indent + "#end"
	case IfElseNode:
		return indent + "#if( " + p.inline(n.Predicate, indent) + " )\n" +
			p.expr(n.IfExpr, indent+tab) + "\n" +
			indent + "#else\n" +
			p.expr(n.ElseExpr, indent+tab) + "\n" +
			indent + "#end"
	case ForEachNode:
		return indent + "#foreach( " + p.inline(n.Key, indent) + " in " + p.inline(n.Collection, indent) + " )\n" +
			p.lines(n.Expressions, indent+tab) + "\n" +
			indent + "#end"
	case SetNode:
		return indent + "#set( " + p.inline(n.Key, indent) + " = " + p.inline(n.Value, indent) + " )"
	case RawNode:
		return indent + n.Value
	case CommentNode:
		return indent + "## " + n.Text + " **"
	case AndNode:
		return indent + p.join(n.Expressions, indent, " && ")
	case OrNode:
		return indent + p.join(n.Expressions, indent, " || ")
	case NotNode:
		return indent + "!" + p.inline(n.Expr, indent)
	case ParensNode:
		return indent + "(" + p.inline(n.Expr, indent) + ")"
	case EqualsNode:
		return indent + p.inline(n.Left, indent) + " == " + p.inline(n.Right, indent)
	case NotEqualsNode:
		return indent + p.inline(n.Left, indent) + " != " + p.inline(n.Right, indent)
	case ToJSONNode:
		return indent + "$util.toJson(" + p.inline(n.Expr, indent) + ")"
	case ReturnNode:
		if n.Value == nil {
			return indent + "#return"
		}
		return indent + "#return(" + p.inline(n.Value, indent) + ")"
	case NewLineNode:
		return ""
	default:
		return ""
	}
}

func (p printer) object(n ObjectNode, indent string) string {
	if len(n.Attributes) == 0 {
		return indent + "{}"
	}
	var b strings.Builder
	b.WriteString(indent)
	b.WriteString("{\n")
	for i, attr := range n.Attributes {
		b.WriteString(indent + tab)
		b.WriteString(`"` + attr.Key + `": `)
		b.WriteString(p.inline(attr.Value, indent+tab))
		if i < len(n.Attributes)-1 {
			b.WriteByte(',')
		}
		b.WriteByte('\n')
	}
	b.WriteString(indent)
	b.WriteByte('}')
	return b.String()
}

// escapeQuotes escapes the double quotes of a string literal that are not
// escaped already.
func escapeQuotes(s string) string {
	if !strings.Contains(s, `"`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '"' && (i == 0 || s[i-1] != '\\') {
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
