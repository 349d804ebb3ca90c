package vtl

import (
	"errors"
	"fmt"
)

// ResolverVersionID is the mapping template version sent with every
// datasource request.
const ResolverVersionID = "2018-05-29"

// ErrEmptyBlock is returned when a compound expression or block is
// constructed without statements.
var ErrEmptyBlock = errors.New("vtl: empty compound expression")

// Expression is a node of the mapping template tree.
type Expression interface {
	expression()
}

type (
	// Reference renders as $value.
	Reference struct {
		Value string
	}

	// QuietReference renders as $util.qr(value).
	QuietReference struct {
		Value Expression
	}

	// StringNode renders as a double quoted literal.
	StringNode struct {
		Value string
	}

	// IntNode is an integer literal.
	IntNode struct {
		Value int
	}

	// FloatNode is a float literal.
	FloatNode struct {
		Value float64
	}

	// BooleanNode is a boolean literal.
	BooleanNode struct {
		Value bool
	}

	// NullNode renders as null.
	NullNode struct{}

	// ListNode is a list literal.
	ListNode struct {
		Expressions []Expression
	}

	// Attribute is a single key of an ObjectNode.
	Attribute struct {
		Key   string
		Value Expression
	}

	// ObjectNode is a map literal. Attributes keep their insertion order.
	ObjectNode struct {
		Attributes []Attribute
	}

	// MethodCallNode renders as $method(params...).
	MethodCallNode struct {
		Method string
		Params []Expression
	}

	// CompoundExpression is a sequence of statements, one per line.
	CompoundExpression struct {
		Expressions []Expression
	}

	// BlockNode is a compound expression wrapped in a named banner.
	BlockNode struct {
		Name        string
		Expressions []Expression
	}

	// IfNode is a conditional without an else branch.
	IfNode struct {
		Predicate Expression
		Expr      Expression
		Inline    bool
	}

	// IfElseNode is a conditional with an else branch.
	IfElseNode struct {
		Predicate Expression
		IfExpr    Expression
		ElseExpr  Expression
	}

	// ForEachNode iterates Collection binding each element to Key.
	ForEachNode struct {
		Key         Reference
		Collection  Expression
		Expressions []Expression
	}

	// SetNode assigns Value to Key.
	SetNode struct {
		Key   Reference
		Value Expression
	}

	// RawNode is emitted verbatim.
	RawNode struct {
		Value string
	}

	// CommentNode renders as a template comment.
	CommentNode struct {
		Text string
	}

	// AndNode joins expressions with &&.
	AndNode struct {
		Expressions []Expression
	}

	// OrNode joins expressions with ||.
	OrNode struct {
		Expressions []Expression
	}

	// NotNode negates an expression.
	NotNode struct {
		Expr Expression
	}

	// ParensNode wraps an expression in parentheses.
	ParensNode struct {
		Expr Expression
	}

	// EqualsNode compares two expressions with ==.
	EqualsNode struct {
		Left, Right Expression
	}

	// NotEqualsNode compares two expressions with !=.
	NotEqualsNode struct {
		Left, Right Expression
	}

	// ToJSONNode renders as $util.toJson(expr).
	ToJSONNode struct {
		Expr Expression
	}

	// ReturnNode renders as #return or #return(value).
	ReturnNode struct {
		Value Expression
	}

	// NewLineNode renders as an empty line.
	NewLineNode struct{}
)

func (Reference) expression()          {}
func (QuietReference) expression()     {}
func (StringNode) expression()         {}
func (IntNode) expression()            {}
func (FloatNode) expression()          {}
func (BooleanNode) expression()        {}
func (NullNode) expression()           {}
func (ListNode) expression()           {}
func (ObjectNode) expression()         {}
func (MethodCallNode) expression()     {}
func (CompoundExpression) expression() {}
func (BlockNode) expression()          {}
func (IfNode) expression()             {}
func (IfElseNode) expression()         {}
func (ForEachNode) expression()        {}
func (SetNode) expression()            {}
func (RawNode) expression()            {}
func (CommentNode) expression()        {}
func (AndNode) expression()            {}
func (OrNode) expression()             {}
func (NotNode) expression()            {}
func (ParensNode) expression()         {}
func (EqualsNode) expression()         {}
func (NotEqualsNode) expression()      {}
func (ToJSONNode) expression()         {}
func (ReturnNode) expression()         {}
func (NewLineNode) expression()        {}

// Ref returns a reference to a template variable, e.g. Ref("ctx.args").
func Ref(value string) Reference { return Reference{Value: value} }

// QuietRef returns $util.qr(value) for a raw statement such as
// `$ctx.stash.put("a", 1)`.
func QuietRef(value string) QuietReference { return QuietReference{Value: Raw(value)} }

// QuietRefExpr returns $util.qr(expr).
func QuietRefExpr(expr Expression) QuietReference { return QuietReference{Value: expr} }

// Str returns a string literal.
func Str(value string) StringNode { return StringNode{Value: value} }

// Int returns an integer literal.
func Int(value int) IntNode { return IntNode{Value: value} }

// Float returns a float literal.
func Float(value float64) FloatNode { return FloatNode{Value: value} }

// Bool returns a boolean literal.
func Bool(value bool) BooleanNode { return BooleanNode{Value: value} }

// Null returns the null literal.
func Null() NullNode { return NullNode{} }

// List returns a list literal.
func List(exprs ...Expression) ListNode { return ListNode{Expressions: exprs} }

// KV returns an object attribute.
func KV(key string, value Expression) Attribute { return Attribute{Key: key, Value: value} }

// Obj returns an object literal with attributes in the given order.
func Obj(attrs ...Attribute) ObjectNode { return ObjectNode{Attributes: attrs} }

// MethodCall returns $method(params...).
func MethodCall(method string, params ...Expression) MethodCallNode {
	return MethodCallNode{Method: method, Params: params}
}

// NewCompound returns a compound expression. It fails with ErrEmptyBlock
// when exprs is empty.
func NewCompound(exprs ...Expression) (CompoundExpression, error) {
	if len(exprs) == 0 {
		return CompoundExpression{}, ErrEmptyBlock
	}
	return CompoundExpression{Expressions: exprs}, nil
}

// Compound is like NewCompound but panics on an empty statement list.
func Compound(exprs ...Expression) CompoundExpression {
	c, err := NewCompound(exprs...)
	if err != nil {
		panic(err)
	}
	return c
}

// NewBlock returns a named block. It fails with ErrEmptyBlock when exprs
// is empty.
func NewBlock(name string, exprs ...Expression) (BlockNode, error) {
	if len(exprs) == 0 {
		return BlockNode{}, fmt.Errorf("block %q: %w", name, ErrEmptyBlock)
	}
	return BlockNode{Name: name, Expressions: exprs}, nil
}

// Block is like NewBlock but panics on an empty statement list.
func Block(name string, exprs ...Expression) BlockNode {
	b, err := NewBlock(name, exprs...)
	if err != nil {
		panic(err)
	}
	return b
}

// If returns a multi-line conditional.
func If(predicate, expr Expression) IfNode {
	return IfNode{Predicate: predicate, Expr: expr}
}

// IfInline returns a conditional printed on a single line.
func IfInline(predicate, expr Expression) IfNode {
	return IfNode{Predicate: predicate, Expr: expr, Inline: true}
}

// IfElse returns a conditional with an else branch.
func IfElse(predicate, ifExpr, elseExpr Expression) IfElseNode {
	return IfElseNode{Predicate: predicate, IfExpr: ifExpr, ElseExpr: elseExpr}
}

// ForEach returns a loop over collection.
func ForEach(key Reference, collection Expression, exprs ...Expression) ForEachNode {
	return ForEachNode{Key: key, Collection: collection, Expressions: exprs}
}

// Set returns #set( $key = value ).
func Set(key Reference, value Expression) SetNode { return SetNode{Key: key, Value: value} }

// Raw returns a node emitted verbatim.
func Raw(value string) RawNode { return RawNode{Value: value} }

// Comment returns a template comment.
func Comment(text string) CommentNode { return CommentNode{Text: text} }

// And joins expressions with &&.
func And(exprs ...Expression) AndNode { return AndNode{Expressions: exprs} }

// Or joins expressions with ||.
func Or(exprs ...Expression) OrNode { return OrNode{Expressions: exprs} }

// Not negates expr.
func Not(expr Expression) NotNode { return NotNode{Expr: expr} }

// Parens wraps expr in parentheses.
func Parens(expr Expression) ParensNode { return ParensNode{Expr: expr} }

// Equals returns left == right.
func Equals(left, right Expression) EqualsNode { return EqualsNode{Left: left, Right: right} }

// NotEquals returns left != right.
func NotEquals(left, right Expression) NotEqualsNode {
	return NotEqualsNode{Left: left, Right: right}
}

// ToJSON returns $util.toJson(expr).
func ToJSON(expr Expression) ToJSONNode { return ToJSONNode{Expr: expr} }

// Return returns #return(value), or a bare #return when value is nil.
func Return(value Expression) ReturnNode { return ReturnNode{Value: value} }

// NewLine returns an empty line.
func NewLine() NewLineNode { return NewLineNode{} }

// IsNullOrEmpty returns $util.isNullOrEmpty(expr).
func IsNullOrEmpty(expr Expression) MethodCallNode {
	return MethodCall("util.isNullOrEmpty", expr)
}

// IsNull returns $util.isNull(expr).
func IsNull(expr Expression) MethodCallNode {
	return MethodCall("util.isNull", expr)
}
