// Copyright 2023 Sneller, Inc.
//
//  Licensed under the Apache License, Version 2.0 (the "License");
//  you may not use this file except in compliance with the License.
//  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.

// Package expr implements the typed expression IR embedded
// in circuit operator payloads, together with the type system
// and the inner visitor/rewrite framework.
//
// Expression nodes are pure and immutable once constructed;
// rewrites build new nodes rather than mutating shared ones.
// That referential transparency is what lets the rewrite
// framework duplicate, reorder, and hoist payloads freely.
package expr

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/exp/slices"
)

// Node is an expression IR node.
type Node interface {
	// Type returns the derived result type of the node.
	Type() Type
	// Equals compares nodes structurally.
	Equals(Node) bool

	walk(Visitor)
	text(dst *strings.Builder)
	appendHash(buf []byte) []byte
}

// ToString returns the textual rendering of a node,
// for diagnostics and Describe output only.
func ToString(n Node) string {
	if n == nil {
		return "<nil>"
	}
	var sb strings.Builder
	n.text(&sb)
	return sb.String()
}

// Equal returns whether a and b are equivalent; either may be nil.
func Equal(a, b Node) bool {
	if a == nil {
		return b == nil
	}
	return b != nil && a.Equals(b)
}

// Literal is a constant paired with its declared type.
//
// Value is nil iff the literal is the absent (NULL) value;
// the declared type must then be nullable. Concrete values
// are stored as bool, int64, float64, string, or []byte
// according to the kind.
type Literal struct {
	T     Type
	Value interface{}
}

// NewLiteral constructs a literal of the declared type t.
// A nil value with a non-nullable type is an invariant
// violation (the validated plan can never produce one),
// so NewLiteral panics rather than limping along.
func NewLiteral(t Type, v interface{}) *Literal {
	if v == nil && !t.Nullable {
		panic("expr: null value with non-nullable type " + t.String())
	}
	return &Literal{T: t, Value: v}
}

// Integer constructs a non-nullable int64 literal.
func Integer(i int64) *Literal { return &Literal{T: TypeOf(Int64), Value: i} }

// Float constructs a non-nullable float64 literal.
func Float(f float64) *Literal { return &Literal{T: TypeOf(Float64), Value: f} }

// Str constructs a non-nullable string literal.
func Str(s string) *Literal { return &Literal{T: TypeOf(String), Value: s} }

// Boolean constructs a non-nullable boolean literal.
func Boolean(b bool) *Literal { return &Literal{T: TypeOf(Bool), Value: b} }

// Null constructs the absent value of the given type;
// t is forced nullable.
func Null(t Type) *Literal { return &Literal{T: t.AsNullable(), Value: nil} }

// IsNullLiteral returns whether n is a literal absent value.
func IsNullLiteral(n Node) bool {
	l, ok := n.(*Literal)
	return ok && l.Value == nil
}

func (l *Literal) Type() Type { return l.T }

func (l *Literal) Equals(n Node) bool {
	o, ok := n.(*Literal)
	if !ok || !l.T.Equal(o.T) {
		return false
	}
	// []byte is not comparable with ==
	if b, ok := l.Value.([]byte); ok {
		ob, ok := o.Value.([]byte)
		return ok && bytes.Equal(b, ob)
	}
	if _, ok := o.Value.([]byte); ok {
		return false
	}
	return l.Value == o.Value
}

func (l *Literal) walk(Visitor) {}

func (l *Literal) text(dst *strings.Builder) {
	switch v := l.Value.(type) {
	case nil:
		dst.WriteString("NULL")
	case bool:
		if v {
			dst.WriteString("TRUE")
		} else {
			dst.WriteString("FALSE")
		}
	case int64:
		dst.WriteString(strconv.FormatInt(v, 10))
	case float64:
		dst.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	case string:
		dst.WriteString(strconv.Quote(v))
	default:
		fmt.Fprintf(dst, "%v", v)
	}
}

// Column is a positional reference into the row bound by
// the enclosing RowFunc. Name is carried for rendering only;
// identity is the index.
type Column struct {
	Index int
	Name  string
	T     Type
}

// ColumnOf builds the positional reference to field i of
// the row type in.
func ColumnOf(in Type, i int) *Column {
	f := in.Field(i)
	return &Column{Index: i, Name: f.Name, T: f.Type}
}

func (c *Column) Type() Type { return c.T }

func (c *Column) Equals(n Node) bool {
	o, ok := n.(*Column)
	return ok && c.Index == o.Index && c.T.Equal(o.T)
}

func (c *Column) walk(Visitor) {}

func (c *Column) text(dst *strings.Builder) {
	if c.Name != "" {
		dst.WriteString(c.Name)
		return
	}
	fmt.Fprintf(dst, "$%d", c.Index)
}

// Call is a builtin operation applied to arguments. Arity
// and operand types are validated at construction; a Call
// value always has a resolved result type.
type Call struct {
	Op   Op
	Args []Node
	T    Type
}

// NewCall constructs an operator call, validating arity and
// operand compatibility against the signature table.
func NewCall(op Op, args ...Node) (*Call, error) {
	if op < 0 || op >= maxOp {
		return nil, fmt.Errorf("unknown operator %d", int(op))
	}
	s := sigs[op]
	if len(args) < s.minArgs || (s.maxArgs >= 0 && len(args) > s.maxArgs) {
		return nil, fmt.Errorf("operator %s: want %d..%d args, have %d", op, s.minArgs, s.maxArgs, len(args))
	}
	t, err := resultType(op, args)
	if err != nil {
		return nil, err
	}
	return &Call{Op: op, Args: args, T: t}, nil
}

// NewCast constructs a conversion of x to the explicit
// target type.
func NewCast(x Node, to Type) *Call {
	if x.Type().Nullable {
		to = to.AsNullable()
	}
	return &Call{Op: OpCast, Args: []Node{x}, T: to}
}

// NewMakeRow constructs a row from one expression per field.
// The field names come from names (or $0.. if empty).
func NewMakeRow(names []string, args ...Node) *Call {
	fields := make([]Field, len(args))
	for i := range args {
		name := ""
		if i < len(names) {
			name = names[i]
		}
		if name == "" {
			name = "$" + strconv.Itoa(i)
		}
		fields[i] = Field{Name: name, Type: args[i].Type()}
	}
	return &Call{Op: OpMakeRow, Args: args, T: RowOf(fields...)}
}

func (c *Call) Type() Type { return c.T }

func (c *Call) Equals(n Node) bool {
	o, ok := n.(*Call)
	return ok && c.Op == o.Op && c.T.Equal(o.T) &&
		slices.EqualFunc(c.Args, o.Args, Equal)
}

func (c *Call) walk(v Visitor) {
	for i := range c.Args {
		Walk(v, c.Args[i])
	}
}

func (c *Call) rewrite(r Rewriter) Node {
	var args []Node
	for i := range c.Args {
		a := Rewrite(r, c.Args[i])
		if args == nil && a != c.Args[i] {
			args = make([]Node, len(c.Args))
			copy(args, c.Args[:i])
		}
		if args != nil {
			args[i] = a
		}
	}
	if args == nil {
		return c
	}
	return &Call{Op: c.Op, Args: args, T: c.T}
}

func (c *Call) text(dst *strings.Builder) {
	switch c.Op {
	case OpAdd, OpSub, OpMul, OpDiv, OpMod, OpEq, OpNe, OpLt, OpLe, OpGt, OpGe, OpAnd, OpOr:
		dst.WriteByte('(')
		c.Args[0].text(dst)
		dst.WriteByte(' ')
		dst.WriteString(c.Op.String())
		dst.WriteByte(' ')
		c.Args[1].text(dst)
		dst.WriteByte(')')
	case OpCast:
		dst.WriteString("cast(")
		c.Args[0].text(dst)
		dst.WriteString(" as ")
		dst.WriteString(c.T.String())
		dst.WriteByte(')')
	default:
		dst.WriteString(c.Op.String())
		dst.WriteByte('(')
		for i := range c.Args {
			if i > 0 {
				dst.WriteString(", ")
			}
			c.Args[i].text(dst)
		}
		dst.WriteByte(')')
	}
}

// RowFunc is a typed row-transform closure: the root of
// every operator payload. Body may reference the fields of
// the input row type through Column nodes. RowFuncs are
// referentially transparent; the rewrite framework depends
// on being able to duplicate and compose them.
type RowFunc struct {
	In   Type // row type of the single parameter
	Body Node
}

// NewRowFunc builds a row transform over the input row type.
func NewRowFunc(in Type, body Node) *RowFunc {
	if in.Kind != Row {
		panic("expr: RowFunc parameter must be a row type, have " + in.String())
	}
	return &RowFunc{In: in, Body: body}
}

// Identity returns the row transform that returns its
// input row unchanged.
func Identity(in Type) *RowFunc {
	args := make([]Node, in.Arity())
	names := make([]string, in.Arity())
	for i := range args {
		args[i] = ColumnOf(in, i)
		names[i] = in.Fields[i].Name
	}
	return NewRowFunc(in, NewMakeRow(names, args...))
}

// IsIdentity returns whether f provably returns its input
// row unchanged.
func (f *RowFunc) IsIdentity() bool {
	c, ok := f.Body.(*Call)
	if !ok || c.Op != OpMakeRow || len(c.Args) != f.In.Arity() {
		return false
	}
	for i := range c.Args {
		col, ok := c.Args[i].(*Column)
		if !ok || col.Index != i {
			return false
		}
	}
	return true
}

func (f *RowFunc) Type() Type { return f.Body.Type() }

func (f *RowFunc) Equals(n Node) bool {
	o, ok := n.(*RowFunc)
	return ok && f.In.Equal(o.In) && f.Body.Equals(o.Body)
}

func (f *RowFunc) walk(v Visitor) { Walk(v, f.Body) }

func (f *RowFunc) rewrite(r Rewriter) Node {
	body := Rewrite(r, f.Body)
	if body == f.Body {
		return f
	}
	return &RowFunc{In: f.In, Body: body}
}

func (f *RowFunc) text(dst *strings.Builder) {
	dst.WriteString("|row| ")
	f.Body.text(dst)
}
