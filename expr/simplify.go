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

package expr

// Simplify rewrites n into a simpler equivalent tree:
// constant folding, null propagation, and logical
// identities. Simplify is idempotent and purely local;
// it never needs schema information because every node
// already carries its type.
func Simplify(n Node) Node {
	return Rewrite(simplifier{}, n)
}

// SimplifyFunc simplifies a row transform's body.
func SimplifyFunc(f *RowFunc) *RowFunc {
	body := Simplify(f.Body)
	if body == f.Body {
		return f
	}
	return &RowFunc{In: f.In, Body: body}
}

type simplifier struct{}

func (simplifier) Walk(Node) Rewriter { return simplifier{} }

func (simplifier) Rewrite(n Node) Node {
	c, ok := n.(*Call)
	if !ok {
		return n
	}
	return simplifyCall(c)
}

func litOf(c *Call, v interface{}) *Literal {
	if v == nil {
		return Null(c.T)
	}
	return &Literal{T: c.T, Value: v}
}

// asFloat widens a numeric literal value for folding.
func asFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

func simplifyCall(c *Call) Node {
	switch c.Op {
	case OpAdd, OpSub, OpMul, OpDiv, OpMod, OpNeg:
		return foldArith(c)
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		return foldCompare(c)
	case OpAnd, OpOr, OpNot:
		return foldLogic(c)
	case OpIsNull:
		return foldIsNull(c)
	case OpCoalesce:
		return foldCoalesce(c)
	case OpCase:
		return foldCase(c)
	case OpCast:
		return foldCast(c)
	default:
		return c
	}
}

// strict operators map any absent operand to absent output
func strictNull(c *Call) (Node, bool) {
	for i := range c.Args {
		if IsNullLiteral(c.Args[i]) {
			return Null(c.T), true
		}
	}
	return nil, false
}

func foldArith(c *Call) Node {
	if n, ok := strictNull(c); ok {
		return n
	}
	if c.Op == OpNeg {
		l, ok := c.Args[0].(*Literal)
		if !ok {
			return c
		}
		switch v := l.Value.(type) {
		case int64:
			return litOf(c, -v)
		case float64:
			return litOf(c, -v)
		}
		return c
	}
	a, aok := c.Args[0].(*Literal)
	b, bok := c.Args[1].(*Literal)
	if !aok || !bok {
		return c
	}
	if ai, ok := a.Value.(int64); ok && c.T.Kind.Integer() {
		bi, ok := b.Value.(int64)
		if !ok {
			return c
		}
		switch c.Op {
		case OpAdd:
			return litOf(c, ai+bi)
		case OpSub:
			return litOf(c, ai-bi)
		case OpMul:
			return litOf(c, ai*bi)
		case OpDiv:
			if bi == 0 {
				return c // leave division by zero to the runtime
			}
			return litOf(c, ai/bi)
		case OpMod:
			if bi == 0 {
				return c
			}
			return litOf(c, ai%bi)
		}
		return c
	}
	af, aok := asFloat(a.Value)
	bf, bok := asFloat(b.Value)
	if !aok || !bok {
		return c
	}
	switch c.Op {
	case OpAdd:
		return litOf(c, af+bf)
	case OpSub:
		return litOf(c, af-bf)
	case OpMul:
		return litOf(c, af*bf)
	case OpDiv:
		if bf == 0 {
			return c
		}
		return litOf(c, af/bf)
	}
	return c
}

func foldCompare(c *Call) Node {
	if n, ok := strictNull(c); ok {
		return n
	}
	a, aok := c.Args[0].(*Literal)
	b, bok := c.Args[1].(*Literal)
	if !aok || !bok {
		// x = x is TRUE only for non-nullable x
		// (NULL = NULL is NULL)
		if c.Op == OpEq && !c.T.Nullable && c.Args[0].Equals(c.Args[1]) {
			return litOf(c, true)
		}
		return c
	}
	var cmp int
	var known bool
	if as, ok := a.Value.(string); ok {
		if bs, ok := b.Value.(string); ok {
			switch {
			case as < bs:
				cmp = -1
			case as > bs:
				cmp = 1
			}
			known = true
		}
	} else if ab, ok := a.Value.(bool); ok {
		if bb, ok := b.Value.(bool); ok && (c.Op == OpEq || c.Op == OpNe) {
			if ab == bb {
				cmp = 0
			} else {
				cmp = 1
			}
			known = true
		}
	} else {
		af, aok := asFloat(a.Value)
		bf, bok := asFloat(b.Value)
		if aok && bok {
			switch {
			case af < bf:
				cmp = -1
			case af > bf:
				cmp = 1
			}
			known = true
		}
	}
	if !known {
		return c
	}
	switch c.Op {
	case OpEq:
		return litOf(c, cmp == 0)
	case OpNe:
		return litOf(c, cmp != 0)
	case OpLt:
		return litOf(c, cmp < 0)
	case OpLe:
		return litOf(c, cmp <= 0)
	case OpGt:
		return litOf(c, cmp > 0)
	case OpGe:
		return litOf(c, cmp >= 0)
	}
	return c
}

func boolLit(n Node) (val bool, null bool, ok bool) {
	l, isLit := n.(*Literal)
	if !isLit {
		return false, false, false
	}
	if l.Value == nil {
		return false, true, true
	}
	b, isBool := l.Value.(bool)
	return b, false, isBool
}

func foldLogic(c *Call) Node {
	if c.Op == OpNot {
		if v, null, ok := boolLit(c.Args[0]); ok {
			if null {
				return Null(c.T)
			}
			return litOf(c, !v)
		}
		// NOT (NOT x) -> x
		if inner, ok := c.Args[0].(*Call); ok && inner.Op == OpNot {
			return inner.Args[0]
		}
		return c
	}
	av, anull, aok := boolLit(c.Args[0])
	bv, bnull, bok := boolLit(c.Args[1])
	// three-valued logic: AND/OR have absorbing elements
	// that win even against NULL
	if c.Op == OpAnd {
		if aok && !anull && !av || bok && !bnull && !bv {
			return litOf(c, false)
		}
		if aok && !anull && av {
			return c.Args[1]
		}
		if bok && !bnull && bv {
			return c.Args[0]
		}
		if aok && bok { // both NULL (or TRUE handled above)
			return Null(c.T)
		}
		return c
	}
	// OpOr
	if aok && !anull && av || bok && !bnull && bv {
		return litOf(c, true)
	}
	if aok && !anull && !av {
		return c.Args[1]
	}
	if bok && !bnull && !bv {
		return c.Args[0]
	}
	if aok && bok {
		return Null(c.T)
	}
	return c
}

func foldIsNull(c *Call) Node {
	if IsNullLiteral(c.Args[0]) {
		return litOf(c, true)
	}
	if !c.Args[0].Type().Nullable {
		return litOf(c, false)
	}
	if _, ok := c.Args[0].(*Literal); ok {
		return litOf(c, false)
	}
	return c
}

func foldCoalesce(c *Call) Node {
	var args []Node
	for i := range c.Args {
		if IsNullLiteral(c.Args[i]) {
			continue // an absent branch can never win
		}
		args = append(args, c.Args[i])
		if !c.Args[i].Type().Nullable {
			break // later branches are unreachable
		}
	}
	if len(args) == 0 {
		return Null(c.T)
	}
	if len(args) == 1 {
		return castTo(args[0], c.T)
	}
	if len(args) == len(c.Args) {
		return c
	}
	return &Call{Op: OpCoalesce, Args: args, T: c.T}
}

func foldCase(c *Call) Node {
	// drop branches with literal FALSE/NULL conditions,
	// stop at the first literal TRUE condition
	var args []Node
	n := len(c.Args)
	for i := 0; i+1 < n; i += 2 {
		v, null, ok := boolLit(c.Args[i])
		if ok && (null || !v) {
			continue
		}
		if ok && v {
			if len(args) == 0 {
				return castTo(c.Args[i+1], c.T)
			}
			// becomes the ELSE of the remaining branches
			args = append(args, c.Args[i+1])
			return &Call{Op: OpCase, Args: args, T: c.T}
		}
		args = append(args, c.Args[i], c.Args[i+1])
	}
	if n%2 == 1 {
		args = append(args, c.Args[n-1])
	}
	if len(args) == len(c.Args) {
		return c
	}
	if len(args) == 0 {
		return Null(c.T)
	}
	if len(args) == 1 {
		return castTo(args[0], c.T)
	}
	return &Call{Op: OpCase, Args: args, T: c.T}
}

// castTo coerces n to type t, inserting a cast only
// when the types differ.
func castTo(n Node, t Type) Node {
	if n.Type().Equal(t) {
		return n
	}
	if l, ok := n.(*Literal); ok {
		if l.Value == nil {
			return Null(t)
		}
		if v, ok := convertLit(l.Value, t.Kind); ok {
			return &Literal{T: t, Value: v}
		}
	}
	return &Call{Op: OpCast, Args: []Node{n}, T: t}
}

func foldCast(c *Call) Node {
	if IsNullLiteral(c.Args[0]) {
		return Null(c.T)
	}
	if c.Args[0].Type().Equal(c.T) {
		return c.Args[0]
	}
	l, ok := c.Args[0].(*Literal)
	if !ok {
		return c
	}
	if v, ok := convertLit(l.Value, c.T.Kind); ok {
		return litOf(c, v)
	}
	return c
}

// convertLit converts a literal value between numeric
// representations; non-numeric conversions stay at runtime.
func convertLit(v interface{}, to Kind) (interface{}, bool) {
	switch {
	case to.Integer():
		switch x := v.(type) {
		case int64:
			return x, true
		case float64:
			if float64(int64(x)) == x {
				return int64(x), true
			}
		}
	case to == Float32 || to == Float64:
		if f, ok := asFloat(v); ok {
			return f, true
		}
	case to == Bool:
		if b, ok := v.(bool); ok {
			return b, true
		}
	case to == String:
		if s, ok := v.(string); ok {
			return s, true
		}
	}
	return nil, false
}
