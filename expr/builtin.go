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

import "fmt"

// Op is one of the builtin operations a Call can perform.
type Op int

const (
	// arithmetic
	OpAdd Op = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpNeg
	// comparison
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	// logical (three-valued over nullable bool)
	OpAnd
	OpOr
	OpNot
	// null handling
	OpIsNull
	OpCoalesce
	// conditional: args are cond1, val1, ..., condN, valN, else
	OpCase
	// conversion: result type is carried by the Call
	OpCast
	// row construction: result type is carried by the Call
	OpMakeRow
	maxOp
)

func (o Op) String() string {
	switch o {
	case OpAdd:
		return "+"
	case OpSub:
		return "-"
	case OpMul:
		return "*"
	case OpDiv:
		return "/"
	case OpMod:
		return "%"
	case OpNeg:
		return "neg"
	case OpEq:
		return "="
	case OpNe:
		return "<>"
	case OpLt:
		return "<"
	case OpLe:
		return "<="
	case OpGt:
		return ">"
	case OpGe:
		return ">="
	case OpAnd:
		return "and"
	case OpOr:
		return "or"
	case OpNot:
		return "not"
	case OpIsNull:
		return "is_null"
	case OpCoalesce:
		return "coalesce"
	case OpCase:
		return "case"
	case OpCast:
		return "cast"
	case OpMakeRow:
		return "make_row"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// sig is one row of the operator signature table; every
// Call is validated against it at construction time.
type sig struct {
	minArgs int
	maxArgs int // -1 means variadic
}

var sigs = [maxOp]sig{
	OpAdd:      {2, 2},
	OpSub:      {2, 2},
	OpMul:      {2, 2},
	OpDiv:      {2, 2},
	OpMod:      {2, 2},
	OpNeg:      {1, 1},
	OpEq:       {2, 2},
	OpNe:       {2, 2},
	OpLt:       {2, 2},
	OpLe:       {2, 2},
	OpGt:       {2, 2},
	OpGe:       {2, 2},
	OpAnd:      {2, 2},
	OpOr:       {2, 2},
	OpNot:      {1, 1},
	OpIsNull:   {1, 1},
	OpCoalesce: {1, -1},
	OpCase:     {3, -1},
	OpCast:     {1, 1},
	OpMakeRow:  {0, -1},
}

// anyNullable reports whether any argument type is nullable.
func anyNullable(args []Node) bool {
	for i := range args {
		if args[i].Type().Nullable {
			return true
		}
	}
	return false
}

// resultType derives the result type of op applied to args,
// or an error if the operand types are incompatible. Cast
// and MakeRow never reach here; their result types are
// supplied explicitly.
func resultType(op Op, args []Node) (Type, error) {
	switch op {
	case OpAdd, OpSub, OpMul, OpDiv, OpMod:
		t, err := Common(args[0].Type(), args[1].Type())
		if err != nil {
			return PoisonType, err
		}
		if !t.Kind.Numeric() && t.Kind != Poison {
			return PoisonType, fmt.Errorf("operator %s requires numeric operands, have %s", op, t)
		}
		return t, nil
	case OpNeg:
		t := args[0].Type()
		if !t.Kind.Numeric() && t.Kind != Poison {
			return PoisonType, fmt.Errorf("cannot negate %s", t)
		}
		return t, nil
	case OpEq, OpNe:
		if !Compatible(args[0].Type(), args[1].Type()) {
			return PoisonType, &ErrTypeMismatch{args[0].Type(), args[1].Type()}
		}
		return Type{Kind: Bool, Nullable: anyNullable(args)}, nil
	case OpLt, OpLe, OpGt, OpGe:
		l, r := args[0].Type(), args[1].Type()
		if !Compatible(l, r) {
			return PoisonType, &ErrTypeMismatch{l, r}
		}
		if !l.Kind.Ordered() || !r.Kind.Ordered() {
			return PoisonType, fmt.Errorf("operator %s requires ordered operands, have %s and %s", op, l, r)
		}
		return Type{Kind: Bool, Nullable: anyNullable(args)}, nil
	case OpAnd, OpOr, OpNot:
		for i := range args {
			if k := args[i].Type().Kind; k != Bool && k != Poison {
				return PoisonType, fmt.Errorf("operator %s requires boolean operands, have %s", op, args[i].Type())
			}
		}
		return Type{Kind: Bool, Nullable: anyNullable(args)}, nil
	case OpIsNull:
		return TypeOf(Bool), nil
	case OpCoalesce:
		t := args[0].Type()
		allNullable := t.Nullable
		for _, a := range args[1:] {
			var err error
			t, err = Common(t, a.Type())
			if err != nil {
				return PoisonType, err
			}
			allNullable = allNullable && a.Type().Nullable
		}
		t.Nullable = allNullable
		return t, nil
	case OpCase:
		// args are (cond, value)* [, else]
		n := len(args)
		hasElse := n%2 == 1
		var t Type
		first := true
		nullable := !hasElse
		for i := 0; i < n; i++ {
			if !hasElse || i < n-1 {
				if i%2 == 0 {
					if k := args[i].Type().Kind; k != Bool && k != Poison {
						return PoisonType, fmt.Errorf("CASE condition must be boolean, have %s", args[i].Type())
					}
					continue
				}
			}
			if first {
				t, first = args[i].Type(), false
				continue
			}
			var err error
			t, err = Common(t, args[i].Type())
			if err != nil {
				return PoisonType, err
			}
		}
		if nullable {
			t.Nullable = true
		}
		return t, nil
	default:
		return PoisonType, fmt.Errorf("operator %s requires an explicit result type", op)
	}
}
