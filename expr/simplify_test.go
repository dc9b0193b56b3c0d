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

import (
	"fmt"
	"testing"
)

// testRow is the row type the folding cases reference:
// x is a plain integer, n a nullable integer, p a plain
// boolean, q a nullable boolean, s a string.
var testRow = RowOf(
	Field{Name: "x", Type: TypeOf(Int64)},
	Field{Name: "n", Type: NullableOf(Int64)},
	Field{Name: "p", Type: TypeOf(Bool)},
	Field{Name: "q", Type: NullableOf(Bool)},
	Field{Name: "s", Type: TypeOf(String)},
)

func col(t *testing.T, name string) *Column {
	t.Helper()
	for i := range testRow.Fields {
		if testRow.Fields[i].Name == name {
			return ColumnOf(testRow, i)
		}
	}
	t.Fatalf("no column %q", name)
	return nil
}

func call(t *testing.T, op Op, args ...Node) Node {
	t.Helper()
	c, err := NewCall(op, args...)
	if err != nil {
		t.Fatalf("building %s: %s", op, err)
	}
	return c
}

func TestSimplify(t *testing.T) {
	tests := []struct {
		in   func(t *testing.T) Node
		want string
	}{
		{
			in: func(t *testing.T) Node {
				return call(t, OpAdd, Integer(1), Integer(2))
			},
			want: "3",
		},
		{
			in: func(t *testing.T) Node {
				return call(t, OpMul, call(t, OpSub, Integer(10), Integer(4)), Integer(2))
			},
			want: "12",
		},
		{
			// strict null propagation through arithmetic
			in: func(t *testing.T) Node {
				return call(t, OpAdd, col(t, "n"), Null(TypeOf(Int64)))
			},
			want: "NULL",
		},
		{
			in: func(t *testing.T) Node {
				return call(t, OpNeg, Integer(7))
			},
			want: "-7",
		},
		{
			in: func(t *testing.T) Node {
				return call(t, OpLt, Integer(1), Integer(2))
			},
			want: "TRUE",
		},
		{
			in: func(t *testing.T) Node {
				return call(t, OpEq, Str("a"), Str("b"))
			},
			want: "FALSE",
		},
		{
			// x = x folds only when x cannot be NULL
			in: func(t *testing.T) Node {
				return call(t, OpEq, col(t, "x"), col(t, "x"))
			},
			want: "TRUE",
		},
		{
			in: func(t *testing.T) Node {
				return call(t, OpEq, col(t, "n"), col(t, "n"))
			},
			want: "(n = n)",
		},
		{
			in: func(t *testing.T) Node {
				return call(t, OpAnd, Boolean(true), col(t, "p"))
			},
			want: "p",
		},
		{
			// FALSE absorbs even an unknown operand
			in: func(t *testing.T) Node {
				return call(t, OpAnd, col(t, "q"), Boolean(false))
			},
			want: "FALSE",
		},
		{
			in: func(t *testing.T) Node {
				return call(t, OpOr, col(t, "q"), Boolean(true))
			},
			want: "TRUE",
		},
		{
			in: func(t *testing.T) Node {
				return call(t, OpOr, Boolean(false), col(t, "q"))
			},
			want: "q",
		},
		{
			in: func(t *testing.T) Node {
				return call(t, OpAnd, Null(TypeOf(Bool)), Null(TypeOf(Bool)))
			},
			want: "NULL",
		},
		{
			in: func(t *testing.T) Node {
				return call(t, OpNot, call(t, OpNot, col(t, "p")))
			},
			want: "p",
		},
		{
			in: func(t *testing.T) Node {
				return call(t, OpIsNull, col(t, "x"))
			},
			want: "FALSE",
		},
		{
			in: func(t *testing.T) Node {
				return call(t, OpIsNull, Null(TypeOf(Int64)))
			},
			want: "TRUE",
		},
		{
			// nullable column: runtime check survives
			in: func(t *testing.T) Node {
				return call(t, OpIsNull, col(t, "n"))
			},
			want: "is_null(n)",
		},
		{
			// absent branches drop; the first non-nullable
			// branch ends the scan
			in: func(t *testing.T) Node {
				return call(t, OpCoalesce, Null(TypeOf(Int64)), col(t, "n"), Integer(3), col(t, "x"))
			},
			want: "coalesce(n, 3)",
		},
		{
			in: func(t *testing.T) Node {
				return call(t, OpCoalesce, Null(TypeOf(Int64)), Null(TypeOf(Int64)))
			},
			want: "NULL",
		},
		{
			in: func(t *testing.T) Node {
				return call(t, OpCase, Boolean(true), Integer(1), Integer(2))
			},
			want: "1",
		},
		{
			// FALSE branch drops, leaving only the ELSE
			in: func(t *testing.T) Node {
				return call(t, OpCase, Boolean(false), Integer(1), Integer(2))
			},
			want: "2",
		},
		{
			in: func(t *testing.T) Node {
				return call(t, OpCase, col(t, "p"), Integer(1), Boolean(true), Integer(2), Integer(3))
			},
			want: "case(p, 1, 2)",
		},
		{
			in: func(t *testing.T) Node {
				return NewCast(Integer(3), TypeOf(Float64))
			},
			want: "3",
		},
		{
			in: func(t *testing.T) Node {
				return NewCast(col(t, "x"), TypeOf(Int64))
			},
			want: "x",
		},
		{
			// nothing to fold
			in: func(t *testing.T) Node {
				return call(t, OpAdd, col(t, "x"), Integer(1))
			},
			want: "(x + 1)",
		},
	}
	for i := range tests {
		t.Run(fmt.Sprintf("case-%d", i), func(t *testing.T) {
			in := tests[i].in(t)
			got := Simplify(in)
			if s := ToString(got); s != tests[i].want {
				t.Errorf("Simplify(%s) = %s, want %s", ToString(in), s, tests[i].want)
			}
			// simplification must be a fixed point
			again := Simplify(got)
			if !Equal(got, again) {
				t.Errorf("not idempotent: %s -> %s", ToString(got), ToString(again))
			}
		})
	}
}

func TestSimplifyFuncIdentity(t *testing.T) {
	f := Identity(testRow)
	if !f.IsIdentity() {
		t.Fatal("Identity() is not IsIdentity()")
	}
	if g := SimplifyFunc(f); g != f {
		t.Error("simplifying an identity transform should not reallocate")
	}
}
