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

func TestCommon(t *testing.T) {
	tests := []struct {
		a, b Type
		want Type
		err  bool
	}{
		{
			a:    TypeOf(Int64),
			b:    TypeOf(Int64),
			want: TypeOf(Int64),
		},
		{
			// numeric promotion picks the wider kind
			a:    TypeOf(Int32),
			b:    TypeOf(Int64),
			want: TypeOf(Int64),
		},
		{
			a:    TypeOf(Int64),
			b:    TypeOf(Float64),
			want: TypeOf(Float64),
		},
		{
			// nullability is contagious
			a:    NullableOf(Int64),
			b:    TypeOf(Int64),
			want: NullableOf(Int64),
		},
		{
			a:   TypeOf(String),
			b:   TypeOf(Int64),
			err: true,
		},
		{
			// rows unify field by field; the result keeps the
			// left side's names
			a: RowOf(
				Field{Name: "a", Type: TypeOf(Int32)},
				Field{Name: "b", Type: TypeOf(String)},
			),
			b: RowOf(
				Field{Name: "x", Type: NullableOf(Int64)},
				Field{Name: "y", Type: TypeOf(String)},
			),
			want: RowOf(
				Field{Name: "a", Type: NullableOf(Int64)},
				Field{Name: "b", Type: TypeOf(String)},
			),
		},
		{
			a: RowOf(Field{Name: "a", Type: TypeOf(Int64)}),
			b: RowOf(
				Field{Name: "a", Type: TypeOf(Int64)},
				Field{Name: "b", Type: TypeOf(Int64)},
			),
			err: true,
		},
		{
			// poison absorbs anything without a second error
			a:    PoisonType,
			b:    TypeOf(String),
			want: PoisonType,
		},
	}
	for i := range tests {
		t.Run(fmt.Sprintf("case-%d", i), func(t *testing.T) {
			got, err := Common(tests[i].a, tests[i].b)
			if tests[i].err {
				if err == nil {
					t.Fatalf("Common(%s, %s): expected error, got %s", tests[i].a, tests[i].b, got)
				}
				if !got.IsPoison() {
					t.Errorf("failed unification should yield the poison type, got %s", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Common(%s, %s): %s", tests[i].a, tests[i].b, err)
			}
			if !got.Equal(tests[i].want) {
				t.Errorf("Common(%s, %s) = %s, want %s", tests[i].a, tests[i].b, got, tests[i].want)
			}
			// unification is symmetric up to field names
			back, err := Common(tests[i].b, tests[i].a)
			if err != nil {
				t.Fatalf("Common(%s, %s): %s", tests[i].b, tests[i].a, err)
			}
			if back.Kind != got.Kind || back.Nullable != got.Nullable {
				t.Errorf("asymmetric unification: %s vs %s", got, back)
			}
		})
	}
}

func TestCompatible(t *testing.T) {
	if !Compatible(PoisonType, TypeOf(String)) {
		t.Error("poison must be compatible with everything")
	}
	if Compatible(TypeOf(String), TypeOf(Int64)) {
		t.Error("string and int64 are not compatible")
	}
	if !Compatible(NullableOf(Int64), TypeOf(Int32)) {
		t.Error("numeric kinds should be compatible regardless of nullability")
	}
}

func TestTypeHashDistinct(t *testing.T) {
	types := []Type{
		TypeOf(Int64),
		NullableOf(Int64),
		TypeOf(Int32),
		TypeOf(String),
		RowOf(Field{Name: "a", Type: TypeOf(Int64)}),
		RowOf(Field{Name: "b", Type: TypeOf(Int64)}),
		RowOf(Field{Name: "a", Type: NullableOf(Int64)}),
	}
	seen := make(map[uint64]Type)
	for _, typ := range types {
		h := typ.Hash()
		if prev, ok := seen[h]; ok {
			t.Errorf("%s and %s hash alike", prev, typ)
		}
		seen[h] = typ
		if typ.Hash() != h {
			t.Errorf("%s: hash not stable", typ)
		}
	}
}
