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

package plan

import (
	"testing"

	"github.com/SnellerInc/zinc/expr"
)

func ordersTable() *TableDef {
	return &TableDef{
		Name: "orders",
		Columns: []ColumnDef{
			{Name: "id", Type: expr.TypeOf(expr.Int64), PrimaryKey: true},
			{Name: "customer", Type: expr.TypeOf(expr.String)},
			{Name: "amount", Type: expr.TypeOf(expr.Int64)},
			{Name: "tag", Type: expr.NullableOf(expr.String)},
		},
	}
}

func TestTableDef(t *testing.T) {
	def := ordersTable()
	rt := def.RowType()
	if rt.Arity() != 4 {
		t.Fatalf("arity %d", rt.Arity())
	}
	if rt.Field(0).Name != "id" || rt.Field(0).Type.Nullable {
		t.Errorf("bad first field %v", rt.Field(0))
	}
	keys := def.KeyColumns()
	if len(keys) != 1 || keys[0] != 0 {
		t.Errorf("key columns %v", keys)
	}
}

func TestJoinSchema(t *testing.T) {
	left := &Scan{Table: ordersTable()}
	right := &Scan{Table: &TableDef{
		Name: "customers",
		Columns: []ColumnDef{
			{Name: "name", Type: expr.TypeOf(expr.String), PrimaryKey: true},
			{Name: "region", Type: expr.TypeOf(expr.String)},
		},
	}}
	j := &Join{
		Kind:     Inner,
		Left:     left,
		Right:    right,
		LeftKey:  []int{1},
		RightKey: []int{0},
	}
	s := j.Schema()
	if s.Arity() != 6 {
		t.Fatalf("join schema arity %d", s.Arity())
	}
	if s.Field(4).Name != "name" {
		t.Errorf("right fields should follow left, got %v", s.Field(4))
	}
}

func TestAggregateSchema(t *testing.T) {
	a := &Aggregate{
		Input:   &Scan{Table: ordersTable()},
		GroupBy: []int{1},
		Aggs: []AggExpr{
			{Op: AggCount, Name: "n"},
			{Op: AggSum, Arg: expr.ColumnOf(ordersTable().RowType(), 2), Name: "total"},
			{Op: AggAvg, Arg: expr.ColumnOf(ordersTable().RowType(), 2), Name: "mean"},
		},
	}
	s := a.Schema()
	if s.Arity() != 4 {
		t.Fatalf("schema arity %d", s.Arity())
	}
	if s.Field(0).Name != "customer" {
		t.Errorf("group field %v", s.Field(0))
	}
	if typ := s.Field(1).Type; typ.Kind != expr.Int64 || typ.Nullable {
		t.Errorf("COUNT must be a non-nullable int64, got %s", typ)
	}
	if typ := s.Field(2).Type; !typ.Nullable {
		t.Errorf("SUM over a possibly-empty fold must be nullable, got %s", typ)
	}
	if typ := s.Field(3).Type; typ.Kind != expr.Float64 || !typ.Nullable {
		t.Errorf("AVG must be a nullable float64, got %s", typ)
	}
}

func TestAggOpInvertible(t *testing.T) {
	for _, op := range []AggOp{AggCount, AggSum, AggAvg} {
		if !op.Invertible() {
			t.Errorf("%s should be invertible", op)
		}
	}
	for _, op := range []AggOp{AggMin, AggMax} {
		if op.Invertible() {
			t.Errorf("%s is not invertible", op)
		}
	}
}

func TestSetOpSchema(t *testing.T) {
	intCol := func(name string, k expr.Kind, nullable bool) ColumnDef {
		typ := expr.Type{Kind: k, Nullable: nullable}
		return ColumnDef{Name: name, Type: typ}
	}
	left := &Scan{Table: &TableDef{Name: "a", Columns: []ColumnDef{intCol("v", expr.Int32, false)}}}
	right := &Scan{Table: &TableDef{Name: "b", Columns: []ColumnDef{intCol("w", expr.Int64, true)}}}
	s := (&SetOp{Op: Union, All: true, Left: left, Right: right}).Schema()
	if s.Arity() != 1 {
		t.Fatalf("schema %s", s)
	}
	f := s.Field(0)
	if f.Name != "v" || f.Type.Kind != expr.Int64 || !f.Type.Nullable {
		t.Errorf("unified field %v", f)
	}

	bad := &Scan{Table: &TableDef{Name: "c", Columns: []ColumnDef{intCol("s", expr.String, false)}}}
	if s := (&SetOp{Op: Union, Left: left, Right: bad}).Schema(); !s.IsPoison() {
		t.Errorf("ununifiable set operation should poison, got %s", s)
	}
}

func TestPivotSchema(t *testing.T) {
	p := &Pivot{
		Input:    &Scan{Table: ordersTable()},
		GroupBy:  []int{1},
		PivotCol: 3,
		Values:   []*expr.Literal{expr.Str("red"), expr.Str("blue")},
		Agg:      AggExpr{Op: AggSum, Arg: expr.ColumnOf(ordersTable().RowType(), 2)},
	}
	s := p.Schema()
	if s.Arity() != 3 {
		t.Fatalf("schema %s", s)
	}
	if s.Field(1).Name != "red" || s.Field(2).Name != "blue" {
		t.Errorf("pivot column names %s", s)
	}
	for i := 1; i < 3; i++ {
		if !s.Field(i).Type.Nullable {
			t.Errorf("pivot cells must be nullable, got %s", s.Field(i).Type)
		}
	}
}

func TestWindowSchema(t *testing.T) {
	w := &Window{
		Input:       &Scan{Table: ordersTable()},
		PartitionBy: []int{1},
		OrderBy:     []OrderKey{{Col: 2}},
		Frame:       WholePartition(),
		Funcs: []WindowFunc{
			{Kind: WinRowNumber, Name: "rn"},
			{Kind: WinAgg, Agg: AggExpr{Op: AggSum, Arg: expr.ColumnOf(ordersTable().RowType(), 2)}, Name: "running"},
		},
	}
	s := w.Schema()
	if s.Arity() != 6 {
		t.Fatalf("schema %s", s)
	}
	if s.Field(4).Name != "rn" || s.Field(4).Type.Kind != expr.Int64 {
		t.Errorf("row_number column %v", s.Field(4))
	}
}
