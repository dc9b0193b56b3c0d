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

// Package plan defines the validated relational plan that
// the circuit compiler consumes.
//
// Producing a plan (parsing, name resolution, type checking,
// constraint validation) is the front end's job; everything
// in this package arrives with resolved output row types and
// fully typed expressions. The lowering pass in the circuit
// package treats a malformed plan as a broken upstream
// contract, not a user error.
package plan

import (
	"fmt"

	"github.com/SnellerInc/zinc/diag"
	"github.com/SnellerInc/zinc/expr"
)

// ColumnDef is the declared metadata of one base-table column.
type ColumnDef struct {
	Name string
	Type expr.Type
	// PrimaryKey marks the column as part of the table's
	// primary key.
	PrimaryKey bool
	// Lateness, if non-nil, is a constant expression bounding
	// how out-of-order this column's values may arrive. The
	// compiler only threads it through to the Source operator;
	// retraction policy is the runtime's concern.
	Lateness expr.Node
}

// TableDef describes a base table.
type TableDef struct {
	Name    string
	Columns []ColumnDef
}

// RowType returns the row type of one table row.
func (d *TableDef) RowType() expr.Type {
	fields := make([]expr.Field, len(d.Columns))
	for i := range d.Columns {
		fields[i] = expr.Field{Name: d.Columns[i].Name, Type: d.Columns[i].Type}
	}
	return expr.RowOf(fields...)
}

// KeyColumns returns the indices of the primary-key columns.
func (d *TableDef) KeyColumns() []int {
	var keys []int
	for i := range d.Columns {
		if d.Columns[i].PrimaryKey {
			keys = append(keys, i)
		}
	}
	return keys
}

// Node is one relational plan operator. Every node exposes
// its resolved output row type and the source span it came
// from (for diagnostics).
type Node interface {
	Schema() expr.Type
	At() diag.Span
}

// span is embedded by all plan nodes.
type span struct {
	Span diag.Span
}

func (s *span) At() diag.Span { return s.Span }

// Scan reads a base table.
type Scan struct {
	span
	Table *TableDef
}

func (s *Scan) Schema() expr.Type { return s.Table.RowType() }

// Filter keeps the input rows satisfying Pred, a boolean
// row transform over the input schema. A NULL predicate
// result drops the row.
type Filter struct {
	span
	Input Node
	Pred  *expr.RowFunc
}

func (f *Filter) Schema() expr.Type { return f.Input.Schema() }

// Project applies a row transform to every input row.
type Project struct {
	span
	Input Node
	Fn    *expr.RowFunc
}

func (p *Project) Schema() expr.Type { return p.Fn.Type() }

// JoinKind discriminates join shapes.
type JoinKind int

const (
	// Inner is an equi-join on the key columns.
	Inner JoinKind = iota
	// Dependent is the de-correlated shape of a correlated
	// sub-query: the correlation columns become the join key.
	// Its lowering is identical to Inner; the distinction is
	// kept for diagnostics.
	Dependent
)

func (k JoinKind) String() string {
	if k == Dependent {
		return "dependent join"
	}
	return "join"
}

// Join matches rows of Left and Right whose key columns are
// equal, concatenating the matched rows. On, if non-nil, is
// a residual boolean predicate over the concatenated row.
type Join struct {
	span
	Kind     JoinKind
	Left     Node
	Right    Node
	LeftKey  []int
	RightKey []int
	On       *expr.RowFunc
}

func (j *Join) Schema() expr.Type {
	l, r := j.Left.Schema(), j.Right.Schema()
	fields := make([]expr.Field, 0, l.Arity()+r.Arity())
	fields = append(fields, l.Fields...)
	fields = append(fields, r.Fields...)
	return expr.RowOf(fields...)
}

// AggOp is one of the aggregate fold operations.
type AggOp int

const (
	AggCount AggOp = iota // COUNT(*) when Arg is nil
	AggSum
	AggMin
	AggMax
	AggAvg
)

func (o AggOp) String() string {
	switch o {
	case AggCount:
		return "count"
	case AggSum:
		return "sum"
	case AggMin:
		return "min"
	case AggMax:
		return "max"
	case AggAvg:
		return "avg"
	default:
		return "agg(?)"
	}
}

// Invertible returns whether the fold can un-apply a
// retracted row without rescanning its group. MIN/MAX
// are not; their operators keep per-group value multisets
// instead.
func (o AggOp) Invertible() bool {
	switch o {
	case AggCount, AggSum, AggAvg:
		return true
	}
	return false
}

// AggExpr is one aggregate computation within an Aggregate
// or Window node.
type AggExpr struct {
	Op AggOp
	// Arg is the aggregated expression over the input row;
	// nil means COUNT(*).
	Arg expr.Node
	// Distinct collapses duplicate Arg values within the
	// group before folding.
	Distinct bool
	// Filter, if non-nil, restricts the fold to rows where
	// it evaluates to TRUE (aggregate FILTER clause; also
	// the shape PIVOT lowers into).
	Filter expr.Node
	// Name is the output column name.
	Name string
}

// ResultType returns the output type of the aggregate.
func (a *AggExpr) ResultType() expr.Type {
	switch a.Op {
	case AggCount:
		return expr.TypeOf(expr.Int64)
	case AggAvg:
		return expr.NullableOf(expr.Float64)
	default:
		// SUM/MIN/MAX are NULL over the empty group
		return a.Arg.Type().AsNullable()
	}
}

// Aggregate groups the input by the GroupBy columns and
// folds every AggExpr per group. The output row is the
// group-by columns followed by one column per aggregate.
type Aggregate struct {
	span
	Input   Node
	GroupBy []int
	Aggs    []AggExpr
}

func (a *Aggregate) Schema() expr.Type {
	in := a.Input.Schema()
	fields := make([]expr.Field, 0, len(a.GroupBy)+len(a.Aggs))
	for _, col := range a.GroupBy {
		fields = append(fields, in.Field(col))
	}
	for i := range a.Aggs {
		fields = append(fields, expr.Field{Name: a.Aggs[i].Name, Type: a.Aggs[i].ResultType()})
	}
	return expr.RowOf(fields...)
}

// Distinct collapses duplicate rows.
type Distinct struct {
	span
	Input Node
}

func (d *Distinct) Schema() expr.Type { return d.Input.Schema() }

// SetOpKind is the set operation applied to two inputs.
type SetOpKind int

const (
	Union     SetOpKind = iota // weights add
	Except                     // weights subtract
	Intersect                  // weights min
)

func (k SetOpKind) String() string {
	switch k {
	case Union:
		return "union"
	case Except:
		return "except"
	case Intersect:
		return "intersect"
	default:
		return "setop(?)"
	}
}

// SetOp combines two inputs with compatible schemas.
// The non-ALL forms append a Distinct normalization
// during lowering.
type SetOp struct {
	span
	Op          SetOpKind
	All         bool
	Left, Right Node
}

func (s *SetOp) Schema() expr.Type {
	t, err := expr.Common(s.Left.Schema(), s.Right.Schema())
	if err != nil {
		return expr.PoisonType
	}
	return t
}

// OrderKey is one ORDER BY key. If Ordinal is positive it
// names the Ordinal'th (1-based) output column of the
// enclosing projection and is resolved to a column index
// at lowering time; otherwise Col is the column index.
type OrderKey struct {
	Col     int
	Ordinal int
	Desc    bool
}

// FrameBoundKind positions one end of a window frame.
type FrameBoundKind int

const (
	Unbounded FrameBoundKind = iota
	Preceding
	CurrentRow
	Following
)

// FrameBound is one end of a window frame.
type FrameBound struct {
	Kind FrameBoundKind
	// Offset is the row (ROWS mode) or value (RANGE mode)
	// distance for Preceding/Following bounds.
	Offset int64
}

// FrameMode selects how frame bounds are interpreted.
type FrameMode int

const (
	Rows FrameMode = iota
	Range
)

// Frame is a window frame specification.
type Frame struct {
	Mode  FrameMode
	Start FrameBound
	End   FrameBound
}

// WholePartition is the UNBOUNDED PRECEDING..UNBOUNDED
// FOLLOWING frame.
func WholePartition() Frame {
	return Frame{Mode: Rows, Start: FrameBound{Kind: Unbounded}, End: FrameBound{Kind: Unbounded}}
}

// WindowFuncKind discriminates window computations.
type WindowFuncKind int

const (
	// WinAgg evaluates Agg over the frame.
	WinAgg WindowFuncKind = iota
	// WinRowNumber, WinRank and WinDenseRank share one
	// ordering pass; gaps-vs-no-gaps is only a difference
	// in the per-tie-group fold.
	WinRowNumber
	WinRank
	WinDenseRank
)

func (k WindowFuncKind) String() string {
	switch k {
	case WinAgg:
		return "agg"
	case WinRowNumber:
		return "row_number"
	case WinRank:
		return "rank"
	case WinDenseRank:
		return "dense_rank"
	}
	return fmt.Sprintf("WindowFuncKind(%d)", int(k))
}

// WindowFunc is one windowed computation.
type WindowFunc struct {
	Kind WindowFuncKind
	Agg  AggExpr // valid iff Kind == WinAgg
	Name string
}

// ResultType returns the output type of the window function.
func (w *WindowFunc) ResultType() expr.Type {
	if w.Kind == WinAgg {
		return w.Agg.ResultType()
	}
	return expr.TypeOf(expr.Int64)
}

// Window partitions the input by PartitionBy, orders each
// partition by OrderBy, and appends one output column per
// function, evaluated over each row's frame. The output row
// is the input row followed by the function columns.
type Window struct {
	span
	Input       Node
	PartitionBy []int
	OrderBy     []OrderKey
	Frame       Frame
	Funcs       []WindowFunc
}

func (w *Window) Schema() expr.Type {
	in := w.Input.Schema()
	fields := make([]expr.Field, 0, in.Arity()+len(w.Funcs))
	fields = append(fields, in.Fields...)
	for i := range w.Funcs {
		fields = append(fields, expr.Field{Name: w.Funcs[i].Name, Type: w.Funcs[i].ResultType()})
	}
	return expr.RowOf(fields...)
}

// Pivot turns the distinct Values of the pivot column into
// output columns, each holding Agg over the rows that match
// the value. Result cardinality matches GROUP BY over the
// non-pivoted keys: a group with no matching pivot rows
// still yields one row with NULL pivot columns.
type Pivot struct {
	span
	Input    Node
	GroupBy  []int
	PivotCol int
	Values   []*expr.Literal
	Agg      AggExpr
}

func (p *Pivot) Schema() expr.Type {
	in := p.Input.Schema()
	fields := make([]expr.Field, 0, len(p.GroupBy)+len(p.Values))
	for _, col := range p.GroupBy {
		fields = append(fields, in.Field(col))
	}
	t := p.Agg.ResultType().AsNullable()
	for i := range p.Values {
		fields = append(fields, expr.Field{Name: pivotName(p.Values[i]), Type: t})
	}
	return expr.RowOf(fields...)
}

func pivotName(l *expr.Literal) string {
	if s, ok := l.Value.(string); ok {
		return s
	}
	return expr.ToString(l)
}

// View is one declared output of the program.
type View struct {
	Name string
	Body Node
	// Materialized views integrate their deltas so the
	// sink observes current state rather than changes.
	Materialized bool
}

// Program is a compilation unit: the base tables plus the
// views computed from them.
type Program struct {
	Tables []*TableDef
	Views  []*View
}

// Table looks up a table definition by name.
func (p *Program) Table(name string) *TableDef {
	for _, t := range p.Tables {
		if t.Name == name {
			return t
		}
	}
	return nil
}
