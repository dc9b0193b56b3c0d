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

package circuit

import (
	"fmt"
	"io"
	"strings"

	"github.com/SnellerInc/zinc/expr"
	"github.com/SnellerInc/zinc/plan"

	"golang.org/x/exp/slices"
)

// Handle is the stable arena index of an operator within
// its Circuit. Operators reference their inputs by handle
// only; they never hold a pointer to the Circuit or to
// each other, so rewrites can clone freely.
type Handle int32

// Invalid is the nil handle.
const Invalid Handle = -1

// Op is one circuit operator. Operator identity is the
// handle, not the structure: two structurally identical
// operators stay distinct until the dedup pass merges them
// explicitly.
//
// All operators process weighted multisets (Z-sets): each
// row carries an integer weight, positive for presence,
// negative for retraction; zero net weight means absence.
type Op interface {
	// Inputs returns the input handles in order.
	Inputs() []Handle
	// OutType is the resolved output row type.
	OutType() expr.Type

	// clone returns a copy of the operator with every input
	// handle remapped through m. Payloads are shared (they
	// are immutable).
	clone(m func(Handle) Handle) Op
	// equals compares operators structurally, inputs included.
	equals(Op) bool
	// mapExprs returns a copy with fn applied to every
	// embedded expression payload.
	mapExprs(fn func(expr.Node) expr.Node) Op
	describe(dst io.Writer)
	appendHash(buf []byte) []byte
}

func mapHandles(hs []Handle, m func(Handle) Handle) []Handle {
	out := make([]Handle, len(hs))
	for i := range hs {
		out[i] = m(hs[i])
	}
	return out
}

func mapFunc(f *expr.RowFunc, fn func(expr.Node) expr.Node) *expr.RowFunc {
	if f == nil {
		return nil
	}
	body := fn(f.Body)
	if body == f.Body {
		return f
	}
	return &expr.RowFunc{In: f.In, Body: body}
}

func mapAggs(aggs []plan.AggExpr, fn func(expr.Node) expr.Node) []plan.AggExpr {
	out := slices.Clone(aggs)
	for i := range out {
		if out[i].Arg != nil {
			out[i].Arg = fn(out[i].Arg)
		}
		if out[i].Filter != nil {
			out[i].Filter = fn(out[i].Filter)
		}
	}
	return out
}

func aggEqual(a, b plan.AggExpr) bool {
	return a.Op == b.Op && a.Distinct == b.Distinct && a.Name == b.Name &&
		expr.Equal(a.Arg, b.Arg) && expr.Equal(a.Filter, b.Filter)
}

func appendHandleHash(buf []byte, hs ...Handle) []byte {
	for _, h := range hs {
		buf = append(buf, byte(h), byte(h>>8), byte(h>>16), byte(h>>24))
	}
	return buf
}

func appendIntsHash(buf []byte, xs []int) []byte {
	buf = append(buf, byte(len(xs)))
	for _, x := range xs {
		buf = append(buf, byte(x), byte(x>>8))
	}
	return buf
}

func appendAggsHash(buf []byte, aggs []plan.AggExpr) []byte {
	buf = append(buf, byte(len(aggs)))
	for i := range aggs {
		buf = append(buf, byte(aggs[i].Op))
		if aggs[i].Distinct {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
		buf = append(buf, aggs[i].Name...)
		if aggs[i].Arg != nil {
			buf = expr.AppendHash(buf, aggs[i].Arg)
		}
		if aggs[i].Filter != nil {
			buf = expr.AppendHash(buf, aggs[i].Filter)
		}
	}
	return buf
}

// ColumnMeta is the per-column metadata a Source carries
// forward from the table declaration.
type ColumnMeta struct {
	Name       string
	Type       expr.Type
	PrimaryKey bool
	// Lateness is the declared constant bound on how
	// out-of-order this column may arrive, or nil.
	Lateness expr.Node
}

// Source represents a base table: the entry point for an
// external delta stream of weighted rows.
type Source struct {
	Table   string
	Columns []ColumnMeta
	Out     expr.Type
}

func (s *Source) Inputs() []Handle                      { return nil }
func (s *Source) OutType() expr.Type                    { return s.Out }
func (s *Source) clone(func(Handle) Handle) Op          { c := *s; return &c }
func (s *Source) mapExprs(func(expr.Node) expr.Node) Op { return s }

func (s *Source) equals(o Op) bool {
	so, ok := o.(*Source)
	return ok && s.Table == so.Table && s.Out.Equal(so.Out) &&
		slices.EqualFunc(s.Columns, so.Columns, func(a, b ColumnMeta) bool {
			return a.Name == b.Name && a.PrimaryKey == b.PrimaryKey &&
				a.Type.Equal(b.Type) && expr.Equal(a.Lateness, b.Lateness)
		})
}

func (s *Source) describe(dst io.Writer) {
	fmt.Fprintf(dst, "source %s %s", s.Table, s.Out)
}

func (s *Source) appendHash(buf []byte) []byte {
	buf = append(buf, 'S')
	buf = append(buf, s.Table...)
	return buf
}

// Map applies a row transform to every row; weights are
// preserved.
type Map struct {
	In Handle
	Fn *expr.RowFunc
}

func (m *Map) Inputs() []Handle   { return []Handle{m.In} }
func (m *Map) OutType() expr.Type { return m.Fn.Type() }

func (m *Map) clone(f func(Handle) Handle) Op {
	return &Map{In: f(m.In), Fn: m.Fn}
}

func (m *Map) mapExprs(fn func(expr.Node) expr.Node) Op {
	return &Map{In: m.In, Fn: mapFunc(m.Fn, fn)}
}

func (m *Map) equals(o Op) bool {
	mo, ok := o.(*Map)
	return ok && m.In == mo.In && m.Fn.Equals(mo.Fn)
}

func (m *Map) describe(dst io.Writer) {
	fmt.Fprintf(dst, "map %s", expr.ToString(m.Fn))
}

func (m *Map) appendHash(buf []byte) []byte {
	buf = append(buf, 'M')
	buf = appendHandleHash(buf, m.In)
	return expr.AppendHash(buf, m.Fn)
}

// Filter keeps rows whose predicate evaluates to TRUE;
// FALSE and NULL both drop the row (a null contribution
// simply never reaches the output).
type Filter struct {
	In   Handle
	Pred *expr.RowFunc
	Out  expr.Type
}

func (f *Filter) Inputs() []Handle   { return []Handle{f.In} }
func (f *Filter) OutType() expr.Type { return f.Out }

func (f *Filter) clone(m func(Handle) Handle) Op {
	c := *f
	c.In = m(f.In)
	return &c
}

func (f *Filter) mapExprs(fn func(expr.Node) expr.Node) Op {
	c := *f
	c.Pred = mapFunc(f.Pred, fn)
	return &c
}

func (f *Filter) equals(o Op) bool {
	fo, ok := o.(*Filter)
	return ok && f.In == fo.In && f.Pred.Equals(fo.Pred)
}

func (f *Filter) describe(dst io.Writer) {
	fmt.Fprintf(dst, "filter %s", expr.ToString(f.Pred))
}

func (f *Filter) appendHash(buf []byte) []byte {
	buf = append(buf, 'F')
	buf = appendHandleHash(buf, f.In)
	return expr.AppendHash(buf, f.Pred)
}

// Join matches rows across its two inputs on equal key
// columns and emits the concatenated row with the product
// of the input weights. Both sides maintain indexed state:
// a delta on either side joins against the full current
// content of the other.
type Join struct {
	Kind     plan.JoinKind
	Left     Handle
	Right    Handle
	LeftKey  []int
	RightKey []int
	// On is an optional residual predicate over the
	// concatenated row.
	On  *expr.RowFunc
	Out expr.Type
}

func (j *Join) Inputs() []Handle   { return []Handle{j.Left, j.Right} }
func (j *Join) OutType() expr.Type { return j.Out }

func (j *Join) clone(m func(Handle) Handle) Op {
	c := *j
	c.Left = m(j.Left)
	c.Right = m(j.Right)
	return &c
}

func (j *Join) mapExprs(fn func(expr.Node) expr.Node) Op {
	c := *j
	c.On = mapFunc(j.On, fn)
	return &c
}

func (j *Join) equals(o Op) bool {
	jo, ok := o.(*Join)
	return ok && j.Kind == jo.Kind && j.Left == jo.Left && j.Right == jo.Right &&
		slices.Equal(j.LeftKey, jo.LeftKey) && slices.Equal(j.RightKey, jo.RightKey) &&
		(j.On == nil) == (jo.On == nil) &&
		(j.On == nil || j.On.Equals(jo.On)) &&
		j.Out.Equal(jo.Out)
}

func (j *Join) describe(dst io.Writer) {
	fmt.Fprintf(dst, "%s on %v=%v", j.Kind, j.LeftKey, j.RightKey)
	if j.On != nil {
		fmt.Fprintf(dst, " where %s", expr.ToString(j.On))
	}
}

func (j *Join) appendHash(buf []byte) []byte {
	buf = append(buf, 'J', byte(j.Kind))
	buf = appendHandleHash(buf, j.Left, j.Right)
	buf = appendIntsHash(buf, j.LeftKey)
	buf = appendIntsHash(buf, j.RightKey)
	if j.On != nil {
		buf = expr.AppendHash(buf, j.On)
	}
	return buf
}

// Aggregate groups its input by the GroupBy columns and
// folds each AggExpr per group. Folds for invertible
// operations un-apply retracted rows directly; MIN/MAX
// keep per-group value state. The output is conceptually
// indexed by the group key; lowering appends a Deindex to
// expose it as a plain row stream.
type Aggregate struct {
	In      Handle
	GroupBy []int
	Aggs    []plan.AggExpr
	Out     expr.Type
}

func (a *Aggregate) Inputs() []Handle   { return []Handle{a.In} }
func (a *Aggregate) OutType() expr.Type { return a.Out }

func (a *Aggregate) clone(m func(Handle) Handle) Op {
	c := *a
	c.In = m(a.In)
	return &c
}

func (a *Aggregate) mapExprs(fn func(expr.Node) expr.Node) Op {
	c := *a
	c.Aggs = mapAggs(a.Aggs, fn)
	return &c
}

func (a *Aggregate) equals(o Op) bool {
	ao, ok := o.(*Aggregate)
	return ok && a.In == ao.In && slices.Equal(a.GroupBy, ao.GroupBy) &&
		slices.EqualFunc(a.Aggs, ao.Aggs, aggEqual) && a.Out.Equal(ao.Out)
}

func (a *Aggregate) describe(dst io.Writer) {
	fmt.Fprintf(dst, "aggregate by %v", a.GroupBy)
	for i := range a.Aggs {
		dst.Write([]byte{' '})
		io.WriteString(dst, describeAgg(&a.Aggs[i]))
	}
}

func describeAgg(a *plan.AggExpr) string {
	var sb strings.Builder
	sb.WriteString(a.Op.String())
	sb.WriteByte('(')
	if a.Distinct {
		sb.WriteString("distinct ")
	}
	if a.Arg == nil {
		sb.WriteByte('*')
	} else {
		sb.WriteString(expr.ToString(a.Arg))
	}
	sb.WriteByte(')')
	if a.Filter != nil {
		sb.WriteString(" filter ")
		sb.WriteString(expr.ToString(a.Filter))
	}
	return sb.String()
}

func describeWindowFunc(w *plan.WindowFunc) string {
	if w.Kind == plan.WinAgg {
		return w.Name + "=" + describeAgg(&w.Agg)
	}
	return w.Name + "=" + w.Kind.String() + "()"
}

func (a *Aggregate) appendHash(buf []byte) []byte {
	buf = append(buf, 'A')
	buf = appendHandleHash(buf, a.In)
	buf = appendIntsHash(buf, a.GroupBy)
	return appendAggsHash(buf, a.Aggs)
}

// Distinct collapses the multiset to one copy of every row
// with positive net weight ("weight presence" tracking), so
// repeated inserts and deletes converge.
type Distinct struct {
	In  Handle
	Out expr.Type
}

func (d *Distinct) Inputs() []Handle                      { return []Handle{d.In} }
func (d *Distinct) OutType() expr.Type                    { return d.Out }
func (d *Distinct) mapExprs(func(expr.Node) expr.Node) Op { return d }

func (d *Distinct) clone(m func(Handle) Handle) Op {
	return &Distinct{In: m(d.In), Out: d.Out}
}

func (d *Distinct) equals(o Op) bool {
	do, ok := o.(*Distinct)
	return ok && d.In == do.In && d.Out.Equal(do.Out)
}

func (d *Distinct) describe(dst io.Writer) {
	io.WriteString(dst, "distinct")
}

func (d *Distinct) appendHash(buf []byte) []byte {
	buf = append(buf, 'D')
	return appendHandleHash(buf, d.In)
}

// OrderSpec is one resolved window ordering key.
type OrderSpec struct {
	Col  int
	Desc bool
}

// Window partitions by key, orders within each partition,
// and appends one column per function evaluated over each
// row's frame. Functions sharing the same partition/order
// keys are fused into a single Window during lowering so
// partition and sort state is kept once.
type Window struct {
	In          Handle
	PartitionBy []int
	OrderBy     []OrderSpec
	Frame       plan.Frame
	Funcs       []plan.WindowFunc
	Out         expr.Type
}

func (w *Window) Inputs() []Handle   { return []Handle{w.In} }
func (w *Window) OutType() expr.Type { return w.Out }

func (w *Window) clone(m func(Handle) Handle) Op {
	c := *w
	c.In = m(w.In)
	return &c
}

func (w *Window) mapExprs(fn func(expr.Node) expr.Node) Op {
	c := *w
	c.Funcs = slices.Clone(w.Funcs)
	for i := range c.Funcs {
		if c.Funcs[i].Kind == plan.WinAgg {
			if c.Funcs[i].Agg.Arg != nil {
				c.Funcs[i].Agg.Arg = fn(c.Funcs[i].Agg.Arg)
			}
			if c.Funcs[i].Agg.Filter != nil {
				c.Funcs[i].Agg.Filter = fn(c.Funcs[i].Agg.Filter)
			}
		}
	}
	return &c
}

func (w *Window) equals(o Op) bool {
	wo, ok := o.(*Window)
	return ok && w.In == wo.In &&
		slices.Equal(w.PartitionBy, wo.PartitionBy) &&
		slices.Equal(w.OrderBy, wo.OrderBy) &&
		w.Frame == wo.Frame &&
		slices.EqualFunc(w.Funcs, wo.Funcs, func(a, b plan.WindowFunc) bool {
			return a.Kind == b.Kind && a.Name == b.Name && aggEqual(a.Agg, b.Agg)
		}) &&
		w.Out.Equal(wo.Out)
}

func (w *Window) describe(dst io.Writer) {
	fmt.Fprintf(dst, "window partition %v order %v funcs %d", w.PartitionBy, w.OrderBy, len(w.Funcs))
}

func (w *Window) appendHash(buf []byte) []byte {
	buf = append(buf, 'W')
	buf = appendHandleHash(buf, w.In)
	buf = appendIntsHash(buf, w.PartitionBy)
	for _, o := range w.OrderBy {
		buf = append(buf, byte(o.Col))
		if o.Desc {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	}
	buf = append(buf, byte(w.Frame.Mode), byte(w.Frame.Start.Kind), byte(w.Frame.End.Kind))
	buf = append(buf, byte(len(w.Funcs)))
	for i := range w.Funcs {
		buf = append(buf, byte(w.Funcs[i].Kind))
		buf = append(buf, w.Funcs[i].Name...)
	}
	return buf
}

// SetOp combines two weighted streams by per-row weight
// addition (UNION ALL), subtraction (EXCEPT ALL), or
// minimum (INTERSECT ALL). The non-ALL forms are lowered
// as SetOp bracketed by Distinct stages.
type SetOp struct {
	Kind  plan.SetOpKind
	Left  Handle
	Right Handle
	Out   expr.Type
}

func (s *SetOp) Inputs() []Handle                      { return []Handle{s.Left, s.Right} }
func (s *SetOp) OutType() expr.Type                    { return s.Out }
func (s *SetOp) mapExprs(func(expr.Node) expr.Node) Op { return s }

func (s *SetOp) clone(m func(Handle) Handle) Op {
	return &SetOp{Kind: s.Kind, Left: m(s.Left), Right: m(s.Right), Out: s.Out}
}

func (s *SetOp) equals(o Op) bool {
	so, ok := o.(*SetOp)
	return ok && s.Kind == so.Kind && s.Left == so.Left && s.Right == so.Right && s.Out.Equal(so.Out)
}

func (s *SetOp) describe(dst io.Writer) {
	fmt.Fprintf(dst, "%s all", s.Kind)
}

func (s *SetOp) appendHash(buf []byte) []byte {
	buf = append(buf, 'U', byte(s.Kind))
	return appendHandleHash(buf, s.Left, s.Right)
}

// Deindex strips the internal index wrapper of a keyed
// stream down to a plain row stream. No later stage
// benefits from the distinction, so the canonicalization
// pass rewrites every Deindex into the equivalent Map.
type Deindex struct {
	In Handle
	Fn *expr.RowFunc
}

func (d *Deindex) Inputs() []Handle   { return []Handle{d.In} }
func (d *Deindex) OutType() expr.Type { return d.Fn.Type() }

func (d *Deindex) clone(m func(Handle) Handle) Op {
	return &Deindex{In: m(d.In), Fn: d.Fn}
}

func (d *Deindex) mapExprs(fn func(expr.Node) expr.Node) Op {
	return &Deindex{In: d.In, Fn: mapFunc(d.Fn, fn)}
}

func (d *Deindex) equals(o Op) bool {
	do, ok := o.(*Deindex)
	return ok && d.In == do.In && d.Fn.Equals(do.Fn)
}

func (d *Deindex) describe(dst io.Writer) {
	io.WriteString(dst, "deindex")
}

func (d *Deindex) appendHash(buf []byte) []byte {
	buf = append(buf, 'X')
	buf = appendHandleHash(buf, d.In)
	return expr.AppendHash(buf, d.Fn)
}

// Delay holds its input stream for one logical tick: the
// output at step t is the input at step t-1. Delay is the
// only operator through which the circuit may contain a
// cycle; its input may be bound to an operator added later
// (see Circuit.BindDelay).
type Delay struct {
	In  Handle
	Out expr.Type
}

func (d *Delay) Inputs() []Handle                      { return []Handle{d.In} }
func (d *Delay) OutType() expr.Type                    { return d.Out }
func (d *Delay) mapExprs(func(expr.Node) expr.Node) Op { return d }

func (d *Delay) clone(m func(Handle) Handle) Op {
	return &Delay{In: m(d.In), Out: d.Out}
}

func (d *Delay) equals(o Op) bool {
	do, ok := o.(*Delay)
	return ok && d.In == do.In && d.Out.Equal(do.Out)
}

func (d *Delay) describe(dst io.Writer) {
	io.WriteString(dst, "delay")
}

func (d *Delay) appendHash(buf []byte) []byte {
	buf = append(buf, 'Z')
	return appendHandleHash(buf, d.In)
}

// Integrate accumulates every delta seen so far into a
// running total, materializing the current state of a
// stream that otherwise only carries changes.
type Integrate struct {
	In  Handle
	Out expr.Type
}

func (i *Integrate) Inputs() []Handle                      { return []Handle{i.In} }
func (i *Integrate) OutType() expr.Type                    { return i.Out }
func (i *Integrate) mapExprs(func(expr.Node) expr.Node) Op { return i }

func (i *Integrate) clone(m func(Handle) Handle) Op {
	return &Integrate{In: m(i.In), Out: i.Out}
}

func (i *Integrate) equals(o Op) bool {
	io_, ok := o.(*Integrate)
	return ok && i.In == io_.In && i.Out.Equal(io_.Out)
}

func (i *Integrate) describe(dst io.Writer) {
	io.WriteString(dst, "integrate")
}

func (i *Integrate) appendHash(buf []byte) []byte {
	buf = append(buf, 'I')
	return appendHandleHash(buf, i.In)
}

// Differentiate is the inverse of Integrate: it emits the
// change between consecutive steps of a state stream.
type Differentiate struct {
	In  Handle
	Out expr.Type
}

func (d *Differentiate) Inputs() []Handle                      { return []Handle{d.In} }
func (d *Differentiate) OutType() expr.Type                    { return d.Out }
func (d *Differentiate) mapExprs(func(expr.Node) expr.Node) Op { return d }

func (d *Differentiate) clone(m func(Handle) Handle) Op {
	return &Differentiate{In: m(d.In), Out: d.Out}
}

func (d *Differentiate) equals(o Op) bool {
	do, ok := o.(*Differentiate)
	return ok && d.In == do.In && d.Out.Equal(do.Out)
}

func (d *Differentiate) describe(dst io.Writer) {
	io.WriteString(dst, "differentiate")
}

func (d *Differentiate) appendHash(buf []byte) []byte {
	buf = append(buf, 'd')
	return appendHandleHash(buf, d.In)
}

// Sink marks a declared view output. The code generator
// reads the circuit's sinks to know what to emit.
type Sink struct {
	View string
	In   Handle
	Out  expr.Type
}

func (s *Sink) Inputs() []Handle                      { return []Handle{s.In} }
func (s *Sink) OutType() expr.Type                    { return s.Out }
func (s *Sink) mapExprs(func(expr.Node) expr.Node) Op { return s }

func (s *Sink) clone(m func(Handle) Handle) Op {
	return &Sink{View: s.View, In: m(s.In), Out: s.Out}
}

func (s *Sink) equals(o Op) bool {
	so, ok := o.(*Sink)
	return ok && s.View == so.View && s.In == so.In && s.Out.Equal(so.Out)
}

func (s *Sink) describe(dst io.Writer) {
	fmt.Fprintf(dst, "sink %s", s.View)
}

func (s *Sink) appendHash(buf []byte) []byte {
	buf = append(buf, 'K')
	buf = append(buf, s.View...)
	return appendHandleHash(buf, s.In)
}
