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
	"errors"
	"fmt"

	"github.com/SnellerInc/zinc/diag"
	"github.com/SnellerInc/zinc/expr"
	"github.com/SnellerInc/zinc/plan"

	"golang.org/x/exp/slices"
)

// ErrRejected is returned by Build when the program cannot
// be lowered; the details are in the diagnostics reported
// to the caller's Reporter.
var ErrRejected = errors.New("program rejected; see diagnostics")

// Build lowers a validated program into a circuit. Every
// problem found on the way is reported to r; if any of them
// is an error, Build returns (nil, ErrRejected) rather than
// a partial circuit.
//
// Internal invariant violations (a malformed plan slipping
// past validation) panic during lowering; Build recovers
// them into a Fatal diagnostic.
func Build(prog *plan.Program, r diag.Reporter) (c *Circuit, err error) {
	b := &builder{
		c:       New(),
		r:       &countReporter{r: r},
		prog:    prog,
		sources: make(map[string]Handle, len(prog.Tables)),
		used:    make(map[string]bool),
	}
	defer func() {
		if e := recover(); e != nil {
			b.r.Report(diag.Fatal, diag.NoSpan, fmt.Errorf("internal error: %v", e))
			c, err = nil, ErrRejected
		}
	}()
	for _, t := range prog.Tables {
		if _, ok := b.sources[t.Name]; ok {
			diag.Errorf(b.r, diag.NoSpan, "table %q declared twice", t.Name)
			continue
		}
		b.sources[t.Name] = b.c.Add(sourceOf(t))
	}
	seen := make(map[string]bool, len(prog.Views))
	for _, v := range prog.Views {
		if seen[v.Name] {
			diag.Errorf(b.r, v.Body.At(), "view %q declared twice", v.Name)
			continue
		}
		seen[v.Name] = true
		b.lowerView(v)
	}
	for _, t := range prog.Tables {
		if !b.used[t.Name] {
			diag.Warnf(b.r, diag.NoSpan, "table %q is never read", t.Name)
		}
	}
	if b.r.errs > 0 {
		return nil, ErrRejected
	}
	if err := b.c.Validate(); err != nil {
		b.r.Report(diag.Fatal, diag.NoSpan, err)
		return nil, ErrRejected
	}
	return b.c, nil
}

// countReporter forwards to the caller's reporter and keeps
// the error count the Build boundary decides on.
type countReporter struct {
	r    diag.Reporter
	errs int
}

func (c *countReporter) Report(s diag.Severity, at diag.Span, err error) {
	if s >= diag.Error {
		c.errs++
	}
	c.r.Report(s, at, err)
}

type builder struct {
	c       *Circuit
	r       *countReporter
	prog    *plan.Program
	sources map[string]Handle
	used    map[string]bool
}

func sourceOf(t *plan.TableDef) *Source {
	cols := make([]ColumnMeta, len(t.Columns))
	for i := range t.Columns {
		cols[i] = ColumnMeta{
			Name:       t.Columns[i].Name,
			Type:       t.Columns[i].Type,
			PrimaryKey: t.Columns[i].PrimaryKey,
			Lateness:   t.Columns[i].Lateness,
		}
	}
	return &Source{Table: t.Name, Columns: cols, Out: t.RowType()}
}

func (b *builder) typ(h Handle) expr.Type {
	return b.c.Op(h).OutType()
}

func (b *builder) lowerView(v *plan.View) {
	h := b.lower(v.Body)
	out := b.typ(h)
	if v.Materialized {
		// materialized views keep the accumulated state, not
		// the change stream
		h = b.c.Add(&Integrate{In: h, Out: out})
	}
	sink := b.c.Add(&Sink{View: v.Name, In: h, Out: out})
	b.c.AddOutput(v.Name, sink)
}

func (b *builder) lower(n plan.Node) Handle {
	switch n := n.(type) {
	case *plan.Scan:
		return b.lowerScan(n)
	case *plan.Filter:
		in := b.lower(n.Input)
		return b.c.Add(&Filter{In: in, Pred: n.Pred, Out: b.typ(in)})
	case *plan.Project:
		in := b.lower(n.Input)
		return b.c.Add(&Map{In: in, Fn: n.Fn})
	case *plan.Join:
		return b.lowerJoin(n)
	case *plan.Aggregate:
		return b.lowerAggregate(n)
	case *plan.Distinct:
		in := b.lower(n.Input)
		return b.c.Add(&Distinct{In: in, Out: b.typ(in)})
	case *plan.SetOp:
		return b.lowerSetOp(n)
	case *plan.Window:
		return b.lowerWindow(n)
	case *plan.Pivot:
		return b.lowerPivot(n)
	default:
		panic(fmt.Sprintf("unhandled plan node %T", n))
	}
}

func (b *builder) lowerScan(s *plan.Scan) Handle {
	h, ok := b.sources[s.Table.Name]
	if !ok {
		diag.Errorf(b.r, s.At(), "table %q is not declared", s.Table.Name)
		h = b.c.Add(sourceOf(s.Table))
		b.sources[s.Table.Name] = h
	}
	b.used[s.Table.Name] = true
	return h
}

func (b *builder) lowerJoin(j *plan.Join) Handle {
	l := b.lower(j.Left)
	r := b.lower(j.Right)
	h := b.c.Add(&Join{
		Kind:     j.Kind,
		Left:     l,
		Right:    r,
		LeftKey:  j.LeftKey,
		RightKey: j.RightKey,
		On:       j.On,
		Out:      concatType(b.typ(l), b.typ(r)),
	})
	return h
}

func concatType(l, r expr.Type) expr.Type {
	fields := make([]expr.Field, 0, l.Arity()+r.Arity())
	fields = append(fields, l.Fields...)
	fields = append(fields, r.Fields...)
	return expr.RowOf(fields...)
}

// emitAggregate adds an Aggregate followed by the Deindex
// that exposes its keyed output as a plain row stream.
func (b *builder) emitAggregate(in Handle, groupBy []int, aggs []plan.AggExpr, out expr.Type) Handle {
	h := b.c.Add(&Aggregate{In: in, GroupBy: groupBy, Aggs: aggs, Out: out})
	return b.c.Add(&Deindex{In: h, Fn: expr.Identity(out)})
}

// aggRowType names the output row of an aggregate branch:
// the group columns keep their input names, followed by one
// column per aggregate.
func aggRowType(in expr.Type, groupBy []int, aggs []plan.AggExpr) expr.Type {
	fields := make([]expr.Field, 0, len(groupBy)+len(aggs))
	for _, col := range groupBy {
		fields = append(fields, in.Field(col))
	}
	for i := range aggs {
		fields = append(fields, expr.Field{Name: aggs[i].Name, Type: aggs[i].ResultType()})
	}
	return expr.RowOf(fields...)
}

// lowerAggregate splits the aggregate list into the plain
// folds, which share one Aggregate operator, and the
// DISTINCT folds, which each get a Map/Distinct/Aggregate
// staging of their own so duplicate argument values carry
// no weight. When both kinds are present the branches are
// joined back together on the group key.
func (b *builder) lowerAggregate(a *plan.Aggregate) Handle {
	in := b.lower(a.Input)
	inT := b.typ(in)

	var plain, distinct []plan.AggExpr
	for i := range a.Aggs {
		if a.Aggs[i].Distinct {
			distinct = append(distinct, a.Aggs[i])
		} else {
			plain = append(plain, a.Aggs[i])
		}
	}
	if len(distinct) == 0 {
		return b.emitAggregate(in, a.GroupBy, a.Aggs, a.Schema())
	}

	var branches []Handle
	if len(plain) > 0 {
		branches = append(branches, b.emitAggregate(in, a.GroupBy, plain, aggRowType(inT, a.GroupBy, plain)))
	}
	for i := range distinct {
		branches = append(branches, b.lowerDistinctAgg(in, inT, a.GroupBy, distinct[i]))
	}

	if len(branches) == 1 {
		// single DISTINCT fold, nothing to stitch
		return branches[0]
	}

	// join the branches back on the group key, then project
	// the declared column order
	k := len(a.GroupBy)
	key := make([]int, k)
	for i := range key {
		key[i] = i
	}
	result := branches[0]
	for _, br := range branches[1:] {
		result = b.c.Add(&Join{
			Kind:     plan.Inner,
			Left:     result,
			Right:    br,
			LeftKey:  key,
			RightKey: key,
			Out:      concatType(b.typ(result), b.typ(br)),
		})
	}
	return b.c.Add(&Map{In: result, Fn: stitchAggs(b.typ(result), a, len(plain) == 0, k)})
}

// lowerDistinctAgg stages one DISTINCT aggregate: project
// the group key plus the argument, collapse duplicates, and
// fold the survivors.
func (b *builder) lowerDistinctAgg(in Handle, inT expr.Type, groupBy []int, agg plan.AggExpr) Handle {
	if agg.Filter != nil {
		in = b.c.Add(&Filter{
			In:   in,
			Pred: expr.NewRowFunc(inT, agg.Filter),
			Out:  inT,
		})
	}
	names := make([]string, 0, len(groupBy)+1)
	args := make([]expr.Node, 0, len(groupBy)+1)
	for _, col := range groupBy {
		names = append(names, inT.Field(col).Name)
		args = append(args, expr.ColumnOf(inT, col))
	}
	if agg.Arg == nil {
		panic("distinct aggregate without an argument")
	}
	names = append(names, "$arg")
	args = append(args, agg.Arg)
	proj := b.c.Add(&Map{In: in, Fn: expr.NewRowFunc(inT, expr.NewMakeRow(names, args...))})
	projT := b.typ(proj)
	dist := b.c.Add(&Distinct{In: proj, Out: projT})

	key := make([]int, len(groupBy))
	for i := range key {
		key[i] = i
	}
	fold := plan.AggExpr{
		Op:   agg.Op,
		Arg:  expr.ColumnOf(projT, len(groupBy)),
		Name: agg.Name,
	}
	return b.emitAggregate(dist, key, []plan.AggExpr{fold}, aggRowType(projT, key, []plan.AggExpr{fold}))
}

// stitchAggs builds the projection that restores the
// declared column order after the aggregate branches have
// been joined. The joined row is branch 0's columns
// followed by each later branch's; every branch repeats the
// k group columns first.
func stitchAggs(joined expr.Type, a *plan.Aggregate, noPlain bool, k int) *expr.RowFunc {
	out := a.Schema()
	names := make([]string, 0, out.Arity())
	args := make([]expr.Node, 0, out.Arity())
	for i := 0; i < k; i++ {
		names = append(names, out.Field(i).Name)
		args = append(args, expr.ColumnOf(joined, i))
	}
	// locate each declared aggregate in the concatenation:
	// plain folds sit in branch 0 after the key, DISTINCT
	// folds each occupy one later branch
	nplain := 0
	if !noPlain {
		for i := range a.Aggs {
			if !a.Aggs[i].Distinct {
				nplain++
			}
		}
	}
	plainAt := k // next plain fold column
	distBase := 0
	if !noPlain {
		distBase = k + nplain
	}
	distAt := distBase // start of the next DISTINCT branch
	for i := range a.Aggs {
		names = append(names, a.Aggs[i].Name)
		if !a.Aggs[i].Distinct && !noPlain {
			args = append(args, expr.ColumnOf(joined, plainAt))
			plainAt++
		} else {
			// each DISTINCT branch is k key columns plus the fold
			args = append(args, expr.ColumnOf(joined, distAt+k))
			distAt += k + 1
		}
	}
	return expr.NewRowFunc(joined, expr.NewMakeRow(names, args...))
}

func (b *builder) lowerSetOp(s *plan.SetOp) Handle {
	l := b.lower(s.Left)
	r := b.lower(s.Right)
	out, err := expr.Common(b.typ(l), b.typ(r))
	if err != nil {
		diag.Errorf(b.r, s.At(), "%s branches do not unify: %v", s.Op, err)
		return l
	}
	l = b.coerce(l, out)
	r = b.coerce(r, out)
	if !s.All && s.Op != plan.Union {
		// EXCEPT and INTERSECT are set-valued: normalize the
		// inputs to weight one before combining
		l = b.c.Add(&Distinct{In: l, Out: out})
		r = b.c.Add(&Distinct{In: r, Out: out})
	}
	h := b.c.Add(&SetOp{Kind: s.Op, Left: l, Right: r, Out: out})
	if !s.All {
		h = b.c.Add(&Distinct{In: h, Out: out})
	}
	return h
}

// coerce maps h to the row type want, inserting casts
// column by column. It is a no-op when the types already
// agree.
func (b *builder) coerce(h Handle, want expr.Type) Handle {
	have := b.typ(h)
	if have.Equal(want) {
		return h
	}
	names := make([]string, want.Arity())
	args := make([]expr.Node, want.Arity())
	for i := 0; i < want.Arity(); i++ {
		names[i] = want.Field(i).Name
		args[i] = castCol(have, i, want.Field(i).Type)
	}
	return b.c.Add(&Map{In: h, Fn: expr.NewRowFunc(have, expr.NewMakeRow(names, args...))})
}

func castCol(in expr.Type, i int, to expr.Type) expr.Node {
	col := expr.ColumnOf(in, i)
	if col.Type().Equal(to) {
		return col
	}
	return expr.NewCast(col, to)
}

func (b *builder) lowerWindow(w *plan.Window) Handle {
	in := b.lower(w.Input)
	inT := b.typ(in)

	order := make([]OrderSpec, 0, len(w.OrderBy))
	for _, k := range w.OrderBy {
		col := k.Col
		if k.Ordinal > 0 {
			if k.Ordinal > inT.Arity() {
				diag.Errorf(b.r, w.At(), "ORDER BY ordinal %d out of range (%d columns)", k.Ordinal, inT.Arity())
				continue
			}
			col = k.Ordinal - 1
		}
		if inT.Field(col).Type.Nullable {
			// ordering on a column that may be absent has no
			// defined incremental frame; reject rather than
			// guess a null placement
			diag.Unsupportedf(b.r, w.At(), "window ordering on nullable column %q", inT.Field(col).Name)
			continue
		}
		order = append(order, OrderSpec{Col: col, Desc: k.Desc})
	}
	if w.Frame.Mode == plan.Range {
		if len(order) != 1 || !inT.Field(order[0].Col).Type.Kind.Numeric() {
			diag.Unsupportedf(b.r, w.At(), "RANGE frame requires a single numeric ordering column")
		}
	}

	// fold into the upstream Window when the keys and frame
	// agree, so partition state is kept once
	if prev, ok := b.c.Op(in).(*Window); ok && sameWindowKeys(prev, w.PartitionBy, order, w.Frame) {
		// never append in place: prev.Funcs may still share
		// its backing array with the plan node it came from
		prev.Funcs = append(slices.Clone(prev.Funcs), w.Funcs...)
		prev.Out = appendFuncCols(prev.Out, w.Funcs)
		return in
	}
	return b.c.Add(&Window{
		In:          in,
		PartitionBy: w.PartitionBy,
		OrderBy:     order,
		Frame:       w.Frame,
		Funcs:       w.Funcs,
		Out:         appendFuncCols(inT, w.Funcs),
	})
}

// sameWindowKeys reports whether w's funcs can ride on the
// already-lowered window prev: identical partition, order,
// and frame, with every key referring to prev's own input
// columns (window outputs only append, so those positions
// are stable).
func sameWindowKeys(prev *Window, part []int, order []OrderSpec, frame plan.Frame) bool {
	inArity := prev.Out.Arity() - len(prev.Funcs)
	if prev.Frame != frame ||
		len(prev.PartitionBy) != len(part) || len(prev.OrderBy) != len(order) {
		return false
	}
	for i := range part {
		if part[i] != prev.PartitionBy[i] || part[i] >= inArity {
			return false
		}
	}
	for i := range order {
		if order[i] != prev.OrderBy[i] || order[i].Col >= inArity {
			return false
		}
	}
	return true
}

func appendFuncCols(in expr.Type, funcs []plan.WindowFunc) expr.Type {
	fields := make([]expr.Field, 0, in.Arity()+len(funcs))
	fields = append(fields, in.Fields...)
	for i := range funcs {
		fields = append(fields, expr.Field{Name: funcs[i].Name, Type: funcs[i].ResultType()})
	}
	return expr.RowOf(fields...)
}

// lowerPivot expands the pivot into one Aggregate whose
// folds are filtered by pivot value, so the result keeps
// exactly GROUP BY cardinality, followed by a projection
// that nulls out pivot cells no row contributed to.
func (b *builder) lowerPivot(p *plan.Pivot) Handle {
	in := b.lower(p.Input)
	inT := b.typ(in)

	pivot := expr.ColumnOf(inT, p.PivotCol)
	aggs := make([]plan.AggExpr, len(p.Values))
	for i, v := range p.Values {
		match := mustCall(expr.OpEq, pivot, v)
		filter := expr.Node(match)
		if p.Agg.Filter != nil {
			filter = mustCall(expr.OpAnd, match, p.Agg.Filter)
		}
		aggs[i] = plan.AggExpr{
			Op:     p.Agg.Op,
			Arg:    p.Agg.Arg,
			Filter: filter,
			Name:   pivotFieldName(p.Schema(), len(p.GroupBy), i),
		}
	}
	folded := b.emitAggregate(in, p.GroupBy, aggs, aggRowType(inT, p.GroupBy, aggs))
	return b.c.Add(&Map{In: folded, Fn: pivotFill(b.typ(folded), p.Schema(), len(p.GroupBy))})
}

func pivotFieldName(out expr.Type, k, i int) string {
	return out.Field(k + i).Name
}

// pivotFill projects the folded pivot row onto the declared
// nullable schema. COUNT cells fold to zero when no row
// matched the pivot value; the declared result for an empty
// cell is NULL, so those are rewritten through a CASE.
func pivotFill(in, out expr.Type, k int) *expr.RowFunc {
	names := make([]string, out.Arity())
	args := make([]expr.Node, out.Arity())
	for i := 0; i < out.Arity(); i++ {
		names[i] = out.Field(i).Name
		col := expr.ColumnOf(in, i)
		if i < k {
			args[i] = col
			continue
		}
		want := out.Field(i).Type
		if !col.Type().Nullable && col.Type().Kind == expr.Int64 {
			empty := mustCall(expr.OpEq, col, expr.Integer(0))
			args[i] = mustCall(expr.OpCase, empty, expr.Null(expr.TypeOf(expr.Int64)), col)
		} else if !col.Type().Equal(want) {
			args[i] = expr.NewCast(col, want)
		} else {
			args[i] = col
		}
	}
	return expr.NewRowFunc(in, expr.NewMakeRow(names, args...))
}

func mustCall(op expr.Op, args ...expr.Node) *expr.Call {
	c, err := expr.NewCall(op, args...)
	if err != nil {
		panic(err)
	}
	return c
}
