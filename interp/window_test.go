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

package interp

import (
	"testing"

	"github.com/SnellerInc/zinc/expr"
	"github.com/SnellerInc/zinc/plan"
	"github.com/SnellerInc/zinc/zset"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scoresTable() *plan.TableDef {
	return &plan.TableDef{
		Name: "scores",
		Columns: []plan.ColumnDef{
			{Name: "player", Type: expr.TypeOf(expr.String)},
			{Name: "pts", Type: expr.TypeOf(expr.Int64)},
		},
	}
}

func windowProg(tbl *plan.TableDef, frame plan.Frame, funcs ...plan.WindowFunc) *plan.Program {
	return &plan.Program{
		Tables: []*plan.TableDef{tbl},
		Views: []*plan.View{{Name: "v", Body: &plan.Window{
			Input:   &plan.Scan{Table: tbl},
			OrderBy: []plan.OrderKey{{Col: 1}},
			Frame:   frame,
			Funcs:   funcs,
		}}},
	}
}

func TestWindowRanking(t *testing.T) {
	tbl := scoresTable()
	prog := windowProg(tbl, plan.WholePartition(),
		plan.WindowFunc{Kind: plan.WinRowNumber, Name: "rn"},
		plan.WindowFunc{Kind: plan.WinRank, Name: "rk"},
		plan.WindowFunc{Kind: plan.WinDenseRank, Name: "dr"},
	)
	r := runner(t, compile(t, prog))

	in := zset.New()
	in.Add(row("a", int64(10)), 1)
	in.Add(row("b", int64(20)), 1)
	in.Add(row("c", int64(20)), 1)
	in.Add(row("d", int64(30)), 1)
	got := step(t, r, "scores", in)

	want := zset.New()
	want.Add(row("a", int64(10), int64(1), int64(1), int64(1)), 1)
	want.Add(row("b", int64(20), int64(2), int64(2), int64(2)), 1)
	want.Add(row("c", int64(20), int64(3), int64(2), int64(2)), 1)
	want.Add(row("d", int64(30), int64(4), int64(4), int64(3)), 1)
	assert.True(t, got.Equal(want), "ranking output %s, want %s", got, want)
}

func TestWindowRunningSum(t *testing.T) {
	tbl := scoresTable()
	frame := plan.Frame{
		Mode:  plan.Rows,
		Start: plan.FrameBound{Kind: plan.Unbounded},
		End:   plan.FrameBound{Kind: plan.CurrentRow},
	}
	prog := windowProg(tbl, frame, plan.WindowFunc{
		Kind: plan.WinAgg,
		Agg:  plan.AggExpr{Op: plan.AggSum, Arg: expr.ColumnOf(tbl.RowType(), 1), Name: "run"},
		Name: "run",
	})
	r := runner(t, compile(t, prog))

	in := zset.Of(1,
		row("a", int64(10)),
		row("b", int64(20)),
		row("c", int64(30)),
	)
	got := step(t, r, "scores", in)

	want := zset.New()
	want.Add(row("a", int64(10), int64(10)), 1)
	want.Add(row("b", int64(20), int64(30)), 1)
	want.Add(row("c", int64(30), int64(60)), 1)
	assert.True(t, got.Equal(want), "running sum %s, want %s", got, want)

	// a new minimum reshuffles every running total below it
	got = step(t, r, "scores", zset.Of(1, row("z", int64(5))))
	assert.Equal(t, int64(1), got.Weight(row("z", int64(5), int64(5))))
	assert.Equal(t, int64(1), got.Weight(row("a", int64(10), int64(15))))
	assert.Equal(t, int64(-1), got.Weight(row("a", int64(10), int64(10))))
}

func TestWindowRangeFrame(t *testing.T) {
	tbl := scoresTable()
	frame := plan.Frame{
		Mode:  plan.Range,
		Start: plan.FrameBound{Kind: plan.Preceding, Offset: 5},
		End:   plan.FrameBound{Kind: plan.CurrentRow},
	}
	prog := windowProg(tbl, frame, plan.WindowFunc{
		Kind: plan.WinAgg,
		Agg:  plan.AggExpr{Op: plan.AggSum, Arg: expr.ColumnOf(tbl.RowType(), 1), Name: "near"},
		Name: "near",
	})
	r := runner(t, compile(t, prog))

	in := zset.Of(1,
		row("a", int64(10)),
		row("b", int64(12)),
		row("c", int64(30)),
	)
	got := step(t, r, "scores", in)

	want := zset.New()
	want.Add(row("a", int64(10), int64(10)), 1)
	// 10 is within 5 of 12, so it joins b's frame
	want.Add(row("b", int64(12), int64(22)), 1)
	want.Add(row("c", int64(30), int64(30)), 1)
	assert.True(t, got.Equal(want), "range frame %s, want %s", got, want)
}

func TestWindowPartitioned(t *testing.T) {
	tbl := scoresTable()
	prog := &plan.Program{
		Tables: []*plan.TableDef{tbl},
		Views: []*plan.View{{Name: "v", Body: &plan.Window{
			Input:       &plan.Scan{Table: tbl},
			PartitionBy: []int{0},
			OrderBy:     []plan.OrderKey{{Col: 1, Desc: true}},
			Frame:       plan.WholePartition(),
			Funcs:       []plan.WindowFunc{{Kind: plan.WinRowNumber, Name: "rn"}},
		}}},
	}
	r := runner(t, compile(t, prog))

	in := zset.Of(1,
		row("a", int64(10)),
		row("a", int64(20)),
		row("b", int64(30)),
	)
	got := step(t, r, "scores", in)

	// numbering restarts per player, descending by points
	want := zset.New()
	want.Add(row("a", int64(20), int64(1)), 1)
	want.Add(row("a", int64(10), int64(2)), 1)
	want.Add(row("b", int64(30), int64(1)), 1)
	assert.True(t, got.Equal(want), "partitioned output %s, want %s", got, want)
}

func TestWindowRejectsRetraction(t *testing.T) {
	tbl := scoresTable()
	prog := windowProg(tbl, plan.WholePartition(),
		plan.WindowFunc{Kind: plan.WinRowNumber, Name: "rn"})
	r := runner(t, compile(t, prog))

	_, err := r.Step(map[string]*zset.ZSet{
		"scores": zset.Of(-1, row("a", int64(1))),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retracted row")
}
