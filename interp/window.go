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
	"fmt"
	"sort"

	"github.com/SnellerInc/zinc/circuit"
	"github.com/SnellerInc/zinc/plan"
	"github.com/SnellerInc/zinc/zset"
)

// window state never carries retractions, and expanding a
// bag into individual rows has to stop somewhere
const maxExpand = 1 << 16

// windowFull computes the complete windowed output over the
// integrated input: every input row extended with one
// column per window function.
func windowFull(acc *zset.ZSet, op *circuit.Window) (*zset.ZSet, error) {
	parts := make(map[string][]zset.Row)
	var order []string
	var err error
	acc.Each(func(row zset.Row, w int64) {
		if err != nil {
			return
		}
		if w < 0 {
			err = fmt.Errorf("window input holds retracted row %s", row)
			return
		}
		if w > maxExpand {
			err = fmt.Errorf("row weight %d too large to expand", w)
			return
		}
		k := keyOf(row, op.PartitionBy)
		if _, ok := parts[k]; !ok {
			order = append(order, k)
		}
		for i := int64(0); i < w; i++ {
			parts[k] = append(parts[k], row)
		}
	})
	if err != nil {
		return nil, err
	}

	out := zset.New()
	for _, k := range order {
		if err := windowPartition(out, parts[k], op); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func windowPartition(out *zset.ZSet, rows []zset.Row, op *circuit.Window) error {
	var sortErr error
	sort.SliceStable(rows, func(i, j int) bool {
		for _, k := range op.OrderBy {
			c, err := compareValues(rows[i][k.Col], rows[j][k.Col])
			if err != nil {
				sortErr = err
				return false
			}
			if c != 0 {
				if k.Desc {
					return c > 0
				}
				return c < 0
			}
		}
		// deterministic tiebreak so repeated runs agree
		return rows[i].Key() < rows[j].Key()
	})
	if sortErr != nil {
		return sortErr
	}

	rank, dense := int64(1), int64(1)
	for i := range rows {
		if i > 0 {
			same, err := samePeers(rows[i-1], rows[i], op.OrderBy)
			if err != nil {
				return err
			}
			if !same {
				rank = int64(i) + 1
				dense++
			}
		}
		row := make(zset.Row, 0, len(rows[i])+len(op.Funcs))
		row = append(row, rows[i]...)
		for f := range op.Funcs {
			fn := &op.Funcs[f]
			switch fn.Kind {
			case plan.WinRowNumber:
				row = append(row, int64(i)+1)
			case plan.WinRank:
				row = append(row, rank)
			case plan.WinDenseRank:
				row = append(row, dense)
			case plan.WinAgg:
				lo, hi, err := frameBounds(rows, i, op)
				if err != nil {
					return err
				}
				var frame []weighted
				for j := lo; j <= hi; j++ {
					frame = append(frame, weighted{row: rows[j], w: 1})
				}
				v, err := fold(&fn.Agg, frame)
				if err != nil {
					return err
				}
				row = append(row, v)
			default:
				return fmt.Errorf("bad window function %s", fn.Kind)
			}
		}
		out.Add(row, 1)
	}
	return nil
}

func samePeers(a, b zset.Row, keys []circuit.OrderSpec) (bool, error) {
	for _, k := range keys {
		c, err := compareValues(a[k.Col], b[k.Col])
		if err != nil {
			return false, err
		}
		if c != 0 {
			return false, nil
		}
	}
	return true, nil
}

// frameBounds resolves the frame of row i to the index
// range [lo, hi] within its sorted partition. An empty
// frame returns lo > hi.
func frameBounds(rows []zset.Row, i int, op *circuit.Window) (lo, hi int, err error) {
	n := len(rows)
	if op.Frame.Mode == plan.Rows {
		lo = rowsBound(op.Frame.Start, i, n, true)
		hi = rowsBound(op.Frame.End, i, n, false)
		if lo < 0 {
			lo = 0
		}
		if hi > n-1 {
			hi = n - 1
		}
		return lo, hi, nil
	}
	return rangeBounds(rows, i, op)
}

func rowsBound(b plan.FrameBound, i, n int, start bool) int {
	switch b.Kind {
	case plan.Unbounded:
		if start {
			return 0
		}
		return n - 1
	case plan.Preceding:
		return i - int(b.Offset)
	case plan.CurrentRow:
		return i
	case plan.Following:
		return i + int(b.Offset)
	}
	return i
}

// rangeBounds resolves a RANGE frame over the single
// numeric ordering column. Distances are measured in the
// sort direction, so DESC frames slide the same way the
// rows do.
func rangeBounds(rows []zset.Row, i int, op *circuit.Window) (lo, hi int, err error) {
	key := op.OrderBy[0]
	dir := 1.0
	if key.Desc {
		dir = -1.0
	}
	cur, err := toFloat(rows[i][key.Col])
	if err != nil {
		return 0, 0, err
	}
	dist := func(j int) (float64, error) {
		v, err := toFloat(rows[j][key.Col])
		if err != nil {
			return 0, err
		}
		return (v - cur) * dir, nil
	}
	n := len(rows)
	lo = 0
	if from, ok := rangeStart(op.Frame.Start); ok {
		lo = n
		for j := 0; j < n; j++ {
			d, err := dist(j)
			if err != nil {
				return 0, 0, err
			}
			if d >= from {
				lo = j
				break
			}
		}
	}
	hi = n - 1
	if to, ok := rangeEnd(op.Frame.End); ok {
		hi = -1
		for j := n - 1; j >= 0; j-- {
			d, err := dist(j)
			if err != nil {
				return 0, 0, err
			}
			if d <= to {
				hi = j
				break
			}
		}
	}
	return lo, hi, nil
}

func rangeStart(b plan.FrameBound) (float64, bool) {
	switch b.Kind {
	case plan.Preceding:
		return -float64(b.Offset), true
	case plan.CurrentRow:
		return 0, true
	case plan.Following:
		return float64(b.Offset), true
	}
	return 0, false // unbounded
}

func rangeEnd(b plan.FrameBound) (float64, bool) {
	switch b.Kind {
	case plan.Preceding:
		return -float64(b.Offset), true
	case plan.CurrentRow:
		return 0, true
	case plan.Following:
		return float64(b.Offset), true
	}
	return 0, false
}
