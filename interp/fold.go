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

	"github.com/SnellerInc/zinc/plan"
	"github.com/SnellerInc/zinc/zset"
)

type weighted struct {
	row zset.Row
	w   int64
}

// aggregateFull computes the complete group table over the
// integrated input: one output row per group holding the
// key columns followed by the fold results, each at weight
// one.
func aggregateFull(acc *zset.ZSet, groupBy []int, aggs []plan.AggExpr) (*zset.ZSet, error) {
	type group struct {
		key  zset.Row
		rows []weighted
	}
	groups := make(map[string]*group)
	var order []string
	acc.Each(func(row zset.Row, w int64) {
		k := keyOf(row, groupBy)
		g, ok := groups[k]
		if !ok {
			key := make(zset.Row, len(groupBy))
			for i, c := range groupBy {
				key[i] = row[c]
			}
			g = &group{key: key}
			groups[k] = g
			order = append(order, k)
		}
		g.rows = append(g.rows, weighted{row: row, w: w})
	})

	out := zset.New()
	for _, k := range order {
		g := groups[k]
		row := make(zset.Row, 0, len(g.key)+len(aggs))
		row = append(row, g.key...)
		for i := range aggs {
			v, err := fold(&aggs[i], g.rows)
			if err != nil {
				return nil, err
			}
			row = append(row, v)
		}
		out.Add(row, 1)
	}
	return out, nil
}

// fold evaluates one aggregate over the rows of a group.
// NULL arguments do not contribute; COUNT of nothing is
// zero, every other fold of nothing is NULL.
func fold(a *plan.AggExpr, rows []weighted) (interface{}, error) {
	var (
		cnt     int64
		sumI    int64
		sumF    float64
		asFloat bool
		best    interface{}
	)
	asFloat = !a.ResultType().Kind.Integer()
	for _, r := range rows {
		if a.Filter != nil {
			v, err := Eval(a.Filter, r.row)
			if err != nil {
				return nil, err
			}
			if b, ok := v.(bool); !ok || !b {
				continue
			}
		}
		if a.Arg == nil {
			// COUNT(*)
			cnt += r.w
			continue
		}
		v, err := Eval(a.Arg, r.row)
		if err != nil {
			return nil, err
		}
		if v == nil {
			continue
		}
		cnt += r.w
		switch a.Op {
		case plan.AggCount:
		case plan.AggSum, plan.AggAvg:
			f, err := toFloat(v)
			if err != nil {
				return nil, err
			}
			sumF += float64(r.w) * f
			if i, ok := v.(int64); ok {
				sumI += r.w * i
			}
		case plan.AggMin, plan.AggMax:
			if r.w <= 0 {
				continue
			}
			if best == nil {
				best = v
				continue
			}
			c, err := compareValues(v, best)
			if err != nil {
				return nil, err
			}
			if (a.Op == plan.AggMin && c < 0) || (a.Op == plan.AggMax && c > 0) {
				best = v
			}
		default:
			return nil, fmt.Errorf("bad aggregate %s", a.Op)
		}
	}
	switch a.Op {
	case plan.AggCount:
		return cnt, nil
	case plan.AggSum:
		if cnt == 0 {
			return nil, nil
		}
		if asFloat {
			return sumF, nil
		}
		return sumI, nil
	case plan.AggAvg:
		if cnt == 0 {
			return nil, nil
		}
		return sumF / float64(cnt), nil
	case plan.AggMin, plan.AggMax:
		return best, nil
	}
	return nil, fmt.Errorf("bad aggregate %s", a.Op)
}
