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

// Package interp executes circuits directly over Z-sets.
// It is the reference semantics for the IR: every operator
// is evaluated by re-computing its full output from the
// integrated inputs and emitting the difference, which is
// obviously correct and therefore the oracle the compiled
// artifacts (and the rewrite passes) are tested against.
// It trades all efficiency for clarity; nothing here is
// meant to run production volumes.
package interp

import (
	"fmt"

	"github.com/SnellerInc/zinc/circuit"
	"github.com/SnellerInc/zinc/expr"
	"github.com/SnellerInc/zinc/plan"
	"github.com/SnellerInc/zinc/zset"
)

// Runner holds the per-operator state of one circuit
// execution.
type Runner struct {
	c      *circuit.Circuit
	states []opState
	step   int
}

type opState struct {
	// acc integrates the input stream(s) of a stateful
	// operator.
	acc []*zset.ZSet
	// prev is the operator's previous full output.
	prev *zset.ZSet
	// last is the previous step's input value (Delay,
	// Differentiate).
	last *zset.ZSet
}

// New prepares a runner for c.
func New(c *circuit.Circuit) (*Runner, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	r := &Runner{c: c, states: make([]opState, c.Len())}
	c.Walk(func(h circuit.Handle, op circuit.Op) {
		st := &r.states[h]
		switch op.(type) {
		case *circuit.Join, *circuit.SetOp:
			st.acc = []*zset.ZSet{zset.New(), zset.New()}
			st.prev = zset.New()
		case *circuit.Aggregate, *circuit.Distinct, *circuit.Window:
			st.acc = []*zset.ZSet{zset.New()}
			st.prev = zset.New()
		case *circuit.Integrate:
			st.acc = []*zset.ZSet{zset.New()}
		case *circuit.Delay, *circuit.Differentiate:
			st.last = zset.New()
		}
	})
	return r, nil
}

// Step advances the circuit by one tick: it feeds the
// given delta to each source (missing tables see an empty
// delta) and returns what every view emits this step.
func (r *Runner) Step(inputs map[string]*zset.ZSet) (map[string]*zset.ZSet, error) {
	vals := make([]*zset.ZSet, r.c.Len())
	out := make(map[string]*zset.ZSet)
	var failed error
	r.c.Walk(func(h circuit.Handle, op circuit.Op) {
		if failed != nil {
			return
		}
		v, err := r.eval(h, op, vals, inputs)
		if err != nil {
			failed = fmt.Errorf("step %d, op %d (%T): %w", r.step, h, op, err)
			return
		}
		vals[h] = v
		if s, ok := op.(*circuit.Sink); ok {
			out[s.View] = v
		}
	})
	if failed != nil {
		return nil, failed
	}
	// delays pick up this step's input only now, so a
	// back-edge reads the value produced above
	r.c.Walk(func(h circuit.Handle, op circuit.Op) {
		if d, ok := op.(*circuit.Delay); ok {
			r.states[h].last = vals[d.In].Clone()
		}
		if d, ok := op.(*circuit.Differentiate); ok {
			r.states[h].last = vals[d.In].Clone()
		}
	})
	r.step++
	return out, nil
}

func (r *Runner) eval(h circuit.Handle, op circuit.Op, vals []*zset.ZSet, inputs map[string]*zset.ZSet) (*zset.ZSet, error) {
	st := &r.states[h]
	switch op := op.(type) {
	case *circuit.Source:
		if in, ok := inputs[op.Table]; ok {
			return in, nil
		}
		return zset.New(), nil
	case *circuit.Map:
		return mapRows(vals[op.In], op.Fn)
	case *circuit.Deindex:
		return mapRows(vals[op.In], op.Fn)
	case *circuit.Filter:
		out := zset.New()
		var err error
		vals[op.In].Each(func(row zset.Row, w int64) {
			if err != nil {
				return
			}
			keep, e := EvalPred(op.Pred, row)
			if e != nil {
				err = e
				return
			}
			if keep {
				out.Add(row, w)
			}
		})
		return out, err
	case *circuit.Join:
		st.acc[0].Merge(vals[op.Left])
		st.acc[1].Merge(vals[op.Right])
		full, err := joinFull(st.acc[0], st.acc[1], op)
		if err != nil {
			return nil, err
		}
		return r.diff(st, full), nil
	case *circuit.Aggregate:
		st.acc[0].Merge(vals[op.In])
		full, err := aggregateFull(st.acc[0], op.GroupBy, op.Aggs)
		if err != nil {
			return nil, err
		}
		return r.diff(st, full), nil
	case *circuit.Distinct:
		st.acc[0].Merge(vals[op.In])
		return r.diff(st, st.acc[0].Distinct()), nil
	case *circuit.Window:
		st.acc[0].Merge(vals[op.In])
		full, err := windowFull(st.acc[0], op)
		if err != nil {
			return nil, err
		}
		return r.diff(st, full), nil
	case *circuit.SetOp:
		switch op.Kind {
		case plan.Union:
			return zset.Add(vals[op.Left], vals[op.Right]), nil
		case plan.Except:
			return zset.Sub(vals[op.Left], vals[op.Right]), nil
		case plan.Intersect:
			st.acc[0].Merge(vals[op.Left])
			st.acc[1].Merge(vals[op.Right])
			return r.diff(st, zset.Min(st.acc[0], st.acc[1])), nil
		}
		return nil, fmt.Errorf("bad set operation %d", op.Kind)
	case *circuit.Integrate:
		st.acc[0].Merge(vals[op.In])
		return st.acc[0].Clone(), nil
	case *circuit.Differentiate:
		return zset.Sub(vals[op.In], st.last), nil
	case *circuit.Delay:
		return st.last.Clone(), nil
	case *circuit.Sink:
		return vals[op.In], nil
	}
	return nil, fmt.Errorf("unhandled operator %T", op)
}

// diff emits the change between the operator's new full
// output and the previous one.
func (r *Runner) diff(st *opState, full *zset.ZSet) *zset.ZSet {
	delta := zset.Sub(full, st.prev)
	st.prev = full
	return delta
}

func mapRows(in *zset.ZSet, fn *expr.RowFunc) (*zset.ZSet, error) {
	out := zset.New()
	var err error
	in.Each(func(row zset.Row, w int64) {
		if err != nil {
			return
		}
		mapped, e := EvalFunc(fn, row)
		if e != nil {
			err = e
			return
		}
		out.Add(mapped, w)
	})
	return out, err
}

// joinFull computes the complete join of the two integrated
// sides: matching key columns, concatenated rows, weights
// multiplied, with the residual predicate applied last.
func joinFull(left, right *zset.ZSet, op *circuit.Join) (*zset.ZSet, error) {
	type match struct {
		row zset.Row
		w   int64
	}
	index := make(map[string][]match)
	right.Each(func(row zset.Row, w int64) {
		k := keyOf(row, op.RightKey)
		index[k] = append(index[k], match{row: row, w: w})
	})
	out := zset.New()
	var err error
	left.Each(func(row zset.Row, w int64) {
		if err != nil {
			return
		}
		for _, m := range index[keyOf(row, op.LeftKey)] {
			joined := make(zset.Row, 0, len(row)+len(m.row))
			joined = append(joined, row...)
			joined = append(joined, m.row...)
			if op.On != nil {
				keep, e := EvalPred(op.On, joined)
				if e != nil {
					err = e
					return
				}
				if !keep {
					continue
				}
			}
			out.Add(joined, w*m.w)
		}
	})
	return out, err
}

// keyOf projects the key columns of a row into a map key.
// Key equality is structural: NULL keys match each other,
// the same way GROUP BY buckets NULLs together. A plan that
// wants SQL's NULL-never-matches join behavior filters the
// null keys out before the join.
func keyOf(row zset.Row, cols []int) string {
	key := make(zset.Row, len(cols))
	for i, c := range cols {
		key[i] = row[c]
	}
	return key.Key()
}
