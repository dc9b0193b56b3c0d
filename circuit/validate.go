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

	"github.com/SnellerInc/zinc/expr"
)

// Validate checks the structural invariants every circuit
// must satisfy before and after each rewrite pass:
//
//   - every input handle refers to an earlier operator,
//     except a Delay input, which may refer forward;
//   - every Delay is bound;
//   - every registered output is a Sink, and every Sink is
//     a registered output;
//   - no operator has a poison (unresolved) output type;
//   - key columns of joins, aggregates, and windows are in
//     range for their input row type.
func (c *Circuit) Validate() error {
	sinks := make(map[Handle]bool)
	for _, o := range c.outputs {
		if o.Sink < 0 || int(o.Sink) >= len(c.ops) {
			return fmt.Errorf("output %q: bad sink handle %d", o.View, o.Sink)
		}
		if _, ok := c.ops[o.Sink].(*Sink); !ok {
			return fmt.Errorf("output %q: operator %d is %T, not a sink", o.View, o.Sink, c.ops[o.Sink])
		}
		sinks[o.Sink] = true
	}
	for i := range c.ops {
		h := Handle(i)
		op := c.ops[i]
		if err := c.validateOp(h, op); err != nil {
			return err
		}
		if _, ok := op.(*Sink); ok && !sinks[h] {
			return fmt.Errorf("op %d: sink not registered as an output", h)
		}
	}
	return nil
}

func (c *Circuit) validateOp(h Handle, op Op) error {
	_, delay := op.(*Delay)
	for _, in := range op.Inputs() {
		if in < 0 || int(in) >= len(c.ops) {
			return fmt.Errorf("op %d (%T): unbound input %d", h, op, in)
		}
		if in >= h && !delay {
			return fmt.Errorf("op %d (%T): forward input %d outside a delay", h, op, in)
		}
		if _, ok := c.ops[in].(*Sink); ok {
			return fmt.Errorf("op %d (%T): reads from a sink", h, op)
		}
	}
	if t := op.OutType(); t.IsPoison() {
		return fmt.Errorf("op %d (%T): poison output type", h, op)
	}
	switch op := op.(type) {
	case *Join:
		if len(op.LeftKey) != len(op.RightKey) {
			return fmt.Errorf("op %d: join key arity %d vs %d", h, len(op.LeftKey), len(op.RightKey))
		}
		if err := checkKeys(op.LeftKey, c.ops[op.Left].OutType()); err != nil {
			return fmt.Errorf("op %d: left %w", h, err)
		}
		if err := checkKeys(op.RightKey, c.ops[op.Right].OutType()); err != nil {
			return fmt.Errorf("op %d: right %w", h, err)
		}
	case *Aggregate:
		if err := checkKeys(op.GroupBy, c.ops[op.In].OutType()); err != nil {
			return fmt.Errorf("op %d: %w", h, err)
		}
	case *Window:
		in := c.ops[op.In].OutType()
		if err := checkKeys(op.PartitionBy, in); err != nil {
			return fmt.Errorf("op %d: %w", h, err)
		}
		for _, o := range op.OrderBy {
			if o.Col < 0 || o.Col >= in.Arity() {
				return fmt.Errorf("op %d: order column %d out of range", h, o.Col)
			}
		}
	case *SetOp:
		lt := c.ops[op.Left].OutType()
		rt := c.ops[op.Right].OutType()
		if !lt.Equal(rt) {
			return fmt.Errorf("op %d: set operation over unequal schemas %s and %s", h, lt, rt)
		}
	case *Map, *Filter, *Deindex:
		if fn := opFunc(op); fn != nil && !fn.In.Equal(c.ops[op.Inputs()[0]].OutType()) {
			return fmt.Errorf("op %d (%T): row function input %s does not match %s",
				h, op, fn.In, c.ops[op.Inputs()[0]].OutType())
		}
	}
	return nil
}

// opFunc returns the row-function payload of op, if any.
func opFunc(op Op) *expr.RowFunc {
	switch op := op.(type) {
	case *Map:
		return op.Fn
	case *Filter:
		return op.Pred
	case *Deindex:
		return op.Fn
	}
	return nil
}

func checkKeys(keys []int, in expr.Type) error {
	for _, k := range keys {
		if k < 0 || k >= in.Arity() {
			return fmt.Errorf("key column %d out of range for %s", k, in)
		}
	}
	return nil
}
