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

// Package circuit defines the dataflow circuit IR produced
// by lowering a validated relational plan, plus the rewrite
// passes that canonicalize and shrink it before code
// generation.
//
// A circuit is an arena of operators indexed by Handle.
// Arena order is topological order: every operator's inputs
// precede it, with the single exception of a Delay input,
// which may point forward and is how cycles are expressed.
package circuit

import (
	"fmt"
	"io"
	"strings"

	"github.com/SnellerInc/zinc/expr"

	"github.com/google/uuid"
)

// Output names one declared view and the sink that
// produces it.
type Output struct {
	View string
	Sink Handle
}

// Circuit is an arena of operators plus the set of view
// outputs. The zero value is not usable; call New.
type Circuit struct {
	// ID tags the circuit so downstream tooling can
	// correlate compiled artifacts with the run that
	// produced them. Rewrites preserve it.
	ID uuid.UUID

	ops     []Op
	outputs []Output
}

// New returns an empty circuit with a fresh ID.
func New() *Circuit {
	return &Circuit{ID: uuid.New()}
}

func newWithID(id uuid.UUID) *Circuit {
	return &Circuit{ID: id}
}

// Len returns the number of operators.
func (c *Circuit) Len() int { return len(c.ops) }

// Op returns the operator at h.
func (c *Circuit) Op(h Handle) Op {
	if h < 0 || int(h) >= len(c.ops) {
		panic(fmt.Sprintf("circuit: bad handle %d of %d", h, len(c.ops)))
	}
	return c.ops[h]
}

// Add appends op to the arena and returns its handle.
// Every input of op except an unbound Delay input must
// refer to an operator already present.
func (c *Circuit) Add(op Op) Handle {
	h := Handle(len(c.ops))
	_, delay := op.(*Delay)
	for _, in := range op.Inputs() {
		if in == Invalid && delay {
			continue
		}
		if in < 0 || in >= h {
			panic(fmt.Sprintf("circuit: op %T input %d not yet defined (next handle %d)", op, in, h))
		}
	}
	c.ops = append(c.ops, op)
	return h
}

// AddDelay appends an unbound Delay of the given row type.
// The input is attached later with BindDelay, which is what
// allows a cycle to close through it.
func (c *Circuit) AddDelay(out expr.Type) Handle {
	return c.Add(&Delay{In: Invalid, Out: out})
}

// BindDelay attaches the input of the Delay at h. The
// bound operator's output type must match the Delay's.
func (c *Circuit) BindDelay(h, in Handle) {
	d, ok := c.Op(h).(*Delay)
	if !ok {
		panic(fmt.Sprintf("circuit: BindDelay on %T", c.Op(h)))
	}
	if d.In != Invalid {
		panic("circuit: delay already bound")
	}
	if !c.Op(in).OutType().Equal(d.Out) {
		panic("circuit: delay input type mismatch")
	}
	d.In = in
}

// AddOutput registers the sink at h as the output of the
// named view.
func (c *Circuit) AddOutput(view string, h Handle) {
	if _, ok := c.Op(h).(*Sink); !ok {
		panic(fmt.Sprintf("circuit: output %q is %T, not a sink", view, c.Op(h)))
	}
	c.outputs = append(c.outputs, Output{View: view, Sink: h})
}

// Outputs returns the declared view outputs in declaration
// order. The slice is shared; callers must not mutate it.
func (c *Circuit) Outputs() []Output { return c.outputs }

// Output returns the sink handle of the named view, or
// Invalid if the view is not declared.
func (c *Circuit) Output(view string) Handle {
	for i := range c.outputs {
		if c.outputs[i].View == view {
			return c.outputs[i].Sink
		}
	}
	return Invalid
}

// Walk calls fn for every operator in arena (topological)
// order.
func (c *Circuit) Walk(fn func(Handle, Op)) {
	for i := range c.ops {
		fn(Handle(i), c.ops[i])
	}
}

// Sources returns the handles of every Source operator in
// arena order.
func (c *Circuit) Sources() []Handle {
	var out []Handle
	for i := range c.ops {
		if _, ok := c.ops[i].(*Source); ok {
			out = append(out, Handle(i))
		}
	}
	return out
}

// Equals compares two circuits structurally, ignoring IDs.
func (c *Circuit) Equals(o *Circuit) bool {
	if len(c.ops) != len(o.ops) || len(c.outputs) != len(o.outputs) {
		return false
	}
	for i := range c.ops {
		if !c.ops[i].equals(o.ops[i]) {
			return false
		}
	}
	for i := range c.outputs {
		if c.outputs[i] != o.outputs[i] {
			return false
		}
	}
	return true
}

// Describe writes a human-readable one-operator-per-line
// rendering of the circuit to dst.
func (c *Circuit) Describe(dst io.Writer) {
	for i := range c.ops {
		fmt.Fprintf(dst, "%%%d = ", i)
		c.ops[i].describe(dst)
		if ins := c.ops[i].Inputs(); len(ins) > 0 {
			io.WriteString(dst, " <-")
			for _, in := range ins {
				fmt.Fprintf(dst, " %%%d", in)
			}
		}
		io.WriteString(dst, "\n")
	}
}

func (c *Circuit) String() string {
	var sb strings.Builder
	c.Describe(&sb)
	return sb.String()
}
