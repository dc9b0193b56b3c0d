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

import "fmt"

// A Pass rewrites a circuit one operator at a time in
// topological order. Rewrite receives each operator with
// its inputs already redirected into the output circuit and
// returns the handle standing in for it there, usually by
// emitting the operator unchanged via cl.Emit. Passes never
// mutate the input circuit.
//
// Every pass must be idempotent: running it twice in a row
// produces a circuit structurally equal to running it once.
type Pass interface {
	Name() string
	Rewrite(cl *Clone, op Op) Handle
}

// Clone tracks one in-flight pass run: the source circuit,
// the output circuit being built, and the handle mapping
// between them.
type Clone struct {
	src    *Circuit
	dst    *Circuit
	mapped []Handle
	// delay back-edges can only be resolved once the
	// forward target has been mapped
	fixups []fixup
}

type fixup struct {
	dst Handle // delay in the output circuit
	src Handle // its original input in the source circuit
}

// Emit adds op to the output circuit.
func (cl *Clone) Emit(op Op) Handle {
	return cl.dst.Add(op)
}

// Mapped returns the output handle that stands in for the
// source handle h. It panics if h has not been visited yet.
func (cl *Clone) Mapped(h Handle) Handle {
	if h < 0 || int(h) >= len(cl.mapped) || cl.mapped[h] == Invalid {
		panic(fmt.Sprintf("circuit: handle %d not mapped yet", h))
	}
	return cl.mapped[h]
}

// Out returns the operator already emitted at output handle
// h, letting a pass inspect what its input was rewritten to.
func (cl *Clone) Out(h Handle) Op {
	return cl.dst.Op(h)
}

// Run applies the pass to c and returns the rewritten
// circuit. The input circuit is left untouched; the output
// keeps the same ID.
func Run(c *Circuit, p Pass) *Circuit {
	cl := &Clone{
		src:    c,
		dst:    newWithID(c.ID),
		mapped: make([]Handle, c.Len()),
	}
	for i := range cl.mapped {
		cl.mapped[i] = Invalid
	}
	c.Walk(func(h Handle, op Op) {
		moved := cl.remap(h, op)
		cl.mapped[h] = p.Rewrite(cl, moved)
	})
	for _, f := range cl.fixups {
		cl.dst.BindDelay(f.dst, cl.Mapped(f.src))
	}
	for _, o := range c.outputs {
		cl.dst.AddOutput(o.View, cl.Mapped(o.Sink))
	}
	return cl.dst
}

// remap clones op with its inputs redirected into the
// output circuit. A delay whose input points forward is
// cloned unbound and patched once the pass completes.
func (cl *Clone) remap(h Handle, op Op) Op {
	if d, ok := op.(*Delay); ok && d.In >= h {
		nd := &Delay{In: Invalid, Out: d.Out}
		cl.fixups = append(cl.fixups, fixup{dst: Handle(cl.dst.Len()), src: d.In})
		return nd
	}
	return op.clone(cl.Mapped)
}

// Optimize runs the standard pass pipeline in its fixed
// order: canonicalize away Deindex, fold expression
// payloads, fuse adjacent operators, merge structural
// duplicates, and drop everything unreachable from a sink.
// Each pass is idempotent and the pipeline preserves the
// circuit ID, so repeated optimization is stable.
func Optimize(c *Circuit) (*Circuit, error) {
	for _, p := range pipeline() {
		c = Run(c, p)
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("after pass %s: %w", p.Name(), err)
		}
	}
	c = eliminateDead(c)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("after pass dce: %w", err)
	}
	return c, nil
}

// pipeline returns the fixed pass order. Deindex removal
// runs first so every later pass sees only Map; dedup runs
// after fuse so composed operators can merge. Dead-code
// elimination runs last (see eliminateDead) to sweep
// whatever the other passes orphaned.
func pipeline() []Pass {
	return []Pass{
		deindexPass{},
		foldPass{},
		fusePass{},
		newDedup(),
	}
}
