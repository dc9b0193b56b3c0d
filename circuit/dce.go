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

// eliminateDead drops every operator not reachable from a
// registered output. Reachability follows inputs backwards
// and crosses Delay back-edges, so a live cycle stays whole.
// Operators that remain are kept byte-for-byte; only the
// handle numbering compacts.
func eliminateDead(c *Circuit) *Circuit {
	live := make([]bool, c.Len())
	stack := make([]Handle, 0, len(c.outputs))
	for _, o := range c.outputs {
		stack = append(stack, o.Sink)
	}
	for len(stack) > 0 {
		h := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if live[h] {
			continue
		}
		live[h] = true
		for _, in := range c.Op(h).Inputs() {
			if in != Invalid && !live[in] {
				stack = append(stack, in)
			}
		}
	}

	out := newWithID(c.ID)
	mapped := make([]Handle, c.Len())
	var fixups []fixup
	for i := range mapped {
		mapped[i] = Invalid
	}
	c.Walk(func(h Handle, op Op) {
		if !live[h] {
			return
		}
		if d, ok := op.(*Delay); ok && d.In >= h {
			fixups = append(fixups, fixup{dst: Handle(out.Len()), src: d.In})
			mapped[h] = out.Add(&Delay{In: Invalid, Out: d.Out})
			return
		}
		mapped[h] = out.Add(op.clone(func(in Handle) Handle {
			return mapped[in]
		}))
	})
	for _, f := range fixups {
		out.BindDelay(f.dst, mapped[f.src])
	}
	for _, o := range c.outputs {
		out.AddOutput(o.View, mapped[o.Sink])
	}
	return out
}
