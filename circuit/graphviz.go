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
)

// WriteGraphviz renders the circuit as a dot digraph for
// inspection. Delay back-edges are dashed so cycles read at
// a glance; sources and sinks get distinct shapes.
func (c *Circuit) WriteGraphviz(dst io.Writer) {
	fmt.Fprintf(dst, "digraph %q {\n\trankdir=TB;\n\tnode [shape=box, fontname=\"monospace\"];\n", c.ID.String())
	c.Walk(func(h Handle, op Op) {
		var label strings.Builder
		op.describe(&label)
		attrs := ""
		switch op.(type) {
		case *Source:
			attrs = ", shape=cylinder"
		case *Sink:
			attrs = ", shape=doubleoctagon"
		case *Delay:
			attrs = ", style=rounded"
		}
		fmt.Fprintf(dst, "\tn%d [label=%q%s];\n", h, fmt.Sprintf("%%%d %s", h, label.String()), attrs)
	})
	c.Walk(func(h Handle, op Op) {
		_, delay := op.(*Delay)
		for _, in := range op.Inputs() {
			if in == Invalid {
				continue
			}
			if delay && in >= h {
				fmt.Fprintf(dst, "\tn%d -> n%d [style=dashed, constraint=false];\n", in, h)
			} else {
				fmt.Fprintf(dst, "\tn%d -> n%d;\n", in, h)
			}
		}
	})
	io.WriteString(dst, "}\n")
}
